package leaderelection

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/DATA-DOG/go-sqlmock"
)

type callbackProbe struct {
	mu      sync.Mutex
	elected int
	demoted int

	electedCh chan struct{}
	demotedCh chan struct{}
}

func newCallbackProbe() *callbackProbe {
	return &callbackProbe{
		electedCh: make(chan struct{}, 8),
		demotedCh: make(chan struct{}, 8),
	}
}

func (p *callbackProbe) onElected(ctx context.Context) {
	p.mu.Lock()
	p.elected++
	p.mu.Unlock()
	p.electedCh <- struct{}{}
	<-ctx.Done()
}

func (p *callbackProbe) onDemoted() {
	p.mu.Lock()
	p.demoted++
	p.mu.Unlock()
	p.demotedCh <- struct{}{}
}

func (p *callbackProbe) counts() (elected, demoted int) {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.elected, p.demoted
}

func waitFor(t *testing.T, ch chan struct{}, what string) {
	t.Helper()
	select {
	case <-ch:
	case <-time.After(5 * time.Second):
		t.Fatalf("timed out waiting for %s", what)
	}
}

func TestElector_AcquiresAndReleasesOnShutdown(t *testing.T) {
	db, mock, err := sqlmock.New(sqlmock.MonitorPingsOption(true))
	if err != nil {
		t.Fatalf("sqlmock.New: %v", err)
	}
	defer db.Close()

	mock.ExpectQuery("SELECT pg_try_advisory_lock").
		WithArgs(int64(615243)).
		WillReturnRows(sqlmock.NewRows([]string{"pg_try_advisory_lock"}).AddRow(true))

	probe := newCallbackProbe()
	// Heartbeat far out so the test only exercises acquisition and
	// shutdown.
	e := New(db, 615243, 10*time.Millisecond, time.Hour, probe.onElected, probe.onDemoted)

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	go func() {
		e.Run(ctx)
		close(done)
	}()

	waitFor(t, probe.electedCh, "election")
	cancel()
	waitFor(t, probe.demotedCh, "demotion")

	select {
	case <-done:
	case <-time.After(5 * time.Second):
		t.Fatal("Run did not return after cancellation")
	}

	elected, demoted := probe.counts()
	if elected != 1 || demoted != 1 {
		t.Errorf("elected/demoted = %d/%d, want 1/1", elected, demoted)
	}
}

func TestElector_LockHeldElsewhere(t *testing.T) {
	db, mock, err := sqlmock.New()
	if err != nil {
		t.Fatalf("sqlmock.New: %v", err)
	}
	defer db.Close()

	mock.ExpectQuery("SELECT pg_try_advisory_lock").
		WillReturnRows(sqlmock.NewRows([]string{"pg_try_advisory_lock"}).AddRow(false))

	probe := newCallbackProbe()
	e := New(db, 615243, time.Hour, time.Hour, probe.onElected, probe.onDemoted)

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	go func() {
		e.Run(ctx)
		close(done)
	}()

	// Give the first acquisition attempt time to fail, then stop.
	time.Sleep(100 * time.Millisecond)
	cancel()
	<-done

	elected, demoted := probe.counts()
	if elected != 0 {
		t.Errorf("follower must not be elected, got %d elections", elected)
	}
	if demoted != 0 {
		t.Errorf("follower must not be demoted, got %d demotions", demoted)
	}
}

func TestElector_ConnectionLossDemotes(t *testing.T) {
	db, mock, err := sqlmock.New(sqlmock.MonitorPingsOption(true))
	if err != nil {
		t.Fatalf("sqlmock.New: %v", err)
	}
	defer db.Close()

	mock.ExpectQuery("SELECT pg_try_advisory_lock").
		WillReturnRows(sqlmock.NewRows([]string{"pg_try_advisory_lock"}).AddRow(true))
	mock.ExpectPing().WillReturnError(errors.New("connection reset"))

	probe := newCallbackProbe()
	e := New(db, 615243, time.Hour, 10*time.Millisecond, probe.onElected, probe.onDemoted)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	done := make(chan struct{})
	go func() {
		e.Run(ctx)
		close(done)
	}()

	waitFor(t, probe.electedCh, "election")
	// The failed heartbeat demotes without the context being cancelled.
	waitFor(t, probe.demotedCh, "demotion after connection loss")

	cancel()
	<-done
}
