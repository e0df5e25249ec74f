package sweeper

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/google/uuid"

	"github.com/litigio/comunicasync/internal/domain"
)

type failedRun struct {
	status domain.RunStatus
	errMsg string
}

type mockStore struct {
	mu sync.Mutex

	stale    []domain.SyncRun
	staleErr error
	failErr  map[uuid.UUID]error

	lastOlderThan time.Time
	lastMax       int

	finished map[uuid.UUID]failedRun
	released map[uuid.UUID]uuid.UUID // runID -> scheduleID
}

func newMockStore(stale ...domain.SyncRun) *mockStore {
	return &mockStore{
		stale:    stale,
		failErr:  make(map[uuid.UUID]error),
		finished: make(map[uuid.UUID]failedRun),
		released: make(map[uuid.UUID]uuid.UUID),
	}
}

func (s *mockStore) GetStaleRunningRuns(ctx context.Context, olderThan time.Time, maxResults int) ([]domain.SyncRun, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.lastOlderThan = olderThan
	s.lastMax = maxResults
	if s.staleErr != nil {
		return nil, s.staleErr
	}
	return s.stale, nil
}

func (s *mockStore) FinishRun(ctx context.Context, runID uuid.UUID, status domain.RunStatus, completedAt time.Time, resultCount, warningCount int, errMsg string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if err, ok := s.failErr[runID]; ok {
		return err
	}
	s.finished[runID] = failedRun{status: status, errMsg: errMsg}
	return nil
}

func (s *mockStore) ReleaseRunLease(ctx context.Context, scheduleID, runID uuid.UUID) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.released[runID] = scheduleID
	return nil
}

type mockMetrics struct {
	mu    sync.Mutex
	swept []int
}

func (m *mockMetrics) StaleRunsSwept(count int) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.swept = append(m.swept, count)
}

func staleRun(startedAgo time.Duration, now time.Time) domain.SyncRun {
	return domain.SyncRun{
		ID:         uuid.New(),
		ScheduleID: uuid.New(),
		Status:     domain.RunStatusRunning,
		StartedAt:  now.Add(-startedAgo),
	}
}

func TestSweeper_RunCycle(t *testing.T) {
	now := time.Date(2024, 3, 1, 12, 0, 0, 0, time.UTC)
	r1 := staleRun(2*time.Hour, now)
	r2 := staleRun(3*time.Hour, now)
	store := newMockStore(r1, r2)
	metrics := &mockMetrics{}

	s := New(Config{Interval: time.Minute, Threshold: time.Hour, BatchSize: 100}, store).
		WithMetrics(metrics).
		WithClock(func() time.Time { return now })

	s.runCycle(context.Background())

	if got := store.lastOlderThan; !got.Equal(now.Add(-time.Hour)) {
		t.Errorf("olderThan = %v, want now minus threshold", got)
	}
	if store.lastMax != 100 {
		t.Errorf("maxResults = %d, want batch size", store.lastMax)
	}

	for _, run := range []domain.SyncRun{r1, r2} {
		fr, ok := store.finished[run.ID]
		if !ok {
			t.Fatalf("run %s not swept", run.ID)
		}
		if fr.status != domain.RunStatusFailed {
			t.Errorf("status = %q, want failed", fr.status)
		}
		if fr.errMsg != "run abandoned: process terminated before completion" {
			t.Errorf("errMsg = %q", fr.errMsg)
		}
		if sid, ok := store.released[run.ID]; !ok || sid != run.ScheduleID {
			t.Errorf("lease for run %s not released", run.ID)
		}
	}

	if len(metrics.swept) != 1 || metrics.swept[0] != 2 {
		t.Errorf("metrics swept = %v, want [2]", metrics.swept)
	}
}

func TestSweeper_RunCycle_NothingStale(t *testing.T) {
	store := newMockStore()
	metrics := &mockMetrics{}
	s := New(DefaultConfig(), store).WithMetrics(metrics)

	s.runCycle(context.Background())

	if len(metrics.swept) != 0 {
		t.Errorf("empty cycle must not record a metric, got %v", metrics.swept)
	}
}

func TestSweeper_RunCycle_FinishErrorSkipsRelease(t *testing.T) {
	now := time.Date(2024, 3, 1, 12, 0, 0, 0, time.UTC)
	r1 := staleRun(2*time.Hour, now)
	r2 := staleRun(2*time.Hour, now)
	store := newMockStore(r1, r2)
	store.failErr[r1.ID] = errors.New("db unavailable")
	metrics := &mockMetrics{}

	s := New(DefaultConfig(), store).
		WithMetrics(metrics).
		WithClock(func() time.Time { return now })

	s.runCycle(context.Background())

	if _, ok := store.released[r1.ID]; ok {
		t.Error("lease must not be released when the run could not be failed")
	}
	if _, ok := store.released[r2.ID]; !ok {
		t.Error("remaining runs must still be swept")
	}
	if len(metrics.swept) != 1 || metrics.swept[0] != 1 {
		t.Errorf("metrics swept = %v, want [1]", metrics.swept)
	}
}

func TestSweeper_RunCycle_StoreErrorIsSwallowed(t *testing.T) {
	store := newMockStore()
	store.staleErr = errors.New("db unavailable")
	s := New(DefaultConfig(), store)

	// Must not panic; the next tick will retry.
	s.runCycle(context.Background())
}

func TestSweeper_Run_StopsOnCancel(t *testing.T) {
	store := newMockStore()
	s := New(Config{Interval: 10 * time.Millisecond, Threshold: time.Hour, BatchSize: 10}, store)

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	go func() {
		s.Run(ctx)
		close(done)
	}()

	time.Sleep(30 * time.Millisecond)
	cancel()

	select {
	case <-done:
	case <-time.After(2 * time.Second):
		t.Fatal("Run did not stop after cancellation")
	}
}
