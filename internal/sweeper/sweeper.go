// Package sweeper fails runs stuck in the running state.
//
// A run is stale when it has status='running' but started before a
// threshold (the process crashed mid-run or the runner was killed).
// The sweeper periodically marks such runs FAILED and releases their
// schedule leases so the schedules fire again on the next tick.
package sweeper

import (
	"context"
	"log"
	"time"

	"github.com/google/uuid"

	"github.com/litigio/comunicasync/internal/domain"
)

// Store defines the persistence surface for sweeping stale runs.
type Store interface {
	GetStaleRunningRuns(ctx context.Context, olderThan time.Time, maxResults int) ([]domain.SyncRun, error)
	FinishRun(ctx context.Context, runID uuid.UUID, status domain.RunStatus, completedAt time.Time, resultCount, warningCount int, errMsg string) error
	ReleaseRunLease(ctx context.Context, scheduleID, runID uuid.UUID) error
}

// MetricsSink records sweeper metrics. Methods must be non-blocking.
type MetricsSink interface {
	StaleRunsSwept(count int)
}

// Config holds sweeper configuration.
type Config struct {
	// Interval is how often the sweeper runs.
	Interval time.Duration

	// Threshold is the age after which a running run is considered
	// stale. Must exceed the longest plausible legitimate run.
	Threshold time.Duration

	// BatchSize is the maximum number of stale runs per cycle.
	BatchSize int
}

// DefaultConfig returns the default sweeper configuration.
func DefaultConfig() Config {
	return Config{
		Interval:  5 * time.Minute,
		Threshold: time.Hour,
		BatchSize: 100,
	}
}

type Sweeper struct {
	config  Config
	store   Store
	metrics MetricsSink // optional, nil = disabled
	clock   func() time.Time
}

func New(config Config, store Store) *Sweeper {
	return &Sweeper{
		config: config,
		store:  store,
		clock:  time.Now,
	}
}

// WithMetrics attaches a metrics sink to the sweeper.
func (s *Sweeper) WithMetrics(sink MetricsSink) *Sweeper {
	s.metrics = sink
	return s
}

// WithClock replaces the time source. For tests.
func (s *Sweeper) WithClock(clock func() time.Time) *Sweeper {
	s.clock = clock
	return s
}

// Run starts the sweep loop. It blocks until ctx is cancelled.
func (s *Sweeper) Run(ctx context.Context) {
	ticker := time.NewTicker(s.config.Interval)
	defer ticker.Stop()

	log.Printf("sweeper: started (interval=%s, threshold=%s, batch=%d)",
		s.config.Interval, s.config.Threshold, s.config.BatchSize)

	// Run immediately on startup: a restart is exactly when stale
	// runs exist.
	s.runCycle(ctx)

	for {
		select {
		case <-ctx.Done():
			log.Println("sweeper: stopped")
			return
		case <-ticker.C:
			s.runCycle(ctx)
		}
	}
}

func (s *Sweeper) runCycle(ctx context.Context) {
	now := s.clock().UTC()
	threshold := now.Add(-s.config.Threshold)

	stale, err := s.store.GetStaleRunningRuns(ctx, threshold, s.config.BatchSize)
	if err != nil {
		log.Printf("sweeper: fetch stale runs failed: %v", err)
		return
	}
	if len(stale) == 0 {
		return
	}

	log.Printf("sweeper: found %d stale run(s)", len(stale))

	swept := 0
	for _, run := range stale {
		if ctx.Err() != nil {
			log.Printf("sweeper: cycle interrupted, swept %d/%d", swept, len(stale))
			return
		}

		errMsg := "run abandoned: process terminated before completion"
		if err := s.store.FinishRun(ctx, run.ID, domain.RunStatusFailed, now, run.ResultCount, run.WarningCount, errMsg); err != nil {
			log.Printf("sweeper: fail run=%s errored: %v", run.ID, err)
			continue
		}
		if err := s.store.ReleaseRunLease(ctx, run.ScheduleID, run.ID); err != nil {
			log.Printf("sweeper: release lease schedule=%s run=%s errored: %v", run.ScheduleID, run.ID, err)
		}

		log.Printf("sweeper: swept run=%s schedule=%s (age=%s)",
			run.ID, run.ScheduleID, now.Sub(run.StartedAt).Round(time.Second))
		swept++
	}

	if s.metrics != nil {
		s.metrics.StaleRunsSwept(swept)
	}
	log.Printf("sweeper: cycle complete, swept=%d", swept)
}
