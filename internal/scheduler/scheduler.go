// Package scheduler keeps one in-process timer per active schedule.
//
// The registry is owned by a Scheduler instance; nothing is module
// global, so tests can run independent schedulers side by side. Timer
// state is never persisted: on restart the registry is rebuilt from the
// store and next-run times are recomputed.
package scheduler

import (
	"context"
	"fmt"
	"log"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/litigio/comunicasync/internal/domain"
)

type Store interface {
	GetActiveSchedules(ctx context.Context) ([]domain.SyncSchedule, error)
	UpdateNextRun(ctx context.Context, id uuid.UUID, nextRun time.Time) error
}

type CronParser interface {
	Parse(expression string, timezone string) (CronSchedule, error)
}

type CronSchedule interface {
	Next(after time.Time) time.Time
}

type EventEmitter interface {
	Emit(ctx context.Context, req domain.RunRequest) error
}

// MetricsSink records scheduler metrics. Methods must be non-blocking.
type MetricsSink interface {
	TimersActiveUpdate(count int)
	ScheduleFired()
	ScheduleFireError()
}

type entry struct {
	cancel    context.CancelFunc
	done      chan struct{}
	updatedAt time.Time
}

type Scheduler struct {
	store   Store
	parser  CronParser
	emitter EventEmitter
	metrics MetricsSink // optional, nil = disabled
	clock   func() time.Time

	mu      sync.Mutex
	ctx     context.Context
	entries map[uuid.UUID]*entry
}

func New(store Store, parser CronParser, emitter EventEmitter) *Scheduler {
	return &Scheduler{
		store:   store,
		parser:  parser,
		emitter: emitter,
		clock:   time.Now,
		entries: make(map[uuid.UUID]*entry),
	}
}

// WithMetrics attaches a metrics sink to the scheduler.
func (s *Scheduler) WithMetrics(sink MetricsSink) *Scheduler {
	s.metrics = sink
	return s
}

// WithClock replaces the time source. For tests.
func (s *Scheduler) WithClock(clock func() time.Time) *Scheduler {
	s.clock = clock
	return s
}

// Start loads all active schedules and attaches one timer each. The
// given context bounds the lifetime of every timer; cancelling it stops
// the scheduler.
func (s *Scheduler) Start(ctx context.Context) error {
	s.mu.Lock()
	s.ctx = ctx
	s.mu.Unlock()

	schedules, err := s.store.GetActiveSchedules(ctx)
	if err != nil {
		return fmt.Errorf("load active schedules: %w", err)
	}

	for _, sched := range schedules {
		if err := s.Upsert(ctx, sched); err != nil {
			log.Printf("scheduler: attach schedule=%s failed: %v", sched.ID, err)
		}
	}

	log.Printf("scheduler: started with %d schedule(s)", s.timerCount())
	return nil
}

// Upsert attaches a fresh timer for the schedule, detaching any timer
// already registered under the same id first. Inactive or manual-only
// schedules only detach.
func (s *Scheduler) Upsert(ctx context.Context, sched domain.SyncSchedule) error {
	s.Remove(sched.ID)

	if !sched.Active || sched.Mode == domain.SyncModeManual {
		return nil
	}

	cronSched, err := s.parser.Parse(sched.CronExpression, sched.Timezone)
	if err != nil {
		return fmt.Errorf("parse cron %q: %w", sched.CronExpression, err)
	}

	next := cronSched.Next(s.clock())
	if err := s.store.UpdateNextRun(ctx, sched.ID, next.UTC()); err != nil {
		log.Printf("scheduler: persist next_run schedule=%s failed: %v", sched.ID, err)
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	if s.ctx == nil {
		s.ctx = context.Background()
	}
	timerCtx, cancel := context.WithCancel(s.ctx)
	e := &entry{cancel: cancel, done: make(chan struct{}), updatedAt: sched.UpdatedAt}
	s.entries[sched.ID] = e

	go s.runTimer(timerCtx, e, sched.ID, cronSched, next)

	s.updateTimerMetric(len(s.entries))
	log.Printf("scheduler: attached schedule=%s next_run=%s", sched.ID, next.UTC().Format(time.RFC3339))
	return nil
}

// Remove detaches the timer for the schedule id, if any. The schedule
// row itself is untouched.
func (s *Scheduler) Remove(id uuid.UUID) {
	s.mu.Lock()
	e, ok := s.entries[id]
	if ok {
		delete(s.entries, id)
		s.updateTimerMetric(len(s.entries))
	}
	s.mu.Unlock()

	if !ok {
		return
	}
	e.cancel()
	<-e.done
	log.Printf("scheduler: detached schedule=%s", id)
}

// Stop detaches every timer and waits for them to exit.
func (s *Scheduler) Stop() {
	s.mu.Lock()
	entries := make([]*entry, 0, len(s.entries))
	for id, e := range s.entries {
		entries = append(entries, e)
		delete(s.entries, id)
	}
	s.updateTimerMetric(0)
	s.mu.Unlock()

	for _, e := range entries {
		e.cancel()
		<-e.done
	}
	log.Println("scheduler: stopped")
}

// Run starts the scheduler and keeps the registry reconciled with the
// store until ctx is cancelled. Schedules created, updated or paused
// through the API (on any instance) are picked up within
// refreshInterval.
func (s *Scheduler) Run(ctx context.Context, refreshInterval time.Duration) error {
	if err := s.Start(ctx); err != nil {
		return err
	}
	defer s.Stop()

	ticker := time.NewTicker(refreshInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-ticker.C:
			if err := s.Reconcile(ctx); err != nil && ctx.Err() == nil {
				log.Printf("scheduler: reconcile failed: %v", err)
			}
		}
	}
}

// Reconcile aligns the timer registry with the store: newly active or
// modified schedules get a fresh timer, deactivated ones are detached.
func (s *Scheduler) Reconcile(ctx context.Context) error {
	schedules, err := s.store.GetActiveSchedules(ctx)
	if err != nil {
		return fmt.Errorf("load active schedules: %w", err)
	}

	want := make(map[uuid.UUID]domain.SyncSchedule, len(schedules))
	for _, sched := range schedules {
		want[sched.ID] = sched
	}

	s.mu.Lock()
	var stale []uuid.UUID
	for id, e := range s.entries {
		sched, ok := want[id]
		if ok && sched.UpdatedAt.Equal(e.updatedAt) {
			delete(want, id) // unchanged, keep the timer
			continue
		}
		if !ok {
			stale = append(stale, id)
		}
	}
	s.mu.Unlock()

	for _, id := range stale {
		s.Remove(id)
	}
	for _, sched := range want {
		if err := s.Upsert(ctx, sched); err != nil {
			log.Printf("scheduler: attach schedule=%s failed: %v", sched.ID, err)
		}
	}
	return nil
}

func (s *Scheduler) timerCount() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.entries)
}

// runTimer sleeps until each cron occurrence and emits a RunRequest.
// Emission is fire-and-continue: the timer re-arms immediately and never
// awaits the run's completion.
func (s *Scheduler) runTimer(ctx context.Context, e *entry, scheduleID uuid.UUID, cronSched CronSchedule, next time.Time) {
	defer close(e.done)

	timer := time.NewTimer(time.Until(next))
	defer timer.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-timer.C:
		}

		now := s.clock()
		s.fire(ctx, scheduleID, now)

		next = cronSched.Next(now)
		if err := s.store.UpdateNextRun(ctx, scheduleID, next.UTC()); err != nil && ctx.Err() == nil {
			log.Printf("scheduler: persist next_run schedule=%s failed: %v", scheduleID, err)
		}
		timer.Reset(time.Until(next))
	}
}

func (s *Scheduler) fire(ctx context.Context, scheduleID uuid.UUID, now time.Time) {
	req := domain.RunRequest{
		ScheduleID: scheduleID,
		Trigger:    domain.RunTriggerTimer,
		FiredAt:    now.UTC(),
	}

	if err := s.emitter.Emit(ctx, req); err != nil {
		if s.metrics != nil {
			s.metrics.ScheduleFireError()
		}
		if ctx.Err() == nil {
			log.Printf("scheduler: emit schedule=%s failed: %v", scheduleID, err)
		}
		return
	}

	if s.metrics != nil {
		s.metrics.ScheduleFired()
	}
	log.Printf("scheduler: fired schedule=%s at=%s", scheduleID, now.UTC().Format(time.RFC3339))
}

func (s *Scheduler) updateTimerMetric(count int) {
	if s.metrics != nil {
		s.metrics.TimersActiveUpdate(count)
	}
}
