package scheduler

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/google/uuid"

	"github.com/litigio/comunicasync/internal/domain"
)

type mockStore struct {
	mu        sync.Mutex
	schedules []domain.SyncSchedule
	nextRuns  map[uuid.UUID]time.Time
}

func newMockStore(schedules ...domain.SyncSchedule) *mockStore {
	return &mockStore{schedules: schedules, nextRuns: make(map[uuid.UUID]time.Time)}
}

func (s *mockStore) GetActiveSchedules(ctx context.Context) ([]domain.SyncSchedule, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]domain.SyncSchedule, len(s.schedules))
	copy(out, s.schedules)
	return out, nil
}

func (s *mockStore) UpdateNextRun(ctx context.Context, id uuid.UUID, nextRun time.Time) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.nextRuns[id] = nextRun
	return nil
}

func (s *mockStore) setSchedules(schedules []domain.SyncSchedule) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.schedules = schedules
}

type mockEmitter struct {
	mu       sync.Mutex
	requests []domain.RunRequest
	fired    chan struct{}
}

func newMockEmitter() *mockEmitter {
	return &mockEmitter{fired: make(chan struct{}, 16)}
}

func (e *mockEmitter) Emit(ctx context.Context, req domain.RunRequest) error {
	e.mu.Lock()
	e.requests = append(e.requests, req)
	e.mu.Unlock()
	select {
	case e.fired <- struct{}{}:
	default:
	}
	return nil
}

func (e *mockEmitter) all() []domain.RunRequest {
	e.mu.Lock()
	defer e.mu.Unlock()
	out := make([]domain.RunRequest, len(e.requests))
	copy(out, e.requests)
	return out
}

// fixedSchedule fires once at the given instant and then never again.
type fixedSchedule struct {
	at time.Time
}

func (f fixedSchedule) Next(after time.Time) time.Time {
	if after.Before(f.at) {
		return f.at
	}
	return after.Add(24 * time.Hour)
}

type mockParser struct {
	schedule CronSchedule
}

func (p *mockParser) Parse(expression, timezone string) (CronSchedule, error) {
	return p.schedule, nil
}

func timerSchedule(mode domain.SyncMode, active bool) domain.SyncSchedule {
	return domain.SyncSchedule{
		ID:             uuid.New(),
		Name:           "nightly",
		Mode:           mode,
		CronExpression: "0 6 * * *",
		Timezone:       "America/Sao_Paulo",
		Active:         active,
		UpdatedAt:      time.Date(2024, 3, 1, 0, 0, 0, 0, time.UTC),
	}
}

func TestScheduler_Upsert_AttachesTimer(t *testing.T) {
	store := newMockStore()
	emitter := newMockEmitter()
	parser := &mockParser{schedule: fixedSchedule{at: time.Now().Add(time.Hour)}}
	sched := New(store, parser, emitter)
	defer sched.Stop()

	s := timerSchedule(domain.SyncModeByParameters, true)
	if err := sched.Upsert(context.Background(), s); err != nil {
		t.Fatalf("Upsert: %v", err)
	}

	if got := sched.timerCount(); got != 1 {
		t.Errorf("timer count = %d, want 1", got)
	}
	store.mu.Lock()
	_, persisted := store.nextRuns[s.ID]
	store.mu.Unlock()
	if !persisted {
		t.Error("next run should be persisted on attach")
	}
}

func TestScheduler_Upsert_InactiveDetaches(t *testing.T) {
	store := newMockStore()
	parser := &mockParser{schedule: fixedSchedule{at: time.Now().Add(time.Hour)}}
	sched := New(store, parser, newMockEmitter())
	defer sched.Stop()

	s := timerSchedule(domain.SyncModeByParameters, true)
	if err := sched.Upsert(context.Background(), s); err != nil {
		t.Fatalf("Upsert: %v", err)
	}

	s.Active = false
	if err := sched.Upsert(context.Background(), s); err != nil {
		t.Fatalf("Upsert inactive: %v", err)
	}
	if got := sched.timerCount(); got != 0 {
		t.Errorf("timer count = %d, want 0 after deactivation", got)
	}
}

func TestScheduler_Upsert_ManualModeNeverAttaches(t *testing.T) {
	store := newMockStore()
	parser := &mockParser{schedule: fixedSchedule{at: time.Now().Add(time.Hour)}}
	sched := New(store, parser, newMockEmitter())
	defer sched.Stop()

	s := timerSchedule(domain.SyncModeManual, true)
	if err := sched.Upsert(context.Background(), s); err != nil {
		t.Fatalf("Upsert: %v", err)
	}
	if got := sched.timerCount(); got != 0 {
		t.Errorf("timer count = %d, want 0 for manual mode", got)
	}
}

func TestScheduler_TimerFiresRunRequest(t *testing.T) {
	store := newMockStore()
	emitter := newMockEmitter()
	parser := &mockParser{schedule: fixedSchedule{at: time.Now().Add(20 * time.Millisecond)}}
	sched := New(store, parser, emitter)
	defer sched.Stop()

	s := timerSchedule(domain.SyncModeByParameters, true)
	if err := sched.Upsert(context.Background(), s); err != nil {
		t.Fatalf("Upsert: %v", err)
	}

	select {
	case <-emitter.fired:
	case <-time.After(2 * time.Second):
		t.Fatal("timer did not fire")
	}

	reqs := emitter.all()
	if len(reqs) != 1 {
		t.Fatalf("got %d requests, want 1", len(reqs))
	}
	if reqs[0].ScheduleID != s.ID {
		t.Errorf("ScheduleID = %s, want %s", reqs[0].ScheduleID, s.ID)
	}
	if reqs[0].Trigger != domain.RunTriggerTimer {
		t.Errorf("Trigger = %q, want %q", reqs[0].Trigger, domain.RunTriggerTimer)
	}
}

func TestScheduler_Start_LoadsActiveSchedules(t *testing.T) {
	s1 := timerSchedule(domain.SyncModeByParameters, true)
	s2 := timerSchedule(domain.SyncModeByAttorneys, true)
	store := newMockStore(s1, s2)
	parser := &mockParser{schedule: fixedSchedule{at: time.Now().Add(time.Hour)}}
	sched := New(store, parser, newMockEmitter())
	defer sched.Stop()

	if err := sched.Start(context.Background()); err != nil {
		t.Fatalf("Start: %v", err)
	}
	if got := sched.timerCount(); got != 2 {
		t.Errorf("timer count = %d, want 2", got)
	}
}

func TestScheduler_Reconcile(t *testing.T) {
	s1 := timerSchedule(domain.SyncModeByParameters, true)
	s2 := timerSchedule(domain.SyncModeByParameters, true)
	store := newMockStore(s1, s2)
	parser := &mockParser{schedule: fixedSchedule{at: time.Now().Add(time.Hour)}}
	sched := New(store, parser, newMockEmitter())
	defer sched.Stop()

	if err := sched.Start(context.Background()); err != nil {
		t.Fatalf("Start: %v", err)
	}

	// s1 is deactivated, s2 unchanged, s3 newly created.
	s3 := timerSchedule(domain.SyncModeByParameters, true)
	store.setSchedules([]domain.SyncSchedule{s2, s3})

	if err := sched.Reconcile(context.Background()); err != nil {
		t.Fatalf("Reconcile: %v", err)
	}
	if got := sched.timerCount(); got != 2 {
		t.Errorf("timer count = %d, want 2 after reconcile", got)
	}

	// s2 updated in place gets a fresh timer; registry size is stable.
	s2.UpdatedAt = s2.UpdatedAt.Add(time.Minute)
	store.setSchedules([]domain.SyncSchedule{s2, s3})

	if err := sched.Reconcile(context.Background()); err != nil {
		t.Fatalf("Reconcile: %v", err)
	}
	if got := sched.timerCount(); got != 2 {
		t.Errorf("timer count = %d, want 2 after update reconcile", got)
	}
}

func TestScheduler_Stop_DetachesAll(t *testing.T) {
	store := newMockStore()
	parser := &mockParser{schedule: fixedSchedule{at: time.Now().Add(time.Hour)}}
	sched := New(store, parser, newMockEmitter())

	for i := 0; i < 3; i++ {
		if err := sched.Upsert(context.Background(), timerSchedule(domain.SyncModeByParameters, true)); err != nil {
			t.Fatalf("Upsert: %v", err)
		}
	}

	sched.Stop()
	if got := sched.timerCount(); got != 0 {
		t.Errorf("timer count = %d, want 0 after Stop", got)
	}
}

func TestScheduler_Remove_UnknownIDIsNoop(t *testing.T) {
	store := newMockStore()
	parser := &mockParser{schedule: fixedSchedule{at: time.Now().Add(time.Hour)}}
	sched := New(store, parser, newMockEmitter())
	defer sched.Stop()

	sched.Remove(uuid.New())
}
