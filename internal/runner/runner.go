// Package runner executes sync runs: it resolves a schedule's
// parameters, queries the external source (once per tracked attorney or
// once with fixed parameters), feeds results through the upsert sink and
// records the run outcome.
//
// Failures in any step are converted into a FAILED run row at this
// boundary so they are observable without log access. Webhook
// notification failures are swallowed: the run's own status is
// authoritative.
package runner

import (
	"context"
	"errors"
	"fmt"
	"log"
	"time"

	"github.com/google/uuid"

	"github.com/litigio/comunicasync/internal/cnj"
	"github.com/litigio/comunicasync/internal/domain"
	"github.com/litigio/comunicasync/internal/ingest"
)

var (
	// ErrScheduleBusy means another run holds the schedule's lease.
	ErrScheduleBusy = errors.New("schedule already has an active run")
	// ErrRunAlreadyFinished guards terminal-state transitions on replay.
	ErrRunAlreadyFinished = errors.New("run already in terminal state")
	// ErrNoTrackedAttorneys fails a by-attorneys run that has nothing to
	// query. An empty subject list is a configuration error, not an
	// empty result.
	ErrNoTrackedAttorneys = errors.New("no tracked attorneys configured")
)

// maxPages bounds pagination per query in case the source misreports
// its total.
const maxPages = 1000

type Store interface {
	GetScheduleByID(ctx context.Context, id uuid.UUID) (domain.SyncSchedule, error)
	GetAttorneysByIDs(ctx context.Context, ids []uuid.UUID) ([]domain.Attorney, error)
	GetWebhookEndpoint(ctx context.Context, id uuid.UUID) (domain.WebhookEndpoint, error)

	AcquireRunLease(ctx context.Context, scheduleID, runID uuid.UUID) error
	ReleaseRunLease(ctx context.Context, scheduleID, runID uuid.UUID) error

	InsertRun(ctx context.Context, run domain.SyncRun) error
	FinishRun(ctx context.Context, runID uuid.UUID, status domain.RunStatus, completedAt time.Time, resultCount, warningCount int, errMsg string) error
	CompleteRunBookkeeping(ctx context.Context, scheduleID uuid.UUID, lastRun, nextRun time.Time) error
}

type SourceClient interface {
	Query(ctx context.Context, f cnj.Filters) (*cnj.QueryResult, error)
}

type Upserter interface {
	Upsert(ctx context.Context, records []domain.Communication) ingest.Result
}

type Notifier interface {
	NotifyCompleted(ctx context.Context, run domain.SyncRun, endpoint domain.WebhookEndpoint)
	NotifyFailed(ctx context.Context, run domain.SyncRun, endpoint domain.WebhookEndpoint, errMsg string)
}

type CronParser interface {
	Parse(expression string, timezone string) (CronSchedule, error)
}

type CronSchedule interface {
	Next(after time.Time) time.Time
}

// MetricsSink records runner metrics. Methods must be non-blocking.
type MetricsSink interface {
	RunCompleted(outcome string, duration time.Duration, resultCount int)
	RunSkipped()
	RunsInFlightIncr()
	RunsInFlightDecr()
}

// AnalyticsSink records completed runs as a best-effort side effect.
type AnalyticsSink interface {
	Record(ctx context.Context, run domain.SyncRun)
}

type Runner struct {
	store        Store
	source       SourceClient
	sink         Upserter
	notifier     Notifier
	parser       CronParser
	metrics      MetricsSink   // optional, nil = disabled
	analytics    AnalyticsSink // optional, nil = disabled
	clock        func() time.Time
	drainTimeout time.Duration
}

func New(store Store, source SourceClient, sink Upserter, notifier Notifier, parser CronParser) *Runner {
	return &Runner{
		store:        store,
		source:       source,
		sink:         sink,
		notifier:     notifier,
		parser:       parser,
		clock:        time.Now,
		drainTimeout: DefaultDrainTimeout,
	}
}

// WithDrainTimeout sets the maximum time to spend draining buffered
// requests during shutdown.
func (r *Runner) WithDrainTimeout(d time.Duration) *Runner {
	if d > 0 {
		r.drainTimeout = d
	}
	return r
}

// WithMetrics attaches a metrics sink to the runner.
func (r *Runner) WithMetrics(sink MetricsSink) *Runner {
	r.metrics = sink
	return r
}

// WithAnalytics attaches an analytics sink to the runner.
func (r *Runner) WithAnalytics(sink AnalyticsSink) *Runner {
	r.analytics = sink
	return r
}

// WithClock replaces the time source. For tests.
func (r *Runner) WithClock(clock func() time.Time) *Runner {
	r.clock = clock
	return r
}

// DefaultDrainTimeout is the maximum time to wait for buffered requests
// during shutdown.
const DefaultDrainTimeout = 30 * time.Second

// Run processes run requests from the channel until the context is
// cancelled, then drains remaining buffered requests.
func (r *Runner) Run(ctx context.Context, ch <-chan domain.RunRequest) {
	for {
		select {
		case <-ctx.Done():
			r.drain(ch)
			return
		case req := <-ch:
			if err := r.Execute(ctx, req); err != nil {
				log.Printf("runner: schedule=%s error: %v", req.ScheduleID, err)
			}
		}
	}
}

func (r *Runner) drain(ch <-chan domain.RunRequest) {
	drainCtx, cancel := context.WithTimeout(context.Background(), r.drainTimeout)
	defer cancel()

	count := 0
	for {
		select {
		case <-drainCtx.Done():
			log.Printf("runner: drain timeout, processed %d request(s)", count)
			return
		case req, ok := <-ch:
			if !ok {
				log.Printf("runner: drain complete, processed %d request(s)", count)
				return
			}
			if err := r.Execute(drainCtx, req); err != nil {
				log.Printf("runner: drain schedule=%s error: %v", req.ScheduleID, err)
			}
			count++
		default:
			if count > 0 {
				log.Printf("runner: drain complete, processed %d request(s)", count)
			}
			return
		}
	}
}

// Execute performs one run for the requested schedule. The run id is
// created here and carried as a value through every step, including the
// failure path.
func (r *Runner) Execute(ctx context.Context, req domain.RunRequest) error {
	sched, err := r.store.GetScheduleByID(ctx, req.ScheduleID)
	if err != nil {
		return fmt.Errorf("load schedule: %w", err)
	}
	if !sched.Active {
		log.Printf("runner: schedule=%s inactive, skipping", sched.ID)
		return nil
	}
	if sched.Mode == domain.SyncModeManual && req.Trigger != domain.RunTriggerManual {
		log.Printf("runner: schedule=%s is manual-only, ignoring timer fire", sched.ID)
		return nil
	}

	runID := uuid.New()
	if err := r.store.AcquireRunLease(ctx, sched.ID, runID); err != nil {
		if errors.Is(err, ErrScheduleBusy) {
			if r.metrics != nil {
				r.metrics.RunSkipped()
			}
			log.Printf("runner: schedule=%s busy, skipping this cycle", sched.ID)
			return nil
		}
		return fmt.Errorf("acquire run lease: %w", err)
	}
	defer func() {
		if err := r.store.ReleaseRunLease(context.WithoutCancel(ctx), sched.ID, runID); err != nil {
			log.Printf("runner: release lease schedule=%s run=%s failed: %v", sched.ID, runID, err)
		}
	}()

	if r.metrics != nil {
		r.metrics.RunsInFlightIncr()
		defer r.metrics.RunsInFlightDecr()
	}

	startedAt := r.clock().UTC()
	run := domain.SyncRun{
		ID:         runID,
		ScheduleID: sched.ID,
		Status:     domain.RunStatusRunning,
		StartedAt:  startedAt,
		CreatedAt:  startedAt,
	}
	if err := r.store.InsertRun(ctx, run); err != nil {
		return fmt.Errorf("insert run: %w", err)
	}

	log.Printf("runner: run=%s schedule=%s started (mode=%s, trigger=%s)",
		runID, sched.ID, sched.Mode, req.Trigger)

	resultCount, warningCount, runErr := r.collect(ctx, sched)
	completedAt := r.clock().UTC()

	if runErr != nil {
		return r.fail(ctx, run, sched, completedAt, resultCount, warningCount, runErr)
	}
	return r.complete(ctx, run, sched, completedAt, resultCount, warningCount)
}

func (r *Runner) collect(ctx context.Context, sched domain.SyncSchedule) (resultCount, warningCount int, err error) {
	switch sched.Mode {
	case domain.SyncModeByAttorneys:
		return r.collectByAttorneys(ctx, sched)
	case domain.SyncModeByParameters, domain.SyncModeManual:
		return r.fetchAll(ctx, cnj.FromParams(sched.Params))
	default:
		return 0, 0, fmt.Errorf("unknown sync mode %q", sched.Mode)
	}
}

// collectByAttorneys queries the source once per tracked attorney,
// sequentially: one attorney's query completes before the next begins,
// bounding load on the source.
func (r *Runner) collectByAttorneys(ctx context.Context, sched domain.SyncSchedule) (resultCount, warningCount int, err error) {
	if len(sched.AttorneyIDs) == 0 {
		return 0, 0, ErrNoTrackedAttorneys
	}

	attorneys, err := r.store.GetAttorneysByIDs(ctx, sched.AttorneyIDs)
	if err != nil {
		return 0, 0, fmt.Errorf("load attorneys: %w", err)
	}
	if len(attorneys) == 0 {
		return 0, 0, ErrNoTrackedAttorneys
	}

	for _, attorney := range attorneys {
		filters := cnj.FromParams(sched.Params)
		filters.OABNumber = attorney.OABNumber
		filters.OABState = attorney.OABState

		n, w, err := r.fetchAll(ctx, filters)
		resultCount += n
		warningCount += w
		if err != nil {
			return resultCount, warningCount, fmt.Errorf("attorney %s: %w", attorney.ID, err)
		}
	}
	return resultCount, warningCount, nil
}

// fetchAll pages through the full result set for one filter set,
// upserting each page as it arrives.
func (r *Runner) fetchAll(ctx context.Context, filters cnj.Filters) (resultCount, warningCount int, err error) {
	filters.PageSize = cnj.PageSizeFull

	for page := 1; page <= maxPages; page++ {
		filters.Page = page

		res, err := r.source.Query(ctx, filters)
		if err != nil {
			return resultCount, warningCount, err
		}
		if len(res.Items) == 0 {
			break
		}

		result := r.sink.Upsert(ctx, res.Items)
		resultCount += len(res.Items)
		warningCount += len(result.Failed)

		if page >= res.Pagination.TotalPages {
			break
		}
	}
	return resultCount, warningCount, nil
}

func (r *Runner) complete(ctx context.Context, run domain.SyncRun, sched domain.SyncSchedule, completedAt time.Time, resultCount, warningCount int) error {
	status := domain.RunStatusCompleted
	if warningCount > 0 {
		status = domain.RunStatusCompletedWithWarnings
	}

	if err := r.store.FinishRun(ctx, run.ID, status, completedAt, resultCount, warningCount, ""); err != nil {
		return fmt.Errorf("finish run: %w", err)
	}

	run.Status = status
	run.CompletedAt = &completedAt
	run.ResultCount = resultCount
	run.WarningCount = warningCount

	// Bookkeeping: last-run is the run's start, next-run is computed
	// from now so it can never regress.
	if err := r.updateBookkeeping(ctx, sched, run.StartedAt); err != nil {
		log.Printf("runner: run=%s bookkeeping failed: %v", run.ID, err)
	}

	if r.metrics != nil {
		r.metrics.RunCompleted(string(status), completedAt.Sub(run.StartedAt), resultCount)
	}
	if r.analytics != nil {
		r.analytics.Record(ctx, run)
	}
	r.notifyCompleted(ctx, run, sched)

	log.Printf("runner: run=%s schedule=%s %s (results=%d, warnings=%d)",
		run.ID, sched.ID, status, resultCount, warningCount)
	return nil
}

// fail marks the run FAILED with the original error. Bookkeeping is
// deliberately skipped: last-run/next-run only advance on success.
func (r *Runner) fail(ctx context.Context, run domain.SyncRun, sched domain.SyncSchedule, completedAt time.Time, resultCount, warningCount int, runErr error) error {
	// The source context may already be cancelled; the failure must
	// still be recorded.
	finishCtx := context.WithoutCancel(ctx)

	if err := r.store.FinishRun(finishCtx, run.ID, domain.RunStatusFailed, completedAt, resultCount, warningCount, runErr.Error()); err != nil {
		log.Printf("runner: run=%s mark failed errored: %v", run.ID, err)
	}

	run.Status = domain.RunStatusFailed
	run.CompletedAt = &completedAt
	run.ResultCount = resultCount
	run.WarningCount = warningCount
	run.Error = runErr.Error()

	if r.metrics != nil {
		r.metrics.RunCompleted(string(domain.RunStatusFailed), completedAt.Sub(run.StartedAt), resultCount)
	}
	r.notifyFailed(finishCtx, run, sched, runErr.Error())

	return fmt.Errorf("run %s failed: %w", run.ID, runErr)
}

func (r *Runner) updateBookkeeping(ctx context.Context, sched domain.SyncSchedule, startedAt time.Time) error {
	// Manual-only schedules carry no cron expression and no next run.
	var next time.Time
	if sched.CronExpression != "" {
		cronSched, err := r.parser.Parse(sched.CronExpression, sched.Timezone)
		if err != nil {
			return fmt.Errorf("parse cron: %w", err)
		}
		next = cronSched.Next(r.clock()).UTC()
	}
	return r.store.CompleteRunBookkeeping(ctx, sched.ID, startedAt, next)
}

func (r *Runner) notifyCompleted(ctx context.Context, run domain.SyncRun, sched domain.SyncSchedule) {
	endpoint, ok := r.endpoint(ctx, sched)
	if !ok {
		return
	}
	r.notifier.NotifyCompleted(ctx, run, endpoint)
}

func (r *Runner) notifyFailed(ctx context.Context, run domain.SyncRun, sched domain.SyncSchedule, errMsg string) {
	endpoint, ok := r.endpoint(ctx, sched)
	if !ok {
		return
	}
	r.notifier.NotifyFailed(ctx, run, endpoint, errMsg)
}

func (r *Runner) endpoint(ctx context.Context, sched domain.SyncSchedule) (domain.WebhookEndpoint, bool) {
	if sched.WebhookEndpointID == nil || r.notifier == nil {
		return domain.WebhookEndpoint{}, false
	}
	endpoint, err := r.store.GetWebhookEndpoint(ctx, *sched.WebhookEndpointID)
	if err != nil {
		log.Printf("runner: load webhook endpoint=%s failed: %v", *sched.WebhookEndpointID, err)
		return domain.WebhookEndpoint{}, false
	}
	return endpoint, true
}
