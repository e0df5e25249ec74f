package postgres

import (
	"context"
	"database/sql"
	"encoding/json"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/lib/pq"

	"github.com/litigio/comunicasync/internal/api"
	"github.com/litigio/comunicasync/internal/domain"
	"github.com/litigio/comunicasync/internal/ingest"
	"github.com/litigio/comunicasync/internal/runner"
	"github.com/litigio/comunicasync/internal/scheduler"
	"github.com/litigio/comunicasync/internal/sweeper"
)

// Store implements the scheduler, runner, ingest, sweeper and api
// persistence interfaces using PostgreSQL.
type Store struct {
	db        *sql.DB
	opTimeout time.Duration
}

func New(db *sql.DB, opTimeout time.Duration) *Store {
	if opTimeout <= 0 {
		opTimeout = 5 * time.Second
	}
	return &Store{db: db, opTimeout: opTimeout}
}

func (s *Store) opCtx(ctx context.Context) (context.Context, context.CancelFunc) {
	return context.WithTimeout(ctx, s.opTimeout)
}

// scanSchedule reads one schedule row in scheduleColumns order.
func scanSchedule(row interface{ Scan(...any) error }) (domain.SyncSchedule, error) {
	var (
		sched       domain.SyncSchedule
		description sql.NullString
		attorneyIDs pq.StringArray
		paramsJSON  []byte
		endpointID  uuid.NullUUID
		lastRunAt   sql.NullTime
		nextRunAt   sql.NullTime
		activeRunID uuid.NullUUID
	)

	err := row.Scan(
		&sched.ID,
		&sched.Name,
		&description,
		&sched.Mode,
		&sched.CronExpression,
		&sched.Timezone,
		&sched.Active,
		&attorneyIDs,
		&paramsJSON,
		&endpointID,
		&lastRunAt,
		&nextRunAt,
		&sched.RunCount,
		&activeRunID,
		&sched.CreatedAt,
		&sched.UpdatedAt,
	)
	if err != nil {
		return domain.SyncSchedule{}, err
	}

	sched.Description = description.String
	for _, raw := range attorneyIDs {
		id, err := uuid.Parse(raw)
		if err != nil {
			continue
		}
		sched.AttorneyIDs = append(sched.AttorneyIDs, id)
	}
	if len(paramsJSON) > 0 {
		if err := json.Unmarshal(paramsJSON, &sched.Params); err != nil {
			return domain.SyncSchedule{}, err
		}
	}
	if endpointID.Valid {
		sched.WebhookEndpointID = &endpointID.UUID
	}
	if lastRunAt.Valid {
		t := lastRunAt.Time
		sched.LastRunAt = &t
	}
	if nextRunAt.Valid {
		t := nextRunAt.Time
		sched.NextRunAt = &t
	}
	if activeRunID.Valid {
		sched.ActiveRunID = &activeRunID.UUID
	}
	return sched, nil
}

func scheduleArgs(sched domain.SyncSchedule) (attorneyIDs pq.StringArray, paramsJSON []byte, endpointID uuid.NullUUID, err error) {
	for _, id := range sched.AttorneyIDs {
		attorneyIDs = append(attorneyIDs, id.String())
	}
	paramsJSON, err = json.Marshal(sched.Params)
	if err != nil {
		return nil, nil, uuid.NullUUID{}, err
	}
	if sched.WebhookEndpointID != nil {
		endpointID = uuid.NullUUID{UUID: *sched.WebhookEndpointID, Valid: true}
	}
	return attorneyIDs, paramsJSON, endpointID, nil
}

// GetActiveSchedules returns all active schedules that timers should be
// attached to. Manual-only schedules are excluded.
func (s *Store) GetActiveSchedules(ctx context.Context) ([]domain.SyncSchedule, error) {
	ctx, cancel := s.opCtx(ctx)
	defer cancel()

	rows, err := s.db.QueryContext(ctx, queryGetActiveSchedules)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var result []domain.SyncSchedule
	for rows.Next() {
		sched, err := scanSchedule(rows)
		if err != nil {
			return nil, err
		}
		result = append(result, sched)
	}
	return result, rows.Err()
}

func (s *Store) GetScheduleByID(ctx context.Context, id uuid.UUID) (domain.SyncSchedule, error) {
	ctx, cancel := s.opCtx(ctx)
	defer cancel()

	return scanSchedule(s.db.QueryRowContext(ctx, queryGetScheduleByID, id))
}

func (s *Store) ListSchedules(ctx context.Context, limit, offset int) ([]domain.SyncSchedule, error) {
	ctx, cancel := s.opCtx(ctx)
	defer cancel()

	rows, err := s.db.QueryContext(ctx, queryListSchedules, limit, offset)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var result []domain.SyncSchedule
	for rows.Next() {
		sched, err := scanSchedule(rows)
		if err != nil {
			return nil, err
		}
		result = append(result, sched)
	}
	return result, rows.Err()
}

func (s *Store) CreateSchedule(ctx context.Context, sched domain.SyncSchedule) error {
	ctx, cancel := s.opCtx(ctx)
	defer cancel()

	attorneyIDs, paramsJSON, endpointID, err := scheduleArgs(sched)
	if err != nil {
		return err
	}

	var nextRunAt any
	if sched.NextRunAt != nil {
		nextRunAt = *sched.NextRunAt
	}

	_, err = s.db.ExecContext(ctx, queryInsertSchedule,
		sched.ID, sched.Name, sched.Description, string(sched.Mode),
		sched.CronExpression, sched.Timezone, sched.Active,
		attorneyIDs, paramsJSON, endpointID,
		nextRunAt, sched.CreatedAt, sched.UpdatedAt,
	)
	return err
}

func (s *Store) UpdateSchedule(ctx context.Context, sched domain.SyncSchedule) error {
	ctx, cancel := s.opCtx(ctx)
	defer cancel()

	attorneyIDs, paramsJSON, endpointID, err := scheduleArgs(sched)
	if err != nil {
		return err
	}

	result, err := s.db.ExecContext(ctx, queryUpdateSchedule,
		sched.ID, sched.Name, sched.Description, string(sched.Mode),
		sched.CronExpression, sched.Timezone, sched.Active,
		attorneyIDs, paramsJSON, endpointID, time.Now().UTC(),
	)
	if err != nil {
		return err
	}
	return requireRow(result)
}

func (s *Store) SetScheduleActive(ctx context.Context, id uuid.UUID, active bool) error {
	ctx, cancel := s.opCtx(ctx)
	defer cancel()

	result, err := s.db.ExecContext(ctx, querySetScheduleActive, id, active, time.Now().UTC())
	if err != nil {
		return err
	}
	return requireRow(result)
}

func (s *Store) DeleteSchedule(ctx context.Context, id uuid.UUID) error {
	ctx, cancel := s.opCtx(ctx)
	defer cancel()

	var deletedID uuid.UUID
	return s.db.QueryRowContext(ctx, queryDeleteSchedule, id).Scan(&deletedID)
}

// UpdateNextRun persists the next computed fire time.
func (s *Store) UpdateNextRun(ctx context.Context, id uuid.UUID, nextRun time.Time) error {
	ctx, cancel := s.opCtx(ctx)
	defer cancel()

	_, err := s.db.ExecContext(ctx, queryUpdateNextRun, id, nextRun, time.Now().UTC())
	return err
}

// AcquireRunLease claims the per-schedule run lease via compare-and-swap
// on active_run_id. Returns runner.ErrScheduleBusy when a run already
// holds the lease.
func (s *Store) AcquireRunLease(ctx context.Context, scheduleID, runID uuid.UUID) error {
	ctx, cancel := s.opCtx(ctx)
	defer cancel()

	result, err := s.db.ExecContext(ctx, queryAcquireRunLease, scheduleID, runID, time.Now().UTC())
	if err != nil {
		return err
	}
	affected, err := result.RowsAffected()
	if err != nil {
		return err
	}
	if affected == 0 {
		return runner.ErrScheduleBusy
	}
	return nil
}

// ReleaseRunLease clears the lease when runID still holds it.
func (s *Store) ReleaseRunLease(ctx context.Context, scheduleID, runID uuid.UUID) error {
	ctx, cancel := s.opCtx(ctx)
	defer cancel()

	_, err := s.db.ExecContext(ctx, queryReleaseRunLease, scheduleID, runID, time.Now().UTC())
	return err
}

// CompleteRunBookkeeping sets last-run, next-run and bumps the run
// counter in a single statement.
func (s *Store) CompleteRunBookkeeping(ctx context.Context, scheduleID uuid.UUID, lastRun, nextRun time.Time) error {
	ctx, cancel := s.opCtx(ctx)
	defer cancel()

	// Zero nextRun means the schedule has no future fire (manual mode).
	next := sql.NullTime{Time: nextRun, Valid: !nextRun.IsZero()}
	_, err := s.db.ExecContext(ctx, queryCompleteRunBookkeeping, scheduleID, lastRun, next, time.Now().UTC())
	return err
}

func (s *Store) InsertRun(ctx context.Context, run domain.SyncRun) error {
	ctx, cancel := s.opCtx(ctx)
	defer cancel()

	_, err := s.db.ExecContext(ctx, queryInsertRun,
		run.ID, run.ScheduleID, string(run.Status), run.StartedAt,
		run.ResultCount, run.WarningCount, run.Error, run.CreatedAt,
	)
	return err
}

// FinishRun moves a run to a terminal status. The guard in the WHERE
// clause rejects transitions out of terminal states; those return
// runner.ErrRunAlreadyFinished.
func (s *Store) FinishRun(ctx context.Context, runID uuid.UUID, status domain.RunStatus, completedAt time.Time, resultCount, warningCount int, errMsg string) error {
	ctx, cancel := s.opCtx(ctx)
	defer cancel()

	result, err := s.db.ExecContext(ctx, queryFinishRun,
		runID, string(status), completedAt, resultCount, warningCount, errMsg,
	)
	if err != nil {
		return err
	}
	affected, err := result.RowsAffected()
	if err != nil {
		return err
	}
	if affected == 0 {
		var current string
		err := s.db.QueryRowContext(ctx, queryGetRunByID, runID).Scan(
			new(uuid.UUID), new(uuid.UUID), &current, new(time.Time),
			new(sql.NullTime), new(int), new(int), new(string), new(time.Time),
		)
		if err == sql.ErrNoRows {
			return sql.ErrNoRows
		}
		if err != nil {
			return err
		}
		return runner.ErrRunAlreadyFinished
	}
	return nil
}

func (s *Store) GetRunByID(ctx context.Context, runID uuid.UUID) (domain.SyncRun, error) {
	ctx, cancel := s.opCtx(ctx)
	defer cancel()

	return scanRun(s.db.QueryRowContext(ctx, queryGetRunByID, runID))
}

func (s *Store) ListRuns(ctx context.Context, scheduleID uuid.UUID, limit, offset int) ([]domain.SyncRun, error) {
	ctx, cancel := s.opCtx(ctx)
	defer cancel()

	rows, err := s.db.QueryContext(ctx, queryListRuns, scheduleID, limit, offset)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var result []domain.SyncRun
	for rows.Next() {
		run, err := scanRun(rows)
		if err != nil {
			return nil, err
		}
		result = append(result, run)
	}
	return result, rows.Err()
}

// GetStaleRunningRuns returns runs stuck in running state since before
// olderThan, oldest first.
func (s *Store) GetStaleRunningRuns(ctx context.Context, olderThan time.Time, maxResults int) ([]domain.SyncRun, error) {
	ctx, cancel := s.opCtx(ctx)
	defer cancel()

	rows, err := s.db.QueryContext(ctx, queryGetStaleRunningRuns, olderThan, maxResults)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var result []domain.SyncRun
	for rows.Next() {
		run, err := scanRun(rows)
		if err != nil {
			return nil, err
		}
		result = append(result, run)
	}
	return result, rows.Err()
}

func scanRun(row interface{ Scan(...any) error }) (domain.SyncRun, error) {
	var (
		run         domain.SyncRun
		status      string
		completedAt sql.NullTime
	)
	err := row.Scan(
		&run.ID, &run.ScheduleID, &status, &run.StartedAt,
		&completedAt, &run.ResultCount, &run.WarningCount, &run.Error,
		&run.CreatedAt,
	)
	if err != nil {
		return domain.SyncRun{}, err
	}
	run.Status = domain.RunStatus(status)
	if completedAt.Valid {
		t := completedAt.Time
		run.CompletedAt = &t
	}
	return run, nil
}

// UpsertCommunication inserts or overwrites a communication keyed by
// its content hash. first_seen_at survives re-ingestion.
func (s *Store) UpsertCommunication(ctx context.Context, comm domain.Communication) error {
	ctx, cancel := s.opCtx(ctx)
	defer cancel()

	_, err := s.db.ExecContext(ctx, queryUpsertCommunication,
		comm.Hash, comm.Tribunal, comm.ProcessNumber, comm.CommunicationNumber,
		pq.StringArray(comm.PartyNames), pq.StringArray(comm.LawyerNames),
		comm.Text, comm.DisclosedOn, string(comm.Medium), comm.Raw,
		comm.FirstSeenAt, comm.LastSeenAt,
	)
	return err
}

func (s *Store) CountCommunications(ctx context.Context) (int, error) {
	ctx, cancel := s.opCtx(ctx)
	defer cancel()

	var n int
	err := s.db.QueryRowContext(ctx, queryCountCommunications).Scan(&n)
	return n, err
}

func (s *Store) GetAttorneysByIDs(ctx context.Context, ids []uuid.UUID) ([]domain.Attorney, error) {
	ctx, cancel := s.opCtx(ctx)
	defer cancel()

	raw := make(pq.StringArray, 0, len(ids))
	for _, id := range ids {
		raw = append(raw, id.String())
	}

	rows, err := s.db.QueryContext(ctx, queryGetAttorneysByIDs, raw)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var result []domain.Attorney
	for rows.Next() {
		var a domain.Attorney
		if err := rows.Scan(&a.ID, &a.Name, &a.OABNumber, &a.OABState); err != nil {
			return nil, err
		}
		result = append(result, a)
	}
	return result, rows.Err()
}

func (s *Store) GetWebhookEndpoint(ctx context.Context, id uuid.UUID) (domain.WebhookEndpoint, error) {
	ctx, cancel := s.opCtx(ctx)
	defer cancel()

	var (
		ep        domain.WebhookEndpoint
		timeoutMs int64
	)
	err := s.db.QueryRowContext(ctx, queryGetWebhookEndpoint, id).Scan(
		&ep.ID, &ep.URL, &ep.Secret, &timeoutMs, &ep.CreatedAt,
	)
	if err != nil {
		return domain.WebhookEndpoint{}, err
	}
	ep.Timeout = time.Duration(timeoutMs) * time.Millisecond
	return ep, nil
}

// PingContext exposes database health for the /health endpoint.
func (s *Store) PingContext(ctx context.Context) error {
	return s.db.PingContext(ctx)
}

func requireRow(result sql.Result) error {
	affected, err := result.RowsAffected()
	if err != nil {
		return err
	}
	if affected == 0 {
		return sql.ErrNoRows
	}
	return nil
}

// IsUniqueViolation checks for a PostgreSQL unique violation.
func IsUniqueViolation(err error) bool {
	if err == nil {
		return false
	}
	msg := err.Error()
	return strings.Contains(msg, "23505") ||
		strings.Contains(msg, "unique constraint") ||
		strings.Contains(msg, "duplicate key")
}

// Compile-time interface assertions
var (
	_ scheduler.Store = (*Store)(nil)
	_ runner.Store    = (*Store)(nil)
	_ ingest.Store    = (*Store)(nil)
	_ sweeper.Store   = (*Store)(nil)
	_ api.Store       = (*Store)(nil)
)
