package postgres

const scheduleColumns = `
    id, name, description, mode, cron_expression, timezone, active,
    attorney_ids, params, webhook_endpoint_id,
    last_run_at, next_run_at, run_count, active_run_id,
    created_at, updated_at`

const queryGetActiveSchedules = `
SELECT` + scheduleColumns + `
FROM sync_schedules
WHERE active = true AND mode <> 'manual'
ORDER BY id
`

const queryGetScheduleByID = `
SELECT` + scheduleColumns + `
FROM sync_schedules
WHERE id = $1
`

const queryListSchedules = `
SELECT` + scheduleColumns + `
FROM sync_schedules
ORDER BY created_at DESC
LIMIT $1 OFFSET $2
`

const queryInsertSchedule = `
INSERT INTO sync_schedules (
    id, name, description, mode, cron_expression, timezone, active,
    attorney_ids, params, webhook_endpoint_id,
    next_run_at, run_count, created_at, updated_at
) VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, 0, $12, $13)
`

const queryUpdateSchedule = `
UPDATE sync_schedules
SET name = $2, description = $3, mode = $4, cron_expression = $5,
    timezone = $6, active = $7, attorney_ids = $8, params = $9,
    webhook_endpoint_id = $10, updated_at = $11
WHERE id = $1
`

const querySetScheduleActive = `
UPDATE sync_schedules
SET active = $2, updated_at = $3
WHERE id = $1
`

const queryDeleteSchedule = `
WITH deleted_runs AS (
    DELETE FROM sync_runs WHERE schedule_id = $1
)
DELETE FROM sync_schedules WHERE id = $1
RETURNING id`

const queryUpdateNextRun = `
UPDATE sync_schedules
SET next_run_at = $2, updated_at = $3
WHERE id = $1
`

const queryAcquireRunLease = `
UPDATE sync_schedules
SET active_run_id = $2, updated_at = $3
WHERE id = $1 AND active_run_id IS NULL
`

const queryReleaseRunLease = `
UPDATE sync_schedules
SET active_run_id = NULL, updated_at = $3
WHERE id = $1 AND active_run_id = $2
`

const queryCompleteRunBookkeeping = `
UPDATE sync_schedules
SET last_run_at = $2, next_run_at = $3, run_count = run_count + 1, updated_at = $4
WHERE id = $1
`

const queryInsertRun = `
INSERT INTO sync_runs (id, schedule_id, status, started_at, result_count, warning_count, error, created_at)
VALUES ($1, $2, $3, $4, $5, $6, $7, $8)
`

const queryFinishRun = `
UPDATE sync_runs
SET status = $2, completed_at = $3, result_count = $4, warning_count = $5, error = $6
WHERE id = $1
  AND status NOT IN ('completed', 'completed_with_warnings', 'failed')
`

const queryGetRunByID = `
SELECT id, schedule_id, status, started_at, completed_at, result_count, warning_count, error, created_at
FROM sync_runs
WHERE id = $1
`

const queryListRuns = `
SELECT id, schedule_id, status, started_at, completed_at, result_count, warning_count, error, created_at
FROM sync_runs
WHERE schedule_id = $1
ORDER BY started_at DESC
LIMIT $2 OFFSET $3
`

const queryGetStaleRunningRuns = `
SELECT id, schedule_id, status, started_at, completed_at, result_count, warning_count, error, created_at
FROM sync_runs
WHERE status = 'running'
  AND started_at < $1
ORDER BY started_at ASC
LIMIT $2
`

const queryUpsertCommunication = `
INSERT INTO communications (
    hash, tribunal, process_number, communication_number,
    party_names, lawyer_names, text, disclosed_on, medium, raw,
    first_seen_at, last_seen_at
) VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12)
ON CONFLICT (hash) DO UPDATE SET
    tribunal = EXCLUDED.tribunal,
    process_number = EXCLUDED.process_number,
    communication_number = EXCLUDED.communication_number,
    party_names = EXCLUDED.party_names,
    lawyer_names = EXCLUDED.lawyer_names,
    text = EXCLUDED.text,
    disclosed_on = EXCLUDED.disclosed_on,
    medium = EXCLUDED.medium,
    raw = EXCLUDED.raw,
    last_seen_at = EXCLUDED.last_seen_at
`

const queryCountCommunications = `
SELECT COUNT(*) FROM communications
`

const queryGetAttorneysByIDs = `
SELECT id, name, oab_number, oab_state
FROM attorneys
WHERE id = ANY($1)
ORDER BY name
`

const queryGetWebhookEndpoint = `
SELECT id, url, secret, timeout_ms, created_at
FROM webhook_endpoints
WHERE id = $1
`
