package metrics

import "time"

// Sink defines the interface for recording metrics.
// All methods are fire-and-forget: implementations MUST NOT block or
// propagate errors. If the metrics backend is unavailable,
// implementations log warnings and continue.
type Sink interface {
	// Scheduler metrics
	TimersActiveUpdate(count int)
	ScheduleFired()
	ScheduleFireError()

	// Runner metrics
	RunCompleted(outcome string, duration time.Duration, resultCount int)
	RunSkipped()
	RunsInFlightIncr()
	RunsInFlightDecr()

	// Source client metrics
	SourceQueryCompleted(statusClass string, duration time.Duration)
	RateLimitDeferred()

	// Ingest metrics
	RecordsUpserted(persisted, failed int)

	// Notifier metrics
	WebhookDelivered(event string, statusClass string, duration time.Duration)

	// Run bus metrics
	BufferSizeUpdate(size int)
	BufferCapacitySet(capacity int)
	EmitError()

	// Sweeper metrics
	StaleRunsSwept(count int)

	// Leader election metrics
	LeaderStatusChanged(isLeader bool)
	LeaderAcquired()
	LeaderLost(reason string)
}

// Outcome constants for RunCompleted.
const (
	OutcomeCompleted    = "completed"
	OutcomeWithWarnings = "completed_with_warnings"
	OutcomeFailed       = "failed"
)
