package metrics

import "time"

// NoopSink discards all metrics. Used when metrics are disabled and in
// tests.
type NoopSink struct{}

func NewNoopSink() *NoopSink {
	return &NoopSink{}
}

func (s *NoopSink) TimersActiveUpdate(count int) {}

func (s *NoopSink) ScheduleFired() {}

func (s *NoopSink) ScheduleFireError() {}

func (s *NoopSink) RunCompleted(outcome string, duration time.Duration, resultCount int) {}

func (s *NoopSink) RunSkipped() {}

func (s *NoopSink) RunsInFlightIncr() {}

func (s *NoopSink) RunsInFlightDecr() {}

func (s *NoopSink) SourceQueryCompleted(statusClass string, duration time.Duration) {}

func (s *NoopSink) RateLimitDeferred() {}

func (s *NoopSink) RecordsUpserted(persisted, failed int) {}

func (s *NoopSink) WebhookDelivered(event string, statusClass string, duration time.Duration) {}

func (s *NoopSink) BufferSizeUpdate(size int) {}

func (s *NoopSink) BufferCapacitySet(capacity int) {}

func (s *NoopSink) EmitError() {}

func (s *NoopSink) StaleRunsSwept(count int) {}

func (s *NoopSink) LeaderStatusChanged(isLeader bool) {}

func (s *NoopSink) LeaderAcquired() {}

func (s *NoopSink) LeaderLost(reason string) {}

var _ Sink = (*NoopSink)(nil)
