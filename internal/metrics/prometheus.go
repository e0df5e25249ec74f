package metrics

import (
	"log"
	"time"

	"github.com/prometheus/client_golang/prometheus"
)

// PrometheusSink implements Sink using the Prometheus client library.
// All methods are non-blocking and fire-and-forget. Registration errors
// are logged but never propagated.
type PrometheusSink struct {
	// Scheduler metrics
	timersActive    prometheus.Gauge
	firesTotal      prometheus.Counter
	fireErrorsTotal prometheus.Counter

	// Runner metrics
	runsTotal        *prometheus.CounterVec
	runDuration      prometheus.Histogram
	runResultCount   prometheus.Histogram
	runsSkippedTotal prometheus.Counter
	runsInFlight     prometheus.Gauge

	// Source client metrics
	sourceQueriesTotal  *prometheus.CounterVec
	sourceQueryDuration prometheus.Histogram
	rateLimitDeferrals  prometheus.Counter

	// Ingest metrics
	recordsPersistedTotal prometheus.Counter
	recordsFailedTotal    prometheus.Counter

	// Notifier metrics
	webhooksTotal   *prometheus.CounterVec
	webhookDuration prometheus.Histogram

	// Run bus metrics
	bufferSize      prometheus.Gauge
	bufferCapacity  prometheus.Gauge
	emitErrorsTotal prometheus.Counter

	// Sweeper metrics
	staleRunsSweptTotal prometheus.Counter

	// Leader election metrics
	leaderStatus        prometheus.Gauge
	leaderAcquiredTotal prometheus.Counter
	leaderLostTotal     *prometheus.CounterVec
}

// NewPrometheusSink creates a Prometheus metrics sink. If registration
// fails, it logs a warning and returns a functional sink; metrics that
// failed to register simply stop being exported.
func NewPrometheusSink(reg prometheus.Registerer) *PrometheusSink {
	s := &PrometheusSink{}
	s.initSchedulerMetrics(reg)
	s.initRunnerMetrics(reg)
	s.initSourceMetrics(reg)
	s.initIngestMetrics(reg)
	s.initNotifierMetrics(reg)
	s.initBusMetrics(reg)
	s.initSweeperMetrics(reg)
	s.initLeaderMetrics(reg)
	return s
}

func (s *PrometheusSink) initSchedulerMetrics(reg prometheus.Registerer) {
	s.timersActive = prometheus.NewGauge(prometheus.GaugeOpts{
		Name: "comunicasync_scheduler_timers_active",
		Help: "Number of schedules with an attached timer.",
	})
	s.firesTotal = prometheus.NewCounter(prometheus.CounterOpts{
		Name: "comunicasync_scheduler_fires_total",
		Help: "Total number of timer fires emitted to the run bus.",
	})
	s.fireErrorsTotal = prometheus.NewCounter(prometheus.CounterOpts{
		Name: "comunicasync_scheduler_fire_errors_total",
		Help: "Total number of timer fires that failed to emit.",
	})

	s.register(reg, s.timersActive, "comunicasync_scheduler_timers_active")
	s.register(reg, s.firesTotal, "comunicasync_scheduler_fires_total")
	s.register(reg, s.fireErrorsTotal, "comunicasync_scheduler_fire_errors_total")
}

func (s *PrometheusSink) initRunnerMetrics(reg prometheus.Registerer) {
	s.runsTotal = prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "comunicasync_runner_runs_total",
		Help: "Total number of finished runs by outcome.",
	}, []string{"outcome"})
	s.runDuration = prometheus.NewHistogram(prometheus.HistogramOpts{
		Name:    "comunicasync_runner_run_duration_seconds",
		Help:    "Duration of finished runs in seconds.",
		Buckets: []float64{0.1, 0.5, 1, 5, 15, 60, 300, 900},
	})
	s.runResultCount = prometheus.NewHistogram(prometheus.HistogramOpts{
		Name:    "comunicasync_runner_run_result_count",
		Help:    "Communications fetched per run.",
		Buckets: []float64{0, 1, 10, 50, 100, 500, 1000, 5000},
	})
	s.runsSkippedTotal = prometheus.NewCounter(prometheus.CounterOpts{
		Name: "comunicasync_runner_runs_skipped_total",
		Help: "Total number of ticks skipped because a run held the lease.",
	})
	s.runsInFlight = prometheus.NewGauge(prometheus.GaugeOpts{
		Name: "comunicasync_runner_runs_in_flight",
		Help: "Number of runs currently executing.",
	})

	s.register(reg, s.runsTotal, "comunicasync_runner_runs_total")
	s.register(reg, s.runDuration, "comunicasync_runner_run_duration_seconds")
	s.register(reg, s.runResultCount, "comunicasync_runner_run_result_count")
	s.register(reg, s.runsSkippedTotal, "comunicasync_runner_runs_skipped_total")
	s.register(reg, s.runsInFlight, "comunicasync_runner_runs_in_flight")
}

func (s *PrometheusSink) initSourceMetrics(reg prometheus.Registerer) {
	s.sourceQueriesTotal = prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "comunicasync_source_queries_total",
		Help: "Total number of source queries by status class.",
	}, []string{"status_class"})
	s.sourceQueryDuration = prometheus.NewHistogram(prometheus.HistogramOpts{
		Name:    "comunicasync_source_query_duration_seconds",
		Help:    "Source query latency in seconds.",
		Buckets: []float64{0.1, 0.25, 0.5, 1, 2.5, 5, 10, 30},
	})
	s.rateLimitDeferrals = prometheus.NewCounter(prometheus.CounterOpts{
		Name: "comunicasync_source_rate_limit_deferrals_total",
		Help: "Total number of queries deferred by the local rate budget.",
	})

	s.register(reg, s.sourceQueriesTotal, "comunicasync_source_queries_total")
	s.register(reg, s.sourceQueryDuration, "comunicasync_source_query_duration_seconds")
	s.register(reg, s.rateLimitDeferrals, "comunicasync_source_rate_limit_deferrals_total")
}

func (s *PrometheusSink) initIngestMetrics(reg prometheus.Registerer) {
	s.recordsPersistedTotal = prometheus.NewCounter(prometheus.CounterOpts{
		Name: "comunicasync_ingest_records_persisted_total",
		Help: "Total number of communications upserted.",
	})
	s.recordsFailedTotal = prometheus.NewCounter(prometheus.CounterOpts{
		Name: "comunicasync_ingest_records_failed_total",
		Help: "Total number of communications that failed to persist.",
	})

	s.register(reg, s.recordsPersistedTotal, "comunicasync_ingest_records_persisted_total")
	s.register(reg, s.recordsFailedTotal, "comunicasync_ingest_records_failed_total")
}

func (s *PrometheusSink) initNotifierMetrics(reg prometheus.Registerer) {
	s.webhooksTotal = prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "comunicasync_notifier_webhooks_total",
		Help: "Total number of webhook deliveries by event and status class.",
	}, []string{"event", "status_class"})
	s.webhookDuration = prometheus.NewHistogram(prometheus.HistogramOpts{
		Name:    "comunicasync_notifier_webhook_duration_seconds",
		Help:    "Webhook request latency in seconds.",
		Buckets: []float64{0.1, 0.25, 0.5, 1, 2.5, 5, 10, 30},
	})

	s.register(reg, s.webhooksTotal, "comunicasync_notifier_webhooks_total")
	s.register(reg, s.webhookDuration, "comunicasync_notifier_webhook_duration_seconds")
}

func (s *PrometheusSink) initBusMetrics(reg prometheus.Registerer) {
	s.bufferSize = prometheus.NewGauge(prometheus.GaugeOpts{
		Name: "comunicasync_bus_buffer_size",
		Help: "Number of run requests currently buffered.",
	})
	s.bufferCapacity = prometheus.NewGauge(prometheus.GaugeOpts{
		Name: "comunicasync_bus_buffer_capacity",
		Help: "Run bus buffer capacity.",
	})
	s.emitErrorsTotal = prometheus.NewCounter(prometheus.CounterOpts{
		Name: "comunicasync_bus_emit_errors_total",
		Help: "Total number of failed emits to the run bus.",
	})

	s.register(reg, s.bufferSize, "comunicasync_bus_buffer_size")
	s.register(reg, s.bufferCapacity, "comunicasync_bus_buffer_capacity")
	s.register(reg, s.emitErrorsTotal, "comunicasync_bus_emit_errors_total")
}

func (s *PrometheusSink) initSweeperMetrics(reg prometheus.Registerer) {
	s.staleRunsSweptTotal = prometheus.NewCounter(prometheus.CounterOpts{
		Name: "comunicasync_sweeper_stale_runs_swept_total",
		Help: "Total number of stale running runs marked failed.",
	})

	s.register(reg, s.staleRunsSweptTotal, "comunicasync_sweeper_stale_runs_swept_total")
}

func (s *PrometheusSink) initLeaderMetrics(reg prometheus.Registerer) {
	s.leaderStatus = prometheus.NewGauge(prometheus.GaugeOpts{
		Name: "comunicasync_leader_status",
		Help: "1 when this instance is the leader, 0 otherwise.",
	})
	s.leaderAcquiredTotal = prometheus.NewCounter(prometheus.CounterOpts{
		Name: "comunicasync_leader_acquired_total",
		Help: "Total number of times leadership was acquired.",
	})
	s.leaderLostTotal = prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "comunicasync_leader_lost_total",
		Help: "Total number of times leadership was lost, by reason.",
	}, []string{"reason"})

	s.register(reg, s.leaderStatus, "comunicasync_leader_status")
	s.register(reg, s.leaderAcquiredTotal, "comunicasync_leader_acquired_total")
	s.register(reg, s.leaderLostTotal, "comunicasync_leader_lost_total")
}

func (s *PrometheusSink) register(reg prometheus.Registerer, c prometheus.Collector, name string) {
	if err := reg.Register(c); err != nil {
		log.Printf("metrics: register %s failed: %v", name, err)
	}
}

func (s *PrometheusSink) TimersActiveUpdate(count int) {
	s.timersActive.Set(float64(count))
}

func (s *PrometheusSink) ScheduleFired() {
	s.firesTotal.Inc()
}

func (s *PrometheusSink) ScheduleFireError() {
	s.fireErrorsTotal.Inc()
}

func (s *PrometheusSink) RunCompleted(outcome string, duration time.Duration, resultCount int) {
	s.runsTotal.WithLabelValues(outcome).Inc()
	s.runDuration.Observe(duration.Seconds())
	s.runResultCount.Observe(float64(resultCount))
}

func (s *PrometheusSink) RunSkipped() {
	s.runsSkippedTotal.Inc()
}

func (s *PrometheusSink) RunsInFlightIncr() {
	s.runsInFlight.Inc()
}

func (s *PrometheusSink) RunsInFlightDecr() {
	s.runsInFlight.Dec()
}

func (s *PrometheusSink) SourceQueryCompleted(statusClass string, duration time.Duration) {
	s.sourceQueriesTotal.WithLabelValues(statusClass).Inc()
	s.sourceQueryDuration.Observe(duration.Seconds())
}

func (s *PrometheusSink) RateLimitDeferred() {
	s.rateLimitDeferrals.Inc()
}

func (s *PrometheusSink) RecordsUpserted(persisted, failed int) {
	s.recordsPersistedTotal.Add(float64(persisted))
	s.recordsFailedTotal.Add(float64(failed))
}

func (s *PrometheusSink) WebhookDelivered(event string, statusClass string, duration time.Duration) {
	s.webhooksTotal.WithLabelValues(event, statusClass).Inc()
	s.webhookDuration.Observe(duration.Seconds())
}

func (s *PrometheusSink) BufferSizeUpdate(size int) {
	s.bufferSize.Set(float64(size))
}

func (s *PrometheusSink) BufferCapacitySet(capacity int) {
	s.bufferCapacity.Set(float64(capacity))
}

func (s *PrometheusSink) EmitError() {
	s.emitErrorsTotal.Inc()
}

func (s *PrometheusSink) StaleRunsSwept(count int) {
	s.staleRunsSweptTotal.Add(float64(count))
}

func (s *PrometheusSink) LeaderStatusChanged(isLeader bool) {
	if isLeader {
		s.leaderStatus.Set(1)
	} else {
		s.leaderStatus.Set(0)
	}
}

func (s *PrometheusSink) LeaderAcquired() {
	s.leaderAcquiredTotal.Inc()
}

func (s *PrometheusSink) LeaderLost(reason string) {
	s.leaderLostTotal.WithLabelValues(reason).Inc()
}

var _ Sink = (*PrometheusSink)(nil)
