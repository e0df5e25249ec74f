// Package notifier delivers run-completed and run-failed events to
// configured webhook endpoints.
//
// Delivery is best effort: one attempt per transition, failures are
// logged and never propagated. The run's own status is authoritative
// and must not be altered by notification outcome.
package notifier

import (
	"context"
	"log"
	"time"

	"github.com/litigio/comunicasync/internal/domain"
)

// MetricsSink records notifier metrics. Methods must be non-blocking.
type MetricsSink interface {
	WebhookDelivered(event string, statusClass string, duration time.Duration)
}

type Sender interface {
	Send(ctx context.Context, req WebhookRequest) WebhookResult
}

type WebhookRequest struct {
	URL     string
	Secret  string
	Timeout time.Duration
	Event   string
	Payload WebhookPayload
}

type WebhookPayload struct {
	Event       string `json:"event"`
	RunID       string `json:"run_id"`
	ScheduleID  string `json:"schedule_id"`
	ResultCount int    `json:"result_count,omitempty"`
	Error       string `json:"error,omitempty"`
	OccurredAt  string `json:"occurred_at"`
}

type WebhookResult struct {
	StatusCode int
	Error      error
	Duration   time.Duration
}

func (r WebhookResult) IsSuccess() bool {
	return r.Error == nil && r.StatusCode >= 200 && r.StatusCode < 300
}

const (
	EventRunCompleted = "run.completed"
	EventRunFailed    = "run.failed"
)

type Notifier struct {
	sender         Sender
	metrics        MetricsSink // optional, nil = disabled
	clock          func() time.Time
	defaultTimeout time.Duration
}

func New(sender Sender) *Notifier {
	return &Notifier{sender: sender, clock: time.Now}
}

// WithMetrics attaches a metrics sink to the notifier.
func (n *Notifier) WithMetrics(sink MetricsSink) *Notifier {
	n.metrics = sink
	return n
}

// WithDefaultTimeout sets the delivery timeout used for endpoints that
// do not carry their own.
func (n *Notifier) WithDefaultTimeout(d time.Duration) *Notifier {
	n.defaultTimeout = d
	return n
}

// NotifyCompleted announces a completed run. Best effort.
func (n *Notifier) NotifyCompleted(ctx context.Context, run domain.SyncRun, endpoint domain.WebhookEndpoint) {
	payload := WebhookPayload{
		Event:       EventRunCompleted,
		RunID:       run.ID.String(),
		ScheduleID:  run.ScheduleID.String(),
		ResultCount: run.ResultCount,
		OccurredAt:  n.clock().UTC().Format(time.RFC3339),
	}
	n.deliver(ctx, endpoint, EventRunCompleted, payload)
}

// NotifyFailed announces a failed run with its error message. Best
// effort.
func (n *Notifier) NotifyFailed(ctx context.Context, run domain.SyncRun, endpoint domain.WebhookEndpoint, errMsg string) {
	payload := WebhookPayload{
		Event:      EventRunFailed,
		RunID:      run.ID.String(),
		ScheduleID: run.ScheduleID.String(),
		Error:      errMsg,
		OccurredAt: n.clock().UTC().Format(time.RFC3339),
	}
	n.deliver(ctx, endpoint, EventRunFailed, payload)
}

func (n *Notifier) deliver(ctx context.Context, endpoint domain.WebhookEndpoint, event string, payload WebhookPayload) {
	timeout := endpoint.Timeout
	if timeout == 0 {
		timeout = n.defaultTimeout
	}
	req := WebhookRequest{
		URL:     endpoint.URL,
		Secret:  endpoint.Secret,
		Timeout: timeout,
		Event:   event,
		Payload: payload,
	}

	result := n.sender.Send(ctx, req)

	if n.metrics != nil {
		n.metrics.WebhookDelivered(event, classifyStatus(result), result.Duration)
	}

	if !result.IsSuccess() {
		log.Printf("notifier: %s run=%s endpoint=%s failed (status=%d, err=%v)",
			event, payload.RunID, endpoint.ID, result.StatusCode, result.Error)
		return
	}
	log.Printf("notifier: %s run=%s delivered", event, payload.RunID)
}

func classifyStatus(r WebhookResult) string {
	if r.Error != nil {
		return "error"
	}
	switch {
	case r.StatusCode >= 200 && r.StatusCode < 300:
		return "2xx"
	case r.StatusCode >= 400 && r.StatusCode < 500:
		return "4xx"
	case r.StatusCode >= 500:
		return "5xx"
	default:
		return "error"
	}
}
