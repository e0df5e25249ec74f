// Package channel carries run requests from the scheduler and the API's
// manual trigger to the execution runner over a buffered channel.
package channel

import (
	"context"

	"github.com/litigio/comunicasync/internal/domain"
)

// MetricsSink records bus metrics. Methods must be non-blocking.
type MetricsSink interface {
	BufferSizeUpdate(size int)
	BufferCapacitySet(capacity int)
	EmitError()
}

type Option func(*RunBus)

// WithMetrics attaches a metrics sink to the bus.
func WithMetrics(sink MetricsSink) Option {
	return func(b *RunBus) {
		b.metrics = sink
	}
}

type RunBus struct {
	ch      chan domain.RunRequest
	metrics MetricsSink // optional, nil = disabled
}

func NewRunBus(buffer int, opts ...Option) *RunBus {
	b := &RunBus{
		ch: make(chan domain.RunRequest, buffer),
	}
	for _, opt := range opts {
		opt(b)
	}
	if b.metrics != nil {
		b.metrics.BufferCapacitySet(buffer)
	}
	return b
}

func (b *RunBus) Emit(ctx context.Context, req domain.RunRequest) error {
	select {
	case b.ch <- req:
		if b.metrics != nil {
			b.metrics.BufferSizeUpdate(len(b.ch))
		}
		return nil
	case <-ctx.Done():
		if b.metrics != nil {
			b.metrics.EmitError()
		}
		return ctx.Err()
	}
}

func (b *RunBus) Channel() <-chan domain.RunRequest {
	return b.ch
}
