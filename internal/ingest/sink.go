// Package ingest persists fetched communications with upsert semantics.
//
// The sink is best effort, not atomic: a record that fails to persist is
// logged and reported in the Result while the rest of the batch
// continues. Re-ingesting the same batch leaves the store unchanged.
package ingest

import (
	"context"
	"log"
	"time"

	"github.com/litigio/comunicasync/internal/domain"
)

// Store is the persistence surface the sink consumes.
type Store interface {
	UpsertCommunication(ctx context.Context, comm domain.Communication) error
}

// MetricsSink records ingest metrics. Methods must be non-blocking.
type MetricsSink interface {
	RecordsUpserted(persisted, failed int)
}

// Failure identifies one record that could not be persisted.
type Failure struct {
	Hash string
	Err  error
}

// Result summarizes one batch.
type Result struct {
	Persisted int
	Failed    []Failure
}

type Sink struct {
	store   Store
	metrics MetricsSink // optional, nil = disabled
	clock   func() time.Time
}

func New(store Store) *Sink {
	return &Sink{store: store, clock: time.Now}
}

// WithMetrics attaches a metrics sink.
func (s *Sink) WithMetrics(sink MetricsSink) *Sink {
	s.metrics = sink
	return s
}

// Upsert persists the batch keyed by content hash. Idempotent: calling
// it twice with identical records yields the same final state.
func (s *Sink) Upsert(ctx context.Context, records []domain.Communication) Result {
	now := s.clock().UTC()

	var result Result
	for _, rec := range records {
		if rec.Hash == "" {
			rec.Hash = rec.Fingerprint()
		}
		rec.FirstSeenAt = now
		rec.LastSeenAt = now

		if err := s.store.UpsertCommunication(ctx, rec); err != nil {
			log.Printf("ingest: upsert hash=%s failed: %v", rec.Hash, err)
			result.Failed = append(result.Failed, Failure{Hash: rec.Hash, Err: err})
			continue
		}
		result.Persisted++
	}

	if s.metrics != nil {
		s.metrics.RecordsUpserted(result.Persisted, len(result.Failed))
	}
	return result
}
