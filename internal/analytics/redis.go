// Package analytics buckets run outcomes in Redis for dashboards.
// Best effort: failures are logged and never affect run processing.
package analytics

import (
	"context"
	"fmt"
	"log"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/litigio/comunicasync/internal/domain"
)

// Window is the bucketing granularity for run counters.
const Window = time.Hour

type RedisSink struct {
	client    *redis.Client
	retention time.Duration
	clock     func() time.Time
}

func NewRedisSink(client *redis.Client, retention time.Duration) *RedisSink {
	if retention < Window {
		retention = 24 * time.Hour
	}
	return &RedisSink{client: client, retention: retention, clock: time.Now}
}

// Record increments the hourly counter for the run's schedule and
// outcome, and accumulates the fetched-communication count.
func (s *RedisSink) Record(ctx context.Context, run domain.SyncRun) {
	bucket := s.clock().UTC().Truncate(Window).Format("2006010215")
	countKey := fmt.Sprintf("sched:%s:runs:%s:%s", run.ScheduleID, run.Status, bucket)
	resultKey := fmt.Sprintf("sched:%s:results:%s", run.ScheduleID, bucket)

	pipe := s.client.Pipeline()
	pipe.Incr(ctx, countKey)
	pipe.Expire(ctx, countKey, s.retention)
	pipe.IncrBy(ctx, resultKey, int64(run.ResultCount))
	pipe.Expire(ctx, resultKey, s.retention)

	if _, err := pipe.Exec(ctx); err != nil {
		log.Printf("analytics: record run=%s failed: %v", run.ID, err)
	}
}
