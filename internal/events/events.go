// Package events publishes domain events on Redis pub/sub and provides the
// run lock that keeps two jobs of the same kind from overlapping.
package events

import (
	"context"
	"encoding/json"
	"log/slog"

	"github.com/redis/go-redis/v9"

	"aucradar/ingest-service/internal/metrics"
)

// Channel names double as the event "type" field.
const (
	EventListingCreated   = "EVENT_LISTING_CREATED"
	EventCrawlJobFinished = "EVENT_CRAWL_JOB_FINISHED"
)

// Publisher emits best-effort domain events.
type Publisher interface {
	Publish(ctx context.Context, channel string, payload map[string]any)
}

// RedisPublisher publishes JSON payloads with PUBLISH. Failures are logged
// and counted, never returned.
type RedisPublisher struct {
	rdb *redis.Client
}

// NewPublisher returns a RedisPublisher, or a no-op publisher when rdb is nil.
func NewPublisher(rdb *redis.Client) Publisher {
	if rdb == nil {
		return Noop{}
	}
	return &RedisPublisher{rdb: rdb}
}

func (p *RedisPublisher) Publish(ctx context.Context, channel string, payload map[string]any) {
	msg := make(map[string]any, len(payload)+1)
	for k, v := range payload {
		msg[k] = v
	}
	msg["type"] = channel

	event, err := json.Marshal(msg)
	if err != nil {
		slog.Warn("marshal event failed", "channel", channel, "err", err)
		return
	}
	if err := p.rdb.Publish(ctx, channel, event).Err(); err != nil {
		metrics.EventPublishFailures.WithLabelValues(channel).Inc()
		slog.Warn("publish "+channel+" failed", "err", err)
	}
}

// Noop discards every event.
type Noop struct{}

func (Noop) Publish(context.Context, string, map[string]any) {}
