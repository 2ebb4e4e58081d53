// Package notify hands committed auction events to Redis: leadership changes
// go to a stream consumed by the outbid-notification workers, lot changes to
// a pub/sub channel that keeps caches and live UIs fresh on every node.
package notify

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/evetabi/auction/internal/domain"
	"github.com/evetabi/auction/internal/metrics"
	"github.com/redis/go-redis/v9"
)

// RedisDispatcher appends LeadershipChanged records to a Redis stream.
// Consumers read it with a consumer group, so delivery to the mailer is
// at-least-once and survives restarts of this process.
type RedisDispatcher struct {
	rdb    redis.Cmdable
	stream string
	maxLen int64
	logger *slog.Logger
}

// NewRedisDispatcher creates a dispatcher writing to stream, trimmed to
// roughly maxLen entries.
func NewRedisDispatcher(rdb redis.Cmdable, stream string, maxLen int64, logger *slog.Logger) *RedisDispatcher {
	if logger == nil {
		logger = slog.Default()
	}
	return &RedisDispatcher{
		rdb:    rdb,
		stream: stream,
		maxLen: maxLen,
		logger: logger.With("component", "notify"),
	}
}

// NotifyLeadershipChanged implements service.Notifier.
func (d *RedisDispatcher) NotifyLeadershipChanged(ctx context.Context, ev domain.LeadershipChanged) error {
	args := &redis.XAddArgs{
		Stream: d.stream,
		MaxLen: d.maxLen,
		Approx: true,
		Values: leadershipValues(ev),
	}
	id, err := d.rdb.XAdd(ctx, args).Result()
	metrics.TrackPublish(d.stream, err)
	if err != nil {
		return fmt.Errorf("notify.NotifyLeadershipChanged: %w", err)
	}
	d.logger.Debug("leadership change queued", "lot_id", ev.LotID, "previous_leader", ev.PreviousLeader, "entry_id", id)
	return nil
}

// leadershipValues flattens ev into stream fields in a fixed order.
func leadershipValues(ev domain.LeadershipChanged) []interface{} {
	return []interface{}{
		"lot_id", ev.LotID.String(),
		"previous_leader", ev.PreviousLeader.String(),
		"new_leader", ev.NewLeader.String(),
		"new_amount", ev.NewAmount.StringFixed(domain.MoneyPlaces),
		"occurred_at", ev.OccurredAt.UTC().Format(time.RFC3339Nano),
	}
}
