package notify

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/evetabi/auction/internal/domain"
	"github.com/evetabi/auction/internal/metrics"
	"github.com/redis/go-redis/v9"
)

// Sink receives lot changes delivered to this node. OnLotChange must not
// block; sinks drop records whose version they have already applied.
type Sink interface {
	OnLotChange(ch domain.LotChange)
}

// ChangeStream publishes LotChange records on a Redis channel and delivers
// every record received on it to the local sinks.
type ChangeStream struct {
	rdb     redis.UniversalClient
	channel string
	logger  *slog.Logger

	attempts int
	backoff  time.Duration

	mu    sync.RWMutex
	sinks []Sink
}

// NewChangeStream creates a change stream on channel.
func NewChangeStream(rdb redis.UniversalClient, channel string, logger *slog.Logger) *ChangeStream {
	if logger == nil {
		logger = slog.Default()
	}
	return &ChangeStream{
		rdb:      rdb,
		channel:  channel,
		logger:   logger.With("component", "change_stream"),
		attempts: 3,
		backoff:  50 * time.Millisecond,
	}
}

// Attach registers a local sink.
func (s *ChangeStream) Attach(sink Sink) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.sinks = append(s.sinks, sink)
}

// PublishLotChange implements service.ChangePublisher. When Redis stays
// unreachable the change is still delivered to local sinks so this node
// serves fresh state, and the error is returned for logging.
func (s *ChangeStream) PublishLotChange(ctx context.Context, ch domain.LotChange) error {
	payload, err := json.Marshal(ch)
	if err != nil {
		return fmt.Errorf("notify.PublishLotChange: marshal: %w", err)
	}

	err = s.publishWithRetry(ctx, string(payload))
	metrics.TrackPublish(s.channel, err)

	if err != nil {
		s.deliver(ch)
		return fmt.Errorf("notify.PublishLotChange: lot %s: %w", ch.LotID, err)
	}
	return nil
}

func (s *ChangeStream) publishWithRetry(ctx context.Context, payload string) error {
	var err error
	delay := s.backoff
	for attempt := 1; attempt <= s.attempts; attempt++ {
		if err = s.rdb.Publish(ctx, s.channel, payload).Err(); err == nil {
			return nil
		}
		if attempt == s.attempts {
			break
		}
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-time.After(delay):
			delay *= 2
		}
	}
	return err
}

// Run subscribes to the channel and fans records out to the sinks until ctx
// is cancelled. It is the only path by which published changes arrive when
// Redis is healthy, including changes published by this node.
func (s *ChangeStream) Run(ctx context.Context) error {
	sub := s.rdb.Subscribe(ctx, s.channel)
	defer sub.Close()

	if _, err := sub.Receive(ctx); err != nil {
		return fmt.Errorf("notify.ChangeStream.Run: subscribe %s: %w", s.channel, err)
	}
	s.logger.Info("change stream subscribed", "channel", s.channel)

	msgs := sub.Channel()
	for {
		select {
		case <-ctx.Done():
			return nil
		case msg, ok := <-msgs:
			if !ok {
				return nil
			}
			s.handle(msg.Payload)
		}
	}
}

func (s *ChangeStream) handle(payload string) {
	var ch domain.LotChange
	if err := json.Unmarshal([]byte(payload), &ch); err != nil {
		s.logger.Warn("dropping malformed lot change", "err", err)
		return
	}
	s.deliver(ch)
}

func (s *ChangeStream) deliver(ch domain.LotChange) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	for _, sink := range s.sinks {
		sink.OnLotChange(ch)
	}
}
