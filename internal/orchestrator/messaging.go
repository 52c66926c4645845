package orchestrator

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"
)

// Publisher receives run lifecycle events.
type Publisher interface {
	Publish(ctx context.Context, ev *RunEvent) error
}

// EventBus publishes run events to Redis Streams: one stream per run and a
// shared feed of every event.
type EventBus struct {
	rdb     *redis.Client
	logger  *zap.Logger
	backoff time.Duration // first wait after a failed feed read
}

// NewEventBus creates a Redis-backed event bus.
func NewEventBus(ctx context.Context, redisURL string, logger *zap.Logger) (*EventBus, error) {
	opts, err := redis.ParseURL(redisURL)
	if err != nil {
		return nil, fmt.Errorf("parse redis url: %w", err)
	}
	rdb := redis.NewClient(opts)
	if err := rdb.Ping(ctx).Err(); err != nil {
		return nil, fmt.Errorf("redis ping: %w", err)
	}
	return newEventBus(rdb, logger), nil
}

func newEventBus(rdb *redis.Client, logger *zap.Logger) *EventBus {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &EventBus{rdb: rdb, logger: logger, backoff: 250 * time.Millisecond}
}

const (
	streamPrefix = "pastoral:run:"
	feedStream   = "pastoral:runs"

	maxReadBackoff = 10 * time.Second
)

// Publish appends ev to the run's stream and to the shared feed.
func (eb *EventBus) Publish(ctx context.Context, ev *RunEvent) error {
	data, err := json.Marshal(ev)
	if err != nil {
		return err
	}

	for _, stream := range []string{streamPrefix + ev.RunID, feedStream} {
		_, err = eb.rdb.XAdd(ctx, &redis.XAddArgs{
			Stream: stream,
			Values: map[string]interface{}{
				"data": string(data),
			},
		}).Result()
		if err != nil {
			return fmt.Errorf("publish to %s: %w", stream, err)
		}
	}

	eb.logger.Debug("published run event",
		zap.String("run", ev.RunID),
		zap.String("type", string(ev.Type)))
	return nil
}

// History returns every event recorded for a run, oldest first.
func (eb *EventBus) History(ctx context.Context, runID string) ([]*RunEvent, error) {
	msgs, err := eb.rdb.XRange(ctx, streamPrefix+runID, "-", "+").Result()
	if err != nil {
		return nil, fmt.Errorf("read %s: %w", streamPrefix+runID, err)
	}
	out := make([]*RunEvent, 0, len(msgs))
	for _, msg := range msgs {
		if ev, ok := decodeEvent(msg); ok {
			out = append(out, ev)
		}
	}
	return out, nil
}

// Subscribe listens for new events on the shared feed. Cancel the context
// to stop. Failed reads are retried with exponential backoff.
func (eb *EventBus) Subscribe(ctx context.Context) <-chan *RunEvent {
	ch := make(chan *RunEvent, 16)

	go func() {
		defer close(ch)
		lastID := "$"
		wait := eb.backoff

		for {
			select {
			case <-ctx.Done():
				return
			default:
			}

			results, err := eb.rdb.XRead(ctx, &redis.XReadArgs{
				Streams: []string{feedStream, lastID},
				Count:   10,
				Block:   time.Second * 2,
			}).Result()

			if err != nil {
				if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
					return
				}
				if errors.Is(err, redis.Nil) {
					continue
				}
				eb.logger.Warn("read run feed", zap.Error(err), zap.Duration("retry_in", wait))
				select {
				case <-ctx.Done():
					return
				case <-time.After(wait):
				}
				wait = min(2*wait, maxReadBackoff)
				continue
			}
			wait = eb.backoff

			for _, r := range results {
				for _, msg := range r.Messages {
					lastID = msg.ID
					if ev, ok := decodeEvent(msg); ok {
						select {
						case ch <- ev:
						case <-ctx.Done():
							return
						}
					}
				}
			}
		}
	}()

	return ch
}

func decodeEvent(msg redis.XMessage) (*RunEvent, bool) {
	data, ok := msg.Values["data"].(string)
	if !ok {
		return nil, false
	}
	var ev RunEvent
	if json.Unmarshal([]byte(data), &ev) != nil {
		return nil, false
	}
	return &ev, true
}

// Close shuts down the Redis connection.
func (eb *EventBus) Close() error {
	return eb.rdb.Close()
}
