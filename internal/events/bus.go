// Package events mirrors platform activity onto a Redis stream so other
// processes can follow a running simulation.
package events

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"

	"github.com/nidhogg/agora/internal/platform"
	"github.com/nidhogg/agora/internal/timeutil"
)

// Event kinds.
const (
	KindMessage    = "message"
	KindAct        = "act"
	KindCheckpoint = "checkpoint"
)

// Event is one stream entry.
type Event struct {
	StreamID  string          `json:"-"`
	Kind      string          `json:"kind"`
	UserID    string          `json:"user_id,omitempty"`
	MessageID string          `json:"message_id,omitempty"`
	SimTime   string          `json:"sim_time"`
	Payload   json.RawMessage `json:"payload,omitempty"`
}

// Bus publishes events with XADD and reads them back with XREAD.
type Bus struct {
	rdb    *redis.Client
	stream string
	maxLen int64
	logger *zap.Logger
}

// New connects to redisURL.
func New(redisURL, stream string, logger *zap.Logger) (*Bus, error) {
	opts, err := redis.ParseURL(redisURL)
	if err != nil {
		return nil, fmt.Errorf("parse redis url: %w", err)
	}
	rdb := redis.NewClient(opts)
	if err := rdb.Ping(context.Background()).Err(); err != nil {
		rdb.Close()
		return nil, fmt.Errorf("redis ping: %w", err)
	}
	return NewWithClient(rdb, stream, logger), nil
}

// NewWithClient wraps an existing client.
func NewWithClient(rdb *redis.Client, stream string, logger *zap.Logger) *Bus {
	return &Bus{rdb: rdb, stream: stream, maxLen: 100000, logger: logger}
}

// Stream returns the stream key.
func (b *Bus) Stream() string { return b.stream }

// Publish appends ev to the stream.
func (b *Bus) Publish(ctx context.Context, ev Event) error {
	data, err := json.Marshal(ev)
	if err != nil {
		return fmt.Errorf("encode event: %w", err)
	}
	_, err = b.rdb.XAdd(ctx, &redis.XAddArgs{
		Stream: b.stream,
		MaxLen: b.maxLen,
		Approx: true,
		Values: map[string]any{"data": string(data)},
	}).Result()
	if err != nil {
		return fmt.Errorf("publish to %s: %w", b.stream, err)
	}
	b.logger.Debug("published event", zap.String("kind", ev.Kind), zap.String("user", ev.UserID))
	return nil
}

// MessageCreated implements platform.Observer.
func (b *Bus) MessageCreated(ctx context.Context, m platform.Message) error {
	ev, err := messageEvent(m)
	if err != nil {
		return err
	}
	return b.Publish(ctx, ev)
}

// ActLogged implements platform.Observer.
func (b *Bus) ActLogged(ctx context.Context, e platform.LogEntry) error {
	ev, err := actEvent(e)
	if err != nil {
		return err
	}
	return b.Publish(ctx, ev)
}

// CheckpointSaved implements platform.Observer.
func (b *Bus) CheckpointSaved(ctx context.Context, now time.Time, path string) error {
	return b.Publish(ctx, checkpointEvent(now, path))
}

func messageEvent(m platform.Message) (Event, error) {
	payload, err := json.Marshal(struct {
		Type     string `json:"type"`
		Text     string `json:"text"`
		QuoteID  string `json:"quote_id,omitempty"`
		AuthorID string `json:"author_id"`
	}{m.Type, m.Text, m.QuoteID, m.AuthorID})
	if err != nil {
		return Event{}, fmt.Errorf("encode message event: %w", err)
	}
	return Event{
		Kind:      KindMessage,
		UserID:    m.AuthorID,
		MessageID: m.ID,
		SimTime:   timeutil.Format(m.Timestamp),
		Payload:   payload,
	}, nil
}

func actEvent(e platform.LogEntry) (Event, error) {
	payload, err := json.Marshal(e.Act)
	if err != nil {
		return Event{}, fmt.Errorf("encode act event: %w", err)
	}
	return Event{
		Kind:      KindAct,
		UserID:    e.UserID,
		MessageID: e.MessageID,
		SimTime:   timeutil.Format(e.Timestamp),
		Payload:   payload,
	}, nil
}

func checkpointEvent(now time.Time, path string) Event {
	payload, _ := json.Marshal(map[string]string{"path": path})
	return Event{Kind: KindCheckpoint, SimTime: timeutil.Format(now), Payload: payload}
}

// Subscribe follows the stream from lastID ("$" for new entries only, "0"
// for everything). The channel closes when ctx is done.
func (b *Bus) Subscribe(ctx context.Context, lastID string) <-chan Event {
	ch := make(chan Event, 16)
	if lastID == "" {
		lastID = "$"
	}

	go func() {
		defer close(ch)
		for {
			if ctx.Err() != nil {
				return
			}
			results, err := b.rdb.XRead(ctx, &redis.XReadArgs{
				Streams: []string{b.stream, lastID},
				Count:   50,
				Block:   2 * time.Second,
			}).Result()
			if err != nil {
				if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
					return
				}
				if !errors.Is(err, redis.Nil) {
					b.logger.Debug("xread failed", zap.Error(err))
				}
				continue
			}
			for _, r := range results {
				for _, msg := range r.Messages {
					lastID = msg.ID
					data, ok := msg.Values["data"].(string)
					if !ok {
						continue
					}
					var ev Event
					if json.Unmarshal([]byte(data), &ev) != nil {
						continue
					}
					ev.StreamID = msg.ID
					select {
					case ch <- ev:
					case <-ctx.Done():
						return
					}
				}
			}
		}
	}()
	return ch
}

// Close shuts down the Redis connection.
func (b *Bus) Close() error {
	return b.rdb.Close()
}
