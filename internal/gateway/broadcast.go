package gateway

import (
	"context"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/nidhogg/agora/internal/platform"
)

const (
	defaultQueueSize = 256
	sendTimeout      = 10 * time.Second
	historyLimit     = 1000 // deliveries kept for History
)

// Record tracks a delivered post.
type Record struct {
	Post    *Post     `json:"post"`
	SentAt  time.Time `json:"sent_at"`
	Targets []string  `json:"targets"`
}

// Broadcaster fans created messages out to every connected mirror. It is a
// platform.Observer; delivery happens on its own goroutine so a slow chat
// API never holds up a simulation step.
type Broadcaster struct {
	mirrors []Mirror
	since   time.Time
	queue   chan *Post
	done    chan struct{}

	mu      sync.Mutex
	history []Record
	dropped int

	logger *zap.Logger
}

// NewBroadcaster creates a broadcaster. Messages with a simulated timestamp
// before since are not mirrored, which keeps replayed history out of the
// channels.
func NewBroadcaster(since time.Time, logger *zap.Logger) *Broadcaster {
	return &Broadcaster{
		since:  since,
		queue:  make(chan *Post, defaultQueueSize),
		done:   make(chan struct{}),
		logger: logger,
	}
}

// Register connects m and adds it to the fan-out. A mirror that fails to
// connect is reported and left out.
func (b *Broadcaster) Register(ctx context.Context, m Mirror) error {
	if err := m.Connect(ctx); err != nil {
		b.logger.Warn("mirror connect failed", zap.String("platform", m.Platform()), zap.Error(err))
		return err
	}
	b.mirrors = append(b.mirrors, m)
	b.logger.Info("registered mirror", zap.String("platform", m.Platform()))
	return nil
}

// Len reports the number of registered mirrors.
func (b *Broadcaster) Len() int { return len(b.mirrors) }

// Start runs delivery until the queue is closed by Close.
func (b *Broadcaster) Start(ctx context.Context) {
	go func() {
		defer close(b.done)
		for p := range b.queue {
			b.deliver(ctx, p)
		}
	}()
}

func (b *Broadcaster) deliver(ctx context.Context, p *Post) {
	targets := make([]string, 0, len(b.mirrors))
	for _, m := range b.mirrors {
		sctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), sendTimeout)
		err := m.Send(sctx, p)
		cancel()
		if err != nil {
			b.logger.Warn("mirror send failed",
				zap.String("platform", m.Platform()),
				zap.String("message", p.MessageID),
				zap.Error(err))
			continue
		}
		targets = append(targets, m.Platform())
	}
	b.mu.Lock()
	b.history = append(b.history, Record{Post: p, SentAt: time.Now(), Targets: targets})
	if n := len(b.history) - historyLimit; n > 0 {
		b.history = b.history[n:]
	}
	b.mu.Unlock()
}

// MessageCreated implements platform.Observer. The post is queued; when the
// queue is full it is dropped.
func (b *Broadcaster) MessageCreated(_ context.Context, m platform.Message) error {
	if len(b.mirrors) == 0 || m.Timestamp.Before(b.since) {
		return nil
	}
	select {
	case b.queue <- FromMessage(m):
	default:
		b.mu.Lock()
		b.dropped++
		b.mu.Unlock()
		b.logger.Debug("mirror queue full, dropping post", zap.String("message", m.ID))
	}
	return nil
}

// ActLogged implements platform.Observer.
func (b *Broadcaster) ActLogged(context.Context, platform.LogEntry) error { return nil }

// CheckpointSaved implements platform.Observer.
func (b *Broadcaster) CheckpointSaved(context.Context, time.Time, string) error { return nil }

// History returns up to limit of the most recent deliveries.
func (b *Broadcaster) History(limit int) []Record {
	b.mu.Lock()
	defer b.mu.Unlock()
	if limit <= 0 || limit > len(b.history) {
		limit = len(b.history)
	}
	out := make([]Record, limit)
	copy(out, b.history[len(b.history)-limit:])
	return out
}

// Dropped reports how many posts were discarded on a full queue.
func (b *Broadcaster) Dropped() int {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.dropped
}

// Close drains the queue, waits for delivery to finish and closes every
// mirror. Start must have been called.
func (b *Broadcaster) Close() error {
	close(b.queue)
	<-b.done
	for _, m := range b.mirrors {
		if err := m.Close(); err != nil {
			b.logger.Warn("mirror close failed", zap.String("platform", m.Platform()), zap.Error(err))
		}
	}
	return nil
}
