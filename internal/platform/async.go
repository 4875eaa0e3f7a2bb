package platform

import (
	"context"
	"sync"
	"sync/atomic"
	"time"

	"go.uber.org/zap"
)

const (
	defaultAsyncQueue   = 4096
	defaultAsyncTimeout = 10 * time.Second
)

type asyncEvent struct {
	ctx  context.Context
	kind string
	call func(ctx context.Context) error
}

// AsyncObserver delivers events to a wrapped observer on its own goroutine,
// in arrival order and under a per-call timeout. Callers never wait on the
// sink. When the queue is full the event is dropped and counted.
type AsyncObserver struct {
	name    string
	next    Observer
	timeout time.Duration
	queue   chan asyncEvent
	done    chan struct{}

	mu      sync.RWMutex // guards closed against sends on a closed queue
	closed  bool
	dropped atomic.Int64

	logger *zap.Logger
}

// NewAsyncObserver starts delivery to next. queueSize and timeout fall back
// to 4096 events and 10s when not positive.
func NewAsyncObserver(name string, next Observer, queueSize int, timeout time.Duration, logger *zap.Logger) *AsyncObserver {
	if queueSize <= 0 {
		queueSize = defaultAsyncQueue
	}
	if timeout <= 0 {
		timeout = defaultAsyncTimeout
	}
	a := &AsyncObserver{
		name:    name,
		next:    next,
		timeout: timeout,
		queue:   make(chan asyncEvent, queueSize),
		done:    make(chan struct{}),
		logger:  logger,
	}
	go a.run()
	return a
}

func (a *AsyncObserver) run() {
	defer close(a.done)
	for ev := range a.queue {
		ctx, cancel := context.WithTimeout(ev.ctx, a.timeout)
		if err := ev.call(ctx); err != nil {
			a.logger.Warn("sink write failed",
				zap.String("sink", a.name),
				zap.String("event", ev.kind),
				zap.Error(err))
		}
		cancel()
	}
}

func (a *AsyncObserver) enqueue(ctx context.Context, kind string, call func(context.Context) error) error {
	a.mu.RLock()
	defer a.mu.RUnlock()
	if a.closed {
		return nil
	}
	select {
	case a.queue <- asyncEvent{ctx: context.WithoutCancel(ctx), kind: kind, call: call}:
	default:
		a.dropped.Add(1)
		a.logger.Warn("sink queue full, dropping event", zap.String("sink", a.name), zap.String("event", kind))
	}
	return nil
}

func (a *AsyncObserver) MessageCreated(ctx context.Context, m Message) error {
	return a.enqueue(ctx, "message", func(ctx context.Context) error { return a.next.MessageCreated(ctx, m) })
}

func (a *AsyncObserver) ActLogged(ctx context.Context, e LogEntry) error {
	return a.enqueue(ctx, "act", func(ctx context.Context) error { return a.next.ActLogged(ctx, e) })
}

func (a *AsyncObserver) CheckpointSaved(ctx context.Context, now time.Time, path string) error {
	return a.enqueue(ctx, "checkpoint", func(ctx context.Context) error { return a.next.CheckpointSaved(ctx, now, path) })
}

// Name returns the sink name used in log lines.
func (a *AsyncObserver) Name() string { return a.name }

// Dropped reports how many events were discarded on a full queue.
func (a *AsyncObserver) Dropped() int { return int(a.dropped.Load()) }

// Close stops accepting events and waits until the queued ones are
// delivered. The wrapped observer is left open.
func (a *AsyncObserver) Close() {
	a.mu.Lock()
	if !a.closed {
		a.closed = true
		close(a.queue)
	}
	a.mu.Unlock()
	<-a.done
}
