package platform

import (
	"context"
	"time"

	"go.uber.org/zap"
)

// Observer receives platform events as they happen. Sinks such as the event
// stream, the run store and the interaction graph implement it.
type Observer interface {
	MessageCreated(ctx context.Context, m Message) error
	ActLogged(ctx context.Context, e LogEntry) error
	CheckpointSaved(ctx context.Context, now time.Time, path string) error
}

// NopObserver ignores every event.
type NopObserver struct{}

func (NopObserver) MessageCreated(context.Context, Message) error             { return nil }
func (NopObserver) ActLogged(context.Context, LogEntry) error                 { return nil }
func (NopObserver) CheckpointSaved(context.Context, time.Time, string) error { return nil }

// Observers fans events out to several observers. A failing observer is
// logged and skipped; Observers itself never returns an error.
type Observers struct {
	list   []Observer
	logger *zap.Logger
}

// NewObservers combines obs.
func NewObservers(logger *zap.Logger, obs ...Observer) *Observers {
	return &Observers{list: obs, logger: logger}
}

// Add appends an observer. It must not be called while a step runs.
func (o *Observers) Add(obs Observer) { o.list = append(o.list, obs) }

// Len returns the number of observers.
func (o *Observers) Len() int { return len(o.list) }

func (o *Observers) MessageCreated(ctx context.Context, m Message) error {
	for _, obs := range o.list {
		if err := obs.MessageCreated(ctx, m); err != nil {
			o.logger.Warn("observer message failed", zap.String("message", m.ID), zap.Error(err))
		}
	}
	return nil
}

func (o *Observers) ActLogged(ctx context.Context, e LogEntry) error {
	for _, obs := range o.list {
		if err := obs.ActLogged(ctx, e); err != nil {
			o.logger.Warn("observer act failed", zap.String("user", e.UserID), zap.Error(err))
		}
	}
	return nil
}

func (o *Observers) CheckpointSaved(ctx context.Context, now time.Time, path string) error {
	for _, obs := range o.list {
		if err := obs.CheckpointSaved(ctx, now, path); err != nil {
			o.logger.Warn("observer checkpoint failed", zap.String("path", path), zap.Error(err))
		}
	}
	return nil
}
