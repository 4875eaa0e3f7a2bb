package store

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/nidhogg/agora/internal/platform"
)

func nullable(s string) *string {
	if s == "" {
		return nil
	}
	return &s
}

// MessageCreated implements platform.Observer. Replayed messages that are
// mirrored twice keep their first row.
func (s *Store) MessageCreated(ctx context.Context, m platform.Message) error {
	_, err := s.db.Exec(ctx, `
		INSERT INTO messages (run_id, id, type, author_id, quote_id, text, sim_time)
		VALUES ($1, $2, $3, $4, $5, $6, $7)
		ON CONFLICT (run_id, id) DO NOTHING`,
		s.runID, m.ID, m.Type, m.AuthorID, nullable(m.QuoteID), m.Text, m.Timestamp,
	)
	if err != nil {
		return fmt.Errorf("insert message %s: %w", m.ID, err)
	}
	return nil
}

// ActLogged implements platform.Observer.
func (s *Store) ActLogged(ctx context.Context, e platform.LogEntry) error {
	payload, err := json.Marshal(e.Act)
	if err != nil {
		return fmt.Errorf("marshal act: %w", err)
	}
	_, err = s.db.Exec(ctx, `
		INSERT INTO acts (run_id, user_id, message_id, kind, act, sim_time)
		VALUES ($1, $2, $3, $4, $5, $6)`,
		s.runID, e.UserID, nullable(e.MessageID), string(e.Act.Kind), payload, e.Timestamp,
	)
	if err != nil {
		return fmt.Errorf("insert act: %w", err)
	}
	return nil
}

// CheckpointSaved implements platform.Observer.
func (s *Store) CheckpointSaved(ctx context.Context, now time.Time, path string) error {
	_, err := s.db.Exec(ctx, `
		INSERT INTO checkpoints (run_id, sim_time, path)
		VALUES ($1, $2, $3)
		ON CONFLICT (run_id, sim_time) DO UPDATE SET path = EXCLUDED.path`,
		s.runID, now, path,
	)
	if err != nil {
		return fmt.Errorf("insert checkpoint: %w", err)
	}
	return nil
}
