package store

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
)

// ErrRunNotFound is returned when a run id has no row.
var ErrRunNotFound = errors.New("run not found")

// Run status values.
const (
	StatusRunning  = "running"
	StatusFinished = "finished"
	StatusFailed   = "failed"
)

// Run is one invocation of init or simulate.
type Run struct {
	ID         string     `json:"id"`
	Command    string     `json:"command"`
	Mode       string     `json:"mode"`
	Strategy   string     `json:"strategy"`
	SimBegin   time.Time  `json:"sim_begin"`
	SimEnd     time.Time  `json:"sim_end"`
	Status     string     `json:"status"`
	StartedAt  time.Time  `json:"started_at"`
	FinishedAt *time.Time `json:"finished_at,omitempty"`
}

// Checkpoint is a snapshot written during a run.
type Checkpoint struct {
	RunID   string    `json:"run_id"`
	SimTime time.Time `json:"sim_time"`
	Path    string    `json:"path"`
}

// StartRun inserts the row for r under the store's run id.
func (s *Store) StartRun(ctx context.Context, r Run) error {
	_, err := s.db.Exec(ctx, `
		INSERT INTO runs (id, command, mode, strategy, sim_begin, sim_end, status, started_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, now())
		ON CONFLICT (id) DO NOTHING`,
		s.runID, r.Command, r.Mode, r.Strategy, r.SimBegin, r.SimEnd, StatusRunning,
	)
	if err != nil {
		return fmt.Errorf("start run: %w", err)
	}
	return nil
}

// FinishRun records the final status of the run.
func (s *Store) FinishRun(ctx context.Context, status string) error {
	tag, err := s.db.Exec(ctx, `
		UPDATE runs SET status = $2, finished_at = now() WHERE id = $1`,
		s.runID, status,
	)
	if err != nil {
		return fmt.Errorf("finish run: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return ErrRunNotFound
	}
	return nil
}

// Run fetches a run by id.
func (s *Store) Run(ctx context.Context, id string) (Run, error) {
	var r Run
	err := s.db.QueryRow(ctx, `
		SELECT id, command, mode, strategy, sim_begin, sim_end, status, started_at, finished_at
		FROM runs WHERE id = $1`, id,
	).Scan(&r.ID, &r.Command, &r.Mode, &r.Strategy, &r.SimBegin, &r.SimEnd, &r.Status, &r.StartedAt, &r.FinishedAt)
	if errors.Is(err, pgx.ErrNoRows) {
		return Run{}, ErrRunNotFound
	}
	if err != nil {
		return Run{}, fmt.Errorf("get run: %w", err)
	}
	return r, nil
}

// Runs lists the most recent runs first.
func (s *Store) Runs(ctx context.Context, limit int) ([]Run, error) {
	if limit <= 0 {
		limit = 20
	}
	rows, err := s.db.Query(ctx, `
		SELECT id, command, mode, strategy, sim_begin, sim_end, status, started_at, finished_at
		FROM runs ORDER BY started_at DESC LIMIT $1`, limit)
	if err != nil {
		return nil, fmt.Errorf("list runs: %w", err)
	}
	defer rows.Close()

	var runs []Run
	for rows.Next() {
		var r Run
		if err := rows.Scan(&r.ID, &r.Command, &r.Mode, &r.Strategy, &r.SimBegin, &r.SimEnd, &r.Status, &r.StartedAt, &r.FinishedAt); err != nil {
			return nil, fmt.Errorf("scan run: %w", err)
		}
		runs = append(runs, r)
	}
	return runs, rows.Err()
}

// Checkpoints lists the checkpoints of a run in simulated-time order.
func (s *Store) Checkpoints(ctx context.Context, runID string) ([]Checkpoint, error) {
	rows, err := s.db.Query(ctx, `
		SELECT run_id, sim_time, path FROM checkpoints
		WHERE run_id = $1 ORDER BY sim_time`, runID)
	if err != nil {
		return nil, fmt.Errorf("list checkpoints: %w", err)
	}
	defer rows.Close()

	var out []Checkpoint
	for rows.Next() {
		var c Checkpoint
		if err := rows.Scan(&c.RunID, &c.SimTime, &c.Path); err != nil {
			return nil, fmt.Errorf("scan checkpoint: %w", err)
		}
		out = append(out, c)
	}
	return out, rows.Err()
}

// ActCounts tallies the logged acts of a run by kind.
func (s *Store) ActCounts(ctx context.Context, runID string) (map[string]int64, error) {
	rows, err := s.db.Query(ctx, `
		SELECT kind, count(*) FROM acts WHERE run_id = $1 GROUP BY kind`, runID)
	if err != nil {
		return nil, fmt.Errorf("count acts: %w", err)
	}
	defer rows.Close()

	counts := make(map[string]int64)
	for rows.Next() {
		var kind string
		var n int64
		if err := rows.Scan(&kind, &n); err != nil {
			return nil, fmt.Errorf("scan act count: %w", err)
		}
		counts[kind] = n
	}
	return counts, rows.Err()
}
