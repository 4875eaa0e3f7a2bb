// Package memory is the per-agent observation store: summarized records
// retrieved by a blend of recency, relevance and importance, plus a daily
// reflection step and a SQLite archive for checkpoints.
package memory

import "time"

// Record is one stored observation.
type Record struct {
	ID             string
	Text           string
	CreatedAt      time.Time
	LastAccessedAt time.Time
	Importance     float64
	Embedding      []float32
}

// Snapshot locates a module's archived records and carries its retrieval
// parameters. It is the form embedded in environment checkpoints.
type Snapshot struct {
	Path      string  `json:"path"`
	Index     string  `json:"index"`
	DecayRate float64 `json:"decay_rate"`
	K         int     `json:"k"`
}
