package memory

import (
	"context"
	"database/sql"
	"encoding/binary"
	"fmt"
	"math"
	"os"
	"path/filepath"
	"time"

	_ "modernc.org/sqlite"
)

// ArchiveFile is the database file name inside a checkpoint directory.
const ArchiveFile = "memory.db"

// Archive persists memory records of many agents in one SQLite file,
// keyed by agent index. Timestamps are stored as Unix microseconds.
type Archive struct {
	db  *sql.DB
	dir string
}

// OpenArchive opens or creates dir/memory.db.
func OpenArchive(dir string) (*Archive, error) {
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, fmt.Errorf("create archive dir: %w", err)
	}
	db, err := sql.Open("sqlite", filepath.Join(dir, ArchiveFile)+"?_pragma=journal_mode(wal)&_pragma=busy_timeout(5000)")
	if err != nil {
		return nil, fmt.Errorf("open archive: %w", err)
	}
	db.SetMaxOpenConns(1)

	a := &Archive{db: db, dir: dir}
	if err := a.migrate(); err != nil {
		db.Close()
		return nil, fmt.Errorf("migrate archive: %w", err)
	}
	return a, nil
}

func (a *Archive) migrate() error {
	_, err := a.db.Exec(`
	CREATE TABLE IF NOT EXISTS memory_records (
		id               TEXT PRIMARY KEY,
		idx              TEXT NOT NULL,
		seq              INTEGER NOT NULL,
		text             TEXT NOT NULL,
		created_at       INTEGER NOT NULL,
		last_accessed_at INTEGER NOT NULL,
		importance       REAL NOT NULL DEFAULT 0,
		embedding        BLOB
	);
	CREATE INDEX IF NOT EXISTS idx_memory_records_idx ON memory_records(idx, seq);
	`)
	return err
}

// Dir is the directory holding the database.
func (a *Archive) Dir() string { return a.dir }

// Close closes the database.
func (a *Archive) Close() error { return a.db.Close() }

// Save replaces the records stored under index.
func (a *Archive) Save(ctx context.Context, index string, recs []Record) error {
	tx, err := a.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin: %w", err)
	}
	defer tx.Rollback()

	if _, err := tx.ExecContext(ctx, `DELETE FROM memory_records WHERE idx = ?`, index); err != nil {
		return fmt.Errorf("clear records: %w", err)
	}
	stmt, err := tx.PrepareContext(ctx, `INSERT INTO memory_records
		(id, idx, seq, text, created_at, last_accessed_at, importance, embedding)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?)`)
	if err != nil {
		return fmt.Errorf("prepare insert: %w", err)
	}
	defer stmt.Close()

	for i, r := range recs {
		if _, err := stmt.ExecContext(ctx, r.ID, index, i, r.Text,
			r.CreatedAt.UnixMicro(), r.LastAccessedAt.UnixMicro(), r.Importance,
			encodeVector(r.Embedding)); err != nil {
			return fmt.Errorf("insert record %s: %w", r.ID, err)
		}
	}
	return tx.Commit()
}

// Load returns the records stored under index in insertion order.
func (a *Archive) Load(ctx context.Context, index string) ([]Record, error) {
	rows, err := a.db.QueryContext(ctx, `SELECT id, text, created_at, last_accessed_at, importance, embedding
		FROM memory_records WHERE idx = ? ORDER BY seq`, index)
	if err != nil {
		return nil, fmt.Errorf("query records: %w", err)
	}
	defer rows.Close()

	var recs []Record
	for rows.Next() {
		var (
			r                Record
			created, touched int64
			blob             []byte
		)
		if err := rows.Scan(&r.ID, &r.Text, &created, &touched, &r.Importance, &blob); err != nil {
			return nil, fmt.Errorf("scan record: %w", err)
		}
		r.CreatedAt = time.UnixMicro(created).UTC()
		r.LastAccessedAt = time.UnixMicro(touched).UTC()
		r.Embedding = decodeVector(blob)
		recs = append(recs, r)
	}
	return recs, rows.Err()
}

func encodeVector(v []float32) []byte {
	buf := make([]byte, 4*len(v))
	for i, x := range v {
		binary.LittleEndian.PutUint32(buf[4*i:], math.Float32bits(x))
	}
	return buf
}

func decodeVector(b []byte) []float32 {
	v := make([]float32, len(b)/4)
	for i := range v {
		v[i] = math.Float32frombits(binary.LittleEndian.Uint32(b[4*i:]))
	}
	return v
}
