// Package sqlite implements ports.CheckpointStore on an embedded SQLite database.
package sqlite

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/aretw0/marionette/pkg/domain"
	_ "modernc.org/sqlite"
)

const schema = `
CREATE TABLE IF NOT EXISTS checkpoints (
	id         TEXT PRIMARY KEY,
	label      TEXT NOT NULL DEFAULT '',
	created_at INTEGER NOT NULL,
	url        TEXT NOT NULL DEFAULT '',
	body       TEXT NOT NULL
);
CREATE INDEX IF NOT EXISTS idx_checkpoints_created ON checkpoints(created_at);
`

// Store keeps checkpoints as JSON rows. Label, URL and creation time are
// duplicated into columns for listing.
type Store struct {
	db   *sql.DB
	path string
}

// Open creates or opens the database at path. ":memory:" is accepted.
func Open(path string) (*Store, error) {
	dsn := path
	if path != ":memory:" {
		if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
			return nil, fmt.Errorf("failed to create directory: %w", err)
		}
		dsn = "file:" + path + "?_pragma=journal_mode(WAL)&_pragma=busy_timeout(5000)"
	}
	db, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}
	// A single connection keeps ":memory:" databases alive and serialises writers.
	db.SetMaxOpenConns(1)

	if _, err := db.Exec(schema); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to initialize schema: %w", err)
	}
	return &Store{db: db, path: path}, nil
}

// Close closes the database.
func (s *Store) Close() error { return s.db.Close() }

// Path returns the database path.
func (s *Store) Path() string { return s.path }

// Save upserts the checkpoint.
func (s *Store) Save(ctx context.Context, cp *domain.Checkpoint) error {
	body, err := json.Marshal(cp)
	if err != nil {
		return fmt.Errorf("failed to marshal checkpoint: %w", err)
	}
	_, err = s.db.ExecContext(ctx, `
		INSERT INTO checkpoints (id, label, created_at, url, body) VALUES (?, ?, ?, ?, ?)
		ON CONFLICT(id) DO UPDATE SET label = excluded.label, created_at = excluded.created_at,
			url = excluded.url, body = excluded.body`,
		cp.ID, cp.Label, cp.CreatedAt.UnixMilli(), cp.URL, string(body))
	if err != nil {
		return fmt.Errorf("failed to save checkpoint: %w", err)
	}
	return nil
}

// Load reads a checkpoint.
func (s *Store) Load(ctx context.Context, id string) (*domain.Checkpoint, error) {
	var body string
	err := s.db.QueryRowContext(ctx, `SELECT body FROM checkpoints WHERE id = ?`, id).Scan(&body)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, domain.ErrCheckpointNotFound
		}
		return nil, fmt.Errorf("failed to load checkpoint: %w", err)
	}
	var cp domain.Checkpoint
	if err := json.Unmarshal([]byte(body), &cp); err != nil {
		return nil, fmt.Errorf("failed to unmarshal checkpoint: %w", err)
	}
	return &cp, nil
}

// Delete removes a checkpoint.
func (s *Store) Delete(ctx context.Context, id string) error {
	if _, err := s.db.ExecContext(ctx, `DELETE FROM checkpoints WHERE id = ?`, id); err != nil {
		return fmt.Errorf("failed to delete checkpoint: %w", err)
	}
	return nil
}

// List returns ids ordered by creation time.
func (s *Store) List(ctx context.Context) ([]string, error) {
	rows, err := s.db.QueryContext(ctx, `SELECT id FROM checkpoints ORDER BY created_at, id`)
	if err != nil {
		return nil, fmt.Errorf("failed to list checkpoints: %w", err)
	}
	defer rows.Close()

	ids := []string{}
	for rows.Next() {
		var id string
		if err := rows.Scan(&id); err != nil {
			return nil, err
		}
		ids = append(ids, id)
	}
	return ids, rows.Err()
}

// Summary is a listing row.
type Summary struct {
	ID        string
	Label     string
	URL       string
	CreatedAt time.Time
}

// Summaries lists checkpoints without decoding their bodies, newest first.
func (s *Store) Summaries(ctx context.Context, limit int) ([]Summary, error) {
	if limit <= 0 {
		limit = -1
	}
	rows, err := s.db.QueryContext(ctx,
		`SELECT id, label, url, created_at FROM checkpoints ORDER BY created_at DESC, id LIMIT ?`, limit)
	if err != nil {
		return nil, fmt.Errorf("failed to list checkpoints: %w", err)
	}
	defer rows.Close()

	var out []Summary
	for rows.Next() {
		var (
			sum Summary
			ms  int64
		)
		if err := rows.Scan(&sum.ID, &sum.Label, &sum.URL, &ms); err != nil {
			return nil, err
		}
		sum.CreatedAt = time.UnixMilli(ms).UTC()
		out = append(out, sum)
	}
	return out, rows.Err()
}
