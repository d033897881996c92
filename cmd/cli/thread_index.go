package main

import (
	"context"
	"database/sql"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"time"

	_ "modernc.org/sqlite"
)

const (
	threadIndexDriver = "sqlite"
	threadIndexDSNOpt = "?_pragma=busy_timeout(3000)&_pragma=journal_mode(WAL)"
)

// threadIndex is a local sqlite index over threads for fast title and
// last-message search. It is a convenience view; the registry file stays
// the source of truth.
type threadIndex struct {
	db *sql.DB
	mu sync.Mutex
}

type threadIndexRecord struct {
	ThreadID        string
	Title           string
	UpdatedAt       time.Time
	LastUserMessage string
}

func newThreadIndex(path string) (*threadIndex, error) {
	if strings.TrimSpace(path) == "" {
		return nil, fmt.Errorf("thread index: path is required")
	}
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return nil, fmt.Errorf("thread index: create dir: %w", err)
	}
	db, err := sql.Open(threadIndexDriver, path+threadIndexDSNOpt)
	if err != nil {
		return nil, fmt.Errorf("thread index: open db: %w", err)
	}
	idx := &threadIndex{db: db}
	if err := idx.migrate(context.Background()); err != nil {
		_ = db.Close()
		return nil, err
	}
	return idx, nil
}

func (x *threadIndex) Close() error {
	if x == nil || x.db == nil {
		return nil
	}
	return x.db.Close()
}

func (x *threadIndex) migrate(ctx context.Context) error {
	const q = `
CREATE TABLE IF NOT EXISTS thread_index (
	thread_id         TEXT PRIMARY KEY,
	title             TEXT NOT NULL DEFAULT '',
	updated_at        INTEGER NOT NULL DEFAULT 0,
	last_user_message TEXT NOT NULL DEFAULT ''
);
CREATE INDEX IF NOT EXISTS idx_thread_index_updated_at
	ON thread_index (updated_at DESC);`
	if _, err := x.db.ExecContext(ctx, q); err != nil {
		return fmt.Errorf("thread index: migrate: %w", err)
	}
	return nil
}

// Touch upserts one thread's row after an exchange.
func (x *threadIndex) Touch(threadID, title, lastUserMessage string, at time.Time) error {
	if x == nil || x.db == nil {
		return nil
	}
	if strings.TrimSpace(threadID) == "" {
		return fmt.Errorf("thread index: thread_id is required")
	}
	if at.IsZero() {
		at = time.Now()
	}
	x.mu.Lock()
	defer x.mu.Unlock()
	const q = `
INSERT INTO thread_index (thread_id, title, updated_at, last_user_message)
VALUES (?, ?, ?, ?)
ON CONFLICT(thread_id) DO UPDATE SET
	title = excluded.title,
	updated_at = excluded.updated_at,
	last_user_message = CASE
		WHEN excluded.last_user_message <> '' THEN excluded.last_user_message
		ELSE thread_index.last_user_message
	END`
	_, err := x.db.ExecContext(context.Background(), q,
		threadID, title, at.UnixMilli(), strings.TrimSpace(lastUserMessage))
	return err
}

// Forget drops rows whose thread ids are no longer present.
func (x *threadIndex) Forget(keep map[string]struct{}) error {
	if x == nil || x.db == nil {
		return nil
	}
	x.mu.Lock()
	defer x.mu.Unlock()
	rows, err := x.db.QueryContext(context.Background(), `SELECT thread_id FROM thread_index`)
	if err != nil {
		return err
	}
	stale := []string{}
	for rows.Next() {
		var id string
		if err := rows.Scan(&id); err != nil {
			rows.Close()
			return err
		}
		if _, ok := keep[id]; !ok {
			stale = append(stale, id)
		}
	}
	if err := rows.Close(); err != nil {
		return err
	}
	for _, id := range stale {
		if _, err := x.db.ExecContext(context.Background(), `DELETE FROM thread_index WHERE thread_id = ?`, id); err != nil {
			return err
		}
	}
	return nil
}

// Search returns threads whose title or last user message contains term,
// newest first.
func (x *threadIndex) Search(term string, limit int) ([]threadIndexRecord, error) {
	if x == nil || x.db == nil {
		return nil, nil
	}
	if limit <= 0 {
		limit = 20
	}
	pattern := "%" + strings.TrimSpace(term) + "%"
	x.mu.Lock()
	defer x.mu.Unlock()
	const q = `
SELECT thread_id, title, updated_at, last_user_message
FROM thread_index
WHERE title LIKE ? OR last_user_message LIKE ?
ORDER BY updated_at DESC
LIMIT ?`
	rows, err := x.db.QueryContext(context.Background(), q, pattern, pattern, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	out := []threadIndexRecord{}
	for rows.Next() {
		var rec threadIndexRecord
		var ts int64
		if err := rows.Scan(&rec.ThreadID, &rec.Title, &ts, &rec.LastUserMessage); err != nil {
			return nil, err
		}
		rec.UpdatedAt = time.UnixMilli(ts)
		out = append(out, rec)
	}
	return out, rows.Err()
}
