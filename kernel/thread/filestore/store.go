// Package filestore persists the thread collection as one JSON document on
// local disk.
package filestore

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/OnslaughtSnail/glimpse/kernel/thread"
)

// Store reads and writes the whole snapshot collection atomically. Writes
// go through a temp file and rename so a crash never leaves a torn file.
type Store struct {
	path string
	mu   sync.Mutex
}

func New(path string) (*Store, error) {
	if strings.TrimSpace(path) == "" {
		return nil, fmt.Errorf("filestore: path is required")
	}
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return nil, fmt.Errorf("filestore: create dir: %w", err)
	}
	return &Store{path: path}, nil
}

func (s *Store) Load(ctx context.Context) ([]*thread.Snapshot, error) {
	_ = ctx
	s.mu.Lock()
	defer s.mu.Unlock()
	raw, err := os.ReadFile(s.path)
	if errors.Is(err, os.ErrNotExist) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	var rows []*rawSnapshot
	if err := json.Unmarshal(raw, &rows); err != nil {
		return nil, fmt.Errorf("filestore: decode threads: %w", err)
	}
	out := make([]*thread.Snapshot, 0, len(rows))
	for _, row := range rows {
		if row == nil || strings.TrimSpace(row.ID) == "" {
			continue
		}
		out = append(out, row.snapshot())
	}
	return out, nil
}

func (s *Store) Save(ctx context.Context, snapshots []*thread.Snapshot) error {
	_ = ctx
	sorted := append([]*thread.Snapshot(nil), snapshots...)
	sort.Slice(sorted, func(i, j int) bool {
		if sorted[i].UpdatedAt.Equal(sorted[j].UpdatedAt) {
			return sorted[i].ID < sorted[j].ID
		}
		return sorted[i].UpdatedAt.After(sorted[j].UpdatedAt)
	})
	raw, err := json.MarshalIndent(sorted, "", "  ")
	if err != nil {
		return err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	tmp := s.path + ".tmp"
	if err := os.WriteFile(tmp, raw, 0o644); err != nil {
		return err
	}
	return os.Rename(tmp, s.path)
}

// rawSnapshot tolerates messages with unknown roles in persisted data;
// they are dropped on load rather than defaulted.
type rawSnapshot struct {
	ID                string       `json:"id"`
	Title             string       `json:"title"`
	UpdatedAt         time.Time    `json:"updated_at"`
	ContinuationToken string       `json:"continuation_token,omitempty"`
	Messages          []rawMessage `json:"messages"`
}

type rawMessage struct {
	Role      string    `json:"role"`
	Text      string    `json:"text"`
	CreatedAt time.Time `json:"created_at"`
}

func (r *rawSnapshot) snapshot() *thread.Snapshot {
	out := &thread.Snapshot{
		ID:                r.ID,
		Title:             r.Title,
		UpdatedAt:         r.UpdatedAt,
		ContinuationToken: r.ContinuationToken,
	}
	for _, m := range r.Messages {
		role, err := thread.ParseRole(m.Role)
		if err != nil {
			continue
		}
		out.Messages = append(out.Messages, thread.Message{
			Role:      role,
			Text:      m.Text,
			CreatedAt: m.CreatedAt,
		})
	}
	return out
}
