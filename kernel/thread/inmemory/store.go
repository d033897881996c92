// Package inmemory provides a volatile thread store for tests and
// ephemeral runs.
package inmemory

import (
	"context"
	"sync"

	"github.com/OnslaughtSnail/glimpse/kernel/thread"
)

// Store keeps the snapshot collection in memory and counts saves, which
// debounce tests rely on.
type Store struct {
	mu        sync.Mutex
	snapshots []*thread.Snapshot
	saves     int
}

func New() *Store {
	return &Store{}
}

func (s *Store) Load(ctx context.Context) ([]*thread.Snapshot, error) {
	_ = ctx
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]*thread.Snapshot, 0, len(s.snapshots))
	for _, snap := range s.snapshots {
		out = append(out, snap.Clone())
	}
	return out, nil
}

func (s *Store) Save(ctx context.Context, snapshots []*thread.Snapshot) error {
	_ = ctx
	s.mu.Lock()
	defer s.mu.Unlock()
	s.snapshots = s.snapshots[:0]
	for _, snap := range snapshots {
		s.snapshots = append(s.snapshots, snap.Clone())
	}
	s.saves++
	return nil
}

// Saves reports how many Save calls have happened.
func (s *Store) Saves() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.saves
}

// Seed replaces the stored collection without counting a save.
func (s *Store) Seed(snapshots []*thread.Snapshot) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.snapshots = s.snapshots[:0]
	for _, snap := range snapshots {
		s.snapshots = append(s.snapshots, snap.Clone())
	}
}
