package thread

import (
	"context"
	"fmt"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
)

const defaultSaveInterval = 200 * time.Millisecond

// Registry is the single authoritative store of conversation snapshots.
// All mutation is serialized behind one mutex; persistence runs on a
// background task that drains a dirty flag on a fixed interval, so bursts
// of mutations coalesce into one write.
type Registry struct {
	store        Store
	saveInterval time.Duration

	mu        sync.Mutex
	snapshots map[string]*Snapshot
	open      map[string]struct{}
	dirty     bool

	done    chan struct{}
	stopped sync.WaitGroup
}

// RegistryOptions configures optional registry behavior.
type RegistryOptions struct {
	// SaveInterval overrides the dirty-flag drain interval.
	SaveInterval time.Duration
}

// NewRegistry loads the persisted collection, migrates placeholder titles,
// and starts the background saver. Callers own the Close lifecycle.
func NewRegistry(ctx context.Context, store Store) (*Registry, error) {
	return NewRegistryWithOptions(ctx, store, RegistryOptions{})
}

func NewRegistryWithOptions(ctx context.Context, store Store, options RegistryOptions) (*Registry, error) {
	if store == nil {
		return nil, fmt.Errorf("thread: store is required")
	}
	interval := options.SaveInterval
	if interval <= 0 {
		interval = defaultSaveInterval
	}
	loaded, err := store.Load(ctx)
	if err != nil {
		return nil, fmt.Errorf("thread: load registry: %w", err)
	}
	r := &Registry{
		store:        store,
		saveInterval: interval,
		snapshots:    make(map[string]*Snapshot, len(loaded)),
		open:         map[string]struct{}{},
		done:         make(chan struct{}),
	}
	for _, snap := range loaded {
		if snap == nil || strings.TrimSpace(snap.ID) == "" {
			continue
		}
		r.snapshots[snap.ID] = snap.Clone()
	}
	if r.migrateTitlesLocked() {
		r.dirty = true
	}
	r.stopped.Add(1)
	go r.saveLoop()
	return r, nil
}

// Close stops the saver and flushes pending changes.
func (r *Registry) Close() error {
	close(r.done)
	r.stopped.Wait()
	return r.flush(context.Background())
}

// Create inserts a fresh snapshot and returns its id. An empty title gets
// the auto placeholder.
func (r *Registry) Create(title, continuationToken string, initial []Message) string {
	r.mu.Lock()
	defer r.mu.Unlock()
	id := uuid.NewString()
	r.insertLocked(id, title, continuationToken, initial)
	return id
}

// AppendOptions carries the optional fields of Append.
type AppendOptions struct {
	ContinuationToken *string
	Title             *string
}

// Append concatenates messages onto an existing snapshot, capping at
// MaxMessages with oldest-first eviction. An unknown id behaves as create
// under that id. Returns the effective id.
func (r *Registry) Append(id string, messages []Message, options AppendOptions) string {
	r.mu.Lock()
	defer r.mu.Unlock()
	snap, ok := r.snapshots[id]
	if !ok {
		if strings.TrimSpace(id) == "" {
			id = uuid.NewString()
		}
		title := ""
		if options.Title != nil {
			title = *options.Title
		}
		token := ""
		if options.ContinuationToken != nil {
			token = *options.ContinuationToken
		}
		r.insertLocked(id, title, token, messages)
		return id
	}
	snap.Messages = capMessages(append(snap.Messages, messages...))
	if options.ContinuationToken != nil {
		snap.ContinuationToken = *options.ContinuationToken
	}
	if options.Title != nil && strings.TrimSpace(*options.Title) != "" {
		snap.Title = *options.Title
	}
	snap.UpdatedAt = time.Now()
	r.dirty = true
	return id
}

// SetContinuationToken records the token for a known snapshot.
func (r *Registry) SetContinuationToken(id, token string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	snap, ok := r.snapshots[id]
	if !ok {
		return
	}
	snap.ContinuationToken = token
	snap.UpdatedAt = time.Now()
	r.dirty = true
}

// AppendToLastAssistant appends delta text in place to the trailing
// assistant message, the streaming target appended by the controller.
func (r *Registry) AppendToLastAssistant(id, delta string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	snap, ok := r.snapshots[id]
	if !ok || len(snap.Messages) == 0 {
		return
	}
	last := &snap.Messages[len(snap.Messages)-1]
	if last.Role != RoleAssistant {
		return
	}
	last.Text += delta
	snap.UpdatedAt = time.Now()
	r.dirty = true
}

// SetLastAssistantText replaces the trailing assistant message text, used
// for error descriptions after a failed send.
func (r *Registry) SetLastAssistantText(id, text string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	snap, ok := r.snapshots[id]
	if !ok || len(snap.Messages) == 0 {
		return
	}
	last := &snap.Messages[len(snap.Messages)-1]
	if last.Role != RoleAssistant {
		return
	}
	last.Text = text
	snap.UpdatedAt = time.Now()
	r.dirty = true
}

// RenameIfAutoTitled derives a title from candidate text, but only when the
// current title still carries the generic placeholder.
func (r *Registry) RenameIfAutoTitled(id, candidate string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	snap, ok := r.snapshots[id]
	if !ok || !IsAutoTitle(snap.Title) {
		return
	}
	title := DeriveTitle(candidate)
	if title == snap.Title {
		return
	}
	snap.Title = title
	snap.UpdatedAt = time.Now()
	r.dirty = true
}

// ClearHistory deletes every snapshot not currently open.
func (r *Registry) ClearHistory() {
	r.mu.Lock()
	defer r.mu.Unlock()
	for id := range r.snapshots {
		if _, isOpen := r.open[id]; isOpen {
			continue
		}
		delete(r.snapshots, id)
		r.dirty = true
	}
}

// Get returns a copy of one snapshot.
func (r *Registry) Get(id string) (*Snapshot, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	snap, ok := r.snapshots[id]
	if !ok {
		return nil, false
	}
	return snap.Clone(), true
}

// List returns entries sorted by recency, newest first.
func (r *Registry) List() []Entry {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make([]Entry, 0, len(r.snapshots))
	for id, snap := range r.snapshots {
		_, isOpen := r.open[id]
		out = append(out, Entry{
			ID:        snap.ID,
			Title:     snap.Title,
			UpdatedAt: snap.UpdatedAt,
			Open:      isOpen,
		})
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].UpdatedAt.Equal(out[j].UpdatedAt) {
			return out[i].ID < out[j].ID
		}
		return out[i].UpdatedAt.After(out[j].UpdatedAt)
	})
	return out
}

// Bind marks a snapshot open: a live controller is attached, exempting it
// from capacity eviction and history clearing.
func (r *Registry) Bind(id string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if strings.TrimSpace(id) == "" {
		return
	}
	r.open[id] = struct{}{}
}

// Release removes a snapshot from the open set.
func (r *Registry) Release(id string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	delete(r.open, id)
}

// Len reports the number of stored snapshots.
func (r *Registry) Len() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.snapshots)
}

// Flush forces a synchronous save when the registry is dirty.
func (r *Registry) Flush(ctx context.Context) error {
	return r.flush(ctx)
}

func (r *Registry) insertLocked(id, title, continuationToken string, initial []Message) {
	if strings.TrimSpace(title) == "" {
		title = AutoTitle
	}
	r.snapshots[id] = &Snapshot{
		ID:                id,
		Title:             title,
		UpdatedAt:         time.Now(),
		ContinuationToken: continuationToken,
		Messages:          capMessages(append([]Message(nil), initial...)),
	}
	r.evictLocked()
	r.dirty = true
}

func (r *Registry) evictLocked() {
	for len(r.snapshots) > MaxThreads {
		victim := ""
		var oldest time.Time
		for id, snap := range r.snapshots {
			if _, isOpen := r.open[id]; isOpen {
				continue
			}
			if victim == "" || snap.UpdatedAt.Before(oldest) {
				victim = id
				oldest = snap.UpdatedAt
			}
		}
		if victim == "" {
			return
		}
		delete(r.snapshots, victim)
	}
}

func (r *Registry) migrateTitlesLocked() bool {
	changed := false
	for _, snap := range r.snapshots {
		if !IsAutoTitle(snap.Title) {
			continue
		}
		text := firstSubstantiveText(snap.Messages)
		if text == "" {
			continue
		}
		if title := DeriveTitle(text); title != Untitled && title != snap.Title {
			snap.Title = title
			changed = true
		}
	}
	return changed
}

func firstSubstantiveText(messages []Message) string {
	for _, m := range messages {
		if text := strings.TrimSpace(m.Text); text != "" {
			return text
		}
	}
	return ""
}

func capMessages(messages []Message) []Message {
	if len(messages) <= MaxMessages {
		return messages
	}
	return append([]Message(nil), messages[len(messages)-MaxMessages:]...)
}

func (r *Registry) saveLoop() {
	defer r.stopped.Done()
	ticker := time.NewTicker(r.saveInterval)
	defer ticker.Stop()
	for {
		select {
		case <-r.done:
			return
		case <-ticker.C:
			// Durability is best-effort: a failed save never blocks the
			// interactive flow.
			_ = r.flush(context.Background())
		}
	}
}

func (r *Registry) flush(ctx context.Context) error {
	r.mu.Lock()
	if !r.dirty {
		r.mu.Unlock()
		return nil
	}
	out := make([]*Snapshot, 0, len(r.snapshots))
	for _, snap := range r.snapshots {
		out = append(out, snap.Clone())
	}
	r.dirty = false
	r.mu.Unlock()

	if err := r.store.Save(ctx, out); err != nil {
		r.mu.Lock()
		r.dirty = true
		r.mu.Unlock()
		return fmt.Errorf("thread: save registry: %w", err)
	}
	return nil
}
