package thread

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"
)

var ErrThreadNotFound = errors.New("thread: not found")

// Role identifies message author type. The set is closed; anything else is
// rejected at parse time instead of defaulting.
type Role string

const (
	RoleUser      Role = "user"
	RoleAssistant Role = "assistant"
)

// ParseRole validates a raw role value.
func ParseRole(raw string) (Role, error) {
	switch Role(strings.TrimSpace(raw)) {
	case RoleUser:
		return RoleUser, nil
	case RoleAssistant:
		return RoleAssistant, nil
	default:
		return "", fmt.Errorf("thread: unknown role %q", raw)
	}
}

// Message is a single turn element in a conversation snapshot. Assistant
// text is mutated in place while a reply streams; user text is immutable
// once appended.
type Message struct {
	Role      Role      `json:"role"`
	Text      string    `json:"text"`
	CreatedAt time.Time `json:"created_at"`
}

// Snapshot is the durable record of one conversation.
type Snapshot struct {
	ID        string    `json:"id"`
	Title     string    `json:"title"`
	UpdatedAt time.Time `json:"updated_at"`
	// ContinuationToken chains follow-up requests into the same remote
	// context. Empty until the first successful exchange.
	ContinuationToken string    `json:"continuation_token,omitempty"`
	Messages          []Message `json:"messages"`
}

// Clone returns a deep copy safe to hand out of the registry.
func (s *Snapshot) Clone() *Snapshot {
	if s == nil {
		return nil
	}
	cp := *s
	cp.Messages = append([]Message(nil), s.Messages...)
	return &cp
}

// Entry is the listing projection of a snapshot.
type Entry struct {
	ID        string
	Title     string
	UpdatedAt time.Time
	Open      bool
}

// Store persists the whole snapshot collection.
type Store interface {
	Load(context.Context) ([]*Snapshot, error)
	Save(context.Context, []*Snapshot) error
}

const (
	// MaxMessages caps messages per snapshot; oldest entries drop first.
	MaxMessages = 200
	// MaxThreads caps registry size; least-recently-updated non-open
	// snapshots are evicted beyond it.
	MaxThreads = 50
)
