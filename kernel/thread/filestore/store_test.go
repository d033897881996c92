package filestore

import (
	"context"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/OnslaughtSnail/glimpse/kernel/thread"
)

func TestStore_RoundTrip(t *testing.T) {
	path := filepath.Join(t.TempDir(), "threads.json")
	store, err := New(path)
	if err != nil {
		t.Fatal(err)
	}
	created := time.Date(2025, 3, 14, 9, 26, 53, 0, time.UTC)
	in := []*thread.Snapshot{{
		ID:                "t1",
		Title:             "Plan review",
		UpdatedAt:         created.Add(time.Minute),
		ContinuationToken: "resp_abc",
		Messages: []thread.Message{
			{Role: thread.RoleUser, Text: "Is this a good plan?", CreatedAt: created},
			{Role: thread.RoleAssistant, Text: "Mostly.", CreatedAt: created.Add(time.Second)},
		},
	}}
	if err := store.Save(context.Background(), in); err != nil {
		t.Fatal(err)
	}
	out, err := store.Load(context.Background())
	if err != nil {
		t.Fatal(err)
	}
	if len(out) != 1 {
		t.Fatalf("expected 1 snapshot, got %d", len(out))
	}
	got := out[0]
	if got.ID != "t1" || got.Title != "Plan review" || got.ContinuationToken != "resp_abc" {
		t.Fatalf("unexpected snapshot: %+v", got)
	}
	if len(got.Messages) != 2 || got.Messages[0].Text != "Is this a good plan?" || got.Messages[1].Role != thread.RoleAssistant {
		t.Fatalf("unexpected messages: %+v", got.Messages)
	}
}

func TestStore_LoadMissingFileIsEmpty(t *testing.T) {
	store, err := New(filepath.Join(t.TempDir(), "threads.json"))
	if err != nil {
		t.Fatal(err)
	}
	out, err := store.Load(context.Background())
	if err != nil {
		t.Fatal(err)
	}
	if len(out) != 0 {
		t.Fatalf("expected empty collection, got %d", len(out))
	}
}

func TestStore_SaveSortsByRecencyWithISOTimestamps(t *testing.T) {
	path := filepath.Join(t.TempDir(), "threads.json")
	store, err := New(path)
	if err != nil {
		t.Fatal(err)
	}
	older := time.Date(2025, 1, 1, 0, 0, 0, 0, time.UTC)
	in := []*thread.Snapshot{
		{ID: "old", Title: "old", UpdatedAt: older},
		{ID: "new", Title: "new", UpdatedAt: older.Add(time.Hour)},
	}
	if err := store.Save(context.Background(), in); err != nil {
		t.Fatal(err)
	}
	raw, err := os.ReadFile(path)
	if err != nil {
		t.Fatal(err)
	}
	body := string(raw)
	if strings.Index(body, `"new"`) > strings.Index(body, `"old"`) {
		t.Fatal("expected most recent snapshot first in the file")
	}
	if !strings.Contains(body, "2025-01-01T00:00:00Z") {
		t.Fatalf("expected ISO-8601 timestamps, got:\n%s", body)
	}
}

func TestStore_DropsUnknownRolesOnLoad(t *testing.T) {
	path := filepath.Join(t.TempDir(), "threads.json")
	store, err := New(path)
	if err != nil {
		t.Fatal(err)
	}
	raw := `[{
		"id": "t1",
		"title": "x",
		"updated_at": "2025-01-01T00:00:00Z",
		"messages": [
			{"role": "user", "text": "hi", "created_at": "2025-01-01T00:00:00Z"},
			{"role": "system", "text": "ignored", "created_at": "2025-01-01T00:00:00Z"}
		]
	}]`
	if err := os.WriteFile(path, []byte(raw), 0o644); err != nil {
		t.Fatal(err)
	}
	out, err := store.Load(context.Background())
	if err != nil {
		t.Fatal(err)
	}
	if len(out) != 1 || len(out[0].Messages) != 1 {
		t.Fatalf("expected unknown-role message to be dropped, got %+v", out)
	}
	if out[0].Messages[0].Role != thread.RoleUser {
		t.Fatalf("unexpected surviving role: %q", out[0].Messages[0].Role)
	}
}
