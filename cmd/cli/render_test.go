package main

import (
	"strings"
	"testing"
	"time"

	"github.com/mattn/go-runewidth"

	"github.com/OnslaughtSnail/glimpse/kernel/thread"
)

func TestWriteThreadTable_MarksCurrentAndOpen(t *testing.T) {
	now := time.Now()
	entries := []thread.Entry{
		{ID: "aaaaaaaa-1111", Title: "Current one", UpdatedAt: now, Open: true},
		{ID: "bbbbbbbb-2222", Title: "Older one", UpdatedAt: now.Add(-2 * time.Hour)},
	}
	var sb strings.Builder
	writeThreadTable(&sb, entries, "aaaaaaaa-1111")
	out := sb.String()

	lines := strings.Split(strings.TrimSpace(out), "\n")
	if len(lines) != 3 {
		t.Fatalf("expected header plus 2 rows, got %d lines:\n%s", len(lines), out)
	}
	if !strings.HasPrefix(lines[1], " *") {
		t.Fatalf("current thread row should carry a marker: %q", lines[1])
	}
	if !strings.Contains(lines[1], "[open]") {
		t.Fatalf("open thread row should say [open]: %q", lines[1])
	}
	if !strings.Contains(lines[2], "2h ago") {
		t.Fatalf("expected relative age on second row: %q", lines[2])
	}
	if !strings.Contains(lines[1], "aaaaaaaa") || strings.Contains(lines[1], "aaaaaaaa-") {
		t.Fatalf("ids should be shortened: %q", lines[1])
	}
}

func TestWriteThreadTable_Empty(t *testing.T) {
	var sb strings.Builder
	writeThreadTable(&sb, nil, "")
	if !strings.Contains(sb.String(), "(empty)") {
		t.Fatalf("output = %q", sb.String())
	}
}

func TestWriteThreadTable_AlignsWideTitles(t *testing.T) {
	now := time.Now()
	entries := []thread.Entry{
		{ID: "aaaaaaaa-1111", Title: "短い", UpdatedAt: now},
		{ID: "bbbbbbbb-2222", Title: "ascii", UpdatedAt: now},
	}
	var sb strings.Builder
	writeThreadTable(&sb, entries, "")
	lines := strings.Split(strings.TrimSpace(sb.String()), "\n")
	first := runewidth.StringWidth(lines[1][:strings.Index(lines[1], "aaaaaaaa")])
	second := runewidth.StringWidth(lines[2][:strings.Index(lines[2], "bbbbbbbb")])
	if first != second {
		t.Fatalf("id columns misaligned: width %d vs %d\n%s", first, second, sb.String())
	}
}

func TestRelativeAge(t *testing.T) {
	now := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)
	cases := []struct {
		at   time.Time
		want string
	}{
		{time.Time{}, "never"},
		{now.Add(-10 * time.Second), "just now"},
		{now.Add(-5 * time.Minute), "5m ago"},
		{now.Add(-3 * time.Hour), "3h ago"},
		{now.Add(-49 * time.Hour), "2d ago"},
	}
	for _, tc := range cases {
		if got := relativeAge(now, tc.at); got != tc.want {
			t.Errorf("relativeAge(%v) = %q, want %q", tc.at, got, tc.want)
		}
	}
}

func TestTruncateInline(t *testing.T) {
	if got := truncateInline("  spread   over\nlines  ", 80); got != "spread over lines" {
		t.Fatalf("got %q", got)
	}
	if got := truncateInline("abcdefghij", 8); got != "abcde..." {
		t.Fatalf("got %q", got)
	}
	if got := truncateInline("short", 8); got != "short" {
		t.Fatalf("got %q", got)
	}
}

func TestMarkdownRenderer_NilFallsBackToPlainText(t *testing.T) {
	var r *markdownRenderer
	if got := r.Render("# hi"); got != "# hi\n" {
		t.Fatalf("nil renderer should pass text through, got %q", got)
	}
}
