package main

import (
	"fmt"
	"io"
	"strings"
	"time"

	"github.com/charmbracelet/glamour"
	"github.com/fatih/color"
	"github.com/mattn/go-runewidth"

	"github.com/OnslaughtSnail/glimpse/kernel/thread"
)

const (
	threadTableTitleWidth = 40
	answerWrapWidth       = 100
)

var (
	statusStyle = color.New(color.FgCyan)
	errorStyle  = color.New(color.FgRed)
	faintStyle  = color.New(color.Faint)
)

// markdownRenderer re-renders completed answers as terminal markdown.
// Nil when the output is not a terminal; callers fall back to plain text.
type markdownRenderer struct {
	tr *glamour.TermRenderer
}

func newMarkdownRenderer(interactive bool) *markdownRenderer {
	if !interactive {
		return nil
	}
	tr, err := glamour.NewTermRenderer(
		glamour.WithAutoStyle(),
		glamour.WithWordWrap(answerWrapWidth),
	)
	if err != nil {
		return nil
	}
	return &markdownRenderer{tr: tr}
}

// Render returns the markdown rendering of text, newline terminated, or
// the plain text when rendering is unavailable or fails.
func (r *markdownRenderer) Render(text string) string {
	if r == nil || r.tr == nil {
		return strings.TrimRight(text, "\n") + "\n"
	}
	out, err := r.tr.Render(text)
	if err != nil {
		return strings.TrimRight(text, "\n") + "\n"
	}
	return strings.TrimRight(out, "\n") + "\n"
}

// writeThreadTable prints registry entries newest first with display-width
// aware title padding so wide glyphs keep the columns aligned.
func writeThreadTable(out io.Writer, entries []thread.Entry, currentID string) {
	if len(entries) == 0 {
		fmt.Fprintln(out, "threads: (empty)")
		return
	}
	fmt.Fprintln(out, "threads:")
	now := time.Now()
	for i, entry := range entries {
		marker := " "
		if entry.ID == currentID {
			marker = "*"
		}
		open := ""
		if entry.Open {
			open = " [open]"
		}
		title := runewidth.Truncate(entry.Title, threadTableTitleWidth, "…")
		title = runewidth.FillRight(title, threadTableTitleWidth)
		fmt.Fprintf(out, " %s %2d  %s  %s  %s%s\n",
			marker, i+1, title, shortID(entry.ID), relativeAge(now, entry.UpdatedAt), open)
	}
}

func shortID(id string) string {
	if len(id) <= 8 {
		return id
	}
	return id[:8]
}

func relativeAge(now, at time.Time) string {
	if at.IsZero() {
		return "never"
	}
	d := now.Sub(at)
	switch {
	case d < time.Minute:
		return "just now"
	case d < time.Hour:
		return fmt.Sprintf("%dm ago", int(d.Minutes()))
	case d < 24*time.Hour:
		return fmt.Sprintf("%dh ago", int(d.Hours()))
	default:
		return fmt.Sprintf("%dd ago", int(d.Hours()/24))
	}
}

func truncateInline(input string, limit int) string {
	text := strings.Join(strings.Fields(strings.TrimSpace(input)), " ")
	rs := []rune(text)
	if limit <= 0 || len(rs) <= limit {
		return text
	}
	if limit <= 3 {
		return string(rs[:limit])
	}
	return string(rs[:limit-3]) + "..."
}
