package thread

import (
	"strings"
	"testing"
)

func TestDeriveTitle_FirstSentence(t *testing.T) {
	got := DeriveTitle("Is this a good plan? Let's see what happens next.")
	if got != "Is this a good plan?" {
		t.Fatalf("unexpected title: %q", got)
	}
}

func TestDeriveTitle_ShortTextUnchanged(t *testing.T) {
	if got := DeriveTitle("ok"); got != "ok" {
		t.Fatalf("unexpected title: %q", got)
	}
}

func TestDeriveTitle_EmptyInput(t *testing.T) {
	if got := DeriveTitle(""); got != Untitled {
		t.Fatalf("unexpected title: %q", got)
	}
	if got := DeriveTitle("   \n\t "); got != Untitled {
		t.Fatalf("unexpected title for whitespace: %q", got)
	}
}

func TestDeriveTitle_TwoShortSentences(t *testing.T) {
	got := DeriveTitle("Hi. How do I resize a window in AppKit?")
	if got != "Hi. How do I resize a window in AppKit?" {
		t.Fatalf("unexpected title: %q", got)
	}
}

func TestDeriveTitle_CapsWithEllipsis(t *testing.T) {
	long := strings.Repeat("a", 100)
	got := DeriveTitle(long)
	if !strings.HasSuffix(got, "…") {
		t.Fatalf("expected ellipsis suffix, got %q", got)
	}
	if len([]rune(got)) != titleMaxLen+1 {
		t.Fatalf("expected %d runes, got %d (%q)", titleMaxLen+1, len([]rune(got)), got)
	}
}

func TestDeriveTitle_CollapsesWhitespace(t *testing.T) {
	got := DeriveTitle("  what   is\nthis  ")
	if got != "what is this" {
		t.Fatalf("unexpected title: %q", got)
	}
}

func TestIsAutoTitle(t *testing.T) {
	for _, title := range []string{"New Thread", "New Thread 2", "Untitled", " New Thread "} {
		if !IsAutoTitle(title) {
			t.Fatalf("expected %q to match auto placeholder", title)
		}
	}
	for _, title := range []string{"New Threads", "Plan review", "", "Untitled question"} {
		if IsAutoTitle(title) {
			t.Fatalf("did not expect %q to match auto placeholder", title)
		}
	}
}
