package thread

import (
	"regexp"
	"strings"

	"github.com/rivo/uniseg"
)

const (
	// Untitled is the title of last resort.
	Untitled = "Untitled"
	// AutoTitle is the placeholder assigned to threads created without an
	// explicit title. RenameIfAutoTitled only ever overwrites titles that
	// still match this placeholder family.
	AutoTitle = "New Thread"

	titleMinSentence = 12
	titleMaxLen      = 44
	titleEllipsis    = "…"
)

var autoTitleRe = regexp.MustCompile(`^(New Thread|Untitled)( \d+)?$`)

// IsAutoTitle reports whether a title still carries the generic placeholder.
func IsAutoTitle(title string) bool {
	return autoTitleRe.MatchString(strings.TrimSpace(title))
}

// DeriveTitle builds a human-readable title from message text: the first
// sentence, extended to a second one while the prefix stays under 12
// characters, capped at 44 grapheme clusters with an ellipsis.
func DeriveTitle(text string) string {
	collapsed := strings.Join(strings.Fields(text), " ")
	if collapsed == "" {
		return Untitled
	}
	candidate := ""
	rest := collapsed
	for range 2 {
		sentence, tail := splitSentence(rest)
		if sentence == "" {
			break
		}
		if candidate == "" {
			candidate = sentence
		} else {
			candidate = candidate + " " + sentence
		}
		rest = tail
		if len(candidate) >= titleMinSentence {
			break
		}
	}
	if candidate == "" {
		candidate = collapsed
	}
	candidate = strings.TrimSpace(candidate)
	if uniseg.GraphemeClusterCount(candidate) > titleMaxLen {
		candidate = strings.TrimSpace(truncateGraphemes(candidate, titleMaxLen)) + titleEllipsis
	}
	if candidate == "" {
		return Untitled
	}
	return candidate
}

func splitSentence(text string) (sentence, rest string) {
	for i, r := range text {
		switch r {
		case '.', '!', '?':
			end := i + 1
			return strings.TrimSpace(text[:end]), strings.TrimSpace(text[end:])
		}
	}
	return strings.TrimSpace(text), ""
}

func truncateGraphemes(s string, limit int) string {
	gr := uniseg.NewGraphemes(s)
	n := 0
	for gr.Next() {
		n++
		if n > limit {
			from, _ := gr.Positions()
			return s[:from]
		}
	}
	return s
}
