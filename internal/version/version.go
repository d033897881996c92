package version

import "strings"

// Injected at build time via -ldflags.
var (
	Version = "dev"
	Commit  = ""
)

// String returns compact human-readable version info.
func String() string {
	out := strings.TrimSpace(Version)
	if out == "" {
		out = "dev"
	}
	if commit := strings.TrimSpace(Commit); commit != "" {
		out += " (" + commit + ")"
	}
	return out
}
