// Package version holds build-time version information injected via ldflags.
package version

import "fmt"

// These variables are set at build time via -ldflags.
var (
	Version = "dev"
	Commit  = "none"
	Date    = "unknown"
)

// String renders the version line printed by `newsdesk version`.
func String() string {
	return fmt.Sprintf("newsdesk %s (commit: %s, built: %s)", Version, Commit, Date)
}
