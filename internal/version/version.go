// Package version holds build information set via -ldflags.
package version

import "fmt"

var (
	Version = "dev"
	Commit  = "none"
	Date    = "unknown"
)

// Info returns a single-line description of the build.
func Info() string {
	return fmt.Sprintf("steamdash %s (commit: %s, built: %s)", Version, Commit, Date)
}
