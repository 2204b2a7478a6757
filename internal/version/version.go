// Package version carries build metadata set with
// -ldflags "-X aave-rate-digest/internal/version.Version=...".
package version

import "fmt"

// Name is the binary name reported by the CLI and in traces.
const Name = "aavedigest"

var (
	// Version is the semantic version of the binary. Overridden at build time.
	Version = "dev"
	// Commit is the git commit hash. Overridden at build time.
	Commit = "unknown"
	// BuildDate is the build timestamp. Overridden at build time.
	BuildDate = "unknown"
)

// String formats the build metadata on one line.
func String() string {
	return fmt.Sprintf("%s %s (commit %s, built %s)", Name, Version, Commit, BuildDate)
}
