package version

import "testing"

func TestString(t *testing.T) {
	Version, Commit, BuildDate = "v1.2.3", "abc123", "2025-03-01"
	defer func() { Version, Commit, BuildDate = "dev", "unknown", "unknown" }()

	if got := String(); got != "aavedigest v1.2.3 (commit abc123, built 2025-03-01)" {
		t.Fatalf("String() = %q", got)
	}
}
