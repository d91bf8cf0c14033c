package version

import "fmt"

const (
	// Name of the application
	Name = "Argus"
)

var (
	// Version is the semantic version
	Version = "0.4.0"
	// BuildTime is set during build via ldflags
	BuildTime = "unknown"
	// GitCommit is set during build via ldflags
	GitCommit = "unknown"
)

// Full returns the complete version string.
func Full() string {
	if BuildTime != "unknown" && GitCommit != "unknown" {
		return fmt.Sprintf("%s (commit: %s, built: %s)", Version, GitCommit, BuildTime)
	}
	return Version
}

// UserAgent identifies outbound calls to the device control server and the
// reasoning service.
func UserAgent() string {
	if GitCommit != "unknown" {
		return fmt.Sprintf("%s/%s (+%s)", Name, Version, GitCommit)
	}
	return Name + "/" + Version
}
