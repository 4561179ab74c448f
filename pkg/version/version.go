// Package version exposes the application version derived from build metadata.
//
// Priority: -ldflags override > VCS info from debug.BuildInfo > "dev" fallback.
package version

import "runtime/debug"

// AppName is the application name used in version strings and log banners.
const AppName = "curio"

// gitCommitOverride is set via -ldflags at build time for container builds
// where .git is unavailable. Empty string means no override.
var gitCommitOverride string

var (
	// GitCommit is the short git commit hash (8 chars) from build info.
	// "dev" when build info is unavailable (e.g., `go test`, non-git builds).
	GitCommit = "dev"

	// BuildTime is the VCS commit timestamp (RFC3339), empty if unknown.
	BuildTime string
)

func init() {
	if gitCommitOverride != "" {
		GitCommit = shorten(gitCommitOverride)
		return
	}
	info, ok := debug.ReadBuildInfo()
	if !ok {
		return
	}
	for _, s := range info.Settings {
		switch s.Key {
		case "vcs.revision":
			if s.Value != "" {
				GitCommit = shorten(s.Value)
			}
		case "vcs.time":
			BuildTime = s.Value
		}
	}
}

func shorten(rev string) string {
	if len(rev) > 8 {
		return rev[:8]
	}
	return rev
}

// Full returns "curio/<commit>" for use in user-agent strings, logging, etc.
func Full() string {
	return AppName + "/" + GitCommit
}
