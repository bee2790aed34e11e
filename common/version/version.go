// Package version carries build identification stamped in via ldflags.
// The /health and /status endpoints and the startup banner report it.
package version

var (
	// Version is the semantic release version.
	Version = "v0.0.0-dev"

	// GitCommit is the commit the binary was built from.
	GitCommit = "unknown"

	// BuildTime is the build timestamp.
	BuildTime = "unknown"
)
