// Package version provides build version information for the application,
// set by ldflags at build time so both the CLI and the standalone daemon
// binary can report a consistent version without depending on each other.
package version

// Version is the build version string, set by ldflags during build.
// Format: vX.Y.Z or vX.Y.Z-dev for development builds.
var Version = "v0.1.0-dev"

// BuildTime is the build timestamp, set by ldflags during build.
var BuildTime = "unknown"
