// Package version carries build identification stamped in with -ldflags:
//
//	go build -ldflags "-X github.com/banshee-data/locality/internal/version.Version=v0.3.0" ./cmd/nlist
package version

import "fmt"

var (
	// Version is the current application version
	Version = "dev"
	// GitSHA is the git commit SHA
	GitSHA = "unknown"
	// BuildTime is the build timestamp
	BuildTime = "unknown"
)

// String formats the build identification for a named binary.
func String(binary string) string {
	return fmt.Sprintf("%s %s (%s, built %s)", binary, Version, GitSHA, BuildTime)
}
