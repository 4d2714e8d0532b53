// Package version exposes the relay's build identification, logged at
// startup.
//
// Set at release time via ldflags:
//
//	go build -ldflags "-X github.com/pulsecast/relay/internal/version.Version=$(git describe --tags) \
//	                   -X github.com/pulsecast/relay/internal/version.Commit=$(git rev-parse --short HEAD)"
package version

var (
	// Version is the release version of the relay binary.
	Version = "dev"

	// Commit is the short git commit hash the binary was built from.
	Commit = "unknown"
)

// String renders the build identification as a single token.
func String() string {
	return Version + "-" + Commit
}
