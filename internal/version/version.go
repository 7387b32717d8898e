// Package version carries the build metadata stamped in at link time.
//
// Release builds overwrite the defaults with -ldflags:
//
//	go build -ldflags "\
//	  -X github.com/pmfair/updown-fair/internal/version.Version=$(git describe --tags) \
//	  -X github.com/pmfair/updown-fair/internal/version.Commit=$(git rev-parse --short HEAD) \
//	  -X github.com/pmfair/updown-fair/internal/version.BuildTime=$(date -u +%Y-%m-%dT%H:%M:%SZ)"
package version

var (
	// Version is the release tag; local builds stay "dev".
	Version = "dev"

	// Commit is the short git hash the binary was built from.
	Commit = "unknown"

	// BuildTime is the UTC build timestamp.
	BuildTime = "unknown"
)

// String renders the one-line form printed by the -version flag.
func String() string {
	return Version + " (" + Commit + ") built " + BuildTime
}

// UserAgent identifies the engine to upstream HTTP APIs.
func UserAgent() string {
	return "updown-fair/" + Version
}
