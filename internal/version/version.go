// Package version carries the build identity reported by feedprobe's
// --version flag.
//
// Variables are stamped at build time via ldflags:
//
//	go build -ldflags "-X github.com/mwhitt/feedlink/internal/version.Version=0.3.0 \
//	                   -X github.com/mwhitt/feedlink/internal/version.Commit=$(git rev-parse --short HEAD) \
//	                   -X github.com/mwhitt/feedlink/internal/version.BuildTime=$(date -u +%Y-%m-%dT%H:%M:%SZ)" \
//	    ./cmd/feedprobe
package version

var (
	// Version is the semantic version. "dev" for unstamped builds.
	Version = "dev"

	// Commit is the short git commit hash.
	Commit = "unknown"

	// BuildTime is the UTC build timestamp (ISO 8601).
	BuildTime = "unknown"
)

// String renders the full identity, e.g. "0.3.0 (9f2c1ab) built
// 2026-08-30T12:00:00Z".
func String() string {
	return Version + " (" + Commit + ") built " + BuildTime
}
