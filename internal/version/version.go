package version

import "fmt"

// The four build metadata values below are plain package variables so the
// linker can override them, e.g.:
//
//	go build -ldflags "-X github.com/forgestamp/forgestamp/internal/version.gitCommit=$(git rev-parse HEAD)"
//
// Nothing in the codebase writes them after link time.
var (
	// gitCommit is the source revision the binaries were built from.
	gitCommit = "unspecified"
	// releaseVersion is the product version of the toolchain release.
	releaseVersion = "0.0.0"
	// runtimeVersion is the version of the sandbox runtime library bundled
	// with the release. Local builds track the latest published runtime.
	runtimeVersion = "latest"
	// shimVersion is the version of the builder shim component,
	// versioned independently from the release itself.
	shimVersion = "0.0.0"
)

// GitCommit returns the git revision embedded at build time,
// or "unspecified" for local builds.
func GitCommit() string {
	return gitCommit
}

// ReleaseVersion returns the release version embedded at build time,
// or "0.0.0" for local builds.
func ReleaseVersion() string {
	return releaseVersion
}

// RuntimeVersion returns the bundled runtime library version embedded
// at build time, or "latest" for local builds.
func RuntimeVersion() string {
	return runtimeVersion
}

// ShimVersion returns the builder shim version embedded at build time,
// or "0.0.0" for local builds.
func ShimVersion() string {
	return shimVersion
}

// Short returns only the release version string.
func Short() string {
	return releaseVersion
}

// Full returns a human-readable one-liner with all four build metadata values.
// The updater parses this exact shape back out of `<binary> version` output.
func Full() string {
	return fmt.Sprintf("version: %s, commit: %s, runtime: %s, shim: %s",
		releaseVersion, gitCommit, runtimeVersion, shimVersion)
}

// UserAgent returns the User-Agent header value for outbound HTTP requests.
func UserAgent() string {
	return fmt.Sprintf("forgestamp/%s", releaseVersion)
}
