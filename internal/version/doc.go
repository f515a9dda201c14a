// Package version exposes build metadata for the toolchain.
//
// Four values are injected at build time via Go ldflags and default to
// local-build fallbacks: the git commit ("unspecified"), the release version
// ("0.0.0"), the bundled runtime library version ("latest"), and the builder
// shim version ("0.0.0"). The accessor functions GitCommit, ReleaseVersion,
// RuntimeVersion, and ShimVersion return them exactly as injected; the values
// never change for the lifetime of the process.
//
// Helper functions Short and Full render version strings for CLI output and logs.
package version
