// Package packager assembles release manifests for distribution.
//
// It hashes the toolchain artifacts, writes the release manifest consumed by
// the updater, and announces the release to the registry so agents learn
// about it on their next check-in.
package packager
