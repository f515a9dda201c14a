package release

import (
	"maps"
	"time"
)

// Actor identifies who performed an action in the system.
type Actor struct {
	// Hostname is the machine name where the action was performed.
	Hostname string
	// Username is the system user who triggered the action.
	Username string
}

// Clone returns a deep copy of the actor.
func (a *Actor) Clone() *Actor {
	if a == nil {
		return nil
	}

	cloned := *a

	return &cloned
}

// Stamp carries the four build metadata values every binary is stamped with:
// the release version, the git commit, the bundled runtime library version,
// and the builder shim version.
type Stamp struct {
	// ReleaseVersion is the product version of the toolchain release.
	ReleaseVersion string
	// GitCommit is the source revision the release was built from.
	GitCommit string
	// RuntimeVersion is the sandbox runtime library version bundled with the release.
	RuntimeVersion string
	// ShimVersion is the builder shim version, tracked independently.
	ShimVersion string
}

// Release describes a published toolchain release.
type Release struct {
	Stamp

	// PublishedAt is when the release was recorded by the registry.
	PublishedAt time.Time
	// PublishedBy is who published the release.
	PublishedBy *Actor
	// Checksums maps artifact names to base64-encoded SHA-512 digests.
	Checksums map[string]string
}

// Clone returns a copy of the release to avoid leaking internal references.
func (r *Release) Clone() *Release {
	if r == nil {
		return nil
	}

	return &Release{
		Stamp:       r.Stamp,
		PublishedAt: r.PublishedAt,
		PublishedBy: r.PublishedBy.Clone(),
		Checksums:   maps.Clone(r.Checksums),
	}
}
