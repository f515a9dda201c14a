package release

import "time"

// Platform describes the host an agent check-in came from.
type Platform struct {
	// OS is the operating system family (GOOS).
	OS string
	// Arch is the CPU architecture (GOARCH).
	Arch string
	// Name is the platform product name, e.g. "ubuntu" or "darwin".
	Name string
	// Version is the platform product version, e.g. "22.04".
	Version string
}

// CheckIn is the latest report from one agent, keyed by machine identity.
type CheckIn struct {
	Stamp

	// ID is the registry-assigned identifier of the stored check-in.
	ID string
	// MachineID is the hashed machine identity reported by the agent.
	MachineID string
	// Actor is the host and user the agent runs as.
	Actor *Actor
	// Platform is the host platform information.
	Platform Platform
	// SeenAt is when the registry received the check-in.
	SeenAt time.Time
	// Stale reports whether the agent runs a release older than the
	// latest published one. Computed by the registry, never by agents.
	Stale bool
}

// Clone returns a copy of the check-in to avoid leaking internal references.
func (c *CheckIn) Clone() *CheckIn {
	if c == nil {
		return nil
	}

	cloned := *c
	cloned.Actor = c.Actor.Clone()

	return &cloned
}
