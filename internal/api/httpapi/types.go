package httpapi

import (
	"time"

	domain "github.com/forgestamp/forgestamp/internal/domain/release"
)

// ActorPayload identifies who performed an action.
type ActorPayload struct {
	Hostname string `json:"hostname"`
	Username string `json:"username"`
}

// PlatformPayload describes the host an agent runs on.
type PlatformPayload struct {
	OS      string `json:"os"`
	Arch    string `json:"arch"`
	Name    string `json:"name,omitempty"`
	Version string `json:"version,omitempty"`
}

// PublishReleaseRequest is the body of POST /api/v1/releases.
type PublishReleaseRequest struct {
	ReleaseVersion string            `json:"release_version"`
	GitCommit      string            `json:"git_commit"`
	RuntimeVersion string            `json:"runtime_version"`
	ShimVersion    string            `json:"shim_version"`
	Checksums      map[string]string `json:"checksums,omitempty"`
	Actor          *ActorPayload     `json:"actor,omitempty"`
}

// ReleasePayload is the wire representation of a published release.
type ReleasePayload struct {
	ReleaseVersion string            `json:"release_version"`
	GitCommit      string            `json:"git_commit"`
	RuntimeVersion string            `json:"runtime_version"`
	ShimVersion    string            `json:"shim_version"`
	PublishedAt    time.Time         `json:"published_at"`
	PublishedBy    *ActorPayload     `json:"published_by,omitempty"`
	Checksums      map[string]string `json:"checksums,omitempty"`
}

// ReleasesResponse is the body of GET /api/v1/releases.
type ReleasesResponse struct {
	Releases []ReleasePayload `json:"releases"`
	Total    int              `json:"total"`
}

// CheckInRequest is the body of POST /api/v1/checkins.
type CheckInRequest struct {
	MachineID      string          `json:"machine_id"`
	Actor          *ActorPayload   `json:"actor,omitempty"`
	ReleaseVersion string          `json:"release_version"`
	GitCommit      string          `json:"git_commit"`
	RuntimeVersion string          `json:"runtime_version"`
	ShimVersion    string          `json:"shim_version"`
	Platform       PlatformPayload `json:"platform"`
}

// CheckInPayload is the wire representation of a stored agent check-in.
type CheckInPayload struct {
	ID             string          `json:"id"`
	MachineID      string          `json:"machine_id"`
	Actor          *ActorPayload   `json:"actor,omitempty"`
	ReleaseVersion string          `json:"release_version"`
	GitCommit      string          `json:"git_commit"`
	RuntimeVersion string          `json:"runtime_version"`
	ShimVersion    string          `json:"shim_version"`
	Platform       PlatformPayload `json:"platform"`
	SeenAt         time.Time       `json:"seen_at"`
	Stale          bool            `json:"stale"`
}

// CheckInResponse is the body returned for a recorded check-in. It tells the
// agent what the latest published release is so it can react to staleness.
type CheckInResponse struct {
	CheckIn              CheckInPayload `json:"checkin"`
	LatestReleaseVersion string         `json:"latest_release_version,omitempty"`
	UpdateAvailable      bool           `json:"update_available"`
}

// AgentsResponse is the body of GET /api/v1/agents.
type AgentsResponse struct {
	Agents []CheckInPayload `json:"agents"`
	Total  int              `json:"total"`
}

// HealthResponse is the body of GET /health.
type HealthResponse struct {
	Status  string `json:"status"`
	Version string `json:"version"`
}

// ErrorResponse is the body of every non-2xx reply.
type ErrorResponse struct {
	Error   string `json:"error"`
	Code    int    `json:"code"`
	Message string `json:"message,omitempty"`
}

// NewActorPayload converts a domain actor to its wire representation.
func NewActorPayload(actor *domain.Actor) *ActorPayload {
	if actor == nil {
		return nil
	}

	return &ActorPayload{
		Hostname: actor.Hostname,
		Username: actor.Username,
	}
}

// ToDomain converts the wire actor to the domain model.
func (p *ActorPayload) ToDomain() *domain.Actor {
	if p == nil {
		return nil
	}

	return &domain.Actor{
		Hostname: p.Hostname,
		Username: p.Username,
	}
}

// NewReleasePayload converts a domain release to its wire representation.
func NewReleasePayload(rel *domain.Release) ReleasePayload {
	return ReleasePayload{
		ReleaseVersion: rel.ReleaseVersion,
		GitCommit:      rel.GitCommit,
		RuntimeVersion: rel.RuntimeVersion,
		ShimVersion:    rel.ShimVersion,
		PublishedAt:    rel.PublishedAt,
		PublishedBy:    NewActorPayload(rel.PublishedBy),
		Checksums:      rel.Checksums,
	}
}

// ToDomain converts the wire release to the domain model.
func (p ReleasePayload) ToDomain() *domain.Release {
	return &domain.Release{
		Stamp: domain.Stamp{
			ReleaseVersion: p.ReleaseVersion,
			GitCommit:      p.GitCommit,
			RuntimeVersion: p.RuntimeVersion,
			ShimVersion:    p.ShimVersion,
		},
		PublishedAt: p.PublishedAt,
		PublishedBy: p.PublishedBy.ToDomain(),
		Checksums:   p.Checksums,
	}
}

// NewCheckInPayload converts a stored domain check-in to its wire representation.
func NewCheckInPayload(checkIn *domain.CheckIn) CheckInPayload {
	return CheckInPayload{
		ID:             checkIn.ID,
		MachineID:      checkIn.MachineID,
		Actor:          NewActorPayload(checkIn.Actor),
		ReleaseVersion: checkIn.ReleaseVersion,
		GitCommit:      checkIn.GitCommit,
		RuntimeVersion: checkIn.RuntimeVersion,
		ShimVersion:    checkIn.ShimVersion,
		Platform: PlatformPayload{
			OS:      checkIn.Platform.OS,
			Arch:    checkIn.Platform.Arch,
			Name:    checkIn.Platform.Name,
			Version: checkIn.Platform.Version,
		},
		SeenAt: checkIn.SeenAt,
		Stale:  checkIn.Stale,
	}
}

// ToDomain converts the wire check-in to the domain model.
func (p CheckInPayload) ToDomain() *domain.CheckIn {
	return &domain.CheckIn{
		Stamp: domain.Stamp{
			ReleaseVersion: p.ReleaseVersion,
			GitCommit:      p.GitCommit,
			RuntimeVersion: p.RuntimeVersion,
			ShimVersion:    p.ShimVersion,
		},
		ID:        p.ID,
		MachineID: p.MachineID,
		Actor:     p.Actor.ToDomain(),
		Platform: domain.Platform{
			OS:      p.Platform.OS,
			Arch:    p.Platform.Arch,
			Name:    p.Platform.Name,
			Version: p.Platform.Version,
		},
		SeenAt: p.SeenAt,
		Stale:  p.Stale,
	}
}

// ToDomain converts the check-in request to a domain check-in awaiting
// registry-assigned fields.
func (r *CheckInRequest) ToDomain() *domain.CheckIn {
	return &domain.CheckIn{
		Stamp: domain.Stamp{
			ReleaseVersion: r.ReleaseVersion,
			GitCommit:      r.GitCommit,
			RuntimeVersion: r.RuntimeVersion,
			ShimVersion:    r.ShimVersion,
		},
		MachineID: r.MachineID,
		Actor:     r.Actor.ToDomain(),
		Platform: domain.Platform{
			OS:      r.Platform.OS,
			Arch:    r.Platform.Arch,
			Name:    r.Platform.Name,
			Version: r.Platform.Version,
		},
	}
}
