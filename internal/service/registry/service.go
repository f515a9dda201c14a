package registry

import (
	"context"
	"errors"
	"fmt"
	"maps"
	"time"

	"github.com/Masterminds/semver/v3"
	"github.com/google/uuid"

	domain "github.com/forgestamp/forgestamp/internal/domain/release"
	"github.com/forgestamp/forgestamp/internal/logger"
	repo "github.com/forgestamp/forgestamp/internal/repository/registry"
)

// service coordinates release publishing and fleet tracking on top of the
// persistence layer. It is unexported to keep the transport decoupled from
// the implementation.
type service struct {
	// repo handles persistent storage of releases and check-ins.
	repo repo.Repository
}

// newService creates a service backed by the provided repository.
func newService(ctx context.Context, repository repo.Repository) (*service, error) {
	s := &service{repo: repository}

	latest, err := repository.LatestRelease(ctx)
	switch {
	case err == nil:
		logger.InfoKV(ctx, "Resuming with published release",
			"release_version", latest.ReleaseVersion,
			"published_at", latest.PublishedAt)
	case errors.Is(err, repo.ErrNotFound):
		logger.Info(ctx, "No release published yet")
	default:
		return nil, fmt.Errorf("load latest release: %w", err)
	}

	return s, nil
}

// PublishRelease stamps the release with publication metadata and persists it
// as the new latest release.
func (s *service) PublishRelease(
	ctx context.Context,
	actor *domain.Actor,
	stamp domain.Stamp,
	checksums map[string]string,
) (*domain.Release, error) {
	release := &domain.Release{
		Stamp:       stamp,
		PublishedAt: time.Now().UTC(),
		PublishedBy: actor.Clone(),
		Checksums:   maps.Clone(checksums),
	}

	if err := s.repo.SaveRelease(ctx, release); err != nil {
		logger.Errorf(ctx, "Failed to persist release: %v", err)

		return nil, fmt.Errorf("persist release: %w", err)
	}

	logger.InfoKV(ctx, "Release published",
		"release_version", release.ReleaseVersion,
		"git_commit", release.GitCommit,
		"runtime_version", release.RuntimeVersion,
		"shim_version", release.ShimVersion,
		"publisher", release.PublishedBy)

	return release.Clone(), nil
}

// LatestRelease returns the most recently published release.
func (s *service) LatestRelease(ctx context.Context) (*domain.Release, error) {
	return s.repo.LatestRelease(ctx)
}

// ListReleases returns published releases, newest first, up to limit.
func (s *service) ListReleases(ctx context.Context, limit int) ([]*domain.Release, error) {
	return s.repo.ListReleases(ctx, limit)
}

// RecordCheckIn stores an agent report and compares the reported release
// against the latest one. The stored check-in and the latest release are both
// returned so the transport can tell the agent whether an update is pending.
func (s *service) RecordCheckIn(ctx context.Context, checkIn *domain.CheckIn) (*domain.CheckIn, *domain.Release, error) {
	stored := checkIn.Clone()
	if stored.ID == "" {
		stored.ID = uuid.NewString()
	}

	stored.SeenAt = time.Now().UTC()

	latest, err := s.repo.LatestRelease(ctx)
	switch {
	case err == nil:
		stored.Stale = isStale(stored.ReleaseVersion, latest.ReleaseVersion)
	case errors.Is(err, repo.ErrNotFound):
		// Nothing to be stale against.
		latest = nil
		stored.Stale = false
	default:
		return nil, nil, fmt.Errorf("load latest release: %w", err)
	}

	if err := s.repo.UpsertCheckIn(ctx, stored); err != nil {
		logger.Errorf(ctx, "Failed to persist check-in: %v", err)

		return nil, nil, fmt.Errorf("persist check-in: %w", err)
	}

	logger.InfoKV(ctx, "Agent checked in",
		"machine_id", stored.MachineID,
		"release_version", stored.ReleaseVersion,
		"stale", stored.Stale)

	return stored, latest, nil
}

// ListAgents returns known agents with staleness recomputed against the
// current latest release, so fleets published after the last check-in are
// reported correctly.
func (s *service) ListAgents(ctx context.Context) ([]*domain.CheckIn, error) {
	agents, err := s.repo.ListAgents(ctx)
	if err != nil {
		return nil, fmt.Errorf("list agents: %w", err)
	}

	latest, err := s.repo.LatestRelease(ctx)
	switch {
	case err == nil:
		for _, agent := range agents {
			agent.Stale = isStale(agent.ReleaseVersion, latest.ReleaseVersion)
		}
	case errors.Is(err, repo.ErrNotFound):
		// No release yet, nothing can be stale.
	default:
		return nil, fmt.Errorf("load latest release: %w", err)
	}

	return agents, nil
}

// isStale reports whether current lags behind latest. Versions are compared
// as semantic versions; when either side does not parse, any difference
// counts as stale so ad-hoc builds still trigger updates.
func isStale(current, latest string) bool {
	if latest == "" {
		return false
	}

	currentVersion, err := semver.NewVersion(current)
	if err != nil {
		return current != latest
	}

	latestVersion, err := semver.NewVersion(latest)
	if err != nil {
		return current != latest
	}

	return currentVersion.LessThan(latestVersion)
}
