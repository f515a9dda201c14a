package registry

import (
	"context"
	"errors"
	"fmt"

	"github.com/forgestamp/forgestamp/internal/config"
	domain "github.com/forgestamp/forgestamp/internal/domain/release"
)

// Repository defines persistence operations for the release registry.
type Repository interface {
	// LatestRelease returns the most recently published release,
	// or ErrNotFound when nothing has been published yet.
	LatestRelease(ctx context.Context) (*domain.Release, error)
	// SaveRelease records a release as the latest one and appends it to the history.
	SaveRelease(ctx context.Context, rel *domain.Release) error
	// ListReleases returns up to limit releases, newest first.
	// A non-positive limit returns the whole stored history.
	ListReleases(ctx context.Context, limit int) ([]*domain.Release, error)
	// UpsertCheckIn stores an agent check-in keyed by its machine identity.
	UpsertCheckIn(ctx context.Context, checkIn *domain.CheckIn) error
	// ListAgents returns the latest check-in per machine, most recent first.
	ListAgents(ctx context.Context) ([]*domain.CheckIn, error)
	// Close releases backend resources.
	Close() error
}

// ErrNotFound is returned when no release has been published yet.
var ErrNotFound = errors.New("release not found")

// errUnknownBackend is returned by New for backends the registry cannot build.
var errUnknownBackend = errors.New("unknown storage backend")

// historyLimit bounds the stored release history in every backend.
const historyLimit = 50

// New builds a repository for the configured storage backend.
func New(ctx context.Context, backend, path string) (Repository, error) {
	switch backend {
	case config.StorageFile:
		return NewFileRepository(path), nil
	case config.StorageSQLite:
		return NewSQLiteRepository(ctx, path)
	default:
		return nil, fmt.Errorf("%w: %q", errUnknownBackend, backend)
	}
}
