package registry

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"slices"
	"sync"
	"time"

	"github.com/forgestamp/forgestamp/internal/config"
	domain "github.com/forgestamp/forgestamp/internal/domain/release"
)

// FileRepository persists the registry state to a single JSON file on disk.
// It suits single-node installations where a database is not worth carrying.
type FileRepository struct {
	// path is the filesystem location of the JSON state file.
	path string
	// mu protects concurrent access to the state file.
	mu sync.Mutex
}

// stateDocument is the on-disk schema of the registry state.
type stateDocument struct {
	Latest  *releaseDocument            `json:"latest,omitempty"`
	History []*releaseDocument          `json:"history,omitempty"`
	Agents  map[string]*checkInDocument `json:"agents,omitempty"`
}

type actorDocument struct {
	Hostname string `json:"hostname"`
	Username string `json:"username"`
}

type releaseDocument struct {
	ReleaseVersion string            `json:"release_version"`
	GitCommit      string            `json:"git_commit"`
	RuntimeVersion string            `json:"runtime_version"`
	ShimVersion    string            `json:"shim_version"`
	PublishedAt    time.Time         `json:"published_at"`
	PublishedBy    *actorDocument    `json:"published_by,omitempty"`
	Checksums      map[string]string `json:"checksums,omitempty"`
}

type checkInDocument struct {
	ID              string         `json:"id"`
	MachineID       string         `json:"machine_id"`
	Actor           *actorDocument `json:"actor,omitempty"`
	ReleaseVersion  string         `json:"release_version"`
	GitCommit       string         `json:"git_commit"`
	RuntimeVersion  string         `json:"runtime_version"`
	ShimVersion     string         `json:"shim_version"`
	OS              string         `json:"os"`
	Arch            string         `json:"arch"`
	PlatformName    string         `json:"platform_name,omitempty"`
	PlatformVersion string         `json:"platform_version,omitempty"`
	SeenAt          time.Time      `json:"seen_at"`
}

// NewFileRepository creates a repository that reads/writes JSON at the provided path.
func NewFileRepository(path string) *FileRepository {
	return &FileRepository{
		path: filepath.Clean(path),
	}
}

// LatestRelease returns the release currently marked as latest.
func (r *FileRepository) LatestRelease(_ context.Context) (*domain.Release, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	doc, err := r.readDocument()
	if err != nil {
		return nil, err
	}

	if doc.Latest == nil {
		return nil, ErrNotFound
	}

	return releaseFromDocument(doc.Latest), nil
}

// SaveRelease stores the release as latest and prepends it to the history.
func (r *FileRepository) SaveRelease(_ context.Context, rel *domain.Release) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	doc, err := r.readDocument()
	if err != nil {
		return err
	}

	stored := releaseToDocument(rel)
	doc.Latest = stored
	doc.History = append([]*releaseDocument{stored}, doc.History...)

	if len(doc.History) > historyLimit {
		doc.History = doc.History[:historyLimit]
	}

	return r.writeDocument(doc)
}

// ListReleases returns up to limit history entries, newest first.
func (r *FileRepository) ListReleases(_ context.Context, limit int) ([]*domain.Release, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	doc, err := r.readDocument()
	if err != nil {
		return nil, err
	}

	history := doc.History
	if limit > 0 && limit < len(history) {
		history = history[:limit]
	}

	releases := make([]*domain.Release, 0, len(history))
	for _, stored := range history {
		releases = append(releases, releaseFromDocument(stored))
	}

	return releases, nil
}

// UpsertCheckIn stores the check-in under its machine identity.
func (r *FileRepository) UpsertCheckIn(_ context.Context, checkIn *domain.CheckIn) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	doc, err := r.readDocument()
	if err != nil {
		return err
	}

	if doc.Agents == nil {
		doc.Agents = make(map[string]*checkInDocument)
	}

	doc.Agents[checkIn.MachineID] = checkInToDocument(checkIn)

	return r.writeDocument(doc)
}

// ListAgents returns all stored check-ins, most recently seen first.
func (r *FileRepository) ListAgents(_ context.Context) ([]*domain.CheckIn, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	doc, err := r.readDocument()
	if err != nil {
		return nil, err
	}

	agents := make([]*domain.CheckIn, 0, len(doc.Agents))
	for _, stored := range doc.Agents {
		agents = append(agents, checkInFromDocument(stored))
	}

	slices.SortFunc(agents, func(a, b *domain.CheckIn) int {
		return b.SeenAt.Compare(a.SeenAt)
	})

	return agents, nil
}

// Close is a no-op for the file backend.
func (r *FileRepository) Close() error {
	return nil
}

// readDocument loads the state document from disk.
// A missing file yields an empty document. The caller must hold mu.
func (r *FileRepository) readDocument() (*stateDocument, error) {
	contents, err := os.ReadFile(r.path)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return new(stateDocument), nil
		}

		return nil, fmt.Errorf("read state file: %w", err)
	}

	var doc stateDocument
	if err = json.Unmarshal(contents, &doc); err != nil {
		return nil, fmt.Errorf("decode state file: %w", err)
	}

	return &doc, nil
}

// writeDocument stores the state document on disk. The caller must hold mu.
func (r *FileRepository) writeDocument(doc *stateDocument) error {
	data, err := json.MarshalIndent(doc, "", "  ")
	if err != nil {
		return fmt.Errorf("encode state: %w", err)
	}

	if err = os.WriteFile(r.path, data, config.DefaultFilePermissions); err != nil {
		return fmt.Errorf("write state file: %w", err)
	}

	return nil
}

// releaseFromDocument converts the stored representation into the domain model.
func releaseFromDocument(stored *releaseDocument) *domain.Release {
	return &domain.Release{
		Stamp: domain.Stamp{
			ReleaseVersion: stored.ReleaseVersion,
			GitCommit:      stored.GitCommit,
			RuntimeVersion: stored.RuntimeVersion,
			ShimVersion:    stored.ShimVersion,
		},
		PublishedAt: stored.PublishedAt,
		PublishedBy: actorFromDocument(stored.PublishedBy),
		Checksums:   stored.Checksums,
	}
}

// releaseToDocument converts the domain model into the stored representation.
func releaseToDocument(rel *domain.Release) *releaseDocument {
	return &releaseDocument{
		ReleaseVersion: rel.ReleaseVersion,
		GitCommit:      rel.GitCommit,
		RuntimeVersion: rel.RuntimeVersion,
		ShimVersion:    rel.ShimVersion,
		PublishedAt:    rel.PublishedAt,
		PublishedBy:    actorToDocument(rel.PublishedBy),
		Checksums:      rel.Checksums,
	}
}

// checkInFromDocument converts the stored representation into the domain model.
func checkInFromDocument(stored *checkInDocument) *domain.CheckIn {
	return &domain.CheckIn{
		Stamp: domain.Stamp{
			ReleaseVersion: stored.ReleaseVersion,
			GitCommit:      stored.GitCommit,
			RuntimeVersion: stored.RuntimeVersion,
			ShimVersion:    stored.ShimVersion,
		},
		ID:        stored.ID,
		MachineID: stored.MachineID,
		Actor:     actorFromDocument(stored.Actor),
		Platform: domain.Platform{
			OS:      stored.OS,
			Arch:    stored.Arch,
			Name:    stored.PlatformName,
			Version: stored.PlatformVersion,
		},
		SeenAt: stored.SeenAt,
	}
}

// checkInToDocument converts the domain model into the stored representation.
func checkInToDocument(checkIn *domain.CheckIn) *checkInDocument {
	return &checkInDocument{
		ID:              checkIn.ID,
		MachineID:       checkIn.MachineID,
		Actor:           actorToDocument(checkIn.Actor),
		ReleaseVersion:  checkIn.ReleaseVersion,
		GitCommit:       checkIn.GitCommit,
		RuntimeVersion:  checkIn.RuntimeVersion,
		ShimVersion:     checkIn.ShimVersion,
		OS:              checkIn.Platform.OS,
		Arch:            checkIn.Platform.Arch,
		PlatformName:    checkIn.Platform.Name,
		PlatformVersion: checkIn.Platform.Version,
		SeenAt:          checkIn.SeenAt,
	}
}

func actorFromDocument(stored *actorDocument) *domain.Actor {
	if stored == nil {
		return nil
	}

	return &domain.Actor{
		Hostname: stored.Hostname,
		Username: stored.Username,
	}
}

func actorToDocument(actor *domain.Actor) *actorDocument {
	if actor == nil {
		return nil
	}

	return &actorDocument{
		Hostname: actor.Hostname,
		Username: actor.Username,
	}
}
