package registry

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	_ "modernc.org/sqlite" // registers the "sqlite" database/sql driver

	domain "github.com/forgestamp/forgestamp/internal/domain/release"
)

// SQLiteRepository persists the registry state in a SQLite database.
type SQLiteRepository struct {
	db *sql.DB
}

// sqliteSchema creates the registry tables. Checksums are stored as a JSON
// blob: they are opaque to every query the registry runs.
const sqliteSchema = `
CREATE TABLE IF NOT EXISTS releases (
	id INTEGER PRIMARY KEY AUTOINCREMENT,
	release_version TEXT NOT NULL,
	git_commit TEXT NOT NULL,
	runtime_version TEXT NOT NULL,
	shim_version TEXT NOT NULL,
	published_at TIMESTAMP NOT NULL,
	published_by_hostname TEXT NOT NULL DEFAULT '',
	published_by_username TEXT NOT NULL DEFAULT '',
	checksums TEXT NOT NULL DEFAULT '{}'
);

CREATE INDEX IF NOT EXISTS idx_releases_published ON releases(published_at);

CREATE TABLE IF NOT EXISTS agents (
	machine_id TEXT PRIMARY KEY,
	checkin_id TEXT NOT NULL,
	hostname TEXT NOT NULL DEFAULT '',
	username TEXT NOT NULL DEFAULT '',
	release_version TEXT NOT NULL,
	git_commit TEXT NOT NULL,
	runtime_version TEXT NOT NULL,
	shim_version TEXT NOT NULL,
	os TEXT NOT NULL DEFAULT '',
	arch TEXT NOT NULL DEFAULT '',
	platform_name TEXT NOT NULL DEFAULT '',
	platform_version TEXT NOT NULL DEFAULT '',
	seen_at TIMESTAMP NOT NULL
);

CREATE INDEX IF NOT EXISTS idx_agents_seen ON agents(seen_at);
`

// NewSQLiteRepository opens (or creates) the database at the provided path
// and prepares the schema.
func NewSQLiteRepository(ctx context.Context, path string) (*SQLiteRepository, error) {
	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, fmt.Errorf("open database: %w", err)
	}

	// WAL keeps readers unblocked while check-ins are written.
	if _, err = db.ExecContext(ctx, "PRAGMA journal_mode=WAL"); err != nil {
		_ = db.Close()

		return nil, fmt.Errorf("enable WAL mode: %w", err)
	}

	if _, err = db.ExecContext(ctx, sqliteSchema); err != nil {
		_ = db.Close()

		return nil, fmt.Errorf("create schema: %w", err)
	}

	return &SQLiteRepository{db: db}, nil
}

// LatestRelease returns the most recently stored release.
func (r *SQLiteRepository) LatestRelease(ctx context.Context) (*domain.Release, error) {
	row := r.db.QueryRowContext(ctx, `
		SELECT release_version, git_commit, runtime_version, shim_version,
		       published_at, published_by_hostname, published_by_username, checksums
		FROM releases
		ORDER BY id DESC
		LIMIT 1`)

	rel, err := scanRelease(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	}

	if err != nil {
		return nil, fmt.Errorf("query latest release: %w", err)
	}

	return rel, nil
}

// SaveRelease appends the release and trims the history to its bound.
func (r *SQLiteRepository) SaveRelease(ctx context.Context, rel *domain.Release) error {
	checksums, err := json.Marshal(rel.Checksums)
	if err != nil {
		return fmt.Errorf("encode checksums: %w", err)
	}

	var hostname, username string
	if rel.PublishedBy != nil {
		hostname, username = rel.PublishedBy.Hostname, rel.PublishedBy.Username
	}

	_, err = r.db.ExecContext(ctx, `
		INSERT INTO releases (
			release_version, git_commit, runtime_version, shim_version,
			published_at, published_by_hostname, published_by_username, checksums
		) VALUES (?, ?, ?, ?, ?, ?, ?, ?)`,
		rel.ReleaseVersion,
		rel.GitCommit,
		rel.RuntimeVersion,
		rel.ShimVersion,
		rel.PublishedAt,
		hostname,
		username,
		string(checksums),
	)
	if err != nil {
		return fmt.Errorf("insert release: %w", err)
	}

	_, err = r.db.ExecContext(ctx, `
		DELETE FROM releases
		WHERE id NOT IN (SELECT id FROM releases ORDER BY id DESC LIMIT ?)`,
		historyLimit,
	)
	if err != nil {
		return fmt.Errorf("trim release history: %w", err)
	}

	return nil
}

// ListReleases returns up to limit releases, newest first.
func (r *SQLiteRepository) ListReleases(ctx context.Context, limit int) ([]*domain.Release, error) {
	if limit <= 0 || limit > historyLimit {
		limit = historyLimit
	}

	rows, err := r.db.QueryContext(ctx, `
		SELECT release_version, git_commit, runtime_version, shim_version,
		       published_at, published_by_hostname, published_by_username, checksums
		FROM releases
		ORDER BY id DESC
		LIMIT ?`, limit)
	if err != nil {
		return nil, fmt.Errorf("query releases: %w", err)
	}
	defer func() { _ = rows.Close() }()

	var releases []*domain.Release

	for rows.Next() {
		rel, err := scanRelease(rows)
		if err != nil {
			return nil, fmt.Errorf("scan release: %w", err)
		}

		releases = append(releases, rel)
	}

	if err = rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate releases: %w", err)
	}

	return releases, nil
}

// UpsertCheckIn stores the check-in, replacing any previous report from the
// same machine.
func (r *SQLiteRepository) UpsertCheckIn(ctx context.Context, checkIn *domain.CheckIn) error {
	var hostname, username string
	if checkIn.Actor != nil {
		hostname, username = checkIn.Actor.Hostname, checkIn.Actor.Username
	}

	_, err := r.db.ExecContext(ctx, `
		INSERT INTO agents (
			machine_id, checkin_id, hostname, username,
			release_version, git_commit, runtime_version, shim_version,
			os, arch, platform_name, platform_version, seen_at
		) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT(machine_id) DO UPDATE SET
			checkin_id = excluded.checkin_id,
			hostname = excluded.hostname,
			username = excluded.username,
			release_version = excluded.release_version,
			git_commit = excluded.git_commit,
			runtime_version = excluded.runtime_version,
			shim_version = excluded.shim_version,
			os = excluded.os,
			arch = excluded.arch,
			platform_name = excluded.platform_name,
			platform_version = excluded.platform_version,
			seen_at = excluded.seen_at`,
		checkIn.MachineID,
		checkIn.ID,
		hostname,
		username,
		checkIn.ReleaseVersion,
		checkIn.GitCommit,
		checkIn.RuntimeVersion,
		checkIn.ShimVersion,
		checkIn.Platform.OS,
		checkIn.Platform.Arch,
		checkIn.Platform.Name,
		checkIn.Platform.Version,
		checkIn.SeenAt,
	)
	if err != nil {
		return fmt.Errorf("upsert check-in: %w", err)
	}

	return nil
}

// ListAgents returns the latest check-in per machine, most recently seen first.
func (r *SQLiteRepository) ListAgents(ctx context.Context) ([]*domain.CheckIn, error) {
	rows, err := r.db.QueryContext(ctx, `
		SELECT machine_id, checkin_id, hostname, username,
		       release_version, git_commit, runtime_version, shim_version,
		       os, arch, platform_name, platform_version, seen_at
		FROM agents
		ORDER BY seen_at DESC`)
	if err != nil {
		return nil, fmt.Errorf("query agents: %w", err)
	}
	defer func() { _ = rows.Close() }()

	var agents []*domain.CheckIn

	for rows.Next() {
		var (
			checkIn            domain.CheckIn
			hostname, username string
			seenAt             time.Time
		)

		err = rows.Scan(
			&checkIn.MachineID,
			&checkIn.ID,
			&hostname,
			&username,
			&checkIn.ReleaseVersion,
			&checkIn.GitCommit,
			&checkIn.RuntimeVersion,
			&checkIn.ShimVersion,
			&checkIn.Platform.OS,
			&checkIn.Platform.Arch,
			&checkIn.Platform.Name,
			&checkIn.Platform.Version,
			&seenAt,
		)
		if err != nil {
			return nil, fmt.Errorf("scan check-in: %w", err)
		}

		checkIn.SeenAt = seenAt
		if hostname != "" || username != "" {
			checkIn.Actor = &domain.Actor{Hostname: hostname, Username: username}
		}

		agents = append(agents, &checkIn)
	}

	if err = rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate agents: %w", err)
	}

	return agents, nil
}

// Close closes the database connection.
func (r *SQLiteRepository) Close() error {
	return r.db.Close()
}

// scanRelease reads one release row from either a *sql.Row or *sql.Rows.
func scanRelease(row interface{ Scan(...any) error }) (*domain.Release, error) {
	var (
		rel                domain.Release
		hostname, username string
		checksums          string
		publishedAt        time.Time
	)

	err := row.Scan(
		&rel.ReleaseVersion,
		&rel.GitCommit,
		&rel.RuntimeVersion,
		&rel.ShimVersion,
		&publishedAt,
		&hostname,
		&username,
		&checksums,
	)
	if err != nil {
		return nil, err
	}

	rel.PublishedAt = publishedAt
	if hostname != "" || username != "" {
		rel.PublishedBy = &domain.Actor{Hostname: hostname, Username: username}
	}

	if err = json.Unmarshal([]byte(checksums), &rel.Checksums); err != nil {
		return nil, fmt.Errorf("decode checksums: %w", err)
	}

	return &rel, nil
}
