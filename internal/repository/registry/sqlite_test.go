package registry

import (
	"context"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

// newSQLiteForTest opens a throwaway database and closes it with the test.
func newSQLiteForTest(t *testing.T) *SQLiteRepository {
	t.Helper()

	repo, err := NewSQLiteRepository(context.Background(), filepath.Join(t.TempDir(), "registry.db"))
	require.NoError(t, err)
	t.Cleanup(func() { require.NoError(t, repo.Close()) })

	return repo
}

// TestSQLiteRepository_NotFound verifies LatestRelease reports ErrNotFound
// on an empty database.
func TestSQLiteRepository_NotFound(t *testing.T) {
	t.Parallel()

	repo := newSQLiteForTest(t)

	rel, err := repo.LatestRelease(context.Background())
	require.ErrorIs(t, err, ErrNotFound)
	require.Nil(t, rel)
}

// TestSQLiteRepository_SaveLoad_Roundtrip ensures releases survive the
// database roundtrip with checksums and publisher intact.
func TestSQLiteRepository_SaveLoad_Roundtrip(t *testing.T) {
	t.Parallel()

	repo := newSQLiteForTest(t)
	ctx := context.Background()

	first := testRelease("1.0.0")
	second := testRelease("1.1.0")

	require.NoError(t, repo.SaveRelease(ctx, first))
	require.NoError(t, repo.SaveRelease(ctx, second))

	latest, err := repo.LatestRelease(ctx)
	require.NoError(t, err)
	require.Equal(t, second.Stamp, latest.Stamp)
	require.Equal(t, second.PublishedBy, latest.PublishedBy)
	require.Equal(t, second.Checksums, latest.Checksums)
	require.Equal(t, second.PublishedAt.Unix(), latest.PublishedAt.Unix())

	history, err := repo.ListReleases(ctx, 10)
	require.NoError(t, err)
	require.Len(t, history, 2)
	require.Equal(t, "1.1.0", history[0].ReleaseVersion)
	require.Equal(t, "1.0.0", history[1].ReleaseVersion)
}

// TestSQLiteRepository_Agents verifies the machine-keyed upsert and ordering.
func TestSQLiteRepository_Agents(t *testing.T) {
	t.Parallel()

	repo := newSQLiteForTest(t)
	ctx := context.Background()
	now := time.Now().UTC().Truncate(time.Second)

	require.NoError(t, repo.UpsertCheckIn(ctx, testCheckIn("aaa", "1.0.0", now.Add(-time.Minute))))
	require.NoError(t, repo.UpsertCheckIn(ctx, testCheckIn("bbb", "1.0.0", now)))
	require.NoError(t, repo.UpsertCheckIn(ctx, testCheckIn("aaa", "1.1.0", now.Add(time.Minute))))

	agents, err := repo.ListAgents(ctx)
	require.NoError(t, err)
	require.Len(t, agents, 2)
	require.Equal(t, "aaa", agents[0].MachineID)
	require.Equal(t, "1.1.0", agents[0].ReleaseVersion)
	require.Equal(t, "svc-build", agents[0].Actor.Username)
	require.Equal(t, "bbb", agents[1].MachineID)
}
