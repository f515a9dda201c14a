package integration

import (
	"context"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/forgestamp/forgestamp/internal/api/httpapi"
	"github.com/forgestamp/forgestamp/internal/config"
	"github.com/forgestamp/forgestamp/internal/service/common"
	"github.com/forgestamp/forgestamp/internal/service/registry"
)

// startRegistry starts an HTTP registry with a temporary config file built
// from cfg. Returns a stop function that blocks until the server has shut down.
func startRegistry(t *testing.T, cfg *config.Config) (stop func()) {
	t.Helper()

	// Create cancellable context for the registry lifecycle.
	ctx, cancel := context.WithCancel(context.Background())
	cfgPath := filepath.Join(t.TempDir(), "settings.yaml")

	// Create temporary configuration file.
	require.NoError(t, config.Save(cfgPath, cfg))

	done := make(chan struct{})

	// Start registry in background goroutine.
	go func() {
		defer close(done)

		options := &registry.Options{
			ConfigPath: cfgPath,
		}

		_ = registry.Run(ctx, options) //nolint:errcheck // Startup is verified through the health endpoint below.
	}()

	waitForRegistry(t, cfg.RegistryAddress)

	return func() {
		cancel()

		select {
		case <-done:
		case <-time.After(5 * time.Second):
			t.Fatal("registry did not stop in time")
		}
	}
}

// waitForRegistry polls the health endpoint until the registry answers.
func waitForRegistry(t *testing.T, addr string) {
	t.Helper()

	c, err := common.Dial(context.Background(), addr, common.WithCallTimeout(time.Second))
	require.NoError(t, err)

	defer func() {
		_ = c.Close()
	}()

	require.Eventually(t, func() bool {
		_, healthErr := c.Health(context.Background())
		return healthErr == nil
	}, 5*time.Second, 25*time.Millisecond, "registry did not start listening")
}

// TestRegistry_Roundtrip_FileBackend exercises publish, check-in and restart
// recovery against the JSON file backend.
func TestRegistry_Roundtrip_FileBackend(t *testing.T) {
	t.Parallel()

	testRegistryRoundtrip(t, config.StorageFile, "state.json")
}

// TestRegistry_Roundtrip_SQLiteBackend exercises publish, check-in and restart
// recovery against the sqlite backend.
func TestRegistry_Roundtrip_SQLiteBackend(t *testing.T) {
	t.Parallel()

	testRegistryRoundtrip(t, config.StorageSQLite, "registry.db")
}

//nolint:funlen // Integration test walks the whole publish and check-in flow.
func testRegistryRoundtrip(t *testing.T, storage, stateFilename string) {
	t.Helper()

	// Setup registry with persistent state in a temporary directory.
	addr := reservePort(t)
	statePath := filepath.Join(t.TempDir(), stateFilename)

	stop := startRegistry(t, &config.Config{
		RegistryAddress: addr,
		Storage:         storage,
		StatePath:       statePath,
		Timeout:         5 * time.Second,
	})
	defer stop()

	ctx := context.Background()

	// Connect to the test registry with timeout.
	c, err := common.Dial(ctx, addr, common.WithCallTimeout(3*time.Second))
	require.NoError(t, err)

	defer func() {
		_ = c.Close()
	}()

	// Nothing has been published yet.
	_, err = c.LatestRelease(ctx)
	require.ErrorIs(t, err, common.ErrNoRelease)

	// Publish a release.
	published, err := c.PublishRelease(ctx, &httpapi.PublishReleaseRequest{
		ReleaseVersion: "1.4.0",
		GitCommit:      "0a1b2c3",
		RuntimeVersion: "2.3.1",
		ShimVersion:    "1.4.0",
		Checksums:      map[string]string{"forgestamp-agent": "c2hhNTEy"},
		Actor:          &httpapi.ActorPayload{Hostname: "build-host", Username: "builder"},
	})
	require.NoError(t, err)
	require.Equal(t, "1.4.0", published.ReleaseVersion)

	// The published release becomes the latest one.
	latest, err := c.LatestRelease(ctx)
	require.NoError(t, err)
	require.Equal(t, "1.4.0", latest.ReleaseVersion)
	require.Equal(t, "0a1b2c3", latest.GitCommit)

	// An agent on an older release is told to update.
	verdict, err := c.SendCheckIn(ctx, &httpapi.CheckInRequest{
		MachineID:      "integration-machine",
		Actor:          &httpapi.ActorPayload{Hostname: "agent-host", Username: "agent-user"},
		ReleaseVersion: "1.3.0",
		GitCommit:      "9d8e7f6",
		RuntimeVersion: "2.3.0",
		ShimVersion:    "1.3.0",
		Platform:       httpapi.PlatformPayload{OS: "linux", Arch: "amd64"},
	})
	require.NoError(t, err)
	require.True(t, verdict.UpdateAvailable)
	require.Equal(t, "1.4.0", verdict.LatestReleaseVersion)
	require.True(t, verdict.CheckIn.Stale)

	// The check-in shows up in the agents list.
	agents, err := c.ListAgents(ctx)
	require.NoError(t, err)
	require.Equal(t, 1, agents.Total)
	require.Equal(t, "integration-machine", agents.Agents[0].MachineID)

	// Verify state was persisted to disk.
	_, err = os.Stat(statePath)
	require.NoError(t, err)

	// Restart on a fresh port with the same state and verify the release survived.
	stop()

	restartAddr := reservePort(t)
	stopRestarted := startRegistry(t, &config.Config{
		RegistryAddress: restartAddr,
		Storage:         storage,
		StatePath:       statePath,
		Timeout:         5 * time.Second,
	})
	defer stopRestarted()

	restarted, err := common.Dial(ctx, restartAddr, common.WithCallTimeout(3*time.Second))
	require.NoError(t, err)

	defer func() {
		_ = restarted.Close()
	}()

	recovered, err := restarted.LatestRelease(ctx)
	require.NoError(t, err)
	require.Equal(t, "1.4.0", recovered.ReleaseVersion)

	// Agent history survives the restart as well.
	agents, err = restarted.ListAgents(ctx)
	require.NoError(t, err)
	require.Equal(t, 1, agents.Total)
}
