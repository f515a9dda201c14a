package integration

import (
	"context"
	"net"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/forgestamp/forgestamp/internal/config"
	"github.com/forgestamp/forgestamp/internal/service/common"
	"github.com/forgestamp/forgestamp/internal/service/packager"
	upd "github.com/forgestamp/forgestamp/internal/service/updater"
	"github.com/forgestamp/forgestamp/internal/version"
)

// TestPackager_WritesManifestAndPublishes generates a manifest with
// placeholder artifacts and verifies the release lands in the registry.
func TestPackager_WritesManifestAndPublishes(t *testing.T) {
	// Setup test directory and change working directory.
	dir := t.TempDir()
	chdir(t, dir)

	// Publishing reports who built the release.
	if _, err := common.DetectActor(); err != nil {
		t.Skipf("actor detection unavailable: %v", err)
	}

	// Start a real registry protected by basic auth.
	addr := reservePort(t)
	statePath := filepath.Join(dir, "state.json")

	stop := startRegistry(t, &config.Config{
		RegistryAddress: addr,
		Storage:         config.StorageFile,
		StatePath:       statePath,
		AuthUsername:    "publisher",
		AuthPassword:    "sekret",
		Timeout:         5 * time.Second,
	})
	defer stop()

	// Create placeholder files expected by packager.
	for _, name := range upd.FilesWithChecksum() {
		f, err := os.Create(name)
		require.NoError(t, err)

		_ = f.Close()
	}

	// Run packager with timeout context.
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	options := &packager.Options{
		// Ensure the settings file is one of the checksummed files.
		ConfigPath:      config.DefaultConfigFilename,
		RegistryAddress: addr,
		UpdateFolder:    "http://localhost/updates",
		AuthUsername:    "publisher",
		AuthPassword:    "sekret",
	}

	err := packager.Run(ctx, options)
	require.NoError(t, err)

	// Verify the release manifest file was created.
	_, err = os.Stat(upd.ManifestFilename)
	require.NoError(t, err)

	// The registry now exposes the packaged release as the latest one.
	c, err := common.Dial(ctx, addr, common.WithCallTimeout(3*time.Second))
	require.NoError(t, err)

	defer func() {
		_ = c.Close()
	}()

	latest, err := c.LatestRelease(ctx)
	require.NoError(t, err)
	require.Equal(t, version.ReleaseVersion(), latest.ReleaseVersion)
	require.NotEmpty(t, latest.Checksums)
}

// reservePort returns an address on a free TCP port and closes it.
func reservePort(t *testing.T) string {
	t.Helper()

	l, err := net.Listen("tcp", "127.0.0.1:0")
	require.NoError(t, err)

	addr := l.Addr().String()
	_ = l.Close()

	return addr
}

// chdir changes the working directory for the duration of the test and
// restores the previous one on cleanup.
func chdir(t *testing.T, dir string) {
	t.Helper()

	wd, err := os.Getwd()
	require.NoError(t, err)

	require.NoError(t, os.Chdir(dir))

	t.Cleanup(func() {
		_ = os.Chdir(wd)
	})
}
