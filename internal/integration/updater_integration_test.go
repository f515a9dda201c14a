package integration

import (
	"context"
	"crypto/sha512"
	"encoding/base64"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
	"gopkg.in/yaml.v3"

	"github.com/forgestamp/forgestamp/internal/config"
	"github.com/forgestamp/forgestamp/internal/service/updater"
)

// TestUpdater_Run_FetchesAndApplies serves a manifest and file over HTTP and verifies the updater downloads and applies before failing to start.
//
//nolint:funlen // Integration test requires comprehensive setup and verification.
func TestUpdater_Run_FetchesAndApplies(t *testing.T) {
	// Setup test directory and change working directory.
	dir := t.TempDir()
	chdir(t, dir)

	// Start a real registry for the reachability check.
	addr := reservePort(t)
	statePath := filepath.Join(dir, "state.json")

	stop := startRegistry(t, &config.Config{
		RegistryAddress: addr,
		Storage:         config.StorageFile,
		StatePath:       statePath,
		Timeout:         5 * time.Second,
	})
	defer stop()

	// Prepare test file content and checksum for download.
	fileName := "dummy.bin"
	fileBody := []byte("dummy-contents")
	checksum := sha512.Sum512(fileBody)
	checksumB64 := base64.StdEncoding.EncodeToString(checksum[:])

	// Create release manifest with the test file.
	manifest := &updater.Manifest{
		ReleaseVersion: "9.9.9",
		GitCommit:      "f00dfeed",
		RuntimeVersion: "9.9.9",
		ShimVersion:    "9.9.9",
		Files:          map[string]string{fileName: checksumB64},
		Roles:          map[string][]string{updater.RoleAgent: {fileName}},
		Executables:    map[string]string{updater.RoleAgent: "nonexistent-binary"},
	}

	manifestBytes, err := yaml.Marshal(manifest)
	require.NoError(t, err)

	// Setup HTTP server to serve manifest and files.
	mux := http.NewServeMux()
	mux.HandleFunc(
		"/"+updater.ManifestFilename,
		func(w http.ResponseWriter, _ *http.Request) {
			_, _ = w.Write(manifestBytes)
		},
	)

	mux.HandleFunc("/"+fileName, func(w http.ResponseWriter, _ *http.Request) {
		_, _ = w.Write(fileBody)
	})

	ts := httptest.NewServer(mux)
	defer ts.Close()

	// Create configuration file pointing to the test HTTP server.
	cfgPath := filepath.Join(dir, config.DefaultConfigFilename)
	cfg := &config.Config{
		RegistryAddress: addr,
		UpdateFolder:    ts.URL,
	}

	require.NoError(t, config.Save(cfgPath, cfg))

	// Run updater - expect error because the role executable cannot start.
	updaterOptions := &updater.Options{
		ConfigPath: cfgPath,
		UpdateRole: updater.RoleAgent,
	}

	err = updater.Run(context.Background(), updaterOptions)
	require.Error(t, err)

	// Verify the file was downloaded and applied before the start failure.
	applied, err := os.ReadFile(fileName)
	require.NoError(t, err)
	require.Equal(t, fileBody, applied)

	// The running marker must not outlive the run.
	_, err = os.Stat(updater.MarkerFilename)
	require.ErrorIs(t, err, os.ErrNotExist)
}
