package updater

import (
	"context"
	"crypto/sha512"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/forgestamp/forgestamp/internal/config"
	"github.com/forgestamp/forgestamp/internal/version"
)

// TestNewManifest verifies the manifest is stamped with the compiled-in versions.
func TestNewManifest(t *testing.T) {
	t.Parallel()

	m := NewManifest()

	require.Equal(t, version.ReleaseVersion(), m.ReleaseVersion)
	require.Equal(t, version.GitCommit(), m.GitCommit)
	require.Equal(t, version.RuntimeVersion(), m.RuntimeVersion)
	require.Equal(t, version.ShimVersion(), m.ShimVersion)
	require.NotNil(t, m.Files)
	require.NotNil(t, m.Roles)
	require.NotNil(t, m.Executables)
}

// TestRoleTables checks the per-role artifact and executable tables.
func TestRoleTables(t *testing.T) {
	t.Parallel()

	artifacts := RoleArtifacts()
	require.Contains(t, artifacts, RoleAgent)
	require.Contains(t, artifacts, RoleRegistry)

	for role, files := range artifacts {
		require.Contains(t, files, updaterExecutable(), "role %s must ship the updater", role)
		require.Contains(t, files, config.DefaultConfigFilename, "role %s must ship the settings file", role)
	}

	executables := RoleExecutables()
	require.Equal(t, agentExecutable(), executables[RoleAgent])
	require.Equal(t, registryExecutable(), executables[RoleRegistry])

	require.Contains(t, FilesWithChecksum(), config.DefaultConfigFilename)
}

// TestGetFileChecksum compares the helper against a direct SHA512 sum.
func TestGetFileChecksum(t *testing.T) {
	t.Parallel()

	path := filepath.Join(t.TempDir(), "artifact.bin")
	content := []byte("forgestamp test artifact")
	require.NoError(t, os.WriteFile(path, content, 0o600))

	checksum, err := GetFileChecksum(path)
	require.NoError(t, err)

	expected := sha512.Sum512(content)
	require.Equal(t, expected[:], checksum)

	_, err = GetFileChecksum(filepath.Join(t.TempDir(), "missing.bin"))
	require.Error(t, err)
}

// TestParseVersionFromOutput covers the version command output format.
func TestParseVersionFromOutput(t *testing.T) {
	t.Parallel()

	v, err := parseVersionFromOutput("version: 1.2.3, commit: f3a9c1d, runtime: 0.9.2, shim: 0.3.1\n")
	require.NoError(t, err)
	require.Equal(t, "1.2.3", v)

	v, err = parseVersionFromOutput("version: 0.0.0")
	require.NoError(t, err)
	require.Equal(t, "0.0.0", v)

	_, err = parseVersionFromOutput("some unrelated output")
	require.ErrorIs(t, err, errInvalidVersionOutput)

	_, err = parseVersionFromOutput("version: ")
	require.ErrorIs(t, err, errInvalidVersionOutput)
}

// TestUpdateDirection classifies upgrades, rollbacks, and unparseable versions.
func TestUpdateDirection(t *testing.T) {
	t.Parallel()

	require.Equal(t, "upgrade", updateDirection("1.0.0", "2.0.0"))
	require.Equal(t, "rollback", updateDirection("2.0.0", "1.0.0"))
	require.Equal(t, "unknown", updateDirection("dev-build", "1.0.0"))
	require.Equal(t, "unknown", updateDirection("1.0.0", "dev-build"))
}

// TestRunnerValidation exercises role validation before any marker is written.
func TestRunnerValidation(t *testing.T) {
	t.Parallel()

	_, err := newRunner(context.Background(), &Options{UpdateRole: "butler"})
	require.ErrorIs(t, err, errUnknownRole)
}
