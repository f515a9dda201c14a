package updater

import (
	"context"
	"crypto"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/forgestamp/forgestamp/internal/config"
	"github.com/forgestamp/forgestamp/internal/logger"
	"github.com/forgestamp/forgestamp/internal/service/proc"
	"github.com/forgestamp/forgestamp/internal/version"

	// Ensure SHA512 is available for checksum calculation.
	_ "crypto/sha512"
)

var errHashUnavailable = errors.New("hash function unavailable")

const (
	// ManifestFilename stores the release manifest published to the update folder.
	ManifestFilename = "forgestamp-release.yaml"

	// MarkerFilename marks that the updater is running right now to avoid parallel execution.
	MarkerFilename = "forgestamp-update-marker.bin"

	// RoleAgent and RoleRegistry are the deployment roles an installation can have.
	RoleAgent    = "agent"
	RoleRegistry = "registry"

	// DefaultFileMode is used when producing artifacts for distribution.
	DefaultFileMode os.FileMode = 0o755

	// DefaultChecksumFunction is used to calculate update file hashes.
	DefaultChecksumFunction crypto.Hash = crypto.SHA512

	// Base executable names; platform helpers append extension when needed.
	baseRegistryExecutable = "forgestamp-registry"
	baseAgentExecutable    = "forgestamp-agent"
	baseUpdaterExecutable  = "forgestamp-updater"

	// markerLifetime is the period after which a stale update marker is ignored.
	markerLifetime = 30 * time.Second

	// defaultMapCapacity is the default initial capacity for maps and slices.
	defaultMapCapacity = 16

	// versionCommandTimeout is the timeout for executing version commands.
	versionCommandTimeout = 10 * time.Second
)

// RoleArtifacts returns artifact lists per role for the current platform.
func RoleArtifacts() map[string][]string {
	return map[string][]string{
		RoleAgent: {
			agentExecutable(),
			updaterExecutable(),
			config.DefaultConfigFilename,
		},
		RoleRegistry: {
			registryExecutable(),
			updaterExecutable(),
			config.DefaultConfigFilename,
		},
	}
}

// RoleExecutables returns the restart targets per role for the current platform.
func RoleExecutables() map[string]string {
	return map[string]string{
		RoleAgent:    agentExecutable(),
		RoleRegistry: registryExecutable(),
	}
}

// FilesWithChecksum returns the list of artifacts to hash for this platform.
func FilesWithChecksum() []string {
	return []string{
		agentExecutable(),
		registryExecutable(),
		updaterExecutable(),
		config.DefaultConfigFilename,
	}
}

// Manifest describes a published release and the artifacts it ships.
type Manifest struct {
	// ReleaseVersion is the semantic version of this release.
	ReleaseVersion string `yaml:"release_version"`
	// GitCommit is the commit the release was built from.
	GitCommit string `yaml:"git_commit"`
	// RuntimeVersion is the sandbox runtime library version shipped with the release.
	RuntimeVersion string `yaml:"runtime_version"`
	// ShimVersion is the builder shim version shipped with the release.
	ShimVersion string `yaml:"shim_version"`
	// Files maps filenames to their base64-encoded checksums.
	Files map[string]string `yaml:"files"`
	// Roles maps role names to lists of files required for that role.
	Roles map[string][]string `yaml:"roles"`
	// Executables maps role names to their primary executable files.
	Executables map[string]string `yaml:"executables"`
}

// NewManifest produces a Manifest stamped with the versions compiled into this binary.
func NewManifest() *Manifest {
	return &Manifest{
		ReleaseVersion: version.ReleaseVersion(),
		GitCommit:      version.GitCommit(),
		RuntimeVersion: version.RuntimeVersion(),
		ShimVersion:    version.ShimVersion(),
		Files:          make(map[string]string, defaultMapCapacity),
		Roles:          make(map[string][]string, defaultMapCapacity),
		Executables:    make(map[string]string, defaultMapCapacity),
	}
}

// GetFileChecksum returns checksum bytes for a file using DefaultChecksumFunction.
func GetFileChecksum(path string) ([]byte, error) {
	contents, err := os.ReadFile(filepath.Clean(path))
	if err != nil {
		return nil, err
	}

	if !DefaultChecksumFunction.Available() {
		return nil, fmt.Errorf("checksum calculation not possible: %w", errHashUnavailable)
	}

	hasher := DefaultChecksumFunction.New()
	if _, err = hasher.Write(contents); err != nil {
		return nil, fmt.Errorf("calculate checksum: %w", err)
	}

	hash := hasher.Sum(nil)

	return hash, nil
}

// IsUpdaterRunningNow checks presence of a marker file and attempts recovery if it looks stale.
func IsUpdaterRunningNow(ctx context.Context) bool {
	logger.Info(ctx, "Checking for the presence of an update marker")

	fileInfo, err := os.Stat(MarkerFilename)
	if err == nil {
		if time.Since(fileInfo.ModTime()) <= markerLifetime {
			return true
		}

		logger.Info(ctx, "The update marker is too old, attempting cleanup")

		if err = proc.TerminateByName(updaterExecutable()); err != nil {
			return true
		}

		if err = os.Remove(MarkerFilename); err != nil {
			return true
		}

		return false
	}

	if errors.Is(err, os.ErrNotExist) {
		logger.Info(ctx, "Update marker not found, continuing")
		return false
	}

	logger.Infof(ctx, "Unable to read update marker: %v", err)

	return false
}

func registryExecutable() string {
	return proc.WithExtension(baseRegistryExecutable)
}

func agentExecutable() string {
	return proc.WithExtension(baseAgentExecutable)
}

func updaterExecutable() string {
	return proc.WithExtension(baseUpdaterExecutable)
}
