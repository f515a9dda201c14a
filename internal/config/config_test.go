package config

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zapcore"

	"github.com/forgestamp/forgestamp/internal/logger"
)

// TestValidate checks required fields and format validations for settings.
func TestValidate(t *testing.T) {
	t.Parallel()

	// Missing socket.
	settings := new(Config)

	err := Validate(settings)
	require.Error(t, err)

	// Bad socket.
	settings = &Config{
		RegistryAddress: "bad:address",
	}

	err = Validate(settings)
	require.Error(t, err)

	// Okay with update folder; defaults are filled in.
	settings = &Config{
		RegistryAddress: "127.0.0.1:0",
		UpdateFolder:    "https://example.com/x",
	}

	err = Validate(settings)
	require.NoError(t, err)
	require.Equal(t, StorageFile, settings.Storage)
	require.Equal(t, DefaultStateFilename, settings.StatePath)
	require.Equal(t, DefaultLogLevel, settings.LogLevel)
	require.Equal(t, DefaultTimeout, settings.Timeout)
}

// TestValidateStorage checks backend selection and its per-backend state path default.
func TestValidateStorage(t *testing.T) {
	t.Parallel()

	settings := &Config{
		RegistryAddress: "127.0.0.1:0",
		Storage:         StorageSQLite,
	}

	require.NoError(t, Validate(settings))
	require.Equal(t, DefaultDatabaseFilename, settings.StatePath)

	settings = &Config{
		RegistryAddress: "127.0.0.1:0",
		Storage:         "redis",
	}

	require.Error(t, Validate(settings))
}

// TestValidateLogLevel rejects levels the logger cannot parse.
func TestValidateLogLevel(t *testing.T) {
	t.Parallel()

	settings := &Config{
		RegistryAddress: "127.0.0.1:0",
		LogLevel:        "loud",
	}

	require.Error(t, Validate(settings))
}

// TestApplyLogLevel verifies the configured level reaches the global logger.
// It mutates the shared level, so it deliberately avoids t.Parallel.
func TestApplyLogLevel(t *testing.T) {
	previous := logger.Level()
	t.Cleanup(func() { logger.SetLevel(previous) })

	ApplyLogLevel(&Config{LogLevel: "debug"})
	require.Equal(t, zapcore.DebugLevel, logger.Level())

	// Nil settings and unknown levels leave the logger untouched.
	ApplyLogLevel(nil)
	ApplyLogLevel(&Config{LogLevel: "loud"})
	require.Equal(t, zapcore.DebugLevel, logger.Level())
}

// TestSaveLoadRoundtrip ensures settings are persisted and loaded back correctly.
func TestSaveLoadRoundtrip(t *testing.T) {
	t.Parallel()

	dir := t.TempDir()
	path := filepath.Join(dir, "settings.yaml")

	settings := &Config{
		RegistryAddress: "127.0.0.1:7410",
		UpdateFolder:    "https://updates.local/",
	}

	require.NoError(t, Save(path, settings))

	loaded, err := Load(path)
	require.NoError(t, err)
	require.Equal(t, settings.RegistryAddress, loaded.RegistryAddress)
	require.Equal(t, settings.UpdateFolder, loaded.UpdateFolder)

	// File exists.
	_, err = os.Stat(path)
	require.NoError(t, err)
}
