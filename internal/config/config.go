package config

import (
	"errors"
	"fmt"
	"net"
	"net/url"
	"os"
	"path/filepath"
	"time"

	"gopkg.in/yaml.v3"

	"github.com/forgestamp/forgestamp/internal/logger"
)

// Config holds connection parameters shared by the forgestamp binaries.
type Config struct {
	// RegistryAddress is the HTTP address of the release registry.
	RegistryAddress string `yaml:"registry_addr"`
	// UpdateFolder is the URL where release artifacts are hosted.
	UpdateFolder string `yaml:"update_folder"`
	// Storage selects the registry persistence backend: "file" or "sqlite".
	Storage string `yaml:"storage"`
	// StatePath is the backend path: a JSON state file for the file backend
	// or a database file for the sqlite backend.
	StatePath string `yaml:"state_path"`
	// LogLevel is the minimum level for log output.
	LogLevel string `yaml:"log_level"`
	// AuthUsername and AuthPassword protect the mutating registry endpoints
	// with HTTP Basic Auth when both are set.
	AuthUsername string `yaml:"auth_username"`
	AuthPassword string `yaml:"auth_password"`
	// Timeout is the duration for network operations and API calls.
	Timeout time.Duration `yaml:"timeout"`
	// UpdateRole is set at runtime by the updater to pick a role-specific
	// file set from the release manifest. It is not persisted to YAML.
	UpdateRole string `yaml:"-"`
}

const (
	// DefaultConfigFilename is the default filename for connection settings.
	DefaultConfigFilename = "forgestamp-settings.yaml"

	// DefaultStateFilename is the default filename for the file-backend registry state.
	DefaultStateFilename = "forgestamp-registry-state.json"

	// DefaultDatabaseFilename is the default filename for the sqlite-backend database.
	DefaultDatabaseFilename = "forgestamp-registry.db"

	// DefaultTimeout is the default duration for network operations.
	DefaultTimeout = 5 * time.Second

	// DefaultFilePermissions is the default file permission for config files.
	DefaultFilePermissions = 0o600

	// DefaultLogLevel is the log level used when the settings omit one.
	DefaultLogLevel = "info"
)

// Registry persistence backends accepted in the "storage" setting.
const (
	StorageFile   = "file"
	StorageSQLite = "sqlite"
)

var (
	// errConfigIsNotSet is returned when a nil configuration is provided.
	errConfigIsNotSet = errors.New("configuration is not set")
	// errRegistrySocketRequired is returned when the registry address is missing.
	errRegistrySocketRequired = errors.New("registry address must be provided")
	// errUnknownStorageBackend is returned for storage values other than file or sqlite.
	errUnknownStorageBackend = errors.New("unknown storage backend")
	// errUnknownLogLevel is returned for unparseable log levels.
	errUnknownLogLevel = errors.New("unknown log level")
)

// Load reads configuration from the provided path and validates essential fields.
func Load(path string) (*Config, error) {
	if path == "" {
		path = DefaultConfigFilename
	}

	contents, err := os.ReadFile(filepath.Clean(path))
	if err != nil {
		return nil, fmt.Errorf("read settings: %w", err)
	}

	var cfg Config
	if err := yaml.Unmarshal(contents, &cfg); err != nil {
		return nil, fmt.Errorf("unmarshal settings: %w", err)
	}

	if err := Validate(&cfg); err != nil {
		return nil, err
	}

	return &cfg, nil
}

// Save writes the settings to the provided path.
func Save(path string, cfg *Config) error {
	if cfg == nil {
		return errConfigIsNotSet
	}

	if path == "" {
		path = DefaultConfigFilename
	}

	if err := Validate(cfg); err != nil {
		return err
	}

	data, err := yaml.Marshal(cfg)
	if err != nil {
		return fmt.Errorf("marshal settings: %w", err)
	}

	// Restrict permissions.
	if err := os.WriteFile(filepath.Clean(path), data, DefaultFilePermissions); err != nil {
		return fmt.Errorf("write settings: %w", err)
	}

	return nil
}

// ApplyLogLevel switches the global logger to the configured level.
func ApplyLogLevel(settings *Config) {
	if settings == nil {
		return
	}

	if level, ok := logger.ParseLogLevel(settings.LogLevel); ok {
		logger.SetLevel(level)
	}
}

// Validate checks the provided settings for required fields and formatting,
// filling in defaults for omitted optional fields.
func Validate(settings *Config) error {
	if settings == nil {
		return errConfigIsNotSet
	}

	if settings.RegistryAddress == "" {
		return errRegistrySocketRequired
	}

	if _, err := net.ResolveTCPAddr("tcp", settings.RegistryAddress); err != nil {
		return fmt.Errorf("invalid registry socket: %w", err)
	}

	if settings.Timeout <= 0 {
		settings.Timeout = DefaultTimeout
	}

	if settings.Storage == "" {
		settings.Storage = StorageFile
	}

	if settings.Storage != StorageFile && settings.Storage != StorageSQLite {
		return fmt.Errorf("%w: %q", errUnknownStorageBackend, settings.Storage)
	}

	if settings.StatePath == "" {
		settings.StatePath = DefaultStateFilename
		if settings.Storage == StorageSQLite {
			settings.StatePath = DefaultDatabaseFilename
		}
	}

	if settings.LogLevel == "" {
		settings.LogLevel = DefaultLogLevel
	}

	if _, ok := logger.ParseLogLevel(settings.LogLevel); !ok {
		return fmt.Errorf("%w: %q", errUnknownLogLevel, settings.LogLevel)
	}

	if settings.UpdateFolder == "" {
		return nil
	}

	if _, err := url.ParseRequestURI(settings.UpdateFolder); err != nil {
		return fmt.Errorf("invalid update folder URI: %w", err)
	}

	return nil
}
