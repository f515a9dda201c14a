package registry

import (
	"context"
	"errors"
	"fmt"
	"net"
	"time"

	"github.com/forgestamp/forgestamp/internal/api/httpapi"
	"github.com/forgestamp/forgestamp/internal/config"
	"github.com/forgestamp/forgestamp/internal/logger"
	repository "github.com/forgestamp/forgestamp/internal/repository/registry"
)

// Options controls the forgestamp-registry process and configuration.
type Options struct {
	// ConfigPath specifies the path to settings YAML file.
	ConfigPath string
	// ListenAddress provides an optional listen address override for the HTTP server.
	ListenAddress string
	// StatePath overrides the storage location from the configuration.
	StatePath string
}

// ErrNoRegistryAddress indicates missing registry configuration.
var ErrNoRegistryAddress = errors.New("no registry address configured")

// shutdownTimeout bounds graceful HTTP shutdown once the context is canceled.
const shutdownTimeout = 10 * time.Second

// Run starts the registry HTTP server and blocks until the context is
// canceled or the server stops. Loads configuration first, then determines
// the listen address from config or override.
func Run(ctx context.Context, opts *Options) error {
	// Set context with logger name for tracking.
	ctx = logger.WithName(ctx, "forgestamp-registry")

	// Load configuration first to get registry settings.
	settings, err := config.Load(opts.ConfigPath)
	if err != nil {
		return fmt.Errorf("load settings: %w", err)
	}

	config.ApplyLogLevel(settings)

	// Use StatePath from config unless overridden by command line option.
	statePath := settings.StatePath
	if opts.StatePath != "" {
		statePath = opts.StatePath
	}

	// Determine listen address: CLI argument overrides config port extraction.
	listenAddress, err := resolveListenAddress(settings.RegistryAddress, opts.ListenAddress)
	if err != nil {
		return fmt.Errorf("resolve listen address: %w", err)
	}

	// Initialize storage for releases and agent check-ins.
	repo, err := repository.New(ctx, settings.Storage, statePath)
	if err != nil {
		return fmt.Errorf("initialise repository: %w", err)
	}

	defer func() {
		if closeErr := repo.Close(); closeErr != nil {
			logger.Errorf(ctx, "Failed to close repository: %v", closeErr)
		}
	}()

	// Create release coordination service on top of the repository.
	svc, err := newService(ctx, repo)
	if err != nil {
		return fmt.Errorf("initialise service: %w", err)
	}

	srv := httpapi.NewServer(svc, httpapi.Options{
		ListenAddress: listenAddress,
		AuthUsername:  settings.AuthUsername,
		AuthPassword:  settings.AuthPassword,
	})

	logger.InfoKV(ctx, "Registry listening",
		"listen_address", listenAddress,
		"storage", settings.Storage,
		"state_path", statePath)

	// Done channel is closed after Shutdown finishes to ensure we block
	// until the server fully stops before returning.
	done := make(chan struct{})

	go func() {
		<-ctx.Done()
		logger.Info(ctx, "Shutting down HTTP server")

		shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
		defer cancel()

		if shutdownErr := srv.Shutdown(shutdownCtx); shutdownErr != nil {
			logger.Errorf(ctx, "Failed to shut down HTTP server: %v", shutdownErr)
		}

		close(done)
	}()

	if err := srv.Start(ctx); err != nil {
		return fmt.Errorf("serve HTTP: %w", err)
	}

	<-done
	logger.Info(ctx, "HTTP server stopped")

	return nil
}

// resolveListenAddress determines the listen address for the HTTP server.
// If override is provided, uses it directly. Otherwise extracts port from configAddr.
// Returns appropriate listen address (e.g., ":8080" for port-only binding).
func resolveListenAddress(configAddr, override string) (string, error) {
	// Use override address if provided (e.g., ":9090", "0.0.0.0:8080").
	if override != "" {
		return override, nil
	}

	// Extract port from config address (e.g., "registry.example.com:8080" -> ":8080").
	if configAddr == "" {
		return "", ErrNoRegistryAddress
	}

	// Parse the address to extract port.
	_, port, err := net.SplitHostPort(configAddr)
	if err != nil {
		return "", fmt.Errorf("invalid registry address format %q: %w", configAddr, err)
	}

	// Return port-only listen address to bind on all interfaces.
	return ":" + port, nil
}
