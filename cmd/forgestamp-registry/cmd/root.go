package cmd

import (
	"context"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"

	"github.com/forgestamp/forgestamp/internal/config"
	"github.com/forgestamp/forgestamp/internal/service/registry"
	"github.com/forgestamp/forgestamp/internal/version"
)

var (
	// configPath to the configuration YAML file.
	configPath string
	// statePath where registry state is persisted.
	statePath string

	// rootCmd represents the base command for running the release registry.
	rootCmd = &cobra.Command{
		Use:   "forgestamp-registry [listen-address]",
		Short: "Run the release registry and track agent check-ins.",
		Long: `Starts the HTTP registry that records published releases and agent check-ins.

The registry listens on the specified address or uses settings from configuration file.
Only the port from RegistryAddress config is used for listening (e.g., :8080).
Listen address can be provided as argument to override config (e.g., :9090, 0.0.0.0:8080).
Releases and check-ins are persisted to the configured storage backend for recovery across restarts.`,
		Args: cobra.MaximumNArgs(1),
		RunE: func(_ *cobra.Command, args []string) error {
			// Setup graceful shutdown handling.
			ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGTERM, syscall.SIGINT)
			defer stop()

			// Use listen address argument if provided, otherwise rely on config.
			var listenAddress string
			if len(args) > 0 {
				listenAddress = args[0]
			}

			options := &registry.Options{
				ConfigPath:    configPath,
				ListenAddress: listenAddress,
				StatePath:     statePath,
			}

			return registry.Run(ctx, options)
		},
	}
)

// Execute runs the forgestamp-registry CLI and exits with non-zero status on error.
func Execute() {
	version.AttachCobraVersionCommand(rootCmd)

	if err := rootCmd.Execute(); err != nil {
		os.Exit(1)
	}
}

//nolint:gochecknoinits // Required by Cobra CLI framework architecture.
func init() {
	// Setup command flags with consistent naming and descriptions.
	rootCmd.Flags().StringVarP(&configPath, "config", "c", config.DefaultConfigFilename, "path to configuration file")
	rootCmd.Flags().
		StringVarP(&statePath, "state-path", "s", "", "path to persist registry state (defaults to the storage backend default)")
}
