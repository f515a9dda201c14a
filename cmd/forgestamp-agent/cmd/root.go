package cmd

import (
	"context"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	"github.com/forgestamp/forgestamp/internal/config"
	"github.com/forgestamp/forgestamp/internal/service/agent"
	"github.com/forgestamp/forgestamp/internal/version"
)

var (
	// configPath stores the path to the configuration YAML file.
	configPath string
	// interval between check-ins.
	interval time.Duration
	// timeout for each registry call, zero means use the config value.
	timeout time.Duration
	// autoUpdate launches the updater when the running release goes stale.
	autoUpdate bool
	// debug controls whether to skip the updater launch when a release goes stale.
	debug bool

	// rootCmd represents the base command for reporting installed versions.
	rootCmd = &cobra.Command{
		Use:   "forgestamp-agent [registry-address]",
		Short: "Report installed versions and keep this machine up to date.",
		Long: `Background service that reports the compiled-in versions to the release registry.

Continuously checks in at a fixed interval so the fleet overview stays current.
Each check-in carries the machine identity, platform details and the build stamp
baked into this binary at link time. When the registry reports a newer release
and auto-update is enabled, the agent launches the updater and exits so its own
binary can be replaced.
Registry address can be provided as argument or loaded from configuration file.

This runs as a background service on every machine that should follow releases.`,
		Args: cobra.MaximumNArgs(1),
		RunE: func(_ *cobra.Command, args []string) error {
			// Setup graceful shutdown handling.
			ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGTERM, syscall.SIGINT)
			defer stop()

			// Use registry address argument if provided, otherwise rely on config.
			var registryAddress string
			if len(args) > 0 {
				registryAddress = args[0]
			}

			options := &agent.Options{
				ConfigPath:      configPath,
				RegistryAddress: registryAddress,
				CheckInInterval: interval,
				Timeout:         timeout,
				AutoUpdate:      autoUpdate,
				Debug:           debug,
			}

			return agent.Run(ctx, options)
		},
	}
)

// Execute runs the forgestamp-agent CLI and exits with non-zero status on error.
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
		DurationVarP(&interval, "interval", "i", agent.DefaultCheckInInterval, "delay between check-ins")
	rootCmd.Flags().
		DurationVarP(&timeout, "timeout", "t", 0, "per-call timeout (defaults to the config value)")
	rootCmd.Flags().
		BoolVarP(&autoUpdate, "auto-update", "u", false, "launch the updater when a newer release is published")

	// Hidden debug flag to skip the updater launch for debugging.
	rootCmd.Flags().BoolVarP(&debug, "debug", "d", false, "skip the updater launch for debugging")

	err := rootCmd.Flags().MarkHidden("debug")
	if err != nil {
		panic(err)
	}
}
