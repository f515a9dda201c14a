package cmd

import (
	"context"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"

	"github.com/forgestamp/forgestamp/internal/config"
	"github.com/forgestamp/forgestamp/internal/service/fleet"
	"github.com/forgestamp/forgestamp/internal/version"
)

var (
	// configPath stores the path to the configuration YAML file.
	configPath string
	// output selects the report format.
	output string
	// limit bounds how many historical releases are fetched.
	limit int

	// rootCmd represents the base command for showing fleet status.
	rootCmd = &cobra.Command{
		Use:   "forgestamp-fleet [registry-address]",
		Short: "Show published releases and agent status.",
		Long: `Fetches the latest release, release history and agent check-ins from the registry.

Renders tables for humans by default, or JSON for scripting with --output json.
Agents running a release older than the latest published one are marked stale.
Registry address can be provided as argument or loaded from configuration file.`,
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

			options := &fleet.Options{
				ConfigPath:      configPath,
				RegistryAddress: registryAddress,
				Output:          output,
				Limit:           limit,
			}

			return fleet.Run(ctx, options)
		},
	}
)

// Execute runs the forgestamp-fleet CLI and exits with non-zero status on error.
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
	rootCmd.Flags().StringVarP(&output, "output", "o", fleet.OutputTable, "report format: table or json")
	rootCmd.Flags().IntVarP(&limit, "limit", "l", fleet.DefaultHistoryLimit, "how many historical releases to fetch")
}
