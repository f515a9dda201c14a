package cmd

import (
	"context"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"

	"github.com/forgestamp/forgestamp/internal/config"
	"github.com/forgestamp/forgestamp/internal/service/packager"
	"github.com/forgestamp/forgestamp/internal/version"
)

var (
	// configPath to the configuration YAML file.
	configPath string
	// authUsername and authPassword authorize the publish call.
	authUsername string
	authPassword string

	// rootCmd represents the base command for preparing release metadata.
	rootCmd = &cobra.Command{
		Use:   "forgestamp-packager [registry-address] [update-folder]",
		Short: "Prepare release metadata and announce it to the registry",
		Args:  cobra.ExactArgs(2),
		RunE: func(_ *cobra.Command, args []string) error {
			// Setup graceful shutdown handling.
			ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGTERM, syscall.SIGINT)
			defer stop()

			options := &packager.Options{
				ConfigPath:      configPath,
				RegistryAddress: args[0],
				UpdateFolder:    args[1],
				AuthUsername:    authUsername,
				AuthPassword:    authPassword,
			}

			return packager.Run(ctx, options)
		},
	}
)

// Execute runs the forgestamp-packager CLI and exits with non-zero status on error.
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
	rootCmd.Flags().StringVar(&authUsername, "auth-user", "", "username for registry basic auth")
	rootCmd.Flags().StringVar(&authPassword, "auth-password", "", "password for registry basic auth")
}
