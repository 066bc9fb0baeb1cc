package cmd

import (
	"context"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"

	"github.com/oshokin/machine-updater/internal/config"
	"github.com/oshokin/machine-updater/internal/service/worker"
	"github.com/oshokin/machine-updater/internal/version"
)

var (
	// configPath to the configuration YAML file.
	configPath string
	// workingRoot overrides the configured working root.
	workingRoot string

	// rootCmd represents the base command for running the update worker.
	rootCmd = &cobra.Command{
		Use:   "update-worker [listen-address]",
		Short: "Run the machine update worker and its gRPC control API.",
		Long: `Starts the update worker that clones the requested revision of the update
repository, runs its installation script and streams progress to clients.

Only one update runs at a time. The listen address can be provided as an
argument to override the config (e.g., 127.0.0.1:50071). On SIGTERM or SIGINT
the active update is cancelled before the server stops.`,
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

			return worker.Run(ctx, &worker.Options{
				ConfigPath:    configPath,
				ListenAddress: listenAddress,
				WorkingRoot:   workingRoot,
			})
		},
	}
)

// Execute runs the update-worker CLI and exits with non-zero status on error.
func Execute() {
	version.AttachCobraVersionCommand(rootCmd)

	if err := rootCmd.Execute(); err != nil {
		os.Exit(1)
	}
}

//nolint:gochecknoinits // Required by Cobra CLI framework architecture.
func init() {
	rootCmd.Flags().StringVarP(&configPath, "config", "c", config.DefaultConfigFilename, "path to configuration file")
	rootCmd.Flags().StringVarP(&workingRoot, "working-root", "w", "", "directory the working copy lives under")
}
