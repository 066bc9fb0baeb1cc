package cmd

import (
	"os"

	"github.com/spf13/cobra"

	"github.com/oshokin/machine-updater/internal/config"
	"github.com/oshokin/machine-updater/internal/version"
)

var (
	// configPath stores the configuration file path.
	configPath string
	// serverAddress overrides the configured worker address.
	serverAddress string

	// rootCmd represents the base command of the update control tool.
	rootCmd = &cobra.Command{
		Use:   "update-ctl",
		Short: "Start, watch and cancel machine updates.",
		Long: `Control tool for the update worker.

Runs an update on the worker (or in this process with --local), prints the
transcript and progress, cancels the active update and shows the step table.`,
		SilenceUsage: true,
	}
)

// Execute runs the update-ctl CLI and exits with non-zero status on error.
func Execute() {
	version.AttachCobraVersionCommand(rootCmd)

	if err := rootCmd.Execute(); err != nil {
		os.Exit(1)
	}
}

//nolint:gochecknoinits // Required by Cobra CLI framework architecture.
func init() {
	rootCmd.PersistentFlags().
		StringVarP(&configPath, "config", "c", config.DefaultConfigFilename, "path to configuration file")
	rootCmd.PersistentFlags().
		StringVarP(&serverAddress, "address", "a", "", "update worker address, overrides the config")

	rootCmd.AddCommand(runCmd, cancelCmd, statusCmd, initConfigCmd)
}
