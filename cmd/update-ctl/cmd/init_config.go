package cmd

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/oshokin/machine-updater/internal/config"
)

var (
	// force overwrites an existing settings file.
	force bool

	initConfigCmd = &cobra.Command{
		Use:   "init-config",
		Short: "Write a settings file with default values.",
		Long: `Writes the default settings to the --config path so they can be edited.
An existing file is kept unless --force is given.`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			if _, err := config.WriteDefault(configPath, force); err != nil {
				return err
			}

			_, _ = fmt.Fprintln(cmd.OutOrStdout(), "Settings written to", configPath)

			return nil
		},
	}
)

//nolint:gochecknoinits // Required by Cobra CLI framework architecture.
func init() {
	initConfigCmd.Flags().BoolVarP(&force, "force", "f", false, "overwrite an existing settings file")
}
