package cmd

import (
	"context"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"

	"github.com/oshokin/machine-updater/internal/service/client"
)

var cancelCmd = &cobra.Command{
	Use:   "cancel",
	Short: "Cancel the active update on the worker.",
	Args:  cobra.NoArgs,
	RunE: func(_ *cobra.Command, _ []string) error {
		ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGTERM, syscall.SIGINT)
		defer stop()

		return client.Cancel(ctx, &client.Options{
			ConfigPath:    configPath,
			ServerAddress: serverAddress,
		})
	},
}
