package cmd

import (
	"context"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	"github.com/oshokin/machine-updater/internal/service/status"
)

var (
	// follow keeps polling while an update is running.
	follow bool
	// pollInterval is the follow mode interval.
	pollInterval time.Duration

	statusCmd = &cobra.Command{
		Use:   "status",
		Short: "Show the step table of the active or last update.",
		Args:  cobra.NoArgs,
		RunE: func(_ *cobra.Command, _ []string) error {
			ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGTERM, syscall.SIGINT)
			defer stop()

			return status.Run(ctx, &status.Options{
				ConfigPath:    configPath,
				ServerAddress: serverAddress,
				Follow:        follow,
				PollInterval:  pollInterval,
			})
		},
	}
)

//nolint:gochecknoinits // Required by Cobra CLI framework architecture.
func init() {
	statusCmd.Flags().BoolVarP(&follow, "follow", "f", false, "keep polling until the update ends")
	statusCmd.Flags().DurationVarP(&pollInterval, "interval", "i", status.DefaultPollInterval, "polling interval")
}
