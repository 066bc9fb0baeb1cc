package status

import (
	"context"
	"fmt"
	"io"
	"os"
	"text/tabwriter"
	"time"

	"github.com/docker/go-units"

	"github.com/oshokin/machine-updater/internal/config"
	"github.com/oshokin/machine-updater/internal/domain/update"
	"github.com/oshokin/machine-updater/internal/logger"
	"github.com/oshokin/machine-updater/internal/service/common"
)

// Options controls the status command.
type Options struct {
	// ConfigPath specifies the path to the settings YAML file.
	ConfigPath string
	// ServerAddress provides an optional update worker address override.
	ServerAddress string
	// Follow keeps polling until the active run ends.
	Follow bool
	// PollInterval defines the interval between status checks in follow mode.
	PollInterval time.Duration
	// Output receives the rendered table. Nil means stdout.
	Output io.Writer
}

// DefaultPollInterval is the follow mode polling interval.
const DefaultPollInterval = 2 * time.Second

// statusGetter is the part of the client the command uses.
type statusGetter interface {
	Status(ctx context.Context) (update.Status, error)
}

// Run prints the worker status, polling while opts.Follow is set.
func Run(ctx context.Context, opts *Options) error {
	ctx = logger.WithName(ctx, "update-ctl")

	cfg, err := config.Load(opts.ConfigPath)
	if err != nil {
		return fmt.Errorf("load configuration: %w", err)
	}

	if opts.PollInterval <= 0 {
		opts.PollInterval = DefaultPollInterval
	}

	// Command line argument overrides config.
	serverAddress := cfg.ListenAddress
	if opts.ServerAddress != "" {
		serverAddress = opts.ServerAddress
	}

	actor, err := common.DetectActor()
	if err != nil {
		return fmt.Errorf("detect actor: %w", err)
	}

	client, err := common.Dial(ctx, serverAddress,
		common.WithCallTimeout(cfg.Timeout),
		common.WithActor(actor))
	if err != nil {
		return fmt.Errorf("dial update worker: %w", err)
	}

	defer func() {
		_ = client.Close()
	}()

	out := opts.Output
	if out == nil {
		out = os.Stdout
	}

	return poll(ctx, client, out, opts.Follow, opts.PollInterval)
}

// poll prints one snapshot, then keeps printing while follow is set and a
// run is active.
func poll(ctx context.Context, client statusGetter, out io.Writer, follow bool, interval time.Duration) error {
	snapshot, err := client.Status(ctx)
	if err != nil {
		return fmt.Errorf("get status: %w", err)
	}

	if err = Format(out, snapshot, time.Now()); err != nil {
		return err
	}

	if !follow || !snapshot.Running {
		return nil
	}

	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			logger.Info(ctx, "Context canceled, exiting")
			return nil
		case <-ticker.C:
			snapshot, err = client.Status(ctx)
			if err != nil {
				logger.ErrorKV(ctx, "Get status failed", "error", err)
				continue
			}

			_, _ = fmt.Fprintln(out)

			if err = Format(out, snapshot, time.Now()); err != nil {
				return err
			}

			if !snapshot.Running {
				return nil
			}
		}
	}
}

// Format writes the run header and the step table.
func Format(out io.Writer, snapshot update.Status, now time.Time) error {
	if snapshot.RunID == "" {
		_, err := fmt.Fprintln(out, "No update has run yet")
		return err
	}

	state := "finished"
	if snapshot.Running {
		state = "running"
	}

	w := tabwriter.NewWriter(out, 0, 0, 2, ' ', 0)

	_, _ = fmt.Fprintf(w, "Run:\t%s (%s)\n", snapshot.RunID, state)

	if snapshot.Running {
		remaining := time.Duration(snapshot.RemainingSeconds) * time.Second
		_, _ = fmt.Fprintf(w, "Remaining:\t%s\n", units.HumanDuration(remaining))
	}

	_, _ = fmt.Fprintln(w)
	_, _ = fmt.Fprintln(w, "STEP\tSTATUS\tELAPSED")

	for i := range snapshot.Steps {
		step := &snapshot.Steps[i]

		elapsed := "-"
		if !step.StartedAt.IsZero() {
			elapsed = step.Elapsed(now).Round(time.Second).String()
		}

		label := step.Label
		if label == "" {
			label = step.Name.Label()
		}

		_, _ = fmt.Fprintf(w, "%s\t%s\t%s\n", label, step.Status, elapsed)
	}

	if err := w.Flush(); err != nil {
		return fmt.Errorf("write status: %w", err)
	}

	return nil
}
