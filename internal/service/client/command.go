package client

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"

	"github.com/oshokin/machine-updater/internal/config"
	"github.com/oshokin/machine-updater/internal/domain/update"
	"github.com/oshokin/machine-updater/internal/logger"
	"github.com/oshokin/machine-updater/internal/service/common"
	"github.com/oshokin/machine-updater/internal/service/updater"
)

// localEventsBuffer is the subscription buffer of an in-process run.
const localEventsBuffer = 1024

var (
	// errUpdateFailed is returned when a run ends unsuccessfully.
	errUpdateFailed = errors.New("update failed")
	// errStreamClosed is returned when events stop before the run ended.
	errStreamClosed = errors.New("event stream closed before the update ended")
	// errCancelRejected is returned when there was nothing to cancel.
	errCancelRejected = errors.New("cancel rejected")
)

// Options controls the update-ctl run and cancel commands.
type Options struct {
	// ConfigPath specifies the path to the settings YAML file.
	ConfigPath string
	// ServerAddress provides an optional update worker address override.
	ServerAddress string
	// WorkingRoot overrides the configured working root in local mode.
	WorkingRoot string
	// Request is the update to execute.
	Request update.Request
	// Local runs the pipeline in this process instead of on the worker.
	Local bool
	// Quiet hides subprocess output and keeps system lines and progress.
	Quiet bool
	// Output receives the rendered transcript. Nil means stdout.
	Output io.Writer
}

// eventSource yields the next event of the stream.
type eventSource func() (update.Envelope, error)

// Run executes an update and renders its events until the run ends.
func Run(ctx context.Context, opts *Options) error {
	// Set context with logger name for tracking.
	ctx = logger.WithName(ctx, "update-ctl")

	cfg, err := config.Load(opts.ConfigPath)
	if err != nil {
		return fmt.Errorf("load configuration: %w", err)
	}

	out := opts.Output
	if out == nil {
		out = os.Stdout
	}

	r := newRenderer(out, opts.Quiet)

	if opts.Local {
		if opts.WorkingRoot != "" {
			cfg.WorkingRootDir = opts.WorkingRoot
		}

		return runLocal(ctx, cfg, opts.Request, r)
	}

	return runRemote(ctx, cfg, opts, r)
}

// Cancel asks the worker to cancel the active run and prints the result.
func Cancel(ctx context.Context, opts *Options) error {
	ctx = logger.WithName(ctx, "update-ctl")

	cfg, err := config.Load(opts.ConfigPath)
	if err != nil {
		return fmt.Errorf("load configuration: %w", err)
	}

	client, err := dial(ctx, cfg, opts.ServerAddress)
	if err != nil {
		return err
	}

	defer func() {
		_ = client.Close()
	}()

	result, err := client.Cancel(ctx)
	if err != nil {
		return fmt.Errorf("cancel update: %w", err)
	}

	out := opts.Output
	if out == nil {
		out = os.Stdout
	}

	if !result.Success {
		_, _ = fmt.Fprintln(out, result.Error)

		return fmt.Errorf("%w: %s", errCancelRejected, result.Error)
	}

	_, _ = fmt.Fprintln(out, "Cancellation requested")

	return nil
}

func runRemote(ctx context.Context, cfg *config.Config, opts *Options, r *renderer) error {
	client, err := dial(ctx, cfg, opts.ServerAddress)
	if err != nil {
		return err
	}

	defer func() {
		_ = client.Close()
	}()

	// Subscribe before executing so the first step change is not missed.
	stream, err := client.Events(ctx)
	if err != nil {
		return err
	}

	runID, err := client.Execute(ctx, opts.Request)
	if err != nil {
		return fmt.Errorf("execute update: %w", err)
	}

	logger.InfoKV(ctx, "Update started on worker", "run_id", runID)

	end, err := follow(stream.Recv, runID, r)
	if err != nil {
		if ctx.Err() != nil {
			logger.InfoKV(ctx, "Detached, the update keeps running on the worker", "run_id", runID)

			return nil
		}

		return err
	}

	return endError(end)
}

func runLocal(ctx context.Context, cfg *config.Config, req update.Request, r *renderer) error {
	orchestrator := updater.New(ctx, cfg)

	sub := orchestrator.Subscribe(localEventsBuffer)
	defer sub.Close()

	runID, err := orchestrator.Execute(ctx, req)
	if err != nil {
		return fmt.Errorf("execute update: %w", err)
	}

	// The pipeline outlives ctx; interrupting the command cancels the run.
	stop := context.AfterFunc(ctx, func() {
		logger.Info(ctx, "Interrupted, stopping update")

		if err := orchestrator.Close(context.WithoutCancel(ctx)); err != nil {
			logger.WarnKV(ctx, "Unable to stop update", "error", err)
		}
	})
	defer stop()

	end, err := follow(func() (update.Envelope, error) {
		select {
		case env := <-sub.Events():
			return env, nil
		case <-sub.Done():
			return update.Envelope{}, errStreamClosed
		}
	}, runID, r)

	orchestrator.Wait()

	if err != nil {
		return err
	}

	return endError(end)
}

// follow renders the events of runID until its End arrives.
func follow(next eventSource, runID string, r *renderer) (update.End, error) {
	for {
		env, err := next()
		if err != nil {
			if errors.Is(err, io.EOF) {
				return update.End{}, errStreamClosed
			}

			return update.End{}, err
		}

		if env.RunID != runID {
			continue
		}

		r.render(env)

		if end, ok := env.Event.(update.End); ok {
			return end, nil
		}
	}
}

func endError(end update.End) error {
	switch {
	case end.Success:
		return nil
	case end.Cancelled:
		return update.ErrCancelledByUser
	default:
		return fmt.Errorf("%w: %s", errUpdateFailed, end.Error)
	}
}

func dial(ctx context.Context, cfg *config.Config, address string) (*common.Client, error) {
	// Command line argument overrides config.
	if address == "" {
		address = cfg.ListenAddress
	}

	actor, err := common.DetectActor()
	if err != nil {
		return nil, fmt.Errorf("detect actor: %w", err)
	}

	client, err := common.Dial(ctx, address,
		common.WithCallTimeout(cfg.Timeout),
		common.WithActor(actor))
	if err != nil {
		return nil, fmt.Errorf("dial update worker: %w", err)
	}

	return client, nil
}
