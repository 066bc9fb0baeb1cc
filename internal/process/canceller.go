package process

import (
	"context"
	"errors"
	"slices"
	"syscall"
	"time"

	"github.com/oshokin/machine-updater/internal/domain/update"
	"github.com/oshokin/machine-updater/internal/logger"
)

const (
	// DefaultGracePeriod is how long Cancel waits after SIGTERM.
	DefaultGracePeriod = 10 * time.Second
	// killWait is how long Cancel waits for the process to be reaped after SIGKILL.
	killWait = 5 * time.Second
)

// ErrTerminationUnconfirmed is returned when the process outlives SIGKILL.
var ErrTerminationUnconfirmed = errors.New("process termination could not be confirmed")

// Canceller terminates the live process and its descendants.
type Canceller struct {
	registry    *Registry
	gracePeriod time.Duration
}

// NewCanceller creates a Canceller; a non-positive grace period uses DefaultGracePeriod.
func NewCanceller(registry *Registry, gracePeriod time.Duration) *Canceller {
	if gracePeriod <= 0 {
		gracePeriod = DefaultGracePeriod
	}

	return &Canceller{
		registry:    registry,
		gracePeriod: gracePeriod,
	}
}

// Cancel terminates the live process tree: SIGTERM, then SIGKILL after the
// grace period. It returns update.ErrNoActiveProcess when nothing is live.
func (c *Canceller) Cancel(ctx context.Context) error {
	handle := c.registry.Get()
	if handle == nil {
		return update.ErrNoActiveProcess
	}

	ctx = logger.WithKV(ctx, "step", handle.Step)

	var (
		tree []int
		err  error
	)

	// A handle without a pid is still starting; the runner signals the
	// process as soon as it has one.
	if pid := handle.requestCancel(); pid != 0 {
		ctx = logger.WithKV(ctx, "pid", pid)

		// Collect the tree before signalling: once the root dies its children are
		// reparented and can no longer be found through it.
		tree, err = processTree(pid)
		if err != nil {
			logger.WarnKV(ctx, "Unable to list child processes", "error", err)
		}

		logger.InfoKV(ctx, "Sending termination signal", "processes", len(tree))

		if err = signalAll(tree, syscall.SIGTERM); err != nil {
			logger.WarnKV(ctx, "Termination signal not delivered", "error", err)
		}
	} else {
		logger.Info(ctx, "Process is starting, waiting for it to stop")
	}

	if waitExit(ctx, handle, c.gracePeriod) {
		c.registry.Clear(handle)
		logger.Info(ctx, "Process terminated")

		return nil
	}

	logger.WarnKV(ctx, "Process ignored termination signal, killing", "grace_period", c.gracePeriod.String())

	if root := handle.PID(); root != 0 {
		if current, treeErr := processTree(root); treeErr == nil {
			for _, pid := range current {
				if !slices.Contains(tree, pid) {
					tree = append(tree, pid)
				}
			}
		} else if !slices.Contains(tree, root) {
			tree = append(tree, root)
		}
	}

	if err = signalAll(tree, syscall.SIGKILL); err != nil {
		logger.WarnKV(ctx, "Kill signal not delivered", "error", err)
	}

	if !waitExit(ctx, handle, killWait) {
		return ErrTerminationUnconfirmed
	}

	c.registry.Clear(handle)
	logger.Info(ctx, "Process killed")

	return nil
}

func waitExit(ctx context.Context, handle *Handle, timeout time.Duration) bool {
	timer := time.NewTimer(timeout)
	defer timer.Stop()

	select {
	case <-handle.Done():
		return true
	case <-timer.C:
		return false
	case <-ctx.Done():
		return false
	}
}
