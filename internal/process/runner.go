package process

import (
	"bufio"
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"os/exec"
	"strings"
	"syscall"

	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
	"golang.org/x/sync/errgroup"

	"github.com/oshokin/machine-updater/internal/domain/update"
	"github.com/oshokin/machine-updater/internal/logger"
)

// OutcomeKind classifies how a command ended.
type OutcomeKind int

const (
	// OutcomeSucceeded means exit code 0.
	OutcomeSucceeded OutcomeKind = iota
	// OutcomeFailed means a non-zero exit without a cancel request.
	OutcomeFailed
	// OutcomeCancelled means the process ended after Canceller signalled it.
	OutcomeCancelled
	// OutcomeSpawnFailed means the process never started.
	OutcomeSpawnFailed
)

// String implements fmt.Stringer.
func (k OutcomeKind) String() string {
	switch k {
	case OutcomeSucceeded:
		return "succeeded"
	case OutcomeFailed:
		return "failed"
	case OutcomeCancelled:
		return "cancelled"
	case OutcomeSpawnFailed:
		return "spawn failed"
	default:
		return fmt.Sprintf("outcome(%d)", int(k))
	}
}

// Outcome is the result of Runner.Run.
type Outcome struct {
	Kind OutcomeKind
	// ExitCode is the process exit code; -1 when the process was killed by a
	// signal or never started.
	ExitCode int
	// Err carries the spawn error or an OS-level wait error.
	Err error
}

// Line is one line of child output.
type Line struct {
	Stream update.Stream
	Text   string
}

// LineHandler receives output lines. Calls for one stream are sequential and in
// arrival order; stdout and stderr are delivered from different goroutines.
type LineHandler func(Line)

// Command describes one external command.
type Command struct {
	// Name is the executable.
	Name string
	// Args are passed without shell interpretation.
	Args []string
	// Dir is the working directory.
	Dir string
	// Env is appended to the updater's own environment.
	Env []string
	// Step is the pipeline step owning the process.
	Step update.StepName
	// Display replaces Name and Args in logs, e.g. to hide credentials.
	Display string
	// Secrets are masked in every output line before it is logged or handled.
	Secrets []string
	// OnLine receives every non-empty output line.
	OnLine LineHandler
}

func (c *Command) String() string {
	if c.Display != "" {
		return c.Display
	}

	return strings.TrimSpace(c.Name + " " + strings.Join(c.Args, " "))
}

// redactedMask replaces secrets in output lines.
const redactedMask = "xxxxx"

func (c *Command) redact(text string) string {
	for _, secret := range c.Secrets {
		if secret != "" {
			text = strings.ReplaceAll(text, secret, redactedMask)
		}
	}

	return text
}

// Runner spawns commands and registers them as the live process.
type Runner struct {
	registry *Registry
	echo     bool
}

// RunnerOption configures a Runner.
type RunnerOption func(*Runner)

// WithEcho logs child output even when the service level is above debug.
func WithEcho(echo bool) RunnerOption {
	return func(r *Runner) {
		r.echo = echo
	}
}

// NewRunner creates a Runner bound to registry.
func NewRunner(registry *Registry, opts ...RunnerOption) *Runner {
	r := &Runner{registry: registry}

	for _, opt := range opts {
		opt(r)
	}

	return r
}

// Run starts cmd, streams its output and blocks until it exits.
// There is no timeout: the call returns when the process exits or is cancelled.
//
// The live slot is reserved before the process starts, so a cancel request
// that arrives while it is starting still stops it.
func (r *Runner) Run(ctx context.Context, cmd Command) Outcome {
	ctx = logger.WithKV(ctx, "command", cmd.String())

	handle := newHandle(cmd.Step)
	if err := r.registry.Set(handle); err != nil {
		close(handle.done)

		return spawnFailed(ctx, err)
	}

	defer r.registry.Clear(handle)
	defer close(handle.done)

	if handle.Cancelled() {
		return notStarted(ctx, handle, nil)
	}

	//nolint:gosec // Commands are built from validated configuration, not user shell input.
	child := exec.Command(cmd.Name, cmd.Args...)
	child.Dir = cmd.Dir
	child.Env = append(os.Environ(), cmd.Env...)

	stdout, err := child.StdoutPipe()
	if err != nil {
		return notStarted(ctx, handle, err)
	}

	stderr, err := child.StderrPipe()
	if err != nil {
		_ = stdout.Close()

		return notStarted(ctx, handle, err)
	}

	if err = child.Start(); err != nil {
		return notStarted(ctx, handle, err)
	}

	pid := child.Process.Pid
	if !handle.attach(pid) {
		logger.InfoKV(ctx, "Cancel requested while starting, terminating process", "pid", pid)

		if err = child.Process.Signal(syscall.SIGTERM); err != nil {
			logger.WarnKV(ctx, "Termination signal not delivered", "pid", pid, "error", err)
		}
	}

	logger.DebugKV(ctx, "Process started", "pid", pid)

	lineLog := logger.FromContext(ctx)
	if r.echo {
		lineLog = lineLog.Desugar().WithOptions(logger.WithLevel(zapcore.DebugLevel)).Sugar()
	}

	var readers errgroup.Group

	readers.Go(func() error {
		return streamLines(stdout, update.StreamStdout, &cmd, lineLog)
	})
	readers.Go(func() error {
		return streamLines(stderr, update.StreamStderr, &cmd, lineLog)
	})

	if err = readers.Wait(); err != nil {
		logger.WarnKV(ctx, "Output stream interrupted", "error", err)
	}

	waitErr := child.Wait()

	outcome := classify(waitErr, handle.Cancelled())
	logger.DebugKV(ctx, "Process exited", "pid", pid, "outcome", outcome.Kind.String(), "exit_code", outcome.ExitCode)

	return outcome
}

// notStarted reports a command that never ran. A cancel request that arrived
// first wins over the spawn error.
func notStarted(ctx context.Context, handle *Handle, err error) Outcome {
	if handle.Cancelled() {
		logger.Info(ctx, "Process cancelled before it started")

		return Outcome{Kind: OutcomeCancelled, ExitCode: -1}
	}

	return spawnFailed(ctx, err)
}

func classify(waitErr error, cancelled bool) Outcome {
	if waitErr == nil {
		return Outcome{Kind: OutcomeSucceeded}
	}

	exitCode := -1

	var exitErr *exec.ExitError
	if errors.As(waitErr, &exitErr) {
		exitCode = exitErr.ExitCode()
	}

	if cancelled {
		return Outcome{Kind: OutcomeCancelled, ExitCode: exitCode}
	}

	if exitErr != nil {
		return Outcome{Kind: OutcomeFailed, ExitCode: exitCode}
	}

	return Outcome{Kind: OutcomeFailed, ExitCode: exitCode, Err: waitErr}
}

func spawnFailed(ctx context.Context, err error) Outcome {
	logger.ErrorKV(ctx, "Unable to start process", "error", err)

	return Outcome{Kind: OutcomeSpawnFailed, ExitCode: -1, Err: err}
}

func streamLines(pipe io.Reader, stream update.Stream, cmd *Command, lineLog *zap.SugaredLogger) error {
	scanner := bufio.NewScanner(pipe)
	scanner.Buffer(make([]byte, 0, bufio.MaxScanTokenSize), maxLineSize)
	scanner.Split(scanLines)

	for scanner.Scan() {
		text := strings.TrimRight(scanner.Text(), " \t")
		if strings.TrimSpace(text) == "" {
			continue
		}

		text = cmd.redact(text)
		lineLog.Debugw(text, "stream", stream)

		if cmd.OnLine != nil {
			cmd.OnLine(Line{Stream: stream, Text: text})
		}
	}

	if err := scanner.Err(); err != nil {
		// Keep draining so the child never blocks on a full pipe.
		_, _ = io.Copy(io.Discard, pipe)

		return fmt.Errorf("read %s: %w", stream, err)
	}

	return nil
}
