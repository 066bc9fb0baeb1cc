package updater

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"sync/atomic"
	"time"

	units "github.com/docker/go-units"
	"github.com/google/uuid"

	"github.com/oshokin/machine-updater/internal/config"
	"github.com/oshokin/machine-updater/internal/domain/update"
	"github.com/oshokin/machine-updater/internal/estimator"
	"github.com/oshokin/machine-updater/internal/logger"
	"github.com/oshokin/machine-updater/internal/parser"
	"github.com/oshokin/machine-updater/internal/process"
	"github.com/oshokin/machine-updater/internal/service/power"
	"github.com/oshokin/machine-updater/internal/steps"
)

const (
	// persistTimeout bounds a write of the duration history.
	persistTimeout = 5 * time.Second
	// stopPollInterval is how often Close retries the cancel while the run is winding down.
	stopPollInterval = 200 * time.Millisecond
)

// Option configures an Orchestrator.
type Option func(*Orchestrator)

// WithReboot replaces the function used to reboot after a successful run.
func WithReboot(reboot func(context.Context) error) Option {
	return func(o *Orchestrator) {
		o.reboot = reboot
	}
}

type activeRun struct {
	id   string
	done chan struct{}
	lock *runLock
}

// Orchestrator sequences the pipeline steps of one run at a time.
type Orchestrator struct {
	cfg          *config.Config
	canceller    *process.Canceller
	source       *SourcePreparer
	build        *BuildDriver
	machine      *steps.Machine
	estimator    *estimator.Estimator
	sourceParser *parser.SourceParser
	buildParser  *parser.BuildParser
	bus          *Bus
	reboot       func(context.Context) error

	mu     sync.Mutex
	active *activeRun
	last   *activeRun

	cancelRequested atomic.Bool
}

// NewOrchestrator wires the pipeline for cfg. est records step durations; it may be nil.
func NewOrchestrator(cfg *config.Config, est *estimator.Estimator, opts ...Option) *Orchestrator {
	if est == nil {
		est = estimator.New(nil)
	}

	var (
		registry = process.NewRegistry()
		runner   = process.NewRunner(registry, process.WithEcho(cfg.EchoOutput))
	)

	o := &Orchestrator{
		cfg:          cfg,
		canceller:    process.NewCanceller(registry, cfg.GracePeriod),
		source:       NewSourcePreparer(runner, cfg.GitBinary, cfg.SourceHost),
		build:        NewBuildDriver(runner, cfg.ChmodBinary, cfg.InstallScript),
		machine:      steps.NewMachine(est),
		estimator:    est,
		sourceParser: parser.NewSourceParser(),
		buildParser:  parser.NewBuildParser(),
		bus:          NewBus(),
		reboot:       power.Reboot,
	}

	for _, opt := range opts {
		opt(o)
	}

	o.machine.Reset(est.Estimates())

	return o
}

// Subscribe attaches a subscriber to the event stream.
func (o *Orchestrator) Subscribe(buffer int) *Subscription {
	return o.bus.Subscribe(buffer)
}

// Execute validates req and starts a run in the background.
//
// Configuration errors, invalid requests and concurrent runs are returned
// immediately and also published as a log line and a failed end event.
// The outcome of an accepted run is delivered through the end event.
func (o *Orchestrator) Execute(ctx context.Context, req update.Request) (string, error) {
	runID := uuid.NewString()
	ctx = logger.WithKV(context.WithoutCancel(ctx), "run_id", runID)

	root, err := o.workingRoot()
	if err != nil {
		return "", o.reject(ctx, runID, err)
	}

	if err = req.Validate(); err != nil {
		return "", o.reject(ctx, runID, err)
	}

	o.mu.Lock()

	if o.active != nil {
		o.mu.Unlock()

		return "", o.reject(ctx, runID, update.ErrAlreadyRunning)
	}

	lock, err := acquireRunLock(root)
	if err != nil {
		o.mu.Unlock()

		return "", o.reject(ctx, runID, err)
	}

	run := &activeRun{
		id:   runID,
		done: make(chan struct{}),
		lock: lock,
	}

	o.active = run
	o.last = run
	o.cancelRequested.Store(false)
	o.sourceParser.Reset()
	o.buildParser.Reset()
	o.machine.Reset(o.estimator.Estimates())

	o.mu.Unlock()

	go o.run(ctx, run, req, root)

	return runID, nil
}

// Cancel terminates the live process of the active run and its descendants;
// the run then ends as cancelled. When no process is live the result carries
// update.ErrNoActiveProcess, also in the middle of a run.
// Cancel never returns an error; failures are reported in the result.
func (o *Orchestrator) Cancel(ctx context.Context) update.CancelResult {
	runID, _ := o.activeRunID()
	ctx = logger.WithKV(ctx, "run_id", runID)

	err := o.canceller.Cancel(ctx)

	switch {
	case err == nil:
		o.cancelRequested.Store(true)
		o.logLine(ctx, runID, "Update cancelled by user")

		return update.CancelResult{Success: true}
	case errors.Is(err, update.ErrNoActiveProcess):
		logger.Info(ctx, "Cancel requested with no live process")

		return update.CancelResult{Error: update.ErrNoActiveProcess.Error()}
	default:
		logger.ErrorKV(ctx, "Unable to cancel update", "error", err)

		return update.CancelResult{Error: err.Error()}
	}
}

// Status returns a snapshot of the active or most recent run.
func (o *Orchestrator) Status() update.Status {
	var status update.Status

	o.mu.Lock()
	if o.last != nil {
		status.RunID = o.last.id
	}

	status.Running = o.active != nil
	o.mu.Unlock()

	now := time.Now()
	status.Steps = o.machine.Snapshot()

	if status.Running {
		status.RemainingSeconds = o.estimator.Remaining(status.Steps, now)
	}

	return status
}

// Wait blocks until the most recent run, if any, has finished.
func (o *Orchestrator) Wait() {
	o.mu.Lock()
	run := o.last
	o.mu.Unlock()

	if run != nil {
		<-run.done
	}
}

// Close stops the active run and waits for it until ctx is done.
// No further step starts; a live process is cancelled, including one that
// starts while the current step winds down.
func (o *Orchestrator) Close(ctx context.Context) error {
	o.mu.Lock()
	run := o.active
	o.mu.Unlock()

	if run == nil {
		return nil
	}

	ctx = logger.WithKV(ctx, "run_id", run.id)
	logger.Info(ctx, "Stopping active update")

	o.cancelRequested.Store(true)

	ticker := time.NewTicker(stopPollInterval)
	defer ticker.Stop()

	for {
		if err := o.canceller.Cancel(ctx); err != nil && !errors.Is(err, update.ErrNoActiveProcess) {
			logger.WarnKV(ctx, "Active update not cancelled on shutdown", "error", err)
		}

		select {
		case <-run.done:
			return nil
		case <-ctx.Done():
			return ctx.Err()
		case <-ticker.C:
		}
	}
}

type pipelineStep struct {
	name update.StepName
	work func(ctx context.Context) error
}

func (o *Orchestrator) run(ctx context.Context, run *activeRun, req update.Request, root string) {
	repoDir := filepath.Join(root, o.cfg.RepositoryDir)

	o.logLine(ctx, run.id, fmt.Sprintf("Starting update of %s/%s, estimated time %s",
		req.Owner, req.Repository, o.humanRemaining()))

	pipeline := []pipelineStep{
		{update.StepClearRepository, func(ctx context.Context) error {
			o.logLine(ctx, run.id, "Clearing "+repoDir)

			return o.source.Clear(ctx, root, o.cfg.RepositoryDir)
		}},
		{update.StepFetchSource, func(ctx context.Context) error {
			return o.source.Fetch(ctx, req, root, o.cfg.RepositoryDir, o.sourceLines(ctx, run.id))
		}},
		{update.StepPrepare, func(ctx context.Context) error {
			return o.build.Prepare(ctx, repoDir)
		}},
		{update.StepBuild, func(ctx context.Context) error {
			return o.build.Build(ctx, repoDir, o.buildLines(ctx, run.id))
		}},
		{update.StepFinalize, func(ctx context.Context) error {
			o.logLine(ctx, run.id, "Update installed")

			return nil
		}},
	}

	var err error

	for _, step := range pipeline {
		if o.cancelRequested.Load() {
			err = update.ErrCancelledByUser

			break
		}

		stepCtx := logger.WithKV(ctx, "step", step.name)

		o.transition(stepCtx, run.id, step.name, update.StatusInProgress)
		o.logLine(stepCtx, run.id, step.name.Label()+"...")

		if err = step.work(stepCtx); err != nil {
			break
		}

		o.transition(stepCtx, run.id, step.name, update.StatusCompleted)
		o.persistDurations(stepCtx)
		logger.InfoKV(stepCtx, "Step completed", "remaining", o.humanRemaining())
	}

	o.finish(ctx, run, err)
}

// finish closes the run and publishes the end event.
func (o *Orchestrator) finish(ctx context.Context, run *activeRun, err error) {
	end := update.End{Success: err == nil}

	if err != nil {
		if change, ok := o.machine.FailCurrent(time.Now()); ok {
			o.publish(ctx, run.id, change)
		}

		end.Cancelled = errors.Is(err, update.ErrCancelledByUser)
		end.Error = err.Error()

		if end.Cancelled {
			o.logLine(ctx, run.id, "Update cancelled: "+end.Error)
		} else {
			o.logLine(ctx, run.id, "Update failed: "+end.Error)
			logger.ErrorKV(ctx, "Update failed", "error", err)
		}
	} else {
		o.logLine(ctx, run.id, "Update completed successfully")
	}

	o.persistDurations(ctx)

	if lockErr := run.lock.release(); lockErr != nil {
		logger.WarnKV(ctx, "Unable to release run lock", "error", lockErr)
	}

	o.mu.Lock()
	o.active = nil
	o.mu.Unlock()

	o.publish(ctx, run.id, end)

	if end.Success && o.cfg.RebootAfterUpdate {
		logger.Info(ctx, "Rebooting to apply the update")

		if rebootErr := o.reboot(ctx); rebootErr != nil {
			logger.ErrorKV(ctx, "Unable to reboot", "error", rebootErr)
		}
	}

	close(run.done)
}

// transition applies a step change to the machine and publishes every change
// it caused, including the implicit completion of an earlier step.
func (o *Orchestrator) transition(ctx context.Context, runID string, name update.StepName, status update.StepStatus) {
	applied := o.machine.Apply(update.StepChange{Step: name, Status: status}, time.Now())
	if len(applied) == 0 {
		logger.DebugKV(ctx, "Step change ignored", "step", name, "status", status)

		return
	}

	for _, change := range applied {
		o.publish(ctx, runID, change)
	}
}

// sourceLines and buildLines are called from the stdout and stderr readers at
// once; parsing and publishing a line happen under one lock so progress events
// leave in the order they were computed.
func (o *Orchestrator) sourceLines(ctx context.Context, runID string) process.LineHandler {
	var mu sync.Mutex

	return func(line process.Line) {
		mu.Lock()
		defer mu.Unlock()

		o.publish(ctx, runID, update.LogLine{Stream: line.Stream, Text: line.Text})

		if progress, ok := o.sourceParser.Parse(line.Text); ok {
			o.publish(ctx, runID, progress)
		}
	}
}

func (o *Orchestrator) buildLines(ctx context.Context, runID string) process.LineHandler {
	var mu sync.Mutex

	return func(line process.Line) {
		mu.Lock()
		defer mu.Unlock()

		o.publish(ctx, runID, update.LogLine{Stream: line.Stream, Text: line.Text})

		for _, event := range o.buildParser.Parse(line.Text) {
			if change, ok := event.(update.StepChange); ok {
				o.transition(ctx, runID, change.Step, change.Status)

				continue
			}

			o.publish(ctx, runID, event)
		}
	}
}

func (o *Orchestrator) publish(ctx context.Context, runID string, event update.Event) {
	o.bus.Publish(ctx, update.Envelope{
		RunID: runID,
		Time:  time.Now(),
		Event: event,
	})
}

// logLine writes text to the service log and publishes it to the transcript.
func (o *Orchestrator) logLine(ctx context.Context, runID, text string) {
	logger.Info(ctx, text)
	o.publish(ctx, runID, update.LogLine{Stream: update.StreamSystem, Text: text})
}

// reject reports an Execute failure that happened before the run started.
func (o *Orchestrator) reject(ctx context.Context, runID string, err error) error {
	logger.ErrorKV(ctx, "Update rejected", "error", err)

	o.publish(ctx, runID, update.LogLine{Stream: update.StreamSystem, Text: "Update rejected: " + err.Error()})
	o.publish(ctx, runID, update.End{Error: err.Error()})

	return err
}

func (o *Orchestrator) workingRoot() (string, error) {
	root, err := o.cfg.WorkingRoot()
	if err != nil {
		return "", err
	}

	root, err = filepath.Abs(root)
	if err != nil {
		return "", fmt.Errorf("%w: %w", update.ErrMissingWorkingRoot, err)
	}

	info, err := os.Stat(root)
	if err != nil {
		return "", fmt.Errorf("%w: %w", update.ErrMissingWorkingRoot, err)
	}

	if !info.IsDir() {
		return "", fmt.Errorf("%w: %s is not a directory", update.ErrMissingWorkingRoot, root)
	}

	return root, nil
}

func (o *Orchestrator) activeRunID() (string, bool) {
	o.mu.Lock()
	defer o.mu.Unlock()

	if o.active == nil {
		if o.last != nil {
			return o.last.id, false
		}

		return "", false
	}

	return o.active.id, true
}

// persistDurations writes the step durations recorded so far.
// Failures are logged; they never affect the run.
func (o *Orchestrator) persistDurations(ctx context.Context) {
	ctx, cancel := context.WithTimeout(ctx, persistTimeout)
	defer cancel()

	if err := o.estimator.Persist(ctx); err != nil {
		logger.WarnKV(ctx, "Unable to persist step durations", "error", err)
	}
}

func (o *Orchestrator) humanRemaining() string {
	seconds := o.estimator.Remaining(o.machine.Snapshot(), time.Now())

	return units.HumanDuration(time.Duration(seconds) * time.Second)
}
