package updater

import (
	"context"
	"fmt"
	"path/filepath"

	"github.com/oshokin/machine-updater/internal/domain/update"
	"github.com/oshokin/machine-updater/internal/logger"
	"github.com/oshokin/machine-updater/internal/process"
)

// BuildDriver makes the installation script executable and runs it.
type BuildDriver struct {
	runner *process.Runner
	chmod  string
	script string
}

// NewBuildDriver creates a BuildDriver for script, a path relative to the working copy.
func NewBuildDriver(runner *process.Runner, chmod, script string) *BuildDriver {
	return &BuildDriver{
		runner: runner,
		chmod:  chmod,
		script: script,
	}
}

// Prepare runs chmod +x on the installation script.
func (d *BuildDriver) Prepare(ctx context.Context, dir string) error {
	logger.InfoKV(ctx, "Making installation script executable", "script", d.script)

	outcome := d.runner.Run(ctx, process.Command{
		Name: d.chmod,
		Args: []string{"+x", d.script},
		Dir:  dir,
		Step: update.StepPrepare,
	})

	return outcomeError(outcome, update.ErrPermissionChange)
}

// Build runs the installation script inside dir and streams its output to onLine.
func (d *BuildDriver) Build(ctx context.Context, dir string, onLine process.LineHandler) error {
	script := filepath.Join(dir, d.script)

	logger.InfoKV(ctx, "Running installation script", "script", script)

	outcome := d.runner.Run(ctx, process.Command{
		Name:   script,
		Dir:    dir,
		Step:   update.StepBuild,
		OnLine: onLine,
	})

	switch outcome.Kind {
	case process.OutcomeFailed:
		if outcome.Err != nil {
			return fmt.Errorf("%w: %w", &update.BuildScriptError{ExitCode: outcome.ExitCode}, outcome.Err)
		}

		return &update.BuildScriptError{ExitCode: outcome.ExitCode}
	default:
		return outcomeError(outcome, update.ErrBuildScript)
	}
}
