package update

import (
	"errors"
	"fmt"
)

var (
	// ErrMissingWorkingRoot is returned when no working root can be resolved.
	ErrMissingWorkingRoot = errors.New("working root directory is not set")
	// ErrOwnerRequired is returned when the repository owner is empty.
	ErrOwnerRequired = errors.New("repository owner must be provided")
	// ErrRepositoryRequired is returned when the repository name is empty.
	ErrRepositoryRequired = errors.New("repository name must be provided")
	// ErrNoRevisionSelector is returned when none of tag, branch or commit is set.
	ErrNoRevisionSelector = errors.New("no version specified: one of tag, branch or commit is required")
	// ErrMultipleRevisionSelectors is returned when more than one selector is set.
	ErrMultipleRevisionSelectors = errors.New("only one of tag, branch or commit may be specified")
	// ErrClearDirectory is returned when the working copy cannot be removed.
	ErrClearDirectory = errors.New("clear repository directory")
	// ErrFetch is returned when the repository cannot be fetched.
	ErrFetch = errors.New("fetch repository")
	// ErrCheckout is returned when the fetched repository cannot be switched to the commit.
	ErrCheckout = errors.New("checkout revision")
	// ErrPermissionChange is returned when the installation script cannot be made executable.
	ErrPermissionChange = errors.New("make installation script executable")
	// ErrBuildScript is matched by every BuildScriptError.
	ErrBuildScript = errors.New("installation script failed")
	// ErrProcessSpawn is returned when an external command cannot be started.
	ErrProcessSpawn = errors.New("start process")
	// ErrCancelledByUser is returned when a run ends because of a cancel request.
	ErrCancelledByUser = errors.New("update cancelled by user")
	// ErrNoActiveProcess is returned by cancel when nothing is running.
	// The message is shown to operators verbatim.
	//
	//nolint:staticcheck,revive // Capitalised to match the UI wording.
	ErrNoActiveProcess = errors.New("No update process running")
	// ErrAlreadyRunning is returned when a run is requested while another is active.
	ErrAlreadyRunning = errors.New("an update is already running")
)

// BuildScriptError reports a non-zero exit of the installation script.
type BuildScriptError struct {
	ExitCode int
}

// Error implements error.
func (e *BuildScriptError) Error() string {
	return fmt.Sprintf("%s with exit code %d", ErrBuildScript, e.ExitCode)
}

// Is makes errors.Is(err, ErrBuildScript) match.
func (e *BuildScriptError) Is(target error) bool {
	return target == ErrBuildScript
}
