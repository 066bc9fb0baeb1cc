package update

import (
	"errors"
	"testing"

	"github.com/stretchr/testify/require"
)

// TestRequest_ValidateSelector checks the exactly-one selector rule.
func TestRequest_ValidateSelector(t *testing.T) {
	t.Parallel()

	base := Request{Owner: "qitechgmbh", Repository: "control"}

	require.ErrorIs(t, base.Validate(), ErrNoRevisionSelector)

	withTag := base
	withTag.Tag = "v2.1.0"
	require.NoError(t, withTag.Validate())

	kind, value, ok := withTag.Selector()
	require.True(t, ok)
	require.Equal(t, SelectorTag, kind)
	require.Equal(t, "v2.1.0", value)

	both := withTag
	both.Commit = "3f9a1c2"
	require.ErrorIs(t, both.Validate(), ErrMultipleRevisionSelectors)

	blank := base
	blank.Branch = "   "
	require.ErrorIs(t, blank.Validate(), ErrNoRevisionSelector)
}

// TestRequest_ValidateIdentity ensures owner and repository are required.
func TestRequest_ValidateIdentity(t *testing.T) {
	t.Parallel()

	require.ErrorIs(t, Request{Repository: "control", Tag: "v1"}.Validate(), ErrOwnerRequired)
	require.ErrorIs(t, Request{Owner: "qitechgmbh", Tag: "v1"}.Validate(), ErrRepositoryRequired)
}

// TestStepStatus_CanTransitionTo verifies the status lattice never goes backwards.
func TestStepStatus_CanTransitionTo(t *testing.T) {
	t.Parallel()

	require.True(t, StatusPending.CanTransitionTo(StatusInProgress))
	require.False(t, StatusPending.CanTransitionTo(StatusCompleted))
	require.False(t, StatusPending.CanTransitionTo(StatusFailed))
	require.True(t, StatusInProgress.CanTransitionTo(StatusCompleted))
	require.True(t, StatusInProgress.CanTransitionTo(StatusFailed))
	require.False(t, StatusInProgress.CanTransitionTo(StatusPending))

	for _, terminal := range []StepStatus{StatusCompleted, StatusFailed} {
		for _, next := range []StepStatus{StatusPending, StatusInProgress, StatusCompleted, StatusFailed} {
			require.False(t, terminal.CanTransitionTo(next))
		}
	}
}

// TestBuildScriptError_Is verifies exit-code errors match the sentinel.
func TestBuildScriptError_Is(t *testing.T) {
	t.Parallel()

	var err error = &BuildScriptError{ExitCode: 3}

	require.ErrorIs(t, err, ErrBuildScript)
	require.Contains(t, err.Error(), "exit code 3")

	var target *BuildScriptError
	require.True(t, errors.As(err, &target))
	require.Equal(t, 3, target.ExitCode)
}
