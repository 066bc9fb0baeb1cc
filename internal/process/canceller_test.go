package process

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/oshokin/machine-updater/internal/domain/update"
)

// TestCanceller_Idle returns the no-active-process result without side effects.
func TestCanceller_Idle(t *testing.T) {
	t.Parallel()

	canceller := NewCanceller(NewRegistry(), time.Second)

	err := canceller.Cancel(context.Background())
	require.ErrorIs(t, err, update.ErrNoActiveProcess)
	require.Equal(t, "No update process running", err.Error())
}

// TestCanceller_Graceful terminates a process tree with SIGTERM and is idempotent.
func TestCanceller_Graceful(t *testing.T) {
	t.Parallel()

	var (
		registry  = NewRegistry()
		runner    = NewRunner(registry)
		canceller = NewCanceller(registry, 5*time.Second)
		result    = make(chan Outcome, 1)
	)

	go func() {
		result <- runner.Run(context.Background(), Command{
			Name: "sh",
			Args: []string{"-c", "sleep 30 & sleep 30; wait"},
			Dir:  t.TempDir(),
			Step: update.StepBuild,
		})
	}()

	handle := waitLive(t, registry)
	require.Equal(t, update.StepBuild, handle.Step)

	require.NoError(t, canceller.Cancel(context.Background()))
	require.Nil(t, registry.Get())

	select {
	case outcome := <-result:
		require.Equal(t, OutcomeCancelled, outcome.Kind)
	case <-time.After(10 * time.Second):
		t.Fatal("runner did not return after cancel")
	}

	require.ErrorIs(t, canceller.Cancel(context.Background()), update.ErrNoActiveProcess)
}

// TestCanceller_Escalates kills a process that ignores SIGTERM.
func TestCanceller_Escalates(t *testing.T) {
	t.Parallel()

	var (
		registry  = NewRegistry()
		runner    = NewRunner(registry)
		canceller = NewCanceller(registry, 200*time.Millisecond)
		result    = make(chan Outcome, 1)
	)

	go func() {
		result <- runner.Run(context.Background(), Command{
			Name: "sh",
			Args: []string{"-c", "trap '' TERM; echo ready; sleep 30"},
			Dir:  t.TempDir(),
		})
	}()

	waitLive(t, registry)
	// Give the shell time to install the trap.
	time.Sleep(200 * time.Millisecond)

	start := time.Now()

	require.NoError(t, canceller.Cancel(context.Background()))
	require.GreaterOrEqual(t, time.Since(start), 200*time.Millisecond)

	outcome := <-result
	require.Equal(t, OutcomeCancelled, outcome.Kind)
	require.Equal(t, -1, outcome.ExitCode)
}

// TestCanceller_AnyStep terminates the process of every step, including prepare.
func TestCanceller_AnyStep(t *testing.T) {
	t.Parallel()

	var (
		registry  = NewRegistry()
		runner    = NewRunner(registry)
		canceller = NewCanceller(registry, 2*time.Second)
		result    = make(chan Outcome, 1)
	)

	go func() {
		result <- runner.Run(context.Background(), Command{
			Name: "sleep",
			Args: []string{"30"},
			Dir:  t.TempDir(),
			Step: update.StepPrepare,
		})
	}()

	require.Equal(t, update.StepPrepare, waitLive(t, registry).Step)
	require.NoError(t, canceller.Cancel(context.Background()))
	require.Equal(t, OutcomeCancelled, (<-result).Kind)
}

// TestCanceller_BeforeStart waits for a reserved process that has no pid yet.
func TestCanceller_BeforeStart(t *testing.T) {
	t.Parallel()

	var (
		registry = NewRegistry()
		handle   = newHandle(update.StepFetchSource)
		errc     = make(chan error, 1)
	)

	require.NoError(t, registry.Set(handle))

	go func() {
		errc <- NewCanceller(registry, 2*time.Second).Cancel(context.Background())
	}()

	require.Eventually(t, handle.Cancelled, 5*time.Second, 10*time.Millisecond)

	// The runner learns about the request when it attaches the pid.
	require.False(t, handle.attach(4242))
	close(handle.done)

	require.NoError(t, <-errc)
	require.Nil(t, registry.Get())
}

// TestProcessTree includes the root last.
func TestProcessTree(t *testing.T) {
	t.Parallel()

	var (
		registry = NewRegistry()
		runner   = NewRunner(registry)
		done     = make(chan struct{})
	)

	go func() {
		defer close(done)

		runner.Run(context.Background(), Command{
			Name: "sh",
			Args: []string{"-c", "sleep 30 & wait"},
			Dir:  t.TempDir(),
		})
	}()

	handle := waitLive(t, registry)

	require.Eventually(t, func() bool {
		tree, err := processTree(handle.PID())
		return err == nil && len(tree) >= 2 && tree[len(tree)-1] == handle.PID()
	}, 5*time.Second, 20*time.Millisecond)

	require.NoError(t, NewCanceller(registry, 2*time.Second).Cancel(context.Background()))
	<-done
}
