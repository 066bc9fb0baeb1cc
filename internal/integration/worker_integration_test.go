package integration

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/oshokin/machine-updater/internal/domain/update"
)

// TestWorker_RunOverGRPC runs a full update through the control API.
func TestWorker_RunOverGRPC(t *testing.T) {
	var (
		cfg     = newConfig(t, quickInstall)
		address = startWorker(t, cfg)
		client  = dial(t, address)
	)

	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	stream, err := client.Events(ctx)
	require.NoError(t, err)

	runID, err := client.Execute(ctx, request())
	require.NoError(t, err)
	require.NotEmpty(t, runID)

	var (
		changes []update.StepChange
		lines   []string
		build   []int
	)

	end := readRun(t, stream, runID, func(env update.Envelope) {
		require.False(t, env.Time.IsZero())

		switch event := env.Event.(type) {
		case update.StepChange:
			changes = append(changes, event)
		case update.LogLine:
			lines = append(lines, event.Text)
		case update.BuildProgress:
			build = append(build, event.Percent)
		}
	})

	require.True(t, end.Success, end.Error)
	require.Len(t, changes, 10)
	require.Equal(t, update.StepChange{Step: update.StepFinalize, Status: update.StatusCompleted}, changes[9])
	require.Contains(t, lines, "Clearing repository...")
	require.NotEmpty(t, build)
	require.Equal(t, 95, build[len(build)-1])

	for _, line := range lines {
		require.NotContains(t, line, "integration-token")
	}

	status, err := client.Status(ctx)
	require.NoError(t, err)
	require.Equal(t, runID, status.RunID)
	require.False(t, status.Running)
	require.Zero(t, status.RemainingSeconds)
	require.Len(t, status.Steps, len(update.StepOrder()))

	for _, step := range status.Steps {
		require.Equal(t, update.StatusCompleted, step.Status, step.Name)
		require.False(t, step.StartedAt.IsZero())
	}

	result, err := client.Cancel(ctx)
	require.NoError(t, err)
	require.Equal(t, update.CancelResult{Success: false, Error: "No update process running"}, result)
}

// TestWorker_CancelOverGRPC cancels a running installation script.
func TestWorker_CancelOverGRPC(t *testing.T) {
	var (
		cfg     = newConfig(t, slowInstall)
		address = startWorker(t, cfg)
		client  = dial(t, address)
	)

	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	stream, err := client.Events(ctx)
	require.NoError(t, err)

	runID, err := client.Execute(ctx, request())
	require.NoError(t, err)

	// Wait until the script is live before cancelling.
	for {
		env, recvErr := stream.Recv()
		require.NoError(t, recvErr)

		if line, ok := env.Event.(update.LogLine); ok && line.Text == "ready" {
			break
		}
	}

	_, err = client.Execute(ctx, request())
	require.Error(t, err)

	status, err := client.Status(ctx)
	require.NoError(t, err)
	require.True(t, status.Running)

	result, err := client.Cancel(ctx)
	require.NoError(t, err)
	require.True(t, result.Success)

	end := readRun(t, stream, runID, nil)
	require.True(t, end.Cancelled)
	require.False(t, end.Success)

	status, err = client.Status(ctx)
	require.NoError(t, err)
	require.False(t, status.Running)
	require.Equal(t, update.StatusFailed, status.Steps[3].Status)
}

// TestWorker_RejectsInvalidRequest reports validation errors to the caller.
func TestWorker_RejectsInvalidRequest(t *testing.T) {
	var (
		cfg     = newConfig(t, quickInstall)
		address = startWorker(t, cfg)
		client  = dial(t, address)
	)

	req := request()
	req.Branch = "main"

	_, err := client.Execute(context.Background(), req)
	require.Error(t, err)
	require.Contains(t, err.Error(), update.ErrMultipleRevisionSelectors.Error())
}
