package steps

import (
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/oshokin/machine-updater/internal/domain/update"
)

// durationRecorder collects recorded durations.
type durationRecorder struct {
	mu       sync.Mutex
	recorded map[update.StepName]time.Duration
}

func (r *durationRecorder) Record(step update.StepName, elapsed time.Duration) {
	r.mu.Lock()
	defer r.mu.Unlock()

	if r.recorded == nil {
		r.recorded = make(map[update.StepName]time.Duration)
	}

	r.recorded[step] = elapsed
}

// TestMachine_Lifecycle walks a step through its statuses and records the duration.
func TestMachine_Lifecycle(t *testing.T) {
	t.Parallel()

	var (
		recorder = new(durationRecorder)
		m        = NewMachine(recorder)
		start    = time.Date(2026, 10, 19, 9, 0, 0, 0, time.UTC)
	)

	m.Reset(map[update.StepName]float64{update.StepBuild: 900})

	snapshot := m.Snapshot()
	require.Len(t, snapshot, 5)
	require.Equal(t, update.StepClearRepository, snapshot[0].Name)
	require.Equal(t, update.StepFinalize, snapshot[4].Name)
	require.InDelta(t, 900, snapshot[3].EstimatedSeconds, 0)

	for _, step := range snapshot {
		require.Equal(t, update.StatusPending, step.Status)
	}

	require.NotEmpty(t, m.Apply(update.StepChange{Step: update.StepClearRepository, Status: update.StatusInProgress}, start))

	current, ok := m.Current()
	require.True(t, ok)
	require.Equal(t, update.StepClearRepository, current.Name)

	require.NotEmpty(t, m.Apply(update.StepChange{Step: update.StepClearRepository, Status: update.StatusCompleted}, start.Add(3*time.Second)))
	require.Equal(t, 3*time.Second, recorder.recorded[update.StepClearRepository])

	_, ok = m.Current()
	require.False(t, ok)

	step, ok := m.Step(update.StepClearRepository)
	require.True(t, ok)
	require.Equal(t, start, step.StartedAt)
	require.Equal(t, start.Add(3*time.Second), step.EndedAt)
}

// TestMachine_NeverRegresses ignores backward and skipping transitions.
func TestMachine_NeverRegresses(t *testing.T) {
	t.Parallel()

	var (
		m   = NewMachine(nil)
		now = time.Now()
	)

	require.Empty(t, m.Apply(update.StepChange{Step: update.StepFetchSource, Status: update.StatusCompleted}, now))
	require.NotEmpty(t, m.Apply(update.StepChange{Step: update.StepFetchSource, Status: update.StatusInProgress}, now))
	require.Empty(t, m.Apply(update.StepChange{Step: update.StepFetchSource, Status: update.StatusPending}, now))
	require.NotEmpty(t, m.Apply(update.StepChange{Step: update.StepFetchSource, Status: update.StatusFailed}, now))
	require.Empty(t, m.Apply(update.StepChange{Step: update.StepFetchSource, Status: update.StatusInProgress}, now))
	require.Empty(t, m.Apply(update.StepChange{Step: update.StepFetchSource, Status: update.StatusCompleted}, now))

	step, _ := m.Step(update.StepFetchSource)
	require.Equal(t, update.StatusFailed, step.Status)

	require.Empty(t, m.Apply(update.StepChange{Step: "flash-firmware", Status: update.StatusInProgress}, now))
}

// TestMachine_EarlyFinalize completes build when finalize starts early and
// ignores the late duplicate signals.
func TestMachine_EarlyFinalize(t *testing.T) {
	t.Parallel()

	var (
		recorder = new(durationRecorder)
		m        = NewMachine(recorder)
		start    = time.Now()
	)

	require.NotEmpty(t, m.Apply(update.StepChange{Step: update.StepBuild, Status: update.StatusInProgress}, start))
	require.Equal(t, []update.StepChange{
		{Step: update.StepBuild, Status: update.StatusCompleted},
		{Step: update.StepFinalize, Status: update.StatusInProgress},
	}, m.Apply(update.StepChange{Step: update.StepFinalize, Status: update.StatusInProgress}, start.Add(time.Minute)))

	build, _ := m.Step(update.StepBuild)
	require.Equal(t, update.StatusCompleted, build.Status)
	require.Equal(t, time.Minute, recorder.recorded[update.StepBuild])

	require.Empty(t, m.Apply(update.StepChange{Step: update.StepBuild, Status: update.StatusCompleted}, start.Add(2*time.Minute)))
	require.Empty(t, m.Apply(update.StepChange{Step: update.StepFinalize, Status: update.StatusInProgress}, start.Add(2*time.Minute)))
	require.Empty(t, m.Apply(update.StepChange{Step: update.StepBuild, Status: update.StatusInProgress}, start.Add(2*time.Minute)))

	failed, ok := m.FailCurrent(start.Add(3 * time.Minute))
	require.True(t, ok)
	require.Equal(t, update.StepChange{Step: update.StepFinalize, Status: update.StatusFailed}, failed)

	in := 0
	for _, step := range m.Snapshot() {
		if step.Status == update.StatusInProgress {
			in++
		}
	}

	require.Zero(t, in)
}

// TestMachine_FailCurrentIdle reports nothing to fail.
func TestMachine_FailCurrentIdle(t *testing.T) {
	t.Parallel()

	_, ok := NewMachine(nil).FailCurrent(time.Now())
	require.False(t, ok)
}
