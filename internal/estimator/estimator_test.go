package estimator

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/oshokin/machine-updater/internal/domain/update"
	"github.com/oshokin/machine-updater/internal/repository/history"
	"github.com/oshokin/machine-updater/internal/steps"
)

func pendingSteps(e *Estimator) []update.Step {
	machine := steps.NewMachine(nil)
	machine.Reset(e.Estimates())

	return machine.Snapshot()
}

// TestRemaining_DefaultsBeforeAnyCompletion checks that a fresh run is the plain sum of defaults.
func TestRemaining_DefaultsBeforeAnyCompletion(t *testing.T) {
	t.Parallel()

	e := New(nil)

	var sum float64
	for _, seconds := range DefaultDurations() {
		sum += seconds
	}

	require.Equal(t, int(sum), e.Remaining(pendingSteps(e), time.Now()))
}

// TestRemaining_SpeedFactor checks that completed steps scale the rest of the estimate.
func TestRemaining_SpeedFactor(t *testing.T) {
	t.Parallel()

	e := New(nil, WithDefaults(map[update.StepName]float64{
		update.StepClearRepository: 10,
		update.StepFetchSource:     10,
		update.StepPrepare:         10,
		update.StepBuild:           10,
		update.StepFinalize:        10,
	}))

	start := time.Date(2026, 1, 1, 12, 0, 0, 0, time.UTC)
	machine := steps.NewMachine(nil)
	machine.Reset(e.Estimates())

	// Clearing took twice as long as expected.
	require.NotEmpty(t, machine.Apply(update.StepChange{Step: update.StepClearRepository, Status: update.StatusInProgress}, start))
	require.NotEmpty(t, machine.Apply(update.StepChange{Step: update.StepClearRepository, Status: update.StatusCompleted}, start.Add(20*time.Second)))

	require.Equal(t, 80, e.Remaining(machine.Snapshot(), start.Add(20*time.Second)))

	// Five seconds into fetching: 20 - 5 left for it, 60 for the rest.
	require.NotEmpty(t, machine.Apply(update.StepChange{Step: update.StepFetchSource, Status: update.StatusInProgress}, start.Add(20*time.Second)))
	require.Equal(t, 75, e.Remaining(machine.Snapshot(), start.Add(25*time.Second)))
}

// TestRemaining_NeverNegative checks an in-progress step running far past its estimate.
func TestRemaining_NeverNegative(t *testing.T) {
	t.Parallel()

	e := New(nil)
	start := time.Date(2026, 1, 1, 12, 0, 0, 0, time.UTC)

	stepsList := []update.Step{
		{Name: update.StepBuild, Status: update.StatusInProgress, StartedAt: start, EstimatedSeconds: 1},
	}

	require.Zero(t, e.Remaining(stepsList, start.Add(time.Hour)))
	require.Zero(t, e.Remaining(nil, start))
}

// TestRemaining_Ceiling checks rounding up of fractional estimates.
func TestRemaining_Ceiling(t *testing.T) {
	t.Parallel()

	e := New(nil)
	stepsList := []update.Step{
		{Name: update.StepPrepare, Status: update.StatusPending, EstimatedSeconds: 1.2},
	}

	require.Equal(t, 2, e.Remaining(stepsList, time.Now()))
}

// TestRecord_CapsHistory checks that only the newest HistoryCap durations are kept.
func TestRecord_CapsHistory(t *testing.T) {
	t.Parallel()

	e := New(nil)

	for i := 1; i <= HistoryCap+5; i++ {
		e.Record(update.StepBuild, time.Duration(i)*time.Second)
	}

	values := e.History(update.StepBuild)
	require.Len(t, values, HistoryCap)
	require.InDelta(t, 6.0, values[0], 1e-9)
	require.InDelta(t, 15.0, values[HistoryCap-1], 1e-9)
	require.InDelta(t, 10.5, e.Estimate(update.StepBuild), 1e-9)
}

// TestRecord_IgnoresUnknownSteps checks that invalid input is dropped.
func TestRecord_IgnoresUnknownSteps(t *testing.T) {
	t.Parallel()

	e := New(nil)
	e.Record("unknown", time.Second)
	e.Record(update.StepBuild, 0)

	require.Empty(t, e.History("unknown"))
	require.Empty(t, e.History(update.StepBuild))
	require.InDelta(t, DefaultDurations()[update.StepBuild], e.Estimate(update.StepBuild), 1e-9)
}

// TestPersistence checks that recorded durations survive a new estimator over the same store.
func TestPersistence(t *testing.T) {
	t.Parallel()

	ctx := context.Background()
	store := history.NewMemoryStore()

	first := New(store)
	first.Record(update.StepFetchSource, 30*time.Second)
	first.Record(update.StepFetchSource, 50*time.Second)

	_, err := store.Get(ctx, string(update.StepFetchSource))
	require.ErrorIs(t, err, history.ErrNotFound)

	require.NoError(t, first.Persist(ctx))
	require.NoError(t, first.Persist(ctx))

	second := New(store)
	require.NoError(t, second.Load(ctx))
	require.InDelta(t, 40.0, second.Estimate(update.StepFetchSource), 1e-9)
	require.InDelta(t, DefaultDurations()[update.StepPrepare], second.Estimate(update.StepPrepare), 1e-9)
}

// flakyStore rejects writes while fail is set.
type flakyStore struct {
	history.Store
	fail bool
}

func (s *flakyStore) Put(ctx context.Context, key string, values []float64) error {
	if s.fail {
		return errors.New("disk full")
	}

	return s.Store.Put(ctx, key, values)
}

// TestPersist_KeepsFailedSteps retries steps whose write failed.
func TestPersist_KeepsFailedSteps(t *testing.T) {
	t.Parallel()

	var (
		ctx   = context.Background()
		store = &flakyStore{Store: history.NewMemoryStore(), fail: true}
		e     = New(store)
	)

	e.Record(update.StepBuild, time.Minute)
	require.ErrorContains(t, e.Persist(ctx), "disk full")

	store.fail = false
	require.NoError(t, e.Persist(ctx))

	values, err := store.Get(ctx, string(update.StepBuild))
	require.NoError(t, err)
	require.Equal(t, []float64{60}, values)
}

// TestMachineRecordsIntoEstimator checks the estimator as the machine's recorder.
func TestMachineRecordsIntoEstimator(t *testing.T) {
	t.Parallel()

	e := New(nil)
	machine := steps.NewMachine(e)
	start := time.Date(2026, 1, 1, 12, 0, 0, 0, time.UTC)

	require.NotEmpty(t, machine.Apply(update.StepChange{Step: update.StepClearRepository, Status: update.StatusInProgress}, start))
	require.NotEmpty(t, machine.Apply(update.StepChange{Step: update.StepClearRepository, Status: update.StatusCompleted}, start.Add(3*time.Second)))

	require.Equal(t, []float64{3}, e.History(update.StepClearRepository))
}
