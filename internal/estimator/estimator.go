package estimator

import (
	"context"
	"errors"
	"fmt"
	"math"
	"slices"
	"sync"
	"time"

	"github.com/oshokin/machine-updater/internal/domain/update"
	"github.com/oshokin/machine-updater/internal/repository/history"
)

// HistoryCap is the number of durations kept per step.
const HistoryCap = 10

// DefaultDurations returns the seed estimates in seconds.
func DefaultDurations() map[update.StepName]float64 {
	return map[update.StepName]float64{
		update.StepClearRepository: 5,
		update.StepFetchSource:     120,
		update.StepPrepare:         2,
		update.StepBuild:           1200,
		update.StepFinalize:        60,
	}
}

// Estimator keeps duration history and computes remaining time.
type Estimator struct {
	mu       sync.RWMutex
	history  map[update.StepName][]float64
	defaults map[update.StepName]float64
	dirty    map[update.StepName]struct{}
	store    history.Store
}

// Option configures an Estimator.
type Option func(*Estimator)

// WithDefaults overrides seed estimates for the given steps.
func WithDefaults(defaults map[update.StepName]float64) Option {
	return func(e *Estimator) {
		for step, seconds := range defaults {
			e.defaults[step] = seconds
		}
	}
}

// New creates an Estimator persisting to store; store may be nil.
func New(store history.Store, opts ...Option) *Estimator {
	e := &Estimator{
		history:  make(map[update.StepName][]float64),
		defaults: DefaultDurations(),
		dirty:    make(map[update.StepName]struct{}),
		store:    store,
	}

	for _, opt := range opts {
		opt(e)
	}

	return e
}

// Load seeds the in-memory history from the store.
// Steps without stored history keep their defaults.
func (e *Estimator) Load(ctx context.Context) error {
	if e.store == nil {
		return nil
	}

	var errs []error

	for _, step := range update.StepOrder() {
		values, err := e.store.Get(ctx, string(step))
		if err != nil {
			if !errors.Is(err, history.ErrNotFound) {
				errs = append(errs, err)
			}

			continue
		}

		e.mu.Lock()
		e.history[step] = capped(values)
		e.mu.Unlock()
	}

	return errors.Join(errs...)
}

// History returns a copy of the recorded durations of step, oldest first.
func (e *Estimator) History(step update.StepName) []float64 {
	e.mu.RLock()
	defer e.mu.RUnlock()

	return slices.Clone(e.history[step])
}

// Estimate returns the expected duration of step in seconds:
// the mean of its history, or its default when there is none.
func (e *Estimator) Estimate(step update.StepName) float64 {
	e.mu.RLock()
	defer e.mu.RUnlock()

	return e.estimateLocked(step)
}

// Estimates returns Estimate for every pipeline step.
func (e *Estimator) Estimates() map[update.StepName]float64 {
	e.mu.RLock()
	defer e.mu.RUnlock()

	result := make(map[update.StepName]float64, len(e.defaults))
	for _, step := range update.StepOrder() {
		result[step] = e.estimateLocked(step)
	}

	return result
}

// Record appends an observed duration to the in-memory history.
// It never blocks on the store; call Persist to write recorded steps.
func (e *Estimator) Record(step update.StepName, elapsed time.Duration) {
	if elapsed <= 0 || !step.Known() {
		return
	}

	e.mu.Lock()
	defer e.mu.Unlock()

	e.history[step] = capped(append(e.history[step], elapsed.Seconds()))
	e.dirty[step] = struct{}{}
}

// Persist writes the history of every step recorded since the last Persist.
// Steps that fail to write stay pending for the next call.
func (e *Estimator) Persist(ctx context.Context) error {
	if e.store == nil {
		return nil
	}

	e.mu.Lock()
	pending := make(map[update.StepName][]float64, len(e.dirty))

	for step := range e.dirty {
		pending[step] = slices.Clone(e.history[step])
		delete(e.dirty, step)
	}
	e.mu.Unlock()

	var errs []error

	for step, values := range pending {
		if err := e.store.Put(ctx, string(step), values); err != nil {
			errs = append(errs, fmt.Errorf("persist %s durations: %w", step, err))

			e.mu.Lock()
			e.dirty[step] = struct{}{}
			e.mu.Unlock()
		}
	}

	return errors.Join(errs...)
}

// Remaining returns the estimated seconds left for the run described by steps.
//
// Completed steps give a speed factor (actual / estimated duration, 1.0 when
// none has timing). Each pending or in-progress step contributes its estimate
// times that factor, minus the time already spent when in progress, floored at 0.
func (e *Estimator) Remaining(steps []update.Step, now time.Time) int {
	var actual, estimated float64

	for i := range steps {
		step := &steps[i]
		if step.Status != update.StatusCompleted || step.StartedAt.IsZero() || step.EndedAt.IsZero() {
			continue
		}

		actual += step.Elapsed(now).Seconds()
		estimated += e.estimateOf(step)
	}

	speed := 1.0
	if actual > 0 && estimated > 0 {
		speed = actual / estimated
	}

	var remaining float64

	for i := range steps {
		step := &steps[i]

		switch step.Status {
		case update.StatusPending:
			remaining += e.estimateOf(step) * speed
		case update.StatusInProgress:
			remaining += max(e.estimateOf(step)*speed-step.Elapsed(now).Seconds(), 0)
		case update.StatusCompleted, update.StatusFailed:
		}
	}

	return int(math.Ceil(remaining))
}

// estimateOf prefers the estimate captured in the step at run start.
func (e *Estimator) estimateOf(step *update.Step) float64 {
	if step.EstimatedSeconds > 0 {
		return step.EstimatedSeconds
	}

	return e.Estimate(step.Name)
}

func (e *Estimator) estimateLocked(step update.StepName) float64 {
	values := e.history[step]
	if len(values) == 0 {
		return e.defaults[step]
	}

	var sum float64
	for _, v := range values {
		sum += v
	}

	return sum / float64(len(values))
}

// capped keeps the newest HistoryCap values.
func capped(values []float64) []float64 {
	if len(values) > HistoryCap {
		values = values[len(values)-HistoryCap:]
	}

	return slices.Clone(values)
}
