package steps

import (
	"slices"
	"sync"
	"time"

	"github.com/oshokin/machine-updater/internal/domain/update"
)

// Recorder receives the duration of every step that finished.
type Recorder interface {
	Record(step update.StepName, elapsed time.Duration)
}

// Machine tracks the status of the pipeline steps of the current run.
type Machine struct {
	mu       sync.RWMutex
	steps    []update.Step
	current  int
	recorder Recorder
}

// NewMachine returns a machine with every step pending.
// recorder may be nil.
func NewMachine(recorder Recorder) *Machine {
	m := &Machine{recorder: recorder}
	m.Reset(nil)

	return m
}

// Reset puts every step back to pending with the given duration estimates (seconds).
func (m *Machine) Reset(estimates map[update.StepName]float64) {
	m.mu.Lock()
	defer m.mu.Unlock()

	order := update.StepOrder()

	m.steps = make([]update.Step, 0, len(order))
	for _, name := range order {
		m.steps = append(m.steps, update.Step{
			Name:             name,
			Label:            name.Label(),
			Status:           update.StatusPending,
			EstimatedSeconds: estimates[name],
		})
	}

	m.current = -1
}

// Apply moves change.Step to change.Status and returns the step changes that
// took effect, in order. Unknown steps and transitions that would go backwards
// are ignored and return nil.
//
// Entering in-progress while an earlier step is still in-progress completes
// that earlier step first and reports it, so at most one step is ever in-progress.
func (m *Machine) Apply(change update.StepChange, now time.Time) []update.StepChange {
	m.mu.Lock()

	index := m.indexOf(change.Step)
	if index < 0 || !m.steps[index].Status.CanTransitionTo(change.Status) {
		m.mu.Unlock()

		return nil
	}

	var (
		applied  []update.StepChange
		finished []update.Step
	)

	if change.Status == update.StatusInProgress {
		if m.current >= 0 && m.current != index && m.steps[m.current].Status == update.StatusInProgress {
			if m.current > index {
				m.mu.Unlock()

				return nil
			}

			earlier := m.finish(m.current, update.StatusCompleted, now)
			finished = append(finished, earlier)
			applied = append(applied, update.StepChange{Step: earlier.Name, Status: update.StatusCompleted})
		}

		m.steps[index].Status = update.StatusInProgress
		m.steps[index].StartedAt = now
		m.current = index
	} else {
		finished = append(finished, m.finish(index, change.Status, now))
	}

	applied = append(applied, change)

	recorder := m.recorder
	m.mu.Unlock()

	if recorder != nil {
		for _, step := range finished {
			recorder.Record(step.Name, step.EndedAt.Sub(step.StartedAt))
		}
	}

	return applied
}

// FailCurrent marks the in-progress step failed and returns the change, if any.
func (m *Machine) FailCurrent(now time.Time) (update.StepChange, bool) {
	current, ok := m.Current()
	if !ok {
		return update.StepChange{}, false
	}

	applied := m.Apply(update.StepChange{Step: current.Name, Status: update.StatusFailed}, now)
	if len(applied) == 0 {
		return update.StepChange{}, false
	}

	return applied[len(applied)-1], true
}

// Current returns the in-progress step.
func (m *Machine) Current() (update.Step, bool) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	if m.current < 0 || m.steps[m.current].Status != update.StatusInProgress {
		return update.Step{}, false
	}

	return m.steps[m.current], true
}

// Step returns a copy of the named step.
func (m *Machine) Step(name update.StepName) (update.Step, bool) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	index := m.indexOf(name)
	if index < 0 {
		return update.Step{}, false
	}

	return m.steps[index], true
}

// Snapshot returns a copy of all steps in pipeline order.
func (m *Machine) Snapshot() []update.Step {
	m.mu.RLock()
	defer m.mu.RUnlock()

	return slices.Clone(m.steps)
}

// finish must be called with mu held.
func (m *Machine) finish(index int, status update.StepStatus, now time.Time) update.Step {
	m.steps[index].Status = status
	m.steps[index].EndedAt = now

	return m.steps[index]
}

func (m *Machine) indexOf(name update.StepName) int {
	return slices.IndexFunc(m.steps, func(s update.Step) bool {
		return s.Name == name
	})
}
