package update

import "time"

// StepName identifies a pipeline step.
type StepName string

const (
	// StepClearRepository removes the previous working copy.
	StepClearRepository StepName = "clear-repository"
	// StepFetchSource clones the requested revision.
	StepFetchSource StepName = "fetch-source"
	// StepPrepare marks the installation script executable.
	StepPrepare StepName = "prepare"
	// StepBuild runs the installation script.
	StepBuild StepName = "build"
	// StepFinalize covers bootloader work and the end of the run.
	StepFinalize StepName = "finalize"
)

// StepOrder returns the fixed pipeline order.
func StepOrder() []StepName {
	return []StepName{
		StepClearRepository,
		StepFetchSource,
		StepPrepare,
		StepBuild,
		StepFinalize,
	}
}

// Label returns the display label of the step.
func (n StepName) Label() string {
	switch n {
	case StepClearRepository:
		return "Clearing repository"
	case StepFetchSource:
		return "Fetching source"
	case StepPrepare:
		return "Preparing installation"
	case StepBuild:
		return "Building system"
	case StepFinalize:
		return "Finalizing"
	default:
		return string(n)
	}
}

// Known reports whether n is one of the pipeline steps.
func (n StepName) Known() bool {
	for _, name := range StepOrder() {
		if name == n {
			return true
		}
	}

	return false
}

// StepStatus is the lifecycle status of a step.
type StepStatus string

const (
	// StatusPending means the step has not started.
	StatusPending StepStatus = "pending"
	// StatusInProgress means the step is running.
	StatusInProgress StepStatus = "in-progress"
	// StatusCompleted means the step finished successfully.
	StatusCompleted StepStatus = "completed"
	// StatusFailed means the step aborted the run.
	StatusFailed StepStatus = "failed"
)

// CanTransitionTo reports whether s -> next is allowed:
// pending -> in-progress -> completed | failed.
func (s StepStatus) CanTransitionTo(next StepStatus) bool {
	switch s {
	case StatusPending:
		return next == StatusInProgress
	case StatusInProgress:
		return next == StatusCompleted || next == StatusFailed
	default:
		return false
	}
}

// Step is one pipeline step with its timing data.
type Step struct {
	// Name is the step identifier.
	Name StepName
	// Label is the human-readable step title.
	Label string
	// Status is the current lifecycle status.
	Status StepStatus
	// StartedAt is set when the step enters in-progress.
	StartedAt time.Time
	// EndedAt is set when the step completes or fails.
	EndedAt time.Time
	// EstimatedSeconds is the expected duration captured at run start.
	EstimatedSeconds float64
}

// Elapsed returns the time spent in the step up to now.
// It is zero for a step that never started.
func (s *Step) Elapsed(now time.Time) time.Duration {
	if s.StartedAt.IsZero() {
		return 0
	}

	if !s.EndedAt.IsZero() {
		return s.EndedAt.Sub(s.StartedAt)
	}

	return now.Sub(s.StartedAt)
}
