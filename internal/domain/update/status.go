package update

// Status is a snapshot of the update engine.
type Status struct {
	// RunID identifies the active or most recent run.
	RunID string
	// Running is true while a run is active.
	Running bool
	// Steps are the pipeline steps of the active or most recent run.
	Steps []Step
	// RemainingSeconds is the estimated time left; zero when idle.
	RemainingSeconds int
}

// CancelResult is the outcome of a cancel request. Cancel never fails with an
// error; a request that could not be honoured has Success false and a message.
type CancelResult struct {
	Success bool
	Error   string
}
