package update

import "time"

// Event is one item of the run's event stream. The set of variants is closed:
// StepChange, SourceProgress, BuildProgress, LogLine and End.
type Event interface {
	// Kind returns a stable name for the variant, used on the wire.
	Kind() string

	isEvent()
}

// StepChange reports a step status transition.
type StepChange struct {
	Step   StepName
	Status StepStatus
}

// SourceProgress reports repository transfer progress in percent (0-100).
type SourceProgress struct {
	Percent float64
}

// BuildProgress reports build progress derived from the installation script output.
type BuildProgress struct {
	// Phase is a human-readable description of the current build phase.
	Phase string
	// Percent is the overall build progress (0-100).
	Percent int
	// Unit is the display name of the unit being built, if any.
	Unit string
	// Completed is the number of units whose build has started.
	Completed int
	// Total is the number of units announced for the build.
	Total int
}

// Stream names the output stream a LogLine came from.
type Stream string

const (
	// StreamStdout is the child's standard output.
	StreamStdout Stream = "stdout"
	// StreamStderr is the child's standard error.
	StreamStderr Stream = "stderr"
	// StreamSystem marks lines produced by the updater itself.
	StreamSystem Stream = "system"
)

// LogLine is one line of the run transcript.
type LogLine struct {
	Stream Stream
	Text   string
}

// End is the terminal event of a run.
type End struct {
	Success   bool
	Cancelled bool
	Error     string
}

// Kind implements Event.
func (StepChange) Kind() string { return "step_change" }

// Kind implements Event.
func (SourceProgress) Kind() string { return "source_progress" }

// Kind implements Event.
func (BuildProgress) Kind() string { return "build_progress" }

// Kind implements Event.
func (LogLine) Kind() string { return "log" }

// Kind implements Event.
func (End) Kind() string { return "end" }

func (StepChange) isEvent()     {}
func (SourceProgress) isEvent() {}
func (BuildProgress) isEvent()  {}
func (LogLine) isEvent()        {}
func (End) isEvent()            {}

// Envelope carries an event together with its run identity and timestamp.
type Envelope struct {
	RunID string
	Time  time.Time
	Event Event
}
