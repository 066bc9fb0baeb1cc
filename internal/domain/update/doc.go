// Package update contains core domain types for the update pipeline.
//
// It defines Request (what to fetch), Step and StepStatus (the fixed ordered
// pipeline and its status lattice), the Event variants published while a run
// progresses, and the error taxonomy shared by every layer.
package update
