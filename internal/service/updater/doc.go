// Package updater runs the device update pipeline.
//
// An Orchestrator clears the working copy, fetches the requested revision,
// makes the installation script executable, runs it and finalizes the run.
// Child output is parsed into progress events which, together with step
// changes, log lines and the terminal end event, are fanned out to
// subscribers through a Bus.
package updater
