// Package worker runs the update engine as a background service.
//
// It loads settings, builds the orchestrator with its duration history and
// serves the control API over gRPC until the context is cancelled. On
// shutdown the active run is cancelled and open event streams are closed.
package worker
