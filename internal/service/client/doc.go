// Package client implements the update-ctl run and cancel commands.
//
// A run is started either on the update worker over gRPC or in-process with
// a local orchestrator; in both cases the transcript and progress are
// rendered until the run's end event arrives.
package client
