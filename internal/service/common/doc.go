// Package common holds helpers shared by the update-ctl services.
//
// It provides a gRPC client wrapper for the update worker with call timeouts
// and a helper to detect the current user and host for audit purposes.
//
//nolint:revive,nolintlint // Package name "common" is intentional for shared helpers.
package common
