// Package update implements the gRPC transport of the update control API.
//
// The service machineupdater.v1.UpdateService is declared in update.proto with
// protobuf well-known types (Struct and Empty) as messages, and registered
// through the descriptor in service.go, so no generated code is needed.
// The package adapts domain types to those messages and exposes a server that
// calls into a provided business-service interface.
package update
