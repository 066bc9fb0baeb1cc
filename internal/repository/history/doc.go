// Package history persists per-step duration history.
//
// Store is the key-value capability the estimator depends on; keys are step
// names and values are durations in seconds, oldest first. FileStore keeps the
// whole map in one JSON document (protojson over structpb), guarded by a file
// lock and replaced atomically on every write. MemoryStore serves tests and
// setups without a writable disk.
package history
