// Package estimator predicts the remaining time of an update run.
//
// Each step keeps a capped history of observed durations, seeded with
// defaults until real runs have been recorded. The remaining time scales the
// estimates of unfinished steps by how fast the finished steps actually went.
package estimator
