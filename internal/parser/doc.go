// Package parser turns raw output lines into progress events.
//
// SourceParser reads git transfer meters; BuildParser reads the installation
// script's build log and keeps a BuildTracker of announced and started units.
// Both are safe for concurrent use and keep their percentages monotonic until
// Reset is called at the start of the next run.
package parser
