// Package steps holds the state machine of the fixed pipeline steps.
package steps
