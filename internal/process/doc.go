// Package process spawns the external commands of an update run.
//
// Runner starts one command at a time, streams stdout and stderr line by line
// and reports an Outcome. Registry holds the single live Handle, reserved
// before the command starts and shared with Canceller, which terminates the
// live process and all its descendants: SIGTERM first, SIGKILL after the
// grace period.
package process
