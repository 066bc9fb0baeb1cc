// Package status implements the update-ctl status command: it reads the
// worker's step table once or keeps polling it while a run is active.
package status
