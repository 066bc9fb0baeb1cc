package updater

import (
	"fmt"
	"path/filepath"

	"github.com/gofrs/flock"

	"github.com/oshokin/machine-updater/internal/domain/update"
)

// LockFilename marks a running update inside the working root.
const LockFilename = ".machine-update.lock"

// runLock keeps other updater processes from starting a run on the same root.
type runLock struct {
	lock *flock.Flock
}

func acquireRunLock(root string) (*runLock, error) {
	lock := flock.New(filepath.Join(root, LockFilename))

	locked, err := lock.TryLock()
	if err != nil {
		return nil, fmt.Errorf("acquire run lock: %w", err)
	}

	if !locked {
		return nil, update.ErrAlreadyRunning
	}

	return &runLock{lock: lock}, nil
}

func (l *runLock) release() error {
	return l.lock.Unlock()
}
