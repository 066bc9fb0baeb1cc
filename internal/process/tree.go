package process

import (
	"errors"
	"fmt"
	"os"
	"slices"

	"github.com/mitchellh/go-ps"
)

// processTree returns root and all of its descendants, deepest first and root last.
func processTree(root int) ([]int, error) {
	processList, err := ps.Processes()
	if err != nil {
		return []int{root}, fmt.Errorf("list processes: %w", err)
	}

	children := make(map[int][]int, len(processList))
	for _, p := range processList {
		children[p.PPid()] = append(children[p.PPid()], p.Pid())
	}

	var (
		order = make([]int, 0, len(children[root])+1)
		queue = []int{root}
		seen  = map[int]struct{}{root: {}}
	)

	for len(queue) > 0 {
		pid := queue[0]
		queue = queue[1:]
		order = append(order, pid)

		for _, child := range children[pid] {
			if _, found := seen[child]; found {
				continue
			}

			seen[child] = struct{}{}
			queue = append(queue, child)
		}
	}

	slices.Reverse(order)

	return order, nil
}

// isAlive reports whether pid is still present in the process table.
func isAlive(pid int) bool {
	p, err := ps.FindProcess(pid)

	return err == nil && p != nil
}

// signalAll sends sig to every pid, skipping processes that are already gone.
func signalAll(pids []int, sig os.Signal) error {
	var errs []error

	for _, pid := range pids {
		p, err := os.FindProcess(pid)
		if err != nil {
			continue
		}

		if err = p.Signal(sig); err != nil && !errors.Is(err, os.ErrProcessDone) && isAlive(pid) {
			errs = append(errs, fmt.Errorf("signal %d: %w", pid, err))
		}
	}

	return errors.Join(errs...)
}
