package process

import (
	"errors"
	"sync"

	"github.com/oshokin/machine-updater/internal/domain/update"
)

// ErrProcessAlreadyRunning is returned when a second process would become live.
var ErrProcessAlreadyRunning = errors.New("another process is already running")

// Handle identifies the live process of a run. A handle is registered before
// its process starts, so PID is zero until the process is running.
type Handle struct {
	// Step is the pipeline step that owns the process.
	Step update.StepName

	mu        sync.Mutex
	pid       int
	cancelled bool
	done      chan struct{}
}

func newHandle(step update.StepName) *Handle {
	return &Handle{
		Step: step,
		done: make(chan struct{}),
	}
}

// PID returns the operating system process identifier, or zero before start.
func (h *Handle) PID() int {
	h.mu.Lock()
	defer h.mu.Unlock()

	return h.pid
}

// Done is closed once the process has exited and been reaped,
// or when it failed to start.
func (h *Handle) Done() <-chan struct{} {
	return h.done
}

// Cancelled reports whether a cancel request targeted this process.
func (h *Handle) Cancelled() bool {
	h.mu.Lock()
	defer h.mu.Unlock()

	return h.cancelled
}

// attach records the pid of the started process. It reports false when a
// cancel request arrived before the pid was known; the caller must then
// signal the process itself.
func (h *Handle) attach(pid int) bool {
	h.mu.Lock()
	defer h.mu.Unlock()

	h.pid = pid

	return !h.cancelled
}

// requestCancel marks the handle cancelled and returns the pid to signal,
// zero when the process has not started yet.
func (h *Handle) requestCancel() int {
	h.mu.Lock()
	defer h.mu.Unlock()

	h.cancelled = true

	return h.pid
}

// Registry holds at most one live Handle.
type Registry struct {
	mu   sync.Mutex
	live *Handle
}

// NewRegistry returns an empty registry.
func NewRegistry() *Registry {
	return new(Registry)
}

// Get returns the live handle or nil.
func (r *Registry) Get() *Handle {
	r.mu.Lock()
	defer r.mu.Unlock()

	return r.live
}

// Set registers h as live. It fails if another handle is live.
// The runner reserves the slot before starting the process.
func (r *Registry) Set(h *Handle) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	if r.live != nil {
		return ErrProcessAlreadyRunning
	}

	r.live = h

	return nil
}

// Clear unregisters h. Clearing a handle that is no longer live is a no-op,
// so the runner and the canceller may both clear without coordination.
func (r *Registry) Clear(h *Handle) {
	r.mu.Lock()
	defer r.mu.Unlock()

	if r.live == h {
		r.live = nil
	}
}
