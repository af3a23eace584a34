package pipeline

import (
	"errors"
	"sync"
)

// ErrShutdown is the stop cause for an operator requested shutdown.
var ErrShutdown = errors.New("pipeline: shutdown requested")

// RunState is the cooperative stop flag shared by both tasks. Clearing it
// only requests a stop; each task notices on its next iteration.
type RunState struct {
	mu      sync.Mutex
	running bool
	cause   error
	done    chan struct{}
}

// NewRunState returns a flag in the running state.
func NewRunState() *RunState {
	return &RunState{running: true, done: make(chan struct{})}
}

// Running reports whether the flag is still set.
func (r *RunState) Running() bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.running
}

// Stop clears the flag. Only the first call records its cause and returns true.
func (r *RunState) Stop(cause error) bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	if !r.running {
		return false
	}
	r.running = false
	r.cause = cause
	close(r.done)
	return true
}

// Cause returns the error passed to the first Stop.
func (r *RunState) Cause() error {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.cause
}

// Done is closed once the flag is cleared.
func (r *RunState) Done() <-chan struct{} { return r.done }
