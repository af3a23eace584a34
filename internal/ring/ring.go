// Package ring implements the lossy frame queue shared by the capture and
// persistence tasks. One slot is always kept free so that head == tail only
// ever means "empty"; a push into a full buffer evicts the oldest frame.
package ring

import (
	"errors"
	"fmt"
	"sync"

	"github.com/kstaniek/go-can-sniffer/internal/can"
)

// ErrNotInitialized is returned by operations on a buffer that was never
// initialized or has been torn down.
var ErrNotInitialized = errors.New("ring: buffer not initialized")

// Hooks let the owner observe buffer events without coupling the buffer to metrics.
type Hooks struct {
	// OnEvict is called (outside the lock) after the oldest frame was dropped.
	OnEvict func(dropped can.Frame)
}

// Buffer is a fixed-capacity FIFO of frames. All methods are safe for
// concurrent use; none of them block beyond lock contention.
type Buffer struct {
	mu    sync.Mutex
	slots []can.Frame
	head  int // next write index
	tail  int // next read index
	count int
	hooks Hooks
}

// New allocates a buffer with capacity slots (capacity-1 usable).
func New(capacity int, hooks Hooks) (*Buffer, error) {
	if capacity < 2 {
		return nil, fmt.Errorf("ring: capacity must be >= 2 (got %d)", capacity)
	}
	return &Buffer{slots: make([]can.Frame, capacity), hooks: hooks}, nil
}

// Push appends a frame, evicting the oldest one when the buffer is full.
func (b *Buffer) Push(fr can.Frame) error {
	if b == nil {
		return ErrNotInitialized
	}
	b.mu.Lock()
	if b.slots == nil {
		b.mu.Unlock()
		return ErrNotInitialized
	}
	n := len(b.slots)
	b.slots[b.head] = fr
	b.head = (b.head + 1) % n
	b.count++
	var dropped can.Frame
	evicted := false
	if b.count == n {
		dropped = b.slots[b.tail]
		b.tail = (b.tail + 1) % n
		b.count = n - 1
		evicted = true
	}
	b.mu.Unlock()
	if evicted && b.hooks.OnEvict != nil {
		b.hooks.OnEvict(dropped)
	}
	return nil
}

// Pop removes the oldest frame. ok is false when the buffer is empty; err is
// ErrNotInitialized once the buffer was torn down.
func (b *Buffer) Pop() (fr can.Frame, ok bool, err error) {
	if b == nil {
		return can.Frame{}, false, ErrNotInitialized
	}
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.slots == nil {
		return can.Frame{}, false, ErrNotInitialized
	}
	if b.count == 0 {
		return can.Frame{}, false, nil
	}
	fr = b.slots[b.tail]
	b.tail = (b.tail + 1) % len(b.slots)
	b.count--
	return fr, true, nil
}

// Len returns the number of live frames (0 after teardown).
func (b *Buffer) Len() int {
	if b == nil {
		return 0
	}
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.count
}

// Cap returns the configured capacity (live frames are at most Cap()-1).
func (b *Buffer) Cap() int {
	if b == nil {
		return 0
	}
	b.mu.Lock()
	defer b.mu.Unlock()
	return len(b.slots)
}

// Teardown releases the backing storage. Later pushes fail with
// ErrNotInitialized. Calling it more than once is harmless.
func (b *Buffer) Teardown() {
	if b == nil {
		return
	}
	b.mu.Lock()
	b.slots = nil
	b.head, b.tail, b.count = 0, 0, 0
	b.mu.Unlock()
}
