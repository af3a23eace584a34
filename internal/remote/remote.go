// Package remote delivers captured batches off the device and fetches
// runtime settings from the collection server.
package remote

import (
	"context"
	"errors"
	"time"

	"github.com/kstaniek/go-can-sniffer/internal/can"
)

var (
	// ErrLinkDown means the network link was down and could not be raised.
	ErrLinkDown = errors.New("remote: link down")
	// ErrEndpoint means the endpoint rejected or failed the request.
	ErrEndpoint = errors.New("remote: endpoint error")
)

// Batch is one flushed group of frames. Text is its compact encoding.
type Batch struct {
	Frames []can.Frame
	Text   []byte
	// At is the capture time of the last frame; earlier frames are placed
	// by walking their intervals backwards.
	At time.Time
}

// Timestamps reconstructs absolute times for every frame of b.
func (b Batch) Timestamps() []time.Time {
	ts := make([]time.Time, len(b.Frames))
	t := b.At
	for i := len(b.Frames) - 1; i >= 0; i-- {
		ts[i] = t
		t = t.Add(-b.Frames[i].Interval)
	}
	return ts
}

// Sink receives batches. Implementations are not required to be safe for
// concurrent use; the persistence task calls them from one goroutine.
type Sink interface {
	Deliver(ctx context.Context, b Batch) error
	Close() error
}
