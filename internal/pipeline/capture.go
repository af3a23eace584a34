package pipeline

import (
	"fmt"
	"time"

	"github.com/kstaniek/go-can-sniffer/internal/logging"
	"github.com/kstaniek/go-can-sniffer/internal/metrics"
	"github.com/kstaniek/go-can-sniffer/internal/status"
)

const (
	readBackoffMin = 20 * time.Millisecond
	readBackoffMax = 500 * time.Millisecond
)

// Capture polls the controller and feeds the ring buffer.
type Capture struct {
	common
	d   *Descriptor
	ctl Controller
}

// NewCapture builds the capture task.
func NewCapture(d *Descriptor, ctl Controller, opts ...Option) *Capture {
	c := &Capture{common: defaults(), d: d, ctl: ctl}
	for _, o := range opts {
		o(&c.common)
	}
	c.l = logging.Task(c.l, "capture")
	return c
}

// Run loops until the run flag is cleared, then tears down the ring buffer.
func (c *Capture) Run() error {
	defer c.d.Buffer.Teardown()
	c.l.Info("capture_start")
	defer c.l.Info("capture_end")

	last := c.now()
	backoff := readBackoffMin
	faulted := false
	for c.d.Run.Running() {
		c.wd.Feed("capture")
		fr, ok, err := c.ctl.PollFrame()
		if err != nil {
			metrics.IncError(metrics.ErrControllerRead)
			if !faulted {
				faulted = true
				c.status.Set(status.ControllerFault, true)
			}
			c.l.Warn("controller_read_error", "error", err, "backoff", backoff)
			sleepFn(backoff)
			backoff *= 2
			if backoff > readBackoffMax {
				backoff = readBackoffMax
			}
			continue
		}
		if !ok {
			c.pause()
			continue
		}
		backoff = readBackoffMin
		if faulted {
			faulted = false
			c.status.Set(status.ControllerFault, false)
		}
		now := c.now()
		fr.Interval = now.Sub(last).Truncate(time.Microsecond)
		last = now
		if err := c.d.Buffer.Push(fr); err != nil {
			metrics.IncError(metrics.ErrRingPush)
			c.l.Error("ring_push_failed", "error", err)
			c.d.Run.Stop(ErrBufferGone)
			return fmt.Errorf("%w: %v", ErrBufferGone, err)
		}
		metrics.IncCaptured()
	}
	return nil
}
