package serial

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"sync"
	"sync/atomic"
	"time"

	"github.com/kstaniek/go-can-sniffer/internal/can"
	"github.com/kstaniek/go-can-sniffer/internal/filterbank"
	"github.com/kstaniek/go-can-sniffer/internal/metrics"
)

const (
	readBufSize = 4096
	// reclaim the accumulator once drained if it grew past this
	largeBufferReclaimThreshold = 16 * 1024
	rxBackoffMin                = 20 * time.Millisecond
	rxBackoffMax                = 500 * time.Millisecond
)

var (
	// ErrNotStarted is returned by PollFrame before Init.
	ErrNotStarted = errors.New("serial: controller not initialized")
	// ErrDeviceLost is returned by PollFrame once the receive loop gave up on the port.
	ErrDeviceLost = errors.New("serial: device lost")
)

// sleepFn allows tests to intercept backoff sleeps.
var sleepFn = time.Sleep

// Controller captures frames from a serial CAN adapter. The adapter sets its
// bus speed itself; acceptance filtering happens in software with the same
// semantics as a hardware filter bank.
type Controller struct {
	port  Port
	codec Codec
	l     *slog.Logger

	frames chan can.Frame
	bank   atomic.Pointer[filterbank.Assignment]
	listen atomic.Bool

	startOnce sync.Once
	cancel    context.CancelFunc
	wg        sync.WaitGroup
	lost      atomic.Pointer[error]
}

// NewController wraps an open port. queue bounds frames decoded but not yet polled.
func NewController(port Port, queue int, l *slog.Logger) *Controller {
	if l == nil {
		l = slog.Default()
	}
	if queue <= 0 {
		queue = 256
	}
	return &Controller{port: port, l: l, frames: make(chan can.Frame, queue)}
}

// Init starts the receive loop. The bitrate is recorded only.
func (c *Controller) Init(rate can.Bitrate) error {
	c.startOnce.Do(func() {
		ctx, cancel := context.WithCancel(context.Background())
		c.cancel = cancel
		c.wg.Add(1)
		go c.rxLoop(ctx)
		c.l.Info("serial_controller_init", "bitrate", rate.String())
	})
	return nil
}

// SetFilterBank installs the software acceptance filter.
func (c *Controller) SetFilterBank(a filterbank.Assignment) error {
	c.bank.Store(&a)
	return nil
}

// SetMode records listen-only; the adapter link is receive-only anyway.
func (c *Controller) SetMode(listenOnly bool) error {
	c.listen.Store(listenOnly)
	return nil
}

// PollFrame returns a received frame without blocking. Frames queued before
// the device was lost are still delivered; after that every call fails with
// ErrDeviceLost.
func (c *Controller) PollFrame() (can.Frame, bool, error) {
	if c.cancel == nil {
		return can.Frame{}, false, ErrNotStarted
	}
	select {
	case fr := <-c.frames:
		return fr, true, nil
	default:
	}
	if err := c.lost.Load(); err != nil {
		// the loop stored the loss after its last enqueue
		select {
		case fr := <-c.frames:
			return fr, true, nil
		default:
		}
		return can.Frame{}, false, *err
	}
	return can.Frame{}, false, nil
}

// Close stops the receive loop and closes the port.
func (c *Controller) Close() error {
	if c.cancel != nil {
		c.cancel()
	}
	err := c.port.Close()
	c.wg.Wait()
	return err
}

func (c *Controller) accept(fr can.Frame) {
	if b := c.bank.Load(); b != nil && !b.Match(fr.ID, fr.Ext) {
		return
	}
	select {
	case c.frames <- fr:
	default:
		metrics.IncError(metrics.ErrSerialOverflow)
	}
}

func (c *Controller) rxLoop(ctx context.Context) {
	defer c.wg.Done()
	defer c.l.Info("serial_rx_end")
	buf := make([]byte, readBufSize)
	acc := bytes.NewBuffer(nil)
	backoff := rxBackoffMin
	for {
		select {
		case <-ctx.Done():
			return
		default:
		}
		n, err := c.port.Read(buf)
		if n > 0 {
			acc.Write(buf[:n])
			_ = c.codec.DecodeStream(acc, c.accept)
			if acc.Len() == 0 && cap(acc.Bytes()) > largeBufferReclaimThreshold {
				acc = bytes.NewBuffer(nil)
			}
			backoff = rxBackoffMin
		}
		if err != nil {
			if ctx.Err() != nil {
				return
			}
			var perr *os.PathError
			if errors.As(err, &perr) {
				c.l.Error("serial_device_lost", "error", err)
				lost := fmt.Errorf("%w: %v", ErrDeviceLost, err)
				c.lost.Store(&lost)
				return
			}
			if errors.Is(err, io.EOF) || errors.Is(err, io.ErrUnexpectedEOF) {
				continue // read timeout on an idle line
			}
			metrics.IncError(metrics.ErrSerialRead)
			c.l.Warn("serial_read_error", "error", err, "backoff", backoff)
			sleepFn(backoff)
			backoff *= 2
			if backoff > rxBackoffMax {
				backoff = rxBackoffMax
			}
		}
	}
}
