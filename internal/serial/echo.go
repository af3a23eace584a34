package serial

import (
	"context"
	"errors"
	"io"

	"github.com/kstaniek/go-can-sniffer/internal/logging"
	"github.com/kstaniek/go-can-sniffer/internal/metrics"
	"github.com/kstaniek/go-can-sniffer/internal/transport"
)

// ErrEchoOverflow is returned when the echo queue is full.
var ErrEchoOverflow = errors.New("serial echo overflow")

// Echo mirrors stored batch text to a monitor (a serial port or stdout)
// without ever blocking the writer.
type Echo struct{ base *transport.AsyncTx[[]byte] }

// NewEcho starts an echo worker writing to w with a queue of buf chunks.
func NewEcho(parent context.Context, w io.Writer, buf int) *Echo {
	hooks := transport.Hooks{
		OnError: func(err error) {
			metrics.IncError(metrics.ErrEchoWrite)
			logging.L().Warn("echo_write_error", "error", err)
		},
		OnDrop: func() error {
			metrics.IncError(metrics.ErrEchoOverflow)
			return ErrEchoOverflow
		},
	}
	send := func(p []byte) error {
		_, err := w.Write(p)
		return err
	}
	return &Echo{base: transport.NewAsyncTx(parent, buf, send, hooks)}
}

// Write queues a copy of p.
func (e *Echo) Write(p []byte) (int, error) {
	cp := append([]byte(nil), p...)
	if err := e.base.Send(cp); err != nil {
		return 0, err
	}
	return len(p), nil
}

// Close stops the worker.
func (e *Echo) Close() { e.base.Close() }
