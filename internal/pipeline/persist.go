package pipeline

import (
	"context"
	"errors"
	"fmt"
	"io"
	"io/fs"
	"time"

	"github.com/avast/retry-go"

	"github.com/kstaniek/go-can-sniffer/internal/can"
	"github.com/kstaniek/go-can-sniffer/internal/frametext"
	"github.com/kstaniek/go-can-sniffer/internal/logging"
	"github.com/kstaniek/go-can-sniffer/internal/metrics"
	"github.com/kstaniek/go-can-sniffer/internal/remote"
	"github.com/kstaniek/go-can-sniffer/internal/status"
)

const (
	BatchSize     = 50
	FlushInterval = 500 * time.Millisecond
	RotateBytes   = 20000
	Attempts      = 2
)

// LogStore is the numbered capture file set.
type LogStore interface {
	Create(idx int) error
	Append(idx int, p []byte) (int, error)
	Size(idx int) (int64, error)
	SaveIndex(idx int) error
	Close() error
}

// Persister drains the ring buffer into batches and writes them out.
type Persister struct {
	common
	d     *Descriptor
	store LogStore
	sink  remote.Sink
	echo  io.Writer

	codec    frametext.Codec
	netCodec frametext.Codec

	file      int
	fileBytes int64
	batch     []can.Frame
	batchAt   time.Time // first frame of the pending batch was popped
	lastPop   time.Time
	netOn     bool
}

// NewPersister builds the persistence task. A nil sink disables network
// delivery; a nil echo disables the serial monitor mirror.
func NewPersister(d *Descriptor, store LogStore, sink remote.Sink, echo io.Writer, opts ...Option) *Persister {
	p := &Persister{
		common:   defaults(),
		d:        d,
		store:    store,
		sink:     sink,
		echo:     echo,
		netCodec: frametext.Codec{Style: frametext.Compact},
		batch:    make([]can.Frame, 0, BatchSize),
		netOn:    sink != nil,
	}
	if d.Config.Formatted {
		p.codec.Style = frametext.Formatted
	}
	for _, o := range opts {
		o(&p.common)
	}
	p.l = logging.Task(p.l, "persist")
	return p
}

// File returns the active capture file index.
func (p *Persister) File() int { return p.file }

// NetworkEnabled reports whether batches are still delivered remotely.
func (p *Persister) NetworkEnabled() bool { return p.netOn }

// Open selects the first capture file: file 1 on a fresh medium, otherwise
// the last known file, advancing past it when it already holds data.
func (p *Persister) Open() error {
	idx := p.d.Config.LastFile
	create := false
	if idx <= 0 {
		idx, create = 1, true
	} else {
		size, err := p.store.Size(idx)
		switch {
		case errors.Is(err, fs.ErrNotExist):
			create = true
		case err != nil:
			return fmt.Errorf("size of file %d: %w", idx, err)
		case size > 0:
			idx, create = idx+1, true
		}
	}
	if create {
		if err := p.store.Create(idx); err != nil {
			return err
		}
		if err := p.store.SaveIndex(idx); err != nil {
			return err
		}
	}
	p.file, p.fileBytes = idx, 0
	metrics.SetActiveFile(idx)
	p.l.Info("capture_file", "index", idx, "created", create)
	return nil
}

// Run opens the first file and loops until the run flag is cleared.
func (p *Persister) Run(ctx context.Context) error {
	defer p.shutdown(ctx)
	if err := p.Open(); err != nil {
		return p.storageFatal(err)
	}
	p.l.Info("persist_start", "style", p.codec.Style.String(), "network", p.netOn)
	for p.d.Run.Running() {
		if err := p.step(ctx); err != nil {
			return err
		}
	}
	return nil
}

func (p *Persister) step(ctx context.Context) error {
	p.wd.Feed("persist")
	if len(p.batch) == 0 && p.d.Buffer.Len() == 0 {
		p.status.Set(status.Ready, true)
		p.pause()
		return nil
	}
	fr, ok, err := p.d.Buffer.Pop()
	if err != nil {
		if !p.d.Run.Running() {
			return nil
		}
		p.l.Error("ring_pop_failed", "error", err)
		p.d.Run.Stop(ErrBufferGone)
		return fmt.Errorf("%w: %v", ErrBufferGone, err)
	}
	if ok {
		now := p.now()
		if len(p.batch) == 0 {
			p.batchAt = now
		}
		p.batch = append(p.batch, fr)
		p.lastPop = now
	}
	if len(p.batch) == 0 {
		return nil
	}
	if len(p.batch) >= BatchSize || p.now().Sub(p.batchAt) >= FlushInterval {
		return p.flush(ctx)
	}
	return nil
}

func (p *Persister) flush(ctx context.Context) error {
	defer func() { p.batch = p.batch[:0] }()
	metrics.SetRingDepth(p.d.Buffer.Len())

	if p.fileBytes > RotateBytes {
		if err := p.rotate(); err != nil {
			metrics.IncError(metrics.ErrStorageRotate)
			return p.storageFatal(err)
		}
	}
	text := p.codec.Encode(p.batch)
	// a retry after a short write appends only the unwritten tail
	written := 0
	err := p.attempt(ctx, "storage_write", func() error {
		n, err := p.store.Append(p.file, text[written:])
		written += min(max(n, 0), len(text)-written)
		return err
	})
	p.fileBytes += int64(written)
	if err != nil {
		metrics.IncError(metrics.ErrStorageWrite)
		return p.storageFatal(err)
	}
	metrics.AddFlush(len(p.batch), len(text))
	if p.echo != nil {
		if _, err := p.echo.Write(text); err != nil {
			p.l.Debug("echo_dropped", "error", err)
		}
	}
	if p.netOn {
		p.deliver(ctx)
	}
	return nil
}

func (p *Persister) rotate() error {
	next := p.file + 1
	if err := p.store.Create(next); err != nil {
		return err
	}
	if err := p.store.SaveIndex(next); err != nil {
		return err
	}
	p.l.Info("file_rotated", "from", p.file, "to", next, "bytes", p.fileBytes)
	p.file, p.fileBytes = next, 0
	metrics.IncRotation(next)
	return nil
}

func (p *Persister) deliver(ctx context.Context) {
	b := remote.Batch{
		Frames: p.batch,
		Text:   p.netCodec.Encode(p.batch),
		At:     p.lastPop,
	}
	err := p.attempt(ctx, "network_post", func() error { return p.sink.Deliver(ctx, b) })
	if err == nil {
		metrics.IncNetworkBatch()
		return
	}
	metrics.IncError(metrics.ErrNetworkPost)
	if errors.Is(err, remote.ErrLinkDown) {
		metrics.IncError(metrics.ErrLinkDown)
		p.status.Set(status.LinkFault, true)
	} else {
		p.status.Set(status.EndpointFault, true)
	}
	p.disableNetwork(err)
}

// attempt runs fn at most Attempts times.
func (p *Persister) attempt(ctx context.Context, what string, fn func() error) error {
	return retry.Do(fn,
		retry.Context(ctx),
		retry.Attempts(Attempts),
		retry.Delay(p.retry),
		retry.DelayType(retry.FixedDelay),
		retry.OnRetry(func(n uint, err error) {
			p.l.Warn(what+"_retry", "attempt", n+1, "error", err)
		}),
		retry.LastErrorOnly(true),
	)
}

func (p *Persister) storageFatal(err error) error {
	p.status.Set(status.StorageFault, true)
	p.l.Error("storage_failed", "file", p.file, "error", err)
	p.disableNetwork(ErrStorageFatal)
	p.d.Run.Stop(ErrStorageFatal)
	return fmt.Errorf("%w: %v", ErrStorageFatal, err)
}

func (p *Persister) disableNetwork(cause error) {
	if !p.netOn {
		return
	}
	p.netOn = false
	metrics.SetNetworkDisabled(true)
	if err := p.sink.Close(); err != nil {
		p.l.Debug("sink_close_error", "error", err)
	}
	p.l.Warn("network_disabled", "cause", cause)
}

func (p *Persister) shutdown(ctx context.Context) {
	if len(p.batch) > 0 && errors.Is(p.d.Run.Cause(), ErrShutdown) {
		// operator stop: keep what was already drained
		if err := p.flush(ctx); err != nil {
			p.l.Warn("final_flush_failed", "error", err)
		}
	}
	if p.netOn {
		p.netOn = false
		if err := p.sink.Close(); err != nil {
			p.l.Debug("sink_close_error", "error", err)
		}
	}
	if err := p.store.Close(); err != nil {
		p.l.Warn("storage_close_error", "error", err)
	}
	p.status.Set(status.Ready, false)
	p.l.Info("persist_end", "file", p.file)
}
