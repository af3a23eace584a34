package pipeline

import (
	"context"
	"errors"
	"fmt"
	"io"
	"io/fs"
	"log/slog"
	"sync"
	"time"

	"github.com/kstaniek/go-can-sniffer/internal/can"
	"github.com/kstaniek/go-can-sniffer/internal/filterbank"
	"github.com/kstaniek/go-can-sniffer/internal/remote"
	"github.com/kstaniek/go-can-sniffer/internal/ring"
	"github.com/kstaniek/go-can-sniffer/internal/status"
	"github.com/kstaniek/go-can-sniffer/internal/storage"
)

func testLogger() *slog.Logger { return slog.New(slog.NewTextHandler(io.Discard, nil)) }

func newDesc(cfg Config) *Descriptor {
	if cfg.RingSize == 0 {
		cfg.RingSize = 256
	}
	d, err := NewDescriptor(cfg, ring.Hooks{})
	if err != nil {
		panic(err)
	}
	return d
}

// manualClock is advanced explicitly by tests.
type manualClock struct {
	mu sync.Mutex
	t  time.Time
}

func newClock() *manualClock { return &manualClock{t: time.Unix(1700000000, 0)} }

func (c *manualClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.t
}

func (c *manualClock) Advance(d time.Duration) {
	c.mu.Lock()
	c.t = c.t.Add(d)
	c.mu.Unlock()
}

type fakeController struct {
	mu       sync.Mutex
	frames   []can.Frame
	initErr  error
	inited   bool
	bank     *filterbank.Assignment
	listen   bool
	onPoll   func() // called before each successful poll
	pollErrs int
}

func (f *fakeController) Init(can.Bitrate) error {
	f.inited = f.initErr == nil
	return f.initErr
}

func (f *fakeController) SetFilterBank(a filterbank.Assignment) error {
	f.bank = &a
	return nil
}

func (f *fakeController) SetMode(listenOnly bool) error {
	f.listen = listenOnly
	return nil
}

func (f *fakeController) PollFrame() (can.Frame, bool, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.pollErrs > 0 {
		f.pollErrs--
		return can.Frame{}, false, errors.New("bus-off")
	}
	if len(f.frames) == 0 {
		return can.Frame{}, false, nil
	}
	if f.onPoll != nil {
		f.onPoll()
	}
	fr := f.frames[0]
	f.frames = f.frames[1:]
	return fr, true, nil
}

type fakeStore struct {
	files     map[int][]byte
	created   []int
	saved     []int
	appends   int
	failAll   bool
	failFirst int
	shortOnce bool // first append stores half of p and reports a short write
	closed    bool
}

func newStore() *fakeStore { return &fakeStore{files: map[int][]byte{}} }

func (s *fakeStore) Create(idx int) error {
	s.files[idx] = nil
	s.created = append(s.created, idx)
	return nil
}

func (s *fakeStore) Append(idx int, p []byte) (int, error) {
	s.appends++
	if s.shortOnce {
		s.shortOnce = false
		n := len(p) / 2
		s.files[idx] = append(s.files[idx], p[:n]...)
		return n, fmt.Errorf("%w: %d of %d bytes", storage.ErrShortWrite, n, len(p))
	}
	if s.failAll || s.failFirst > 0 {
		if s.failFirst > 0 {
			s.failFirst--
		}
		return 0, errors.New("card removed")
	}
	s.files[idx] = append(s.files[idx], p...)
	return len(p), nil
}

func (s *fakeStore) Size(idx int) (int64, error) {
	b, ok := s.files[idx]
	if !ok {
		return 0, fmt.Errorf("stat LOG-%04d: %w", idx, fs.ErrNotExist)
	}
	return int64(len(b)), nil
}

func (s *fakeStore) SaveIndex(idx int) error {
	s.saved = append(s.saved, idx)
	return nil
}

func (s *fakeStore) Close() error { s.closed = true; return nil }

type fakeSink struct {
	batches [][]byte
	calls   int
	err     error
	closed  bool
}

func (s *fakeSink) Deliver(_ context.Context, b remote.Batch) error {
	s.calls++
	if s.err != nil {
		return s.err
	}
	s.batches = append(s.batches, append([]byte(nil), b.Text...))
	return nil
}

func (s *fakeSink) Close() error { s.closed = true; return nil }

type recordIndicator struct {
	mu    sync.Mutex
	state map[status.Signal]bool
}

func newIndicator() *recordIndicator { return &recordIndicator{state: map[status.Signal]bool{}} }

func (r *recordIndicator) Set(sig status.Signal, on bool) {
	r.mu.Lock()
	r.state[sig] = on
	r.mu.Unlock()
}

func (r *recordIndicator) Get(sig status.Signal) bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.state[sig]
}
