package serial

import (
	"bytes"
	"errors"
	"io"
	"log/slog"
	"os"
	"sync"
	"syscall"
	"testing"
	"time"

	"github.com/kstaniek/go-can-sniffer/internal/can"
	"github.com/kstaniek/go-can-sniffer/internal/filterbank"
)

func testLogger() *slog.Logger { return slog.New(slog.NewTextHandler(io.Discard, nil)) }

// feedPort hands out a fixed stream once, then behaves like an idle line.
type feedPort struct {
	mu     sync.Mutex
	data   []byte
	closed bool
}

func (p *feedPort) Read(b []byte) (int, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.closed {
		return 0, io.ErrClosedPipe
	}
	if len(p.data) == 0 {
		p.mu.Unlock()
		time.Sleep(time.Millisecond)
		p.mu.Lock()
		return 0, io.EOF
	}
	n := copy(b, p.data)
	p.data = p.data[n:]
	return n, nil
}
func (p *feedPort) Write(b []byte) (int, error) { return len(b), nil }
func (p *feedPort) Close() error {
	p.mu.Lock()
	p.closed = true
	p.mu.Unlock()
	return nil
}

func pollUntil(t *testing.T, c *Controller, n int) []can.Frame {
	t.Helper()
	var got []can.Frame
	deadline := time.Now().Add(time.Second)
	for time.Now().Before(deadline) && len(got) < n {
		fr, ok, err := c.PollFrame()
		if err != nil {
			t.Fatalf("PollFrame: %v", err)
		}
		if ok {
			got = append(got, fr)
			continue
		}
		time.Sleep(time.Millisecond)
	}
	return got
}

func TestControllerPollNotStarted(t *testing.T) {
	c := NewController(&feedPort{}, 4, testLogger())
	if _, _, err := c.PollFrame(); err != ErrNotStarted {
		t.Fatalf("expected ErrNotStarted, got %v", err)
	}
}

func TestControllerFilters(t *testing.T) {
	var stream bytes.Buffer
	for _, id := range []uint32{0x7E0, 0x123, 0x7E8} {
		stream.Write(rxWire(id, []byte{0x01}))
	}
	port := &feedPort{data: stream.Bytes()}
	c := NewController(port, 8, testLogger())
	bank, err := filterbank.Compile("7E0;7E8")
	if err != nil {
		t.Fatalf("Compile: %v", err)
	}
	_ = c.SetFilterBank(bank)
	_ = c.SetMode(true)
	if err := c.Init(can.Rate500K); err != nil {
		t.Fatalf("Init: %v", err)
	}
	defer c.Close()
	got := pollUntil(t, c, 2)
	if len(got) != 2 || got[0].ID != 0x7E0 || got[1].ID != 0x7E8 {
		t.Fatalf("unexpected frames: %+v", got)
	}
	if _, ok, _ := c.PollFrame(); ok {
		t.Fatalf("filtered frame leaked through")
	}
}

// errPort always fails to trigger backoff.
type errPort struct{}

func (errPort) Read([]byte) (int, error)    { return 0, io.ErrNoProgress }
func (errPort) Write(p []byte) (int, error) { return len(p), nil }
func (errPort) Close() error                { return nil }

func TestControllerBackoffProgression(t *testing.T) {
	var mu sync.Mutex
	var seen []time.Duration
	sleepFn = func(d time.Duration) {
		mu.Lock()
		seen = append(seen, d)
		mu.Unlock()
		time.Sleep(time.Millisecond)
	}
	defer func() { sleepFn = time.Sleep }()

	c := NewController(errPort{}, 4, testLogger())
	_ = c.Init(can.Rate500K)
	deadline := time.Now().Add(time.Second)
	for time.Now().Before(deadline) {
		mu.Lock()
		n := len(seen)
		mu.Unlock()
		if n >= 8 {
			break
		}
		time.Sleep(2 * time.Millisecond)
	}
	_ = c.Close()

	mu.Lock()
	defer mu.Unlock()
	if len(seen) < 3 {
		t.Fatalf("expected at least 3 backoff samples, got %d", len(seen))
	}
	if seen[0] != rxBackoffMin {
		t.Fatalf("first backoff %v, want %v", seen[0], rxBackoffMin)
	}
	for i := 1; i < len(seen); i++ {
		if seen[i] < seen[i-1] || seen[i] > rxBackoffMax {
			t.Fatalf("backoff sequence invalid at %d: %v", i, seen)
		}
	}
}

func TestControllerExtendedLowIDFilter(t *testing.T) {
	var stream bytes.Buffer
	stream.Write(rxWire(0x123|can.CAN_EFF_FLAG, []byte{0x01}))
	stream.Write(rxWire(0x123, []byte{0x02}))
	port := &feedPort{data: stream.Bytes()}
	c := NewController(port, 8, testLogger())
	bank, err := filterbank.Compile("00000123")
	if err != nil {
		t.Fatalf("Compile: %v", err)
	}
	_ = c.SetFilterBank(bank)
	if err := c.Init(can.Rate500K); err != nil {
		t.Fatalf("Init: %v", err)
	}
	defer c.Close()
	got := pollUntil(t, c, 1)
	if len(got) != 1 || got[0].ID != 0x123 || !got[0].Extended() || got[0].Data[0] != 0x01 {
		t.Fatalf("extended frame with low id must pass the extended filter: %+v", got)
	}
	time.Sleep(10 * time.Millisecond)
	if _, ok, _ := c.PollFrame(); ok {
		t.Fatalf("standard frame leaked through an extended filter")
	}
}

// lostPort delivers its data once, then reports the device gone.
type lostPort struct {
	mu   sync.Mutex
	data []byte
}

func (p *lostPort) Read(b []byte) (int, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	if len(p.data) == 0 {
		return 0, &os.PathError{Op: "read", Path: "/dev/ttyUSB0", Err: syscall.ENXIO}
	}
	n := copy(b, p.data)
	p.data = p.data[n:]
	return n, nil
}
func (p *lostPort) Write(b []byte) (int, error) { return len(b), nil }
func (p *lostPort) Close() error                { return nil }

func TestControllerDeviceLost(t *testing.T) {
	c := NewController(&lostPort{data: rxWire(0x7E8, []byte{0x01})}, 8, testLogger())
	if err := c.Init(can.Rate500K); err != nil {
		t.Fatalf("Init: %v", err)
	}
	defer c.Close()
	deadline := time.Now().Add(time.Second)
	var frames int
	for time.Now().Before(deadline) {
		_, ok, err := c.PollFrame()
		if ok {
			frames++
			continue
		}
		if err != nil {
			if !errors.Is(err, ErrDeviceLost) {
				t.Fatalf("expected ErrDeviceLost, got %v", err)
			}
			if frames != 1 {
				t.Fatalf("queued frame must be delivered before the loss, got %d", frames)
			}
			if _, _, err := c.PollFrame(); !errors.Is(err, ErrDeviceLost) {
				t.Fatalf("device loss must be sticky, got %v", err)
			}
			return
		}
		time.Sleep(time.Millisecond)
	}
	t.Fatalf("timeout waiting for device loss")
}
