package pipeline

import (
	"errors"
	"testing"
	"time"

	"github.com/kstaniek/go-can-sniffer/internal/can"
	"github.com/kstaniek/go-can-sniffer/internal/filterbank"
	"github.com/kstaniek/go-can-sniffer/internal/ring"
	"github.com/kstaniek/go-can-sniffer/internal/status"
)

func TestProgramMalformedSpecLeavesControllerAlone(t *testing.T) {
	ctl := &fakeController{}
	_, err := Program(ctl, Config{FilterSpec: "7E0;18DAF110", Bitrate: can.Rate500K})
	if !errors.Is(err, filterbank.ErrMalformedSpec) {
		t.Fatalf("expected ErrMalformedSpec, got %v", err)
	}
	if ctl.inited || ctl.bank != nil {
		t.Fatalf("controller must not be programmed on a bad spec")
	}
}

func TestProgramInitFailure(t *testing.T) {
	ctl := &fakeController{initErr: errors.New("no ack")}
	if _, err := Program(ctl, Config{FilterSpec: "XXX"}); !errors.Is(err, ErrControllerInit) {
		t.Fatalf("expected ErrControllerInit, got %v", err)
	}
}

func TestProgramSuccess(t *testing.T) {
	ctl := &fakeController{}
	bank, err := Program(ctl, Config{FilterSpec: "7E0;7E8", Bitrate: can.Rate250K})
	if err != nil {
		t.Fatalf("Program: %v", err)
	}
	if !ctl.inited || ctl.bank == nil || ctl.bank.Filters != bank.Filters || !ctl.listen {
		t.Fatalf("controller not fully programmed: %+v", ctl)
	}
}

func TestCaptureIntervalsAndTeardown(t *testing.T) {
	clk := newClock()
	steps := []time.Duration{1500 * time.Microsecond, 2500 * time.Microsecond}
	i := 0
	ctl := &fakeController{frames: []can.Frame{can.New(0x123, 0xAB), can.New(0x7E8)}}
	ctl.onPoll = func() { clk.Advance(steps[i]); i++ }
	d := newDesc(Config{})
	c := NewCapture(d, ctl, WithClock(clk.Now), WithIdlePause(0), WithLogger(testLogger()))

	errCh := make(chan error, 1)
	go func() { errCh <- c.Run() }()

	var got []can.Frame
	deadline := time.Now().Add(time.Second)
	for time.Now().Before(deadline) && len(got) < 2 {
		if fr, ok, _ := d.Buffer.Pop(); ok {
			got = append(got, fr)
		}
	}
	d.Run.Stop(ErrShutdown)
	if err := <-errCh; err != nil {
		t.Fatalf("Run: %v", err)
	}
	if len(got) != 2 {
		t.Fatalf("expected 2 frames, got %d", len(got))
	}
	if got[0].Interval != 1500*time.Microsecond || got[1].Interval != 2500*time.Microsecond {
		t.Fatalf("unexpected intervals %v %v", got[0].Interval, got[1].Interval)
	}
	if err := d.Buffer.Push(can.New(1)); !errors.Is(err, ring.ErrNotInitialized) {
		t.Fatalf("buffer must be torn down after capture exits, got %v", err)
	}
}

func TestCapturePushFailureStopsPipeline(t *testing.T) {
	ctl := &fakeController{frames: []can.Frame{can.New(0x100)}}
	d := newDesc(Config{})
	d.Buffer.Teardown()
	c := NewCapture(d, ctl, WithIdlePause(0), WithLogger(testLogger()))
	if err := c.Run(); !errors.Is(err, ErrBufferGone) {
		t.Fatalf("expected ErrBufferGone, got %v", err)
	}
	if d.Run.Running() || !errors.Is(d.Run.Cause(), ErrBufferGone) {
		t.Fatalf("run flag must be cleared with ErrBufferGone")
	}
}

func TestCaptureReadErrorBacksOff(t *testing.T) {
	var sleeps []time.Duration
	sleepFn = func(d time.Duration) { sleeps = append(sleeps, d) }
	defer func() { sleepFn = time.Sleep }()

	ctl := &fakeController{pollErrs: 3, frames: []can.Frame{can.New(0x1)}}
	d := newDesc(Config{})
	ind := newIndicator()
	c := NewCapture(d, ctl, WithIdlePause(0), WithStatus(ind), WithLogger(testLogger()))
	var faultDuringErrors bool
	ctl.onPoll = func() {
		faultDuringErrors = ind.Get(status.ControllerFault)
		d.Run.Stop(ErrShutdown)
	}
	if err := c.Run(); err != nil {
		t.Fatalf("Run: %v", err)
	}
	if !faultDuringErrors {
		t.Fatalf("controller read errors must raise the controller fault")
	}
	if ind.Get(status.ControllerFault) {
		t.Fatalf("controller fault must clear once frames flow again")
	}
	want := []time.Duration{readBackoffMin, 2 * readBackoffMin, 4 * readBackoffMin}
	if len(sleeps) != len(want) {
		t.Fatalf("sleeps %v, want %v", sleeps, want)
	}
	for i := range want {
		if sleeps[i] != want[i] {
			t.Fatalf("sleeps %v, want %v", sleeps, want)
		}
	}
}
