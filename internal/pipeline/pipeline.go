// Package pipeline runs the capture and persistence tasks around the shared
// ring buffer.
//
//	controller -> Capture -> ring.Buffer -> Persister -> {log files, remote sink}
package pipeline

import (
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/kstaniek/go-can-sniffer/internal/can"
	"github.com/kstaniek/go-can-sniffer/internal/filterbank"
	"github.com/kstaniek/go-can-sniffer/internal/logging"
	"github.com/kstaniek/go-can-sniffer/internal/ring"
	"github.com/kstaniek/go-can-sniffer/internal/status"
)

var (
	// ErrControllerInit wraps controller bring-up failures.
	ErrControllerInit = errors.New("pipeline: controller init failed")
	// ErrStorageFatal is the stop cause after storage retries are exhausted.
	ErrStorageFatal = errors.New("pipeline: storage failure")
	// ErrBufferGone is the stop cause when the ring buffer disappeared under a task.
	ErrBufferGone = errors.New("pipeline: buffer unavailable")
)

// DefaultRingSize is the ring capacity used when Config.RingSize is zero.
const DefaultRingSize = 4096

// sleepFn allows tests to intercept pauses.
var sleepFn = time.Sleep

// Config is the parsed configuration the pipeline runs with.
type Config struct {
	Bitrate    can.Bitrate
	FilterSpec string
	Formatted  bool // storage text style; network always uses compact
	SerialEcho bool
	LastFile   int

	RecordsURL string
	RateURL    string
	FiltersURL string
	User       string
	Password   string

	SSID         string
	LinkPassword string

	RingSize int
}

// Descriptor is shared by reference between both tasks.
type Descriptor struct {
	Config Config
	Buffer *ring.Buffer
	Run    *RunState
}

// NewDescriptor allocates the ring buffer and sets the run flag.
func NewDescriptor(cfg Config, hooks ring.Hooks) (*Descriptor, error) {
	size := cfg.RingSize
	if size == 0 {
		size = DefaultRingSize
	}
	buf, err := ring.New(size, hooks)
	if err != nil {
		return nil, err
	}
	return &Descriptor{Config: cfg, Buffer: buf, Run: NewRunState()}, nil
}

// Controller is the CAN controller driver.
type Controller interface {
	Init(rate can.Bitrate) error
	SetFilterBank(a filterbank.Assignment) error
	SetMode(listenOnly bool) error
	PollFrame() (can.Frame, bool, error)
}

// Program compiles the filter specification and brings the controller up in
// listen-only mode. The controller is not touched unless the filter list compiles.
func Program(ctl Controller, cfg Config) (filterbank.Assignment, error) {
	bank, err := filterbank.Compile(cfg.FilterSpec)
	if err != nil {
		return bank, err
	}
	if err := ctl.Init(cfg.Bitrate); err != nil {
		return bank, fmt.Errorf("%w: %v", ErrControllerInit, err)
	}
	if err := ctl.SetFilterBank(bank); err != nil {
		return bank, fmt.Errorf("%w: filters: %v", ErrControllerInit, err)
	}
	if err := ctl.SetMode(true); err != nil {
		return bank, fmt.Errorf("%w: mode: %v", ErrControllerInit, err)
	}
	return bank, nil
}

// Watchdog is fed once per task iteration.
type Watchdog interface {
	Feed(task string)
}

type nopIndicator struct{}

func (nopIndicator) Set(status.Signal, bool) {}

type nopWatchdog struct{}

func (nopWatchdog) Feed(string) {}

// common holds collaborators shared by both tasks.
type common struct {
	status status.Indicator
	wd     Watchdog
	l      *slog.Logger
	now    func() time.Time
	idle   time.Duration
	retry  time.Duration
}

func defaults() common {
	return common{
		status: nopIndicator{},
		wd:     nopWatchdog{},
		l:      logging.L(),
		now:    time.Now,
		idle:   100 * time.Microsecond,
	}
}

func (c *common) pause() {
	if c.idle > 0 {
		sleepFn(c.idle)
	}
}

// Option configures a task.
type Option func(*common)

// WithStatus routes fault/ready signals to s.
func WithStatus(s status.Indicator) Option {
	return func(c *common) {
		if s != nil {
			c.status = s
		}
	}
}

// WithWatchdog feeds w every iteration.
func WithWatchdog(w Watchdog) Option {
	return func(c *common) {
		if w != nil {
			c.wd = w
		}
	}
}

// WithLogger sets the task logger.
func WithLogger(l *slog.Logger) Option {
	return func(c *common) {
		if l != nil {
			c.l = l
		}
	}
}

// WithClock replaces time.Now (tests).
func WithClock(now func() time.Time) Option { return func(c *common) { c.now = now } }

// WithIdlePause sets how long a task yields when it found no work (0 spins).
func WithIdlePause(d time.Duration) Option { return func(c *common) { c.idle = d } }

// WithRetryDelay sets the pause between the two attempts of a write or post.
func WithRetryDelay(d time.Duration) Option { return func(c *common) { c.retry = d } }
