// Package status drives the sniffer's fault/ready indicators and the task watchdog.
package status

import (
	"log/slog"
	"sync"

	"github.com/kstaniek/go-can-sniffer/internal/metrics"
)

// Signal names one indicator.
type Signal int

const (
	StorageFault Signal = iota
	LinkFault
	EndpointFault
	ControllerFault
	Ready
	numSignals
)

var signalNames = [numSignals]string{"storage_fault", "link_fault", "endpoint_fault", "controller_fault", "ready"}

func (s Signal) String() string {
	if s < 0 || s >= numSignals {
		return "unknown"
	}
	return signalNames[s]
}

// Indicator is a write-only indicator set.
type Indicator interface {
	Set(sig Signal, on bool)
}

// Board mirrors indicators into logs and the status_signal gauge.
type Board struct {
	mu    sync.Mutex
	state [numSignals]bool
	l     *slog.Logger
}

// NewBoard returns a board with every indicator off.
func NewBoard(l *slog.Logger) *Board {
	if l == nil {
		l = slog.Default()
	}
	for s := Signal(0); s < numSignals; s++ {
		metrics.SetStatus(s.String(), false)
	}
	return &Board{l: l}
}

// Set switches an indicator. Transitions are logged; repeats are not.
func (b *Board) Set(sig Signal, on bool) {
	if sig < 0 || sig >= numSignals {
		return
	}
	b.mu.Lock()
	changed := b.state[sig] != on
	b.state[sig] = on
	b.mu.Unlock()
	if !changed {
		return
	}
	metrics.SetStatus(sig.String(), on)
	switch {
	case sig == Ready:
		b.l.Debug("status_ready", "on", on)
	case on:
		b.l.Warn("status_fault", "signal", sig.String())
	default:
		b.l.Info("status_clear", "signal", sig.String())
	}
}

// Get returns the current state of an indicator.
func (b *Board) Get(sig Signal) bool {
	if sig < 0 || sig >= numSignals {
		return false
	}
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.state[sig]
}
