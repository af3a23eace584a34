//go:build !linux

package socketcan

import (
	"errors"
	"log/slog"

	"github.com/kstaniek/go-can-sniffer/internal/can"
	"github.com/kstaniek/go-can-sniffer/internal/filterbank"
)

// ErrUnsupported is returned on platforms without SocketCAN.
var ErrUnsupported = errors.New("socketcan: not supported on this platform")

// Device is unavailable off Linux.
type Device struct{}

func Open(string, *slog.Logger) (*Device, error)          { return nil, ErrUnsupported }
func (*Device) Init(can.Bitrate) error                    { return ErrUnsupported }
func (*Device) SetFilterBank(filterbank.Assignment) error { return ErrUnsupported }
func (*Device) SetMode(bool) error                        { return ErrUnsupported }
func (*Device) PollFrame() (can.Frame, bool, error)       { return can.Frame{}, false, ErrUnsupported }
func (*Device) Close() error                              { return nil }
