//go:build linux

package socketcan

import (
	"errors"
	"fmt"
	"log/slog"
	"net"

	"golang.org/x/sys/unix"

	"github.com/kstaniek/go-can-sniffer/internal/can"
	"github.com/kstaniek/go-can-sniffer/internal/filterbank"
)

// ErrInterfaceDown is returned by Init when the CAN interface is not up.
var ErrInterfaceDown = errors.New("socketcan: interface down")

// Device is a non-blocking raw CAN socket. The bus speed belongs to the
// netdev (ip link set canX type can bitrate N); Init only checks the link.
type Device struct {
	fd    int
	iface string
	l     *slog.Logger

	listenOnly bool
}

// Open binds a raw CAN socket to iface.
func Open(iface string, l *slog.Logger) (*Device, error) {
	if l == nil {
		l = slog.Default()
	}
	fd, err := unix.Socket(unix.AF_CAN, unix.SOCK_RAW, unix.CAN_RAW)
	if err != nil {
		return nil, fmt.Errorf("socket(AF_CAN): %w", err)
	}
	if err := unix.SetsockoptInt(fd, unix.SOL_CAN_RAW, unix.CAN_RAW_FD_FRAMES, 0); err != nil {
		// Older kernels may not know this option; ignore ENOPROTOOPT
		if err != unix.ENOPROTOOPT {
			_ = unix.Close(fd)
			return nil, fmt.Errorf("disable CAN FD: %w", err)
		}
	}
	ifi, err := net.InterfaceByName(iface)
	if err != nil {
		_ = unix.Close(fd)
		return nil, fmt.Errorf("if %q: %w", iface, err)
	}
	if err := unix.Bind(fd, &unix.SockaddrCAN{Ifindex: ifi.Index}); err != nil {
		_ = unix.Close(fd)
		return nil, fmt.Errorf("bind(can@%s): %w", iface, err)
	}
	if err := unix.SetNonblock(fd, true); err != nil {
		_ = unix.Close(fd)
		return nil, fmt.Errorf("nonblock: %w", err)
	}
	return &Device{fd: fd, iface: iface, l: l}, nil
}

// Init verifies the interface is up and records the expected bitrate.
func (d *Device) Init(rate can.Bitrate) error {
	ifi, err := net.InterfaceByName(d.iface)
	if err != nil {
		return fmt.Errorf("if %q: %w", d.iface, err)
	}
	if ifi.Flags&net.FlagUp == 0 {
		return fmt.Errorf("%w: %s", ErrInterfaceDown, d.iface)
	}
	d.l.Info("socketcan_init", "if", d.iface, "bitrate", rate.String())
	return nil
}

// SetFilterBank programs CAN_RAW_FILTER from the compiled bank.
func (d *Device) SetFilterBank(a filterbank.Assignment) error {
	rules := a.Rules()
	if len(rules) == 0 {
		return nil // kernel default accepts everything
	}
	filters := make([]unix.CanFilter, len(rules))
	for i, r := range rules {
		filters[i] = unix.CanFilter{Id: r.ID, Mask: r.Mask}
	}
	if err := unix.SetsockoptCanRawFilter(d.fd, unix.SOL_CAN_RAW, unix.CAN_RAW_FILTER, filters); err != nil {
		return fmt.Errorf("CAN_RAW_FILTER: %w", err)
	}
	d.l.Info("socketcan_filters", "if", d.iface, "rules", len(filters), "bank", a.String())
	return nil
}

// SetMode records listen-only operation. The device never transmits; bus
// level silent mode is a netdev setting (ip link ... listen-only on).
func (d *Device) SetMode(listenOnly bool) error {
	d.listenOnly = listenOnly
	return nil
}

// PollFrame reads one frame if one is pending.
func (d *Device) PollFrame() (can.Frame, bool, error) {
	var buf [frameSize]byte
	n, err := unix.Read(d.fd, buf[:])
	if err != nil {
		if err == unix.EAGAIN || err == unix.EWOULDBLOCK || err == unix.EINTR {
			return can.Frame{}, false, nil
		}
		return can.Frame{}, false, err
	}
	if n <= 0 {
		return can.Frame{}, false, nil
	}
	return decodeFrame(buf[:n])
}

func (d *Device) Close() error { return unix.Close(d.fd) }
