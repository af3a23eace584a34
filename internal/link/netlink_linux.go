//go:build linux

package link

import (
	"fmt"
	"log/slog"
	"net"
	"time"

	"github.com/vishvananda/netlink"
)

// hooks for tests
var (
	linkByName = netlink.LinkByName
	linkSetUp  = netlink.LinkSetUp
)

// Netlink watches one interface through rtnetlink. Association with an access
// point (ssid, password) is left to the system supplicant; Connect only raises
// the interface administratively and waits for carrier.
type Netlink struct {
	Iface  string
	Settle time.Duration // how long Connect waits for the link (default 3s)
	Log    *slog.Logger
}

// ConnectionUp reports whether the interface is operationally up.
func (n *Netlink) ConnectionUp() bool {
	l, err := linkByName(n.Iface)
	if err != nil {
		return false
	}
	a := l.Attrs()
	if a.OperState == netlink.OperUp {
		return true
	}
	// virtual links often report "unknown" while passing traffic
	return a.OperState == netlink.OperUnknown && a.Flags&net.FlagUp != 0
}

// Connect brings the interface up and waits up to Settle for it to pass traffic.
func (n *Netlink) Connect(ssid, _ string) error {
	l, err := linkByName(n.Iface)
	if err != nil {
		return fmt.Errorf("link %s: %w", n.Iface, err)
	}
	if err := linkSetUp(l); err != nil {
		return fmt.Errorf("link %s up: %w", n.Iface, err)
	}
	settle := n.Settle
	if settle <= 0 {
		settle = 3 * time.Second
	}
	deadline := time.Now().Add(settle)
	for {
		if n.ConnectionUp() {
			if n.Log != nil {
				n.Log.Info("link_up", "if", n.Iface, "ssid", ssid)
			}
			return nil
		}
		if time.Now().After(deadline) {
			return fmt.Errorf("%w: %s", ErrNoLink, n.Iface)
		}
		time.Sleep(100 * time.Millisecond)
	}
}
