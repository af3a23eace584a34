//go:build !linux

package link

import (
	"fmt"
	"log/slog"
	"net"
	"time"
)

// Netlink falls back to interface flags where rtnetlink is unavailable.
type Netlink struct {
	Iface  string
	Settle time.Duration
	Log    *slog.Logger
}

func (n *Netlink) ConnectionUp() bool {
	ifi, err := net.InterfaceByName(n.Iface)
	return err == nil && ifi.Flags&net.FlagUp != 0
}

func (n *Netlink) Connect(string, string) error {
	if n.ConnectionUp() {
		return nil
	}
	return fmt.Errorf("%w: %s", ErrNoLink, n.Iface)
}
