package remote

import (
	"context"
	"fmt"

	"github.com/kstaniek/go-can-sniffer/internal/link"
)

// Guarded checks the link before each delivery and tries to raise it once
// when it is down.
type Guarded struct {
	Sink     Sink
	Link     link.Driver
	SSID     string
	Password string
}

func (g *Guarded) Deliver(ctx context.Context, b Batch) error {
	if g.Link != nil && !g.Link.ConnectionUp() {
		if err := g.Link.Connect(g.SSID, g.Password); err != nil {
			return fmt.Errorf("%w: %v", ErrLinkDown, err)
		}
	}
	return g.Sink.Deliver(ctx, b)
}

func (g *Guarded) Close() error { return g.Sink.Close() }
