package remote

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/avast/retry-go"

	"github.com/kstaniek/go-can-sniffer/internal/logging"
)

// Attempts is the total number of tries for one remote request.
const Attempts = 2

// FetchSetting GETs rawURL and returns the trimmed body. It makes at most
// Attempts tries.
func FetchSetting(ctx context.Context, rawURL string, timeout time.Duration) (string, error) {
	c := NewClient(timeout)
	defer c.Close()
	if err := c.Open(rawURL); err != nil {
		return "", err
	}
	var body string
	err := retry.Do(func() error {
		code, b, err := c.Get(ctx)
		if err != nil {
			return fmt.Errorf("%w: get: %v", ErrEndpoint, err)
		}
		if !statusOK(code) {
			return fmt.Errorf("%w: get status %d", ErrEndpoint, code)
		}
		body = strings.TrimSpace(string(b))
		if body == "" {
			return fmt.Errorf("%w: empty body", ErrEndpoint)
		}
		return nil
	},
		retry.Context(ctx),
		retry.Attempts(Attempts),
		retry.Delay(100*time.Millisecond),
		retry.DelayType(retry.FixedDelay),
		retry.OnRetry(func(n uint, err error) {
			logging.L().Debug("settings_fetch_retry", "url", rawURL, "attempt", n+1, "error", err)
		}),
		retry.LastErrorOnly(true),
	)
	return body, err
}
