package remote

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"time"
)

const maxBody = 64 << 10

// Client talks to one endpoint URL.
type Client struct {
	hc  *http.Client
	url string
}

// NewClient returns a client with the given request timeout (10s when zero).
func NewClient(timeout time.Duration) *Client {
	if timeout <= 0 {
		timeout = 10 * time.Second
	}
	return &Client{hc: &http.Client{Timeout: timeout}}
}

// Open validates and selects the endpoint.
func (c *Client) Open(rawURL string) error {
	u, err := url.Parse(rawURL)
	if err != nil {
		return fmt.Errorf("%w: %v", ErrEndpoint, err)
	}
	if u.Scheme != "http" && u.Scheme != "https" || u.Host == "" {
		return fmt.Errorf("%w: unsupported url %q", ErrEndpoint, rawURL)
	}
	c.url = u.String()
	return nil
}

// Post sends body as text/plain and returns the status code.
func (c *Client) Post(ctx context.Context, body []byte) (int, error) {
	if c.url == "" {
		return 0, fmt.Errorf("%w: not open", ErrEndpoint)
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.url, bytes.NewReader(body))
	if err != nil {
		return 0, err
	}
	req.Header.Set("Content-Type", "text/plain")
	resp, err := c.hc.Do(req)
	if err != nil {
		return 0, err
	}
	defer resp.Body.Close()
	_, _ = io.Copy(io.Discard, io.LimitReader(resp.Body, maxBody))
	return resp.StatusCode, nil
}

// Get fetches the endpoint body.
func (c *Client) Get(ctx context.Context) (int, []byte, error) {
	if c.url == "" {
		return 0, nil, fmt.Errorf("%w: not open", ErrEndpoint)
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.url, nil)
	if err != nil {
		return 0, nil, err
	}
	resp, err := c.hc.Do(req)
	if err != nil {
		return 0, nil, err
	}
	defer resp.Body.Close()
	b, err := io.ReadAll(io.LimitReader(resp.Body, maxBody))
	return resp.StatusCode, b, err
}

// Close drops idle connections.
func (c *Client) Close() error {
	c.hc.CloseIdleConnections()
	return nil
}

// WithCredentials appends User and Password query parameters when user is set.
func WithCredentials(rawURL, user, password string) string {
	if user == "" {
		return rawURL
	}
	u, err := url.Parse(rawURL)
	if err != nil {
		return rawURL
	}
	q := u.Query()
	q.Set("User", user)
	q.Set("Password", password)
	u.RawQuery = q.Encode()
	return u.String()
}

func statusOK(code int) bool { return code >= 200 && code < 300 }

// HTTPSink posts each batch's compact text.
type HTTPSink struct{ c *Client }

// NewHTTPSink opens rawURL for posting.
func NewHTTPSink(rawURL string, timeout time.Duration) (*HTTPSink, error) {
	c := NewClient(timeout)
	if err := c.Open(rawURL); err != nil {
		return nil, err
	}
	return &HTTPSink{c: c}, nil
}

func (s *HTTPSink) Deliver(ctx context.Context, b Batch) error {
	code, err := s.c.Post(ctx, b.Text)
	if err != nil {
		return fmt.Errorf("%w: post: %v", ErrEndpoint, err)
	}
	if !statusOK(code) {
		return fmt.Errorf("%w: post status %d", ErrEndpoint, code)
	}
	return nil
}

func (s *HTTPSink) Close() error { return s.c.Close() }
