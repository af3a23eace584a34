package serial

import (
	"bytes"
	"context"
	"sync"
	"testing"
	"time"
)

type lockedBuf struct {
	mu sync.Mutex
	b  bytes.Buffer
}

func (l *lockedBuf) Write(p []byte) (int, error) {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.b.Write(p)
}

func (l *lockedBuf) String() string {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.b.String()
}

func TestEchoCopiesAndWrites(t *testing.T) {
	var out lockedBuf
	e := NewEcho(context.Background(), &out, 4)
	defer e.Close()
	chunk := []byte("1.5;123;01;AB;")
	if n, err := e.Write(chunk); err != nil || n != len(chunk) {
		t.Fatalf("Write: n=%d err=%v", n, err)
	}
	chunk[0] = 'X' // caller may reuse its buffer
	deadline := time.Now().Add(200 * time.Millisecond)
	for time.Now().Before(deadline) && out.String() == "" {
		time.Sleep(2 * time.Millisecond)
	}
	if out.String() != "1.5;123;01;AB;" {
		t.Fatalf("unexpected echo %q", out.String())
	}
}
