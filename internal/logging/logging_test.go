package logging

import (
	"bytes"
	"log/slog"
	"strings"
	"testing"
)

func TestParseLevel(t *testing.T) {
	if lvl, err := ParseLevel("WARN"); err != nil || lvl != slog.LevelWarn {
		t.Fatalf("ParseLevel(WARN)=%v,%v", lvl, err)
	}
	if _, err := ParseLevel("verbose"); err == nil {
		t.Fatalf("expected error for unknown level")
	}
}

func TestNewJSONAndTask(t *testing.T) {
	var buf bytes.Buffer
	l := New("json", slog.LevelInfo, &buf)
	Task(l, "capture").Info("capture_start", "bitrate", "500KBPS")
	out := buf.String()
	if !strings.Contains(out, `"task":"capture"`) || !strings.Contains(out, `"msg":"capture_start"`) {
		t.Fatalf("unexpected json record: %s", out)
	}
}

func TestSetIgnoresNil(t *testing.T) {
	prev := L()
	Set(nil)
	if L() != prev {
		t.Fatalf("Set(nil) must keep the current logger")
	}
}
