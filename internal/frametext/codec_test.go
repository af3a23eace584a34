package frametext

import (
	"bytes"
	"strings"
	"testing"
	"time"

	"github.com/kstaniek/go-can-sniffer/internal/can"
)

func mk(id uint32, us int64, data ...byte) can.Frame {
	f := can.New(id, data...)
	f.Interval = time.Duration(us) * time.Microsecond
	return f
}

func TestCompactSingleFrame(t *testing.T) {
	got := string(Codec{Style: Compact}.Encode([]can.Frame{mk(0x123, 1500, 0xAB)}))
	if got != "1.5;123;01;AB;" {
		t.Fatalf("compact: got %q", got)
	}
}

func TestFormattedSingleFrame(t *testing.T) {
	got := string(Codec{Style: Formatted}.Encode([]can.Frame{mk(0x123, 1500, 0xAB)}))
	want := "1.5" + strings.Repeat(" ", 17) + "123" + "      " + "01" + "   " + "AB " + "\r\n"
	if got != want {
		t.Fatalf("formatted:\n got %q\nwant %q", got, want)
	}
	if !strings.HasSuffix(got, "\r\n") {
		t.Fatalf("formatted line must end in CRLF")
	}
}

func TestIdentifierWidth(t *testing.T) {
	c := Codec{Style: Compact}
	if got := string(c.Encode([]can.Frame{mk(0x00000123, 0)})); got != "0.0;123;00;;" {
		t.Fatalf("standard width: got %q", got)
	}
	if got := string(c.Encode([]can.Frame{mk(0x1FFFFFFF, 0)})); got != "0.0;1FFFFFFF;00;;" {
		t.Fatalf("extended width: got %q", got)
	}
	if got := string(c.Encode([]can.Frame{mk(0x00010000, 0)})); got != "0.0;00010000;00;;" {
		t.Fatalf("extended zero-padded: got %q", got)
	}
}

func TestMultiFrameOrderAndPayload(t *testing.T) {
	frames := []can.Frame{
		mk(0x7E0, 12345, 0x02, 0x01, 0x0C),
		mk(0x7E8, 300, 0x04, 0x41, 0x0C, 0x1A, 0xF8),
	}
	got := string(Codec{Style: Compact}.Encode(frames))
	want := "12.3;7E0;03;02010C;" + "0.3;7E8;05;04410C1AF8;"
	if got != want {
		t.Fatalf("multi: got %q want %q", got, want)
	}
}

func TestEncodeToMatchesEncode(t *testing.T) {
	frames := []can.Frame{mk(0x100, 1000, 1, 2), mk(0x18DAF110, 2000, 3)}
	for _, s := range []Style{Compact, Formatted} {
		c := Codec{Style: s}
		var buf bytes.Buffer
		n, err := c.EncodeTo(&buf, frames)
		if err != nil {
			t.Fatalf("%s: EncodeTo: %v", s, err)
		}
		if n != buf.Len() || !bytes.Equal(buf.Bytes(), c.Encode(frames)) {
			t.Fatalf("%s: EncodeTo diverges from Encode", s)
		}
	}
}

func TestMaxEncodedLenBoundsWorstCase(t *testing.T) {
	worst := mk(0x1FFFFFFF, 0, 0xFF, 0xFF, 0xFF, 0xFF, 0xFF, 0xFF, 0xFF, 0xFF)
	worst.Interval = time.Duration(1<<63 - 1)
	for _, s := range []Style{Compact, Formatted} {
		frames := make([]can.Frame, 50)
		for i := range frames {
			frames[i] = worst
		}
		out := Codec{Style: s}.Encode(frames)
		if len(out) > MaxEncodedLen(len(frames), s) {
			t.Fatalf("%s: %d bytes exceeds bound %d", s, len(out), MaxEncodedLen(len(frames), s))
		}
	}
}
