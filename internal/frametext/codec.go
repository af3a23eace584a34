// Package frametext renders captured frames as append-ready text lines.
//
// Compact style (used for network delivery and optionally on storage):
//
//	1.5;123;01;AB;
//
// Formatted style pads the interval to a fixed column and separates the
// remaining fields with fixed-width spacing, one frame per CRLF line:
//
//	1.5                 123      01   AB \r\n
package frametext

import (
	"bytes"
	"io"
	"strconv"

	"github.com/kstaniek/go-can-sniffer/internal/can"
)

// Style selects the text layout.
type Style int

const (
	Compact Style = iota
	Formatted
)

func (s Style) String() string {
	if s == Formatted {
		return "formatted"
	}
	return "compact"
}

const (
	intervalColumn = 20 // formatted interval column width
	idGap          = "      "
	lenGap         = "   "
	// Longest interval text: max int64 microseconds in ms with one decimal.
	maxIntervalChars = 16
)

const hexDigits = "0123456789ABCDEF"

// MaxFrameLen is the worst-case encoded size of one frame in style s.
func MaxFrameLen(s Style) int {
	if s == Formatted {
		// interval column, id, gap, len, gap, payload "XX " * 8, CRLF
		return intervalColumn + 8 + len(idGap) + 2 + len(lenGap) + 3*can.MaxPayload + 2
	}
	// interval;id;len;payload;
	return maxIntervalChars + 1 + 8 + 1 + 2 + 1 + 2*can.MaxPayload + 1
}

// MaxEncodedLen bounds the output for n frames.
func MaxEncodedLen(n int, s Style) int { return n * MaxFrameLen(s) }

// Codec encodes batches in one style.
type Codec struct{ Style Style }

// Encode renders frames in capture order.
func (c Codec) Encode(frames []can.Frame) []byte {
	dst := make([]byte, 0, MaxEncodedLen(len(frames), c.Style))
	for _, f := range frames {
		dst = AppendFrame(dst, f, c.Style)
	}
	return dst
}

// EncodeTo writes the encoded batch to w through a pre-sized buffer.
func (c Codec) EncodeTo(w io.Writer, frames []can.Frame) (int, error) {
	var buf bytes.Buffer
	buf.Grow(MaxEncodedLen(len(frames), c.Style))
	for _, f := range frames {
		buf.Write(AppendFrame(buf.AvailableBuffer(), f, c.Style))
	}
	n, err := w.Write(buf.Bytes())
	return n, err
}

// AppendFrame appends the text form of f to dst.
func AppendFrame(dst []byte, f can.Frame, s Style) []byte {
	start := len(dst)
	dst = AppendInterval(dst, f)
	if s == Formatted {
		for len(dst)-start < intervalColumn {
			dst = append(dst, ' ')
		}
	} else {
		dst = append(dst, ';')
	}
	dst = appendID(dst, f.ID)
	if s == Formatted {
		dst = append(dst, idGap...)
	} else {
		dst = append(dst, ';')
	}
	dst = appendHexByte(dst, f.Len)
	if s == Formatted {
		dst = append(dst, lenGap...)
		for _, b := range f.Payload() {
			dst = appendHexByte(dst, b)
			dst = append(dst, ' ')
		}
		return append(dst, '\r', '\n')
	}
	dst = append(dst, ';')
	for _, b := range f.Payload() {
		dst = appendHexByte(dst, b)
	}
	return append(dst, ';')
}

// AppendInterval renders the inter-frame interval as microseconds/1000 with
// one decimal digit.
func AppendInterval(dst []byte, f can.Frame) []byte {
	us := f.Interval.Microseconds()
	return strconv.AppendFloat(dst, float64(us)/1000, 'f', 1, 64)
}

func appendID(dst []byte, id uint32) []byte {
	digits := 3
	if can.IsExtendedID(id) {
		digits = 8
	}
	for i := digits - 1; i >= 0; i-- {
		dst = append(dst, hexDigits[(id>>(4*uint(i)))&0xF])
	}
	return dst
}

func appendHexByte(dst []byte, b byte) []byte {
	return append(dst, hexDigits[b>>4], hexDigits[b&0xF])
}
