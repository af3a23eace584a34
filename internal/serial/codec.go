package serial

import (
	"bytes"
	"encoding/binary"

	"github.com/kstaniek/go-can-sniffer/internal/can"
	"github.com/kstaniek/go-can-sniffer/internal/metrics"
)

// Codec decodes the adapter's UART envelope:
//
//	2D D4 LEN ID(4, big endian) PAYLOAD(0..8) SUM
//
// ID carries the SocketCAN EFF flag in its top bit for extended frames.
// LEN counts ID, payload and checksum; SUM = 0x2D + LEN + sum(ID, payload) mod 256.
type Codec struct{}

const (
	pre0 = 0x2D
	pre1 = 0xD4

	minLn = 4 + 0 + 1
	maxLn = 4 + can.MaxPayload + 1
)

// DecodeStream consumes complete envelopes from in and emits one frame per
// envelope. Partial input stays buffered for the next call; garbage and bad
// checksums are skipped one byte at a time.
func (Codec) DecodeStream(in *bytes.Buffer, out func(can.Frame)) error {
	header := []byte{pre0, pre1}
	for {
		data := in.Bytes()
		if len(data) < 3 {
			return nil
		}
		i := bytes.Index(data, header)
		if i < 0 {
			// keep the last byte: it may be the first half of a preamble
			last := data[len(data)-1]
			in.Reset()
			_ = in.WriteByte(last)
			return nil
		}
		if i > 0 {
			in.Next(i)
			continue
		}
		ln := int(data[2])
		if ln < minLn || ln > maxLn {
			metrics.IncMalformed()
			in.Next(1)
			continue
		}
		req := 3 + ln
		if len(data) < req {
			return nil
		}
		sum := uint(pre0) + uint(data[2])
		for _, b := range data[3 : req-1] {
			sum += uint(b)
		}
		if byte(sum) != data[req-1] {
			metrics.IncMalformed()
			in.Next(1)
			continue
		}
		raw := binary.BigEndian.Uint32(data[3:7])
		fr := can.New(raw&can.CAN_EFF_MASK, data[7:req-1]...)
		// the adapter flags extended frames; a 29-bit value implies it
		fr.Ext = raw&can.CAN_EFF_FLAG != 0 || fr.ID > can.CAN_SFF_MASK
		out(fr)
		in.Next(req)
	}
}
