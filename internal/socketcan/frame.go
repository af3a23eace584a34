package socketcan

import (
	"encoding/binary"
	"fmt"

	"github.com/kstaniek/go-can-sniffer/internal/can"
)

// frameSize is sizeof(struct can_frame).
const frameSize = 16

// decodeFrame parses a struct can_frame:
//
//	can_id  u32   [0:4]  (EFF/RTR/ERR flags included, host byte order)
//	can_dlc u8    [4]
//	pad     3B    [5:8]
//	data    [8]   [8:16]
//
// ok is false for error frames, which carry controller state rather than traffic.
func decodeFrame(buf []byte) (fr can.Frame, ok bool, err error) {
	if len(buf) != frameSize {
		return fr, false, fmt.Errorf("short read: %d", len(buf))
	}
	raw := binary.LittleEndian.Uint32(buf[0:4])
	if raw&can.CAN_ERR_FLAG != 0 {
		return fr, false, nil
	}
	dlc := int(buf[4])
	if dlc > can.MaxPayload {
		dlc = can.MaxPayload
	}
	id, ext := can.FromRaw(raw)
	fr = can.New(id, buf[8:8+dlc]...)
	fr.Ext = ext
	return fr, true, nil
}
