package can

import "time"

// SocketCAN flag bits for can_id (same values as <linux/can.h>)
const (
	CAN_EFF_FLAG = 0x80000000
	CAN_RTR_FLAG = 0x40000000
	CAN_ERR_FLAG = 0x20000000
	CAN_SFF_MASK = 0x7FF
	CAN_EFF_MASK = 0x1FFFFFFF
)

// MaxPayload is the classic CAN payload limit.
const MaxPayload = 8

// Frame is one captured CAN frame.
// ID holds the bare identifier without SocketCAN flag bits. Ext is the frame
// format seen on the bus (29-bit identifier). Only the first Len bytes of
// Data are valid. Interval is the time elapsed since the previously captured
// frame, truncated to microseconds.
type Frame struct {
	ID       uint32
	Ext      bool
	Len      uint8
	Data     [MaxPayload]byte
	Interval time.Duration
}

// Extended reports whether the frame used the 29-bit format on the bus.
func (f Frame) Extended() bool { return f.Ext }

// Payload returns the valid payload bytes (clamped to MaxPayload).
func (f Frame) Payload() []byte {
	n := int(f.Len)
	if n > MaxPayload {
		n = MaxPayload
	}
	return f.Data[:n]
}

// IsExtendedID is the text width rule: identifiers with a bit above bit 15
// set render with eight digits. It says nothing about the bus format.
func IsExtendedID(id uint32) bool { return id&0xFFFF0000 != 0 }

// FromRaw splits a SocketCAN style can_id (with flag bits) into the bare
// identifier and the frame format.
func FromRaw(rawID uint32) (id uint32, extended bool) {
	if rawID&CAN_EFF_FLAG != 0 {
		return rawID & CAN_EFF_MASK, true
	}
	return rawID & CAN_SFF_MASK, false
}

// New builds a frame from an identifier and payload (payload truncated to 8
// bytes). Identifiers above the 11-bit range are marked extended; use NewExt
// for an extended frame with a low identifier.
func New(id uint32, payload ...byte) Frame {
	var f Frame
	f.ID = id
	f.Ext = id > CAN_SFF_MASK
	n := copy(f.Data[:], payload)
	f.Len = uint8(n)
	return f
}

// NewExt builds an extended format frame.
func NewExt(id uint32, payload ...byte) Frame {
	f := New(id&CAN_EFF_MASK, payload...)
	f.Ext = true
	return f
}
