package can

// SocketCAN flag bits for can_id (same values as <linux/can.h>)
const (
	CAN_EFF_FLAG = 0x80000000
	CAN_RTR_FLAG = 0x40000000
	CAN_ERR_FLAG = 0x20000000
	CAN_SFF_MASK = 0x7FF
	CAN_EFF_MASK = 0x1FFFFFFF
)

// MaxDataLen is the classic CAN payload limit.
const MaxDataLen = 8

// Frame is a classic CAN frame as moved between the bus backends and the TCP client.
// CANID may carry EFF/RTR/ERR flags in its upper bits like SocketCAN.
// Len is payload length (0..8); only the first Len bytes of Data are valid.
// Timestamp is the receive time in milliseconds as reported by the backend (0 if unknown).
type Frame struct {
	CANID     uint32
	Len       uint8
	Data      [MaxDataLen]byte
	Timestamp uint32
}

// Payload returns the valid data bytes.
func (f *Frame) Payload() []byte {
	n := int(f.Len)
	if n > MaxDataLen {
		n = MaxDataLen
	}
	return f.Data[:n]
}

// Valid reports whether Len is within the classic CAN limit.
func (f Frame) Valid() bool { return f.Len <= MaxDataLen }

// NewFrame builds a frame from an identifier and up to 8 data bytes (extra bytes are ignored).
func NewFrame(id uint32, data []byte) Frame {
	f := Frame{CANID: id}
	n := copy(f.Data[:], data)
	f.Len = uint8(n)
	return f
}
