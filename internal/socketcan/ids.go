package socketcan

import "github.com/kstaniek/go-can-bridge/internal/can"

// FromKernelID strips SocketCAN flag bits, leaving the 11- or 29-bit identifier the client sees.
func FromKernelID(id uint32) uint32 {
	if id&can.CAN_EFF_FLAG != 0 {
		return id & can.CAN_EFF_MASK
	}
	return id & can.CAN_SFF_MASK
}

// ToKernelID maps a client identifier to a kernel can_id; ids above the 11-bit range
// are sent as extended frames. RTR and ERR bits are never passed through, so the
// result always describes a data frame.
func ToKernelID(id uint32) uint32 {
	if id&can.CAN_EFF_FLAG != 0 {
		return can.CAN_EFF_FLAG | id&can.CAN_EFF_MASK
	}
	id &= can.CAN_EFF_MASK
	if id > can.CAN_SFF_MASK {
		id |= can.CAN_EFF_FLAG
	}
	return id
}
