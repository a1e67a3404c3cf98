//go:build linux

package socketcan

import (
	"encoding/binary"
	"fmt"
	"net"

	"golang.org/x/sys/unix"

	"github.com/kstaniek/go-can-bridge/internal/can"
)

// Device is a classic CAN raw socket bound to one interface.
type Device struct {
	fd int
}

// Open binds a CAN_RAW socket to iface (e.g. "can0").
func Open(iface string) (*Device, error) {
	fd, err := unix.Socket(unix.AF_CAN, unix.SOCK_RAW, unix.CAN_RAW)
	if err != nil {
		return nil, fmt.Errorf("socket(AF_CAN): %w", err)
	}
	if err := unix.SetsockoptInt(fd, unix.SOL_CAN_RAW, unix.CAN_RAW_FD_FRAMES, 0); err != nil {
		// Older kernels may not know this option.
		if err != unix.ENOPROTOOPT {
			_ = unix.Close(fd)
			return nil, fmt.Errorf("disable CAN FD: %w", err)
		}
	}
	ifi, err := net.InterfaceByName(iface)
	if err != nil {
		_ = unix.Close(fd)
		return nil, fmt.Errorf("if %q: %w", iface, err)
	}
	if err := unix.Bind(fd, &unix.SockaddrCAN{Ifindex: ifi.Index}); err != nil {
		_ = unix.Close(fd)
		return nil, fmt.Errorf("bind(can@%s): %w", iface, err)
	}
	return &Device{fd: fd}, nil
}

func (d *Device) Close() error { return unix.Close(d.fd) }

// ReadFrame blocks until one classic CAN frame is read from the socket.
//
// struct can_frame (linux/can.h):
//
//	can_id  u32  [0:4]  host byte order, EFF/RTR/ERR flags in the top bits
//	can_dlc u8   [4]
//	pad     3B   [5:8]
//	data    [8]  [8:16]
func (d *Device) ReadFrame(fr *can.Frame) error {
	var buf [unix.CAN_MTU]byte
	n, err := unix.Read(d.fd, buf[:])
	if err != nil {
		return err
	}
	if n != unix.CAN_MTU {
		return fmt.Errorf("short read: %d", n)
	}
	dlc := int(buf[4])
	if dlc > can.MaxDataLen {
		dlc = can.MaxDataLen
	}
	*fr = can.Frame{CANID: FromKernelID(binary.NativeEndian.Uint32(buf[0:4])), Len: uint8(dlc)}
	copy(fr.Data[:], buf[8:8+dlc])
	return nil
}

// WriteFrame writes one classic CAN frame to the socket.
func (d *Device) WriteFrame(fr can.Frame) error {
	var buf [unix.CAN_MTU]byte
	binary.NativeEndian.PutUint32(buf[0:4], ToKernelID(fr.CANID))
	buf[4] = fr.Len
	copy(buf[8:], fr.Payload())
	_, err := unix.Write(d.fd, buf[:])
	return err
}
