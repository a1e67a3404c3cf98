// Package wire implements the fixed-size TCP framing spoken between the bridge and its client.
//
// Every message starts with a 2-byte length prefix in host byte order followed by an
// 18-byte payload. Uplink (client -> bridge) payload:
//
//	0..4   reserved (opaque, ignored)
//	5..8   CAN id, big-endian
//	9..16  data (8 bytes, only the first len are valid)
//	17     len (0..8)
//
// Downlink (bridge -> client) payload:
//
//	0      message type (MsgTypeCANFrame)
//	1..4   receive timestamp, host byte order
//	5..8   CAN id, big-endian
//	9..16  data
//	17     len
//
// The id is always big-endian while the prefix and timestamp follow the host byte order;
// existing clients depend on this exact layout.
package wire

import (
	"encoding/binary"
	"errors"
	"fmt"
	"io"

	"github.com/kstaniek/go-can-bridge/internal/can"
)

const (
	// PrefixSize is the size of the length prefix.
	PrefixSize = 2
	// PayloadSize is the only accepted payload length.
	PayloadSize = 18
	// MessageSize is the total size of one message on the wire.
	MessageSize = PrefixSize + PayloadSize

	// MsgTypeCANFrame marks a downlink message carrying a frame received from the bus.
	MsgTypeCANFrame byte = 0x01

	reservedSize = 5
)

// Offsets within a full message (prefix included).
const (
	offType      = PrefixSize
	offTimestamp = PrefixSize + 1
	offID        = PrefixSize + reservedSize
	offData      = offID + 4
	offLen       = offData + can.MaxDataLen
)

// ErrUnsupportedLength is returned when the length prefix is not PayloadSize.
var ErrUnsupportedLength = errors.New("wire: unsupported length")

// ErrInvalidDataLength is returned when the trailing data length byte exceeds 8.
var ErrInvalidDataLength = errors.New("wire: invalid data length")

// hostOrder is used for the length prefix and the timestamp.
var hostOrder = binary.NativeEndian

// PrefixLength returns the payload length announced by a 2-byte prefix.
func PrefixLength(prefix []byte) int { return int(hostOrder.Uint16(prefix[:PrefixSize])) }

// DecodeUplink parses one complete uplink message (prefix included).
func DecodeUplink(msg []byte) (can.Frame, error) {
	var f can.Frame
	if len(msg) < PrefixSize {
		return f, fmt.Errorf("wire decode: %w (short message %d)", ErrUnsupportedLength, len(msg))
	}
	if n := PrefixLength(msg); n != PayloadSize {
		return f, fmt.Errorf("wire decode: %w (%d)", ErrUnsupportedLength, n)
	}
	if len(msg) < MessageSize {
		return f, fmt.Errorf("wire decode: %w", io.ErrUnexpectedEOF)
	}
	ln := msg[offLen]
	if ln > can.MaxDataLen {
		return f, fmt.Errorf("wire decode: %w (%d)", ErrInvalidDataLength, ln)
	}
	f.CANID = binary.BigEndian.Uint32(msg[offID : offID+4])
	f.Len = ln
	copy(f.Data[:ln], msg[offData:offData+int(ln)])
	return f, nil
}

// ReadUplink reads and decodes exactly one uplink message from r.
// The prefix is validated before the payload is read, so an unsupported length
// consumes only the two prefix bytes. A clean end of stream yields io.EOF and a
// message cut short yields io.ErrUnexpectedEOF.
func ReadUplink(r io.Reader) (can.Frame, error) {
	var buf [MessageSize]byte
	if _, err := io.ReadFull(r, buf[:PrefixSize]); err != nil {
		return can.Frame{}, err
	}
	if n := PrefixLength(buf[:]); n != PayloadSize {
		return can.Frame{}, fmt.Errorf("wire decode: %w (%d)", ErrUnsupportedLength, n)
	}
	if _, err := io.ReadFull(r, buf[PrefixSize:]); err != nil {
		if errors.Is(err, io.EOF) {
			err = io.ErrUnexpectedEOF
		}
		return can.Frame{}, err
	}
	return DecodeUplink(buf[:])
}

// EncodeDownlink packs a received frame into its 20-byte downlink message.
// The frame must already satisfy Len <= 8; longer lengths are clamped.
func EncodeDownlink(f can.Frame) [MessageSize]byte {
	var b [MessageSize]byte
	hostOrder.PutUint16(b[:PrefixSize], PayloadSize)
	b[offType] = MsgTypeCANFrame
	hostOrder.PutUint32(b[offTimestamp:offTimestamp+4], f.Timestamp)
	binary.BigEndian.PutUint32(b[offID:offID+4], f.CANID)
	data := f.Payload()
	copy(b[offData:], data)
	b[offLen] = uint8(len(data))
	return b
}

// WriteDownlink encodes f and writes it to w in a single call.
func WriteDownlink(w io.Writer, f can.Frame) error {
	b := EncodeDownlink(f)
	if _, err := w.Write(b[:]); err != nil {
		return fmt.Errorf("wire encode: %w", err)
	}
	return nil
}

// EncodeUplink packs a frame as a client would send it. Reserved bytes are zero.
func EncodeUplink(f can.Frame) [MessageSize]byte {
	var b [MessageSize]byte
	hostOrder.PutUint16(b[:PrefixSize], PayloadSize)
	binary.BigEndian.PutUint32(b[offID:offID+4], f.CANID)
	data := f.Payload()
	copy(b[offData:], data)
	b[offLen] = uint8(len(data))
	return b
}

// DecodeDownlink parses one complete downlink message (prefix included).
func DecodeDownlink(msg []byte) (can.Frame, error) {
	var f can.Frame
	if len(msg) < PrefixSize {
		return f, fmt.Errorf("wire decode: %w (short message %d)", ErrUnsupportedLength, len(msg))
	}
	if n := PrefixLength(msg); n != PayloadSize {
		return f, fmt.Errorf("wire decode: %w (%d)", ErrUnsupportedLength, n)
	}
	if len(msg) < MessageSize {
		return f, fmt.Errorf("wire decode: %w", io.ErrUnexpectedEOF)
	}
	ln := msg[offLen]
	if ln > can.MaxDataLen {
		return f, fmt.Errorf("wire decode: %w (%d)", ErrInvalidDataLength, ln)
	}
	f.Timestamp = hostOrder.Uint32(msg[offTimestamp : offTimestamp+4])
	f.CANID = binary.BigEndian.Uint32(msg[offID : offID+4])
	f.Len = ln
	copy(f.Data[:ln], msg[offData:offData+int(ln)])
	return f, nil
}

// ReadDownlink reads and decodes exactly one downlink message from r.
func ReadDownlink(r io.Reader) (can.Frame, error) {
	var buf [MessageSize]byte
	if _, err := io.ReadFull(r, buf[:]); err != nil {
		return can.Frame{}, err
	}
	return DecodeDownlink(buf[:])
}
