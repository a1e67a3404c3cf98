package serial

import (
	"bytes"
	"encoding/binary"

	"github.com/kstaniek/go-can-bridge/internal/can"
	"github.com/kstaniek/go-can-bridge/internal/metrics"
)

// CAN-UART adapter framing:
//
//	2D D4 LEN BODY... SUM
//
// LEN counts BODY plus the checksum byte; SUM = 0x2D + LEN + sum(BODY) (mod 256).
// TX body: INS(0x02) FLAGS(0x80|dlc) ID(4, big-endian) DATA(0..8).
// RX body: ID(4, big-endian) DATA(0..8).
const (
	pre0 = 0x2D
	pre1 = 0xD4

	insSendExt = 0x02

	minRxLn = 4 + 0 + 1
	maxRxLn = 4 + can.MaxDataLen + 1

	// reclaimThreshold is the accumulator capacity above which an empty buffer
	// is reallocated so a burst of line noise does not pin memory.
	reclaimThreshold = 16 * 1024
)

var preamble = []byte{pre0, pre1}

func envelope(body []byte) []byte {
	n := len(body)
	out := make([]byte, n+4)
	out[0], out[1], out[2] = pre0, pre1, byte(n+1)
	sum := out[2] + pre0
	for i, b := range body {
		out[3+i] = b
		sum += b
	}
	out[3+n] = sum
	return out
}

// Encode builds the UART command transmitting f as an extended-id frame.
func Encode(f can.Frame) []byte {
	data := f.Payload()
	body := make([]byte, 6+len(data))
	body[0] = insSendExt
	body[1] = 0x80 | uint8(len(data))
	binary.BigEndian.PutUint32(body[2:6], f.CANID&can.CAN_EFF_MASK)
	copy(body[6:], data)
	return envelope(body)
}

// Decoder reassembles received frames from arbitrary read chunks.
// Not safe for concurrent use.
type Decoder struct {
	acc bytes.Buffer
}

// Feed appends p and emits every complete frame via out.
// Garbage and frames with a bad length or checksum are skipped and counted as malformed.
func (d *Decoder) Feed(p []byte, out func(can.Frame)) {
	d.acc.Write(p)
	for d.next(out) {
	}
	if d.acc.Len() == 0 && d.acc.Cap() > reclaimThreshold {
		d.acc = bytes.Buffer{}
	}
}

// Buffered returns the number of bytes waiting for the rest of a frame.
func (d *Decoder) Buffered() int { return d.acc.Len() }

// next consumes at most one frame or resync step; it reports whether to continue.
func (d *Decoder) next(out func(can.Frame)) bool {
	data := d.acc.Bytes()
	if len(data) < 3 {
		return false
	}
	i := bytes.Index(data, preamble)
	if i < 0 {
		// keep the last byte: it may be the first half of a preamble
		last := data[len(data)-1]
		d.acc.Reset()
		if last == pre0 {
			_ = d.acc.WriteByte(last)
		}
		return false
	}
	if i > 0 {
		d.acc.Next(i)
		return true
	}
	ln := int(data[2])
	if ln < minRxLn || ln > maxRxLn {
		metrics.IncMalformed()
		d.acc.Next(1)
		return true
	}
	total := 3 + ln
	if len(data) < total {
		return false
	}
	sum := byte(pre0) + data[2]
	for _, b := range data[3 : total-1] {
		sum += b
	}
	if sum != data[total-1] {
		metrics.IncMalformed()
		d.acc.Next(1)
		return true
	}
	payload := data[7 : total-1]
	f := can.Frame{CANID: binary.BigEndian.Uint32(data[3:7]) & can.CAN_EFF_MASK, Len: uint8(len(payload))}
	copy(f.Data[:], payload)
	d.acc.Next(total)
	metrics.IncSerialRx()
	out(f)
	return true
}
