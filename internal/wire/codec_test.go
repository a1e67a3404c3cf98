package wire

import (
	"bytes"
	"crypto/rand"
	"encoding/binary"
	"errors"
	"io"
	"testing"

	"github.com/kstaniek/go-can-bridge/internal/can"
)

func mkFrame(id uint32, n int) can.Frame {
	var f can.Frame
	f.CANID = id
	if n < 0 {
		n = 0
	}
	if n > 8 {
		n = 8
	}
	f.Len = uint8(n)
	rand.Read(f.Data[:n])
	return f
}

// uplinkMsg builds a raw uplink message with an arbitrary prefix and length byte.
func uplinkMsg(prefix uint16, id uint32, data [8]byte, ln byte) []byte {
	b := make([]byte, MessageSize)
	binary.NativeEndian.PutUint16(b[:2], prefix)
	binary.BigEndian.PutUint32(b[7:11], id)
	copy(b[11:19], data[:])
	b[19] = ln
	return b
}

func TestUplink_RoundTripAllLengths(t *testing.T) {
	for n := 0; n <= 8; n++ {
		in := mkFrame(0x1ABCDE00+uint32(n), n)
		wire := EncodeUplink(in)
		out, err := DecodeUplink(wire[:])
		if err != nil {
			t.Fatalf("len %d: decode: %v", n, err)
		}
		if out.CANID != in.CANID || out.Len != in.Len || !bytes.Equal(out.Payload(), in.Payload()) {
			t.Fatalf("len %d: mismatch in=%+v out=%+v", n, in, out)
		}
	}
}

func TestDecodeUplink_Scenario(t *testing.T) {
	msg := []byte{0, 0, 0, 0, 0, 0, 0, 0x12, 0x34, 0x56, 0x78, 1, 2, 3, 4, 5, 6, 7, 8, 8}
	binary.NativeEndian.PutUint16(msg[:2], 18)
	f, err := DecodeUplink(msg)
	if err != nil {
		t.Fatalf("decode: %v", err)
	}
	if f.CANID != 0x12345678 {
		t.Fatalf("id got 0x%X", f.CANID)
	}
	if f.Len != 8 || !bytes.Equal(f.Payload(), []byte{1, 2, 3, 4, 5, 6, 7, 8}) {
		t.Fatalf("data got % X len %d", f.Payload(), f.Len)
	}
}

func TestDecodeUplink_ReservedBytesIgnored(t *testing.T) {
	a := uplinkMsg(18, 0x42, [8]byte{1, 2}, 2)
	b := append([]byte(nil), a...)
	copy(b[2:7], []byte{0xFF, 0xEE, 0xDD, 0xCC, 0xBB})
	fa, errA := DecodeUplink(a)
	fb, errB := DecodeUplink(b)
	if errA != nil || errB != nil {
		t.Fatalf("decode errors: %v %v", errA, errB)
	}
	if fa != fb {
		t.Fatalf("reserved bytes changed result: %+v vs %+v", fa, fb)
	}
}

func TestDecodeUplink_TruncatesToDeclaredLength(t *testing.T) {
	f, err := DecodeUplink(uplinkMsg(18, 1, [8]byte{1, 2, 3, 4, 5, 6, 7, 8}, 3))
	if err != nil {
		t.Fatalf("decode: %v", err)
	}
	if f.Len != 3 || f.Data[3] != 0 || f.Data[7] != 0 {
		t.Fatalf("expected bytes past len to be zero, got %+v", f)
	}
}

func TestDecodeUplink_UnsupportedLength(t *testing.T) {
	for _, p := range []uint16{0, 1, 10, 17, 19, 20, 0xFFFF} {
		_, err := DecodeUplink(uplinkMsg(p, 1, [8]byte{}, 1))
		if !errors.Is(err, ErrUnsupportedLength) {
			t.Fatalf("prefix %d: expected ErrUnsupportedLength, got %v", p, err)
		}
	}
}

func TestDecodeUplink_InvalidDataLength(t *testing.T) {
	for _, ln := range []byte{9, 15, 0x80, 0xFF} {
		_, err := DecodeUplink(uplinkMsg(18, 1, [8]byte{}, ln))
		if !errors.Is(err, ErrInvalidDataLength) {
			t.Fatalf("len %d: expected ErrInvalidDataLength, got %v", ln, err)
		}
	}
}

func TestReadUplink_Stream(t *testing.T) {
	var buf bytes.Buffer
	in := []can.Frame{mkFrame(0x10, 8), mkFrame(0x11, 0), mkFrame(0x12, 5)}
	for _, f := range in {
		w := EncodeUplink(f)
		buf.Write(w[:])
	}
	for i := range in {
		out, err := ReadUplink(&buf)
		if err != nil {
			t.Fatalf("frame %d: %v", i, err)
		}
		if out.CANID != in[i].CANID || !bytes.Equal(out.Payload(), in[i].Payload()) {
			t.Fatalf("frame %d mismatch", i)
		}
	}
	if _, err := ReadUplink(&buf); err != io.EOF {
		t.Fatalf("expected io.EOF at clean end, got %v", err)
	}
}

func TestReadUplink_Truncated(t *testing.T) {
	w := EncodeUplink(mkFrame(0x20, 4))
	if _, err := ReadUplink(bytes.NewReader(w[:1])); !errors.Is(err, io.ErrUnexpectedEOF) {
		t.Fatalf("half prefix: expected ErrUnexpectedEOF, got %v", err)
	}
	if _, err := ReadUplink(bytes.NewReader(w[:2])); !errors.Is(err, io.ErrUnexpectedEOF) {
		t.Fatalf("prefix only: expected ErrUnexpectedEOF, got %v", err)
	}
	if _, err := ReadUplink(bytes.NewReader(w[:12])); !errors.Is(err, io.ErrUnexpectedEOF) {
		t.Fatalf("partial payload: expected ErrUnexpectedEOF, got %v", err)
	}
}

func TestReadUplink_BadPrefixStopsBeforePayload(t *testing.T) {
	var b bytes.Buffer
	var p [2]byte
	binary.NativeEndian.PutUint16(p[:], 10)
	b.Write(p[:])
	b.Write(make([]byte, 10))
	if _, err := ReadUplink(&b); !errors.Is(err, ErrUnsupportedLength) {
		t.Fatalf("expected ErrUnsupportedLength, got %v", err)
	}
	if b.Len() != 10 {
		t.Fatalf("expected payload left unread, remaining=%d", b.Len())
	}
}

func TestEncodeDownlink_Layout(t *testing.T) {
	f := can.Frame{CANID: 0xAABBCCDD, Len: 2, Timestamp: 0x01020304}
	f.Data[0], f.Data[1] = 9, 9
	b := EncodeDownlink(f)
	if len(b) != 20 {
		t.Fatalf("size %d", len(b))
	}
	if got := binary.NativeEndian.Uint16(b[:2]); got != 18 {
		t.Fatalf("prefix %d", got)
	}
	if b[2] != MsgTypeCANFrame {
		t.Fatalf("type 0x%02X", b[2])
	}
	if !bytes.Equal(b[7:11], []byte{0xAA, 0xBB, 0xCC, 0xDD}) {
		t.Fatalf("id bytes % X", b[7:11])
	}
	if b[11] != 9 || b[12] != 9 || b[13] != 0 {
		t.Fatalf("data bytes % X", b[11:19])
	}
	if b[19] != 2 {
		t.Fatalf("len byte %d", b[19])
	}
	if got := binary.NativeEndian.Uint32(b[3:7]); got != 0x01020304 {
		t.Fatalf("timestamp 0x%X", got)
	}
}

func TestDownlink_RoundTrip(t *testing.T) {
	for n := 0; n <= 8; n++ {
		in := mkFrame(0x700+uint32(n), n)
		in.Timestamp = uint32(1000 * n)
		var buf bytes.Buffer
		if err := WriteDownlink(&buf, in); err != nil {
			t.Fatalf("write: %v", err)
		}
		out, err := ReadDownlink(&buf)
		if err != nil {
			t.Fatalf("len %d: read: %v", n, err)
		}
		if out != in {
			t.Fatalf("len %d: mismatch in=%+v out=%+v", n, in, out)
		}
	}
}
