package serial

import (
	"bytes"
	"encoding/binary"
	"testing"

	"github.com/kstaniek/go-can-bridge/internal/can"
	"github.com/kstaniek/go-can-bridge/internal/metrics"
)

// rxWire builds an RX frame: ID(4) | PAYLOAD(0..8) in the UART envelope.
func rxWire(id uint32, payload []byte) []byte {
	body := make([]byte, 4+len(payload))
	binary.BigEndian.PutUint32(body[:4], id&can.CAN_EFF_MASK)
	copy(body[4:], payload)
	return envelope(body)
}

func TestDecoder_Chunked(t *testing.T) {
	want := []can.Frame{
		can.NewFrame(0x0001E5A, []byte{0x34, 0x7B, 0x70, 0xD7, 0x94, 0x10, 0x0D, 0xF7}),
		can.NewFrame(0x0001F55, []byte{0xA1, 0xB2, 0xC3, 0xD4, 0xE5, 0xF6}),
		can.NewFrame(0x0123456, []byte{0x9A, 0xBC}),
		can.NewFrame(0x01ABCDE, nil),
	}
	stream := []byte{0x00, 0x2D, 0x11} // leading junk
	for _, fr := range want {
		stream = append(stream, rxWire(fr.CANID, fr.Payload())...)
	}

	var d Decoder
	var got []can.Frame
	chunkSizes := []int{1, 2, 3, 4, 5, 7, 11}
	cs := 0
	for pos := 0; pos < len(stream); {
		n := chunkSizes[cs%len(chunkSizes)]
		cs++
		if pos+n > len(stream) {
			n = len(stream) - pos
		}
		d.Feed(stream[pos:pos+n], func(fr can.Frame) { got = append(got, fr) })
		pos += n
	}
	if len(got) != len(want) {
		t.Fatalf("decoded %d frames, want %d", len(got), len(want))
	}
	for i := range want {
		if got[i].CANID != want[i].CANID || !bytes.Equal(got[i].Payload(), want[i].Payload()) {
			t.Fatalf("frame %d mismatch got id=0x%X % X want id=0x%X % X",
				i, got[i].CANID, got[i].Payload(), want[i].CANID, want[i].Payload())
		}
	}
	if d.Buffered() != 0 {
		t.Fatalf("expected empty accumulator, %d left", d.Buffered())
	}
}

func TestDecoder_Malformed(t *testing.T) {
	before := metrics.Snap().Malformed
	bad := rxWire(1, []byte{0xAA})
	bad[len(bad)-1] ^= 0xFF
	good := rxWire(2, []byte{0xBB})
	var d Decoder
	var got []can.Frame
	d.Feed(append(bad, good...), func(fr can.Frame) { got = append(got, fr) })
	if metrics.Snap().Malformed <= before {
		t.Fatalf("expected malformed metric increment")
	}
	if len(got) != 1 || got[0].CANID != 2 {
		t.Fatalf("expected resync onto the good frame, got %+v", got)
	}
}

func TestDecoder_BadLengthResync(t *testing.T) {
	var d Decoder
	var got []can.Frame
	junk := []byte{0x2D, 0xD4, 0x40, 0x01}
	d.Feed(append(junk, rxWire(0x33, []byte{1, 2, 3})...), func(fr can.Frame) { got = append(got, fr) })
	if len(got) != 1 || got[0].CANID != 0x33 || got[0].Len != 3 {
		t.Fatalf("got %+v", got)
	}
}

func TestEncode_Layout(t *testing.T) {
	b := Encode(can.NewFrame(0x12345678, []byte{1, 2}))
	want := []byte{0x2D, 0xD4, 9, 0x02, 0x82, 0x12, 0x34, 0x56, 0x78, 1, 2}
	if !bytes.Equal(b[:len(want)], want) {
		t.Fatalf("got % X", b)
	}
	var sum byte = 0x2D
	for _, x := range b[2 : len(b)-1] {
		sum += x
	}
	if b[len(b)-1] != sum {
		t.Fatalf("checksum 0x%02X want 0x%02X", b[len(b)-1], sum)
	}
}
