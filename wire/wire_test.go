package wire

import (
	"reflect"
	"testing"

	"github.com/rp2daq/rp2daq-go/descriptor"
)

func maxPtr(v int64) *int64 { return &v }

func TestEncodeCommandLengthByte(t *testing.T) {
	cmd := descriptor.Command{
		Name:   "gpio_write",
		Opcode: 5,
		Fields: []descriptor.Field{
			{Name: "gpio", Bits: 8, Unsigned: true, Min: maxPtr(0), Max: maxPtr(29)},
			{Name: "value", Bits: 8, Unsigned: true, Min: maxPtr(0), Max: maxPtr(1)},
		},
	}
	frame, err := EncodeCommand(cmd, map[string]int64{"gpio": 4, "value": 1})
	if err != nil {
		t.Fatalf("EncodeCommand: %v", err)
	}
	want := []byte{0x04, 0x05, 0x04, 0x01}
	if !reflect.DeepEqual(frame, want) {
		t.Fatalf("frame = % x, want % x", frame, want)
	}
}

func TestEncodeCommandZeroFields(t *testing.T) {
	cmd := descriptor.Command{Name: "identify", Opcode: 0}
	frame, err := EncodeCommand(cmd, nil)
	if err != nil {
		t.Fatalf("EncodeCommand: %v", err)
	}
	if !reflect.DeepEqual(frame, []byte{0x02, 0x00}) {
		t.Fatalf("frame = % x, want 02 00", frame)
	}
}

func TestEncodeCommandBoundsViolation(t *testing.T) {
	cmd := descriptor.Command{
		Name:   "gpio_write",
		Opcode: 5,
		Fields: []descriptor.Field{
			{Name: "gpio", Bits: 8, Unsigned: true, Min: maxPtr(0), Max: maxPtr(29)},
			{Name: "value", Bits: 8, Unsigned: true, Min: maxPtr(0), Max: maxPtr(1)},
		},
	}
	_, err := EncodeCommand(cmd, map[string]int64{"gpio": 30, "value": 0})
	bv, ok := err.(*BoundsViolation)
	if !ok {
		t.Fatalf("err = %v (%T), want *BoundsViolation", err, err)
	}
	if bv.Field != "gpio" || *bv.Max != 29 {
		t.Fatalf("violation = %+v, want field gpio max 29", bv)
	}
}

func Test12BitRoundTrip(t *testing.T) {
	for _, count := range []int{2, 3, 4, 9, 100, 101} {
		values := make([]int, count)
		for i := range values {
			values[i] = (i * 37) % 4096
		}
		packed, err := EncodePayload(values, 12)
		if err != nil {
			t.Fatalf("EncodePayload: %v", err)
		}
		if len(packed) != PayloadByteLen(count, 12) {
			t.Fatalf("count=%d: len(packed)=%d, want %d", count, len(packed), PayloadByteLen(count, 12))
		}
		decoded, err := DecodePayload(packed, count, 12)
		if err != nil {
			t.Fatalf("DecodePayload: %v", err)
		}
		if !reflect.DeepEqual(decoded, values) {
			t.Fatalf("count=%d: round-trip mismatch\n got  %v\n want %v", count, decoded, values)
		}
		for _, v := range decoded {
			if v < 0 || v > 4095 {
				t.Fatalf("decoded value %d out of [0,4095]", v)
			}
		}
	}
}

func Test8And16BitDecode(t *testing.T) {
	raw8 := []byte{1, 2, 3}
	got, err := DecodePayload(raw8, 3, 8)
	if err != nil || !reflect.DeepEqual(got, []int{1, 2, 3}) {
		t.Fatalf("DecodePayload(8) = %v, %v", got, err)
	}

	raw16 := []byte{0x34, 0x12, 0xCD, 0xAB}
	got, err = DecodePayload(raw16, 2, 16)
	if err != nil || !reflect.DeepEqual(got, []int{0x1234, 0xABCD}) {
		t.Fatalf("DecodePayload(16) = %v, %v", got, err)
	}
}

func TestUnsupportedEncoding(t *testing.T) {
	_, err := DecodePayload([]byte{0, 0}, 1, 4)
	if _, ok := err.(*UnsupportedEncoding); !ok {
		t.Fatalf("err = %v, want *UnsupportedEncoding", err)
	}
}

func TestDecodeHeader(t *testing.T) {
	rep := descriptor.Report{
		Opcode: 2,
		Fields: []descriptor.Field{
			{Name: "report_code", Bits: 8, Unsigned: true},
			{Name: "value", Bits: 16, Unsigned: true},
		},
	}
	h, err := DecodeHeader(rep, []byte{0x02, 0x34, 0x12})
	if err != nil {
		t.Fatalf("DecodeHeader: %v", err)
	}
	if h.Values["value"] != 0x1234 {
		t.Fatalf("value = %x, want 1234", h.Values["value"])
	}
}
