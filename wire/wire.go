// Package wire implements the on-wire binary codec: command frame
// encoding, report header decoding, and bit-packed sample payload
// unpacking/repacking.
package wire

import (
	"encoding/binary"
	"fmt"

	"github.com/rp2daq/rp2daq-go/descriptor"
)

// BoundsViolation is returned when a command argument falls outside the
// field's declared min/max.
type BoundsViolation struct {
	Field string
	Min   *int64
	Max   *int64
	Got   int64
}

func (e *BoundsViolation) Error() string {
	return fmt.Sprintf("wire: field %q = %d out of bounds [%v, %v]", e.Field, e.Got, e.Min, e.Max)
}

// UnsupportedEncoding is returned for a data_bitwidth the codec cannot
// unpack.
type UnsupportedEncoding struct {
	Bitwidth int
}

func (e *UnsupportedEncoding) Error() string {
	return fmt.Sprintf("wire: unsupported data_bitwidth %d", e.Bitwidth)
}

// EncodeCommand builds a command frame: <length:u8><opcode:u8><fields...>.
// args maps field name to value; unlisted fields fall back to their
// descriptor default, or zero. length = 2 + sum(field widths), per the
// reserved-for-u16-length-variant formula in the external wire contract.
func EncodeCommand(cmd descriptor.Command, args map[string]int64) ([]byte, error) {
	width := cmd.HeaderWidth()
	frame := make([]byte, 2+width)
	frame[0] = byte(2 + width)
	frame[1] = byte(cmd.Opcode)

	off := 2
	for _, f := range cmd.Fields {
		v, ok := args[f.Name]
		if !ok {
			if f.Default != nil {
				v = *f.Default
			}
		}
		if f.Min != nil && v < *f.Min {
			return nil, &BoundsViolation{Field: f.Name, Min: f.Min, Max: f.Max, Got: v}
		}
		if f.Max != nil && v > *f.Max {
			return nil, &BoundsViolation{Field: f.Name, Min: f.Min, Max: f.Max, Got: v}
		}
		putField(frame[off:off+f.Bytes()], f, v)
		off += f.Bytes()
	}
	return frame, nil
}

func putField(dst []byte, f descriptor.Field, v int64) {
	switch f.Bits {
	case 8:
		dst[0] = byte(v)
	case 16:
		binary.LittleEndian.PutUint16(dst, uint16(v))
	case 32:
		binary.LittleEndian.PutUint32(dst, uint32(v))
	case 64:
		binary.LittleEndian.PutUint64(dst, uint64(v))
	}
}

func getField(src []byte, f descriptor.Field) int64 {
	switch f.Bits {
	case 8:
		if f.Unsigned {
			return int64(src[0])
		}
		return int64(int8(src[0]))
	case 16:
		v := binary.LittleEndian.Uint16(src)
		if f.Unsigned {
			return int64(v)
		}
		return int64(int16(v))
	case 32:
		v := binary.LittleEndian.Uint32(src)
		if f.Unsigned {
			return int64(v)
		}
		return int64(int32(v))
	case 64:
		v := binary.LittleEndian.Uint64(src)
		if f.Unsigned {
			return int64(v)
		}
		return int64(int64(v))
	}
	return 0
}

// Header is a decoded report header: field name to numeric value, plus
// the opcode it was decoded under.
type Header struct {
	Opcode int
	Values map[string]int64
}

// DecodeHeader unpacks the full report header, opcode byte included
// (report.HeaderWidth() bytes), per the report descriptor's field list;
// the opcode byte decodes as the first field, e.g. report_code.
func DecodeHeader(rep descriptor.Report, body []byte) (Header, error) {
	want := rep.HeaderWidth()
	if len(body) != want {
		return Header{}, fmt.Errorf("wire: header for opcode %d wants %d bytes, got %d", rep.Opcode, want, len(body))
	}
	h := Header{Opcode: rep.Opcode, Values: make(map[string]int64, len(rep.Fields))}
	off := 0
	for _, f := range rep.Fields {
		h.Values[f.Name] = getField(body[off:off+f.Bytes()], f)
		off += f.Bytes()
	}
	return h, nil
}

// PayloadByteLen returns the number of wire bytes that encode count
// samples at the given bit width, rounding up per §4.B (ceil(N*W/8)).
func PayloadByteLen(count, bitwidth int) int {
	return (count*bitwidth + 7) / 8
}

// DecodePayload expands raw bytes into count integer samples at the
// given bitwidth. Widths outside {8, 12, 16} return UnsupportedEncoding.
func DecodePayload(raw []byte, count, bitwidth int) ([]int, error) {
	switch bitwidth {
	case 8:
		out := make([]int, count)
		for i := 0; i < count; i++ {
			out[i] = int(raw[i])
		}
		return out, nil
	case 16:
		out := make([]int, count)
		for i := 0; i < count; i++ {
			out[i] = int(binary.LittleEndian.Uint16(raw[i*2 : i*2+2]))
		}
		return out, nil
	case 12:
		return decode12(raw, count), nil
	default:
		return nil, &UnsupportedEncoding{Bitwidth: bitwidth}
	}
}

// decode12 unpacks nibble-interleaved 12-bit triplets exactly as
// specified: bytes (a, b, c) yield v1 = a | ((b&0xF0)<<4) and
// v2 = ((c&0xF0)>>4) | ((b&0x0F)<<4) | ((c&0x0F)<<8). A trailing odd
// single value is decoded with the v1 formula from the two remaining bytes.
func decode12(raw []byte, count int) []int {
	out := make([]int, 0, count)
	triplets := count / 2
	for i := 0; i < triplets; i++ {
		a, b, c := raw[i*3], raw[i*3+1], raw[i*3+2]
		v1 := int(a) | (int(b&0xF0) << 4)
		v2 := (int(c&0xF0) >> 4) | (int(b&0x0F) << 4) | (int(c&0x0F) << 8)
		out = append(out, v1, v2)
	}
	if count%2 == 1 {
		tail := raw[triplets*3:]
		out = append(out, int(tail[0])|(int(tail[1]&0xF0)<<4))
	}
	return out
}

// EncodePayload is the inverse of DecodePayload, used by tests and by the
// fake device to synthesize wire-accurate sample streams.
func EncodePayload(values []int, bitwidth int) ([]byte, error) {
	switch bitwidth {
	case 8:
		out := make([]byte, len(values))
		for i, v := range values {
			out[i] = byte(v)
		}
		return out, nil
	case 16:
		out := make([]byte, len(values)*2)
		for i, v := range values {
			binary.LittleEndian.PutUint16(out[i*2:i*2+2], uint16(v))
		}
		return out, nil
	case 12:
		return encode12(values), nil
	default:
		return nil, &UnsupportedEncoding{Bitwidth: bitwidth}
	}
}

func encode12(values []int) []byte {
	pairs := len(values) / 2
	out := make([]byte, 0, PayloadByteLen(len(values), 12))
	for i := 0; i < pairs; i++ {
		v1, v2 := values[i*2], values[i*2+1]
		// Solve the decode formulas for a, b, c directly:
		// v1 = a | ((b&0xF0)<<4); v2 = ((c&0xF0)>>4) | ((b&0x0F)<<4) | ((c&0x0F)<<8).
		a := byte(v1 & 0xFF)
		b := byte(((v1>>8)&0x0F)<<4) | byte((v2>>4)&0x0F)
		c := byte((v2&0x0F)<<4) | byte((v2>>8)&0x0F)
		out = append(out, a, b, c)
	}
	if len(values)%2 == 1 {
		last := values[len(values)-1]
		out = append(out, byte(last&0xFF), byte((last>>8)&0x0F)<<4)
	}
	return out
}
