package rp2daq

import (
	"encoding/binary"
	"net"

	"github.com/rp2daq/rp2daq-go/descriptor"
	"github.com/rp2daq/rp2daq-go/wire"
)

// FakeDevice is cheezy but gets tests going without real hardware: it
// speaks one half of a net.Pipe as if it were the firmware, decoding
// whatever command frame arrives and replying with a report the test
// configured a handler for.
type FakeDevice struct {
	cat     *descriptor.Catalogue
	conn    net.Conn
	handler func(opcode int, args map[string]int64, reply func(fields map[string]int64, payload []int, bitwidth int))
}

// NewFakeDevice returns a *FakeDevice serving the device's end of the
// pipe, and the host's end, which satisfies Port and can be passed to
// newRuntime directly.
func NewFakeDevice(cat *descriptor.Catalogue, handler func(int, map[string]int64, func(map[string]int64, []int, int))) (*FakeDevice, net.Conn) {
	client, device := net.Pipe()
	f := &FakeDevice{cat: cat, conn: device, handler: handler}
	go f.serve()
	return f, client
}

func (f *FakeDevice) serve() {
	for {
		var lenOp [2]byte
		if _, err := readFull(f.conn, lenOp[:]); err != nil {
			return
		}
		length, opcode := int(lenOp[0]), int(lenOp[1])
		body := make([]byte, length-2)
		if len(body) > 0 {
			if _, err := readFull(f.conn, body); err != nil {
				return
			}
		}
		cmd, ok := f.cat.Command(opcode)
		if !ok {
			continue
		}
		args := map[string]int64{}
		off := 0
		for _, fld := range cmd.Fields {
			args[fld.Name] = decodeField(body[off:off+fld.Bytes()], fld)
			off += fld.Bytes()
		}
		if f.handler != nil {
			f.handler(opcode, args, func(fields map[string]int64, payload []int, bitwidth int) {
				f.reply(opcode, fields, payload, bitwidth)
			})
		}
	}
}

func (f *FakeDevice) reply(opcode int, fields map[string]int64, payload []int, bitwidth int) {
	rep, ok := f.cat.Report(opcode)
	if !ok {
		return
	}
	header := make([]byte, rep.HeaderWidth())
	off := 0
	for _, fld := range rep.Fields {
		v := fields[fld.Name]
		if fld.Name == "report_code" {
			v = int64(opcode)
		}
		encodeField(header[off:off+fld.Bytes()], fld, v)
		off += fld.Bytes()
	}
	out := header
	if rep.Payload && payload != nil {
		raw, err := wire.EncodePayload(payload, bitwidth)
		if err == nil {
			out = append(out, raw...)
		}
	}
	f.conn.Write(out)
}

// Close closes the device's end of the pipe.
func (f *FakeDevice) Close() error { return f.conn.Close() }

func readFull(conn net.Conn, buf []byte) (int, error) {
	total := 0
	for total < len(buf) {
		n, err := conn.Read(buf[total:])
		total += n
		if err != nil {
			return total, err
		}
	}
	return total, nil
}

func decodeField(b []byte, f descriptor.Field) int64 {
	switch f.Bits {
	case 8:
		return int64(b[0])
	case 16:
		return int64(binary.LittleEndian.Uint16(b))
	case 32:
		return int64(binary.LittleEndian.Uint32(b))
	case 64:
		return int64(binary.LittleEndian.Uint64(b))
	}
	return 0
}

func encodeField(dst []byte, f descriptor.Field, v int64) {
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
