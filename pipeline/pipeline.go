// Package pipeline assembles whole reports out of the byte fragments the
// transport worker delivers, running the IDLE -> HEADER -> PARSED ->
// (PAYLOAD) -> EMIT state machine described by the wire format: parsing
// is strictly sequential, so a partially received report holds the
// pipeline until it completes.
package pipeline

import (
	"fmt"
	"io"

	"github.com/rp2daq/rp2daq-go/descriptor"
	"github.com/rp2daq/rp2daq-go/wire"
)

// ProtocolDesync is fatal to the runtime: an unknown opcode or an
// impossibly short report arrived and the receive stream can no longer
// be trusted to be aligned on report boundaries.
type ProtocolDesync struct {
	Opcode int
}

func (e *ProtocolDesync) Error() string {
	return fmt.Sprintf("pipeline: unknown opcode %d, stream desynchronised", e.Opcode)
}

// Report is one fully assembled device report handed to the dispatcher.
type Report struct {
	Opcode int
	Header wire.Header
	Data   []int // non-nil only when the report descriptor carries a payload
	// Err is set when the header decoded cleanly but its payload could
	// not be, e.g. an UnsupportedEncoding data_bitwidth. It is scoped to
	// this one report; the pipeline keeps running. Data is nil whenever
	// Err is set.
	Err error
}

// deque is the byte buffer fed by the transport worker's receive queue.
// take blocks until enough bytes have arrived.
type deque struct {
	recv <-chan []byte
	buf  []byte
}

func (d *deque) take(n int) ([]byte, error) {
	for len(d.buf) < n {
		frag, ok := <-d.recv
		if !ok {
			return nil, io.EOF
		}
		d.buf = append(d.buf, frag...)
	}
	out := d.buf[:n]
	d.buf = d.buf[n:]
	return out, nil
}

// Run drives the state machine until recv is closed or an unknown opcode
// is seen, handing each assembled Report to emit. It returns io.EOF on a
// clean channel close (normal shutdown) or *ProtocolDesync on corruption.
func Run(cat *descriptor.Catalogue, recv <-chan []byte, emit func(Report)) error {
	d := &deque{recv: recv}
	for {
		opcodeByte, err := d.take(1)
		if err != nil {
			return err
		}
		opcode := int(opcodeByte[0])

		rep, ok := cat.Report(opcode)
		if !ok {
			return &ProtocolDesync{Opcode: opcode}
		}

		width := rep.HeaderWidth()
		rest, err := d.take(width - 1)
		if err != nil {
			return err
		}
		header := append(append([]byte{}, opcodeByte...), rest...)

		h, err := wire.DecodeHeader(rep, header)
		if err != nil {
			return &ProtocolDesync{Opcode: opcode}
		}

		r := Report{Opcode: opcode, Header: h}
		if rep.Payload {
			count := int(h.Values["data_count"])
			bitwidth := int(h.Values["data_bitwidth"])
			n := wire.PayloadByteLen(count, bitwidth)
			raw, err := d.take(n)
			if err != nil {
				return err
			}
			values, err := wire.DecodePayload(raw, count, bitwidth)
			if err != nil {
				// UnsupportedEncoding is scoped to this report only; the
				// pipeline keeps running, but the receiver must see the
				// failure rather than a silently empty payload.
				emit(Report{Opcode: opcode, Header: h, Err: err})
				continue
			}
			r.Data = values
		}
		emit(r)
	}
}
