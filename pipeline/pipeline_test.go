package pipeline

import (
	"io"
	"testing"

	"github.com/rp2daq/rp2daq-go/descriptor"
)

func testCatalogue() *descriptor.Catalogue {
	return &descriptor.Catalogue{
		Reports: map[int]descriptor.Report{
			1: {
				Name:   "gpio_write_report",
				Opcode: 1,
				Fields: []descriptor.Field{
					{Name: "report_code", Bits: 8, Unsigned: true},
					{Name: "gpio", Bits: 8, Unsigned: true},
				},
			},
			2: {
				Name:   "adc_report",
				Opcode: 2,
				Fields: []descriptor.Field{
					{Name: "report_code", Bits: 8, Unsigned: true},
					{Name: "data_count", Bits: 16, Unsigned: true},
					{Name: "data_bitwidth", Bits: 8, Unsigned: true},
				},
				Payload: true,
			},
		},
	}
}

func feed(recv chan []byte, chunks ...[]byte) {
	go func() {
		for _, c := range chunks {
			recv <- c
		}
		close(recv)
	}()
}

func TestRunSimpleHeaderOnlyReport(t *testing.T) {
	recv := make(chan []byte, 8)
	feed(recv, []byte{0x01, 0x07})

	var got []Report
	err := Run(testCatalogue(), recv, func(r Report) { got = append(got, r) })
	if err != io.EOF {
		t.Fatalf("Run err = %v, want io.EOF", err)
	}
	if len(got) != 1 || got[0].Opcode != 1 || got[0].Header.Values["gpio"] != 7 {
		t.Fatalf("got %+v", got)
	}
}

func TestRunSplitAcrossFragments(t *testing.T) {
	recv := make(chan []byte, 8)
	feed(recv, []byte{0x01}, []byte{0x07})

	var got []Report
	Run(testCatalogue(), recv, func(r Report) { got = append(got, r) })
	if len(got) != 1 || got[0].Header.Values["gpio"] != 7 {
		t.Fatalf("got %+v", got)
	}
}

func TestRunPayloadReport(t *testing.T) {
	recv := make(chan []byte, 8)
	// report_code=2, data_count=4 (LE u16), data_bitwidth=12, then 6 bytes of 12-bit payload.
	feed(recv, []byte{0x02, 0x04, 0x00, 0x0C, 0x12, 0x34, 0x56, 0x78, 0x9A, 0xBC})

	var got []Report
	Run(testCatalogue(), recv, func(r Report) { got = append(got, r) })
	if len(got) != 1 {
		t.Fatalf("got %d reports, want 1", len(got))
	}
	if len(got[0].Data) != 4 {
		t.Fatalf("len(Data) = %d, want 4", len(got[0].Data))
	}
}

func TestRunUnknownOpcodeIsProtocolDesync(t *testing.T) {
	recv := make(chan []byte, 8)
	feed(recv, []byte{0x99})

	err := Run(testCatalogue(), recv, func(Report) {})
	if _, ok := err.(*ProtocolDesync); !ok {
		t.Fatalf("err = %v (%T), want *ProtocolDesync", err, err)
	}
}

func TestRunUnsupportedEncodingIsScopedToReport(t *testing.T) {
	recv := make(chan []byte, 8)
	// report_code=2, data_count=2 (LE u16), data_bitwidth=10 (unsupported),
	// 3 raw payload bytes (still consumed to stay in sync), then an
	// unrelated gpio_write_report that must still decode cleanly.
	feed(recv,
		[]byte{0x02, 0x02, 0x00, 0x0A, 0x11, 0x22, 0x33},
		[]byte{0x01, 0x09},
	)

	var got []Report
	err := Run(testCatalogue(), recv, func(r Report) { got = append(got, r) })
	if err != io.EOF {
		t.Fatalf("Run err = %v, want io.EOF", err)
	}
	if len(got) != 2 {
		t.Fatalf("got %d reports, want 2", len(got))
	}
	if got[0].Err == nil {
		t.Fatalf("got[0].Err = nil, want an UnsupportedEncoding error")
	}
	if got[0].Data != nil {
		t.Fatalf("got[0].Data = %v, want nil alongside Err", got[0].Data)
	}
	if got[1].Err != nil || got[1].Header.Values["gpio"] != 9 {
		t.Fatalf("got[1] = %+v, want a clean gpio report after the scoped failure", got[1])
	}
}

func TestRunMultipleReportsInOrder(t *testing.T) {
	recv := make(chan []byte, 8)
	feed(recv, []byte{0x01, 0x01, 0x01, 0x02, 0x01, 0x03})

	var got []int
	Run(testCatalogue(), recv, func(r Report) { got = append(got, int(r.Header.Values["gpio"])) })
	want := []int{1, 2, 3}
	for i, v := range want {
		if got[i] != v {
			t.Fatalf("got %v, want %v", got, want)
		}
	}
}
