package descriptor

import "testing"

const fixture = `
#define FIRMWARE_VERSION "rp2daq_240715_xyz"

message_descriptor message_table {
	identify, identify_report,
	gpio_write, gpio_write_report,
};

void identify() {
	// no arguments
}

struct {
	uint8_t report_code; // 0
	uint8_t ok;
} identify_report;

void gpio_write() {
	struct {
		uint8_t gpio; min=0 max=29
		uint8_t value; min=0 max=1 default=0
	} args;
}

struct {
	uint8_t report_code; // 1
	uint8_t gpio;
} gpio_write_report;
`

func TestParseOpcodesShared(t *testing.T) {
	cat, err := Parse(stripComments(fixture))
	if err != nil {
		t.Fatalf("Parse: %v", err)
	}
	for name, wantOp := range map[string]int{"identify": 0, "gpio_write": 1} {
		op, ok := cat.Opcode(name)
		if !ok || op != wantOp {
			t.Fatalf("opcode(%s) = %d, %v; want %d, true", name, op, ok, wantOp)
		}
		if _, ok := cat.Command(wantOp); !ok {
			t.Fatalf("missing command for opcode %d", wantOp)
		}
		if _, ok := cat.Report(wantOp); !ok {
			t.Fatalf("missing report for opcode %d", wantOp)
		}
	}
}

func TestParseGPIOFields(t *testing.T) {
	cat, err := Parse(stripComments(fixture))
	if err != nil {
		t.Fatalf("Parse: %v", err)
	}
	cmd, _ := cat.Command(1)
	if len(cmd.Fields) != 2 {
		t.Fatalf("len(fields) = %d, want 2", len(cmd.Fields))
	}
	gpio, ok := cmd.Field("gpio")
	if !ok {
		t.Fatal("missing gpio field")
	}
	if gpio.Min == nil || *gpio.Min != 0 || gpio.Max == nil || *gpio.Max != 29 {
		t.Fatalf("gpio bounds = %v..%v, want 0..29", gpio.Min, gpio.Max)
	}
	value, ok := cmd.Field("value")
	if !ok {
		t.Fatal("missing value field")
	}
	if value.Default == nil || *value.Default != 0 {
		t.Fatalf("value.Default = %v, want 0", value.Default)
	}
}

func TestParseZeroArgCommandHasNoFields(t *testing.T) {
	cat, err := Parse(stripComments(fixture))
	if err != nil {
		t.Fatalf("Parse: %v", err)
	}
	cmd, _ := cat.Command(0)
	if len(cmd.Fields) != 0 {
		t.Fatalf("identify has %d fields, want 0", len(cmd.Fields))
	}
}

func TestParseMissingHandlerIsDescriptorError(t *testing.T) {
	broken := `
message_descriptor message_table {
	ghost, ghost_report,
};
`
	_, err := Parse(stripComments(broken))
	if err == nil {
		t.Fatal("expected error for missing handler")
	}
	if _, ok := err.(*DescriptorError); !ok {
		t.Fatalf("error type = %T, want *DescriptorError", err)
	}
}
