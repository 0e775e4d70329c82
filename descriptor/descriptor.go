// Package descriptor parses the firmware's interface source into a typed
// catalogue of command and report descriptors.
//
// The firmware ships its protocol as C source: a message_table listing
// command/report names in opcode order, a handler function per command
// whose first nested brace block is the parameter struct, and a
// "} <name>_report" struct per report. Each Load reads that tree once and
// returns a Catalogue that is immutable and shared by every other
// component.
package descriptor

import "fmt"

// Field is one scalar member of a command or report struct.
type Field struct {
	Name     string
	Unsigned bool
	Bits     int // 8, 16, 32 or 64
	Min      *int64
	Max      *int64
	Default  *int64
	Comment  string
}

// Bytes returns the on-wire width of the field.
func (f Field) Bytes() int {
	return f.Bits / 8
}

// Command is the descriptor for one command opcode.
type Command struct {
	Name   string
	Opcode int
	Fields []Field
}

// HeaderWidth is the sum of the byte widths of all fields.
func (c Command) HeaderWidth() int {
	w := 0
	for _, f := range c.Fields {
		w += f.Bytes()
	}
	return w
}

// Field looks up a field by name, returning ok=false if absent.
func (c Command) Field(name string) (Field, bool) {
	for _, f := range c.Fields {
		if f.Name == name {
			return f, true
		}
	}
	return Field{}, false
}

// Report is the descriptor for one report opcode.
type Report struct {
	Name    string
	Opcode  int
	Fields  []Field // header fields; the first (report_code) is the opcode byte
	Payload bool    // true when the header carries data_count + data_bitwidth
}

// HeaderWidth is the sum of the byte widths of all header fields,
// including the leading opcode byte, which is the first Field.
func (r Report) HeaderWidth() int {
	w := 0
	for _, f := range r.Fields {
		w += f.Bytes()
	}
	return w
}

// FieldIndex returns the position of a named field, or -1.
func (r Report) FieldIndex(name string) int {
	for i, f := range r.Fields {
		if f.Name == name {
			return i
		}
	}
	return -1
}

// Catalogue is the immutable, shared interface surface built at startup.
type Catalogue struct {
	Commands map[int]Command
	Reports  map[int]Report
	ByName   map[string]int // command name -> opcode; report names are not indexed
	Version  int            // firmware date-stamp, e.g. 240715
}

// DescriptorError reports a fatal configuration problem found while
// parsing the firmware source: a missing handler, missing report, or a
// header with zero fields.
type DescriptorError struct {
	Opcode int
	Name   string
	Reason string
}

func (e *DescriptorError) Error() string {
	return fmt.Sprintf("descriptor: opcode %d (%s): %s", e.Opcode, e.Name, e.Reason)
}

// Command looks up a command descriptor by opcode.
func (c *Catalogue) Command(opcode int) (Command, bool) {
	cmd, ok := c.Commands[opcode]
	return cmd, ok
}

// Report looks up a report descriptor by opcode.
func (c *Catalogue) Report(opcode int) (Report, bool) {
	rep, ok := c.Reports[opcode]
	return rep, ok
}

// Opcode resolves a command name to its opcode.
func (c *Catalogue) Opcode(name string) (int, bool) {
	op, ok := c.ByName[name]
	return op, ok
}
