package descriptor

import (
	"fmt"
	"io/ioutil"
	"path/filepath"
	"regexp"
	"strconv"
	"strings"

	"github.com/rp2daq/rp2daq-go/internal/protocol"
)

var (
	blockComment = regexp.MustCompile(`(?s)/\*.*?\*/`)
	lineComment  = regexp.MustCompile(`//.*`)

	messageTable = regexp.MustCompile(`message_descriptor\s+message_table`)
	tableEntry   = regexp.MustCompile(`\w+`)

	handlerSig  = `void\s+%s\s*\(\s*\)`
	reportClose = `\}\s*%s_report`

	fieldLine   = regexp.MustCompile(`(?m)(u?)int(8|16|32|64)_t\s+([\w,]*)(.*)`)
	attribToken = regexp.MustCompile(`(\w+)=(-?\d+)`)
)

func stripComments(s string) string {
	s = blockComment.ReplaceAllString(s, "")
	s = lineComment.ReplaceAllString(s, "")
	return s
}

// nextBlock returns the contents of the first lbrace-delimited block in s,
// honoring nesting, mirroring get_next_code_block.
func nextBlock(s, lbrace, rbrace string) (string, error) {
	parts := strings.SplitN(s, lbrace, 2)
	if len(parts) != 2 {
		return "", fmt.Errorf("no opening %q found", lbrace)
	}
	rest := parts[1]
	chunks := strings.Split(rest, rbrace)
	nest := 1
	var found strings.Builder
	for _, chunk := range chunks {
		nest += strings.Count(chunk, lbrace) - 1
		found.WriteString(chunk)
		if nest == 0 {
			return found.String(), nil
		}
		found.WriteString(rbrace)
	}
	return "", fmt.Errorf("unbalanced %q/%q", lbrace, rbrace)
}

// prevBlock returns the contents of the nearest brace block closing at or
// before the end of s, mirroring get_prev_code_block (scan the reverse of
// the string for the equivalent forward block).
func prevBlock(s, lbrace, rbrace string) (string, error) {
	reversed := reverseString(s)
	block, err := nextBlock(reversed, rbrace, lbrace)
	if err != nil {
		return "", err
	}
	return reverseString(block), nil
}

func reverseString(s string) string {
	r := []rune(s)
	for i, j := 0, len(r)-1; i < j; i, j = i+1, j-1 {
		r[i], r[j] = r[j], r[i]
	}
	return string(r)
}

// commandOpcodes assigns opcodes by position within the message_table
// block, skipping the *_report entries (they share the preceding
// command's opcode), exactly as generate_command_codes does.
func commandOpcodes(code string) (map[string]int, []string, error) {
	loc := messageTable.FindStringIndex(code)
	if loc == nil {
		return nil, nil, &DescriptorError{Reason: "message_table not found"}
	}
	block, err := nextBlock(code[loc[1]:], "{", "}")
	if err != nil {
		return nil, nil, &DescriptorError{Reason: "message_table: " + err.Error()}
	}
	block = stripComments(block)
	names := tableEntry.FindAllString(block, -1)

	opcodes := map[string]int{}
	var order []string
	n := 0
	for _, name := range names {
		if strings.HasSuffix(name, "_report") {
			continue
		}
		opcodes[name] = n
		order = append(order, name)
		n++
	}
	return opcodes, order, nil
}

// parseFields extracts scalar fields from a struct body, matching the
// (u?)int{8,16,32,64}_t name[,name...] trailing-comment line shape used by
// both parameter structs and report structs.
func parseFields(body string) []Field {
	body = strings.ReplaceAll(body, "\n\t//", "")
	body = strings.ReplaceAll(body, "\n //", "")
	var fields []Field
	for _, m := range fieldLine.FindAllStringSubmatch(body, -1) {
		unsigned := m[1] == "u"
		bits, _ := strconv.Atoi(m[2])
		names := strings.Split(m[3], ",")
		trailing := m[4]

		var comment string
		attribs := map[string]int64{}
		for _, tok := range strings.Fields(trailing) {
			if am := attribToken.FindStringSubmatch(tok); am != nil {
				v, _ := strconv.ParseInt(am[2], 10, 64)
				attribs[am[1]] = v
				continue
			}
			if tok == "" || tok == "//" || tok == ";" {
				continue
			}
			comment += " " + tok
		}
		comment = strings.TrimSpace(comment)

		for _, name := range names {
			name = strings.TrimSpace(strings.TrimPrefix(name, "_"))
			if name == "" {
				continue
			}
			f := Field{Name: name, Unsigned: unsigned, Bits: bits, Comment: comment}
			if v, ok := attribs["min"]; ok {
				vv := v
				f.Min = &vv
			}
			if v, ok := attribs["max"]; ok {
				vv := v
				f.Max = &vv
			}
			if v, ok := attribs["default"]; ok {
				vv := v
				f.Default = &vv
			}
			fields = append(fields, f)
		}
	}
	return fields
}

// Parse builds a Catalogue from already-concatenated, comment-stripped
// firmware source. Most callers should use Load, which gathers the source
// tree first.
func Parse(code string) (*Catalogue, error) {
	opcodes, order, err := commandOpcodes(code)
	if err != nil {
		return nil, err
	}

	cat := &Catalogue{
		Commands: map[int]Command{},
		Reports:  map[int]Report{},
		ByName:   map[string]int{},
	}

	for _, name := range order {
		opcode := opcodes[name]

		sigRe := regexp.MustCompile(fmt.Sprintf(handlerSig, regexp.QuoteMeta(name)))
		sig := sigRe.FindStringIndex(code)
		if sig == nil {
			return nil, &DescriptorError{Opcode: opcode, Name: name, Reason: "handler not found"}
		}
		funcBody, err := nextBlock(code[sig[1]:], "{", "}")
		if err != nil {
			return nil, &DescriptorError{Opcode: opcode, Name: name, Reason: "handler body: " + err.Error()}
		}
		argsStruct, err := nextBlock(funcBody, "{", "}")
		if err != nil {
			// A command with zero arguments (e.g. identify) has no nested
			// struct block at all; that's not an error.
			argsStruct = ""
		}
		cat.Commands[opcode] = Command{Name: name, Opcode: opcode, Fields: parseFields(argsStruct)}
		cat.ByName[name] = opcode

		closeRe := regexp.MustCompile(fmt.Sprintf(reportClose, regexp.QuoteMeta(name)))
		closeLoc := closeRe.FindStringIndex(code)
		if closeLoc == nil {
			return nil, &DescriptorError{Opcode: opcode, Name: name, Reason: "report struct not found"}
		}
		reportStruct, err := prevBlock(code[:closeLoc[0]+1], "{", "}")
		if err != nil {
			return nil, &DescriptorError{Opcode: opcode, Name: name, Reason: "report body: " + err.Error()}
		}
		fields := parseFields(reportStruct)
		if len(fields) == 0 {
			return nil, &DescriptorError{Opcode: opcode, Name: name, Reason: "report has zero header fields"}
		}
		hasCount, hasWidth := false, false
		for _, f := range fields {
			switch f.Name {
			case "data_count":
				hasCount = true
			case "data_bitwidth":
				hasWidth = true
			}
		}
		cat.Reports[opcode] = Report{
			Name:    name + "_report",
			Opcode:  opcode,
			Fields:  fields,
			Payload: hasCount && hasWidth,
		}
	}
	return cat, nil
}

// Load gathers the firmware source tree rooted at rootFile (a single C
// file) plus every *.c file in the sibling "include" directory, in the
// same convention as gather_C_code, strips comments, parses the
// catalogue, and separately extracts the firmware version from a
// "#define FIRMWARE_VERSION" line found anywhere in the tree.
func Load(rootFile string) (*Catalogue, error) {
	raw, err := ioutil.ReadFile(rootFile)
	if err != nil {
		return nil, err
	}
	code := string(raw)

	includeDir := filepath.Join(filepath.Dir(rootFile), "include")
	matches, _ := filepath.Glob(filepath.Join(includeDir, "*.c"))
	for _, m := range matches {
		b, err := ioutil.ReadFile(m)
		if err != nil {
			return nil, err
		}
		code += string(b)
	}

	version, err := protocol.ParseVersion(code)
	if err != nil {
		return nil, &DescriptorError{Reason: err.Error()}
	}

	cat, err := Parse(stripComments(code))
	if err != nil {
		return nil, err
	}
	cat.Version = version
	return cat, nil
}
