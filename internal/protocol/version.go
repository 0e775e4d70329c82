// Package protocol holds small helpers used by the descriptor parser:
// parsing the firmware's embedded date-stamp version out of its C source.
package protocol

import (
	"fmt"
	"regexp"
	"strconv"
)

var firmwareVersion = regexp.MustCompile(`#define\s+FIRMWARE_VERSION\s+"rp2daq_(\d{6})`)

// ParseVersion extracts the YYMMDD firmware date-stamp from a
// "#define FIRMWARE_VERSION \"rp2daq_YYMMDD_...\"" line found anywhere in
// the given source text.
func ParseVersion(code string) (int, error) {
	m := firmwareVersion.FindStringSubmatch(code)
	if m == nil {
		return 0, fmt.Errorf("protocol: FIRMWARE_VERSION not found")
	}
	return strconv.Atoi(m[1])
}
