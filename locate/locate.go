// Package locate enumerates serial endpoints, identifies a candidate
// device with a hard-coded identify round trip, and version-gates it
// against the firmware descriptor loaded at startup.
package locate

import (
	"fmt"
	"io/ioutil"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"github.com/rp2daq/rp2daq-go/transport"
)

// VendorID and ProductID identify the device's USB CDC-ACM interface.
const (
	VendorID  = 0x2e8a
	ProductID = 0x000a
)

const (
	identifyFrame     = 0x00 // opcode
	identifyRespLen   = 34
	identifyReadDelay = 150 * time.Millisecond
)

// DeviceNotFound means no candidate endpoint advertised the expected
// magic within the configured filters.
type DeviceNotFound struct {
	SerialNumber string
}

func (e *DeviceNotFound) Error() string {
	if e.SerialNumber == "" {
		return "locate: no matching rp2daq device found"
	}
	return fmt.Sprintf("locate: no rp2daq device with serial number %q found", e.SerialNumber)
}

// IncompatibleFirmware means the magic matched but the reported firmware
// date-stamp does not equal the version embedded in the descriptor
// source used at startup.
type IncompatibleFirmware struct {
	Found, Required int
}

func (e *IncompatibleFirmware) Error() string {
	return fmt.Sprintf("locate: device firmware %d does not match required %d", e.Found, e.Required)
}

// Identity is the parsed tail of an identify response.
type Identity struct {
	Version      int    // YYMMDD
	SerialNumber string // 16 uppercase hex characters
}

// ParseIdentify parses the 34-byte identify response body. The first 4
// bytes are opaque header/padding (mirroring the original backend's
// raw[4:] slice); the remaining 30 bytes decompose into a 6-byte magic,
// a delimiter, a 6-digit YYMMDD date, a delimiter, and 16 hex characters.
func ParseIdentify(resp []byte) (Identity, error) {
	if len(resp) != identifyRespLen {
		return Identity{}, fmt.Errorf("locate: identify response is %d bytes, want %d", len(resp), identifyRespLen)
	}
	tail := resp[4:]
	if string(tail[0:6]) != "rp2daq" {
		return Identity{}, fmt.Errorf("locate: bad magic %q", tail[0:6])
	}
	version, err := strconv.Atoi(string(tail[7:13]))
	if err != nil {
		return Identity{}, fmt.Errorf("locate: non-numeric firmware date %q", tail[7:13])
	}
	return Identity{
		Version:      version,
		SerialNumber: string(tail[14:30]),
	}, nil
}

// Candidate is one enumerated serial endpoint worth probing.
type Candidate struct {
	Path string
}

// Enumerate lists /dev/ttyACM* endpoints whose sysfs idVendor/idProduct
// attributes match VendorID/ProductID, the same attribute-reading
// approach as a sysfs-based USB enumerator.
func Enumerate() ([]Candidate, error) {
	matches, err := filepath.Glob("/dev/ttyACM*")
	if err != nil {
		return nil, err
	}
	var out []Candidate
	for _, path := range matches {
		vid, pid, ok := usbIDs(filepath.Base(path))
		if !ok || vid != VendorID || pid != ProductID {
			continue
		}
		out = append(out, Candidate{Path: path})
	}
	return out, nil
}

func usbIDs(ttyName string) (vendor, product int, ok bool) {
	base := fmt.Sprintf("/sys/class/tty/%s/device", ttyName)
	for depth := 0; depth < 4; depth++ {
		v, errV := readHexAttr(filepath.Join(base, "idVendor"))
		p, errP := readHexAttr(filepath.Join(base, "idProduct"))
		if errV == nil && errP == nil {
			return v, p, true
		}
		base = filepath.Join(base, "..")
	}
	return 0, 0, false
}

func readHexAttr(path string) (int, error) {
	data, err := ioutil.ReadFile(path)
	if err != nil {
		return 0, err
	}
	v, err := strconv.ParseInt(strings.TrimSpace(string(data)), 16, 32)
	return int(v), err
}

// Identify opens path, sends the opcode-0 identify frame, reads the
// 34-byte response and parses it. It does not keep the endpoint open:
// the caller re-opens path for normal operation, per the locator
// contract.
func Identify(path string) (Identity, error) {
	port, err := transport.OpenSerial(path, 115200)
	if err != nil {
		return Identity{}, err
	}
	defer port.Close()

	if _, err := port.Write([]byte{0x02, identifyFrame}); err != nil {
		return Identity{}, err
	}
	time.Sleep(identifyReadDelay)

	resp := make([]byte, identifyRespLen)
	total := 0
	for total < identifyRespLen {
		n, err := port.Read(resp[total:])
		if err != nil {
			return Identity{}, err
		}
		total += n
	}
	return ParseIdentify(resp)
}

// Find enumerates candidates, identifies each, and takes the first one
// whose magic matches and whose serial number matches serialFilter
// (case-insensitive, colons stripped; empty string matches any device).
// It returns that candidate's path if its version equals requiredVersion,
// and *IncompatibleFirmware otherwise, without probing further candidates.
func Find(requiredVersion int, serialFilter string) (string, error) {
	serialFilter = strings.ToUpper(strings.ReplaceAll(serialFilter, ":", ""))

	candidates, err := Enumerate()
	if err != nil {
		return "", err
	}
	for _, c := range candidates {
		id, err := Identify(c.Path)
		if err != nil {
			continue
		}
		if serialFilter != "" && id.SerialNumber != serialFilter {
			continue
		}
		if id.Version != requiredVersion {
			return "", &IncompatibleFirmware{Found: id.Version, Required: requiredVersion}
		}
		return c.Path, nil
	}
	return "", &DeviceNotFound{SerialNumber: serialFilter}
}
