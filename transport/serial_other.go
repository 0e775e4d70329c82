//go:build !linux

package transport

import "fmt"

// OpenSerial is unimplemented outside Linux; the raw-mode termios ioctls
// this package relies on are Linux-specific. Tests exercise Worker
// directly over net.Pipe instead of a real Port.
func OpenSerial(path string, baud uint32) (Port, error) {
	return nil, fmt.Errorf("transport: OpenSerial not supported on this platform")
}
