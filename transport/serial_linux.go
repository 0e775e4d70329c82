//go:build linux

package transport

import (
	"fmt"
	"os"

	"golang.org/x/sys/unix"
)

// serialPort wraps a CDC-ACM character device opened in raw, blocking
// mode: no line discipline, no echo, 8N1, one byte is enough to
// complete a read.
type serialPort struct {
	f *os.File
}

// OpenSerial opens a USB CDC serial endpoint (e.g. /dev/ttyACM0) in raw
// mode at the given baud rate. Firmware over CDC-ACM ignores the actual
// baud value, but termios still requires a legal one.
func OpenSerial(path string, baud uint32) (Port, error) {
	f, err := os.OpenFile(path, os.O_RDWR|unix.O_NOCTTY, 0)
	if err != nil {
		return nil, err
	}
	fd := int(f.Fd())

	t, err := unix.IoctlGetTermios(fd, unix.TCGETS)
	if err != nil {
		f.Close()
		return nil, fmt.Errorf("transport: TCGETS %s: %w", path, err)
	}

	t.Iflag &^= unix.IGNBRK | unix.BRKINT | unix.PARMRK | unix.ISTRIP |
		unix.INLCR | unix.IGNCR | unix.ICRNL | unix.IXON
	t.Oflag &^= unix.OPOST
	t.Lflag &^= unix.ECHO | unix.ECHONL | unix.ICANON | unix.ISIG | unix.IEXTEN
	t.Cflag &^= unix.CSIZE | unix.PARENB
	t.Cflag |= unix.CS8 | unix.CREAD | unix.CLOCAL
	// Blocking read returning as soon as at least 1 byte is available,
	// matching the "read at least one byte, up to in-waiting" contract.
	t.Cc[unix.VMIN] = 1
	t.Cc[unix.VTIME] = 0
	if rate, ok := baudConst[baud]; ok {
		t.Ispeed = rate
		t.Ospeed = rate
	}

	if err := unix.IoctlSetTermios(fd, unix.TCSETS, t); err != nil {
		f.Close()
		return nil, fmt.Errorf("transport: TCSETS %s: %w", path, err)
	}
	return &serialPort{f: f}, nil
}

var baudConst = map[uint32]uint32{
	9600:    unix.B9600,
	19200:   unix.B19200,
	38400:   unix.B38400,
	57600:   unix.B57600,
	115200:  unix.B115200,
	230400:  unix.B230400,
	460800:  unix.B460800,
	921600:  unix.B921600,
	1000000: unix.B1000000,
}

func (p *serialPort) Read(b []byte) (int, error)  { return p.f.Read(b) }
func (p *serialPort) Write(b []byte) (int, error) { return p.f.Write(b) }
func (p *serialPort) Close() error                { return p.f.Close() }
