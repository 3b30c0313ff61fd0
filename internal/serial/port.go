// Package serial implements the length-typed line protocol spoken to the
// rig's microcontroller: a bit-exact request/ack dialogue over a
// single-writer serial port.
package serial

import (
	"io"
	"os"
	"time"
)

// Port is the minimal surface the Framer needs. The production
// implementation is a TTY character device; tests use an in-memory
// loopback so the framing logic never touches real hardware.
type Port interface {
	io.Reader
	io.Writer
	io.Closer
}

// Flusher is implemented by ports that can discard buffered but unread
// input and unwritten output, mirroring a real UART's TCFLSH ioctl. Framer
// calls Flush before each request if the port supports it.
type Flusher interface {
	Flush() error
}

// Deadliner is implemented by ports that support read deadlines, used to
// bound the response wait by the configured I/O timeout.
type Deadliner interface {
	SetReadDeadline(t time.Time) error
}

// OpenTTY opens the character device at path for read/write access. Baud
// rate and line discipline configuration is vendor/OS-specific termios
// setup, which belongs to physical rig bring-up rather than this package's
// coordination logic, so this wraps the raw file descriptor without
// touching termios. Operators configure baud out of band (e.g. `stty`)
// before the process starts.
func OpenTTY(path string) (Port, error) {
	f, err := os.OpenFile(path, os.O_RDWR|os.O_SYNC, 0)
	if err != nil {
		return nil, err
	}
	return ttyPort{f}, nil
}

type ttyPort struct{ *os.File }

func (ttyPort) Flush() error { return nil }
