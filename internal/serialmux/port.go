package serialmux

import (
	"io"
)

// SerialPorter is the minimal surface used from a serial port, so tests
// can drive the mux without hardware.
type SerialPorter interface {
	io.ReadWriter
	io.Closer
}
