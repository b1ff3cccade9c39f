package serialmux

import (
	"fmt"

	"go.bug.st/serial"
)

// PortOpener opens a serial device. Swapped out in tests.
type PortOpener func(path string, mode *serial.Mode) (serial.Port, error)

// OpenSerialMux opens the device at path using opts and wraps it in a mux.
// A nil opener uses go.bug.st/serial.
func OpenSerialMux(path string, opts PortOptions, open PortOpener) (*SerialMux[serial.Port], error) {
	mode, err := opts.SerialMode()
	if err != nil {
		return nil, err
	}
	if open == nil {
		open = serial.Open
	}

	port, err := open(path, mode)
	if err != nil {
		return nil, fmt.Errorf("open serial %s: %w", path, err)
	}
	return NewSerialMux[serial.Port](port), nil
}

// ListPorts returns the serial devices visible to the host.
func ListPorts() ([]string, error) {
	return serial.GetPortsList()
}
