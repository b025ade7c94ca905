package serialport

import (
	"fmt"

	"go.bug.st/serial"
)

// Open opens the serial device at path and applies the read timeout, so a
// quiet line returns a zero-length read instead of blocking forever.
func Open(path string, opts PortOptions) (TimeoutSerialPorter, error) {
	opts, err := opts.Normalise()
	if err != nil {
		return nil, err
	}
	mode, err := opts.SerialMode()
	if err != nil {
		return nil, err
	}

	port, err := serial.Open(path, mode)
	if err != nil {
		return nil, fmt.Errorf("open %s: %w", path, err)
	}
	if err := port.SetReadTimeout(opts.ReadTimeout); err != nil {
		port.Close()
		return nil, fmt.Errorf("set read timeout on %s: %w", path, err)
	}
	return port, nil
}

// NewOpener returns an Opener bound to one device path.
func NewOpener(path string, opts PortOptions) Opener {
	return func() (SerialPorter, error) {
		return Open(path, opts)
	}
}
