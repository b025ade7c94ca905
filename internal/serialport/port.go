// Package serialport abstracts the UART links to the particulate sensors so
// the frame reader can be exercised without hardware.
package serialport

import (
	"io"
	"time"
)

// SerialPorter defines the minimal interface needed for a serial port.
type SerialPorter interface {
	io.ReadWriter
	io.Closer
}

// TimeoutSerialPorter extends SerialPorter with timeout capabilities.
// go.bug.st/serial ports implement it; a read that times out returns 0, nil.
type TimeoutSerialPorter interface {
	SerialPorter
	SetReadTimeout(timeout time.Duration) error
}

// Opener opens the port for one sensor. The frame reader calls it lazily and
// again after a transport fault.
type Opener func() (SerialPorter, error)
