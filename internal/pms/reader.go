package pms

import (
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/emis-air/airnode/internal/monitoring"
	"github.com/emis-air/airnode/internal/serialport"
	"github.com/emis-air/airnode/internal/timeutil"
)

const (
	// DefaultBudget is the wall-clock allowance for one Next call.
	DefaultBudget = 400 * time.Millisecond
	// DefaultPause separates decode attempts within the budget.
	DefaultPause = 10 * time.Millisecond
)

// ErrPortNotOpen is wrapped in a TransportError when no opener is set.
var ErrPortNotOpen = errors.New("port not open")

// TransportError is a fault reaching the sensor: the port could not be
// opened or a read failed for a reason other than the line going quiet.
type TransportError struct {
	Op  string
	Err error
}

func (e *TransportError) Error() string {
	return fmt.Sprintf("%s: %v", e.Op, e.Err)
}

func (e *TransportError) Unwrap() error { return e.Err }

// ReaderOptions configures a Reader. Zero values take the defaults.
type ReaderOptions struct {
	Budget      time.Duration
	Pause       time.Duration
	ReadTimeout time.Duration
	Clock       timeutil.Clock
}

// Reader owns one sensor's serial port and turns it into frames. The port
// is opened on first use and reopened on a later call after a transport
// fault.
type Reader struct {
	name string
	open serialport.Opener

	budget      time.Duration
	pause       time.Duration
	readTimeout time.Duration
	clock       timeutil.Clock

	mu      sync.Mutex
	port    serialport.SerialPorter
	timeout time.Duration // read timeout currently set on port
}

// NewReader returns a reader for the named channel.
func NewReader(name string, open serialport.Opener, opts ReaderOptions) *Reader {
	r := &Reader{
		name:        name,
		open:        open,
		budget:      opts.Budget,
		pause:       opts.Pause,
		readTimeout: opts.ReadTimeout,
		clock:       opts.Clock,
	}
	if r.budget <= 0 {
		r.budget = DefaultBudget
	}
	if r.pause <= 0 {
		r.pause = DefaultPause
	}
	if r.readTimeout <= 0 {
		r.readTimeout = serialport.DefaultReadTimeout
	}
	if r.clock == nil {
		r.clock = timeutil.RealClock{}
	}
	return r
}

// Name returns the channel name given to NewReader.
func (r *Reader) Name() string { return r.name }

// Next returns the next valid frame, retrying until the budget runs out.
// It returns ErrNoFrame when the budget expires and a *TransportError when
// the port cannot be reached.
func (r *Reader) Next() (Frame, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	if err := r.ensureOpen(); err != nil {
		return Frame{}, err
	}

	deadline := r.clock.Now().Add(r.budget)
	for {
		if err := r.fitReadTimeout(deadline); err != nil {
			r.closePort()
			return Frame{}, err
		}
		f, err := Decode(r.port)
		if err == nil {
			return f, nil
		}
		var te *TransportError
		if errors.As(err, &te) {
			r.closePort()
			return Frame{}, err
		}
		left := deadline.Sub(r.clock.Now())
		if left <= 0 {
			return Frame{}, ErrNoFrame
		}
		r.clock.Sleep(min(r.pause, left))
	}
}

// fitReadTimeout shortens the port's read timeout so a blocking read
// cannot outlast the deadline.
func (r *Reader) fitReadTimeout(deadline time.Time) error {
	tp, ok := r.port.(serialport.TimeoutSerialPorter)
	if !ok {
		return nil
	}
	want := min(r.readTimeout, deadline.Sub(r.clock.Now()))
	if want < time.Millisecond {
		want = time.Millisecond
	}
	if want == r.timeout {
		return nil
	}
	if err := tp.SetReadTimeout(want); err != nil {
		return &TransportError{Op: "set read timeout", Err: err}
	}
	r.timeout = want
	return nil
}

func (r *Reader) ensureOpen() error {
	if r.port != nil {
		return nil
	}
	if r.open == nil {
		return &TransportError{Op: "open", Err: ErrPortNotOpen}
	}
	p, err := r.open()
	if err != nil {
		return &TransportError{Op: "open", Err: err}
	}
	if tp, ok := p.(serialport.TimeoutSerialPorter); ok {
		if err := tp.SetReadTimeout(r.readTimeout); err != nil {
			p.Close()
			return &TransportError{Op: "set read timeout", Err: err}
		}
	}
	r.port = p
	r.timeout = r.readTimeout
	return nil
}

func (r *Reader) closePort() {
	if r.port == nil {
		return
	}
	if err := r.port.Close(); err != nil {
		monitoring.Channel(r.name)("close port: %v", err)
	}
	r.port = nil
}

// Close releases the port. A later Next reopens it.
func (r *Reader) Close() error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.port == nil {
		return nil
	}
	err := r.port.Close()
	r.port = nil
	return err
}
