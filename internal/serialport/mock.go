package serialport

import (
	"errors"
	"sync"
	"time"
)

// ErrPortClosed is returned by TestableSerialPort after Close.
var ErrPortClosed = errors.New("serial port closed")

// TestableSerialPort implements TimeoutSerialPorter with scripted input for
// testing. Queued bytes are returned in order; once the queue is empty, or
// when a quiet gap is reached, Read returns 0, nil the way a real port does
// when its read timeout expires.
type TestableSerialPort struct {
	mu sync.Mutex

	segments []segment

	// MaxRead caps the bytes returned by one Read call (0 means no cap).
	MaxRead int

	// ReadError is returned by the next Read call if set.
	ReadError error

	// CloseError is returned by Close if set.
	CloseError error

	// Closed indicates whether Close was called.
	Closed bool

	// ReadCalls and QuietReads count Read calls and zero-length reads.
	ReadCalls  int
	QuietReads int

	// ReadTimeout is the last timeout set through SetReadTimeout.
	ReadTimeout time.Duration

	written []byte
}

type segment struct {
	data  []byte
	quiet bool
}

// NewTestableSerialPort creates a port whose first reads return data.
func NewTestableSerialPort(data ...[]byte) *TestableSerialPort {
	p := &TestableSerialPort{}
	for _, d := range data {
		p.AddReadData(d)
	}
	return p
}

// AddReadData queues bytes for subsequent Read calls.
func (t *TestableSerialPort) AddReadData(data []byte) {
	t.mu.Lock()
	defer t.mu.Unlock()
	cp := make([]byte, len(data))
	copy(cp, data)
	t.segments = append(t.segments, segment{data: cp})
}

// AddQuiet queues one read timeout: the next Read that reaches this point
// returns 0, nil and the gap is consumed.
func (t *TestableSerialPort) AddQuiet() {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.segments = append(t.segments, segment{quiet: true})
}

// Pending reports how many queued bytes have not been read yet.
func (t *TestableSerialPort) Pending() int {
	t.mu.Lock()
	defer t.mu.Unlock()
	n := 0
	for _, s := range t.segments {
		n += len(s.data)
	}
	return n
}

func (t *TestableSerialPort) Read(p []byte) (int, error) {
	t.mu.Lock()
	defer t.mu.Unlock()

	t.ReadCalls++
	if t.Closed {
		return 0, ErrPortClosed
	}
	if t.ReadError != nil {
		err := t.ReadError
		t.ReadError = nil
		return 0, err
	}

	for len(t.segments) > 0 && !t.segments[0].quiet && len(t.segments[0].data) == 0 {
		t.segments = t.segments[1:]
	}
	if len(t.segments) == 0 || t.segments[0].quiet {
		if len(t.segments) > 0 {
			t.segments = t.segments[1:]
		}
		t.QuietReads++
		return 0, nil
	}

	want := len(p)
	if t.MaxRead > 0 && want > t.MaxRead {
		want = t.MaxRead
	}
	seg := &t.segments[0]
	n := copy(p[:want], seg.data)
	seg.data = seg.data[n:]
	return n, nil
}

func (t *TestableSerialPort) Write(p []byte) (int, error) {
	t.mu.Lock()
	defer t.mu.Unlock()
	if t.Closed {
		return 0, ErrPortClosed
	}
	t.written = append(t.written, p...)
	return len(p), nil
}

// Written returns all bytes written to the port.
func (t *TestableSerialPort) Written() []byte {
	t.mu.Lock()
	defer t.mu.Unlock()
	return append([]byte(nil), t.written...)
}

func (t *TestableSerialPort) Close() error {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.Closed = true
	return t.CloseError
}

func (t *TestableSerialPort) SetReadTimeout(timeout time.Duration) error {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.ReadTimeout = timeout
	return nil
}
