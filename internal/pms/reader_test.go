package pms

import (
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/emis-air/airnode/internal/monitoring"
	"github.com/emis-air/airnode/internal/serialport"
	"github.com/emis-air/airnode/internal/timeutil"
)

func newTestReader(port *serialport.TestableSerialPort, clock *timeutil.MockClock) (*Reader, *int) {
	opens := 0
	open := func() (serialport.SerialPorter, error) {
		opens++
		return port, nil
	}
	return NewReader("pms1", open, ReaderOptions{Clock: clock}), &opens
}

func TestReader_Next(t *testing.T) {
	clock := timeutil.NewMockClock(time.Date(2025, 6, 1, 12, 0, 0, 0, time.UTC))
	port := serialport.NewTestableSerialPort(sample.Encode())
	r, opens := newTestReader(port, clock)

	got, err := r.Next()
	require.NoError(t, err)
	assert.Equal(t, sample, got)
	assert.Equal(t, 1, *opens)
	assert.Equal(t, serialport.DefaultReadTimeout, port.ReadTimeout)
	assert.Empty(t, clock.Sleeps())
}

func TestReader_RetriesWithinBudget(t *testing.T) {
	clock := timeutil.NewMockClock(time.Date(2025, 6, 1, 12, 0, 0, 0, time.UTC))
	port := serialport.NewTestableSerialPort([]byte{0x01, 0x02})
	port.AddQuiet()
	port.AddQuiet()
	port.AddReadData(sample.Encode())
	r, _ := newTestReader(port, clock)

	got, err := r.Next()
	require.NoError(t, err)
	assert.Equal(t, sample, got)
	assert.Equal(t, []time.Duration{DefaultPause, DefaultPause}, clock.Sleeps())
}

func TestReader_BudgetExpires(t *testing.T) {
	start := time.Date(2025, 6, 1, 12, 0, 0, 0, time.UTC)
	clock := timeutil.NewMockClock(start)
	port := serialport.NewTestableSerialPort()
	r, _ := newTestReader(port, clock)

	_, err := r.Next()
	assert.ErrorIs(t, err, ErrNoFrame)
	assert.Equal(t, start.Add(DefaultBudget), clock.Now())
	assert.Len(t, clock.Sleeps(), int(DefaultBudget/DefaultPause))
	assert.False(t, port.Closed, "a quiet line is not a transport fault")
}

func TestReader_TransportErrorReopens(t *testing.T) {
	monitoring.SetLogger(nil)
	clock := timeutil.NewMockClock(time.Date(2025, 6, 1, 12, 0, 0, 0, time.UTC))
	port := serialport.NewTestableSerialPort(sample.Encode())
	port.ReadError = errors.New("device disconnected")
	r, opens := newTestReader(port, clock)

	_, err := r.Next()
	var te *TransportError
	require.ErrorAs(t, err, &te)
	assert.True(t, port.Closed)

	port.Closed = false
	got, err := r.Next()
	require.NoError(t, err)
	assert.Equal(t, sample, got)
	assert.Equal(t, 2, *opens)
}

func TestReader_OpenFailure(t *testing.T) {
	r := NewReader("pms2", func() (serialport.SerialPorter, error) {
		return nil, errors.New("no such file or directory")
	}, ReaderOptions{Clock: timeutil.NewMockClock(time.Now())})

	_, err := r.Next()
	var te *TransportError
	require.ErrorAs(t, err, &te)
	assert.Equal(t, "open", te.Op)
	assert.Equal(t, "open: no such file or directory", err.Error())
}

func TestReader_NilOpener(t *testing.T) {
	r := NewReader("pms1", nil, ReaderOptions{})
	_, err := r.Next()
	assert.ErrorIs(t, err, ErrPortNotOpen)
}

func TestReader_Close(t *testing.T) {
	clock := timeutil.NewMockClock(time.Now())
	port := serialport.NewTestableSerialPort(sample.Encode())
	r, _ := newTestReader(port, clock)
	_, err := r.Next()
	require.NoError(t, err)

	require.NoError(t, r.Close())
	assert.True(t, port.Closed)
	require.NoError(t, r.Close())
}

// quietPort blocks for its full read timeout on every read and returns
// nothing, like a UART whose sensor has stopped sending.
type quietPort struct {
	clock    *timeutil.MockClock
	timeout  time.Duration
	timeouts []time.Duration
}

func (p *quietPort) Read([]byte) (int, error) {
	p.clock.Advance(p.timeout)
	return 0, nil
}

func (p *quietPort) Write(b []byte) (int, error) { return len(b), nil }
func (p *quietPort) Close() error                { return nil }

func (p *quietPort) SetReadTimeout(d time.Duration) error {
	p.timeout = d
	p.timeouts = append(p.timeouts, d)
	return nil
}

func TestReader_BlockingReadsStayWithinBudget(t *testing.T) {
	start := time.Date(2025, 6, 1, 12, 0, 0, 0, time.UTC)
	clock := timeutil.NewMockClock(start)
	port := &quietPort{clock: clock}
	r := NewReader("pms1", func() (serialport.SerialPorter, error) { return port, nil },
		ReaderOptions{Clock: clock})

	_, err := r.Next()
	assert.ErrorIs(t, err, ErrNoFrame)
	assert.Equal(t, start.Add(DefaultBudget), clock.Now())
	// Reads start at 0, 110, 220 and 330ms; the last gets only 70ms.
	assert.Equal(t, []time.Duration{100 * time.Millisecond, 70 * time.Millisecond}, port.timeouts)

	// The next call restores the full timeout.
	next := clock.Now()
	_, err = r.Next()
	assert.ErrorIs(t, err, ErrNoFrame)
	assert.False(t, clock.Now().After(next.Add(DefaultBudget)))
	assert.Equal(t, 100*time.Millisecond, port.timeouts[2])
}
