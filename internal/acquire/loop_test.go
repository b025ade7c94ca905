package acquire

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/google/go-cmp/cmp"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/emis-air/airnode/internal/fsutil"
	"github.com/emis-air/airnode/internal/i2c"
	"github.com/emis-air/airnode/internal/monitoring"
	"github.com/emis-air/airnode/internal/pms"
	"github.com/emis-air/airnode/internal/record"
	"github.com/emis-air/airnode/internal/sensors"
	"github.com/emis-air/airnode/internal/serialport"
	"github.com/emis-air/airnode/internal/timeutil"
)

func init() {
	monitoring.SetLogger(nil)
}

type frameSeq struct {
	frames []pms.Frame
	errs   []error
	i      int
	closed bool
}

func (s *frameSeq) Next() (pms.Frame, error) {
	i := s.i
	s.i++
	if i < len(s.errs) && s.errs[i] != nil {
		return pms.Frame{}, s.errs[i]
	}
	if i < len(s.frames) {
		return s.frames[i], nil
	}
	return pms.Frame{}, pms.ErrNoFrame
}

func (s *frameSeq) Close() error {
	s.closed = true
	return nil
}

func pm25(vals ...uint16) *frameSeq {
	s := &frameSeq{}
	for _, v := range vals {
		s.frames = append(s.frames, pms.Frame{PM1: v / 2, PM25: v, PM10: v + 1})
	}
	return s
}

type captureWriter struct {
	mu     sync.Mutex
	rows   []record.Row
	times  []time.Time
	err    error
	closed bool
}

func (w *captureWriter) WriteRow(row record.Row, ts time.Time) error {
	w.mu.Lock()
	defer w.mu.Unlock()
	if w.err != nil {
		return w.err
	}
	w.rows = append(w.rows, row)
	w.times = append(w.times, ts)
	return nil
}

func (w *captureWriter) Close() error {
	w.closed = true
	return nil
}

func (w *captureWriter) count() int {
	w.mu.Lock()
	defer w.mu.Unlock()
	return len(w.rows)
}

var t0 = time.Date(2025, 6, 1, 12, 0, 0, 0, time.UTC)

func TestTick_BothAgree(t *testing.T) {
	w := &captureWriter{}
	l := NewLoop(Config{NodeID: "N1", PMS1: pm25(10), PMS2: pm25(10), Writer: w})

	row, err := l.Tick(t0)
	require.NoError(t, err)
	assert.Equal(t, "2025-06-01T12:00:00.000Z", row["timestamp_utc"])
	assert.Equal(t, "2025-06-01T12:00:00.000+00:00", row["timestamp_local"])
	assert.Equal(t, "N1", row["node_id"])
	assert.Equal(t, "10", row["pm25_atm_pms1"])
	assert.Equal(t, "5", row["pm1_atm_pms2"])
	assert.Equal(t, "11", row["pm10_atm_pms2"])
	assert.Equal(t, "0", row["n_0_3_pms1"])
	assert.Equal(t, "ok", row["pms1_status"])
	assert.Equal(t, "10", row["pm25_pms_mean"])
	assert.Equal(t, "0", row["pm25_pms_rpd"])
	assert.Equal(t, "OK", row["pm25_pair_flag"])
	assert.Equal(t, "OK", row["pm25_suspect_sensor"])
	_, hasSO2 := row["so2_status"]
	assert.False(t, hasSO2, "disabled so2 leaves its columns empty")

	require.Len(t, w.rows, 1)
	assert.True(t, w.times[0].Equal(t0))
	if diff := cmp.Diff(row, l.Latest()); diff != "" {
		t.Errorf("Latest() mismatch (-want +got):\n%s", diff)
	}
}

func TestTick_ChannelFaults(t *testing.T) {
	transport := &pms.TransportError{Op: "read", Err: errors.New("input/output error")}
	tests := []struct {
		name       string
		pms1, pms2 FrameSource
		status1    string
		status2    string
		flag       string
		suspect    string
	}{
		{"pms2 transport fault", pm25(5), &frameSeq{errs: []error{transport}}, "ok", "error:read: input/output error", "PMS2_BAD", "PMS2"},
		{"pms1 no frame", &frameSeq{}, pm25(5), "no_frame", "ok", "PMS1_BAD", "PMS1"},
		{"pms2 disabled", pm25(5), nil, "ok", "", "PMS2_BAD", "PMS2"},
		{"both disabled", nil, nil, "", "", "BOTH_BAD", "BOTH"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			l := NewLoop(Config{NodeID: "N1", PMS1: tt.pms1, PMS2: tt.pms2})
			row, err := l.Tick(t0)
			require.NoError(t, err)
			assert.Equal(t, tt.status1, row["pms1_status"])
			assert.Equal(t, tt.status2, row["pms2_status"])
			assert.Equal(t, tt.flag, row["pm25_pair_flag"])
			assert.Equal(t, tt.suspect, row["pm25_suspect_sensor"])
			assert.Equal(t, "NODATA", row["pm25_pms_mean"])
			assert.Equal(t, "NODATA", row["pm25_pms_rpd"])
		})
	}
}

func TestTick_MismatchUsesBaseline(t *testing.T) {
	l := NewLoop(Config{NodeID: "N1", PMS1: pm25(5, 5, 5, 5, 20), PMS2: pm25(5, 5, 5, 5, 5)})
	var row record.Row
	for i := 0; i < 5; i++ {
		var err error
		row, err = l.Tick(t0.Add(time.Duration(i) * time.Second))
		require.NoError(t, err)
	}
	assert.Equal(t, "MISMATCH", row["pm25_pair_flag"])
	assert.Equal(t, "PMS1", row["pm25_suspect_sensor"])
	assert.Equal(t, "12.5", row["pm25_pms_mean"])
	assert.Equal(t, "1.2", row["pm25_pms_rpd"])
}

func TestTick_SecondarySensors(t *testing.T) {
	bus := i2c.NewMockBus()
	bus.Set(sensors.DefaultSO2Address, 0x00, []byte{0xFF, 0x86, 0x00, 0x2A, 0x2B, 0x01, 0, 0})
	env := sensors.EnvFunc(func() (*sensors.EnvSample, error) {
		return &sensors.EnvSample{TempC: 22.5, RHPct: 51, PressureHPa: 1008}, nil
	})
	l := NewLoop(Config{NodeID: "N1", Env: env, Gas: sensors.NewSO2Sensor(bus, sensors.DefaultSO2Address)})

	row, err := l.Tick(t0)
	require.NoError(t, err)
	assert.Equal(t, "22.5", row["temp_c"])
	assert.Equal(t, "ok", row["bme_status"])
	assert.Equal(t, "4.2", row["so2_ppm"])
	assert.Equal(t, "42", row["so2_raw"])
	assert.Equal(t, "OK", row["so2_error"])
	assert.Equal(t, "ok", row["so2_status"])
}

func TestTick_LocalTimestamp(t *testing.T) {
	loc := time.FixedZone("CEST", 2*3600)
	l := NewLoop(Config{NodeID: "N1", Location: loc})
	row, err := l.Tick(t0)
	require.NoError(t, err)
	assert.Equal(t, "2025-06-01T14:00:00.000+02:00", row["timestamp_local"])
}

func TestTick_WithPMSReader(t *testing.T) {
	port := serialport.NewTestableSerialPort(pms.Frame{PM1: 3, PM25: 8, PM10: 9, N0_3: 700}.Encode())
	reader := pms.NewReader(PMS1, func() (serialport.SerialPorter, error) { return port, nil },
		pms.ReaderOptions{Clock: timeutil.NewMockClock(t0)})
	fsys := fsutil.NewMemoryFileSystem()
	w := record.NewDailyWriter(record.Options{Dir: "data/daily", NodeID: "N1", FS: fsys})

	l := NewLoop(Config{NodeID: "N1", PMS1: reader, Writer: w})
	_, err := l.Tick(t0)
	require.NoError(t, err)
	require.NoError(t, l.Close())
	assert.True(t, port.Closed)

	_, rows, err := record.ReadFile(fsys, "data/daily/N1_2025-06-01.csv")
	require.NoError(t, err)
	require.Len(t, rows, 1)
	assert.Equal(t, "8", rows[0]["pm25_atm_pms1"])
	assert.Equal(t, "700", rows[0]["n_0_3_pms1"])
	assert.Equal(t, "PMS2_BAD", rows[0]["pm25_pair_flag"])
	assert.Equal(t, "", rows[0]["so2_ppm"])
}

func TestRun_TicksUntilCancelled(t *testing.T) {
	clock := timeutil.NewMockClock(t0)
	w := &captureWriter{}
	l := NewLoop(Config{NodeID: "N1", Clock: clock, Writer: w, Tick: time.Second})

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- l.Run(ctx) }()

	for i := 1; i <= 3; i++ {
		require.Eventually(t, func() bool { return clock.Waiters() == 1 }, time.Second, time.Millisecond)
		assert.Equal(t, i, w.count())
		clock.Advance(time.Second)
	}
	require.Eventually(t, func() bool { return w.count() == 4 }, time.Second, time.Millisecond)
	cancel()

	select {
	case err := <-done:
		require.NoError(t, err)
	case <-time.After(time.Second):
		t.Fatal("Run did not return after cancel")
	}

	w.mu.Lock()
	defer w.mu.Unlock()
	for i, ts := range w.times {
		assert.True(t, ts.Equal(t0.Add(time.Duration(i)*time.Second)), "tick %d at %v", i, ts)
	}
}

func TestRun_WriterErrorStops(t *testing.T) {
	boom := errors.New("disk full")
	w := &captureWriter{err: boom}
	l := NewLoop(Config{NodeID: "N1", Clock: timeutil.NewMockClock(t0), Writer: w})
	err := l.Run(context.Background())
	assert.ErrorIs(t, err, boom)
}

func TestClose(t *testing.T) {
	w := &captureWriter{}
	src := pm25(1)
	l := NewLoop(Config{PMS1: src, Writer: w})
	require.NoError(t, l.Close())
	assert.True(t, w.closed)
	assert.True(t, src.closed)
}

func TestNoteState_LogsTransitionsOnce(t *testing.T) {
	var lines []string
	monitoring.SetLogger(func(format string, v ...interface{}) {
		lines = append(lines, format)
	})
	defer monitoring.SetLogger(nil)

	l := NewLoop(Config{})
	l.noteState("pms1", "ok", true)
	l.noteState("pms1", "no_frame", false)
	l.noteState("pms1", "no_frame", false)
	l.noteState("pms1", "ok", true)
	assert.Len(t, lines, 2)
}

type fixedGas struct{ r sensors.SO2Reading }

func (g fixedGas) ReadSO2() sensors.SO2Reading { return g.r }

func TestTick_SO2StateFollowsHealthy(t *testing.T) {
	var lines []string
	monitoring.SetLogger(func(format string, v ...interface{}) {
		lines = append(lines, fmt.Sprintf(format, v...))
	})
	defer monitoring.SetLogger(nil)

	gas := &fixedGas{r: sensors.SO2Reading{Error: sensors.SO2ErrorOK, Status: "ok"}}
	l := NewLoop(Config{NodeID: "N1", Gas: gas})
	now := time.Date(2025, 6, 1, 12, 0, 0, 0, time.UTC)

	_, err := l.Tick(now)
	require.NoError(t, err)
	assert.Empty(t, lines, "a healthy first reading is not logged")

	gas.r = sensors.SO2Reading{Error: sensors.SO2ErrorNoFrame, Status: "error"}
	_, err = l.Tick(now.Add(time.Second))
	require.NoError(t, err)
	gas.r = sensors.SO2Reading{Error: sensors.SO2ErrorOK, Status: "ok"}
	_, err = l.Tick(now.Add(2 * time.Second))
	require.NoError(t, err)

	assert.Equal(t, []string{"so2: " + sensors.SO2ErrorNoFrame, "so2: recovered"}, lines)
}
