// Package acquire runs the per-tick acquisition cycle: read every sensor,
// reconcile the particulate pair, and hand one row to the writer.
package acquire

import (
	"context"
	"errors"
	"io"
	"strconv"
	"sync"
	"time"

	"github.com/emis-air/airnode/internal/baseline"
	"github.com/emis-air/airnode/internal/monitoring"
	"github.com/emis-air/airnode/internal/pms"
	"github.com/emis-air/airnode/internal/reconcile"
	"github.com/emis-air/airnode/internal/record"
	"github.com/emis-air/airnode/internal/sensors"
	"github.com/emis-air/airnode/internal/timeutil"
)

// Channel names, also used as column suffixes and baseline keys.
const (
	PMS1 = "pms1"
	PMS2 = "pms2"
)

// DefaultTick is the acquisition interval.
const DefaultTick = time.Second

// FrameSource yields particulate frames. *pms.Reader implements it.
type FrameSource interface {
	Next() (pms.Frame, error)
}

// Config wires a Loop. Nil sources are disabled channels.
type Config struct {
	NodeID   string
	Location *time.Location
	Tick     time.Duration

	Env  sensors.EnvSource
	PMS1 FrameSource
	PMS2 FrameSource
	Gas  sensors.GasSource

	Writer   record.Writer
	Clock    timeutil.Clock
	Baseline *baseline.Tracker
}

// Loop is the acquisition loop for one node.
type Loop struct {
	cfg Config

	mu     sync.Mutex
	latest record.Row
	last   map[string]string // last logged state per channel
}

// NewLoop returns a loop; zero Config fields take defaults.
func NewLoop(cfg Config) *Loop {
	if cfg.Location == nil {
		cfg.Location = time.UTC
	}
	if cfg.Tick <= 0 {
		cfg.Tick = DefaultTick
	}
	if cfg.Clock == nil {
		cfg.Clock = timeutil.RealClock{}
	}
	if cfg.Baseline == nil {
		cfg.Baseline = baseline.NewTracker(baseline.DefaultCapacity)
	}
	return &Loop{cfg: cfg, last: make(map[string]string)}
}

// Tick assembles and writes the row for now. Sensors are read in a fixed
// order: environment, pms1, pms2, then the trace-gas sensor. The only
// error returned is a writer (persistence) error.
func (l *Loop) Tick(now time.Time) (record.Row, error) {
	row := record.Row{
		"timestamp_utc":   timeutil.FormatUTC(now),
		"timestamp_local": timeutil.FormatLocal(now.In(l.cfg.Location)),
		"node_id":         l.cfg.NodeID,
	}

	if l.cfg.Env != nil {
		s, err := l.cfg.Env.ReadEnv()
		env := sensors.EnvRow(s, err)
		l.noteState("bme", env["bme_status"], env["bme_status"] == "ok")
		merge(row, env)
	}

	r1 := l.readPMS(PMS1, l.cfg.PMS1, row)
	r2 := l.readPMS(PMS2, l.cfg.PMS2, row)
	res := reconcile.Reconcile(r1, r2,
		l.cfg.Baseline.Median(PMS1), l.cfg.Baseline.Median(PMS2))
	row["pm25_pms_mean"] = reconcile.FormatFloat(res.Mean)
	row["pm25_pms_rpd"] = reconcile.FormatFloat(res.RPD)
	row["pm25_pair_flag"] = res.Flag.String()
	row["pm25_suspect_sensor"] = res.Suspect.String()

	if l.cfg.Gas != nil {
		g := l.cfg.Gas.ReadSO2()
		l.noteState("so2", g.Error, g.Healthy())
		merge(row, g.Row())
	}

	l.mu.Lock()
	l.latest = row
	l.mu.Unlock()

	if l.cfg.Writer == nil {
		return row, nil
	}
	return row, l.cfg.Writer.WriteRow(row, now)
}

// readPMS reads one channel into row and feeds its baseline. The baseline
// is updated before reconciliation, so the current value takes part in
// its own channel's median.
func (l *Loop) readPMS(name string, src FrameSource, row record.Row) reconcile.Reading {
	statusCol := name + "_status"
	if src == nil {
		row[statusCol] = reconcile.StatusDisabled.String()
		return reconcile.Reading{Status: reconcile.StatusDisabled}
	}

	f, err := src.Next()
	switch {
	case err == nil:
	case errors.Is(err, pms.ErrNoFrame):
		row[statusCol] = reconcile.StatusNoFrame.String()
		l.noteState(name, row[statusCol], false)
		return reconcile.Reading{Status: reconcile.StatusNoFrame}
	default:
		st := reconcile.StatusError(err.Error())
		row[statusCol] = st.String()
		l.noteState(name, row[statusCol], false)
		return reconcile.Reading{Status: st}
	}

	for field, v := range frameFields(f) {
		row[record.PMSColumn(field, name)] = strconv.Itoa(int(v))
	}
	row[statusCol] = reconcile.StatusOk.String()
	l.noteState(name, row[statusCol], true)

	pm25 := float64(f.PM25)
	l.cfg.Baseline.Observe(name, pm25)
	return reconcile.Reading{Value: &pm25, Status: reconcile.StatusOk}
}

func frameFields(f pms.Frame) map[string]uint16 {
	return map[string]uint16{
		"pm1_cf1": f.PM1CF1, "pm25_cf1": f.PM25CF1, "pm10_cf1": f.PM10CF1,
		"pm1_atm": f.PM1, "pm25_atm": f.PM25, "pm10_atm": f.PM10,
		"n_0_3": f.N0_3, "n_0_5": f.N0_5, "n_1_0": f.N1_0,
		"n_2_5": f.N2_5, "n_5_0": f.N5_0, "n_10": f.N10,
	}
}

// noteState logs a channel's state when it changes, so a dead sensor is
// reported once rather than every tick.
func (l *Loop) noteState(channel, state string, healthy bool) {
	l.mu.Lock()
	prev, seen := l.last[channel]
	l.last[channel] = state
	l.mu.Unlock()
	if prev == state || (!seen && healthy) {
		return
	}
	logf := monitoring.Channel(channel)
	if healthy {
		logf("recovered")
		return
	}
	logf("%s", state)
}

func merge(dst, src record.Row) {
	for k, v := range src {
		dst[k] = v
	}
}

// Latest returns a copy of the last row assembled, or nil before the
// first tick.
func (l *Loop) Latest() record.Row {
	l.mu.Lock()
	defer l.mu.Unlock()
	if l.latest == nil {
		return nil
	}
	out := make(record.Row, len(l.latest))
	merge(out, l.latest)
	return out
}

// Run ticks every cfg.Tick until ctx is cancelled. It returns nil on
// cancellation and the first writer error otherwise. Ticks keep a fixed
// cadence; after an overrun the schedule restarts from the current time.
func (l *Loop) Run(ctx context.Context) error {
	clock := l.cfg.Clock
	next := clock.Now()
	for {
		if ctx.Err() != nil {
			return nil
		}
		if _, err := l.Tick(clock.Now()); err != nil {
			return err
		}

		next = next.Add(l.cfg.Tick)
		wait := next.Sub(clock.Now())
		if wait < 0 {
			next = clock.Now()
			wait = 0
		}
		select {
		case <-ctx.Done():
			return nil
		case <-clock.After(wait):
		}
	}
}

// Close closes the writer and any source that holds a device.
func (l *Loop) Close() error {
	var errs []error
	if l.cfg.Writer != nil {
		if err := l.cfg.Writer.Close(); err != nil {
			errs = append(errs, err)
		}
	}
	for _, src := range []any{l.cfg.Env, l.cfg.PMS1, l.cfg.PMS2, l.cfg.Gas} {
		if c, ok := src.(io.Closer); ok {
			if err := c.Close(); err != nil {
				errs = append(errs, err)
			}
		}
	}
	return errors.Join(errs...)
}
