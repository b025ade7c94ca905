// Package sensors defines the secondary sensor collaborators polled each
// tick and their projection onto output columns.
package sensors

import (
	"strconv"

	"github.com/emis-air/airnode/internal/record"
)

// EnvSample is one environmental reading. VOCOhm is nil when the gas
// heater has not produced a value.
type EnvSample struct {
	TempC       float64
	RHPct       float64
	PressureHPa float64
	VOCOhm      *float64
}

// EnvSource reads temperature, humidity, pressure and gas resistance. A nil
// sample with a nil error means no new data was ready.
type EnvSource interface {
	ReadEnv() (*EnvSample, error)
}

// EnvFunc adapts a function to EnvSource.
type EnvFunc func() (*EnvSample, error)

func (f EnvFunc) ReadEnv() (*EnvSample, error) { return f() }

// EnvRow returns the environmental columns for one read outcome.
func EnvRow(s *EnvSample, err error) record.Row {
	row := record.Row{}
	switch {
	case err != nil:
		row["bme_status"] = "error:" + err.Error()
	case s == nil:
		row["bme_status"] = "no_data"
	default:
		row["temp_c"] = formatFloat(s.TempC)
		row["rh_pct"] = formatFloat(s.RHPct)
		row["pressure_hpa"] = formatFloat(s.PressureHPa)
		if s.VOCOhm != nil {
			row["voc_ohm"] = formatFloat(*s.VOCOhm)
		}
		row["bme_status"] = "ok"
	}
	return row
}

// GasSource reads the trace-gas sensor. It never fails: faults are
// reported in the reading.
type GasSource interface {
	ReadSO2() SO2Reading
}

func formatFloat(v float64) string {
	return strconv.FormatFloat(v, 'f', -1, 64)
}
