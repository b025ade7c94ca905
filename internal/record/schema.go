// Package record persists tick rows as CSV files, either one file per local
// day or one file per fixed time window published by atomic rename.
package record

import "time"

// SchemaVersion identifies the column layout produced by Columns.
const SchemaVersion = 2

// Columns is the fixed output column order.
var Columns = buildColumns()

// PMS channel column suffixes.
var pmsFields = []string{
	"pm1_cf1", "pm25_cf1", "pm10_cf1",
	"pm1_atm", "pm25_atm", "pm10_atm",
	"n_0_3", "n_0_5", "n_1_0", "n_2_5", "n_5_0", "n_10",
}

func buildColumns() []string {
	cols := []string{
		"timestamp_utc", "timestamp_local", "node_id",
		"temp_c", "rh_pct", "pressure_hpa", "voc_ohm", "bme_status",
	}
	for _, ch := range []string{"pms1", "pms2"} {
		for _, f := range pmsFields {
			cols = append(cols, f+"_"+ch)
		}
		cols = append(cols, ch+"_status")
	}
	return append(cols,
		"pm25_pms_mean", "pm25_pms_rpd", "pm25_pair_flag", "pm25_suspect_sensor",
		"so2_ppm", "so2_raw", "so2_byte0", "so2_byte1", "so2_error", "so2_status",
	)
}

// PMSColumn returns the column name for one PMS field of a channel,
// e.g. PMSColumn("pm25_atm", "pms1") is "pm25_atm_pms1".
func PMSColumn(field, channel string) string {
	return field + "_" + channel
}

// PMSFields returns the per-channel PMS field names in column order.
func PMSFields() []string {
	return append([]string(nil), pmsFields...)
}

// Row maps column names to values. Absent keys are written as "".
type Row map[string]string

// Values projects the row onto cols.
func (r Row) Values(cols []string) []string {
	out := make([]string, len(cols))
	for i, c := range cols {
		out[i] = r[c]
	}
	return out
}

// Normalise returns a copy of r holding exactly cols, absent ones as "".
func (r Row) Normalise(cols []string) Row {
	out := make(Row, len(cols))
	for _, c := range cols {
		out[c] = r[c]
	}
	return out
}

// EventKind says how a writer released a file.
type EventKind int

const (
	// Closed files were closed in place: a finished daily file, or a
	// provisional window file left at shutdown.
	Closed EventKind = iota
	// Finalised files were published under their final name.
	Finalised
)

func (k EventKind) String() string {
	if k == Finalised {
		return "finalised"
	}
	return "closed"
}

// FileEvent describes a file a writer has released.
type FileEvent struct {
	Kind        EventKind
	Path        string
	WindowStart time.Time
	WindowEnd   time.Time
	Rows        int
}

// Writer is the contract shared by the daily and fixed-window writers.
type Writer interface {
	// WriteRow appends row to the file for the window holding sampleTime.
	WriteRow(row Row, sampleTime time.Time) error
	// Close flushes and releases the open file without publishing it.
	Close() error
}
