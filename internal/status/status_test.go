package status

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/emis-air/airnode/internal/record"
)

func byName(statuses []SensorStatus) map[string]SensorStatus {
	out := map[string]SensorStatus{}
	for _, s := range statuses {
		out[s.Name] = s
	}
	return out
}

func TestIsPresent(t *testing.T) {
	for _, v := range []string{"0", "0.0", "12", " 3 "} {
		assert.True(t, IsPresent(v), v)
	}
	for _, v := range []string{"", "  ", "NA", "nan", "None", "null"} {
		assert.False(t, IsPresent(v), v)
	}
}

func TestReport(t *testing.T) {
	last := record.Row{
		"pm1_atm_pms1": "3", "pm25_atm_pms1": "0", "pm10_atm_pms1": "5", "pms1_status": "ok",
		"pms2_status": "error:read: input/output error",
		"temp_c":      "", "rh_pct": "", "pressure_hpa": "",
		"so2_raw": "0", "so2_byte0": "0", "so2_byte1": "0",
	}
	got := byName(Report(record.Columns, last))

	assert.Equal(t, SensorStatus{"PMS-1", Good, "Connected and recording"}, got["PMS-1"])
	assert.Equal(t, SensorStatus{"PMS-2", Bad, "Error (error:read: input/output error)"}, got["PMS-2"])
	assert.Equal(t, SensorStatus{"BME688", Warn, "Connected but not recording"}, got["BME688"])
	assert.Equal(t, SensorStatus{"OPC-N3", Bad, "Not integrated (missing columns)"}, got["OPC-N3"])
	assert.Equal(t, SensorStatus{"SPEC SO2", Good, "Connected and recording"}, got["SPEC SO2"])
}

func TestReport_PMSStates(t *testing.T) {
	tests := []struct {
		status string
		value  string
		level  Level
		msg    string
	}{
		{"", "", Bad, "Not connected"},
		{"no_frame", "", Bad, "Not connected (no_frame)"},
		{"ok", "", Warn, "Not recording (status=ok)"},
		{"warming", "4", Good, "Connected (status=warming)"},
	}
	for _, tt := range tests {
		got := byName(Report(record.Columns, record.Row{"pms1_status": tt.status, "pm25_atm_pms1": tt.value}))
		assert.Equal(t, tt.level, got["PMS-1"].Level, tt.status)
		assert.Equal(t, tt.msg, got["PMS-1"].Message, tt.status)
	}
}

func writeDaily(t *testing.T, dir, date string, rows int) string {
	t.Helper()
	w := record.NewDailyWriter(record.Options{Dir: dir, NodeID: "N1"})
	day, err := time.Parse("2006-01-02", date)
	require.NoError(t, err)
	for i := 0; i < rows; i++ {
		require.NoError(t, w.WriteRow(record.Row{"pms1_status": "ok", "pm25_atm_pms1": "7"}, day.Add(time.Duration(i)*time.Second)))
	}
	require.NoError(t, w.Close())
	return filepath.Join(dir, record.DailyFileName("N1", date))
}

func TestNewestDailyFile(t *testing.T) {
	dir := t.TempDir()
	got, err := NewestDailyFile(dir, "N1", "2025-06-03")
	require.NoError(t, err)
	assert.Equal(t, "", got)

	older := writeDaily(t, dir, "2025-06-01", 1)
	newer := writeDaily(t, dir, "2025-06-02", 1)
	past := time.Now().Add(-time.Hour)
	require.NoError(t, os.Chtimes(older, past, past))

	got, err = NewestDailyFile(dir, "N1", "2025-06-03")
	require.NoError(t, err)
	assert.Equal(t, newer, got)

	got, err = NewestDailyFile(dir, "N1", "2025-06-01")
	require.NoError(t, err)
	assert.Equal(t, older, got)
}

func TestCheck(t *testing.T) {
	dir := t.TempDir()
	s, err := Check(dir, "N1", "2025-06-01")
	require.NoError(t, err)
	assert.Equal(t, "No daily CSV found.", s.Note)

	path := writeDaily(t, dir, "2025-06-01", 2)
	s, err = Check(dir, "N1", "2025-06-01")
	require.NoError(t, err)
	assert.Equal(t, path, s.File)
	assert.Empty(t, s.Note)
	assert.Equal(t, Good, byName(s.Sensors)["PMS-1"].Level)

	require.NoError(t, os.WriteFile(path, nil, 0o644))
	s, err = Check(dir, "N1", "2025-06-01")
	require.NoError(t, err)
	assert.Equal(t, "Daily file has no header/rows yet.", s.Note)
}
