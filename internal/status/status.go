// Package status classifies sensor health from the newest daily output
// file, without touching hardware.
package status

import (
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"

	"github.com/emis-air/airnode/internal/fsutil"
	"github.com/emis-air/airnode/internal/record"
)

// Level is the severity of a sensor's state.
type Level int

const (
	Good Level = iota
	Warn
	Bad
)

// SensorStatus is one line of the report.
type SensorStatus struct {
	Name    string
	Level   Level
	Message string
}

func (s SensorStatus) String() string {
	return s.Name + ": " + s.Message
}

type sensorSpec struct {
	name      string
	cols      []string
	statusCol string
	pms       bool
}

var sensorSpecs = []sensorSpec{
	{"PMS-1", []string{"pm1_atm_pms1", "pm25_atm_pms1", "pm10_atm_pms1"}, "pms1_status", true},
	{"PMS-2", []string{"pm1_atm_pms2", "pm25_atm_pms2", "pm10_atm_pms2"}, "pms2_status", true},
	{"BME688", []string{"temp_c", "rh_pct", "pressure_hpa"}, "", false},
	{"OPC-N3", []string{"pm1_atm_opc", "pm25_atm_opc", "pm10_atm_opc"}, "opc_status", false},
	{"SPEC SO2", []string{"so2_raw", "so2_byte0", "so2_byte1"}, "", false},
}

// IsPresent reports whether a column value counts as recorded. "0" is
// present; blanks and na/nan/none/null are not.
func IsPresent(v string) bool {
	s := strings.TrimSpace(v)
	if s == "" {
		return false
	}
	switch strings.ToLower(s) {
	case "na", "nan", "none", "null":
		return false
	}
	return true
}

// Report classifies every known sensor from a file header and its last
// row.
func Report(header []string, last record.Row) []SensorStatus {
	inHeader := make(map[string]bool, len(header))
	for _, c := range header {
		inHeader[c] = true
	}

	out := make([]SensorStatus, 0, len(sensorSpecs))
	for _, spec := range sensorSpecs {
		out = append(out, classify(spec, inHeader, last))
	}
	return out
}

func classify(spec sensorSpec, inHeader map[string]bool, last record.Row) SensorStatus {
	st := SensorStatus{Name: spec.name}
	for _, c := range spec.cols {
		if !inHeader[c] {
			st.Level, st.Message = Bad, "Not integrated (missing columns)"
			return st
		}
	}

	present := false
	for _, c := range spec.cols {
		if IsPresent(last[c]) {
			present = true
			break
		}
	}
	status := ""
	if spec.statusCol != "" {
		status = strings.TrimSpace(last[spec.statusCol])
	}

	if spec.pms {
		switch {
		case status == "":
			st.Level, st.Message = Bad, "Not connected"
		case status == "ok" && present:
			st.Level, st.Message = Good, "Connected and recording"
		case strings.HasPrefix(status, "error"):
			st.Level, st.Message = Bad, fmt.Sprintf("Error (%s)", status)
		case status == "no_frame":
			st.Level, st.Message = Bad, "Not connected (no_frame)"
		case present:
			st.Level, st.Message = Good, fmt.Sprintf("Connected (status=%s)", status)
		default:
			st.Level, st.Message = Warn, fmt.Sprintf("Not recording (status=%s)", status)
		}
		return st
	}

	switch {
	case present && status != "" && status != "ok":
		st.Level, st.Message = Warn, fmt.Sprintf("Recording but status=%s", status)
	case present:
		st.Level, st.Message = Good, "Connected and recording"
	case status != "":
		st.Level, st.Message = Warn, fmt.Sprintf("Connected but not recording (status=%s)", status)
	default:
		st.Level, st.Message = Warn, "Connected but not recording"
	}
	return st
}

// NewestDailyFile returns today's daily file for nodeID in dir if it
// exists, else the most recently modified one, else "".
func NewestDailyFile(dir, nodeID, today string) (string, error) {
	p := filepath.Join(dir, record.DailyFileName(nodeID, today))
	if _, err := os.Stat(p); err == nil {
		return p, nil
	}

	matches, err := filepath.Glob(filepath.Join(dir, nodeID+"_*.csv"))
	if err != nil {
		return "", err
	}
	type candidate struct {
		path  string
		mtime int64
	}
	var cands []candidate
	for _, m := range matches {
		info, err := os.Stat(m)
		if err != nil {
			continue
		}
		cands = append(cands, candidate{m, info.ModTime().UnixNano()})
	}
	if len(cands) == 0 {
		return "", nil
	}
	sort.Slice(cands, func(i, j int) bool { return cands[i].mtime > cands[j].mtime })
	return cands[0].path, nil
}

// Summary is the result of checking one file.
type Summary struct {
	File    string
	Note    string // set when there is nothing to classify
	Sensors []SensorStatus
}

// Check locates the newest daily file and classifies its last row.
func Check(dir, nodeID, today string) (Summary, error) {
	path, err := NewestDailyFile(dir, nodeID, today)
	if err != nil {
		return Summary{}, err
	}
	if path == "" {
		return Summary{Note: "No daily CSV found."}, nil
	}

	header, last, err := record.ReadLast(fsutil.OSFileSystem{}, path)
	if err != nil {
		return Summary{}, err
	}
	s := Summary{File: path}
	switch {
	case len(header) == 0:
		s.Note = "Daily file has no header/rows yet."
	case last == nil:
		s.Note = "Daily file has header but no data rows yet."
	default:
		s.Sensors = Report(header, last)
	}
	return s, nil
}
