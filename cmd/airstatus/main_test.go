package main

import (
	"bytes"
	"testing"

	"github.com/google/go-cmp/cmp"

	"github.com/emis-air/airnode/internal/status"
)

func TestPrintSummary_NoFile(t *testing.T) {
	var buf bytes.Buffer
	printSummary(&buf, status.Summary{Note: "No daily CSV found."}, false)

	want := "Sensor Status:\n  No daily CSV found.\n"
	if diff := cmp.Diff(want, buf.String()); diff != "" {
		t.Errorf("output mismatch (-want +got):\n%s", diff)
	}
}

func TestPrintSummary_Sensors(t *testing.T) {
	s := status.Summary{
		File: "/srv/air/data/daily/N7_2026-10-14.csv",
		Sensors: []status.SensorStatus{
			{Name: "PMS-1", Level: status.Good, Message: "Connected and recording"},
			{Name: "PMS-2", Level: status.Bad, Message: "Not connected (no_frame)"},
		},
	}
	var buf bytes.Buffer
	printSummary(&buf, s, false)

	want := "Sensor Status (file: N7_2026-10-14.csv)\n" +
		"  PMS-1: Connected and recording\n" +
		"  PMS-2: Not connected (no_frame)\n"
	if diff := cmp.Diff(want, buf.String()); diff != "" {
		t.Errorf("output mismatch (-want +got):\n%s", diff)
	}
}

func TestPrintSummary_Colour(t *testing.T) {
	s := status.Summary{
		File:    "N7_2026-10-14.csv",
		Sensors: []status.SensorStatus{{Name: "BME688", Level: status.Warn, Message: "Connected but not recording"}},
	}
	var buf bytes.Buffer
	printSummary(&buf, s, true)

	want := "Sensor Status (file: N7_2026-10-14.csv)\n  " + bold + yellow + "BME688: Connected but not recording" + reset + "\n"
	if diff := cmp.Diff(want, buf.String()); diff != "" {
		t.Errorf("output mismatch (-want +got):\n%s", diff)
	}
}
