package timeutil

import (
	"fmt"
	"time"
	_ "time/tzdata" // for hosts without /usr/share/zoneinfo
)

// Layouts used in output rows and file names.
const (
	utcMillisLayout   = "2006-01-02T15:04:05.000Z"
	localMillisLayout = "2006-01-02T15:04:05.000-07:00"
	DateLayout        = "2006-01-02"
	WindowTimeLayout  = "15-04"
)

// FormatUTC renders t in UTC as ISO-8601 with millisecond precision and a Z
// suffix, e.g. 2025-11-16T14:05:03.123Z.
func FormatUTC(t time.Time) string {
	return t.UTC().Format(utcMillisLayout)
}

// FormatLocal renders t in its own location as ISO-8601 with millisecond
// precision and a numeric offset, e.g. 2025-11-16T09:05:03.123-05:00.
func FormatLocal(t time.Time) string {
	return t.Format(localMillisLayout)
}

// LoadLocation resolves an IANA zone name. "UTC" and "" resolve to time.UTC
// without touching the tz database.
func LoadLocation(name string) (*time.Location, error) {
	if name == "" || name == "UTC" {
		return time.UTC, nil
	}
	loc, err := time.LoadLocation(name)
	if err != nil {
		return nil, fmt.Errorf("failed to load timezone %s: %w", name, err)
	}
	return loc, nil
}

// IsTimezoneValid reports whether name resolves in the tz database.
func IsTimezoneValid(name string) bool {
	if name == "" {
		return false
	}
	_, err := LoadLocation(name)
	return err == nil
}

// FloorToWindow floors t to the start of its window of length window,
// counting windows from the top of t's hour in t's own location.
// 14:07 with a 5 minute window floors to 14:05.
func FloorToWindow(t time.Time, window time.Duration) time.Time {
	hour := time.Date(t.Year(), t.Month(), t.Day(), t.Hour(), 0, 0, 0, t.Location())
	if window <= 0 {
		return hour
	}
	n := t.Sub(hour) / window
	return hour.Add(n * window)
}

// LocalDate returns the calendar date of t in loc as YYYY-MM-DD.
func LocalDate(t time.Time, loc *time.Location) string {
	return t.In(loc).Format(DateLayout)
}
