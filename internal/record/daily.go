package record

import (
	"fmt"
	"path/filepath"
	"sync"
	"time"

	"github.com/emis-air/airnode/internal/fsutil"
	"github.com/emis-air/airnode/internal/timeutil"
)

// Options configures a writer. Zero values take defaults: Columns,
// OSFileSystem and UTC.
type Options struct {
	Dir    string
	NodeID string

	// Location is the time basis for file dates and window starts.
	Location *time.Location

	// Fsync syncs the file after every row.
	Fsync bool

	Columns []string
	FS      fsutil.FileSystem

	// OnFile is called after a file is closed or finalised.
	OnFile func(FileEvent)
}

func (o Options) normalise() Options {
	if o.Location == nil {
		o.Location = time.UTC
	}
	if o.Columns == nil {
		o.Columns = Columns
	}
	if o.FS == nil {
		o.FS = fsutil.OSFileSystem{}
	}
	return o
}

func (o Options) emit(ev FileEvent) {
	if o.OnFile != nil {
		o.OnFile(ev)
	}
}

// DailyFileName returns <node>_<YYYY-MM-DD>.csv for the given local date.
func DailyFileName(nodeID, date string) string {
	return fmt.Sprintf("%s_%s.csv", nodeID, date)
}

// DailyWriter appends rows to one file per local calendar date. A file left
// by an earlier run for the same date is reopened and appended to.
type DailyWriter struct {
	opts Options

	mu     sync.Mutex
	date   string
	cur    *csvFile
	closed bool
}

// NewDailyWriter returns a writer; no file is opened until the first row.
func NewDailyWriter(opts Options) *DailyWriter {
	return &DailyWriter{opts: opts.normalise()}
}

// WriteRow appends row to the file for sampleTime's local date.
func (w *DailyWriter) WriteRow(row Row, sampleTime time.Time) error {
	w.mu.Lock()
	defer w.mu.Unlock()
	if w.closed {
		return ErrClosed
	}

	date := timeutil.LocalDate(sampleTime, w.opts.Location)
	if w.cur != nil && date != w.date {
		if err := w.closeCurrent(); err != nil {
			return err
		}
	}
	if w.cur == nil {
		if err := w.opts.FS.MkdirAll(w.opts.Dir, 0o755); err != nil {
			return fmt.Errorf("failed to create data directory: %w", err)
		}
		path := filepath.Join(w.opts.Dir, DailyFileName(w.opts.NodeID, date))
		f, err := openCSV(w.opts.FS, path, w.opts.Columns, w.opts.Fsync)
		if err != nil {
			return err
		}
		w.cur, w.date = f, date
	}
	return w.cur.append(row)
}

func (w *DailyWriter) closeCurrent() error {
	cur, date := w.cur, w.date
	w.cur, w.date = nil, ""
	if err := cur.close(); err != nil {
		return err
	}
	start, _ := time.ParseInLocation(timeutil.DateLayout, date, w.opts.Location)
	w.opts.emit(FileEvent{
		Kind:        Closed,
		Path:        cur.path,
		WindowStart: start,
		WindowEnd:   start.AddDate(0, 0, 1),
		Rows:        cur.rows,
	})
	return nil
}

// Path returns the file currently open, or "".
func (w *DailyWriter) Path() string {
	w.mu.Lock()
	defer w.mu.Unlock()
	if w.cur == nil {
		return ""
	}
	return w.cur.path
}

// Close flushes and closes the open file. Later writes fail with ErrClosed.
func (w *DailyWriter) Close() error {
	w.mu.Lock()
	defer w.mu.Unlock()
	if w.closed {
		return nil
	}
	w.closed = true
	if w.cur == nil {
		return nil
	}
	return w.closeCurrent()
}
