package record

import (
	"fmt"
	"path/filepath"
	"strings"
	"sync"
	"time"

	"github.com/emis-air/airnode/internal/timeutil"
)

// PartSuffix marks a provisional window file.
const PartSuffix = ".part"

// maxCollisions bounds the -N suffix search when publishing.
const maxCollisions = 1000

// WindowFileName returns <node>_<YYYY-MM-DD>_<HH-MM>.csv for a window start.
func WindowFileName(nodeID string, start time.Time) string {
	return fmt.Sprintf("%s_%s_%s.csv", nodeID,
		start.Format(timeutil.DateLayout), start.Format(timeutil.WindowTimeLayout))
}

// WindowDirName names the data subdirectory for a window length, e.g.
// "5min" for five minutes or "90s".
func WindowDirName(window time.Duration) string {
	if window >= time.Minute && window%time.Minute == 0 {
		return fmt.Sprintf("%dmin", int(window/time.Minute))
	}
	return fmt.Sprintf("%ds", int(window/time.Second))
}

type windowState struct {
	start time.Time
	final string // unsuffixed final path
	file  *csvFile
}

// WindowWriter writes rows into one provisional file per fixed window and
// publishes it under its final name once a later window begins. Close
// leaves the provisional file in place; only rotation and Finalise rename.
type WindowWriter struct {
	opts   Options
	window time.Duration

	mu     sync.Mutex
	cur    *windowState
	closed bool
}

// NewWindowWriter returns a writer for windows of the given length, which
// must be positive and at most one hour.
func NewWindowWriter(opts Options, window time.Duration) (*WindowWriter, error) {
	if window <= 0 || window > time.Hour {
		return nil, fmt.Errorf("invalid window length %v: must be within (0, 1h]", window)
	}
	return &WindowWriter{opts: opts.normalise(), window: window}, nil
}

// Window returns the window length.
func (w *WindowWriter) Window() time.Duration { return w.window }

// WindowStart returns the start of the window holding t.
func (w *WindowWriter) WindowStart(t time.Time) time.Time {
	return timeutil.FloorToWindow(t.In(w.opts.Location), w.window)
}

// WriteRow appends row to the provisional file for sampleTime's window,
// publishing the previous window's file first if the window changed.
func (w *WindowWriter) WriteRow(row Row, sampleTime time.Time) error {
	w.mu.Lock()
	defer w.mu.Unlock()
	if w.closed {
		return ErrClosed
	}

	start := w.WindowStart(sampleTime)
	if w.cur != nil && !w.cur.start.Equal(start) {
		if err := w.publish(); err != nil {
			return err
		}
	}
	if w.cur == nil {
		if err := w.open(start); err != nil {
			return err
		}
	}
	return w.cur.file.append(row)
}

func (w *WindowWriter) open(start time.Time) error {
	if err := w.opts.FS.MkdirAll(w.opts.Dir, 0o755); err != nil {
		return fmt.Errorf("failed to create data directory: %w", err)
	}
	final := filepath.Join(w.opts.Dir, WindowFileName(w.opts.NodeID, start))
	f, err := openCSV(w.opts.FS, final+PartSuffix, w.opts.Columns, w.opts.Fsync)
	if err != nil {
		return err
	}
	w.cur = &windowState{start: start, final: final, file: f}
	return nil
}

// publish syncs, closes and renames the current provisional file. The
// window state is dropped whether or not the rename succeeds.
func (w *WindowWriter) publish() error {
	cur := w.cur
	w.cur = nil
	if err := cur.file.close(); err != nil {
		return err
	}
	target, err := w.freeName(cur.final)
	if err != nil {
		return err
	}
	if err := w.opts.FS.Rename(cur.file.path, target); err != nil {
		return fmt.Errorf("failed to finalise %s: %w", cur.file.path, err)
	}
	w.opts.emit(FileEvent{
		Kind:        Finalised,
		Path:        target,
		WindowStart: cur.start,
		WindowEnd:   cur.start.Add(w.window),
		Rows:        cur.file.rows,
	})
	return nil
}

// freeName returns final, or final with a -N suffix if already taken.
func (w *WindowWriter) freeName(final string) (string, error) {
	if !w.opts.FS.Exists(final) {
		return final, nil
	}
	base := strings.TrimSuffix(final, ".csv")
	for i := 1; i <= maxCollisions; i++ {
		name := fmt.Sprintf("%s-%d.csv", base, i)
		if !w.opts.FS.Exists(name) {
			return name, nil
		}
	}
	return "", fmt.Errorf("no free name for %s", final)
}

// Finalise publishes the current provisional file now. It is a no-op when
// no file is open.
func (w *WindowWriter) Finalise() error {
	w.mu.Lock()
	defer w.mu.Unlock()
	if w.cur == nil {
		return nil
	}
	return w.publish()
}

// Path returns the provisional file currently open, or "".
func (w *WindowWriter) Path() string {
	w.mu.Lock()
	defer w.mu.Unlock()
	if w.cur == nil {
		return ""
	}
	return w.cur.file.path
}

// Close flushes and closes the provisional file without renaming it.
func (w *WindowWriter) Close() error {
	w.mu.Lock()
	defer w.mu.Unlock()
	if w.closed {
		return nil
	}
	w.closed = true
	if w.cur == nil {
		return nil
	}
	cur := w.cur
	w.cur = nil
	if err := cur.file.close(); err != nil {
		return err
	}
	w.opts.emit(FileEvent{
		Kind:        Closed,
		Path:        cur.file.path,
		WindowStart: cur.start,
		WindowEnd:   cur.start.Add(w.window),
		Rows:        cur.file.rows,
	})
	return nil
}

