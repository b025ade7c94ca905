package record

import (
	"bytes"
	"encoding/csv"
	"errors"
	"fmt"
	"os"
	"slices"

	"github.com/emis-air/airnode/internal/fsutil"
	"github.com/emis-air/airnode/internal/monitoring"
)

const filePerm os.FileMode = 0o644

var (
	// ErrSchemaMismatch reports an existing file whose header differs from
	// the writer's columns. The file is left untouched.
	ErrSchemaMismatch = errors.New("record: header does not match schema")
	// ErrClosed is returned by writes after Close.
	ErrClosed = errors.New("record: writer closed")
)

// csvFile is one open output file with a verified header.
type csvFile struct {
	path  string
	file  fsutil.File
	cols  []string
	fsync bool
	rows  int
	buf   bytes.Buffer
}

// openCSV opens path for appending. A new or empty file gets the header. An
// existing file must carry the same header, and a trailing partial line
// left by a crash is cut back to the last complete row.
func openCSV(fsys fsutil.FileSystem, path string, cols []string, fsync bool) (*csvFile, error) {
	c := &csvFile{path: path, cols: cols, fsync: fsync}

	needHeader, err := c.recover(fsys)
	if err != nil {
		return nil, err
	}

	f, err := fsys.OpenAppend(path, filePerm)
	if err != nil {
		return nil, fmt.Errorf("failed to open %s: %w", path, err)
	}
	c.file = f

	if needHeader {
		if err := c.writeLine(cols, true); err != nil {
			f.Close()
			return nil, fmt.Errorf("failed to write header to %s: %w", path, err)
		}
	}
	return c, nil
}

func (c *csvFile) recover(fsys fsutil.FileSystem) (needHeader bool, err error) {
	if !fsys.Exists(c.path) {
		return true, nil
	}
	data, err := fsys.ReadFile(c.path)
	if err != nil {
		return false, fmt.Errorf("failed to read %s: %w", c.path, err)
	}

	if bytes.IndexByte(data, '\n') < 0 {
		// Empty, or a header cut short by a crash.
		if len(data) > 0 {
			monitoring.Logf("record: %s has no complete header, rewriting", c.path)
			if err := fsys.Truncate(c.path, 0); err != nil {
				return false, fmt.Errorf("failed to truncate %s: %w", c.path, err)
			}
		}
		return true, nil
	}

	r := csv.NewReader(bytes.NewReader(data))
	r.FieldsPerRecord = -1
	r.ReuseRecord = true
	header, err := r.Read()
	if err != nil || !slices.Equal(header, c.cols) || !endsRecord(data, r.InputOffset()) {
		return false, fmt.Errorf("%s: %w", c.path, ErrSchemaMismatch)
	}

	// Quoted fields may span lines, so the last complete row is found by
	// parsing rather than by the last newline.
	end := r.InputOffset()
	rows := 0
	for {
		if _, err := r.Read(); err != nil {
			break
		}
		off := r.InputOffset()
		if !endsRecord(data, off) {
			break
		}
		end = off
		rows++
	}

	if end < int64(len(data)) {
		monitoring.Logf("record: dropping %d bytes of partial row from %s", int64(len(data))-end, c.path)
		if err := fsys.Truncate(c.path, end); err != nil {
			return false, fmt.Errorf("failed to truncate %s: %w", c.path, err)
		}
	}
	c.rows = rows
	return false, nil
}

// endsRecord reports whether the record ending at off was terminated by a
// newline rather than by the end of the data.
func endsRecord(data []byte, off int64) bool {
	return off > 0 && off <= int64(len(data)) && data[off-1] == '\n'
}

// writeLine encodes one record and writes it with a single call.
func (c *csvFile) writeLine(fields []string, sync bool) error {
	c.buf.Reset()
	w := csv.NewWriter(&c.buf)
	if err := w.Write(fields); err != nil {
		return err
	}
	w.Flush()
	if err := w.Error(); err != nil {
		return err
	}
	if _, err := c.file.Write(c.buf.Bytes()); err != nil {
		return err
	}
	if sync {
		return c.file.Sync()
	}
	return nil
}

func (c *csvFile) append(row Row) error {
	if err := c.writeLine(row.Values(c.cols), c.fsync); err != nil {
		return fmt.Errorf("failed to write row to %s: %w", c.path, err)
	}
	c.rows++
	return nil
}

// close syncs and closes the file.
func (c *csvFile) close() error {
	syncErr := c.file.Sync()
	closeErr := c.file.Close()
	if syncErr != nil {
		return fmt.Errorf("failed to sync %s: %w", c.path, syncErr)
	}
	if closeErr != nil {
		return fmt.Errorf("failed to close %s: %w", c.path, closeErr)
	}
	return nil
}
