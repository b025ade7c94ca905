package record

import (
	"encoding/csv"
	"errors"
	"fmt"
	"io"

	"github.com/emis-air/airnode/internal/fsutil"
)

// ReadFile parses an output file into its header and rows. Each Row holds
// every header column.
func ReadFile(fsys fsutil.FileSystem, path string) (header []string, rows []Row, err error) {
	f, err := fsys.Open(path)
	if err != nil {
		return nil, nil, fmt.Errorf("failed to open %s: %w", path, err)
	}
	defer f.Close()

	r := csv.NewReader(f)
	r.FieldsPerRecord = -1
	header, err = r.Read()
	if errors.Is(err, io.EOF) {
		return nil, nil, nil
	}
	if err != nil {
		return nil, nil, fmt.Errorf("failed to read header of %s: %w", path, err)
	}
	for {
		rec, err := r.Read()
		if errors.Is(err, io.EOF) {
			break
		}
		if err != nil {
			return nil, nil, fmt.Errorf("failed to read %s: %w", path, err)
		}
		rows = append(rows, rowFromRecord(header, rec))
	}
	return header, rows, nil
}

// ReadLast returns the header and final row of a file; last is nil when
// the file has no rows.
func ReadLast(fsys fsutil.FileSystem, path string) (header []string, last Row, err error) {
	header, rows, err := ReadFile(fsys, path)
	if err != nil || len(rows) == 0 {
		return header, nil, err
	}
	return header, rows[len(rows)-1], nil
}

func rowFromRecord(header, rec []string) Row {
	row := make(Row, len(header))
	for i, c := range header {
		if i < len(rec) {
			row[c] = rec[i]
		} else {
			row[c] = ""
		}
	}
	return row
}
