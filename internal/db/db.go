// Package db keeps a sqlite ledger of the output files the node has closed
// or published, and serves it on the admin debug routes.
package db

import (
	"database/sql"
	"fmt"
	"time"

	"github.com/google/uuid"
	_ "modernc.org/sqlite"

	"github.com/emis-air/airnode/internal/record"
)

const timeLayout = time.RFC3339Nano

// DB is the file ledger. Each process opens one session; every file event
// recorded carries its id.
type DB struct {
	*sql.DB
	path    string
	session uuid.UUID
	now     func() time.Time
}

// FileEntry is one ledger row.
type FileEntry struct {
	ID            int64     `json:"id"`
	Path          string    `json:"path"`
	Kind          string    `json:"kind"`
	NodeID        string    `json:"node_id"`
	WindowStart   time.Time `json:"window_start"`
	WindowEnd     time.Time `json:"window_end"`
	Rows          int       `json:"rows"`
	SchemaVersion int       `json:"schema_version"`
	SessionID     string    `json:"session_id"`
	RecordedAt    time.Time `json:"recorded_at"`
}

// OpenDB opens the sqlite file at path without touching the schema.
func OpenDB(path string) (*DB, error) {
	sqlDB, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, err
	}
	// One writer; sqlite serialises anyway.
	sqlDB.SetMaxOpenConns(1)
	if _, err := sqlDB.Exec(`PRAGMA busy_timeout = 5000; PRAGMA journal_mode = WAL;`); err != nil {
		sqlDB.Close()
		return nil, fmt.Errorf("failed to set pragmas: %w", err)
	}
	return &DB{DB: sqlDB, path: path, session: uuid.New(), now: time.Now}, nil
}

// NewDB opens the ledger at path and applies the embedded migrations.
func NewDB(path string) (*DB, error) {
	db, err := OpenDB(path)
	if err != nil {
		return nil, err
	}
	migrations, err := MigrationsFS()
	if err != nil {
		db.Close()
		return nil, err
	}
	if err := db.MigrateUp(migrations); err != nil {
		db.Close()
		return nil, err
	}
	return db, nil
}

// Session returns this process's session id.
func (db *DB) Session() uuid.UUID { return db.session }

// StartSession records the session row for nodeID.
func (db *DB) StartSession(nodeID, version string) error {
	_, err := db.Exec(
		`INSERT INTO sessions (session_id, node_id, version, started_at) VALUES (?, ?, ?, ?)`,
		db.session.String(), nodeID, version, db.now().UTC().Format(timeLayout),
	)
	if err != nil {
		return fmt.Errorf("failed to record session: %w", err)
	}
	return nil
}

// RecordFile stores one writer file event.
func (db *DB) RecordFile(nodeID string, ev record.FileEvent) error {
	_, err := db.Exec(`
		INSERT INTO output_files (
			path, kind, node_id, window_start, window_end,
			row_count, schema_version, session_id, recorded_at
		) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		ev.Path, ev.Kind.String(), nodeID,
		ev.WindowStart.UTC().Format(timeLayout), ev.WindowEnd.UTC().Format(timeLayout),
		ev.Rows, record.SchemaVersion, db.session.String(),
		db.now().UTC().Format(timeLayout),
	)
	if err != nil {
		return fmt.Errorf("failed to record file %s: %w", ev.Path, err)
	}
	return nil
}

// Files returns up to limit entries, newest first. limit <= 0 means 100.
func (db *DB) Files(limit int) ([]FileEntry, error) {
	if limit <= 0 {
		limit = 100
	}
	rows, err := db.Query(`
		SELECT file_id, path, kind, node_id, window_start, window_end,
		       row_count, schema_version, session_id, recorded_at
		FROM output_files
		ORDER BY file_id DESC
		LIMIT ?`, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []FileEntry
	for rows.Next() {
		var e FileEntry
		var start, end, recorded string
		if err := rows.Scan(&e.ID, &e.Path, &e.Kind, &e.NodeID, &start, &end,
			&e.Rows, &e.SchemaVersion, &e.SessionID, &recorded); err != nil {
			return nil, err
		}
		if e.WindowStart, err = time.Parse(timeLayout, start); err != nil {
			return nil, fmt.Errorf("bad window_start %q: %w", start, err)
		}
		if e.WindowEnd, err = time.Parse(timeLayout, end); err != nil {
			return nil, fmt.Errorf("bad window_end %q: %w", end, err)
		}
		if e.RecordedAt, err = time.Parse(timeLayout, recorded); err != nil {
			return nil, fmt.Errorf("bad recorded_at %q: %w", recorded, err)
		}
		out = append(out, e)
	}
	return out, rows.Err()
}
