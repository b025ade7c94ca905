package db

import (
	"compress/gzip"
	"fmt"
	"io"
	"log"
	"net/http"
	"os"
	"path/filepath"
	"strconv"

	"github.com/tailscale/tailsql/server/tailsql"
	"tailscale.com/tsweb"

	"github.com/emis-air/airnode/internal/httputil"
)

// AttachAdminRoutes mounts the ledger on the /debug/ handler of mux: a
// JSON file list, a live SQL console and a database backup download.
func (db *DB) AttachAdminRoutes(mux *http.ServeMux) error {
	debug := tsweb.Debugger(mux)

	tsql, err := tailsql.NewServer(tailsql.Options{
		RoutePrefix: "/debug/tailsql/",
	})
	if err != nil {
		return fmt.Errorf("failed to create tailsql server: %w", err)
	}
	tsql.SetDB("sqlite://"+filepath.Base(db.path), db.DB, &tailsql.DBOptions{
		Label: "File ledger",
	})
	debug.Handle("tailsql/", "SQL live debugging", tsql.NewMux())

	debug.KV("Ledger session", db.session.String())
	debug.Handle("files", "Output files closed or finalised (JSON, ?limit=N)", http.HandlerFunc(db.handleFiles))
	debug.Handle("backup", "Create and download a backup of the ledger now", http.HandlerFunc(db.handleBackup))
	return nil
}

func (db *DB) handleFiles(w http.ResponseWriter, r *http.Request) {
	limit := 0
	if s := r.URL.Query().Get("limit"); s != "" {
		n, err := strconv.Atoi(s)
		if err != nil {
			httputil.BadRequest(w, "invalid limit")
			return
		}
		limit = n
	}
	files, err := db.Files(limit)
	if err != nil {
		httputil.InternalServerError(w, fmt.Sprintf("Failed to list files: %v", err))
		return
	}
	if files == nil {
		files = []FileEntry{}
	}
	httputil.WriteJSONOK(w, files)
}

func (db *DB) handleBackup(w http.ResponseWriter, r *http.Request) {
	backupPath := filepath.Join(os.TempDir(), fmt.Sprintf("ledger-backup-%d.db", db.now().Unix()))
	if _, err := db.Exec("VACUUM INTO ?", backupPath); err != nil {
		http.Error(w, fmt.Sprintf("Failed to create backup: %v", err), http.StatusInternalServerError)
		return
	}
	defer func() {
		if err := os.Remove(backupPath); err != nil {
			log.Printf("Failed to remove backup file: %v", err)
		}
	}()

	backupFile, err := os.Open(backupPath)
	if err != nil {
		http.Error(w, fmt.Sprintf("Failed to open backup file: %v", err), http.StatusInternalServerError)
		return
	}
	defer backupFile.Close()

	w.Header().Set("Content-Disposition", fmt.Sprintf("attachment; filename=%s.gz", filepath.Base(backupPath)))
	w.Header().Set("Content-Type", "application/gzip")
	gz := gzip.NewWriter(w)
	defer gz.Close()
	if _, err := io.Copy(gz, backupFile); err != nil {
		log.Printf("Failed to send backup: %v", err)
	}
}
