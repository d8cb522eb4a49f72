package db

import (
	"compress/gzip"
	"context"
	"fmt"
	"io"
	"net/http"
	"os"
	"path/filepath"
	"time"

	"github.com/tailscale/tailsql/server/tailsql"
	"tailscale.com/tsweb"

	"github.com/banshee-data/facecap/internal/httputil"
	"github.com/banshee-data/facecap/internal/monitoring"
)

// AttachAdminRoutes mounts the database debug pages under /debug/ on mux:
// a live SQL console, a JSON list of sessions, table counts and a backup
// download.
func (db *DB) AttachAdminRoutes(mux *http.ServeMux) error {
	debug := tsweb.Debugger(mux)

	tsql, err := tailsql.NewServer(tailsql.Options{
		RoutePrefix: "/debug/tailsql/",
	})
	if err != nil {
		return fmt.Errorf("create tailsql server: %w", err)
	}
	tsql.SetDB("sqlite://"+filepath.Base(db.path), db.DB, &tailsql.DBOptions{
		Label: "Session DB",
	})
	debug.Handle("tailsql/", "SQL live debugging", tsql.NewMux())

	debug.Handle("sessions", "Recorded capture sessions (JSON)", http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		sessions, err := db.Sessions(r.Context())
		if err != nil {
			httputil.InternalServerError(w, fmt.Sprintf("failed to list sessions: %v", err))
			return
		}
		httputil.WriteJSON(w, http.StatusOK, sessions)
	}))

	debug.Handle("db-stats", "Row counts and schema version (JSON)", http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		counts, err := db.TableCounts(r.Context())
		if err != nil {
			httputil.InternalServerError(w, err.Error())
			return
		}
		version, dirty, err := db.MigrateVersion()
		if err != nil {
			httputil.InternalServerError(w, err.Error())
			return
		}
		httputil.WriteJSON(w, http.StatusOK, map[string]any{
			"tables":         counts,
			"schema_version": version,
			"dirty":          dirty,
		})
	}))

	debug.Handle("backup", "Create and download a backup of the database now", http.HandlerFunc(db.handleBackup))
	return nil
}

func (db *DB) handleBackup(w http.ResponseWriter, r *http.Request) {
	name := fmt.Sprintf("backup-%d.db", time.Now().Unix())
	w.Header().Set("Content-Disposition", fmt.Sprintf("attachment; filename=%s", name))
	w.Header().Set("Content-Type", "application/octet-stream")
	w.Header().Set("Content-Encoding", "gzip")
	if err := db.Backup(r.Context(), w); err != nil {
		w.Header().Del("Content-Encoding")
		http.Error(w, fmt.Sprintf("Failed to create backup: %v", err), http.StatusInternalServerError)
	}
}

// Backup writes a gzip-compressed consistent copy of the database to w.
func (db *DB) Backup(ctx context.Context, w io.Writer) error {
	dir, err := os.MkdirTemp("", "facecap-backup")
	if err != nil {
		return err
	}
	defer func() {
		if err := os.RemoveAll(dir); err != nil {
			monitoring.Logf("Failed to remove backup file: %v", err)
		}
	}()

	path := filepath.Join(dir, "backup.db")
	if _, err := db.ExecContext(ctx, "VACUUM INTO ?", path); err != nil {
		return fmt.Errorf("vacuum into %s: %w", path, err)
	}
	f, err := os.Open(path)
	if err != nil {
		return err
	}
	defer f.Close()

	gz := gzip.NewWriter(w)
	if _, err := io.Copy(gz, f); err != nil {
		return fmt.Errorf("write backup: %w", err)
	}
	return gz.Close()
}
