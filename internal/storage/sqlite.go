package storage

import (
	"context"
	"database/sql"
	"fmt"
	"os"
	"path/filepath"
	"time"

	_ "modernc.org/sqlite"
)

// OpenSQLite opens (and creates if needed) the run history database at path
// and ensures required tables exist. The path must be on a local filesystem.
func OpenSQLite(ctx context.Context, path string) (*sql.DB, error) {
	if path == "" {
		return nil, fmt.Errorf("sqlite path is empty")
	}
	if err := checkLocalFilesystem(path); err != nil {
		return nil, err
	}
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return nil, fmt.Errorf("create sqlite directory: %w", err)
	}

	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, fmt.Errorf("open sqlite: %w", err)
	}

	pctx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()
	for _, pragma := range []string{
		"PRAGMA busy_timeout = 5000;",
		"PRAGMA journal_mode = WAL;",
	} {
		if _, err := db.ExecContext(pctx, pragma); err != nil {
			_ = db.Close()
			return nil, fmt.Errorf("apply %q: %w", pragma, err)
		}
	}
	if err := BootstrapSQLite(ctx, db); err != nil {
		_ = db.Close()
		return nil, err
	}
	return db, nil
}

// BootstrapSQLite creates tables/indexes if missing.
func BootstrapSQLite(ctx context.Context, db *sql.DB) error {
	stmts := []string{
		`CREATE TABLE IF NOT EXISTS feed_runs (
  id              TEXT PRIMARY KEY,
  name            TEXT,
  command         TEXT NOT NULL,
  pid             INTEGER,
  payload_size    INTEGER NOT NULL,
  payload_blake3  TEXT NOT NULL,
  capacity        INTEGER NOT NULL,
  timeout_ms      INTEGER NOT NULL,
  outcome         TEXT NOT NULL,
  bytes_written   INTEGER NOT NULL,
  writes          INTEGER NOT NULL DEFAULT 0,
  waits           INTEGER NOT NULL DEFAULT 0,
  elapsed_ms      INTEGER NOT NULL,
  exit_code       INTEGER,
  last_error      TEXT,
  created_at      TEXT NOT NULL
);`,
		`CREATE INDEX IF NOT EXISTS feed_runs_created_at_idx ON feed_runs(created_at);`,
		`CREATE INDEX IF NOT EXISTS feed_runs_outcome_idx ON feed_runs(outcome);`,
	}

	for _, stmt := range stmts {
		if _, err := db.ExecContext(ctx, stmt); err != nil {
			return fmt.Errorf("bootstrap sqlite: %w", err)
		}
	}
	return nil
}
