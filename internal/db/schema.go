// Package db manages the SQLite database that holds the audit chain and the
// run history of reconciliation runs.
package db

import (
	"database/sql"
	"fmt"
	"os"
	"path/filepath"

	_ "github.com/mattn/go-sqlite3"
)

// DefaultFile is the database file name used when only a directory is given.
const DefaultFile = "kcconfig-audit.db"

// Schema defines the append-only audit log and run history tables.
const Schema = `
PRAGMA journal_mode=WAL;

CREATE TABLE IF NOT EXISTS audit_log (
    id              INTEGER PRIMARY KEY AUTOINCREMENT,
    timestamp       TEXT NOT NULL,
    environment     TEXT NOT NULL,
    run_uuid        TEXT DEFAULT '',
    operator        TEXT NOT NULL DEFAULT 'local',
    event_type      TEXT NOT NULL,
    action          TEXT DEFAULT '',
    detail          TEXT DEFAULT '{}',
    record_hash     TEXT NOT NULL
);

CREATE INDEX IF NOT EXISTS idx_audit_environment ON audit_log(environment);
CREATE INDEX IF NOT EXISTS idx_audit_run ON audit_log(run_uuid);
CREATE INDEX IF NOT EXISTS idx_audit_event_type ON audit_log(event_type);

CREATE TABLE IF NOT EXISTS runs (
    uuid            TEXT PRIMARY KEY,
    environment     TEXT NOT NULL,
    base_url        TEXT DEFAULT '',
    status          TEXT NOT NULL,
    action_count    INTEGER NOT NULL DEFAULT 0,
    started_at      TEXT NOT NULL,
    completed_at    TEXT,
    error_detail    TEXT
);

CREATE INDEX IF NOT EXISTS idx_runs_environment ON runs(environment, started_at);
`

// OpenAuditDB opens or creates the audit database at path. A directory path
// gets DefaultFile appended.
func OpenAuditDB(path string) (*sql.DB, error) {
	if info, err := os.Stat(path); err == nil && info.IsDir() {
		path = filepath.Join(path, DefaultFile)
	}
	if err := os.MkdirAll(filepath.Dir(path), 0o700); err != nil {
		return nil, fmt.Errorf("creating audit db directory: %w", err)
	}

	db, err := sql.Open("sqlite3", path+"?_journal_mode=WAL")
	if err != nil {
		return nil, fmt.Errorf("opening audit db: %w", err)
	}

	if _, err := db.Exec(Schema); err != nil {
		db.Close()
		return nil, fmt.Errorf("initializing audit schema: %w", err)
	}

	return db, nil
}
