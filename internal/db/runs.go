package db

import (
	"database/sql"
	"fmt"
	"time"
)

// RunRecord is one row of the run history.
type RunRecord struct {
	UUID        string
	Environment string
	BaseURL     string
	Status      string
	ActionCount int
	StartedAt   time.Time
	CompletedAt *time.Time
	ErrorDetail string
}

// InsertRun records the start of a run.
func InsertRun(db *sql.DB, r RunRecord) error {
	_, err := db.Exec(
		`INSERT INTO runs (uuid, environment, base_url, status, action_count, started_at)
		 VALUES (?, ?, ?, ?, ?, ?)`,
		r.UUID, r.Environment, r.BaseURL, r.Status, r.ActionCount,
		r.StartedAt.UTC().Format(time.RFC3339Nano),
	)
	if err != nil {
		return fmt.Errorf("inserting run %s: %w", r.UUID, err)
	}
	return nil
}

// FinishRun stores the terminal status of a run.
func FinishRun(db *sql.DB, uuid, status string, completedAt time.Time, errDetail string) error {
	res, err := db.Exec(
		`UPDATE runs SET status = ?, completed_at = ?, error_detail = ? WHERE uuid = ?`,
		status, completedAt.UTC().Format(time.RFC3339Nano), nullIfEmpty(errDetail), uuid,
	)
	if err != nil {
		return fmt.Errorf("updating run %s: %w", uuid, err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return fmt.Errorf("run %s not found", uuid)
	}
	return nil
}

// ListRuns returns the most recent runs for env, newest first.
func ListRuns(db *sql.DB, env string, limit int) ([]RunRecord, error) {
	if limit <= 0 {
		limit = 20
	}
	rows, err := db.Query(
		`SELECT uuid, environment, base_url, status, action_count, started_at, completed_at, error_detail
		 FROM runs WHERE environment = ? ORDER BY started_at DESC LIMIT ?`,
		env, limit,
	)
	if err != nil {
		return nil, fmt.Errorf("querying runs: %w", err)
	}
	defer rows.Close()

	var out []RunRecord
	for rows.Next() {
		var (
			r         RunRecord
			started   string
			completed sql.NullString
			errDetail sql.NullString
		)
		if err := rows.Scan(&r.UUID, &r.Environment, &r.BaseURL, &r.Status, &r.ActionCount, &started, &completed, &errDetail); err != nil {
			return nil, fmt.Errorf("scanning run row: %w", err)
		}
		r.StartedAt, _ = time.Parse(time.RFC3339Nano, started)
		if completed.Valid {
			t, _ := time.Parse(time.RFC3339Nano, completed.String)
			r.CompletedAt = &t
		}
		r.ErrorDetail = errDetail.String
		out = append(out, r)
	}
	return out, rows.Err()
}

func nullIfEmpty(s string) any {
	if s == "" {
		return nil
	}
	return s
}
