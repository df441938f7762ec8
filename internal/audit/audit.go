// Package audit records reconciliation runs and the admin API mutations they
// perform. Records for one environment form a hash chain for tamper detection.
package audit

import (
	"crypto/sha256"
	"database/sql"
	"encoding/hex"
	"encoding/json"
	"errors"
	"fmt"
	"sync"
	"time"
)

// EventType categorizes audit log entries.
type EventType string

const (
	EventRunStarted     EventType = "run_started"
	EventRunFinished    EventType = "run_finished"
	EventSessionOpened  EventType = "session_opened"
	EventActionStarted  EventType = "action_started"
	EventActionFinished EventType = "action_finished"
	EventActionFailed   EventType = "action_failed"
	EventAPICall        EventType = "api_call"
)

// Logger appends tamper-evident records for one environment.
type Logger struct {
	db          *sql.DB
	mu          sync.Mutex
	lastHash    string
	environment string
	operator    string
	now         func() time.Time
}

// NewLogger creates an audit logger for env and recovers the tail of its chain.
func NewLogger(db *sql.DB, env, operator string) (*Logger, error) {
	if operator == "" {
		operator = "local"
	}
	al := &Logger{
		db:          db,
		environment: env,
		operator:    operator,
		now:         func() time.Time { return time.Now().UTC() },
	}

	var lastHash sql.NullString
	err := db.QueryRow(
		"SELECT record_hash FROM audit_log WHERE environment = ? ORDER BY id DESC LIMIT 1",
		env,
	).Scan(&lastHash)
	if err != nil && !errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("recovering audit chain: %w", err)
	}
	if lastHash.Valid {
		al.lastHash = lastHash.String
	}

	return al, nil
}

// Environment returns the chain the logger appends to.
func (al *Logger) Environment() string { return al.environment }

// Log appends an event. action may be empty for run-level events.
func (al *Logger) Log(eventType EventType, runUUID, action string, detail any) error {
	al.mu.Lock()
	defer al.mu.Unlock()

	detailJSON, err := json.Marshal(detail)
	if err != nil {
		detailJSON = []byte(fmt.Sprintf(`{"error":"failed to marshal detail: %s"}`, err))
	}

	ts := al.now().Format(time.RFC3339Nano)
	recordHash := chainHash(al.lastHash, ts, string(eventType), al.operator, runUUID, action, string(detailJSON))

	_, err = al.db.Exec(
		`INSERT INTO audit_log (timestamp, environment, run_uuid, operator, event_type, action, detail, record_hash)
		 VALUES (?, ?, ?, ?, ?, ?, ?, ?)`,
		ts,
		al.environment,
		runUUID,
		al.operator,
		string(eventType),
		action,
		string(detailJSON),
		recordHash,
	)
	if err != nil {
		return fmt.Errorf("inserting audit record: %w", err)
	}

	al.lastHash = recordHash
	return nil
}

// chainHash is SHA-256(previous + timestamp + event + operator + run + action + detail).
func chainHash(previous, ts, eventType, operator, runUUID, action, detail string) string {
	h := sha256.Sum256([]byte(previous + ts + eventType + operator + runUUID + action + detail))
	return hex.EncodeToString(h[:])
}

// Record is one row of the audit log.
type Record struct {
	ID        int64
	Timestamp string
	RunUUID   string
	Operator  string
	EventType EventType
	Action    string
	Detail    string
}

// Verify checks the chain for env and returns the number of records checked.
func Verify(db *sql.DB, env string) (bool, int, error) {
	rows, err := db.Query(
		`SELECT timestamp, event_type, operator, run_uuid, action, detail, record_hash
		 FROM audit_log WHERE environment = ? ORDER BY id ASC`,
		env,
	)
	if err != nil {
		return false, 0, fmt.Errorf("querying audit log: %w", err)
	}
	defer rows.Close()

	var previousHash string
	count := 0

	for rows.Next() {
		var ts, eventType, operator, runUUID, action, detail, recordHash string
		if err := rows.Scan(&ts, &eventType, &operator, &runUUID, &action, &detail, &recordHash); err != nil {
			return false, count, fmt.Errorf("scanning audit row: %w", err)
		}

		if chainHash(previousHash, ts, eventType, operator, runUUID, action, detail) != recordHash {
			return false, count, fmt.Errorf("audit chain broken at record %d", count+1)
		}

		previousHash = recordHash
		count++
	}
	if err := rows.Err(); err != nil {
		return false, count, fmt.Errorf("reading audit log: %w", err)
	}

	return true, count, nil
}

// ForRun returns the records of one run in insertion order.
func ForRun(db *sql.DB, env, runUUID string) ([]Record, error) {
	rows, err := db.Query(
		`SELECT id, timestamp, run_uuid, operator, event_type, action, detail
		 FROM audit_log WHERE environment = ? AND run_uuid = ? ORDER BY id ASC`,
		env, runUUID,
	)
	if err != nil {
		return nil, fmt.Errorf("querying audit log: %w", err)
	}
	defer rows.Close()

	var out []Record
	for rows.Next() {
		var r Record
		var et string
		if err := rows.Scan(&r.ID, &r.Timestamp, &r.RunUUID, &r.Operator, &et, &r.Action, &r.Detail); err != nil {
			return nil, fmt.Errorf("scanning audit row: %w", err)
		}
		r.EventType = EventType(et)
		out = append(out, r)
	}
	return out, rows.Err()
}
