package audit

import (
	"database/sql"
	"path/filepath"
	"testing"

	"github.com/kcconfig/kcconfig/internal/db"
)

func setupAuditDB(t *testing.T) *sql.DB {
	t.Helper()
	conn, err := db.OpenAuditDB(filepath.Join(t.TempDir(), "audit.db"))
	if err != nil {
		t.Fatalf("opening db: %v", err)
	}
	return conn
}

func TestLogAndVerify(t *testing.T) {
	conn := setupAuditDB(t)
	defer conn.Close()

	logger, err := NewLogger(conn, "dev", "")
	if err != nil {
		t.Fatalf("creating logger: %v", err)
	}

	logger.Log(EventRunStarted, "run-1", "", map[string]any{"actions": 2})
	logger.Log(EventAPICall, "run-1", "roles", map[string]string{"method": "POST", "path": "/admin/realms/r/roles"})
	logger.Log(EventRunFinished, "run-1", "", map[string]string{"status": "completed"})

	valid, count, err := Verify(conn, "dev")
	if err != nil {
		t.Fatalf("verify: %v", err)
	}
	if !valid {
		t.Error("expected valid chain")
	}
	if count != 3 {
		t.Errorf("expected 3 records, got %d", count)
	}

	records, err := ForRun(conn, "dev", "run-1")
	if err != nil {
		t.Fatalf("ForRun: %v", err)
	}
	if len(records) != 3 || records[1].Action != "roles" || records[1].EventType != EventAPICall {
		t.Errorf("unexpected records: %+v", records)
	}
}

func TestChainTamperDetection(t *testing.T) {
	conn := setupAuditDB(t)
	defer conn.Close()

	logger, err := NewLogger(conn, "dev", "ci")
	if err != nil {
		t.Fatalf("creating logger: %v", err)
	}

	logger.Log(EventAPICall, "r", "", map[string]string{"a": "1"})
	logger.Log(EventAPICall, "r", "", map[string]string{"b": "2"})
	logger.Log(EventAPICall, "r", "", map[string]string{"c": "3"})

	conn.Exec("UPDATE audit_log SET detail = '{\"tampered\":true}' WHERE id = 2")

	valid, count, err := Verify(conn, "dev")
	if err == nil {
		t.Error("expected error from tampered chain")
	}
	if valid {
		t.Error("expected invalid chain after tampering")
	}
	if count != 1 {
		t.Errorf("expected break after 1 good record, got %d", count)
	}
}

func TestEnvironmentsHaveSeparateChains(t *testing.T) {
	conn := setupAuditDB(t)
	defer conn.Close()

	dev, _ := NewLogger(conn, "dev", "")
	prod, _ := NewLogger(conn, "prod", "")

	dev.Log(EventRunStarted, "a", "", nil)
	prod.Log(EventRunStarted, "b", "", nil)
	dev.Log(EventRunFinished, "a", "", nil)

	for env, want := range map[string]int{"dev": 2, "prod": 1} {
		valid, count, err := Verify(conn, env)
		if err != nil || !valid {
			t.Fatalf("verify %s: valid=%v err=%v", env, valid, err)
		}
		if count != want {
			t.Errorf("%s: expected %d records, got %d", env, want, count)
		}
	}
}

func TestEmptyChainIsValid(t *testing.T) {
	conn := setupAuditDB(t)
	defer conn.Close()

	valid, count, err := Verify(conn, "dev")
	if err != nil {
		t.Fatalf("verify empty: %v", err)
	}
	if !valid {
		t.Error("expected empty chain to be valid")
	}
	if count != 0 {
		t.Errorf("expected 0 records, got %d", count)
	}
}

func TestNewLoggerRecoversPreviousHash(t *testing.T) {
	conn := setupAuditDB(t)
	defer conn.Close()

	logger1, _ := NewLogger(conn, "dev", "")
	logger1.Log(EventRunStarted, "run-1", "", map[string]string{"first": "event"})

	// A second process appending to the same chain.
	logger2, _ := NewLogger(conn, "dev", "")
	logger2.Log(EventRunStarted, "run-2", "", map[string]string{"second": "event"})

	valid, count, err := Verify(conn, "dev")
	if err != nil {
		t.Fatalf("verify: %v", err)
	}
	if !valid {
		t.Error("expected valid chain after logger recovery")
	}
	if count != 2 {
		t.Errorf("expected 2 records, got %d", count)
	}
}
