package logging

import (
	"bytes"
	"encoding/json"
	"strings"
	"testing"
)

func TestIsSecretField(t *testing.T) {
	tests := []struct {
		name     string
		field    string
		expected bool
	}{
		{"client secret", "secret", true},
		{"camel client secret", "clientSecret", true},
		{"password", "password", true},
		{"admin password var", "KEYCLOAK_ADMIN_PASSWORD", true},
		{"access token", "access_token", true},
		{"client id", "clientId", false},
		{"redirect uris", "redirectUris", false},
		{"realm", "realmName", false},
		{"protocol", "protocol", false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := IsSecretField(tt.field)
			if got != tt.expected {
				t.Errorf("IsSecretField(%q) = %v, want %v", tt.field, got, tt.expected)
			}
		})
	}
}

func TestRedactValue(t *testing.T) {
	result := RedactValue("6f1b2a3c-client-secret")
	if !strings.HasPrefix(result, "[REDACTED:sha256:") || !strings.HasSuffix(result, "]") {
		t.Errorf("Expected [REDACTED:sha256:...], got %s", result)
	}
	if RedactValue("6f1b2a3c-client-secret") != result {
		t.Error("Same input should produce same redacted value")
	}
	if RedactValue("other") == result {
		t.Error("Different inputs should produce different redacted values")
	}
	if RedactValue("") != "" {
		t.Error("Empty input should return empty")
	}
}

func TestRedactRecord(t *testing.T) {
	in := map[string]any{
		"clientId": "portal",
		"secret":   "s3cr3t",
		"attributes": map[string]any{
			"client.secret.creation.time": "1700000000",
		},
		"list": []any{map[string]any{"password": "pw"}},
	}

	out := RedactRecord(in).(map[string]any)
	if out["clientId"] != "portal" {
		t.Errorf("clientId should pass through, got %v", out["clientId"])
	}
	if out["secret"] == "s3cr3t" {
		t.Error("secret should be redacted")
	}
	nested := out["list"].([]any)[0].(map[string]any)
	if nested["password"] == "pw" {
		t.Error("nested password should be redacted")
	}
	if in["secret"] != "s3cr3t" {
		t.Error("input must not be modified")
	}
}

func TestJSONLoggerFields(t *testing.T) {
	var buf bytes.Buffer
	logger := NewJSONLogger(&buf, "debug", "run-123")
	logger.Debug().Str("realm", "demo").Msg("hello")

	var entry map[string]any
	if err := json.Unmarshal(buf.Bytes(), &entry); err != nil {
		t.Fatalf("decoding log line: %v", err)
	}
	if entry["component"] != "kcconfig" {
		t.Errorf("expected component field, got %v", entry["component"])
	}
	if entry["run_id"] != "run-123" {
		t.Errorf("expected run_id field, got %v", entry["run_id"])
	}
}

func TestJSONLoggerLevelFallback(t *testing.T) {
	var buf bytes.Buffer
	logger := NewJSONLogger(&buf, "not-a-level", "")
	logger.Debug().Msg("dropped")
	if buf.Len() != 0 {
		t.Errorf("debug should be filtered at info level, got %s", buf.String())
	}
	logger.Info().Msg("kept")
	if buf.Len() == 0 {
		t.Error("info should be written")
	}
}
