// Package logging provides structured logging with secret redaction helpers.
package logging

import (
	"crypto/sha256"
	"encoding/hex"
	"io"
	"os"
	"strings"
	"time"

	"github.com/rs/zerolog"
)

// Known secret field names that must be redacted before a payload is logged.
var secretFieldNames = []string{
	"secret",
	"password",
	"token",
	"jwt",
	"credentials",
	"private_key",
	"privatekey",
	"clientsecret",
	"access_token",
	"accesstoken",
	"refresh_token",
	"refreshtoken",
}

// NewLogger creates a console logger on stderr at the given level.
// Unknown levels fall back to info.
func NewLogger(level string, runID string) zerolog.Logger {
	return newLogger(zerolog.ConsoleWriter{
		Out:        os.Stderr,
		TimeFormat: time.RFC3339,
	}, level, runID)
}

// NewJSONLogger creates a JSON-formatted logger for file output or machine consumption.
func NewJSONLogger(w io.Writer, level string, runID string) zerolog.Logger {
	return newLogger(w, level, runID)
}

func newLogger(w io.Writer, level, runID string) zerolog.Logger {
	lvl, err := zerolog.ParseLevel(level)
	if err != nil || level == "" {
		lvl = zerolog.InfoLevel
	}

	logger := zerolog.New(w).
		Level(lvl).
		With().
		Timestamp().
		Str("component", "kcconfig").
		Logger()

	if runID != "" {
		logger = logger.With().Str("run_id", runID).Logger()
	}
	return logger
}

// IsSecretField checks if a field name is a known secret field that should be redacted.
func IsSecretField(fieldName string) bool {
	lower := strings.ToLower(fieldName)
	for _, secret := range secretFieldNames {
		if strings.Contains(lower, secret) {
			return true
		}
	}
	return false
}

// RedactValue replaces a secret value with a safe placeholder containing a hash prefix.
func RedactValue(value string) string {
	if value == "" {
		return ""
	}
	h := sha256.Sum256([]byte(value))
	return "[REDACTED:sha256:" + hex.EncodeToString(h[:])[:8] + "]"
}

// RedactRecord returns a deep copy of v in which string values stored under
// secret field names are redacted. Non-map, non-slice values are returned as-is.
func RedactRecord(v any) any {
	switch t := v.(type) {
	case map[string]any:
		out := make(map[string]any, len(t))
		for k, val := range t {
			if s, ok := val.(string); ok && IsSecretField(k) {
				out[k] = RedactValue(s)
				continue
			}
			out[k] = RedactRecord(val)
		}
		return out
	case []any:
		out := make([]any, len(t))
		for i, val := range t {
			out[i] = RedactRecord(val)
		}
		return out
	default:
		return v
	}
}
