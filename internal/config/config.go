// Package config manages the kcconfig user settings file. Command-line flags
// override anything set here.
package config

import (
	"bytes"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"slices"
	"strings"

	"github.com/BurntSushi/toml"

	"github.com/kcconfig/kcconfig/internal/secret"
)

const (
	ConfigDirName         = ".kcconfig"
	ConfigFileName        = "config.toml"
	DefaultLogLevel       = "info"
	DefaultTimeoutSeconds = 180
)

// Settings is the on-disk settings file.
type Settings struct {
	LogLevel string           `toml:"log_level"`
	Keycloak KeycloakSettings `toml:"keycloak"`
	Secrets  SecretSettings   `toml:"secrets"`
	Audit    AuditSettings    `toml:"audit"`
}

// KeycloakSettings holds connection defaults. The admin password is never
// stored here.
type KeycloakSettings struct {
	BaseURL        string `toml:"base_url"`
	Username       string `toml:"username"`
	TimeoutSeconds int    `toml:"timeout_seconds"`
	AdminClientID  string `toml:"admin_client_id"`
	TokenRealm     string `toml:"token_realm"`
}

type SecretSettings struct {
	EncryptionPrefix   string `toml:"encryption_prefix"`
	Backend            string `toml:"backend"` // kms | secretsmanager | ssm | vault
	AWSProfile         string `toml:"aws_profile"`
	AWSRegion          string `toml:"aws_region"`
	AWSAccessKeyID     string `toml:"aws_access_key_id"`
	AWSSecretAccessKey string `toml:"aws_secret_access_key"`
	VaultFile          string `toml:"vault_file"`
}

type AuditSettings struct {
	DBPath   string `toml:"db_path"`
	Operator string `toml:"operator"`
}

// DefaultSettings returns the settings used when no file exists.
func DefaultSettings() Settings {
	return Settings{
		LogLevel: DefaultLogLevel,
		Keycloak: KeycloakSettings{
			TimeoutSeconds: DefaultTimeoutSeconds,
			AdminClientID:  "admin-cli",
			TokenRealm:     "master",
		},
		Secrets: SecretSettings{
			Backend:   secret.BackendKMS,
			VaultFile: filepath.Join(ConfigDir(), "kcconfig.vault"),
		},
	}
}

// ConfigDir returns the per-user settings directory.
func ConfigDir() string {
	home, _ := os.UserHomeDir()
	return filepath.Join(home, ConfigDirName)
}

// DefaultPath returns ~/.kcconfig/config.toml.
func DefaultPath() string {
	return filepath.Join(ConfigDir(), ConfigFileName)
}

// LoadSettings reads path over the defaults. A missing file yields the
// defaults; unknown keys are an error.
func LoadSettings(path string) (Settings, error) {
	cfg := DefaultSettings()
	meta, err := toml.DecodeFile(path, &cfg)
	if err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return DefaultSettings(), nil
		}
		return Settings{}, fmt.Errorf("settings parse failed (%s): %w", path, err)
	}
	if undecoded := meta.Undecoded(); len(undecoded) > 0 {
		keys := make([]string, len(undecoded))
		for i, k := range undecoded {
			keys[i] = k.String()
		}
		return Settings{}, fmt.Errorf("settings parse failed (%s): unknown keys %s", path, strings.Join(keys, ", "))
	}
	if err := cfg.Validate(); err != nil {
		return Settings{}, fmt.Errorf("settings invalid (%s): %w", path, err)
	}
	return cfg, nil
}

// Validate checks enumerated and numeric fields.
func (s Settings) Validate() error {
	if s.Secrets.Backend != "" && !slices.Contains(secret.Backends, s.Secrets.Backend) {
		return fmt.Errorf("secrets.backend %q must be one of %s", s.Secrets.Backend, strings.Join(secret.Backends, ", "))
	}
	if s.Keycloak.TimeoutSeconds < 0 {
		return fmt.Errorf("keycloak.timeout_seconds must not be negative")
	}
	if (s.Secrets.AWSAccessKeyID == "") != (s.Secrets.AWSSecretAccessKey == "") {
		return fmt.Errorf("secrets.aws_access_key_id and secrets.aws_secret_access_key must be set together")
	}
	return nil
}

// SaveSettings writes s to path, creating the directory with owner-only
// permissions.
func SaveSettings(path string, s Settings) error {
	if err := os.MkdirAll(filepath.Dir(path), 0o700); err != nil {
		return err
	}
	var buf bytes.Buffer
	if err := toml.NewEncoder(&buf).Encode(s); err != nil {
		return fmt.Errorf("encoding settings: %w", err)
	}
	return os.WriteFile(path, buf.Bytes(), 0o600)
}
