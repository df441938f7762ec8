package cli

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"os"
	"path/filepath"

	"github.com/rs/zerolog"
	"github.com/spf13/cobra"
	"golang.org/x/term"
	"gopkg.in/yaml.v3"

	"github.com/kcconfig/kcconfig/internal/config"
	"github.com/kcconfig/kcconfig/internal/loader"
	"github.com/kcconfig/kcconfig/internal/logging"
	"github.com/kcconfig/kcconfig/internal/secret"
	"github.com/kcconfig/kcconfig/internal/vault"
)

// VaultPassphraseEnv lets non-interactive runs unlock the vault.
const VaultPassphraseEnv = "KCCONFIG_VAULT_PASSPHRASE"

func loadSettings() (config.Settings, error) {
	cfg, err := config.LoadSettings(opts.settingsPath)
	if err != nil {
		return config.Settings{}, fmt.Errorf("loading settings: %w", err)
	}
	return cfg, nil
}

func newLogger(cfg config.Settings) zerolog.Logger {
	level := cfg.LogLevel
	if opts.logLevel != "" {
		level = opts.logLevel
	}
	return logging.NewLogger(level, "")
}

// promptSecret reads a value from the terminal without echo.
func promptSecret(label string) (string, error) {
	fd := int(os.Stdin.Fd())
	if !term.IsTerminal(fd) {
		return "", fmt.Errorf("%s required and no terminal to prompt on", label)
	}
	fmt.Fprintf(os.Stderr, "%s: ", label)
	b, err := term.ReadPassword(fd)
	fmt.Fprintln(os.Stderr)
	if err != nil {
		return "", fmt.Errorf("reading %s: %w", label, err)
	}
	return string(b), nil
}

func vaultPassphrase() (string, error) {
	if p, ok := os.LookupEnv(VaultPassphraseEnv); ok {
		return p, nil
	}
	return promptSecret("Vault passphrase")
}

// writeOutput renders v as json or yaml.
func writeOutput(w io.Writer, format string, v any) error {
	switch format {
	case "json":
		enc := json.NewEncoder(w)
		enc.SetIndent("", "  ")
		return enc.Encode(v)
	case "yaml":
		enc := yaml.NewEncoder(w)
		enc.SetIndent(2)
		if err := enc.Encode(v); err != nil {
			return err
		}
		return enc.Close()
	default:
		return fmt.Errorf("unknown output format %q (json, yaml)", format)
	}
}

// deploymentDirs returns the source and variable directories of a
// deployment configuration directory.
func deploymentDirs(dir string) (src, vars string) {
	return filepath.Join(dir, "src"), filepath.Join(dir, "var", "keycloak")
}

// deployFlags identify the deployment to load.
type deployFlags struct {
	dir string
	env string
}

func (f *deployFlags) bind(cmd *cobra.Command) {
	cmd.Flags().StringVar(&f.dir, "deploy-config-dir", "", "Deployment configuration directory (required)")
	cmd.Flags().StringVar(&f.env, "deploy-env", "", "Target deployment environment (required)")
	_ = cmd.MarkFlagRequired("deploy-config-dir")
	_ = cmd.MarkFlagRequired("deploy-env")
}

func (f *deployFlags) validate() error {
	info, err := os.Stat(f.dir)
	if err != nil {
		return fmt.Errorf("deployment directory: %w", err)
	}
	if !info.IsDir() {
		return fmt.Errorf("deployment directory %s is not a directory", f.dir)
	}
	return nil
}

// secretFlags select how encrypted values are decrypted. Empty flags fall
// back to the settings file.
type secretFlags struct {
	prefix     string
	backend    string
	awsProfile string
	awsRegion  string
	vaultFile  string
}

func (f *secretFlags) bind(cmd *cobra.Command) {
	cmd.Flags().StringVar(&f.prefix, "encryption-prefix", "", "Prefix marking encrypted values; empty disables decryption")
	cmd.Flags().StringVar(&f.backend, "decryption-backend", "", "Decryption backend (kms, secretsmanager, ssm, vault)")
	cmd.Flags().StringVar(&f.awsProfile, "aws-profile", "", "AWS shared config profile used for decryption")
	cmd.Flags().StringVar(&f.awsRegion, "aws-region", "", "AWS region used for decryption")
	cmd.Flags().StringVar(&f.vaultFile, "vault-file", "", "Local vault file for the vault backend")
}

func (f *secretFlags) resolve(cfg config.Settings) {
	s := cfg.Secrets
	if f.prefix == "" {
		f.prefix = s.EncryptionPrefix
	}
	if f.backend == "" {
		f.backend = s.Backend
	}
	if f.backend == "" {
		f.backend = secret.BackendKMS
	}
	if f.awsProfile == "" {
		f.awsProfile = s.AWSProfile
	}
	if f.awsRegion == "" {
		f.awsRegion = s.AWSRegion
	}
	if f.vaultFile == "" {
		f.vaultFile = s.VaultFile
	}
}

// buildHook returns the secret hook for the resolved flags and a cleanup
// function. Without a prefix no backend is contacted.
func buildHook(ctx context.Context, f secretFlags, cfg config.Settings, logger zerolog.Logger) (*secret.Hook, func(), error) {
	noop := func() {}
	if f.prefix == "" {
		return nil, noop, nil
	}

	if f.backend == secret.BackendVault {
		pass, err := vaultPassphrase()
		if err != nil {
			return nil, noop, err
		}
		v, err := vault.Open(f.vaultFile, pass)
		if err != nil {
			return nil, noop, fmt.Errorf("opening vault: %w", err)
		}
		return secret.NewHook(f.prefix, secret.NewVaultDecrypter(v)), func() { v.Close() }, nil
	}

	if !secret.IsAWSBackend(f.backend) {
		return nil, noop, fmt.Errorf("unknown decryption backend %q", f.backend)
	}
	d, err := secret.NewAWSDecrypter(ctx, f.backend, secret.AWSOptions{
		Profile:         f.awsProfile,
		Region:          f.awsRegion,
		AccessKeyID:     cfg.Secrets.AWSAccessKeyID,
		SecretAccessKey: cfg.Secrets.AWSSecretAccessKey,
	}, logger)
	if err != nil {
		return nil, noop, err
	}
	return secret.NewHook(f.prefix, d), noop, nil
}

// openLoader builds the configuration loader for a deployment.
func openLoader(ctx context.Context, d deployFlags, s secretFlags, cfg config.Settings, logger zerolog.Logger) (*loader.Loader, func(), error) {
	if err := d.validate(); err != nil {
		return nil, nil, err
	}
	hook, cleanup, err := buildHook(ctx, s, cfg, logger)
	if err != nil {
		return nil, nil, err
	}
	src, vars := deploymentDirs(d.dir)
	l, err := loader.New(src, vars, d.env, loader.WithSecretHook(hook))
	if err != nil {
		cleanup()
		return nil, nil, err
	}
	return l, cleanup, nil
}
