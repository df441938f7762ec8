package cli

import (
	"bytes"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/sebdah/goldie/v2"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/kcconfig/kcconfig/internal/kctest"
)

// execute runs the root command with a settings file that does not exist, so
// every test starts from the built-in defaults.
func execute(t *testing.T, stdin string, args ...string) (string, error) {
	t.Helper()
	cmd := NewRootCmd("test")
	var out bytes.Buffer
	cmd.SetOut(&out)
	cmd.SetErr(&out)
	cmd.SetIn(strings.NewReader(stdin))
	settings := filepath.Join(t.TempDir(), "missing.toml")
	cmd.SetArgs(append([]string{"--settings", settings, "--log-level", "error"}, args...))
	err := cmd.Execute()
	return out.String(), err
}

func writeDeployment(t *testing.T, files map[string]string) string {
	t.Helper()
	dir := t.TempDir()
	for name, content := range files {
		path := filepath.Join(dir, name)
		require.NoError(t, os.MkdirAll(filepath.Dir(path), 0o755))
		require.NoError(t, os.WriteFile(path, []byte(content), 0o644))
	}
	return dir
}

func golden(t *testing.T) *goldie.Goldie {
	return goldie.New(t,
		goldie.WithFixtureDir("testdata/golden"),
		goldie.WithNameSuffix(".golden"),
	)
}

var cliFiles = map[string]string{
	"src/keycloak.json": `[
		{"name": "realm", "type": "create-realm-if-not-exists", "realmName": "#{REALM}"},
		{"name": "clients", "type": "set-clients", "realmName": "#{REALM}", "file": "clients.json", "adminPassword": "#{ADMIN_PASSWORD}"}
	]`,
	"src/clients.json":          `[{"clientId": "#{CLIENT}"}]`,
	"var/keycloak/defaults.var": "REALM=demo\nCLIENT=web\nADMIN_PASSWORD=hunter2\n",
	"var/keycloak/prod.var":     "CLIENT=web-prod\n",
}

func TestActionsCommand(t *testing.T) {
	out, err := execute(t, "", "actions")
	require.NoError(t, err)
	golden(t).Assert(t, "actions", []byte(out))
}

func TestVariablesCommand(t *testing.T) {
	dir := writeDeployment(t, cliFiles)

	out, err := execute(t, "", "variables", "--deploy-config-dir", dir, "--deploy-env", "prod")
	require.NoError(t, err)
	golden(t).Assert(t, "variables", []byte(out))

	out, err = execute(t, "", "variables", "--deploy-config-dir", dir, "--deploy-env", "prod", "-o", "json")
	require.NoError(t, err)
	golden(t).Assert(t, "variables_json", []byte(out))
}

func TestVariablesRequiresExistingDirectory(t *testing.T) {
	_, err := execute(t, "", "variables", "--deploy-config-dir", filepath.Join(t.TempDir(), "nope"), "--deploy-env", "dev")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "deployment directory")
}

func TestApplyConfigOnly(t *testing.T) {
	dir := writeDeployment(t, cliFiles)

	out, err := execute(t, "", "apply", "--config-only", "--deploy-config-dir", dir, "--deploy-env", "dev")
	require.NoError(t, err)
	golden(t).Assert(t, "config_only", []byte(out))
}

func TestApplyConfigOnlyYAML(t *testing.T) {
	dir := writeDeployment(t, cliFiles)

	out, err := execute(t, "", "apply", "--config-only", "-o", "yaml", "--deploy-config-dir", dir, "--deploy-env", "dev")
	require.NoError(t, err)
	assert.Contains(t, out, "- name: realm\n")
	assert.Contains(t, out, "realmName: demo\n")
	assert.NotContains(t, out, "hunter2")
}

func TestApplyNoActions(t *testing.T) {
	dir := writeDeployment(t, map[string]string{"src/keycloak.json": `[]`})

	out, err := execute(t, "", "apply", "--deploy-config-dir", dir, "--deploy-env", "dev")
	require.NoError(t, err)
	assert.Equal(t, "==== There are no actions to execute.\n", out)
}

func TestApplyAgainstServer(t *testing.T) {
	srv := kctest.NewServer(t)
	dir := writeDeployment(t, cliFiles)
	auditPath := filepath.Join(t.TempDir(), "audit.db")

	args := []string{
		"apply",
		"--deploy-config-dir", dir,
		"--deploy-env", "prod",
		"--keycloak-base-url", srv.URL,
		"--keycloak-username", kctest.DefaultUsername,
		"--keycloak-password", kctest.DefaultPassword,
		"--keycloak-timeout", "5",
		"--audit-db", auditPath,
		"--operator", "ci",
	}
	out, err := execute(t, "", args...)
	require.NoError(t, err)
	assert.Contains(t, out, "ACTION")
	assert.Contains(t, out, "clients")
	assert.True(t, srv.HasRealm("demo"))
	assert.NotNil(t, srv.FindClient("demo", "web-prod"))

	out, err = execute(t, "", "audit", "verify", "--audit-db", auditPath, "--deploy-env", "prod")
	require.NoError(t, err)
	assert.Contains(t, out, "Audit chain for prod intact")

	out, err = execute(t, "", "audit", "runs", "--audit-db", auditPath, "--deploy-env", "prod")
	require.NoError(t, err)
	assert.Contains(t, out, "success")
	assert.Contains(t, out, srv.URL)

	out, err = execute(t, "", "audit", "runs", "--audit-db", auditPath, "--deploy-env", "dev")
	require.NoError(t, err)
	assert.Equal(t, "No runs recorded for dev.\n", out)
}

func TestApplyUnavailableServer(t *testing.T) {
	srv := kctest.NewServer(t)
	url := srv.URL
	srv.Close()
	dir := writeDeployment(t, cliFiles)

	_, err := execute(t, "", "apply",
		"--deploy-config-dir", dir,
		"--deploy-env", "dev",
		"--keycloak-base-url", url,
		"--keycloak-username", "admin",
		"--keycloak-password", "admin",
		"--keycloak-timeout", "1",
	)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "not available")
}

func TestApplyBadCredentials(t *testing.T) {
	srv := kctest.NewServer(t)
	dir := writeDeployment(t, cliFiles)

	_, err := execute(t, "", "apply",
		"--deploy-config-dir", dir,
		"--deploy-env", "dev",
		"--keycloak-base-url", srv.URL,
		"--keycloak-username", "admin",
		"--keycloak-password", "wrong",
	)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "admin session")
	assert.False(t, srv.HasRealm("demo"))
}

func TestVaultCommands(t *testing.T) {
	t.Setenv(VaultPassphraseEnv, "correct horse battery")
	file := filepath.Join(t.TempDir(), "kcconfig.vault")

	out, err := execute(t, "", "vault", "init", "--vault-file", file)
	require.NoError(t, err)
	assert.Contains(t, out, "Vault created at")

	out, err = execute(t, "", "vault", "list", "--vault-file", file)
	require.NoError(t, err)
	assert.Equal(t, "Vault is empty.\n", out)

	_, err = execute(t, "s3cret\n", "vault", "put", "db-password", "--stdin", "--vault-file", file)
	require.NoError(t, err)
	_, err = execute(t, "t0ken\n", "vault", "put", "api-token", "--stdin", "--vault-file", file)
	require.NoError(t, err)

	out, err = execute(t, "", "vault", "list", "--vault-file", file)
	require.NoError(t, err)
	assert.Equal(t, "api-token\ndb-password\n", out)

	_, err = execute(t, "", "vault", "delete", "api-token", "--vault-file", file)
	require.NoError(t, err)
	out, err = execute(t, "", "vault", "list", "--vault-file", file)
	require.NoError(t, err)
	assert.Equal(t, "db-password\n", out)
}

func TestVaultWrongPassphrase(t *testing.T) {
	file := filepath.Join(t.TempDir(), "kcconfig.vault")
	t.Setenv(VaultPassphraseEnv, "correct horse battery")
	_, err := execute(t, "", "vault", "init", "--vault-file", file)
	require.NoError(t, err)

	t.Setenv(VaultPassphraseEnv, "wrong horse battery")
	_, err = execute(t, "", "vault", "list", "--vault-file", file)
	require.Error(t, err)
}

func TestApplyWithVaultSecrets(t *testing.T) {
	t.Setenv(VaultPassphraseEnv, "correct horse battery")
	file := filepath.Join(t.TempDir(), "kcconfig.vault")
	_, err := execute(t, "", "vault", "init", "--vault-file", file)
	require.NoError(t, err)
	_, err = execute(t, "vaulted\n", "vault", "put", "realm-name", "--stdin", "--vault-file", file)
	require.NoError(t, err)

	dir := writeDeployment(t, map[string]string{
		"src/keycloak.json": `[{"name": "realm", "type": "create-realm-if-not-exists", "realmName": "ENC:realm-name"}]`,
	})
	out, err := execute(t, "", "apply", "--config-only",
		"--deploy-config-dir", dir,
		"--deploy-env", "dev",
		"--encryption-prefix", "ENC:",
		"--decryption-backend", "vault",
		"--vault-file", file,
	)
	require.NoError(t, err)
	assert.Contains(t, out, `"realmName": "vaulted"`)
}
