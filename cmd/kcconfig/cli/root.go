// Package cli implements the kcconfig command groups.
package cli

import (
	"github.com/spf13/cobra"

	"github.com/kcconfig/kcconfig/internal/config"
)

// rootOptions are the persistent flags shared by every command.
type rootOptions struct {
	settingsPath string
	logLevel     string
}

var opts = &rootOptions{}

// NewRootCmd builds the command tree.
func NewRootCmd(version string) *cobra.Command {
	opts = &rootOptions{}

	rootCmd := &cobra.Command{
		Use:   "kcconfig",
		Short: "Declarative Keycloak configuration",
		Long: `kcconfig reads a deployment directory (src/keycloak.json plus the resource files it
references, and var/keycloak/*.var variable files) and makes a Keycloak server match it:
realms, client scopes, clients, realm roles, scope role mappings and user roles.`,
		Version:       version,
		SilenceUsage:  true,
		SilenceErrors: true,
	}

	rootCmd.PersistentFlags().StringVar(&opts.settingsPath, "settings", config.DefaultPath(), "Settings file")
	rootCmd.PersistentFlags().StringVar(&opts.logLevel, "log-level", "", "Log level (debug, info, warn, error); overrides settings")

	RegisterApplyCommand(rootCmd)
	RegisterActionCommands(rootCmd)
	RegisterVariableCommands(rootCmd)
	RegisterAuditCommands(rootCmd)
	RegisterVaultCommands(rootCmd)

	return rootCmd
}
