package cli

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/kcconfig/kcconfig/internal/loader"
	"github.com/kcconfig/kcconfig/internal/logging"
)

// RegisterVariableCommands adds the variable namespace inspection command.
func RegisterVariableCommands(root *cobra.Command) {
	var (
		deploy deployFlags
		output string
	)

	cmd := &cobra.Command{
		Use:   "variables",
		Short: "Print the variables resolved for an environment",
		Long: `Print the variables from var/keycloak/defaults.var and var/keycloak/<env>.var,
with the environment file taking precedence. Values of secret-looking names are redacted.
Process environment variables, which override both files at load time, are not shown.`,
		RunE: func(cmd *cobra.Command, args []string) error {
			if err := deploy.validate(); err != nil {
				return err
			}
			_, varDir := deploymentDirs(deploy.dir)
			vars, err := loader.LoadVariables(varDir, deploy.env)
			if err != nil {
				return err
			}

			redacted := make(map[string]string, len(vars))
			for _, k := range vars.Keys() {
				v := vars[k]
				if logging.IsSecretField(k) {
					v = logging.RedactValue(v)
				}
				redacted[k] = v
			}

			out := cmd.OutOrStdout()
			if output == "text" {
				for _, k := range vars.Keys() {
					fmt.Fprintf(out, "%s=%s\n", k, redacted[k])
				}
				return nil
			}
			return writeOutput(out, output, redacted)
		},
	}

	deploy.bind(cmd)
	cmd.Flags().StringVarP(&output, "output", "o", "text", "Output format (text, json, yaml)")
	root.AddCommand(cmd)
}
