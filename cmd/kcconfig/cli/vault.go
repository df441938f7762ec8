package cli

import (
	"bufio"
	"fmt"
	"os"
	"strings"

	"github.com/spf13/cobra"

	"github.com/kcconfig/kcconfig/internal/vault"
)

// RegisterVaultCommands adds local vault management. Values stored here are
// referenced from configuration as <prefix><key> with the vault backend.
func RegisterVaultCommands(root *cobra.Command) {
	vaultCmd := &cobra.Command{
		Use:   "vault",
		Short: "Manage the local passphrase-protected secret vault",
	}

	vaultCmd.AddCommand(newVaultInitCmd())
	vaultCmd.AddCommand(newVaultPutCmd())
	vaultCmd.AddCommand(newVaultListCmd())
	vaultCmd.AddCommand(newVaultDeleteCmd())

	root.AddCommand(vaultCmd)
}

func vaultPath(flagValue string) (string, error) {
	if flagValue != "" {
		return flagValue, nil
	}
	cfg, err := loadSettings()
	if err != nil {
		return "", err
	}
	return cfg.Secrets.VaultFile, nil
}

func openVault(flagValue string) (*vault.Vault, error) {
	path, err := vaultPath(flagValue)
	if err != nil {
		return nil, err
	}
	pass, err := vaultPassphrase()
	if err != nil {
		return nil, err
	}
	v, err := vault.Open(path, pass)
	if err != nil {
		return nil, fmt.Errorf("opening vault: %w", err)
	}
	return v, nil
}

func newVaultInitCmd() *cobra.Command {
	var file string
	cmd := &cobra.Command{
		Use:   "init",
		Short: "Create a new vault",
		RunE: func(cmd *cobra.Command, args []string) error {
			path, err := vaultPath(file)
			if err != nil {
				return err
			}

			pass, ok := os.LookupEnv(VaultPassphraseEnv)
			if !ok {
				if pass, err = promptSecret("New vault passphrase"); err != nil {
					return err
				}
				confirm, err := promptSecret("Confirm passphrase")
				if err != nil {
					return err
				}
				if pass != confirm {
					return fmt.Errorf("passphrases do not match")
				}
			}
			if len(pass) < 8 {
				return fmt.Errorf("passphrase must be at least 8 characters")
			}

			v, err := vault.Create(path, pass)
			if err != nil {
				return fmt.Errorf("creating vault: %w", err)
			}
			defer v.Close()
			fmt.Fprintf(cmd.OutOrStdout(), "Vault created at %s\n", v.Path())
			return nil
		},
	}
	cmd.Flags().StringVar(&file, "vault-file", "", "Vault file (default from settings)")
	return cmd
}

func newVaultPutCmd() *cobra.Command {
	var (
		file      string
		fromStdin bool
	)
	cmd := &cobra.Command{
		Use:   "put <key>",
		Short: "Store a secret value",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			var value string
			if fromStdin {
				line, err := bufio.NewReader(cmd.InOrStdin()).ReadString('\n')
				if err != nil && line == "" {
					return fmt.Errorf("reading value from stdin: %w", err)
				}
				value = strings.TrimRight(line, "\r\n")
			}

			v, err := openVault(file)
			if err != nil {
				return err
			}
			defer v.Close()

			if !fromStdin {
				if value, err = promptSecret("Value for " + args[0]); err != nil {
					return err
				}
			}
			if err := v.Put(args[0], []byte(value)); err != nil {
				return err
			}
			if err := v.Save(); err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "Stored %s\n", args[0])
			return nil
		},
	}
	cmd.Flags().StringVar(&file, "vault-file", "", "Vault file (default from settings)")
	cmd.Flags().BoolVar(&fromStdin, "stdin", false, "Read the value from the first line of stdin")
	return cmd
}

func newVaultListCmd() *cobra.Command {
	var file string
	cmd := &cobra.Command{
		Use:   "list",
		Short: "List stored keys",
		RunE: func(cmd *cobra.Command, args []string) error {
			v, err := openVault(file)
			if err != nil {
				return err
			}
			defer v.Close()

			keys := v.Keys()
			if len(keys) == 0 {
				fmt.Fprintln(cmd.OutOrStdout(), "Vault is empty.")
				return nil
			}
			for _, k := range keys {
				fmt.Fprintln(cmd.OutOrStdout(), k)
			}
			return nil
		},
	}
	cmd.Flags().StringVar(&file, "vault-file", "", "Vault file (default from settings)")
	return cmd
}

func newVaultDeleteCmd() *cobra.Command {
	var file string
	cmd := &cobra.Command{
		Use:   "delete <key>",
		Short: "Remove a stored secret",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			v, err := openVault(file)
			if err != nil {
				return err
			}
			defer v.Close()

			if err := v.Delete(args[0]); err != nil {
				return err
			}
			if err := v.Save(); err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "Deleted %s\n", args[0])
			return nil
		},
	}
	cmd.Flags().StringVar(&file, "vault-file", "", "Vault file (default from settings)")
	return cmd
}
