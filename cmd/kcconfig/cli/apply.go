package cli

import (
	"database/sql"
	"fmt"
	"io"
	"text/tabwriter"
	"time"

	"github.com/rs/zerolog"
	"github.com/spf13/cobra"

	"github.com/kcconfig/kcconfig/internal/action"
	"github.com/kcconfig/kcconfig/internal/audit"
	"github.com/kcconfig/kcconfig/internal/config"
	"github.com/kcconfig/kcconfig/internal/core"
	"github.com/kcconfig/kcconfig/internal/db"
	"github.com/kcconfig/kcconfig/internal/keycloak"
	"github.com/kcconfig/kcconfig/internal/logging"
)

// RegisterApplyCommand adds the apply command to the root.
func RegisterApplyCommand(root *cobra.Command) {
	root.AddCommand(newApplyCmd())
}

type applyFlags struct {
	deploy     deployFlags
	secrets    secretFlags
	baseURL    string
	timeout    int
	username   string
	password   string
	configOnly bool
	output     string
	auditDB    string
	operator   string
}

func (f *applyFlags) resolve(cfg config.Settings) {
	f.secrets.resolve(cfg)
	if f.baseURL == "" {
		f.baseURL = cfg.Keycloak.BaseURL
	}
	if f.timeout <= 0 {
		f.timeout = cfg.Keycloak.TimeoutSeconds
	}
	if f.timeout <= 0 {
		f.timeout = config.DefaultTimeoutSeconds
	}
	if f.username == "" {
		f.username = cfg.Keycloak.Username
	}
	if f.auditDB == "" {
		f.auditDB = cfg.Audit.DBPath
	}
	if f.operator == "" {
		f.operator = cfg.Audit.Operator
	}
}

func newApplyCmd() *cobra.Command {
	f := &applyFlags{}

	cmd := &cobra.Command{
		Use:   "apply",
		Short: "Reconcile a Keycloak server against a deployment directory",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := loadSettings()
			if err != nil {
				return err
			}
			f.resolve(cfg)
			logger := newLogger(cfg)
			ctx := cmd.Context()
			out := cmd.OutOrStdout()

			ld, cleanup, err := openLoader(ctx, f.deploy, f.secrets, cfg, logger)
			if err != nil {
				return err
			}
			defer cleanup()

			if f.configOnly {
				actions, err := core.LoadActionsConfig(ld)
				if err != nil {
					return err
				}
				return writeOutput(out, f.output, logging.RedactRecord(actions))
			}

			reg := action.NewRegistry(logger)
			if err := action.RegisterBuiltinActions(reg); err != nil {
				return err
			}

			engineOpts := []core.Option{core.WithLogger(logger), core.WithBaseURL(f.baseURL)}
			var auditDB *sql.DB
			if f.auditDB != "" {
				auditDB, err = db.OpenAuditDB(f.auditDB)
				if err != nil {
					return fmt.Errorf("opening audit database: %w", err)
				}
				defer auditDB.Close()
				engineOpts = append(engineOpts, core.WithAuditDB(auditDB, f.operator))
			}

			engine, err := core.NewEngine(f.deploy.env, ld, reg, engineOpts...)
			if err != nil {
				return err
			}
			if engine.IsEmpty() {
				fmt.Fprintln(out, "==== There are no actions to execute.")
				return nil
			}

			if f.baseURL == "" {
				return fmt.Errorf("--keycloak-base-url is required")
			}
			if f.username == "" {
				return fmt.Errorf("--keycloak-username is required")
			}
			if f.password == "" {
				if f.password, err = promptSecret("Keycloak admin password"); err != nil {
					return err
				}
			}

			client := keycloak.New(f.baseURL,
				keycloak.WithLogger(logger),
				keycloak.WithAdminClientID(cfg.Keycloak.AdminClientID),
				keycloak.WithTokenRealm(cfg.Keycloak.TokenRealm),
			)
			if auditDB != nil {
				if err := attachSessionAudit(client, auditDB, f.deploy.env, f.operator); err != nil {
					return err
				}
			}

			timeout := time.Duration(f.timeout) * time.Second
			if !client.WaitForAvailability(ctx, timeout) {
				return fmt.Errorf("keycloak at %s not available after %s", f.baseURL, timeout)
			}
			if !client.InitializeSession(ctx, f.username, f.password) {
				return fmt.Errorf("could not open an admin session as %s", f.username)
			}

			run, err := engine.Execute(ctx, client)
			printRunSummary(out, run, logger)
			return err
		},
	}

	f.deploy.bind(cmd)
	f.secrets.bind(cmd)
	cmd.Flags().StringVar(&f.baseURL, "keycloak-base-url", "", "Keycloak base URL, e.g. https://sso.example.com")
	cmd.Flags().IntVar(&f.timeout, "keycloak-timeout", 0, "Seconds to wait for Keycloak to become available (default 180)")
	cmd.Flags().StringVar(&f.username, "keycloak-username", "", "Keycloak administrator username")
	cmd.Flags().StringVar(&f.password, "keycloak-password", "", "Keycloak administrator password (prompted when empty)")
	cmd.Flags().BoolVar(&f.configOnly, "config-only", false, "Print the loaded action list and exit without contacting Keycloak")
	cmd.Flags().StringVarP(&f.output, "output", "o", "json", "Output format for --config-only (json, yaml)")
	cmd.Flags().StringVar(&f.auditDB, "audit-db", "", "Audit database file or directory; empty disables auditing")
	cmd.Flags().StringVar(&f.operator, "operator", "", "Operator name recorded in the audit trail")

	return cmd
}

// attachSessionAudit records the admin login in the environment's chain. The
// engine replaces the logger with a run-scoped one once execution starts.
func attachSessionAudit(client *keycloak.Client, auditDB *sql.DB, env, operator string) error {
	al, err := audit.NewLogger(auditDB, env, operator)
	if err != nil {
		return fmt.Errorf("creating audit logger: %w", err)
	}
	client.SetAudit(al, "")
	return nil
}

func printRunSummary(w io.Writer, run *core.Run, logger zerolog.Logger) {
	if run == nil {
		return
	}
	tw := tabwriter.NewWriter(w, 0, 4, 2, ' ', 0)
	fmt.Fprintf(tw, "ACTION\tSTATUS\tDURATION\n")
	for _, r := range run.Results {
		fmt.Fprintf(tw, "%s\t%s\t%s\n", r.Name, r.Status, r.Duration().Round(time.Millisecond))
	}
	tw.Flush()
	logger.Info().Str("run", run.UUID).Str("status", string(run.Status)).Msg("run finished")
}
