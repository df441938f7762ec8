package cli

import (
	"database/sql"
	"fmt"
	"text/tabwriter"
	"time"

	"github.com/spf13/cobra"

	"github.com/kcconfig/kcconfig/internal/audit"
	"github.com/kcconfig/kcconfig/internal/db"
)

// RegisterAuditCommands adds audit trail and run history commands.
func RegisterAuditCommands(root *cobra.Command) {
	auditCmd := &cobra.Command{
		Use:   "audit",
		Short: "Inspect the audit trail and run history",
	}

	auditCmd.AddCommand(newAuditVerifyCmd())
	auditCmd.AddCommand(newAuditRunsCmd())
	auditCmd.AddCommand(newAuditShowCmd())

	root.AddCommand(auditCmd)
}

type auditFlags struct {
	path string
	env  string
}

func (f *auditFlags) bind(cmd *cobra.Command) {
	cmd.Flags().StringVar(&f.path, "audit-db", "", "Audit database file or directory (default from settings)")
	cmd.Flags().StringVar(&f.env, "deploy-env", "", "Deployment environment (required)")
	_ = cmd.MarkFlagRequired("deploy-env")
}

func (f *auditFlags) open() (*sql.DB, error) {
	path := f.path
	if path == "" {
		cfg, err := loadSettings()
		if err != nil {
			return nil, err
		}
		path = cfg.Audit.DBPath
	}
	if path == "" {
		return nil, fmt.Errorf("--audit-db is required when no audit database is configured")
	}
	return db.OpenAuditDB(path)
}

func newAuditVerifyCmd() *cobra.Command {
	f := &auditFlags{}
	cmd := &cobra.Command{
		Use:   "verify",
		Short: "Verify the audit hash chain of an environment",
		RunE: func(cmd *cobra.Command, args []string) error {
			auditDB, err := f.open()
			if err != nil {
				return err
			}
			defer auditDB.Close()

			ok, n, err := audit.Verify(auditDB, f.env)
			if !ok {
				return fmt.Errorf("audit chain for %s invalid after %d records: %w", f.env, n, err)
			}
			fmt.Fprintf(cmd.OutOrStdout(), "Audit chain for %s intact (%d records).\n", f.env, n)
			return nil
		},
	}
	f.bind(cmd)
	return cmd
}

func newAuditRunsCmd() *cobra.Command {
	f := &auditFlags{}
	var limit int
	cmd := &cobra.Command{
		Use:   "runs",
		Short: "List recent runs of an environment",
		RunE: func(cmd *cobra.Command, args []string) error {
			auditDB, err := f.open()
			if err != nil {
				return err
			}
			defer auditDB.Close()

			runs, err := db.ListRuns(auditDB, f.env, limit)
			if err != nil {
				return err
			}
			out := cmd.OutOrStdout()
			if len(runs) == 0 {
				fmt.Fprintf(out, "No runs recorded for %s.\n", f.env)
				return nil
			}
			tw := tabwriter.NewWriter(out, 0, 4, 2, ' ', 0)
			fmt.Fprintf(tw, "RUN\tSTATUS\tACTIONS\tSTARTED\tSERVER\n")
			for _, r := range runs {
				fmt.Fprintf(tw, "%s\t%s\t%d\t%s\t%s\n", r.UUID, r.Status, r.ActionCount, r.StartedAt.Format(time.RFC3339), r.BaseURL)
			}
			return tw.Flush()
		},
	}
	f.bind(cmd)
	cmd.Flags().IntVar(&limit, "limit", 20, "Maximum number of runs to show")
	return cmd
}

func newAuditShowCmd() *cobra.Command {
	f := &auditFlags{}
	cmd := &cobra.Command{
		Use:   "show <run-uuid>",
		Short: "Show the audit records of a run",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			auditDB, err := f.open()
			if err != nil {
				return err
			}
			defer auditDB.Close()

			records, err := audit.ForRun(auditDB, f.env, args[0])
			if err != nil {
				return err
			}
			if len(records) == 0 {
				return fmt.Errorf("run not found: %s", args[0])
			}
			tw := tabwriter.NewWriter(cmd.OutOrStdout(), 0, 4, 2, ' ', 0)
			fmt.Fprintf(tw, "TIME\tEVENT\tACTION\tDETAIL\n")
			for _, r := range records {
				fmt.Fprintf(tw, "%s\t%s\t%s\t%s\n", r.Timestamp, r.EventType, r.Action, r.Detail)
			}
			return tw.Flush()
		},
	}
	f.bind(cmd)
	return cmd
}
