package cli

import (
	"fmt"
	"text/tabwriter"

	"github.com/rs/zerolog"
	"github.com/spf13/cobra"

	"github.com/kcconfig/kcconfig/internal/action"
)

// RegisterActionCommands adds the action type listing to the root.
func RegisterActionCommands(root *cobra.Command) {
	root.AddCommand(&cobra.Command{
		Use:   "actions",
		Short: "List the available action types",
		RunE: func(cmd *cobra.Command, args []string) error {
			reg := action.NewRegistry(zerolog.Nop())
			if err := action.RegisterBuiltinActions(reg); err != nil {
				return err
			}

			tw := tabwriter.NewWriter(cmd.OutOrStdout(), 0, 4, 2, ' ', 0)
			fmt.Fprintf(tw, "TYPE\tDESCRIPTION\n")
			for _, r := range reg.List() {
				fmt.Fprintf(tw, "%s\t%s\n", r.Type, r.Description)
			}
			return tw.Flush()
		},
	})
}
