package cmd

import (
	"fmt"

	"github.com/spf13/cobra"
)

func newStatusCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "status <zone-id>",
		Short: "Show a zone's pipeline progress",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			a, err := resolveApp(cmd.Context())
			if err != nil {
				return err
			}
			report, err := a.Orchestrator.Status(cmd.Context(), args[0])
			if err != nil {
				return fmt.Errorf("status for zone %s: %w", args[0], err)
			}
			return printJSON(report)
		},
	}
	return cmd
}
