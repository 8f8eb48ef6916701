package cmd

import (
	"fmt"

	"github.com/spf13/cobra"
)

func newRefreshCmd() *cobra.Command {
	var (
		daysStale int
		limit     int
	)

	cmd := &cobra.Command{
		Use:   "refresh <zone-id>",
		Short: "Re-scrape listings whose websites have gone stale",
		Long: `Finds listings in a zone whose last website scrape is older than the
staleness window, or that were never scraped, and runs extraction again for
each. Prints a refresh summary as JSON.`,
		Args: cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			a, err := resolveApp(cmd.Context())
			if err != nil {
				return err
			}
			summary, err := a.Orchestrator.RefreshStale(cmd.Context(), args[0], daysStale, limit)
			if err != nil {
				return fmt.Errorf("refresh zone %s: %w", args[0], err)
			}
			return printJSON(summary)
		},
	}

	cmd.Flags().IntVar(&daysStale, "days", 30, "staleness window in days")
	cmd.Flags().IntVar(&limit, "limit", 100, "maximum listings to refresh in one sweep")
	return cmd
}
