package cmd

import (
	"encoding/json"
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"github.com/towdesk/leadpipe/internal/listing"
	"github.com/towdesk/leadpipe/internal/pipeline"
)

func newCrawlCmd() *cobra.Command {
	var (
		zoneName       string
		state          string
		searchQuery    string
		maxResults     int
		scrapeWebsites bool
		scrapeProfiles bool
	)

	cmd := &cobra.Command{
		Use:   "crawl <zone-id>",
		Short: "Discover and enrich listings for a zone",
		Long: `Runs one discovery pass for a zone, upserting every listing found and
scraping each listed website for enrichment signals. Prints a crawl summary
as JSON.`,
		Args: cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			a, err := resolveApp(cmd.Context())
			if err != nil {
				return err
			}
			if zoneName == "" {
				return fmt.Errorf("--zone-name is required")
			}

			zone := listing.Zone{ID: args[0], Name: zoneName, State: state}
			summary, err := a.Orchestrator.CrawlZone(cmd.Context(), zone, pipeline.CrawlOptions{
				SearchQuery:    searchQuery,
				MaxResults:     maxResults,
				ScrapeWebsites: scrapeWebsites,
				ScrapeProfiles: scrapeProfiles,
			})
			if err != nil {
				return fmt.Errorf("crawl zone %s: %w", args[0], err)
			}
			return printJSON(summary)
		},
	}

	cmd.Flags().StringVar(&zoneName, "zone-name", "", "human-readable zone name, e.g. Dallas")
	cmd.Flags().StringVar(&state, "state", "", "two-letter state code")
	cmd.Flags().StringVar(&searchQuery, "query", "", "directory search query")
	cmd.Flags().IntVar(&maxResults, "max-results", 0, "cap on discovered listings (0 for the service default)")
	cmd.Flags().BoolVar(&scrapeWebsites, "scrape-websites", true, "extract enrichment from listed websites")
	cmd.Flags().BoolVar(&scrapeProfiles, "scrape-profiles", false, "request social profile enrichment")
	return cmd
}

func printJSON(v any) error {
	enc := json.NewEncoder(os.Stdout)
	enc.SetIndent("", "  ")
	if err := enc.Encode(v); err != nil {
		return fmt.Errorf("encode output: %w", err)
	}
	return nil
}
