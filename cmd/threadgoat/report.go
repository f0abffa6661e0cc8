package main

import (
	"encoding/json"
	"fmt"
	"os"
	"text/tabwriter"

	"github.com/spf13/cobra"

	"github.com/IshaanNene/ThreadGoat/internal/storage"
)

// reportCmd creates the "report" subcommand: store totals, per-source
// breakdowns, duplicate URLs and the reply-count discrepancy list.
func reportCmd() *cobra.Command {
	var (
		limit  int
		asJSON bool
	)
	cmd := &cobra.Command{
		Use:   "report",
		Short: "Summarize the store and list reply-count discrepancies",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, logger, err := loadConfig()
			if err != nil {
				return err
			}
			ctx, cancel := signalContext(logger)
			defer cancel()

			store, err := storage.NewSQLiteStore(cfg.Storage.SQLitePath, logger)
			if err != nil {
				return err
			}
			defer store.Close()

			stats, err := store.Stats(ctx)
			if err != nil {
				return err
			}
			discrepancies, err := store.Discrepancies(ctx, limit)
			if err != nil {
				return err
			}
			runs, err := store.RecentRuns(ctx, 5)
			if err != nil {
				return err
			}

			if asJSON {
				enc := json.NewEncoder(os.Stdout)
				enc.SetIndent("", "  ")
				return enc.Encode(map[string]any{
					"stats":         stats,
					"discrepancies": discrepancies,
					"runs":          runs,
				})
			}

			w := tabwriter.NewWriter(os.Stdout, 0, 0, 2, ' ', 0)
			fmt.Fprintf(w, "Discussions\t%d\n", stats.Discussions)
			fmt.Fprintf(w, "Replies\t%d\n", stats.Replies)
			fmt.Fprintf(w, "Analyzed\t%d\n", stats.Analyzed)
			fmt.Fprintf(w, "Incomplete\t%d\n", stats.Incomplete)
			printCounts(w, "Platform", stats.ByPlatform)
			printCounts(w, "Sub-source", stats.BySubSource)
			printCounts(w, "Sentiment", stats.BySentiment)

			if len(stats.DuplicateURLs) > 0 {
				printCounts(w, "Duplicate URL", stats.DuplicateURLs)
			} else {
				fmt.Fprintln(w, "\nNo URL is stored under more than one id.")
			}

			fmt.Fprintf(w, "\nReply-count discrepancies (%d shown)\n", len(discrepancies))
			if len(discrepancies) > 0 {
				fmt.Fprintln(w, "ID\tREPORTED\tSTORED\tMISSING\tURL")
			}
			for _, d := range discrepancies {
				fmt.Fprintf(w, "%s\t%d\t%d\t%d\t%s\n", d.ID, d.Reported, d.Stored, d.Missing(), d.URL)
			}

			if len(runs) > 0 {
				fmt.Fprintln(w, "\nRecent runs")
				fmt.Fprintln(w, "RUN\tSOURCE\tSTARTED\tSTORED\tFAILED\tINCOMPLETE\tERROR")
				for _, r := range runs {
					fmt.Fprintf(w, "%s\t%s\t%s\t%d\t%d\t%d\t%s\n",
						r.RunID, r.Source, r.StartedAt.Format("2006-01-02 15:04"), r.Stored, r.Failed, r.Incomplete, r.Error)
				}
			}
			return w.Flush()
		},
	}
	cmd.Flags().IntVarP(&limit, "limit", "l", 20, "maximum discrepancies to list (0 = all)")
	cmd.Flags().BoolVar(&asJSON, "json", false, "print the report as JSON")
	return cmd
}

func printCounts(w *tabwriter.Writer, label string, counts []storage.Count) {
	if len(counts) == 0 {
		return
	}
	fmt.Fprintf(w, "\n%s\tCount\n", label)
	for _, c := range counts {
		key := c.Key
		if key == "" {
			key = "(none)"
		}
		fmt.Fprintf(w, "%s\t%d\n", key, c.Count)
	}
}
