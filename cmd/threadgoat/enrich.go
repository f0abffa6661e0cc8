package main

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/IshaanNene/ThreadGoat/internal/ai"
	"github.com/IshaanNene/ThreadGoat/internal/observability"
	"github.com/IshaanNene/ThreadGoat/internal/storage"
)

// enrichCmd creates the "enrich" subcommand, which tags stored discussions
// that have no analysis yet.
func enrichCmd() *cobra.Command {
	var (
		limit    int
		provider string
		model    string
	)
	cmd := &cobra.Command{
		Use:   "enrich",
		Short: "Tag stored discussions with category, product area and sentiment",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, logger, err := loadConfig()
			if err != nil {
				return err
			}
			if provider != "" {
				cfg.AI.Provider = provider
			}
			if model != "" {
				cfg.AI.Model = model
			}

			ctx, cancel := signalContext(logger)
			defer cancel()

			store, err := storage.NewSQLiteStore(cfg.Storage.SQLitePath, logger)
			if err != nil {
				return err
			}
			defer store.Close()

			tagger, err := ai.NewTagger(&cfg.AI, logger)
			if err != nil {
				return err
			}

			enricher := ai.NewEnricher(store, tagger, logger,
				ai.WithBatchSize(cfg.AI.BatchSize),
				ai.WithEnricherMetrics(observability.NewMetrics(logger)),
			)
			res, err := enricher.Run(ctx, limit)
			if res != nil {
				fmt.Printf("\nEnrichment: %d tagged, %d failed (provider %s)\n", res.Tagged, res.Failed, cfg.AI.Provider)
			}
			return err
		},
	}
	cmd.Flags().IntVarP(&limit, "limit", "l", 0, "maximum discussions to tag (0 = all)")
	cmd.Flags().StringVar(&provider, "provider", "", "keyword, ollama, openai or custom (default from config)")
	cmd.Flags().StringVar(&model, "model", "", "model name for LLM providers")
	return cmd
}
