package main

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"
	"github.com/spf13/cobra"

	"github.com/IshaanNene/ThreadGoat/internal/ai"
	"github.com/IshaanNene/ThreadGoat/internal/config"
	"github.com/IshaanNene/ThreadGoat/internal/engine"
	"github.com/IshaanNene/ThreadGoat/internal/fetcher"
	"github.com/IshaanNene/ThreadGoat/internal/forum"
	"github.com/IshaanNene/ThreadGoat/internal/observability"
	"github.com/IshaanNene/ThreadGoat/internal/pipeline"
	"github.com/IshaanNene/ThreadGoat/internal/reddit"
	"github.com/IshaanNene/ThreadGoat/internal/storage"
	"github.com/IshaanNene/ThreadGoat/internal/types"
)

// crawlCmd creates the "crawl" subcommand for the community forum.
func crawlCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "crawl",
		Short: "Crawl the community forum board",
		Long: `Bootstrap a session from the listing page, page through the board's
discussions, resolve every reply tree, and store the results. Discussions
recorded in the previous run's output are skipped.`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runCrawlCommand(types.SourceForum)
		},
	}
	addCrawlFlags(cmd)
	return cmd
}

// redditCmd creates the "reddit" subcommand.
func redditCmd() *cobra.Command {
	var subreddits string
	var limit int
	cmd := &cobra.Command{
		Use:   "reddit",
		Short: "Crawl the newest posts of the configured subreddits",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			if subreddits != "" || limit > 0 {
				redditOverride = func(cfg *config.RedditConfig) {
					if subreddits != "" {
						cfg.Subreddits = splitList(subreddits)
					}
					if limit > 0 {
						cfg.Limit = limit
					}
				}
			}
			return runCrawlCommand(types.SourceReddit)
		},
	}
	addCrawlFlags(cmd)
	cmd.Flags().StringVar(&subreddits, "subreddits", "", "comma-separated subreddits (default from config)")
	cmd.Flags().IntVar(&limit, "limit", 0, "posts per subreddit (0 = config)")
	return cmd
}

// redditOverride applies reddit-only flags after the config is loaded.
var redditOverride func(cfg *config.RedditConfig)

func runCrawlCommand(source string) error {
	cfg, logger, err := loadConfig()
	if err != nil {
		return err
	}
	if redditOverride != nil {
		redditOverride(&cfg.Reddit)
	}

	ctx, cancel := signalContext(logger)
	defer cancel()

	metrics := observability.NewMetrics(logger)
	if cfg.Metrics.Enabled {
		if err := metrics.StartServer(ctx, cfg.Metrics.Port, cfg.Metrics.Path); err != nil {
			logger.Warn("failed to start metrics server", "error", err)
		}
	}

	start := time.Now()
	summary, err := runSource(ctx, source, cfg, metrics, logger)
	if summary != nil {
		printSummary(summary, time.Since(start))
	}
	return err
}

// runSource performs one crawl run of source and records it. A failed
// session bootstrap aborts the run before anything is written.
func runSource(ctx context.Context, source string, cfg *config.Config, metrics *observability.Metrics, logger *slog.Logger) (*types.RunSummary, error) {
	runID := uuid.New().String()
	logger = logger.With("run_id", runID)

	sink, err := storage.NewSink(ctx, &cfg.Storage, logger)
	if err != nil {
		return nil, fmt.Errorf("open storage: %w", err)
	}
	defer func() {
		if err := sink.Close(); err != nil {
			logger.Warn("closing storage", "error", err)
		}
	}()

	historyPath := cfg.Storage.HistoryPath
	if historyPath == "" {
		historyPath = cfg.Storage.OutputPath
	}
	history, err := engine.LoadHistory(historyPath)
	if err != nil {
		return nil, err
	}

	var tagger ai.Tagger
	if cfg.AI.Enabled {
		if tagger, err = ai.NewTagger(&cfg.AI, logger); err != nil {
			return nil, err
		}
	}

	httpFetcher, err := fetcher.NewHTTPFetcher(cfg, logger)
	if err != nil {
		return nil, fmt.Errorf("create fetcher: %w", err)
	}
	defer httpFetcher.Close()

	var (
		lister   engine.Lister
		pages    engine.DiscussionFetcher
		resolver *engine.Resolver
	)
	switch source {
	case types.SourceForum:
		renderer, err := fetcher.NewPageRenderer(cfg, httpFetcher, logger)
		if err != nil {
			return nil, fmt.Errorf("create renderer: %w", err)
		}
		defer renderer.Close()

		bundle, err := bootstrapSession(ctx, cfg, renderer, httpFetcher, logger)
		if err != nil {
			summary := &types.RunSummary{
				RunID:      runID,
				Source:     source,
				StartedAt:  time.Now().UTC(),
				FinishedAt: time.Now().UTC(),
				Error:      err.Error(),
			}
			recordRun(sink, summary, logger)
			return summary, fmt.Errorf("session bootstrap: %w", err)
		}

		client := forum.NewClient(&cfg.Forum, bundle, httpFetcher, cfg.Engine.MaxRetries, logger)
		listing, err := forum.NewListingSource(client, &cfg.Forum, logger)
		if err != nil {
			return nil, err
		}
		lister = listing
		pages = forum.NewDiscussionSource(renderer, logger)
		resolver = engine.NewResolver(forum.NewReplyClient(client, &cfg.Forum, logger), cfg.Engine.MaxRootPages, logger)

	case types.SourceReddit:
		client := reddit.NewClient(&cfg.Reddit, httpFetcher, cfg.Engine.MaxRetries, logger)
		lister = reddit.NewListingSource(client, cfg.Reddit.Subreddits, cfg.Reddit.Limit, logger)
		pages = reddit.NewDiscussionSource(client, logger)
		resolver = engine.NewResolver(nil, 0, logger)

	default:
		return nil, fmt.Errorf("unknown source %q", source)
	}

	crawler := engine.NewCrawler(&cfg.Engine, lister, pages, resolver, sink, logger,
		engine.WithProcessor(pipeline.NewDefault(logger, tagger)),
		engine.WithHistory(history),
		engine.WithMetrics(metrics),
		engine.WithRunID(runID),
		engine.WithSource(source),
	)

	summary, err := crawler.Run(ctx)
	if err != nil {
		return nil, fmt.Errorf("run crawler: %w", err)
	}
	recordRun(sink, summary, logger)
	return summary, nil
}

// bootstrapSession captures a credential bundle from the listing page. The
// http renderer cannot observe requests, so a browser is launched just for
// the capture.
func bootstrapSession(ctx context.Context, cfg *config.Config, renderer fetcher.PageRenderer, httpFetcher *fetcher.HTTPFetcher, logger *slog.Logger) (*fetcher.CredentialBundle, error) {
	bf, ok := renderer.(*fetcher.BrowserFetcher)
	if !ok {
		var err error
		bf, err = fetcher.NewBrowserFetcher(cfg, logger, fetcher.WithHTTPClient(httpFetcher.Client()))
		if err != nil {
			return nil, fmt.Errorf("launch bootstrap browser: %w", err)
		}
		defer bf.Close()
	}

	bundle, err := bf.CaptureSession(ctx, cfg.Forum.ListingURL, cfg.Forum.APIPath, cfg.Fetcher.BootstrapTimeout)
	if err != nil {
		if errors.Is(err, types.ErrNoQualifyingRequest) {
			logger.Error("no qualifying API request observed; rerun once the listing page loads normally",
				"listing_url", cfg.Forum.ListingURL,
				"timeout", cfg.Fetcher.BootstrapTimeout,
			)
		}
		return nil, err
	}
	return bundle, nil
}

// recordRun stores the summary when a SQLite backend is configured.
func recordRun(sink *storage.MultiSink, summary *types.RunSummary, logger *slog.Logger) {
	store := sink.SQLite()
	if store == nil {
		return
	}
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := store.RecordRun(ctx, summary); err != nil {
		logger.Warn("failed to record run", "error", err)
	}
}

func printSummary(s *types.RunSummary, elapsed time.Duration) {
	if s.Error != "" {
		fmt.Printf("\nRun %s (%s) aborted: %s\n", s.RunID, s.Source, s.Error)
		return
	}
	fmt.Printf("\nCrawl complete in %s (run %s, source %s)\n", elapsed.Round(time.Millisecond), s.RunID, s.Source)
	fmt.Printf("   Listing:      %d pages, %d discovered, %d skipped\n", s.ListingPages, s.Discovered, s.Skipped)
	fmt.Printf("   Discussions:  %d fetched, %d failed, %d stored, %d dropped\n", s.Fetched, s.Failed, s.Stored, s.Dropped)
	fmt.Printf("   Replies:      %d stored\n", s.Replies)
	fmt.Printf("   Incomplete:   %d threads below their reported reply count\n", s.Incomplete)
	if s.StoreErrors > 0 {
		fmt.Printf("   Store errors: %d\n", s.StoreErrors)
	}
	if s.Stored == 0 && s.Skipped > 0 {
		fmt.Println("\nEvery discovered discussion was already in the previous run's output.")
	}
}
