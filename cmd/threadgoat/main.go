package main

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	"github.com/IshaanNene/ThreadGoat/internal/config"
)

var (
	cfgFile        string
	verbose        bool
	concurrent     int
	delay          string
	maxDiscussions int
	maxPages       int
	maxRetries     = -1
	backends       string
	fetcherType    string
)

func main() {
	rootCmd := &cobra.Command{
		Use:   "threadgoat",
		Short: "ThreadGoat - community discussion harvester",
		Long: `ThreadGoat collects discussions and their complete reply trees from
community forums and Reddit, normalizes them, and stores them for analysis.

Features:
  - Session bootstrap from a headless browser, then direct GraphQL replay
  - Breadth-first reply resolution until the reported reply count is met
  - Incremental re-crawls seeded from the previous run's output
  - SQLite, MongoDB and JSONL sinks
  - Keyword or LLM tagging (category, product area, sentiment)
  - Read-only dashboard and Prometheus metrics`,
		SilenceUsage: true,
	}

	rootCmd.PersistentFlags().StringVarP(&cfgFile, "config", "c", "", "config file path")
	rootCmd.PersistentFlags().BoolVarP(&verbose, "verbose", "v", false, "enable debug logging")

	rootCmd.AddCommand(crawlCmd())
	rootCmd.AddCommand(redditCmd())
	rootCmd.AddCommand(enrichCmd())
	rootCmd.AddCommand(serveCmd())
	rootCmd.AddCommand(scheduleCmd())
	rootCmd.AddCommand(reportCmd())
	rootCmd.AddCommand(versionCmd())
	rootCmd.AddCommand(configCmd())

	if err := rootCmd.Execute(); err != nil {
		os.Exit(1)
	}
}

// addCrawlFlags registers the overrides shared by crawl commands.
func addCrawlFlags(cmd *cobra.Command) {
	cmd.Flags().IntVarP(&concurrent, "concurrency", "n", 0, "number of concurrent workers (0 = config)")
	cmd.Flags().StringVar(&delay, "delay", "", "politeness delay between requests, e.g. 500ms")
	cmd.Flags().IntVarP(&maxDiscussions, "max-discussions", "m", 0, "stop after this many new discussions (0 = config)")
	cmd.Flags().IntVar(&maxPages, "max-pages", 0, "stop after this many listing pages (0 = config)")
	cmd.Flags().IntVar(&maxRetries, "max-retries", -1, "max retries per failed request (-1 = config)")
	cmd.Flags().StringVar(&backends, "backends", "", "comma-separated sinks: sqlite, mongodb, jsonl")
	cmd.Flags().StringVar(&fetcherType, "fetcher", "", "discussion page fetcher: browser or http")
}

// loadConfig loads, overrides and validates configuration and builds the
// logger it describes.
func loadConfig() (*config.Config, *slog.Logger, error) {
	cfg, err := config.Load(cfgFile)
	if err != nil {
		return nil, nil, fmt.Errorf("load config: %w", err)
	}
	applyCLIOverrides(cfg)
	if err := config.Validate(cfg); err != nil {
		return nil, nil, fmt.Errorf("invalid config: %w", err)
	}
	return cfg, setupLogger(&cfg.Logging), nil
}

// setupLogger creates a structured logger.
func setupLogger(cfg *config.LoggingConfig) *slog.Logger {
	level := slog.LevelInfo
	switch cfg.Level {
	case "debug":
		level = slog.LevelDebug
	case "warn":
		level = slog.LevelWarn
	case "error":
		level = slog.LevelError
	}
	if verbose {
		level = slog.LevelDebug
	}

	opts := &slog.HandlerOptions{Level: level}
	if cfg.Format == "json" {
		return slog.New(slog.NewJSONHandler(os.Stderr, opts))
	}
	return slog.New(slog.NewTextHandler(os.Stderr, opts))
}

// applyCLIOverrides applies command-line flag values to the config.
func applyCLIOverrides(cfg *config.Config) {
	if concurrent > 0 {
		cfg.Engine.Concurrency = concurrent
	}
	if delay != "" {
		if d, err := time.ParseDuration(delay); err == nil {
			cfg.Engine.PolitenessDelay = d
		}
	}
	if maxDiscussions > 0 {
		cfg.Engine.MaxDiscussions = maxDiscussions
	}
	if maxPages > 0 {
		cfg.Engine.MaxPages = maxPages
	}
	if maxRetries >= 0 {
		cfg.Engine.MaxRetries = maxRetries
	}
	if backends != "" {
		cfg.Storage.Backends = splitList(backends)
	}
	if fetcherType != "" {
		cfg.Fetcher.Type = strings.ToLower(fetcherType)
	}
	if verbose {
		cfg.Logging.Level = "debug"
	}
}

func splitList(s string) []string {
	var out []string
	for _, part := range strings.Split(s, ",") {
		if part = strings.TrimSpace(part); part != "" {
			out = append(out, part)
		}
	}
	return out
}

// signalContext is cancelled on SIGINT or SIGTERM.
func signalContext(logger *slog.Logger) (context.Context, context.CancelFunc) {
	ctx, cancel := context.WithCancel(context.Background())
	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
	go func() {
		select {
		case sig := <-sigCh:
			logger.Info("received signal, shutting down...", "signal", sig)
			cancel()
		case <-ctx.Done():
		}
		signal.Stop(sigCh)
	}()
	return ctx, cancel
}

// versionCmd creates the "version" subcommand.
func versionCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "version",
		Short: "Print version information",
		Run: func(cmd *cobra.Command, args []string) {
			fmt.Printf("ThreadGoat %s\n", config.Version)
		},
	}
}

// configCmd creates the "config" subcommand for inspecting configuration.
func configCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "config",
		Short: "Show current configuration",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := config.Load(cfgFile)
			if err != nil {
				return err
			}
			fmt.Printf("Engine:\n")
			fmt.Printf("  Concurrency:       %d\n", cfg.Engine.Concurrency)
			fmt.Printf("  Request Timeout:   %s\n", cfg.Engine.RequestTimeout)
			fmt.Printf("  Politeness Delay:  %s\n", cfg.Engine.PolitenessDelay)
			fmt.Printf("  Max Retries:       %d\n", cfg.Engine.MaxRetries)
			fmt.Printf("  Max Pages:         %d\n", cfg.Engine.MaxPages)
			fmt.Printf("  Max Discussions:   %d\n", cfg.Engine.MaxDiscussions)
			fmt.Printf("  Max Root Pages:    %d\n", cfg.Engine.MaxRootPages)
			fmt.Printf("\nFetcher:\n")
			fmt.Printf("  Type:              %s\n", cfg.Fetcher.Type)
			fmt.Printf("  Headless:          %v\n", cfg.Fetcher.Headless)
			fmt.Printf("  Bootstrap Timeout: %s\n", cfg.Fetcher.BootstrapTimeout)
			fmt.Printf("\nForum:\n")
			fmt.Printf("  Listing URL:       %s\n", cfg.Forum.ListingURL)
			fmt.Printf("  Board:             %s\n", cfg.Forum.BoardID)
			fmt.Printf("  API Path:          %s\n", cfg.Forum.APIPath)
			fmt.Printf("\nReddit:\n")
			fmt.Printf("  Subreddits:        %s\n", strings.Join(cfg.Reddit.Subreddits, ", "))
			fmt.Printf("  Limit:             %d\n", cfg.Reddit.Limit)
			fmt.Printf("\nProxy:\n")
			fmt.Printf("  Enabled:           %v\n", cfg.Proxy.Enabled)
			fmt.Printf("  Rotation:          %s\n", cfg.Proxy.Rotation)
			fmt.Printf("  Count:             %d\n", len(cfg.Proxy.URLs))
			fmt.Printf("\nStorage:\n")
			fmt.Printf("  Backends:          %s\n", strings.Join(cfg.Storage.Backends, ", "))
			fmt.Printf("  SQLite Path:       %s\n", cfg.Storage.SQLitePath)
			fmt.Printf("  Output Path:       %s\n", cfg.Storage.OutputPath)
			fmt.Printf("\nAI:\n")
			fmt.Printf("  Enabled:           %v\n", cfg.AI.Enabled)
			fmt.Printf("  Provider:          %s\n", cfg.AI.Provider)
			fmt.Printf("  Model:             %s\n", cfg.AI.Model)
			fmt.Printf("\nMetrics:\n")
			fmt.Printf("  Enabled:           %v\n", cfg.Metrics.Enabled)
			fmt.Printf("  Port:              %d\n", cfg.Metrics.Port)
			fmt.Printf("\nDashboard:\n")
			fmt.Printf("  Port:              %d\n", cfg.Dashboard.Port)
			fmt.Printf("\nSchedule:\n")
			fmt.Printf("  Cron:              %s\n", cfg.Schedule.Cron)
			fmt.Printf("  Sources:           %s\n", strings.Join(cfg.Schedule.Sources, ", "))
			return nil
		},
	}
}
