package main

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/robfig/cron/v3"
	"github.com/spf13/cobra"

	"github.com/IshaanNene/ThreadGoat/internal/config"
	"github.com/IshaanNene/ThreadGoat/internal/dashboard"
	"github.com/IshaanNene/ThreadGoat/internal/observability"
	"github.com/IshaanNene/ThreadGoat/internal/storage"
	"github.com/IshaanNene/ThreadGoat/internal/types"
)

// scheduleCmd creates the "schedule" subcommand, which re-crawls the
// configured sources on a cron schedule. Each run is incremental: the
// history is reloaded from the output file before every run.
func scheduleCmd() *cobra.Command {
	var (
		cronExpr string
		sources  string
		now      bool
		serve    bool
	)
	cmd := &cobra.Command{
		Use:   "schedule",
		Short: "Run incremental crawls on a cron schedule",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, logger, err := loadConfig()
			if err != nil {
				return err
			}
			if cronExpr != "" {
				cfg.Schedule.Cron = cronExpr
			}
			if sources != "" {
				cfg.Schedule.Sources = splitList(sources)
			}
			if err := validateSources(cfg.Schedule.Sources); err != nil {
				return err
			}

			ctx, cancel := signalContext(logger)
			defer cancel()

			metrics := observability.NewMetrics(logger)
			if cfg.Metrics.Enabled {
				if err := metrics.StartServer(ctx, cfg.Metrics.Port, cfg.Metrics.Path); err != nil {
					logger.Warn("failed to start metrics server", "error", err)
				}
			}
			if serve {
				store, err := storage.NewSQLiteStore(cfg.Storage.SQLitePath, logger)
				if err != nil {
					return err
				}
				defer store.Close()
				gin.SetMode(gin.ReleaseMode)
				go func() {
					if err := dashboard.NewDashboard(cfg.Dashboard.Port, store, metrics, logger).Start(ctx); err != nil {
						logger.Error("dashboard error", "error", err)
					}
				}()
			}

			return runSchedule(ctx, cfg, metrics, logger, now)
		},
	}
	cmd.Flags().StringVar(&cronExpr, "cron", "", "five-field cron expression (default from config)")
	cmd.Flags().StringVar(&sources, "sources", "", "comma-separated sources: forum, reddit")
	cmd.Flags().BoolVar(&now, "now", false, "run once immediately before waiting for the schedule")
	cmd.Flags().BoolVar(&serve, "serve", false, "also serve the dashboard")
	return cmd
}

func validateSources(sources []string) error {
	if len(sources) == 0 {
		return fmt.Errorf("schedule.sources must name at least one source")
	}
	for _, s := range sources {
		if s != types.SourceForum && s != types.SourceReddit {
			return fmt.Errorf("unknown source %q (valid: forum, reddit)", s)
		}
	}
	return nil
}

// runSchedule blocks until ctx is cancelled. A tick that fires while the
// previous run is still going is skipped.
func runSchedule(ctx context.Context, cfg *config.Config, metrics *observability.Metrics, logger *slog.Logger, now bool) error {
	logger = logger.With("component", "schedule")
	parser := cron.NewParser(cron.Minute | cron.Hour | cron.Dom | cron.Month | cron.Dow | cron.Descriptor)
	schedule, err := parser.Parse(cfg.Schedule.Cron)
	if err != nil {
		return fmt.Errorf("invalid cron expression %q: %w", cfg.Schedule.Cron, err)
	}

	cronLogger := cron.VerbosePrintfLogger(slog.NewLogLogger(logger.Handler(), slog.LevelDebug))
	c := cron.New(
		cron.WithParser(parser),
		cron.WithChain(cron.SkipIfStillRunning(cronLogger), cron.Recover(cronLogger)),
	)

	job := cron.FuncJob(func() { runAll(ctx, cfg, metrics, logger) })
	c.Schedule(schedule, job)

	if now {
		runAll(ctx, cfg, metrics, logger)
	}

	c.Start()
	logger.Info("scheduler started",
		"cron", cfg.Schedule.Cron,
		"sources", cfg.Schedule.Sources,
		"next", schedule.Next(time.Now()),
	)

	<-ctx.Done()
	logger.Info("scheduler stopping, waiting for the running crawl")
	<-c.Stop().Done()
	return nil
}

// runAll crawls every scheduled source in order. A failed source is logged
// and does not stop the others.
func runAll(ctx context.Context, cfg *config.Config, metrics *observability.Metrics, logger *slog.Logger) {
	for _, source := range cfg.Schedule.Sources {
		if ctx.Err() != nil {
			return
		}
		start := time.Now()
		summary, err := runSource(ctx, source, cfg, metrics, logger)
		if err != nil {
			logger.Error("scheduled crawl failed", "source", source, "error", err)
			continue
		}
		logger.Info("scheduled crawl finished",
			"source", source,
			"run_id", summary.RunID,
			"stored", summary.Stored,
			"skipped", summary.Skipped,
			"incomplete", summary.Incomplete,
			"elapsed", time.Since(start).Round(time.Millisecond),
		)
	}
}
