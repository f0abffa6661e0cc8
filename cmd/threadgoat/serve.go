package main

import (
	"github.com/gin-gonic/gin"
	"github.com/spf13/cobra"

	"github.com/IshaanNene/ThreadGoat/internal/dashboard"
	"github.com/IshaanNene/ThreadGoat/internal/observability"
	"github.com/IshaanNene/ThreadGoat/internal/storage"
)

// serveCmd creates the "serve" subcommand for the read-only dashboard.
func serveCmd() *cobra.Command {
	var port int
	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Serve the dashboard over the SQLite store",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, logger, err := loadConfig()
			if err != nil {
				return err
			}
			if port > 0 {
				cfg.Dashboard.Port = port
			}
			if cfg.Logging.Level != "debug" {
				gin.SetMode(gin.ReleaseMode)
			}

			ctx, cancel := signalContext(logger)
			defer cancel()

			store, err := storage.NewSQLiteStore(cfg.Storage.SQLitePath, logger)
			if err != nil {
				return err
			}
			defer store.Close()

			return dashboard.NewDashboard(cfg.Dashboard.Port, store, observability.NewMetrics(logger), logger).Start(ctx)
		},
	}
	cmd.Flags().IntVarP(&port, "port", "p", 0, "listen port (default from config)")
	return cmd
}
