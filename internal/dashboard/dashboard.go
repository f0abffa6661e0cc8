package dashboard

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"strconv"
	"time"

	"github.com/gin-gonic/gin"

	"github.com/IshaanNene/ThreadGoat/internal/observability"
	"github.com/IshaanNene/ThreadGoat/internal/storage"
	"github.com/IshaanNene/ThreadGoat/internal/types"
)

// Store is the read side of the relational store. storage.SQLiteStore
// satisfies it.
type Store interface {
	Stats(ctx context.Context) (*storage.Stats, error)
	ListDiscussions(ctx context.Context, f storage.DiscussionFilter) ([]types.Discussion, error)
	GetThread(ctx context.Context, id string) (*types.Thread, error)
	Discrepancies(ctx context.Context, limit int) ([]storage.Discrepancy, error)
	RecentRuns(ctx context.Context, limit int) ([]types.RunSummary, error)
}

const (
	defaultPageSize = 50
	maxPageSize     = 500
)

// Dashboard serves the stored discussions and crawl counters over HTTP.
type Dashboard struct {
	port    int
	store   Store
	metrics *observability.Metrics
	started time.Time
	logger  *slog.Logger
}

// NewDashboard creates a new dashboard server. metrics may be nil.
func NewDashboard(port int, store Store, metrics *observability.Metrics, logger *slog.Logger) *Dashboard {
	return &Dashboard{
		port:    port,
		store:   store,
		metrics: metrics,
		started: time.Now(),
		logger:  logger.With("component", "dashboard"),
	}
}

// Router builds the gin engine with every route registered.
func (d *Dashboard) Router() *gin.Engine {
	router := gin.New()
	router.Use(d.requestLogger())
	router.Use(gin.Recovery())

	router.GET("/", d.handleDashboard)
	router.GET("/health", d.handleHealth)
	if d.metrics != nil {
		router.GET("/metrics", gin.WrapH(d.metrics))
	}

	api := router.Group("/api")
	api.GET("/stats", d.handleStats)
	api.GET("/discussions", d.handleDiscussions)
	api.GET("/discussions/:id", d.handleDiscussion)
	api.GET("/discrepancies", d.handleDiscrepancies)
	api.GET("/runs", d.handleRuns)

	return router
}

// Start serves until ctx is done, then shuts down gracefully.
func (d *Dashboard) Start(ctx context.Context) error {
	srv := &http.Server{
		Addr:              fmt.Sprintf(":%d", d.port),
		Handler:           d.Router(),
		ReadHeaderTimeout: 5 * time.Second,
	}
	d.logger.Info("dashboard starting", "addr", srv.Addr)

	errCh := make(chan error, 1)
	go func() {
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
		close(errCh)
	}()

	select {
	case err := <-errCh:
		return err
	case <-ctx.Done():
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	d.logger.Info("dashboard stopping")
	return srv.Shutdown(shutdownCtx)
}

func (d *Dashboard) requestLogger() gin.HandlerFunc {
	return func(c *gin.Context) {
		start := time.Now()
		c.Next()
		d.logger.Debug("http request",
			"method", c.Request.Method,
			"path", c.Request.URL.Path,
			"status", c.Writer.Status(),
			"duration", time.Since(start),
		)
	}
}

// --- Handlers ---

func (d *Dashboard) handleDashboard(c *gin.Context) {
	c.Data(http.StatusOK, "text/html; charset=utf-8", []byte(dashboardHTML))
}

func (d *Dashboard) handleHealth(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{
		"status": "ok",
		"uptime": time.Since(d.started).Round(time.Second).String(),
	})
}

func (d *Dashboard) handleStats(c *gin.Context) {
	stats, err := d.store.Stats(c.Request.Context())
	if err != nil {
		d.fail(c, "stats", err)
		return
	}
	resp := gin.H{
		"timestamp": time.Now().UTC().Format(time.RFC3339),
		"store":     stats,
	}
	if d.metrics != nil {
		resp["counters"] = d.metrics.Snapshot()
	}
	c.Header("Access-Control-Allow-Origin", "*")
	c.JSON(http.StatusOK, resp)
}

func (d *Dashboard) handleDiscussions(c *gin.Context) {
	limit, ok := intQuery(c, "limit", defaultPageSize)
	if !ok {
		return
	}
	offset, ok := intQuery(c, "offset", 0)
	if !ok {
		return
	}

	filter := storage.DiscussionFilter{
		Platform:  c.Query("platform"),
		SubSource: c.Query("sub_source"),
		Search:    c.Query("search"),
		Limit:     min(limit, maxPageSize),
		Offset:    offset,
	}
	discussions, err := d.store.ListDiscussions(c.Request.Context(), filter)
	if err != nil {
		d.fail(c, "list discussions", err)
		return
	}
	if discussions == nil {
		discussions = []types.Discussion{}
	}
	c.JSON(http.StatusOK, gin.H{
		"discussions": discussions,
		"count":       len(discussions),
		"limit":       filter.Limit,
		"offset":      filter.Offset,
	})
}

func (d *Dashboard) handleDiscussion(c *gin.Context) {
	id := c.Param("id")
	thread, err := d.store.GetThread(c.Request.Context(), id)
	if errors.Is(err, types.ErrNotFound) {
		c.JSON(http.StatusNotFound, gin.H{"error": "discussion not found", "id": id})
		return
	}
	if err != nil {
		d.fail(c, "get thread", err)
		return
	}
	c.JSON(http.StatusOK, gin.H{
		"discussion": thread.Discussion,
		"replies":    thread.Replies,
		"complete":   thread.Complete,
		"missing":    thread.Missing(),
	})
}

func (d *Dashboard) handleDiscrepancies(c *gin.Context) {
	limit, ok := intQuery(c, "limit", defaultPageSize)
	if !ok {
		return
	}
	items, err := d.store.Discrepancies(c.Request.Context(), min(limit, maxPageSize))
	if err != nil {
		d.fail(c, "discrepancies", err)
		return
	}
	if items == nil {
		items = []storage.Discrepancy{}
	}
	c.JSON(http.StatusOK, gin.H{"discrepancies": items, "count": len(items)})
}

func (d *Dashboard) handleRuns(c *gin.Context) {
	limit, ok := intQuery(c, "limit", 20)
	if !ok {
		return
	}
	runs, err := d.store.RecentRuns(c.Request.Context(), min(limit, maxPageSize))
	if err != nil {
		d.fail(c, "runs", err)
		return
	}
	if runs == nil {
		runs = []types.RunSummary{}
	}
	c.JSON(http.StatusOK, gin.H{"runs": runs})
}

func (d *Dashboard) fail(c *gin.Context, op string, err error) {
	d.logger.Error("request failed", "op", op, "path", c.Request.URL.Path, "error", err)
	c.JSON(http.StatusInternalServerError, gin.H{"error": op + " failed"})
}

// intQuery reads a non-negative integer parameter. It writes a 400 and
// reports false when the value is malformed.
func intQuery(c *gin.Context, key string, def int) (int, bool) {
	raw := c.Query(key)
	if raw == "" {
		return def, true
	}
	n, err := strconv.Atoi(raw)
	if err != nil || n < 0 {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid " + key, "value": raw})
		return 0, false
	}
	return n, true
}
