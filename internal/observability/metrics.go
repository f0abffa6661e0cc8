package observability

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"sync/atomic"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Metrics tracks process-wide counters across crawl runs.
type Metrics struct {
	// Listing metrics
	ListingPages          atomic.Int64
	DiscussionsDiscovered atomic.Int64
	DiscussionsSkipped    atomic.Int64

	// Discussion metrics
	DiscussionsFetched atomic.Int64
	DiscussionsFailed  atomic.Int64
	ThreadsStored      atomic.Int64
	ThreadsDropped     atomic.Int64
	RepliesStored      atomic.Int64
	StoreErrors        atomic.Int64

	// Resolver metrics
	ResolverFetches   atomic.Int64
	ResolverFailures  atomic.Int64
	IncompleteThreads atomic.Int64

	// Enrichment metrics
	Enriched     atomic.Int64
	EnrichFailed atomic.Int64

	// Engine metrics
	ActiveWorkers atomic.Int32
	QueueDepth    atomic.Int64
	Runs          atomic.Int64

	logger   *slog.Logger
	registry *prometheus.Registry
	handler  http.Handler
}

const metricsNamespace = "threadgoat"

// NewMetrics creates a Metrics instance with its own Prometheus registry.
func NewMetrics(logger *slog.Logger) *Metrics {
	m := &Metrics{
		logger:   logger.With("component", "metrics"),
		registry: prometheus.NewRegistry(),
	}
	m.register()
	m.handler = promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{Registry: m.registry})
	return m
}

func (m *Metrics) register() {
	factory := promauto.With(m.registry)

	counters := []struct {
		name  string
		help  string
		value *atomic.Int64
	}{
		{"listing_pages_total", "Listing pages fetched", &m.ListingPages},
		{"discussions_discovered_total", "Permalinks discovered on listing pages", &m.DiscussionsDiscovered},
		{"discussions_skipped_total", "Permalinks skipped as already crawled", &m.DiscussionsSkipped},
		{"discussions_fetched_total", "Discussion pages fetched", &m.DiscussionsFetched},
		{"discussions_failed_total", "Discussion pages that failed to fetch", &m.DiscussionsFailed},
		{"threads_stored_total", "Threads written to the sink", &m.ThreadsStored},
		{"threads_dropped_total", "Threads dropped by the pipeline", &m.ThreadsDropped},
		{"replies_stored_total", "Replies written to the sink", &m.RepliesStored},
		{"store_errors_total", "Sink write failures", &m.StoreErrors},
		{"resolver_fetches_total", "Reply API fetches issued by the resolver", &m.ResolverFetches},
		{"resolver_failures_total", "Reply API fetches that failed", &m.ResolverFailures},
		{"incomplete_threads_total", "Threads emitted with unresolved nodes", &m.IncompleteThreads},
		{"enriched_total", "Discussions tagged by enrichment", &m.Enriched},
		{"enrich_failed_total", "Enrichment calls that failed", &m.EnrichFailed},
		{"runs_total", "Crawl runs started", &m.Runs},
	}
	for _, c := range counters {
		value := c.value
		factory.NewCounterFunc(prometheus.CounterOpts{
			Namespace: metricsNamespace,
			Name:      c.name,
			Help:      c.help,
		}, func() float64 { return float64(value.Load()) })
	}

	factory.NewGaugeFunc(prometheus.GaugeOpts{
		Namespace: metricsNamespace,
		Name:      "active_workers",
		Help:      "Currently active workers",
	}, func() float64 { return float64(m.ActiveWorkers.Load()) })
	factory.NewGaugeFunc(prometheus.GaugeOpts{
		Namespace: metricsNamespace,
		Name:      "queue_depth",
		Help:      "Discussions waiting for a worker",
	}, func() float64 { return float64(m.QueueDepth.Load()) })

	m.registry.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)
}

// ServeHTTP serves the registry in Prometheus exposition format.
func (m *Metrics) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	m.handler.ServeHTTP(w, r)
}

// StartServer serves metrics on their own port until ctx is done.
func (m *Metrics) StartServer(ctx context.Context, port int, path string) error {
	mux := http.NewServeMux()
	mux.Handle(path, m.handler)
	mux.HandleFunc("/health", func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
		fmt.Fprint(w, "ok")
	})

	srv := &http.Server{
		Addr:              fmt.Sprintf(":%d", port),
		Handler:           mux,
		ReadHeaderTimeout: 5 * time.Second,
	}
	m.logger.Info("metrics server starting", "addr", srv.Addr, "path", path)

	go func() {
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			m.logger.Error("metrics server error", "error", err)
		}
	}()
	go func() {
		<-ctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		_ = srv.Shutdown(shutdownCtx)
	}()

	return nil
}

// Snapshot returns all metrics as a map.
func (m *Metrics) Snapshot() map[string]int64 {
	return map[string]int64{
		"listing_pages":          m.ListingPages.Load(),
		"discussions_discovered": m.DiscussionsDiscovered.Load(),
		"discussions_skipped":    m.DiscussionsSkipped.Load(),
		"discussions_fetched":    m.DiscussionsFetched.Load(),
		"discussions_failed":     m.DiscussionsFailed.Load(),
		"threads_stored":         m.ThreadsStored.Load(),
		"threads_dropped":        m.ThreadsDropped.Load(),
		"replies_stored":         m.RepliesStored.Load(),
		"store_errors":           m.StoreErrors.Load(),
		"resolver_fetches":       m.ResolverFetches.Load(),
		"resolver_failures":      m.ResolverFailures.Load(),
		"incomplete_threads":     m.IncompleteThreads.Load(),
		"enriched":               m.Enriched.Load(),
		"enrich_failed":          m.EnrichFailed.Load(),
		"runs":                   m.Runs.Load(),
		"active_workers":         int64(m.ActiveWorkers.Load()),
		"queue_depth":            m.QueueDepth.Load(),
	}
}
