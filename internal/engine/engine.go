package engine

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"

	"github.com/IshaanNene/ThreadGoat/internal/config"
	"github.com/IshaanNene/ThreadGoat/internal/observability"
	"github.com/IshaanNene/ThreadGoat/internal/types"
)

// State represents the crawler's current lifecycle state.
type State int32

const (
	StateIdle     State = 0
	StateRunning  State = 1
	StateStopping State = 2
	StateStopped  State = 3
)

func (s State) String() string {
	switch s {
	case StateIdle:
		return "idle"
	case StateRunning:
		return "running"
	case StateStopping:
		return "stopping"
	case StateStopped:
		return "stopped"
	default:
		return "unknown"
	}
}

// --- Collaborators ---

// ListItem is one entry on a listing page.
type ListItem struct {
	ID        string
	Permalink string
}

// ListResult is one listing page.
type ListResult struct {
	Items       []ListItem
	HasNextPage bool
	EndCursor   string
}

// Lister pages through a platform's discussion listing. An empty cursor
// requests the first page.
type Lister interface {
	ListPage(ctx context.Context, cursor string) (*ListResult, error)
}

// Fetched is a discussion as read from its page, with every reply fragment
// that arrived alongside it.
type Fetched struct {
	Discussion *types.Discussion
	// Inline replies were embedded in the initial render.
	Inline []types.Reply
	// Background replies were captured from API calls the page made itself.
	Background []types.Reply
}

// DiscussionFetcher reads one discussion by permalink.
type DiscussionFetcher interface {
	FetchDiscussion(ctx context.Context, permalink string) (*Fetched, error)
}

// ReplyNode is one reply from a reply-API payload, flattened. Declared is
// the node's own reported nested-reply count; Inline is how many nested
// replies the payload actually carried for it.
type ReplyNode struct {
	Reply    types.Reply
	Declared int
	Inline   int
}

// Partial reports whether the node has nested replies left to fetch.
func (n ReplyNode) Partial() bool {
	return n.Declared > n.Inline
}

// ReplyPage is the result of one reply-API fetch for a node.
type ReplyPage struct {
	Nodes       []ReplyNode
	HasNextPage bool
	EndCursor   string
}

// ReplyFetcher fetches one page of a node's replies.
type ReplyFetcher interface {
	FetchReplies(ctx context.Context, nodeID, cursor string) (*ReplyPage, error)
}

// Processor normalizes a thread before it is stored.
type Processor interface {
	Process(ctx context.Context, thread *types.Thread) (*types.Thread, error)
}

// Sink persists threads.
type Sink interface {
	Upsert(ctx context.Context, thread *types.Thread) error
}

// --- Stats ---

// Stats tracks counters for a single crawl run.
type Stats struct {
	ListingPages     atomic.Int64
	Discovered       atomic.Int64
	Skipped          atomic.Int64
	Fetched          atomic.Int64
	FetchFailed      atomic.Int64
	Stored           atomic.Int64
	Dropped          atomic.Int64
	StoreFailed      atomic.Int64
	Replies          atomic.Int64
	ResolverFetches  atomic.Int64
	ResolverFailures atomic.Int64
	Incomplete       atomic.Int64
	ActiveWorkers    atomic.Int32
	StartTime        time.Time
}

// Snapshot returns a copy of stats safe for reading.
func (s *Stats) Snapshot() map[string]any {
	return map[string]any{
		"listing_pages":     s.ListingPages.Load(),
		"discovered":        s.Discovered.Load(),
		"skipped":           s.Skipped.Load(),
		"fetched":           s.Fetched.Load(),
		"fetch_failed":      s.FetchFailed.Load(),
		"stored":            s.Stored.Load(),
		"dropped":           s.Dropped.Load(),
		"store_failed":      s.StoreFailed.Load(),
		"replies":           s.Replies.Load(),
		"resolver_fetches":  s.ResolverFetches.Load(),
		"resolver_failures": s.ResolverFailures.Load(),
		"incomplete":        s.Incomplete.Load(),
		"active_workers":    s.ActiveWorkers.Load(),
		"elapsed":           time.Since(s.StartTime).String(),
	}
}

// --- Crawler ---

// Crawler runs one incremental crawl: a paginator goroutine discovers new
// permalinks and a worker pool fetches, resolves, normalizes and stores each
// discussion.
type Crawler struct {
	cfg       *config.EngineConfig
	source    string
	lister    Lister
	fetcher   DiscussionFetcher
	resolver  *Resolver
	processor Processor
	sink      Sink
	history   *History
	metrics   *observability.Metrics
	logger    *slog.Logger

	runID  string
	state  atomic.Int32
	stats  *Stats
	cancel context.CancelFunc
	mu     sync.Mutex
}

// Option configures a Crawler.
type Option func(*Crawler)

// WithProcessor runs every thread through p before storing it.
func WithProcessor(p Processor) Option {
	return func(c *Crawler) { c.processor = p }
}

// WithHistory skips permalinks recorded by a previous run.
func WithHistory(h *History) Option {
	return func(c *Crawler) { c.history = h }
}

// WithMetrics mirrors run counters into process-wide metrics.
func WithMetrics(m *observability.Metrics) Option {
	return func(c *Crawler) { c.metrics = m }
}

// WithRunID overrides the generated run id.
func WithRunID(id string) Option {
	return func(c *Crawler) { c.runID = id }
}

// WithSource labels the run in logs and summaries.
func WithSource(source string) Option {
	return func(c *Crawler) { c.source = source }
}

// NewCrawler creates a Crawler. The resolver may wrap a nil ReplyFetcher for
// platforms whose discussion fetch already returns every reply.
func NewCrawler(cfg *config.EngineConfig, lister Lister, fetcher DiscussionFetcher, resolver *Resolver, sink Sink, logger *slog.Logger, opts ...Option) *Crawler {
	c := &Crawler{
		cfg:      cfg,
		source:   types.SourceForum,
		lister:   lister,
		fetcher:  fetcher,
		resolver: resolver,
		sink:     sink,
		history:  NewHistory(0),
		runID:    uuid.New().String(),
		stats:    &Stats{},
	}
	for _, opt := range opts {
		opt(c)
	}
	c.logger = logger.With("component", "crawler", "run_id", c.runID, "source", c.source)
	return c
}

// Run crawls until the listing is exhausted and every discovered discussion
// has been processed. Per-item failures are logged and counted; Run only
// returns an error when the crawler cannot start.
func (c *Crawler) Run(ctx context.Context) (*types.RunSummary, error) {
	runCtx, cancel := context.WithCancel(ctx)
	defer cancel()

	c.mu.Lock()
	if !c.state.CompareAndSwap(int32(StateIdle), int32(StateRunning)) {
		state := State(c.state.Load())
		c.mu.Unlock()
		if state == StateStopped {
			return nil, types.ErrCrawlStopped
		}
		return nil, fmt.Errorf("crawler is in state %s, cannot start", state)
	}
	c.cancel = cancel
	c.mu.Unlock()
	defer c.state.Store(int32(StateStopped))

	c.stats.StartTime = time.Now()
	c.observe(func(m *observability.Metrics) { m.Runs.Add(1) })
	c.logger.Info("crawl starting",
		"concurrency", c.cfg.Concurrency,
		"history", c.history.Count(),
	)

	tasks := make(chan string, max(c.cfg.QueueSize, 1))

	paginator := NewPaginator(c.lister, c.history, c.logger,
		WithMaxPages(c.cfg.MaxPages),
		WithMaxItems(c.cfg.MaxDiscussions),
		withPaginatorStats(c.stats, c.metrics),
	)

	go func() {
		defer close(tasks)
		paginator.Run(runCtx, func(ctx context.Context, permalink string) bool {
			select {
			case tasks <- permalink:
				c.observe(func(m *observability.Metrics) { m.QueueDepth.Add(1) })
				return true
			case <-ctx.Done():
				return false
			}
		})
	}()

	c.runWorkers(runCtx, tasks)

	summary := c.Summary()
	summary.FinishedAt = time.Now().UTC()
	c.logger.Info("crawl finished", "stats", c.stats.Snapshot())
	return summary, nil
}

// Stop cancels a running crawl. Discussions already being resolved are
// abandoned at their next fetch.
func (c *Crawler) Stop() {
	c.mu.Lock()
	defer c.mu.Unlock()
	if !c.state.CompareAndSwap(int32(StateRunning), int32(StateStopping)) {
		return
	}
	c.logger.Info("crawler stopping...")
	c.cancel()
}

// Stats returns the current run statistics.
func (c *Crawler) Stats() *Stats {
	return c.stats
}

// GetState returns the current crawler state.
func (c *Crawler) GetState() State {
	return State(c.state.Load())
}

// RunID returns the run identifier attached to logs and summaries.
func (c *Crawler) RunID() string {
	return c.runID
}

// Summary returns the run's counters so far.
func (c *Crawler) Summary() *types.RunSummary {
	return &types.RunSummary{
		RunID:        c.runID,
		Source:       c.source,
		StartedAt:    c.stats.StartTime.UTC(),
		ListingPages: c.stats.ListingPages.Load(),
		Discovered:   c.stats.Discovered.Load(),
		Skipped:      c.stats.Skipped.Load(),
		Fetched:      c.stats.Fetched.Load(),
		Failed:       c.stats.FetchFailed.Load(),
		Stored:       c.stats.Stored.Load(),
		Dropped:      c.stats.Dropped.Load(),
		StoreErrors:  c.stats.StoreFailed.Load(),
		Incomplete:   c.stats.Incomplete.Load(),
		Replies:      c.stats.Replies.Load(),
	}
}

func (c *Crawler) observe(fn func(m *observability.Metrics)) {
	if c.metrics != nil {
		fn(c.metrics)
	}
}
