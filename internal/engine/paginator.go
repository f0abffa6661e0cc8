package engine

import (
	"context"
	"errors"
	"log/slog"

	"github.com/IshaanNene/ThreadGoat/internal/observability"
	"github.com/IshaanNene/ThreadGoat/internal/types"
)

// EmitFunc hands a new permalink to the crawl. Returning false stops the
// paginator.
type EmitFunc func(ctx context.Context, permalink string) bool

// Paginator walks a listing forward page by page and emits every permalink
// not recorded in History.
type Paginator struct {
	lister   Lister
	history  *History
	maxPages int
	maxItems int
	stats    *Stats
	metrics  *observability.Metrics
	logger   *slog.Logger
}

// PaginatorOption configures a Paginator.
type PaginatorOption func(*Paginator)

// WithMaxPages caps the number of listing pages read. Zero means no cap.
func WithMaxPages(n int) PaginatorOption {
	return func(p *Paginator) { p.maxPages = n }
}

// WithMaxItems caps the number of permalinks emitted. Zero means no cap.
func WithMaxItems(n int) PaginatorOption {
	return func(p *Paginator) { p.maxItems = n }
}

func withPaginatorStats(s *Stats, m *observability.Metrics) PaginatorOption {
	return func(p *Paginator) {
		p.stats = s
		p.metrics = m
	}
}

// NewPaginator creates a Paginator. A nil history skips nothing.
func NewPaginator(lister Lister, history *History, logger *slog.Logger, opts ...PaginatorOption) *Paginator {
	if history == nil {
		history = NewHistory(0)
	}
	p := &Paginator{
		lister:  lister,
		history: history,
		stats:   &Stats{},
		logger:  logger.With("component", "paginator"),
	}
	for _, opt := range opts {
		opt(p)
	}
	return p
}

// Run pages until the listing reports no next page or no cursor, a cursor
// repeats, a limit is reached, or emit returns false. A failed page, including
// one whose payload carries GraphQL errors, ends the walk without an error:
// permalinks emitted before it are still crawled. Run returns the number of
// permalinks emitted.
func (p *Paginator) Run(ctx context.Context, emit EmitFunc) int {
	cursor := ""
	seenCursors := make(map[string]struct{})
	emitted := 0

	for page := 1; ; page++ {
		if p.maxPages > 0 && page > p.maxPages {
			p.logger.Info("listing page limit reached", "pages", p.maxPages)
			return emitted
		}
		if ctx.Err() != nil {
			return emitted
		}

		result, err := p.lister.ListPage(ctx, cursor)
		if err != nil {
			var apiErr *types.APIError
			if errors.As(err, &apiErr) {
				p.logger.Error("listing returned errors, stopping pagination",
					"page", page,
					"operation", apiErr.Operation,
					"errors", apiErr.Messages,
					"payload", string(apiErr.Raw),
				)
			} else {
				p.logger.Error("listing page failed, stopping pagination", "page", page, "error", err)
			}
			return emitted
		}

		p.stats.ListingPages.Add(1)
		p.observe(func(m *observability.Metrics) { m.ListingPages.Add(1) })

		fresh := 0
		for _, item := range result.Items {
			if item.Permalink == "" {
				continue
			}
			p.stats.Discovered.Add(1)
			p.observe(func(m *observability.Metrics) { m.DiscussionsDiscovered.Add(1) })

			if p.history.IsSeen(item.Permalink) {
				p.stats.Skipped.Add(1)
				p.observe(func(m *observability.Metrics) { m.DiscussionsSkipped.Add(1) })
				continue
			}
			if !emit(ctx, item.Permalink) {
				return emitted
			}
			emitted++
			fresh++
			if p.maxItems > 0 && emitted >= p.maxItems {
				p.logger.Info("discussion limit reached", "limit", p.maxItems)
				return emitted
			}
		}

		p.logger.Debug("listing page read",
			"page", page,
			"items", len(result.Items),
			"new", fresh,
			"has_next_page", result.HasNextPage,
		)

		if !result.HasNextPage || result.EndCursor == "" {
			return emitted
		}
		if _, dup := seenCursors[result.EndCursor]; dup {
			p.logger.Warn("listing cursor repeated, stopping pagination", "cursor", result.EndCursor)
			return emitted
		}
		seenCursors[result.EndCursor] = struct{}{}
		cursor = result.EndCursor
	}
}

func (p *Paginator) observe(fn func(m *observability.Metrics)) {
	if p.metrics != nil {
		fn(p.metrics)
	}
}
