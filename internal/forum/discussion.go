package forum

import (
	"context"
	"log/slog"

	"github.com/IshaanNene/ThreadGoat/internal/engine"
	"github.com/IshaanNene/ThreadGoat/internal/fetcher"
	"github.com/IshaanNene/ThreadGoat/internal/parser"
)

// DiscussionSource renders discussion pages and extracts their metadata,
// inline replies, and replies from background API traffic.
type DiscussionSource struct {
	renderer  fetcher.PageRenderer
	extractor *parser.DiscussionExtractor
	logger    *slog.Logger
}

// NewDiscussionSource creates a DiscussionSource.
func NewDiscussionSource(renderer fetcher.PageRenderer, logger *slog.Logger) *DiscussionSource {
	return &DiscussionSource{
		renderer:  renderer,
		extractor: parser.NewDiscussionExtractor(logger),
		logger:    logger.With("component", "forum_discussion"),
	}
}

// FetchDiscussion implements engine.DiscussionFetcher.
func (s *DiscussionSource) FetchDiscussion(ctx context.Context, permalink string) (*engine.Fetched, error) {
	page, err := s.renderer.Render(ctx, permalink)
	if err != nil {
		return nil, err
	}

	extracted, err := s.extractor.Extract(page)
	if err != nil {
		return nil, err
	}
	d := extracted.Discussion
	if d.URL == "" {
		d.URL = permalink
	}

	fetched := &engine.Fetched{
		Discussion: d,
		Inline:     extracted.Replies,
	}
	if len(page.Intercepted) > 0 && d.ID != "" {
		fetched.Background = RepliesFromPayloads(page.Intercepted, d.ID, s.logger)
	}

	s.logger.Debug("discussion fetched",
		"url", permalink,
		"id", d.ID,
		"reported_replies", d.ReplyCount,
		"inline", len(fetched.Inline),
		"background", len(fetched.Background),
	)
	return fetched, nil
}

// Compile-time interface checks.
var (
	_ engine.Lister            = (*ListingSource)(nil)
	_ engine.ReplyFetcher      = (*ReplyClient)(nil)
	_ engine.DiscussionFetcher = (*DiscussionSource)(nil)
	_ Doer                     = (*fetcher.HTTPFetcher)(nil)
)
