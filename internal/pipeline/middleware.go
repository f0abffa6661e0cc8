package pipeline

import (
	"context"
	"html"
	"log/slog"
	"net/url"
	"regexp"
	"strings"
	"time"

	"github.com/IshaanNene/ThreadGoat/internal/parser"
	"github.com/IshaanNene/ThreadGoat/internal/types"
)

// --- Text cleaning ---

// CleanTextMiddleware strips markup from rich-text bodies, decodes HTML
// entities, and collapses whitespace on every text field of the discussion
// and its replies.
type CleanTextMiddleware struct {
	blockRe *regexp.Regexp
	tagRe   *regexp.Regexp
}

func NewCleanTextMiddleware() *CleanTextMiddleware {
	return &CleanTextMiddleware{
		blockRe: regexp.MustCompile(`(?i)<\s*(br|/?p|/?div|/?li|/?h[1-6]|/?tr|/?blockquote)\b[^>]*>`),
		tagRe:   regexp.MustCompile(`</?[a-zA-Z!][^>]*>`),
	}
}

func (m *CleanTextMiddleware) Name() string { return "clean_text" }

func (m *CleanTextMiddleware) Process(_ context.Context, t *types.Thread) (*types.Thread, error) {
	d := t.Discussion
	d.Title = CleanText(d.Title)
	d.Author = CleanText(d.Author)
	d.Content = m.CleanBody(d.Content)

	for i := range t.Replies {
		r := &t.Replies[i]
		r.Author = CleanText(r.Author)
		r.Content = m.CleanBody(r.Content)
	}
	return t, nil
}

// CleanBody removes tags from a rich-text body, then cleans it as text.
// Block-level tags become spaces so paragraphs do not run together.
func (m *CleanTextMiddleware) CleanBody(s string) string {
	if s == "" {
		return s
	}
	s = m.blockRe.ReplaceAllString(s, " ")
	s = m.tagRe.ReplaceAllString(s, "")
	return CleanText(s)
}

// CleanText decodes HTML entities, collapses whitespace runs to one space,
// and trims.
func CleanText(s string) string {
	if s == "" {
		return s
	}
	return strings.Join(strings.Fields(html.UnescapeString(s)), " ")
}

// --- Dates ---

// DateNormalizeMiddleware rewrites publish dates to the canonical layout.
// Dates that match no known format are cleared.
type DateNormalizeMiddleware struct{}

func (m *DateNormalizeMiddleware) Name() string { return "date_normalize" }

func (m *DateNormalizeMiddleware) Process(_ context.Context, t *types.Thread) (*types.Thread, error) {
	t.Discussion.PublishDate = normalizeDate(t.Discussion.PublishDate)
	for i := range t.Replies {
		t.Replies[i].PublishDate = normalizeDate(t.Replies[i].PublishDate)
	}
	return t, nil
}

func normalizeDate(s string) string {
	if s == "" {
		return s
	}
	if _, err := time.Parse(types.TimestampLayout, s); err == nil {
		return s
	}
	out, _ := parser.NormalizeTimestamp(s)
	return out
}

// --- Classification ---

// subSourceMarkers are the path segments whose successor names the board.
var subSourceMarkers = map[string]bool{
	"t5":          true,
	"category":    true,
	"discussions": true,
}

// DefaultSubSource is used when a URL names no board.
const DefaultSubSource = "general"

// Classify derives the sub-source from a discussion URL: the path segment
// following the first of t5, category, or discussions. Reddit URLs use the
// segment after r.
func Classify(rawURL string) string {
	u, err := url.Parse(rawURL)
	if err != nil {
		return DefaultSubSource
	}

	markers := subSourceMarkers
	if strings.Contains(strings.ToLower(u.Host), "reddit.com") {
		markers = map[string]bool{"r": true}
	}

	segments := strings.Split(strings.Trim(u.Path, "/"), "/")
	for i, seg := range segments {
		if markers[seg] && i+1 < len(segments) && segments[i+1] != "" {
			return segments[i+1]
		}
	}
	return DefaultSubSource
}

// ClassifyMiddleware fills in the sub-source when the source left it empty.
type ClassifyMiddleware struct{}

func (m *ClassifyMiddleware) Name() string { return "classify" }

func (m *ClassifyMiddleware) Process(_ context.Context, t *types.Thread) (*types.Thread, error) {
	if t.Discussion.SubSource == "" {
		t.Discussion.SubSource = Classify(t.Discussion.URL)
	}
	return t, nil
}

// --- Enrichment ---

// Tagger assigns analysis tags to a discussion.
type Tagger interface {
	Tag(ctx context.Context, d *types.Discussion) (*types.Analysis, error)
}

// EnrichMiddleware tags discussions as they are ingested. A tagging failure
// is logged and the thread continues untagged.
type EnrichMiddleware struct {
	tagger Tagger
	logger *slog.Logger
}

func NewEnrichMiddleware(tagger Tagger, logger *slog.Logger) *EnrichMiddleware {
	return &EnrichMiddleware{
		tagger: tagger,
		logger: logger.With("component", "enrich"),
	}
}

func (m *EnrichMiddleware) Name() string { return "enrich" }

func (m *EnrichMiddleware) Process(ctx context.Context, t *types.Thread) (*types.Thread, error) {
	if t.Discussion.Analysis != nil {
		return t, nil
	}
	analysis, err := m.tagger.Tag(ctx, t.Discussion)
	if err != nil {
		m.logger.Warn("enrichment failed", "id", t.Discussion.ID, "error", err)
		return t, nil
	}
	t.Discussion.Analysis = analysis
	return t, nil
}
