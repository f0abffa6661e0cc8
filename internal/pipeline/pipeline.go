package pipeline

import (
	"context"
	"errors"
	"log/slog"
	"sync"

	"github.com/IshaanNene/ThreadGoat/internal/types"
)

// Middleware processes a thread and returns the (possibly modified) thread.
// Return nil to drop the thread from the pipeline.
type Middleware interface {
	// Name returns the middleware's identifier.
	Name() string

	// Process transforms a thread. Return nil to drop the thread.
	Process(ctx context.Context, thread *types.Thread) (*types.Thread, error)
}

// Pipeline chains middleware processors together. It satisfies
// engine.Processor.
type Pipeline struct {
	middlewares []Middleware
	logger      *slog.Logger
}

// New creates a new Pipeline.
func New(logger *slog.Logger) *Pipeline {
	return &Pipeline{
		logger: logger.With("component", "pipeline"),
	}
}

// NewDefault builds the normalization chain used before persistence:
// required fields, cleaning, reply filtering, date normalization,
// classification, and in-run dedup. A non-nil tagger appends enrichment.
func NewDefault(logger *slog.Logger, tagger Tagger) *Pipeline {
	p := New(logger)
	p.Use(&RequiredFieldsMiddleware{})
	p.Use(NewCleanTextMiddleware())
	p.Use(&ReplyFilterMiddleware{})
	p.Use(&DateNormalizeMiddleware{})
	p.Use(&ClassifyMiddleware{})
	p.Use(NewDedupMiddleware())
	if tagger != nil {
		p.Use(NewEnrichMiddleware(tagger, logger))
	}
	return p
}

// Use adds a middleware to the pipeline chain.
func (p *Pipeline) Use(mw Middleware) {
	p.middlewares = append(p.middlewares, mw)
	p.logger.Debug("middleware added", "name", mw.Name(), "position", len(p.middlewares))
}

// Process runs the thread through all middleware in order.
func (p *Pipeline) Process(ctx context.Context, thread *types.Thread) (*types.Thread, error) {
	current := thread

	for _, mw := range p.middlewares {
		result, err := mw.Process(ctx, current)
		if err != nil {
			return nil, &types.PipelineError{
				Stage:  mw.Name(),
				Thread: current,
				Err:    err,
			}
		}
		if result == nil {
			p.logger.Debug("thread dropped", "stage", mw.Name(), "url", discussionURL(thread))
			return nil, nil
		}
		current = result
	}

	return current, nil
}

// Len returns the number of middleware in the chain.
func (p *Pipeline) Len() int {
	return len(p.middlewares)
}

func discussionURL(t *types.Thread) string {
	if t == nil || t.Discussion == nil {
		return ""
	}
	return t.Discussion.URL
}

// --- Built-in Middleware ---

var errNoDiscussion = errors.New("thread has no discussion")

// RequiredFieldsMiddleware drops threads without a discussion id or URL.
// Every other field may be absent.
type RequiredFieldsMiddleware struct{}

func (m *RequiredFieldsMiddleware) Name() string { return "required_fields" }

func (m *RequiredFieldsMiddleware) Process(_ context.Context, t *types.Thread) (*types.Thread, error) {
	if t == nil || t.Discussion == nil {
		return nil, errNoDiscussion
	}
	if t.Discussion.ID == "" || t.Discussion.URL == "" {
		return nil, nil
	}
	return t, nil
}

// DedupMiddleware drops a thread whose discussion id was already processed
// in this run.
type DedupMiddleware struct {
	mu   sync.Mutex
	seen map[string]struct{}
}

func NewDedupMiddleware() *DedupMiddleware {
	return &DedupMiddleware{seen: make(map[string]struct{})}
}

func (m *DedupMiddleware) Name() string { return "dedup" }

func (m *DedupMiddleware) Process(_ context.Context, t *types.Thread) (*types.Thread, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	id := t.Discussion.ID
	if _, exists := m.seen[id]; exists {
		return nil, nil
	}
	m.seen[id] = struct{}{}
	return t, nil
}

// ReplyFilterMiddleware removes replies without content.
type ReplyFilterMiddleware struct{}

func (m *ReplyFilterMiddleware) Name() string { return "reply_filter" }

func (m *ReplyFilterMiddleware) Process(_ context.Context, t *types.Thread) (*types.Thread, error) {
	kept := t.Replies[:0]
	for _, r := range t.Replies {
		if r.Content != "" {
			kept = append(kept, r)
		}
	}
	t.Replies = kept
	return t, nil
}
