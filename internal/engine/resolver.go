package engine

import (
	"context"
	"log/slog"

	"github.com/IshaanNene/ThreadGoat/internal/types"
)

// ResolverState is the per-discussion resolution state.
type ResolverState int

const (
	// NeedsMore means the reported reply count exceeds what was merged.
	NeedsMore ResolverState = iota
	// Resolving means the frontier still holds nodes to expand.
	Resolving
	// Done means the thread has been emitted.
	Done
)

func (s ResolverState) String() string {
	switch s {
	case NeedsMore:
		return "needs_more"
	case Resolving:
		return "resolving"
	case Done:
		return "done"
	default:
		return "unknown"
	}
}

// Resolution is the outcome of resolving one discussion.
type Resolution struct {
	Thread *types.Thread
	State  ResolverState

	// Fetches counts reply-API calls issued; Failures counts those that
	// errored.
	Fetches  int
	Failures int

	// Visited counts nodes expanded from the frontier.
	Visited int
}

// Resolver reconstructs a discussion's reply tree. It merges the fragments a
// page fetch produced, then, while the reported count is not met, walks the
// reply API breadth-first from the discussion root.
//
// Only the root is paginated. Every other node gets a single fetch per visit
// plus expansion of its own partial children.
type Resolver struct {
	fetcher      ReplyFetcher
	maxRootPages int
	logger       *slog.Logger
}

// NewResolver creates a Resolver. A nil fetcher emits every discussion as
// merged from its page fetch. maxRootPages <= 0 leaves root pagination
// bounded only by the API's own hasNextPage and the repeated-cursor guard.
func NewResolver(fetcher ReplyFetcher, maxRootPages int, logger *slog.Logger) *Resolver {
	return &Resolver{
		fetcher:      fetcher,
		maxRootPages: maxRootPages,
		logger:       logger.With("component", "resolver"),
	}
}

// Resolve merges and expands a fetched discussion. It never fails: fetch
// errors are logged, the failing node contributes nothing, and the thread is
// emitted with Complete set to false.
func (r *Resolver) Resolve(ctx context.Context, f *Fetched) *Resolution {
	d := f.Discussion
	set := NewReplySet(d.ID)
	set.Add(f.Inline...)
	set.Add(f.Background...)

	res := &Resolution{Thread: types.NewThread(d), State: NeedsMore}
	logger := r.logger.With("discussion", d.ID)

	if d.ReplyCount <= set.Len() || r.fetcher == nil || d.ID == "" {
		logger.Debug("no expansion needed",
			"reported", d.ReplyCount,
			"merged", set.Len(),
		)
		return r.finish(res, set)
	}

	frontier := NewFrontier()
	frontier.Push(d.ID, true)
	res.State = Resolving
	logger.Debug("resolving replies", "reported", d.ReplyCount, "merged", set.Len())

	for !frontier.IsEmpty() {
		if ctx.Err() != nil {
			logger.Warn("resolution cancelled", "pending", frontier.Len())
			res.Thread.Complete = false
			break
		}

		id, _, _ := frontier.Pop()
		res.Visited++

		if id == d.ID {
			r.expandRoot(ctx, logger, id, set, frontier, res)
			continue
		}
		// Nested nodes get one page; anything past it stays unresolved.
		if p, ok := r.expandNode(ctx, logger, id, "", set, frontier, res); ok && p.HasNextPage {
			logger.Info("nested replies left unpaginated", "node", id, "cursor", p.EndCursor)
			res.Thread.Complete = false
		}
	}

	return r.finish(res, set)
}

// expandRoot walks every reply page of the root node.
func (r *Resolver) expandRoot(ctx context.Context, logger *slog.Logger, id string, set *ReplySet, frontier *Frontier, res *Resolution) {
	cursor := ""
	seen := make(map[string]struct{})

	for page := 1; ; page++ {
		if r.maxRootPages > 0 && page > r.maxRootPages {
			logger.Warn("root page limit reached", "pages", r.maxRootPages)
			res.Thread.Complete = false
			return
		}

		p, ok := r.expandNode(ctx, logger, id, cursor, set, frontier, res)
		if !ok || !p.HasNextPage || p.EndCursor == "" {
			return
		}
		if _, dup := seen[p.EndCursor]; dup {
			logger.Warn("reply cursor repeated, stopping root pagination", "cursor", p.EndCursor)
			return
		}
		seen[p.EndCursor] = struct{}{}
		cursor = p.EndCursor
	}
}

// expandNode issues one fetch for a node and absorbs the returned replies.
func (r *Resolver) expandNode(ctx context.Context, logger *slog.Logger, id, cursor string, set *ReplySet, frontier *Frontier, res *Resolution) (*ReplyPage, bool) {
	res.Fetches++
	p, err := r.fetcher.FetchReplies(ctx, id, cursor)
	if err != nil {
		res.Failures++
		res.Thread.Complete = false
		logger.Warn("reply fetch failed", "node", id, "cursor", cursor, "error", err)
		return nil, false
	}

	added, queued := 0, 0
	for _, n := range p.Nodes {
		added += set.Add(n.Reply)
		if n.Partial() && frontier.Push(n.Reply.ID, true) {
			queued++
		}
	}
	logger.Debug("node expanded",
		"node", id,
		"returned", len(p.Nodes),
		"added", added,
		"queued", queued,
		"has_next_page", p.HasNextPage,
	)
	return p, true
}

func (r *Resolver) finish(res *Resolution, set *ReplySet) *Resolution {
	res.Thread.Replies = set.Replies()
	res.State = Done
	return res
}
