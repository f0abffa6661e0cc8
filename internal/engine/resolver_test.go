package engine

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"sync"
	"testing"

	"github.com/IshaanNene/ThreadGoat/internal/types"
)

var testLogger = slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: slog.LevelError}))

// fakeReplies serves reply pages keyed by "node|cursor" and records calls.
type fakeReplies struct {
	mu    sync.Mutex
	pages map[string]*ReplyPage
	errs  map[string]error
	calls []string
	// fallback, when set, answers any key not in pages.
	fallback func(nodeID, cursor string) *ReplyPage
}

func newFakeReplies() *fakeReplies {
	return &fakeReplies{
		pages: make(map[string]*ReplyPage),
		errs:  make(map[string]error),
	}
}

func (f *fakeReplies) on(nodeID, cursor string, page *ReplyPage) {
	f.pages[nodeID+"|"+cursor] = page
}

func (f *fakeReplies) FetchReplies(_ context.Context, nodeID, cursor string) (*ReplyPage, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	key := nodeID + "|" + cursor
	f.calls = append(f.calls, key)
	if err, ok := f.errs[key]; ok {
		return nil, err
	}
	if p, ok := f.pages[key]; ok {
		return p, nil
	}
	if f.fallback != nil {
		return f.fallback(nodeID, cursor), nil
	}
	return &ReplyPage{}, nil
}

func node(id, parent string, declared, inline int) ReplyNode {
	return ReplyNode{
		Reply: types.Reply{
			ID:            id,
			ParentID:      "message:1",
			ParentReplyID: parent,
			Author:        "author-" + id,
			Content:       "body of " + id,
			PublishDate:   "2025-01-01T00:00:00",
		},
		Declared: declared,
		Inline:   inline,
	}
}

func discussion(replyCount int) *types.Discussion {
	return &types.Discussion{ID: "message:1", ReplyCount: replyCount}
}

func TestResolverEarlyExit(t *testing.T) {
	fake := newFakeReplies()
	r := NewResolver(fake, 10, testLogger)

	res := r.Resolve(context.Background(), &Fetched{
		Discussion: discussion(2),
		Inline: []types.Reply{
			{ID: "message:2", Author: "a", Content: "x"},
			{ID: "message:3", Author: "b", Content: "y"},
		},
	})

	if len(fake.calls) != 0 {
		t.Fatalf("early exit must not fetch, got calls %v", fake.calls)
	}
	if res.State != Done || res.Fetches != 0 {
		t.Errorf("state=%s fetches=%d", res.State, res.Fetches)
	}
	if len(res.Thread.Replies) != 2 || !res.Thread.Complete {
		t.Errorf("thread = %+v", res.Thread)
	}
}

func TestResolverEarlyExitCountsBackgroundFragments(t *testing.T) {
	fake := newFakeReplies()
	r := NewResolver(fake, 10, testLogger)

	res := r.Resolve(context.Background(), &Fetched{
		Discussion: discussion(2),
		Inline:     []types.Reply{{ID: "message:2"}},
		Background: []types.Reply{{ID: "message:2"}, {ID: "message:3"}},
	})
	if len(fake.calls) != 0 {
		t.Errorf("calls = %v", fake.calls)
	}
	if len(res.Thread.Replies) != 2 {
		t.Errorf("replies = %d, want 2", len(res.Thread.Replies))
	}
}

func TestResolverRootPagination(t *testing.T) {
	fake := newFakeReplies()
	fake.on("message:1", "", &ReplyPage{
		Nodes:       []ReplyNode{node("a", "message:1", 0, 0), node("b", "message:1", 0, 0)},
		HasNextPage: true,
		EndCursor:   "c1",
	})
	fake.on("message:1", "c1", &ReplyPage{
		Nodes: []ReplyNode{node("c", "message:1", 0, 0)},
	})

	r := NewResolver(fake, 10, testLogger)
	res := r.Resolve(context.Background(), &Fetched{Discussion: discussion(3)})

	want := []string{"message:1|", "message:1|c1"}
	if fmt.Sprint(fake.calls) != fmt.Sprint(want) {
		t.Errorf("calls = %v, want %v", fake.calls, want)
	}
	if len(res.Thread.Replies) != 3 || !res.Thread.Complete {
		t.Errorf("replies=%d complete=%v", len(res.Thread.Replies), res.Thread.Complete)
	}
}

func TestResolverExpandsPartialNodesInFIFOOrder(t *testing.T) {
	fake := newFakeReplies()
	fake.on("message:1", "", &ReplyPage{Nodes: []ReplyNode{
		node("a", "message:1", 3, 1),
		node("a-inline", "a", 0, 0),
		node("b", "message:1", 2, 0),
		node("c", "message:1", 0, 0),
	}})
	fake.on("a", "", &ReplyPage{Nodes: []ReplyNode{
		node("a-inline", "a", 0, 0),
		node("a2", "a", 0, 0),
		node("a3", "a", 0, 0),
	}})
	fake.on("b", "", &ReplyPage{Nodes: []ReplyNode{
		node("b1", "b", 1, 0),
		node("b2", "b", 0, 0),
	}})
	fake.on("b1", "", &ReplyPage{Nodes: []ReplyNode{
		node("b1x", "b1", 0, 0),
	}})

	r := NewResolver(fake, 10, testLogger)
	res := r.Resolve(context.Background(), &Fetched{Discussion: discussion(10)})

	want := []string{"message:1|", "a|", "b|", "b1|"}
	if fmt.Sprint(fake.calls) != fmt.Sprint(want) {
		t.Errorf("visit order = %v, want %v", fake.calls, want)
	}
	if res.Visited != 4 || res.Fetches != 4 {
		t.Errorf("visited=%d fetches=%d", res.Visited, res.Fetches)
	}

	ids := make([]string, len(res.Thread.Replies))
	for i, reply := range res.Thread.Replies {
		ids[i] = reply.ID
	}
	wantIDs := []string{"a", "a-inline", "b", "c", "a2", "a3", "b1", "b2", "b1x"}
	if fmt.Sprint(ids) != fmt.Sprint(wantIDs) {
		t.Errorf("merged = %v, want %v", ids, wantIDs)
	}
	if res.Thread.Missing() != 1 {
		t.Errorf("missing = %d, want 1", res.Thread.Missing())
	}
}

func TestResolverTerminatesWhenCountsLie(t *testing.T) {
	fake := newFakeReplies()
	// Every node claims 1000 nested replies and answers with the same three
	// children, including its parent and the root.
	fake.fallback = func(nodeID, _ string) *ReplyPage {
		return &ReplyPage{Nodes: []ReplyNode{
			node("x", nodeID, 1000, 0),
			node("y", nodeID, 1000, 0),
			node("message:1", nodeID, 1000, 0),
		}}
	}

	r := NewResolver(fake, 10, testLogger)
	res := r.Resolve(context.Background(), &Fetched{Discussion: discussion(1_000_000)})

	// root, x, y: each id is expanded at most once.
	if len(fake.calls) != 3 {
		t.Fatalf("calls = %v, want 3", fake.calls)
	}
	if res.State != Done {
		t.Errorf("state = %s", res.State)
	}
}

func TestResolverPartialFailureStillEmits(t *testing.T) {
	fake := newFakeReplies()
	fake.on("message:1", "", &ReplyPage{Nodes: []ReplyNode{
		node("a", "message:1", 5, 0),
		node("b", "message:1", 2, 0),
	}})
	fake.errs["a|"] = errors.New("connection reset")
	fake.on("b", "", &ReplyPage{Nodes: []ReplyNode{node("b1", "b", 0, 0)}})

	r := NewResolver(fake, 10, testLogger)
	res := r.Resolve(context.Background(), &Fetched{Discussion: discussion(9)})

	if res.State != Done {
		t.Fatalf("state = %s", res.State)
	}
	if res.Failures != 1 || res.Fetches != 3 {
		t.Errorf("failures=%d fetches=%d", res.Failures, res.Fetches)
	}
	if res.Thread.Complete {
		t.Error("thread with a failed node must be marked incomplete")
	}
	if len(res.Thread.Replies) != 3 {
		t.Errorf("replies = %d, want 3 (a, b, b1)", len(res.Thread.Replies))
	}
	if res.Thread.Discussion.ReplyCount <= len(res.Thread.Replies) {
		t.Error("reported count should exceed gathered replies after a failure")
	}
}

func TestResolverRootFailureKeepsInline(t *testing.T) {
	fake := newFakeReplies()
	fake.errs["message:1|"] = &types.APIError{Operation: "MessageReplies", Messages: []string{"boom"}}

	r := NewResolver(fake, 10, testLogger)
	res := r.Resolve(context.Background(), &Fetched{
		Discussion: discussion(5),
		Inline:     []types.Reply{{Author: "amy", PublishDate: "2025-01-01T10:00:00", Content: "hi"}},
	})
	if len(res.Thread.Replies) != 1 || res.Thread.Complete {
		t.Errorf("replies=%d complete=%v", len(res.Thread.Replies), res.Thread.Complete)
	}
}

func TestResolverNonRootNodesAreNotRepaginated(t *testing.T) {
	fake := newFakeReplies()
	fake.on("message:1", "", &ReplyPage{Nodes: []ReplyNode{node("a", "message:1", 20, 0)}})
	fake.on("a", "", &ReplyPage{
		Nodes:       []ReplyNode{node("a1", "a", 0, 0)},
		HasNextPage: true,
		EndCursor:   "next",
	})

	r := NewResolver(fake, 10, testLogger)
	res := r.Resolve(context.Background(), &Fetched{Discussion: discussion(21)})

	for _, c := range fake.calls {
		if c == "a|next" {
			t.Fatalf("non-root node was paginated: %v", fake.calls)
		}
	}
	if len(fake.calls) != 2 {
		t.Errorf("calls = %v", fake.calls)
	}
	if len(res.Thread.Replies) != 2 || res.Thread.Complete {
		t.Errorf("replies=%d complete=%v, want 2 replies and an incomplete thread",
			len(res.Thread.Replies), res.Thread.Complete)
	}
}

func TestResolverStopsOnRepeatedRootCursor(t *testing.T) {
	fake := newFakeReplies()
	fake.fallback = func(nodeID, cursor string) *ReplyPage {
		return &ReplyPage{
			Nodes:       []ReplyNode{node("r-"+cursor, nodeID, 0, 0)},
			HasNextPage: true,
			EndCursor:   "same",
		}
	}

	r := NewResolver(fake, 50, testLogger)
	res := r.Resolve(context.Background(), &Fetched{Discussion: discussion(100)})

	if len(fake.calls) != 2 {
		t.Errorf("calls = %v, want first page plus one repeat", fake.calls)
	}
	if res.State != Done {
		t.Errorf("state = %s", res.State)
	}
}

func TestResolverRootPageLimit(t *testing.T) {
	fake := newFakeReplies()
	n := 0
	fake.fallback = func(nodeID, cursor string) *ReplyPage {
		n++
		return &ReplyPage{
			Nodes:       []ReplyNode{node(fmt.Sprintf("r%d", n), nodeID, 0, 0)},
			HasNextPage: true,
			EndCursor:   fmt.Sprintf("c%d", n),
		}
	}

	r := NewResolver(fake, 3, testLogger)
	res := r.Resolve(context.Background(), &Fetched{Discussion: discussion(100)})

	if len(fake.calls) != 3 {
		t.Errorf("calls = %d, want 3", len(fake.calls))
	}
	if res.Thread.Complete {
		t.Error("hitting the root page limit leaves the thread incomplete")
	}
}

func TestResolverNilFetcher(t *testing.T) {
	r := NewResolver(nil, 10, testLogger)
	res := r.Resolve(context.Background(), &Fetched{
		Discussion: discussion(40),
		Inline:     []types.Reply{{ID: "c1"}, {ID: "c2"}},
	})
	if res.State != Done || len(res.Thread.Replies) != 2 || res.Fetches != 0 {
		t.Errorf("res = %+v", res)
	}
}

func TestResolverCancelledContext(t *testing.T) {
	fake := newFakeReplies()
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	r := NewResolver(fake, 10, testLogger)
	res := r.Resolve(ctx, &Fetched{Discussion: discussion(5)})
	if len(fake.calls) != 0 {
		t.Errorf("calls = %v", fake.calls)
	}
	if res.Thread.Complete || res.State != Done {
		t.Errorf("complete=%v state=%s", res.Thread.Complete, res.State)
	}
}

// --- Merge Tests ---

func TestReplySetDedupByNativeID(t *testing.T) {
	s := NewReplySet("message:1")
	s.Add(types.Reply{ID: "message:9", Author: "amy", Content: "Hello world"})
	added := s.Add(types.Reply{ID: "message:9", Author: "amy", Content: "  Hello\n\tworld  "})

	if added != 0 || s.Len() != 1 {
		t.Fatalf("added=%d len=%d", added, s.Len())
	}
	if got := s.Replies()[0].Content; got != "Hello world" {
		t.Errorf("first-seen copy should win, got %q", got)
	}
}

func TestReplySetSynthesizedKeyCollision(t *testing.T) {
	s := NewReplySet("message:1")
	s.Add(
		types.Reply{Author: "amy", PublishDate: "2025-03-01T09:30:00", Content: "first point"},
		types.Reply{Author: "amy", PublishDate: "2025-03-01T09:30:00", Content: "a different second point"},
		types.Reply{Author: "bob", PublishDate: "2025-03-01T09:30:00", Content: "other author"},
		types.Reply{Author: "bob", PublishDate: "2025-03-01T09:30:13", Content: "seconds later"},
		types.Reply{Author: "bob", PublishDate: "2025-03-01T09:30:45", Content: "same minute"},
		types.Reply{Author: "bob", PublishDate: "2025-03-01T09:31:00", Content: "next minute"},
	)

	// Same author and same timestamp truncated to the minute collapse into
	// one entry.
	if s.Len() != 3 {
		t.Fatalf("len = %d, want 3", s.Len())
	}
	if s.Replies()[0].Content != "first point" {
		t.Errorf("kept %q", s.Replies()[0].Content)
	}
}

func TestReplySetFillsParents(t *testing.T) {
	s := NewReplySet("message:1")
	s.Add(types.Reply{ID: "message:2"})
	r := s.Replies()[0]
	if r.ParentID != "message:1" || r.ParentReplyID != "message:1" {
		t.Errorf("parents = %q / %q", r.ParentID, r.ParentReplyID)
	}
	if !s.Has(types.Reply{ID: "message:2"}) {
		t.Error("Has should report kept key")
	}
}

// --- Frontier Tests ---

func TestFrontierFIFOAndVisited(t *testing.T) {
	f := NewFrontier()
	for _, id := range []string{"a", "b", "c"} {
		if !f.Push(id, true) {
			t.Fatalf("push %s rejected", id)
		}
	}
	if f.Push("b", true) {
		t.Error("queued id must not be queued twice")
	}
	if f.Push("", true) {
		t.Error("empty id must be rejected")
	}

	id, _, _ := f.Pop()
	if id != "a" {
		t.Fatalf("pop = %s, want a", id)
	}
	if !f.Visited("a") || f.Push("a", true) {
		t.Error("visited id must not be re-queued")
	}

	if got := f.Snapshot(); fmt.Sprint(got) != "[b c]" {
		t.Errorf("snapshot = %v", got)
	}

	f.Pop()
	f.Pop()
	if _, _, ok := f.Pop(); ok || !f.IsEmpty() {
		t.Error("frontier should be empty")
	}
	if f.VisitedCount() != 3 {
		t.Errorf("visited = %d", f.VisitedCount())
	}
}

// --- Benchmarks ---

func BenchmarkResolverWideTree(b *testing.B) {
	fake := newFakeReplies()
	var nodes []ReplyNode
	for i := 0; i < 200; i++ {
		nodes = append(nodes, node(fmt.Sprintf("n%d", i), "message:1", 1, 0))
	}
	fake.on("message:1", "", &ReplyPage{Nodes: nodes})
	r := NewResolver(fake, 10, testLogger)

	b.ResetTimer()
	for i := 0; i < b.N; i++ {
		fake.calls = fake.calls[:0]
		r.Resolve(context.Background(), &Fetched{Discussion: discussion(1000)})
	}
}
