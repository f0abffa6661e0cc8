package storage

import (
	"bufio"
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/IshaanNene/ThreadGoat/internal/config"
	"github.com/IshaanNene/ThreadGoat/internal/types"
)

var testLogger = slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: slog.LevelError}))

func newTestStore(t *testing.T) *SQLiteStore {
	t.Helper()
	store, err := NewSQLiteStore(filepath.Join(t.TempDir(), "db", "threadgoat.db"), testLogger)
	if err != nil {
		t.Fatalf("NewSQLiteStore: %v", err)
	}
	t.Cleanup(func() { _ = store.Close() })
	return store
}

func sampleThread(id string, reported int, replies ...types.Reply) *types.Thread {
	d := &types.Discussion{
		ID:          id,
		SourceID:    types.BareID(id),
		Platform:    types.PlatformTechCommunity,
		SubSource:   "microsoft365copilot",
		Title:       "Topic " + id,
		Author:      "owner",
		PublishDate: "2025-03-01T09:30:00",
		Content:     "body",
		URL:         "https://techcommunity.microsoft.com/t5/microsoft365copilot/m-p/" + types.BareID(id),
		ReplyCount:  reported,
		ScrapedAt:   time.Date(2025, 3, 2, 0, 0, 0, 0, time.UTC),
	}
	t := types.NewThread(d)
	t.Replies = replies
	t.Complete = len(replies) >= reported
	return t
}

func TestSQLiteUpsertIdempotent(t *testing.T) {
	store := newTestStore(t)
	ctx := context.Background()

	thread := sampleThread("message:1", 3,
		types.Reply{ID: "message:2", ParentID: "message:1", ParentReplyID: "message:1", Author: "amy", Content: "a", ThumbsUpCount: 2},
		types.Reply{ParentID: "message:1", Author: "bob", PublishDate: "2025-03-01T10:00:00", Content: "b"},
	)

	for i := 0; i < 2; i++ {
		if err := store.Upsert(ctx, thread); err != nil {
			t.Fatalf("Upsert #%d: %v", i+1, err)
		}
	}

	st, err := store.Stats(ctx)
	if err != nil {
		t.Fatal(err)
	}
	if st.Discussions != 1 || st.Replies != 2 {
		t.Errorf("stats = %d discussions, %d replies; want 1, 2", st.Discussions, st.Replies)
	}
	if st.Incomplete != 1 {
		t.Errorf("incomplete = %d, want 1", st.Incomplete)
	}

	got, err := store.GetThread(ctx, "message:1")
	if err != nil {
		t.Fatalf("GetThread: %v", err)
	}
	if got.Discussion.Title != "Topic message:1" || got.Discussion.ReplyCount != 3 || got.Complete {
		t.Errorf("discussion = %+v complete=%v", got.Discussion, got.Complete)
	}
	if !got.Discussion.ScrapedAt.Equal(thread.Discussion.ScrapedAt) {
		t.Errorf("scraped_at = %v", got.Discussion.ScrapedAt)
	}
	if len(got.Replies) != 2 {
		t.Fatalf("replies = %+v", got.Replies)
	}
	ids := map[string]bool{}
	for _, r := range got.Replies {
		ids[r.ID] = true
	}
	if !ids["message:2"] || !ids["message:1#bob|2025-03-01T10:00:00"] {
		t.Errorf("reply ids = %v", ids)
	}
}

func TestSQLiteUpsertReplacesFields(t *testing.T) {
	store := newTestStore(t)
	ctx := context.Background()

	thread := sampleThread("message:1", 1, types.Reply{ID: "message:2", Author: "amy", Content: "old"})
	if err := store.Upsert(ctx, thread); err != nil {
		t.Fatal(err)
	}
	thread.Discussion.Title = "Renamed"
	thread.Replies[0].Content = "new"
	if err := store.Upsert(ctx, thread); err != nil {
		t.Fatal(err)
	}

	got, _ := store.GetThread(ctx, "message:1")
	if got.Discussion.Title != "Renamed" || got.Replies[0].Content != "new" {
		t.Errorf("not replaced: %q / %q", got.Discussion.Title, got.Replies[0].Content)
	}
	if got.Replies[0].ParentID != "message:1" {
		t.Errorf("parent = %q", got.Replies[0].ParentID)
	}
}

func TestSQLiteAnalysisSurvivesRecrawl(t *testing.T) {
	store := newTestStore(t)
	ctx := context.Background()

	thread := sampleThread("message:1", 0)
	if err := store.Upsert(ctx, thread); err != nil {
		t.Fatal(err)
	}

	pending, err := store.Unanalyzed(ctx, 10)
	if err != nil || len(pending) != 1 {
		t.Fatalf("unanalyzed = %v, %v", pending, err)
	}

	analysis := &types.Analysis{Category: "How-to", ProductArea: "Excel", Sentiment: "Negative", PainPoints: []string{"slow"}}
	if err := store.SaveAnalysis(ctx, "message:1", analysis); err != nil {
		t.Fatalf("SaveAnalysis: %v", err)
	}

	// A re-crawl without analysis keeps the stored tags.
	if err := store.Upsert(ctx, sampleThread("message:1", 0)); err != nil {
		t.Fatal(err)
	}

	got, _ := store.GetThread(ctx, "message:1")
	a := got.Discussion.Analysis
	if a == nil || a.ProductArea != "Excel" || len(a.PainPoints) != 1 || a.PainPoints[0] != "slow" {
		t.Errorf("analysis = %+v", a)
	}
	if pending, _ := store.Unanalyzed(ctx, 10); len(pending) != 0 {
		t.Errorf("unanalyzed after save = %d", len(pending))
	}

	err = store.SaveAnalysis(ctx, "message:404", analysis)
	if !errors.Is(err, types.ErrNotFound) {
		t.Errorf("SaveAnalysis on unknown id = %v", err)
	}
}

func TestSQLiteDiscrepancies(t *testing.T) {
	store := newTestStore(t)
	ctx := context.Background()

	threads := []*types.Thread{
		sampleThread("message:1", 5, types.Reply{ID: "a", Content: "x"}),
		sampleThread("message:2", 1, types.Reply{ID: "b", Content: "x"}),
		sampleThread("message:3", 2),
	}
	for _, th := range threads {
		if err := store.Upsert(ctx, th); err != nil {
			t.Fatal(err)
		}
	}

	got, err := store.Discrepancies(ctx, 0)
	if err != nil {
		t.Fatal(err)
	}
	if len(got) != 2 {
		t.Fatalf("discrepancies = %+v", got)
	}
	if got[0].ID != "message:1" || got[0].Missing() != 4 || got[1].ID != "message:3" || got[1].Stored != 0 {
		t.Errorf("discrepancies = %+v", got)
	}
}

func TestSQLiteListDiscussions(t *testing.T) {
	store := newTestStore(t)
	ctx := context.Background()

	a := sampleThread("message:1", 0)
	a.Discussion.Content = "Copilot in Excel is slow"
	a.Discussion.PublishDate = "2025-01-01T00:00:00"
	b := sampleThread("reddit_x", 0)
	b.Discussion.Platform = types.PlatformReddit
	b.Discussion.SubSource = "microsoft"
	b.Discussion.PublishDate = "2025-02-01T00:00:00"
	for _, th := range []*types.Thread{a, b} {
		if err := store.Upsert(ctx, th); err != nil {
			t.Fatal(err)
		}
	}

	tests := []struct {
		name   string
		filter DiscussionFilter
		want   []string
	}{
		{"all newest first", DiscussionFilter{}, []string{"reddit_x", "message:1"}},
		{"platform", DiscussionFilter{Platform: types.PlatformReddit}, []string{"reddit_x"}},
		{"sub source", DiscussionFilter{SubSource: "microsoft365copilot"}, []string{"message:1"}},
		{"search", DiscussionFilter{Search: "excel"}, []string{"message:1"}},
		{"limit", DiscussionFilter{Limit: 1}, []string{"reddit_x"}},
		{"offset", DiscussionFilter{Limit: 1, Offset: 1}, []string{"message:1"}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := store.ListDiscussions(ctx, tt.filter)
			if err != nil {
				t.Fatal(err)
			}
			var ids []string
			for _, d := range got {
				ids = append(ids, d.ID)
			}
			if len(ids) != len(tt.want) {
				t.Fatalf("ids = %v, want %v", ids, tt.want)
			}
			for i := range ids {
				if ids[i] != tt.want[i] {
					t.Errorf("ids = %v, want %v", ids, tt.want)
				}
			}
		})
	}

	st, _ := store.Stats(ctx)
	if len(st.ByPlatform) != 2 || len(st.DuplicateURLs) != 0 {
		t.Errorf("stats = %+v", st)
	}
}

func TestSQLiteGetThreadNotFound(t *testing.T) {
	store := newTestStore(t)
	_, err := store.GetThread(context.Background(), "message:404")
	if !errors.Is(err, types.ErrNotFound) {
		t.Errorf("expected ErrNotFound, got %v", err)
	}
}

func TestSQLiteRuns(t *testing.T) {
	store := newTestStore(t)
	ctx := context.Background()

	start := time.Date(2025, 3, 1, 12, 0, 0, 0, time.UTC)
	for i, id := range []string{"run-a", "run-b"} {
		run := &types.RunSummary{
			RunID:      id,
			Source:     types.SourceForum,
			StartedAt:  start.Add(time.Duration(i) * time.Hour),
			FinishedAt: start.Add(time.Duration(i)*time.Hour + time.Minute),
			Stored:     int64(10 + i),
		}
		if err := store.RecordRun(ctx, run); err != nil {
			t.Fatal(err)
		}
	}

	runs, err := store.RecentRuns(ctx, 10)
	if err != nil {
		t.Fatal(err)
	}
	if len(runs) != 2 || runs[0].RunID != "run-b" || runs[0].Stored != 11 {
		t.Fatalf("runs = %+v", runs)
	}
	if runs[0].Duration() != time.Minute {
		t.Errorf("duration = %v", runs[0].Duration())
	}
}

func TestJSONLSinkAppends(t *testing.T) {
	path := filepath.Join(t.TempDir(), "out", "discussions.jsonl")

	for i := 0; i < 2; i++ {
		sink, err := NewJSONLSink(path, testLogger)
		if err != nil {
			t.Fatal(err)
		}
		if err := sink.Upsert(context.Background(), sampleThread("message:1", 0)); err != nil {
			t.Fatal(err)
		}
		if err := sink.Close(); err != nil {
			t.Fatal(err)
		}
	}

	f, err := os.Open(path)
	if err != nil {
		t.Fatal(err)
	}
	defer f.Close()

	lines := 0
	scanner := bufio.NewScanner(f)
	for scanner.Scan() {
		var rec map[string]any
		if err := json.Unmarshal(scanner.Bytes(), &rec); err != nil {
			t.Fatalf("line %d: %v", lines+1, err)
		}
		if rec["discussion_url"] != "https://techcommunity.microsoft.com/t5/microsoft365copilot/m-p/1" {
			t.Errorf("discussion_url = %v", rec["discussion_url"])
		}
		if _, ok := rec["replies"]; !ok {
			t.Error("record has no replies member")
		}
		lines++
	}
	if lines != 2 {
		t.Errorf("lines = %d, want 2", lines)
	}
}

func TestJSONLSinkClosed(t *testing.T) {
	sink, err := NewJSONLSink(filepath.Join(t.TempDir(), "x.jsonl"), testLogger)
	if err != nil {
		t.Fatal(err)
	}
	_ = sink.Close()

	var storageErr *types.StorageError
	if err := sink.Upsert(context.Background(), sampleThread("message:1", 0)); !errors.As(err, &storageErr) {
		t.Errorf("expected StorageError after close, got %v", err)
	}
}

type failingSink struct{ calls int }

func (f *failingSink) Upsert(context.Context, *types.Thread) error {
	f.calls++
	return &types.StorageError{Backend: "failing", Err: errors.New("down")}
}
func (f *failingSink) Close() error { return nil }
func (f *failingSink) Name() string { return "failing" }

func TestMultiSinkContinuesPastFailure(t *testing.T) {
	store := newTestStore(t)
	bad := &failingSink{}
	multi := NewMultiSink([]Sink{bad, store}, testLogger)

	err := multi.Upsert(context.Background(), sampleThread("message:1", 0))
	if err == nil {
		t.Fatal("expected the failing backend's error")
	}
	if got, _ := store.GetThread(context.Background(), "message:1"); got == nil {
		t.Error("healthy backend should still be written")
	}
	if multi.SQLite() != store {
		t.Error("SQLite() should return the relational backend")
	}
}

func TestNewSink(t *testing.T) {
	dir := t.TempDir()
	cfg := &config.StorageConfig{
		Backends:   []string{"sqlite", "jsonl"},
		SQLitePath: filepath.Join(dir, "t.db"),
		OutputPath: filepath.Join(dir, "t.jsonl"),
	}
	sink, err := NewSink(context.Background(), cfg, testLogger)
	if err != nil {
		t.Fatal(err)
	}
	defer sink.Close()

	if names := sink.Backends(); len(names) != 2 || names[0] != "sqlite" || names[1] != "jsonl" {
		t.Errorf("backends = %v", names)
	}

	cfg.Backends = []string{"csv"}
	if _, err := NewSink(context.Background(), cfg, testLogger); err == nil {
		t.Error("unknown backend should fail")
	}
	cfg.Backends = []string{"mongodb"}
	if _, err := NewSink(context.Background(), cfg, testLogger); err == nil {
		t.Error("mongodb without a URI should fail")
	}
}

func TestThreadDocument(t *testing.T) {
	thread := sampleThread("message:1", 1, types.Reply{ID: "message:2", Author: "amy", Content: "hi"})
	now := time.Date(2025, 3, 1, 0, 0, 0, 0, time.UTC)

	doc, err := threadDocument(thread, now)
	if err != nil {
		t.Fatal(err)
	}
	if _, ok := doc["_id"]; ok {
		t.Error("_id must be carried by the filter, not $set")
	}
	if doc["title"] != "Topic message:1" || doc["complete"] != true {
		t.Errorf("doc = %v", doc)
	}
	if _, ok := doc["analysis"]; ok {
		t.Error("nil analysis must be omitted")
	}
	if _, ok := doc["replies"]; !ok {
		t.Error("replies must be embedded")
	}

	if _, err := threadDocument(&types.Thread{Discussion: &types.Discussion{}}, now); err == nil {
		t.Error("thread without id should fail")
	}
}
