package pipeline

import (
	"context"
	"errors"
	"log/slog"
	"os"
	"testing"

	"github.com/IshaanNene/ThreadGoat/internal/types"
)

var testLogger = slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: slog.LevelError}))

func newThread(id, rawURL string, replies ...types.Reply) *types.Thread {
	t := types.NewThread(&types.Discussion{ID: id, URL: rawURL})
	t.Replies = replies
	return t
}

func TestPipelineDefault(t *testing.T) {
	p := NewDefault(testLogger, nil)

	thread := newThread("message:1", "https://techcommunity.microsoft.com/t5/microsoft-365-copilot/x/m-p/1",
		types.Reply{ID: "message:2", Author: " amy ", Content: "<p>first &amp; best</p><p>line</p>", PublishDate: "2025-03-01T09:30:00.000-08:00"},
		types.Reply{ID: "message:3", Author: "bob", Content: "  "},
		types.Reply{ID: "message:4", Author: "cy", Content: "ok", PublishDate: "not a date"},
	)
	thread.Discussion.Title = "  Copilot   &quot;agents&quot;\n"
	thread.Discussion.PublishDate = "Dec 9, 2025 10:02 PM"

	out, err := p.Process(context.Background(), thread)
	if err != nil {
		t.Fatalf("pipeline error: %v", err)
	}
	d := out.Discussion
	if d.Title != `Copilot "agents"` {
		t.Errorf("title = %q", d.Title)
	}
	if d.PublishDate != "2025-12-09T22:02:00" {
		t.Errorf("publish date = %q", d.PublishDate)
	}
	if d.SubSource != "microsoft-365-copilot" {
		t.Errorf("sub source = %q", d.SubSource)
	}
	if len(out.Replies) != 2 {
		t.Fatalf("replies = %+v", out.Replies)
	}
	if r := out.Replies[0]; r.Author != "amy" || r.Content != "first & best line" || r.PublishDate != "2025-03-01T09:30:00" {
		t.Errorf("reply 0 = %+v", r)
	}
	if out.Replies[1].PublishDate != "" {
		t.Errorf("unparseable date should be cleared, got %q", out.Replies[1].PublishDate)
	}

	// Same discussion again in the same run is dropped.
	again, err := p.Process(context.Background(), newThread("message:1", "https://x/t5/b/1"))
	if err != nil || again != nil {
		t.Errorf("duplicate = %v, %v; want nil, nil", again, err)
	}
}

func TestRequiredFieldsMiddleware(t *testing.T) {
	m := &RequiredFieldsMiddleware{}

	if out, err := m.Process(context.Background(), newThread("message:1", "https://x/1")); err != nil || out == nil {
		t.Error("thread with id and url should pass")
	}
	if out, _ := m.Process(context.Background(), newThread("", "https://x/1")); out != nil {
		t.Error("thread without id should be dropped")
	}
	if out, _ := m.Process(context.Background(), newThread("message:1", "")); out != nil {
		t.Error("thread without url should be dropped")
	}
	if _, err := m.Process(context.Background(), &types.Thread{}); err == nil {
		t.Error("thread without discussion should error")
	}
}

func TestPipelineWrapsStageError(t *testing.T) {
	p := New(testLogger)
	p.Use(&RequiredFieldsMiddleware{})

	_, err := p.Process(context.Background(), &types.Thread{})
	var pipeErr *types.PipelineError
	if !errors.As(err, &pipeErr) || pipeErr.Stage != "required_fields" {
		t.Errorf("expected PipelineError at required_fields, got %v", err)
	}
}

func TestClassify(t *testing.T) {
	tests := []struct {
		url  string
		want string
	}{
		{"https://techcommunity.microsoft.com/t5/microsoft-365-copilot/some-topic/m-p/1", "microsoft-365-copilot"},
		{"https://techcommunity.microsoft.com/category/microsoft365copilot/discussions/microsoft365copilot", "microsoft365copilot"},
		{"https://techcommunity.microsoft.com/discussions/copilotforsmallandmediumbusiness/topic/4382855", "copilotforsmallandmediumbusiness"},
		{"https://www.reddit.com/r/microsoft365/comments/abc/title/", "microsoft365"},
		{"https://techcommunity.microsoft.com/blog/post/1", "general"},
		{"https://techcommunity.microsoft.com/t5/", "general"},
		{"://bad", "general"},
	}
	for _, tt := range tests {
		if got := Classify(tt.url); got != tt.want {
			t.Errorf("Classify(%q) = %q, want %q", tt.url, got, tt.want)
		}
	}
}

func TestClassifyKeepsSourceValue(t *testing.T) {
	thread := newThread("reddit_abc", "https://www.reddit.com/r/microsoft/comments/abc/")
	thread.Discussion.SubSource = "Microsoft"

	out, _ := (&ClassifyMiddleware{}).Process(context.Background(), thread)
	if out.Discussion.SubSource != "Microsoft" {
		t.Errorf("sub source = %q", out.Discussion.SubSource)
	}
}

func TestCleanBody(t *testing.T) {
	m := NewCleanTextMiddleware()
	tests := []struct {
		in, want string
	}{
		{`<p>Hello <b>World</b></p> &amp; <a href="x">link</a>`, "Hello World & link"},
		{"a < b and c > d", "a < b and c > d"},
		{"line one<br/>line two", "line one line two"},
		{"", ""},
	}
	for _, tt := range tests {
		if got := m.CleanBody(tt.in); got != tt.want {
			t.Errorf("CleanBody(%q) = %q, want %q", tt.in, got, tt.want)
		}
	}
}

type fakeTagger struct {
	err   error
	calls int
}

func (f *fakeTagger) Tag(_ context.Context, d *types.Discussion) (*types.Analysis, error) {
	f.calls++
	if f.err != nil {
		return nil, f.err
	}
	return &types.Analysis{Category: "How-to", ProductArea: "Excel", Sentiment: "Neutral"}, nil
}

func TestEnrichMiddleware(t *testing.T) {
	tagger := &fakeTagger{}
	m := NewEnrichMiddleware(tagger, testLogger)

	out, err := m.Process(context.Background(), newThread("message:1", "https://x/1"))
	if err != nil || out.Discussion.Analysis == nil || out.Discussion.Analysis.ProductArea != "Excel" {
		t.Fatalf("enrich = %+v, %v", out, err)
	}

	// Already tagged discussions are left alone.
	if _, err := m.Process(context.Background(), out); err != nil || tagger.calls != 1 {
		t.Errorf("calls = %d, err = %v", tagger.calls, err)
	}

	failing := NewEnrichMiddleware(&fakeTagger{err: errors.New("model offline")}, testLogger)
	out, err = failing.Process(context.Background(), newThread("message:2", "https://x/2"))
	if err != nil || out == nil || out.Discussion.Analysis != nil {
		t.Errorf("failed enrichment must not block: %+v, %v", out, err)
	}
}

// --- Benchmarks ---

func BenchmarkPipeline(b *testing.B) {
	p := New(testLogger)
	p.Use(NewCleanTextMiddleware())
	p.Use(&ReplyFilterMiddleware{})
	p.Use(&DateNormalizeMiddleware{})
	p.Use(&ClassifyMiddleware{})

	b.ResetTimer()
	for i := 0; i < b.N; i++ {
		thread := newThread("message:1", "https://techcommunity.microsoft.com/t5/board/x/m-p/1",
			types.Reply{Author: "amy", Content: "  <p>Content</p>  ", PublishDate: "Jan 15, 2024"},
		)
		thread.Discussion.Title = "  Hello <b>World</b>  "
		p.Process(context.Background(), thread)
	}
}
