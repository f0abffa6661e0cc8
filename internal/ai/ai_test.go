package ai

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"os"
	"sort"
	"strings"
	"testing"

	"github.com/IshaanNene/ThreadGoat/internal/config"
	"github.com/IshaanNene/ThreadGoat/internal/observability"
	"github.com/IshaanNene/ThreadGoat/internal/types"
)

var testLogger = slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: slog.LevelError}))

func TestKeywordTagger(t *testing.T) {
	tests := []struct {
		title, content string
		category       string
		area           string
		sentiment      string
	}{
		{"Copilot in Excel keeps crashing", "Every formula request fails with an error", "Troubleshooting", "Excel", "Negative"},
		{"How do I summarize a Teams meeting?", "", "How-to", "Teams", "Neutral"},
		{"Please add dark mode", "would be nice in Outlook", "Feature Request", "Outlook", "Neutral"},
		{"Love the new agents", "great work, thanks", "Feedback", "General", "Positive"},
		{"Weekly thread", "nothing in particular", "General Discussion", "General", "Neutral"},
	}
	tagger := NewKeywordTagger()
	for _, tt := range tests {
		t.Run(tt.title, func(t *testing.T) {
			a, err := tagger.Tag(context.Background(), &types.Discussion{Title: tt.title, Content: tt.content})
			if err != nil {
				t.Fatal(err)
			}
			if a.Category != tt.category || a.ProductArea != tt.area || a.Sentiment != tt.sentiment {
				t.Errorf("got %q/%q/%q, want %q/%q/%q", a.Category, a.ProductArea, a.Sentiment, tt.category, tt.area, tt.sentiment)
			}
			if a.Summary != tt.title || a.AnalyzedAt.IsZero() {
				t.Errorf("summary=%q analyzed_at=%v", a.Summary, a.AnalyzedAt)
			}
		})
	}
}

func TestKeywordPainPoints(t *testing.T) {
	a, _ := NewKeywordTagger().Tag(context.Background(), &types.Discussion{Content: "slow and broken, constant crash"})
	want := []string{"broken", "crash", "slow"}
	if !sort.StringsAreSorted(a.PainPoints) || strings.Join(a.PainPoints, ",") != strings.Join(want, ",") {
		t.Errorf("pain points = %v, want %v", a.PainPoints, want)
	}
}

func TestExtractJSON(t *testing.T) {
	tests := []struct {
		in   string
		want string
		ok   bool
	}{
		{`{"a":1}`, `{"a":1}`, true},
		{"Sure! Here it is:\n```json\n{\"a\":{\"b\":2}}\n```", `{"a":{"b":2}}`, true},
		{`{"s":"brace } inside"} trailing`, `{"s":"brace } inside"}`, true},
		{"no json here", "", false},
		{`{"unterminated": 1`, "", false},
	}
	for _, tt := range tests {
		got, ok := extractJSON(tt.in)
		if got != tt.want || ok != tt.ok {
			t.Errorf("extractJSON(%q) = %q, %v; want %q, %v", tt.in, got, ok, tt.want, tt.ok)
		}
	}
}

func TestLLMTaggerOllama(t *testing.T) {
	var gotPayload map[string]any
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/api/generate" {
			http.NotFound(w, r)
			return
		}
		_ = json.NewDecoder(r.Body).Decode(&gotPayload)
		_ = json.NewEncoder(w).Encode(map[string]string{
			"response": `Here you go: {"intent_category":"Troubleshooting","product_area":"","sentiment":"Frustrated","pain_points":["license errors"],"summary":"Copilot license is not applied."}`,
		})
	}))
	defer srv.Close()

	tagger, err := NewTagger(&config.AIConfig{Provider: "ollama", Endpoint: srv.URL, Model: "llama3.2", MaxTokens: 256}, testLogger)
	if err != nil {
		t.Fatal(err)
	}

	a, err := tagger.Tag(context.Background(), &types.Discussion{ID: "message:1", Title: "Excel license", Content: "Copilot license is missing in Excel"})
	if err != nil {
		t.Fatalf("Tag: %v", err)
	}
	if a.Category != "Troubleshooting" || a.Sentiment != "Frustrated" || a.Summary != "Copilot license is not applied." {
		t.Errorf("analysis = %+v", a)
	}
	if a.ProductArea != "Excel" {
		t.Errorf("empty product area should come from keyword fallback, got %q", a.ProductArea)
	}
	if len(a.PainPoints) != 1 || a.PainPoints[0] != "license errors" {
		t.Errorf("pain points = %v", a.PainPoints)
	}

	if gotPayload["model"] != "llama3.2" || gotPayload["format"] != "json" || gotPayload["stream"] != false {
		t.Errorf("payload = %v", gotPayload)
	}
	if prompt, _ := gotPayload["prompt"].(string); !strings.Contains(prompt, "Title: Excel license") {
		t.Errorf("prompt = %q", prompt)
	}
}

func TestLLMTaggerOpenAI(t *testing.T) {
	var gotAuth string
	var gotBody map[string]any
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if !strings.HasSuffix(r.URL.Path, "/chat/completions") {
			http.NotFound(w, r)
			return
		}
		gotAuth = r.Header.Get("Authorization")
		_ = json.NewDecoder(r.Body).Decode(&gotBody)
		w.Header().Set("Content-Type", "application/json")
		_, _ = w.Write([]byte(`{
			"id": "chatcmpl-1",
			"object": "chat.completion",
			"created": 1700000000,
			"model": "gpt-4o-mini",
			"choices": [{
				"index": 0,
				"finish_reason": "stop",
				"message": {"role": "assistant", "content": "{\"category\":\"How-to\",\"product_area\":\"Teams\",\"sentiment\":\"Neutral\",\"summary\":\"Asks how to recap meetings.\"}"}
			}],
			"usage": {"prompt_tokens": 10, "completion_tokens": 20, "total_tokens": 30}
		}`))
	}))
	defer srv.Close()

	client := NewLLMClient(LLMConfig{
		Provider: ProviderOpenAI,
		Endpoint: srv.URL + "/v1/",
		Model:    "gpt-4o-mini",
		APIKey:   "sk-test",
	}, testLogger)
	tagger := NewLLMTagger(client, nil, testLogger)

	a, err := tagger.Tag(context.Background(), &types.Discussion{ID: "message:1", Title: "Meeting recap"})
	if err != nil {
		t.Fatalf("Tag: %v", err)
	}
	if a.Category != "How-to" || a.ProductArea != "Teams" {
		t.Errorf("analysis = %+v", a)
	}
	if gotAuth != "Bearer sk-test" {
		t.Errorf("authorization = %q", gotAuth)
	}
	msgs, _ := gotBody["messages"].([]any)
	if gotBody["model"] != "gpt-4o-mini" || len(msgs) != 2 {
		t.Errorf("body = %v", gotBody)
	}
}

func TestLLMTaggerBadResponse(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		_, _ = w.Write([]byte("I cannot help with that."))
	}))
	defer srv.Close()

	client := NewLLMClient(LLMConfig{Provider: ProviderCustom, Endpoint: srv.URL}, testLogger)
	_, err := NewLLMTagger(client, NewKeywordTagger(), testLogger).Tag(context.Background(), &types.Discussion{ID: "message:1"})

	var parseErr *types.ParseError
	if !errors.As(err, &parseErr) || !errors.Is(err, errNoJSON) {
		t.Errorf("expected ParseError wrapping errNoJSON, got %v", err)
	}
}

func TestNewTaggerUnknownProvider(t *testing.T) {
	if _, err := NewTagger(&config.AIConfig{Provider: "bard"}, testLogger); err == nil {
		t.Error("unknown provider should fail")
	}
	tagger, err := NewTagger(&config.AIConfig{Provider: "keyword"}, testLogger)
	if err != nil {
		t.Fatal(err)
	}
	if _, ok := tagger.(*KeywordTagger); !ok {
		t.Errorf("keyword provider = %T", tagger)
	}
}

// memoryStore is an in-memory Store.
type memoryStore struct {
	order    []string
	docs     map[string]types.Discussion
	analysis map[string]*types.Analysis
}

func newMemoryStore(ids ...string) *memoryStore {
	s := &memoryStore{docs: map[string]types.Discussion{}, analysis: map[string]*types.Analysis{}}
	for _, id := range ids {
		s.order = append(s.order, id)
		s.docs[id] = types.Discussion{ID: id, Title: "Title " + id}
	}
	return s
}

func (s *memoryStore) Unanalyzed(_ context.Context, limit int) ([]types.Discussion, error) {
	var out []types.Discussion
	for _, id := range s.order {
		if _, done := s.analysis[id]; done {
			continue
		}
		if limit > 0 && len(out) >= limit {
			break
		}
		out = append(out, s.docs[id])
	}
	return out, nil
}

func (s *memoryStore) SaveAnalysis(_ context.Context, id string, a *types.Analysis) error {
	s.analysis[id] = a
	return nil
}

type flakyTagger struct {
	failID string
	calls  int
}

func (f *flakyTagger) Tag(_ context.Context, d *types.Discussion) (*types.Analysis, error) {
	f.calls++
	if d.ID == f.failID {
		return nil, errors.New("model offline")
	}
	return &types.Analysis{Category: "General Discussion"}, nil
}

func TestEnricherRun(t *testing.T) {
	store := newMemoryStore("a", "b", "c", "d", "e")
	tagger := &flakyTagger{failID: "b"}
	metrics := observability.NewMetrics(testLogger)

	e := NewEnricher(store, tagger, testLogger, WithBatchSize(2), WithEnricherMetrics(metrics))
	res, err := e.Run(context.Background(), 0)
	if err != nil {
		t.Fatal(err)
	}
	if res.Tagged != 4 || res.Failed != 1 {
		t.Errorf("result = %+v, want 4 tagged 1 failed", res)
	}
	if tagger.calls != 5 {
		t.Errorf("tagger calls = %d, want 5 (no retry within a pass)", tagger.calls)
	}
	if _, ok := store.analysis["b"]; ok {
		t.Error("failed discussion should stay unanalyzed")
	}
	if metrics.Enriched.Load() != 4 || metrics.EnrichFailed.Load() != 1 {
		t.Errorf("metrics = %d/%d", metrics.Enriched.Load(), metrics.EnrichFailed.Load())
	}
}

func TestEnricherLimit(t *testing.T) {
	store := newMemoryStore("a", "b", "c")
	res, err := NewEnricher(store, NewKeywordTagger(), testLogger).Run(context.Background(), 2)
	if err != nil {
		t.Fatal(err)
	}
	if res.Tagged != 2 || len(store.analysis) != 2 {
		t.Errorf("result = %+v, stored = %d", res, len(store.analysis))
	}
}

func TestEnricherCancelled(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	_, err := NewEnricher(newMemoryStore("a"), NewKeywordTagger(), testLogger).Run(ctx, 0)
	if !errors.Is(err, context.Canceled) {
		t.Errorf("expected context.Canceled, got %v", err)
	}
}
