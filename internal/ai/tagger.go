package ai

import (
	"context"
	"fmt"
	"log/slog"
	"sort"
	"strings"
	"time"

	"github.com/IshaanNene/ThreadGoat/internal/config"
	"github.com/IshaanNene/ThreadGoat/internal/types"
)

// Tagger assigns analysis tags to a discussion.
type Tagger interface {
	Tag(ctx context.Context, d *types.Discussion) (*types.Analysis, error)
}

// Tagging is the JSON object an LLM is asked to return.
type Tagging struct {
	Category       string   `json:"category"`
	IntentCategory string   `json:"intent_category"`
	ProductArea    string   `json:"product_area"`
	Sentiment      string   `json:"sentiment"`
	PainPoints     []string `json:"pain_points"`
	Summary        string   `json:"summary"`
}

// Analysis converts the tagging, preferring category over intent_category.
func (t *Tagging) Analysis(now time.Time) *types.Analysis {
	category := t.Category
	if category == "" {
		category = t.IntentCategory
	}
	return &types.Analysis{
		Category:    strings.TrimSpace(category),
		ProductArea: strings.TrimSpace(t.ProductArea),
		Sentiment:   strings.TrimSpace(t.Sentiment),
		PainPoints:  t.PainPoints,
		Summary:     strings.TrimSpace(t.Summary),
		AnalyzedAt:  now,
	}
}

// NewTagger returns the tagger selected by ai.provider. LLM providers fall
// back to keyword tags for fields the model leaves empty.
func NewTagger(cfg *config.AIConfig, logger *slog.Logger) (Tagger, error) {
	keyword := NewKeywordTagger()
	switch LLMProvider(strings.ToLower(cfg.Provider)) {
	case "", "keyword":
		return keyword, nil
	case ProviderOllama, ProviderOpenAI, ProviderCustom:
		client := NewLLMClient(LLMConfig{
			Provider:    LLMProvider(strings.ToLower(cfg.Provider)),
			Endpoint:    cfg.Endpoint,
			Model:       cfg.Model,
			APIKey:      cfg.APIKey,
			MaxTokens:   cfg.MaxTokens,
			Temperature: cfg.Temperature,
		}, logger)
		return NewLLMTagger(client, keyword, logger), nil
	default:
		return nil, fmt.Errorf("unsupported ai provider: %s", cfg.Provider)
	}
}

// --- Keyword tagging ---

type keywordArea struct {
	keyword string
	area    string
}

// Product areas in match order; the first keyword found wins.
var productAreas = []keywordArea{
	{"excel", "Excel"},
	{"powerpoint", "PowerPoint"},
	{"outlook", "Outlook"},
	{"teams", "Teams"},
	{"copilot studio", "Copilot Studio"},
	{"onenote", "OneNote"},
	{"whiteboard", "Whiteboard"},
	{"loop", "Loop"},
	{"word", "Word"},
	{"admin", "Admin Center"},
	{"security", "Security"},
	{"compliance", "Compliance"},
	{"windows", "Windows"},
	{"power bi", "Power BI"},
	{"power automate", "Power Automate"},
}

var (
	negativeWords = []string{"fail", "error", "bug", "broken", "issue", "problem", "slow", "crash", "stuck", "hate", "useless", "frustrat"}
	positiveWords = []string{"great", "love", "amazing", "helpful", "thanks", "good", "excellent", "awesome"}
)

type intentRule struct {
	category string
	phrases  []string
}

// Intent categories checked in order.
var intentRules = []intentRule{
	{"Feature Request", []string{"feature request", "would be nice", "please add", "wish", "suggestion", "roadmap"}},
	{"Troubleshooting", []string{"error", "not working", "doesn't work", "does not work", "fail", "broken", "bug", "crash", "issue"}},
	{"How-to", []string{"how do i", "how to", "how can i", "is it possible", "can i", "?"}},
	{"Feedback", []string{"feedback", "love", "great", "disappointed", "hate"}},
}

// KeywordTagger tags discussions from word lists without a model.
type KeywordTagger struct{}

// NewKeywordTagger creates a KeywordTagger.
func NewKeywordTagger() *KeywordTagger { return &KeywordTagger{} }

// Tag never fails.
func (k *KeywordTagger) Tag(_ context.Context, d *types.Discussion) (*types.Analysis, error) {
	text := strings.ToLower(d.Title + " " + d.Content)
	return &types.Analysis{
		Category:    IntentCategory(text),
		ProductArea: ProductArea(text),
		Sentiment:   Sentiment(text),
		PainPoints:  painPoints(text),
		Summary:     d.Title,
		AnalyzedAt:  time.Now().UTC(),
	}, nil
}

// ProductArea returns the first product named in text, or "General".
func ProductArea(text string) string {
	text = strings.ToLower(text)
	for _, p := range productAreas {
		if strings.Contains(text, p.keyword) {
			return p.area
		}
	}
	return "General"
}

// Sentiment compares negative and positive word hits.
func Sentiment(text string) string {
	text = strings.ToLower(text)
	neg, pos := countHits(text, negativeWords), countHits(text, positiveWords)
	switch {
	case neg > pos:
		return "Negative"
	case pos > neg:
		return "Positive"
	default:
		return "Neutral"
	}
}

// IntentCategory returns the first matching intent, or "General Discussion".
func IntentCategory(text string) string {
	text = strings.ToLower(text)
	for _, rule := range intentRules {
		for _, phrase := range rule.phrases {
			if strings.Contains(text, phrase) {
				return rule.category
			}
		}
	}
	return "General Discussion"
}

func countHits(text string, words []string) int {
	n := 0
	for _, w := range words {
		if strings.Contains(text, w) {
			n++
		}
	}
	return n
}

// painPoints lists the negative words present, sorted.
func painPoints(text string) []string {
	var out []string
	for _, w := range negativeWords {
		if strings.Contains(text, w) {
			out = append(out, w)
		}
	}
	sort.Strings(out)
	return out
}
