package ai

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"strings"
	"time"

	"github.com/openai/openai-go"
	"github.com/openai/openai-go/option"

	"github.com/IshaanNene/ThreadGoat/internal/types"
)

// LLMProvider specifies which LLM backend to use.
type LLMProvider string

const (
	ProviderOllama LLMProvider = "ollama"
	ProviderOpenAI LLMProvider = "openai"
	ProviderCustom LLMProvider = "custom"
)

// LLMConfig configures the LLM integration.
type LLMConfig struct {
	Provider    LLMProvider
	Endpoint    string // e.g. "http://localhost:11434" for Ollama
	Model       string // e.g. "llama3.2", "gpt-4o-mini"
	APIKey      string
	MaxTokens   int
	Temperature float64
}

// LLMClient communicates with an LLM for discussion tagging.
type LLMClient struct {
	cfg    LLMConfig
	client *http.Client
	openai openai.Client
	logger *slog.Logger
}

// NewLLMClient creates a new LLM client.
func NewLLMClient(cfg LLMConfig, logger *slog.Logger) *LLMClient {
	httpClient := &http.Client{
		Timeout: 120 * time.Second,
	}
	c := &LLMClient{
		cfg:    cfg,
		client: httpClient,
		logger: logger.With("component", "llm_client"),
	}
	if cfg.Provider == ProviderOpenAI {
		opts := []option.RequestOption{
			option.WithAPIKey(cfg.APIKey),
			option.WithHTTPClient(httpClient),
		}
		if cfg.Endpoint != "" {
			opts = append(opts, option.WithBaseURL(cfg.Endpoint))
		}
		c.openai = openai.NewClient(opts...)
	}
	return c
}

// Generate sends a system and user prompt to the LLM and returns the reply.
func (c *LLMClient) Generate(ctx context.Context, system, prompt string) (string, error) {
	switch c.cfg.Provider {
	case ProviderOllama:
		return c.generateOllama(ctx, system, prompt)
	case ProviderOpenAI:
		return c.generateOpenAI(ctx, system, prompt)
	case ProviderCustom:
		return c.generateCustom(ctx, system, prompt)
	default:
		return "", fmt.Errorf("unsupported LLM provider: %s", c.cfg.Provider)
	}
}

func (c *LLMClient) generateOllama(ctx context.Context, system, prompt string) (string, error) {
	payload := map[string]any{
		"model":  c.cfg.Model,
		"system": system,
		"prompt": prompt,
		"stream": false,
		"format": "json",
		"options": map[string]any{
			"temperature": c.cfg.Temperature,
			"num_predict": c.cfg.MaxTokens,
		},
	}

	body, _ := json.Marshal(payload)
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, strings.TrimRight(c.cfg.Endpoint, "/")+"/api/generate", bytes.NewReader(body))
	if err != nil {
		return "", err
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := c.client.Do(req)
	if err != nil {
		return "", fmt.Errorf("ollama request: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode >= 300 {
		snippet, _ := io.ReadAll(io.LimitReader(resp.Body, 512))
		return "", fmt.Errorf("ollama status %d: %s", resp.StatusCode, strings.TrimSpace(string(snippet)))
	}

	var result struct {
		Response string `json:"response"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&result); err != nil {
		return "", fmt.Errorf("decode ollama response: %w", err)
	}
	return result.Response, nil
}

func (c *LLMClient) generateOpenAI(ctx context.Context, system, prompt string) (string, error) {
	params := openai.ChatCompletionNewParams{
		Model: c.cfg.Model,
		Messages: []openai.ChatCompletionMessageParamUnion{
			openai.SystemMessage(system),
			openai.UserMessage(prompt),
		},
		Temperature: openai.Float(c.cfg.Temperature),
	}
	if c.cfg.MaxTokens > 0 {
		params.MaxCompletionTokens = openai.Int(int64(c.cfg.MaxTokens))
	}

	start := time.Now()
	resp, err := c.openai.Chat.Completions.New(ctx, params)
	if err != nil {
		return "", fmt.Errorf("openai request: %w", err)
	}
	if len(resp.Choices) == 0 {
		return "", fmt.Errorf("no choices in openai response")
	}

	c.logger.Debug("openai completion",
		"model", c.cfg.Model,
		"duration", time.Since(start),
		"prompt_tokens", resp.Usage.PromptTokens,
		"completion_tokens", resp.Usage.CompletionTokens,
	)
	return resp.Choices[0].Message.Content, nil
}

func (c *LLMClient) generateCustom(ctx context.Context, system, prompt string) (string, error) {
	payload := map[string]any{
		"system": system,
		"prompt": prompt,
		"model":  c.cfg.Model,
	}
	body, _ := json.Marshal(payload)

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.cfg.Endpoint, bytes.NewReader(body))
	if err != nil {
		return "", err
	}
	req.Header.Set("Content-Type", "application/json")
	if c.cfg.APIKey != "" {
		req.Header.Set("Authorization", "Bearer "+c.cfg.APIKey)
	}

	resp, err := c.client.Do(req)
	if err != nil {
		return "", err
	}
	defer resp.Body.Close()

	respBody, err := io.ReadAll(resp.Body)
	if err != nil {
		return "", err
	}
	if resp.StatusCode >= 300 {
		return "", fmt.Errorf("custom endpoint status %d", resp.StatusCode)
	}
	return string(respBody), nil
}

// --- LLM tagging ---

const taggingSystemPrompt = "You are an expert customer support analyst. Your goal is to categorize the intent of technical forum discussions."

const taggingPrompt = `Analyze the following customer discussion.

Title: %s
Content: %s

Respond with a JSON object with these keys:
- "category": one of "Troubleshooting", "Feature Request", "How-to", "Feedback", "General Discussion"
- "product_area": the Microsoft product the discussion is about, or "General"
- "sentiment": one of "Positive", "Neutral", "Negative", "Frustrated"
- "pain_points": array of short phrases naming the problems raised
- "summary": a one-sentence summary of the issue`

// maxPromptContent caps the discussion body sent to the model.
const maxPromptContent = 4000

var errNoJSON = errors.New("no JSON object in model response")

// LLMTagger tags discussions with an LLM. Fields the model leaves empty are
// filled from the fallback tagger when one is set.
type LLMTagger struct {
	client   *LLMClient
	fallback Tagger
	logger   *slog.Logger
}

// NewLLMTagger creates an LLMTagger. fallback may be nil.
func NewLLMTagger(client *LLMClient, fallback Tagger, logger *slog.Logger) *LLMTagger {
	return &LLMTagger{
		client:   client,
		fallback: fallback,
		logger:   logger.With("component", "llm_tagger"),
	}
}

func (t *LLMTagger) Tag(ctx context.Context, d *types.Discussion) (*types.Analysis, error) {
	content := d.Content
	if len(content) > maxPromptContent {
		content = content[:maxPromptContent]
	}

	response, err := t.client.Generate(ctx, taggingSystemPrompt, fmt.Sprintf(taggingPrompt, d.Title, content))
	if err != nil {
		return nil, err
	}

	raw, ok := extractJSON(response)
	if !ok {
		return nil, &types.ParseError{URL: d.ID, Selector: "llm_response", Err: errNoJSON}
	}
	var tagging Tagging
	if err := json.Unmarshal([]byte(raw), &tagging); err != nil {
		return nil, &types.ParseError{URL: d.ID, Selector: "llm_response", Err: err}
	}

	analysis := tagging.Analysis(time.Now().UTC())
	if t.fallback != nil && (analysis.Category == "" || analysis.ProductArea == "" || analysis.Sentiment == "") {
		if fb, err := t.fallback.Tag(ctx, d); err == nil {
			fillEmpty(analysis, fb)
		}
	}
	return analysis, nil
}

func fillEmpty(dst, src *types.Analysis) {
	if dst.Category == "" {
		dst.Category = src.Category
	}
	if dst.ProductArea == "" {
		dst.ProductArea = src.ProductArea
	}
	if dst.Sentiment == "" {
		dst.Sentiment = src.Sentiment
	}
	if dst.Summary == "" {
		dst.Summary = src.Summary
	}
}

// extractJSON finds the first balanced JSON object in an LLM response.
func extractJSON(s string) (string, bool) {
	start := strings.Index(s, "{")
	if start < 0 {
		return "", false
	}
	depth := 0
	inString, escaped := false, false
	for i := start; i < len(s); i++ {
		ch := s[i]
		if inString {
			switch {
			case escaped:
				escaped = false
			case ch == '\\':
				escaped = true
			case ch == '"':
				inString = false
			}
			continue
		}
		switch ch {
		case '"':
			inString = true
		case '{':
			depth++
		case '}':
			depth--
			if depth == 0 {
				return s[start : i+1], true
			}
		}
	}
	return "", false
}
