// Package forum talks to the community platform's persisted GraphQL API and
// turns its listing, reply and page payloads into engine inputs.
package forum

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"net/url"
	"strings"

	"github.com/IshaanNene/ThreadGoat/internal/config"
	"github.com/IshaanNene/ThreadGoat/internal/fetcher"
	"github.com/IshaanNene/ThreadGoat/internal/types"
)

// Doer executes API requests. fetcher.HTTPFetcher satisfies it.
type Doer interface {
	FetchWithRetry(ctx context.Context, req *types.Request) (*types.Response, error)
}

// Client replays GraphQL operations with a captured credential bundle.
type Client struct {
	endpoint   string
	bundle     *fetcher.CredentialBundle
	doer       Doer
	maxRetries int
	logger     *slog.Logger
}

// NewClient creates a Client for {base_url}{api_path}. A nil bundle sends
// requests without captured credentials.
func NewClient(cfg *config.ForumConfig, bundle *fetcher.CredentialBundle, doer Doer, maxRetries int, logger *slog.Logger) *Client {
	return &Client{
		endpoint:   strings.TrimRight(cfg.BaseURL, "/") + cfg.APIPath,
		bundle:     bundle,
		doer:       doer,
		maxRetries: maxRetries,
		logger:     logger.With("component", "forum_client"),
	}
}

// envelope is the GraphQL response shape.
type envelope struct {
	Data   json.RawMessage `json:"data"`
	Errors json.RawMessage `json:"errors"`
}

// Do posts one persisted operation and returns its data member. A payload
// carrying an "errors" key yields *types.APIError.
func (c *Client) Do(ctx context.Context, op, tag string, payload any) (json.RawMessage, error) {
	body, err := json.Marshal(payload)
	if err != nil {
		return nil, fmt.Errorf("encode %s payload: %w", op, err)
	}

	endpoint := c.endpoint + "?opname=" + url.QueryEscape(op)
	req, err := types.NewPostRequest(endpoint, body)
	if err != nil {
		return nil, err
	}
	req.Tag = tag
	req.MaxRetries = c.maxRetries
	if c.bundle != nil {
		c.bundle.Apply(req.Headers)
	}
	req.Headers.Set("Content-Type", "application/json")

	resp, err := c.doer.FetchWithRetry(ctx, req)
	if err != nil {
		return nil, err
	}
	if !resp.IsSuccess() {
		return nil, &types.FetchError{
			URL:        endpoint,
			StatusCode: resp.StatusCode,
			Err:        fmt.Errorf("%s: unexpected status", op),
		}
	}

	data, err := DecodeEnvelope(op, resp.Body)
	if err != nil {
		return nil, err
	}

	c.logger.Debug("operation complete", "operation", op, "size", len(resp.Body))
	return data, nil
}

// DecodeEnvelope extracts the data member of a GraphQL response body.
func DecodeEnvelope(op string, body []byte) (json.RawMessage, error) {
	var env envelope
	if err := json.Unmarshal(body, &env); err != nil {
		return nil, &types.ParseError{URL: op, Err: err}
	}
	if present(env.Errors) {
		return nil, &types.APIError{Operation: op, Messages: errorMessages(env.Errors), Raw: body}
	}
	if !present(env.Data) {
		return nil, fmt.Errorf("%s: %w", op, types.ErrEmptyResponse)
	}
	return env.Data, nil
}

func present(raw json.RawMessage) bool {
	trimmed := bytes.TrimSpace(raw)
	return len(trimmed) > 0 && !bytes.Equal(trimmed, []byte("null"))
}

func errorMessages(raw json.RawMessage) []string {
	var list []struct {
		Message string `json:"message"`
	}
	if err := json.Unmarshal(raw, &list); err != nil {
		return []string{string(raw)}
	}
	msgs := make([]string, 0, len(list))
	for _, e := range list {
		if e.Message != "" {
			msgs = append(msgs, e.Message)
		}
	}
	return msgs
}

// persistedQuery builds the extensions member, or nil when no hash is set.
func persistedQuery(hash string) map[string]any {
	if hash == "" {
		return nil
	}
	return map[string]any{
		"persistedQuery": map[string]any{
			"version":    1,
			"sha256Hash": hash,
		},
	}
}
