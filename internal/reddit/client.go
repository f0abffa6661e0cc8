// Package reddit reads subreddit listings and comment trees from Reddit's
// public JSON endpoints.
package reddit

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"net/url"
	"strconv"
	"strings"

	"github.com/IshaanNene/ThreadGoat/internal/config"
	"github.com/IshaanNene/ThreadGoat/internal/types"
)

// Doer executes requests. fetcher.HTTPFetcher satisfies it.
type Doer interface {
	FetchWithRetry(ctx context.Context, req *types.Request) (*types.Response, error)
}

// Client fetches Reddit JSON with a fixed user agent.
type Client struct {
	baseURL    string
	userAgent  string
	doer       Doer
	maxRetries int
	logger     *slog.Logger
}

// NewClient creates a Client.
func NewClient(cfg *config.RedditConfig, doer Doer, maxRetries int, logger *slog.Logger) *Client {
	return &Client{
		baseURL:    strings.TrimRight(cfg.BaseURL, "/"),
		userAgent:  cfg.UserAgent,
		doer:       doer,
		maxRetries: maxRetries,
		logger:     logger.With("component", "reddit_client"),
	}
}

// SubredditURL builds the newest-first listing URL for one page.
func (c *Client) SubredditURL(subreddit string, limit int, after string) string {
	params := url.Values{}
	params.Set("raw_json", "1")
	if limit > 0 {
		params.Set("limit", strconv.Itoa(limit))
	}
	if after != "" {
		params.Set("after", after)
	}
	return fmt.Sprintf("%s/r/%s/new.json?%s", c.baseURL, url.PathEscape(subreddit), params.Encode())
}

// ThreadURL turns a post permalink (absolute or site-relative) into its
// JSON endpoint.
func (c *Client) ThreadURL(permalink string) string {
	path := permalink
	if u, err := url.Parse(permalink); err == nil && u.Host != "" {
		path = u.Path
	}
	path = strings.TrimRight(path, "/")
	if !strings.HasPrefix(path, "/") {
		path = "/" + path
	}
	return c.baseURL + path + ".json?raw_json=1&sort=new"
}

// FetchJSON GETs url and returns the raw body.
func (c *Client) FetchJSON(ctx context.Context, rawURL, tag string) (json.RawMessage, error) {
	req, err := types.NewRequest(rawURL)
	if err != nil {
		return nil, err
	}
	req.Tag = tag
	req.MaxRetries = c.maxRetries
	req.Headers.Set("Accept", "application/json")
	if c.userAgent != "" {
		req.Headers.Set("User-Agent", c.userAgent)
	}

	resp, err := c.doer.FetchWithRetry(ctx, req)
	if err != nil {
		return nil, err
	}
	if !resp.IsSuccess() {
		return nil, &types.FetchError{URL: rawURL, StatusCode: resp.StatusCode, Err: fmt.Errorf("unexpected status")}
	}
	if len(resp.Body) == 0 {
		return nil, &types.FetchError{URL: rawURL, Err: types.ErrEmptyResponse}
	}

	c.logger.Debug("fetched", "url", rawURL, "size", len(resp.Body))
	return resp.Body, nil
}

// --- Wire types ---

type listing struct {
	Kind string `json:"kind"`
	Data struct {
		After    string  `json:"after"`
		Children []thing `json:"children"`
	} `json:"data"`
}

type thing struct {
	Kind string    `json:"kind"`
	Data thingData `json:"data"`
}

type thingData struct {
	ID          string          `json:"id"`
	Name        string          `json:"name"`
	Title       string          `json:"title"`
	Selftext    string          `json:"selftext"`
	Body        string          `json:"body"`
	Author      string          `json:"author"`
	Score       int             `json:"score"`
	NumComments int             `json:"num_comments"`
	CreatedUTC  float64         `json:"created_utc"`
	Subreddit   string          `json:"subreddit"`
	Permalink   string          `json:"permalink"`
	ParentID    string          `json:"parent_id"`
	Replies     json.RawMessage `json:"replies"`
}

// children decodes a nested replies member. Reddit sends "" when a comment
// has no replies.
func (d *thingData) children() []thing {
	if len(d.Replies) == 0 || d.Replies[0] != '{' {
		return nil
	}
	var l listing
	if err := json.Unmarshal(d.Replies, &l); err != nil {
		return nil
	}
	return l.Data.Children
}
