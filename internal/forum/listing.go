package forum

import (
	"context"
	"encoding/json"
	"log/slog"
	"net/url"
	"strings"

	"github.com/IshaanNene/ThreadGoat/internal/config"
	"github.com/IshaanNene/ThreadGoat/internal/engine"
	"github.com/IshaanNene/ThreadGoat/internal/types"
)

// ListingSource pages through a board's topics with the persisted listing
// operation.
type ListingSource struct {
	client *Client
	cfg    *config.ForumConfig
	base   *url.URL
	logger *slog.Logger
}

// NewListingSource creates a ListingSource.
func NewListingSource(client *Client, cfg *config.ForumConfig, logger *slog.Logger) (*ListingSource, error) {
	base, err := url.Parse(cfg.BaseURL)
	if err != nil {
		return nil, &types.ParseError{URL: cfg.BaseURL, Err: err}
	}
	return &ListingSource{
		client: client,
		cfg:    cfg,
		base:   base,
		logger: logger.With("component", "forum_listing"),
	}, nil
}

// listPayload builds the listing request body for a cursor.
func (s *ListingSource) listPayload(cursor string) map[string]any {
	var after any
	if cursor != "" {
		after = cursor
	}
	payload := map[string]any{
		"operationName": s.cfg.ListOperation,
		"variables": map[string]any{
			"constraints": map[string]any{
				"boardId":           map[string]any{"eq": "board:" + s.cfg.BoardID},
				"depth":             map[string]any{"eq": 0},
				"conversationStyle": map[string]any{"eq": s.cfg.ConversationStyle},
			},
			"sorts": map[string]any{
				"conversation.lastPostingActivityTime": map[string]any{"direction": s.cfg.SortDirection},
			},
			"after": after,
			"first": s.cfg.PageSize,
		},
	}
	if ext := persistedQuery(s.cfg.ListQueryHash); ext != nil {
		payload["extensions"] = ext
	}
	return payload
}

type listEdge struct {
	Node struct {
		ID       string `json:"id"`
		ViewHref string `json:"view_href"`
		Href     string `json:"viewHref"`
	} `json:"node"`
}

type listConnection struct {
	Edges    []listEdge `json:"edges"`
	PageInfo pageInfo   `json:"pageInfo"`
}

// ListPage fetches one listing page.
func (s *ListingSource) ListPage(ctx context.Context, cursor string) (*engine.ListResult, error) {
	data, err := s.client.Do(ctx, s.cfg.ListOperation, types.TagListing, s.listPayload(cursor))
	if err != nil {
		return nil, err
	}

	conn, err := findConnection(data, "messages")
	if err != nil {
		return nil, &types.ParseError{URL: s.cfg.ListOperation, Err: err}
	}

	result := &engine.ListResult{
		HasNextPage: conn.PageInfo.HasNextPage,
		EndCursor:   conn.PageInfo.EndCursor,
	}
	for _, e := range conn.Edges {
		href := e.Node.ViewHref
		if href == "" {
			href = e.Node.Href
		}
		permalink := s.Permalink(e.Node.ID, href)
		if permalink == "" {
			continue
		}
		result.Items = append(result.Items, engine.ListItem{ID: e.Node.ID, Permalink: permalink})
	}
	return result, nil
}

// Permalink resolves a listing item to its discussion URL. A view href is
// resolved against the base URL; otherwise the bare id is substituted into
// the permalink template.
func (s *ListingSource) Permalink(id, viewHref string) string {
	if viewHref != "" {
		ref, err := url.Parse(viewHref)
		if err == nil {
			return s.base.ResolveReference(ref).String()
		}
	}
	bare := types.BareID(id)
	if bare == "" {
		return ""
	}
	r := strings.NewReplacer("{board}", s.cfg.BoardID, "{id}", bare)
	return r.Replace(s.cfg.PermalinkTemplate)
}

// findConnection returns data[key] when it is a connection, else the first
// top-level member that looks like one.
func findConnection(data json.RawMessage, key string) (*listConnection, error) {
	var members map[string]json.RawMessage
	if err := json.Unmarshal(data, &members); err != nil {
		return nil, err
	}

	try := func(raw json.RawMessage) *listConnection {
		var conn listConnection
		if json.Unmarshal(raw, &conn) != nil || conn.Edges == nil {
			return nil
		}
		return &conn
	}

	if raw, ok := members[key]; ok {
		if conn := try(raw); conn != nil {
			return conn, nil
		}
	}
	for _, raw := range members {
		if conn := try(raw); conn != nil {
			return conn, nil
		}
	}
	return nil, errNoConnection
}
