package forum

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"

	"github.com/IshaanNene/ThreadGoat/internal/config"
	"github.com/IshaanNene/ThreadGoat/internal/engine"
	"github.com/IshaanNene/ThreadGoat/internal/parser"
	"github.com/IshaanNene/ThreadGoat/internal/types"
)

var (
	errNoConnection = errors.New("no connection in payload")
	errNoMessage    = errors.New("no message in payload")
)

// --- Payload types ---

type pageInfo struct {
	HasNextPage bool   `json:"hasNextPage"`
	EndCursor   string `json:"endCursor"`
}

// Node is a message in a reply payload. Replies nest one level inline;
// deeper levels need their own fetch.
type Node struct {
	ID     string `json:"id"`
	Author struct {
		Login string `json:"login"`
	} `json:"author"`
	Body           string      `json:"body"`
	PostTime       string      `json:"postTime"`
	KudosSumWeight *int        `json:"kudosSumWeight"`
	KudosCount     *int        `json:"kudosCount"`
	RepliesCount   int         `json:"repliesCount"`
	Replies        *Connection `json:"replies"`
}

// Connection is a paginated list of nodes.
type Connection struct {
	Edges []struct {
		Node *Node `json:"node"`
	} `json:"edges"`
	PageInfo pageInfo `json:"pageInfo"`
}

// Kudos returns kudosSumWeight, falling back to kudosCount.
func (n *Node) Kudos() int {
	switch {
	case n.KudosSumWeight != nil:
		return *n.KudosSumWeight
	case n.KudosCount != nil:
		return *n.KudosCount
	}
	return 0
}

// InlineCount returns how many nested replies the payload carried.
func (n *Node) InlineCount() int {
	if n.Replies == nil {
		return 0
	}
	count := 0
	for _, e := range n.Replies.Edges {
		if e.Node != nil {
			count++
		}
	}
	return count
}

// Flatten walks the node's inline replies depth-first and returns each as a
// ReplyNode. The node itself is not included. Parsing recurses; fetching
// never does.
func (n *Node) Flatten(discussionID string) []engine.ReplyNode {
	var out []engine.ReplyNode
	n.flatten(discussionID, &out)
	return out
}

func (n *Node) flatten(discussionID string, out *[]engine.ReplyNode) {
	if n.Replies == nil {
		return
	}
	for _, e := range n.Replies.Edges {
		child := e.Node
		if child == nil {
			continue
		}
		*out = append(*out, engine.ReplyNode{
			Reply:    child.reply(discussionID, n.ID),
			Declared: child.RepliesCount,
			Inline:   child.InlineCount(),
		})
		child.flatten(discussionID, out)
	}
}

func (n *Node) reply(discussionID, parentID string) types.Reply {
	r := types.Reply{
		ID:            n.ID,
		ParentID:      discussionID,
		ParentReplyID: parentID,
		Author:        n.Author.Login,
		Content:       n.Body,
		ThumbsUpCount: n.Kudos(),
	}
	r.PublishDate, _ = parser.NormalizeTimestamp(n.PostTime)
	return r
}

// decodeMessage reads data.message from a reply payload.
func decodeMessage(data json.RawMessage) (*Node, error) {
	var wrapper struct {
		Message *Node `json:"message"`
	}
	if err := json.Unmarshal(data, &wrapper); err != nil {
		return nil, err
	}
	if wrapper.Message == nil {
		return nil, errNoMessage
	}
	return wrapper.Message, nil
}

// --- Reply client ---

// ReplyClient fetches reply pages with the persisted replies operation.
type ReplyClient struct {
	client *Client
	cfg    *config.ForumConfig
	logger *slog.Logger
}

// NewReplyClient creates a ReplyClient.
func NewReplyClient(client *Client, cfg *config.ForumConfig, logger *slog.Logger) *ReplyClient {
	return &ReplyClient{
		client: client,
		cfg:    cfg,
		logger: logger.With("component", "forum_replies"),
	}
}

// repliesPayload builds the replies request body. cursor pages the node's
// direct replies.
func (c *ReplyClient) repliesPayload(nodeID, cursor string) map[string]any {
	var after any
	if cursor != "" {
		after = cursor
	}
	sorts := map[string]any{"postTime": map[string]any{"direction": "DESC"}}
	payload := map[string]any{
		"operationName": c.cfg.RepliesOperation,
		"variables": map[string]any{
			"id":                     nodeID,
			"first":                  c.cfg.RepliesPageSize,
			"after":                  after,
			"constraints":            map[string]any{},
			"sorts":                  sorts,
			"repliesFirst":           c.cfg.NestedPageSize,
			"repliesFirstDepthThree": c.cfg.DepthThreePageSize,
			"repliesAfter":           nil,
			"repliesConstraints":     map[string]any{},
			"repliesSorts":           sorts,
			"useAuthorLogin":         true,
			"useBody":                true,
			"useTextBody":            false,
			"useKudosCount":          true,
			"useRepliesCount":        true,
			"truncateBodyLength":     -1,
		},
	}
	if ext := persistedQuery(c.cfg.RepliesQueryHash); ext != nil {
		payload["extensions"] = ext
	}
	return payload
}

// FetchNode fetches one page of a node's replies and returns the node.
func (c *ReplyClient) FetchNode(ctx context.Context, nodeID, cursor string) (*Node, error) {
	data, err := c.client.Do(ctx, c.cfg.RepliesOperation, types.TagReplies, c.repliesPayload(nodeID, cursor))
	if err != nil {
		return nil, err
	}
	node, err := decodeMessage(data)
	if err != nil {
		return nil, &types.ParseError{URL: c.cfg.RepliesOperation, Selector: nodeID, Err: err}
	}
	if node.ID == "" {
		node.ID = nodeID
	}
	return node, nil
}

// FetchReplies implements engine.ReplyFetcher. Replies come back without a
// discussion id; the resolver's merge set attributes them.
func (c *ReplyClient) FetchReplies(ctx context.Context, nodeID, cursor string) (*engine.ReplyPage, error) {
	node, err := c.FetchNode(ctx, nodeID, cursor)
	if err != nil {
		return nil, err
	}
	page := &engine.ReplyPage{Nodes: node.Flatten("")}
	if node.Replies != nil {
		page.HasNextPage = node.Replies.PageInfo.HasNextPage
		page.EndCursor = node.Replies.PageInfo.EndCursor
	}
	c.logger.Debug("reply page fetched",
		"node", nodeID,
		"cursor", cursor,
		"replies", len(page.Nodes),
		"declared", node.RepliesCount,
	)
	return page, nil
}

// RepliesFromPayloads parses intercepted reply payloads into replies of the
// given discussion. Payloads that do not decode are skipped.
func RepliesFromPayloads(payloads []json.RawMessage, discussionID string, logger *slog.Logger) []types.Reply {
	var replies []types.Reply
	for i, raw := range payloads {
		data, err := DecodeEnvelope("intercepted", raw)
		if err != nil {
			logger.Debug("skipping intercepted payload", "index", i, "error", err)
			continue
		}
		node, err := decodeMessage(data)
		if err != nil {
			logger.Debug("skipping intercepted payload", "index", i, "error", err)
			continue
		}
		if node.ID == "" {
			node.ID = discussionID
		}
		for _, n := range node.Flatten(discussionID) {
			replies = append(replies, n.Reply)
		}
	}
	return replies
}
