package reddit

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"strconv"
	"strings"
	"time"

	"github.com/IshaanNene/ThreadGoat/internal/engine"
	"github.com/IshaanNene/ThreadGoat/internal/parser"
	"github.com/IshaanNene/ThreadGoat/internal/types"
)

// IDPrefix qualifies Reddit post ids.
const IDPrefix = "reddit_"

// maxPageSize is the largest page the listing endpoint honors.
const maxPageSize = 100

var errNoPost = errors.New("thread payload has no post")

// --- Listing ---

// ListingSource pages the "new" listing of each subreddit in turn, reading
// at most limit posts from each. The cursor is "<subreddit index>:<after>".
type ListingSource struct {
	client     *Client
	subreddits []string
	limit      int
	seen       map[int]int
	logger     *slog.Logger
}

// NewListingSource creates a ListingSource. limit <= 0 reads every page.
func NewListingSource(client *Client, subreddits []string, limit int, logger *slog.Logger) *ListingSource {
	return &ListingSource{
		client:     client,
		subreddits: subreddits,
		limit:      limit,
		seen:       make(map[int]int),
		logger:     logger.With("component", "reddit_listing"),
	}
}

// ListPage reads one page. When a subreddit is exhausted the returned cursor
// moves on to the next one.
func (s *ListingSource) ListPage(ctx context.Context, cursor string) (*engine.ListResult, error) {
	idx, after, err := parseCursor(cursor)
	if err != nil {
		return nil, err
	}
	if idx >= len(s.subreddits) {
		return &engine.ListResult{}, nil
	}
	subreddit := s.subreddits[idx]

	pageSize := maxPageSize
	if s.limit > 0 {
		pageSize = min(s.limit-s.seen[idx], maxPageSize)
	}

	raw, err := s.client.FetchJSON(ctx, s.client.SubredditURL(subreddit, pageSize, after), types.TagListing)
	if err != nil {
		return nil, err
	}
	var l listing
	if err := json.Unmarshal(raw, &l); err != nil {
		return nil, &types.ParseError{URL: subreddit, Selector: "listing", Err: err}
	}

	result := &engine.ListResult{}
	for _, child := range l.Data.Children {
		if child.Kind != "t3" || child.Data.Permalink == "" {
			continue
		}
		if s.limit > 0 && s.seen[idx] >= s.limit {
			break
		}
		s.seen[idx]++
		result.Items = append(result.Items, engine.ListItem{
			ID:        IDPrefix + child.Data.ID,
			Permalink: s.client.baseURL + child.Data.Permalink,
		})
	}

	exhausted := l.Data.After == "" || (s.limit > 0 && s.seen[idx] >= s.limit)
	switch {
	case !exhausted:
		result.HasNextPage = true
		result.EndCursor = formatCursor(idx, l.Data.After)
	case idx+1 < len(s.subreddits):
		result.HasNextPage = true
		result.EndCursor = formatCursor(idx+1, "")
	}

	s.logger.Debug("listing page read",
		"subreddit", subreddit,
		"posts", len(result.Items),
		"after", l.Data.After,
	)
	return result, nil
}

func formatCursor(idx int, after string) string {
	return strconv.Itoa(idx) + ":" + after
}

func parseCursor(cursor string) (int, string, error) {
	if cursor == "" {
		return 0, "", nil
	}
	head, after, ok := strings.Cut(cursor, ":")
	idx, err := strconv.Atoi(head)
	if !ok || err != nil || idx < 0 {
		return 0, "", fmt.Errorf("invalid reddit cursor %q", cursor)
	}
	return idx, after, nil
}

// --- Discussions ---

// DiscussionSource reads a post and its whole comment tree from the post's
// JSON endpoint. Every comment the payload carries is returned inline;
// "more" placeholders are skipped.
type DiscussionSource struct {
	client *Client
	logger *slog.Logger
}

// NewDiscussionSource creates a DiscussionSource.
func NewDiscussionSource(client *Client, logger *slog.Logger) *DiscussionSource {
	return &DiscussionSource{
		client: client,
		logger: logger.With("component", "reddit_discussion"),
	}
}

// FetchDiscussion fetches {permalink}.json, a two-element array of the post
// listing and the comment listing.
func (s *DiscussionSource) FetchDiscussion(ctx context.Context, permalink string) (*engine.Fetched, error) {
	raw, err := s.client.FetchJSON(ctx, s.client.ThreadURL(permalink), types.TagPage)
	if err != nil {
		return nil, err
	}
	fetched, err := ParseThread(raw, s.client.baseURL)
	if err != nil {
		return nil, err
	}
	fetched.Discussion.ScrapedAt = time.Now().UTC()

	s.logger.Debug("discussion fetched",
		"id", fetched.Discussion.ID,
		"reply_count", fetched.Discussion.ReplyCount,
		"comments", len(fetched.Inline),
	)
	return fetched, nil
}

// ParseThread decodes a thread payload. baseURL prefixes the post permalink.
func ParseThread(raw []byte, baseURL string) (*engine.Fetched, error) {
	var parts []listing
	if err := json.Unmarshal(raw, &parts); err != nil {
		return nil, &types.ParseError{URL: baseURL, Selector: "thread", Err: err}
	}
	if len(parts) == 0 || len(parts[0].Data.Children) == 0 {
		return nil, &types.ParseError{URL: baseURL, Selector: "thread", Err: errNoPost}
	}

	post := parts[0].Data.Children[0].Data
	d := &types.Discussion{
		ID:            IDPrefix + post.ID,
		SourceID:      post.ID,
		Platform:      types.PlatformReddit,
		SubSource:     post.Subreddit,
		Title:         post.Title,
		Author:        post.Author,
		PublishDate:   parser.FromUnix(post.CreatedUTC),
		Content:       post.Selftext,
		URL:           baseURL + post.Permalink,
		ReplyCount:    post.NumComments,
		ThumbsUpCount: post.Score,
	}

	fetched := &engine.Fetched{Discussion: d}
	if len(parts) > 1 {
		flattenComments(parts[1].Data.Children, d.ID, &fetched.Inline)
	}
	return fetched, nil
}

// flattenComments walks a comment tree depth-first.
func flattenComments(children []thing, discussionID string, out *[]types.Reply) {
	for _, child := range children {
		if child.Kind != "t1" {
			continue
		}
		c := child.Data
		*out = append(*out, types.Reply{
			ID:            IDPrefix + c.ID,
			ParentID:      discussionID,
			ParentReplyID: parentReplyID(c.ParentID, discussionID),
			Author:        c.Author,
			Content:       c.Body,
			PublishDate:   parser.FromUnix(c.CreatedUTC),
			ThumbsUpCount: c.Score,
		})
		flattenComments(c.children(), discussionID, out)
	}
}

// parentReplyID maps a fullname ("t1_abc", "t3_xyz") to a stored id. Posts
// map to the discussion itself.
func parentReplyID(fullname, discussionID string) string {
	kind, id, ok := strings.Cut(fullname, "_")
	if !ok || kind != "t1" {
		return discussionID
	}
	return IDPrefix + id
}
