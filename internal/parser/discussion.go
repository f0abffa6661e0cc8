package parser

import (
	"encoding/json"
	"log/slog"
	"sort"
	"strings"
	"time"

	"github.com/PuerkitoBio/goquery"

	"github.com/IshaanNene/ThreadGoat/internal/types"
)

const (
	detailArticle = `article[data-testid="StandardMessageView"]`
	panelWidget   = `article[data-testid="PanelItemList.MessageListForNodeByRecentActivityWidget"]`
	panelFirst    = panelWidget + ` section[role="tabpanel"] ul li:first-child`
	kudosXPath    = `string(.//*[@data-testid="kudosCount"])`
)

// Field selector chains, most specific first. The detail-page layout is
// tried before the list-panel layout.
var (
	titleChain = Chain{
		{CSS: detailArticle + ` h1[data-testid="MessageSubject"]`},
		{CSS: `section[role="tabpanel"] h4[data-testid="MessageSubject"] a[data-testid="MessageLink"]`},
		{CSS: `section[role="tabpanel"] li a[data-testid="MessageLink"]`},
		{CSS: `section[role="tabpanel"] a[data-testid="MessageLink"]`, Attr: "aria-label"},
		{CSS: `section[role="tabpanel"] h4[data-testid="MessageSubject"]`, Attr: "title"},
		{CSS: `a[data-testid="MessageLink"]`},
	}

	authorChain = Chain{
		{CSS: detailArticle + ` a[data-testid="userLink"]`},
		{CSS: panelFirst + ` a[data-testid="userLink"]`},
		{CSS: panelWidget + ` a[data-testid="userLink"]`},
	}

	dateChain = Chain{
		{CSS: detailArticle + ` [data-testid="messageTime"] span`, Attr: "title"},
		{CSS: panelWidget + ` [data-testid="messageTime"] span`, Attr: "title"},
		{CSS: `[data-testid="messageTime"] span`, Attr: "title"},
		{CSS: `[data-testid="messageTime"]`, Attr: "title"},
		{CSS: `[data-testid="messageTime"] span`},
		{CSS: `[data-testid="messageTime"]`},
	}

	replyDateChain = Chain{
		{CSS: `[data-testid="messageTime"] span`, Attr: "title"},
		{CSS: `[data-testid="messageTime"]`, Attr: "title"},
	}

	panelContentChain = Chain{
		{CSS: `a[data-testid="MessageLink"] span[class*="message-body"]`},
		{CSS: `a[data-testid="MessageLink"]`},
	}
)

// Extracted is everything read from one discussion page.
type Extracted struct {
	Discussion *types.Discussion
	// Replies embedded in the initial render.
	Replies []types.Reply
}

// DiscussionExtractor reads discussion metadata and inline replies from a
// rendered community page.
type DiscussionExtractor struct {
	platform string
	logger   *slog.Logger
}

// NewDiscussionExtractor creates an extractor for the community platform.
func NewDiscussionExtractor(logger *slog.Logger) *DiscussionExtractor {
	return &DiscussionExtractor{
		platform: types.PlatformTechCommunity,
		logger:   logger.With("component", "discussion_extractor"),
	}
}

// Extract reads a page. Missing fields are left empty; only an unparseable
// document is an error.
func (e *DiscussionExtractor) Extract(page *types.Page) (*Extracted, error) {
	doc, err := page.Document()
	if err != nil {
		return nil, &types.ParseError{URL: page.URL, Err: err}
	}
	root := doc.Selection
	main := page.MainMessage()

	d := &types.Discussion{
		Platform:  e.platform,
		URL:       page.URL,
		ScrapedAt: time.Now().UTC(),
	}

	d.SourceID = page.MessageID()
	if d.SourceID == "" && main != nil {
		d.SourceID = types.BareID(rawString(main, "id"))
	}
	if d.SourceID != "" {
		d.ID = "message:" + d.SourceID
	}

	if v, ok := titleChain.First(root); ok {
		d.Title = v
	} else if main != nil {
		d.Title = rawString(main, "subject")
	}

	if v, ok := authorChain.First(root); ok {
		d.Author = v
	}

	if v, ok := dateChain.First(root); ok {
		if parsed, ok := ParseDate(v); ok {
			d.PublishDate = parsed
		}
	}
	if d.PublishDate == "" && main != nil {
		if parsed, ok := NormalizeTimestamp(rawString(main, "postTime")); ok {
			d.PublishDate = parsed
		}
	}

	d.Content = e.mainContent(root)
	d.ReplyCount = e.replyCount(root, main)
	d.ThumbsUpCount = e.kudos(root, main)

	replies := e.apolloReplies(page, d.ID)
	if len(replies) == 0 {
		replies = e.domReplies(root, d.ID)
	}

	e.logger.Debug("extracted discussion",
		"url", page.URL,
		"id", d.ID,
		"reported_replies", d.ReplyCount,
		"inline_replies", len(replies),
	)

	return &Extracted{Discussion: d, Replies: replies}, nil
}

func (e *DiscussionExtractor) mainContent(root *goquery.Selection) string {
	articles := root.Find(detailArticle)
	if articles.Length() > 0 {
		body := articles.First().Find(`div[class*="message-body"]`)
		if body.Length() > 0 {
			return JoinedText(body)
		}
	}
	if v, ok := panelContentChain.First(root.Find(panelFirst)); ok {
		return v
	}
	return ""
}

func (e *DiscussionExtractor) replyCount(root *goquery.Selection, main map[string]json.RawMessage) int {
	if main != nil {
		if n, ok := rawInt(main, "repliesCount"); ok {
			return n
		}
	}
	texts := root.Find(`[data-testid="messageRepliesCount"]`)
	if texts.Length() == 0 {
		texts = root.Find(`[data-testid*="messageRepliesCount"]`)
	}
	if n, ok := FirstInt(JoinedText(texts)); ok {
		return n
	}
	return 0
}

func (e *DiscussionExtractor) kudos(root *goquery.Selection, main map[string]json.RawMessage) int {
	if main != nil {
		if n, ok := rawInt(main, "kudosSumWeight"); ok {
			return n
		}
		if n, ok := rawInt(main, "kudosCount"); ok {
			return n
		}
	}
	scope := root.Find(detailArticle).First()
	if scope.Length() == 0 {
		scope = root
	}
	if n, ok := ParseCompactCount(XPathString(scope.Get(0), kudosXPath)); ok {
		return n
	}
	return 0
}

// domReplies reads replies from markup: every detail article after the
// first, or the list-panel items after the first. Markup carries no reply
// ids, so these fragments merge on the synthesized key.
func (e *DiscussionExtractor) domReplies(root *goquery.Selection, discussionID string) []types.Reply {
	var replies []types.Reply

	read := func(item *goquery.Selection, content string) {
		r := types.Reply{ParentID: discussionID, ParentReplyID: discussionID, Content: content}
		if v, ok := (Chain{{CSS: `a[data-testid="userLink"]`}}).First(item); ok {
			r.Author = v
		}
		if v, ok := replyDateChain.First(item); ok {
			r.PublishDate, _ = ParseDate(v)
		}
		if n, ok := ParseCompactCount(XPathString(item.Get(0), kudosXPath)); ok {
			r.ThumbsUpCount = n
		}
		replies = append(replies, r)
	}

	articles := root.Find(detailArticle)
	if articles.Length() > 1 {
		articles.Slice(1, articles.Length()).Each(func(_ int, item *goquery.Selection) {
			read(item, JoinedText(item.Find(`div[class*="message-body"]`)))
		})
		return replies
	}

	root.Find(panelWidget + ` section[role="tabpanel"] ul li:not(:first-child)`).Each(func(_ int, item *goquery.Selection) {
		content, _ := panelContentChain.First(item)
		read(item, content)
	})
	return replies
}

// apolloReplies reads ForumReplyMessage entries from the embedded apollo
// state, resolving author references.
func (e *DiscussionExtractor) apolloReplies(page *types.Page, discussionID string) []types.Reply {
	state := page.ApolloState()
	if len(state) == 0 || discussionID == "" {
		return nil
	}

	keys := make([]string, 0)
	for key := range state {
		if strings.HasPrefix(key, "ForumReplyMessage:message:") {
			keys = append(keys, key)
		}
	}
	sort.Strings(keys)

	var replies []types.Reply
	for _, key := range keys {
		var node struct {
			ID       string          `json:"id"`
			Author   json.RawMessage `json:"author"`
			Body     string          `json:"body"`
			PostTime string          `json:"postTime"`
			Kudos    *int            `json:"kudosSumWeight"`
			KudosAlt *int            `json:"kudosCount"`
			Parent   struct {
				Ref string `json:"__ref"`
			} `json:"parent"`
		}
		if err := json.Unmarshal(state[key], &node); err != nil {
			continue
		}

		r := types.Reply{
			ID:            node.ID,
			ParentID:      discussionID,
			ParentReplyID: discussionID,
			Author:        resolveLogin(state, node.Author),
			Content:       node.Body,
		}
		if r.ID == "" {
			r.ID = strings.TrimPrefix(key, "ForumReplyMessage:")
		}
		if ref := node.Parent.Ref; ref != "" {
			if i := strings.Index(ref, "message:"); i >= 0 {
				r.ParentReplyID = ref[i:]
			}
		}
		r.PublishDate, _ = NormalizeTimestamp(node.PostTime)
		switch {
		case node.Kudos != nil:
			r.ThumbsUpCount = *node.Kudos
		case node.KudosAlt != nil:
			r.ThumbsUpCount = *node.KudosAlt
		}
		replies = append(replies, r)
	}
	return replies
}

// resolveLogin reads author.login, following an apollo __ref if present.
func resolveLogin(state map[string]json.RawMessage, raw json.RawMessage) string {
	var author struct {
		Ref   string `json:"__ref"`
		Login string `json:"login"`
	}
	if len(raw) == 0 || json.Unmarshal(raw, &author) != nil {
		return ""
	}
	if author.Ref != "" {
		if ref, ok := state[author.Ref]; ok {
			var user struct {
				Login string `json:"login"`
			}
			if json.Unmarshal(ref, &user) == nil {
				return user.Login
			}
		}
	}
	return author.Login
}

func rawString(m map[string]json.RawMessage, key string) string {
	var s string
	if raw, ok := m[key]; ok {
		_ = json.Unmarshal(raw, &s)
	}
	return s
}

func rawInt(m map[string]json.RawMessage, key string) (int, bool) {
	raw, ok := m[key]
	if !ok {
		return 0, false
	}
	var f *float64
	if err := json.Unmarshal(raw, &f); err != nil || f == nil {
		return 0, false
	}
	return int(*f), true
}
