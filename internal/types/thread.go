package types

import (
	"encoding/json"
	"strings"
	"time"
)

// Platform names stored in the discussions table.
const (
	PlatformTechCommunity = "Tech Community"
	PlatformReddit        = "Reddit"
)

// TimestampLayout is the canonical publish_date representation.
const TimestampLayout = "2006-01-02T15:04:05"

// Discussion is one top-level thread on a forum platform.
type Discussion struct {
	// ID is the platform-qualified message id ("message:4382855", "reddit_abc").
	ID string `json:"id" bson:"_id"`

	// SourceID is the bare platform id without qualifier.
	SourceID string `json:"source_id" bson:"source_id"`

	Platform  string `json:"platform" bson:"platform"`
	SubSource string `json:"sub_source" bson:"sub_source"`

	Title       string `json:"title" bson:"title"`
	Author      string `json:"author" bson:"author"`
	PublishDate string `json:"publish_date" bson:"publish_date"`
	Content     string `json:"content" bson:"content"`
	URL         string `json:"discussion_url" bson:"url"`

	// ReplyCount is the count reported by the platform. It is the target the
	// resolver tries to reach and may exceed the number of stored replies.
	ReplyCount    int `json:"reply_count" bson:"reply_count"`
	ThumbsUpCount int `json:"thumbs_up_count" bson:"thumbs_up_count"`

	ScrapedAt time.Time `json:"scraped_at" bson:"scraped_at"`

	Analysis *Analysis `json:"analysis,omitempty" bson:"analysis,omitempty"`
}

// Analysis holds the enrichment tags attached to a discussion.
type Analysis struct {
	Category    string    `json:"category" bson:"category"`
	ProductArea string    `json:"product_area" bson:"product_area"`
	Sentiment   string    `json:"sentiment" bson:"sentiment"`
	PainPoints  []string  `json:"pain_points,omitempty" bson:"pain_points,omitempty"`
	Summary     string    `json:"summary,omitempty" bson:"summary,omitempty"`
	AnalyzedAt  time.Time `json:"analyzed_at" bson:"analyzed_at"`
}

// Reply is one response inside a discussion, at any nesting depth.
type Reply struct {
	// ID is the platform-native reply id. Empty when the fragment came from
	// markup that does not expose one.
	ID string `json:"id,omitempty" bson:"reply_id,omitempty"`

	// ParentID is the owning discussion id.
	ParentID string `json:"parent_id" bson:"parent_id"`

	// ParentReplyID is the node this reply answers. It equals ParentID for
	// top-level replies.
	ParentReplyID string `json:"parent_reply_id,omitempty" bson:"parent_reply_id,omitempty"`

	Author        string `json:"author" bson:"author"`
	Content       string `json:"content" bson:"content"`
	PublishDate   string `json:"publish_date" bson:"publish_date"`
	ThumbsUpCount int    `json:"thumbs_up_count" bson:"thumbs_up_count"`
}

// Key returns the merge key: the native id when present, otherwise a key
// synthesized from author and publish date truncated to the minute. Two
// distinct replies by the same author within one minute share a key.
func (r *Reply) Key() string {
	if r.ID != "" {
		return r.ID
	}
	return r.Author + "|" + minuteOf(r.PublishDate)
}

func minuteOf(ts string) string {
	t, err := time.Parse(TimestampLayout, ts)
	if err != nil {
		return ts
	}
	return t.Truncate(time.Minute).Format("2006-01-02T15:04")
}

// StorageID returns the primary key used when persisting the reply.
func (r *Reply) StorageID() string {
	if r.ID != "" {
		return r.ID
	}
	return r.ParentID + "#" + r.Key()
}

// Thread is a discussion together with its merged replies.
type Thread struct {
	Discussion *Discussion `json:"discussion"`
	Replies    []Reply     `json:"replies"`

	// Complete is false when the resolver gave up on some nodes.
	Complete bool `json:"complete"`
}

// NewThread wraps a discussion.
func NewThread(d *Discussion) *Thread {
	return &Thread{Discussion: d, Complete: true}
}

// Missing returns how many replies the platform reported but were not
// gathered. Zero when the thread is complete or over-collected.
func (t *Thread) Missing() int {
	if t.Discussion == nil {
		return 0
	}
	if n := t.Discussion.ReplyCount - len(t.Replies); n > 0 {
		return n
	}
	return 0
}

// MarshalJSONL renders the thread as one JSONL record in the flat layout the
// run history loader reads back.
func (t *Thread) MarshalJSONL() ([]byte, error) {
	d := t.Discussion
	return json.Marshal(struct {
		*Discussion
		Replies []Reply `json:"replies"`
	}{Discussion: d, Replies: t.Replies})
}

// BareID strips a "message:" or "reddit_" qualifier.
func BareID(id string) string {
	for _, prefix := range []string{"message:", "reddit_"} {
		if strings.HasPrefix(id, prefix) {
			return strings.TrimPrefix(id, prefix)
		}
	}
	return id
}
