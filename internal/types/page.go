package types

import (
	"bytes"
	"encoding/json"
	"regexp"
	"strings"
	"time"

	"github.com/PuerkitoBio/goquery"
)

var trailingIDRegex = regexp.MustCompile(`/(\d+)/?$`)

// Page is the per-fetch context for one rendered discussion page. Parsed
// views of the body are computed on first use and cached on the page.
type Page struct {
	// URL is the final URL of the page.
	URL string

	// Body is the rendered HTML.
	Body []byte

	// Intercepted holds background reply payloads captured while the page
	// was rendering. Empty for plain HTTP fetches.
	Intercepted []json.RawMessage

	// FetchedAt is when rendering completed.
	FetchedAt time.Time

	doc     *goquery.Document
	docErr  error
	docDone bool

	apollo     map[string]json.RawMessage
	apolloDone bool

	main     map[string]json.RawMessage
	mainDone bool
}

// NewPage creates a page context.
func NewPage(rawURL string, body []byte) *Page {
	return &Page{URL: rawURL, Body: body, FetchedAt: time.Now()}
}

// Document returns the parsed goquery document, parsing on first use.
func (p *Page) Document() (*goquery.Document, error) {
	if !p.docDone {
		p.doc, p.docErr = goquery.NewDocumentFromReader(bytes.NewReader(p.Body))
		p.docDone = true
	}
	return p.doc, p.docErr
}

// ApolloState returns props.pageProps.apolloState from the embedded
// __NEXT_DATA__ script. The map is empty when the page carries none.
func (p *Page) ApolloState() map[string]json.RawMessage {
	if p.apolloDone {
		return p.apollo
	}
	p.apolloDone = true
	p.apollo = map[string]json.RawMessage{}

	doc, err := p.Document()
	if err != nil {
		return p.apollo
	}
	raw := strings.TrimSpace(doc.Find(`script#__NEXT_DATA__`).First().Text())
	if raw == "" {
		return p.apollo
	}

	var next struct {
		Props struct {
			PageProps struct {
				ApolloState map[string]json.RawMessage `json:"apolloState"`
			} `json:"pageProps"`
		} `json:"props"`
	}
	if err := json.Unmarshal([]byte(raw), &next); err != nil {
		return p.apollo
	}
	if next.Props.PageProps.ApolloState != nil {
		p.apollo = next.Props.PageProps.ApolloState
	}
	return p.apollo
}

// MainMessage returns the apollo entry of the topic message shown on the
// page. It is looked up by the numeric id at the end of the URL first, then
// by scanning for a depth-0 FORUM_TOPIC entry. Nil when neither matches.
func (p *Page) MainMessage() map[string]json.RawMessage {
	if p.mainDone {
		return p.main
	}
	p.mainDone = true

	state := p.ApolloState()
	if len(state) == 0 {
		return nil
	}

	if m := trailingIDRegex.FindStringSubmatch(p.URL); m != nil {
		if raw, ok := state["ForumTopicMessage:message:"+m[1]]; ok {
			var entry map[string]json.RawMessage
			if json.Unmarshal(raw, &entry) == nil {
				p.main = entry
				return p.main
			}
		}
	}

	for key, raw := range state {
		if !strings.HasPrefix(key, "ForumTopicMessage:message:") {
			continue
		}
		var entity struct {
			EntityType string `json:"entityType"`
			Depth      *int   `json:"depth"`
		}
		if json.Unmarshal(raw, &entity) != nil {
			continue
		}
		if entity.EntityType == "FORUM_TOPIC" && entity.Depth != nil && *entity.Depth == 0 {
			var entry map[string]json.RawMessage
			if json.Unmarshal(raw, &entry) == nil {
				p.main = entry
				break
			}
		}
	}
	return p.main
}

// MessageID returns the numeric id at the end of the page URL, if any.
func (p *Page) MessageID() string {
	if m := trailingIDRegex.FindStringSubmatch(p.URL); m != nil {
		return m[1]
	}
	return ""
}
