package parser

import (
	"strings"

	"github.com/PuerkitoBio/goquery"
	"golang.org/x/net/html"
)

// Selector is one CSS query in a fallback chain. Attr selects an attribute
// value; empty means the element's own text.
type Selector struct {
	CSS  string
	Attr string
}

// Chain is an ordered list of selectors tried most specific first.
type Chain []Selector

// First returns the first non-empty trimmed value produced by the chain.
// A chain where every selector misses reports false.
func (c Chain) First(root *goquery.Selection) (string, bool) {
	for _, s := range c {
		var found string
		root.Find(s.CSS).EachWithBreak(func(_ int, sel *goquery.Selection) bool {
			var val string
			if s.Attr == "" {
				val = ownText(sel)
			} else {
				val, _ = sel.Attr(s.Attr)
			}
			val = strings.TrimSpace(val)
			if val != "" {
				found = val
				return false
			}
			return true
		})
		if found != "" {
			return found, true
		}
	}
	return "", false
}

// ownText returns the element's direct text children joined, falling back
// to all descendant text when it has none.
func ownText(sel *goquery.Selection) string {
	var parts []string
	for _, n := range sel.Nodes {
		for c := n.FirstChild; c != nil; c = c.NextSibling {
			if c.Type == html.TextNode {
				if t := strings.TrimSpace(c.Data); t != "" {
					parts = append(parts, t)
				}
			}
		}
	}
	if len(parts) == 0 {
		return JoinedText(sel)
	}
	return strings.Join(parts, " ")
}

// JoinedText returns every descendant text node, trimmed and joined by a
// single space.
func JoinedText(sel *goquery.Selection) string {
	var parts []string
	var walk func(*html.Node)
	walk = func(n *html.Node) {
		if n.Type == html.TextNode {
			if t := strings.TrimSpace(n.Data); t != "" {
				parts = append(parts, t)
			}
			return
		}
		if n.Type == html.ElementNode && (n.Data == "script" || n.Data == "style") {
			return
		}
		for c := n.FirstChild; c != nil; c = c.NextSibling {
			walk(c)
		}
	}
	for _, n := range sel.Nodes {
		walk(n)
	}
	return strings.Join(parts, " ")
}
