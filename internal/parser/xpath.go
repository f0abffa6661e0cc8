package parser

import (
	"strings"

	"github.com/antchfx/htmlquery"
	"github.com/antchfx/xpath"
	"golang.org/x/net/html"
)

// XPathString evaluates an XPath expression under node and returns its
// string value, like XPath's string(). Invalid expressions yield "".
func XPathString(node *html.Node, expr string) string {
	if node == nil {
		return ""
	}
	compiled, err := xpath.Compile(expr)
	if err != nil {
		return ""
	}
	v := compiled.Evaluate(htmlquery.CreateXPathNavigator(node))
	switch val := v.(type) {
	case string:
		return strings.TrimSpace(val)
	case *xpath.NodeIterator:
		if val.MoveNext() {
			return strings.TrimSpace(val.Current().Value())
		}
	}
	return ""
}

