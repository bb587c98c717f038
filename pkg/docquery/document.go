// Package docquery wraps goquery behind the small query surface the
// catalog code needs: selector lookup, case-insensitive text matching and
// attribute access. The portal markup is not contractually stable, so
// callers match on text content rather than structural position wherever
// possible.
package docquery

import (
	"io"
	"strings"

	"github.com/PuerkitoBio/goquery"
)

// Document is a parsed HTML page.
type Document struct {
	doc *goquery.Document
}

// Node is a single element within a document.
type Node struct {
	sel *goquery.Selection
}

// Parse reads and parses raw markup.
func Parse(r io.Reader) (*Document, error) {
	doc, err := goquery.NewDocumentFromReader(r)
	if err != nil {
		return nil, err
	}
	return &Document{doc: doc}, nil
}

// ParseString parses raw markup held in a string.
func ParseString(html string) (*Document, error) {
	return Parse(strings.NewReader(html))
}

// Find returns all elements matching the CSS selector, in document order.
func (d *Document) Find(selector string) []*Node {
	return collect(d.doc.Find(selector))
}

// FindByText returns elements matching the selector whose text content
// contains all of the given substrings, compared case-insensitively.
func (d *Document) FindByText(selector string, substrings ...string) []*Node {
	return filterByText(d.doc.Find(selector), substrings)
}

// Find returns descendant elements matching the CSS selector.
func (n *Node) Find(selector string) []*Node {
	return collect(n.sel.Find(selector))
}

// FindByText returns descendant elements matching the selector whose text
// contains all given substrings, case-insensitively.
func (n *Node) FindByText(selector string, substrings ...string) []*Node {
	return filterByText(n.sel.Find(selector), substrings)
}

// Text returns the node's text content with surrounding whitespace trimmed.
func (n *Node) Text() string {
	return strings.TrimSpace(n.sel.Text())
}

// Attr returns the value of an attribute and whether it exists.
func (n *Node) Attr(name string) (string, bool) {
	return n.sel.Attr(name)
}

func collect(sel *goquery.Selection) []*Node {
	nodes := make([]*Node, 0, sel.Length())
	sel.Each(func(_ int, s *goquery.Selection) {
		nodes = append(nodes, &Node{sel: s})
	})
	return nodes
}

func filterByText(sel *goquery.Selection, substrings []string) []*Node {
	var nodes []*Node
	sel.Each(func(_ int, s *goquery.Selection) {
		text := strings.ToLower(s.Text())
		for _, sub := range substrings {
			if !strings.Contains(text, strings.ToLower(sub)) {
				return
			}
		}
		nodes = append(nodes, &Node{sel: s})
	})
	return nodes
}
