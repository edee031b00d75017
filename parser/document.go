// Package parser holds the extraction rules for catalog listing and detail pages.
package parser

import (
	"fmt"
	"io"
	"strings"

	"github.com/PuerkitoBio/goquery"
)

// Node is a read-only, queryable view over parsed markup. Patterns are CSS selectors.
type Node interface {
	SelectAll(pattern string) []Node
	SelectFirst(pattern string) (Node, bool)
	Attr(name string) (string, bool)
	Text() string
}

type selectionNode struct {
	sel *goquery.Selection
}

// FromSelection wraps a goquery selection, such as colly's HTMLElement.DOM.
func FromSelection(sel *goquery.Selection) Node {
	return selectionNode{sel: sel}
}

// ParseDocument parses an HTML document from r.
func ParseDocument(r io.Reader) (Node, error) {
	doc, err := goquery.NewDocumentFromReader(r)
	if err != nil {
		return nil, fmt.Errorf("parse document: %w", err)
	}
	return selectionNode{sel: doc.Selection}, nil
}

// ParseString parses an HTML document held in memory.
func ParseString(markup string) (Node, error) {
	return ParseDocument(strings.NewReader(markup))
}

func (n selectionNode) SelectAll(pattern string) []Node {
	found := n.sel.Find(pattern)
	nodes := make([]Node, 0, found.Length())
	found.Each(func(_ int, s *goquery.Selection) {
		nodes = append(nodes, selectionNode{sel: s})
	})
	return nodes
}

func (n selectionNode) SelectFirst(pattern string) (Node, bool) {
	found := n.sel.Find(pattern).First()
	if found.Length() == 0 {
		return nil, false
	}
	return selectionNode{sel: found}, true
}

func (n selectionNode) Attr(name string) (string, bool) {
	return n.sel.Attr(name)
}

func (n selectionNode) Text() string {
	return n.sel.Text()
}

func firstText(n Node, pattern string) (string, bool) {
	found, ok := n.SelectFirst(pattern)
	if !ok {
		return "", false
	}
	return strings.TrimSpace(found.Text()), true
}

func firstAttr(n Node, pattern, attr string) (string, bool) {
	found, ok := n.SelectFirst(pattern)
	if !ok {
		return "", false
	}
	return found.Attr(attr)
}
