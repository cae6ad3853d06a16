// Package browser provides the page surfaces that download links are read
// from. A surface answers one question: which anchors match a CSS selector in
// the page as it is rendered right now.
package browser

import (
	"context"
	"fmt"
	"strings"

	"github.com/PuerkitoBio/goquery"
)

// Anchor is one matched link element.
type Anchor struct {
	Text string `json:"text"`
	Href string `json:"href"`
}

// Surface evaluates a selector against the current page state.
type Surface interface {
	Evaluate(ctx context.Context, selector string) ([]Anchor, error)
}

// Snapshot is a fixed, already-rendered document.
type Snapshot struct {
	doc     *goquery.Document
	baseURL string
}

// NewSnapshot parses html. Relative hrefs are resolved against baseURL.
func NewSnapshot(html, baseURL string) (*Snapshot, error) {
	doc, err := goquery.NewDocumentFromReader(strings.NewReader(html))
	if err != nil {
		return nil, fmt.Errorf("parsing HTML: %w", err)
	}
	return &Snapshot{doc: doc, baseURL: baseURL}, nil
}

// Evaluate returns the visible text and href of each element matching selector.
func (s *Snapshot) Evaluate(ctx context.Context, selector string) ([]Anchor, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	return collectAnchors(s.doc.Selection, selector, s.baseURL), nil
}

func collectAnchors(root *goquery.Selection, selector, baseURL string) []Anchor {
	var anchors []Anchor
	root.Find(selector).Each(func(_ int, sel *goquery.Selection) {
		href, _ := sel.Attr("href")
		anchors = append(anchors, Anchor{
			Text: strings.Join(strings.Fields(sel.Text()), " "),
			Href: resolveHref(baseURL, href),
		})
	})
	return anchors
}
