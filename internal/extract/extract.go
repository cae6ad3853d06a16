// Package extract reads download variants out of a rendered download page.
package extract

import (
	"context"
	"regexp"
	"strings"

	"github.com/samber/lo"

	"conch/internal/browser"
	"conch/internal/media"
)

// labelPattern matches "(1080P - mp4)" style quality annotations.
var labelPattern = regexp.MustCompile(`\((\d+)\s*[pP]\s*-\s*([^)]+)\)`)

// Query describes where the download links live and how they are labelled.
type Query struct {
	Container      string // CSS selector of the download container
	DownloadMarker string // text every download anchor carries
	FormatMarker   string // container format, e.g. "mp4"
}

// Selector is the anchor query run against the page.
func (q Query) Selector() string {
	return strings.TrimSpace(q.Container) + " a"
}

// Result is the outcome of one attempt. Exactly one of three states holds:
// candidates found, empty, or Err set.
type Result struct {
	Candidates []media.CandidateVariant
	Err        error
}

// Empty reports whether the page had no usable candidates yet.
func (r Result) Empty() bool {
	return r.Err == nil && len(r.Candidates) == 0
}

// Engine runs the download query against a surface it does not own.
type Engine struct {
	surface browser.Surface
	query   Query
}

// New creates an Engine reading links from surface.
func New(surface browser.Surface, query Query) *Engine {
	return &Engine{surface: surface, query: query}
}

// Attempt evaluates the query once. Anchors whose text lacks either marker or
// the quality annotation are skipped.
func (e *Engine) Attempt(ctx context.Context) Result {
	anchors, err := e.surface.Evaluate(ctx, e.query.Selector())
	if err != nil {
		return Result{Err: err}
	}
	return Result{Candidates: Parse(anchors, e.query)}
}

// Parse turns matched anchors into candidates. Duplicate hrefs keep their
// first occurrence.
func Parse(anchors []browser.Anchor, q Query) []media.CandidateVariant {
	download := strings.ToLower(q.DownloadMarker)
	format := strings.ToLower(q.FormatMarker)

	candidates := lo.FilterMap(anchors, func(a browser.Anchor, _ int) (media.CandidateVariant, bool) {
		text := strings.ToLower(a.Text)
		if !strings.Contains(text, download) || !strings.Contains(text, format) {
			return media.CandidateVariant{}, false
		}
		m := labelPattern.FindStringSubmatch(a.Text)
		if m == nil || strings.TrimSpace(a.Href) == "" {
			return media.CandidateVariant{}, false
		}
		return media.CandidateVariant{
			Label:     NormalizeLabel(m[1]),
			SourceURL: strings.TrimSpace(a.Href),
		}, true
	})

	return lo.UniqBy(candidates, func(c media.CandidateVariant) string {
		return c.SourceURL
	})
}

// NormalizeLabel canonicalizes a quality label: "1080P", "1080p" and "1080"
// all become "1080p".
func NormalizeLabel(label string) string {
	label = strings.ToLower(strings.TrimSpace(label))
	label = strings.TrimSuffix(label, "p")
	label = strings.TrimSpace(label)
	if label == "" {
		return ""
	}
	return label + "p"
}
