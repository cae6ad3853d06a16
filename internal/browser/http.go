package browser

import (
	"context"
	"fmt"
	"io"
	"net/http"

	"conch/internal/httputil"
)

// maxPageSize bounds how much of a page is read per evaluation.
const maxPageSize = 5 * 1024 * 1024

// HTTP refetches the page for every evaluation. It serves origins that
// render their links server-side and needs no browser binary.
type HTTP struct {
	client   *http.Client
	pageURL  string
	identity httputil.Identity
}

// NewHTTP creates an HTTP surface for pageURL using identity for every request.
func NewHTTP(client *http.Client, pageURL string, identity httputil.Identity) *HTTP {
	return &HTTP{client: client, pageURL: pageURL, identity: identity}
}

// Evaluate fetches the page and evaluates selector against it.
func (h *HTTP) Evaluate(ctx context.Context, selector string) ([]Anchor, error) {
	resp, err := httputil.Get(ctx, h.client, h.pageURL, h.identity)
	if err != nil {
		return nil, fmt.Errorf("fetching page: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("unexpected status %d", resp.StatusCode)
	}

	body, err := io.ReadAll(io.LimitReader(resp.Body, maxPageSize))
	if err != nil {
		return nil, fmt.Errorf("reading page: %w", err)
	}

	snap, err := NewSnapshot(string(body), h.pageURL)
	if err != nil {
		return nil, err
	}
	return snap.Evaluate(ctx, selector)
}

func resolveHref(baseURL, href string) string {
	if href == "" || baseURL == "" {
		return href
	}
	return httputil.ResolveReference(baseURL, href)
}
