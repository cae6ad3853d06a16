package provider

import (
	"context"
	"fmt"
	"net/http"
	"net/url"

	"github.com/PuerkitoBio/goquery"
	"github.com/samber/lo"

	"conch/internal/httputil"
	"conch/internal/log"
	"conch/internal/media"
)

// maxSearchPages limits how many pages of search results to fetch.
const maxSearchPages = 3

// Catalog implements Provider by scraping the catalog site.
type Catalog struct {
	base     string // e.g., "animecatalog.to"
	client   *http.Client
	identity httputil.Identity
	cache    *EpisodeCache
}

// NewCatalog creates a Catalog for base. cache may be nil.
func NewCatalog(base string, cache *EpisodeCache) *Catalog {
	return &Catalog{
		base:     base,
		client:   httputil.NewClient(),
		identity: httputil.NewIdentity(),
		cache:    cache,
	}
}

func (c *Catalog) baseURL() string {
	return "https://" + c.base
}

// Search returns matching series, fetching up to maxSearchPages pages.
func (c *Catalog) Search(ctx context.Context, query string) ([]media.Series, error) {
	searchURL := fmt.Sprintf("%s/search?keyword=%s", c.baseURL(), url.QueryEscape(query))

	doc, err := c.fetchDocument(ctx, searchURL)
	if err != nil {
		return nil, fmt.Errorf("searching for %q: %w", query, err)
	}

	results := parseSearchResults(doc)
	pages := min(parseLastPage(doc), maxSearchPages)
	for page := 2; page <= pages; page++ {
		pageDoc, err := c.fetchDocument(ctx, fmt.Sprintf("%s&page=%d", searchURL, page))
		if err != nil {
			log.Debugf("search page %d: %v", page, err)
			break
		}
		results = append(results, parseSearchResults(pageDoc)...)
	}

	results = lo.UniqBy(results, func(s media.Series) string { return s.ID })
	if len(results) == 0 {
		return nil, fmt.Errorf("no results found for %q", query)
	}

	for i := range results {
		results[i].URL = httputil.ResolveReference(c.baseURL()+"/", results[i].URL)
		if results[i].ArtworkURL != "" {
			results[i].ArtworkURL = httputil.ResolveReference(c.baseURL()+"/", results[i].ArtworkURL)
		}
	}
	return results, nil
}

// Episodes returns the episodes of series, from the cache when fresh.
func (c *Catalog) Episodes(ctx context.Context, series media.Series) ([]media.Item, error) {
	if err := httputil.ValidateID(series.ID); err != nil {
		return nil, fmt.Errorf("invalid series ID: %w", err)
	}

	if items, ok := c.cache.Get(series.ID).Get(); ok {
		log.WithField("series", series.ID).Debugf("episode list from cache")
		return items, nil
	}

	seriesURL := fmt.Sprintf("%s/%s", c.baseURL(), series.ID)
	doc, err := c.fetchDocument(ctx, seriesURL)
	if err != nil {
		return nil, fmt.Errorf("getting episodes: %w", err)
	}

	parseSeriesDetail(doc, &series)
	items := parseEpisodes(doc, series, c.base)
	if len(items) == 0 {
		return nil, fmt.Errorf("no episodes found for %q", series.Title)
	}
	for i := range items {
		items[i].PageURL = httputil.ResolveReference(seriesURL, items[i].PageURL)
	}

	if err := c.cache.Set(series.ID, items); err != nil {
		log.Warnf("caching episode list: %v", err)
	}
	return items, nil
}

// fetchDocument fetches a URL and parses it into a goquery Document.
func (c *Catalog) fetchDocument(ctx context.Context, url string) (*goquery.Document, error) {
	resp, err := httputil.Get(ctx, c.client, url, c.identity)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("unexpected status %d", resp.StatusCode)
	}

	doc, err := goquery.NewDocumentFromReader(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("parsing HTML: %w", err)
	}
	return doc, nil
}
