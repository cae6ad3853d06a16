package provider

import (
	"fmt"
	"regexp"
	"strconv"
	"strings"

	"github.com/PuerkitoBio/goquery"

	"conch/internal/media"
)

var episodeCountPattern = regexp.MustCompile(`(?i)^eps?\s*(\d+)$`)

// parseSearchResults extracts series from a search page.
func parseSearchResults(doc *goquery.Document) []media.Series {
	var results []media.Series

	doc.Find(".film_list-wrap .flw-item").Each(func(_ int, s *goquery.Selection) {
		series := media.Series{}

		link := s.Find(".film-name a")
		series.Title = strings.TrimSpace(link.Text())
		if href, exists := link.Attr("href"); exists {
			series.URL = href
			series.ID = extractID(href)
		}

		series.ArtworkURL = posterURL(s.Find("img.film-poster-img"))
		series.TrackerID, _ = strconv.Atoi(s.AttrOr("data-anilist", ""))

		s.Find(".fd-infor span").Each(func(_ int, span *goquery.Selection) {
			text := strings.TrimSpace(span.Text())
			if _, err := strconv.Atoi(text); err == nil && len(text) == 4 {
				series.Year = text
			}
			if m := episodeCountPattern.FindStringSubmatch(text); m != nil {
				series.Episodes, _ = strconv.Atoi(m[1])
			}
		})

		if series.Title != "" && series.ID != "" {
			results = append(results, series)
		}
	})

	return results
}

// parseSeriesDetail fills series metadata from its page header. Fields that
// are already set are kept.
func parseSeriesDetail(doc *goquery.Document, series *media.Series) {
	detail := doc.Find("#series-detail").First()
	if detail.Length() == 0 {
		return
	}
	if series.Title == "" {
		series.Title = strings.TrimSpace(detail.Find(".heading-name").First().Text())
	}
	if series.ArtworkURL == "" {
		series.ArtworkURL = posterURL(detail.Find("img.film-poster-img"))
	}
	if series.TrackerID == 0 {
		series.TrackerID, _ = strconv.Atoi(detail.AttrOr("data-anilist", ""))
	}
}

// parseEpisodes extracts the episode list of a series page.
func parseEpisodes(doc *goquery.Document, series media.Series, source string) []media.Item {
	var items []media.Item

	doc.Find(".ss-list a.ep-item").Each(func(_ int, s *goquery.Selection) {
		href, exists := s.Attr("href")
		if !exists || strings.TrimSpace(href) == "" {
			return
		}

		num, err := strconv.Atoi(strings.TrimSpace(s.AttrOr("data-number", "")))
		if err != nil {
			// Fall back to the trailing number of the link text.
			if parts := strings.Fields(s.Text()); len(parts) > 0 {
				num, _ = strconv.Atoi(parts[len(parts)-1])
			}
		}
		if num <= 0 {
			return
		}

		label := fmt.Sprintf("Episode %d", num)
		if title := strings.TrimSpace(s.AttrOr("title", "")); title != "" && title != label {
			label = fmt.Sprintf("Episode %d: %s", num, title)
		}

		items = append(items, media.Item{
			Key:         media.ItemKey(series.ID, num),
			SeriesTitle: series.Title,
			Label:       label,
			Number:      num,
			PageURL:     href,
			ArtworkURL:  series.ArtworkURL,
			SourceTag:   source,
			TrackerID:   series.TrackerID,
		})
	})

	return items
}

// parseLastPage reads the highest page number from the pagination bar.
func parseLastPage(doc *goquery.Document) int {
	last := 1
	doc.Find(".pagination .page-link").Each(func(_ int, s *goquery.Selection) {
		if n, err := strconv.Atoi(strings.TrimSpace(s.Text())); err == nil && n > last {
			last = n
		}
	})
	return last
}

// posterURL prefers the lazy-load source over src.
func posterURL(img *goquery.Selection) string {
	if src := strings.TrimSpace(img.AttrOr("data-src", "")); src != "" {
		return src
	}
	return strings.TrimSpace(img.AttrOr("src", ""))
}

// extractID extracts the series ID from a URL path.
// e.g., "/series/frieren-beyond-journeys-end-1234" -> "series/frieren-beyond-journeys-end-1234"
func extractID(urlPath string) string {
	id := strings.TrimPrefix(urlPath, "/")
	if idx := strings.IndexAny(id, "?#"); idx != -1 {
		id = id[:idx]
	}
	return id
}

// FormatDisplayTitle creates a display string for fzf selection.
func FormatDisplayTitle(s media.Series) string {
	parts := []string{s.Title}
	if s.Year != "" {
		parts = append(parts, fmt.Sprintf("(%s)", s.Year))
	}
	if s.Episodes > 0 {
		parts = append(parts, fmt.Sprintf("[%d eps]", s.Episodes))
	}
	return strings.Join(parts, " ")
}
