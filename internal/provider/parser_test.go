package provider

import (
	"os"
	"strings"
	"testing"

	"github.com/PuerkitoBio/goquery"

	"conch/internal/media"
)

func loadTestDoc(t *testing.T, filename string) *goquery.Document {
	t.Helper()
	data, err := os.ReadFile("testdata/" + filename)
	if err != nil {
		t.Fatalf("reading test fixture %s: %v", filename, err)
	}
	doc, err := goquery.NewDocumentFromReader(strings.NewReader(string(data)))
	if err != nil {
		t.Fatalf("parsing test fixture %s: %v", filename, err)
	}
	return doc
}

func TestParseSearchResults(t *testing.T) {
	doc := loadTestDoc(t, "search_results.html")
	results := parseSearchResults(doc)

	if len(results) != 2 {
		t.Fatalf("expected 2 results, got %d", len(results))
	}

	want := []media.Series{
		{
			ID:         "series/frieren-beyond-journeys-end-18542",
			Title:      "Frieren: Beyond Journey's End",
			Year:       "2023",
			Episodes:   28,
			URL:        "/series/frieren-beyond-journeys-end-18542",
			ArtworkURL: "https://img.example.org/frieren.jpg",
			TrackerID:  154587,
		},
		{
			ID:         "series/delicious-in-dungeon-18869",
			Title:      "Delicious in Dungeon",
			Year:       "2024",
			Episodes:   24,
			URL:        "/series/delicious-in-dungeon-18869?ref=search",
			ArtworkURL: "/posters/dungeon-meshi.jpg",
		},
	}
	for i, w := range want {
		if results[i] != w {
			t.Errorf("result[%d] = %+v, want %+v", i, results[i], w)
		}
	}
}

func TestParseLastPage(t *testing.T) {
	if got := parseLastPage(loadTestDoc(t, "search_results.html")); got != 2 {
		t.Errorf("parseLastPage(search_results) = %d, want 2", got)
	}
	if got := parseLastPage(loadTestDoc(t, "search_page2.html")); got != 1 {
		t.Errorf("parseLastPage(search_page2) = %d, want 1", got)
	}
}

func TestParseEpisodes(t *testing.T) {
	doc := loadTestDoc(t, "series_page.html")
	series := media.Series{ID: "series/frieren-beyond-journeys-end-18542"}
	parseSeriesDetail(doc, &series)

	if series.Title != "Frieren: Beyond Journey's End" {
		t.Errorf("detail title = %q", series.Title)
	}
	if series.TrackerID != 154587 {
		t.Errorf("detail tracker id = %d", series.TrackerID)
	}

	items := parseEpisodes(doc, series, "catalog.example")
	if len(items) != 3 {
		t.Fatalf("expected 3 episodes, got %d", len(items))
	}

	tests := []struct {
		num   int
		key   string
		label string
	}{
		{1, "series/frieren-beyond-journeys-end-18542#1", "Episode 1: The Journey's End"},
		{2, "series/frieren-beyond-journeys-end-18542#2", "Episode 2"},
		{3, "series/frieren-beyond-journeys-end-18542#3", "Episode 3"},
	}
	for i, tt := range tests {
		got := items[i]
		if got.Number != tt.num || got.Key != tt.key || got.Label != tt.label {
			t.Errorf("items[%d] = {%d %q %q}, want {%d %q %q}", i, got.Number, got.Key, got.Label, tt.num, tt.key, tt.label)
		}
		if got.SeriesTitle != series.Title || got.TrackerID != 154587 || got.SourceTag != "catalog.example" {
			t.Errorf("items[%d] metadata = %+v", i, got)
		}
	}
}

func TestParseSeriesDetailKeepsKnownFields(t *testing.T) {
	doc := loadTestDoc(t, "series_page.html")
	series := media.Series{Title: "Frieren", ArtworkURL: "https://img.example.org/frieren.jpg", TrackerID: 7}
	parseSeriesDetail(doc, &series)

	if series.Title != "Frieren" || series.ArtworkURL != "https://img.example.org/frieren.jpg" || series.TrackerID != 7 {
		t.Errorf("parseSeriesDetail overwrote known fields: %+v", series)
	}
}

func TestExtractID(t *testing.T) {
	tests := []struct {
		input string
		want  string
	}{
		{"/series/frieren-18542", "series/frieren-18542"},
		{"series/frieren-18542", "series/frieren-18542"},
		{"/series/frieren-18542?ref=search", "series/frieren-18542"},
		{"/series/frieren-18542#top", "series/frieren-18542"},
		{"", ""},
	}

	for _, tt := range tests {
		t.Run(tt.input, func(t *testing.T) {
			if got := extractID(tt.input); got != tt.want {
				t.Errorf("extractID(%q) = %q, want %q", tt.input, got, tt.want)
			}
		})
	}
}

func TestFormatDisplayTitle(t *testing.T) {
	tests := []struct {
		series media.Series
		want   string
	}{
		{media.Series{Title: "Frieren", Year: "2023", Episodes: 28}, "Frieren (2023) [28 eps]"},
		{media.Series{Title: "Frieren", Year: "2023"}, "Frieren (2023)"},
		{media.Series{Title: "Frieren"}, "Frieren"},
	}

	for _, tt := range tests {
		if got := FormatDisplayTitle(tt.series); got != tt.want {
			t.Errorf("FormatDisplayTitle(%+v) = %q, want %q", tt.series, got, tt.want)
		}
	}
}
