// Package media defines shared types for the conch application.
package media

import (
	"errors"
	"fmt"
	"math"
	"net/url"
	"strings"

	"github.com/samber/mo"
)

// ErrInvalidVariantURL is returned when a selected candidate's URL cannot be played.
var ErrInvalidVariantURL = errors.New("invalid variant URL")

// Series represents a single catalog entry (a show with episodes).
type Series struct {
	ID         string // Provider-specific ID (e.g., "series/frieren-1234")
	Title      string // Display title
	Year       string // Release year
	Episodes   int    // Episode count advertised by the catalog
	URL        string // Full URL to the series page
	ArtworkURL string // Poster image
	TrackerID  int    // AniList media ID, 0 when unknown
}

// Item is one playable entry of a series. Key is its stable identity and is
// used for every persisted fact about the item.
type Item struct {
	Key         string
	SeriesTitle string
	Label       string // e.g., "Episode 3"
	Number      int
	PageURL     string // Download page that renders the links
	ArtworkURL  string
	SourceTag   string // Catalog host the item came from
	TrackerID   int
}

// ItemKey derives the stable identity of an episode.
func ItemKey(seriesID string, number int) string {
	return fmt.Sprintf("%s#%d", seriesID, number)
}

// DisplayTitle is the full title used by players and downloads.
func (i Item) DisplayTitle() string {
	if i.SeriesTitle == "" {
		return i.Label
	}
	if i.Label == "" {
		return i.SeriesTitle
	}
	return i.SeriesTitle + " - " + i.Label
}

// CandidateVariant is one discovered playable resource at a specific quality.
type CandidateVariant struct {
	Label     string // Normalized quality, e.g., "1080p"
	SourceURL string
}

// ResolvedMedia is the single variant chosen for playback. It is immutable
// after Resolve returns it.
type ResolvedMedia struct {
	URL            *url.URL
	Title          string
	ArtworkURL     mo.Option[string]
	ResumePosition mo.Option[float64]
	Quality        string
	Item           Item

	// UserAgent is the identity the page was read with. Fetching the media
	// with it keeps the origin seeing one client. Empty means no preference.
	UserAgent string
}

// Resolve validates the variant URL and builds the ResolvedMedia for item.
// A resume position that is not positive is treated as absent.
func Resolve(v CandidateVariant, item Item, resume float64) (ResolvedMedia, error) {
	u, err := ParseMediaURL(v.SourceURL)
	if err != nil {
		return ResolvedMedia{}, err
	}

	res := ResolvedMedia{
		URL:            u,
		Title:          item.DisplayTitle(),
		ArtworkURL:     mo.None[string](),
		ResumePosition: mo.None[float64](),
		Quality:        v.Label,
		Item:           item,
	}
	if item.ArtworkURL != "" {
		res.ArtworkURL = mo.Some(item.ArtworkURL)
	}
	if resume > 0 && !math.IsInf(resume, 0) && !math.IsNaN(resume) {
		res.ResumePosition = mo.Some(resume)
	}
	return res, nil
}

// ParseMediaURL parses a candidate URL. Only absolute http(s) URLs are accepted.
func ParseMediaURL(raw string) (*url.URL, error) {
	raw = strings.TrimSpace(raw)
	if raw == "" {
		return nil, fmt.Errorf("%w: empty", ErrInvalidVariantURL)
	}
	u, err := url.Parse(raw)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInvalidVariantURL, err)
	}
	if u.Scheme != "http" && u.Scheme != "https" {
		return nil, fmt.Errorf("%w: unsupported scheme %q", ErrInvalidVariantURL, u.Scheme)
	}
	if u.Host == "" {
		return nil, fmt.Errorf("%w: no host", ErrInvalidVariantURL)
	}
	return u, nil
}

// PlaybackProgress is one sample of an active local stream.
type PlaybackProgress struct {
	ItemKey  string
	Position float64
	Duration float64
}

// Valid reports whether the sample has a finite, positive duration.
func (p PlaybackProgress) Valid() bool {
	return !math.IsNaN(p.Duration) && !math.IsInf(p.Duration, 0) && p.Duration > 0 &&
		!math.IsNaN(p.Position) && !math.IsInf(p.Position, 0)
}

// Clamped returns the sample with Position bounded to [0, Duration].
func (p PlaybackProgress) Clamped() PlaybackProgress {
	p.Position = math.Max(0, math.Min(p.Position, p.Duration))
	return p
}

// ContinueEntry is a record in the continue-watching ledger.
type ContinueEntry struct {
	SeriesTitle   string
	EpisodeLabel  string
	EpisodeNumber int
	ArtworkURL    string
	ItemKey       string
	Position      float64
	Duration      float64
	SourceTag     string
}

// Sequence is an ordered episode list with a current-index marker.
type Sequence struct {
	Items    []Item
	Index    int
	Reversed bool // Items are listed newest first, so the next episode is Index-1
}

// Current returns the item at the current index.
func (s *Sequence) Current() (Item, bool) {
	if s == nil || s.Index < 0 || s.Index >= len(s.Items) {
		return Item{}, false
	}
	return s.Items[s.Index], true
}

// Advance moves to the next item in playback order. When the next index is
// out of bounds the marker is clamped to the nearest valid bound and false is
// returned.
func (s *Sequence) Advance() (Item, bool) {
	if s == nil || len(s.Items) == 0 {
		return Item{}, false
	}

	next := s.Index + 1
	if s.Reversed {
		next = s.Index - 1
	}

	if next < 0 {
		s.Index = 0
		return Item{}, false
	}
	if next >= len(s.Items) {
		s.Index = len(s.Items) - 1
		return Item{}, false
	}

	s.Index = next
	return s.Items[next], true
}
