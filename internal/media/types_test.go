package media

import (
	"errors"
	"math"
	"testing"
)

func TestResolve(t *testing.T) {
	item := Item{
		Key:         ItemKey("series/frieren-1", 3),
		SeriesTitle: "Frieren",
		Label:       "Episode 3",
		Number:      3,
		ArtworkURL:  "https://img.example.com/frieren.jpg",
	}

	res, err := Resolve(CandidateVariant{Label: "720p", SourceURL: "https://cdn.example.com/ep3.mp4"}, item, 42)
	if err != nil {
		t.Fatalf("Resolve() error: %v", err)
	}
	if res.URL.Host != "cdn.example.com" {
		t.Errorf("host = %q, want cdn.example.com", res.URL.Host)
	}
	if res.Title != "Frieren - Episode 3" {
		t.Errorf("title = %q", res.Title)
	}
	if got, ok := res.ArtworkURL.Get(); !ok || got != item.ArtworkURL {
		t.Errorf("artwork = %q, %v", got, ok)
	}
	if got, ok := res.ResumePosition.Get(); !ok || got != 42 {
		t.Errorf("resume = %v, %v; want 42", got, ok)
	}
	if res.Quality != "720p" {
		t.Errorf("quality = %q", res.Quality)
	}
}

func TestResolveNoResume(t *testing.T) {
	for _, pos := range []float64{0, -3, math.NaN(), math.Inf(1)} {
		res, err := Resolve(CandidateVariant{SourceURL: "https://cdn.example.com/a.mp4"}, Item{}, pos)
		if err != nil {
			t.Fatalf("Resolve() error: %v", err)
		}
		if res.ResumePosition.IsPresent() {
			t.Errorf("resume %v should be absent", pos)
		}
		if res.ArtworkURL.IsPresent() {
			t.Error("artwork should be absent")
		}
	}
}

func TestParseMediaURL(t *testing.T) {
	tests := []struct {
		name    string
		raw     string
		wantErr bool
	}{
		{"https", "https://cdn.example.com/v.mp4", false},
		{"http", "http://cdn.example.com/v.mp4", false},
		{"empty", "", true},
		{"relative", "/v.mp4", true},
		{"javascript", "javascript:alert(1)", true},
		{"no host", "https://", true},
		{"bad escape", "https://cdn.example.com/%zz", true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := ParseMediaURL(tt.raw)
			if (err != nil) != tt.wantErr {
				t.Fatalf("ParseMediaURL(%q) error = %v, wantErr %v", tt.raw, err, tt.wantErr)
			}
			if err != nil && !errors.Is(err, ErrInvalidVariantURL) {
				t.Errorf("error %v should wrap ErrInvalidVariantURL", err)
			}
		})
	}
}

func TestPlaybackProgressValid(t *testing.T) {
	tests := []struct {
		name string
		p    PlaybackProgress
		want bool
	}{
		{"normal", PlaybackProgress{Position: 10, Duration: 100}, true},
		{"zero duration", PlaybackProgress{Position: 10, Duration: 0}, false},
		{"negative duration", PlaybackProgress{Position: 10, Duration: -1}, false},
		{"nan duration", PlaybackProgress{Position: 10, Duration: math.NaN()}, false},
		{"inf duration", PlaybackProgress{Position: 10, Duration: math.Inf(1)}, false},
		{"nan position", PlaybackProgress{Position: math.NaN(), Duration: 100}, false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := tt.p.Valid(); got != tt.want {
				t.Errorf("Valid() = %v, want %v", got, tt.want)
			}
		})
	}
}

func TestPlaybackProgressClamped(t *testing.T) {
	if got := (PlaybackProgress{Position: 120, Duration: 100}).Clamped().Position; got != 100 {
		t.Errorf("clamped position = %v, want 100", got)
	}
	if got := (PlaybackProgress{Position: -5, Duration: 100}).Clamped().Position; got != 0 {
		t.Errorf("clamped position = %v, want 0", got)
	}
}

func items(n int) []Item {
	out := make([]Item, n)
	for i := range out {
		out[i] = Item{Number: i + 1, Key: ItemKey("s", i+1)}
	}
	return out
}

func TestSequenceAdvance(t *testing.T) {
	tests := []struct {
		name      string
		index     int
		reversed  bool
		wantOK    bool
		wantIndex int
	}{
		{"ascending middle", 1, false, true, 2},
		{"ascending last clamps", 2, false, false, 2},
		{"descending middle", 1, true, true, 0},
		{"descending first clamps", 0, true, false, 0},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			seq := &Sequence{Items: items(3), Index: tt.index, Reversed: tt.reversed}
			item, ok := seq.Advance()
			if ok != tt.wantOK {
				t.Fatalf("Advance() ok = %v, want %v", ok, tt.wantOK)
			}
			if seq.Index != tt.wantIndex {
				t.Errorf("index = %d, want %d", seq.Index, tt.wantIndex)
			}
			if ok && item.Number != tt.wantIndex+1 {
				t.Errorf("item number = %d, want %d", item.Number, tt.wantIndex+1)
			}
		})
	}
}

func TestSequenceAdvanceOutOfRangeMarker(t *testing.T) {
	seq := &Sequence{Items: items(3), Index: 7}
	if _, ok := seq.Advance(); ok {
		t.Fatal("Advance() should not chain from an out-of-range marker")
	}
	if seq.Index != 2 {
		t.Errorf("index = %d, want clamped to 2", seq.Index)
	}

	empty := &Sequence{}
	if _, ok := empty.Advance(); ok {
		t.Error("empty sequence should not advance")
	}
}

func TestItemDisplayTitle(t *testing.T) {
	if got := (Item{SeriesTitle: "Show", Label: "Episode 1"}).DisplayTitle(); got != "Show - Episode 1" {
		t.Errorf("got %q", got)
	}
	if got := (Item{Label: "Episode 1"}).DisplayTitle(); got != "Episode 1" {
		t.Errorf("got %q", got)
	}
	if got := (Item{SeriesTitle: "Show"}).DisplayTitle(); got != "Show" {
		t.Errorf("got %q", got)
	}
}
