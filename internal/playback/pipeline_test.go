package playback

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"conch/internal/browser"
	"conch/internal/dispatch"
	"conch/internal/extract"
	"conch/internal/httputil"
	"conch/internal/media"
	"conch/internal/poll"
	"conch/internal/quality"
)

var testQuery = extract.Query{Container: "#pickDownload", DownloadMarker: "Download", FormatMarker: "mp4"}

type fakeSurface struct {
	anchors []browser.Anchor
}

func (s *fakeSurface) Evaluate(ctx context.Context, selector string) ([]browser.Anchor, error) {
	return s.anchors, nil
}

type surfaces struct {
	surface  *fakeSurface
	opened   atomic.Int32
	released atomic.Int32

	mu     sync.Mutex
	agents []string
}

func (s *surfaces) open(pageURL string, id httputil.Identity) (browser.Surface, func()) {
	s.opened.Add(1)
	s.mu.Lock()
	s.agents = append(s.agents, id.UserAgent)
	s.mu.Unlock()
	return s.surface, func() { s.released.Add(1) }
}

// endedStream is a stream that has already finished.
type endedStream struct {
	done chan struct{}
}

func newEndedStream() *endedStream {
	s := &endedStream{done: make(chan struct{})}
	close(s.done)
	return s
}

func (s *endedStream) Position(context.Context) (float64, error) { return 0, nil }
func (s *endedStream) Duration(context.Context) (float64, error) { return 0, nil }
func (s *endedStream) Done() <-chan struct{}                     { return s.done }
func (s *endedStream) Finished() bool                            { return true }
func (s *endedStream) Close() error                              { return nil }

type fakeRouter struct {
	mu       sync.Mutex
	sink     dispatch.Sink
	resolved []media.ResolvedMedia
}

func (r *fakeRouter) Dispatch(ctx context.Context, res media.ResolvedMedia) (dispatch.Handoff, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.resolved = append(r.resolved, res)
	h := dispatch.Handoff{Route: dispatch.Route{Sink: r.sink}}
	if r.sink == dispatch.Internal {
		h.Stream = newEndedStream()
	}
	return h, nil
}

type fakePositions map[string][2]float64

func (f fakePositions) Position(ctx context.Context, key string) (float64, float64, bool, error) {
	v, ok := f[key]
	return v[0], v[1], ok, nil
}

func downloadAnchors() []browser.Anchor {
	return []browser.Anchor{
		{Text: "Download (720P - mp4)", Href: "https://cdn.example.org/720.mp4"},
		{Text: "Download (1080P - mp4)", Href: "https://cdn.example.org/1080.mp4"},
		{Text: "Mirror list", Href: "https://mirror.example.org/"},
	}
}

func testSequence(n int) *media.Sequence {
	seq := &media.Sequence{}
	for i := 1; i <= n; i++ {
		seq.Items = append(seq.Items, media.Item{
			Key:         media.ItemKey("series/frieren-1234", i),
			SeriesTitle: "Frieren",
			Label:       "Episode",
			Number:      i,
			PageURL:     "https://catalog.example/watch?ep=" + string(rune('0'+i)),
		})
	}
	return seq
}

func testOptions() Options {
	return Options{
		Query:          testQuery,
		MaxAttempts:    3,
		Interval:       time.Millisecond,
		Quality:        "1080p",
		SampleInterval: time.Millisecond,
		Autoplay:       true,
	}
}

func TestRunChainsThroughSequence(t *testing.T) {
	s := &surfaces{surface: &fakeSurface{anchors: downloadAnchors()}}
	router := &fakeRouter{sink: dispatch.Internal}
	p := New(Deps{Surfaces: s.open, Router: router}, testOptions())

	seq := testSequence(3)
	if err := p.Run(context.Background(), seq); err != nil {
		t.Fatalf("Run() error: %v", err)
	}

	if len(router.resolved) != 3 {
		t.Fatalf("dispatched %d items, want 3", len(router.resolved))
	}
	for i, res := range router.resolved {
		if res.Item.Number != i+1 {
			t.Errorf("dispatch %d played episode %d", i, res.Item.Number)
		}
		if res.Quality != "1080p" || res.URL.String() != "https://cdn.example.org/1080.mp4" {
			t.Errorf("dispatch %d resolved %s %s", i, res.Quality, res.URL)
		}
	}
	if seq.Index != 2 {
		t.Errorf("seq.Index = %d, want clamped to 2", seq.Index)
	}
	if s.opened.Load() != 3 || s.released.Load() != 3 {
		t.Errorf("surfaces opened %d released %d, want 3 each", s.opened.Load(), s.released.Load())
	}
}

func TestRunReversedOrder(t *testing.T) {
	s := &surfaces{surface: &fakeSurface{anchors: downloadAnchors()}}
	router := &fakeRouter{sink: dispatch.Internal}
	p := New(Deps{Surfaces: s.open, Router: router}, testOptions())

	seq := testSequence(3)
	seq.Reversed = true
	seq.Index = 1
	if err := p.Run(context.Background(), seq); err != nil {
		t.Fatalf("Run() error: %v", err)
	}
	if len(router.resolved) != 2 || router.resolved[1].Item.Number != 1 {
		t.Errorf("reversed run dispatched %d items", len(router.resolved))
	}
	if seq.Index != 0 {
		t.Errorf("seq.Index = %d, want 0", seq.Index)
	}
}

func TestRunWithoutAutoplay(t *testing.T) {
	s := &surfaces{surface: &fakeSurface{anchors: downloadAnchors()}}
	router := &fakeRouter{sink: dispatch.Internal}
	opts := testOptions()
	opts.Autoplay = false
	p := New(Deps{Surfaces: s.open, Router: router}, opts)

	seq := testSequence(3)
	if err := p.Run(context.Background(), seq); err != nil {
		t.Fatalf("Run() error: %v", err)
	}
	if len(router.resolved) != 1 || seq.Index != 0 {
		t.Errorf("dispatched %d items, index %d", len(router.resolved), seq.Index)
	}
}

func TestRunExternalSinkStops(t *testing.T) {
	s := &surfaces{surface: &fakeSurface{anchors: downloadAnchors()}}
	router := &fakeRouter{sink: dispatch.Download}
	p := New(Deps{Surfaces: s.open, Router: router}, testOptions())

	if err := p.Run(context.Background(), testSequence(3)); err != nil {
		t.Fatalf("Run() error: %v", err)
	}
	if len(router.resolved) != 1 {
		t.Errorf("dispatched %d items, want 1", len(router.resolved))
	}
}

func TestRunExhausted(t *testing.T) {
	s := &surfaces{surface: &fakeSurface{}}
	router := &fakeRouter{sink: dispatch.Internal}
	p := New(Deps{Surfaces: s.open, Router: router}, testOptions())

	err := p.Run(context.Background(), testSequence(1))
	if !errors.Is(err, poll.ErrExhausted) {
		t.Fatalf("Run() error = %v, want ErrExhausted", err)
	}
	if len(router.resolved) != 0 {
		t.Error("router called after exhausted extraction")
	}
	if s.released.Load() != 1 {
		t.Errorf("surface released %d times, want 1", s.released.Load())
	}
}

func TestRunEmptySequence(t *testing.T) {
	p := New(Deps{}, testOptions())
	if err := p.Run(context.Background(), &media.Sequence{}); err == nil {
		t.Error("expected error for empty sequence")
	}
}

func TestRunResumesSavedPosition(t *testing.T) {
	seq := testSequence(1)
	s := &surfaces{surface: &fakeSurface{anchors: downloadAnchors()}}
	router := &fakeRouter{sink: dispatch.Download}
	positions := fakePositions{seq.Items[0].Key: {120, 1400}}
	p := New(Deps{Surfaces: s.open, Router: router, Positions: positions}, testOptions())

	if err := p.Run(context.Background(), seq); err != nil {
		t.Fatalf("Run() error: %v", err)
	}
	if v, ok := router.resolved[0].ResumePosition.Get(); !ok || v != 120 {
		t.Errorf("resume = %v, %v, want 120", v, ok)
	}
}

func TestResumePosition(t *testing.T) {
	item := media.Item{Key: "series/x#1"}
	tests := []struct {
		name      string
		positions fakePositions
		want      float64
	}{
		{"none saved", fakePositions{}, 0},
		{"midway", fakePositions{item.Key: {300, 1400}}, 300},
		{"at the end", fakePositions{item.Key: {1390, 1400}}, 0},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			p := New(Deps{Positions: tt.positions}, testOptions())
			if got := p.resumePosition(context.Background(), item); got != tt.want {
				t.Errorf("resumePosition() = %v, want %v", got, tt.want)
			}
		})
	}
}

func TestChooseAsksUser(t *testing.T) {
	var offered []string
	choose := func(prompt string, labels []string) (int, error) {
		offered = labels
		return 1, nil
	}
	opts := testOptions()
	opts.Quality = quality.Ask
	p := New(Deps{Choose: choose}, opts)

	candidates := []media.CandidateVariant{
		{Label: "720p", SourceURL: "https://cdn.example.org/720.mp4"},
		{Label: "1080p", SourceURL: "https://cdn.example.org/1080.mp4"},
	}
	res, err := p.choose(candidates, media.Item{Key: "k"}, 0)
	if err != nil {
		t.Fatalf("choose() error: %v", err)
	}
	if len(offered) != 2 || offered[0] != "1080p" {
		t.Errorf("offered %v, want highest first", offered)
	}
	if res.Quality != "720p" {
		t.Errorf("Quality = %q, want 720p", res.Quality)
	}
}

func TestChooseInvalidURLOffersRemaining(t *testing.T) {
	var offered []string
	choose := func(prompt string, labels []string) (int, error) {
		offered = labels
		return 0, nil
	}
	p := New(Deps{Choose: choose}, testOptions())

	candidates := []media.CandidateVariant{
		{Label: "1080p", SourceURL: "not a url"},
		{Label: "720p", SourceURL: "https://cdn.example.org/720.mp4"},
	}
	res, err := p.choose(candidates, media.Item{Key: "k"}, 0)
	if err != nil {
		t.Fatalf("choose() error: %v", err)
	}
	if len(offered) != 1 || offered[0] != "720p" {
		t.Errorf("offered %v, want only 720p", offered)
	}
	if res.Quality != "720p" {
		t.Errorf("Quality = %q, want 720p", res.Quality)
	}
}

func TestChooseInvalidURLNoneLeft(t *testing.T) {
	p := New(Deps{}, testOptions())
	candidates := []media.CandidateVariant{{Label: "1080p", SourceURL: "javascript:void(0)"}}

	if _, err := p.choose(candidates, media.Item{Key: "k"}, 0); !errors.Is(err, media.ErrInvalidVariantURL) {
		t.Errorf("choose() error = %v, want ErrInvalidVariantURL", err)
	}
}

func TestChoosePickerCancelled(t *testing.T) {
	cancelled := errors.New("selection cancelled")
	opts := testOptions()
	opts.Quality = quality.Ask
	p := New(Deps{Choose: func(string, []string) (int, error) { return -1, cancelled }}, opts)

	candidates := []media.CandidateVariant{{Label: "1080p", SourceURL: "https://cdn.example.org/1080.mp4"}}
	if _, err := p.choose(candidates, media.Item{Key: "k"}, 0); !errors.Is(err, cancelled) {
		t.Errorf("choose() error = %v, want the picker error", err)
	}
}

func TestChooseNoCandidates(t *testing.T) {
	p := New(Deps{}, testOptions())
	if _, err := p.choose(nil, media.Item{Key: "k"}, 0); !errors.Is(err, quality.ErrNoQualityOptions) {
		t.Errorf("choose() error = %v, want ErrNoQualityOptions", err)
	}
}

func TestResolveDoesNotDispatch(t *testing.T) {
	s := &surfaces{surface: &fakeSurface{anchors: downloadAnchors()}}
	router := &fakeRouter{sink: dispatch.Internal}
	opts := testOptions()
	opts.Quality = "720p"
	p := New(Deps{Surfaces: s.open, Router: router}, opts)

	res, err := p.Resolve(context.Background(), testSequence(1).Items[0])
	if err != nil {
		t.Fatalf("Resolve() error: %v", err)
	}
	if res.Quality != "720p" || res.Title != "Frieren - Episode" {
		t.Errorf("resolved %q %q", res.Quality, res.Title)
	}
	if len(router.resolved) != 0 || s.released.Load() != 1 {
		t.Errorf("dispatched %d, released %d", len(router.resolved), s.released.Load())
	}
}

func TestResolveCarriesPageIdentity(t *testing.T) {
	s := &surfaces{surface: &fakeSurface{anchors: downloadAnchors()}}
	router := &fakeRouter{sink: dispatch.Internal}
	p := New(Deps{Surfaces: s.open, Router: router}, testOptions())

	if err := p.Run(context.Background(), testSequence(2)); err != nil {
		t.Fatalf("Run() error: %v", err)
	}

	if len(router.resolved) != 2 || len(s.agents) != 2 {
		t.Fatalf("resolved %d, surfaces %d, want 2 each", len(router.resolved), len(s.agents))
	}
	for i, res := range router.resolved {
		if res.UserAgent == "" || res.UserAgent != s.agents[i] {
			t.Errorf("item %d: UserAgent = %q, want the page identity %q", i, res.UserAgent, s.agents[i])
		}
	}
}
