// Package playback drives one item from its download page to a sink, and
// keeps going through the sequence while autoplay chains.
package playback

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/samber/lo"

	"conch/internal/browser"
	"conch/internal/config"
	"conch/internal/dispatch"
	"conch/internal/extract"
	"conch/internal/httputil"
	"conch/internal/log"
	"conch/internal/media"
	"conch/internal/poll"
	"conch/internal/quality"
	"conch/internal/session"
)

const finishedShare = 0.05

// OpenSurface opens the browsing surface for a download page. The returned
// func releases it and is safe to call more than once.
type OpenSurface func(pageURL string, id httputil.Identity) (browser.Surface, func())

// Dispatcher hands resolved media to a sink.
type Dispatcher interface {
	Dispatch(ctx context.Context, res media.ResolvedMedia) (dispatch.Handoff, error)
}

// PositionReader looks up a saved resume position.
type PositionReader interface {
	Position(ctx context.Context, itemKey string) (position, duration float64, ok bool, err error)
}

// ChooseFunc asks the user to pick one of labels.
type ChooseFunc func(prompt string, labels []string) (int, error)

// Deps are the collaborators of a Pipeline. Positions, Store, Ledger, Syncer
// and NewObserver may be nil.
type Deps struct {
	Surfaces    OpenSurface
	Router      Dispatcher
	Choose      ChooseFunc
	Positions   PositionReader
	Store       session.PositionStore
	Ledger      session.Ledger
	Syncer      session.Syncer
	NewObserver func(item media.Item) session.Observer
}

// Options are taken from a config snapshot.
type Options struct {
	Query          extract.Query
	MaxAttempts    uint
	Interval       time.Duration
	Quality        string
	SampleInterval time.Duration
	RemoteSync     bool
	Autoplay       bool
}

// OptionsFrom builds pipeline options from cfg.
func OptionsFrom(cfg config.Config) Options {
	return Options{
		Query: extract.Query{
			Container:      cfg.DownloadContainer,
			DownloadMarker: cfg.DownloadMarker,
			FormatMarker:   cfg.FormatMarker,
		},
		MaxAttempts:    cfg.MaxAttempts(),
		Interval:       poll.DefaultInterval,
		Quality:        cfg.Quality,
		SampleInterval: session.DefaultSampleInterval,
		RemoteSync:     cfg.RemoteSync,
		Autoplay:       cfg.Autoplay,
	}
}

// Pipeline runs the extraction and playback lifecycle.
type Pipeline struct {
	deps Deps
	opts Options
}

// New creates a Pipeline.
func New(deps Deps, opts Options) *Pipeline {
	return &Pipeline{deps: deps, opts: opts}
}

// Run plays the current item of seq, then every item autoplay chains to.
// It returns when an item ends without chaining, when a non-internal sink
// took over, or on the first error.
func (p *Pipeline) Run(ctx context.Context, seq *media.Sequence) error {
	for {
		item, ok := seq.Current()
		if !ok {
			return errors.New("no item selected")
		}

		chained, err := p.playItem(ctx, seq, item)
		if err != nil {
			return err
		}
		if ctx.Err() != nil {
			return ctx.Err()
		}
		if !chained {
			return nil
		}
	}
}

// playItem runs one extraction lifecycle. It reports whether the session
// chained to the next item of seq.
func (p *Pipeline) playItem(ctx context.Context, seq *media.Sequence, item media.Item) (bool, error) {
	entry := log.WithField("item", item.Key)

	res, x, err := p.resolve(ctx, item)
	if err != nil {
		return false, err
	}

	handoff, err := p.deps.Router.Dispatch(ctx, res)
	if err != nil {
		return false, err
	}
	entry.Infof("playing %s at %s via %s", res.Title, res.Quality, handoff.Route.Sink)

	if handoff.Route.Sink != dispatch.Internal || handoff.Stream == nil {
		return false, nil
	}
	x.MarkStarted()

	var (
		chainMu sync.Mutex
		chained bool
	)
	deps := session.Deps{
		Store:  p.deps.Store,
		Ledger: p.deps.Ledger,
		Syncer: p.deps.Syncer,
		OnChain: func(next media.Item) {
			chainMu.Lock()
			defer chainMu.Unlock()
			chained = true
			entry.Infof("up next: %s", next.DisplayTitle())
		},
	}
	if p.deps.NewObserver != nil {
		deps.Observer = p.deps.NewObserver(item)
	}

	tracker := session.New(seq, handoff.Stream, deps, session.Options{
		SampleInterval: p.opts.SampleInterval,
		RemoteSync:     p.opts.RemoteSync,
		Autoplay:       p.opts.Autoplay,
	})
	tracker.Start(ctx)
	reason := tracker.Wait()
	entry.Debugf("session ended: %s", reason)

	chainMu.Lock()
	defer chainMu.Unlock()
	return chained, nil
}

// Resolve extracts and selects the media of item without dispatching it.
func (p *Pipeline) Resolve(ctx context.Context, item media.Item) (media.ResolvedMedia, error) {
	res, x, err := p.resolve(ctx, item)
	if err != nil {
		return media.ResolvedMedia{}, err
	}
	x.Stop()
	return res, nil
}

// resolve extracts the candidates of item and picks one. The surface is
// released before it returns.
func (p *Pipeline) resolve(ctx context.Context, item media.Item) (media.ResolvedMedia, *poll.Extraction, error) {
	identity := httputil.NewIdentity()
	surface, release := p.deps.Surfaces(item.PageURL, identity)
	defer release()

	x := poll.NewExtraction(extract.New(surface, p.opts.Query), p.opts.MaxAttempts, p.opts.Interval)
	candidates, err := x.Run(ctx)
	if err != nil {
		return media.ResolvedMedia{}, nil, fmt.Errorf("extracting %s: %w", item.DisplayTitle(), err)
	}

	resume := p.resumePosition(ctx, item)
	res, err := p.choose(candidates, item, resume)
	if err != nil {
		return media.ResolvedMedia{}, nil, err
	}
	res.UserAgent = identity.UserAgent
	return res, x, nil
}

// choose applies the quality policy. A user pick is requested when the
// policy asks for one, or when the chosen URL is unplayable and other
// candidates remain.
func (p *Pipeline) choose(candidates []media.CandidateVariant, item media.Item, resume float64) (media.ResolvedMedia, error) {
	out, err := quality.Select(candidates, p.opts.Quality)
	if err != nil {
		return media.ResolvedMedia{}, err
	}

	options := out.Options
	variant := out.Variant
	if out.NeedsUserChoice {
		if variant, err = p.pick(options); err != nil {
			return media.ResolvedMedia{}, err
		}
	}

	for {
		res, err := media.Resolve(variant, item, resume)
		if err == nil {
			return res, nil
		}
		if !errors.Is(err, media.ErrInvalidVariantURL) {
			return media.ResolvedMedia{}, err
		}
		log.WithField("item", item.Key).Warnf("%s: %v", variant.Label, err)

		bad := variant
		options = lo.Reject(options, func(c media.CandidateVariant, _ int) bool { return c == bad })
		if len(options) == 0 {
			return media.ResolvedMedia{}, err
		}
		if variant, err = p.pick(options); err != nil {
			return media.ResolvedMedia{}, err
		}
	}
}

func (p *Pipeline) pick(options []media.CandidateVariant) (media.CandidateVariant, error) {
	if len(options) == 0 {
		return media.CandidateVariant{}, quality.ErrNoQualityOptions
	}
	if p.deps.Choose == nil {
		return options[0], nil
	}
	labels := lo.Map(options, func(c media.CandidateVariant, _ int) string { return c.Label })
	idx, err := p.deps.Choose("Quality", labels)
	if err != nil {
		return media.CandidateVariant{}, fmt.Errorf("choosing quality: %w", err)
	}
	if idx < 0 || idx >= len(options) {
		return media.CandidateVariant{}, fmt.Errorf("quality index %d out of range", idx)
	}
	return options[idx], nil
}

// resumePosition returns the saved position of item, or 0. Positions in the
// last finishedShare of the item are not resumed.
func (p *Pipeline) resumePosition(ctx context.Context, item media.Item) float64 {
	if p.deps.Positions == nil {
		return 0
	}
	pos, dur, ok, err := p.deps.Positions.Position(ctx, item.Key)
	if err != nil {
		log.WithField("item", item.Key).Debugf("reading resume position: %v", err)
		return 0
	}
	if !ok || (dur > 0 && (dur-pos)/dur < finishedShare) {
		return 0
	}
	return pos
}
