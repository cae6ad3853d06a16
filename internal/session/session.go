// Package session tracks one active local playback stream: it samples the
// position, persists progress, fires the remote sync once near the end, and
// chains to the next item when the stream finishes.
package session

import (
	"context"
	"errors"
	"sync"
	"time"

	"conch/internal/log"
	"conch/internal/media"
	"conch/internal/poll"
)

const (
	// DefaultSampleInterval is how often the stream position is sampled.
	DefaultSampleInterval = time.Second

	// SyncThreshold is the remaining share of the item below which the
	// remote progress sync fires.
	SyncThreshold = 0.15

	syncTimeout = 15 * time.Second
)

// ErrSampleIgnored is returned for samples without a usable duration. Such
// samples are dropped and never surfaced.
var ErrSampleIgnored = errors.New("sample ignored")

// EndReason says why a session ended.
type EndReason int

const (
	EndFinished EndReason = iota + 1 // the stream played to its end
	EndClosed                        // Close was called or the player was quit
	EndCancelled                     // the host context went away
)

func (r EndReason) String() string {
	switch r {
	case EndFinished:
		return "finished"
	case EndClosed:
		return "closed"
	case EndCancelled:
		return "cancelled"
	default:
		return "unknown"
	}
}

// Stream is an active playback stream.
type Stream interface {
	Position(ctx context.Context) (float64, error)
	Duration(ctx context.Context) (float64, error)
	Done() <-chan struct{}
	// Finished reports whether the stream played to its end rather than
	// being quit. It is only meaningful once Done is closed.
	Finished() bool
	Close() error
}

// PositionStore persists the resume position of an item.
type PositionStore interface {
	SavePosition(ctx context.Context, itemKey string, position, duration float64) error
}

// Ledger records in-progress items.
type Ledger interface {
	Upsert(ctx context.Context, entry media.ContinueEntry) error
}

// Syncer pushes watch progress to a remote tracker.
type Syncer interface {
	Sync(ctx context.Context, item media.Item) error
}

// Observer receives progress updates for display.
type Observer interface {
	Update(progress, remaining float64)
	Detach()
}

// Deps are the collaborators of a Tracker. Any of them may be nil.
type Deps struct {
	Store    PositionStore
	Ledger   Ledger
	Syncer   Syncer
	Observer Observer

	// OnChain receives the next item when the stream finished and autoplay
	// found one. It is called at most once, after teardown.
	OnChain func(next media.Item)
}

// Options are the session preferences, taken from a config snapshot.
type Options struct {
	SampleInterval time.Duration
	RemoteSync     bool
	Autoplay       bool
}

// Tracker owns one playback session. Samples, stream end and teardown are
// handled on a single poll.Loop goroutine.
type Tracker struct {
	item   media.Item
	seq    *media.Sequence
	stream Stream
	deps   Deps
	opts   Options
	loop   *poll.Loop

	// Owned by the loop goroutine.
	synced bool

	syncs sync.WaitGroup

	closeOnce sync.Once
	ended     chan struct{}
	reason    EndReason
}

// New creates a tracker for stream playing the current item of seq.
func New(seq *media.Sequence, stream Stream, deps Deps, opts Options) *Tracker {
	if opts.SampleInterval <= 0 {
		opts.SampleInterval = DefaultSampleInterval
	}
	item, _ := seq.Current()
	return &Tracker{
		item:   item,
		seq:    seq,
		stream: stream,
		deps:   deps,
		opts:   opts,
		loop:   poll.NewLoop(),
		ended:  make(chan struct{}),
	}
}

// Start begins sampling. ctx bounds the session: when it is cancelled the
// session is torn down.
func (t *Tracker) Start(ctx context.Context) {
	t.loop.Start(t.opts.SampleInterval, func() {
		if err := t.sample(ctx); err != nil && !errors.Is(err, ErrSampleIgnored) {
			log.WithField("item", t.item.Key).Debugf("sample failed: %v", err)
		}
	})

	go func() {
		var reason EndReason
		select {
		case <-t.stream.Done():
			reason = EndClosed
			if t.stream.Finished() {
				reason = EndFinished
			}
		case <-ctx.Done():
			reason = EndCancelled
		case <-t.loop.Done():
			return
		}
		if !t.loop.Post(func() { t.finish(reason) }) {
			t.finish(reason)
		}
	}()
}

// Wait blocks until the session ends and reports why.
func (t *Tracker) Wait() EndReason {
	<-t.ended
	return t.reason
}

// Done is closed after teardown.
func (t *Tracker) Done() <-chan struct{} {
	return t.ended
}

// Close tears the session down without chaining. Safe to call more than
// once and concurrently with the stream ending.
func (t *Tracker) Close() {
	t.finish(EndClosed)
}

// sample reads the stream once and applies the progress side effects.
func (t *Tracker) sample(ctx context.Context) error {
	ctx, cancel := context.WithTimeout(ctx, t.opts.SampleInterval)
	defer cancel()

	pos, err := t.stream.Position(ctx)
	if err != nil {
		return err
	}
	dur, err := t.stream.Duration(ctx)
	if err != nil {
		return err
	}
	return t.record(ctx, media.PlaybackProgress{ItemKey: t.item.Key, Position: pos, Duration: dur})
}

func (t *Tracker) record(ctx context.Context, p media.PlaybackProgress) error {
	if !p.Valid() {
		return ErrSampleIgnored
	}
	p = p.Clamped()
	remaining := p.Duration - p.Position
	entry := log.WithField("item", p.ItemKey)

	if t.deps.Store != nil {
		if err := t.deps.Store.SavePosition(ctx, p.ItemKey, p.Position, p.Duration); err != nil {
			entry.Warnf("saving position: %v", err)
		}
	}

	if t.deps.Observer != nil {
		t.deps.Observer.Update(p.Position/p.Duration, remaining)
	}

	if t.deps.Ledger != nil {
		err := t.deps.Ledger.Upsert(ctx, media.ContinueEntry{
			SeriesTitle:   t.item.SeriesTitle,
			EpisodeLabel:  t.item.Label,
			EpisodeNumber: t.item.Number,
			ArtworkURL:    t.item.ArtworkURL,
			ItemKey:       p.ItemKey,
			Position:      p.Position,
			Duration:      p.Duration,
			SourceTag:     t.item.SourceTag,
		})
		if err != nil {
			entry.Warnf("updating continue watching: %v", err)
		}
	}

	if t.opts.RemoteSync && !t.synced && t.deps.Syncer != nil && remaining/p.Duration < SyncThreshold {
		t.synced = true
		t.syncs.Add(1)
		go func() {
			defer t.syncs.Done()
			syncCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), syncTimeout)
			defer cancel()
			if err := t.deps.Syncer.Sync(syncCtx, t.item); err != nil {
				entry.Warnf("progress sync failed: %v", err)
				return
			}
			entry.Infof("progress synced")
		}()
	}
	return nil
}

// finish tears the session down once. Chaining only follows a stream that
// finished on its own.
func (t *Tracker) finish(reason EndReason) {
	t.closeOnce.Do(func() {
		t.loop.Stop()
		if err := t.stream.Close(); err != nil {
			log.WithField("item", t.item.Key).Debugf("closing stream: %v", err)
		}
		if t.deps.Observer != nil {
			t.deps.Observer.Detach()
		}
		t.reason = reason
		defer close(t.ended)

		if reason != EndFinished {
			return
		}
		if next, ok := NextItem(t.seq, t.opts.Autoplay); ok && t.deps.OnChain != nil {
			t.deps.OnChain(next)
		}
	})
}

// NextItem advances seq when autoplay is on. At either end of the sequence
// the index is clamped and false is returned.
func NextItem(seq *media.Sequence, autoplay bool) (media.Item, bool) {
	if !autoplay {
		return media.Item{}, false
	}
	return seq.Advance()
}
