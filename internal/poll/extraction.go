package poll

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"conch/internal/extract"
	"conch/internal/log"
	"conch/internal/media"
)

// DefaultInterval is the fixed delay between extraction attempts.
const DefaultInterval = 500 * time.Millisecond

var (
	// ErrExhausted means every attempt came back empty.
	ErrExhausted = errors.New("no download links found")

	// ErrStopped means extraction was cut short because playback started or
	// the loop was stopped.
	ErrStopped = errors.New("extraction stopped")
)

// FailedError is reported when retries ran out and the final attempt failed
// with an error rather than an empty result.
type FailedError struct {
	Attempts uint
	Cause    error
}

func (e *FailedError) Error() string {
	return fmt.Sprintf("extraction failed after %d attempts: %v", e.Attempts, e.Cause)
}

func (e *FailedError) Unwrap() error { return e.Cause }

// State is the bookkeeping of one extraction. Attempts never exceeds
// MaxAttempts, and once Resolved is true no further attempt is issued.
type State struct {
	Attempts    uint
	MaxAttempts uint
	Resolved    bool
}

// Attempter performs a single extraction attempt.
type Attempter interface {
	Attempt(ctx context.Context) extract.Result
}

type outcome struct {
	candidates []media.CandidateVariant
	err        error
}

// Extraction retries an Attempter on a Loop until it yields candidates or
// the attempt budget runs out. At most one attempt is in flight; ticks that
// fire while one is running are skipped and not counted.
type Extraction struct {
	engine   Attempter
	interval time.Duration
	loop     *Loop
	results  chan outcome

	started atomic.Bool

	// Owned by the loop goroutine. mu only guards snapshots taken by State.
	mu       sync.Mutex
	state    State
	inFlight bool
	lastErr  error
}

// NewExtraction creates an extraction allowing maxAttempts attempts, floored
// at 1. A non-positive interval selects DefaultInterval.
func NewExtraction(engine Attempter, maxAttempts uint, interval time.Duration) *Extraction {
	if maxAttempts < 1 {
		maxAttempts = 1
	}
	if interval <= 0 {
		interval = DefaultInterval
	}
	return &Extraction{
		engine:   engine,
		interval: interval,
		loop:     NewLoop(),
		results:  make(chan outcome, 1),
		state:    State{MaxAttempts: maxAttempts},
	}
}

// Run drives the extraction and blocks until it resolves. It returns the
// candidates, ErrExhausted, a *FailedError, ErrStopped, or ctx.Err().
// Run must be called at most once.
func (x *Extraction) Run(ctx context.Context) ([]media.CandidateVariant, error) {
	x.loop.Start(x.interval, func() { x.tick(ctx) })

	select {
	case out := <-x.results:
		return out.candidates, out.err
	case <-ctx.Done():
		x.loop.Stop()
		return nil, ctx.Err()
	case <-x.loop.Done():
		// A result may have been delivered just before the loop exited.
		select {
		case out := <-x.results:
			return out.candidates, out.err
		default:
			return nil, ErrStopped
		}
	}
}

// MarkStarted records that playback began. Pending ticks and in-flight
// completions become no-ops and the loop stops at the next opportunity.
func (x *Extraction) MarkStarted() {
	if x.started.Swap(true) {
		return
	}
	x.loop.Post(x.loop.Stop)
}

// Stop cancels the extraction. Run returns ErrStopped.
func (x *Extraction) Stop() {
	x.loop.Stop()
}

// State returns a snapshot of the bookkeeping.
func (x *Extraction) State() State {
	x.mu.Lock()
	defer x.mu.Unlock()
	s := x.state
	s.Resolved = s.Resolved || x.started.Load()
	return s
}

func (x *Extraction) tick(ctx context.Context) {
	if x.started.Load() || x.resolved() {
		x.loop.Stop()
		return
	}
	if x.inFlight {
		return
	}
	x.inFlight = true

	go func() {
		res := x.engine.Attempt(ctx)
		if !x.loop.Post(func() { x.complete(res) }) {
			log.Debugf("extraction: discarding attempt result after stop")
		}
	}()
}

func (x *Extraction) complete(res extract.Result) {
	x.inFlight = false
	if x.started.Load() || x.resolved() {
		x.loop.Stop()
		return
	}

	if res.Err == nil && !res.Empty() {
		x.mu.Lock()
		x.state.Resolved = true
		x.mu.Unlock()
		x.finish(outcome{candidates: res.Candidates})
		return
	}

	x.mu.Lock()
	x.state.Attempts++
	attempts, limit := x.state.Attempts, x.state.MaxAttempts
	x.mu.Unlock()
	x.lastErr = res.Err

	if res.Empty() {
		log.WithField("attempt", attempts).Debugf("extraction attempt found no links")
	} else {
		log.WithField("attempt", attempts).Debugf("extraction attempt failed: %v", res.Err)
	}

	if attempts < limit {
		return
	}
	if x.lastErr != nil {
		x.finish(outcome{err: &FailedError{Attempts: attempts, Cause: x.lastErr}})
		return
	}
	x.finish(outcome{err: ErrExhausted})
}

func (x *Extraction) resolved() bool {
	x.mu.Lock()
	defer x.mu.Unlock()
	return x.state.Resolved
}

func (x *Extraction) finish(out outcome) {
	x.results <- out
	x.loop.Stop()
}
