package poll

import (
	"context"
	"errors"
	"sync/atomic"
	"testing"
	"time"

	"conch/internal/extract"
	"conch/internal/media"
)

const testInterval = time.Millisecond

// scriptedEngine returns results in order, repeating the last one.
type scriptedEngine struct {
	results []extract.Result
	calls   atomic.Int32
}

func (e *scriptedEngine) Attempt(context.Context) extract.Result {
	n := int(e.calls.Add(1)) - 1
	if n >= len(e.results) {
		n = len(e.results) - 1
	}
	return e.results[n]
}

// blockingEngine blocks every attempt until release is closed.
type blockingEngine struct {
	entered chan struct{}
	release chan struct{}
	calls   atomic.Int32
}

func (e *blockingEngine) Attempt(context.Context) extract.Result {
	if e.calls.Add(1) == 1 {
		close(e.entered)
	}
	<-e.release
	return extract.Result{Candidates: []media.CandidateVariant{{Label: "1080p", SourceURL: "https://a/1080"}}}
}

func runWithTimeout(t *testing.T, x *Extraction) ([]media.CandidateVariant, error) {
	t.Helper()
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	candidates, err := x.Run(ctx)
	if errors.Is(err, context.DeadlineExceeded) {
		t.Fatal("Run() did not resolve in time")
	}
	return candidates, err
}

func TestExtractionExhausted(t *testing.T) {
	engine := &scriptedEngine{results: []extract.Result{{}}}
	x := NewExtraction(engine, 3, testInterval)

	_, err := runWithTimeout(t, x)
	if !errors.Is(err, ErrExhausted) {
		t.Fatalf("Run() error = %v, want ErrExhausted", err)
	}

	// Give a stray tick the chance to misbehave.
	time.Sleep(10 * testInterval)

	if got := engine.calls.Load(); got != 3 {
		t.Errorf("engine called %d times, want exactly 3", got)
	}
	state := x.State()
	if state.Attempts != 3 || state.MaxAttempts != 3 {
		t.Errorf("State() = %+v, want 3/3", state)
	}
	if state.Resolved {
		t.Error("exhausted extraction must not be resolved")
	}
}

func TestExtractionFailedAfterRetries(t *testing.T) {
	cause := errors.New("execution context was destroyed")
	engine := &scriptedEngine{results: []extract.Result{{}, {Err: cause}}}
	x := NewExtraction(engine, 2, testInterval)

	_, err := runWithTimeout(t, x)
	var failed *FailedError
	if !errors.As(err, &failed) {
		t.Fatalf("Run() error = %v, want *FailedError", err)
	}
	if !errors.Is(err, cause) {
		t.Errorf("FailedError should unwrap to the cause, got %v", err)
	}
	if failed.Attempts != 2 {
		t.Errorf("Attempts = %d, want 2", failed.Attempts)
	}
}

func TestExtractionErrorThenEmptyIsExhausted(t *testing.T) {
	engine := &scriptedEngine{results: []extract.Result{{Err: errors.New("boom")}, {}}}
	x := NewExtraction(engine, 2, testInterval)

	if _, err := runWithTimeout(t, x); !errors.Is(err, ErrExhausted) {
		t.Fatalf("Run() error = %v, want ErrExhausted", err)
	}
}

func TestExtractionResolves(t *testing.T) {
	want := []media.CandidateVariant{{Label: "720p", SourceURL: "https://a/720"}}
	engine := &scriptedEngine{results: []extract.Result{{}, {Err: errors.New("flaky")}, {Candidates: want}}}
	x := NewExtraction(engine, 10, testInterval)

	got, err := runWithTimeout(t, x)
	if err != nil {
		t.Fatalf("Run() error: %v", err)
	}
	if len(got) != 1 || got[0] != want[0] {
		t.Errorf("Run() = %+v, want %+v", got, want)
	}

	state := x.State()
	if !state.Resolved {
		t.Error("State().Resolved should be true")
	}
	if state.Attempts != 2 {
		t.Errorf("Attempts = %d, want 2 failed attempts counted", state.Attempts)
	}

	time.Sleep(10 * testInterval)
	if got := engine.calls.Load(); got != 3 {
		t.Errorf("engine called %d times after resolving, want 3", got)
	}
}

func TestExtractionMarkStartedDiscardsInFlight(t *testing.T) {
	engine := &blockingEngine{entered: make(chan struct{}), release: make(chan struct{})}
	x := NewExtraction(engine, 5, testInterval)

	done := make(chan error, 1)
	go func() {
		_, err := x.Run(context.Background())
		done <- err
	}()

	<-engine.entered
	x.MarkStarted()

	select {
	case err := <-done:
		if !errors.Is(err, ErrStopped) {
			t.Fatalf("Run() error = %v, want ErrStopped", err)
		}
	case <-time.After(5 * time.Second):
		t.Fatal("Run() did not return after MarkStarted")
	}

	close(engine.release)
	time.Sleep(10 * testInterval)

	state := x.State()
	if state.Attempts != 0 {
		t.Errorf("Attempts = %d, in-flight completion must not mutate state", state.Attempts)
	}
	if !state.Resolved {
		t.Error("State().Resolved should be true after MarkStarted")
	}
	if got := engine.calls.Load(); got != 1 {
		t.Errorf("engine called %d times, want 1 (ticks while in flight are skipped)", got)
	}
}

func TestExtractionContextCancel(t *testing.T) {
	engine := &scriptedEngine{results: []extract.Result{{}}}
	x := NewExtraction(engine, 1000, testInterval)

	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()
	if _, err := x.Run(ctx); !errors.Is(err, context.DeadlineExceeded) {
		t.Errorf("Run() error = %v, want context.DeadlineExceeded", err)
	}
}

func TestNewExtractionDefaults(t *testing.T) {
	x := NewExtraction(&scriptedEngine{}, 0, 0)
	if x.State().MaxAttempts != 1 {
		t.Errorf("MaxAttempts = %d, want floor of 1", x.State().MaxAttempts)
	}
	if x.interval != DefaultInterval {
		t.Errorf("interval = %v, want %v", x.interval, DefaultInterval)
	}
}

func TestLoopStopIdempotent(t *testing.T) {
	l := NewLoop()
	var ticks atomic.Int32
	l.Start(testInterval, func() {
		if ticks.Add(1) == 3 {
			l.Stop()
		}
	})

	select {
	case <-l.Done():
	case <-time.After(5 * time.Second):
		t.Fatal("loop did not stop from inside onTick")
	}

	l.Stop()
	l.Stop()

	if got := ticks.Load(); got != 3 {
		t.Errorf("ticks = %d, want 3", got)
	}
	if l.Post(func() { t.Error("posted function ran after stop") }) {
		t.Error("Post() after Stop should return false")
	}
}

func TestLoopStopBeforeStart(t *testing.T) {
	l := NewLoop()
	l.Stop()

	select {
	case <-l.Done():
	default:
		t.Fatal("Done() should be closed for a loop stopped before start")
	}

	l.Start(testInterval, func() { t.Error("tick ran on a stopped loop") })
	time.Sleep(5 * testInterval)
}

func TestLoopPostRunsOnLoop(t *testing.T) {
	l := NewLoop()
	l.Start(time.Hour, func() {})
	defer l.Stop()

	ran := make(chan struct{})
	if !l.Post(func() { close(ran) }) {
		t.Fatal("Post() returned false on a running loop")
	}
	select {
	case <-ran:
	case <-time.After(5 * time.Second):
		t.Fatal("posted function did not run")
	}
}
