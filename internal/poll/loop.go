// Package poll drives bounded, periodic work on a single coordination
// goroutine. Timer ticks and completions posted from other goroutines run
// one at a time on that goroutine, so state owned by a Loop needs no locks.
package poll

import (
	"sync"
	"time"
)

// inboxSize bounds completions waiting for the loop goroutine.
const inboxSize = 16

// Loop is a cancellable ticker plus an inbox of functions, all executed on
// one goroutine.
type Loop struct {
	inbox chan func()
	stop  chan struct{}
	done  chan struct{}

	startOnce sync.Once
	stopOnce  sync.Once
}

// NewLoop creates a stopped loop. Call Start to begin ticking.
func NewLoop() *Loop {
	return &Loop{
		inbox: make(chan func(), inboxSize),
		stop:  make(chan struct{}),
		done:  make(chan struct{}),
	}
}

// Start runs onTick every interval. Only the first call has an effect, and a
// loop that was stopped before starting never starts.
func (l *Loop) Start(interval time.Duration, onTick func()) {
	l.startOnce.Do(func() {
		go l.run(interval, onTick)
	})
}

func (l *Loop) run(interval time.Duration, onTick func()) {
	defer close(l.done)

	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-l.stop:
			return
		case <-ticker.C:
			if l.stopped() {
				return
			}
			onTick()
		case fn := <-l.inbox:
			if l.stopped() {
				return
			}
			fn()
		}
	}
}

// Post queues fn to run on the loop goroutine. It returns false when the loop
// has stopped; fn is then never run.
func (l *Loop) Post(fn func()) bool {
	if l.stopped() {
		return false
	}
	select {
	case l.inbox <- fn:
		return true
	case <-l.stop:
		return false
	}
}

// Stop cancels the ticker. Pending ticks and posted functions are dropped.
// It is idempotent and safe to call from onTick or a posted function.
func (l *Loop) Stop() {
	l.stopOnce.Do(func() {
		close(l.stop)
	})
	// A loop that never started has no goroutine to close done.
	l.startOnce.Do(func() {
		close(l.done)
	})
}

// Done is closed once the loop goroutine has exited.
func (l *Loop) Done() <-chan struct{} {
	return l.done
}

func (l *Loop) stopped() bool {
	select {
	case <-l.stop:
		return true
	default:
		return false
	}
}
