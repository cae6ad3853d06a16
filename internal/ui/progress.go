package ui

import (
	"fmt"
	"io"
	"math"
	"os"
	"sync"

	"github.com/charmbracelet/bubbles/progress"
)

// ProgressLine renders playback progress as a single rewritten terminal
// line. It implements session.Observer. Writers that are not terminals get
// no output.
type ProgressLine struct {
	mu       sync.Mutex
	w        io.Writer
	title    string
	bar      progress.Model
	enabled  bool
	drawn    bool
	detached bool
}

// NewProgressLine creates a progress line for title on w.
func NewProgressLine(w io.Writer, title string) *ProgressLine {
	f, ok := w.(*os.File)
	return newProgressLine(w, title, ok && IsTerminal(f))
}

func newProgressLine(w io.Writer, title string, enabled bool) *ProgressLine {
	return &ProgressLine{w: w, title: title, bar: newBar(), enabled: enabled}
}

// Update redraws the line.
func (l *ProgressLine) Update(fraction, remaining float64) {
	l.mu.Lock()
	defer l.mu.Unlock()

	if !l.enabled || l.detached {
		return
	}
	fmt.Fprintf(l.w, "\r%s\x1b[K", l.render(fraction, remaining))
	l.drawn = true
}

// Detach clears the line. Later updates are dropped.
func (l *ProgressLine) Detach() {
	l.mu.Lock()
	defer l.mu.Unlock()

	if l.detached {
		return
	}
	l.detached = true
	if l.drawn {
		fmt.Fprint(l.w, "\r\x1b[K")
	}
}

func (l *ProgressLine) render(fraction, remaining float64) string {
	fraction = math.Max(0, math.Min(1, fraction))
	return fmt.Sprintf("%s %s %3.0f%% %s",
		titleStyle.Render(l.title),
		l.bar.ViewAs(fraction),
		fraction*100,
		faintStyle.Render(formatClock(remaining)+" left"),
	)
}

// formatClock renders seconds as m:ss or h:mm:ss.
func formatClock(seconds float64) string {
	if seconds < 0 || math.IsNaN(seconds) || math.IsInf(seconds, 0) {
		seconds = 0
	}
	total := int(seconds)
	h, m, s := total/3600, (total%3600)/60, total%60
	if h > 0 {
		return fmt.Sprintf("%d:%02d:%02d", h, m, s)
	}
	return fmt.Sprintf("%d:%02d", m, s)
}
