package ui

import (
	"context"
	"fmt"
	"os"
	"strings"

	"github.com/charmbracelet/bubbles/progress"
	tea "github.com/charmbracelet/bubbletea"
	"github.com/dustin/go-humanize"

	"conch/internal/download"
	"conch/internal/log"
)

// StartFunc starts a download that reports through the given callbacks.
type StartFunc func(ctx context.Context, onProgress func(download.Progress), onComplete func(download.Result)) error

type progressMsg download.Progress

type resultMsg download.Result

type downloadModel struct {
	title     string
	bar       progress.Model
	progress  download.Progress
	result    *download.Result
	cancelled bool
}

func newDownloadModel(title string) downloadModel {
	return downloadModel{title: title, bar: newBar()}
}

func (m downloadModel) Init() tea.Cmd {
	return nil
}

func (m downloadModel) Update(msg tea.Msg) (tea.Model, tea.Cmd) {
	switch msg := msg.(type) {
	case progressMsg:
		m.progress = download.Progress(msg)
		return m, nil
	case resultMsg:
		r := download.Result(msg)
		m.result = &r
		return m, tea.Quit
	case tea.KeyMsg:
		switch msg.String() {
		case "ctrl+c", "q", "esc":
			m.cancelled = true
			return m, tea.Quit
		}
	}
	return m, nil
}

func (m downloadModel) View() string {
	var b strings.Builder
	b.WriteString(titleStyle.Render(m.title))
	b.WriteString("\n")

	switch {
	case m.result != nil && m.result.Err != nil:
		b.WriteString(errorStyle.Render("download failed: " + m.result.Err.Error()))
	case m.result != nil:
		b.WriteString(doneStyle.Render("saved to " + m.result.Path))
	case m.cancelled:
		b.WriteString(faintStyle.Render("cancelling..."))
	default:
		fmt.Fprintf(&b, "%s %3.0f%%", m.bar.ViewAs(m.progress.Fraction()), m.progress.Fraction()*100)
		if m.progress.TotalSize > 0 {
			b.WriteString(faintStyle.Render(" " + humanize.Bytes(uint64(m.progress.TotalSize))))
		}
		if m.progress.Speed != "" {
			b.WriteString(faintStyle.Render(" " + m.progress.Speed))
		}
	}
	b.WriteString("\n")
	return b.String()
}

// RunDownload starts a download and blocks until it completes, drawing a
// progress program on stderr when it is a terminal. Pressing q or ctrl+c
// cancels the download.
func RunDownload(ctx context.Context, title string, start StartFunc) (download.Result, error) {
	ctx, cancel := context.WithCancel(ctx)
	defer cancel()

	results := make(chan download.Result, 1)

	if !IsTerminal(os.Stderr) {
		return runDownloadPlain(ctx, title, start, results)
	}

	program := tea.NewProgram(newDownloadModel(title),
		tea.WithOutput(os.Stderr),
		tea.WithContext(ctx),
	)

	err := start(ctx,
		func(p download.Progress) { program.Send(progressMsg(p)) },
		func(r download.Result) {
			results <- r
			program.Send(resultMsg(r))
		},
	)
	if err != nil {
		return download.Result{}, err
	}

	final, runErr := program.Run()
	if m, ok := final.(downloadModel); ok && m.cancelled {
		cancel()
		<-results
		return download.Result{}, ErrCancelled
	}
	if runErr != nil {
		log.Debugf("download progress: %v", runErr)
	}

	// A killed program cancels ctx, which stops ffmpeg and completes the job.
	r := <-results
	if ctx.Err() != nil && r.Err != nil {
		return r, ctx.Err()
	}
	return r, nil
}

func runDownloadPlain(ctx context.Context, title string, start StartFunc, results chan download.Result) (download.Result, error) {
	entry := log.WithField("title", title)
	lastDecile := -1
	err := start(ctx,
		func(p download.Progress) {
			if d := int(p.Fraction() * 10); d > lastDecile {
				lastDecile = d
				entry.Infof("download %d%%", d*10)
			}
		},
		func(r download.Result) { results <- r },
	)
	if err != nil {
		return download.Result{}, err
	}

	select {
	case r := <-results:
		if ctx.Err() != nil && r.Err != nil {
			return r, ctx.Err()
		}
		return r, nil
	case <-ctx.Done():
		// ffmpeg runs under ctx and reports once it has been stopped.
		<-results
		return download.Result{}, ctx.Err()
	}
}
