package playback

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"sync"

	"conch/internal/browser"
	"conch/internal/config"
	"conch/internal/download"
	"conch/internal/httputil"
	"conch/internal/log"
	"conch/internal/media"
	"conch/internal/player"
	"conch/internal/session"
	"conch/internal/ui"
)

// Surfaces returns the surface opener for cfg: Chrome, or plain HTTP when
// browser_path is "none".
func Surfaces(cfg config.Config, client *http.Client) OpenSurface {
	if cfg.BrowserPath == config.BrowserNone {
		return func(pageURL string, id httputil.Identity) (browser.Surface, func()) {
			return browser.NewHTTP(client, pageURL, id), func() {}
		}
	}
	return func(pageURL string, id httputil.Identity) (browser.Surface, func()) {
		c := browser.NewChrome(pageURL, browser.ChromeOptions{
			ExecPath: cfg.BrowserPath,
			Headless: cfg.Headless,
			Identity: id,
		})
		return c, sync.OnceFunc(func() {
			if err := c.Close(); err != nil {
				log.Debugf("closing browser: %v", err)
			}
		})
	}
}

// ErrPlayerMissing is returned when mpv is not installed.
var ErrPlayerMissing = errors.New("mpv not found in PATH")

// MPVPlayer starts the tracked internal player.
type MPVPlayer struct {
	MPV *player.MPV
}

// Play implements dispatch.Player.
func (p MPVPlayer) Play(ctx context.Context, req player.Request) (session.Stream, error) {
	if !p.MPV.Available() {
		return nil, ErrPlayerMissing
	}
	stream, err := p.MPV.Start(ctx, req)
	if err != nil {
		return nil, err
	}
	return stream, nil
}

// Downloader saves media with ffmpeg and waits for the download to finish.
type Downloader struct {
	Dir       string
	UserAgent string // used when the media carries no identity of its own
}

// Download implements dispatch.Downloader.
func (d Downloader) Download(ctx context.Context, res media.ResolvedMedia) error {
	job := download.Job{
		URL:       res.URL.String(),
		Title:     res.Title,
		Dir:       d.Dir,
		UserAgent: d.UserAgent,
	}
	if res.UserAgent != "" {
		job.UserAgent = res.UserAgent
	}
	result, err := ui.RunDownload(ctx, res.Title, func(ctx context.Context, onProgress func(download.Progress), onComplete func(download.Result)) error {
		return download.Start(ctx, job, onProgress, onComplete)
	})
	if err != nil {
		return err
	}
	if result.Err != nil {
		return result.Err
	}
	log.WithField("path", result.Path).Infof("download finished")
	fmt.Printf("Saved to %s\n", result.Path)
	return nil
}

// LauncherFunc adapts a function to dispatch.Launcher.
type LauncherFunc func(app, title, url string) error

// Launch implements dispatch.Launcher.
func (f LauncherFunc) Launch(app, title, url string) error {
	return f(app, title, url)
}
