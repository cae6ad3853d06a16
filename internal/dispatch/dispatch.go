// Package dispatch routes resolved media to exactly one sink.
package dispatch

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync/atomic"

	"github.com/samber/mo"

	"conch/internal/cast"
	"conch/internal/config"
	"conch/internal/log"
	"conch/internal/media"
	"conch/internal/player"
	"conch/internal/session"
)

// Sink is where resolved media ends up.
type Sink int

const (
	Internal Sink = iota
	Download
	Cast
	ExternalApp
	Overlay
)

func (s Sink) String() string {
	switch s {
	case Internal:
		return "internal"
	case Download:
		return "download"
	case Cast:
		return "cast"
	case ExternalApp:
		return "external-app"
	case Overlay:
		return "overlay"
	default:
		return fmt.Sprintf("sink(%d)", int(s))
	}
}

// Route is a routing decision. App is set for ExternalApp only.
type Route struct {
	Sink Sink
	App  string
}

// Preferred sink values besides the external app names.
const (
	PrefInternal = "default-internal"
	PrefOverlay  = "custom-overlay"
	PrefNone     = "none"
)

// PreferredRoute maps the configured sink preference to a route. Unknown
// values fall through to the internal player.
func PreferredRoute(pref string) Route {
	pref = strings.ToLower(strings.TrimSpace(pref))
	switch pref {
	case "vlc", "iina", "celluloid", "system":
		return Route{Sink: ExternalApp, App: pref}
	case PrefOverlay:
		return Route{Sink: Overlay}
	default:
		return Route{Sink: Internal}
	}
}

// Downloader hands media to the download subsystem.
type Downloader interface {
	Download(ctx context.Context, res media.ResolvedMedia) error
}

// CastTarget is a remote playback session.
type CastTarget interface {
	HasActiveSession(ctx context.Context) bool
	LoadMedia(ctx context.Context, p cast.Payload, resume mo.Option[float64]) error
}

// Launcher hands a URL to an external app.
type Launcher interface {
	Launch(app, title, url string) error
}

// OverlayPresenter shows media in the custom overlay.
type OverlayPresenter interface {
	Present(req player.OverlayRequest) error
}

// Player starts the tracked internal player.
type Player interface {
	Play(ctx context.Context, req player.Request) (session.Stream, error)
}

// Deps are the sinks a Router can engage. Nil sinks are treated as absent.
type Deps struct {
	Downloader Downloader
	Cast       CastTarget
	Launcher   Launcher
	Overlay    OverlayPresenter
	Player     Player
}

// Handoff is the result of a dispatch. Stream is only set for Internal; the
// caller owns it and must hand it to a session tracker.
type Handoff struct {
	Route  Route
	Stream session.Stream
}

// Router picks a sink for each resolved media and engages it.
type Router struct {
	cfg       config.Config
	deps      Deps
	userAgent string

	downloadRequested atomic.Bool
}

// New creates a Router over a config snapshot.
func New(cfg config.Config, deps Deps, userAgent string) *Router {
	return &Router{cfg: cfg, deps: deps, userAgent: userAgent}
}

// RequestDownload makes the next routing decision a download. The request
// is consumed by that decision whatever its outcome.
func (r *Router) RequestDownload() {
	r.downloadRequested.Store(true)
}

// Route decides the sink for the next media, in order: a pending download
// request, an active cast session, the preferred sink, the internal player.
func (r *Router) Route(ctx context.Context) Route {
	if r.downloadRequested.Swap(false) {
		return Route{Sink: Download}
	}
	if r.deps.Cast != nil && r.deps.Cast.HasActiveSession(ctx) {
		return Route{Sink: Cast}
	}
	return PreferredRoute(r.cfg.Sink)
}

// Dispatch routes res and engages the chosen sink. Only the Internal sink
// yields an ongoing stream; the other sinks own their lifecycle from here.
// Errors are reported immediately and never retried.
func (r *Router) Dispatch(ctx context.Context, res media.ResolvedMedia) (Handoff, error) {
	route := r.Route(ctx)
	entry := log.WithField("sink", route.Sink.String()).WithField("item", res.Item.Key)
	entry.Debugf("dispatching %s", res.URL)

	handoff := Handoff{Route: route}
	url := res.URL.String()

	switch route.Sink {
	case Download:
		if r.deps.Downloader == nil {
			return handoff, errors.New("no downloader configured")
		}
		if err := r.deps.Downloader.Download(ctx, res); err != nil {
			return handoff, fmt.Errorf("starting download: %w", err)
		}
		return handoff, nil

	case Cast:
		payload := cast.BuildPayload(res, cast.OptionsFrom(r.cfg))
		if err := r.deps.Cast.LoadMedia(ctx, payload, res.ResumePosition); err != nil {
			return handoff, fmt.Errorf("casting: %w", err)
		}
		return handoff, nil

	case ExternalApp:
		if r.deps.Launcher == nil {
			return handoff, errors.New("no launcher configured")
		}
		if err := r.deps.Launcher.Launch(route.App, res.Title, url); err != nil {
			return handoff, fmt.Errorf("opening %s: %w", route.App, err)
		}
		return handoff, nil

	case Overlay:
		if r.deps.Overlay == nil {
			return handoff, errors.New("no overlay configured")
		}
		err := r.deps.Overlay.Present(player.OverlayRequest{
			Title:      res.Title,
			URL:        url,
			ItemKey:    res.Item.Key,
			ArtworkURL: res.ArtworkURL.OrEmpty(),
			UserAgent:  r.agentFor(res),
		})
		if err != nil {
			return handoff, fmt.Errorf("presenting overlay: %w", err)
		}
		return handoff, nil

	case Internal:
		if r.deps.Player == nil {
			return handoff, errors.New("no player configured")
		}
		stream, err := r.deps.Player.Play(ctx, player.Request{
			URL:       url,
			Title:     res.Title,
			Start:     res.ResumePosition.OrEmpty(),
			UserAgent: r.agentFor(res),
		})
		if err != nil {
			return handoff, fmt.Errorf("starting player: %w", err)
		}
		handoff.Stream = stream
		return handoff, nil

	default:
		return handoff, fmt.Errorf("unhandled sink %s", route.Sink)
	}
}

// agentFor is the user agent the media of res is fetched with: the one its
// page was read with, else the router default.
func (r *Router) agentFor(res media.ResolvedMedia) string {
	if res.UserAgent != "" {
		return res.UserAgent
	}
	return r.userAgent
}
