// Package cast sends resolved media to a remote receiver. The receiver is an
// mpv instance listening on a JSON IPC socket, typically one forwarded from
// the machine attached to the TV.
package cast

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path"
	"strings"
	"time"

	"github.com/samber/mo"

	"conch/internal/config"
	"conch/internal/media"
	"conch/internal/player"
)

// ErrSessionUnavailable means no receiver was reachable when media was sent.
var ErrSessionUnavailable = errors.New("no active cast session")

// Content types sent with the payload.
const (
	ContentTypeHLS = "application/x-mpegURL"
	ContentTypeMP4 = "video/mp4"
)

// dialTimeout bounds how long a session probe waits for the receiver.
const dialTimeout = 2 * time.Second

// Options are the cast preferences, taken from a config snapshot.
type Options struct {
	FullTitle      bool
	IncludeArtwork bool
	StreamType     string // config.StreamBuffered or config.StreamLive
}

// OptionsFrom extracts the cast preferences from cfg.
func OptionsFrom(cfg config.Config) Options {
	return Options{
		FullTitle:      cfg.CastFullTitle,
		IncludeArtwork: cfg.CastIncludeArtwork,
		StreamType:     cfg.CastStreamType,
	}
}

// Payload is what the receiver is asked to load.
type Payload struct {
	Title       string
	URL         string
	ArtworkURL  mo.Option[string]
	ContentType string
	StreamType  string
}

// BuildPayload describes res for the receiver.
func BuildPayload(res media.ResolvedMedia, opts Options) Payload {
	title := res.Title
	if !opts.FullTitle && res.Item.Number > 0 {
		title = fmt.Sprintf("Episode %d", res.Item.Number)
	}

	p := Payload{
		Title:       title,
		URL:         res.URL.String(),
		ArtworkURL:  mo.None[string](),
		ContentType: ContentType(res.URL.Path),
		StreamType:  config.StreamBuffered,
	}
	if opts.StreamType == config.StreamLive {
		p.StreamType = config.StreamLive
	}
	if opts.IncludeArtwork {
		p.ArtworkURL = res.ArtworkURL
	}
	return p
}

// ContentType guesses the MIME type from a URL path.
func ContentType(urlPath string) string {
	if strings.EqualFold(path.Ext(urlPath), ".m3u8") {
		return ContentTypeHLS
	}
	return ContentTypeMP4
}

// Remote is a receiver reached through an mpv IPC socket.
type Remote struct {
	socket string
}

// NewRemote creates a Remote for socket. An empty socket never has a session.
func NewRemote(socket string) *Remote {
	return &Remote{socket: socket}
}

// HasActiveSession reports whether the receiver currently accepts
// connections.
func (r *Remote) HasActiveSession(ctx context.Context) bool {
	if r.socket == "" {
		return false
	}
	if _, err := os.Stat(r.socket); err != nil {
		return false
	}

	ctx, cancel := context.WithTimeout(ctx, dialTimeout)
	defer cancel()
	ipc, err := player.DialIPC(ctx, r.socket)
	if err != nil {
		return false
	}
	ipc.Close()
	return true
}

// LoadMedia replaces whatever the receiver is playing with p, starting at
// resume when it is present and positive. A receiver that cannot be reached
// yields ErrSessionUnavailable; it is never retried.
func (r *Remote) LoadMedia(ctx context.Context, p Payload, resume mo.Option[float64]) error {
	if r.socket == "" {
		return ErrSessionUnavailable
	}

	dialCtx, cancel := context.WithTimeout(ctx, dialTimeout)
	ipc, err := player.DialIPC(dialCtx, r.socket)
	cancel()
	if err != nil {
		return fmt.Errorf("%w: %v", ErrSessionUnavailable, err)
	}
	defer ipc.Close()

	load := map[string]any{
		"url":     p.URL,
		"flags":   "replace",
		"options": LoadOptions(p, resume),
	}
	if _, err := ipc.CommandNamed(ctx, "loadfile", load); err != nil {
		return fmt.Errorf("loading media on receiver: %w", err)
	}
	return nil
}

// LoadOptions are the per-file options sent with loadfile.
func LoadOptions(p Payload, resume mo.Option[float64]) map[string]string {
	opts := map[string]string{"force-media-title": p.Title}
	if start, ok := resume.Get(); ok && start > 0 {
		opts["start"] = fmt.Sprintf("+%.0f", start)
	}
	if p.StreamType == config.StreamLive {
		opts["cache"] = "no"
	} else {
		opts["cache"] = "yes"
	}
	if art, ok := p.ArtworkURL.Get(); ok && art != "" {
		opts["cover-art-files"] = art
	}
	if p.ContentType == ContentTypeHLS {
		opts["demuxer-lavf-format"] = "hls"
	}
	return opts
}
