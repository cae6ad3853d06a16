package player

import (
	"fmt"
	"os/exec"
	"strings"

	"conch/internal/log"
)

// Overlay presents media in a standalone mpv window that carries the item's
// metadata but is not tracked.
type Overlay struct {
	Binary    string // defaults to "mpv"
	UserAgent string
}

// OverlayRequest is what the overlay displays.
type OverlayRequest struct {
	Title      string
	URL        string
	ItemKey    string
	ArtworkURL string
	UserAgent  string // overrides Overlay.UserAgent when set
}

// Args builds the mpv argument list for req.
func (o *Overlay) Args(req OverlayRequest) []string {
	args := []string{
		req.URL,
		"--force-media-title=" + req.Title,
		"--title=" + req.Title,
		"--force-window=immediate",
		"--keep-open=no",
		"--really-quiet",
	}

	opts := []string{"conch-item=" + scriptOptValue(req.ItemKey)}
	if req.ArtworkURL != "" {
		opts = append(opts, "conch-artwork="+scriptOptValue(req.ArtworkURL))
	}
	args = append(args, "--script-opts="+strings.Join(opts, ","))

	ua := req.UserAgent
	if ua == "" {
		ua = o.UserAgent
	}
	if ua != "" {
		args = append(args, "--user-agent="+ua)
	}
	return args
}

// Present starts the overlay and returns without waiting for it.
func (o *Overlay) Present(req OverlayRequest) error {
	bin := o.Binary
	if bin == "" {
		bin = "mpv"
	}

	cmd := exec.Command(bin, o.Args(req)...)
	if err := cmd.Start(); err != nil {
		return fmt.Errorf("starting overlay: %w", err)
	}
	go func() {
		if err := cmd.Wait(); err != nil {
			log.Debugf("overlay exited: %v", err)
		}
	}()
	return nil
}

// scriptOptValue strips the separators mpv's key=value list would split on.
func scriptOptValue(s string) string {
	return strings.NewReplacer(",", "%2C", "=", "%3D").Replace(s)
}
