// Package player launches media players. All invocations use exec.Command
// with explicit argument slices, so titles and URLs are never interpreted by
// a shell.
package player

import (
	"errors"
	"fmt"
	"os/exec"
	"runtime"

	"conch/internal/log"
)

// ErrUnknownApp is returned by Launch for an app it cannot hand off to.
var ErrUnknownApp = errors.New("unknown external app")

// Apps lists the external players Launch accepts.
var Apps = []string{"vlc", "iina", "celluloid", "system"}

// LaunchArgs returns the binary and arguments used to hand url to app.
func LaunchArgs(app, title, url string) (string, []string, error) {
	switch app {
	case "vlc":
		return "vlc", []string{url, "--meta-title", title, "--play-and-exit"}, nil
	case "iina", "celluloid":
		// Both accept mpv-style flags.
		return app, []string{url, "--force-media-title=" + title}, nil
	case "system":
		if runtime.GOOS == "darwin" {
			return "open", []string{url}, nil
		}
		return "xdg-open", []string{url}, nil
	default:
		return "", nil, fmt.Errorf("%w: %q", ErrUnknownApp, app)
	}
}

// Launch hands url to an external app and returns once it has started. The
// app owns the rest of the playback lifecycle.
func Launch(app, title, url string) error {
	bin, args, err := LaunchArgs(app, title, url)
	if err != nil {
		return err
	}
	if _, err := exec.LookPath(bin); err != nil {
		return fmt.Errorf("%s not found in PATH: %w", bin, err)
	}

	cmd := exec.Command(bin, args...)
	if err := cmd.Start(); err != nil {
		return fmt.Errorf("starting %s: %w", bin, err)
	}
	go func() {
		if err := cmd.Wait(); err != nil {
			log.Debugf("%s exited: %v", bin, err)
		}
	}()
	return nil
}
