package player

import (
	"context"
	"fmt"
	"os"
	"os/exec"
	"path/filepath"
	"sync"
	"time"

	"conch/internal/log"
)

// MPV is the internal player. It runs mpv with an IPC socket at a randomized
// temp path so the session tracker can sample the stream.
type MPV struct {
	Binary string // defaults to "mpv"
}

// Request describes what to play.
type Request struct {
	URL       string
	Title     string
	Start     float64 // resume position in seconds, ignored unless positive
	UserAgent string
}

func (m *MPV) binary() string {
	if m.Binary != "" {
		return m.Binary
	}
	return "mpv"
}

// Available checks if the mpv binary exists in PATH.
func (m *MPV) Available() bool {
	_, err := exec.LookPath(m.binary())
	return err == nil
}

// Args builds the mpv argument list. Each argument is passed to exec as-is.
func (req Request) Args(socketPath string) []string {
	args := []string{
		req.URL,
		"--force-media-title=" + req.Title,
		"--really-quiet",
	}
	if socketPath != "" {
		args = append(args, "--input-ipc-server="+socketPath)
	}
	if req.Start > 0 {
		args = append(args, fmt.Sprintf("--start=+%.0f", req.Start))
	}
	if req.UserAgent != "" {
		args = append(args, "--user-agent="+req.UserAgent)
	}
	return args
}

// Start launches mpv and connects to its IPC socket. The returned Stream
// must be closed by the caller.
func (m *MPV) Start(ctx context.Context, req Request) (*Stream, error) {
	socketDir, err := os.MkdirTemp("", "conch-mpv-*")
	if err != nil {
		return nil, fmt.Errorf("creating temp dir for mpv socket: %w", err)
	}
	socketPath := filepath.Join(socketDir, "socket")

	cmd := exec.Command(m.binary(), req.Args(socketPath)...)
	cmd.Stdin = os.Stdin
	cmd.Stdout = os.Stdout
	cmd.Stderr = os.Stderr

	if err := cmd.Start(); err != nil {
		os.RemoveAll(socketDir)
		return nil, fmt.Errorf("starting mpv: %w", err)
	}

	s := &Stream{
		cmd:       cmd,
		socketDir: socketDir,
		ipcReady:  make(chan struct{}),
		done:      make(chan struct{}),
	}
	go s.wait()

	ipc, err := WaitForSocket(ctx, socketPath)
	s.ipc = ipc
	close(s.ipcReady)
	if err != nil {
		s.Close()
		return nil, err
	}
	return s, nil
}

// eventDrain bounds how long the end-file event is awaited after mpv exits.
const eventDrain = time.Second

// Stream is one running mpv process.
type Stream struct {
	cmd       *exec.Cmd
	socketDir string

	ipc      *IPC // set before ipcReady is closed, nil if never connected
	ipcReady chan struct{}

	finished  bool // written before done is closed
	done      chan struct{}
	closeOnce sync.Once
}

func (s *Stream) wait() {
	// mpv exits non-zero when the user quits; that is a normal end.
	if err := s.cmd.Wait(); err != nil {
		log.Debugf("mpv exited: %v", err)
	}
	<-s.ipcReady
	if s.ipc != nil {
		s.finished = drainEndReason(s.ipc, eventDrain) == "eof"
	}
	close(s.done)
}

// drainEndReason waits for the connection to hit EOF, so every event mpv
// wrote before exiting has been read, and returns the last end-file reason.
func drainEndReason(ipc *IPC, timeout time.Duration) string {
	select {
	case <-ipc.Done():
	case <-time.After(timeout):
	}
	return ipc.EndReason()
}

// Position returns the playback position in seconds.
func (s *Stream) Position(ctx context.Context) (float64, error) {
	return s.ipc.GetFloat(ctx, "time-pos")
}

// Duration returns the stream duration in seconds.
func (s *Stream) Duration(ctx context.Context) (float64, error) {
	return s.ipc.GetFloat(ctx, "duration")
}

// Done is closed when the mpv process exits.
func (s *Stream) Done() <-chan struct{} {
	return s.done
}

// Finished reports whether mpv reached the end of the media. Quitting,
// stopping, errors and Close all report false.
func (s *Stream) Finished() bool {
	select {
	case <-s.done:
		return s.finished
	default:
		return false
	}
}

// Close stops mpv if it is still running and releases the socket. Safe to
// call more than once.
func (s *Stream) Close() error {
	s.closeOnce.Do(func() {
		select {
		case <-s.done:
		default:
			if s.cmd.Process != nil {
				s.cmd.Process.Kill()
			}
			<-s.done
		}
		if s.ipc != nil {
			s.ipc.Close()
		}
		os.RemoveAll(s.socketDir)
	})
	return nil
}
