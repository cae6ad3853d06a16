// Package download saves media to disk with ffmpeg. The ffmpeg job is built
// with ffmpeg-go and the output path is validated against directory
// traversal.
package download

import (
	"bufio"
	"context"
	"fmt"
	"io"
	"os"
	"os/exec"
	"path/filepath"
	"strconv"
	"strings"
	"sync"
	"time"

	ffmpeg "github.com/u2takey/ffmpeg-go"

	"conch/internal/httputil"
	"conch/internal/log"
	"conch/internal/media"
)

// Job is one download request.
type Job struct {
	URL       string
	Title     string
	Dir       string
	UserAgent string
}

// Progress is a snapshot of a running download.
type Progress struct {
	OutTime   time.Duration // media time written so far
	Total     time.Duration // zero until ffmpeg reports the input duration
	TotalSize int64         // bytes written
	Speed     string
	Done      bool
}

// Fraction is the completed share in [0, 1], or 0 when the total is unknown.
func (p Progress) Fraction() float64 {
	if p.Done {
		return 1
	}
	if p.Total <= 0 {
		return 0
	}
	f := float64(p.OutTime) / float64(p.Total)
	if f > 1 {
		return 1
	}
	if f < 0 {
		return 0
	}
	return f
}

// Result is reported once when a download ends.
type Result struct {
	Path string
	Err  error
}

// OutputPath returns where job will be written.
func OutputPath(job Job) (string, error) {
	absDir, err := filepath.Abs(job.Dir)
	if err != nil {
		return "", fmt.Errorf("resolving output directory: %w", err)
	}
	filename := httputil.SanitizeFilename(job.Title) + ".mp4"
	return httputil.SafeDownloadPath(absDir, filename)
}

// Command builds the ffmpeg job that copies job's stream into outputPath.
// Progress blocks are written to stdout.
func Command(job Job, outputPath string) *ffmpeg.Stream {
	in := ffmpeg.KwArgs{}
	if job.UserAgent != "" {
		in["user_agent"] = job.UserAgent
	}
	return ffmpeg.Input(job.URL, in).
		Output(outputPath, ffmpeg.KwArgs{
			"c":        "copy",
			"metadata": "title=" + job.Title,
		}).
		GlobalArgs("-nostdin", "-nostats", "-progress", "pipe:1").
		OverWriteOutput().
		Silent(true)
}

// Start begins downloading job in the background and returns once ffmpeg
// is running. onProgress is called for every progress block and onComplete
// exactly once. Either callback may be nil.
func Start(ctx context.Context, job Job, onProgress func(Progress), onComplete func(Result)) error {
	ffmpegPath, err := exec.LookPath("ffmpeg")
	if err != nil {
		return fmt.Errorf("ffmpeg not found in PATH: %w", err)
	}
	if _, err := media.ParseMediaURL(job.URL); err != nil {
		return err
	}

	outputPath, err := OutputPath(job)
	if err != nil {
		return fmt.Errorf("invalid output path: %w", err)
	}
	if err := os.MkdirAll(filepath.Dir(outputPath), 0755); err != nil {
		return fmt.Errorf("creating output directory: %w", err)
	}

	stdout, stdoutW := io.Pipe()
	stderr, stderrW := io.Pipe()
	cmd := Command(job, outputPath).
		WithOutput(stdoutW).
		WithErrorOutput(stderrW).
		Compile()
	cmd.Path = ffmpegPath

	if err := cmd.Start(); err != nil {
		stdoutW.Close()
		stderrW.Close()
		return fmt.Errorf("starting ffmpeg: %w", err)
	}
	log.WithField("path", outputPath).Infof("download started")

	stopKill := context.AfterFunc(ctx, func() {
		cmd.Process.Kill()
	})

	if onProgress == nil {
		onProgress = func(Progress) {}
	}
	if onComplete == nil {
		onComplete = func(Result) {}
	}

	var (
		wg    sync.WaitGroup
		total durationBox
		tail  []string
	)
	wg.Add(2)
	go func() {
		defer wg.Done()
		tail = scanStderr(stderr, &total)
		io.Copy(io.Discard, stderr)
	}()
	go func() {
		defer wg.Done()
		parseProgress(stdout, func(p Progress) {
			p.Total = total.get()
			onProgress(p)
		})
		io.Copy(io.Discard, stdout)
	}()

	go func() {
		err := cmd.Wait()
		stopKill()
		stdoutW.Close()
		stderrW.Close()
		wg.Wait()

		if err != nil {
			os.Remove(outputPath)
			if len(tail) > 0 {
				err = fmt.Errorf("%w: %s", err, strings.Join(tail, "; "))
			}
			onComplete(Result{Err: fmt.Errorf("ffmpeg download failed: %w", err)})
			return
		}
		onComplete(Result{Path: outputPath})
	}()

	return nil
}

// parseProgress reads ffmpeg's -progress key=value blocks. A block ends with
// a "progress" key.
func parseProgress(r io.Reader, emit func(Progress)) {
	var cur Progress
	scanner := bufio.NewScanner(r)
	for scanner.Scan() {
		key, value, ok := strings.Cut(strings.TrimSpace(scanner.Text()), "=")
		if !ok {
			continue
		}
		switch key {
		case "out_time_us", "out_time_ms":
			// Both are microseconds despite the name.
			if us, err := strconv.ParseInt(value, 10, 64); err == nil && us >= 0 {
				cur.OutTime = time.Duration(us) * time.Microsecond
			}
		case "total_size":
			if n, err := strconv.ParseInt(value, 10, 64); err == nil {
				cur.TotalSize = n
			}
		case "speed":
			cur.Speed = strings.TrimSpace(value)
		case "progress":
			cur.Done = value == "end"
			emit(cur)
		}
	}
}

// scanStderr records the input duration and keeps the last lines for error
// reporting.
func scanStderr(r io.Reader, total *durationBox) []string {
	const keep = 3
	var tail []string
	scanner := bufio.NewScanner(r)
	for scanner.Scan() {
		line := strings.TrimSpace(scanner.Text())
		if line == "" {
			continue
		}
		if d, ok := parseDurationLine(line); ok {
			total.set(d)
		}
		tail = append(tail, line)
		if len(tail) > keep {
			tail = tail[1:]
		}
	}
	return tail
}

// parseDurationLine extracts the input duration from a line such as
// "Duration: 00:23:40.12, start: 0.000000, bitrate: 2000 kb/s".
func parseDurationLine(line string) (time.Duration, bool) {
	rest, ok := strings.CutPrefix(line, "Duration:")
	if !ok {
		return 0, false
	}
	field, _, _ := strings.Cut(strings.TrimSpace(rest), ",")
	secs := parseClock(field)
	if secs <= 0 {
		return 0, false
	}
	return time.Duration(secs * float64(time.Second)), true
}

// parseClock parses HH:MM:SS or MM:SS into seconds.
func parseClock(s string) float64 {
	parts := strings.Split(s, ":")
	switch len(parts) {
	case 3:
		h, _ := strconv.ParseFloat(parts[0], 64)
		m, _ := strconv.ParseFloat(parts[1], 64)
		sec, _ := strconv.ParseFloat(parts[2], 64)
		return h*3600 + m*60 + sec
	case 2:
		m, _ := strconv.ParseFloat(parts[0], 64)
		sec, _ := strconv.ParseFloat(parts[1], 64)
		return m*60 + sec
	default:
		v, _ := strconv.ParseFloat(s, 64)
		return v
	}
}

type durationBox struct {
	mu sync.Mutex
	d  time.Duration
}

func (b *durationBox) set(d time.Duration) {
	b.mu.Lock()
	b.d = d
	b.mu.Unlock()
}

func (b *durationBox) get() time.Duration {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.d
}
