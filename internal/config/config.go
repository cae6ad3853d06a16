// Package config handles TOML-based configuration loading and validation.
// TOML is parsed as data only; nothing in the file is executed.
package config

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/BurntSushi/toml"
)

const (
	// DefaultMaxRetries is used when max_retries is absent or invalid.
	DefaultMaxRetries = 10

	// DefaultQuality is the preferred variant label.
	DefaultQuality = "1080p"

	// DefaultSink routes playback to the tracked internal player.
	DefaultSink = "default-internal"

	StreamBuffered = "buffered"
	StreamLive     = "live"

	// BrowserNone as browser_path fetches download pages over plain HTTP
	// instead of rendering them in Chrome.
	BrowserNone = "none"
)

// Config holds all application configuration.
type Config struct {
	Base                 string `toml:"base"`
	MaxRetries           int    `toml:"max_retries"`
	Quality              string `toml:"quality"`
	Sink                 string `toml:"sink"`
	Autoplay             bool   `toml:"autoplay"`
	EpisodeOrderReversed bool   `toml:"episode_order_reversed"`
	CastFullTitle        bool   `toml:"cast_full_title"`
	CastIncludeArtwork   bool   `toml:"cast_include_artwork"`
	CastStreamType       string `toml:"cast_stream_type"`
	CastSocket           string `toml:"cast_socket"`
	RemoteSync           bool   `toml:"remote_sync"`
	History              bool   `toml:"history"`
	DownloadDir          string `toml:"download_dir"`
	BrowserPath          string `toml:"browser_path"`
	Headless             bool   `toml:"headless"`
	DownloadContainer    string `toml:"download_container"`
	DownloadMarker       string `toml:"download_marker"`
	FormatMarker         string `toml:"format_marker"`
	Debug                bool   `toml:"debug"`
	LogFile              string `toml:"log_file"`
}

// Default returns the default configuration.
func Default() *Config {
	return &Config{
		Base:              "animecatalog.to",
		MaxRetries:        DefaultMaxRetries,
		Quality:           DefaultQuality,
		Sink:              DefaultSink,
		Autoplay:          true,
		CastFullTitle:     true,
		CastStreamType:    StreamBuffered,
		History:           true,
		DownloadDir:       "~/Videos/conch",
		Headless:          true,
		DownloadContainer: "#pickDownload",
		DownloadMarker:    "Download",
		FormatMarker:      "mp4",
	}
}

// Snapshot returns a copy that callers can hold for the duration of one
// attempt or session without observing later changes.
func (c *Config) Snapshot() Config {
	return *c
}

// MaxAttempts returns the retry limit with a floor of 1. Zero or negative
// values are treated as unset and yield DefaultMaxRetries.
func (c Config) MaxAttempts() uint {
	if c.MaxRetries <= 0 {
		return DefaultMaxRetries
	}
	return uint(c.MaxRetries)
}

// configDir returns the XDG-compliant config directory.
func configDir() (string, error) {
	if xdg := os.Getenv("XDG_CONFIG_HOME"); xdg != "" {
		return filepath.Join(xdg, "conch"), nil
	}
	home, err := os.UserHomeDir()
	if err != nil {
		return "", fmt.Errorf("getting home directory: %w", err)
	}
	return filepath.Join(home, ".config", "conch"), nil
}

// ConfigPath returns the path to the config file.
func ConfigPath() (string, error) {
	dir, err := configDir()
	if err != nil {
		return "", err
	}
	return filepath.Join(dir, "config.toml"), nil
}

// Load reads the config file and merges with defaults.
// If the config file doesn't exist, defaults are returned.
func Load() (*Config, error) {
	cfg := Default()

	path, err := ConfigPath()
	if err != nil {
		return cfg, nil
	}

	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return cfg, nil
		}
		return nil, fmt.Errorf("reading config: %w", err)
	}

	if err := toml.Unmarshal(data, cfg); err != nil {
		return nil, fmt.Errorf("parsing config %s: %w", path, err)
	}

	cfg.normalize()

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid config: %w", err)
	}

	return cfg, nil
}

// normalize folds case-insensitive enumerations to their canonical form.
func (c *Config) normalize() {
	c.Quality = strings.ToLower(strings.TrimSpace(c.Quality))
	if c.Quality == "" {
		c.Quality = DefaultQuality
	}
	c.Sink = strings.ToLower(strings.TrimSpace(c.Sink))
	if c.Sink == "" {
		c.Sink = DefaultSink
	}
	c.CastStreamType = strings.ToLower(strings.TrimSpace(c.CastStreamType))
	if c.CastStreamType == "" {
		c.CastStreamType = StreamBuffered
	}
}

// Validate checks config values are within acceptable bounds.
// Unknown sinks are accepted: dispatch falls through to the internal player.
func (c *Config) Validate() error {
	c.normalize()

	if c.Base == "" {
		return fmt.Errorf("base URL cannot be empty")
	}

	if c.CastStreamType != StreamBuffered && c.CastStreamType != StreamLive {
		return fmt.Errorf("unsupported cast stream type %q (valid: buffered, live)", c.CastStreamType)
	}

	if strings.TrimSpace(c.DownloadContainer) == "" {
		return fmt.Errorf("download container selector cannot be empty")
	}

	return nil
}

// ExpandDownloadDir resolves ~ in the download directory path.
func (c *Config) ExpandDownloadDir() (string, error) {
	dir := c.DownloadDir
	if strings.HasPrefix(dir, "~/") {
		home, err := os.UserHomeDir()
		if err != nil {
			return "", fmt.Errorf("expanding home dir: %w", err)
		}
		dir = filepath.Join(home, dir[2:])
	}
	return filepath.Abs(dir)
}

// DataDir returns the directory holding the history database.
func DataDir() (string, error) {
	dataDir := os.Getenv("XDG_DATA_HOME")
	if dataDir == "" {
		home, err := os.UserHomeDir()
		if err != nil {
			return "", fmt.Errorf("getting home directory: %w", err)
		}
		dataDir = filepath.Join(home, ".local", "share")
	}
	return filepath.Join(dataDir, "conch"), nil
}

// HistoryPath returns the path to the history database.
func HistoryPath() (string, error) {
	dir, err := DataDir()
	if err != nil {
		return "", err
	}
	return filepath.Join(dir, "history.db"), nil
}

// CacheDir returns the directory for cached catalog data.
func CacheDir() (string, error) {
	cacheDir := os.Getenv("XDG_CACHE_HOME")
	if cacheDir == "" {
		home, err := os.UserHomeDir()
		if err != nil {
			return "", fmt.Errorf("getting home directory: %w", err)
		}
		cacheDir = filepath.Join(home, ".cache")
	}
	return filepath.Join(cacheDir, "conch"), nil
}
