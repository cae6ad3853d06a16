// Package cmd implements the CLI commands using Cobra.
package cmd

import (
	"context"
	"fmt"
	"io"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"

	"conch/internal/config"
	"conch/internal/log"
)

// Version is set at build time via ldflags.
var Version = "dev"

// Global flags
var (
	flagDownload   bool
	flagQuality    string
	flagSink       string
	flagEpisode    int
	flagNoAutoplay bool
	flagJSON       bool
	flagDebug      bool
)

// cfg holds the loaded configuration (merged: defaults < config file < flags).
var cfg *config.Config

var logCloser io.Closer

var rootCmd = &cobra.Command{
	Use:   "conch [query]",
	Short: "Watch anime from the terminal",
	Long: `Conch searches the catalog, waits for an episode's download links to
render, and plays the chosen quality in mpv, an external app, a cast
receiver, or downloads it with ffmpeg.`,
	Args:               cobra.ArbitraryArgs,
	PersistentPreRunE:  loadConfig,
	PersistentPostRunE: closeLog,
	RunE:               searchRun,
	SilenceUsage:       true,
	SilenceErrors:      true,
}

// Execute runs the root command.
func Execute() {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if err := rootCmd.ExecuteContext(ctx); err != nil {
		fmt.Fprintf(os.Stderr, "conch: %v\n", err)
		stop()
		os.Exit(1)
	}
}

func init() {
	rootCmd.PersistentFlags().BoolVarP(&flagDownload, "download", "d", false, "Download the next episode instead of playing it")
	rootCmd.PersistentFlags().StringVarP(&flagQuality, "quality", "q", "", "Video quality: 480p | 720p | 1080p | ask")
	rootCmd.PersistentFlags().StringVarP(&flagSink, "sink", "s", "", "Playback sink: default-internal | vlc | iina | celluloid | system | custom-overlay")
	rootCmd.PersistentFlags().BoolVar(&flagNoAutoplay, "no-autoplay", false, "Stop after the current episode")
	rootCmd.PersistentFlags().BoolVarP(&flagJSON, "json", "j", false, "Print the resolved media as JSON instead of playing")
	rootCmd.PersistentFlags().BoolVarP(&flagDebug, "debug", "x", false, "Debug logging to stderr")
	rootCmd.Flags().IntVarP(&flagEpisode, "episode", "e", 0, "Episode number to play without prompting")

	rootCmd.AddCommand(historyCmd)
	rootCmd.AddCommand(trackerCmd)
	rootCmd.AddCommand(versionCmd)
}

// loadConfig loads and merges configuration: defaults < config file < CLI flags.
func loadConfig(cmd *cobra.Command, args []string) error {
	var err error
	cfg, err = config.Load()
	if err != nil {
		return fmt.Errorf("loading config: %w", err)
	}

	// CLI flags override config file values
	if flagQuality != "" {
		cfg.Quality = flagQuality
	}
	if flagSink != "" {
		cfg.Sink = flagSink
	}
	if flagNoAutoplay {
		cfg.Autoplay = false
	}
	if flagDebug {
		cfg.Debug = true
	}

	// Re-validate after flag overrides
	if err := cfg.Validate(); err != nil {
		return fmt.Errorf("invalid configuration: %w", err)
	}

	logCloser, err = log.Setup(log.Options{Debug: cfg.Debug, File: cfg.LogFile})
	if err != nil {
		return fmt.Errorf("setting up logging: %w", err)
	}
	return nil
}

func closeLog(cmd *cobra.Command, args []string) error {
	if logCloser != nil {
		return logCloser.Close()
	}
	return nil
}

// debugf logs a message if debug mode is enabled.
func debugf(format string, args ...any) {
	log.Debugf(format, args...)
}
