package cmd

import (
	"fmt"

	"github.com/spf13/cobra"

	"conch/internal/config"
	"conch/internal/history"
	"conch/internal/media"
	"conch/internal/ui"
)

const historyLimit = 50

var flagHistoryRemove bool

var historyCmd = &cobra.Command{
	Use:   "history",
	Short: "Resume from continue watching",
	Args:  cobra.NoArgs,
	RunE:  historyRun,
}

func init() {
	historyCmd.Flags().BoolVar(&flagHistoryRemove, "remove", false, "Remove the selected entry instead of playing it")
}

func historyRun(cmd *cobra.Command, args []string) error {
	ctx := cmd.Context()

	path, err := config.HistoryPath()
	if err != nil {
		return err
	}
	store, err := history.Open(path)
	if err != nil {
		return err
	}
	entries, err := store.Entries(ctx, historyLimit)
	store.Close()
	if err != nil {
		return fmt.Errorf("loading history: %w", err)
	}

	if len(entries) == 0 {
		fmt.Println("No history entries found.")
		return nil
	}

	// Show history in fzf
	idx, err := ui.Select("History", history.FormatForDisplay(entries))
	if err != nil {
		return err
	}
	selected := entries[idx]
	debugf("resuming: %s (key: %s)", selected.SeriesTitle, selected.ItemKey)

	if flagHistoryRemove {
		return removeEntry(cmd, path, selected)
	}

	// Re-read the episode list and resume from the saved position
	series := media.Series{ID: history.SeriesKey(selected.ItemKey), Title: selected.SeriesTitle}
	episodes, err := newCatalog().Episodes(ctx, series)
	if err != nil {
		return fmt.Errorf("loading episodes of %q: %w", selected.SeriesTitle, err)
	}

	seq := newSequence(episodes, cfg.EpisodeOrderReversed)
	if seq.Index, err = selectEpisode(seq.Items, selected.EpisodeNumber); err != nil {
		return err
	}
	return playSequence(ctx, seq)
}

func removeEntry(cmd *cobra.Command, path string, entry media.ContinueEntry) error {
	store, err := history.Open(path)
	if err != nil {
		return err
	}
	defer store.Close()

	if err := store.Remove(cmd.Context(), entry.ItemKey); err != nil {
		return err
	}
	fmt.Printf("Removed %s - %s\n", entry.SeriesTitle, entry.EpisodeLabel)
	return nil
}
