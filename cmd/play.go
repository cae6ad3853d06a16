package cmd

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/samber/lo"
	"github.com/spf13/cobra"

	"conch/internal/cast"
	"conch/internal/config"
	"conch/internal/dispatch"
	"conch/internal/history"
	"conch/internal/httputil"
	"conch/internal/media"
	"conch/internal/player"
	"conch/internal/playback"
	"conch/internal/provider"
	"conch/internal/session"
	"conch/internal/tracker"
	"conch/internal/ui"
)

// searchRun is the default command: conch <query>
func searchRun(cmd *cobra.Command, args []string) error {
	query := strings.Join(args, " ")

	if query == "" {
		// Prompt for query via fzf
		var err error
		query, err = ui.Input("Search")
		if err != nil {
			return fmt.Errorf("no search query provided")
		}
	}

	debugf("searching for: %s", query)

	ctx := cmd.Context()
	catalog := newCatalog()
	results, err := catalog.Search(ctx, query)
	if err != nil {
		return fmt.Errorf("search failed: %w", err)
	}

	idx, err := ui.Select("Select", lo.Map(results, func(s media.Series, _ int) string {
		return provider.FormatDisplayTitle(s)
	}))
	if err != nil {
		return err
	}
	selected := results[idx]
	debugf("selected: %s (ID: %s)", selected.Title, selected.ID)

	episodes, err := catalog.Episodes(ctx, selected)
	if err != nil {
		return err
	}

	seq := newSequence(episodes, cfg.EpisodeOrderReversed)
	if seq.Index, err = selectEpisode(seq.Items, flagEpisode); err != nil {
		return err
	}
	return playSequence(ctx, seq)
}

func newCatalog() *provider.Catalog {
	var cache *provider.EpisodeCache
	if dir, err := config.CacheDir(); err == nil {
		cache = provider.NewEpisodeCache(filepath.Join(dir, "episodes.json"), provider.EpisodeLifetime)
	} else {
		debugf("episode cache disabled: %v", err)
	}
	return provider.NewCatalog(cfg.Base, cache)
}

// newSequence orders episodes for display. When reversed, the newest episode
// is listed first and playback order walks the list backwards.
func newSequence(episodes []media.Item, reversed bool) *media.Sequence {
	items := episodes
	if reversed {
		items = lo.Reverse(append([]media.Item(nil), episodes...))
	}
	return &media.Sequence{Items: items, Reversed: reversed}
}

// selectEpisode returns the index of episode number want, or prompts.
func selectEpisode(items []media.Item, want int) (int, error) {
	if want > 0 {
		_, idx, ok := lo.FindIndexOf(items, func(it media.Item) bool { return it.Number == want })
		if !ok {
			return -1, fmt.Errorf("episode %d not found", want)
		}
		return idx, nil
	}
	return ui.Select("Episode", lo.Map(items, func(it media.Item, _ int) string { return it.Label }))
}

// playSequence wires the pipeline for the current config and runs it.
func playSequence(ctx context.Context, seq *media.Sequence) error {
	snap := cfg.Snapshot()
	identity := httputil.NewIdentity()

	var store *history.Store
	if snap.History {
		path, err := config.HistoryPath()
		if err != nil {
			return err
		}
		if store, err = history.Open(path); err != nil {
			return err
		}
		defer store.Close()
	}

	router, err := newRouter(snap, identity.UserAgent)
	if err != nil {
		return err
	}
	if flagDownload {
		router.RequestDownload()
	}

	deps := playback.Deps{
		Surfaces: playback.Surfaces(snap, httputil.NewClient()),
		Router:   router,
		Choose:   ui.Select,
		NewObserver: func(item media.Item) session.Observer {
			return ui.NewProgressLine(os.Stderr, item.DisplayTitle())
		},
	}
	if store != nil {
		deps.Positions = store
		deps.Store = store
		deps.Ledger = store
	}
	if snap.RemoteSync {
		deps.Syncer = tracker.New(nil)
	}

	p := playback.New(deps, playback.OptionsFrom(snap))

	if flagJSON {
		item, _ := seq.Current()
		res, err := p.Resolve(ctx, item)
		if err != nil {
			return err
		}
		return printJSON(res)
	}
	return p.Run(ctx, seq)
}

func newRouter(snap config.Config, userAgent string) (*dispatch.Router, error) {
	dir, err := snap.ExpandDownloadDir()
	if err != nil {
		return nil, fmt.Errorf("resolving download dir: %w", err)
	}

	deps := dispatch.Deps{
		Downloader: playback.Downloader{Dir: dir, UserAgent: userAgent},
		Launcher:   playback.LauncherFunc(player.Launch),
		Overlay:    &player.Overlay{UserAgent: userAgent},
		Player:     playback.MPVPlayer{MPV: &player.MPV{}},
	}
	if snap.CastSocket != "" {
		deps.Cast = cast.NewRemote(snap.CastSocket)
	}
	return dispatch.New(snap, deps, userAgent), nil
}

func printJSON(res media.ResolvedMedia) error {
	out := map[string]any{
		"title":   res.Title,
		"url":     res.URL.String(),
		"quality": res.Quality,
		"item":    res.Item.Key,
	}
	if artwork, ok := res.ArtworkURL.Get(); ok {
		out["artwork"] = artwork
	}
	if resume, ok := res.ResumePosition.Get(); ok {
		out["resume"] = resume
	}
	if res.UserAgent != "" {
		out["user_agent"] = res.UserAgent
	}
	enc := json.NewEncoder(os.Stdout)
	enc.SetIndent("", "  ")
	return enc.Encode(out)
}
