// Package history persists resume positions and the continue-watching
// ledger in a local SQLite database.
package history

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"time"

	_ "modernc.org/sqlite"

	"conch/internal/media"
)

const createTablesSQL = `
CREATE TABLE IF NOT EXISTS positions (
    item_key    TEXT PRIMARY KEY,
    position    REAL NOT NULL DEFAULT 0,
    duration    REAL NOT NULL DEFAULT 0,
    updated_at  INTEGER NOT NULL DEFAULT 0
);

CREATE TABLE IF NOT EXISTS continue_watching (
    item_key        TEXT PRIMARY KEY,
    series_key      TEXT NOT NULL DEFAULT '',
    series_title    TEXT NOT NULL DEFAULT '',
    episode_label   TEXT NOT NULL DEFAULT '',
    episode_number  INTEGER NOT NULL DEFAULT 0,
    artwork_url     TEXT NOT NULL DEFAULT '',
    position        REAL NOT NULL DEFAULT 0,
    duration        REAL NOT NULL DEFAULT 0,
    source_tag      TEXT NOT NULL DEFAULT '',
    updated_at      INTEGER NOT NULL DEFAULT 0
);

CREATE INDEX IF NOT EXISTS idx_continue_series ON continue_watching(series_key);
CREATE INDEX IF NOT EXISTS idx_continue_updated_at ON continue_watching(updated_at);
`

// Store wraps the history database.
type Store struct {
	db *sql.DB
	mu sync.Mutex
}

// Open opens or creates the database at path.
func Open(path string) (*Store, error) {
	if err := os.MkdirAll(filepath.Dir(path), 0700); err != nil {
		return nil, fmt.Errorf("creating history dir: %w", err)
	}

	sqlDB, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, fmt.Errorf("opening database at %s: %w", path, err)
	}

	pragmas := []string{
		"PRAGMA journal_mode=WAL",
		"PRAGMA synchronous=NORMAL",
		"PRAGMA busy_timeout=5000",
	}
	for _, pragma := range pragmas {
		if _, err := sqlDB.Exec(pragma); err != nil {
			sqlDB.Close()
			return nil, fmt.Errorf("setting pragma %q: %w", pragma, err)
		}
	}

	if _, err := sqlDB.Exec(createTablesSQL); err != nil {
		sqlDB.Close()
		return nil, fmt.Errorf("creating schema: %w", err)
	}

	return &Store{db: sqlDB}, nil
}

// Close closes the database.
func (s *Store) Close() error {
	if s == nil || s.db == nil {
		return nil
	}
	return s.db.Close()
}

// SavePosition records the last played position of an item.
func (s *Store) SavePosition(ctx context.Context, itemKey string, position, duration float64) error {
	if s == nil || s.db == nil {
		return fmt.Errorf("database not initialized")
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	_, err := s.db.ExecContext(ctx, `
		INSERT INTO positions (item_key, position, duration, updated_at)
		VALUES (?, ?, ?, ?)
		ON CONFLICT(item_key) DO UPDATE SET
			position = excluded.position,
			duration = excluded.duration,
			updated_at = excluded.updated_at
	`, itemKey, position, duration, time.Now().UnixNano())
	if err != nil {
		return fmt.Errorf("saving position: %w", err)
	}
	return nil
}

// Position returns the last played position and duration of an item. ok is
// false when nothing was recorded.
func (s *Store) Position(ctx context.Context, itemKey string) (position, duration float64, ok bool, err error) {
	if s == nil || s.db == nil {
		return 0, 0, false, fmt.Errorf("database not initialized")
	}

	err = s.db.QueryRowContext(ctx,
		`SELECT position, duration FROM positions WHERE item_key = ?`, itemKey,
	).Scan(&position, &duration)
	if errors.Is(err, sql.ErrNoRows) {
		return 0, 0, false, nil
	}
	if err != nil {
		return 0, 0, false, fmt.Errorf("reading position: %w", err)
	}
	return position, duration, true, nil
}

// Upsert records an in-progress item. A series keeps one entry: recording
// an episode replaces the entry of any other episode of the same series.
func (s *Store) Upsert(ctx context.Context, e media.ContinueEntry) error {
	if s == nil || s.db == nil {
		return fmt.Errorf("database not initialized")
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("starting transaction: %w", err)
	}
	defer tx.Rollback()

	series := SeriesKey(e.ItemKey)
	if _, err := tx.ExecContext(ctx,
		`DELETE FROM continue_watching WHERE series_key = ? AND item_key != ?`, series, e.ItemKey,
	); err != nil {
		return fmt.Errorf("merging continue watching: %w", err)
	}

	_, err = tx.ExecContext(ctx, `
		INSERT INTO continue_watching (
			item_key, series_key, series_title, episode_label, episode_number,
			artwork_url, position, duration, source_tag, updated_at
		) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT(item_key) DO UPDATE SET
			series_title = excluded.series_title,
			episode_label = excluded.episode_label,
			episode_number = excluded.episode_number,
			artwork_url = excluded.artwork_url,
			position = excluded.position,
			duration = excluded.duration,
			source_tag = excluded.source_tag,
			updated_at = excluded.updated_at
	`,
		e.ItemKey, series, e.SeriesTitle, e.EpisodeLabel, e.EpisodeNumber,
		e.ArtworkURL, e.Position, e.Duration, e.SourceTag, time.Now().UnixNano(),
	)
	if err != nil {
		return fmt.Errorf("upserting continue watching: %w", err)
	}

	return tx.Commit()
}

// Entries returns the ledger, most recently updated first. A limit of zero
// or less returns every entry.
func (s *Store) Entries(ctx context.Context, limit int) ([]media.ContinueEntry, error) {
	if s == nil || s.db == nil {
		return nil, fmt.Errorf("database not initialized")
	}
	if limit <= 0 {
		limit = -1
	}

	rows, err := s.db.QueryContext(ctx, `
		SELECT item_key, series_title, episode_label, episode_number,
		       artwork_url, position, duration, source_tag
		FROM continue_watching
		ORDER BY updated_at DESC, rowid DESC
		LIMIT ?
	`, limit)
	if err != nil {
		return nil, fmt.Errorf("listing continue watching: %w", err)
	}
	defer rows.Close()

	var entries []media.ContinueEntry
	for rows.Next() {
		var e media.ContinueEntry
		if err := rows.Scan(
			&e.ItemKey, &e.SeriesTitle, &e.EpisodeLabel, &e.EpisodeNumber,
			&e.ArtworkURL, &e.Position, &e.Duration, &e.SourceTag,
		); err != nil {
			return nil, fmt.Errorf("scanning continue watching: %w", err)
		}
		entries = append(entries, e)
	}
	return entries, rows.Err()
}

// Remove deletes an item from the ledger and forgets its position.
func (s *Store) Remove(ctx context.Context, itemKey string) error {
	if s == nil || s.db == nil {
		return fmt.Errorf("database not initialized")
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	if _, err := s.db.ExecContext(ctx, `DELETE FROM continue_watching WHERE item_key = ?`, itemKey); err != nil {
		return fmt.Errorf("removing entry: %w", err)
	}
	if _, err := s.db.ExecContext(ctx, `DELETE FROM positions WHERE item_key = ?`, itemKey); err != nil {
		return fmt.Errorf("removing position: %w", err)
	}
	return nil
}

// SeriesKey is the series part of an item key ("series/x-1#3" -> "series/x-1").
func SeriesKey(itemKey string) string {
	if i := strings.LastIndex(itemKey, "#"); i >= 0 {
		return itemKey[:i]
	}
	return itemKey
}

// FormatForDisplay creates display strings for fzf selection.
func FormatForDisplay(entries []media.ContinueEntry) []string {
	items := make([]string, 0, len(entries))
	for _, e := range entries {
		display := e.SeriesTitle
		if e.EpisodeLabel != "" {
			display += " - " + e.EpisodeLabel
		}
		if e.Position > 0 {
			pct := 0.0
			if e.Duration > 0 {
				pct = (e.Position / e.Duration) * 100
			}
			display += fmt.Sprintf(" [%.0f%%]", pct)
			display += " " + formatClock(time.Duration(e.Position)*time.Second)
		}
		items = append(items, display)
	}
	return items
}

// formatClock formats a duration as H:MM:SS or M:SS.
func formatClock(d time.Duration) string {
	s := int(d.Seconds())
	h := s / 3600
	m := (s % 3600) / 60
	sec := s % 60
	if h > 0 {
		return fmt.Sprintf("%d:%02d:%02d", h, m, sec)
	}
	return fmt.Sprintf("%d:%02d", m, sec)
}
