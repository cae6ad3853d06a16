package provider

import (
	"io"
	"os"
	"sync"
	"time"

	"github.com/metafates/gache"
	"github.com/samber/mo"

	"conch/internal/media"
)

// EpisodeLifetime is how long a cached episode list stays fresh.
const EpisodeLifetime = 6 * time.Hour

type episodeEntry struct {
	Items   []media.Item `json:"items"`
	Fetched time.Time    `json:"fetched"`
}

type episodeData struct {
	Series map[string]episodeEntry `json:"series"`
}

// EpisodeCache persists episode lists per series ID in a JSON file. Each
// list expires on its own. A nil cache never hits and ignores writes.
type EpisodeCache struct {
	internal *gache.Cache[*episodeData]
	lifetime time.Duration
	mu       sync.RWMutex
}

// NewEpisodeCache creates a cache backed by the file at path.
func NewEpisodeCache(path string, lifetime time.Duration) *EpisodeCache {
	return &EpisodeCache{
		lifetime: lifetime,
		internal: gache.New[*episodeData](&gache.Options{
			Path:       path,
			Lifetime:   lifetime,
			FileSystem: osFS{},
		}),
	}
}

// Get returns the cached list for seriesID.
func (c *EpisodeCache) Get(seriesID string) mo.Option[[]media.Item] {
	if c == nil {
		return mo.None[[]media.Item]()
	}
	c.mu.RLock()
	defer c.mu.RUnlock()

	data, expired, err := c.internal.Get()
	if err != nil || expired || data == nil {
		return mo.None[[]media.Item]()
	}
	e, ok := data.Series[seriesID]
	if !ok || len(e.Items) == 0 || time.Since(e.Fetched) > c.lifetime {
		return mo.None[[]media.Item]()
	}
	return mo.Some(e.Items)
}

// Set stores the list for seriesID.
func (c *EpisodeCache) Set(seriesID string, items []media.Item) error {
	if c == nil {
		return nil
	}
	c.mu.Lock()
	defer c.mu.Unlock()

	data, expired, err := c.internal.Get()
	if err != nil || expired || data == nil {
		data = &episodeData{}
	}
	if data.Series == nil {
		data.Series = make(map[string]episodeEntry)
	}
	for id, e := range data.Series {
		if time.Since(e.Fetched) > c.lifetime {
			delete(data.Series, id)
		}
	}
	data.Series[seriesID] = episodeEntry{Items: items, Fetched: time.Now()}
	return c.internal.Set(data)
}

// osFS adapts the os package to gache.FileSystem.
type osFS struct{}

func (osFS) OpenFile(name string, flag int, perm os.FileMode) (io.ReadWriteCloser, error) {
	return os.OpenFile(name, flag, perm)
}

func (osFS) MkdirAll(path string, perm os.FileMode) error {
	return os.MkdirAll(path, perm)
}
