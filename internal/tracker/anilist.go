// Package tracker pushes watch progress to AniList.
package tracker

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"
	"sync"

	"github.com/zalando/go-keyring"

	"conch/internal/log"
	"conch/internal/media"
)

// Endpoint is the AniList GraphQL API.
const Endpoint = "https://graphql.anilist.co"

var (
	// ErrNoTrackerID is returned for items not linked to an AniList entry.
	ErrNoTrackerID = errors.New("item has no AniList id")

	// ErrNotLoggedIn is returned when no token is stored.
	ErrNotLoggedIn = errors.New("not logged in to AniList, run `conch tracker login`")
)

const saveProgressMutation = `
mutation ($id: Int, $progress: Int) {
	SaveMediaListEntry (mediaId: $id, progress: $progress, status: CURRENT) {
		id
		progress
	}
}
`

// Client syncs progress with AniList.
type Client struct {
	http     *http.Client
	endpoint string

	mu    sync.Mutex
	token string
}

// New creates a Client. The token is read from the keyring on first use.
func New(client *http.Client) *Client {
	if client == nil {
		client = http.DefaultClient
	}
	return &Client{http: client, endpoint: Endpoint}
}

type graphQLRequest struct {
	Query     string         `json:"query"`
	Variables map[string]any `json:"variables"`
}

type graphQLResponse struct {
	Data struct {
		SaveMediaListEntry struct {
			ID       int `json:"id"`
			Progress int `json:"progress"`
		} `json:"SaveMediaListEntry"`
	} `json:"data"`
	Errors []struct {
		Message string `json:"message"`
	} `json:"errors"`
}

// Sync marks the item's episode number as the watch progress of its series.
func (c *Client) Sync(ctx context.Context, item media.Item) error {
	if item.TrackerID == 0 {
		return ErrNoTrackerID
	}
	token, err := c.loadToken()
	if err != nil {
		return err
	}

	body, err := json.Marshal(graphQLRequest{
		Query: saveProgressMutation,
		Variables: map[string]any{
			"id":       item.TrackerID,
			"progress": item.Number,
		},
	})
	if err != nil {
		return fmt.Errorf("encoding request: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.endpoint, bytes.NewReader(body))
	if err != nil {
		return fmt.Errorf("creating request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Accept", "application/json")
	req.Header.Set("Authorization", "Bearer "+token)

	log.WithField("item", item.Key).Debugf("syncing progress %d to AniList media %d", item.Number, item.TrackerID)

	resp, err := c.http.Do(req)
	if err != nil {
		return fmt.Errorf("sending request: %w", err)
	}
	defer resp.Body.Close()

	data, err := io.ReadAll(io.LimitReader(resp.Body, 1<<20))
	if err != nil {
		return fmt.Errorf("reading response: %w", err)
	}

	var out graphQLResponse
	if err := json.Unmarshal(data, &out); err != nil && resp.StatusCode == http.StatusOK {
		return fmt.Errorf("decoding response: %w", err)
	}
	if len(out.Errors) > 0 {
		msgs := make([]string, 0, len(out.Errors))
		for _, e := range out.Errors {
			msgs = append(msgs, e.Message)
		}
		return fmt.Errorf("anilist: %s", strings.Join(msgs, "; "))
	}
	if resp.StatusCode != http.StatusOK {
		return fmt.Errorf("anilist: unexpected status %d", resp.StatusCode)
	}
	return nil
}

func (c *Client) loadToken() (string, error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.token != "" {
		return c.token, nil
	}
	token, err := GetToken()
	if errors.Is(err, keyring.ErrNotFound) {
		return "", ErrNotLoggedIn
	}
	if err != nil {
		return "", fmt.Errorf("reading token: %w", err)
	}
	c.token = token
	return token, nil
}
