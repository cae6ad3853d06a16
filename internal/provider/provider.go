// Package provider reads the catalog: search results and episode lists.
package provider

import (
	"context"

	"conch/internal/media"
)

// Provider is the interface catalog sources implement.
type Provider interface {
	// Search returns series matching query.
	Search(ctx context.Context, query string) ([]media.Series, error)

	// Episodes returns the playable items of a series in catalog order.
	Episodes(ctx context.Context, series media.Series) ([]media.Item, error)
}
