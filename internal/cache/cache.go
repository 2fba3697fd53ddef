// Package cache defines the contract of the rendered-overlay cache. Rasters are
// never cached; only encoded overlays are.
package cache

import "context"

// Tags record what an entry was rendered from, for eviction.
type Tags struct {
	Layer  string
	Source string
}

type Interface interface {
	Get(ctx context.Context, key string) ([]byte, bool)
	Put(ctx context.Context, key string, tags Tags, val []byte) error
	EvictSource(ctx context.Context, source string) (int, error)
	EvictLayer(ctx context.Context, layer string) (int, error)
}
