// Package overlaystore caches encoded overlays in a process-local LRU backed
// by an optional Redis tier shared between instances.
package overlaystore

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/hashicorp/golang-lru/v2/expirable"

	"github.com/mohammed-shakir/geotiff-overlay/internal/cache"
	"github.com/mohammed-shakir/geotiff-overlay/internal/cache/keys"
	"github.com/mohammed-shakir/geotiff-overlay/internal/cache/redisstore"
	obs "github.com/mohammed-shakir/geotiff-overlay/internal/core/observability"
)

type Config struct {
	L1Size int
	TTL    time.Duration
	// TTLOverrides sets the Redis ttl per layer. L1 uses TTL throughout.
	TTLOverrides map[string]time.Duration
	OpTimeout    time.Duration
}

type Store struct {
	cfg    Config
	l1     *expirable.LRU[string, []byte]
	l2     *redisstore.Client
	logger *slog.Logger
}

var _ cache.Interface = (*Store)(nil)

// New builds a store; l2 may be nil for a single-instance, memory-only cache.
func New(cfg Config, l2 *redisstore.Client, logger *slog.Logger) *Store {
	if cfg.L1Size <= 0 {
		cfg.L1Size = 128
	}
	if cfg.TTL <= 0 {
		cfg.TTL = 10 * time.Minute
	}
	if cfg.OpTimeout <= 0 {
		cfg.OpTimeout = 250 * time.Millisecond
	}
	if logger == nil {
		logger = slog.Default()
	}
	s := &Store{
		cfg:    cfg,
		l2:     l2,
		logger: logger,
		l1:     expirable.NewLRU[string, []byte](cfg.L1Size, nil, cfg.TTL),
	}
	return s
}

// Get reads L1 then L2. Redis failures are logged and count as a miss.
func (s *Store) Get(ctx context.Context, key string) ([]byte, bool) {
	if v, ok := s.l1.Get(key); ok {
		obs.IncCacheHit("l1")
		return v, true
	}
	obs.IncCacheMiss("l1")
	if s.l2 == nil {
		return nil, false
	}

	ctx, cancel := context.WithTimeout(ctx, s.cfg.OpTimeout)
	defer cancel()
	v, ok, err := s.l2.Get(ctx, key)
	if err != nil {
		s.logger.WarnContext(ctx, "overlay cache read failed", "key", key, "err", err)
		obs.IncCacheMiss("l2")
		return nil, false
	}
	if !ok {
		obs.IncCacheMiss("l2")
		return nil, false
	}
	obs.IncCacheHit("l2")
	s.l1.Add(key, v)
	return v, true
}

func (s *Store) Put(ctx context.Context, key string, tags cache.Tags, val []byte) error {
	s.l1.Add(key, val)
	if s.l2 == nil {
		return nil
	}
	ctx, cancel := context.WithTimeout(ctx, s.cfg.OpTimeout)
	defer cancel()
	if err := s.l2.SetIndexed(ctx, key, val, s.ttlFor(tags.Layer), setsFor(tags)...); err != nil {
		return fmt.Errorf("overlaystore put: %w", err)
	}
	return nil
}

// EvictSource drops every overlay rendered from source and returns how many
// keys were removed.
func (s *Store) EvictSource(ctx context.Context, source string) (int, error) {
	return s.evict(ctx, keys.SourceSet(source), func(k string) bool { return keys.FromSource(k, source) })
}

// EvictLayer drops every overlay rendered for layer.
func (s *Store) EvictLayer(ctx context.Context, layer string) (int, error) {
	return s.evict(ctx, keys.LayerSet(layer), func(k string) bool { return keys.InLayer(k, layer) })
}

func (s *Store) ttlFor(layer string) time.Duration {
	if d, ok := s.cfg.TTLOverrides[layer]; ok && d > 0 {
		return d
	}
	return s.cfg.TTL
}

// Len reports the number of L1 entries.
func (s *Store) Len() int { return s.l1.Len() }

// evict removes the members of the L2 set plus every L1 key matching match.
// L1 is scanned because entries promoted from L2 on another instance's
// eviction may no longer be listed in any set.
func (s *Store) evict(ctx context.Context, set string, match func(string) bool) (int, error) {
	victims := map[string]struct{}{}
	for _, k := range s.l1.Keys() {
		if match(k) {
			victims[k] = struct{}{}
		}
	}

	var l2Err error
	if s.l2 != nil {
		ctx, cancel := context.WithTimeout(ctx, s.cfg.OpTimeout)
		defer cancel()
		members, err := s.l2.SMembers(ctx, set)
		if err != nil {
			l2Err = err
		}
		for _, k := range members {
			victims[k] = struct{}{}
		}
		if l2Err == nil {
			del := make([]string, 0, len(victims)+1)
			for k := range victims {
				del = append(del, k)
			}
			del = append(del, set)
			l2Err = s.l2.Del(ctx, del...)
		}
	}

	for k := range victims {
		s.l1.Remove(k)
	}
	if l2Err != nil {
		return len(victims), fmt.Errorf("overlaystore evict %s: %w", set, l2Err)
	}
	return len(victims), nil
}

func setsFor(tags cache.Tags) []string {
	sets := []string{keys.LayerSet(tags.Layer)}
	if tags.Source != "" {
		sets = append(sets, keys.SourceSet(tags.Source))
	}
	return sets
}
