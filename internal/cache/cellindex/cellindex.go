// Package cellindex maps H3 cells to the catalog layers whose extent touches
// them, so a viewport can be answered without decoding any raster.
package cellindex

import (
	"context"
	"fmt"
	"slices"
	"sync"

	"github.com/mohammed-shakir/geotiff-overlay/internal/cache/keys"
	"github.com/mohammed-shakir/geotiff-overlay/internal/cache/redisstore"
)

type Index interface {
	// Put replaces the cells recorded for layer.
	Put(ctx context.Context, layer string, cells []string) error
	// Layers returns the sorted, de-duplicated layers touching any of cells.
	Layers(ctx context.Context, cells []string) ([]string, error)
	Remove(ctx context.Context, layer string) error
}

type redisIndex struct {
	cli *redisstore.Client
}

func NewRedisIndex(cli *redisstore.Client) Index {
	return &redisIndex{cli: cli}
}

func (ri *redisIndex) Put(ctx context.Context, layer string, cells []string) error {
	if err := ri.Remove(ctx, layer); err != nil {
		return err
	}
	cells = dedup(cells)
	if len(cells) == 0 {
		return nil
	}
	adds := make(map[string][]string, len(cells)+1)
	for _, c := range cells {
		adds[keys.CoverageCell(c)] = []string{layer}
	}
	adds[keys.CoverageLayer(layer)] = cells
	if err := ri.cli.SAddBatch(ctx, adds); err != nil {
		return fmt.Errorf("cellindex put %q: %w", layer, err)
	}
	return nil
}

func (ri *redisIndex) Layers(ctx context.Context, cells []string) ([]string, error) {
	cells = dedup(cells)
	if len(cells) == 0 {
		return nil, nil
	}
	sets := make([]string, len(cells))
	for i, c := range cells {
		sets[i] = keys.CoverageCell(c)
	}
	out, err := ri.cli.SUnion(ctx, sets...)
	if err != nil {
		return nil, fmt.Errorf("cellindex lookup: %w", err)
	}
	slices.Sort(out)
	return out, nil
}

func (ri *redisIndex) Remove(ctx context.Context, layer string) error {
	lk := keys.CoverageLayer(layer)
	cells, err := ri.cli.SMembers(ctx, lk)
	if err != nil {
		return fmt.Errorf("cellindex remove %q: %w", layer, err)
	}
	rems := make(map[string][]string, len(cells))
	for _, c := range cells {
		rems[keys.CoverageCell(c)] = []string{layer}
	}
	if err := ri.cli.SRemBatch(ctx, rems); err != nil {
		return fmt.Errorf("cellindex remove %q: %w", layer, err)
	}
	if err := ri.cli.Del(ctx, lk); err != nil {
		return fmt.Errorf("cellindex remove %q: %w", layer, err)
	}
	return nil
}

type memIndex struct {
	mu      sync.RWMutex
	byCell  map[string]map[string]struct{}
	byLayer map[string][]string
}

// NewMemoryIndex is used when no Redis is configured.
func NewMemoryIndex() Index {
	return &memIndex{
		byCell:  map[string]map[string]struct{}{},
		byLayer: map[string][]string{},
	}
}

func (m *memIndex) Put(_ context.Context, layer string, cells []string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.removeLocked(layer)
	cells = dedup(cells)
	if len(cells) == 0 {
		return nil
	}
	for _, c := range cells {
		set, ok := m.byCell[c]
		if !ok {
			set = map[string]struct{}{}
			m.byCell[c] = set
		}
		set[layer] = struct{}{}
	}
	m.byLayer[layer] = cells
	return nil
}

func (m *memIndex) Layers(_ context.Context, cells []string) ([]string, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	seen := map[string]struct{}{}
	for _, c := range cells {
		for l := range m.byCell[c] {
			seen[l] = struct{}{}
		}
	}
	if len(seen) == 0 {
		return nil, nil
	}
	out := make([]string, 0, len(seen))
	for l := range seen {
		out = append(out, l)
	}
	slices.Sort(out)
	return out, nil
}

func (m *memIndex) Remove(_ context.Context, layer string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.removeLocked(layer)
	return nil
}

func (m *memIndex) removeLocked(layer string) {
	for _, c := range m.byLayer[layer] {
		if set, ok := m.byCell[c]; ok {
			delete(set, layer)
			if len(set) == 0 {
				delete(m.byCell, c)
			}
		}
	}
	delete(m.byLayer, layer)
}

func dedup(in []string) []string {
	out := make([]string, 0, len(in))
	seen := make(map[string]struct{}, len(in))
	for _, s := range in {
		if _, ok := seen[s]; ok || s == "" {
			continue
		}
		seen[s] = struct{}{}
		out = append(out, s)
	}
	return out
}
