package cellindex

import (
	"context"
	"fmt"
	"reflect"
	"testing"
	"time"

	miniredis "github.com/alicebob/miniredis/v2"

	"github.com/mohammed-shakir/geotiff-overlay/internal/cache/keys"
	"github.com/mohammed-shakir/geotiff-overlay/internal/cache/redisstore"
)

func newMini(t *testing.T) (*redisstore.Client, *miniredis.Miniredis) {
	t.Helper()

	mr, err := miniredis.Run()
	if err != nil {
		t.Fatalf("miniredis: %v", err)
	}
	t.Cleanup(mr.Close)

	ctx, cancel := context.WithTimeout(context.Background(), time.Second)
	t.Cleanup(cancel)

	cli, err := redisstore.New(ctx, mr.Addr())
	if err != nil {
		t.Fatalf("redisstore.New: %v", err)
	}
	t.Cleanup(func() { _ = cli.Close() })

	return cli, mr
}

func implementations(t *testing.T) map[string]Index {
	cli, _ := newMini(t)
	return map[string]Index{
		"redis":  NewRedisIndex(cli),
		"memory": NewMemoryIndex(),
	}
}

func TestIndex_PutLayersRemove(t *testing.T) {
	for name, idx := range implementations(t) {
		t.Run(name, func(t *testing.T) {
			ctx := context.Background()

			if err := idx.Put(ctx, "valencia", []string{"c1", "c2", "c2"}); err != nil {
				t.Fatalf("Put: %v", err)
			}
			if err := idx.Put(ctx, "madrid", []string{"c2", "c3"}); err != nil {
				t.Fatalf("Put: %v", err)
			}

			got, err := idx.Layers(ctx, []string{"c2"})
			if err != nil {
				t.Fatalf("Layers: %v", err)
			}
			if !reflect.DeepEqual(got, []string{"madrid", "valencia"}) {
				t.Fatalf("c2 layers=%v", got)
			}
			got, _ = idx.Layers(ctx, []string{"c1", "nowhere"})
			if !reflect.DeepEqual(got, []string{"valencia"}) {
				t.Fatalf("c1 layers=%v", got)
			}

			if err := idx.Remove(ctx, "valencia"); err != nil {
				t.Fatalf("Remove: %v", err)
			}
			got, _ = idx.Layers(ctx, []string{"c1", "c2"})
			if !reflect.DeepEqual(got, []string{"madrid"}) {
				t.Fatalf("after remove layers=%v", got)
			}
			if got, _ := idx.Layers(ctx, nil); len(got) != 0 {
				t.Fatalf("empty query returned %v", got)
			}
		})
	}
}

func TestIndex_PutReplacesPreviousCells(t *testing.T) {
	for name, idx := range implementations(t) {
		t.Run(name, func(t *testing.T) {
			ctx := context.Background()
			_ = idx.Put(ctx, "l", []string{"old"})
			_ = idx.Put(ctx, "l", []string{"new"})

			if got, _ := idx.Layers(ctx, []string{"old"}); len(got) != 0 {
				t.Fatalf("stale cell still indexed: %v", got)
			}
			if got, _ := idx.Layers(ctx, []string{"new"}); !reflect.DeepEqual(got, []string{"l"}) {
				t.Fatalf("new cell layers=%v", got)
			}
		})
	}
}

func TestRedisIndex_KeysLayout(t *testing.T) {
	cli, mr := newMini(t)
	idx := NewRedisIndex(cli)
	ctx := context.Background()

	if err := idx.Put(ctx, "valencia", []string{"872a1072bffffff"}); err != nil {
		t.Fatalf("Put: %v", err)
	}
	if ok, _ := mr.SIsMember(keys.CoverageCell("872a1072bffffff"), "valencia"); !ok {
		t.Fatalf("cell set missing layer")
	}
	if ok, _ := mr.SIsMember(keys.CoverageLayer("valencia"), "872a1072bffffff"); !ok {
		t.Fatalf("layer set missing cell")
	}

	_ = idx.Remove(ctx, "valencia")
	if mr.Exists(keys.CoverageLayer("valencia")) {
		t.Fatalf("layer set should be deleted")
	}
}

func TestRedisIndex_ManyCellsWrittenAndCleared(t *testing.T) {
	cli, mr := newMini(t)
	idx := NewRedisIndex(cli)
	ctx := context.Background()

	cells := make([]string, 200)
	for i := range cells {
		cells[i] = fmt.Sprintf("872a10%03dffffff", i)
	}
	if err := idx.Put(ctx, "iberia", cells); err != nil {
		t.Fatalf("Put: %v", err)
	}
	for _, c := range cells {
		if ok, _ := mr.SIsMember(keys.CoverageCell(c), "iberia"); !ok {
			t.Fatalf("cell %s missing layer", c)
		}
	}
	m, _ := mr.Members(keys.CoverageLayer("iberia"))
	if len(m) != len(cells) {
		t.Fatalf("layer set has %d cells, want %d", len(m), len(cells))
	}

	if err := idx.Remove(ctx, "iberia"); err != nil {
		t.Fatalf("Remove: %v", err)
	}
	for _, c := range cells {
		if mr.Exists(keys.CoverageCell(c)) {
			t.Fatalf("cell set %s left behind", c)
		}
	}
}

func TestRedisIndex_ServerDown(t *testing.T) {
	cli, mr := newMini(t)
	idx := NewRedisIndex(cli)
	mr.Close()
	if _, err := idx.Layers(context.Background(), []string{"c"}); err == nil {
		t.Fatalf("expected error with redis down")
	}
}
