package invalidation_test

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/IBM/sarama"
	miniredis "github.com/alicebob/miniredis/v2"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/mohammed-shakir/geotiff-overlay/internal/cache/cellindex"
	"github.com/mohammed-shakir/geotiff-overlay/internal/cache/keys"
	"github.com/mohammed-shakir/geotiff-overlay/internal/cache/overlaystore"
	"github.com/mohammed-shakir/geotiff-overlay/internal/cache/redisstore"
	obs "github.com/mohammed-shakir/geotiff-overlay/internal/core/observability"
	"github.com/mohammed-shakir/geotiff-overlay/internal/crs"
	"github.com/mohammed-shakir/geotiff-overlay/internal/engine"
	"github.com/mohammed-shakir/geotiff-overlay/internal/invalidation"
	"github.com/mohammed-shakir/geotiff-overlay/internal/invalidation/kafkaconsumer"
	"github.com/mohammed-shakir/geotiff-overlay/internal/layers"
	h3mapper "github.com/mohammed-shakir/geotiff-overlay/internal/mapper/h3"
	"github.com/mohammed-shakir/geotiff-overlay/internal/raster"
	"github.com/mohammed-shakir/geotiff-overlay/internal/raster/geotifftest"
)

type files map[string][]byte

func (f files) Fetch(_ context.Context, locator string) ([]byte, error) {
	b, ok := f[locator]
	if !ok {
		return nil, errors.New("not found")
	}
	return b, nil
}

func newEngine(t *testing.T, rc *redisstore.Client) *engine.Engine {
	t.Helper()
	cat := &layers.Catalog{Layers: []layers.Layer{
		{Name: "prueba6", Source: "prueba6.tif", SourceCRS: crs.Identity},
	}}
	if err := cat.Validate(); err != nil {
		t.Fatalf("catalog: %v", err)
	}
	tif := geotifftest.Build(geotifftest.WebMercator(2, 2, -62563, 4709337, 1000,
		[]uint16{255, 0, 0, 0}, []uint16{0, 255, 0, 0}, []uint16{0, 0, 255, 0}, []uint16{255, 255, 255, 0}))
	e, err := engine.New(engine.Config{H3Res: 7, H3ResMin: 3}, engine.Deps{
		Catalog: cat,
		Decoder: raster.NewDecoder(files{"prueba6.tif": tif}, nil),
		Store:   overlaystore.New(overlaystore.Config{TTL: time.Minute}, rc, nil),
		Index:   cellindex.NewRedisIndex(rc),
		Mapper:  h3mapper.New(),
	})
	if err != nil {
		t.Fatalf("engine.New: %v", err)
	}
	return e
}

func message(t *testing.T, ev invalidation.Event) *sarama.ConsumerMessage {
	t.Helper()
	ev.Version, ev.TS = 1, time.Now().UTC()
	if ev.Op == "" {
		ev.Op = invalidation.OpUpdate
	}
	b, err := json.Marshal(ev)
	if err != nil {
		t.Fatalf("marshal: %v", err)
	}
	return &sarama.ConsumerMessage{Topic: "overlay-invalidation", Value: b}
}

func TestIntegration_Miniredis_AreaEvictionAndMetrics(t *testing.T) {
	reg := prometheus.NewRegistry()
	obs.Init(reg, true)

	mr, err := miniredis.Run()
	if err != nil {
		t.Fatalf("miniredis: %v", err)
	}
	t.Cleanup(mr.Close)
	rc, err := redisstore.New(context.Background(), mr.Addr())
	if err != nil {
		t.Fatalf("redisstore: %v", err)
	}
	t.Cleanup(func() { _ = rc.Close() })

	ctx := context.Background()
	e := newEngine(t, rc)
	req, _ := e.LayerRequest("prueba6")
	res, err := e.Render(ctx, req)
	if err != nil {
		t.Fatalf("Render: %v", err)
	}
	if !mr.Exists(res.Key) {
		t.Fatalf("rendered overlay not in redis")
	}
	if !mr.Exists(keys.CoverageLayer("prueba6")) {
		t.Fatalf("coverage not indexed")
	}

	cons := kafkaconsumer.New(kafkaconsumer.Config{Topic: "overlay-invalidation"}, nil, e)

	// Madrid: nothing rendered there.
	far := message(t, invalidation.Event{BBox: &invalidation.BBox{X1: -3.8, Y1: 40.3, X2: -3.6, Y2: 40.5}})
	if err := cons.ProcessOne(ctx, far); err != nil {
		t.Fatalf("ProcessOne far: %v", err)
	}
	if !mr.Exists(res.Key) {
		t.Fatalf("an unrelated area evicted the overlay")
	}

	near := message(t, invalidation.Event{BBox: &invalidation.BBox{X1: -0.56, Y1: 38.9, X2: -0.55, Y2: 38.91}})
	if err := cons.ProcessOne(ctx, near); err != nil {
		t.Fatalf("ProcessOne near: %v", err)
	}
	if mr.Exists(res.Key) {
		t.Fatalf("overlay should be evicted from redis")
	}
	if mr.Exists(keys.CoverageLayer("prueba6")) {
		t.Fatalf("coverage should be dropped with the layer")
	}
	again, err := e.Render(ctx, req)
	if err != nil || again.Cached {
		t.Fatalf("render after eviction = %+v, %v", again, err)
	}

	rr := httptest.NewRecorder()
	promhttp.HandlerFor(reg, promhttp.HandlerOpts{}).ServeHTTP(rr, httptest.NewRequest(http.MethodGet, "/metrics", nil))
	body := rr.Body.String()
	for _, s := range []string{
		"invalidation_events_total",
		"invalidation_evicted_keys_total",
		"invalidation_latency_seconds_bucket",
	} {
		if !strings.Contains(body, s) {
			t.Fatalf("metrics missing %q; got:\n%s", s, body)
		}
	}
}

func TestIntegration_SourceEvictionSharedRedis(t *testing.T) {
	mr, err := miniredis.Run()
	if err != nil {
		t.Fatalf("miniredis: %v", err)
	}
	t.Cleanup(mr.Close)
	rc, err := redisstore.New(context.Background(), mr.Addr())
	if err != nil {
		t.Fatalf("redisstore: %v", err)
	}
	t.Cleanup(func() { _ = rc.Close() })

	ctx := context.Background()
	a, b := newEngine(t, rc), newEngine(t, rc)
	req, _ := a.LayerRequest("prueba6")
	if _, err := a.Render(ctx, req); err != nil {
		t.Fatalf("Render a: %v", err)
	}
	if r, err := b.Render(ctx, req); err != nil || !r.Cached {
		t.Fatalf("b should hit the shared tier: %+v, %v", r, err)
	}

	// Both instances consume every event.
	msg := message(t, invalidation.Event{Source: "prueba6.tif"})
	for _, e := range []*engine.Engine{a, b} {
		if err := kafkaconsumer.New(kafkaconsumer.Config{}, nil, e).ProcessOne(ctx, msg); err != nil {
			t.Fatalf("ProcessOne: %v", err)
		}
	}
	if mr.Exists(keys.SourceSet("prueba6.tif")) {
		t.Fatalf("source set survived eviction")
	}
	if r, err := b.Render(ctx, req); err != nil || r.Cached {
		t.Fatalf("b served a stale overlay: %+v, %v", r, err)
	}
}
