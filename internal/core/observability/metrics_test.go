package observability

import (
	"errors"
	"io"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/prometheus/client_golang/prometheus/testutil"
)

func TestInit_RegistersAndRecords(t *testing.T) {
	reg := prometheus.NewRegistry()
	Init(reg, true)
	Init(reg, true) // second registration is tolerated

	IncOverlayError("band_layout")
	IncOverlayError("band_layout")
	ObserveHTTP("GET", "/overlay", 200, 0.002)
	ObserveStage("decode", 3*time.Millisecond)

	if got := testutil.ToFloat64(overlayErrors.WithLabelValues("band_layout")); got < 2 {
		t.Fatalf("overlay_errors_total{band_layout}=%v want >=2", got)
	}

	srv := httptest.NewServer(promhttp.HandlerFor(reg, promhttp.HandlerOpts{}))
	defer srv.Close()

	resp, err := srv.Client().Get(srv.URL)
	if err != nil {
		t.Fatalf("metrics scrape: %v", err)
	}
	t.Cleanup(func() {
		if cerr := resp.Body.Close(); cerr != nil {
			t.Fatalf("close body: %v", cerr)
		}
	})
	b, err := io.ReadAll(resp.Body)
	if err != nil {
		t.Fatalf("read all: %v", err)
	}
	out := string(b)
	for _, want := range []string{
		`http_requests_total{method="GET",route="/overlay",status="200"}`,
		`overlay_stage_duration_seconds_count{stage="decode"}`,
		`overlay_errors_total{kind="band_layout"}`,
	} {
		if !strings.Contains(out, want) {
			t.Fatalf("expected %q in metrics; got:\n%s", want, out)
		}
	}
}

func TestInvalidationAndCacheCounters(t *testing.T) {
	Init(prometheus.NewRegistry(), true)

	beforeKeys := testutil.ToFloat64(invalidatedKeys)
	beforeErr := testutil.ToFloat64(invalidations.WithLabelValues("delete", "error"))

	ObserveInvalidation("update", 3, time.Millisecond, nil)
	ObserveInvalidation("delete", 0, time.Millisecond, errors.New("boom"))
	IncCacheHit("l1")
	IncCacheMiss("l2")

	if got := testutil.ToFloat64(invalidatedKeys) - beforeKeys; got != 3 {
		t.Fatalf("evicted delta=%v want 3", got)
	}
	if got := testutil.ToFloat64(invalidations.WithLabelValues("delete", "error")) - beforeErr; got != 1 {
		t.Fatalf("error delta=%v want 1", got)
	}
	if testutil.ToFloat64(cacheResults.WithLabelValues("l1", "hit")) < 1 {
		t.Fatalf("l1 hit not recorded")
	}
}

func TestDisabled_NoRecording(t *testing.T) {
	Init(nil, false)
	t.Cleanup(func() { Init(nil, true) })

	before := testutil.ToFloat64(kafkaConsumerErrors.WithLabelValues("decode"))
	IncKafkaConsumerError("decode")
	if got := testutil.ToFloat64(kafkaConsumerErrors.WithLabelValues("decode")); got != before {
		t.Fatalf("recorded while disabled: %v -> %v", before, got)
	}
}
