package metrics

import (
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"

	"github.com/mohammed-shakir/geotiff-overlay/internal/core/observability"
)

func scrape(t *testing.T, p *Provider) string {
	t.Helper()
	rr := httptest.NewRecorder()
	p.Handler().ServeHTTP(rr, httptest.NewRequest(http.MethodGet, p.Path(), nil))
	if rr.Code != http.StatusOK {
		t.Fatalf("status=%d want 200", rr.Code)
	}
	return rr.Body.String()
}

func TestProvider_RuntimeAndBuildInfo(t *testing.T) {
	p := Init(Config{Enabled: true, Path: "/internal/metrics", Build: BuildInfo{Revision: "abc123", BuildDate: "2024-05-01"}})
	if p.Path() != "/internal/metrics" || !p.Enabled() {
		t.Fatalf("path=%q enabled=%v", p.Path(), p.Enabled())
	}

	body := scrape(t, p)
	if !strings.Contains(body, "go_goroutines") {
		t.Fatalf("expected go_goroutines in payload; got:\n%s", body)
	}
	assertHasMetricLine(t, body, "app_build_info", `version="dev"`, `revision="abc123"`, `build_date="2024-05-01"`)

	hits := prometheus.NewCounter(prometheus.CounterOpts{Name: "overlay_test_extra_total", Help: "extra collector"})
	p.Register(hits)
	hits.Add(3)
	if got := testutil.ToFloat64(hits); got != 3 {
		t.Fatalf("extra collector=%v", got)
	}
	if !strings.Contains(scrape(t, p), "overlay_test_extra_total 3") {
		t.Fatalf("extra collector missing from scrape")
	}
}

func TestProvider_DisabledRecordsNothing(t *testing.T) {
	p := Init(Config{})
	if p.Path() != "/metrics" || p.Enabled() {
		t.Fatalf("path=%q enabled=%v", p.Path(), p.Enabled())
	}

	observability.ObserveStage("decode", time.Millisecond)
	observability.IncOverlayError("fetch")

	body := scrape(t, p)
	if strings.Contains(body, "overlay_stage_duration_seconds") || strings.Contains(body, "overlay_errors_total") {
		t.Fatalf("pipeline metrics recorded while disabled:\n%s", body)
	}
	if !strings.Contains(body, "app_build_info") {
		t.Fatalf("build info should be exposed regardless")
	}
}
