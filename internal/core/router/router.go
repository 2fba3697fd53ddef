// Package router maps the overlay HTTP API onto the engine.
package router

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"
	chimw "github.com/go-chi/chi/v5/middleware"

	"github.com/mohammed-shakir/geotiff-overlay/internal/core/health"
	"github.com/mohammed-shakir/geotiff-overlay/internal/core/middleware"
	"github.com/mohammed-shakir/geotiff-overlay/internal/engine"
	"github.com/mohammed-shakir/geotiff-overlay/internal/layers"
	"github.com/mohammed-shakir/geotiff-overlay/internal/overlay"
)

// Renderer is the part of *engine.Engine the API needs.
type Renderer interface {
	Catalog() *layers.Catalog
	LayerRequest(name string) (engine.Request, error)
	Render(ctx context.Context, req engine.Request) (*engine.Result, error)
	LayersIn(ctx context.Context, area engine.Area) ([]string, error)
}

type Deps struct {
	Engine  Renderer
	Map     http.Handler
	Ready   http.Handler
	Metrics http.Handler
	Logger  *slog.Logger
	// Timeout bounds each request; zero means 60s.
	Timeout time.Duration
}

func New(d Deps) http.Handler {
	if d.Logger == nil {
		d.Logger = slog.Default()
	}
	if d.Timeout <= 0 {
		d.Timeout = 60 * time.Second
	}
	a := &api{eng: d.Engine, logger: d.Logger}

	r := chi.NewRouter()
	r.Use(chimw.RequestID)
	r.Use(chimw.RealIP)
	r.Use(middleware.Recover(d.Logger))
	r.Use(middleware.Logging(d.Logger))
	r.Use(middleware.Metrics())
	r.Use(middleware.CORS())

	r.Get("/healthz", health.Liveness())
	if d.Ready != nil {
		r.Method(http.MethodGet, "/readyz", d.Ready)
	}
	if d.Metrics != nil {
		r.Method(http.MethodGet, "/metrics", d.Metrics)
	}

	r.Group(func(r chi.Router) {
		r.Use(chimw.Timeout(d.Timeout))
		r.Get("/overlay", a.overlayJSON)
		r.Get("/overlay.png", a.overlayPNG)
		r.Get("/layers", a.layers)
		if d.Map != nil {
			r.Method(http.MethodGet, "/map", d.Map)
		}
	})
	return r
}

type api struct {
	eng    Renderer
	logger *slog.Logger
}

func (a *api) render(w http.ResponseWriter, r *http.Request) (*engine.Result, bool) {
	q, err := ParseOverlayQuery(r)
	if err != nil {
		writeError(w, http.StatusBadRequest, "bad_request", err)
		return nil, false
	}
	req := engine.Request{Source: q.Source, Options: q.Options}
	if q.Layer != "" {
		if req, err = a.eng.LayerRequest(q.Layer); err != nil {
			a.fail(w, r, err)
			return nil, false
		}
	}
	res, err := a.eng.Render(r.Context(), req)
	if err != nil {
		a.fail(w, r, err)
		return nil, false
	}
	w.Header().Set("X-Cache", cacheHeader(res.Cached))
	return res, true
}

func (a *api) overlayJSON(w http.ResponseWriter, r *http.Request) {
	res, ok := a.render(w, r)
	if !ok {
		return
	}
	writeJSON(w, http.StatusOK, res.Descriptor)
}

// overlayPNG serves the bitmap alone; the extent travels in a header as
// minx,miny,maxx,maxy in the display CRS.
func (a *api) overlayPNG(w http.ResponseWriter, r *http.Request) {
	res, ok := a.render(w, r)
	if !ok {
		return
	}
	d := res.Descriptor
	e := overlay.ExtentArray(d.Extent)
	w.Header().Set("Content-Type", d.Image.MediaType)
	w.Header().Set("Content-Length", strconv.Itoa(len(d.Image.Data)))
	w.Header().Set("X-Overlay-Extent", fmt.Sprintf("%s,%s,%s,%s", num(e[0]), num(e[1]), num(e[2]), num(e[3])))
	w.Header().Set("X-Overlay-CRS", d.DisplayCRS)
	w.WriteHeader(http.StatusOK)
	_, _ = w.Write(d.Image.Data)
}

type layerJSON struct {
	Name       string `json:"name"`
	Title      string `json:"title,omitempty"`
	Source     string `json:"source"`
	SourceCRS  string `json:"source_crs"`
	DisplayCRS string `json:"display_crs"`
}

// layers lists the catalog, or only the layers whose rendered footprint
// touches bbox/polygon when one is given.
func (a *api) layers(w http.ResponseWriter, r *http.Request) {
	area, warn, ok, err := ParseArea(r)
	if warn != "" {
		a.logger.WarnContext(r.Context(), warn)
	}
	if err != nil {
		writeError(w, http.StatusBadRequest, "bad_request", err)
		return
	}

	cat := a.eng.Catalog()
	names := cat.Names()
	if ok {
		if names, err = a.eng.LayersIn(r.Context(), area); err != nil {
			a.fail(w, r, err)
			return
		}
	}
	out := make([]layerJSON, 0, len(names))
	for _, n := range names {
		l, found := cat.Get(n)
		if !found {
			continue
		}
		o := l.Options().Normalized()
		out = append(out, layerJSON{Name: l.Name, Title: l.Title, Source: l.Source, SourceCRS: o.SourceCRS, DisplayCRS: o.DisplayCRS})
	}
	writeJSON(w, http.StatusOK, map[string]any{"layers": out})
}

func (a *api) fail(w http.ResponseWriter, r *http.Request, err error) {
	kind := engine.ErrorKind(err)
	status := StatusFor(err)
	if status >= 500 {
		a.logger.ErrorContext(r.Context(), "request failed", "kind", kind, "err", err)
	} else {
		a.logger.InfoContext(r.Context(), "request rejected", "kind", kind, "err", err)
	}
	writeError(w, status, kind, err)
}

// StatusFor maps an engine error onto an HTTP status.
func StatusFor(err error) int {
	switch engine.ErrorKind(err) {
	case "fetch":
		return http.StatusBadGateway
	case "parse", "georef", "band_layout", "transform":
		return http.StatusUnprocessableEntity
	case "unknown_layer":
		return http.StatusNotFound
	case "forbidden_source":
		return http.StatusForbidden
	case "canceled":
		if errors.Is(err, context.DeadlineExceeded) {
			return http.StatusGatewayTimeout
		}
		return http.StatusServiceUnavailable
	default:
		return http.StatusInternalServerError
	}
}

func num(f float64) string { return strconv.FormatFloat(f, 'f', -1, 64) }

func cacheHeader(hit bool) string {
	if hit {
		return "HIT"
	}
	return "MISS"
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

func writeError(w http.ResponseWriter, status int, kind string, err error) {
	writeJSON(w, status, map[string]string{"error": err.Error(), "kind": kind})
}
