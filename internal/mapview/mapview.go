// Package mapview serves the interactive map page: a base tile layer, the
// catalog's overlays as static images and a fit to the last one loaded.
package mapview

import (
	"bytes"
	_ "embed"
	"fmt"
	"html/template"
	"log/slog"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/mohammed-shakir/geotiff-overlay/internal/crs"
	"github.com/mohammed-shakir/geotiff-overlay/internal/layers"
	"github.com/mohammed-shakir/geotiff-overlay/internal/overlay"
)

//go:embed map.html.tmpl
var pageSource string

var page = template.Must(template.New("map").Parse(pageSource))

// Projection is the view CRS; base tiles are Web Mercator.
const Projection = crs.EPSG3857

// Config is what the page script receives.
type Config struct {
	Projection  string      `json:"projection"`
	Center      [2]float64  `json:"center"`
	Zoom        float64     `json:"zoom"`
	TileURL     string      `json:"tile_url"`
	Attribution string      `json:"attribution"`
	FullScreen  bool        `json:"fullscreen"`
	FitDelayMS  int64       `json:"fit_delay_ms"`
	Layers      []PageLayer `json:"layers"`
}

type PageLayer struct {
	Name  string `json:"name"`
	Title string `json:"title"`
	URL   string `json:"url"`
}

type Handler struct {
	cfg  Config
	html []byte
}

// New renders the page once. The view center is given in lon/lat and
// projected to the view CRS. Layers displayed in another CRS are skipped.
func New(cat *layers.Catalog, fitDelay time.Duration, logger *slog.Logger) (*Handler, error) {
	if logger == nil {
		logger = slog.Default()
	}
	if fitDelay <= 0 {
		fitDelay = overlay.DefaultFitDelay
	}
	proj, err := cat.Table().Projection(Projection)
	if err != nil {
		return nil, fmt.Errorf("mapview: %w", err)
	}
	v := cat.View
	x, y, err := proj.FromGeographic(v.Center[0], v.Center[1])
	if err != nil {
		return nil, fmt.Errorf("mapview: center %v: %w", v.Center, err)
	}

	cfg := Config{
		Projection:  Projection,
		Center:      [2]float64{x, y},
		Zoom:        v.Zoom,
		TileURL:     v.TileURL,
		Attribution: v.Attribution,
		FitDelayMS:  fitDelay.Milliseconds(),
	}
	if cfg.TileURL == "" {
		cfg.TileURL = layers.DefaultTileURL
	}
	for _, c := range v.Controls {
		if strings.EqualFold(c, "fullscreen") {
			cfg.FullScreen = true
		}
	}
	for _, l := range cat.ViewLayers() {
		if dc := l.Options().Normalized().DisplayCRS; !strings.EqualFold(dc, Projection) {
			logger.Warn("layer not drawn on map: display crs differs from view", "layer", l.Name, "display_crs", dc)
			continue
		}
		title := l.Title
		if title == "" {
			title = l.Name
		}
		cfg.Layers = append(cfg.Layers, PageLayer{
			Name:  l.Name,
			Title: title,
			URL:   "/overlay?layer=" + url.QueryEscape(l.Name),
		})
	}

	var buf bytes.Buffer
	if err := page.Execute(&buf, cfg); err != nil {
		return nil, fmt.Errorf("mapview: render page: %w", err)
	}
	return &Handler{cfg: cfg, html: buf.Bytes()}, nil
}

func (h *Handler) Config() Config { return h.cfg }

func (h *Handler) ServeHTTP(w http.ResponseWriter, _ *http.Request) {
	w.Header().Set("Content-Type", "text/html; charset=utf-8")
	_, _ = w.Write(h.html)
}
