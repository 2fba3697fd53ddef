// Package engine renders catalog or ad-hoc overlays: fetch and decode the
// GeoTIFF, present it, cache the encoded descriptor and record the layer's
// footprint in the coverage index.
package engine

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/paulmach/orb"

	"github.com/mohammed-shakir/geotiff-overlay/internal/cache"
	"github.com/mohammed-shakir/geotiff-overlay/internal/cache/cellindex"
	"github.com/mohammed-shakir/geotiff-overlay/internal/cache/keys"
	"github.com/mohammed-shakir/geotiff-overlay/internal/core/model"
	obs "github.com/mohammed-shakir/geotiff-overlay/internal/core/observability"
	"github.com/mohammed-shakir/geotiff-overlay/internal/crs"
	"github.com/mohammed-shakir/geotiff-overlay/internal/layers"
	"github.com/mohammed-shakir/geotiff-overlay/internal/logger"
	"github.com/mohammed-shakir/geotiff-overlay/internal/mapper"
	"github.com/mohammed-shakir/geotiff-overlay/internal/overlay"
	"github.com/mohammed-shakir/geotiff-overlay/internal/raster"
)

// ErrUnknownLayer is returned for a layer name missing from the catalog.
var ErrUnknownLayer = errors.New("unknown layer")

// Decoder is satisfied by *raster.Decoder.
type Decoder interface {
	Decode(ctx context.Context, locator string) (*raster.Source, error)
}

type Config struct {
	H3Res    int
	H3ResMin int
	// MaxQueryCells bounds the cells looked up per coverage query; larger
	// areas are answered at a coarser resolution.
	MaxQueryCells int
	// AdHoc gates requests that name a source instead of a layer.
	AdHoc SourcePolicy
}

type Engine struct {
	cfg       Config
	logger    *slog.Logger
	catalog   *layers.Catalog
	table     crs.Table
	decoder   Decoder
	presenter *overlay.Presenter
	store     cache.Interface
	index     cellindex.Index
	mapr      mapper.Interface
}

type Deps struct {
	Catalog *layers.Catalog
	Decoder Decoder
	Encoder overlay.Encoder
	Store   cache.Interface
	Index   cellindex.Index
	Mapper  mapper.Interface
	Logger  *slog.Logger
}

func New(cfg Config, d Deps) (*Engine, error) {
	if d.Catalog == nil || d.Decoder == nil || d.Store == nil || d.Index == nil || d.Mapper == nil {
		return nil, errors.New("engine: catalog, decoder, store, index and mapper are required")
	}
	if cfg.H3Res <= 0 {
		cfg.H3Res = 7
	}
	if cfg.H3ResMin < 0 || cfg.H3ResMin > cfg.H3Res {
		cfg.H3ResMin = cfg.H3Res
	}
	if cfg.MaxQueryCells <= 0 {
		cfg.MaxQueryCells = 2000
	}
	if d.Logger == nil {
		d.Logger = slog.Default()
	}
	table := d.Catalog.Table()
	return &Engine{
		cfg:       cfg,
		logger:    d.Logger,
		catalog:   d.Catalog,
		table:     table,
		decoder:   d.Decoder,
		presenter: overlay.NewPresenter(table, d.Encoder, d.Logger),
		store:     d.Store,
		index:     d.Index,
		mapr:      d.Mapper,
	}, nil
}

func (e *Engine) Catalog() *layers.Catalog { return e.catalog }

// Request names what to render. Layer is empty for ad-hoc sources.
type Request struct {
	Layer   string
	Source  string
	Options overlay.Options
}

// LayerRequest resolves a catalog layer into a render request.
func (e *Engine) LayerRequest(name string) (Request, error) {
	l, ok := e.catalog.Get(name)
	if !ok {
		return Request{}, fmt.Errorf("%w: %q", ErrUnknownLayer, name)
	}
	return Request{Layer: l.Name, Source: l.Source, Options: l.Options()}, nil
}

type Result struct {
	Descriptor *overlay.Descriptor
	Key        string
	Cached     bool
}

// Render returns the overlay for req, from cache when possible.
func (e *Engine) Render(ctx context.Context, req Request) (*Result, error) {
	if req.Layer == "" && !e.cfg.AdHoc.Permits(req.Source) {
		return nil, fmt.Errorf("%w: %q", ErrSourceNotAllowed, req.Source)
	}
	ctx = logger.WithLayer(logger.WithSource(ctx, req.Source), req.Layer)
	req.Options = req.Options.Normalized()
	key := keys.Overlay(req.Layer, req.Source, paramsKey(req.Options))

	if b, ok := e.store.Get(ctx, key); ok {
		var d overlay.Descriptor
		if err := json.Unmarshal(b, &d); err == nil {
			return &Result{Descriptor: &d, Key: key, Cached: true}, nil
		}
		e.logger.WarnContext(ctx, "discarding unreadable cache entry", "key", key)
	}

	start := time.Now()
	src, err := e.decoder.Decode(ctx, req.Source)
	obs.ObserveStage("decode", time.Since(start))
	if err != nil {
		obs.IncOverlayError(ErrorKind(err))
		return nil, err
	}
	e.logger.InfoContext(ctx, "raster decoded",
		"width", src.Width, "height", src.Height, "bands", src.BandCount(),
		"bbox", overlay.ExtentArray(src.BBox), "epsg", src.EPSG)
	obs.ObservePixels(src.Pixels())

	start = time.Now()
	d, err := e.presenter.Present(src, req.Options)
	obs.ObserveStage("present", time.Since(start))
	if err != nil {
		obs.IncOverlayError(ErrorKind(err))
		return nil, err
	}
	c := d.Extent.Center()
	e.logger.InfoContext(ctx, "overlay extent",
		"extent", overlay.ExtentArray(d.Extent), "center", []float64{c[0], c[1]},
		"display_crs", d.DisplayCRS)

	if b, err := json.Marshal(d); err != nil {
		e.logger.WarnContext(ctx, "encode cache entry", "err", err)
	} else if err := e.store.Put(ctx, key, cache.Tags{Layer: req.Layer, Source: req.Source}, b); err != nil {
		e.logger.WarnContext(ctx, "cache put failed", "key", key, "err", err)
	}

	if req.Layer != "" {
		if err := e.indexExtent(ctx, req.Layer, d); err != nil {
			e.logger.WarnContext(ctx, "coverage index update failed", "err", err)
		}
	}
	return &Result{Descriptor: d, Key: key}, nil
}

// Warm renders every catalog layer so the cache and coverage index start
// populated. Failures are logged and counted, not returned.
func (e *Engine) Warm(ctx context.Context) (ok, failed int) {
	for _, name := range e.catalog.Names() {
		req, _ := e.LayerRequest(name)
		if _, err := e.Render(ctx, req); err != nil {
			e.logger.WarnContext(ctx, "warm layer failed", "layer", name, "err", err)
			failed++
			continue
		}
		ok++
	}
	return ok, failed
}

func (e *Engine) indexExtent(ctx context.Context, layer string, d *overlay.Descriptor) error {
	ll, err := e.toLonLat(d.DisplayCRS, d.Extent)
	if err != nil {
		return err
	}
	cells, err := e.mapr.CellsForBBox(model.BBoxFromBound(ll, crs.EPSG4326), e.cfg.H3Res)
	if err != nil {
		return fmt.Errorf("cells for %s: %w", layer, err)
	}
	all, err := e.mapr.Ancestors(cells, e.cfg.H3ResMin)
	if err != nil {
		return fmt.Errorf("ancestors for %s: %w", layer, err)
	}
	if err := e.index.Put(ctx, layer, all); err != nil {
		return fmt.Errorf("index %s: %w", layer, err)
	}
	return nil
}

// Area is a region in any CRS the catalog table resolves; exactly one of
// BBox and Polygon is set. Polygons are GeoJSON in lon/lat.
type Area struct {
	BBox    *model.BBox
	Polygon *model.Polygon
}

func (a Area) String() string {
	switch {
	case a.BBox != nil:
		return a.BBox.String()
	case a.Polygon != nil:
		return "polygon"
	default:
		return "empty"
	}
}

// LayersIn returns the catalog layers whose indexed footprint touches area.
// Only layers rendered at least once are indexed.
func (e *Engine) LayersIn(ctx context.Context, area Area) ([]string, error) {
	cells, err := e.queryCells(area)
	if err != nil {
		return nil, err
	}
	out, err := e.index.Layers(ctx, cells)
	if err != nil {
		return nil, fmt.Errorf("coverage lookup: %w", err)
	}
	return out, nil
}

// queryCells maps area at the finest resolution whose cell count stays under
// MaxQueryCells. Layers are indexed with their ancestors, so a coarse
// lookup still matches.
func (e *Engine) queryCells(area Area) (model.Cells, error) {
	cellsAt := func(res int) (model.Cells, error) {
		switch {
		case area.Polygon != nil:
			return e.mapr.CellsForPolygon(*area.Polygon, res)
		case area.BBox != nil:
			bb := *area.BBox
			if bb.SRID != "" && !strings.EqualFold(bb.SRID, crs.EPSG4326) {
				ll, err := e.toLonLat(bb.SRID, bb.Bound())
				if err != nil {
					return nil, err
				}
				bb = model.BBoxFromBound(ll, crs.EPSG4326)
			}
			bb.SRID = crs.EPSG4326
			return e.mapr.CellsForBBox(bb, res)
		default:
			return nil, errors.New("area needs a bbox or a polygon")
		}
	}

	var best model.Cells
	for res := e.cfg.H3ResMin; res <= e.cfg.H3Res; res++ {
		cells, err := cellsAt(res)
		if err != nil {
			return nil, fmt.Errorf("h3 cells: %w", err)
		}
		if best != nil && len(cells) > e.cfg.MaxQueryCells {
			break
		}
		best = cells
	}
	return best, nil
}

func (e *Engine) toLonLat(from string, b orb.Bound) (orb.Bound, error) {
	if strings.EqualFold(from, crs.EPSG4326) {
		return b, nil
	}
	tr, err := e.table.Transformer(from, crs.EPSG4326)
	if err != nil {
		return orb.Bound{}, err
	}
	lo, err := tr.Transform(b.Min)
	if err != nil {
		return orb.Bound{}, err
	}
	hi, err := tr.Transform(b.Max)
	if err != nil {
		return orb.Bound{}, err
	}
	return orb.Bound{Min: lo, Max: lo}.Extend(hi), nil
}

// EvictSource drops cached overlays rendered from source and unindexes the
// catalog layers built on it; they are indexed again on their next render.
func (e *Engine) EvictSource(ctx context.Context, source string) (int, error) {
	n, err := e.store.EvictSource(ctx, source)
	var errs []error
	if err != nil {
		errs = append(errs, err)
	}
	for _, l := range e.catalog.BySource(source) {
		if err := e.index.Remove(ctx, l.Name); err != nil {
			errs = append(errs, err)
		}
	}
	return n, errors.Join(errs...)
}

func (e *Engine) EvictLayer(ctx context.Context, layer string) (int, error) {
	n, err := e.store.EvictLayer(ctx, layer)
	var errs []error
	if err != nil {
		errs = append(errs, err)
	}
	if err := e.index.Remove(ctx, layer); err != nil {
		errs = append(errs, err)
	}
	return n, errors.Join(errs...)
}

// EvictArea evicts every indexed layer touching area.
func (e *Engine) EvictArea(ctx context.Context, area Area) (int, error) {
	names, err := e.LayersIn(ctx, area)
	if err != nil {
		return 0, err
	}
	e.logger.DebugContext(ctx, "area eviction", "area", area.String(), "layers", names)
	total := 0
	var errs []error
	for _, name := range names {
		n, err := e.EvictLayer(ctx, name)
		total += n
		if err != nil {
			errs = append(errs, err)
		}
	}
	return total, errors.Join(errs...)
}

// paramsKey is the part of the cache key that varies with presentation.
func paramsKey(o overlay.Options) string {
	return fmt.Sprintf("src_crs=%s dst_crs=%s dx=%g dy=%g opacity=%g skip=%t pad=%g,%g,%g,%g fit=%d",
		o.SourceCRS, o.DisplayCRS, o.Offset.DX, o.Offset.DY, o.Opacity, o.SkipExtentCheck,
		o.FitPadding[0], o.FitPadding[1], o.FitPadding[2], o.FitPadding[3], o.FitDuration.Milliseconds())
}

// ErrorKind classifies a render error for metrics and status mapping.
func ErrorKind(err error) string {
	var de *raster.DecodeError
	var be *overlay.UnsupportedBandLayoutError
	var te *crs.TransformError
	switch {
	case errors.As(err, &de):
		return string(de.Stage)
	case errors.As(err, &be):
		return "band_layout"
	case errors.As(err, &te):
		return "transform"
	case errors.Is(err, ErrUnknownLayer):
		return "unknown_layer"
	case errors.Is(err, ErrSourceNotAllowed):
		return "forbidden_source"
	case errors.Is(err, context.Canceled), errors.Is(err, context.DeadlineExceeded):
		return "canceled"
	default:
		return "internal"
	}
}
