package h3mapper

import (
	"errors"
	"fmt"
	"sort"

	"github.com/paulmach/orb"
	"github.com/paulmach/orb/geojson"
	h3 "github.com/uber/h3-go/v4"

	"github.com/mohammed-shakir/geotiff-overlay/internal/core/model"
)

type Mapper struct{}

func New() *Mapper { return &Mapper{} }

// CellsForBBox covers a lon/lat box. Boxes smaller than a cell still map to
// the cells under their corners and center.
func (m *Mapper) CellsForBBox(bb model.BBox, res int) (model.Cells, error) {
	if err := validateRes(res); err != nil {
		return nil, err
	}
	if bb.SRID != "" && bb.SRID != "EPSG:4326" {
		return nil, fmt.Errorf("bbox must be EPSG:4326, got %s", bb.SRID)
	}
	b := bb.Bound()
	outer := h3.GeoLoop{
		{Lat: b.Min[1], Lng: b.Min[0]},
		{Lat: b.Min[1], Lng: b.Max[0]},
		{Lat: b.Max[1], Lng: b.Max[0]},
		{Lat: b.Max[1], Lng: b.Min[0]},
	}
	cells, err := polyfillOne(outer, nil, res)
	if err != nil {
		return nil, err
	}
	return withSamples(cells, res, b.Min, orb.Point{b.Max[0], b.Min[1]}, b.Max, orb.Point{b.Min[0], b.Max[1]}, b.Center())
}

// CellsForPolygon covers a GeoJSON Polygon or MultiPolygon in lon/lat.
func (m *Mapper) CellsForPolygon(poly model.Polygon, res int) (model.Cells, error) {
	if err := validateRes(res); err != nil {
		return nil, err
	}
	g, err := geojson.UnmarshalGeometry([]byte(poly.GeoJSON))
	if err != nil {
		return nil, fmt.Errorf("parse geojson: %w", err)
	}

	var polys orb.MultiPolygon
	switch geom := g.Geometry().(type) {
	case orb.Polygon:
		polys = orb.MultiPolygon{geom}
	case orb.MultiPolygon:
		polys = geom
	default:
		return nil, fmt.Errorf("unsupported GeoJSON geometry %T", geom)
	}
	if len(polys) == 0 {
		return nil, errors.New("empty multipolygon")
	}

	seen := make(map[string]struct{})
	var out []string
	for pi, p := range polys {
		if len(p) == 0 {
			return nil, fmt.Errorf("polygon %d is empty", pi)
		}
		outer := toLoop(p[0])
		var holes []h3.GeoLoop
		for i := 1; i < len(p); i++ {
			h := toLoop(p[i])
			if len(h) < 3 {
				return nil, fmt.Errorf("polygon %d hole %d has < 3 vertices", pi, i-1)
			}
			holes = append(holes, h)
		}
		cells, err := polyfillOne(outer, holes, res)
		if err != nil {
			return nil, fmt.Errorf("polygon %d: %w", pi, err)
		}
		if len(cells) == 0 {
			cells, err = withSamples(nil, res, p.Bound().Center())
			if err != nil {
				return nil, err
			}
		}
		for _, c := range cells {
			if _, ok := seen[c]; !ok {
				seen[c] = struct{}{}
				out = append(out, c)
			}
		}
	}
	sort.Strings(out)
	return out, nil
}

// --- helpers ---

func validateRes(res int) error {
	if res < 0 || res > 15 {
		return fmt.Errorf("invalid H3 resolution %d (must be 0..15)", res)
	}
	return nil
}

// toLoop converts a ring to an h3.GeoLoop, dropping the closing vertex.
func toLoop(r orb.Ring) h3.GeoLoop {
	loop := make(h3.GeoLoop, 0, len(r))
	for _, p := range r {
		loop = append(loop, h3.LatLng{Lat: p[1], Lng: p[0]})
	}
	if r.Closed() && len(loop) >= 2 {
		loop = loop[:len(loop)-1]
	}
	return loop
}

// polyfillOne computes unique cells and returns them sorted for determinism.
func polyfillOne(outer h3.GeoLoop, holes []h3.GeoLoop, res int) (model.Cells, error) {
	if len(outer) < 3 {
		return nil, errors.New("outer ring has < 3 vertices")
	}
	poly := h3.GeoPolygon{
		GeoLoop: outer,
		Holes:   holes,
	}

	indexes, err := h3.PolygonToCells(poly, res)
	if err != nil {
		return nil, fmt.Errorf("h3 polyfill: %w", err)
	}

	out := make([]string, 0, len(indexes))
	seen := make(map[string]struct{}, len(indexes))
	for _, idx := range indexes {
		s := idx.String()
		if _, ok := seen[s]; ok {
			continue
		}
		seen[s] = struct{}{}
		out = append(out, s)
	}
	sort.Strings(out)
	return out, nil
}

// withSamples adds the cells containing pts to cells, sorted and unique.
func withSamples(cells model.Cells, res int, pts ...orb.Point) (model.Cells, error) {
	seen := make(map[string]struct{}, len(cells)+len(pts))
	out := make([]string, 0, len(cells)+len(pts))
	for _, c := range cells {
		seen[c] = struct{}{}
		out = append(out, c)
	}
	for _, p := range pts {
		c, err := h3.LatLngToCell(h3.LatLng{Lat: p[1], Lng: p[0]}, res)
		if err != nil {
			return nil, fmt.Errorf("h3 cell for %v: %w", p, err)
		}
		s := c.String()
		if _, ok := seen[s]; ok {
			continue
		}
		seen[s] = struct{}{}
		out = append(out, s)
	}
	sort.Strings(out)
	return out, nil
}
