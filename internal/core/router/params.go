package router

import (
	"errors"
	"fmt"
	"math"
	"net/http"
	"strconv"
	"strings"

	"github.com/paulmach/orb/geojson"

	"github.com/mohammed-shakir/geotiff-overlay/internal/core/model"
	"github.com/mohammed-shakir/geotiff-overlay/internal/crs"
	"github.com/mohammed-shakir/geotiff-overlay/internal/engine"
	"github.com/mohammed-shakir/geotiff-overlay/internal/overlay"
)

// OverlayQuery is a parsed /overlay request: a catalog layer or an ad-hoc
// source with its presentation options.
type OverlayQuery struct {
	Layer   string
	Source  string
	Options overlay.Options
}

func ParseOverlayQuery(r *http.Request) (OverlayQuery, error) {
	q := r.URL.Query()
	layer := strings.TrimSpace(q.Get("layer"))
	src := strings.TrimSpace(q.Get("src"))
	switch {
	case layer != "" && src != "":
		return OverlayQuery{}, errors.New("layer and src are mutually exclusive")
	case layer != "":
		return OverlayQuery{Layer: layer}, nil
	case src == "":
		return OverlayQuery{}, errors.New("missing required parameter: layer or src")
	}

	opts := overlay.DefaultOptions()
	if v := strings.TrimSpace(q.Get("crs")); v != "" {
		opts.SourceCRS = v
	}
	if v := strings.TrimSpace(q.Get("display_crs")); v != "" {
		opts.DisplayCRS = v
	}
	var err error
	if opts.Offset.DX, err = floatParam(q.Get("dx"), 0); err != nil {
		return OverlayQuery{}, fmt.Errorf("dx: %w", err)
	}
	if opts.Offset.DY, err = floatParam(q.Get("dy"), 0); err != nil {
		return OverlayQuery{}, fmt.Errorf("dy: %w", err)
	}
	if opts.Opacity, err = floatParam(q.Get("opacity"), overlay.DefaultOpacity); err != nil {
		return OverlayQuery{}, fmt.Errorf("opacity: %w", err)
	}
	if opts.Opacity < 0 || opts.Opacity > 1 {
		return OverlayQuery{}, errors.New("opacity must be in [0,1]")
	}
	if v := q.Get("skip_extent_check"); v != "" {
		if opts.SkipExtentCheck, err = strconv.ParseBool(v); err != nil {
			return OverlayQuery{}, fmt.Errorf("skip_extent_check: %w", err)
		}
	}
	return OverlayQuery{Source: src, Options: opts}, nil
}

// ParseArea reads bbox=x1,y1,x2,y2[,srid] or polygon=<GeoJSON>. ok is false
// when neither is given.
func ParseArea(r *http.Request) (area engine.Area, warn string, ok bool, err error) {
	rawBBox := strings.TrimSpace(r.URL.Query().Get("bbox"))
	rawPoly := strings.TrimSpace(r.URL.Query().Get("polygon"))

	// polygon wins
	if rawBBox != "" && rawPoly != "" {
		warn = "both bbox and polygon supplied; preferring polygon"
		rawBBox = ""
	}
	switch {
	case rawPoly != "":
		p, err := parsePolygon(rawPoly)
		if err != nil {
			return engine.Area{}, warn, false, fmt.Errorf("invalid polygon: %w", err)
		}
		return engine.Area{Polygon: &p}, warn, true, nil
	case rawBBox != "":
		bb, err := parseBBOX(rawBBox)
		if err != nil {
			return engine.Area{}, warn, false, fmt.Errorf("invalid bbox: %w", err)
		}
		return engine.Area{BBox: &bb}, warn, true, nil
	default:
		return engine.Area{}, warn, false, nil
	}
}

func parseBBOX(raw string) (model.BBox, error) {
	bb, err := model.ParseBBox(raw)
	if err != nil {
		return model.BBox{}, err
	}
	if bb.SRID == crs.EPSG4326 {
		if bb.X1 < -180 || bb.X2 > 180 {
			return model.BBox{}, errors.New("longitude must be in [-180,180]")
		}
		if bb.Y1 < -90 || bb.Y2 > 90 {
			return model.BBox{}, errors.New("latitude must be in [-90,90]")
		}
	}
	return bb, nil
}

func parsePolygon(raw string) (model.Polygon, error) {
	g, err := geojson.UnmarshalGeometry([]byte(raw))
	if err != nil {
		return model.Polygon{}, fmt.Errorf("parse geojson: %w", err)
	}
	switch g.Type {
	case "Polygon", "MultiPolygon":
		return model.Polygon{GeoJSON: raw}, nil
	default:
		return model.Polygon{}, fmt.Errorf(`unsupported GeoJSON "type": %q (must be Polygon or MultiPolygon)`, g.Type)
	}
}

func floatParam(v string, def float64) (float64, error) {
	v = strings.TrimSpace(v)
	if v == "" {
		return def, nil
	}
	f, err := strconv.ParseFloat(v, 64)
	if err != nil {
		return 0, fmt.Errorf("parse float: %w", err)
	}
	if math.IsNaN(f) || math.IsInf(f, 0) {
		return 0, fmt.Errorf("not a finite number: %q", v)
	}
	return f, nil
}
