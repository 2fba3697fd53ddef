// Package invalidation defines the events that tell overlay servers a source
// raster or layer changed.
package invalidation

import (
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/paulmach/orb/geojson"

	"github.com/mohammed-shakir/geotiff-overlay/internal/core/model"
	"github.com/mohammed-shakir/geotiff-overlay/internal/engine"
)

const (
	OpUpdate = "update"
	OpDelete = "delete"
)

// Event names what changed. At least one of Source, Layer, BBox and Geometry
// is set; BBox and Geometry exclude each other. ID, when present, lets
// consumers drop redelivered events.
type Event struct {
	Version  int             `json:"version"`
	ID       string          `json:"id,omitempty"`
	Op       string          `json:"op"`
	TS       time.Time       `json:"ts"`
	Source   string          `json:"source,omitempty"`
	Layer    string          `json:"layer,omitempty"`
	BBox     *BBox           `json:"bbox,omitempty"`
	Geometry json.RawMessage `json:"geometry,omitempty"`
}

// BBox is in SRID units; an empty SRID means EPSG:4326.
type BBox struct {
	X1   float64 `json:"x1"`
	Y1   float64 `json:"y1"`
	X2   float64 `json:"x2"`
	Y2   float64 `json:"y2"`
	SRID string  `json:"srid,omitempty"`
}

func (e Event) Validate() error {
	if e.Version != 1 {
		return errors.New("version must be 1")
	}
	switch e.Op {
	case OpUpdate, OpDelete:
	default:
		return fmt.Errorf("op must be %s|%s", OpUpdate, OpDelete)
	}
	if e.TS.IsZero() {
		return errors.New("ts is required")
	}
	hasBBox := e.BBox != nil
	hasGeom := len(e.Geometry) > 0
	if strings.TrimSpace(e.Source) == "" && strings.TrimSpace(e.Layer) == "" && !hasBBox && !hasGeom {
		return errors.New("one of source, layer, bbox or geometry is required")
	}
	if hasBBox && hasGeom {
		return errors.New("bbox and geometry are mutually exclusive")
	}
	if hasBBox {
		bb := *e.BBox
		if !(bb.X2 > bb.X1 && bb.Y2 > bb.Y1) {
			return errors.New("bbox must satisfy x2>x1 and y2>y1")
		}
		if bb.SRID == "" || strings.EqualFold(bb.SRID, "EPSG:4326") {
			if bb.X1 < -180 || bb.X2 > 180 {
				return errors.New("bbox longitude out of range")
			}
			if bb.Y1 < -90 || bb.Y2 > 90 {
				return errors.New("bbox latitude out of range")
			}
		}
	}
	if hasGeom {
		g, err := geojson.UnmarshalGeometry(e.Geometry)
		if err != nil {
			return fmt.Errorf("geometry parse: %w", err)
		}
		switch g.Type {
		case "Polygon", "MultiPolygon":
		default:
			return errors.New("geometry.type must be Polygon or MultiPolygon")
		}
	}
	return nil
}

// Area returns the spatial part of the event, or false when it has none.
func (e Event) Area() (engine.Area, bool) {
	switch {
	case e.BBox != nil:
		srid := e.BBox.SRID
		if srid == "" {
			srid = "EPSG:4326"
		}
		return engine.Area{BBox: &model.BBox{
			X1: e.BBox.X1, Y1: e.BBox.Y1, X2: e.BBox.X2, Y2: e.BBox.Y2, SRID: strings.ToUpper(srid),
		}}, true
	case len(e.Geometry) > 0:
		return engine.Area{Polygon: &model.Polygon{GeoJSON: string(e.Geometry)}}, true
	default:
		return engine.Area{}, false
	}
}
