// Package model defines core domain types shared across the service.
package model

import (
	"errors"
	"fmt"
	"math"
	"strconv"
	"strings"

	"github.com/paulmach/orb"
)

type BBox struct {
	X1, Y1 float64
	X2, Y2 float64
	SRID   string
}

// String representation matching the bbox query parameter format
func (b BBox) String() string {
	return fmt.Sprintf("%.6f,%.6f,%.6f,%.6f,%s", b.X1, b.Y1, b.X2, b.Y2, b.SRID)
}

func (b BBox) Bound() orb.Bound {
	return orb.Bound{
		Min: orb.Point{math.Min(b.X1, b.X2), math.Min(b.Y1, b.Y2)},
		Max: orb.Point{math.Max(b.X1, b.X2), math.Max(b.Y1, b.Y2)},
	}
}

func BBoxFromBound(b orb.Bound, srid string) BBox {
	return BBox{X1: b.Min[0], Y1: b.Min[1], X2: b.Max[0], Y2: b.Max[1], SRID: srid}
}

// ParseBBox reads "x1,y1,x2,y2[,srid]"; srid defaults to EPSG:4326.
func ParseBBox(s string) (BBox, error) {
	parts := strings.Split(s, ",")
	if len(parts) != 4 && len(parts) != 5 {
		return BBox{}, errors.New("bbox must be x1,y1,x2,y2[,srid]")
	}
	var v [4]float64
	for i := 0; i < 4; i++ {
		f, err := strconv.ParseFloat(strings.TrimSpace(parts[i]), 64)
		if err != nil || math.IsNaN(f) || math.IsInf(f, 0) {
			return BBox{}, fmt.Errorf("bbox value %d: invalid number %q", i, parts[i])
		}
		v[i] = f
	}
	srid := "EPSG:4326"
	if len(parts) == 5 && strings.TrimSpace(parts[4]) != "" {
		srid = strings.ToUpper(strings.TrimSpace(parts[4]))
	}
	if v[0] >= v[2] || v[1] >= v[3] {
		return BBox{}, errors.New("bbox must have x1<x2 and y1<y2")
	}
	return BBox{X1: v[0], Y1: v[1], X2: v[2], Y2: v[3], SRID: srid}, nil
}

type Polygon struct {
	GeoJSON string
}

type Cells []string
