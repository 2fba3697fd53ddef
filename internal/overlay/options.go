// Package overlay turns decoded rasters into geo-anchored image overlays for a
// map host: RGBA conversion, display extent resolution, bitmap encoding and
// the view-fit request.
package overlay

import (
	"math"
	"time"

	"github.com/paulmach/orb"

	"github.com/mohammed-shakir/geotiff-overlay/internal/crs"
)

const (
	DefaultOpacity     = 0.5
	DefaultFitPadding  = 50
	DefaultFitDuration = time.Second
)

// Offset is an additive correction applied to a transformed extent, in
// display CRS units. It compensates for systematic error such as an ignored
// datum shift; the right values depend on the raster they were tuned for.
type Offset struct {
	DX float64 `json:"dx"`
	DY float64 `json:"dy"`
}

// Options parameterize a single Present call. Start from DefaultOptions.
type Options struct {
	// SourceCRS is crs.Identity, crs.Auto, a table name, a builtin EPSG code
	// or a literal proj string.
	SourceCRS  string
	DisplayCRS string
	Offset     Offset
	Opacity    float64

	SkipExtentCheck bool

	FitPadding  [4]float64
	FitDuration time.Duration
}

func DefaultOptions() Options {
	return Options{
		SourceCRS:   crs.Identity,
		DisplayCRS:  crs.EPSG3857,
		Opacity:     DefaultOpacity,
		FitPadding:  [4]float64{DefaultFitPadding, DefaultFitPadding, DefaultFitPadding, DefaultFitPadding},
		FitDuration: DefaultFitDuration,
	}
}

// Normalized fills defaults and clamps opacity.
func (o Options) Normalized() Options {
	if o.SourceCRS == "" {
		o.SourceCRS = crs.Identity
	}
	if o.DisplayCRS == "" {
		o.DisplayCRS = crs.EPSG3857
	}
	switch {
	case math.IsNaN(o.Opacity):
		o.Opacity = DefaultOpacity
	case o.Opacity < 0:
		o.Opacity = 0
	case o.Opacity > 1:
		o.Opacity = 1
	}
	if o.FitDuration < 0 {
		o.FitDuration = 0
	}
	return o
}

// FitRequest asks the host to frame Extent with the given padding
// (top, right, bottom, left) and transition duration.
type FitRequest struct {
	Extent   orb.Bound
	Padding  [4]float64
	Duration time.Duration
}

// Descriptor is the overlay handed to the map host.
type Descriptor struct {
	Image      Bitmap
	Width      int
	Height     int
	Extent     orb.Bound
	Opacity    float64
	SourceCRS  string
	DisplayCRS string
	Fit        FitRequest

	// DatumShiftIgnored mirrors the transform: a requested datum shift was
	// not applied and Offset is the only correction.
	DatumShiftIgnored bool
}
