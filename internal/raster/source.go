// Package raster loads GeoTIFF files into band arrays plus the bounding box
// recorded in their georeferencing tags.
package raster

import (
	"github.com/paulmach/orb"
)

// Source is a decoded GeoTIFF. Bands are kept in stored order; each band holds
// Width*Height samples in row-major order. BBox is in the raster's own CRS.
type Source struct {
	Locator       string
	Width         int
	Height        int
	Bands         [][]float64
	BBox          orb.Bound
	EPSG          int
	BitsPerSample int
}

// BandCount returns the number of bands.
func (s *Source) BandCount() int { return len(s.Bands) }

// Pixels returns Width*Height.
func (s *Source) Pixels() int { return s.Width * s.Height }
