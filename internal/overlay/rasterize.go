package overlay

import (
	"fmt"
	"image"
	"math"

	"github.com/mohammed-shakir/geotiff-overlay/internal/raster"
)

// UnsupportedBandLayoutError is returned for rasters that are neither
// single-band grayscale nor four-band RGBA.
type UnsupportedBandLayoutError struct {
	Bands int
}

func (e *UnsupportedBandLayoutError) Error() string {
	return fmt.Sprintf("unsupported band layout: %d bands (want 1 or 4)", e.Bands)
}

// Rasterize converts the source bands into an interleaved RGBA image.
// One band becomes gray with opaque alpha; four bands map 1:1 with alpha
// passed through. Samples are rounded and clamped to [0,255].
func Rasterize(src *raster.Source) (*image.NRGBA, error) {
	n := src.BandCount()
	if n != 1 && n != 4 {
		return nil, &UnsupportedBandLayoutError{Bands: n}
	}
	px := src.Pixels()
	if src.Width <= 0 || src.Height <= 0 {
		return nil, fmt.Errorf("invalid raster size %dx%d", src.Width, src.Height)
	}
	for i, b := range src.Bands {
		if len(b) != px {
			return nil, fmt.Errorf("band %d has %d samples, want %d", i, len(b), px)
		}
	}

	img := image.NewNRGBA(image.Rect(0, 0, src.Width, src.Height))
	pix := img.Pix
	if n == 1 {
		band := src.Bands[0]
		for i := 0; i < px; i++ {
			v := clampByte(band[i])
			o := i * 4
			pix[o], pix[o+1], pix[o+2], pix[o+3] = v, v, v, 255
		}
		return img, nil
	}
	r, g, b, a := src.Bands[0], src.Bands[1], src.Bands[2], src.Bands[3]
	for i := 0; i < px; i++ {
		o := i * 4
		pix[o] = clampByte(r[i])
		pix[o+1] = clampByte(g[i])
		pix[o+2] = clampByte(b[i])
		pix[o+3] = clampByte(a[i])
	}
	return img, nil
}

// clampByte rounds half to even and clamps, NaN maps to 0.
func clampByte(v float64) uint8 {
	switch {
	case math.IsNaN(v), v <= 0:
		return 0
	case v >= 255:
		return 255
	}
	return uint8(math.RoundToEven(v))
}
