package raster

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"image"
	"log/slog"

	"golang.org/x/image/tiff"
)

var errSeparatePlanes = errors.New("separate sample planes")

// Decoder fetches a GeoTIFF and decodes it. Each call is a single attempt.
type Decoder struct {
	fetcher Fetcher
	logger  *slog.Logger
}

func NewDecoder(f Fetcher, logger *slog.Logger) *Decoder {
	if logger == nil {
		logger = slog.Default()
	}
	return &Decoder{fetcher: f, logger: logger}
}

// Decode fetches locator and decodes it. Every failure is a *DecodeError.
func (d *Decoder) Decode(ctx context.Context, locator string) (*Source, error) {
	if d.fetcher == nil {
		return nil, decodeErr(locator, StageFetch, errors.New("no fetcher configured"))
	}
	b, err := d.fetcher.Fetch(ctx, locator)
	if err != nil {
		return nil, decodeErr(locator, StageFetch, err)
	}
	src, err := DecodeBytes(locator, b)
	if err != nil {
		return nil, err
	}
	d.logger.Debug("geotiff decoded",
		"locator", locator,
		"width", src.Width, "height", src.Height,
		"bands", src.BandCount(), "epsg", src.EPSG,
		"bbox", []float64{src.BBox.Min[0], src.BBox.Min[1], src.BBox.Max[0], src.BBox.Max[1]})
	return src, nil
}

// DecodeBytes decodes an in-memory GeoTIFF. locator is only used in errors.
func DecodeBytes(locator string, b []byte) (*Source, error) {
	tags, err := readGeoTags(bytes.NewReader(b))
	if err != nil {
		return nil, decodeErr(locator, StageParse, err)
	}

	var (
		bands [][]float64
		bits  int
		w, h  int
	)
	var img image.Image
	if tags.layout.planar == planarSeparate && tags.samplesPerPixel > 1 {
		// x/image/tiff ignores PlanarConfiguration and would read the planes as chunky
		err = errSeparatePlanes
	} else {
		img, err = tiff.Decode(bytes.NewReader(b))
	}
	if err == nil {
		r := img.Bounds()
		w, h = r.Dx(), r.Dy()
		if w <= 0 || h <= 0 {
			return nil, decodeErr(locator, StageParse, fmt.Errorf("empty image %dx%d", w, h))
		}
		if bands, bits, err = extractBands(img, tags.samplesPerPixel); err != nil {
			return nil, decodeErr(locator, StageParse, err)
		}
	} else {
		raw, rawErr := tags.layout.readRaw(b, tags.samplesPerPixel, tags.bitsPerSample)
		if rawErr != nil {
			return nil, decodeErr(locator, StageParse, fmt.Errorf("%w; raw read: %v", err, rawErr))
		}
		bands, w, h = raw, tags.layout.width, tags.layout.height
	}
	if tags.bitsPerSample > 0 {
		bits = tags.bitsPerSample
	}

	bbox, err := tags.bbox(w, h)
	if err != nil {
		return nil, decodeErr(locator, StageGeoref, err)
	}

	return &Source{
		Locator:       locator,
		Width:         w,
		Height:        h,
		Bands:         bands,
		BBox:          bbox,
		EPSG:          tags.epsg(),
		BitsPerSample: bits,
	}, nil
}

// extractBands splits the decoded image back into its stored samples. RGB
// images decode into an RGBA buffer with synthetic alpha, so spp==3 drops it.
func extractBands(img image.Image, spp int) ([][]float64, int, error) {
	r := img.Bounds()
	w, h := r.Dx(), r.Dy()
	switch m := img.(type) {
	case *image.Gray:
		return interleaved(m.Pix, m.Stride, w, h, 1, 1, 1), 8, nil
	case *image.Gray16:
		return interleaved(m.Pix, m.Stride, w, h, 1, 2, 1), 16, nil
	case *image.Paletted:
		return interleaved(m.Pix, m.Stride, w, h, 1, 1, 1), 8, nil
	case *image.RGBA:
		return interleaved(m.Pix, m.Stride, w, h, 4, 1, colorBands(spp)), 8, nil
	case *image.NRGBA:
		return interleaved(m.Pix, m.Stride, w, h, 4, 1, colorBands(spp)), 8, nil
	case *image.RGBA64:
		return interleaved(m.Pix, m.Stride, w, h, 4, 2, colorBands(spp)), 16, nil
	case *image.NRGBA64:
		return interleaved(m.Pix, m.Stride, w, h, 4, 2, colorBands(spp)), 16, nil
	case *image.CMYK:
		return interleaved(m.Pix, m.Stride, w, h, 4, 1, 4), 8, nil
	default:
		return nil, 0, fmt.Errorf("unsupported pixel layout %T", img)
	}
}

func colorBands(spp int) int {
	if spp == 3 {
		return 3
	}
	return 4
}

// interleaved reads `take` of `channels` samples per pixel, each `size` bytes
// big-endian (the layout image.Gray16/RGBA64 use).
func interleaved(pix []uint8, stride, w, h, channels, size, take int) [][]float64 {
	bands := make([][]float64, take)
	for b := range bands {
		bands[b] = make([]float64, w*h)
	}
	for y := 0; y < h; y++ {
		row := pix[y*stride:]
		for x := 0; x < w; x++ {
			px := row[x*channels*size:]
			for b := 0; b < take; b++ {
				off := b * size
				v := uint32(px[off])
				if size == 2 {
					v = v<<8 | uint32(px[off+1])
				}
				bands[b][y*w+x] = float64(v)
			}
		}
	}
	return bands
}
