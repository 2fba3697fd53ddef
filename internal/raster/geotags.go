package raster

import (
	"encoding/binary"
	"fmt"
	"io"
	"math"

	"github.com/google/tiff"
	"github.com/paulmach/orb"
)

// TIFF and GeoTIFF tag numbers.
const (
	tagImageWidth          = 256
	tagImageLength         = 257
	tagBitsPerSample       = 258
	tagCompression         = 259
	tagStripOffsets        = 273
	tagSamplesPerPixel     = 277
	tagRowsPerStrip        = 278
	tagStripByteCounts     = 279
	tagPlanarConfiguration = 284
	tagTileWidth           = 322
	tagTileLength          = 323
	tagTileOffsets         = 324
	tagTileByteCounts      = 325
	tagModelPixelScale     = 33550
	tagModelTiepoint       = 33922
	tagModelTransformation = 34264
	tagGeoKeyDirectory     = 34735
)

// GeoKey ids.
const (
	keyGeographicType  = 2048
	keyProjectedCSType = 3072
	userDefined        = 32767
)

type geoTags struct {
	samplesPerPixel int
	bitsPerSample   int
	pixelScale      []float64
	tiepoint        []float64
	transformation  []float64
	geoKeys         []uint16
	layout          pixelLayout
}

type readAtSeeker interface {
	io.ReaderAt
	io.ReadSeeker
}

// readGeoTags reads the first IFD's layout and georeferencing tags.
func readGeoTags(r readAtSeeker) (geoTags, error) {
	t, err := tiff.Parse(r, nil, nil)
	if err != nil {
		return geoTags{}, fmt.Errorf("parse tiff structure: %w", err)
	}
	ifds := t.IFDs()
	if len(ifds) == 0 {
		return geoTags{}, fmt.Errorf("tiff has no image directory")
	}
	ifd := ifds[0]

	var g geoTags
	field := func(tag uint16) (binary.ByteOrder, []byte, bool) {
		if !ifd.HasField(tag) {
			return nil, nil, false
		}
		v := ifd.GetField(tag).Value()
		return v.Order(), v.Bytes(), true
	}

	if order, b, ok := field(tagSamplesPerPixel); ok {
		if s := shorts(order, b); len(s) > 0 {
			g.samplesPerPixel = int(s[0])
		}
	}
	if order, b, ok := field(tagBitsPerSample); ok {
		if s := shorts(order, b); len(s) > 0 {
			g.bitsPerSample = int(s[0])
		}
	}
	g.layout = readLayout(ifd)
	if order, b, ok := field(tagModelPixelScale); ok {
		g.pixelScale = doubles(order, b)
	}
	if order, b, ok := field(tagModelTiepoint); ok {
		g.tiepoint = doubles(order, b)
	}
	if order, b, ok := field(tagModelTransformation); ok {
		g.transformation = doubles(order, b)
	}
	if order, b, ok := field(tagGeoKeyDirectory); ok {
		g.geoKeys = shorts(order, b)
	}
	return g, nil
}

// bbox follows the usual GeoTIFF reading: origin from the tiepoint, pixel
// size from the scale (y grows downward), or the affine transformation when
// present. Rotation terms are honoured by bounding all four corners.
func (g geoTags) bbox(width, height int) (orb.Bound, error) {
	w, h := float64(width), float64(height)
	if len(g.transformation) >= 16 {
		m := g.transformation
		at := func(i, j float64) orb.Point {
			return orb.Point{m[0]*i + m[1]*j + m[3], m[4]*i + m[5]*j + m[7]}
		}
		b := orb.MultiPoint{at(0, 0), at(w, 0), at(0, h), at(w, h)}.Bound()
		return b, finite(b)
	}
	if len(g.tiepoint) >= 6 && len(g.pixelScale) >= 2 {
		sx, sy := g.pixelScale[0], g.pixelScale[1]
		x1 := g.tiepoint[3] - g.tiepoint[0]*sx
		y1 := g.tiepoint[4] + g.tiepoint[1]*sy
		x2 := x1 + sx*w
		y2 := y1 - sy*h
		b := orb.Bound{
			Min: orb.Point{math.Min(x1, x2), math.Min(y1, y2)},
			Max: orb.Point{math.Max(x1, x2), math.Max(y1, y2)},
		}
		return b, finite(b)
	}
	return orb.Bound{}, ErrNoGeoreference
}

// epsg returns the projected or geographic CRS code, 0 when absent or user defined.
func (g geoTags) epsg() int {
	k := g.geoKeys
	if len(k) < 4 {
		return 0
	}
	n := int(k[3])
	var geographic int
	for i := 0; i < n && 4+i*4+3 < len(k); i++ {
		e := k[4+i*4 : 4+i*4+4]
		if e[1] != 0 || e[2] != 1 {
			continue
		}
		switch e[0] {
		case keyProjectedCSType:
			if e[3] != userDefined {
				return int(e[3])
			}
		case keyGeographicType:
			if e[3] != userDefined {
				geographic = int(e[3])
			}
		}
	}
	return geographic
}

func finite(b orb.Bound) error {
	for _, v := range []float64{b.Min[0], b.Min[1], b.Max[0], b.Max[1]} {
		if math.IsNaN(v) || math.IsInf(v, 0) {
			return fmt.Errorf("non-finite bounding box %v", b)
		}
	}
	return nil
}

// readLayout collects where the pixel chunks live.
func readLayout(ifd tiff.IFD) pixelLayout {
	first := func(tag uint16) int {
		if v := uints(ifd, tag); len(v) > 0 {
			return int(v[0])
		}
		return 0
	}
	l := pixelLayout{
		width:        first(tagImageWidth),
		height:       first(tagImageLength),
		compression:  first(tagCompression),
		planar:       first(tagPlanarConfiguration),
		rowsPerStrip: first(tagRowsPerStrip),
		tileWidth:    first(tagTileWidth),
		tileLength:   first(tagTileLength),
		offsets:      uints(ifd, tagStripOffsets),
		byteCounts:   uints(ifd, tagStripByteCounts),
	}
	if l.tileWidth > 0 {
		l.offsets = uints(ifd, tagTileOffsets)
		l.byteCounts = uints(ifd, tagTileByteCounts)
	}
	if ifd.HasField(tagBitsPerSample) {
		l.order = ifd.GetField(tagBitsPerSample).Value().Order()
	}
	return l
}

// uints reads an unsigned BYTE, SHORT, LONG or LONG8 field of any count.
func uints(ifd tiff.IFD, tag uint16) []uint64 {
	if !ifd.HasField(tag) {
		return nil
	}
	f := ifd.GetField(tag)
	v := f.Value()
	b, order := v.Bytes(), v.Order()
	size := int(f.Type().Size())
	if size == 0 {
		return nil
	}
	out := make([]uint64, 0, len(b)/size)
	for i := 0; i+size <= len(b); i += size {
		switch size {
		case 1:
			out = append(out, uint64(b[i]))
		case 2:
			out = append(out, uint64(order.Uint16(b[i:])))
		case 4:
			out = append(out, uint64(order.Uint32(b[i:])))
		case 8:
			out = append(out, order.Uint64(b[i:]))
		default:
			return nil
		}
	}
	return out
}

func shorts(order binary.ByteOrder, b []byte) []uint16 {
	out := make([]uint16, len(b)/2)
	for i := range out {
		out[i] = order.Uint16(b[i*2:])
	}
	return out
}

func doubles(order binary.ByteOrder, b []byte) []float64 {
	out := make([]float64, len(b)/8)
	for i := range out {
		out[i] = math.Float64frombits(order.Uint64(b[i*8:]))
	}
	return out
}
