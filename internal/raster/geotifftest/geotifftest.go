// Package geotifftest builds small uncompressed GeoTIFF files for tests.
package geotifftest

import (
	"bytes"
	"encoding/binary"
	"math"
	"sort"
)

// Spec describes the raster to build. Bands hold Width*Height samples each,
// row-major. Bits is 8 (default) or 16.
type Spec struct {
	Width, Height int
	Bands         [][]uint16
	Bits          int

	// Planar stores each band in its own strips (PlanarConfiguration=2).
	Planar bool
	// Tile, when set, writes square tiles of that size instead of strips.
	Tile int
	// ExtraSamples overrides the ExtraSamples tag; nil writes unassociated
	// alpha for 4-band rasters and nothing otherwise.
	ExtraSamples []uint16

	PixelScale     []float64 // sx, sy, sz
	Tiepoint       []float64 // i, j, k, x, y, z
	Transformation []float64 // 4x4 row-major
	EPSG           int
}

// WebMercator returns a spec for a w×h raster whose top-left corner is
// (minX,maxY) with square pixels of size px metres, in EPSG:3857.
func WebMercator(w, h int, minX, maxY, px float64, bands ...[]uint16) Spec {
	return Spec{
		Width: w, Height: h, Bands: bands,
		PixelScale: []float64{px, px, 0},
		Tiepoint:   []float64{0, 0, 0, minX, maxY, 0},
		EPSG:       3857,
	}
}

const (
	tShort  = 3
	tLong   = 4
	tDouble = 12
)

type entry struct {
	tag   uint16
	typ   uint16
	count uint32
	data  []byte
}

var le = binary.LittleEndian

func shorts(v ...uint16) []byte {
	b := make([]byte, 2*len(v))
	for i, s := range v {
		le.PutUint16(b[2*i:], s)
	}
	return b
}

func longs(v ...uint32) []byte {
	b := make([]byte, 4*len(v))
	for i, s := range v {
		le.PutUint32(b[4*i:], s)
	}
	return b
}

func doubles(v ...float64) []byte {
	b := make([]byte, 8*len(v))
	for i, f := range v {
		le.PutUint64(b[8*i:], math.Float64bits(f))
	}
	return b
}

// Build encodes s as a little-endian, uncompressed TIFF: one strip per
// plane, or tiles when s.Tile is set.
func Build(s Spec) []byte {
	bits := s.Bits
	if bits == 0 {
		bits = 8
	}
	spp := len(s.Bands)
	chunks := pixelChunks(s, bits)

	photometric := uint16(1)
	if spp >= 3 {
		photometric = 2
	}
	planar := uint16(1)
	if s.Planar {
		planar = 2
	}
	bps := make([]uint16, spp)
	for i := range bps {
		bps[i] = uint16(bits)
	}
	counts := make([]uint32, len(chunks))
	for i, c := range chunks {
		counts[i] = uint32(len(c))
	}
	offsetTag, countTag := uint16(273), uint16(279)
	if s.Tile > 0 {
		offsetTag, countTag = 324, 325
	}

	entries := []entry{
		{256, tLong, 1, longs(uint32(s.Width))},
		{257, tLong, 1, longs(uint32(s.Height))},
		{258, tShort, uint32(spp), shorts(bps...)},
		{259, tShort, 1, shorts(1)},
		{262, tShort, 1, shorts(photometric)},
		{277, tShort, 1, shorts(uint16(spp))},
		{284, tShort, 1, shorts(planar)},
		{offsetTag, tLong, uint32(len(chunks)), make([]byte, 4*len(chunks))}, // patched below
		{countTag, tLong, uint32(len(chunks)), longs(counts...)},
	}
	if s.Tile > 0 {
		entries = append(entries,
			entry{322, tLong, 1, longs(uint32(s.Tile))},
			entry{323, tLong, 1, longs(uint32(s.Tile))})
	} else {
		entries = append(entries, entry{278, tLong, 1, longs(uint32(s.Height))})
	}
	switch {
	case s.ExtraSamples != nil:
		entries = append(entries, entry{338, tShort, uint32(len(s.ExtraSamples)), shorts(s.ExtraSamples...)})
	case spp == 4:
		// unassociated alpha
		entries = append(entries, entry{338, tShort, 1, shorts(2)})
	}
	if len(s.PixelScale) > 0 {
		entries = append(entries, entry{33550, tDouble, uint32(len(s.PixelScale)), doubles(s.PixelScale...)})
	}
	if len(s.Tiepoint) > 0 {
		entries = append(entries, entry{33922, tDouble, uint32(len(s.Tiepoint)), doubles(s.Tiepoint...)})
	}
	if len(s.Transformation) > 0 {
		entries = append(entries, entry{34264, tDouble, uint32(len(s.Transformation)), doubles(s.Transformation...)})
	}
	if s.EPSG != 0 {
		keys := geoKeys(s.EPSG)
		entries = append(entries, entry{34735, tShort, uint32(len(keys)), shorts(keys...)})
	}
	sort.Slice(entries, func(i, j int) bool { return entries[i].tag < entries[j].tag })

	// out-of-line values follow the IFD, pixel chunks follow them
	ifdSize := 2 + 12*len(entries) + 4
	extraOff := 8 + ifdSize
	extraLen := 0
	for _, e := range entries {
		if len(e.data) > 4 {
			extraLen += len(e.data) + len(e.data)%2
		}
	}
	chunkOffsets := make([]uint32, len(chunks))
	next := uint32(extraOff + extraLen)
	for i, c := range chunks {
		chunkOffsets[i] = next
		next += uint32(len(c))
	}
	for i := range entries {
		if entries[i].tag == offsetTag {
			entries[i].data = longs(chunkOffsets...)
		}
	}

	var out, extra bytes.Buffer
	out.Write([]byte{'I', 'I', 42, 0})
	out.Write(longs(8))
	out.Write(shorts(uint16(len(entries))))
	for _, e := range entries {
		out.Write(shorts(e.tag, e.typ))
		out.Write(longs(e.count))
		if len(e.data) > 4 {
			out.Write(longs(uint32(extraOff + extra.Len())))
			extra.Write(e.data)
			if extra.Len()%2 == 1 {
				extra.WriteByte(0)
			}
			continue
		}
		field := make([]byte, 4)
		copy(field, e.data)
		out.Write(field)
	}
	out.Write(longs(0))
	out.Write(extra.Bytes())
	for _, c := range chunks {
		out.Write(c)
	}
	return out.Bytes()
}

// pixelChunks lays the samples out as strips or tiles, chunky or planar.
func pixelChunks(s Spec, bits int) [][]byte {
	planes := [][][]uint16{s.Bands}
	if s.Planar {
		planes = planes[:0]
		for _, b := range s.Bands {
			planes = append(planes, [][]uint16{b})
		}
	}
	cw, ch := s.Width, s.Height
	if s.Tile > 0 {
		cw, ch = s.Tile, s.Tile
	}
	var chunks [][]byte
	for _, bands := range planes {
		for y0 := 0; y0 < s.Height; y0 += ch {
			for x0 := 0; x0 < s.Width; x0 += cw {
				var c []byte
				for y := y0; y < y0+ch; y++ {
					for x := x0; x < x0+cw; x++ {
						for _, band := range bands {
							var v uint16
							if x < s.Width && y < s.Height {
								v = band[y*s.Width+x]
							}
							if bits == 16 {
								c = le.AppendUint16(c, v)
							} else {
								c = append(c, byte(v))
							}
						}
					}
				}
				chunks = append(chunks, c)
			}
		}
	}
	return chunks
}

func geoKeys(epsg int) []uint16 {
	model, key := uint16(1), uint16(3072)
	if epsg == 4326 || epsg == 4258 || epsg == 4269 {
		model, key = 2, 2048
	}
	return []uint16{
		1, 1, 0, 3,
		1024, 0, 1, model,
		1025, 0, 1, 1,
		key, 0, 1, uint16(epsg),
	}
}
