package raster

import (
	"encoding/binary"
	"fmt"
)

// pixelLayout locates the stored pixel chunks of the first IFD. It backs the
// reads x/image/tiff refuses: chunky RGBA whose alpha is tagged as
// unspecified (ExtraSamples=0) and band-sequential PlanarConfiguration=2.
type pixelLayout struct {
	width, height         int
	compression           int
	planar                int
	rowsPerStrip          int
	tileWidth, tileLength int
	offsets, byteCounts   []uint64
	order                 binary.ByteOrder
}

const (
	compressionNone = 1
	planarSeparate  = 2
)

// readRaw decodes uncompressed strips or tiles straight from b into one
// slice per band.
func (l pixelLayout) readRaw(b []byte, spp, bits int) ([][]float64, error) {
	w, h := l.width, l.height
	switch {
	case w <= 0 || h <= 0:
		return nil, fmt.Errorf("empty image %dx%d", w, h)
	case l.compression != 0 && l.compression != compressionNone:
		return nil, fmt.Errorf("compression %d not supported for this layout", l.compression)
	case bits != 8 && bits != 16:
		return nil, fmt.Errorf("%d bits per sample not supported for this layout", bits)
	case spp <= 0:
		return nil, fmt.Errorf("samples per pixel %d", spp)
	case l.order == nil:
		return nil, fmt.Errorf("missing BitsPerSample")
	}

	// a strip is a tile as wide as the image
	cw, ch := w, l.rowsPerStrip
	if l.tileWidth > 0 {
		cw, ch = l.tileWidth, l.tileLength
	}
	if l.tileWidth == 0 && (ch <= 0 || ch > h) {
		ch = h
	}
	if cw <= 0 || ch <= 0 {
		return nil, fmt.Errorf("tile size %dx%d", cw, ch)
	}
	across := (w + cw - 1) / cw
	down := (h + ch - 1) / ch
	perPlane := across * down

	planes, step := 1, spp
	if l.planar == planarSeparate && spp > 1 {
		planes, step = spp, 1
	}
	if len(l.offsets) < perPlane*planes || len(l.byteCounts) < perPlane*planes {
		return nil, fmt.Errorf("have %d chunk offsets and %d byte counts, need %d",
			len(l.offsets), len(l.byteCounts), perPlane*planes)
	}

	size := bits / 8
	bands := make([][]float64, spp)
	for i := range bands {
		bands[i] = make([]float64, w*h)
	}

	for p := 0; p < planes; p++ {
		for c := 0; c < perPlane; c++ {
			k := p*perPlane + c
			off, n := l.offsets[k], l.byteCounts[k]
			if off+n > uint64(len(b)) || off+n < off {
				return nil, fmt.Errorf("chunk %d at %d+%d past end of file (%d bytes)", k, off, n, len(b))
			}
			data := b[off : off+n]
			x0, y0 := (c%across)*cw, (c/across)*ch
			for r := 0; r < ch && y0+r < h; r++ {
				for col := 0; col < cw && x0+col < w; col++ {
					base := (r*cw + col) * step * size
					if base+step*size > len(data) {
						return nil, fmt.Errorf("chunk %d truncated at row %d", k, r)
					}
					dst := (y0+r)*w + x0 + col
					for s := 0; s < step; s++ {
						pos := base + s*size
						v := uint32(data[pos])
						if size == 2 {
							v = uint32(l.order.Uint16(data[pos:]))
						}
						bands[p+s][dst] = float64(v)
					}
				}
			}
		}
	}
	return bands, nil
}
