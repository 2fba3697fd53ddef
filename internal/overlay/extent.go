package overlay

import (
	"fmt"

	"github.com/paulmach/orb"

	"github.com/mohammed-shakir/geotiff-overlay/internal/crs"
	"github.com/mohammed-shakir/geotiff-overlay/internal/raster"
)

// Resolution is the outcome of resolving a display extent.
type Resolution struct {
	Extent            orb.Bound
	SourceCRS         string
	DatumShiftIgnored bool
}

// ResolveExtent maps the raster's native bounding box into the display CRS.
// Identity returns the box verbatim. Otherwise the two corners are
// transformed and the offset is added to both X and both Y values.
func ResolveExtent(table crs.Table, src *raster.Source, opts Options) (Resolution, error) {
	opts = opts.Normalized()
	source := opts.SourceCRS
	if source == crs.Identity {
		return Resolution{Extent: src.BBox, SourceCRS: crs.Identity}, nil
	}
	if source == crs.Auto {
		if src.EPSG == 0 {
			return Resolution{}, &crs.TransformError{
				Source: crs.Auto, Target: opts.DisplayCRS,
				Err: fmt.Errorf("%w: raster carries no EPSG geokey", crs.ErrUnknownCRS),
			}
		}
		source = fmt.Sprintf("EPSG:%d", src.EPSG)
	}

	tr, err := table.Transformer(source, opts.DisplayCRS)
	if err != nil {
		return Resolution{}, err
	}
	lo, err := tr.Transform(src.BBox.Min)
	if err != nil {
		return Resolution{}, err
	}
	hi, err := tr.Transform(src.BBox.Max)
	if err != nil {
		return Resolution{}, err
	}
	ext := orb.Bound{
		Min: orb.Point{lo[0] + opts.Offset.DX, lo[1] + opts.Offset.DY},
		Max: orb.Point{hi[0] + opts.Offset.DX, hi[1] + opts.Offset.DY},
	}

	if !opts.SkipExtentCheck {
		if err := crs.CheckExtent(tr.TargetProjection(), ext); err != nil {
			return Resolution{}, &crs.TransformError{Source: source, Target: opts.DisplayCRS, Err: err}
		}
	}
	return Resolution{Extent: ext, SourceCRS: source, DatumShiftIgnored: tr.DatumShiftIgnored()}, nil
}
