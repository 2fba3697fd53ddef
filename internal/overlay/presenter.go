package overlay

import (
	"fmt"
	"log/slog"

	"github.com/mohammed-shakir/geotiff-overlay/internal/crs"
	"github.com/mohammed-shakir/geotiff-overlay/internal/raster"
)

// Presenter builds overlay descriptors. It holds no per-overlay state.
type Presenter struct {
	table   crs.Table
	encoder Encoder
	logger  *slog.Logger
}

// NewPresenter uses table for CRS lookups; a nil encoder means PNG.
func NewPresenter(table crs.Table, enc Encoder, logger *slog.Logger) *Presenter {
	if enc == nil {
		enc = PNGEncoder{}
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Presenter{table: table, encoder: enc, logger: logger}
}

// Present converts src into a descriptor. On error nothing is returned.
func (p *Presenter) Present(src *raster.Source, opts Options) (*Descriptor, error) {
	if src == nil {
		return nil, fmt.Errorf("present: nil raster")
	}
	opts = opts.Normalized()

	img, err := Rasterize(src)
	if err != nil {
		return nil, err
	}
	res, err := ResolveExtent(p.table, src, opts)
	if err != nil {
		return nil, err
	}
	if res.DatumShiftIgnored {
		p.logger.Warn("datum shift not applied, relying on offset",
			"source_crs", res.SourceCRS, "display_crs", opts.DisplayCRS,
			"offset_x", opts.Offset.DX, "offset_y", opts.Offset.DY)
	}
	bm, err := p.encoder.Encode(img)
	if err != nil {
		return nil, err
	}

	p.logger.Debug("overlay extent resolved",
		"locator", src.Locator,
		"source_crs", res.SourceCRS, "display_crs", opts.DisplayCRS,
		"extent", []float64{res.Extent.Min[0], res.Extent.Min[1], res.Extent.Max[0], res.Extent.Max[1]},
		"center", []float64{res.Extent.Center()[0], res.Extent.Center()[1]})

	return &Descriptor{
		Image:             bm,
		Width:             src.Width,
		Height:            src.Height,
		Extent:            res.Extent,
		Opacity:           opts.Opacity,
		SourceCRS:         res.SourceCRS,
		DisplayCRS:        opts.DisplayCRS,
		DatumShiftIgnored: res.DatumShiftIgnored,
		Fit: FitRequest{
			Extent:   res.Extent,
			Padding:  opts.FitPadding,
			Duration: opts.FitDuration,
		},
	}, nil
}
