package overlay

import (
	"encoding/base64"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/paulmach/orb"
)

type fitJSON struct {
	Extent     [4]float64 `json:"extent"`
	Padding    [4]float64 `json:"padding"`
	DurationMS int64      `json:"duration_ms"`
}

type descriptorJSON struct {
	Image             string     `json:"image"`
	Width             int        `json:"width"`
	Height            int        `json:"height"`
	Extent            [4]float64 `json:"extent"`
	Opacity           float64    `json:"opacity"`
	SourceCRS         string     `json:"source_crs"`
	DisplayCRS        string     `json:"display_crs"`
	DatumShiftIgnored bool       `json:"datum_shift_ignored,omitempty"`
	Fit               fitJSON    `json:"fit"`
}

// ExtentArray returns b as minX, minY, maxX, maxY.
func ExtentArray(b orb.Bound) [4]float64 {
	return [4]float64{b.Min[0], b.Min[1], b.Max[0], b.Max[1]}
}

func boundFromArray(a [4]float64) orb.Bound {
	return orb.Bound{Min: orb.Point{a[0], a[1]}, Max: orb.Point{a[2], a[3]}}
}

// MarshalJSON writes the image as a data URI, the form static-image map
// layers accept directly.
func (d Descriptor) MarshalJSON() ([]byte, error) {
	return json.Marshal(descriptorJSON{
		Image:             d.Image.DataURI(),
		Width:             d.Width,
		Height:            d.Height,
		Extent:            ExtentArray(d.Extent),
		Opacity:           d.Opacity,
		SourceCRS:         d.SourceCRS,
		DisplayCRS:        d.DisplayCRS,
		DatumShiftIgnored: d.DatumShiftIgnored,
		Fit: fitJSON{
			Extent:     ExtentArray(d.Fit.Extent),
			Padding:    d.Fit.Padding,
			DurationMS: d.Fit.Duration.Milliseconds(),
		},
	})
}

func (d *Descriptor) UnmarshalJSON(b []byte) error {
	var j descriptorJSON
	if err := json.Unmarshal(b, &j); err != nil {
		return fmt.Errorf("descriptor: %w", err)
	}
	bm, err := parseDataURI(j.Image)
	if err != nil {
		return fmt.Errorf("descriptor image: %w", err)
	}
	*d = Descriptor{
		Image:             bm,
		Width:             j.Width,
		Height:            j.Height,
		Extent:            boundFromArray(j.Extent),
		Opacity:           j.Opacity,
		SourceCRS:         j.SourceCRS,
		DisplayCRS:        j.DisplayCRS,
		DatumShiftIgnored: j.DatumShiftIgnored,
		Fit: FitRequest{
			Extent:   boundFromArray(j.Fit.Extent),
			Padding:  j.Fit.Padding,
			Duration: time.Duration(j.Fit.DurationMS) * time.Millisecond,
		},
	}
	return nil
}

func parseDataURI(s string) (Bitmap, error) {
	rest, ok := strings.CutPrefix(s, "data:")
	if !ok {
		return Bitmap{}, errors.New("not a data uri")
	}
	meta, payload, ok := strings.Cut(rest, ",")
	if !ok {
		return Bitmap{}, errors.New("data uri without payload")
	}
	media, ok := strings.CutSuffix(meta, ";base64")
	if !ok {
		return Bitmap{}, errors.New("data uri is not base64")
	}
	data, err := base64.StdEncoding.DecodeString(payload)
	if err != nil {
		return Bitmap{}, fmt.Errorf("base64: %w", err)
	}
	return Bitmap{MediaType: media, Data: data}, nil
}
