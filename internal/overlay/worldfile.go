package overlay

import (
	"bytes"
	"errors"
	"fmt"
)

// WorldFile returns the six-line world file that georeferences the
// descriptor's bitmap in its display CRS. The origin is the center of the
// top-left pixel.
func WorldFile(d *Descriptor) ([]byte, error) {
	if d.Width <= 0 || d.Height <= 0 {
		return nil, errors.New("world file: empty image")
	}
	px := (d.Extent.Max[0] - d.Extent.Min[0]) / float64(d.Width)
	py := (d.Extent.Max[1] - d.Extent.Min[1]) / float64(d.Height)

	var buf bytes.Buffer
	for _, v := range []float64{px, 0, 0, -py, d.Extent.Min[0] + px/2, d.Extent.Max[1] - py/2} {
		fmt.Fprintf(&buf, "%24.10f\n", v)
	}
	return buf.Bytes(), nil
}
