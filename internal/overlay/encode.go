package overlay

import (
	"bytes"
	"encoding/base64"
	"fmt"
	"image"
	"image/png"
)

// Bitmap is an encoded image payload.
type Bitmap struct {
	MediaType string
	Data      []byte
}

// DataURI renders the bitmap as a data: URI for static-image layers.
func (b Bitmap) DataURI() string {
	return "data:" + b.MediaType + ";base64," + base64.StdEncoding.EncodeToString(b.Data)
}

// Encoder turns an RGBA image into a bitmap the host can display.
type Encoder interface {
	Encode(img *image.NRGBA) (Bitmap, error)
}

// PNGEncoder is the default Encoder.
type PNGEncoder struct {
	Level png.CompressionLevel
}

func (e PNGEncoder) Encode(img *image.NRGBA) (Bitmap, error) {
	var buf bytes.Buffer
	enc := png.Encoder{CompressionLevel: e.Level}
	if err := enc.Encode(&buf, img); err != nil {
		return Bitmap{}, fmt.Errorf("png encode: %w", err)
	}
	return Bitmap{MediaType: "image/png", Data: buf.Bytes()}, nil
}
