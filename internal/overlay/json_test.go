package overlay

import (
	"bytes"
	"encoding/json"
	"strings"
	"testing"
	"time"

	"github.com/paulmach/orb"
)

func TestDescriptorJSON_CacheFormKeepsImageAndFit(t *testing.T) {
	ext := orb.Bound{Min: orb.Point{-70000, 4719980}, Max: orb.Point{-69980, 4720000}}
	in := Descriptor{
		Image:      Bitmap{MediaType: "image/png", Data: []byte{0x89, 'P', 'N', 'G', 0}},
		Width:      2,
		Height:     1,
		Extent:     ext,
		Opacity:    0.5,
		SourceCRS:  "identity",
		DisplayCRS: "EPSG:3857",
		Fit:        FitRequest{Extent: ext, Padding: [4]float64{50, 50, 50, 50}, Duration: time.Second},
	}
	b, err := json.Marshal(in)
	if err != nil {
		t.Fatalf("marshal: %v", err)
	}
	if !strings.Contains(string(b), `"image":"data:image/png;base64,`) || !strings.Contains(string(b), `"duration_ms":1000`) {
		t.Fatalf("unexpected wire form %s", b)
	}

	var out Descriptor
	if err := json.Unmarshal(b, &out); err != nil {
		t.Fatalf("unmarshal: %v", err)
	}
	if !bytes.Equal(out.Image.Data, in.Image.Data) || out.Image.MediaType != "image/png" {
		t.Fatalf("image lost: %+v", out.Image)
	}
	if out.Extent != ext || out.Fit != in.Fit || out.Opacity != 0.5 {
		t.Fatalf("descriptor mismatch: %+v", out)
	}
}

func TestDescriptorJSON_RejectsBadImage(t *testing.T) {
	for _, img := range []string{"", "http://x/a.png", "data:image/png,raw", "data:image/png;base64,@@"} {
		var d Descriptor
		body := `{"image":"` + img + `","extent":[0,0,1,1]}`
		if err := json.Unmarshal([]byte(body), &d); err == nil {
			t.Fatalf("expected error for image %q", img)
		}
	}
}
