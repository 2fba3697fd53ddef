package overlay

import (
	"fmt"
	"math"
	"sync"

	"github.com/paulmach/orb"
)

// Viewport is a FitTarget for a map of Width×Height pixels that is always
// ready. Fit frames the extent the way an unrotated web map view does:
// padding is top, right, bottom, left in pixels.
type Viewport struct {
	Width, Height int

	mu         sync.Mutex
	center     orb.Point
	resolution float64
}

var closedReady = func() chan struct{} {
	ch := make(chan struct{})
	close(ch)
	return ch
}()

func (v *Viewport) Ready() <-chan struct{} { return closedReady }

func (v *Viewport) Fit(req FitRequest) error {
	pad := req.Padding
	w := float64(v.Width) - pad[1] - pad[3]
	h := float64(v.Height) - pad[0] - pad[2]
	if w <= 0 || h <= 0 {
		return fmt.Errorf("viewport %dx%d leaves no room inside padding %v", v.Width, v.Height, pad)
	}
	ext := req.Extent
	res := math.Max((ext.Max[0]-ext.Min[0])/w, (ext.Max[1]-ext.Min[1])/h)
	if res <= 0 || math.IsNaN(res) || math.IsInf(res, 0) {
		return fmt.Errorf("cannot fit extent %v", ext)
	}
	c := ext.Center()

	v.mu.Lock()
	defer v.mu.Unlock()
	v.resolution = res
	v.center = orb.Point{c[0] + (pad[1]-pad[3])/2*res, c[1] + (pad[0]-pad[2])/2*res}
	return nil
}

// View returns the center and map units per pixel left by the last Fit.
func (v *Viewport) View() (center orb.Point, resolution float64) {
	v.mu.Lock()
	defer v.mu.Unlock()
	return v.center, v.resolution
}
