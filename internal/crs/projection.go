package crs

import (
	"errors"
	"fmt"
	"math"
	"strconv"

	"github.com/paulmach/orb"
	"github.com/paulmach/orb/project"
	geo "github.com/terrascope/geometry"
	"github.com/terrascope/proj4go"
)

// ErrOutsideDomain is returned for points the projection cannot represent.
var ErrOutsideDomain = errors.New("point outside projection domain")

const (
	epsLat    = 1e-10
	maxIter   = 15
	iterTol   = 1e-12
	mercLatGE = 85.05112877980659 // web mercator latitude limit
)

// projector works on the unit-free core of a projection: lam is the longitude
// relative to lon_0 and phi the latitude (radians); x,y are metres before the
// false origin and unit conversion are applied.
type projector interface {
	forward(lam, phi float64) (x, y float64, err error)
	inverse(x, y float64) (lam, phi float64, err error)
}

// Projection converts between projected coordinates and geographic lon/lat
// in degrees.
type Projection struct {
	Def    Definition
	p      projector
	lonlat proj4go.Projection
}

// NewProjection builds the projection described by d. Geographic, spherical
// Mercator and Albers run on proj4go. proj4go has no cylindrical equal area
// and its Mercator ignores eccentricity, so those two are computed here.
func NewProjection(d Definition) (*Projection, error) {
	out := &Projection{Def: d}
	var err error
	switch {
	case d.Proj == "longlat":
		out.lonlat, err = proj4go.NewProjection("+proj=longlat")
	case d.Proj == "merc" && d.Ellipsoid.Spherical():
		out.p, err = newLibProjector(fmt.Sprintf("+proj=merc +a=%s +b=%s +lat_ts=0 +lon_0=0 +x_0=0 +y_0=0 +k=1",
			num(d.Ellipsoid.A), num(d.Ellipsoid.A)), mercScale(d))
	case d.Proj == "merc":
		out.p = newMerc(d)
	case d.Proj == "cea":
		out.p = newCEA(d)
	case d.Proj == "aea":
		out.p, err = newLibProjector(fmt.Sprintf("+proj=aea +lat_0=%s +lat_1=%s +lat_2=%s +lon_0=0 +x_0=0 +y_0=0 +a=%s +b=%s",
			num(degrees(d.Lat0)), num(degrees(d.Lat1)), num(degrees(d.Lat2)),
			num(d.Ellipsoid.A), num(d.Ellipsoid.SemiMinor())), 1)
	default:
		return nil, fmt.Errorf("unsupported projection %q", d.Proj)
	}
	if err != nil {
		return nil, fmt.Errorf("%s: %w", d.Proj, err)
	}
	return out, nil
}

// Geographic reports whether coordinates are already lon/lat degrees.
func (p *Projection) Geographic() bool { return p.lonlat != nil }

// ToGeographic maps projected x,y to lon/lat degrees.
func (p *Projection) ToGeographic(x, y float64) (lon, lat float64, err error) {
	if p.lonlat != nil {
		pts := []geo.Point{{X: x, Y: y}}
		if err := p.lonlat.Inverse(pts); err != nil {
			return 0, 0, err
		}
		return pts[0].X, pts[0].Y, nil
	}
	if p.Def.IsWebMercator() {
		g := project.Mercator.ToWGS84(orb.Point{x, y})
		return g[0], g[1], nil
	}
	xm := x*p.Def.ToMeter - p.Def.X0
	ym := y*p.Def.ToMeter - p.Def.Y0
	lam, phi, err := p.p.inverse(xm, ym)
	if err != nil {
		return 0, 0, err
	}
	return degrees(adjlon(lam + p.Def.Lon0)), degrees(phi), nil
}

// FromGeographic maps lon/lat degrees to projected x,y.
func (p *Projection) FromGeographic(lon, lat float64) (x, y float64, err error) {
	if math.Abs(lat) > 90 {
		return 0, 0, fmt.Errorf("latitude %v: %w", lat, ErrOutsideDomain)
	}
	if p.lonlat != nil {
		pts := []geo.Point{{X: lon, Y: lat}}
		if err := p.lonlat.Forward(pts); err != nil {
			return 0, 0, err
		}
		return pts[0].X, pts[0].Y, nil
	}
	if p.Def.IsWebMercator() {
		m := project.WGS84.ToMercator(orb.Point{lon, lat})
		return m[0], m[1], nil
	}
	lam := adjlon(radians(lon) - p.Def.Lon0)
	xm, ym, err := p.p.forward(lam, radians(lat))
	if err != nil {
		return 0, 0, err
	}
	return (xm + p.Def.X0) / p.Def.ToMeter, (ym + p.Def.Y0) / p.Def.ToMeter, nil
}

// ValidBounds returns the projected extent of the whole world for
// projections where that is a rectangle.
func (p *Projection) ValidBounds() (orb.Bound, bool) {
	var maxLat float64
	switch p.Def.Proj {
	case "longlat":
		return orb.Bound{Min: orb.Point{-180, -90}, Max: orb.Point{180, 90}}, true
	case "merc":
		maxLat = mercLatGE
	case "cea":
		maxLat = 90
	default:
		return orb.Bound{}, false
	}
	lon0 := degrees(p.Def.Lon0)
	west, _, err1 := p.FromGeographic(lon0-180+1e-9, 0)
	east, _, err2 := p.FromGeographic(lon0+180-1e-9, 0)
	_, south, err3 := p.FromGeographic(lon0, -maxLat)
	_, north, err4 := p.FromGeographic(lon0, maxLat)
	if err := errors.Join(err1, err2, err3, err4); err != nil {
		return orb.Bound{}, false
	}
	return orb.Bound{Min: orb.Point{west, south}, Max: orb.Point{east, north}}, true
}

// libProjector runs a projection core through proj4go. The definition it is
// built from carries no lon_0 or false origin; Projection applies those, and
// scale multiplies the library's unit-scale output.
type libProjector struct {
	lib   proj4go.Projection
	scale float64
}

func newLibProjector(def string, scale float64) (*libProjector, error) {
	lib, err := proj4go.NewProjection(def)
	if err != nil {
		return nil, err
	}
	return &libProjector{lib: lib, scale: scale}, nil
}

func (l *libProjector) forward(lam, phi float64) (float64, float64, error) {
	// proj4go's Albers caches row terms keyed on the previous latitude,
	// starting at zero; the leading point fills that cache.
	pts := []geo.Point{{X: 0, Y: 1}, {X: degrees(lam), Y: degrees(phi)}}
	if err := l.lib.Forward(pts); err != nil {
		return 0, 0, fmt.Errorf("%v: %w", err, ErrOutsideDomain)
	}
	x, y := pts[1].X*l.scale, pts[1].Y*l.scale
	if !finite(x) || !finite(y) {
		return 0, 0, fmt.Errorf("forward %v,%v: %w", degrees(lam), degrees(phi), ErrOutsideDomain)
	}
	return x, y, nil
}

func (l *libProjector) inverse(x, y float64) (float64, float64, error) {
	pts := []geo.Point{{X: x / l.scale, Y: y / l.scale}}
	if err := l.lib.Inverse(pts); err != nil {
		return 0, 0, fmt.Errorf("%v: %w", err, ErrOutsideDomain)
	}
	lon, lat := pts[0].X, pts[0].Y
	if !finite(lon) || !finite(lat) || math.Abs(lat) > 90+epsLat {
		return 0, 0, fmt.Errorf("inverse %v,%v: %w", x, y, ErrOutsideDomain)
	}
	return radians(lon), radians(lat), nil
}

// mercScale is the Mercator scale factor on the equator of a sphere.
func mercScale(d Definition) float64 {
	if d.hasLatTS {
		return math.Cos(d.LatTS)
	}
	return d.K0
}

func num(v float64) string { return strconv.FormatFloat(v, 'f', -1, 64) }

func finite(v float64) bool { return !math.IsNaN(v) && !math.IsInf(v, 0) }

// merc: ellipsoidal Mercator
type merc struct {
	a, k0, e float64
}

func newMerc(d Definition) *merc {
	k0 := d.K0
	if d.hasLatTS {
		s := math.Sin(d.LatTS)
		k0 = math.Cos(d.LatTS) / math.Sqrt(1-d.Ellipsoid.ES*s*s)
	}
	return &merc{a: d.Ellipsoid.A, k0: k0, e: d.Ellipsoid.E()}
}

func (m *merc) forward(lam, phi float64) (float64, float64, error) {
	if math.Abs(math.Abs(phi)-math.Pi/2) <= epsLat {
		return 0, 0, fmt.Errorf("merc at the pole: %w", ErrOutsideDomain)
	}
	return m.a * m.k0 * lam, -m.a * m.k0 * math.Log(tsfn(phi, math.Sin(phi), m.e)), nil
}

func (m *merc) inverse(x, y float64) (float64, float64, error) {
	phi, err := phi2(math.Exp(-y/(m.a*m.k0)), m.e)
	return x / (m.a * m.k0), phi, err
}

func tsfn(phi, sinphi, e float64) float64 {
	con := e * sinphi
	return math.Tan(0.5*(math.Pi/2-phi)) / math.Pow((1-con)/(1+con), 0.5*e)
}

func phi2(ts, e float64) (float64, error) {
	half := 0.5 * e
	phi := math.Pi/2 - 2*math.Atan(ts)
	for i := 0; i < maxIter; i++ {
		con := e * math.Sin(phi)
		next := math.Pi/2 - 2*math.Atan(ts*math.Pow((1-con)/(1+con), half))
		if math.Abs(next-phi) < iterTol {
			return next, nil
		}
		phi = next
	}
	return 0, fmt.Errorf("merc inverse did not converge: %w", ErrOutsideDomain)
}

// cea: cylindrical equal area with standard parallel lat_ts
type cea struct {
	a, k0, e, es, qp float64
}

func newCEA(d Definition) *cea {
	es := d.Ellipsoid.ES
	s := math.Sin(d.LatTS)
	k0 := math.Cos(d.LatTS)
	if es != 0 {
		k0 /= math.Sqrt(1 - es*s*s)
	}
	c := &cea{a: d.Ellipsoid.A, k0: k0, e: d.Ellipsoid.E(), es: es}
	if es != 0 {
		c.qp = qsfn(1, c.e, 1-es)
	}
	return c
}

func (c *cea) forward(lam, phi float64) (float64, float64, error) {
	x := c.a * c.k0 * lam
	if c.es == 0 {
		return x, c.a * math.Sin(phi) / c.k0, nil
	}
	return x, c.a * 0.5 * qsfn(math.Sin(phi), c.e, 1-c.es) / c.k0, nil
}

func (c *cea) inverse(x, y float64) (float64, float64, error) {
	lam := x / (c.a * c.k0)
	if c.es == 0 {
		t := y * c.k0 / c.a
		if math.Abs(t) > 1+epsLat {
			return 0, 0, fmt.Errorf("cea inverse y=%v: %w", y, ErrOutsideDomain)
		}
		return lam, math.Asin(clamp1(t)), nil
	}
	t := 2 * y * c.k0 / (c.a * c.qp)
	if math.Abs(t) > 1+epsLat {
		return 0, 0, fmt.Errorf("cea inverse y=%v: %w", y, ErrOutsideDomain)
	}
	return lam, authlat(math.Asin(clamp1(t)), c.es), nil
}

func radians(deg float64) float64 { return deg * math.Pi / 180 }
func degrees(rad float64) float64 { return rad * 180 / math.Pi }

// adjlon wraps a longitude in radians into [-π, π].
func adjlon(lam float64) float64 {
	if math.Abs(lam) <= math.Pi+1e-12 {
		return lam
	}
	lam = math.Mod(lam+math.Pi, 2*math.Pi)
	if lam < 0 {
		lam += 2 * math.Pi
	}
	return lam - math.Pi
}

func clamp1(v float64) float64 {
	return math.Max(-1, math.Min(1, v))
}
