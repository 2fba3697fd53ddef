package crs

import (
	"fmt"
	"math"
)

// Ellipsoid is described by its semi-major axis and first eccentricity squared.
// A zero ES is a sphere of radius A.
type Ellipsoid struct {
	A  float64
	ES float64
}

// E returns the first eccentricity.
func (e Ellipsoid) E() float64 { return math.Sqrt(e.ES) }

// SemiMinor returns the polar radius.
func (e Ellipsoid) SemiMinor() float64 { return e.A * math.Sqrt(1-e.ES) }

// Spherical reports whether the ellipsoid degenerates to a sphere.
func (e Ellipsoid) Spherical() bool { return e.ES == 0 }

func fromInvFlattening(a, rf float64) Ellipsoid {
	if rf == 0 {
		return Ellipsoid{A: a}
	}
	f := 1 / rf
	return Ellipsoid{A: a, ES: 2*f - f*f}
}

func fromAxes(a, b float64) Ellipsoid {
	if a == b {
		return Ellipsoid{A: a}
	}
	return Ellipsoid{A: a, ES: (a*a - b*b) / (a * a)}
}

var ellipsoids = map[string]Ellipsoid{
	"WGS84":  fromInvFlattening(6378137.0, 298.257223563),
	"GRS80":  fromInvFlattening(6378137.0, 298.257222101),
	"intl":   fromInvFlattening(6378388.0, 297.0),
	"clrk66": fromAxes(6378206.4, 6356583.8),
	"bessel": fromInvFlattening(6377397.155, 299.1528128),
	"sphere": {A: 6370997.0},
}

// datum → ellipsoid; shifts are not modelled
var datums = map[string]string{
	"WGS84":   "WGS84",
	"NAD83":   "GRS80",
	"ETRS89":  "GRS80",
	"NAD27":   "clrk66",
	"ED50":    "intl",
	"potsdam": "bessel",
}

// datums that coincide with WGS84 at the metre level
var wgs84Compatible = map[string]bool{
	"WGS84":  true,
	"NAD83":  true,
	"ETRS89": true,
}

func lookupEllipsoid(name string) (Ellipsoid, error) {
	e, ok := ellipsoids[name]
	if !ok {
		return Ellipsoid{}, fmt.Errorf("unknown ellipsoid %q", name)
	}
	return e, nil
}

// authalic helper q(φ) from Snyder (3-12)
func qsfn(sinphi, e, oneEs float64) float64 {
	if e < 1e-10 {
		return 2 * sinphi
	}
	con := e * sinphi
	return oneEs * (sinphi/(1-con*con) - (0.5/e)*math.Log((1-con)/(1+con)))
}

// inverse of the authalic latitude, series from Snyder (3-18)
func authlat(beta, es float64) float64 {
	if es == 0 {
		return beta
	}
	es2 := es * es
	es3 := es2 * es
	return beta +
		(es/3+31*es2/180+517*es3/5040)*math.Sin(2*beta) +
		(23*es2/360+251*es3/3780)*math.Sin(4*beta) +
		(761*es3/45360)*math.Sin(6*beta)
}
