// Package crs resolves coordinate reference system definitions and transforms
// points between them. Definitions use the proj4 "+key=value" notation.
package crs

import (
	"fmt"
	"math"
	"strconv"
	"strings"
)

const (
	// Identity marks a raster whose bounding box is already in the display CRS.
	Identity = "identity"
	// Auto selects the CRS from the raster's own EPSG GeoKey.
	Auto = "auto"

	EPSG4326 = "EPSG:4326"
	EPSG3857 = "EPSG:3857"
)

// builtin definitions, consulted after the caller's Table
var builtins = map[string]string{
	EPSG4326:      "+proj=longlat +datum=WGS84 +no_defs",
	EPSG3857:      "+proj=merc +a=6378137 +b=6378137 +lat_ts=0 +lon_0=0 +x_0=0 +y_0=0 +k=1 +units=m +nadgrids=@null +no_defs",
	"EPSG:900913": "+proj=merc +a=6378137 +b=6378137 +lat_ts=0 +lon_0=0 +x_0=0 +y_0=0 +k=1 +units=m +nadgrids=@null +no_defs",
	"EPSG:3395":   "+proj=merc +lon_0=0 +k=1 +x_0=0 +y_0=0 +datum=WGS84 +units=m +no_defs",
	"EPSG:6933":   "+proj=cea +lat_ts=30 +lon_0=0 +x_0=0 +y_0=0 +datum=WGS84 +units=m +no_defs",
	"ESRI:102013": "+proj=aea +lat_0=30 +lon_0=10 +lat_1=43 +lat_2=62 +x_0=0 +y_0=0 +ellps=intl +units=m +no_defs",
}

var units = map[string]float64{
	"m":     1,
	"km":    1000,
	"ft":    0.3048,
	"us-ft": 1200.0 / 3937.0,
}

// Definition is a parsed projection definition. Angles are stored in radians.
type Definition struct {
	Name      string
	Proj      string
	Ellipsoid Ellipsoid

	Lon0, Lat0 float64
	Lat1, Lat2 float64
	LatTS      float64
	hasLatTS   bool
	X0, Y0     float64
	K0         float64
	ToMeter    float64

	// DatumShiftIgnored is set when the definition asks for a datum other than
	// WGS84 (or a towgs84 shift); the transform uses the ellipsoid only.
	DatumShiftIgnored bool

	Raw string
}

// Parse reads a proj4 style definition string.
func Parse(raw string) (Definition, error) {
	params := map[string]string{}
	for _, tok := range strings.Fields(raw) {
		if !strings.HasPrefix(tok, "+") {
			return Definition{}, fmt.Errorf("unexpected token %q", tok)
		}
		k, v, _ := strings.Cut(tok[1:], "=")
		if k == "" {
			return Definition{}, fmt.Errorf("empty parameter in %q", raw)
		}
		params[k] = v
	}

	d := Definition{Raw: strings.TrimSpace(raw), K0: 1, ToMeter: 1}
	d.Proj = params["proj"]
	switch d.Proj {
	case "longlat", "latlong", "lonlat", "latlon":
		d.Proj = "longlat"
	case "merc", "cea", "aea":
	case "":
		return Definition{}, fmt.Errorf("missing +proj in %q", raw)
	default:
		return Definition{}, fmt.Errorf("unsupported projection %q", d.Proj)
	}

	var err error
	if d.Ellipsoid, err = parseEllipsoid(params); err != nil {
		return Definition{}, err
	}

	angles := []struct {
		key string
		dst *float64
	}{
		{"lon_0", &d.Lon0}, {"lat_0", &d.Lat0},
		{"lat_1", &d.Lat1}, {"lat_2", &d.Lat2},
		{"lat_ts", &d.LatTS},
	}
	for _, a := range angles {
		v, ok, err := floatParam(params, a.key)
		if err != nil {
			return Definition{}, err
		}
		if ok {
			*a.dst = v * math.Pi / 180
		}
	}
	_, d.hasLatTS = params["lat_ts"]
	if _, ok := params["lat_2"]; !ok {
		d.Lat2 = d.Lat1
	}

	for key, dst := range map[string]*float64{"x_0": &d.X0, "y_0": &d.Y0} {
		v, _, err := floatParam(params, key)
		if err != nil {
			return Definition{}, err
		}
		*dst = v
	}
	for _, key := range []string{"k_0", "k"} {
		v, ok, err := floatParam(params, key)
		if err != nil {
			return Definition{}, err
		}
		if ok {
			d.K0 = v
			break
		}
	}

	if u, ok := params["units"]; ok && d.Proj != "longlat" {
		f, known := units[u]
		if !known {
			return Definition{}, fmt.Errorf("unsupported units %q", u)
		}
		d.ToMeter = f
	}
	if v, ok, err := floatParam(params, "to_meter"); err != nil {
		return Definition{}, err
	} else if ok {
		if v <= 0 {
			return Definition{}, fmt.Errorf("to_meter must be positive, got %v", v)
		}
		d.ToMeter = v
	}

	d.DatumShiftIgnored = datumShiftIgnored(params)

	if d.Proj == "aea" {
		switch {
		case math.Abs(d.Lat1+d.Lat2) < 1e-10:
			return Definition{}, fmt.Errorf("aea: lat_1 and lat_2 must not be symmetric about the equator")
		case math.Abs(d.Lat1-d.Lat2) < 1e-10:
			return Definition{}, fmt.Errorf("aea: lat_1 and lat_2 must differ")
		case d.Ellipsoid.Spherical():
			return Definition{}, fmt.Errorf("aea: a spherical figure is not supported, give +ellps or +a/+b")
		}
	}
	return d, nil
}

func parseEllipsoid(params map[string]string) (Ellipsoid, error) {
	if v, ok, err := floatParam(params, "R"); err != nil {
		return Ellipsoid{}, err
	} else if ok {
		return Ellipsoid{A: v}, nil
	}

	base := ellipsoids["WGS84"]
	if name, ok := params["ellps"]; ok {
		e, err := lookupEllipsoid(name)
		if err != nil {
			return Ellipsoid{}, err
		}
		base = e
	} else if name, ok := params["datum"]; ok {
		en, known := datums[name]
		if !known {
			return Ellipsoid{}, fmt.Errorf("unknown datum %q", name)
		}
		base = ellipsoids[en]
	}

	a, hasA, err := floatParam(params, "a")
	if err != nil {
		return Ellipsoid{}, err
	}
	if !hasA {
		return base, nil
	}
	if b, ok, err := floatParam(params, "b"); err != nil {
		return Ellipsoid{}, err
	} else if ok {
		return fromAxes(a, b), nil
	}
	if rf, ok, err := floatParam(params, "rf"); err != nil {
		return Ellipsoid{}, err
	} else if ok {
		return fromInvFlattening(a, rf), nil
	}
	if _, ok := params["ellps"]; ok {
		return Ellipsoid{A: a, ES: base.ES}, nil
	}
	return Ellipsoid{A: a}, nil
}

func datumShiftIgnored(params map[string]string) bool {
	if name, ok := params["datum"]; ok && !wgs84Compatible[name] {
		return true
	}
	switch params["ellps"] {
	case "intl", "clrk66", "bessel":
		return true
	}
	if grids, ok := params["nadgrids"]; ok && grids != "@null" {
		return true
	}
	if shift, ok := params["towgs84"]; ok {
		for _, s := range strings.Split(shift, ",") {
			if f, err := strconv.ParseFloat(strings.TrimSpace(s), 64); err != nil || f != 0 {
				return true
			}
		}
	}
	return false
}

func floatParam(params map[string]string, key string) (float64, bool, error) {
	v, ok := params[key]
	if !ok {
		return 0, false, nil
	}
	f, err := strconv.ParseFloat(strings.TrimSpace(v), 64)
	if err != nil {
		return 0, false, fmt.Errorf("+%s: %w", key, err)
	}
	return f, true, nil
}

// IsWebMercator reports whether the definition is the spherical pseudo-Mercator
// used by web maps.
func (d Definition) IsWebMercator() bool {
	return d.Proj == "merc" &&
		d.Ellipsoid.Spherical() && d.Ellipsoid.A == 6378137 &&
		d.Lon0 == 0 && d.X0 == 0 && d.Y0 == 0 && d.K0 == 1 && d.ToMeter == 1 &&
		(!d.hasLatTS || d.LatTS == 0)
}
