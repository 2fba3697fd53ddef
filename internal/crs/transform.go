package crs

import (
	"errors"
	"fmt"
	"math"
	"strings"

	"github.com/paulmach/orb"
)

var (
	// ErrUnknownCRS is returned when a name resolves to no definition.
	ErrUnknownCRS = errors.New("unknown crs")
	// ErrOutOfRange is returned when a transformed extent misses the target's valid area.
	ErrOutOfRange = errors.New("extent outside valid range of target crs")
)

// TransformError reports that source → target could not be resolved or applied.
type TransformError struct {
	Source string
	Target string
	Err    error
}

func (e *TransformError) Error() string {
	return fmt.Sprintf("crs transform %s -> %s: %v", e.Source, e.Target, e.Err)
}

func (e *TransformError) Unwrap() error { return e.Err }

// Table maps CRS names to proj definitions. It is owned by whoever configures
// the presenter; builtin EPSG codes are consulted when the table has no entry.
type Table map[string]string

// Lookup resolves a name, an EPSG builtin or a literal "+proj=..." string.
func (t Table) Lookup(name string) (Definition, error) {
	name = strings.TrimSpace(name)
	if name == "" {
		return Definition{}, ErrUnknownCRS
	}
	raw, ok := t[name]
	if !ok {
		switch {
		case strings.HasPrefix(name, "+"):
			raw = name
		default:
			raw, ok = builtins[strings.ToUpper(name)]
			if !ok {
				return Definition{}, fmt.Errorf("%w: %q", ErrUnknownCRS, name)
			}
		}
	}
	d, err := Parse(raw)
	if err != nil {
		return Definition{}, fmt.Errorf("%s: %w", name, err)
	}
	d.Name = name
	return d, nil
}

// Projection resolves a name into a ready projection.
func (t Table) Projection(name string) (*Projection, error) {
	d, err := t.Lookup(name)
	if err != nil {
		return nil, err
	}
	return NewProjection(d)
}

// Transformer builds a source → target point transformer.
func (t Table) Transformer(source, target string) (*Transformer, error) {
	src, err := t.Projection(source)
	if err != nil {
		return nil, &TransformError{Source: source, Target: target, Err: err}
	}
	dst, err := t.Projection(target)
	if err != nil {
		return nil, &TransformError{Source: source, Target: target, Err: err}
	}
	return &Transformer{Source: source, Target: target, src: src, dst: dst}, nil
}

// Transformer maps points from one CRS to another through geographic WGS84.
// Datum shifts are not applied.
type Transformer struct {
	Source string
	Target string
	src    *Projection
	dst    *Projection
}

// DatumShiftIgnored reports whether either side asked for a datum shift that
// the transform does not perform.
func (t *Transformer) DatumShiftIgnored() bool {
	return t.src.Def.DatumShiftIgnored || t.dst.Def.DatumShiftIgnored
}

// Target projection, used for range checks.
func (t *Transformer) TargetProjection() *Projection { return t.dst }

// Transform maps a single point.
func (t *Transformer) Transform(p orb.Point) (orb.Point, error) {
	lon, lat, err := t.src.ToGeographic(p[0], p[1])
	if err != nil {
		return orb.Point{}, &TransformError{Source: t.Source, Target: t.Target, Err: err}
	}
	x, y, err := t.dst.FromGeographic(lon, lat)
	if err != nil {
		return orb.Point{}, &TransformError{Source: t.Source, Target: t.Target, Err: err}
	}
	if math.IsNaN(x) || math.IsNaN(y) || math.IsInf(x, 0) || math.IsInf(y, 0) {
		return orb.Point{}, &TransformError{Source: t.Source, Target: t.Target, Err: ErrOutsideDomain}
	}
	return orb.Point{x, y}, nil
}

// CheckExtent verifies that b is finite and intersects the valid area of the
// projection. Projections without a rectangular valid area always pass.
func CheckExtent(p *Projection, b orb.Bound) error {
	for _, v := range []float64{b.Min[0], b.Min[1], b.Max[0], b.Max[1]} {
		if math.IsNaN(v) || math.IsInf(v, 0) {
			return ErrOutOfRange
		}
	}
	valid, ok := p.ValidBounds()
	if !ok {
		return nil
	}
	if !valid.Intersects(b) {
		return fmt.Errorf("%w: %v not within %v", ErrOutOfRange, b, valid)
	}
	return nil
}
