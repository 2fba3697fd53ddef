package raster

import (
	"errors"
	"fmt"
)

// Stage names the step of decoding that failed.
type Stage string

const (
	StageFetch  Stage = "fetch"
	StageParse  Stage = "parse"
	StageGeoref Stage = "georef"
)

var (
	ErrNoGeoreference = errors.New("no model tiepoint/pixel scale or transformation")
	ErrTooLarge       = errors.New("raster exceeds maximum size")
)

// DecodeError reports a GeoTIFF that could not be fetched or parsed. Nothing
// partial is returned alongside it.
type DecodeError struct {
	Locator string
	Stage   Stage
	Err     error
}

func (e *DecodeError) Error() string {
	return fmt.Sprintf("decode %s (%s): %v", e.Locator, e.Stage, e.Err)
}

func (e *DecodeError) Unwrap() error { return e.Err }

func decodeErr(locator string, stage Stage, err error) error {
	return &DecodeError{Locator: locator, Stage: stage, Err: err}
}
