package domain

import (
	"errors"
	"fmt"
)

var (
	// ErrMissingInputFile means a hindcast, forecast or basin file does not exist.
	ErrMissingInputFile = errors.New("missing input file")
	// ErrUnsupportedStartMonth means the start month cannot cover the season window.
	ErrUnsupportedStartMonth = errors.New("unsupported start month")
	// ErrInvalidMonth means a calendar month outside 1..12.
	ErrInvalidMonth = errors.New("invalid month")
	// ErrOutOfBounds means a basin grid index lies outside the loaded field.
	ErrOutOfBounds = errors.New("grid index out of bounds")
	// ErrDegenerateBaseline means the hindcast climatology is too close to zero.
	ErrDegenerateBaseline = errors.New("degenerate baseline")
	// ErrMissingRequiredColumn means a basin file lacks an expected column.
	ErrMissingRequiredColumn = errors.New("missing required column")
	// ErrSchemaMismatch means a grid file does not have the expected variables or dimensions.
	ErrSchemaMismatch = errors.New("schema mismatch")
)

// OutOfBoundsError describes the offending basin point.
type OutOfBoundsError struct {
	Point      int
	Row, Col   int
	Rows, Cols int
}

func (e *OutOfBoundsError) Error() string {
	return fmt.Sprintf("point %d at (row %d, col %d) outside %dx%d grid", e.Point, e.Row, e.Col, e.Rows, e.Cols)
}

func (e *OutOfBoundsError) Unwrap() error { return ErrOutOfBounds }

// DegenerateBaselineError lists basin points whose climatological mean is ~0.
type DegenerateBaselineError struct {
	Points  []int
	Epsilon float64
}

func (e *DegenerateBaselineError) Error() string {
	return fmt.Sprintf("%d basin points with |hindcast mean| < %g", len(e.Points), e.Epsilon)
}

func (e *DegenerateBaselineError) Unwrap() error { return ErrDegenerateBaseline }
