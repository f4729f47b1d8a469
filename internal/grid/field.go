// Package grid loads gridded ensemble precipitation and derives seasonal fields.
package grid

import (
	"fmt"
	"time"

	"github.com/couchcryptid/basin-anomaly/internal/domain"
)

// EnsembleField is a decoded ensemble with values laid out row-major as
// [member][start][lead][lat][lon]. A forecast field has exactly one start.
type EnsembleField struct {
	Variable   string
	Members    []int
	StartDates []time.Time
	Leads      []int
	Lats       []float64
	Lons       []float64
	Data       []float64
}

// NewEnsembleField allocates a zero-valued field for the given coordinates.
func NewEnsembleField(variable string, members []int, starts []time.Time, leads []int, lats, lons []float64) *EnsembleField {
	n := len(members) * len(starts) * len(leads) * len(lats) * len(lons)
	return &EnsembleField{
		Variable:   variable,
		Members:    members,
		StartDates: starts,
		Leads:      leads,
		Lats:       lats,
		Lons:       lons,
		Data:       make([]float64, n),
	}
}

// Shape returns the extent of each axis in storage order.
func (f *EnsembleField) Shape() (members, starts, leads, rows, cols int) {
	return len(f.Members), len(f.StartDates), len(f.Leads), len(f.Lats), len(f.Lons)
}

func (f *EnsembleField) offset(m, s, l, r, c int) int {
	_, ns, nl, nr, nc := f.Shape()
	return (((m*ns+s)*nl+l)*nr+r)*nc + c
}

// At returns the value at the given axis positions (not coordinate values).
func (f *EnsembleField) At(m, s, l, r, c int) float64 {
	return f.Data[f.offset(m, s, l, r, c)]
}

// Set stores v at the given axis positions.
func (f *EnsembleField) Set(m, s, l, r, c int, v float64) {
	f.Data[f.offset(m, s, l, r, c)] = v
}

// LeadIndex returns the axis position of a 1-based lead month.
func (f *EnsembleField) LeadIndex(lead int) (int, bool) {
	for i, l := range f.Leads {
		if l == lead {
			return i, true
		}
	}
	return 0, false
}

// StartMonth returns the calendar month shared by every start date.
func (f *EnsembleField) StartMonth() (int, error) {
	if len(f.StartDates) == 0 {
		return 0, fmt.Errorf("%w: field has no start dates", domain.ErrSchemaMismatch)
	}
	month := f.StartDates[0].Month()
	for _, d := range f.StartDates[1:] {
		if d.Month() != month {
			return 0, fmt.Errorf("%w: mixed start months %s and %s", domain.ErrSchemaMismatch, month, d.Month())
		}
	}
	return int(month), nil
}

// Validate checks that the data length matches the coordinates.
func (f *EnsembleField) Validate() error {
	nm, ns, nl, nr, nc := f.Shape()
	if want := nm * ns * nl * nr * nc; want != len(f.Data) {
		return fmt.Errorf("%w: %d values for shape %dx%dx%dx%dx%d", domain.ErrSchemaMismatch, len(f.Data), nm, ns, nl, nr, nc)
	}
	return nil
}

// SeasonalField is a season mean laid out as [member][start][lat][lon].
type SeasonalField struct {
	Members int
	Starts  int
	Rows    int
	Cols    int
	Data    []float64
}

// NewSeasonalField allocates a zero-valued seasonal field.
func NewSeasonalField(members, starts, rows, cols int) *SeasonalField {
	return &SeasonalField{
		Members: members,
		Starts:  starts,
		Rows:    rows,
		Cols:    cols,
		Data:    make([]float64, members*starts*rows*cols),
	}
}

// Samples is the number of (member, start) combinations per grid cell.
func (f *SeasonalField) Samples() int {
	return f.Members * f.Starts
}

func (f *SeasonalField) offset(m, s, r, c int) int {
	return ((m*f.Starts+s)*f.Rows+r)*f.Cols + c
}

// At returns the season mean for member m, start s at cell (r, c).
func (f *SeasonalField) At(m, s, r, c int) float64 {
	return f.Data[f.offset(m, s, r, c)]
}

// Set stores v for member m, start s at cell (r, c).
func (f *SeasonalField) Set(m, s, r, c int, v float64) {
	f.Data[f.offset(m, s, r, c)] = v
}
