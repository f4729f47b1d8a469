package basin

import (
	"fmt"

	"gonum.org/v1/gonum/mat"

	"github.com/couchcryptid/basin-anomaly/internal/domain"
	"github.com/couchcryptid/basin-anomaly/internal/grid"
)

// Extract gathers the seasonal values at every basin point into a
// points x samples matrix. Column j is sample member*starts + start, so a
// hindcast row lists all years of member 0, then member 1, and so on.
// Indices are used as-is; no coordinate lookup is performed.
func Extract(ps PointSet, f *grid.SeasonalField) (*mat.Dense, error) {
	if len(ps.Points) == 0 {
		return nil, fmt.Errorf("basin %d has no points", ps.Index)
	}
	if f.Samples() == 0 {
		return nil, fmt.Errorf("%w: seasonal field has no samples", domain.ErrSchemaMismatch)
	}
	if err := CheckBounds(ps, f.Rows, f.Cols); err != nil {
		return nil, err
	}

	out := mat.NewDense(len(ps.Points), f.Samples(), nil)
	for i, p := range ps.Points {
		row := out.RawRowView(i)
		for m := range f.Members {
			for s := range f.Starts {
				row[m*f.Starts+s] = f.At(m, s, p.Row, p.Col)
			}
		}
	}
	return out, nil
}

// CheckBounds reports the first point outside a rows x cols grid.
func CheckBounds(ps PointSet, rows, cols int) error {
	for i, p := range ps.Points {
		if p.Row < 0 || p.Row >= rows || p.Col < 0 || p.Col >= cols {
			return &domain.OutOfBoundsError{Point: i, Row: p.Row, Col: p.Col, Rows: rows, Cols: cols}
		}
	}
	return nil
}
