package grid

import (
	"fmt"

	"github.com/couchcryptid/basin-anomaly/internal/domain"
)

// WinterWindow returns the 1-based leads covering the season for a start month.
func WinterWindow(startMonth int, season domain.Season) ([]int, error) {
	var first, length int
	switch season {
	case domain.SeasonNDJFM:
		length = 5
		switch startMonth {
		case 10:
			first = 2
		case 11:
			first = 1
		}
	case domain.SeasonDJF:
		length = 3
		switch startMonth {
		case 10:
			first = 3
		case 11:
			first = 2
		}
	default:
		return nil, fmt.Errorf("unknown season %q", season)
	}
	if first == 0 {
		return nil, fmt.Errorf("%w: %d (want 10 or 11)", domain.ErrUnsupportedStartMonth, startMonth)
	}

	leads := make([]int, length)
	for i := range leads {
		leads[i] = first + i
	}
	return leads, nil
}

// WinterMean averages f over the season window for startMonth. The field's
// own start dates must fall in startMonth.
func WinterMean(f *EnsembleField, startMonth int, season domain.Season) (*SeasonalField, error) {
	leads, err := WinterWindow(startMonth, season)
	if err != nil {
		return nil, err
	}
	if err := f.Validate(); err != nil {
		return nil, err
	}
	got, err := f.StartMonth()
	if err != nil {
		return nil, err
	}
	if got != startMonth {
		return nil, fmt.Errorf("%w: field starts in month %d, configured %d", domain.ErrSchemaMismatch, got, startMonth)
	}

	idx := make([]int, len(leads))
	for i, lead := range leads {
		li, ok := f.LeadIndex(lead)
		if !ok {
			return nil, fmt.Errorf("%w: lead month %d not in field", domain.ErrSchemaMismatch, lead)
		}
		idx[i] = li
	}

	nm, ns, _, nr, nc := f.Shape()
	out := NewSeasonalField(nm, ns, nr, nc)
	cells := nr * nc
	n := float64(len(idx))
	for m := range nm {
		for s := range ns {
			dst := out.offset(m, s, 0, 0)
			for _, li := range idx {
				src := f.offset(m, s, li, 0, 0)
				for i := range cells {
					out.Data[dst+i] += f.Data[src+i]
				}
			}
			for i := range cells {
				out.Data[dst+i] /= n
			}
		}
	}
	return out, nil
}
