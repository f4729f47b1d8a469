package grid

import (
	"fmt"

	"github.com/couchcryptid/basin-anomaly/internal/domain"
)

const (
	secondsPerDay   = 86400
	millimetresPerM = 1000
	flatMonthDays   = 30
)

var monthDays = [12]int{31, 28, 31, 30, 31, 30, 31, 31, 30, 31, 30, 31}

// IsLeap reports whether year is a Gregorian leap year.
func IsLeap(year int) bool {
	return year%4 == 0 && (year%100 != 0 || year%400 == 0)
}

// DaysInMonth returns the length of a calendar month (1..12).
func DaysInMonth(month int, leap bool) (int, error) {
	if month < 1 || month > 12 {
		return 0, fmt.Errorf("%w: %d", domain.ErrInvalidMonth, month)
	}
	if month == 2 && leap {
		return 29, nil
	}
	return monthDays[month-1], nil
}

// DepthFactor is the multiplier from a rate in m/s to a monthly depth in mm.
func DepthFactor(month int, leap bool, conv domain.UnitConvention) (float64, error) {
	days, err := DaysInMonth(month, leap)
	if err != nil {
		return 0, err
	}
	switch conv {
	case domain.UnitsDaysInMonth:
	case domain.UnitsFlat30:
		days = flatMonthDays
	default:
		return 0, fmt.Errorf("unknown unit convention %q", conv)
	}
	return float64(millimetresPerM * secondsPerDay * days), nil
}

// ToMillimetres converts a precipitation rate (m/s) to depth (mm) accumulated
// over the given month.
func ToMillimetres(rate float64, month int, leap bool, conv domain.UnitConvention) (float64, error) {
	factor, err := DepthFactor(month, leap, conv)
	if err != nil {
		return 0, err
	}
	return rate * factor, nil
}

// ConvertField returns a copy of f in mm per month. Each (start, lead) slice
// uses the month and leap year of its valid date.
func ConvertField(f *EnsembleField, conv domain.UnitConvention) (*EnsembleField, error) {
	if err := f.Validate(); err != nil {
		return nil, err
	}
	out := NewEnsembleField(f.Variable, f.Members, f.StartDates, f.Leads, f.Lats, f.Lons)
	nm, ns, nl, nr, nc := f.Shape()
	valid := f.ValidTimes()
	cells := nr * nc

	factors := make([][]float64, ns)
	for s := range ns {
		factors[s] = make([]float64, nl)
		for l := range nl {
			vt := valid[s][l]
			factor, err := DepthFactor(int(vt.Month()), IsLeap(vt.Year()), conv)
			if err != nil {
				return nil, err
			}
			factors[s][l] = factor
		}
	}

	for m := range nm {
		for s := range ns {
			for l := range nl {
				base := f.offset(m, s, l, 0, 0)
				factor := factors[s][l]
				for i := range cells {
					out.Data[base+i] = f.Data[base+i] * factor
				}
			}
		}
	}
	return out, nil
}
