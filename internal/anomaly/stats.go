package anomaly

import (
	"math"
	"slices"

	"gonum.org/v1/gonum/mat"
	"gonum.org/v1/gonum/stat"

	"github.com/couchcryptid/basin-anomaly/internal/domain"
)

// Percentile returns the p-th percentile (0..100) using linear interpolation
// between closest ranks: position p/100*(n-1) in the sorted data. gonum's
// stat.Quantile offers only the empirical and R-4 estimators, so the
// interpolation here is explicit. Returns NaN for empty input.
func Percentile(values []float64, p float64) float64 {
	if len(values) == 0 {
		return math.NaN()
	}
	sorted := slices.Clone(values)
	slices.Sort(sorted)
	return percentileSorted(sorted, p)
}

func percentileSorted(sorted []float64, p float64) float64 {
	pos := p / 100 * float64(len(sorted)-1)
	lo := int(math.Floor(pos))
	hi := int(math.Ceil(pos))
	if lo == hi {
		return sorted[lo]
	}
	return sorted[lo] + (sorted[hi]-sorted[lo])*(pos-float64(lo))
}

// Summarize builds the statistics of one series: anomaly percentiles plus
// the mean and population standard deviation of the raw basin values.
// Non-finite inputs are ignored. Values are rounded to two decimals.
func Summarize(anomalies []float64, raw mat.Matrix) domain.Summary {
	sorted := finiteValues(anomalies)
	slices.Sort(sorted)

	var s domain.Summary
	if len(sorted) > 0 {
		s.P95 = percentileSorted(sorted, 95)
		s.Q3 = percentileSorted(sorted, 75)
		s.Median = percentileSorted(sorted, 50)
		s.Q1 = percentileSorted(sorted, 25)
		s.P5 = percentileSorted(sorted, 5)
	}
	if rv := finiteValues(values(raw)); len(rv) > 0 {
		s.Mean, s.Std = stat.PopMeanStdDev(rv, nil)
	}
	return s.Rounded()
}

// YearlySummaries computes anomaly percentiles across members for every
// hindcast year, ignoring NaN members. byMember is members x years.
func YearlySummaries(byMember [][]float64, years []int) []domain.YearSummary {
	out := make([]domain.YearSummary, 0, len(years))
	col := make([]float64, len(byMember))
	for y, year := range years {
		for m, row := range byMember {
			col[m] = row[y]
		}
		sorted := finiteValues(col)
		slices.Sort(sorted)
		ys := domain.YearSummary{Year: year}
		if len(sorted) > 0 {
			ys.P95 = domain.Round2(percentileSorted(sorted, 95))
			ys.Q3 = domain.Round2(percentileSorted(sorted, 75))
			ys.Median = domain.Round2(percentileSorted(sorted, 50))
			ys.Q1 = domain.Round2(percentileSorted(sorted, 25))
			ys.P5 = domain.Round2(percentileSorted(sorted, 5))
		}
		out = append(out, ys)
	}
	return out
}

func values(m mat.Matrix) []float64 {
	r, c := m.Dims()
	out := make([]float64, 0, r*c)
	for i := range r {
		for j := range c {
			out = append(out, m.At(i, j))
		}
	}
	return out
}

// finiteValues returns a copy of xs without NaN or infinite entries.
func finiteValues(xs []float64) []float64 {
	out := make([]float64, 0, len(xs))
	for _, x := range xs {
		if finite(x) {
			out = append(out, x)
		}
	}
	return out
}
