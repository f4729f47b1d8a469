// Package anomaly computes basin relative precipitation anomalies and their statistics.
package anomaly

import (
	"fmt"
	"math"

	"gonum.org/v1/gonum/floats"
	"gonum.org/v1/gonum/mat"
	"gonum.org/v1/gonum/stat"

	"github.com/couchcryptid/basin-anomaly/internal/domain"
)

// DefaultEpsilon is the smallest |hindcast mean| (mm) accepted as a baseline.
const DefaultEpsilon = 1e-6

// Engine computes relative anomalies against the hindcast climatology.
type Engine struct {
	// Epsilon excludes points whose climatological mean magnitude is below it.
	Epsilon float64
}

// Result holds basin-mean anomalies (%) per sample.
type Result struct {
	Hindcast   []float64 // one value per hindcast column
	Forecast   []float64 // one value per forecast column
	Baseline   []float64 // hindcast climatological mean per point
	Degenerate []int     // points excluded from the basin mean
	// Gaps counts non-finite values at kept points left out of their
	// sample's mean. A sample with no finite value is NaN.
	Gaps int
}

// Used is the number of points that contributed to the basin mean.
func (r Result) Used() int {
	return len(r.Baseline) - len(r.Degenerate)
}

// Kept lists the points that contributed to the basin mean, in order.
func (r Result) Kept() []int {
	out := make([]int, 0, r.Used())
	d := 0
	for p := range r.Baseline {
		if d < len(r.Degenerate) && r.Degenerate[d] == p {
			d++
			continue
		}
		out = append(out, p)
	}
	return out
}

// Compute takes points x samples matrices from the same basin. For point p
// with climatological mean c[p] (over every hindcast sample), each value v
// becomes (v - c[p]) / c[p] * 100; the forecast shares the hindcast baseline.
// Anomalies are then averaged over points.
//
// Points with |c[p]| < Epsilon or a non-finite c[p] (a fill cell decodes as
// NaN) are excluded and listed in Result.Degenerate. Non-finite forecast
// values at kept points are skipped per sample and counted in Result.Gaps.
// If no point remains, Compute returns a *domain.DegenerateBaselineError
// alongside the partial result.
func (e Engine) Compute(hcst, fcst *mat.Dense) (Result, error) {
	hp, hs := hcst.Dims()
	fp, fs := fcst.Dims()
	if hp != fp {
		return Result{}, fmt.Errorf("%w: hindcast has %d points, forecast %d", domain.ErrSchemaMismatch, hp, fp)
	}

	res := Result{
		Hindcast: make([]float64, hs),
		Forecast: make([]float64, fs),
		Baseline: make([]float64, hp),
	}
	hn := make([]float64, hs)
	fn := make([]float64, fs)
	for p := range hp {
		hrow := hcst.RawRowView(p)
		mean := stat.Mean(hrow, nil)
		res.Baseline[p] = mean
		if !finite(mean) || math.Abs(mean) < e.Epsilon {
			res.Degenerate = append(res.Degenerate, p)
			continue
		}
		res.Gaps += accumulate(res.Hindcast, hn, hrow, mean)
		res.Gaps += accumulate(res.Forecast, fn, fcst.RawRowView(p), mean)
	}

	if res.Used() == 0 {
		return res, &domain.DegenerateBaselineError{Points: res.Degenerate, Epsilon: e.Epsilon}
	}
	floats.Div(res.Hindcast, hn)
	floats.Div(res.Forecast, fn)
	return res, nil
}

// accumulate adds the relative anomalies of row into sum and counts them in
// n, skipping non-finite values. It returns the number skipped.
func accumulate(sum, n, row []float64, mean float64) int {
	skipped := 0
	for s, v := range row {
		a := relative(v, mean)
		if !finite(a) {
			skipped++
			continue
		}
		sum[s] += a
		n[s]++
	}
	return skipped
}

func finite(v float64) bool {
	return !math.IsNaN(v) && !math.IsInf(v, 0)
}

func relative(v, mean float64) float64 {
	return (v - mean) / mean * 100
}

// ByMemberYear reshapes a member-major series into rows of years.
func ByMemberYear(series []float64, members, years int) ([][]float64, error) {
	if members*years != len(series) {
		return nil, fmt.Errorf("series of %d values is not %d members x %d years", len(series), members, years)
	}
	out := make([][]float64, members)
	for m := range members {
		out[m] = series[m*years : (m+1)*years : (m+1)*years]
	}
	return out, nil
}
