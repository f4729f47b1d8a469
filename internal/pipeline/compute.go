package pipeline

import (
	"fmt"
	"math"

	"gonum.org/v1/gonum/mat"

	"github.com/couchcryptid/basin-anomaly/internal/anomaly"
	"github.com/couchcryptid/basin-anomaly/internal/basin"
	"github.com/couchcryptid/basin-anomaly/internal/domain"
	"github.com/couchcryptid/basin-anomaly/internal/grid"
)

// Compute derives the statistics of one basin from the seasonal hindcast and
// forecast. It performs no I/O. years lists the hindcast start years in field
// order. The returned report carries only basin and statistics fields; run
// labels are added by the caller. On a degenerate baseline the report's
// DegeneratePoints is still populated.
func Compute(engine anomaly.Engine, ps basin.PointSet, hind, fcst *grid.SeasonalField, years []int) (domain.BasinReport, error) {
	if len(years) != hind.Starts {
		return domain.BasinReport{}, fmt.Errorf("%w: %d hindcast years for %d starts", domain.ErrSchemaMismatch, len(years), hind.Starts)
	}
	hv, err := basin.Extract(ps, hind)
	if err != nil {
		return domain.BasinReport{}, fmt.Errorf("extract hindcast: %w", err)
	}
	fv, err := basin.Extract(ps, fcst)
	if err != nil {
		return domain.BasinReport{}, fmt.Errorf("extract forecast: %w", err)
	}

	report := domain.BasinReport{
		BasinIndex: ps.Index,
		BasinName:  ps.Name,
		Points:     len(ps.Points),
	}

	res, err := engine.Compute(hv, fv)
	report.DegeneratePoints = res.Degenerate
	report.MissingValues = res.Gaps
	if err != nil {
		return report, err
	}
	if !anyFinite(res.Forecast) {
		return report, fmt.Errorf("%w: no finite forecast value at the %d kept points", domain.ErrDegenerateBaseline, res.Used())
	}

	byMember, err := anomaly.ByMemberYear(res.Hindcast, hind.Members, hind.Starts)
	if err != nil {
		return report, err
	}

	kept := res.Kept()
	report.Hindcast = anomaly.Summarize(res.Hindcast, keptRows(hv, kept))
	report.Forecast = anomaly.Summarize(res.Forecast, keptRows(fv, kept))
	report.HindcastYears = anomaly.YearlySummaries(byMember, years)
	report.HindcastAnomaly = byMember
	report.ForecastAnomaly = res.Forecast
	return report, nil
}

// keptRows returns the listed rows of m, sharing its backing data when possible.
func keptRows(m *mat.Dense, idx []int) mat.Matrix {
	r, c := m.Dims()
	if len(idx) == r {
		return m
	}
	out := mat.NewDense(len(idx), c, nil)
	for i, p := range idx {
		out.SetRow(i, m.RawRowView(p))
	}
	return out
}

func anyFinite(xs []float64) bool {
	for _, x := range xs {
		if !math.IsNaN(x) && !math.IsInf(x, 0) {
			return true
		}
	}
	return false
}
