package anomaly

import (
	"errors"
	"math"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gonum.org/v1/gonum/mat"

	"github.com/couchcryptid/basin-anomaly/internal/domain"
)

func constant(rows, cols int, v float64) *mat.Dense {
	data := make([]float64, rows*cols)
	for i := range data {
		data[i] = v
	}
	return mat.NewDense(rows, cols, data)
}

func TestCompute_ConstantHindcastIsZero(t *testing.T) {
	res, err := Engine{Epsilon: DefaultEpsilon}.Compute(constant(3, 10, 4), constant(3, 5, 4))
	require.NoError(t, err)

	for _, v := range res.Hindcast {
		assert.InDelta(t, 0, v, 1e-12)
	}
	for _, v := range res.Forecast {
		assert.InDelta(t, 0, v, 1e-12)
	}
	assert.Empty(t, res.Degenerate)
	assert.Equal(t, 3, res.Used())
}

func TestCompute_ForecastDoubleIsHundredPercent(t *testing.T) {
	res, err := Engine{Epsilon: DefaultEpsilon}.Compute(constant(2, 6, 1.5), constant(2, 4, 3))
	require.NoError(t, err)
	for _, v := range res.Forecast {
		assert.InDelta(t, 100, v, 1e-9)
	}
}

func TestCompute_SharedBaselinePerPoint(t *testing.T) {
	// Point 0 mean 2, point 1 mean 4.
	hcst := mat.NewDense(2, 2, []float64{1, 3, 4, 4})
	fcst := mat.NewDense(2, 1, []float64{3, 2})

	res, err := Engine{Epsilon: DefaultEpsilon}.Compute(hcst, fcst)
	require.NoError(t, err)

	assert.Equal(t, []float64{2, 4}, res.Baseline)
	// Sample 0: (-50 + 0) / 2, sample 1: (50 + 0) / 2.
	assert.InDeltaSlice(t, []float64{-25, 25}, res.Hindcast, 1e-9)
	// (50 + -50) / 2.
	assert.InDeltaSlice(t, []float64{0}, res.Forecast, 1e-9)
}

func TestCompute_DegeneratePointsExcluded(t *testing.T) {
	hcst := mat.NewDense(2, 2, []float64{0, 0, 2, 2})
	fcst := mat.NewDense(2, 1, []float64{5, 4})

	res, err := Engine{Epsilon: DefaultEpsilon}.Compute(hcst, fcst)
	require.NoError(t, err)
	assert.Equal(t, []int{0}, res.Degenerate)
	assert.Equal(t, 1, res.Used())
	assert.InDeltaSlice(t, []float64{100}, res.Forecast, 1e-9)
}

func TestCompute_FillValues(t *testing.T) {
	nan := math.NaN()

	t.Run("nan hindcast sample makes the point degenerate", func(t *testing.T) {
		hcst := mat.NewDense(2, 3, []float64{2, 2, 2, 4, nan, 4})
		fcst := mat.NewDense(2, 1, []float64{3, 3})

		res, err := Engine{Epsilon: DefaultEpsilon}.Compute(hcst, fcst)
		require.NoError(t, err)
		assert.Equal(t, []int{1}, res.Degenerate)
		assert.Equal(t, []int{0}, res.Kept())
		assert.InDeltaSlice(t, []float64{0, 0, 0}, res.Hindcast, 1e-9)
		assert.InDeltaSlice(t, []float64{50}, res.Forecast, 1e-9)
		assert.Zero(t, res.Gaps)
	})

	t.Run("nan forecast value is skipped for its sample", func(t *testing.T) {
		hcst := constant(2, 4, 2)
		fcst := mat.NewDense(2, 2, []float64{3, nan, 4, 3})

		res, err := Engine{Epsilon: DefaultEpsilon}.Compute(hcst, fcst)
		require.NoError(t, err)
		assert.Equal(t, 1, res.Gaps)
		// Sample 0: (50 + 100) / 2, sample 1: point 1 only.
		assert.InDeltaSlice(t, []float64{75, 50}, res.Forecast, 1e-9)
	})

	t.Run("sample without a finite value is nan", func(t *testing.T) {
		hcst := constant(2, 4, 2)
		fcst := mat.NewDense(2, 2, []float64{nan, 3, nan, 3})

		res, err := Engine{Epsilon: DefaultEpsilon}.Compute(hcst, fcst)
		require.NoError(t, err)
		assert.Equal(t, 2, res.Gaps)
		assert.True(t, math.IsNaN(res.Forecast[0]))
		assert.InDelta(t, 50, res.Forecast[1], 1e-9)
	})
}

func TestCompute_AllDegenerate(t *testing.T) {
	res, err := Engine{Epsilon: DefaultEpsilon}.Compute(constant(3, 4, 0), constant(3, 2, 1))
	require.Error(t, err)
	assert.ErrorIs(t, err, domain.ErrDegenerateBaseline)

	var dbe *domain.DegenerateBaselineError
	require.True(t, errors.As(err, &dbe))
	assert.Equal(t, []int{0, 1, 2}, dbe.Points)
	assert.Equal(t, []int{0, 1, 2}, res.Degenerate)
}

func TestCompute_PointCountMismatch(t *testing.T) {
	_, err := Engine{}.Compute(constant(3, 4, 1), constant(2, 2, 1))
	assert.ErrorIs(t, err, domain.ErrSchemaMismatch)
}

func TestByMemberYear(t *testing.T) {
	out, err := ByMemberYear([]float64{1, 2, 3, 4, 5, 6}, 2, 3)
	require.NoError(t, err)
	assert.Equal(t, [][]float64{{1, 2, 3}, {4, 5, 6}}, out)

	_, err = ByMemberYear([]float64{1, 2, 3}, 2, 2)
	assert.Error(t, err)
}

func TestEndToEnd_ConstantFields(t *testing.T) {
	const members, years, fcstMembers, points = 25, 24, 51, 7

	res, err := Engine{Epsilon: DefaultEpsilon}.Compute(
		constant(points, members*years, 2.0),
		constant(points, fcstMembers, 3.0),
	)
	require.NoError(t, err)

	byYear, err := ByMemberYear(res.Hindcast, members, years)
	require.NoError(t, err)
	require.Len(t, byYear, members)
	for _, row := range byYear {
		require.Len(t, row, years)
		for _, v := range row {
			assert.InDelta(t, 0, v, 1e-12)
		}
	}
	require.Len(t, res.Forecast, fcstMembers)
	for _, v := range res.Forecast {
		assert.InDelta(t, 50, v, 1e-9)
	}

	fs := Summarize(res.Forecast, constant(points, fcstMembers, 3.0))
	assert.Equal(t, domain.Summary{P95: 50, Q3: 50, Median: 50, Q1: 50, P5: 50, Mean: 3, Std: 0}, fs)

	hs := Summarize(res.Hindcast, constant(points, members*years, 2.0))
	assert.Equal(t, domain.Summary{Mean: 2}, hs)
}
