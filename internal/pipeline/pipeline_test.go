package pipeline_test

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"testing"
	"time"

	"github.com/google/go-cmp/cmp"
	"github.com/google/go-cmp/cmp/cmpopts"
	"github.com/jonboulle/clockwork"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/couchcryptid/basin-anomaly/internal/basin"
	"github.com/couchcryptid/basin-anomaly/internal/config"
	"github.com/couchcryptid/basin-anomaly/internal/domain"
	"github.com/couchcryptid/basin-anomaly/internal/grid"
	"github.com/couchcryptid/basin-anomaly/internal/observability"
	"github.com/couchcryptid/basin-anomaly/internal/pipeline"
)

// flat30 converts 1 m/s to mm over a 30-day month.
const flat30 = 1000 * 86400 * 30

// --- mocks ---

type mockFields struct {
	mu     sync.Mutex
	fields map[string]*grid.EnsembleField
	calls  map[string]int
}

func (m *mockFields) Load(_ context.Context, path string, _ grid.Schema) (*grid.EnsembleField, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.calls == nil {
		m.calls = make(map[string]int)
	}
	m.calls[path]++
	f, ok := m.fields[path]
	if !ok {
		return nil, fmt.Errorf("%w: %s", domain.ErrMissingInputFile, path)
	}
	return f, nil
}

type mockBasins map[int]basin.PointSet

func (m mockBasins) ReadBasin(index int) (basin.PointSet, error) {
	ps, ok := m[index]
	if !ok {
		return basin.PointSet{}, fmt.Errorf("%w: basin %d", domain.ErrMissingInputFile, index)
	}
	return ps, nil
}

type mockStats struct {
	written []domain.BasinReport
	yearly  int
	err     error
}

func (m *mockStats) WriteStats(r domain.BasinReport) (string, error) {
	if m.err != nil {
		return "", m.err
	}
	m.written = append(m.written, r)
	return fmt.Sprintf("stats-%s.csv", r.Key()), nil
}

func (m *mockStats) WriteYearly(r domain.BasinReport) (string, error) {
	m.yearly++
	return fmt.Sprintf("yearly-%s.csv", r.Key()), nil
}

type mockRenderer struct {
	err   error
	calls int
}

func (m *mockRenderer) Render(r domain.BasinReport) (string, error) {
	m.calls++
	if m.err != nil {
		return "", m.err
	}
	return fmt.Sprintf("plot-%s.png", r.Key()), nil
}

type mockLoader struct {
	loaded []domain.BasinReport
	fails  int
}

func (m *mockLoader) LoadBatch(_ context.Context, reports []domain.BasinReport) error {
	if m.fails > 0 {
		m.fails--
		return errors.New("broker unavailable")
	}
	m.loaded = append(m.loaded, reports...)
	return nil
}

// --- fixtures ---

func ensemble(members int, years []int, rows, cols int, depth float64) *grid.EnsembleField {
	ids := make([]int, members)
	for i := range ids {
		ids[i] = i
	}
	starts := make([]time.Time, len(years))
	for i, y := range years {
		starts[i] = time.Date(y, time.October, 1, 0, 0, 0, 0, time.UTC)
	}
	lats := make([]float64, rows)
	for i := range lats {
		lats[i] = 44 - float64(i)
	}
	lons := make([]float64, cols)
	for i := range lons {
		lons[i] = -9 + float64(i)
	}
	f := grid.NewEnsembleField("tprate", ids, starts, []int{1, 2, 3, 4, 5, 6}, lats, lons)
	for i := range f.Data {
		f.Data[i] = depth / flat30
	}
	return f
}

func yearRange(from, to int) []int {
	var ys []int
	for y := from; y <= to; y++ {
		ys = append(ys, y)
	}
	return ys
}

func testConfig(t *testing.T) *config.Config {
	t.Helper()
	return &config.Config{
		Institution:       "ECMWF",
		ModelName:         "SEAS5",
		Origin:            "ecmwf",
		System:            "51",
		Variable:          "tprate",
		StartMonth:        10,
		HindcastStartYear: 1993,
		HindcastEndYear:   2016,
		ForecastYears:     []int{2024},
		Season:            domain.SeasonNDJFM,
		UnitConvention:    domain.UnitsFlat30,
		BasinCount:        2,
		DegenerateEpsilon: 1e-6,
		HindcastDir:       "hc",
		ForecastDir:       "fc",
		YearlyStats:       true,
	}
}

func hindcastPath(cfg *config.Config) string {
	return "hc/" + grid.HindcastFileName(cfg.Origin, cfg.System, cfg.StartMonth, cfg.HindcastStartYear, cfg.HindcastEndYear)
}

func forecastPath(cfg *config.Config, year int) string {
	return "fc/" + grid.ForecastFileName(cfg.Origin, cfg.System, cfg.StartMonth, year)
}

func twoBasins() mockBasins {
	return mockBasins{
		1: {Index: 1, Name: "Ebro", Points: []basin.Point{{Row: 0, Col: 0}, {Row: 1, Col: 2}}},
		2: {Index: 2, Name: "Tajo", Points: []basin.Point{{Row: 2, Col: 3}}},
	}
}

func newTestMetrics() *observability.Metrics {
	return observability.NewMetricsForTesting()
}

// --- tests ---

func TestPipeline_Run_ConstantFields(t *testing.T) {
	fake := clockwork.NewFakeClockAt(time.Date(2024, 11, 5, 8, 0, 0, 0, time.UTC))
	domain.SetClock(fake)
	t.Cleanup(func() { domain.SetClock(nil) })

	cfg := testConfig(t)
	fields := &mockFields{fields: map[string]*grid.EnsembleField{
		hindcastPath(cfg):       ensemble(25, yearRange(1993, 2016), 3, 4, 2.0),
		forecastPath(cfg, 2024): ensemble(51, []int{2024}, 3, 4, 3.0),
	}}
	stats := &mockStats{}
	renderer := &mockRenderer{}
	loader := &mockLoader{}
	metrics := newTestMetrics()

	p := pipeline.New(cfg, pipeline.Stages{
		Fields: fields, Basins: twoBasins(), Stats: stats, Renderer: renderer, Loader: loader,
	}, slog.Default(), metrics)

	require.Error(t, p.CheckReadiness(context.Background()))

	sum, err := p.Run(context.Background())
	require.NoError(t, err)
	assert.True(t, sum.OK())
	assert.Equal(t, 2, sum.Processed)
	assert.Equal(t, 2, sum.Published)
	assert.Len(t, sum.Outputs, 6) // stats, yearly, plot per basin
	require.NoError(t, p.CheckReadiness(context.Background()))

	require.Len(t, stats.written, 2)
	got := stats.written[0]

	want := domain.BasinReport{
		BasinIndex:        1,
		BasinName:         "Ebro",
		ForecastYear:      2024,
		StartMonth:        10,
		Season:            domain.SeasonNDJFM,
		Institution:       "ECMWF",
		ModelName:         "SEAS5",
		HindcastStartYear: 1993,
		HindcastEndYear:   2016,
		Points:            2,
		Hindcast:          domain.Summary{Mean: 2},
		Forecast:          domain.Summary{P95: 50, Q3: 50, Median: 50, Q1: 50, P5: 50, Mean: 3},
		GeneratedAt:       fake.Now().UTC(),
	}
	opts := cmpopts.IgnoreFields(domain.BasinReport{}, "HindcastYears", "HindcastAnomaly", "ForecastAnomaly")
	if diff := cmp.Diff(want, got, opts); diff != "" {
		t.Errorf("report mismatch (-want +got):\n%s", diff)
	}

	require.Len(t, got.HindcastAnomaly, 25)
	for _, row := range got.HindcastAnomaly {
		require.Len(t, row, 24)
		for _, v := range row {
			assert.InDelta(t, 0, v, 1e-9)
		}
	}
	require.Len(t, got.ForecastAnomaly, 51)
	for _, v := range got.ForecastAnomaly {
		assert.InDelta(t, 50, v, 1e-9)
	}
	require.Len(t, got.HindcastYears, 24)
	assert.Equal(t, 1993, got.HindcastYears[0].Year)
	assert.Equal(t, 2, stats.yearly)

	assert.Equal(t, 1, fields.calls[hindcastPath(cfg)], "hindcast prepared once")
	assert.InDelta(t, 2, testutil.ToFloat64(metrics.BasinsProcessed), 0)
	assert.InDelta(t, 2, testutil.ToFloat64(metrics.SummariesPublished), 0)
	assert.InDelta(t, 0, testutil.ToFloat64(metrics.RunRunning), 0)
}

func TestPipeline_Run_HindcastLoadedOncePerRun(t *testing.T) {
	cfg := testConfig(t)
	cfg.ForecastYears = []int{2022, 2023}
	fields := &mockFields{fields: map[string]*grid.EnsembleField{
		hindcastPath(cfg):       ensemble(2, yearRange(1993, 2016), 3, 4, 2.0),
		forecastPath(cfg, 2022): ensemble(3, []int{2022}, 3, 4, 1.0),
		forecastPath(cfg, 2023): ensemble(3, []int{2023}, 3, 4, 4.0),
	}}
	stats := &mockStats{}

	p := pipeline.New(cfg, pipeline.Stages{Fields: fields, Basins: twoBasins(), Stats: stats}, slog.Default(), newTestMetrics())
	sum, err := p.Run(context.Background())
	require.NoError(t, err)

	assert.Equal(t, 4, sum.Processed)
	assert.Equal(t, 1, fields.calls[hindcastPath(cfg)])
	require.Len(t, stats.written, 4)
	assert.InDelta(t, -50, stats.written[0].Forecast.Median, 1e-9)
	assert.InDelta(t, 100, stats.written[2].Forecast.Median, 1e-9)
}

func TestPipeline_Run_MissingForecastFailsYearOnly(t *testing.T) {
	cfg := testConfig(t)
	cfg.ForecastYears = []int{2023, 2024}
	fields := &mockFields{fields: map[string]*grid.EnsembleField{
		hindcastPath(cfg):       ensemble(2, yearRange(1993, 2016), 3, 4, 2.0),
		forecastPath(cfg, 2024): ensemble(3, []int{2024}, 3, 4, 3.0),
	}}
	metrics := newTestMetrics()

	p := pipeline.New(cfg, pipeline.Stages{Fields: fields, Basins: twoBasins(), Stats: &mockStats{}}, slog.Default(), metrics)
	sum, err := p.Run(context.Background())
	require.NoError(t, err)

	assert.False(t, sum.OK())
	assert.Equal(t, 1, sum.YearsFailed)
	assert.Equal(t, 2, sum.Processed)
	assert.InDelta(t, 1, testutil.ToFloat64(metrics.YearsFailed), 0)
}

func TestPipeline_Progress(t *testing.T) {
	cfg := testConfig(t)
	cfg.ForecastYears = []int{2023, 2024}
	fields := &mockFields{fields: map[string]*grid.EnsembleField{
		hindcastPath(cfg):       ensemble(2, yearRange(1993, 2016), 3, 4, 2.0),
		forecastPath(cfg, 2024): ensemble(3, []int{2024}, 3, 4, 3.0),
	}}

	p := pipeline.New(cfg, pipeline.Stages{Fields: fields, Basins: twoBasins(), Stats: &mockStats{}}, slog.Default(), newTestMetrics())
	assert.False(t, p.Progress().Running)

	_, err := p.Run(context.Background())
	require.NoError(t, err)

	got := p.Progress()
	assert.False(t, got.Running)
	assert.False(t, got.StartedAt.IsZero())
	assert.Equal(t, 2024, got.ForecastYear)
	assert.Equal(t, 2, got.Processed)
	assert.Equal(t, 1, got.YearsFailed)
}

func TestPipeline_Run_HindcastYearsMustMatchReferencePeriod(t *testing.T) {
	cfg := testConfig(t)
	fields := &mockFields{fields: map[string]*grid.EnsembleField{
		hindcastPath(cfg):       ensemble(2, yearRange(2010, 2012), 3, 4, 2.0),
		forecastPath(cfg, 2024): ensemble(3, []int{2024}, 3, 4, 3.0),
	}}
	stats := &mockStats{}
	metrics := newTestMetrics()

	p := pipeline.New(cfg, pipeline.Stages{Fields: fields, Basins: twoBasins(), Stats: stats}, slog.Default(), metrics)
	sum, err := p.Run(context.Background())
	require.NoError(t, err)

	assert.False(t, sum.OK())
	assert.Equal(t, 1, sum.YearsFailed)
	assert.Zero(t, sum.Processed)
	assert.Empty(t, stats.written)
	assert.InDelta(t, 1, testutil.ToFloat64(metrics.YearsFailed), 0)
}

func TestPipeline_Run_BasinFailuresContinue(t *testing.T) {
	cfg := testConfig(t)
	cfg.BasinCount = 3
	basins := twoBasins()
	basins[2] = basin.PointSet{Index: 2, Name: "Tajo", Points: []basin.Point{{Row: 9, Col: 0}}}
	fields := &mockFields{fields: map[string]*grid.EnsembleField{
		hindcastPath(cfg):       ensemble(2, yearRange(1993, 2016), 3, 4, 2.0),
		forecastPath(cfg, 2024): ensemble(3, []int{2024}, 3, 4, 3.0),
	}}
	metrics := newTestMetrics()

	p := pipeline.New(cfg, pipeline.Stages{Fields: fields, Basins: basins, Stats: &mockStats{}}, slog.Default(), metrics)
	sum, err := p.Run(context.Background())
	require.NoError(t, err)

	assert.Equal(t, 1, sum.Processed)
	assert.Equal(t, 2, sum.Failed)
	assert.InDelta(t, 1, testutil.ToFloat64(metrics.BasinsFailed.WithLabelValues("out_of_bounds")), 0)
	assert.InDelta(t, 1, testutil.ToFloat64(metrics.BasinsFailed.WithLabelValues("missing_input")), 0)
}

func TestPipeline_Run_DegenerateBaseline(t *testing.T) {
	cfg := testConfig(t)
	cfg.BasinCount = 1
	hind := ensemble(2, yearRange(1993, 2016), 3, 4, 2.0)
	for i := range hind.Data {
		hind.Data[i] = 0
	}
	fields := &mockFields{fields: map[string]*grid.EnsembleField{
		hindcastPath(cfg):       hind,
		forecastPath(cfg, 2024): ensemble(3, []int{2024}, 3, 4, 3.0),
	}}
	metrics := newTestMetrics()

	p := pipeline.New(cfg, pipeline.Stages{Fields: fields, Basins: twoBasins(), Stats: &mockStats{}}, slog.Default(), metrics)
	sum, err := p.Run(context.Background())
	require.NoError(t, err)

	assert.Equal(t, 1, sum.Failed)
	assert.Equal(t, 2, sum.DegeneratePoints)
	assert.InDelta(t, 1, testutil.ToFloat64(metrics.BasinsFailed.WithLabelValues("degenerate_baseline")), 0)
	assert.InDelta(t, 2, testutil.ToFloat64(metrics.DegeneratePoints), 0)
}

func TestPipeline_Run_RenderFailureKeepsStatistics(t *testing.T) {
	cfg := testConfig(t)
	fields := &mockFields{fields: map[string]*grid.EnsembleField{
		hindcastPath(cfg):       ensemble(2, yearRange(1993, 2016), 3, 4, 2.0),
		forecastPath(cfg, 2024): ensemble(3, []int{2024}, 3, 4, 3.0),
	}}
	stats := &mockStats{}
	renderer := &mockRenderer{err: errors.New("font missing")}
	metrics := newTestMetrics()

	p := pipeline.New(cfg, pipeline.Stages{Fields: fields, Basins: twoBasins(), Stats: stats, Renderer: renderer}, slog.Default(), metrics)
	sum, err := p.Run(context.Background())
	require.NoError(t, err)

	assert.True(t, sum.OK())
	assert.Equal(t, 2, sum.Processed)
	assert.Equal(t, 2, sum.RenderFailures)
	assert.Len(t, stats.written, 2)
	assert.InDelta(t, 2, testutil.ToFloat64(metrics.RenderFailures), 0)
}

func TestPipeline_Run_PublishRetries(t *testing.T) {
	cfg := testConfig(t)
	fields := &mockFields{fields: map[string]*grid.EnsembleField{
		hindcastPath(cfg):       ensemble(2, yearRange(1993, 2016), 3, 4, 2.0),
		forecastPath(cfg, 2024): ensemble(3, []int{2024}, 3, 4, 3.0),
	}}
	loader := &mockLoader{fails: 1}

	p := pipeline.New(cfg, pipeline.Stages{Fields: fields, Basins: twoBasins(), Stats: &mockStats{}, Loader: loader}, slog.Default(), newTestMetrics())
	sum, err := p.Run(context.Background())
	require.NoError(t, err)

	assert.True(t, sum.OK())
	assert.Equal(t, 2, sum.Published)
	assert.Len(t, loader.loaded, 2)
}

func TestPipeline_Run_StartMonthMismatch(t *testing.T) {
	cfg := testConfig(t)
	cfg.StartMonth = 11
	fields := &mockFields{fields: map[string]*grid.EnsembleField{
		"hc/" + grid.HindcastFileName("ecmwf", "51", 11, 1993, 2016): ensemble(2, yearRange(1993, 2016), 3, 4, 2.0),
		"fc/" + grid.ForecastFileName("ecmwf", "51", 11, 2024):       ensemble(3, []int{2024}, 3, 4, 3.0),
	}}

	p := pipeline.New(cfg, pipeline.Stages{Fields: fields, Basins: twoBasins(), Stats: &mockStats{}}, slog.Default(), newTestMetrics())
	sum, err := p.Run(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 1, sum.YearsFailed)
	assert.Zero(t, sum.Processed)
}

func TestPipeline_Run_ContextCancellation(t *testing.T) {
	cfg := testConfig(t)
	fields := &mockFields{}
	stats := &mockStats{}

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	p := pipeline.New(cfg, pipeline.Stages{Fields: fields, Basins: twoBasins(), Stats: stats}, slog.Default(), newTestMetrics())
	_, err := p.Run(ctx)
	require.ErrorIs(t, err, context.Canceled)
	assert.Empty(t, stats.written)
	assert.Empty(t, fields.calls)
}
