// Package pipeline runs the per-year, per-basin anomaly batch.
package pipeline

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"path/filepath"
	"slices"
	"sync"
	"sync/atomic"
	"time"

	"github.com/couchcryptid/storm-data-shared/retry"

	"github.com/couchcryptid/basin-anomaly/internal/anomaly"
	"github.com/couchcryptid/basin-anomaly/internal/basin"
	"github.com/couchcryptid/basin-anomaly/internal/config"
	"github.com/couchcryptid/basin-anomaly/internal/domain"
	"github.com/couchcryptid/basin-anomaly/internal/grid"
	"github.com/couchcryptid/basin-anomaly/internal/observability"
)

// FieldLoader decodes an ensemble field from a file.
type FieldLoader interface {
	Load(ctx context.Context, path string, schema grid.Schema) (*grid.EnsembleField, error)
}

// BasinSource reads the grid points of a basin by 1-based index.
type BasinSource interface {
	ReadBasin(index int) (basin.PointSet, error)
}

// StatsWriter persists the statistics tables of a report.
type StatsWriter interface {
	WriteStats(r domain.BasinReport) (string, error)
	WriteYearly(r domain.BasinReport) (string, error)
}

// Renderer draws the boxplot image of a report.
type Renderer interface {
	Render(r domain.BasinReport) (string, error)
}

// BatchLoader publishes finished reports.
type BatchLoader interface {
	LoadBatch(ctx context.Context, reports []domain.BasinReport) error
}

// Stages are the collaborators of a run. Renderer and Loader are optional.
type Stages struct {
	Fields   FieldLoader
	Basins   BasinSource
	Stats    StatsWriter
	Renderer Renderer
	Loader   BatchLoader
}

// Summary counts the outcome of a run.
type Summary struct {
	Processed        int
	Failed           int
	YearsFailed      int
	RenderFailures   int
	DegeneratePoints int
	Published        int
	PublishFailures  int
	Outputs          []string
}

// OK reports whether every (basin, year) produced its statistics.
func (s Summary) OK() bool {
	return s.Failed == 0 && s.YearsFailed == 0 && s.PublishFailures == 0
}

// Progress is a point-in-time view of a run for status reporting.
type Progress struct {
	Running      bool      `json:"running"`
	ForecastYear int       `json:"forecast_year,omitempty"`
	Basin        int       `json:"basin,omitempty"`
	Processed    int       `json:"processed"`
	Failed       int       `json:"failed"`
	YearsFailed  int       `json:"years_failed"`
	Published    int       `json:"published"`
	StartedAt    time.Time `json:"started_at,omitzero"`
}

// Pipeline orchestrates loading, aggregation, per-basin computation and output.
type Pipeline struct {
	cfg     *config.Config
	stages  Stages
	engine  anomaly.Engine
	logger  *slog.Logger
	metrics *observability.Metrics
	ready   atomic.Bool

	mu       sync.Mutex
	progress Progress

	hindcast *seasonalInput
}

type seasonalInput struct {
	field *grid.SeasonalField
	years []int
}

// New creates a Pipeline with the given stages and observability.
func New(cfg *config.Config, s Stages, logger *slog.Logger, metrics *observability.Metrics) *Pipeline {
	return &Pipeline{
		cfg:     cfg,
		stages:  s,
		engine:  anomaly.Engine{Epsilon: cfg.DegenerateEpsilon},
		logger:  logger,
		metrics: metrics,
	}
}

// CheckReadiness returns nil once the run has written at least one basin,
// or an error describing why it has not.
func (p *Pipeline) CheckReadiness(_ context.Context) error {
	if !p.ready.Load() {
		return errors.New("pipeline has not written any basin statistics yet")
	}
	return nil
}

// Progress returns the current state of the run.
func (p *Pipeline) Progress() Progress {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.progress
}

func (p *Pipeline) track(fn func(*Progress)) {
	p.mu.Lock()
	fn(&p.progress)
	p.mu.Unlock()
}

func (p *Pipeline) trackSummary(sum *Summary, year, basin int) {
	p.track(func(pr *Progress) {
		pr.ForecastYear = year
		pr.Basin = basin
		pr.Processed = sum.Processed
		pr.Failed = sum.Failed
		pr.YearsFailed = sum.YearsFailed
		pr.Published = sum.Published
	})
}

// Run processes every configured forecast year. It stops between basins when
// ctx is cancelled and returns ctx.Err() in that case; unit failures are
// reported through the Summary only.
func (p *Pipeline) Run(ctx context.Context) (Summary, error) {
	p.logger.Info("run started",
		"forecast_years", p.cfg.ForecastYears,
		"start_month", p.cfg.StartMonth,
		"season", p.cfg.Season,
		"units", p.cfg.UnitConvention,
		"basins", p.cfg.BasinCount,
	)
	p.metrics.RunRunning.Set(1)
	defer p.metrics.RunRunning.Set(0)
	p.track(func(pr *Progress) { *pr = Progress{Running: true, StartedAt: time.Now().UTC()} })
	defer p.track(func(pr *Progress) { pr.Running = false })

	basins := p.readBasins()

	var sum Summary
	for _, year := range p.cfg.ForecastYears {
		if ctx.Err() != nil {
			break
		}
		p.runYear(ctx, year, basins, &sum)
	}

	p.logger.Info("run finished",
		"processed", sum.Processed,
		"failed", sum.Failed,
		"years_failed", sum.YearsFailed,
		"render_failures", sum.RenderFailures,
		"degenerate_points", sum.DegeneratePoints,
		"published", sum.Published,
	)
	if err := ctx.Err(); err != nil {
		p.logger.Info("run stopped early", "reason", err)
		return sum, err
	}
	return sum, nil
}

type basinInput struct {
	index int
	set   basin.PointSet
	err   error
}

func (p *Pipeline) readBasins() []basinInput {
	out := make([]basinInput, 0, p.cfg.BasinCount)
	for i := 1; i <= p.cfg.BasinCount; i++ {
		ps, err := p.stages.Basins.ReadBasin(i)
		if err != nil {
			p.logger.Error("read basin points failed", "basin", i, "error", err)
		}
		out = append(out, basinInput{index: i, set: ps, err: err})
	}
	return out
}

func (p *Pipeline) runYear(ctx context.Context, year int, basins []basinInput, sum *Summary) {
	log := p.logger.With("forecast_year", year)

	hind, err := p.hindcastInput(ctx)
	if err != nil {
		p.failYear(log, "prepare hindcast failed", err, sum)
		p.trackSummary(sum, year, 0)
		return
	}
	fcst, err := p.forecastInput(ctx, year)
	if err != nil {
		p.failYear(log, "prepare forecast failed", err, sum)
		p.trackSummary(sum, year, 0)
		return
	}
	if hind.field.Rows != fcst.Rows || hind.field.Cols != fcst.Cols {
		err := fmt.Errorf("%w: hindcast grid %dx%d, forecast grid %dx%d",
			domain.ErrSchemaMismatch, hind.field.Rows, hind.field.Cols, fcst.Rows, fcst.Cols)
		p.failYear(log, "grid mismatch", err, sum)
		p.trackSummary(sum, year, 0)
		return
	}

	var reports []domain.BasinReport
	for _, b := range basins {
		if ctx.Err() != nil {
			break
		}
		blog := log.With("basin", b.index)
		if b.err != nil {
			p.failBasin(blog, b.err, sum)
			continue
		}
		report, ok := p.runBasin(blog, year, b.set, hind, fcst, sum)
		if ok {
			reports = append(reports, report)
		}
		p.trackSummary(sum, year, b.index)
	}

	p.publish(ctx, log, reports, sum)
	p.trackSummary(sum, year, 0)
}

func (p *Pipeline) failYear(log *slog.Logger, msg string, err error, sum *Summary) {
	log.Error(msg, "error", err)
	sum.YearsFailed++
	p.metrics.YearsFailed.Inc()
}

func (p *Pipeline) failBasin(log *slog.Logger, err error, sum *Summary) {
	reason := failureReason(err)
	log.Error("basin failed", "reason", reason, "error", err)
	sum.Failed++
	p.metrics.BasinsFailed.WithLabelValues(reason).Inc()
}

func (p *Pipeline) runBasin(log *slog.Logger, year int, ps basin.PointSet, hind *seasonalInput, fcst *grid.SeasonalField, sum *Summary) (domain.BasinReport, bool) {
	start := time.Now()
	report, err := Compute(p.engine, ps, hind.field, fcst, hind.years)
	p.metrics.BasinComputeDuration.Observe(time.Since(start).Seconds())
	if n := len(report.DegeneratePoints); n > 0 {
		log.Warn("degenerate baseline points excluded", "points", report.DegeneratePoints, "epsilon", p.cfg.DegenerateEpsilon)
		sum.DegeneratePoints += n
		p.metrics.DegeneratePoints.Add(float64(n))
	}
	if report.MissingValues > 0 {
		log.Warn("non-finite values skipped", "count", report.MissingValues)
	}
	if err != nil {
		p.failBasin(log, err, sum)
		return domain.BasinReport{}, false
	}

	p.label(&report, year)
	if !p.cfg.YearlyStats {
		report.HindcastYears = nil
	}

	path, err := p.stages.Stats.WriteStats(report)
	if err != nil {
		p.failBasin(log, err, sum)
		return domain.BasinReport{}, false
	}
	sum.Outputs = append(sum.Outputs, path)

	if p.cfg.YearlyStats {
		if path, err := p.stages.Stats.WriteYearly(report); err != nil {
			log.Warn("write yearly statistics failed", "error", err)
		} else {
			sum.Outputs = append(sum.Outputs, path)
		}
	}

	if p.stages.Renderer != nil {
		if path, err := p.stages.Renderer.Render(report); err != nil {
			log.Warn("render failed, statistics kept", "error", err)
			sum.RenderFailures++
			p.metrics.RenderFailures.Inc()
		} else {
			sum.Outputs = append(sum.Outputs, path)
		}
	}

	sum.Processed++
	p.metrics.BasinsProcessed.Inc()
	p.ready.Store(true)
	log.Info("basin done", "name", report.BasinName, "points", report.Points, "forecast_median", report.Forecast.Median)
	return report, true
}

func (p *Pipeline) label(r *domain.BasinReport, year int) {
	r.ForecastYear = year
	r.StartMonth = p.cfg.StartMonth
	r.Season = p.cfg.Season
	r.Institution = p.cfg.Institution
	r.ModelName = p.cfg.ModelName
	r.HindcastStartYear = p.cfg.HindcastStartYear
	r.HindcastEndYear = p.cfg.HindcastEndYear
	r.Stamp()
}

// publish hands the year's reports to the loader, retrying with backoff.
func (p *Pipeline) publish(ctx context.Context, log *slog.Logger, reports []domain.BasinReport, sum *Summary) {
	if p.stages.Loader == nil || len(reports) == 0 {
		return
	}

	const attempts = 3
	backoff := 200 * time.Millisecond
	maxBackoff := 5 * time.Second

	var err error
	for i := range attempts {
		if err = p.stages.Loader.LoadBatch(ctx, reports); err == nil {
			sum.Published += len(reports)
			p.metrics.SummariesPublished.Add(float64(len(reports)))
			return
		}
		log.Warn("publish summaries failed", "attempt", i+1, "error", err)
		if i == attempts-1 || !retry.SleepWithContext(ctx, backoff) {
			break
		}
		backoff = retry.NextBackoff(backoff, maxBackoff)
	}
	log.Error("publish summaries gave up", "reports", len(reports), "error", err)
	sum.PublishFailures += len(reports)
}

// hindcastInput loads and aggregates the hindcast once per run.
func (p *Pipeline) hindcastInput(ctx context.Context) (*seasonalInput, error) {
	if p.hindcast != nil {
		return p.hindcast, nil
	}
	path := filepath.Join(p.cfg.HindcastDir,
		grid.HindcastFileName(p.cfg.Origin, p.cfg.System, p.cfg.StartMonth, p.cfg.HindcastStartYear, p.cfg.HindcastEndYear))
	f, err := p.stages.Fields.Load(ctx, path, grid.NewSchema(p.cfg.Variable, p.cfg.Lagged))
	if err != nil {
		return nil, fmt.Errorf("load hindcast: %w", err)
	}
	seasonal, err := p.seasonal(f)
	if err != nil {
		return nil, fmt.Errorf("hindcast: %w", err)
	}
	years := make([]int, len(f.StartDates))
	for i, d := range f.StartDates {
		years[i] = d.Year()
	}
	if want := p.cfg.HindcastYears(); !slices.Equal(years, want) {
		return nil, fmt.Errorf("%w: hindcast covers years %v, configured reference period is %d-%d",
			domain.ErrSchemaMismatch, years, p.cfg.HindcastStartYear, p.cfg.HindcastEndYear)
	}
	p.hindcast = &seasonalInput{field: seasonal, years: years}
	p.logger.Info("hindcast ready", "path", path, "members", seasonal.Members, "years", len(years))
	return p.hindcast, nil
}

func (p *Pipeline) forecastInput(ctx context.Context, year int) (*grid.SeasonalField, error) {
	path := filepath.Join(p.cfg.ForecastDir, grid.ForecastFileName(p.cfg.Origin, p.cfg.System, p.cfg.StartMonth, year))
	f, err := p.stages.Fields.Load(ctx, path, grid.NewSchema(p.cfg.Variable, p.cfg.Lagged))
	if err != nil {
		return nil, fmt.Errorf("load forecast: %w", err)
	}
	if n := len(f.StartDates); n != 1 {
		return nil, fmt.Errorf("%w: forecast has %d start dates, want 1", domain.ErrSchemaMismatch, n)
	}
	seasonal, err := p.seasonal(f)
	if err != nil {
		return nil, fmt.Errorf("forecast: %w", err)
	}
	return seasonal, nil
}

func (p *Pipeline) seasonal(f *grid.EnsembleField) (*grid.SeasonalField, error) {
	mm, err := grid.ConvertField(f, p.cfg.UnitConvention)
	if err != nil {
		return nil, err
	}
	return grid.WinterMean(mm, p.cfg.StartMonth, p.cfg.Season)
}

func failureReason(err error) string {
	switch {
	case errors.Is(err, domain.ErrMissingInputFile):
		return "missing_input"
	case errors.Is(err, domain.ErrMissingRequiredColumn):
		return "missing_column"
	case errors.Is(err, domain.ErrOutOfBounds):
		return "out_of_bounds"
	case errors.Is(err, domain.ErrDegenerateBaseline):
		return "degenerate_baseline"
	case errors.Is(err, domain.ErrSchemaMismatch):
		return "schema_mismatch"
	default:
		return "other"
	}
}
