package observability

import (
	"github.com/prometheus/client_golang/prometheus"
)

const namespace = "basin_anomaly"

// Metrics holds the Prometheus counters, histograms, and gauges for a batch run.
type Metrics struct {
	BasinsProcessed    prometheus.Counter
	BasinsFailed       *prometheus.CounterVec // labels: reason
	YearsFailed        prometheus.Counter
	DegeneratePoints   prometheus.Counter
	RenderFailures     prometheus.Counter
	SummariesPublished prometheus.Counter
	RunRunning         prometheus.Gauge

	BasinComputeDuration prometheus.Histogram

	FieldCache *prometheus.CounterVec // labels: result={hit,miss}
}

// NewMetrics creates and registers all run metrics with the default Prometheus registry.
func NewMetrics() *Metrics {
	m := newMetrics()
	prometheus.MustRegister(
		m.BasinsProcessed,
		m.BasinsFailed,
		m.YearsFailed,
		m.DegeneratePoints,
		m.RenderFailures,
		m.SummariesPublished,
		m.RunRunning,
		m.BasinComputeDuration,
		m.FieldCache,
	)
	return m
}

// NewMetricsForTesting creates unregistered Metrics to avoid
// "already registered" panics when called from multiple tests.
func NewMetricsForTesting() *Metrics {
	return newMetrics()
}

func newMetrics() *Metrics {
	return &Metrics{
		BasinsProcessed: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "basins_processed_total",
			Help:      "Basin and forecast year pairs whose statistics were written.",
		}),
		BasinsFailed: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "basins_failed_total",
			Help:      "Basin and forecast year pairs that produced no statistics, by reason.",
		}, []string{"reason"}),
		YearsFailed: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "years_failed_total",
			Help:      "Forecast years skipped because their fields could not be prepared.",
		}),
		DegeneratePoints: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "degenerate_points_total",
			Help:      "Grid points excluded for a near-zero climatological mean.",
		}),
		RenderFailures: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "render_failures_total",
			Help:      "Boxplot images that could not be written.",
		}),
		SummariesPublished: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "summaries_published_total",
			Help:      "Basin summaries written to the Kafka topic.",
		}),
		RunRunning: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "run_running",
			Help:      "1 while a batch run is in progress, 0 otherwise.",
		}),
		BasinComputeDuration: prometheus.NewHistogram(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "basin_compute_duration_seconds",
			Help:      "Duration of extraction, anomaly and statistics for one basin.",
			Buckets:   []float64{0.001, 0.005, 0.01, 0.05, 0.1, 0.5, 1, 5},
		}),
		FieldCache: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "field_cache_total",
			Help:      "Ensemble field cache lookups by result.",
		}, []string{"result"}),
	}
}
