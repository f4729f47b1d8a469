package domain

import (
	"fmt"
	"math"
	"time"
)

// Season names an aggregation window over lead months.
type Season string

const (
	SeasonNDJFM Season = "ndjfm"
	SeasonDJF   Season = "djf"
)

// Label is the upper-case form used in titles and file names.
func (s Season) Label() string {
	switch s {
	case SeasonDJF:
		return "DJF"
	default:
		return "NDJFM"
	}
}

// UnitConvention selects how a monthly mean rate becomes a monthly depth.
type UnitConvention string

const (
	// UnitsFlat30 multiplies every month by 30 days.
	UnitsFlat30 UnitConvention = "flat-30"
	// UnitsDaysInMonth uses the calendar length of the valid month.
	UnitsDaysInMonth UnitConvention = "days-in-month"
)

// Statistic is one named row of a summary table.
type Statistic struct {
	Name  string  `json:"name"`
	Value float64 `json:"value"`
}

// Summary holds the percentile and moment statistics of one series. The
// percentiles describe anomalies (%), Mean and Std the raw basin values (mm).
type Summary struct {
	P95    float64 `json:"p95"`
	Q3     float64 `json:"q3"`
	Median float64 `json:"median"`
	Q1     float64 `json:"q1"`
	P5     float64 `json:"p5"`
	Mean   float64 `json:"mean"`
	Std    float64 `json:"std"`
}

// Rows returns the statistics in table order.
func (s Summary) Rows() []Statistic {
	return []Statistic{
		{Name: "95th Percentile", Value: s.P95},
		{Name: "75th Percentile (Q3)", Value: s.Q3},
		{Name: "Median (Q2)", Value: s.Median},
		{Name: "25th Percentile (Q1)", Value: s.Q1},
		{Name: "5th Percentile", Value: s.P5},
		{Name: "Basin precip mean (l/m^2)", Value: s.Mean},
		{Name: "Basin precip std (l/m^2)", Value: s.Std},
	}
}

// Rounded returns a copy with every value rounded to two decimals.
func (s Summary) Rounded() Summary {
	return Summary{
		P95:    Round2(s.P95),
		Q3:     Round2(s.Q3),
		Median: Round2(s.Median),
		Q1:     Round2(s.Q1),
		P5:     Round2(s.P5),
		Mean:   Round2(s.Mean),
		Std:    Round2(s.Std),
	}
}

// YearSummary holds the anomaly percentiles of one hindcast year across members.
type YearSummary struct {
	Year   int     `json:"year"`
	P95    float64 `json:"p95"`
	Q3     float64 `json:"q3"`
	Median float64 `json:"median"`
	Q1     float64 `json:"q1"`
	P5     float64 `json:"p5"`
}

// BasinReport is the terminal result for one (basin, forecast year).
type BasinReport struct {
	BasinIndex        int       `json:"basin_index"`
	BasinName         string    `json:"basin_name"`
	ForecastYear      int       `json:"forecast_year"`
	StartMonth        int       `json:"start_month"`
	Season            Season    `json:"season"`
	Institution       string    `json:"institution"`
	ModelName         string    `json:"model_name"`
	HindcastStartYear int       `json:"hindcast_start_year"`
	HindcastEndYear   int       `json:"hindcast_end_year"`
	Points            int       `json:"points"`
	DegeneratePoints  []int     `json:"degenerate_points,omitempty"`
	MissingValues     int       `json:"missing_values,omitempty"`
	Hindcast          Summary   `json:"hindcast"`
	Forecast          Summary   `json:"forecast"`
	GeneratedAt       time.Time `json:"generated_at"`

	HindcastYears []YearSummary `json:"hindcast_years,omitempty"`

	// Basin-mean anomaly series: hindcast member x year, forecast per member.
	HindcastAnomaly [][]float64 `json:"-"`
	ForecastAnomaly []float64   `json:"-"`
}

// Stamp sets GeneratedAt from the package clock.
func (r *BasinReport) Stamp() {
	r.GeneratedAt = clock.Now().UTC()
}

// ReferenceLabel is the hindcast column header, e.g. "Reference 1993-2016".
func (r BasinReport) ReferenceLabel() string {
	return fmt.Sprintf("Reference %d-%d", r.HindcastStartYear, r.HindcastEndYear)
}

// ForecastLabel is the forecast column header, e.g. "Forecast 2024/2025".
func (r BasinReport) ForecastLabel() string {
	return fmt.Sprintf("Forecast %d/%d", r.ForecastYear, r.ForecastYear+1)
}

// Key identifies the report deterministically so republishing is idempotent.
func (r BasinReport) Key() string {
	return fmt.Sprintf("basin-%02d-%d-stmonth%02d-%s", r.BasinIndex, r.ForecastYear, r.StartMonth, r.Season)
}

// Round2 rounds half away from zero to two decimals.
func Round2(v float64) float64 {
	return math.Round(v*100) / 100
}
