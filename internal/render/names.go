// Package render writes basin statistics as CSV tables and boxplot images.
package render

import (
	"fmt"

	"github.com/couchcryptid/basin-anomaly/internal/domain"
)

func stem(r domain.BasinReport) string {
	return fmt.Sprintf("basin_%d_%s_%s_stmonth_%d_%s_%d",
		r.BasinIndex, r.Institution, r.ModelName, r.StartMonth, r.Season.Label(), r.ForecastYear)
}

// StatsFileName is e.g. "HindcastForecast_stats_basin_3_ECMWF_SEAS5_stmonth_10_NDJFM_2024.csv".
func StatsFileName(r domain.BasinReport) string {
	return "HindcastForecast_stats_" + stem(r) + ".csv"
}

// YearlyFileName holds the per-year hindcast statistics for the same basin and year.
func YearlyFileName(r domain.BasinReport) string {
	return "HindcastForecast_stats_" + stem(r) + "_yearly.csv"
}

// PlotFileName is e.g. "HindcastForecast_basin_3_ECMWF_SEAS5_stmonth_10_NDJFM_2024.png".
func PlotFileName(r domain.BasinReport) string {
	return "HindcastForecast_" + stem(r) + ".png"
}
