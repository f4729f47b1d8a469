package grid

import "fmt"

// HindcastFileName follows the C3S download convention, e.g.
// "ecmwf_s51_stmonth10_hindcast1993-2016_monthly.nc".
func HindcastFileName(origin, system string, startMonth, startYear, endYear int) string {
	return fmt.Sprintf("%s_s%s_stmonth%02d_hindcast%d-%d_monthly.nc", origin, system, startMonth, startYear, endYear)
}

// ForecastFileName is the forecast counterpart of HindcastFileName, e.g.
// "ecmwf_s51_stmonth10_forecast2024_monthly.nc".
func ForecastFileName(origin, system string, startMonth, year int) string {
	return fmt.Sprintf("%s_s%s_stmonth%02d_forecast%d_monthly.nc", origin, system, startMonth, year)
}
