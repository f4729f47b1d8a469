// Package domain models seasonal precipitation verification for river basins.
//
// # Data Source
//
// Hindcast and forecast fields come from C3S seasonal systems (ECMWF SEAS5 by
// default) as monthly mean total precipitation rate ("tprate", m/s). Hindcast
// files hold one start date per historical year; forecast files hold a single
// start date. Lead months ("forecastMonth") are 1-based: lead 1 is the start
// month itself.
//
// # Season Windows
//
// The extended winter (NDJFM) spans November through March:
//
//	start month 10 (October):  leads 2..6
//	start month 11 (November): leads 1..5
//
// The DJF variant (December through February) uses leads 3..5 and 2..4.
// Other start months cannot cover either window and are rejected.
//
// # Anomalies
//
// Relative anomaly for a grid point p and sample s:
//
//	(value[p,s] - hindcastMean[p]) / hindcastMean[p] * 100
//
// Forecast samples use the hindcast mean as their baseline; a forecast is never
// normalised against itself. Basin anomalies are the mean over basin points.
//
// # Basin Points
//
// Basin membership files list grid indices per basin. "x_grid" is the latitude
// index (row) and "y_grid" the longitude index (column), both in the index
// space of the grid the file was generated against.
package domain
