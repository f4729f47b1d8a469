// Command basinpoints assigns grid cells to basin polygons and writes one
// grid_points_within_<i>.csv per basin.
//
// Usage:
//
//	go run ./cmd/basinpoints \
//	  -grid data/hindcast/ecmwf_s51_stmonth10_hindcast1993-2016_monthly.nc \
//	  -basins data/basins/demarcaciones.geojson \
//	  -out data/basins
package main

import (
	"flag"
	"fmt"
	"log/slog"
	"os"

	sharedobs "github.com/couchcryptid/storm-data-shared/observability"

	"github.com/couchcryptid/basin-anomaly/internal/basin"
	"github.com/couchcryptid/basin-anomaly/internal/grid"
)

func main() {
	gridPath := flag.String("grid", "", "NetCDF file whose latitude/longitude axes define the grid")
	basinsPath := flag.String("basins", "", "GeoJSON FeatureCollection of basin polygons")
	outDir := flag.String("out", ".", "directory for grid_points_within_<i>.csv files")
	variable := flag.String("variable", "tprate", "data variable of the grid file")
	logLevel := flag.String("log-level", "info", "debug, info, warn or error")
	flag.Parse()

	if *gridPath == "" || *basinsPath == "" {
		flag.Usage()
		os.Exit(2)
	}

	logger := sharedobs.NewLogger(*logLevel, "text")
	if err := run(logger, *gridPath, *basinsPath, *outDir, *variable); err != nil {
		logger.Error("basinpoints failed", "error", err)
		os.Exit(1)
	}
}

func run(logger *slog.Logger, gridPath, basinsPath, outDir, variable string) error {
	lats, lons, err := grid.ReadCoordinates(gridPath, grid.NewSchema(variable, false))
	if err != nil {
		return err
	}

	f, err := os.Open(basinsPath)
	if err != nil {
		return fmt.Errorf("open basins: %w", err)
	}
	defer f.Close()
	boundaries, err := basin.ReadBoundaries(f)
	if err != nil {
		return err
	}

	return writeAll(logger, basin.NewLocator(lats, lons), boundaries, outDir)
}

func writeAll(logger *slog.Logger, loc *basin.Locator, boundaries []basin.Boundary, outDir string) error {
	if err := os.MkdirAll(outDir, 0o755); err != nil {
		return fmt.Errorf("create output dir: %w", err)
	}
	for _, b := range boundaries {
		ps := loc.Locate(b)
		if len(ps.Points) == 0 {
			return fmt.Errorf("basin %d (%s): grid is empty", b.Index, b.Name)
		}
		path, err := basin.WriteFile(outDir, ps)
		if err != nil {
			return err
		}
		logger.Info("basin points written", "basin", b.Index, "name", b.Name, "points", len(ps.Points), "path", path)
	}
	return nil
}
