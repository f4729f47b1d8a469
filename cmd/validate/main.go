// Command validate checks basin membership files against the grid they were
// derived from: every file is readable, every cell lies inside the grid, the
// recorded coordinates match the grid axes and each basin carries a name.
//
// Usage:
//
//	go run ./cmd/validate \
//	  -grid data/hindcast/ecmwf_s51_stmonth10_hindcast1993-2016_monthly.nc \
//	  -basin-dir data/basins \
//	  -count 25
package main

import (
	"flag"
	"fmt"
	"io"
	"math"
	"os"

	"github.com/couchcryptid/basin-anomaly/internal/basin"
	"github.com/couchcryptid/basin-anomaly/internal/grid"
)

// phase tracks pass/fail for a validation phase.
type phase struct {
	name   string
	errors []string
}

func (p *phase) errorf(format string, args ...any) {
	p.errors = append(p.errors, fmt.Sprintf(format, args...))
}

func (p *phase) passed() bool { return len(p.errors) == 0 }

func main() {
	gridPath := flag.String("grid", "", "NetCDF file whose latitude/longitude axes define the grid")
	basinDir := flag.String("basin-dir", "", "directory containing grid_points_within_<i>.csv files")
	count := flag.Int("count", 25, "number of basins")
	variable := flag.String("variable", "tprate", "data variable of the grid file")
	tolerance := flag.Float64("tolerance", 1e-4, "allowed coordinate difference in degrees")
	flag.Parse()

	if *gridPath == "" || *basinDir == "" || *count <= 0 {
		flag.Usage()
		os.Exit(1)
	}

	lats, lons, err := grid.ReadCoordinates(*gridPath, grid.NewSchema(*variable, false))
	if err != nil {
		fmt.Fprintf(os.Stderr, "FATAL: read grid: %v\n", err)
		os.Exit(1)
	}

	if code := run(os.Stdout, basin.Dir(*basinDir), *count, lats, lons, *tolerance); code != 0 {
		os.Exit(code)
	}
}

// basinReader is satisfied by basin.Dir.
type basinReader interface {
	ReadBasin(index int) (basin.PointSet, error)
}

func run(out io.Writer, src basinReader, count int, lats, lons []float64, tol float64) int {
	fmt.Fprintln(out, "=== Basin Membership Validation ===")
	fmt.Fprintln(out)

	sets, load := loadBasins(src, count)
	phases := []*phase{
		load,
		validateBounds(sets, len(lats), len(lons)),
		validateCoordinates(sets, lats, lons, tol),
		validateNames(sets),
	}

	allPassed := true
	for _, p := range phases {
		status := "\033[32mPASS\033[0m"
		if !p.passed() {
			status = fmt.Sprintf("\033[31mFAIL (%d errors)\033[0m", len(p.errors))
			allPassed = false
		}
		fmt.Fprintf(out, "  %-42s %s\n", p.name, status)
	}

	points := 0
	for _, ps := range sets {
		points += len(ps.Points)
	}
	fmt.Fprintln(out)
	fmt.Fprintf(out, "Basins: %d of %d readable, %d grid points, grid %dx%d\n",
		len(sets), count, points, len(lats), len(lons))

	for _, p := range phases {
		if p.passed() {
			continue
		}
		fmt.Fprintf(out, "\n--- %s ---\n", p.name)
		for i, e := range p.errors {
			fmt.Fprintf(out, "  [%d] %s\n", i+1, e)
		}
	}

	if allPassed {
		fmt.Fprintln(out, "\nAll validations passed.")
		return 0
	}
	fmt.Fprintln(out, "\nValidation FAILED.")
	return 1
}

// ── Phase 1: Files ──

func loadBasins(src basinReader, count int) ([]basin.PointSet, *phase) {
	p := &phase{name: "Phase 1: Basin Files (readable)"}
	var sets []basin.PointSet
	for i := 1; i <= count; i++ {
		ps, err := src.ReadBasin(i)
		if err != nil {
			p.errorf("basin %d: %v", i, err)
			continue
		}
		sets = append(sets, ps)
	}
	return sets, p
}

// ── Phase 2: Bounds ──

func validateBounds(sets []basin.PointSet, rows, cols int) *phase {
	p := &phase{name: "Phase 2: Grid Bounds (indices)"}
	for _, ps := range sets {
		if err := basin.CheckBounds(ps, rows, cols); err != nil {
			p.errorf("basin %d: %v", ps.Index, err)
		}
	}
	return p
}

// ── Phase 3: Coordinates ──
// Recorded lat/lon must be the grid's coordinates at the recorded indices.

func validateCoordinates(sets []basin.PointSet, lats, lons []float64, tol float64) *phase {
	p := &phase{name: "Phase 3: Coordinates (vs grid axes)"}
	for _, ps := range sets {
		for i, pt := range ps.Points {
			if pt.Row < 0 || pt.Row >= len(lats) || pt.Col < 0 || pt.Col >= len(lons) {
				continue
			}
			if d := math.Abs(pt.Lat - lats[pt.Row]); d > tol {
				p.errorf("basin %d point %d: latitude %g, grid has %g", ps.Index, i, pt.Lat, lats[pt.Row])
			}
			if d := lonDiff(pt.Lon, lons[pt.Col]); d > tol {
				p.errorf("basin %d point %d: longitude %g, grid has %g", ps.Index, i, pt.Lon, lons[pt.Col])
			}
		}
	}
	return p
}

// lonDiff compares longitudes irrespective of 0..360 or -180..180 convention.
func lonDiff(a, b float64) float64 {
	return math.Abs(basin.NormalizeLon(a) - basin.NormalizeLon(b))
}

// ── Phase 4: Names ──

func validateNames(sets []basin.PointSet) *phase {
	p := &phase{name: "Phase 4: Basin Names"}
	seen := make(map[string]int)
	for _, ps := range sets {
		if ps.Name == "" {
			p.errorf("basin %d: basin_name is empty", ps.Index)
			continue
		}
		if prev, dup := seen[ps.Name]; dup {
			p.errorf("basin %d: name %q already used by basin %d", ps.Index, ps.Name, prev)
			continue
		}
		seen[ps.Name] = ps.Index
	}
	return p
}
