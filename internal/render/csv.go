package render

import (
	"encoding/csv"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strconv"

	"github.com/couchcryptid/basin-anomaly/internal/domain"
)

// CSVWriter writes statistics tables into Dir.
type CSVWriter struct {
	Dir string
}

// WriteStats writes the hindcast/forecast statistics table and returns its path.
func (w CSVWriter) WriteStats(r domain.BasinReport) (string, error) {
	return w.writeFile(StatsFileName(r), func(out io.Writer) error { return WriteStats(out, r) })
}

// WriteYearly writes the per-year hindcast statistics and returns its path.
func (w CSVWriter) WriteYearly(r domain.BasinReport) (string, error) {
	return w.writeFile(YearlyFileName(r), func(out io.Writer) error { return WriteYearly(out, r.HindcastYears) })
}

// writeFile creates name in w.Dir and fills it with fn. A failed write leaves
// no file behind.
func (w CSVWriter) writeFile(name string, fn func(io.Writer) error) (string, error) {
	if err := os.MkdirAll(w.Dir, 0o755); err != nil {
		return "", fmt.Errorf("create output dir: %w", err)
	}
	path := filepath.Join(w.Dir, name)
	f, err := os.Create(path)
	if err != nil {
		return "", fmt.Errorf("create %s: %w", name, err)
	}
	if err := fn(f); err != nil {
		f.Close()
		os.Remove(path)
		return "", fmt.Errorf("write %s: %w", name, err)
	}
	if err := f.Close(); err != nil {
		os.Remove(path)
		return "", fmt.Errorf("close %s: %w", name, err)
	}
	return path, nil
}

// WriteStats writes the statistics table:
//
//	Statistic,Reference 1993-2016,Forecast 2024/2025
//	95th Percentile,12.31,40.02
//	...
func WriteStats(out io.Writer, r domain.BasinReport) error {
	cw := csv.NewWriter(out)
	if err := cw.Write([]string{"Statistic", r.ReferenceLabel(), r.ForecastLabel()}); err != nil {
		return err
	}
	hind, fore := r.Hindcast.Rows(), r.Forecast.Rows()
	for i := range hind {
		if err := cw.Write([]string{hind[i].Name, format(hind[i].Value), format(fore[i].Value)}); err != nil {
			return err
		}
	}
	cw.Flush()
	return cw.Error()
}

// WriteYearly writes one row per hindcast year.
func WriteYearly(out io.Writer, years []domain.YearSummary) error {
	cw := csv.NewWriter(out)
	if err := cw.Write([]string{"Year", "p95", "q3", "median", "q1", "p5"}); err != nil {
		return err
	}
	for _, y := range years {
		row := []string{strconv.Itoa(y.Year), format(y.P95), format(y.Q3), format(y.Median), format(y.Q1), format(y.P5)}
		if err := cw.Write(row); err != nil {
			return err
		}
	}
	cw.Flush()
	return cw.Error()
}

func format(v float64) string {
	v = domain.Round2(v)
	if v == 0 {
		v = 0 // no "-0.00"
	}
	return strconv.FormatFloat(v, 'f', 2, 64)
}
