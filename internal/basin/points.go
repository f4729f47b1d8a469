// Package basin maps river basins onto model grid cells and gathers their values.
package basin

import (
	"encoding/csv"
	"errors"
	"fmt"
	"io"
	"io/fs"
	"os"
	"path/filepath"
	"strconv"
	"strings"

	"github.com/couchcryptid/basin-anomaly/internal/domain"
)

// Column names of a basin membership file.
const (
	ColRow       = "x_grid" // latitude index
	ColCol       = "y_grid" // longitude index
	ColLatitude  = "latitude"
	ColLongitude = "longitude"
	ColName      = "basin_name"
)

var requiredColumns = []string{ColRow, ColCol, ColLatitude, ColLongitude, ColName}

// Point is one grid cell inside a basin.
type Point struct {
	Row int     // latitude index
	Col int     // longitude index
	Lat float64 // grid latitude at Row
	Lon float64 // grid longitude at Col
}

// PointSet is the ordered, non-empty set of grid cells of one basin.
type PointSet struct {
	Index  int
	Name   string
	Points []Point
}

// FileName returns the membership file name for a 1-based basin index.
func FileName(index int) string {
	return fmt.Sprintf("grid_points_within_%d.csv", index)
}

// Dir reads membership files from a directory.
type Dir string

// ReadBasin loads basin index from d.
func (d Dir) ReadBasin(index int) (PointSet, error) {
	return ReadFile(string(d), index)
}

// ReadFile loads the membership file of basin index from dir.
func ReadFile(dir string, index int) (PointSet, error) {
	path := filepath.Join(dir, FileName(index))
	f, err := os.Open(path)
	if err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return PointSet{}, fmt.Errorf("%w: %s", domain.ErrMissingInputFile, path)
		}
		return PointSet{}, fmt.Errorf("open basin file: %w", err)
	}
	defer f.Close()

	ps, err := Read(f)
	if err != nil {
		return PointSet{}, fmt.Errorf("%s: %w", path, err)
	}
	ps.Index = index
	return ps, nil
}

// Read parses a membership file. Columns are located by header name, so their
// order does not matter; extra columns are ignored.
func Read(r io.Reader) (PointSet, error) {
	cr := csv.NewReader(r)
	cr.TrimLeadingSpace = true

	header, err := cr.Read()
	if err != nil {
		if errors.Is(err, io.EOF) {
			return PointSet{}, fmt.Errorf("%w: empty file", domain.ErrMissingRequiredColumn)
		}
		return PointSet{}, fmt.Errorf("read header: %w", err)
	}
	pos := make(map[string]int, len(header))
	for i, h := range header {
		pos[strings.TrimSpace(strings.TrimPrefix(h, "\ufeff"))] = i
	}
	for _, col := range requiredColumns {
		if _, ok := pos[col]; !ok {
			return PointSet{}, fmt.Errorf("%w: %q", domain.ErrMissingRequiredColumn, col)
		}
	}

	var ps PointSet
	line := 1
	for {
		line++
		rec, err := cr.Read()
		if errors.Is(err, io.EOF) {
			break
		}
		if err != nil {
			return PointSet{}, fmt.Errorf("line %d: %w", line, err)
		}

		var p Point
		if p.Row, err = strconv.Atoi(strings.TrimSpace(rec[pos[ColRow]])); err != nil {
			return PointSet{}, fmt.Errorf("line %d: %s: %w", line, ColRow, err)
		}
		if p.Col, err = strconv.Atoi(strings.TrimSpace(rec[pos[ColCol]])); err != nil {
			return PointSet{}, fmt.Errorf("line %d: %s: %w", line, ColCol, err)
		}
		if p.Lat, err = strconv.ParseFloat(strings.TrimSpace(rec[pos[ColLatitude]]), 64); err != nil {
			return PointSet{}, fmt.Errorf("line %d: %s: %w", line, ColLatitude, err)
		}
		if p.Lon, err = strconv.ParseFloat(strings.TrimSpace(rec[pos[ColLongitude]]), 64); err != nil {
			return PointSet{}, fmt.Errorf("line %d: %s: %w", line, ColLongitude, err)
		}
		if ps.Name == "" {
			ps.Name = strings.TrimSpace(rec[pos[ColName]])
		}
		ps.Points = append(ps.Points, p)
	}

	if len(ps.Points) == 0 {
		return PointSet{}, errors.New("basin file has no points")
	}
	return ps, nil
}

// Write emits ps in membership file format.
func Write(w io.Writer, ps PointSet) error {
	cw := csv.NewWriter(w)
	if err := cw.Write(requiredColumns); err != nil {
		return err
	}
	for _, p := range ps.Points {
		rec := []string{
			strconv.Itoa(p.Row),
			strconv.Itoa(p.Col),
			strconv.FormatFloat(p.Lat, 'f', -1, 64),
			strconv.FormatFloat(p.Lon, 'f', -1, 64),
			ps.Name,
		}
		if err := cw.Write(rec); err != nil {
			return err
		}
	}
	cw.Flush()
	return cw.Error()
}

// WriteFile writes ps to dir under its FileName.
func WriteFile(dir string, ps PointSet) (string, error) {
	path := filepath.Join(dir, FileName(ps.Index))
	f, err := os.Create(path)
	if err != nil {
		return "", fmt.Errorf("create basin file: %w", err)
	}
	if err := Write(f, ps); err != nil {
		f.Close()
		return "", fmt.Errorf("write %s: %w", path, err)
	}
	return path, f.Close()
}
