package basin

import (
	"strings"
	"testing"

	"github.com/ctessum/geom"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// Grid with 1 degree spacing: lats 44..36 (descending), lons 350..359 (0..360 convention).
func testGrid() ([]float64, []float64) {
	lats := make([]float64, 9)
	for i := range lats {
		lats[i] = 44 - float64(i)
	}
	lons := make([]float64, 10)
	for j := range lons {
		lons[j] = 350 + float64(j)
	}
	return lats, lons
}

func square(minX, minY, maxX, maxY float64) geom.Polygon {
	return geom.Polygon{{
		{X: minX, Y: minY}, {X: maxX, Y: minY}, {X: maxX, Y: maxY}, {X: minX, Y: maxY}, {X: minX, Y: minY},
	}}
}

func TestNormalizeLon(t *testing.T) {
	assert.Equal(t, -10.0, NormalizeLon(350))
	assert.Equal(t, 0.0, NormalizeLon(360))
	assert.Equal(t, -180.0, NormalizeLon(180))
	assert.Equal(t, -3.5, NormalizeLon(-3.5))
}

func TestLocate_PointsInside(t *testing.T) {
	lats, lons := testGrid()
	l := NewLocator(lats, lons)

	// Covers lons -7.5..-5.5 (353, 354 => -7, -6) and lats 40.5..42.5 (42, 41).
	ps := l.Locate(Boundary{Index: 3, Name: "Duero", Shape: square(-7.5, 40.5, -5.5, 42.5)})

	assert.Equal(t, 3, ps.Index)
	assert.Equal(t, "Duero", ps.Name)
	require.Len(t, ps.Points, 4)
	assert.Equal(t, Point{Row: 2, Col: 3, Lat: 42, Lon: 353}, ps.Points[0])
	assert.Equal(t, Point{Row: 3, Col: 4, Lat: 41, Lon: 354}, ps.Points[3])
}

func TestLocate_FallbackToNearestCentroid(t *testing.T) {
	lats, lons := testGrid()
	l := NewLocator(lats, lons)

	// Small basin between grid centres; centroid (-4.8, 39.2) is nearest to (-5, 39).
	ps := l.Locate(Boundary{Index: 9, Name: "Tiny", Shape: square(-4.9, 39.1, -4.7, 39.3)})

	require.Len(t, ps.Points, 1)
	assert.Equal(t, Point{Row: 5, Col: 5, Lat: 39, Lon: 355}, ps.Points[0])
}

func TestNearest(t *testing.T) {
	lats, lons := testGrid()
	l := NewLocator(lats, lons)

	row, col, dist, ok := l.Nearest(-1.2, 36.1)
	require.True(t, ok)
	assert.Equal(t, 8, row)
	assert.Equal(t, 9, col)
	assert.InDelta(t, 0.2236, dist, 1e-3)

	_, _, _, ok = NewLocator(nil, nil).Nearest(0, 0)
	assert.False(t, ok)
}

func TestReadBoundaries(t *testing.T) {
	data := `{"type":"FeatureCollection","features":[
	 {"type":"Feature","properties":{"nameText":"Miño-Sil"},
	  "geometry":{"type":"Polygon","coordinates":[[[-9,42],[-7,42],[-7,43],[-9,43],[-9,42]]]}},
	 {"type":"Feature","properties":{},
	  "geometry":{"type":"MultiPolygon","coordinates":[[[[1,39],[2,39],[2,40],[1,40],[1,39]]],[[[3,39],[4,39],[4,40],[3,40],[3,39]]]]}}
	]}`
	bs, err := ReadBoundaries(strings.NewReader(data))
	require.NoError(t, err)
	require.Len(t, bs, 2)

	assert.Equal(t, 1, bs[0].Index)
	assert.Equal(t, "Miño-Sil", bs[0].Name)
	assert.IsType(t, geom.Polygon{}, bs[0].Shape)

	assert.Equal(t, 2, bs[1].Index)
	assert.Equal(t, "Basin_2", bs[1].Name)
	mp, ok := bs[1].Shape.(geom.MultiPolygon)
	require.True(t, ok)
	assert.Len(t, mp, 2)
}

func TestReadBoundaries_NormalizesLongitude(t *testing.T) {
	data := `{"type":"FeatureCollection","features":[
	 {"type":"Feature","properties":{"name":"Ebro"},
	  "geometry":{"type":"Polygon","coordinates":[[[357,41],[359,41],[359,42],[357,42],[357,41]]]}}
	]}`
	bs, err := ReadBoundaries(strings.NewReader(data))
	require.NoError(t, err)
	require.Len(t, bs, 1)

	poly, ok := bs[0].Shape.(geom.Polygon)
	require.True(t, ok)
	require.Len(t, poly, 1)
	assert.Equal(t, geom.Point{X: -3, Y: 41}, poly[0][0])
	assert.Equal(t, geom.Point{X: -1, Y: 42}, poly[0][2])
}

func TestReadBoundaries_Errors(t *testing.T) {
	_, err := ReadBoundaries(strings.NewReader(`{"type":"FeatureCollection","features":[]}`))
	require.Error(t, err)

	_, err = ReadBoundaries(strings.NewReader(`{"features":[{"geometry":{"type":"Point","coordinates":[1,2]}}]}`))
	require.Error(t, err)

	_, err = ReadBoundaries(strings.NewReader(`not json`))
	require.Error(t, err)
}
