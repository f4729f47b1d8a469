package basin

import (
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"math"

	"github.com/ctessum/geom"
	"github.com/ctessum/geom/encoding/geojson"
	"gonum.org/v1/gonum/spatial/kdtree"
)

// Boundary is a named basin outline in lon/lat degrees.
type Boundary struct {
	Index int
	Name  string
	Shape geom.Polygonal
}

// Locator assigns grid cells to basin boundaries. Containment is tested in
// -180..180 longitude; recorded indices and coordinates stay in the grid's own
// ordering so they match fields loaded from the same grid.
type Locator struct {
	lats  []float64
	lons  []float64
	norm  []float64
	tree  *kdtree.Tree
	cells map[[2]float64][2]int
}

// NewLocator indexes a regular lat/lon grid.
func NewLocator(lats, lons []float64) *Locator {
	l := &Locator{
		lats:  lats,
		lons:  lons,
		norm:  make([]float64, len(lons)),
		cells: make(map[[2]float64][2]int, len(lats)*len(lons)),
	}
	for j, lon := range lons {
		l.norm[j] = NormalizeLon(lon)
	}

	pts := make(kdtree.Points, 0, len(lats)*len(lons))
	for i, lat := range lats {
		for j := range lons {
			key := [2]float64{l.norm[j], lat}
			if _, dup := l.cells[key]; dup {
				continue
			}
			l.cells[key] = [2]int{i, j}
			pts = append(pts, kdtree.Point{l.norm[j], lat})
		}
	}
	if len(pts) > 0 {
		l.tree = kdtree.New(pts, false)
	}
	return l
}

// NormalizeLon maps a longitude into [-180, 180).
func NormalizeLon(lon float64) float64 {
	return math.Mod(math.Mod(lon+180, 360)+360, 360) - 180
}

// Nearest returns the grid cell closest to (lon, lat) and its distance in degrees.
func (l *Locator) Nearest(lon, lat float64) (row, col int, dist float64, ok bool) {
	if l.tree == nil {
		return 0, 0, 0, false
	}
	got, d2 := l.tree.Nearest(kdtree.Point{NormalizeLon(lon), lat})
	p := got.(kdtree.Point)
	rc := l.cells[[2]float64{p[0], p[1]}]
	return rc[0], rc[1], math.Sqrt(d2), true
}

// Locate returns the cells whose centres lie strictly inside b. When none do,
// the cell nearest the boundary centroid is returned alone, so the result is
// never empty for a non-empty grid.
func (l *Locator) Locate(b Boundary) PointSet {
	ps := PointSet{Index: b.Index, Name: b.Name}
	bounds := b.Shape.Bounds()
	for i, lat := range l.lats {
		if bounds != nil && (lat < bounds.Min.Y || lat > bounds.Max.Y) {
			continue
		}
		for j, lon := range l.norm {
			if bounds != nil && (lon < bounds.Min.X || lon > bounds.Max.X) {
				continue
			}
			if (geom.Point{X: lon, Y: lat}).Within(b.Shape) == geom.Inside {
				ps.Points = append(ps.Points, Point{Row: i, Col: j, Lat: lat, Lon: l.lons[j]})
			}
		}
	}
	if len(ps.Points) > 0 {
		return ps
	}

	c := centroid(b.Shape)
	if row, col, _, ok := l.Nearest(c.X, c.Y); ok {
		ps.Points = append(ps.Points, Point{Row: row, Col: col, Lat: l.lats[row], Lon: l.lons[col]})
	}
	return ps
}

// centroid is the area-weighted centroid of every polygon in p.
func centroid(p geom.Polygonal) geom.Point {
	var sum geom.Point
	var area float64
	for _, poly := range p.Polygons() {
		a := math.Abs(poly.Area())
		c := poly.Centroid()
		sum.X += c.X * a
		sum.Y += c.Y * a
		area += a
	}
	if area == 0 {
		b := p.Bounds()
		return geom.Point{X: (b.Min.X + b.Max.X) / 2, Y: (b.Min.Y + b.Max.Y) / 2}
	}
	return geom.Point{X: sum.X / area, Y: sum.Y / area}
}

type featureCollection struct {
	Features []struct {
		Properties map[string]any  `json:"properties"`
		Geometry   json.RawMessage `json:"geometry"`
	} `json:"features"`
}

// nameProperties are tried in order for a basin's display name.
var nameProperties = []string{"nameText", "nameTxtInt", "name", "NAME"}

// ReadBoundaries parses a GeoJSON FeatureCollection of Polygon or
// MultiPolygon features. Basins are numbered from 1 in feature order and
// longitudes are normalised to -180..180.
func ReadBoundaries(r io.Reader) ([]Boundary, error) {
	var fc featureCollection
	if err := json.NewDecoder(r).Decode(&fc); err != nil {
		return nil, fmt.Errorf("decode geojson: %w", err)
	}
	if len(fc.Features) == 0 {
		return nil, errors.New("geojson has no features")
	}

	out := make([]Boundary, 0, len(fc.Features))
	for i, feat := range fc.Features {
		b := Boundary{Index: i + 1, Name: fmt.Sprintf("Basin_%d", i+1)}
		for _, key := range nameProperties {
			if s, ok := feat.Properties[key].(string); ok && s != "" {
				b.Name = s
				break
			}
		}

		g, err := geojson.Decode(feat.Geometry)
		if err != nil {
			return nil, fmt.Errorf("feature %d: %w", i+1, err)
		}
		switch shape := g.(type) {
		case geom.Polygon:
			b.Shape = normalizePolygon(shape)
		case geom.MultiPolygon:
			mp := make(geom.MultiPolygon, len(shape))
			for j, poly := range shape {
				mp[j] = normalizePolygon(poly)
			}
			b.Shape = mp
		default:
			return nil, fmt.Errorf("feature %d: unsupported geometry %T", i+1, g)
		}
		out = append(out, b)
	}
	return out, nil
}

func normalizePolygon(poly geom.Polygon) geom.Polygon {
	out := make(geom.Polygon, len(poly))
	for i, ring := range poly {
		path := make(geom.Path, len(ring))
		for j, p := range ring {
			path[j] = geom.Point{X: NormalizeLon(p.X), Y: p.Y}
		}
		out[i] = path
	}
	return out
}
