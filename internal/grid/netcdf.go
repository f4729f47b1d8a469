package grid

import (
	"context"
	"errors"
	"fmt"
	"io/fs"
	"math"
	"os"
	"reflect"
	"strings"
	"time"

	"github.com/batchatco/go-native-netcdf/netcdf"
	"github.com/batchatco/go-native-netcdf/netcdf/api"

	"github.com/couchcryptid/basin-anomaly/internal/domain"
)

// Schema names the variable and coordinates expected in a grid file. Each
// coordinate lists accepted names, first match wins.
type Schema struct {
	Variable string
	Member   []string
	Start    []string
	Lead     []string
	Lat      []string
	Lon      []string
}

// NewSchema returns the cfgrib layout. Lagged-start systems index their
// nominal start with "indexing_time" instead of "time".
func NewSchema(variable string, lagged bool) Schema {
	start := "time"
	if lagged {
		start = "indexing_time"
	}
	return Schema{
		Variable: variable,
		Member:   []string{"number"},
		Start:    []string{start, "start_date"},
		Lead:     []string{"forecastMonth"},
		Lat:      []string{"latitude", "lat"},
		Lon:      []string{"longitude", "lon"},
	}
}

// VariableReader is the subset of a NetCDF group the decoder needs.
type VariableReader interface {
	GetVariable(name string) (*api.Variable, error)
}

// Loader reads an ensemble field from a path.
type Loader interface {
	Load(ctx context.Context, path string, schema Schema) (*EnsembleField, error)
}

// NetCDFLoader decodes NetCDF (classic or HDF5-based) files.
type NetCDFLoader struct{}

// Load opens path, decodes the field and releases the file handle.
func (NetCDFLoader) Load(ctx context.Context, path string, schema Schema) (*EnsembleField, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	if _, err := os.Stat(path); err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return nil, fmt.Errorf("%w: %s", domain.ErrMissingInputFile, path)
		}
		return nil, fmt.Errorf("stat %s: %w", path, err)
	}
	nc, err := netcdf.Open(path)
	if err != nil {
		return nil, fmt.Errorf("open %s: %w", path, err)
	}
	defer nc.Close()

	f, err := Decode(nc, schema)
	if err != nil {
		return nil, fmt.Errorf("decode %s: %w", path, err)
	}
	return f, nil
}

// ReadCoordinates returns the latitude and longitude axes of a grid file
// without decoding the data variable.
func ReadCoordinates(path string, schema Schema) (lats, lons []float64, err error) {
	if _, err := os.Stat(path); err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return nil, nil, fmt.Errorf("%w: %s", domain.ErrMissingInputFile, path)
		}
		return nil, nil, fmt.Errorf("stat %s: %w", path, err)
	}
	nc, err := netcdf.Open(path)
	if err != nil {
		return nil, nil, fmt.Errorf("open %s: %w", path, err)
	}
	defer nc.Close()
	return Coordinates(nc, schema)
}

// Coordinates reads the latitude and longitude axes named by schema.
func Coordinates(r VariableReader, schema Schema) (lats, lons []float64, err error) {
	if lats, err = anyFloatCoord(r, schema.Lat, "latitude"); err != nil {
		return nil, nil, err
	}
	if lons, err = anyFloatCoord(r, schema.Lon, "longitude"); err != nil {
		return nil, nil, err
	}
	return lats, lons, nil
}

func anyFloatCoord(r VariableReader, names []string, axis string) ([]float64, error) {
	for _, name := range names {
		if _, err := r.GetVariable(name); err == nil {
			return floatCoord(r, name)
		}
	}
	return nil, fmt.Errorf("%w: no %s coordinate (want one of %v)", domain.ErrSchemaMismatch, axis, names)
}

// Decode builds an EnsembleField from the schema's variable, transposing it
// into [member][start][lead][lat][lon] by dimension name. A variable without
// a start dimension (single forecast run) takes its start from the scalar
// start coordinate.
func Decode(r VariableReader, schema Schema) (*EnsembleField, error) {
	v, err := r.GetVariable(schema.Variable)
	if err != nil {
		return nil, fmt.Errorf("%w: variable %q: %v", domain.ErrSchemaMismatch, schema.Variable, err)
	}

	memberName, memberPos, err := findDim(v.Dimensions, schema.Member, "member")
	if err != nil {
		return nil, err
	}
	leadName, leadPos, err := findDim(v.Dimensions, schema.Lead, "lead")
	if err != nil {
		return nil, err
	}
	latName, latPos, err := findDim(v.Dimensions, schema.Lat, "latitude")
	if err != nil {
		return nil, err
	}
	lonName, lonPos, err := findDim(v.Dimensions, schema.Lon, "longitude")
	if err != nil {
		return nil, err
	}
	startName, startPos, startErr := findDim(v.Dimensions, schema.Start, "start")
	if startErr != nil {
		// Single-start file: the start coordinate is scalar or length one.
		startPos = -1
		startName, err = firstPresent(r, schema.Start)
		if err != nil {
			return nil, err
		}
	}

	members, err := intCoord(r, memberName)
	if err != nil {
		return nil, err
	}
	leads, err := intCoord(r, leadName)
	if err != nil {
		return nil, err
	}
	lats, err := floatCoord(r, latName)
	if err != nil {
		return nil, err
	}
	lons, err := floatCoord(r, lonName)
	if err != nil {
		return nil, err
	}
	starts, err := timeCoord(r, startName)
	if err != nil {
		return nil, err
	}
	if startPos < 0 && len(starts) != 1 {
		return nil, fmt.Errorf("%w: %q has %d values but is not a dimension of %q", domain.ErrSchemaMismatch, startName, len(starts), schema.Variable)
	}

	values, shape, err := flatten(v.Values)
	if err != nil {
		return nil, fmt.Errorf("%w: %q: %v", domain.ErrSchemaMismatch, schema.Variable, err)
	}
	if len(shape) != len(v.Dimensions) {
		return nil, fmt.Errorf("%w: %q has rank %d but %d dimensions", domain.ErrSchemaMismatch, schema.Variable, len(shape), len(v.Dimensions))
	}

	// Every dimension beyond the five known axes must be degenerate.
	known := map[int]int{memberPos: len(members), leadPos: len(leads), latPos: len(lats), lonPos: len(lons)}
	if startPos >= 0 {
		known[startPos] = len(starts)
	}
	for i, n := range shape {
		want, ok := known[i]
		if !ok {
			want = 1
		}
		if n != want {
			return nil, fmt.Errorf("%w: dimension %q has %d values, want %d", domain.ErrSchemaMismatch, v.Dimensions[i], n, want)
		}
	}

	strides := make([]int, len(shape))
	stride := 1
	for i := len(shape) - 1; i >= 0; i-- {
		strides[i] = stride
		stride *= shape[i]
	}
	startStride := 0
	if startPos >= 0 {
		startStride = strides[startPos]
	}

	fill := fillValues(v)
	f := NewEnsembleField(schema.Variable, members, starts, leads, lats, lons)
	nm, ns, nl, nr, nc := f.Shape()
	k := 0
	for m := range nm {
		for s := range ns {
			for l := range nl {
				for row := range nr {
					base := m*strides[memberPos] + s*startStride + l*strides[leadPos] + row*strides[latPos]
					for col := range nc {
						x := values[base+col*strides[lonPos]]
						if isFill(x, fill) {
							x = math.NaN()
						}
						f.Data[k] = x
						k++
					}
				}
			}
		}
	}
	return f, nil
}

func findDim(dims, names []string, axis string) (string, int, error) {
	for _, name := range names {
		for i, d := range dims {
			if d == name {
				return name, i, nil
			}
		}
	}
	return "", 0, fmt.Errorf("%w: no %s dimension among %v (want one of %v)", domain.ErrSchemaMismatch, axis, dims, names)
}

func firstPresent(r VariableReader, names []string) (string, error) {
	for _, name := range names {
		if _, err := r.GetVariable(name); err == nil {
			return name, nil
		}
	}
	return "", fmt.Errorf("%w: no start coordinate (want one of %v)", domain.ErrSchemaMismatch, names)
}

func floatCoord(r VariableReader, name string) ([]float64, error) {
	v, err := r.GetVariable(name)
	if err != nil {
		return nil, fmt.Errorf("%w: coordinate %q: %v", domain.ErrSchemaMismatch, name, err)
	}
	values, shape, err := flatten(v.Values)
	if err != nil {
		return nil, fmt.Errorf("%w: coordinate %q: %v", domain.ErrSchemaMismatch, name, err)
	}
	if len(shape) > 1 {
		return nil, fmt.Errorf("%w: coordinate %q has rank %d", domain.ErrSchemaMismatch, name, len(shape))
	}
	return values, nil
}

func intCoord(r VariableReader, name string) ([]int, error) {
	values, err := floatCoord(r, name)
	if err != nil {
		return nil, err
	}
	out := make([]int, len(values))
	for i, x := range values {
		out[i] = int(math.Round(x))
	}
	return out, nil
}

func timeCoord(r VariableReader, name string) ([]time.Time, error) {
	v, err := r.GetVariable(name)
	if err != nil {
		return nil, fmt.Errorf("%w: coordinate %q: %v", domain.ErrSchemaMismatch, name, err)
	}
	values, _, err := flatten(v.Values)
	if err != nil {
		return nil, fmt.Errorf("%w: coordinate %q: %v", domain.ErrSchemaMismatch, name, err)
	}
	units := defaultTimeUnits
	if u, ok := attr(v, "units"); ok {
		if s, ok := u.(string); ok && s != "" {
			units = s
		}
	}
	step, epoch, err := ParseTimeUnits(units)
	if err != nil {
		return nil, fmt.Errorf("%w: coordinate %q: %v", domain.ErrSchemaMismatch, name, err)
	}
	out := make([]time.Time, len(values))
	for i, x := range values {
		out[i] = epoch.Add(time.Duration(x * float64(step)))
	}
	return out, nil
}

// cfgrib writes valid and start times as seconds since the Unix epoch.
const defaultTimeUnits = "seconds since 1970-01-01T00:00:00"

var epochLayouts = []string{
	time.RFC3339,
	"2006-01-02T15:04:05",
	"2006-01-02 15:04:05",
	"2006-01-02 15:04",
	"2006-01-02",
	"2006-1-2 15:04:05",
	"2006-1-2",
}

// ParseTimeUnits parses CF time units such as "hours since 1900-01-01 00:00:00".
func ParseTimeUnits(units string) (time.Duration, time.Time, error) {
	unit, since, ok := strings.Cut(strings.TrimSpace(units), " since ")
	if !ok {
		return 0, time.Time{}, fmt.Errorf("time units %q lack \"since\"", units)
	}
	var step time.Duration
	switch strings.ToLower(strings.TrimSpace(unit)) {
	case "seconds", "second", "s":
		step = time.Second
	case "minutes", "minute":
		step = time.Minute
	case "hours", "hour", "h":
		step = time.Hour
	case "days", "day", "d":
		step = 24 * time.Hour
	default:
		return 0, time.Time{}, fmt.Errorf("unsupported time unit %q", unit)
	}
	since = strings.TrimSuffix(strings.TrimSpace(since), " UTC")
	for _, layout := range epochLayouts {
		if t, err := time.Parse(layout, since); err == nil {
			return step, t.UTC(), nil
		}
	}
	return 0, time.Time{}, fmt.Errorf("unparseable epoch %q", since)
}

func attr(v *api.Variable, key string) (any, bool) {
	if v.Attributes == nil {
		return nil, false
	}
	return v.Attributes.Get(key)
}

func fillValues(v *api.Variable) []float64 {
	var out []float64
	for _, key := range []string{"_FillValue", "missing_value"} {
		raw, ok := attr(v, key)
		if !ok {
			continue
		}
		if vals, _, err := flatten(raw); err == nil {
			out = append(out, vals...)
		}
	}
	return out
}

func isFill(x float64, fill []float64) bool {
	for _, f := range fill {
		if x == f {
			return true
		}
	}
	return false
}

// flatten walks nested slices of numbers (as returned by the NetCDF reader)
// into a row-major []float64 and its shape. Scalars have an empty shape.
func flatten(v any) ([]float64, []int, error) {
	rv := reflect.ValueOf(v)
	if !rv.IsValid() {
		return nil, nil, errors.New("no values")
	}
	var shape []int
	total := 1
	for cur := rv; cur.Kind() == reflect.Slice || cur.Kind() == reflect.Array; {
		shape = append(shape, cur.Len())
		total *= cur.Len()
		if cur.Len() == 0 {
			break
		}
		cur = cur.Index(0)
	}

	out := make([]float64, 0, total)
	var walk func(x reflect.Value, depth int) error
	walk = func(x reflect.Value, depth int) error {
		if depth == len(shape) {
			f, ok := scalar(x)
			if !ok {
				return fmt.Errorf("non-numeric element of kind %s", x.Kind())
			}
			out = append(out, f)
			return nil
		}
		if (x.Kind() != reflect.Slice && x.Kind() != reflect.Array) || x.Len() != shape[depth] {
			return fmt.Errorf("ragged array at depth %d", depth)
		}
		for i := range x.Len() {
			if err := walk(x.Index(i), depth+1); err != nil {
				return err
			}
		}
		return nil
	}
	if err := walk(rv, 0); err != nil {
		return nil, nil, err
	}
	return out, shape, nil
}

func scalar(x reflect.Value) (float64, bool) {
	if x.Kind() == reflect.Interface {
		x = x.Elem()
	}
	switch x.Kind() {
	case reflect.Float32, reflect.Float64:
		return x.Float(), true
	case reflect.Int, reflect.Int8, reflect.Int16, reflect.Int32, reflect.Int64:
		return float64(x.Int()), true
	case reflect.Uint, reflect.Uint8, reflect.Uint16, reflect.Uint32, reflect.Uint64:
		return float64(x.Uint()), true
	default:
		return 0, false
	}
}
