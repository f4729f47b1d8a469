package render

import (
	"errors"
	"fmt"
	"image/color"
	"math"
	"os"
	"path/filepath"
	"strings"

	"gonum.org/v1/plot"
	"gonum.org/v1/plot/plotter"
	"gonum.org/v1/plot/text"
	"gonum.org/v1/plot/vg"
	"gonum.org/v1/plot/vg/draw"
	"gonum.org/v1/plot/vg/vgimg"

	"github.com/couchcryptid/basin-anomaly/internal/domain"
)

var (
	boxFill      = color.RGBA{R: 0xad, G: 0xd8, B: 0xe6, A: 0xff} // lightblue
	boxLine      = color.RGBA{R: 0x00, G: 0x00, B: 0x8b, A: 0xff} // darkblue
	medianLine   = color.RGBA{R: 0xff, G: 0xa5, B: 0x00, A: 0xff} // orange
	refHeader    = color.RGBA{R: 0xcf, G: 0xe2, B: 0xf3, A: 0xff}
	fcstHeader   = color.RGBA{R: 0xff, G: 0xdf, B: 0xba, A: 0xff}
	gridLine     = color.Gray{Y: 0x80}
	errNoSamples = errors.New("no anomaly samples to plot")
)

// PlotRenderer draws the anomaly boxplot next to the statistics table.
type PlotRenderer struct {
	Dir    string
	Width  vg.Length
	Height vg.Length
	DPI    int
}

// NewPlotRenderer returns a renderer producing 14x6 inch images.
func NewPlotRenderer(dir string) PlotRenderer {
	return PlotRenderer{Dir: dir, Width: 14 * vg.Inch, Height: 6 * vg.Inch, DPI: 150}
}

// Render writes the PNG for r and returns its path.
func (pr PlotRenderer) Render(r domain.BasinReport) (path string, err error) {
	hind := flatten(r.HindcastAnomaly)
	fcst := flatten([][]float64{r.ForecastAnomaly})
	if len(hind) == 0 || len(fcst) == 0 {
		return "", errNoSamples
	}

	img := vgimg.NewWith(vgimg.UseWH(pr.Width, pr.Height), vgimg.UseDPI(pr.DPI), vgimg.UseBackgroundColor(color.White))
	dc := draw.New(img)

	titleH := dc.Size().Y * 0.2
	drawTitle(draw.Crop(dc, 0, 0, dc.Size().Y-titleH, 0), r)

	body := draw.Crop(dc, 0, 0, 0, -titleH)
	plotW := body.Size().X * 2 / 3
	left := draw.Crop(body, 0, plotW-body.Size().X, 0, 0)
	right := draw.Crop(body, plotW, 0, 0, 0)

	p, err := boxPlot(r, hind, fcst)
	if err != nil {
		return "", err
	}
	p.Draw(left)
	drawTable(right, r)

	if err := os.MkdirAll(pr.Dir, 0o755); err != nil {
		return "", fmt.Errorf("create output dir: %w", err)
	}
	path = filepath.Join(pr.Dir, PlotFileName(r))
	f, err := os.Create(path)
	if err != nil {
		return "", fmt.Errorf("create %s: %w", filepath.Base(path), err)
	}
	defer func() {
		if cerr := f.Close(); cerr != nil && err == nil {
			err = cerr
		}
	}()
	if _, err := (vgimg.PngCanvas{Canvas: img}).WriteTo(f); err != nil {
		return "", fmt.Errorf("encode png: %w", err)
	}
	return path, nil
}

func boxPlot(r domain.BasinReport, hind, fcst []float64) (*plot.Plot, error) {
	p := plot.New()
	p.Y.Label.Text = "Precipitation Anomaly (%)"
	p.Y.Label.TextStyle.Font.Size = vg.Points(12)
	p.Add(plotter.NewGrid())

	width := vg.Points(60)
	var boxes []plot.Plotter
	for i, vals := range [][]float64{hind, fcst} {
		b, err := plotter.NewBoxPlot(width, float64(i), plotter.Values(vals))
		if err != nil {
			return nil, fmt.Errorf("boxplot: %w", err)
		}
		b.Outside = nil // fliers hidden
		b.FillColor = boxFill
		b.BoxStyle.Color = boxLine
		b.WhiskerStyle.Color = boxLine
		b.MedianStyle.Color = medianLine
		b.MedianStyle.Width = vg.Points(1.5)
		boxes = append(boxes, b)
	}
	p.Add(boxes...)
	p.NominalX(
		strings.Replace(r.ReferenceLabel(), " ", "\n", 1),
		strings.Replace(r.ForecastLabel(), " ", "\n", 1),
	)
	return p, nil
}

func drawTitle(c draw.Canvas, r domain.BasinReport) {
	lines := []string{
		"Precipitation Anomaly",
		"Basin: " + r.BasinName,
		fmt.Sprintf("Startmonth: %d Period: %s", r.StartMonth, seasonTitle(r.Season)),
		fmt.Sprintf("Model: %s %s", r.Institution, r.ModelName),
	}
	sty := textStyle(14, draw.XCenter)
	lh := c.Size().Y / vg.Length(len(lines)+1)
	x := (c.Min.X + c.Max.X) / 2
	for i, line := range lines {
		c.FillText(sty, vg.Point{X: x, Y: c.Max.Y - lh*vg.Length(i+1)}, line)
	}
}

func seasonTitle(s domain.Season) string {
	if s == domain.SeasonDJF {
		return "Winter (DJF)"
	}
	return "Extended Winter (NDJFM)"
}

// drawTable lays out the statistics as a three column grid centred in c.
func drawTable(c draw.Canvas, r domain.BasinReport) {
	hind, fore := r.Hindcast.Rows(), r.Forecast.Rows()
	nRows := len(hind) + 1

	rowH := vg.Points(22)
	labelW := c.Size().X * 0.5
	colW := c.Size().X * 0.22
	tableW := labelW + 2*colW
	x0 := c.Min.X + (c.Size().X-tableW)/2
	y0 := c.Min.Y + (c.Size().Y+rowH*vg.Length(nRows))/2 // top edge

	cell := func(row int, x, w vg.Length) (vg.Point, []vg.Point) {
		top := y0 - rowH*vg.Length(row)
		bot := top - rowH
		rect := []vg.Point{{X: x, Y: bot}, {X: x + w, Y: bot}, {X: x + w, Y: top}, {X: x, Y: top}}
		return vg.Point{X: x + w/2, Y: bot + rowH/2}, rect
	}
	line := draw.LineStyle{Color: gridLine, Width: vg.Points(0.5)}
	header := textStyle(12, draw.XCenter)
	body := textStyle(10, draw.XCenter)
	label := textStyle(10, draw.XRight)

	cols := []struct {
		x, w  vg.Length
		fill  color.Color
		title string
	}{
		{x0 + labelW, colW, refHeader, r.ReferenceLabel()},
		{x0 + labelW + colW, colW, fcstHeader, r.ForecastLabel()},
	}
	for _, col := range cols {
		mid, rect := cell(0, col.x, col.w)
		c.FillPolygon(col.fill, rect)
		c.StrokeLines(line, append(rect, rect[0]))
		c.FillText(header, mid, col.title)
	}
	for i := range hind {
		mid, rect := cell(i+1, x0, labelW)
		c.StrokeLines(line, append(rect, rect[0]))
		c.FillText(label, vg.Point{X: x0 + labelW - vg.Points(4), Y: mid.Y}, hind[i].Name)
		for j, v := range []float64{hind[i].Value, fore[i].Value} {
			mid, rect := cell(i+1, cols[j].x, cols[j].w)
			c.StrokeLines(line, append(rect, rect[0]))
			c.FillText(body, mid, format(v))
		}
	}
}

func textStyle(size float64, align text.XAlignment) text.Style {
	f := plot.DefaultFont
	f.Size = vg.Points(size)
	return text.Style{
		Color:   color.Black,
		Font:    f,
		XAlign:  align,
		YAlign:  draw.YCenter,
		Handler: plot.DefaultTextHandler,
	}
}

// flatten concatenates rows, dropping NaN samples.
func flatten(rows [][]float64) []float64 {
	var out []float64
	for _, r := range rows {
		for _, v := range r {
			if !math.IsNaN(v) {
				out = append(out, v)
			}
		}
	}
	return out
}
