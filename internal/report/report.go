// Package report renders preview plots of canonical tracks: a PNG scatter
// through gonum/plot and an interactive HTML scatter through go-echarts.
package report

import (
	"bytes"
	"errors"
	"fmt"
	"image/color"
	"io"
	"math"
	"path/filepath"
	"sync"

	"github.com/go-echarts/go-echarts/v2/charts"
	"github.com/go-echarts/go-echarts/v2/opts"
	"github.com/smilelab/canon/internal/canonical"
	"github.com/smilelab/canon/internal/fsutil"
	"github.com/smilelab/canon/internal/landmark"
	"github.com/smilelab/canon/internal/monitoring"
	"gonum.org/v1/plot"
	"gonum.org/v1/plot/plotter"
	"gonum.org/v1/plot/vg"
	"gonum.org/v1/plot/vg/draw"
)

// MaxPoints caps the points drawn per series; longer tracks are strided.
const MaxPoints = 20000

// ErrNoPoints is returned when there is nothing to draw.
var ErrNoPoints = errors.New("no points to plot")

var (
	groundColor = color.RGBA{R: 31, G: 119, B: 180, A: 255}
	inputColor  = color.RGBA{R: 255, G: 127, B: 14, A: 255}
)

// stride returns the sampling step keeping n points under MaxPoints.
func stride(n int) int {
	if n <= MaxPoints {
		return 1
	}
	return (n + MaxPoints - 1) / MaxPoints
}

// flatten collects every point of frames, sampled by stride.
func flatten(frames []landmark.Frame) plotter.XYs {
	n := 0
	for _, f := range frames {
		n += len(f.Points)
	}
	step := stride(n)

	xys := make(plotter.XYs, 0, n/step+1)
	i := 0
	for _, f := range frames {
		for _, p := range f.Points {
			if i%step == 0 && !math.IsNaN(p.X) && !math.IsNaN(p.Y) && !math.IsInf(p.X, 0) && !math.IsInf(p.Y, 0) {
				xys = append(xys, plotter.XY{X: p.X, Y: p.Y})
			}
			i++
		}
	}
	return xys
}

// PlotPNG draws the canonical input and ground-truth points of one pair.
func PlotPNG(w io.Writer, title string, input, ground []landmark.Frame) error {
	gt, in := flatten(ground), flatten(input)
	if len(gt) == 0 && len(in) == 0 {
		return ErrNoPoints
	}

	p := plot.New()
	p.Title.Text = title
	p.X.Label.Text = "x (canonical)"
	p.Y.Label.Text = "y (canonical)"
	p.Add(plotter.NewGrid())

	series := []struct {
		name  string
		xys   plotter.XYs
		color color.Color
		shape draw.GlyphDrawer
	}{
		{"ground truth", gt, groundColor, draw.CircleGlyph{}},
		{"input", in, inputColor, draw.CrossGlyph{}},
	}
	for _, s := range series {
		if len(s.xys) == 0 {
			continue
		}
		sc, err := plotter.NewScatter(s.xys)
		if err != nil {
			return fmt.Errorf("scatter %s: %w", s.name, err)
		}
		sc.Color = s.color
		sc.Shape = s.shape
		sc.Radius = vg.Points(1.5)
		p.Add(sc)
		p.Legend.Add(s.name, sc)
	}

	wt, err := p.WriterTo(8*vg.Inch, 8*vg.Inch, "png")
	if err != nil {
		return fmt.Errorf("render png: %w", err)
	}
	_, err = wt.WriteTo(w)
	return err
}

func scatterData(xys plotter.XYs) []opts.ScatterData {
	data := make([]opts.ScatterData, len(xys))
	for i, p := range xys {
		data[i] = opts.ScatterData{Value: []interface{}{p.X, p.Y}}
	}
	return data
}

// ScatterHTML renders the same pair as a standalone go-echarts page.
func ScatterHTML(w io.Writer, title string, input, ground []landmark.Frame) error {
	gt, in := flatten(ground), flatten(input)
	if len(gt) == 0 && len(in) == 0 {
		return ErrNoPoints
	}

	scatter := charts.NewScatter()
	scatter.SetGlobalOptions(
		charts.WithInitializationOpts(opts.Initialization{PageTitle: title, Width: "900px", Height: "900px"}),
		charts.WithTitleOpts(opts.Title{Title: title, Subtitle: fmt.Sprintf("ground=%d input=%d points", len(gt), len(in))}),
		charts.WithTooltipOpts(opts.Tooltip{Show: opts.Bool(true)}),
		charts.WithLegendOpts(opts.Legend{Show: opts.Bool(true)}),
		charts.WithXAxisOpts(opts.XAxis{Name: "x", Type: "value", NameLocation: "middle", NameGap: 25}),
		charts.WithYAxisOpts(opts.YAxis{Name: "y", Type: "value", NameLocation: "middle", NameGap: 30}),
	)
	scatter.AddSeries("ground truth", scatterData(gt), charts.WithScatterChartOpts(opts.ScatterChart{SymbolSize: 4}))
	scatter.AddSeries("input", scatterData(in), charts.WithScatterChartOpts(opts.ScatterChart{SymbolSize: 4}))

	return scatter.Render(w)
}

// Previewer writes a PNG (and optionally an HTML page) per exported pair.
// It implements canonical.Observer; failed pairs are skipped.
type Previewer struct {
	fs           fsutil.FileSystem
	dir          string
	html         bool
	prefixLength int

	mu      sync.Mutex
	written []string
	err     error
}

// NewPreviewer creates a Previewer writing into dir through fsys. Output
// files are named from the first prefixLength characters of the input.
func NewPreviewer(fsys fsutil.FileSystem, dir string, html bool, prefixLength int) *Previewer {
	return &Previewer{fs: fsys, dir: dir, html: html, prefixLength: prefixLength}
}

// ObservePair renders the canonical frames of a successful pair.
func (p *Previewer) ObservePair(res canonical.PairResult, input, ground []landmark.Frame) {
	if !res.OK() || len(ground) == 0 {
		return
	}

	base := filepath.Base(res.Input)
	title := canonical.Prefix(base, p.prefixLength)
	if err := p.fs.MkdirAll(p.dir, 0755); err != nil {
		p.fail(fmt.Errorf("create plot dir %s: %w", p.dir, err))
		return
	}

	pngPath := filepath.Join(p.dir, canonical.OutputName(base, p.prefixLength, "_canon.png"))
	if err := p.render(pngPath, func(w io.Writer) error { return PlotPNG(w, title, input, ground) }); err != nil {
		p.fail(err)
		return
	}

	if p.html {
		htmlPath := filepath.Join(p.dir, canonical.OutputName(base, p.prefixLength, "_canon.html"))
		if err := p.render(htmlPath, func(w io.Writer) error { return ScatterHTML(w, title, input, ground) }); err != nil {
			p.fail(err)
		}
	}
}

func (p *Previewer) render(path string, renderFn func(io.Writer) error) error {
	var buf bytes.Buffer
	if err := renderFn(&buf); err != nil {
		return fmt.Errorf("render %s: %w", path, err)
	}
	if err := p.fs.WriteFile(path, buf.Bytes(), 0644); err != nil {
		return fmt.Errorf("write %s: %w", path, err)
	}

	monitoring.Logf("  Preview: %s", path)
	p.mu.Lock()
	p.written = append(p.written, path)
	p.mu.Unlock()
	return nil
}

func (p *Previewer) fail(err error) {
	monitoring.Warnf("preview: %v", err)
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.err == nil {
		p.err = err
	}
}

// Written lists the preview files produced so far.
func (p *Previewer) Written() []string {
	p.mu.Lock()
	defer p.mu.Unlock()
	return append([]string(nil), p.written...)
}

// Err returns the first rendering error.
func (p *Previewer) Err() error {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.err
}
