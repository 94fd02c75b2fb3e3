package plot

import (
	"context"
	"fmt"
	"image/color"
	"log/slog"
	"os"
	"path/filepath"
	"strings"

	"gonum.org/v1/gonum/stat"
	gplot "gonum.org/v1/plot"
	"gonum.org/v1/plot/plotter"
	"gonum.org/v1/plot/vg"

	"github.com/miradorstack/corrscan/internal/engine"
	"github.com/miradorstack/corrscan/internal/models"
)

var (
	colorA       = color.RGBA{R: 31, G: 119, B: 180, A: 255}
	colorB       = color.RGBA{R: 214, G: 39, B: 40, A: 255}
	colorFinding = color.RGBA{R: 44, G: 160, B: 44, A: 255}
)

// Renderer draws one PNG per pair with findings: both aligned series standardized onto a
// shared axis, plus a marker at the end of every above-threshold window.
type Renderer struct {
	dir    string
	width  vg.Length
	height vg.Length
	logger *slog.Logger
}

// NewRenderer constructs a Renderer writing into dir.
func NewRenderer(dir string, logger *slog.Logger) *Renderer {
	if logger == nil {
		logger = slog.Default()
	}
	return &Renderer{dir: dir, width: 12 * vg.Inch, height: 6 * vg.Inch, logger: logger}
}

// FileName returns the output file name for pair. Extensions are kept so that
// sales.csv and sales.json never share a plot.
func FileName(pair models.DatasetPair) string {
	return flatten(pair.A) + "_vs_" + flatten(pair.B) + ".png"
}

// Render writes the plot for a pair and returns its path.
func (r *Renderer) Render(pair models.DatasetPair, a, b *models.Series, findings []models.Finding) (string, error) {
	aligned := engine.Align(a, b)
	if aligned.Len() == 0 {
		return "", fmt.Errorf("%s: no shared timestamps to plot", pair)
	}

	p := gplot.New()
	p.Title.Text = fmt.Sprintf("%s vs %s (%d correlated windows)", pair.A, pair.B, len(findings))
	p.X.Label.Text = "date"
	p.Y.Label.Text = "standardized value"
	p.X.Tick.Marker = gplot.TimeTicks{Format: "2006-01-02"}
	p.Legend.Top = true
	p.Legend.Left = true

	za, zb := standardize(aligned.A), standardize(aligned.B)
	ptsA := make(plotter.XYs, aligned.Len())
	ptsB := make(plotter.XYs, aligned.Len())
	for i, ts := range aligned.Timestamps {
		x := float64(ts.Unix())
		ptsA[i] = plotter.XY{X: x, Y: za[i]}
		ptsB[i] = plotter.XY{X: x, Y: zb[i]}
	}

	lineA, err := plotter.NewLine(ptsA)
	if err != nil {
		return "", fmt.Errorf("build %s line: %w", pair.A, err)
	}
	lineA.Color = colorA
	lineB, err := plotter.NewLine(ptsB)
	if err != nil {
		return "", fmt.Errorf("build %s line: %w", pair.B, err)
	}
	lineB.Color = colorB
	p.Add(plotter.NewGrid(), lineA, lineB)
	p.Legend.Add(pair.A, lineA)
	p.Legend.Add(pair.B, lineB)

	if len(findings) > 0 {
		marks := make(plotter.XYs, len(findings))
		for i, f := range findings {
			marks[i] = plotter.XY{X: float64(f.WindowEnd.Unix()), Y: f.Coefficient}
		}
		scatter, err := plotter.NewScatter(marks)
		if err != nil {
			return "", fmt.Errorf("build findings scatter: %w", err)
		}
		scatter.GlyphStyle.Color = colorFinding
		scatter.GlyphStyle.Radius = vg.Points(2)
		p.Add(scatter)
		p.Legend.Add("r at window end", scatter)
	}

	if err := os.MkdirAll(r.dir, 0o750); err != nil {
		return "", fmt.Errorf("create plot dir: %w", err)
	}
	path := filepath.Join(r.dir, FileName(pair))
	if err := r.save(p, path); err != nil {
		return "", fmt.Errorf("save plot: %w", err)
	}
	return path, nil
}

// save encodes p into a temporary file next to path and renames it into place,
// so readers never observe a partially written PNG.
func (r *Renderer) save(p *gplot.Plot, path string) error {
	wt, err := p.WriterTo(r.width, r.height, "png")
	if err != nil {
		return err
	}
	tmp, err := os.CreateTemp(filepath.Dir(path), "."+filepath.Base(path)+".*.tmp")
	if err != nil {
		return err
	}
	defer os.Remove(tmp.Name())
	if _, err := wt.WriteTo(tmp); err != nil {
		tmp.Close()
		return err
	}
	if err := tmp.Close(); err != nil {
		return err
	}
	return os.Rename(tmp.Name(), path)
}

// Observe renders successful pairs that have findings. Its signature matches
// engine.Observer so a Renderer can be attached to a Runner directly.
func (r *Renderer) Observe(_ context.Context, res models.PairResult, a, b *models.Series) {
	if !res.OK() || len(res.Findings) == 0 || a == nil || b == nil {
		return
	}
	path, err := r.Render(res.Pair, a, b, res.Findings)
	if err != nil {
		r.logger.Warn("plot failed", slog.String("pair", res.Pair.String()), slog.Any("error", err))
		return
	}
	r.logger.Debug("plot written", slog.String("pair", res.Pair.String()), slog.String("path", path))
}

func standardize(values []float64) []float64 {
	mean, std := stat.MeanStdDev(values, nil)
	out := make([]float64, len(values))
	for i, v := range values {
		if std == 0 {
			out[i] = 0
			continue
		}
		out[i] = (v - mean) / std
	}
	return out
}

func flatten(name string) string {
	return strings.Map(func(r rune) rune {
		switch r {
		case '/', '\\', ':', ' ', '.':
			return '_'
		}
		return r
	}, name)
}
