// Package report renders run traces as charts.
package report

import (
	"errors"
	"image/color"
	"math"

	"gonum.org/v1/plot"
	"gonum.org/v1/plot/plotter"
	"gonum.org/v1/plot/vg"

	"github.com/cwbudde/evostrat/internal/trace"
)

// ErrNoData is returned when a trace has no plottable points.
var ErrNoData = errors.New("report: trace has no finite fitness values")

// PlotConvergence draws best-so-far and generation mean fitness against the
// generation number and saves the chart to path. The image format follows
// the file extension (png, svg, pdf). The fitness axis is logarithmic when
// every plotted value is positive.
func PlotConvergence(entries []trace.Entry, title, path string) error {
	bestPts := make(plotter.XYs, 0, len(entries))
	meanPts := make(plotter.XYs, 0, len(entries))
	positive := true
	for _, e := range entries {
		x := float64(e.Generation)
		if v := float64(e.BestFitness); finite(v) {
			bestPts = append(bestPts, plotter.XY{X: x, Y: v})
			positive = positive && v > 0
		}
		if v := float64(e.MeanFitness); finite(v) {
			meanPts = append(meanPts, plotter.XY{X: x, Y: v})
			positive = positive && v > 0
		}
	}
	if len(bestPts) == 0 {
		return ErrNoData
	}

	p := plot.New()
	p.Title.Text = title
	p.X.Label.Text = "Generation"
	p.Y.Label.Text = "Fitness"
	if positive {
		p.Y.Scale = plot.LogScale{}
		p.Y.Tick.Marker = plot.LogTicks{Prec: -1}
	}

	bestLine, err := plotter.NewLine(bestPts)
	if err != nil {
		return err
	}
	bestLine.Color = color.RGBA{R: 200, A: 255}
	p.Add(bestLine)
	p.Legend.Add("best", bestLine)

	if len(meanPts) > 0 {
		meanLine, err := plotter.NewLine(meanPts)
		if err != nil {
			return err
		}
		meanLine.Color = color.RGBA{B: 200, A: 255}
		meanLine.Dashes = []vg.Length{vg.Points(4), vg.Points(2)}
		p.Add(meanLine)
		p.Legend.Add("mean", meanLine)
	}
	p.Legend.Top = true

	return p.Save(6*vg.Inch, 4*vg.Inch, path)
}

func finite(v float64) bool {
	return !math.IsNaN(v) && !math.IsInf(v, 0)
}
