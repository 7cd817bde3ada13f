package report

import (
	"math"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/cwbudde/evostrat/internal/trace"
)

func TestPlotConvergenceWritesPNG(t *testing.T) {
	entries := make([]trace.Entry, 0, 20)
	for g := 1; g <= 20; g++ {
		entries = append(entries, trace.Entry{
			Generation:  g,
			BestFitness: trace.Float(math.Pow(10, -float64(g)/4)),
			MeanFitness: trace.Float(math.Pow(10, 1-float64(g)/5)),
		})
	}
	path := filepath.Join(t.TempDir(), "convergence.png")
	require.NoError(t, PlotConvergence(entries, "sphere", path))

	info, err := os.Stat(path)
	require.NoError(t, err)
	assert.Greater(t, info.Size(), int64(0))
}

func TestPlotConvergenceLinearAxisForNonPositive(t *testing.T) {
	entries := []trace.Entry{
		{Generation: 1, BestFitness: -1, MeanFitness: trace.Float(math.NaN())},
		{Generation: 2, BestFitness: -3, MeanFitness: 2},
	}
	path := filepath.Join(t.TempDir(), "neg.png")
	require.NoError(t, PlotConvergence(entries, "maximize", path))
}

func TestPlotConvergenceNeedsData(t *testing.T) {
	entries := []trace.Entry{{Generation: 1, BestFitness: trace.Float(math.Inf(1))}}
	err := PlotConvergence(entries, "empty", filepath.Join(t.TempDir(), "x.png"))
	assert.ErrorIs(t, err, ErrNoData)
}
