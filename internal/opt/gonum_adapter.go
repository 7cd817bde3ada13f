package opt

import (
	"log/slog"
	"math"
	"math/rand/v2"

	"gonum.org/v1/gonum/optimize"
)

// GonumCMAAdapter wraps gonum's Cholesky CMA-ES as a reference baseline.
type GonumCMAAdapter struct {
	maxIters int
	popSize  int
	seed     int64
}

// NewGonumCMA creates an adapter evaluating at most maxIters*popSize points.
func NewGonumCMA(maxIters, popSize int, seed int64) Optimizer {
	return &GonumCMAAdapter{maxIters: maxIters, popSize: popSize, seed: seed}
}

func (g *GonumCMAAdapter) Name() string { return "gonum_cma" }

// Run implements Optimizer. CmaEsChol is unconstrained, so candidates are
// clamped into the box before evaluation and the result is clamped too.
func (g *GonumCMAAdapter) Run(eval func([]float64) float64, lower, upper []float64, dim int) ([]float64, float64) {
	clamp := func(x []float64) []float64 {
		out := make([]float64, len(x))
		for i, v := range x {
			out[i] = math.Min(math.Max(v, lower[i]), upper[i])
		}
		return out
	}

	best := math.Inf(1)
	var bestX []float64
	problem := optimize.Problem{
		Func: func(x []float64) float64 {
			y := clamp(x)
			f := eval(y)
			if f < best {
				best, bestX = f, y
			}
			return f
		},
	}
	settings := &optimize.Settings{
		FuncEvaluations: g.maxIters * g.popSize,
		Concurrent:      0,
	}
	method := &optimize.CmaEsChol{
		InitStepSize: (upper[0] - lower[0]) / 4,
		Population:   g.popSize,
		Src:          rand.NewPCG(uint64(g.seed), uint64(g.seed)^0x9e3779b97f4a7c15),
	}

	initX := make([]float64, dim)
	for i := range initX {
		initX[i] = (lower[i] + upper[i]) / 2
	}

	result, err := optimize.Minimize(problem, initX, settings, method)
	if err != nil {
		slog.Debug("gonum CMA-ES ended", "error", err)
	}
	if bestX == nil && result != nil {
		bestX = clamp(result.X)
		best = eval(bestX)
	}
	if bestX == nil {
		bestX = initX
		best = eval(initX)
	}
	return bestX, best
}
