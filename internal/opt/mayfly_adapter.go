package opt

import (
	"context"
	"fmt"
	"log/slog"
	"math/rand"

	"github.com/cwbudde/mayfly"
)

// MayflyAdapter wraps the external Mayfly library as a baseline optimizer
type MayflyAdapter struct {
	maxIters int
	popSize  int
	seed     int64
}

// NewMayfly creates a new Mayfly optimizer adapter
func NewMayfly(maxIters, popSize int, seed int64) Optimizer {
	return &MayflyAdapter{
		maxIters: maxIters,
		popSize:  popSize,
		seed:     seed,
	}
}

func (m *MayflyAdapter) Name() string { return "mayfly" }

// Run implements Optimizer. Failures are logged and yield the zero vector.
func (m *MayflyAdapter) Run(eval func([]float64) float64, lower, upper []float64, dim int) ([]float64, float64) {
	x, cost, err := m.RunContext(context.Background(), eval, lower, upper, dim)
	if err != nil {
		slog.Warn("Mayfly optimization failed", "error", err, "dim", dim)
		x = make([]float64, dim)
		return x, eval(x)
	}
	return x, cost
}

// RunContext implements ContextOptimizer. The library runs to completion
// once started, so ctx is only checked up front.
func (m *MayflyAdapter) RunContext(ctx context.Context, eval func([]float64) float64, lower, upper []float64, dim int) ([]float64, float64, error) {
	if m.popSize < 2 {
		return nil, 0, fmt.Errorf("mayfly: population size must be at least 2, got %d", m.popSize)
	}
	if err := ctx.Err(); err != nil {
		return nil, 0, err
	}

	config := mayfly.NewDefaultConfig()
	config.ObjectiveFunc = eval
	config.ProblemSize = dim
	config.MaxIterations = m.maxIters

	// Males and females are the same size; mating pairs the k-th best of
	// each, so there are at most popSize/2 pairs per iteration.
	config.NPop = m.popSize
	config.NPopF = m.popSize
	config.NC = min(config.NC, m.popSize)

	// The library takes scalar bounds; the benchmark boxes are uniform.
	config.LowerBound = lower[0]
	config.UpperBound = upper[0]

	config.Rand = rand.New(rand.NewSource(m.seed))

	result, err := mayfly.Optimize(config)
	if err != nil {
		return nil, 0, fmt.Errorf("mayfly: %w", err)
	}
	return result.GlobalBest.Position, result.GlobalBest.Cost, nil
}
