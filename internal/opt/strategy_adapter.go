package opt

import (
	"context"
	"log/slog"

	"github.com/cwbudde/evostrat/internal/es"
	"github.com/cwbudde/evostrat/internal/problems"
)

// StrategyAdapter runs a registered evolution strategy behind the
// Optimizer interface.
type StrategyAdapter struct {
	strategy    string
	maxIters    int
	popSize     int
	seed        int64
	opts        []es.Option
	convergence ConvergenceConfig
}

// NewStrategy creates an adapter for the named strategy (see es.Names).
// opts are applied after the bounds derived defaults, so they win.
func NewStrategy(strategy string, maxIters, popSize int, seed int64, opts ...es.Option) *StrategyAdapter {
	return &StrategyAdapter{
		strategy:    strategy,
		maxIters:    maxIters,
		popSize:     popSize,
		seed:        seed,
		opts:        opts,
		convergence: DisabledConvergenceConfig(),
	}
}

// WithConvergence enables early stopping.
func (s *StrategyAdapter) WithConvergence(c ConvergenceConfig) *StrategyAdapter {
	s.convergence = c
	return s
}

func (s *StrategyAdapter) Name() string { return s.strategy }

// BoundsOptions maps a uniform box to init/clip overrides and a step size of
// a quarter of the box width.
func BoundsOptions(strategy string, lower, upper float64) es.Option {
	h := es.Hyperparams{
		"init_min":   lower,
		"init_max":   upper,
		"clip_min":   lower,
		"clip_max":   upper,
		"sigma_init": (upper - lower) / 4,
	}
	if strategy == "random_search" {
		h["range_min"] = lower
		h["range_max"] = upper
	}
	return es.WithHyperparams(h)
}

// Run implements Optimizer. Construction errors are logged and yield the
// zero vector, mirroring the mayfly adapter.
func (s *StrategyAdapter) Run(eval func([]float64) float64, lower, upper []float64, dim int) ([]float64, float64) {
	x, cost, err := s.RunContext(context.Background(), eval, lower, upper, dim)
	if err != nil {
		slog.Warn("Strategy run failed", "strategy", s.strategy, "error", err)
		x = make([]float64, dim)
		return x, eval(x)
	}
	return x, cost
}

// RunContext is Run with cancellation and error reporting.
func (s *StrategyAdapter) RunContext(ctx context.Context, eval func([]float64) float64, lower, upper []float64, dim int) ([]float64, float64, error) {
	opts := append([]es.Option{BoundsOptions(s.strategy, lower[0], upper[0])}, s.opts...)
	runner, err := es.New(s.strategy, s.popSize, make([]float64, dim), opts...)
	if err != nil {
		return nil, 0, err
	}

	tracker := NewConvergenceTracker(s.convergence)
	evaluator := &problems.BatchEvaluator{Objective: eval, Workers: 1}
	status, err := Drive(ctx, runner, evaluator, es.NewKey(s.seed), s.maxIters, func(g Generation) bool {
		return !tracker.Update(g.BestFitness)
	})
	if err != nil {
		return nil, 0, err
	}

	slog.Debug("Strategy run finished",
		"strategy", s.strategy,
		"generations", status.Generation,
		"best_fitness", status.BestFitness,
		"restarts", runner.Restarts(),
	)
	return status.BestSolution, status.BestFitness, nil
}
