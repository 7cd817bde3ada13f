package opt

import "context"

// Optimizer defines a black-box minimizer over a box.
type Optimizer interface {
	// Name identifies the optimizer in reports
	Name() string

	// Run executes the optimization
	// eval: objective function to minimize
	// lower, upper: parameter bounds
	// dim: dimensionality of parameter space
	// Returns: best parameters and best cost
	Run(eval func([]float64) float64, lower, upper []float64, dim int) ([]float64, float64)
}

// ContextOptimizer is an Optimizer that reports failures instead of
// falling back to a default point, and honours cancellation.
type ContextOptimizer interface {
	Optimizer
	RunContext(ctx context.Context, eval func([]float64) float64, lower, upper []float64, dim int) ([]float64, float64, error)
}

// RunContext runs o, through its RunContext when it has one.
func RunContext(ctx context.Context, o Optimizer, eval func([]float64) float64, lower, upper []float64, dim int) ([]float64, float64, error) {
	if co, ok := o.(ContextOptimizer); ok {
		return co.RunContext(ctx, eval, lower, upper, dim)
	}
	if err := ctx.Err(); err != nil {
		return nil, 0, err
	}
	x, cost := o.Run(eval, lower, upper, dim)
	return x, cost, nil
}
