package problems

import (
	"context"
	"runtime"

	"golang.org/x/sync/errgroup"

	"github.com/cwbudde/evostrat/internal/es"
)

// Evaluator scores a whole population. Implementations return one fitness
// per member in population order.
type Evaluator interface {
	Evaluate(ctx context.Context, population es.Population) (es.Fitness, error)
}

// BatchEvaluator evaluates members concurrently on up to Workers goroutines.
type BatchEvaluator struct {
	Objective func([]float64) float64
	Workers   int
}

// NewBatchEvaluator evaluates p with one worker per CPU.
func NewBatchEvaluator(p Problem) *BatchEvaluator {
	return &BatchEvaluator{Objective: p.Evaluate, Workers: runtime.NumCPU()}
}

// Evaluate implements Evaluator. It stops handing out work once ctx is done.
func (b *BatchEvaluator) Evaluate(ctx context.Context, population es.Population) (es.Fitness, error) {
	fitness := make(es.Fitness, len(population))
	g, ctx := errgroup.WithContext(ctx)
	if b.Workers > 0 {
		g.SetLimit(b.Workers)
	}
	for i, x := range population {
		i, x := i, x
		g.Go(func() error {
			if err := ctx.Err(); err != nil {
				return err
			}
			fitness[i] = b.Objective(x)
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return nil, err
	}
	return fitness, nil
}
