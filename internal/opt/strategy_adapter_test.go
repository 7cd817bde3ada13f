package opt

import (
	"context"
	"errors"
	"math"
	"testing"

	"github.com/cwbudde/evostrat/internal/es"
	"github.com/cwbudde/evostrat/internal/problems"
)

func TestStrategyAdapterOnSphere(t *testing.T) {
	tests := []struct {
		strategy string
		maxCost  float64
	}{
		{"cma_es", 1e-6},
		{"sep_cma_es", 1e-6},
		{"ipop_cma_es", 1e-6},
		{"bipop_cma_es", 1e-6},
	}
	dim := 4
	lower, upper := box(dim, -5, 5)
	sphere := problems.Shifted(problems.Sphere(dim), 1).Evaluate

	for _, tt := range tests {
		t.Run(tt.strategy, func(t *testing.T) {
			optimizer := NewStrategy(tt.strategy, 300, 12, 7)
			best, cost := optimizer.Run(sphere, lower, upper, dim)
			if len(best) != dim {
				t.Fatalf("Expected %d parameters, got %d", dim, len(best))
			}
			if cost > tt.maxCost {
				t.Errorf("Expected cost below %g, got %g", tt.maxCost, cost)
			}
			for i, v := range best {
				if math.Abs(v-1) > 0.01 {
					t.Errorf("Parameter %d = %f, expected near 1", i, v)
				}
			}
		})
	}
}

func TestStrategyAdapterDeterministic(t *testing.T) {
	dim := 3
	lower, upper := box(dim, -5, 5)
	rastrigin := problems.Rastrigin(dim).Evaluate

	x1, cost1 := NewStrategy("cma_es", 40, 10, 99).Run(rastrigin, lower, upper, dim)
	x2, cost2 := NewStrategy("cma_es", 40, 10, 99).Run(rastrigin, lower, upper, dim)
	if cost1 != cost2 {
		t.Errorf("Non-deterministic: cost1=%g, cost2=%g", cost1, cost2)
	}
	for i := range x1 {
		if x1[i] != x2[i] {
			t.Errorf("Non-deterministic parameter %d: %g vs %g", i, x1[i], x2[i])
		}
	}
}

func TestStrategyAdapterStopsOnConvergence(t *testing.T) {
	dim := 2
	lower, upper := box(dim, -5, 5)
	var calls int
	flat := func(x []float64) float64 {
		calls++
		return 1
	}

	adapter := NewStrategy("cma_es", 1000, 6, 1).WithConvergence(ConvergenceConfig{
		Enabled:   true,
		Patience:  5,
		Threshold: 1e-6,
	})
	_, cost := adapter.Run(flat, lower, upper, dim)
	if cost != 1 {
		t.Errorf("Expected cost 1, got %g", cost)
	}
	// One generation to seed the tracker, then five stale ones.
	if calls != 6*6 {
		t.Errorf("Expected 36 evaluations, got %d", calls)
	}
}

func TestStrategyAdapterUnknownStrategyFallsBack(t *testing.T) {
	dim := 2
	lower, upper := box(dim, -1, 1)
	x, cost := NewStrategy("no_such_strategy", 10, 4, 1).Run(problems.Sphere(dim).Evaluate, lower, upper, dim)
	if len(x) != dim || cost != 0 {
		t.Errorf("Expected zero vector fallback, got %v (cost %g)", x, cost)
	}

	_, _, err := NewStrategy("no_such_strategy", 10, 4, 1).RunContext(context.Background(), problems.Sphere(dim).Evaluate, lower, upper, dim)
	if err == nil {
		t.Fatal("Expected an error for an unknown strategy")
	}
}

func TestDriveHonoursCancellation(t *testing.T) {
	runner, err := es.New("cma_es", 4, make([]float64, 2))
	if err != nil {
		t.Fatal(err)
	}
	ctx, cancel := context.WithCancel(context.Background())
	gens := 0
	evaluator := problems.NewBatchEvaluator(problems.Sphere(2))
	_, err = Drive(ctx, runner, evaluator, es.NewKey(1), 100, func(g Generation) bool {
		gens++
		if gens == 3 {
			cancel()
		}
		return true
	})
	if err != context.Canceled {
		t.Errorf("Expected context.Canceled, got %v", err)
	}
	if gens != 3 {
		t.Errorf("Expected 3 generations before cancellation, got %d", gens)
	}
	if runner.Status().Generation != 3 {
		t.Errorf("Expected runner at generation 3, got %d", runner.Status().Generation)
	}
}

func TestDriveReportsGenerations(t *testing.T) {
	runner, err := es.New("ipop_cma_es", 6, make([]float64, 3))
	if err != nil {
		t.Fatal(err)
	}
	var seen []Generation
	status, err := Drive(context.Background(), runner, problems.NewBatchEvaluator(problems.Sphere(3)), es.NewKey(2), 10, func(g Generation) bool {
		seen = append(seen, g)
		return true
	})
	if err != nil {
		t.Fatal(err)
	}
	if len(seen) != 10 || status.Generation != 10 {
		t.Fatalf("Expected 10 generations, got %d (status %d)", len(seen), status.Generation)
	}
	for i, g := range seen {
		if g.Index != i+1 {
			t.Errorf("Generation %d has index %d", i, g.Index)
		}
		if g.PopulationSize != 6 || g.Sigma <= 0 {
			t.Errorf("Unexpected generation summary %+v", g)
		}
		if i > 0 && g.BestFitness > seen[i-1].BestFitness {
			t.Errorf("Best fitness regressed at generation %d", g.Index)
		}
	}
}

func TestRunContextSurfacesConstructionErrors(t *testing.T) {
	dim := 2
	lower, upper := box(dim, -1, 1)

	// ars needs an even population
	_, _, err := RunContext(context.Background(), NewStrategy("ars", 5, 7, 1), problems.Sphere(dim).Evaluate, lower, upper, dim)
	if !errors.Is(err, es.ErrConfiguration) {
		t.Errorf("Expected a configuration error, got %v", err)
	}
}

func TestRunContextFallsBackToRun(t *testing.T) {
	dim := 2
	lower, upper := box(dim, -1, 1)

	x, _, err := RunContext(context.Background(), NewGonumCMA(5, 6, 1), problems.Sphere(dim).Evaluate, lower, upper, dim)
	if err != nil || len(x) != dim {
		t.Errorf("Expected a plain Optimizer to run, got x=%v err=%v", x, err)
	}

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	if _, _, err := RunContext(ctx, NewGonumCMA(5, 6, 1), problems.Sphere(dim).Evaluate, lower, upper, dim); !errors.Is(err, context.Canceled) {
		t.Errorf("Expected context.Canceled, got %v", err)
	}
}
