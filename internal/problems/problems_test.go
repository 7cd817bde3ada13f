package problems

import (
	"context"
	"math"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/cwbudde/evostrat/internal/es"
)

func TestOptimaAreZero(t *testing.T) {
	tests := []struct {
		name string
		at   float64
	}{
		{"sphere", 0},
		{"rosenbrock", 1},
		{"rastrigin", 0},
		{"ellipsoid", 0},
		{"ackley", 0},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			p, err := Lookup(tt.name, 4)
			require.NoError(t, err)
			x := []float64{tt.at, tt.at, tt.at, tt.at}
			assert.InDelta(t, 0, p.Evaluate(x), 1e-12)
			assert.Greater(t, p.Evaluate([]float64{0.3, -0.2, 0.7, 0.1}), 0.0)
		})
	}
}

func TestLookupErrors(t *testing.T) {
	_, err := Lookup("himmelblau", 2)
	assert.Error(t, err)
	_, err = Lookup("sphere", 0)
	assert.Error(t, err)
}

func TestShiftedMovesOptimum(t *testing.T) {
	p := Shifted(Sphere(3), 2)
	assert.Equal(t, "sphere+2", p.Name())
	assert.Equal(t, 0.0, p.Evaluate([]float64{2, 2, 2}))
	assert.Equal(t, 12.0, p.Evaluate([]float64{0, 0, 0}))

	lo, hi := p.Bounds()
	assert.Equal(t, []float64{-5, -5, -5}, lo)
	assert.Equal(t, []float64{5, 5, 5}, hi)
}

func TestBatchEvaluatorKeepsOrder(t *testing.T) {
	b := &BatchEvaluator{Objective: Sphere(2).Evaluate, Workers: 3}
	pop := es.Population{{1, 0}, {0, 2}, {3, 0}, {1, 1}, {0, 0}}

	fitness, err := b.Evaluate(context.Background(), pop)
	require.NoError(t, err)
	assert.Equal(t, es.Fitness{1, 4, 9, 2, 0}, fitness)
}

func TestBatchEvaluatorHonoursCancellation(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	b := NewBatchEvaluator(Sphere(2))
	_, err := b.Evaluate(ctx, es.Population{{1, 1}})
	assert.ErrorIs(t, err, context.Canceled)
}

func TestBatchEvaluatorPassesNonFinite(t *testing.T) {
	b := &BatchEvaluator{Objective: func(x []float64) float64 { return math.Log(x[0]) }}
	fitness, err := b.Evaluate(context.Background(), es.Population{{-1}, {1}})
	require.NoError(t, err)
	assert.True(t, math.IsNaN(fitness[0]))
	assert.Equal(t, 0.0, fitness[1])
}
