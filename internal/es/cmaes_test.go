package es

import (
	"errors"
	"math"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gonum.org/v1/gonum/mat"
)

func shiftedSphere(shift float64) func([]float64) float64 {
	return func(x []float64) float64 {
		var sum float64
		for _, v := range x {
			sum += (v - shift) * (v - shift)
		}
		return sum
	}
}

func evaluate(pop Population, f func([]float64) float64) Fitness {
	out := make(Fitness, len(pop))
	for i, x := range pop {
		out[i] = f(x)
	}
	return out
}

// runStrategy drives a strategy for gens generations with keys derived from seed.
func runStrategy[P, S any](t *testing.T, s Strategy[P, S], params P, seed int64, gens int, f func([]float64) float64) S {
	t.Helper()
	keys := NewKey(seed).Split(gens + 1)
	state, err := s.Initialize(keys[0], params)
	require.NoError(t, err)
	for g := 1; g <= gens; g++ {
		pop, next, err := s.Ask(keys[g], state, params)
		require.NoError(t, err)
		state, err = s.Tell(pop, evaluate(pop, f), next, params)
		require.NoError(t, err)
	}
	return state
}

func TestCMAESAskShape(t *testing.T) {
	s, err := NewCMAES(8, make([]float64, 3))
	require.NoError(t, err)
	params := s.DefaultParams()

	state, err := s.Initialize(NewKey(0), params)
	require.NoError(t, err)
	pop, _, err := s.Ask(NewKey(1), state, params)
	require.NoError(t, err)

	require.Len(t, pop, 8)
	for _, x := range pop {
		require.Len(t, x, 3)
		for _, v := range x {
			assert.False(t, math.IsNaN(v) || math.IsInf(v, 0))
		}
	}
}

func TestCMAESDefaultParams(t *testing.T) {
	s, err := NewCMAES(10, make([]float64, 4))
	require.NoError(t, err)
	p := s.DefaultParams()

	assert.Equal(t, 5, s.EliteCount())
	assert.Len(t, p.Weights, 5)
	assert.Greater(t, p.MuEff, 1.0)
	assert.LessOrEqual(t, p.C1+p.CMu, 1.0)
	assert.GreaterOrEqual(t, p.EigenInterval, 1)
	assert.Equal(t, 1.0, p.SigmaInit)
}

func TestCMAESIsDeterministic(t *testing.T) {
	s, err := NewCMAES(8, make([]float64, 3))
	require.NoError(t, err)
	params := s.DefaultParams()

	a := runStrategy[CMAParams, CMAState](t, s, params, 11, 20, shiftedSphere(1))
	b := runStrategy[CMAParams, CMAState](t, s, params, 11, 20, shiftedSphere(1))
	assert.Equal(t, a, b)

	c := runStrategy[CMAParams, CMAState](t, s, params, 12, 20, shiftedSphere(1))
	assert.NotEqual(t, a.Mean, c.Mean)
}

func TestCMAESConvergesOnShiftedSphere(t *testing.T) {
	s, err := NewCMAES(12, make([]float64, 5))
	require.NoError(t, err)

	state := runStrategy[CMAParams, CMAState](t, s, s.DefaultParams(), 3, 400, shiftedSphere(1.5))
	assert.Less(t, state.BestFitness, 1e-6)
	for _, v := range state.BestSolution {
		assert.InDelta(t, 1.5, v, 1e-2)
	}
	assert.Equal(t, 400, state.Generation)
}

func TestCMAESCovarianceStaysSymmetricPSD(t *testing.T) {
	s, err := NewCMAES(10, make([]float64, 4))
	require.NoError(t, err)
	params := s.DefaultParams()

	keys := NewKey(5).Split(31)
	state, err := s.Initialize(keys[0], params)
	require.NoError(t, err)
	noise := keys[30].Rand()
	for g := 1; g < 30; g++ {
		pop, next, err := s.Ask(keys[g], state, params)
		require.NoError(t, err)
		fitness := make(Fitness, len(pop))
		for i := range fitness {
			fitness[i] = noise.Float64()
		}
		state, err = s.Tell(pop, fitness, next, params)
		require.NoError(t, err)

		cov := state.Covariance()
		n := 4
		for i := 0; i < n; i++ {
			for j := 0; j < n; j++ {
				require.InDelta(t, state.C[i*n+j], state.C[j*n+i], 1e-12)
			}
		}
		var eig mat.EigenSym
		require.True(t, eig.Factorize(cov, false))
		for _, v := range eig.Values(nil) {
			require.GreaterOrEqual(t, v, -1e-12)
		}
		require.Greater(t, state.Sigma, 0.0)
	}
}

func TestCMAESTellDoesNotMutateInputs(t *testing.T) {
	s, err := NewCMAES(6, make([]float64, 2))
	require.NoError(t, err)
	params := s.DefaultParams()
	state, err := s.Initialize(NewKey(1), params)
	require.NoError(t, err)
	pop, asked, err := s.Ask(NewKey(2), state, params)
	require.NoError(t, err)

	before := asked.Clone()
	popBefore := pop.Clone()
	_, err = s.Tell(pop, evaluate(pop, shiftedSphere(0)), asked, params)
	require.NoError(t, err)

	assert.Equal(t, before, asked)
	assert.Equal(t, popBefore, pop)
}

func TestCMAESToleratesNonFiniteFitness(t *testing.T) {
	s, err := NewCMAES(6, make([]float64, 2))
	require.NoError(t, err)
	params := s.DefaultParams()
	state, err := s.Initialize(NewKey(1), params)
	require.NoError(t, err)
	pop, asked, err := s.Ask(NewKey(2), state, params)
	require.NoError(t, err)

	fitness := Fitness{math.NaN(), 3, math.Inf(1), 1, 2, 4}
	next, err := s.Tell(pop, fitness, asked, params)
	require.NoError(t, err)

	assert.Equal(t, 1.0, next.BestFitness)
	assert.Equal(t, pop[3], next.BestSolution)
	assert.True(t, allFinite(next.Mean))
	assert.True(t, allFinite(next.C))
	assert.False(t, math.IsNaN(next.Sigma))
}

func TestCMAESMaximizeTracksBestInMinimizationConvention(t *testing.T) {
	s, err := NewCMAES(4, make([]float64, 2), WithFitnessShaper(Shaper{MaximizeFitness: true}))
	require.NoError(t, err)
	params := s.DefaultParams()
	state, err := s.Initialize(NewKey(1), params)
	require.NoError(t, err)
	pop, asked, err := s.Ask(NewKey(2), state, params)
	require.NoError(t, err)

	next, err := s.Tell(pop, Fitness{1, 5, 2, 3}, asked, params)
	require.NoError(t, err)
	assert.Equal(t, -5.0, next.BestFitness)
	assert.Equal(t, pop[1], next.BestSolution)
}

func TestCMAESMeanDecayAndClipping(t *testing.T) {
	s, err := NewCMAES(6, make([]float64, 2), WithHyperparams(Hyperparams{
		"clip_min": -0.1,
		"clip_max": 0.1,
		"init_min": 0.05,
		"init_max": 0.05,
	}))
	require.NoError(t, err)
	params := s.DefaultParams()
	state, err := s.Initialize(NewKey(1), params)
	require.NoError(t, err)
	assert.Equal(t, []float64{0.05, 0.05}, state.Mean)

	pop, _, err := s.Ask(NewKey(2), state, params)
	require.NoError(t, err)
	for _, x := range pop {
		for _, v := range x {
			assert.GreaterOrEqual(t, v, -0.1)
			assert.LessOrEqual(t, v, 0.1)
		}
	}
}

func TestCMAESConfigurationErrors(t *testing.T) {
	tests := []struct {
		name string
		pop  int
		dims int
		opts []Option
	}{
		{"zero population", 0, 3, nil},
		{"no dimensions", 8, 0, nil},
		{"elite ratio above one", 8, 3, []Option{WithHyperparams(Hyperparams{"elite_ratio": 1.5})}},
		{"negative elite ratio", 8, 3, []Option{WithHyperparams(Hyperparams{"elite_ratio": -0.1})}},
		{"unknown override", 8, 3, []Option{WithHyperparams(Hyperparams{"learning_rate_typo": 1})}},
		{"non-positive sigma", 8, 3, []Option{WithHyperparams(Hyperparams{"sigma_init": 0})}},
		{"mean decay out of range", 8, 3, []Option{WithHyperparams(Hyperparams{"mean_decay": 1})}},
		{"NaN clip_min", 8, 3, []Option{WithHyperparams(Hyperparams{"clip_min": math.NaN()})}},
		{"NaN clip_max", 8, 3, []Option{WithHyperparams(Hyperparams{"clip_max": math.NaN()})}},
		{"infinite init range", 8, 3, []Option{WithHyperparams(Hyperparams{"init_max": math.Inf(1)})}},
		{"infinite sigma", 8, 3, []Option{WithHyperparams(Hyperparams{"sigma_init": math.Inf(1)})}},
		{"sigma below sigma_min", 8, 3, []Option{WithHyperparams(Hyperparams{"sigma_min": 2, "sigma_init": 1})}},
		{"sigma above sigma_max", 8, 3, []Option{WithHyperparams(Hyperparams{"sigma_max": 0.5, "sigma_init": 1})}},
		{"NaN sigma_max", 8, 3, []Option{WithHyperparams(Hyperparams{"sigma_max": math.NaN()})}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := NewCMAES(tt.pop, make([]float64, tt.dims), tt.opts...)
			require.Error(t, err)
			assert.True(t, errors.Is(err, ErrConfiguration))
			var cfg *ConfigurationError
			assert.True(t, errors.As(err, &cfg))
		})
	}
}

func TestCMAESAcceptsInfiniteClipBounds(t *testing.T) {
	_, err := NewCMAES(8, make([]float64, 3), WithHyperparams(Hyperparams{"clip_min": math.Inf(-1), "clip_max": math.Inf(1)}))
	assert.NoError(t, err)
}

func TestSepCMAESRejectsSigmaOutsideRange(t *testing.T) {
	_, err := NewSepCMAES(8, make([]float64, 3), WithHyperparams(Hyperparams{"sigma_min": 2, "sigma_init": 1}))
	assert.ErrorIs(t, err, ErrConfiguration)
}

func TestCMAESTellRejectsShapeMismatch(t *testing.T) {
	s, err := NewCMAES(4, make([]float64, 2))
	require.NoError(t, err)
	params := s.DefaultParams()
	state, err := s.Initialize(NewKey(1), params)
	require.NoError(t, err)
	pop, asked, err := s.Ask(NewKey(2), state, params)
	require.NoError(t, err)

	_, err = s.Tell(pop, Fitness{1, 2, 3}, asked, params)
	assert.ErrorIs(t, err, ErrConfiguration)

	_, err = s.Tell(pop[:3], Fitness{1, 2, 3}, asked, params)
	assert.ErrorIs(t, err, ErrConfiguration)

	bad := pop.Clone()
	bad[0] = []float64{1, 2, 3}
	_, err = s.Tell(bad, Fitness{1, 2, 3, 4}, asked, params)
	assert.ErrorIs(t, err, ErrConfiguration)
}

func TestCMAESEigenIntervalDefersDecomposition(t *testing.T) {
	s, err := NewCMAES(6, make([]float64, 3), WithHyperparams(Hyperparams{"eigen_interval": 3}))
	require.NoError(t, err)
	params := s.DefaultParams()
	require.Equal(t, 3, params.EigenInterval)

	keys := NewKey(9).Split(6)
	state, err := s.Initialize(keys[0], params)
	require.NoError(t, err)
	var decompositions []int
	for g := 1; g < 6; g++ {
		pop, next, err := s.Ask(keys[g], state, params)
		require.NoError(t, err)
		if g == 1 || next.EigenGeneration != state.EigenGeneration {
			decompositions = append(decompositions, next.EigenGeneration)
		}
		state, err = s.Tell(pop, evaluate(pop, shiftedSphere(1)), next, params)
		require.NoError(t, err)
	}
	assert.Equal(t, []int{0, 3}, decompositions)
}
