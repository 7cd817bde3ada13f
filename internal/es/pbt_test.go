package es

import (
	"math"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestPBTExploitsLeader(t *testing.T) {
	s, err := NewPBT(4, make([]float64, 2), WithHyperparams(Hyperparams{"init_min": -1, "init_max": 1}))
	require.NoError(t, err)
	params := s.DefaultParams()
	state, err := s.Initialize(NewKey(1), params)
	require.NoError(t, err)
	assert.Equal(t, []int{0, 1, 2, 3}, state.CopyID)
	for _, v := range state.Scores {
		assert.True(t, math.IsInf(v, 1))
	}

	state.Scores = []float64{5, 1, 3, 1}
	pop, next, err := s.Ask(NewKey(2), state, params)
	require.NoError(t, err)
	assert.Equal(t, []int{1, 1, 1, 1}, next.CopyID)
	assert.Equal(t, state.Archive[1], pop[1])
	assert.NotEqual(t, state.Archive[1], pop[0])
	assert.Equal(t, []int{0, 1, 2, 3}, state.CopyID, "Ask does not mutate its input")
}

func TestPBTKeepsNonWorseMembers(t *testing.T) {
	s, err := NewPBT(3, make([]float64, 1))
	require.NoError(t, err)
	params := s.DefaultParams()
	state, err := s.Initialize(NewKey(1), params)
	require.NoError(t, err)

	state, err = s.Tell(Population{{1}, {2}, {3}}, Fitness{1, 2, 3}, state, params)
	require.NoError(t, err)
	assert.Equal(t, [][]float64{{1}, {2}, {3}}, state.Archive)

	state, err = s.Tell(Population{{4}, {5}, {6}}, Fitness{1, 9, math.NaN()}, state, params)
	require.NoError(t, err)
	assert.Equal(t, [][]float64{{4}, {2}, {3}}, state.Archive)
	assert.Equal(t, []float64{1, 2, 3}, state.Scores)
	assert.Equal(t, 1.0, state.BestFitness)
	assert.Equal(t, 2, state.Generation)
}

func TestPBTMinimizesSphere(t *testing.T) {
	s, err := NewPBT(8, make([]float64, 2), WithHyperparams(Hyperparams{"init_min": -2, "init_max": 2}))
	require.NoError(t, err)

	state := runStrategy[PBTParams, PBTState](t, s, s.DefaultParams(), 7, 200, shiftedSphere(1))
	assert.Less(t, state.BestFitness, 0.05)
}
