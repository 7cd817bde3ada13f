package es

import (
	"math"

	"gonum.org/v1/gonum/floats"
	"gonum.org/v1/gonum/stat"
)

// PGPEParams configures policy gradients with parameter-based exploration.
// SigmaInit is the initial per-coordinate standard deviation.
type PGPEParams struct {
	AdamParams
	StdLearningRate float64 `json:"std_learning_rate"`
	StdMaxChange    float64 `json:"std_max_change"`
	StdDecay        float64 `json:"std_decay"`
	StdLimit        float64 `json:"std_limit"`
	CommonParams
}

func (p PGPEParams) Common() CommonParams { return p.CommonParams }

func (p PGPEParams) WithCommon(c CommonParams) PGPEParams {
	p.CommonParams = c
	return p
}

// PGPEState keeps one standard deviation per coordinate.
type PGPEState struct {
	Mean []float64 `json:"mean"`
	Std  []float64 `json:"std"`
	Opt  Adam      `json:"opt"`
	Progress
}

func (s PGPEState) Clone() PGPEState {
	s.Mean = cloneVec(s.Mean)
	s.Std = cloneVec(s.Std)
	s.Opt.M = cloneVec(s.Opt.M)
	s.Opt.V = cloneVec(s.Opt.V)
	s.Progress = s.Progress.Status()
	return s
}

func (s PGPEState) WithMean(mean []float64) PGPEState {
	s = s.Clone()
	s.Mean = cloneVec(mean)
	return s
}

// StepSize is the average coordinate standard deviation.
func (s PGPEState) StepSize() float64 {
	if len(s.Std) == 0 {
		return 0
	}
	return stat.Mean(s.Std, nil)
}

// PGPE is policy gradients with parameter-based exploration (Sehnke et al.,
// 2010). Like ARS it samples mirrored pairs, but it also adapts a separate
// standard deviation for every coordinate.
type PGPE struct {
	core
}

var pgpeHyperparams = []string{
	"learning_rate", "beta_1", "beta_2", "epsilon",
	"std_learning_rate", "std_max_change", "std_decay", "std_limit",
}

func NewPGPE(populationSize int, solution []float64, opts ...Option) (*PGPE, error) {
	if populationSize%2 != 0 {
		return nil, configErrorf("population_size", "must be even for antithetic sampling, got %d", populationSize)
	}
	c, err := newCore("pgpe", populationSize, solution, pgpeHyperparams, opts)
	if err != nil {
		return nil, err
	}
	s := &PGPE{core: c}
	if _, err := s.params(); err != nil {
		return nil, err
	}
	return s, nil
}

func (s *PGPE) DefaultParams() PGPEParams {
	p, _ := s.params()
	return p
}

func (s *PGPE) params() (PGPEParams, error) {
	common, err := s.common(1.0)
	if err != nil {
		return PGPEParams{}, err
	}
	adam, err := s.adam(0.05)
	if err != nil {
		return PGPEParams{}, err
	}
	p := PGPEParams{
		AdamParams:      adam,
		StdLearningRate: s.float("std_learning_rate", 0.1),
		StdMaxChange:    s.float("std_max_change", 0.2),
		StdDecay:        s.float("std_decay", 1.0),
		StdLimit:        s.float("std_limit", 0),
		CommonParams:    common,
	}
	if !(p.StdLearningRate >= 0) {
		return p, configErrorf("std_learning_rate", "must be non-negative, got %g", p.StdLearningRate)
	}
	if !(p.StdMaxChange >= 0 && p.StdMaxChange < 1) {
		return p, configErrorf("std_max_change", "must be in [0, 1), got %g", p.StdMaxChange)
	}
	if !(p.StdDecay > 0 && p.StdDecay <= 1) {
		return p, configErrorf("std_decay", "must be in (0, 1], got %g", p.StdDecay)
	}
	if !(p.StdLimit >= 0) || math.IsInf(p.StdLimit, 1) {
		return p, configErrorf("std_limit", "must be non-negative and finite, got %g", p.StdLimit)
	}
	return p, nil
}

func (s *PGPE) Initialize(key Key, params PGPEParams) (PGPEState, error) {
	n := s.numDims
	mean := s.initialMean(key, params.CommonParams)
	std := make([]float64, n)
	for i := range std {
		std[i] = params.SigmaInit
	}
	return PGPEState{
		Mean:     mean,
		Std:      std,
		Opt:      Adam{M: make([]float64, n), V: make([]float64, n)},
		Progress: newProgress(mean),
	}, nil
}

// Ask returns mean + std*z for population/2 draws z followed by their
// mirrors.
func (s *PGPE) Ask(key Key, state PGPEState, params PGPEParams) (Population, PGPEState, error) {
	if len(state.Mean) != s.numDims || len(state.Std) != s.numDims {
		return nil, state, configErrorf("state", "does not match %d dimensions", s.numDims)
	}
	half := s.populationSize / 2
	plus := normals(key.Rand(), half, s.numDims)
	pop := make(Population, s.populationSize)
	for i, z := range plus {
		floats.Mul(z, state.Std)
		xp := cloneVec(state.Mean)
		floats.Add(xp, z)
		xm := cloneVec(state.Mean)
		floats.Sub(xm, z)
		pop[i], pop[half+i] = xp, xm
	}
	return s.clip(pop, params.CommonParams), state, nil
}

// Tell estimates the mean gradient from the pair differences and the std
// gradient from the pair sums against the population baseline. The std step
// is limited to StdMaxChange of its current value per generation.
func (s *PGPE) Tell(population Population, fitness Fitness, state PGPEState, params PGPEParams) (PGPEState, error) {
	if err := s.checkShape(population, fitness); err != nil {
		return state, err
	}
	if len(state.Std) != s.numDims {
		return state, configErrorf("state.std", "has %d entries, expected %d", len(state.Std), s.numDims)
	}
	n := s.numDims
	half := s.populationSize / 2
	shaped := s.shaper.Shape(population, fitness)
	plus, minus := shaped[:half], shaped[half:]
	baseline := stat.Mean(shaped, nil)
	scale := 1 / float64(s.populationSize)

	gradMean := make([]float64, n)
	gradStd := make([]float64, n)
	d := make([]float64, n)
	for i := 0; i < half; i++ {
		floats.SubTo(d, population[i], state.Mean)
		floats.AddScaled(gradMean, (plus[i]-minus[i])*scale, d)
		w := (plus[i] + minus[i] - 2*baseline) * scale
		for j, dj := range d {
			gradStd[j] += w * (dj*dj - state.Std[j]*state.Std[j]) / state.Std[j]
		}
	}

	mean, opt := adamStep(state.Mean, gradMean, state.Opt, params.AdamParams)

	std := make([]float64, n)
	for j, sd := range state.Std {
		limit := params.StdMaxChange * sd
		v := sd - params.StdLearningRate*gradStd[j]
		v = math.Min(math.Max(v, sd-limit), sd+limit)
		std[j] = math.Max(v*params.StdDecay, params.StdLimit)
	}

	next := state
	next.Mean, next.Progress = s.finish(population, fitness, mean, state.Progress)
	next.Std = std
	next.Opt = opt
	return next, nil
}
