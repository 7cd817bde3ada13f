package es

import (
	"math"

	"gonum.org/v1/gonum/floats"
)

// GLDParams configures gradientless descent. SigmaInit is the largest
// search radius.
type GLDParams struct {
	RadiusMin   float64 `json:"radius_min"`
	RadiusDecay float64 `json:"radius_decay"`
	CommonParams
}

func (p GLDParams) Common() CommonParams { return p.CommonParams }

func (p GLDParams) WithCommon(c CommonParams) GLDParams {
	p.CommonParams = c
	return p
}

type GLDState struct {
	Mean []float64 `json:"mean"`
	Progress
}

func (s GLDState) Clone() GLDState {
	s.Mean = cloneVec(s.Mean)
	s.Progress = s.Progress.Status()
	return s
}

func (s GLDState) WithMean(mean []float64) GLDState {
	s = s.Clone()
	s.Mean = cloneVec(mean)
	return s
}

// GLD is gradientless descent (Golovin et al., 2019). Member i searches
// around the best solution so far at radius
//
//	radius_min + 2^(-i/radius_decay) * (sigma_init - radius_min)
//
// so one generation covers several scales at once.
type GLD struct {
	core
}

var gldHyperparams = []string{"radius_min", "radius_decay"}

func NewGLD(populationSize int, solution []float64, opts ...Option) (*GLD, error) {
	c, err := newCore("gld", populationSize, solution, gldHyperparams, opts)
	if err != nil {
		return nil, err
	}
	s := &GLD{core: c}
	if _, err := s.params(); err != nil {
		return nil, err
	}
	return s, nil
}

func (s *GLD) DefaultParams() GLDParams {
	p, _ := s.params()
	return p
}

func (s *GLD) params() (GLDParams, error) {
	common, err := s.common(0.2)
	if err != nil {
		return GLDParams{}, err
	}
	p := GLDParams{
		RadiusMin:    s.float("radius_min", 0.001),
		RadiusDecay:  s.float("radius_decay", 5),
		CommonParams: common,
	}
	if !(p.RadiusMin >= 0 && p.RadiusMin <= p.SigmaInit) {
		return p, configErrorf("radius_min", "must be in [0, sigma_init], got %g", p.RadiusMin)
	}
	if !(p.RadiusDecay > 0) {
		return p, configErrorf("radius_decay", "must be positive, got %g", p.RadiusDecay)
	}
	return p, nil
}

func (s *GLD) Initialize(key Key, params GLDParams) (GLDState, error) {
	mean := s.initialMean(key, params.CommonParams)
	return GLDState{Mean: mean, Progress: newProgress(mean)}, nil
}

// Radii returns the search radius of every population slot.
func (s *GLD) Radii(params GLDParams) []float64 {
	r := make([]float64, s.populationSize)
	for i := range r {
		r[i] = params.RadiusMin + math.Exp2(-float64(i)/params.RadiusDecay)*(params.SigmaInit-params.RadiusMin)
	}
	return r
}

func (s *GLD) Ask(key Key, state GLDState, params GLDParams) (Population, GLDState, error) {
	if len(state.BestSolution) != s.numDims {
		return nil, state, configErrorf("state", "does not match %d dimensions", s.numDims)
	}
	pop := normals(key.Rand(), s.populationSize, s.numDims)
	for i, r := range s.Radii(params) {
		floats.Scale(r, pop[i])
		floats.Add(pop[i], state.BestSolution)
	}
	return s.clip(pop, params.CommonParams), state, nil
}

// Tell moves the mean to the best solution found so far.
func (s *GLD) Tell(population Population, fitness Fitness, state GLDState, params GLDParams) (GLDState, error) {
	if err := s.checkShape(population, fitness); err != nil {
		return state, err
	}
	progress := state.Progress.observe(population, fitness, s.shaper)
	next := state
	next.Mean, next.Progress = s.finish(population, fitness, cloneVec(progress.BestSolution), state.Progress)
	return next, nil
}
