package es

import (
	"math"

	"gonum.org/v1/gonum/floats"
	"gonum.org/v1/gonum/mat"
)

// GuidedESParams configures guided evolution strategies. Alpha splits the
// search variance between the full space and the guiding subspace; Beta
// scales the gradient estimate.
type GuidedESParams struct {
	LearningRate float64 `json:"learning_rate"`
	Alpha        float64 `json:"alpha"`
	Beta         float64 `json:"beta"`
	SigmaDecay   float64 `json:"sigma_decay"`
	SigmaLimit   float64 `json:"sigma_limit"`
	CommonParams
}

func (p GuidedESParams) Common() CommonParams { return p.CommonParams }

func (p GuidedESParams) WithCommon(c CommonParams) GuidedESParams {
	p.CommonParams = c
	return p
}

// GuidedESState keeps the last subspace_dims gradient estimates, oldest
// first. Surrogate, when set, replaces the finite-difference estimate in
// the archive at the next Tell.
type GuidedESState struct {
	Mean      []float64   `json:"mean"`
	Sigma     float64     `json:"sigma"`
	Subspace  [][]float64 `json:"subspace"`
	Surrogate []float64   `json:"surrogate,omitempty"`
	Progress
}

func (s GuidedESState) Clone() GuidedESState {
	s.Mean = cloneVec(s.Mean)
	s.Subspace = Population(s.Subspace).Clone()
	s.Surrogate = cloneVec(s.Surrogate)
	s.Progress = s.Progress.Status()
	return s
}

func (s GuidedESState) WithMean(mean []float64) GuidedESState {
	s = s.Clone()
	s.Mean = cloneVec(mean)
	return s
}

// WithSurrogate attaches an externally computed gradient, e.g. from a
// biased model of the objective, to guide the next generations.
func (s GuidedESState) WithSurrogate(grad []float64) GuidedESState {
	s = s.Clone()
	s.Surrogate = cloneVec(grad)
	return s
}

func (s GuidedESState) StepSize() float64 { return s.Sigma }

// GuidedES is guided evolution strategies (Maheswaranathan et al., 2018).
// Perturbations mix isotropic noise with noise confined to the span of
// recent gradient estimates, and are sampled in mirrored pairs.
type GuidedES struct {
	core
	subspaceDims int
}

var guidedHyperparams = []string{"subspace_dims", "learning_rate", "alpha", "beta", "sigma_decay", "sigma_limit"}

// NewGuidedES builds a guided ES. subspace_dims (default 1) is the number
// of gradient estimates spanning the guiding subspace and may not exceed
// the number of dimensions.
func NewGuidedES(populationSize int, solution []float64, opts ...Option) (*GuidedES, error) {
	if populationSize%2 != 0 {
		return nil, configErrorf("population_size", "must be even for antithetic sampling, got %d", populationSize)
	}
	c, err := newCore("guided_es", populationSize, solution, guidedHyperparams, opts)
	if err != nil {
		return nil, err
	}
	k := c.float("subspace_dims", 1)
	if k != math.Trunc(k) || k < 1 {
		return nil, configErrorf("subspace_dims", "must be a positive integer, got %g", k)
	}
	if int(k) > c.numDims {
		return nil, configErrorf("subspace_dims", "must not exceed num_dims (%g > %d)", k, c.numDims)
	}
	s := &GuidedES{core: c, subspaceDims: int(k)}
	if _, err := s.params(); err != nil {
		return nil, err
	}
	return s, nil
}

// SubspaceDims is the dimension of the guiding subspace.
func (s *GuidedES) SubspaceDims() int { return s.subspaceDims }

func (s *GuidedES) DefaultParams() GuidedESParams {
	p, _ := s.params()
	return p
}

func (s *GuidedES) params() (GuidedESParams, error) {
	common, err := s.common(0.03)
	if err != nil {
		return GuidedESParams{}, err
	}
	p := GuidedESParams{
		LearningRate: s.float("learning_rate", 0.05),
		Alpha:        s.float("alpha", 0.5),
		Beta:         s.float("beta", 1.0),
		SigmaDecay:   s.float("sigma_decay", 1.0),
		SigmaLimit:   s.float("sigma_limit", 0.01),
		CommonParams: common,
	}
	if !(p.LearningRate > 0) {
		return p, configErrorf("learning_rate", "must be positive, got %g", p.LearningRate)
	}
	if !(p.Alpha >= 0 && p.Alpha <= 1) {
		return p, configErrorf("alpha", "must be in [0, 1], got %g", p.Alpha)
	}
	if !(p.Beta > 0) {
		return p, configErrorf("beta", "must be positive, got %g", p.Beta)
	}
	if !(p.SigmaDecay > 0 && p.SigmaDecay <= 1) {
		return p, configErrorf("sigma_decay", "must be in (0, 1], got %g", p.SigmaDecay)
	}
	if !(p.SigmaLimit >= 0) || math.IsInf(p.SigmaLimit, 1) {
		return p, configErrorf("sigma_limit", "must be non-negative and finite, got %g", p.SigmaLimit)
	}
	return p, nil
}

// Initialize seeds the subspace archive with random directions.
func (s *GuidedES) Initialize(key Key, params GuidedESParams) (GuidedESState, error) {
	kInit, kSub := key.Split2()
	mean := s.initialMean(kInit, params.CommonParams)
	return GuidedESState{
		Mean:     mean,
		Sigma:    params.SigmaInit,
		Subspace: normals(kSub.Rand(), s.subspaceDims, s.numDims),
		Progress: newProgress(mean),
	}, nil
}

// Ask draws population/2 perturbations
//
//	sigma * (sqrt(alpha/n) * e + sqrt((1-alpha)/k) * Q * u)
//
// with e ~ N(0, I_n), u ~ N(0, I_k) and Q an orthonormal basis of the
// subspace archive, then mirrors them.
func (s *GuidedES) Ask(key Key, state GuidedESState, params GuidedESParams) (Population, GuidedESState, error) {
	n, k := s.numDims, s.subspaceDims
	if len(state.Mean) != n || len(state.Subspace) != k {
		return nil, state, configErrorf("state", "does not match %d dimensions with a %d-dimensional subspace", n, k)
	}
	q, err := orthonormalBasis(state.Subspace)
	if err != nil {
		return nil, state, err
	}
	a := state.Sigma * math.Sqrt(params.Alpha/float64(n))
	c := state.Sigma * math.Sqrt((1-params.Alpha)/float64(k))

	kFull, kSub := key.Split2()
	half := s.populationSize / 2
	full := normals(kFull.Rand(), half, n)
	sub := normals(kSub.Rand(), half, k)

	pop := make(Population, s.populationSize)
	var guided mat.VecDense
	for i := 0; i < half; i++ {
		guided.MulVec(q, mat.NewVecDense(k, sub[i]))
		z := full[i]
		floats.Scale(a, z)
		floats.AddScaled(z, c, guided.RawVector().Data)
		xp := cloneVec(state.Mean)
		floats.Add(xp, z)
		xm := cloneVec(state.Mean)
		floats.Sub(xm, z)
		pop[i], pop[half+i] = xp, xm
	}
	return s.clip(pop, params.CommonParams), state, nil
}

// Tell rebuilds the unit noise of the first half, forms the antithetic
// gradient estimate and takes a plain gradient step. The estimate (or the
// pending surrogate) enters the subspace archive, evicting the oldest row.
func (s *GuidedES) Tell(population Population, fitness Fitness, state GuidedESState, params GuidedESParams) (GuidedESState, error) {
	if err := s.checkShape(population, fitness); err != nil {
		return state, err
	}
	n := s.numDims
	if len(state.Subspace) != s.subspaceDims {
		return state, configErrorf("state.subspace", "has %d rows, expected %d", len(state.Subspace), s.subspaceDims)
	}
	if state.Surrogate != nil && len(state.Surrogate) != n {
		return state, configErrorf("state.surrogate", "has %d entries, expected %d", len(state.Surrogate), n)
	}
	half := s.populationSize / 2
	shaped := s.shaper.Shape(population, fitness)

	grad := make([]float64, n)
	noise := make([]float64, n)
	for i := 0; i < half; i++ {
		floats.SubTo(noise, population[i], state.Mean)
		floats.AddScaled(grad, (shaped[i]-shaped[half+i])/state.Sigma, noise)
	}
	floats.Scale(params.Beta/float64(s.populationSize), grad)

	newest := grad
	if state.Surrogate != nil {
		newest = state.Surrogate
	}
	subspace := make([][]float64, 0, s.subspaceDims)
	for _, row := range state.Subspace[1:] {
		subspace = append(subspace, cloneVec(row))
	}
	subspace = append(subspace, cloneVec(newest))

	mean := cloneVec(state.Mean)
	floats.AddScaled(mean, -params.LearningRate, grad)

	next := state
	next.Mean, next.Progress = s.finish(population, fitness, mean, state.Progress)
	next.Subspace = subspace
	next.Surrogate = nil
	next.Sigma = math.Max(state.Sigma*params.SigmaDecay, params.SigmaLimit)
	return next, nil
}

// orthonormalBasis returns an n×k matrix whose columns are orthonormal and
// span the k rows of g. Householder QR keeps the columns orthonormal even
// when g is rank deficient.
func orthonormalBasis(g [][]float64) (*mat.Dense, error) {
	k, n := len(g), len(g[0])
	a := mat.NewDense(n, k, nil)
	for j, row := range g {
		if len(row) != n {
			return nil, configErrorf("state.subspace", "row %d has %d entries, expected %d", j, len(row), n)
		}
		a.SetCol(j, row)
	}
	var qr mat.QR
	qr.Factorize(a)
	var q mat.Dense
	qr.QTo(&q)
	return mat.DenseCopyOf(q.Slice(0, n, 0, k)), nil
}
