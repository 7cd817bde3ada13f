package es

import (
	"math"

	"gonum.org/v1/gonum/floats"
	"gonum.org/v1/gonum/stat"
)

// AdamParams configure the Adam mean optimizer shared by the gradient
// estimators.
type AdamParams struct {
	LearningRate float64 `json:"learning_rate"`
	Beta1        float64 `json:"beta_1"`
	Beta2        float64 `json:"beta_2"`
	Epsilon      float64 `json:"epsilon"`
}

// ARSParams configures augmented random search.
type ARSParams struct {
	AdamParams
	CommonParams
}

func (p ARSParams) Common() CommonParams { return p.CommonParams }

func (p ARSParams) WithCommon(c CommonParams) ARSParams {
	p.CommonParams = c
	return p
}

// Adam is the moment state of the mean optimizer.
type Adam struct {
	M    []float64 `json:"m"`
	V    []float64 `json:"v"`
	Step int       `json:"step"`
}

// ARSState stores the antithetic perturbations of the last Ask in Z so Tell
// can rebuild the finite-difference gradient.
type ARSState struct {
	Mean []float64   `json:"mean"`
	Std  float64     `json:"std"`
	Z    [][]float64 `json:"z"`
	Opt  Adam        `json:"opt"`
	Progress
}

func (s ARSState) Clone() ARSState {
	s.Mean = cloneVec(s.Mean)
	s.Z = Population(s.Z).Clone()
	s.Opt.M = cloneVec(s.Opt.M)
	s.Opt.V = cloneVec(s.Opt.V)
	s.Progress = s.Progress.Status()
	return s
}

func (s ARSState) WithMean(mean []float64) ARSState {
	s = s.Clone()
	s.Mean = cloneVec(mean)
	return s
}

func (s ARSState) StepSize() float64 { return s.Std }

// ARS is augmented random search (Mania et al., 2018). Perturbations come in
// mirrored pairs (z, -z), so the population size must be even.
type ARS struct {
	core
	directions int
}

var arsHyperparams = []string{"elite_ratio", "learning_rate", "beta_1", "beta_2", "epsilon"}

// NewARS builds an ARS strategy. elite_ratio (default 0.5) is the share of
// the population whose directions enter the gradient estimate.
func NewARS(populationSize int, solution []float64, opts ...Option) (*ARS, error) {
	if populationSize%2 != 0 {
		return nil, configErrorf("population_size", "must be even for antithetic sampling, got %d", populationSize)
	}
	c, err := newCore("ars", populationSize, solution, arsHyperparams, opts)
	if err != nil {
		return nil, err
	}
	ratio, err := c.eliteRatio(0.5)
	if err != nil {
		return nil, err
	}
	directions := EliteCount(populationSize, ratio)
	if half := populationSize / 2; directions > half {
		directions = half
	}
	s := &ARS{core: c, directions: directions}
	if _, err := s.params(); err != nil {
		return nil, err
	}
	return s, nil
}

func (s *ARS) DefaultParams() ARSParams {
	p, _ := s.params()
	return p
}

func (s *ARS) params() (ARSParams, error) {
	common, err := s.common(1.0)
	if err != nil {
		return ARSParams{}, err
	}
	adam, err := s.adam(1e-3)
	return ARSParams{AdamParams: adam, CommonParams: common}, err
}

func (s *ARS) Initialize(key Key, params ARSParams) (ARSState, error) {
	n := s.numDims
	mean := s.initialMean(key, params.CommonParams)
	return ARSState{
		Mean:     mean,
		Std:      params.SigmaInit,
		Z:        make([][]float64, 0),
		Opt:      Adam{M: make([]float64, n), V: make([]float64, n)},
		Progress: newProgress(mean),
	}, nil
}

// Ask draws population/2 perturbations and mirrors them.
func (s *ARS) Ask(key Key, state ARSState, params ARSParams) (Population, ARSState, error) {
	if len(state.Mean) != s.numDims {
		return nil, state, configErrorf("state", "does not match %d dimensions", s.numDims)
	}
	half := s.populationSize / 2
	plus := normals(key.Rand(), half, s.numDims)
	z := make([][]float64, s.populationSize)
	for i, zp := range plus {
		z[i] = zp
		zm := cloneVec(zp)
		floats.Scale(-1, zm)
		z[half+i] = zm
	}

	pop := make(Population, s.populationSize)
	for i := range pop {
		x := cloneVec(state.Mean)
		floats.AddScaled(x, state.Std, z[i])
		pop[i] = x
	}
	next := state
	next.Z = z
	return s.clip(pop, params.CommonParams), next, nil
}

func (s *ARS) Tell(population Population, fitness Fitness, state ARSState, params ARSParams) (ARSState, error) {
	if err := s.checkShape(population, fitness); err != nil {
		return state, err
	}
	if len(state.Z) != s.populationSize {
		return state, configErrorf("state.z", "holds %d perturbations, expected %d; call Ask first", len(state.Z), s.populationSize)
	}
	n := s.numDims
	half := s.populationSize / 2
	shaped := s.shaper.Shape(population, fitness)
	plus, minus := shaped[:half], shaped[half:]

	best := make(Fitness, half)
	for i := range best {
		best[i] = math.Min(plus[i], minus[i])
	}
	elites := SelectElites(best, s.directions)

	eliteFitness := make([]float64, 0, 2*len(elites))
	for _, i := range elites {
		eliteFitness = append(eliteFitness, plus[i], minus[i])
	}
	std := math.Max(stat.PopStdDev(eliteFitness, nil), 1e-8)

	grad := make([]float64, n)
	for _, i := range elites {
		floats.AddScaled(grad, plus[i]-minus[i], state.Z[i])
	}
	floats.Scale(1/(float64(len(elites))*std), grad)

	mean, opt := adamStep(state.Mean, grad, state.Opt, params.AdamParams)

	next := state
	next.Mean, next.Progress = s.finish(population, fitness, mean, state.Progress)
	next.Opt = opt
	return next, nil
}

func (c *core) adam(learningRate float64) (AdamParams, error) {
	p := AdamParams{
		LearningRate: c.float("learning_rate", learningRate),
		Beta1:        c.float("beta_1", 0.9),
		Beta2:        c.float("beta_2", 0.999),
		Epsilon:      c.float("epsilon", 1e-8),
	}
	if !(p.LearningRate > 0) {
		return p, configErrorf("learning_rate", "must be positive, got %g", p.LearningRate)
	}
	if !(p.Beta1 >= 0 && p.Beta1 < 1) || !(p.Beta2 >= 0 && p.Beta2 < 1) {
		return p, configErrorf("beta_1", "moment decays must be in [0, 1), got %g and %g", p.Beta1, p.Beta2)
	}
	return p, nil
}

// adamStep moves x against grad with bias-corrected Adam moments.
func adamStep(x, grad []float64, opt Adam, p AdamParams) ([]float64, Adam) {
	step := opt.Step + 1
	m := cloneVec(opt.M)
	v := cloneVec(opt.V)
	out := cloneVec(x)
	c1 := 1 - math.Pow(p.Beta1, float64(step))
	c2 := 1 - math.Pow(p.Beta2, float64(step))
	for i, g := range grad {
		m[i] = p.Beta1*m[i] + (1-p.Beta1)*g
		v[i] = p.Beta2*v[i] + (1-p.Beta2)*g*g
		out[i] -= p.LearningRate * (m[i] / c1) / (math.Sqrt(v[i]/c2) + p.Epsilon)
	}
	return out, Adam{M: m, V: v, Step: step}
}
