package es

import (
	"math"

	"gonum.org/v1/gonum/floats"
)

// SepCMAParams configures separable CMA-ES.
type SepCMAParams struct {
	Weights  []float64 `json:"weights"`
	MuEff    float64   `json:"mu_eff"`
	C1       float64   `json:"c_1"`
	CMu      float64   `json:"c_mu"`
	CSigma   float64   `json:"c_sigma"`
	DSigma   float64   `json:"d_sigma"`
	CC       float64   `json:"c_c"`
	ChiN     float64   `json:"chi_n"`
	CM       float64   `json:"c_m"`
	SigmaMin float64   `json:"sigma_min"`
	SigmaMax float64   `json:"sigma_max"`
	CommonParams
}

func (p SepCMAParams) Common() CommonParams { return p.CommonParams }

func (p SepCMAParams) WithCommon(c CommonParams) SepCMAParams {
	p.Weights = cloneVec(p.Weights)
	p.CommonParams = c
	return p
}

// SepCMAState keeps only the diagonal of the covariance. D = √C is its
// trivial eigen decomposition.
type SepCMAState struct {
	Mean   []float64 `json:"mean"`
	Sigma  float64   `json:"sigma"`
	PSigma []float64 `json:"p_sigma"`
	PC     []float64 `json:"p_c"`
	C      []float64 `json:"c"`
	D      []float64 `json:"d"`
	Progress
}

func (s SepCMAState) Clone() SepCMAState {
	s.Mean = cloneVec(s.Mean)
	s.PSigma = cloneVec(s.PSigma)
	s.PC = cloneVec(s.PC)
	s.C = cloneVec(s.C)
	s.D = cloneVec(s.D)
	s.Progress = s.Progress.Status()
	return s
}

func (s SepCMAState) WithMean(mean []float64) SepCMAState {
	s = s.Clone()
	s.Mean = cloneVec(mean)
	return s
}

func (s SepCMAState) StepSize() float64             { return s.Sigma }
func (s SepCMAState) Center() []float64             { return s.Mean }
func (s SepCMAState) EvolutionPath() []float64      { return s.PC }
func (s SepCMAState) AxisLengths() []float64        { return s.D }
func (s SepCMAState) CovarianceDiagonal() []float64 { return s.C }

// PrincipalAxis of a diagonal covariance is the i-th unit vector times D_i.
func (s SepCMAState) PrincipalAxis(i int) []float64 {
	axis := make([]float64, len(s.Mean))
	axis[i] = s.D[i]
	return axis
}

// SepCMAES is separable CMA-ES (Ros & Hansen, 2008): CMA-ES restricted to a
// diagonal covariance, O(n) per sample instead of O(n²).
type SepCMAES struct {
	core
	mu         int
	eliteRatio float64
}

var sepHyperparams = []string{"elite_ratio", "c_m", "sigma_min", "sigma_max"}

// NewSepCMAES builds a separable CMA-ES. It accepts the same
// hyperparameters as NewCMAES except eigen_interval.
func NewSepCMAES(populationSize int, solution []float64, opts ...Option) (*SepCMAES, error) {
	c, err := newCore("sep_cma_es", populationSize, solution, sepHyperparams, opts)
	if err != nil {
		return nil, err
	}
	ratio, err := c.eliteRatio(0.5)
	if err != nil {
		return nil, err
	}
	s := &SepCMAES{core: c, eliteRatio: ratio, mu: EliteCount(populationSize, ratio)}
	if _, err := s.params(); err != nil {
		return nil, err
	}
	return s, nil
}

func (s *SepCMAES) EliteCount() int { return s.mu }

func (s *SepCMAES) DefaultParams() SepCMAParams {
	p, _ := s.params()
	return p
}

func (s *SepCMAES) params() (SepCMAParams, error) {
	common, err := s.common(1.0)
	if err != nil {
		return SepCMAParams{}, err
	}
	n := float64(s.numDims)
	// n² appears below; cap it so very large problems keep sane rates.
	nCap := math.Min(n, 40000)
	weights := EliteWeights(s.mu)
	muEff := 1 / floats.Dot(weights, weights)

	c1 := 2 / ((nCap+1.3)*(nCap+1.3) + muEff)
	cMuFull := 2/muEff/((nCap+math.Sqrt2)*(nCap+math.Sqrt2)) +
		(1-1/muEff)*math.Min(1, (2*muEff-1)/((nCap+2)*(nCap+2)+muEff))
	// Bounded by 1-c1 so the decay factor of C never turns negative.
	cMu := math.Min((n+2)/3*cMuFull, 1-c1)
	cSigma := (muEff + 2) / (n + muEff + 3)
	dSigma := 1 + 2*math.Max(0, math.Sqrt((muEff-1)/(n+1))-1) + cSigma
	cC := 4 / (n + 4)
	chiN := math.Sqrt(n) * (1 - 1/(4*n) + 1/(21*nCap*nCap))

	p := SepCMAParams{
		Weights:      weights,
		MuEff:        muEff,
		C1:           c1,
		CMu:          cMu,
		CSigma:       cSigma,
		DSigma:       dSigma,
		CC:           cC,
		ChiN:         chiN,
		CM:           s.float("c_m", 1.0),
		SigmaMin:     s.float("sigma_min", 1e-20),
		SigmaMax:     s.float("sigma_max", 1e20),
		CommonParams: common,
	}
	if err := checkStepSize(p.SigmaInit, p.SigmaMin, p.SigmaMax); err != nil {
		return p, err
	}
	return p, nil
}

func (s *SepCMAES) check(st SepCMAState, p SepCMAParams) error {
	if len(p.Weights) != s.mu {
		return configErrorf("params.weights", "has %d entries, strategy selects %d elites", len(p.Weights), s.mu)
	}
	n := s.numDims
	if len(st.Mean) != n || len(st.C) != n || len(st.D) != n || len(st.PSigma) != n || len(st.PC) != n {
		return configErrorf("state", "does not match %d dimensions", n)
	}
	return nil
}

func (s *SepCMAES) Initialize(key Key, params SepCMAParams) (SepCMAState, error) {
	if len(params.Weights) != s.mu {
		return SepCMAState{}, configErrorf("params.weights", "has %d entries, strategy selects %d elites", len(params.Weights), s.mu)
	}
	if err := checkStepSize(params.SigmaInit, params.SigmaMin, params.SigmaMax); err != nil {
		return SepCMAState{}, err
	}
	n := s.numDims
	mean := s.initialMean(key, params.CommonParams)
	return SepCMAState{
		Mean:     mean,
		Sigma:    params.SigmaInit,
		PSigma:   make([]float64, n),
		PC:       make([]float64, n),
		C:        ones(n),
		D:        ones(n),
		Progress: newProgress(mean),
	}, nil
}

func (s *SepCMAES) Ask(key Key, state SepCMAState, params SepCMAParams) (Population, SepCMAState, error) {
	if err := s.check(state, params); err != nil {
		return nil, state, err
	}
	z := normals(key.Rand(), s.populationSize, s.numDims)
	pop := make(Population, s.populationSize)
	for k := range pop {
		x := cloneVec(state.Mean)
		for i := range x {
			x[i] += state.Sigma * state.D[i] * z[k][i]
		}
		pop[k] = x
	}
	return s.clip(pop, params.CommonParams), state, nil
}

func (s *SepCMAES) Tell(population Population, fitness Fitness, state SepCMAState, params SepCMAParams) (SepCMAState, error) {
	if err := s.checkShape(population, fitness); err != nil {
		return state, err
	}
	if err := s.check(state, params); err != nil {
		return state, err
	}
	n := s.numDims
	shaped := s.shaper.Shape(population, fitness)
	elites := SelectElites(shaped, s.mu)

	steps := make([][]float64, len(elites))
	yw := make([]float64, n)
	for i, idx := range elites {
		y := make([]float64, n)
		floats.SubTo(y, population[idx], state.Mean)
		floats.Scale(1/state.Sigma, y)
		steps[i] = y
		floats.AddScaled(yw, params.Weights[i], y)
	}

	mean := cloneVec(state.Mean)
	floats.AddScaled(mean, params.CM*state.Sigma, yw)

	c, d := diagDecompose(state.C)

	pSigma := cloneVec(state.PSigma)
	floats.Scale(1-params.CSigma, pSigma)
	scale := math.Sqrt(params.CSigma * (2 - params.CSigma) * params.MuEff)
	for i := range pSigma {
		pSigma[i] += scale * yw[i] / d[i]
	}
	normPSigma := floats.Norm(pSigma, 2)

	hSigma := heaviside(normPSigma, state.Generation+1, n, params.CSigma, params.ChiN)

	pC := cloneVec(state.PC)
	floats.Scale(1-params.CC, pC)
	floats.AddScaled(pC, hSigma*math.Sqrt(params.CC*(2-params.CC)*params.MuEff), yw)

	deltaH := (1 - hSigma) * params.CC * (2 - params.CC)
	decay := 1 + params.C1*deltaH - params.C1 - params.CMu*floats.Sum(params.Weights)
	next := make([]float64, n)
	for i := range next {
		rankMu := 0.0
		for k, y := range steps {
			rankMu += params.Weights[k] * y[i] * y[i]
		}
		next[i] = math.Max(0, decay*c[i]+params.C1*pC[i]*pC[i]+params.CMu*rankMu)
	}

	sigma := state.Sigma * math.Exp((params.CSigma/params.DSigma)*(normPSigma/params.ChiN-1))
	sigma = math.Min(math.Max(sigma, params.SigmaMin), params.SigmaMax)

	out := state
	out.Mean, out.Progress = s.finish(population, fitness, mean, state.Progress)
	out.PSigma = pSigma
	out.PC = pC
	out.C = next
	_, out.D = diagDecompose(next)
	out.Sigma = sigma
	return out, nil
}

// diagDecompose is the diagonal analogue of eigenDecompose: D = √C with a
// floor, and a reset to ones if C went non-finite.
func diagDecompose(c []float64) (cov, d []float64) {
	if !allFinite(c) {
		return ones(len(c)), ones(len(c))
	}
	cov = cloneVec(c)
	d = make([]float64, len(c))
	for i, v := range c {
		d[i] = math.Sqrt(math.Max(v, 1e-20))
	}
	return cov, d
}
