package es

import (
	"math"

	"gonum.org/v1/gonum/floats"
	"gonum.org/v1/gonum/mat"
)

// CMAParams configures CMA-ES. The learning rates are derived from the
// dimension and the elite weights by DefaultParams and stay fixed for a run.
type CMAParams struct {
	Weights []float64 `json:"weights"`
	MuEff   float64   `json:"mu_eff"`
	C1      float64   `json:"c_1"`
	CMu     float64   `json:"c_mu"`
	CSigma  float64   `json:"c_sigma"`
	DSigma  float64   `json:"d_sigma"`
	CC      float64   `json:"c_c"`
	ChiN    float64   `json:"chi_n"`
	CM      float64   `json:"c_m"`

	// EigenInterval is the number of generations between eigen
	// decompositions of C.
	EigenInterval int     `json:"eigen_interval"`
	SigmaMin      float64 `json:"sigma_min"`
	SigmaMax      float64 `json:"sigma_max"`

	CommonParams
}

// Common returns the shared settings.
func (p CMAParams) Common() CommonParams { return p.CommonParams }

// WithCommon returns a copy with the shared settings replaced.
func (p CMAParams) WithCommon(c CommonParams) CMAParams {
	p.Weights = cloneVec(p.Weights)
	p.CommonParams = c
	return p
}

// CMAState is the full-covariance search distribution. C, B and D are
// row-major n×n (C, B) and length n (D); B and D cache the eigen
// decomposition C = B diag(D²) Bᵀ as of EigenGeneration.
type CMAState struct {
	Mean            []float64 `json:"mean"`
	Sigma           float64   `json:"sigma"`
	PSigma          []float64 `json:"p_sigma"`
	PC              []float64 `json:"p_c"`
	C               []float64 `json:"c"`
	B               []float64 `json:"b"`
	D               []float64 `json:"d"`
	EigenGeneration int       `json:"eigen_generation"`
	Progress
}

// Clone returns a deep copy.
func (s CMAState) Clone() CMAState {
	s.Mean = cloneVec(s.Mean)
	s.PSigma = cloneVec(s.PSigma)
	s.PC = cloneVec(s.PC)
	s.C = cloneVec(s.C)
	s.B = cloneVec(s.B)
	s.D = cloneVec(s.D)
	s.Progress = s.Progress.Status()
	return s
}

// WithMean returns a copy centred on mean.
func (s CMAState) WithMean(mean []float64) CMAState {
	s = s.Clone()
	s.Mean = cloneVec(mean)
	return s
}

// Covariance returns C as a symmetric matrix.
func (s CMAState) Covariance() *mat.SymDense {
	return mat.NewSymDense(len(s.Mean), cloneVec(s.C))
}

func (s CMAState) StepSize() float64        { return s.Sigma }
func (s CMAState) Center() []float64        { return s.Mean }
func (s CMAState) EvolutionPath() []float64 { return s.PC }
func (s CMAState) AxisLengths() []float64   { return s.D }

func (s CMAState) CovarianceDiagonal() []float64 {
	n := len(s.Mean)
	diag := make([]float64, n)
	for i := range diag {
		diag[i] = s.C[i*n+i]
	}
	return diag
}

// PrincipalAxis returns the i-th eigenvector of C scaled by its axis length.
func (s CMAState) PrincipalAxis(i int) []float64 {
	n := len(s.Mean)
	axis := make([]float64, n)
	for r := range axis {
		axis[r] = s.B[r*n+i] * s.D[i]
	}
	return axis
}

// CMAES is covariance matrix adaptation (Hansen & Ostermeier, 2001) with
// rank-one and rank-μ updates and cumulative step-size adaptation.
type CMAES struct {
	core
	mu         int
	eliteRatio float64
}

var cmaHyperparams = []string{"elite_ratio", "c_m", "eigen_interval", "sigma_min", "sigma_max"}

// NewCMAES builds a CMA-ES for populationSize candidates shaped like solution.
// Recognized hyperparameters: elite_ratio (0.5), sigma_init (1.0),
// mean_decay, init_min, init_max, clip_min, clip_max, c_m, eigen_interval,
// sigma_min, sigma_max.
func NewCMAES(populationSize int, solution []float64, opts ...Option) (*CMAES, error) {
	c, err := newCore("cma_es", populationSize, solution, cmaHyperparams, opts)
	if err != nil {
		return nil, err
	}
	ratio, err := c.eliteRatio(0.5)
	if err != nil {
		return nil, err
	}
	s := &CMAES{core: c, eliteRatio: ratio, mu: EliteCount(populationSize, ratio)}
	if _, err := s.params(); err != nil {
		return nil, err
	}
	return s, nil
}

// EliteCount is the number of members recombined per generation.
func (s *CMAES) EliteCount() int { return s.mu }

// DefaultParams implements Strategy.
func (s *CMAES) DefaultParams() CMAParams {
	p, _ := s.params()
	return p
}

func (s *CMAES) params() (CMAParams, error) {
	common, err := s.common(1.0)
	if err != nil {
		return CMAParams{}, err
	}
	n := float64(s.numDims)
	weights := EliteWeights(s.mu)
	muEff := 1 / floats.Dot(weights, weights)

	c1 := 2 / ((n+1.3)*(n+1.3) + muEff)
	cMu := math.Min(1-c1, 2*(muEff-2+1/muEff)/((n+2)*(n+2)+muEff))
	cSigma := (muEff + 2) / (n + muEff + 5)
	dSigma := 1 + 2*math.Max(0, math.Sqrt((muEff-1)/(n+1))-1) + cSigma
	cC := (4 + muEff/n) / (n + 4 + 2*muEff/n)
	chiN := math.Sqrt(n) * (1 - 1/(4*n) + 1/(21*n*n))
	interval := int(math.Max(1, math.Floor(1/(10*n*(c1+cMu)))))

	p := CMAParams{
		Weights:       weights,
		MuEff:         muEff,
		C1:            c1,
		CMu:           cMu,
		CSigma:        cSigma,
		DSigma:        dSigma,
		CC:            cC,
		ChiN:          chiN,
		CM:            s.float("c_m", 1.0),
		EigenInterval: int(s.float("eigen_interval", float64(interval))),
		SigmaMin:      s.float("sigma_min", 1e-20),
		SigmaMax:      s.float("sigma_max", 1e20),
		CommonParams:  common,
	}
	if p.EigenInterval < 1 {
		return p, configErrorf("eigen_interval", "must be at least 1, got %d", p.EigenInterval)
	}
	if err := checkStepSize(p.SigmaInit, p.SigmaMin, p.SigmaMax); err != nil {
		return p, err
	}
	return p, nil
}

func (s *CMAES) checkParams(p CMAParams) error {
	if len(p.Weights) != s.mu {
		return configErrorf("params.weights", "has %d entries, strategy selects %d elites", len(p.Weights), s.mu)
	}
	if p.EigenInterval < 1 {
		return configErrorf("params.eigen_interval", "must be at least 1")
	}
	return checkStepSize(p.SigmaInit, p.SigmaMin, p.SigmaMax)
}

func (s *CMAES) checkState(st CMAState) error {
	n := s.numDims
	if len(st.Mean) != n || len(st.C) != n*n || len(st.PSigma) != n || len(st.PC) != n {
		return configErrorf("state", "does not match %d dimensions", n)
	}
	return nil
}

// Initialize implements Strategy.
func (s *CMAES) Initialize(key Key, params CMAParams) (CMAState, error) {
	if err := s.checkParams(params); err != nil {
		return CMAState{}, err
	}
	n := s.numDims
	mean := s.initialMean(key, params.CommonParams)
	return CMAState{
		Mean:     mean,
		Sigma:    params.SigmaInit,
		PSigma:   make([]float64, n),
		PC:       make([]float64, n),
		C:        identity(n),
		B:        identity(n),
		D:        ones(n),
		Progress: newProgress(mean),
	}, nil
}

// Ask implements Strategy. The eigen cache is refreshed here at most once
// per generation, and only every EigenInterval generations.
func (s *CMAES) Ask(key Key, state CMAState, params CMAParams) (Population, CMAState, error) {
	if err := s.checkParams(params); err != nil {
		return nil, state, err
	}
	if err := s.checkState(state); err != nil {
		return nil, state, err
	}
	n := s.numDims

	next := state
	if len(state.B) != n*n || len(state.D) != n || state.Generation-state.EigenGeneration >= params.EigenInterval {
		next.C, next.B, next.D = eigenDecompose(n, state.C)
		next.EigenGeneration = state.Generation
	}

	// x_k = m + σ · B diag(D) z_k
	bd := mat.NewDense(n, n, cloneVec(next.B))
	for j := 0; j < n; j++ {
		for i := 0; i < n; i++ {
			bd.Set(i, j, bd.At(i, j)*next.D[j])
		}
	}
	z := normals(key.Rand(), s.populationSize, n)
	pop := make(Population, s.populationSize)
	for k := range pop {
		y := mat.NewVecDense(n, nil)
		y.MulVec(bd, mat.NewVecDense(n, z[k]))
		x := cloneVec(next.Mean)
		floats.AddScaled(x, next.Sigma, y.RawVector().Data)
		pop[k] = x
	}
	return s.clip(pop, params.CommonParams), next, nil
}

// Tell implements Strategy.
func (s *CMAES) Tell(population Population, fitness Fitness, state CMAState, params CMAParams) (CMAState, error) {
	if err := s.checkShape(population, fitness); err != nil {
		return state, err
	}
	if err := s.checkParams(params); err != nil {
		return state, err
	}
	if err := s.checkState(state); err != nil {
		return state, err
	}
	n := s.numDims
	shaped := s.shaper.Shape(population, fitness)
	elites := SelectElites(shaped, s.mu)

	// Elite steps y_i = (x_i - m) / σ and their weighted mean y_w.
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

	// p_σ ← (1-c_σ) p_σ + √(c_σ(2-c_σ)μ_eff) · C^{-1/2} y_w
	pSigma := cloneVec(state.PSigma)
	floats.Scale(1-params.CSigma, pSigma)
	floats.AddScaled(pSigma, math.Sqrt(params.CSigma*(2-params.CSigma)*params.MuEff), invSqrtMul(n, state.B, state.D, yw))
	normPSigma := floats.Norm(pSigma, 2)

	hSigma := heaviside(normPSigma, state.Generation+1, n, params.CSigma, params.ChiN)

	pC := cloneVec(state.PC)
	floats.Scale(1-params.CC, pC)
	floats.AddScaled(pC, hSigma*math.Sqrt(params.CC*(2-params.CC)*params.MuEff), yw)

	// C ← (1 + c1 δ(h) - c1 - cμ Σw) C + c1 p_c p_cᵀ + cμ Σ w_i y_i y_iᵀ
	deltaH := (1 - hSigma) * params.CC * (2 - params.CC)
	decay := 1 + params.C1*deltaH - params.C1 - params.CMu*floats.Sum(params.Weights)
	cov := mat.NewSymDense(n, nil)
	cov.ScaleSym(decay, state.Covariance())
	cov.SymRankOne(cov, params.C1, mat.NewVecDense(n, pC))
	for i, y := range steps {
		cov.SymRankOne(cov, params.CMu*params.Weights[i], mat.NewVecDense(n, y))
	}

	sigma := state.Sigma * math.Exp((params.CSigma/params.DSigma)*(normPSigma/params.ChiN-1))
	sigma = math.Min(math.Max(sigma, params.SigmaMin), params.SigmaMax)

	next := state
	next.Mean, next.Progress = s.finish(population, fitness, mean, state.Progress)
	next.PSigma = pSigma
	next.PC = pC
	next.C = symToSlice(cov)
	next.Sigma = sigma
	return next, nil
}

// heaviside is the h_σ stall test: it switches off the rank-one path update
// while ‖p_σ‖ is large, which follows a recent large step.
func heaviside(normPSigma float64, generation, n int, cSigma, chiN float64) float64 {
	left := normPSigma / math.Sqrt(1-math.Pow(1-cSigma, 2*float64(generation)))
	right := (1.4 + 2/float64(n+1)) * chiN
	if left < right {
		return 1
	}
	return 0
}

// eigenDecompose returns a symmetrized C with its eigenvectors B and axis
// lengths D = √λ. A non-finite or failed decomposition resets to identity.
func eigenDecompose(n int, c []float64) (sym, b, d []float64) {
	sym = make([]float64, n*n)
	for i := 0; i < n; i++ {
		for j := 0; j < n; j++ {
			sym[i*n+j] = (c[i*n+j] + c[j*n+i]) / 2
		}
	}
	if !allFinite(sym) {
		return identity(n), identity(n), ones(n)
	}

	var eig mat.EigenSym
	if ok := eig.Factorize(mat.NewSymDense(n, cloneVec(sym)), true); !ok {
		return identity(n), identity(n), ones(n)
	}
	values := eig.Values(nil)
	var vectors mat.Dense
	eig.VectorsTo(&vectors)

	b = make([]float64, n*n)
	for i := 0; i < n; i++ {
		for j := 0; j < n; j++ {
			b[i*n+j] = vectors.At(i, j)
		}
	}
	d = make([]float64, n)
	for i, v := range values {
		d[i] = math.Sqrt(math.Max(v, 1e-20))
	}
	if !allFinite(b) || !allFinite(d) {
		return identity(n), identity(n), ones(n)
	}
	return sym, b, d
}

// invSqrtMul computes C^{-1/2} v = B diag(1/D) Bᵀ v.
func invSqrtMul(n int, b, d, v []float64) []float64 {
	bm := mat.NewDense(n, n, cloneVec(b))
	var t mat.VecDense
	t.MulVec(bm.T(), mat.NewVecDense(n, cloneVec(v)))
	for i := 0; i < n; i++ {
		t.SetVec(i, t.AtVec(i)/d[i])
	}
	var out mat.VecDense
	out.MulVec(bm, &t)
	return cloneVec(out.RawVector().Data)
}

func symToSlice(m *mat.SymDense) []float64 {
	n := m.SymmetricDim()
	out := make([]float64, n*n)
	for i := 0; i < n; i++ {
		for j := 0; j < n; j++ {
			out[i*n+j] = m.At(i, j)
		}
	}
	return out
}

func identity(n int) []float64 {
	out := make([]float64, n*n)
	for i := 0; i < n; i++ {
		out[i*n+i] = 1
	}
	return out
}

func ones(n int) []float64 {
	out := make([]float64, n)
	for i := range out {
		out[i] = 1
	}
	return out
}

func allFinite(v []float64) bool {
	for _, x := range v {
		if math.IsNaN(x) || math.IsInf(x, 0) {
			return false
		}
	}
	return true
}
