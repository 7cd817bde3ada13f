package es

// RandomSearchParams bounds the uniform proposal box.
type RandomSearchParams struct {
	RangeMin float64 `json:"range_min"`
	RangeMax float64 `json:"range_max"`
	CommonParams
}

func (p RandomSearchParams) Common() CommonParams { return p.CommonParams }

func (p RandomSearchParams) WithCommon(c CommonParams) RandomSearchParams {
	p.CommonParams = c
	return p
}

// RandomSearchState's mean follows the best member found so far.
type RandomSearchState struct {
	Mean []float64 `json:"mean"`
	Progress
}

func (s RandomSearchState) WithMean(mean []float64) RandomSearchState {
	s.Mean = cloneVec(mean)
	s.Progress = s.Progress.Status()
	return s
}

// RandomSearch is the uniform sampling baseline.
type RandomSearch struct {
	core
}

func NewRandomSearch(populationSize int, solution []float64, opts ...Option) (*RandomSearch, error) {
	c, err := newCore("random_search", populationSize, solution, []string{"range_min", "range_max"}, opts)
	if err != nil {
		return nil, err
	}
	s := &RandomSearch{core: c}
	if _, err := s.params(); err != nil {
		return nil, err
	}
	return s, nil
}

func (s *RandomSearch) DefaultParams() RandomSearchParams {
	p, _ := s.params()
	return p
}

func (s *RandomSearch) params() (RandomSearchParams, error) {
	common, err := s.common(1.0)
	if err != nil {
		return RandomSearchParams{}, err
	}
	p := RandomSearchParams{
		RangeMin:     s.float("range_min", 0),
		RangeMax:     s.float("range_max", 1),
		CommonParams: common,
	}
	if !isFinite(p.RangeMin) || !isFinite(p.RangeMax) || p.RangeMin > p.RangeMax {
		return p, configErrorf("range_min", "must not exceed range_max (%g > %g)", p.RangeMin, p.RangeMax)
	}
	return p, nil
}

func (s *RandomSearch) Initialize(key Key, params RandomSearchParams) (RandomSearchState, error) {
	mean := s.initialMean(key, params.CommonParams)
	return RandomSearchState{Mean: mean, Progress: newProgress(mean)}, nil
}

func (s *RandomSearch) Ask(key Key, state RandomSearchState, params RandomSearchParams) (Population, RandomSearchState, error) {
	r := key.Rand()
	pop := make(Population, s.populationSize)
	for i := range pop {
		pop[i] = uniformVector(r, s.numDims, params.RangeMin, params.RangeMax)
	}
	return s.clip(pop, params.CommonParams), state, nil
}

func (s *RandomSearch) Tell(population Population, fitness Fitness, state RandomSearchState, params RandomSearchParams) (RandomSearchState, error) {
	if err := s.checkShape(population, fitness); err != nil {
		return state, err
	}
	next := state
	mean := cloneVec(state.Mean)
	next.Mean, next.Progress = s.finish(population, fitness, mean, state.Progress)
	if next.BestFitness < state.BestFitness {
		next.Mean = cloneVec(next.BestSolution)
	}
	return next, nil
}
