package es

import (
	"math"

	"gonum.org/v1/gonum/floats"
)

// PBTParams configures population-based training. SigmaInit is the scale
// of the exploration noise added to copied members.
type PBTParams struct {
	CommonParams
}

func (p PBTParams) Common() CommonParams { return p.CommonParams }

func (p PBTParams) WithCommon(c CommonParams) PBTParams {
	p.CommonParams = c
	return p
}

// PBTState holds one archived solution per worker together with the best
// fitness that worker has reached. CopyID[i] is the member worker i was
// cloned from in the last Ask, or i itself.
type PBTState struct {
	Archive [][]float64 `json:"archive"`
	Scores  []float64   `json:"scores"`
	CopyID  []int       `json:"copy_id"`
	Progress
}

func (s PBTState) Clone() PBTState {
	s.Archive = Population(s.Archive).Clone()
	s.Scores = cloneVec(s.Scores)
	s.CopyID = append([]int(nil), s.CopyID...)
	s.Progress = s.Progress.Status()
	return s
}

// PBT is synchronous population-based training (Jaderberg et al., 2017).
// Population slots are persistent workers: every worker except the current
// leader copies the leader's archived solution and perturbs it, and a
// worker's archive entry is only replaced when it does not get worse.
type PBT struct {
	core
}

func NewPBT(populationSize int, solution []float64, opts ...Option) (*PBT, error) {
	c, err := newCore("pbt", populationSize, solution, nil, opts)
	if err != nil {
		return nil, err
	}
	s := &PBT{core: c}
	if _, err := s.params(); err != nil {
		return nil, err
	}
	return s, nil
}

func (s *PBT) DefaultParams() PBTParams {
	p, _ := s.params()
	return p
}

func (s *PBT) params() (PBTParams, error) {
	common, err := s.common(0.1)
	return PBTParams{CommonParams: common}, err
}

// Initialize draws every worker uniformly from the init range.
func (s *PBT) Initialize(key Key, params PBTParams) (PBTState, error) {
	r := key.Rand()
	archive := make([][]float64, s.populationSize)
	scores := make([]float64, s.populationSize)
	ids := make([]int, s.populationSize)
	for i := range archive {
		archive[i] = uniformVector(r, s.numDims, params.InitMin, params.InitMax)
		scores[i] = math.Inf(1)
		ids[i] = i
	}
	return PBTState{
		Archive:  archive,
		Scores:   scores,
		CopyID:   ids,
		Progress: newProgress(archive[0]),
	}, nil
}

// Ask performs the exploit and explore steps. Ties for the leader go to
// the lowest index.
func (s *PBT) Ask(key Key, state PBTState, params PBTParams) (Population, PBTState, error) {
	if len(state.Archive) != s.populationSize || len(state.Scores) != s.populationSize {
		return nil, state, configErrorf("state", "does not match population size %d", s.populationSize)
	}
	leader := 0
	for i, f := range state.Scores {
		if f < state.Scores[leader] {
			leader = i
		}
	}
	noise := normals(key.Rand(), s.populationSize, s.numDims)
	pop := make(Population, s.populationSize)
	ids := make([]int, s.populationSize)
	for i := range pop {
		if i == leader {
			pop[i], ids[i] = cloneVec(state.Archive[i]), i
			continue
		}
		x := cloneVec(state.Archive[leader])
		floats.AddScaled(x, params.SigmaInit, noise[i])
		pop[i], ids[i] = x, leader
	}
	next := state.Clone()
	next.CopyID = ids
	return s.clip(pop, params.CommonParams), next, nil
}

// Tell keeps each worker's new solution when its fitness is no
// worse than the archived one. Non-finite fitness never replaces an entry.
func (s *PBT) Tell(population Population, fitness Fitness, state PBTState, params PBTParams) (PBTState, error) {
	if err := s.checkShape(population, fitness); err != nil {
		return state, err
	}
	if len(state.Archive) != s.populationSize || len(state.Scores) != s.populationSize {
		return state, configErrorf("state", "does not match population size %d", s.populationSize)
	}
	next := state.Clone()
	for i, f := range fitness {
		if math.IsNaN(f) || math.IsInf(f, 1) {
			continue
		}
		if v := objective(s.shaper, f); v <= next.Scores[i] {
			next.Archive[i] = cloneVec(population[i])
			next.Scores[i] = v
		}
	}
	_, next.Progress = s.finish(population, fitness, nil, state.Progress)
	return next, nil
}
