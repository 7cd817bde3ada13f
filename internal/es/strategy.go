// Package es implements ask/tell evolution strategies: CMA-ES, separable
// CMA-ES, a restart wrapper with IPOP and BIPOP policies, and a few simpler
// search strategies sharing the same lifecycle.
//
// Every strategy is a pure state machine. Initialize builds a State from a
// Key and Params, Ask proposes a Population, and Tell folds the evaluated
// Fitness back into a new State. Nothing is mutated in place and all
// randomness comes from the Key arguments, so identical key sequences give
// identical trajectories.
package es

import (
	"math"
	"sort"
	"strings"
)

// Strategy is the ask/tell contract shared by all algorithms. P is the
// algorithm's parameter record and S its state record; both are plain
// values owned by the caller.
type Strategy[P, S any] interface {
	Name() string
	PopulationSize() int
	NumDims() int
	DefaultParams() P
	Initialize(key Key, params P) (S, error)
	Ask(key Key, state S, params P) (Population, S, error)
	Tell(population Population, fitness Fitness, state S, params P) (S, error)
}

// Progress is the bookkeeping every state carries. BestFitness is kept in
// minimization convention and is +Inf until the first Tell.
type Progress struct {
	BestSolution []float64 `json:"best_solution"`
	BestFitness  float64   `json:"best_fitness"`
	Generation   int       `json:"generation"`
}

// Status returns a copy of the progress record.
func (p Progress) Status() Progress {
	p.BestSolution = cloneVec(p.BestSolution)
	return p
}

func newProgress(start []float64) Progress {
	return Progress{BestSolution: cloneVec(start), BestFitness: math.Inf(1)}
}

// observe folds raw fitness into the best-so-far record. Invalid values
// (NaN, +Inf) never win and ties keep the incumbent, so BestFitness never
// increases.
func (p Progress) observe(population Population, fitness Fitness, shaper FitnessShaper) Progress {
	best := p.BestFitness
	bestIdx := -1
	for i, f := range fitness {
		if math.IsNaN(f) || math.IsInf(f, 1) {
			continue
		}
		if v := objective(shaper, f); v < best {
			best, bestIdx = v, i
		}
	}
	if bestIdx >= 0 {
		p.BestFitness = best
		p.BestSolution = cloneVec(population[bestIdx])
	}
	return p
}

// CommonParams are the settings every strategy understands.
type CommonParams struct {
	SigmaInit float64 `json:"sigma_init"`
	InitMin   float64 `json:"init_min"`
	InitMax   float64 `json:"init_max"`
	ClipMin   float64 `json:"clip_min"`
	ClipMax   float64 `json:"clip_max"`
}

// Hyperparams are named overrides accepted at construction time, e.g.
// {"elite_ratio": 0.3, "sigma_init": 0.5}.
type Hyperparams map[string]float64

// Option configures a strategy constructor.
type Option func(*settings)

type settings struct {
	hyper  Hyperparams
	shaper FitnessShaper
}

// WithHyperparams merges named overrides into the constructor settings.
// Names the algorithm does not recognize fail construction.
func WithHyperparams(h Hyperparams) Option {
	return func(s *settings) {
		for k, v := range h {
			s.hyper[k] = v
		}
	}
}

// WithFitnessShaper injects the fitness transform applied before updates.
func WithFitnessShaper(shaper FitnessShaper) Option {
	return func(s *settings) {
		s.shaper = shaper
	}
}

var commonHyperparams = []string{"sigma_init", "init_min", "init_max", "clip_min", "clip_max", "mean_decay"}

// core holds what every strategy shares: sizes, shaping, mean decay and the
// validated overrides.
type core struct {
	name           string
	populationSize int
	numDims        int
	shaper         FitnessShaper
	meanDecay      float64
	hyper          Hyperparams
}

func newCore(name string, populationSize int, solution []float64, extra []string, opts []Option) (core, error) {
	if populationSize <= 0 {
		return core{}, configErrorf("population_size", "must be positive, got %d", populationSize)
	}
	if len(solution) == 0 {
		return core{}, configErrorf("solution", "must have at least one dimension")
	}

	s := settings{hyper: Hyperparams{}, shaper: Shaper{}}
	for _, opt := range opts {
		opt(&s)
	}
	if s.shaper == nil {
		s.shaper = Shaper{}
	}

	allowed := make(map[string]bool, len(commonHyperparams)+len(extra))
	for _, k := range commonHyperparams {
		allowed[k] = true
	}
	for _, k := range extra {
		allowed[k] = true
	}
	unknown := make([]string, 0)
	for k := range s.hyper {
		if !allowed[k] {
			unknown = append(unknown, k)
		}
	}
	if len(unknown) > 0 {
		sort.Strings(unknown)
		return core{}, configErrorf(unknown[0], "is not a hyperparameter of %s (unrecognized: %s)", name, strings.Join(unknown, ", "))
	}

	c := core{
		name:           name,
		populationSize: populationSize,
		numDims:        len(solution),
		shaper:         s.shaper,
		hyper:          s.hyper,
	}
	c.meanDecay = c.float("mean_decay", 0)
	if c.meanDecay < 0 || c.meanDecay >= 1 {
		return core{}, configErrorf("mean_decay", "must be in [0, 1), got %g", c.meanDecay)
	}
	return c, nil
}

func (c *core) Name() string        { return c.name }
func (c *core) PopulationSize() int { return c.populationSize }
func (c *core) NumDims() int        { return c.numDims }

func (c *core) float(key string, def float64) float64 {
	if v, ok := c.hyper[key]; ok {
		return v
	}
	return def
}

func (c *core) eliteRatio(def float64) (float64, error) {
	ratio := c.float("elite_ratio", def)
	if ratio < 0 || ratio > 1 || math.IsNaN(ratio) {
		return 0, configErrorf("elite_ratio", "must be in [0, 1], got %g", ratio)
	}
	return ratio, nil
}

func (c *core) common(sigmaInit float64) (CommonParams, error) {
	p := CommonParams{
		SigmaInit: c.float("sigma_init", sigmaInit),
		InitMin:   c.float("init_min", 0),
		InitMax:   c.float("init_max", 0),
		ClipMin:   c.float("clip_min", -math.MaxFloat64),
		ClipMax:   c.float("clip_max", math.MaxFloat64),
	}
	if !(p.SigmaInit > 0) || math.IsInf(p.SigmaInit, 1) {
		return p, configErrorf("sigma_init", "must be positive and finite, got %g", p.SigmaInit)
	}
	if !isFinite(p.InitMin) || !isFinite(p.InitMax) {
		return p, configErrorf("init_min", "init range must be finite, got [%g, %g]", p.InitMin, p.InitMax)
	}
	// Infinite clip bounds disable clipping; NaN would poison every candidate.
	if math.IsNaN(p.ClipMin) || math.IsNaN(p.ClipMax) {
		return p, configErrorf("clip_min", "clip range must not be NaN, got [%g, %g]", p.ClipMin, p.ClipMax)
	}
	if p.InitMin > p.InitMax {
		return p, configErrorf("init_min", "must not exceed init_max (%g > %g)", p.InitMin, p.InitMax)
	}
	if p.ClipMin > p.ClipMax {
		return p, configErrorf("clip_min", "must not exceed clip_max (%g > %g)", p.ClipMin, p.ClipMax)
	}
	return p, nil
}

// checkStepSize validates a step size range and that sigmaInit lies in it.
func checkStepSize(sigmaInit, lo, hi float64) error {
	if !(lo > 0) || math.IsNaN(hi) || lo > hi {
		return configErrorf("sigma_min", "must be positive and not exceed sigma_max, got [%g, %g]", lo, hi)
	}
	if sigmaInit < lo || sigmaInit > hi {
		return configErrorf("sigma_init", "must lie in [%g, %g], got %g", lo, hi, sigmaInit)
	}
	return nil
}

func isFinite(v float64) bool { return !math.IsNaN(v) && !math.IsInf(v, 0) }

// checkShape validates a population/fitness pair against the strategy.
func (c *core) checkShape(population Population, fitness Fitness) error {
	if len(population) != c.populationSize {
		return configErrorf("population", "has %d members, strategy expects %d", len(population), c.populationSize)
	}
	if len(fitness) != len(population) {
		return configErrorf("fitness", "has %d values for %d members", len(fitness), len(population))
	}
	for i, row := range population {
		if len(row) != c.numDims {
			return configErrorf("population", "member %d has %d dims, expected %d", i, len(row), c.numDims)
		}
	}
	return nil
}

func (c *core) initialMean(key Key, p CommonParams) []float64 {
	return uniformVector(key.Rand(), c.numDims, p.InitMin, p.InitMax)
}

// clip bounds every candidate in place.
func (c *core) clip(population Population, p CommonParams) Population {
	for _, row := range population {
		clipVec(row, p.ClipMin, p.ClipMax)
	}
	return population
}

// finish applies mean decay, records the raw-fitness best and advances the
// generation counter. It is the shared tail of every Tell.
func (c *core) finish(population Population, fitness Fitness, mean []float64, progress Progress) ([]float64, Progress) {
	if c.meanDecay > 0 {
		for i := range mean {
			mean[i] *= 1 - c.meanDecay
		}
	}
	progress = progress.observe(population, fitness, c.shaper)
	progress.Generation++
	return mean, progress
}
