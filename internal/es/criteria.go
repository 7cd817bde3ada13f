package es

import (
	"math"

	"gonum.org/v1/gonum/floats"
)

// RestartParams holds the termination tolerances and restart options.
type RestartParams struct {
	MinNumGens               int     `json:"min_num_gens"`
	MinFitnessSpread         float64 `json:"min_fitness_spread"`
	PopulationSizeMultiplier int     `json:"population_size_multiplier"`
	MaxPopulationSize        int     `json:"max_population_size"`
	TolX                     float64 `json:"tol_x"`
	TolXUp                   float64 `json:"tol_x_up"`
	TolConditionC            float64 `json:"tol_condition_c"`
	CopyMean                 bool    `json:"copy_mean"`
}

// DefaultRestartParams returns the tolerances of Hansen (2009).
func DefaultRestartParams() RestartParams {
	return RestartParams{
		MinNumGens:               50,
		MinFitnessSpread:         1e-12,
		PopulationSizeMultiplier: 2,
		MaxPopulationSize:        8192,
		TolX:                     1e-12,
		TolXUp:                   1e4,
		TolConditionC:            1e14,
		CopyMean:                 true,
	}
}

// Validate reports malformed restart settings.
func (rp RestartParams) Validate() error {
	if rp.MinNumGens < 0 {
		return configErrorf("min_num_gens", "must not be negative, got %d", rp.MinNumGens)
	}
	if rp.PopulationSizeMultiplier < 1 {
		return configErrorf("population_size_multiplier", "must be at least 1, got %d", rp.PopulationSizeMultiplier)
	}
	if rp.MaxPopulationSize < 2 {
		return configErrorf("max_population_size", "must be at least 2, got %d", rp.MaxPopulationSize)
	}
	if rp.MinFitnessSpread < 0 || rp.TolX < 0 || rp.TolXUp <= 0 || rp.TolConditionC <= 1 {
		return configErrorf("restart", "tolerances must be non-negative with tol_x_up > 0 and tol_condition_c > 1")
	}
	return nil
}

// Criterion is a termination predicate over the state after a Tell. The
// restart wrapper ORs its criteria and AND-s the result with the minimum
// generation guard.
type Criterion[P, S any] func(fitness Fitness, state S, params P, rp RestartParams) bool

// Covariant is implemented by states that expose a Gaussian search
// distribution; the CMA criteria read it through this view.
type Covariant interface {
	StepSize() float64
	Center() []float64
	EvolutionPath() []float64
	AxisLengths() []float64
	CovarianceDiagonal() []float64
	PrincipalAxis(i int) []float64
	Status() Progress
}

// SpreadCriterion fires when the finite fitness values of the last
// generation span less than MinFitnessSpread.
func SpreadCriterion[P, S any](fitness Fitness, _ S, _ P, rp RestartParams) bool {
	finite := make([]float64, 0, len(fitness))
	for _, f := range fitness {
		if !math.IsNaN(f) && !math.IsInf(f, 0) {
			finite = append(finite, f)
		}
	}
	if len(finite) == 0 {
		return false
	}
	return floats.Max(finite)-floats.Min(finite) < rp.MinFitnessSpread
}

// CMACriterion ORs the covariance based tests below.
func CMACriterion[P any, S Covariant](fitness Fitness, state S, params P, rp RestartParams) bool {
	return TolXCriterion(fitness, state, params, rp) ||
		TolXUpCriterion(fitness, state, params, rp) ||
		NoEffectCoordCriterion(fitness, state, params, rp) ||
		NoEffectAxisCriterion(fitness, state, params, rp) ||
		ConditionCriterion(fitness, state, params, rp)
}

// TolXCriterion fires when the standard deviation in every coordinate and
// every component of σ·p_c are below TolX.
func TolXCriterion[P any, S Covariant](_ Fitness, state S, _ P, rp RestartParams) bool {
	sigma := state.StepSize()
	for _, c := range state.CovarianceDiagonal() {
		if sigma*math.Sqrt(math.Max(c, 0)) >= rp.TolX {
			return false
		}
	}
	for _, p := range state.EvolutionPath() {
		if sigma*math.Abs(p) >= rp.TolX {
			return false
		}
	}
	return true
}

// TolXUpCriterion fires on divergence: σ times the longest axis exceeds TolXUp.
func TolXUpCriterion[P any, S Covariant](_ Fitness, state S, _ P, rp RestartParams) bool {
	d := state.AxisLengths()
	if len(d) == 0 {
		return false
	}
	return state.StepSize()*floats.Max(d) > rp.TolXUp
}

// NoEffectCoordCriterion fires when adding 0.2 standard deviations in some
// coordinate leaves the mean unchanged.
func NoEffectCoordCriterion[P any, S Covariant](_ Fitness, state S, _ P, _ RestartParams) bool {
	mean := state.Center()
	sigma := state.StepSize()
	for i, c := range state.CovarianceDiagonal() {
		if mean[i] == mean[i]+0.2*sigma*math.Sqrt(math.Max(c, 0)) {
			return true
		}
	}
	return false
}

// NoEffectAxisCriterion fires when a 0.1 standard deviation step along the
// principal axis (generation mod n) leaves the mean unchanged.
func NoEffectAxisCriterion[P any, S Covariant](_ Fitness, state S, _ P, _ RestartParams) bool {
	mean := state.Center()
	if len(mean) == 0 {
		return false
	}
	axis := state.PrincipalAxis(state.Status().Generation % len(mean))
	sigma := state.StepSize()
	for i := range mean {
		if mean[i] != mean[i]+0.1*sigma*axis[i] {
			return false
		}
	}
	return true
}

// ConditionCriterion fires when the condition number of C, (max D / min D)²,
// exceeds TolConditionC.
func ConditionCriterion[P any, S Covariant](_ Fitness, state S, _ P, rp RestartParams) bool {
	d := state.AxisLengths()
	if len(d) == 0 {
		return false
	}
	lo := floats.Min(d)
	if lo <= 0 {
		return true
	}
	ratio := floats.Max(d) / lo
	return ratio*ratio > rp.TolConditionC
}
