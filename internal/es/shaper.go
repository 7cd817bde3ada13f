package es

import (
	"math"

	"gonum.org/v1/gonum/floats"
	"gonum.org/v1/gonum/stat"
)

// FitnessShaper transforms raw fitness into the values a strategy ranks and
// recombines on. Strategies use the shaped values for their distribution
// update only; best-fitness bookkeeping always uses the raw values.
type FitnessShaper interface {
	Shape(population Population, fitness Fitness) Fitness
	Maximize() bool
}

// Shaper is the stock FitnessShaper. The zero value only sanitizes
// non-finite values.
//
// Order of operations: negate when maximizing, add the L2 weight decay
// penalty, then apply at most one of CenteredRank, ZScore, NormRange
// (checked in that order). NaN and +Inf raw values are treated as invalid
// and always shaped to rank last, as is anything the transform sends to
// +Inf (e.g. -Inf when maximizing).
type Shaper struct {
	CenteredRank    bool    `json:"centered_rank" yaml:"centered_rank"`
	ZScore          bool    `json:"z_score" yaml:"z_score"`
	NormRange       bool    `json:"norm_range" yaml:"norm_range"`
	WeightDecay     float64 `json:"weight_decay" yaml:"weight_decay"`
	MaximizeFitness bool    `json:"maximize" yaml:"maximize"`
}

// Maximize reports whether larger raw fitness is better.
func (s Shaper) Maximize() bool { return s.MaximizeFitness }

// Shape implements FitnessShaper.
func (s Shaper) Shape(population Population, fitness Fitness) Fitness {
	out := make(Fitness, len(fitness))
	invalid := make([]bool, len(fitness))
	for i, f := range fitness {
		if math.IsNaN(f) || math.IsInf(f, 1) {
			invalid[i] = true
			continue
		}
		if s.MaximizeFitness {
			f = -f
		}
		if s.WeightDecay != 0 && i < len(population) {
			f += s.WeightDecay * meanSquare(population[i])
		}
		if math.IsInf(f, 1) || math.IsNaN(f) {
			invalid[i] = true
			continue
		}
		out[i] = f
	}

	valid := make([]float64, 0, len(out))
	for i, f := range out {
		if !invalid[i] && !math.IsInf(f, 0) {
			valid = append(valid, f)
		}
	}
	// -Inf is a legal (best possible) value; pin it below the finite range
	// so the arithmetic transforms stay finite.
	if len(valid) > 0 {
		lo := floats.Min(valid)
		for i, f := range out {
			if !invalid[i] && math.IsInf(f, -1) {
				out[i] = lo - 1
			}
		}
	}

	switch {
	case s.CenteredRank:
		centeredRanks(out, invalid)
		return out
	case s.ZScore:
		if len(valid) > 0 {
			mean, std := stat.PopMeanStdDev(valid, nil)
			for i := range out {
				out[i] = (out[i] - mean) / (std + 1e-10)
			}
		}
	case s.NormRange:
		if len(valid) > 0 {
			lo, hi := floats.Min(valid), floats.Max(valid)
			for i := range out {
				out[i] = (out[i] - lo) / (hi - lo + 1e-10)
			}
		}
	}
	fillInvalid(out, invalid)
	return out
}

// centeredRanks maps values to ranks scaled into [-0.5, 0.5].
func centeredRanks(values Fitness, invalid []bool) {
	keys := make(Fitness, len(values))
	for i, v := range values {
		keys[i] = v
		if invalid[i] {
			keys[i] = math.Inf(1)
		}
	}
	order := Argsort(keys)
	n := len(values)
	for rank, idx := range order {
		if n == 1 {
			values[idx] = 0
			continue
		}
		values[idx] = float64(rank)/float64(n-1) - 0.5
	}
}

// fillInvalid puts invalid members one unit above the worst valid value.
func fillInvalid(values Fitness, invalid []bool) {
	worst := math.Inf(-1)
	found := false
	for i, v := range values {
		if !invalid[i] {
			worst = math.Max(worst, v)
			found = true
		}
	}
	for i := range values {
		if !invalid[i] {
			continue
		}
		if found {
			values[i] = worst + 1
		} else {
			values[i] = 0
		}
	}
}

func meanSquare(x []float64) float64 {
	if len(x) == 0 {
		return 0
	}
	return floats.Dot(x, x) / float64(len(x))
}

// objective converts a raw fitness value into minimization convention.
func objective(shaper FitnessShaper, f float64) float64 {
	if shaper != nil && shaper.Maximize() {
		return -f
	}
	return f
}
