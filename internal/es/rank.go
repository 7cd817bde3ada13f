package es

import (
	"math"
	"sort"
)

// Population is an ordered batch of candidate solutions, one row per member.
type Population [][]float64

// Fitness holds one score per population member, index-aligned.
type Fitness []float64

// Clone returns a deep copy of the population.
func (p Population) Clone() Population {
	out := make(Population, len(p))
	for i, row := range p {
		out[i] = cloneVec(row)
	}
	return out
}

// Argsort returns member indices ordered by ascending fitness. The sort is
// stable, so ties keep population order. NaN ranks like +Inf (last).
func Argsort(fitness Fitness) []int {
	idx := make([]int, len(fitness))
	for i := range idx {
		idx[i] = i
	}
	sort.SliceStable(idx, func(a, b int) bool {
		return rankKey(fitness[idx[a]]) < rankKey(fitness[idx[b]])
	})
	return idx
}

func rankKey(f float64) float64 {
	if math.IsNaN(f) {
		return math.Inf(1)
	}
	return f
}

// EliteCount is floor(populationSize*ratio), never below one.
func EliteCount(populationSize int, ratio float64) int {
	// The epsilon absorbs binary representation error, e.g. 5*0.4.
	mu := int(math.Floor(float64(populationSize)*ratio + 1e-9))
	if mu < 1 {
		mu = 1
	}
	if mu > populationSize {
		mu = populationSize
	}
	return mu
}

// EliteWeights returns the log recombination weights
// w_i = log(mu+1) - log(i+1), normalized to sum to one.
func EliteWeights(mu int) []float64 {
	w := make([]float64, mu)
	var sum float64
	for i := range w {
		w[i] = math.Log(float64(mu)+1) - math.Log(float64(i)+1)
		sum += w[i]
	}
	for i := range w {
		w[i] /= sum
	}
	return w
}

// SelectElites returns the indices of the mu best members in rank order.
func SelectElites(fitness Fitness, mu int) []int {
	order := Argsort(fitness)
	if mu > len(order) {
		mu = len(order)
	}
	return order[:mu]
}

func cloneVec(v []float64) []float64 {
	if v == nil {
		return nil
	}
	out := make([]float64, len(v))
	copy(out, v)
	return out
}

func clipVec(v []float64, lo, hi float64) {
	for i, x := range v {
		v[i] = math.Min(math.Max(x, lo), hi)
	}
}
