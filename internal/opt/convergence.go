package opt

import (
	"log/slog"
	"math"
)

// ConvergenceConfig controls early stopping of a strategy run.
type ConvergenceConfig struct {
	Enabled bool

	// Patience is the number of generations without significant improvement
	// of the best fitness before the run stops.
	Patience int

	// Threshold is the minimum improvement that counts as progress, relative
	// to |last significant best| (absolute when that is zero).
	Threshold float64
}

// DefaultConvergenceConfig stops after 50 stale generations at 1e-9.
func DefaultConvergenceConfig() ConvergenceConfig {
	return ConvergenceConfig{
		Enabled:   true,
		Patience:  50,
		Threshold: 1e-9,
	}
}

// DisabledConvergenceConfig never stops a run early.
func DisabledConvergenceConfig() ConvergenceConfig {
	return ConvergenceConfig{Enabled: false}
}

// ConvergenceTracker watches the best-so-far fitness per generation.
type ConvergenceTracker struct {
	config          ConvergenceConfig
	history         []float64
	best            float64
	lastSignificant float64
	staleCount      int
}

func NewConvergenceTracker(config ConvergenceConfig) *ConvergenceTracker {
	return &ConvergenceTracker{
		config:          config,
		history:         []float64{},
		best:            math.Inf(1),
		lastSignificant: math.Inf(1),
	}
}

// Update records the best fitness of a generation and reports whether the
// run has converged.
func (c *ConvergenceTracker) Update(fitness float64) bool {
	if !c.config.Enabled {
		return false
	}

	c.history = append(c.history, fitness)
	if fitness < c.best {
		c.best = fitness
	}

	if math.IsInf(c.lastSignificant, 1) {
		c.lastSignificant = fitness
		return false
	}

	improvement := c.lastSignificant - fitness
	if scale := math.Abs(c.lastSignificant); scale > 0 {
		improvement /= scale
	}

	if improvement >= c.config.Threshold {
		c.lastSignificant = fitness
		c.staleCount = 0
		return false
	}

	c.staleCount++
	if c.staleCount >= c.config.Patience {
		slog.Info("Convergence detected - stopping early",
			"stale_count", c.staleCount,
			"patience", c.config.Patience,
			"best_fitness", c.best,
		)
		return true
	}
	return false
}

func (c *ConvergenceTracker) Best() float64 { return c.best }

// History returns a copy of the recorded values.
func (c *ConvergenceTracker) History() []float64 {
	return append([]float64{}, c.history...)
}

func (c *ConvergenceTracker) StaleCount() int { return c.staleCount }

// Reset clears the tracker's state
func (c *ConvergenceTracker) Reset() {
	c.history = []float64{}
	c.best = math.Inf(1)
	c.lastSignificant = math.Inf(1)
	c.staleCount = 0
}
