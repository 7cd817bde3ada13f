// Package config loads run configurations from YAML files.
package config

import (
	"fmt"
	"os"
	"strconv"

	"gopkg.in/yaml.v3"

	"github.com/cwbudde/evostrat/internal/es"
	"github.com/cwbudde/evostrat/internal/opt"
	"github.com/cwbudde/evostrat/internal/problems"
)

// Environment variables that override file values.
const (
	EnvSeed        = "EVOSTRAT_SEED"
	EnvGenerations = "EVOSTRAT_GENERATIONS"
)

// RunConfig describes a single strategy run on a benchmark problem.
type RunConfig struct {
	Strategy       string         `yaml:"strategy"`
	PopulationSize int            `yaml:"population_size"`
	Problem        string         `yaml:"problem"`
	Dims           int            `yaml:"dims"`
	Shift          float64        `yaml:"shift"`
	Generations    int            `yaml:"generations"`
	Seed           int64          `yaml:"seed"`
	Workers        int            `yaml:"workers"`
	Hyperparams    es.Hyperparams `yaml:"hyperparams,omitempty"`
	Shaping        es.Shaper      `yaml:"shaping"`
	Convergence    Convergence    `yaml:"convergence"`
	TracePath      string         `yaml:"trace,omitempty"`
	PlotPath       string         `yaml:"plot,omitempty"`
}

// Convergence mirrors opt.ConvergenceConfig for YAML.
type Convergence struct {
	Enabled   bool    `yaml:"enabled"`
	Patience  int     `yaml:"patience"`
	Threshold float64 `yaml:"threshold"`
}

// Default returns the configuration used when no file is given.
func Default() *RunConfig {
	c := opt.DefaultConvergenceConfig()
	return &RunConfig{
		Strategy:       "cma_es",
		PopulationSize: 16,
		Problem:        "sphere",
		Dims:           10,
		Generations:    500,
		Seed:           1,
		Convergence: Convergence{
			Enabled:   false,
			Patience:  c.Patience,
			Threshold: c.Threshold,
		},
	}
}

// Load reads path on top of the defaults, applies environment overrides and
// validates the result.
func Load(path string) (*RunConfig, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read config file: %w", err)
	}

	cfg := Default()
	if err := yaml.Unmarshal(data, cfg); err != nil {
		return nil, fmt.Errorf("failed to parse config file: %w", err)
	}
	if err := cfg.ApplyEnv(); err != nil {
		return nil, fmt.Errorf("failed to apply environment overrides: %w", err)
	}
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("configuration validation failed: %w", err)
	}
	return cfg, nil
}

// Save writes the configuration as YAML.
func (c *RunConfig) Save(path string) error {
	data, err := yaml.Marshal(c)
	if err != nil {
		return fmt.Errorf("failed to marshal config: %w", err)
	}
	if err := os.WriteFile(path, data, 0644); err != nil {
		return fmt.Errorf("failed to write config file: %w", err)
	}
	return nil
}

// ApplyEnv overrides the seed and generation count from the environment.
func (c *RunConfig) ApplyEnv() error {
	if v := os.Getenv(EnvSeed); v != "" {
		seed, err := strconv.ParseInt(v, 10, 64)
		if err != nil {
			return fmt.Errorf("%s: %w", EnvSeed, err)
		}
		c.Seed = seed
	}
	if v := os.Getenv(EnvGenerations); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil {
			return fmt.Errorf("%s: %w", EnvGenerations, err)
		}
		c.Generations = n
	}
	return nil
}

// Validate checks the run settings. Strategy specific hyperparameters are
// checked when the strategy is built.
func (c *RunConfig) Validate() error {
	if c.PopulationSize <= 0 {
		return fmt.Errorf("population_size must be positive, got %d", c.PopulationSize)
	}
	if c.Dims <= 0 {
		return fmt.Errorf("dims must be positive, got %d", c.Dims)
	}
	if c.Generations <= 0 {
		return fmt.Errorf("generations must be positive, got %d", c.Generations)
	}
	if c.Workers < 0 {
		return fmt.Errorf("workers must not be negative, got %d", c.Workers)
	}
	if _, err := problems.Lookup(c.Problem, c.Dims); err != nil {
		return err
	}
	known := false
	for _, name := range es.Names() {
		if name == c.Strategy {
			known = true
			break
		}
	}
	if !known {
		return fmt.Errorf("unknown strategy %q", c.Strategy)
	}
	if c.Convergence.Enabled && c.Convergence.Patience <= 0 {
		return fmt.Errorf("convergence.patience must be positive when enabled")
	}
	return nil
}

// BuildProblem returns the configured (possibly shifted) problem.
func (c *RunConfig) BuildProblem() (problems.Problem, error) {
	p, err := problems.Lookup(c.Problem, c.Dims)
	if err != nil {
		return nil, err
	}
	if c.Shift != 0 {
		p = problems.Shifted(p, c.Shift)
	}
	return p, nil
}

// Options converts the configuration into strategy options. Bounds of the
// problem seed init/clip ranges; explicit hyperparameters win.
func (c *RunConfig) Options(p problems.Problem) []es.Option {
	lo, hi := p.Bounds()
	return []es.Option{
		opt.BoundsOptions(c.Strategy, lo[0], hi[0]),
		es.WithHyperparams(c.Hyperparams),
		es.WithFitnessShaper(c.Shaping),
	}
}

// ConvergenceConfig returns the early stopping settings.
func (c *RunConfig) ConvergenceConfig() opt.ConvergenceConfig {
	return opt.ConvergenceConfig{
		Enabled:   c.Convergence.Enabled,
		Patience:  c.Convergence.Patience,
		Threshold: c.Convergence.Threshold,
	}
}
