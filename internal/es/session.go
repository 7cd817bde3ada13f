package es

import (
	"errors"
	"fmt"
)

// ErrNotInitialized is returned by Session methods called before Initialize.
var ErrNotInitialized = errors.New("es: session not initialized")

// Runner is the type-erased view of a strategy bound to its params and
// state. Drivers that do not care about the concrete algorithm (the CLI,
// the job server, the optimizer adapters) work against it.
type Runner interface {
	Name() string
	// PopulationSize is the size of the population the next Ask returns.
	// It changes across restarts.
	PopulationSize() int
	NumDims() int
	Initialize(key Key) error
	Ask(key Key) (Population, error)
	Tell(population Population, fitness Fitness) error
	Status() Progress
	// StepSize is the current global step size, or 0 when the algorithm
	// has none.
	StepSize() float64
	Restarts() int
	// Snapshot returns a copy of the current state record.
	Snapshot() any
}

type stepSizer interface{ StepSize() float64 }

type activePopulation interface{ ActivePopulation() int }

type restartCounter interface{ Restarts() int }

type innerStater interface{ InnerState() any }

// Session holds a strategy together with its params and the latest state.
// It is not safe for concurrent use.
type Session[P any, S interface{ Status() Progress }] struct {
	strategy    Strategy[P, S]
	params      P
	state       S
	initialized bool
}

// NewSession binds params to strategy. Call Initialize before Ask.
func NewSession[P any, S interface{ Status() Progress }](strategy Strategy[P, S], params P) *Session[P, S] {
	return &Session[P, S]{strategy: strategy, params: params}
}

func (s *Session[P, S]) Name() string { return s.strategy.Name() }
func (s *Session[P, S]) NumDims() int { return s.strategy.NumDims() }
func (s *Session[P, S]) Params() P    { return s.params }
func (s *Session[P, S]) State() S     { return s.state }

func (s *Session[P, S]) PopulationSize() int {
	if s.initialized {
		if a, ok := any(s.state).(activePopulation); ok && a.ActivePopulation() > 0 {
			return a.ActivePopulation()
		}
	}
	return s.strategy.PopulationSize()
}

func (s *Session[P, S]) Initialize(key Key) error {
	state, err := s.strategy.Initialize(key, s.params)
	if err != nil {
		return fmt.Errorf("initialize %s: %w", s.strategy.Name(), err)
	}
	s.state = state
	s.initialized = true
	return nil
}

func (s *Session[P, S]) Ask(key Key) (Population, error) {
	if !s.initialized {
		return nil, ErrNotInitialized
	}
	pop, state, err := s.strategy.Ask(key, s.state, s.params)
	if err != nil {
		return nil, fmt.Errorf("ask %s: %w", s.strategy.Name(), err)
	}
	s.state = state
	return pop, nil
}

func (s *Session[P, S]) Tell(population Population, fitness Fitness) error {
	if !s.initialized {
		return ErrNotInitialized
	}
	state, err := s.strategy.Tell(population, fitness, s.state, s.params)
	if err != nil {
		return fmt.Errorf("tell %s: %w", s.strategy.Name(), err)
	}
	s.state = state
	return nil
}

func (s *Session[P, S]) Status() Progress {
	if !s.initialized {
		return Progress{}
	}
	return s.state.Status()
}

func (s *Session[P, S]) StepSize() float64 {
	if !s.initialized {
		return 0
	}
	var v any = s.state
	if inner, ok := v.(innerStater); ok {
		v = inner.InnerState()
	}
	if st, ok := v.(stepSizer); ok {
		return st.StepSize()
	}
	return 0
}

func (s *Session[P, S]) Restarts() int {
	if r, ok := any(s.state).(restartCounter); ok {
		return r.Restarts()
	}
	return 0
}

func (s *Session[P, S]) Snapshot() any {
	if c, ok := any(s.state).(interface{ Clone() S }); ok {
		return c.Clone()
	}
	return s.state
}
