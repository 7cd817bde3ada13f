package es

import (
	"sort"
	"strings"
)

type constructor func(populationSize int, solution []float64, opts []Option) (Runner, error)

var registry = map[string]constructor{
	"cma_es": func(n int, x []float64, opts []Option) (Runner, error) {
		s, err := NewCMAES(n, x, opts...)
		if err != nil {
			return nil, err
		}
		return NewSession[CMAParams, CMAState](s, s.DefaultParams()), nil
	},
	"sep_cma_es": func(n int, x []float64, opts []Option) (Runner, error) {
		s, err := NewSepCMAES(n, x, opts...)
		if err != nil {
			return nil, err
		}
		return NewSession[SepCMAParams, SepCMAState](s, s.DefaultParams()), nil
	},
	"ipop_cma_es": func(n int, x []float64, opts []Option) (Runner, error) {
		s, err := NewIPOPCMAES(n, x, opts...)
		if err != nil {
			return nil, err
		}
		return NewSession[WrapperParams[CMAParams], RestartState[CMAParams, CMAState]](s, s.DefaultParams()), nil
	},
	"bipop_cma_es": func(n int, x []float64, opts []Option) (Runner, error) {
		s, err := NewBIPOPCMAES(n, x, opts...)
		if err != nil {
			return nil, err
		}
		return NewSession[WrapperParams[CMAParams], RestartState[CMAParams, CMAState]](s, s.DefaultParams()), nil
	},
	"ipop_sep_cma_es": func(n int, x []float64, opts []Option) (Runner, error) {
		s, err := NewIPOPSepCMAES(n, x, opts...)
		if err != nil {
			return nil, err
		}
		return NewSession[WrapperParams[SepCMAParams], RestartState[SepCMAParams, SepCMAState]](s, s.DefaultParams()), nil
	},
	"ars": func(n int, x []float64, opts []Option) (Runner, error) {
		s, err := NewARS(n, x, opts...)
		if err != nil {
			return nil, err
		}
		return NewSession[ARSParams, ARSState](s, s.DefaultParams()), nil
	},
	"pgpe": func(n int, x []float64, opts []Option) (Runner, error) {
		s, err := NewPGPE(n, x, opts...)
		if err != nil {
			return nil, err
		}
		return NewSession[PGPEParams, PGPEState](s, s.DefaultParams()), nil
	},
	"guided_es": func(n int, x []float64, opts []Option) (Runner, error) {
		s, err := NewGuidedES(n, x, opts...)
		if err != nil {
			return nil, err
		}
		return NewSession[GuidedESParams, GuidedESState](s, s.DefaultParams()), nil
	},
	"gld": func(n int, x []float64, opts []Option) (Runner, error) {
		s, err := NewGLD(n, x, opts...)
		if err != nil {
			return nil, err
		}
		return NewSession[GLDParams, GLDState](s, s.DefaultParams()), nil
	},
	"pbt": func(n int, x []float64, opts []Option) (Runner, error) {
		s, err := NewPBT(n, x, opts...)
		if err != nil {
			return nil, err
		}
		return NewSession[PBTParams, PBTState](s, s.DefaultParams()), nil
	},
	"random_search": func(n int, x []float64, opts []Option) (Runner, error) {
		s, err := NewRandomSearch(n, x, opts...)
		if err != nil {
			return nil, err
		}
		return NewSession[RandomSearchParams, RandomSearchState](s, s.DefaultParams()), nil
	},
}

// Names lists the registered strategy names in sorted order.
func Names() []string {
	names := make([]string, 0, len(registry))
	for name := range registry {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

// New builds the named strategy with its default params and wraps it in a
// Session. solution is a template fixing the dimensionality.
func New(name string, populationSize int, solution []float64, opts ...Option) (Runner, error) {
	ctor, ok := registry[name]
	if !ok {
		return nil, configErrorf("strategy", "%q is unknown (available: %s)", name, strings.Join(Names(), ", "))
	}
	return ctor(populationSize, solution, opts)
}
