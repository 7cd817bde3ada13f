package es

// Restart variants of the CMA family. Besides the hyperparameters of the
// wrapped strategy they accept min_num_gens, min_fitness_spread,
// population_size_multiplier, max_population_size, tol_x, tol_x_up,
// tol_condition_c and copy_mean (non-zero means true).

// NewIPOPCMAES is CMA-ES restarted with growing populations.
func NewIPOPCMAES(populationSize int, solution []float64, opts ...Option) (*Restarter[CMAParams, CMAState], error) {
	return newCMARestarter("ipop_cma_es", IPOP{}, populationSize, solution, opts)
}

// NewBIPOPCMAES is CMA-ES with interleaved large and small population restarts.
func NewBIPOPCMAES(populationSize int, solution []float64, opts ...Option) (*Restarter[CMAParams, CMAState], error) {
	return newCMARestarter("bipop_cma_es", BIPOP{}, populationSize, solution, opts)
}

// NewIPOPSepCMAES is separable CMA-ES restarted with growing populations.
func NewIPOPSepCMAES(populationSize int, solution []float64, opts ...Option) (*Restarter[SepCMAParams, SepCMAState], error) {
	rp, inner, err := splitRestartOptions(opts)
	if err != nil {
		return nil, err
	}
	var factory Factory[SepCMAParams, SepCMAState] = func(n int) (Strategy[SepCMAParams, SepCMAState], error) {
		return NewSepCMAES(n, solution, inner...)
	}
	return NewRestarter("ipop_sep_cma_es", factory, populationSize, IPOP{}, rp,
		SpreadCriterion[SepCMAParams, SepCMAState],
		CMACriterion[SepCMAParams, SepCMAState],
	)
}

func newCMARestarter(name string, policy RestartPolicy, populationSize int, solution []float64, opts []Option) (*Restarter[CMAParams, CMAState], error) {
	rp, inner, err := splitRestartOptions(opts)
	if err != nil {
		return nil, err
	}
	var factory Factory[CMAParams, CMAState] = func(n int) (Strategy[CMAParams, CMAState], error) {
		return NewCMAES(n, solution, inner...)
	}
	return NewRestarter(name, factory, populationSize, policy, rp,
		SpreadCriterion[CMAParams, CMAState],
		CMACriterion[CMAParams, CMAState],
	)
}

// splitRestartOptions pulls the restart settings out of the options and
// returns the remainder for the inner strategy.
func splitRestartOptions(opts []Option) (RestartParams, []Option, error) {
	s := settings{hyper: Hyperparams{}}
	for _, opt := range opts {
		opt(&s)
	}

	rp := DefaultRestartParams()
	inner := Hyperparams{}
	for k, v := range s.hyper {
		switch k {
		case "min_num_gens":
			rp.MinNumGens = int(v)
		case "min_fitness_spread":
			rp.MinFitnessSpread = v
		case "population_size_multiplier":
			rp.PopulationSizeMultiplier = int(v)
		case "max_population_size":
			rp.MaxPopulationSize = int(v)
		case "tol_x":
			rp.TolX = v
		case "tol_x_up":
			rp.TolXUp = v
		case "tol_condition_c":
			rp.TolConditionC = v
		case "copy_mean":
			rp.CopyMean = v != 0
		default:
			inner[k] = v
		}
	}
	if err := rp.Validate(); err != nil {
		return rp, nil, err
	}

	rest := []Option{WithHyperparams(inner)}
	if s.shaper != nil {
		rest = append(rest, WithFitnessShaper(s.shaper))
	}
	return rp, rest, nil
}
