package es

import (
	"log/slog"
	"math"
)

// Restartable states can report progress and be re-centred.
type Restartable[S any] interface {
	Status() Progress
	WithMean(mean []float64) S
}

// Tunable params expose the shared settings so a restart can carry them
// over to a freshly derived parameter set.
type Tunable[P any] interface {
	Common() CommonParams
	WithCommon(c CommonParams) P
}

// Factory builds the wrapped strategy for a given population size.
type Factory[P, S any] func(populationSize int) (Strategy[P, S], error)

// WrapperParams are the restart wrapper's parameters: the inner strategy's
// parameters for the first run plus the restart settings.
type WrapperParams[P any] struct {
	Strategy P             `json:"strategy"`
	Restart  RestartParams `json:"restart"`
}

// RestartBook is the restart bookkeeping a RestartPolicy reads and updates.
type RestartBook struct {
	RestartCounter       int  `json:"restart_counter"`
	ActivePopulationSize int  `json:"active_population_size"`
	SmallPopActive       bool `json:"small_pop_active"`
	LargePopRestarts     int  `json:"large_pop_restarts"`
	SmallEvalBudget      int  `json:"small_eval_budget"`
	LargeEvalBudget      int  `json:"large_eval_budget"`
}

// Restarts returns the number of restarts performed so far.
func (b RestartBook) Restarts() int { return b.RestartCounter }

// ActivePopulation returns the population size of the current run.
func (b RestartBook) ActivePopulation() int { return b.ActivePopulationSize }

// RestartState wraps the inner run. Progress is the best over all runs and
// Generation counts generations across restarts.
type RestartState[P, S any] struct {
	Strategy       S    `json:"strategy"`
	StrategyParams P    `json:"strategy_params"`
	RestartNext    bool `json:"restart_next"`
	RestartBook
	Progress
}

// Inner returns the state of the current run.
func (s RestartState[P, S]) Inner() S { return s.Strategy }

// InnerState is Inner for callers that do not know S.
func (s RestartState[P, S]) InnerState() any { return s.Strategy }

// Regime is what a policy decides for the next run.
type Regime struct {
	PopulationSize int
	SigmaInit      float64
}

// RestartPolicy chooses the population size and step size of the next run.
// book arrives with RestartCounter already incremented; generations is the
// length of the run that just ended.
type RestartPolicy interface {
	Next(key Key, book RestartBook, generations, basePopulation int, sigmaInit float64, rp RestartParams) (RestartBook, Regime)
}

// Restarter decorates a strategy with termination criteria and restarts.
// It is itself a Strategy and holds the inner one by composition.
type Restarter[P Tunable[P], S Restartable[S]] struct {
	name     string
	base     Strategy[P, S]
	factory  Factory[P, S]
	policy   RestartPolicy
	criteria []Criterion[P, S]
	restart  RestartParams
}

// NewRestarter wraps factory(populationSize) with the given policy and criteria.
func NewRestarter[P Tunable[P], S Restartable[S]](name string, factory Factory[P, S], populationSize int, policy RestartPolicy, restart RestartParams, criteria ...Criterion[P, S]) (*Restarter[P, S], error) {
	if err := restart.Validate(); err != nil {
		return nil, err
	}
	base, err := factory(populationSize)
	if err != nil {
		return nil, err
	}
	return &Restarter[P, S]{
		name:     name,
		base:     base,
		factory:  factory,
		policy:   policy,
		criteria: criteria,
		restart:  restart,
	}, nil
}

func (r *Restarter[P, S]) Name() string        { return r.name }
func (r *Restarter[P, S]) PopulationSize() int { return r.base.PopulationSize() }
func (r *Restarter[P, S]) NumDims() int        { return r.base.NumDims() }

func (r *Restarter[P, S]) DefaultParams() WrapperParams[P] {
	return WrapperParams[P]{Strategy: r.base.DefaultParams(), Restart: r.restart}
}

func (r *Restarter[P, S]) Initialize(key Key, params WrapperParams[P]) (RestartState[P, S], error) {
	if err := params.Restart.Validate(); err != nil {
		return RestartState[P, S]{}, err
	}
	inner, err := r.base.Initialize(key, params.Strategy)
	if err != nil {
		return RestartState[P, S]{}, err
	}
	return RestartState[P, S]{
		Strategy:       inner,
		StrategyParams: params.Strategy,
		RestartBook:    RestartBook{ActivePopulationSize: r.base.PopulationSize()},
		Progress:       inner.Status(),
	}, nil
}

// Ask performs a pending restart, then delegates to the active run.
func (r *Restarter[P, S]) Ask(key Key, state RestartState[P, S], params WrapperParams[P]) (Population, RestartState[P, S], error) {
	askKey, restartKey := key.Split2()
	if state.RestartNext {
		var err error
		if state, err = r.restartRun(restartKey, state, params); err != nil {
			return nil, state, err
		}
	}
	inner, err := r.active(state)
	if err != nil {
		return nil, state, err
	}
	pop, innerState, err := inner.Ask(askKey, state.Strategy, state.StrategyParams)
	if err != nil {
		return nil, state, err
	}
	state.Strategy = innerState
	return pop, state, nil
}

// Tell delegates, merges the wrapper-level best and evaluates the criteria.
func (r *Restarter[P, S]) Tell(population Population, fitness Fitness, state RestartState[P, S], params WrapperParams[P]) (RestartState[P, S], error) {
	inner, err := r.active(state)
	if err != nil {
		return state, err
	}
	innerState, err := inner.Tell(population, fitness, state.Strategy, state.StrategyParams)
	if err != nil {
		return state, err
	}

	next := state
	next.Strategy = innerState
	if run := innerState.Status(); run.BestFitness < next.BestFitness {
		next.BestFitness = run.BestFitness
		next.BestSolution = cloneVec(run.BestSolution)
	}
	next.Generation++
	next.RestartNext = r.shouldStop(fitness, innerState, state.StrategyParams, params.Restart)
	if next.RestartNext {
		slog.Debug("Termination criterion met",
			"strategy", r.name,
			"generation", innerState.Status().Generation,
			"restart_counter", next.RestartCounter,
		)
	}
	return next, nil
}

func (r *Restarter[P, S]) shouldStop(fitness Fitness, state S, params P, rp RestartParams) bool {
	if state.Status().Generation < rp.MinNumGens {
		return false
	}
	for _, crit := range r.criteria {
		if crit(fitness, state, params, rp) {
			return true
		}
	}
	return false
}

func (r *Restarter[P, S]) active(state RestartState[P, S]) (Strategy[P, S], error) {
	if state.ActivePopulationSize == r.base.PopulationSize() {
		return r.base, nil
	}
	return r.factory(state.ActivePopulationSize)
}

// restartRun discards the inner run and starts a fresh one sized by the policy.
func (r *Restarter[P, S]) restartRun(key Key, state RestartState[P, S], params WrapperParams[P]) (RestartState[P, S], error) {
	policyKey, initKey := key.Split2()
	book := state.RestartBook
	book.RestartCounter++
	common := params.Strategy.Common()
	book, regime := r.policy.Next(policyKey, book, state.Strategy.Status().Generation, r.base.PopulationSize(), common.SigmaInit, params.Restart)

	inner, err := r.factory(regime.PopulationSize)
	if err != nil {
		return state, err
	}
	common.SigmaInit = regime.SigmaInit
	innerParams := inner.DefaultParams().WithCommon(common)
	innerState, err := inner.Initialize(initKey, innerParams)
	if err != nil {
		return state, err
	}
	if params.Restart.CopyMean && state.BestSolution != nil && !math.IsInf(state.BestFitness, 1) {
		innerState = innerState.WithMean(state.BestSolution)
	}
	book.ActivePopulationSize = inner.PopulationSize()

	slog.Info("Restarting strategy",
		"strategy", r.name,
		"restart_counter", book.RestartCounter,
		"population_size", book.ActivePopulationSize,
		"sigma_init", regime.SigmaInit,
		"small_regime", book.SmallPopActive,
		"best_fitness", state.BestFitness,
	)

	return RestartState[P, S]{
		Strategy:       innerState,
		StrategyParams: innerParams,
		RestartBook:    book,
		Progress:       state.Progress.Status(),
	}, nil
}

// IPOP grows the population by PopulationSizeMultiplier on every restart
// (Auger & Hansen, 2005), up to MaxPopulationSize.
type IPOP struct{}

func (IPOP) Next(_ Key, book RestartBook, _, base int, sigmaInit float64, rp RestartParams) (RestartBook, Regime) {
	pop := grownPopulation(base, rp.PopulationSizeMultiplier, book.RestartCounter, rp.MaxPopulationSize)
	book.ActivePopulationSize = pop
	return book, Regime{PopulationSize: pop, SigmaInit: sigmaInit}
}

// RegimeSelector decides from the cumulative evaluation budgets whether the
// next BIPOP run uses the small population regime.
type RegimeSelector func(smallBudget, largeBudget int) bool

// FewerEvaluations picks the regime that has consumed fewer evaluations,
// preferring the large regime on ties.
func FewerEvaluations(smallBudget, largeBudget int) bool {
	return smallBudget < largeBudget
}

// BIPOP interleaves a large population regime (IPOP style doubling) with
// small population runs whose size and step size are randomized
// (Hansen, 2009). Select defaults to FewerEvaluations.
type BIPOP struct {
	Select RegimeSelector
}

func (p BIPOP) Next(key Key, book RestartBook, generations, base int, sigmaInit float64, rp RestartParams) (RestartBook, Regime) {
	used := book.ActivePopulationSize * generations
	if book.SmallPopActive {
		book.SmallEvalBudget += used
	} else {
		book.LargeEvalBudget += used
	}

	selectSmall := p.Select
	if selectSmall == nil {
		selectSmall = FewerEvaluations
	}
	book.SmallPopActive = selectSmall(book.SmallEvalBudget, book.LargeEvalBudget)

	if !book.SmallPopActive {
		book.LargePopRestarts++
		pop := grownPopulation(base, rp.PopulationSizeMultiplier, book.LargePopRestarts, rp.MaxPopulationSize)
		book.ActivePopulationSize = pop
		return book, Regime{PopulationSize: pop, SigmaInit: sigmaInit}
	}

	rng := key.Rand()
	largePop := float64(grownPopulation(base, rp.PopulationSizeMultiplier, book.LargePopRestarts, rp.MaxPopulationSize))
	u := rng.Float64()
	pop := int(math.Floor(float64(base) * math.Pow(0.5*largePop/float64(base), u*u)))
	if pop < 2 {
		pop = 2
	}
	sigma := sigmaInit * math.Pow(10, -2*rng.Float64())
	book.ActivePopulationSize = pop
	return book, Regime{PopulationSize: pop, SigmaInit: sigma}
}

// grownPopulation is base·mult^restarts, capped at maxPop. A base already
// above the cap is left alone.
func grownPopulation(base, mult, restarts, maxPop int) int {
	limit := max(base, maxPop)
	pop := base
	for i := 0; i < restarts && pop < limit; i++ {
		if pop > limit/mult {
			return limit
		}
		pop *= mult
	}
	return min(pop, limit)
}
