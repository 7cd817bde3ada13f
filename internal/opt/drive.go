package opt

import (
	"context"
	"fmt"
	"log/slog"
	"math"

	"gonum.org/v1/gonum/stat"

	"github.com/cwbudde/evostrat/internal/es"
	"github.com/cwbudde/evostrat/internal/problems"
)

// Generation summarizes one completed ask/evaluate/tell round.
type Generation struct {
	Index          int
	BestFitness    float64 // best so far, minimization convention
	MeanFitness    float64 // mean of the finite values of this generation
	Sigma          float64
	PopulationSize int
	Restarts       int
}

// GenerationFunc observes each generation. Returning false stops the run.
type GenerationFunc func(Generation) bool

// Drive initializes runner from key and runs up to generations rounds of
// ask, evaluate and tell. It stops early when ctx is done (returning the
// context error) or when onGen returns false.
func Drive(ctx context.Context, runner es.Runner, evaluator problems.Evaluator, key es.Key, generations int, onGen GenerationFunc) (es.Progress, error) {
	initKey, key := key.Split2()
	if err := runner.Initialize(initKey); err != nil {
		return es.Progress{}, err
	}

	for g := 1; g <= generations; g++ {
		if err := ctx.Err(); err != nil {
			return runner.Status(), err
		}

		var askKey es.Key
		askKey, key = key.Split2()
		pop, err := runner.Ask(askKey)
		if err != nil {
			return runner.Status(), err
		}
		fitness, err := evaluator.Evaluate(ctx, pop)
		if err != nil {
			return runner.Status(), fmt.Errorf("evaluate generation %d: %w", g, err)
		}
		if err := runner.Tell(pop, fitness); err != nil {
			return runner.Status(), err
		}

		status := runner.Status()
		gen := Generation{
			Index:          status.Generation,
			BestFitness:    status.BestFitness,
			MeanFitness:    finiteMean(fitness),
			Sigma:          runner.StepSize(),
			PopulationSize: len(pop),
			Restarts:       runner.Restarts(),
		}
		slog.Debug("Generation complete",
			"strategy", runner.Name(),
			"generation", gen.Index,
			"best_fitness", gen.BestFitness,
			"sigma", gen.Sigma,
			"population_size", gen.PopulationSize,
		)
		if onGen != nil && !onGen(gen) {
			break
		}
	}
	return runner.Status(), nil
}

func finiteMean(fitness es.Fitness) float64 {
	finite := make([]float64, 0, len(fitness))
	for _, f := range fitness {
		if !math.IsNaN(f) && !math.IsInf(f, 0) {
			finite = append(finite, f)
		}
	}
	if len(finite) == 0 {
		return math.NaN()
	}
	return stat.Mean(finite, nil)
}
