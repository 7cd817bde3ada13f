package main

import (
	"fmt"
	"io"
	"log/slog"
	"math"
	"sort"
	"text/tabwriter"
	"time"

	"github.com/spf13/cobra"
	"golang.org/x/sync/errgroup"
	"gonum.org/v1/gonum/floats"
	"gonum.org/v1/gonum/stat"

	"github.com/cwbudde/evostrat/internal/es"
	"github.com/cwbudde/evostrat/internal/opt"
	"github.com/cwbudde/evostrat/internal/problems"
)

var (
	compareOptimizers []string
	compareProblem    string
	compareDims       int
	compareShift      float64
	compareGens       int
	comparePop        int
	compareSeeds      int
	compareParallel   int
)

// Baselines that are not registered strategies.
const (
	baselineMayfly = "mayfly"
	baselineGonum  = "gonum_cma"
)

var compareCmd = &cobra.Command{
	Use:   "compare",
	Short: "Compare optimizers over several seeds",
	Long: `Runs every optimizer on the same problem for a number of seeds and
prints mean, standard deviation and best of the final fitness. Besides the
registered strategies, "mayfly" and "gonum_cma" run as baselines.`,
	RunE: runCompare,
}

func init() {
	compareCmd.Flags().StringSliceVar(&compareOptimizers, "optimizers", []string{"cma_es", "sep_cma_es", "ipop_cma_es", baselineMayfly, baselineGonum}, "Optimizers to compare")
	compareCmd.Flags().StringVar(&compareProblem, "problem", "rastrigin", "Benchmark problem")
	compareCmd.Flags().IntVar(&compareDims, "dims", 10, "Number of dimensions")
	compareCmd.Flags().Float64Var(&compareShift, "shift", 0, "Move the optimum to (shift, ..., shift)")
	compareCmd.Flags().IntVar(&compareGens, "gens", 200, "Generations (iterations for baselines)")
	compareCmd.Flags().IntVar(&comparePop, "pop", 16, "Population size")
	compareCmd.Flags().IntVar(&compareSeeds, "seeds", 5, "Number of seeds per optimizer")
	compareCmd.Flags().IntVar(&compareParallel, "parallel", 0, "Concurrent runs (0 = unlimited)")

	rootCmd.AddCommand(compareCmd)
}

// newOptimizer builds the named optimizer for one seed.
func newOptimizer(name string, gens, pop int, seed int64) (opt.Optimizer, error) {
	switch name {
	case baselineMayfly:
		return opt.NewMayfly(gens, pop, seed), nil
	case baselineGonum:
		return opt.NewGonumCMA(gens, pop, seed), nil
	}
	for _, known := range es.Names() {
		if known == name {
			return opt.NewStrategy(name, gens, pop, seed), nil
		}
	}
	return nil, fmt.Errorf("unknown optimizer %q", name)
}

type trial struct {
	optimizer string
	seed      int64
	fitness   float64
	elapsed   time.Duration
}

type summary struct {
	Optimizer string
	Runs      int
	Mean      float64
	StdDev    float64
	Best      float64
	Elapsed   time.Duration
}

// summarize groups trials by optimizer, ordered by mean fitness.
func summarize(trials []trial) []summary {
	byName := make(map[string][]trial)
	for _, t := range trials {
		byName[t.optimizer] = append(byName[t.optimizer], t)
	}

	out := make([]summary, 0, len(byName))
	for name, ts := range byName {
		values := make([]float64, len(ts))
		var elapsed time.Duration
		for i, t := range ts {
			values[i] = t.fitness
			elapsed += t.elapsed
		}
		s := summary{Optimizer: name, Runs: len(ts), Best: floats.Min(values)}
		if len(values) > 1 {
			s.Mean, s.StdDev = stat.MeanStdDev(values, nil)
		} else {
			s.Mean = values[0]
		}
		s.Elapsed = elapsed / time.Duration(len(ts))
		out = append(out, s)
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].Mean != out[j].Mean {
			return out[i].Mean < out[j].Mean
		}
		return out[i].Optimizer < out[j].Optimizer
	})
	return out
}

func runCompare(cmd *cobra.Command, args []string) error {
	if compareSeeds <= 0 {
		return fmt.Errorf("--seeds must be positive")
	}
	p, err := problems.Lookup(compareProblem, compareDims)
	if err != nil {
		return err
	}
	if compareShift != 0 {
		p = problems.Shifted(p, compareShift)
	}
	for _, name := range compareOptimizers {
		if _, err := newOptimizer(name, compareGens, comparePop, 0); err != nil {
			return err
		}
	}

	trials := make([]trial, len(compareOptimizers)*compareSeeds)
	g, ctx := errgroup.WithContext(cmd.Context())
	if compareParallel > 0 {
		g.SetLimit(compareParallel)
	}
	lower, upper := p.Bounds()
	for i, name := range compareOptimizers {
		for s := 0; s < compareSeeds; s++ {
			idx, name, seed := i*compareSeeds+s, name, int64(s+1)
			g.Go(func() error {
				if err := ctx.Err(); err != nil {
					return err
				}
				o, err := newOptimizer(name, compareGens, comparePop, seed)
				if err != nil {
					return err
				}
				start := time.Now()
				_, fitness, err := opt.RunContext(ctx, o, p.Evaluate, lower, upper, p.Dims())
				if err != nil {
					return fmt.Errorf("%s (seed %d): %w", name, seed, err)
				}
				trials[idx] = trial{optimizer: name, seed: seed, fitness: fitness, elapsed: time.Since(start)}
				slog.Debug("Trial finished", "optimizer", name, "seed", seed, "fitness", fitness)
				return nil
			})
		}
	}
	if err := g.Wait(); err != nil {
		return err
	}

	fmt.Fprintf(cmd.OutOrStdout(), "%s, %d dims, %d generations x %d population, %d seeds\n\n",
		p.Name(), p.Dims(), compareGens, comparePop, compareSeeds)
	return writeSummary(cmd.OutOrStdout(), summarize(trials))
}

func writeSummary(out io.Writer, rows []summary) error {
	w := tabwriter.NewWriter(out, 0, 0, 2, ' ', 0)
	fmt.Fprintln(w, "OPTIMIZER\tRUNS\tMEAN\tSTDDEV\tBEST\tTIME/RUN")
	fmt.Fprintln(w, "---------\t----\t----\t------\t----\t--------")
	for _, r := range rows {
		fmt.Fprintf(w, "%s\t%d\t%s\t%s\t%s\t%s\n",
			r.Optimizer, r.Runs, formatFitness(r.Mean), formatFitness(r.StdDev), formatFitness(r.Best),
			r.Elapsed.Round(time.Millisecond))
	}
	return w.Flush()
}

func formatFitness(v float64) string {
	if math.IsNaN(v) {
		return "n/a"
	}
	return fmt.Sprintf("%.4g", v)
}
