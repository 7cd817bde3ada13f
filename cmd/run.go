package main

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"sort"
	"strconv"
	"time"

	"github.com/spf13/cobra"

	"github.com/cwbudde/evostrat/internal/config"
	"github.com/cwbudde/evostrat/internal/es"
	"github.com/cwbudde/evostrat/internal/opt"
	"github.com/cwbudde/evostrat/internal/problems"
	"github.com/cwbudde/evostrat/internal/report"
	"github.com/cwbudde/evostrat/internal/trace"
)

var (
	configPath  string
	strategy    string
	popSize     int
	problemName string
	dims        int
	shift       float64
	generations int
	seed        int64
	workers     int
	hyperFlags  map[string]string
	maximize    bool
	earlyStop   bool
	tracePath   string
	plotPath    string
)

var runCmd = &cobra.Command{
	Use:   "run",
	Short: "Run one strategy on a benchmark problem",
	Long: `Runs a strategy for a fixed number of generations and prints the best
solution found. Settings come from --config (YAML) when given; flags that are
set explicitly override the file. EVOSTRAT_SEED and EVOSTRAT_GENERATIONS
override both.`,
	RunE: runOptimization,
}

func init() {
	d := config.Default()
	runCmd.Flags().StringVar(&configPath, "config", "", "YAML run configuration")
	runCmd.Flags().StringVar(&strategy, "strategy", d.Strategy, "Strategy name (see 'evostrat list')")
	runCmd.Flags().IntVar(&popSize, "pop", d.PopulationSize, "Population size")
	runCmd.Flags().StringVar(&problemName, "problem", d.Problem, "Benchmark problem")
	runCmd.Flags().IntVar(&dims, "dims", d.Dims, "Number of dimensions")
	runCmd.Flags().Float64Var(&shift, "shift", 0, "Move the optimum to (shift, ..., shift)")
	runCmd.Flags().IntVar(&generations, "gens", d.Generations, "Number of generations")
	runCmd.Flags().Int64Var(&seed, "seed", d.Seed, "Random seed")
	runCmd.Flags().IntVar(&workers, "workers", 0, "Concurrent evaluations (0 = one per CPU)")
	runCmd.Flags().StringToStringVar(&hyperFlags, "hp", nil, "Hyperparameter overrides, e.g. --hp sigma_init=0.5,elite_ratio=0.3")
	runCmd.Flags().BoolVar(&maximize, "maximize", false, "Treat larger fitness as better")
	runCmd.Flags().BoolVar(&earlyStop, "early-stop", false, "Stop when the best fitness stagnates")
	runCmd.Flags().StringVar(&tracePath, "trace", "", "Write a JSONL trace to this path")
	runCmd.Flags().StringVar(&plotPath, "plot", "", "Write a convergence chart to this path (png, svg, pdf)")

	rootCmd.AddCommand(runCmd)
}

// parseHyperparams converts --hp key=value pairs.
func parseHyperparams(raw map[string]string) (es.Hyperparams, error) {
	if len(raw) == 0 {
		return nil, nil
	}
	keys := make([]string, 0, len(raw))
	for k := range raw {
		keys = append(keys, k)
	}
	sort.Strings(keys)

	h := make(es.Hyperparams, len(raw))
	for _, k := range keys {
		v, err := strconv.ParseFloat(raw[k], 64)
		if err != nil {
			return nil, fmt.Errorf("hyperparameter %s: %w", k, err)
		}
		h[k] = v
	}
	return h, nil
}

// loadRunConfig merges the config file, explicitly set flags and the
// environment, in that order.
func loadRunConfig(cmd *cobra.Command) (*config.RunConfig, error) {
	cfg := config.Default()
	if configPath != "" {
		loaded, err := config.Load(configPath)
		if err != nil {
			return nil, err
		}
		cfg = loaded
	}

	flags := cmd.Flags()
	set := func(name string) bool { return configPath == "" || flags.Changed(name) }
	if set("strategy") {
		cfg.Strategy = strategy
	}
	if set("pop") {
		cfg.PopulationSize = popSize
	}
	if set("problem") {
		cfg.Problem = problemName
	}
	if set("dims") {
		cfg.Dims = dims
	}
	if set("shift") {
		cfg.Shift = shift
	}
	if set("gens") {
		cfg.Generations = generations
	}
	if set("seed") {
		cfg.Seed = seed
	}
	if set("workers") {
		cfg.Workers = workers
	}
	if flags.Changed("hp") {
		h, err := parseHyperparams(hyperFlags)
		if err != nil {
			return nil, err
		}
		if cfg.Hyperparams == nil {
			cfg.Hyperparams = es.Hyperparams{}
		}
		for k, v := range h {
			cfg.Hyperparams[k] = v
		}
	}
	if flags.Changed("maximize") {
		cfg.Shaping.MaximizeFitness = maximize
	}
	if flags.Changed("early-stop") {
		cfg.Convergence.Enabled = earlyStop
	}
	if flags.Changed("trace") {
		cfg.TracePath = tracePath
	}
	if flags.Changed("plot") {
		cfg.PlotPath = plotPath
	}

	if err := cfg.ApplyEnv(); err != nil {
		return nil, err
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

func runOptimization(cmd *cobra.Command, args []string) error {
	cfg, err := loadRunConfig(cmd)
	if err != nil {
		return err
	}

	ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt)
	defer stop()

	result, err := execute(ctx, cfg)
	if err != nil && !errors.Is(err, context.Canceled) {
		return err
	}
	if errors.Is(err, context.Canceled) {
		slog.Warn("Run interrupted", "generations", result.status.Generation)
	}

	if cfg.PlotPath != "" {
		title := fmt.Sprintf("%s on %s (%d dims)", cfg.Strategy, result.problem, cfg.Dims)
		if err := report.PlotConvergence(result.entries, title, cfg.PlotPath); err != nil {
			return fmt.Errorf("failed to plot convergence: %w", err)
		}
		slog.Info("Wrote convergence plot", "path", cfg.PlotPath)
	}

	out := cmd.OutOrStdout()
	fmt.Fprintf(out, "strategy:     %s\n", cfg.Strategy)
	fmt.Fprintf(out, "problem:      %s\n", result.problem)
	fmt.Fprintf(out, "generations:  %d\n", result.status.Generation)
	fmt.Fprintf(out, "restarts:     %d\n", result.restarts)
	fmt.Fprintf(out, "best fitness: %.6g\n", result.status.BestFitness)
	fmt.Fprintf(out, "best:         %s\n", formatVector(result.status.BestSolution))
	return nil
}

type runResult struct {
	problem  string
	status   es.Progress
	restarts int
	entries  []trace.Entry
}

// execute runs cfg to completion, writing the trace as it goes. On
// cancellation it returns the partial result together with the context
// error.
func execute(ctx context.Context, cfg *config.RunConfig) (runResult, error) {
	p, err := cfg.BuildProblem()
	if err != nil {
		return runResult{}, err
	}
	runner, err := es.New(cfg.Strategy, cfg.PopulationSize, make([]float64, cfg.Dims), cfg.Options(p)...)
	if err != nil {
		return runResult{}, err
	}

	var tw *trace.Writer
	if cfg.TracePath != "" {
		tw, err = trace.Create(cfg.TracePath, false)
		if err != nil {
			return runResult{}, err
		}
		defer tw.Close()
	}

	evaluator := problems.NewBatchEvaluator(p)
	if cfg.Workers > 0 {
		evaluator.Workers = cfg.Workers
	}
	tracker := opt.NewConvergenceTracker(cfg.ConvergenceConfig())

	slog.Info("Starting run",
		"strategy", cfg.Strategy,
		"problem", p.Name(),
		"dims", cfg.Dims,
		"population_size", cfg.PopulationSize,
		"generations", cfg.Generations,
		"seed", cfg.Seed,
	)

	result := runResult{problem: p.Name()}
	var writeErr error
	start := time.Now()
	status, err := opt.Drive(ctx, runner, evaluator, es.NewKey(cfg.Seed), cfg.Generations, func(g opt.Generation) bool {
		entry := trace.FromGeneration(g)
		result.entries = append(result.entries, entry)
		if tw != nil {
			if writeErr = tw.Write(entry); writeErr != nil {
				return false
			}
		}
		if tracker.Update(g.BestFitness) {
			slog.Info("Early stop", "generation", g.Index, "stale_generations", tracker.StaleCount())
			return false
		}
		return true
	})
	result.status = status
	result.restarts = runner.Restarts()
	if writeErr != nil {
		return result, writeErr
	}
	if err != nil {
		return result, err
	}

	slog.Info("Run complete",
		"elapsed", time.Since(start),
		"generations", status.Generation,
		"best_fitness", status.BestFitness,
		"restarts", result.restarts,
	)
	return result, nil
}

func formatVector(x []float64) string {
	const maxShown = 8
	s := "["
	for i, v := range x {
		if i == maxShown {
			s += fmt.Sprintf(" ... (%d more)", len(x)-maxShown)
			break
		}
		if i > 0 {
			s += " "
		}
		s += strconv.FormatFloat(v, 'g', 6, 64)
	}
	return s + "]"
}
