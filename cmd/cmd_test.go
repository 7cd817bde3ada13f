package main

import (
	"bytes"
	"net/http/httptest"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/cwbudde/evostrat/internal/server"
	"github.com/cwbudde/evostrat/internal/trace"
)

func TestParseHyperparams(t *testing.T) {
	h, err := parseHyperparams(map[string]string{"sigma_init": "0.5", "elite_ratio": "0.25"})
	if err != nil {
		t.Fatalf("parseHyperparams failed: %v", err)
	}
	if h["sigma_init"] != 0.5 || h["elite_ratio"] != 0.25 {
		t.Errorf("Unexpected values: %v", h)
	}

	if _, err := parseHyperparams(map[string]string{"sigma_init": "big"}); err == nil {
		t.Error("Expected error for non-numeric value")
	}

	h, err = parseHyperparams(nil)
	if err != nil || h != nil {
		t.Errorf("Empty input should give nil, got %v, %v", h, err)
	}
}

func TestSelectTracesForDeletion_ByAge(t *testing.T) {
	now := time.Now()
	infos := []trace.Info{
		{Path: "a", ModTime: now.AddDate(0, 0, -10)},
		{Path: "b", ModTime: now.AddDate(0, 0, -5)},
		{Path: "c", ModTime: now.AddDate(0, 0, -1)},
		{Path: "d", ModTime: now.AddDate(0, 0, -30)},
	}

	toDelete := selectTracesForDeletion(infos, 0, 7, now)

	if len(toDelete) != 2 {
		t.Fatalf("Expected 2 traces to delete, got %d", len(toDelete))
	}
	if toDelete[0].Path != "d" || toDelete[1].Path != "a" {
		t.Errorf("Expected d and a oldest first, got %s and %s", toDelete[0].Path, toDelete[1].Path)
	}
}

func TestSelectTracesForDeletion_ByCount(t *testing.T) {
	now := time.Now()
	infos := []trace.Info{
		{Path: "a", ModTime: now.AddDate(0, 0, -10)},
		{Path: "b", ModTime: now.AddDate(0, 0, -5)},
		{Path: "c", ModTime: now.AddDate(0, 0, -1)},
		{Path: "d", ModTime: now.AddDate(0, 0, -30)},
	}

	toDelete := selectTracesForDeletion(infos, 2, 0, now)

	if len(toDelete) != 2 {
		t.Fatalf("Expected 2 traces to delete, got %d", len(toDelete))
	}
	for _, info := range toDelete {
		if info.Path == "b" || info.Path == "c" {
			t.Errorf("Newest traces should be kept, but %s was selected", info.Path)
		}
	}
}

func TestSelectTracesForDeletion_Combined(t *testing.T) {
	now := time.Now()
	infos := []trace.Info{
		{Path: "a", ModTime: now.AddDate(0, 0, -10)},
		{Path: "b", ModTime: now.AddDate(0, 0, -5)},
		{Path: "c", ModTime: now.AddDate(0, 0, -1)},
	}

	// Age selects a, count selects a and b; a must appear once.
	toDelete := selectTracesForDeletion(infos, 1, 7, now)

	if len(toDelete) != 2 {
		t.Fatalf("Expected 2 traces to delete, got %d", len(toDelete))
	}
}

func TestSelectTracesForDeletion_NothingToDo(t *testing.T) {
	now := time.Now()
	infos := []trace.Info{{Path: "a", ModTime: now}}

	if got := selectTracesForDeletion(infos, 5, 7, now); len(got) != 0 {
		t.Errorf("Expected nothing to delete, got %d", len(got))
	}
}

func TestSummarize(t *testing.T) {
	trials := []trial{
		{optimizer: "cma_es", fitness: 1},
		{optimizer: "cma_es", fitness: 3},
		{optimizer: "mayfly", fitness: 10},
		{optimizer: "sep_cma_es", fitness: 0.5},
	}

	rows := summarize(trials)
	if len(rows) != 3 {
		t.Fatalf("Expected 3 rows, got %d", len(rows))
	}
	if rows[0].Optimizer != "sep_cma_es" || rows[1].Optimizer != "cma_es" || rows[2].Optimizer != "mayfly" {
		t.Errorf("Rows should be ordered by mean: %+v", rows)
	}
	if rows[1].Mean != 2 || rows[1].Best != 1 || rows[1].Runs != 2 {
		t.Errorf("Unexpected cma_es row: %+v", rows[1])
	}
	if rows[1].StdDev <= 0 {
		t.Errorf("Expected positive spread, got %v", rows[1].StdDev)
	}
	if rows[0].StdDev != 0 {
		t.Errorf("Single run should have zero spread, got %v", rows[0].StdDev)
	}
}

func TestNewOptimizer(t *testing.T) {
	for _, name := range []string{"cma_es", "bipop_cma_es", "ars", baselineMayfly, baselineGonum} {
		o, err := newOptimizer(name, 10, 8, 1)
		if err != nil {
			t.Errorf("%s: %v", name, err)
			continue
		}
		if o.Name() != name {
			t.Errorf("Expected name %s, got %s", name, o.Name())
		}
	}

	if _, err := newOptimizer("pso", 10, 8, 1); err == nil {
		t.Error("Expected error for unknown optimizer")
	}
}

func TestFormatBytes(t *testing.T) {
	tests := map[int64]string{
		512:             "512 B",
		2048:            "2.0 KB",
		5 * 1024 * 1024: "5.0 MB",
	}
	for in, want := range tests {
		if got := formatBytes(in); got != want {
			t.Errorf("formatBytes(%d) = %q, want %q", in, got, want)
		}
	}
}

func TestFormatVector(t *testing.T) {
	if got := formatVector([]float64{1, 0.5}); got != "[1 0.5]" {
		t.Errorf("Unexpected format: %q", got)
	}
	long := formatVector(make([]float64, 10))
	if !strings.Contains(long, "(2 more)") {
		t.Errorf("Long vectors should be truncated: %q", long)
	}
}

func TestRunCommand(t *testing.T) {
	dir := t.TempDir()
	tracePath := filepath.Join(dir, "run.jsonl")
	plotPath := filepath.Join(dir, "run.png")

	var out bytes.Buffer
	rootCmd.SetOut(&out)
	rootCmd.SetArgs([]string{
		"run", "--log-level", "error",
		"--strategy", "sep_cma_es", "--problem", "sphere", "--dims", "3",
		"--pop", "8", "--gens", "25", "--seed", "3", "--workers", "2",
		"--trace", tracePath, "--plot", plotPath,
	})
	defer rootCmd.SetArgs(nil)

	if err := rootCmd.Execute(); err != nil {
		t.Fatalf("run failed: %v", err)
	}

	if !strings.Contains(out.String(), "best fitness:") {
		t.Errorf("Missing summary in output:\n%s", out.String())
	}

	entries, err := trace.ReadFile(tracePath)
	if err != nil {
		t.Fatalf("Failed to read trace: %v", err)
	}
	if len(entries) != 25 {
		t.Errorf("Expected 25 trace entries, got %d", len(entries))
	}
	if _, err := os.Stat(plotPath); err != nil {
		t.Errorf("Plot not written: %v", err)
	}
}

func TestCompareCommand(t *testing.T) {
	var out bytes.Buffer
	rootCmd.SetOut(&out)
	rootCmd.SetArgs([]string{
		"compare", "--log-level", "error",
		"--optimizers", "cma_es,mayfly", "--problem", "sphere", "--dims", "2",
		"--gens", "10", "--pop", "6", "--seeds", "2", "--parallel", "2",
	})
	defer rootCmd.SetArgs(nil)

	if err := rootCmd.Execute(); err != nil {
		t.Fatalf("compare failed: %v", err)
	}

	for _, want := range []string{"OPTIMIZER", "cma_es", "mayfly"} {
		if !strings.Contains(out.String(), want) {
			t.Errorf("Output missing %q:\n%s", want, out.String())
		}
	}
}

func execRoot(t *testing.T, args ...string) (string, error) {
	t.Helper()
	var out bytes.Buffer
	rootCmd.SetOut(&out)
	rootCmd.SetArgs(args)
	defer rootCmd.SetArgs(nil)
	err := rootCmd.Execute()
	return out.String(), err
}

func TestClientCommands(t *testing.T) {
	srv := httptest.NewServer(server.NewServer("").Handler())
	defer srv.Close()

	out, err := execRoot(t, "submit", "--server", srv.URL, "--log-level", "error",
		"--strategy", "cma_es", "--problem", "sphere", "--dims", "2",
		"--pop", "6", "--gens", "5", "--seed", "1")
	if err != nil {
		t.Fatalf("submit failed: %v", err)
	}
	jobID := strings.TrimSpace(out)
	if jobID == "" {
		t.Fatal("submit should print the job ID")
	}

	out, err = execRoot(t, "status", "--server", srv.URL)
	if err != nil {
		t.Fatalf("status failed: %v", err)
	}
	if !strings.Contains(out, jobID) || !strings.Contains(out, "cma_es") {
		t.Errorf("Job list should show the submitted job:\n%s", out)
	}

	out, err = execRoot(t, "status", jobID, "--server", srv.URL)
	if err != nil {
		t.Fatalf("status %s failed: %v", jobID, err)
	}
	if !strings.Contains(out, "Job: "+jobID) || !strings.Contains(out, "Problem: sphere (2 dims)") {
		t.Errorf("Unexpected job status output:\n%s", out)
	}

	if _, err := execRoot(t, "cancel", "nonexistent", "--server", srv.URL); err == nil ||
		!strings.Contains(err.Error(), "job not found") {
		t.Errorf("Expected job not found, got %v", err)
	}

	_, err = execRoot(t, "submit", "--server", srv.URL, "--strategy", "no_such_strategy")
	if err == nil {
		t.Error("Expected an error for an unknown strategy")
	}
}

func TestCompareCommandReportsFailedRuns(t *testing.T) {
	_, err := execRoot(t, "compare", "--log-level", "error",
		"--optimizers", "ars", "--problem", "sphere", "--dims", "2",
		"--gens", "5", "--pop", "7", "--seeds", "1")
	if err == nil || !strings.Contains(err.Error(), "ars") {
		t.Errorf("Expected the ars failure to be reported, got %v", err)
	}
}

func TestCompareCommandDefaultOptimizersAtSmallPopulation(t *testing.T) {
	out, err := execRoot(t, "compare", "--log-level", "error",
		"--optimizers", "cma_es,sep_cma_es,ipop_cma_es,mayfly,gonum_cma",
		"--problem", "rastrigin", "--dims", "3", "--gens", "10", "--pop", "16", "--seeds", "1")
	if err != nil {
		t.Fatalf("compare failed: %v", err)
	}
	if !strings.Contains(out, "mayfly") {
		t.Errorf("Output missing mayfly:\n%s", out)
	}
}
