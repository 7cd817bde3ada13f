package server

import (
	"context"
	"errors"
	"testing"

	"github.com/cwbudde/evostrat/internal/es"
)

func smallJob() JobConfig {
	return JobConfig{
		Strategy:       "cma_es",
		PopulationSize: 8,
		Problem:        "sphere",
		Dims:           3,
		Generations:    30,
		Seed:           42,
	}
}

func TestRunJob_Success(t *testing.T) {
	jm := NewJobManager()
	job := jm.CreateJob(smallJob())

	if err := runJob(context.Background(), jm, job.ID); err != nil {
		t.Fatalf("runJob should succeed: %v", err)
	}

	updated, _ := jm.GetJob(job.ID)
	if updated.State != StateCompleted {
		t.Errorf("Job should be completed, got %s", updated.State)
	}
	if updated.Generations != 30 {
		t.Errorf("Expected 30 generations, got %d", updated.Generations)
	}
	if len(updated.Trace) != 30 {
		t.Errorf("Expected 30 trace entries, got %d", len(updated.Trace))
	}
	if len(updated.BestSolution) != 3 {
		t.Errorf("Expected 3 dims in best solution, got %d", len(updated.BestSolution))
	}
	if updated.Evaluations != 30*8 {
		t.Errorf("Expected %d evaluations, got %d", 30*8, updated.Evaluations)
	}
	if updated.EndTime == nil {
		t.Error("EndTime should be set")
	}

	first, last := updated.Trace[0].BestFitness, updated.Trace[len(updated.Trace)-1].BestFitness
	if last > first {
		t.Errorf("Best fitness regressed: %v -> %v", first, last)
	}
	if updated.BestFitness != last {
		t.Errorf("Job best %v should match last trace entry %v", updated.BestFitness, last)
	}
}

func TestRunJob_Deterministic(t *testing.T) {
	jm := NewJobManager()
	a := jm.CreateJob(smallJob())
	b := jm.CreateJob(smallJob())

	runJob(context.Background(), jm, a.ID)
	runJob(context.Background(), jm, b.ID)

	ja, _ := jm.GetJob(a.ID)
	jb, _ := jm.GetJob(b.ID)
	if ja.BestFitness != jb.BestFitness {
		t.Errorf("Same seed should give same result: %v vs %v", ja.BestFitness, jb.BestFitness)
	}
}

func TestRunJob_InvalidConfig(t *testing.T) {
	jm := NewJobManager()
	config := smallJob()
	config.Strategy = "ars"
	config.PopulationSize = 7 // antithetic sampling needs an even population

	job := jm.CreateJob(config)
	err := runJob(context.Background(), jm, job.ID)

	if !errors.Is(err, es.ErrConfiguration) {
		t.Errorf("Expected configuration error, got %v", err)
	}

	updated, _ := jm.GetJob(job.ID)
	if updated.State != StateFailed {
		t.Errorf("Job should be failed, got %s", updated.State)
	}
	if updated.Error == "" {
		t.Error("Error message should be set")
	}
}

func TestRunJob_Cancellation(t *testing.T) {
	jm := NewJobManager()
	job := jm.CreateJob(smallJob())

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	err := runJob(ctx, jm, job.ID)
	if !errors.Is(err, context.Canceled) {
		t.Errorf("runJob should return context.Canceled, got %v", err)
	}

	updated, _ := jm.GetJob(job.ID)
	if updated.State != StateCancelled {
		t.Errorf("Job should be cancelled, got %s", updated.State)
	}
	if len(updated.Trace) != 0 {
		t.Errorf("No generation should have run, got %d", len(updated.Trace))
	}
}

func TestRunJob_NotFound(t *testing.T) {
	jm := NewJobManager()
	if err := runJob(context.Background(), jm, "nonexistent"); !errors.Is(err, ErrJobNotFound) {
		t.Errorf("Expected not found, got %v", err)
	}
}

func TestRunJob_BroadcastsFinalEvent(t *testing.T) {
	jm := NewJobManager()
	job := jm.CreateJob(smallJob())

	ch := jm.broadcaster.Subscribe(job.ID)
	defer jm.broadcaster.Unsubscribe(job.ID, ch)

	if err := runJob(context.Background(), jm, job.ID); err != nil {
		t.Fatalf("runJob should succeed: %v", err)
	}

	// Finish closes the channel after the terminal event.
	var last ProgressEvent
	for ev := range ch {
		last = ev
	}
	if last.State != StateCompleted {
		t.Errorf("Last event should be completed, got %s", last.State)
	}
	if last.Generations != 30 {
		t.Errorf("Last event should report 30 generations, got %d", last.Generations)
	}
}
