package server

import (
	"context"
	"errors"
	"math"
	"sync"
	"testing"
	"time"

	"github.com/cwbudde/evostrat/internal/trace"
)

func TestJobManager_CreateJob(t *testing.T) {
	jm := NewJobManager()

	config := JobConfig{
		Strategy:       "cma_es",
		PopulationSize: 8,
		Problem:        "sphere",
		Dims:           4,
		Generations:    20,
		Seed:           42,
	}

	job := jm.CreateJob(config)

	if job.ID == "" {
		t.Error("Job ID should not be empty")
	}

	if job.State != StatePending {
		t.Errorf("Initial state should be pending, got %s", job.State)
	}

	if job.Config.Strategy != "cma_es" {
		t.Errorf("Config not set correctly")
	}

	if !math.IsInf(float64(job.BestFitness), 1) {
		t.Errorf("Best fitness should start at +Inf, got %v", job.BestFitness)
	}
}

func TestJobManager_GetJob(t *testing.T) {
	jm := NewJobManager()

	job := jm.CreateJob(JobConfig{Strategy: "cma_es"})

	retrieved, exists := jm.GetJob(job.ID)
	if !exists {
		t.Fatal("Job should exist")
	}

	if retrieved.ID != job.ID {
		t.Error("Retrieved wrong job")
	}

	_, exists = jm.GetJob("nonexistent")
	if exists {
		t.Error("Should not find nonexistent job")
	}
}

func TestJobManager_GetJobReturnsCopy(t *testing.T) {
	jm := NewJobManager()
	job := jm.CreateJob(JobConfig{Strategy: "cma_es"})
	jm.UpdateJob(job.ID, func(j *Job) {
		j.BestSolution = []float64{1, 2}
	})

	got, _ := jm.GetJob(job.ID)
	got.BestSolution[0] = 99
	got.State = StateFailed

	again, _ := jm.GetJob(job.ID)
	if again.BestSolution[0] != 1 || again.State != StatePending {
		t.Error("Mutating a returned job must not touch the stored one")
	}
}

func TestJobManager_ListJobs(t *testing.T) {
	jm := NewJobManager()

	if len(jm.ListJobs()) != 0 {
		t.Error("Should start with no jobs")
	}

	first := jm.CreateJob(JobConfig{Strategy: "cma_es"})
	time.Sleep(time.Millisecond)
	jm.CreateJob(JobConfig{Strategy: "sep_cma_es"})

	jobs := jm.ListJobs()
	if len(jobs) != 2 {
		t.Fatalf("Expected 2 jobs, got %d", len(jobs))
	}
	if jobs[0].ID != first.ID {
		t.Error("Jobs should be listed oldest first")
	}
}

func TestJobManager_UpdateJob(t *testing.T) {
	jm := NewJobManager()

	job := jm.CreateJob(JobConfig{Strategy: "cma_es"})

	err := jm.UpdateJob(job.ID, func(j *Job) {
		j.State = StateRunning
		j.Generations = 10
		j.BestFitness = 123.45
	})

	if err != nil {
		t.Errorf("Update should succeed: %v", err)
	}

	updated, _ := jm.GetJob(job.ID)
	if updated.State != StateRunning {
		t.Error("State should be updated")
	}
	if updated.Generations != 10 {
		t.Error("Generations should be updated")
	}
	if updated.BestFitness != trace.Float(123.45) {
		t.Error("BestFitness should be updated")
	}

	err = jm.UpdateJob("nonexistent", func(j *Job) {})
	if !errors.Is(err, ErrJobNotFound) {
		t.Errorf("Update of nonexistent job should fail with not found, got %v", err)
	}
}

func TestJobManager_ThreadSafety(t *testing.T) {
	jm := NewJobManager()

	job := jm.CreateJob(JobConfig{Strategy: "cma_es"})

	var wg sync.WaitGroup
	for i := 0; i < 10; i++ {
		wg.Add(1)
		go func(generation int) {
			defer wg.Done()
			jm.UpdateJob(job.ID, func(j *Job) {
				j.Generations = generation
				j.Trace = append(j.Trace, trace.Entry{Generation: generation})
			})
			jm.GetJob(job.ID)
		}(i)
	}
	wg.Wait()

	got, exists := jm.GetJob(job.ID)
	if !exists {
		t.Fatal("Job should still exist after concurrent updates")
	}
	if len(got.Trace) != 10 {
		t.Errorf("Expected 10 trace entries, got %d", len(got.Trace))
	}
}

func TestJobManager_CancelUnknownJob(t *testing.T) {
	jm := NewJobManager()

	if err := jm.CancelJob("nonexistent"); !errors.Is(err, ErrJobNotFound) {
		t.Errorf("Expected not found, got %v", err)
	}
	if err := jm.StartJob(context.Background(), "nonexistent"); !errors.Is(err, ErrJobNotFound) {
		t.Errorf("Expected not found, got %v", err)
	}
}

func TestJobState_Terminal(t *testing.T) {
	tests := map[JobState]bool{
		StatePending:   false,
		StateRunning:   false,
		StateCompleted: true,
		StateFailed:    true,
		StateCancelled: true,
	}
	for state, want := range tests {
		if got := state.Terminal(); got != want {
			t.Errorf("%s.Terminal() = %v, want %v", state, got, want)
		}
	}
}

func TestJobConfig_WithDefaults(t *testing.T) {
	c := JobConfig{Dims: 3}.withDefaults()

	if c.Strategy != "cma_es" || c.Problem != "sphere" {
		t.Errorf("Unexpected defaults: %+v", c)
	}
	if c.Dims != 3 {
		t.Errorf("Explicit dims should be kept, got %d", c.Dims)
	}
	if c.PopulationSize <= 0 || c.Generations <= 0 {
		t.Errorf("Sizes should be defaulted: %+v", c)
	}
}
