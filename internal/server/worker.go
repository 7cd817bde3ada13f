package server

import (
	"context"
	"errors"
	"log/slog"
	"time"

	"github.com/cwbudde/evostrat/internal/es"
	"github.com/cwbudde/evostrat/internal/opt"
	"github.com/cwbudde/evostrat/internal/problems"
	"github.com/cwbudde/evostrat/internal/trace"
)

// broadcastInterval throttles per-generation progress events.
const broadcastInterval = 500 * time.Millisecond

// runJob executes a strategy job. Every generation is appended to the job's
// trace; progress events go out at most every broadcastInterval, plus one
// final event with the terminal state.
func runJob(ctx context.Context, jm *JobManager, jobID string) error {
	job, exists := jm.GetJob(jobID)
	if !exists {
		return &NotFoundError{JobID: jobID}
	}

	err := jm.UpdateJob(jobID, func(j *Job) {
		j.State = StateRunning
	})
	if err != nil {
		return err
	}

	slog.Info("Starting job",
		"job_id", jobID,
		"strategy", job.Config.Strategy,
		"problem", job.Config.Problem,
		"dims", job.Config.Dims,
	)

	runner, p, err := job.Config.build()
	if err != nil {
		markJobFailed(jm, jobID, err)
		return err
	}

	start := time.Now()
	lastBroadcast := start
	evaluations := 0
	status, err := opt.Drive(ctx, runner, problems.NewBatchEvaluator(p), es.NewKey(job.Config.Seed), job.Config.Generations, func(g opt.Generation) bool {
		evaluations += g.PopulationSize
		entry := trace.FromGeneration(g)
		jm.UpdateJob(jobID, func(j *Job) {
			j.Trace = append(j.Trace, entry)
			j.Generations = g.Index
			j.Evaluations = evaluations
			j.BestFitness = trace.Float(g.BestFitness)
			j.Sigma = trace.Float(g.Sigma)
			j.PopulationSize = g.PopulationSize
			j.Restarts = g.Restarts
		})
		if time.Since(lastBroadcast) >= broadcastInterval {
			lastBroadcast = time.Now()
			broadcastProgress(jm, jobID, start)
		}
		return true
	})
	if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
		markJobCancelled(jm, jobID, start)
		return err
	}
	if err != nil {
		markJobFailed(jm, jobID, err)
		return err
	}

	endTime := time.Now()
	err = jm.UpdateJob(jobID, func(j *Job) {
		j.State = StateCompleted
		j.BestSolution = status.BestSolution
		j.BestFitness = trace.Float(status.BestFitness)
		j.Generations = status.Generation
		j.EndTime = &endTime
	})
	if err != nil {
		return err
	}

	elapsed := endTime.Sub(start)
	slog.Info("Job completed",
		"job_id", jobID,
		"elapsed", elapsed,
		"generations", status.Generation,
		"best_fitness", status.BestFitness,
		"restarts", runner.Restarts(),
		"evals_per_second", evalsPerSecond(evaluations, elapsed),
	)

	finishProgress(jm, jobID, start)
	return nil
}

// broadcastProgress publishes the job's current state.
func broadcastProgress(jm *JobManager, jobID string, start time.Time) {
	job, exists := jm.GetJob(jobID)
	if !exists {
		return
	}
	jm.broadcaster.Broadcast(newProgressEvent(job, time.Since(start)))
}

// finishProgress publishes the terminal state and ends the job's streams.
func finishProgress(jm *JobManager, jobID string, start time.Time) {
	job, exists := jm.GetJob(jobID)
	if !exists {
		return
	}
	jm.broadcaster.Finish(newProgressEvent(job, time.Since(start)))
}

func evalsPerSecond(evaluations int, elapsed time.Duration) float64 {
	if elapsed <= 0 {
		return 0
	}
	return float64(evaluations) / elapsed.Seconds()
}

// markJobFailed marks a job as failed with an error message
func markJobFailed(jm *JobManager, jobID string, err error) {
	endTime := time.Now()
	jm.UpdateJob(jobID, func(j *Job) {
		j.State = StateFailed
		j.Error = err.Error()
		j.EndTime = &endTime
	})
	slog.Error("Job failed", "job_id", jobID, "error", err)
	finishProgress(jm, jobID, endTime)
}

// markJobCancelled marks a job as cancelled
func markJobCancelled(jm *JobManager, jobID string, start time.Time) {
	endTime := time.Now()
	jm.UpdateJob(jobID, func(j *Job) {
		j.State = StateCancelled
		j.EndTime = &endTime
	})
	slog.Info("Job cancelled", "job_id", jobID)
	finishProgress(jm, jobID, start)
}
