package server

import (
	"context"
	"math"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/cwbudde/evostrat/internal/config"
	"github.com/cwbudde/evostrat/internal/es"
	"github.com/cwbudde/evostrat/internal/problems"
	"github.com/cwbudde/evostrat/internal/trace"
)

// JobState represents the current state of a job
type JobState string

const (
	StatePending   JobState = "pending"
	StateRunning   JobState = "running"
	StateCompleted JobState = "completed"
	StateFailed    JobState = "failed"
	StateCancelled JobState = "cancelled"
)

// Terminal reports whether the job has stopped for good.
func (s JobState) Terminal() bool {
	return s == StateCompleted || s == StateFailed || s == StateCancelled
}

// JobConfig describes a strategy run submitted over the API.
type JobConfig struct {
	Strategy       string         `json:"strategy"`
	PopulationSize int            `json:"populationSize"`
	Problem        string         `json:"problem"`
	Dims           int            `json:"dims"`
	Shift          float64        `json:"shift,omitempty"`
	Generations    int            `json:"generations"`
	Seed           int64          `json:"seed"`
	Hyperparams    es.Hyperparams `json:"hyperparams,omitempty"`
	Shaping        es.Shaper      `json:"shaping"`
}

// withDefaults fills zero fields from config.Default.
func (c JobConfig) withDefaults() JobConfig {
	d := config.Default()
	if c.Strategy == "" {
		c.Strategy = d.Strategy
	}
	if c.PopulationSize <= 0 {
		c.PopulationSize = d.PopulationSize
	}
	if c.Problem == "" {
		c.Problem = d.Problem
	}
	if c.Dims <= 0 {
		c.Dims = d.Dims
	}
	if c.Generations <= 0 {
		c.Generations = d.Generations
	}
	return c
}

func (c JobConfig) runConfig() *config.RunConfig {
	rc := config.Default()
	rc.Strategy = c.Strategy
	rc.PopulationSize = c.PopulationSize
	rc.Problem = c.Problem
	rc.Dims = c.Dims
	rc.Shift = c.Shift
	rc.Generations = c.Generations
	rc.Seed = c.Seed
	rc.Hyperparams = c.Hyperparams
	rc.Shaping = c.Shaping
	return rc
}

// build validates the configuration and constructs the runner and problem.
func (c JobConfig) build() (es.Runner, problems.Problem, error) {
	rc := c.runConfig()
	if err := rc.Validate(); err != nil {
		return nil, nil, err
	}
	p, err := rc.BuildProblem()
	if err != nil {
		return nil, nil, err
	}
	runner, err := es.New(rc.Strategy, rc.PopulationSize, make([]float64, rc.Dims), rc.Options(p)...)
	if err != nil {
		return nil, nil, err
	}
	return runner, p, nil
}

// Job represents a strategy run
type Job struct {
	ID             string        `json:"id"`
	State          JobState      `json:"state"`
	Config         JobConfig     `json:"config"`
	BestSolution   []float64     `json:"bestSolution,omitempty"`
	BestFitness    trace.Float   `json:"bestFitness"`
	Generations    int           `json:"generations"`
	Evaluations    int           `json:"evaluations"`
	Sigma          trace.Float   `json:"sigma"`
	PopulationSize int           `json:"populationSize"`
	Restarts       int           `json:"restarts"`
	StartTime      time.Time     `json:"startTime"`
	EndTime        *time.Time    `json:"endTime,omitempty"`
	Error          string        `json:"error,omitempty"`
	Trace          []trace.Entry `json:"-"`
}

// ErrJobNotFound matches any *NotFoundError.
var ErrJobNotFound = &NotFoundError{}

// NotFoundError reports an unknown job ID.
type NotFoundError struct {
	JobID string
}

func (e *NotFoundError) Error() string {
	if e.JobID != "" {
		return "job not found: " + e.JobID
	}
	return "job not found"
}

func (e *NotFoundError) Is(target error) bool {
	_, ok := target.(*NotFoundError)
	return ok
}

// JobManager manages the lifecycle of jobs
type JobManager struct {
	mu          sync.RWMutex
	jobs        map[string]*Job
	cancels     map[string]context.CancelFunc
	broadcaster *EventBroadcaster
}

// NewJobManager creates a new JobManager
func NewJobManager() *JobManager {
	return &JobManager{
		jobs:        make(map[string]*Job),
		cancels:     make(map[string]context.CancelFunc),
		broadcaster: NewEventBroadcaster(),
	}
}

// CreateJob creates a new pending job with the given configuration
func (jm *JobManager) CreateJob(config JobConfig) *Job {
	jm.mu.Lock()
	defer jm.mu.Unlock()

	job := &Job{
		ID:          uuid.New().String(),
		State:       StatePending,
		Config:      config,
		BestFitness: trace.Float(math.Inf(1)),
		StartTime:   time.Now(),
	}

	jm.jobs[job.ID] = job
	return job.snapshot()
}

// StartJob runs the job in the background until it finishes or CancelJob
// is called.
func (jm *JobManager) StartJob(parent context.Context, id string) error {
	ctx, cancel := context.WithCancel(parent)

	jm.mu.Lock()
	if _, ok := jm.jobs[id]; !ok {
		jm.mu.Unlock()
		cancel()
		return &NotFoundError{JobID: id}
	}
	jm.cancels[id] = cancel
	jm.mu.Unlock()

	go func() {
		defer jm.release(id)
		runJob(ctx, jm, id)
	}()
	return nil
}

// CancelJob stops a running job. Cancelling a finished job is a no-op.
func (jm *JobManager) CancelJob(id string) error {
	jm.mu.Lock()
	defer jm.mu.Unlock()

	if _, ok := jm.jobs[id]; !ok {
		return &NotFoundError{JobID: id}
	}
	if cancel, ok := jm.cancels[id]; ok {
		cancel()
	}
	return nil
}

func (jm *JobManager) release(id string) {
	jm.mu.Lock()
	defer jm.mu.Unlock()

	if cancel, ok := jm.cancels[id]; ok {
		cancel()
		delete(jm.cancels, id)
	}
}

// GetJob retrieves a copy of a job by ID
func (jm *JobManager) GetJob(id string) (*Job, bool) {
	jm.mu.RLock()
	defer jm.mu.RUnlock()

	job, exists := jm.jobs[id]
	if !exists {
		return nil, false
	}
	return job.snapshot(), true
}

// ListJobs returns copies of all jobs, oldest first
func (jm *JobManager) ListJobs() []*Job {
	jm.mu.RLock()
	defer jm.mu.RUnlock()

	jobs := make([]*Job, 0, len(jm.jobs))
	for _, job := range jm.jobs {
		jobs = append(jobs, job.snapshot())
	}
	sort.Slice(jobs, func(i, j int) bool { return jobs[i].StartTime.Before(jobs[j].StartTime) })
	return jobs
}

// UpdateJob atomically updates a job using the provided function
func (jm *JobManager) UpdateJob(id string, updateFn func(*Job)) error {
	jm.mu.Lock()
	defer jm.mu.Unlock()

	job, exists := jm.jobs[id]
	if !exists {
		return &NotFoundError{JobID: id}
	}

	updateFn(job)
	return nil
}

// GetRunningJobs returns all jobs currently in the running state
func (jm *JobManager) GetRunningJobs() []*Job {
	jm.mu.RLock()
	defer jm.mu.RUnlock()

	runningJobs := make([]*Job, 0)
	for _, job := range jm.jobs {
		if job.State == StateRunning {
			runningJobs = append(runningJobs, job.snapshot())
		}
	}
	return runningJobs
}

// snapshot copies the job. The trace is append-only, so sharing its
// backing array up to the current length is safe.
func (j *Job) snapshot() *Job {
	c := *j
	c.BestSolution = append([]float64(nil), j.BestSolution...)
	c.Trace = j.Trace[:len(j.Trace):len(j.Trace)]
	if j.EndTime != nil {
		end := *j.EndTime
		c.EndTime = &end
	}
	return &c
}
