package server

import (
	"encoding/json"
	"fmt"
	"log/slog"
	"net/http"
	"sync"
	"time"

	"github.com/cwbudde/evostrat/internal/trace"
)

// ProgressEvent represents a progress update event
type ProgressEvent struct {
	JobID          string      `json:"jobId"`
	State          JobState    `json:"state"`
	Generations    int         `json:"generations"`
	BestFitness    trace.Float `json:"bestFitness"`
	Sigma          trace.Float `json:"sigma"`
	PopulationSize int         `json:"populationSize"`
	Restarts       int         `json:"restarts"`
	EPS            float64     `json:"eps"` // evaluations per second
	Timestamp      time.Time   `json:"timestamp"`
}

func newProgressEvent(job *Job, elapsed time.Duration) ProgressEvent {
	return ProgressEvent{
		JobID:          job.ID,
		State:          job.State,
		Generations:    job.Generations,
		BestFitness:    job.BestFitness,
		Sigma:          job.Sigma,
		PopulationSize: job.PopulationSize,
		Restarts:       job.Restarts,
		EPS:            evalsPerSecond(job.Evaluations, elapsed),
		Timestamp:      time.Now(),
	}
}

// EventBroadcaster fans progress events out to the SSE clients of each job.
// A topic lives while its job runs or has subscribers; Finish and the last
// Unsubscribe remove it.
type EventBroadcaster struct {
	mu     sync.Mutex
	topics map[string]*topic
}

// topic holds one job's subscribers and its latest event.
type topic struct {
	subs    map[chan ProgressEvent]struct{}
	last    ProgressEvent
	hasLast bool
}

const subscriberBuffer = 10

func NewEventBroadcaster() *EventBroadcaster {
	return &EventBroadcaster{topics: make(map[string]*topic)}
}

func (eb *EventBroadcaster) topicFor(jobID string) *topic {
	t, ok := eb.topics[jobID]
	if !ok {
		t = &topic{subs: make(map[chan ProgressEvent]struct{})}
		eb.topics[jobID] = t
	}
	return t
}

// Subscribe returns a channel of events for jobID, starting with the latest
// event if there is one. Callers must read the job state after subscribing:
// a job that finished earlier sends nothing more.
func (eb *EventBroadcaster) Subscribe(jobID string) chan ProgressEvent {
	eb.mu.Lock()
	defer eb.mu.Unlock()

	t := eb.topicFor(jobID)
	ch := make(chan ProgressEvent, subscriberBuffer)
	if t.hasLast {
		ch <- t.last
	}
	t.subs[ch] = struct{}{}

	slog.Debug("SSE client subscribed", "job_id", jobID, "subscribers", len(t.subs))
	return ch
}

// Unsubscribe detaches ch. It is a no-op for channels Finish already closed.
func (eb *EventBroadcaster) Unsubscribe(jobID string, ch chan ProgressEvent) {
	eb.mu.Lock()
	defer eb.mu.Unlock()

	t, ok := eb.topics[jobID]
	if !ok {
		return
	}
	if _, ok := t.subs[ch]; !ok {
		return
	}
	delete(t.subs, ch)
	close(ch)
	if len(t.subs) == 0 {
		delete(eb.topics, jobID)
	}
	slog.Debug("SSE client unsubscribed", "job_id", jobID)
}

// Broadcast records event as the job's latest and offers it to every
// subscriber. Full subscribers miss the event; the run never blocks on them.
func (eb *EventBroadcaster) Broadcast(event ProgressEvent) {
	eb.mu.Lock()
	defer eb.mu.Unlock()

	t := eb.topicFor(event.JobID)
	t.last, t.hasLast = event, true
	for ch := range t.subs {
		select {
		case ch <- event:
		default:
			slog.Warn("SSE subscriber full, dropping event", "job_id", event.JobID, "generations", event.Generations)
		}
	}
}

// Finish delivers the terminal event, closes all subscriber channels and
// forgets the job.
func (eb *EventBroadcaster) Finish(event ProgressEvent) {
	eb.mu.Lock()
	defer eb.mu.Unlock()

	t, ok := eb.topics[event.JobID]
	if !ok {
		return
	}
	for ch := range t.subs {
		// The terminal event replaces the oldest pending one if needed.
		select {
		case ch <- event:
		default:
			select {
			case <-ch:
			default:
			}
			ch <- event
		}
		close(ch)
	}
	delete(eb.topics, event.JobID)
	slog.Debug("SSE topic finished", "job_id", event.JobID, "state", event.State)
}

// Topics reports how many jobs currently hold broadcaster state.
func (eb *EventBroadcaster) Topics() int {
	eb.mu.Lock()
	defer eb.mu.Unlock()
	return len(eb.topics)
}

// handleJobStream handles SSE connections for job progress. The stream ends
// after the first event with a terminal state.
func (s *Server) handleJobStream(w http.ResponseWriter, r *http.Request, jobID string) {
	flusher, ok := w.(http.Flusher)
	if !ok {
		writeError(w, http.StatusInternalServerError, "streaming unsupported")
		return
	}

	// Subscribe before reading the job so a run finishing in between is
	// seen either as a terminal snapshot or as a closed channel.
	eventChan := s.jobManager.broadcaster.Subscribe(jobID)
	defer s.jobManager.broadcaster.Unsubscribe(jobID, eventChan)

	job, ok := s.lookupJob(w, jobID)
	if !ok {
		return
	}

	w.Header().Set("Content-Type", "text/event-stream")
	w.Header().Set("Cache-Control", "no-cache")
	w.Header().Set("Connection", "keep-alive")

	initial := newProgressEvent(job, 0)
	if err := writeSSEEvent(w, initial); err != nil {
		slog.Error("Failed to write initial SSE event", "error", err)
		return
	}
	flusher.Flush()
	if initial.State.Terminal() {
		return
	}

	pingTicker := time.NewTicker(s.pingInterval)
	defer pingTicker.Stop()

	ctx := r.Context()
	for {
		select {
		case <-ctx.Done():
			slog.Debug("SSE client disconnected", "job_id", jobID)
			return

		case event, ok := <-eventChan:
			if !ok {
				return
			}
			if err := writeSSEEvent(w, event); err != nil {
				slog.Error("Failed to write SSE event", "error", err)
				return
			}
			flusher.Flush()
			if event.State.Terminal() {
				return
			}

		case <-pingTicker.C:
			fmt.Fprintf(w, ": ping\n\n")
			flusher.Flush()
		}
	}
}

// writeSSEEvent writes an event in SSE format
func writeSSEEvent(w http.ResponseWriter, event ProgressEvent) error {
	data, err := json.Marshal(event)
	if err != nil {
		return fmt.Errorf("failed to marshal event: %w", err)
	}

	_, err = fmt.Fprintf(w, "data: %s\n\n", data)
	return err
}
