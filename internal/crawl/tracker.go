package crawl

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/quarrydocs/quarry/pkg/models"
)

// Tracker holds the in-memory state of crawl jobs. State transitions are
// monotonic: a terminal job never changes state again, and a cancel
// request on a terminal job is a no-op.
type Tracker struct {
	mu   sync.Mutex
	jobs map[string]*trackedJob
}

type trackedJob struct {
	job    models.CrawlJob
	cancel context.CancelFunc // set while running
}

// NewTracker creates an empty tracker.
func NewTracker() *Tracker {
	return &Tracker{jobs: make(map[string]*trackedJob)}
}

// Submit registers a new queued job and returns it.
func (t *Tracker) Submit(sourceID string, urls []string) models.CrawlJob {
	job := models.CrawlJob{
		ID:          uuid.NewString(),
		SourceID:    sourceID,
		URLs:        urls,
		State:       models.JobQueued,
		SubmittedAt: time.Now().UTC(),
	}

	t.mu.Lock()
	t.jobs[job.ID] = &trackedJob{job: job}
	t.mu.Unlock()
	return job
}

// Start transitions a queued job to running and registers its cancel
// function. Starting a job in any other state is an error.
func (t *Tracker) Start(id string, cancel context.CancelFunc) (models.CrawlJob, error) {
	t.mu.Lock()
	defer t.mu.Unlock()

	tj, ok := t.jobs[id]
	if !ok {
		return models.CrawlJob{}, fmt.Errorf("unknown job %s", id)
	}
	if tj.job.State != models.JobQueued {
		return models.CrawlJob{}, fmt.Errorf("job %s is %s, not queued", id, tj.job.State)
	}
	tj.job.State = models.JobRunning
	tj.job.StartedAt = time.Now().UTC()
	tj.cancel = cancel
	return tj.job, nil
}

// Finish moves a running job into a terminal state. Finishing an
// already-terminal job is a no-op, so a cancel that raced job completion
// does not overwrite the completed state.
func (t *Tracker) Finish(id string, state models.JobState) (models.CrawlJob, error) {
	if !state.Terminal() {
		return models.CrawlJob{}, fmt.Errorf("%s is not a terminal state", state)
	}

	t.mu.Lock()
	defer t.mu.Unlock()

	tj, ok := t.jobs[id]
	if !ok {
		return models.CrawlJob{}, fmt.Errorf("unknown job %s", id)
	}
	if tj.job.State.Terminal() {
		return tj.job, nil
	}
	tj.job.State = state
	tj.job.FinishedAt = time.Now().UTC()
	tj.cancel = nil
	return tj.job, nil
}

// Cancel requests cancellation. A queued job is cancelled immediately;
// a running job has its context cancelled and reaches the cancelled state
// when the orchestrator observes it. Returns false for unknown or
// already-terminal jobs.
func (t *Tracker) Cancel(id string) bool {
	t.mu.Lock()
	defer t.mu.Unlock()

	tj, ok := t.jobs[id]
	if !ok || tj.job.State.Terminal() {
		return false
	}
	if tj.job.State == models.JobQueued {
		tj.job.State = models.JobCancelled
		tj.job.FinishedAt = time.Now().UTC()
		return true
	}
	if tj.cancel != nil {
		tj.cancel()
	}
	return true
}

// RecordOutcome appends a per-URL outcome to a job.
func (t *Tracker) RecordOutcome(id string, outcome models.PageOutcome) {
	t.mu.Lock()
	defer t.mu.Unlock()

	if tj, ok := t.jobs[id]; ok {
		tj.job.Outcomes = append(tj.job.Outcomes, outcome)
	}
}

// Get returns a copy of the job's current state.
func (t *Tracker) Get(id string) (models.CrawlJob, bool) {
	t.mu.Lock()
	defer t.mu.Unlock()

	tj, ok := t.jobs[id]
	if !ok {
		return models.CrawlJob{}, false
	}
	return tj.job, true
}
