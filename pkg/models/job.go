package models

import "time"

// JobState is the lifecycle state of a crawl job.
// Transitions are monotonic: Queued -> Running -> {Completed, Failed,
// Cancelled}. A terminal job is never resurrected.
type JobState string

const (
	JobQueued    JobState = "queued"
	JobRunning   JobState = "running"
	JobCompleted JobState = "completed"
	JobFailed    JobState = "failed"
	JobCancelled JobState = "cancelled"
)

// Terminal reports whether the state admits no further transitions.
func (s JobState) Terminal() bool {
	return s == JobCompleted || s == JobFailed || s == JobCancelled
}

// CrawlPhase names the stage a job is currently working through.
type CrawlPhase string

const (
	PhaseFetching   CrawlPhase = "fetching"
	PhaseExtracting CrawlPhase = "extracting"
	PhaseChunking   CrawlPhase = "chunking"
	PhaseEmbedding  CrawlPhase = "embedding"
)

// PageOutcome records the result of processing a single URL within a job.
type PageOutcome struct {
	URL        string `json:"url"`
	Success    bool   `json:"success"`
	DocumentID string `json:"document_id,omitempty"`
	Chunks     int    `json:"chunks,omitempty"`
	Error      string `json:"error,omitempty"`
}

// CrawlJob is one orchestrated crawl run.
type CrawlJob struct {
	ID          string        `json:"id"`
	SourceID    string        `json:"source_id"`
	URLs        []string      `json:"urls"`
	State       JobState      `json:"state"`
	Outcomes    []PageOutcome `json:"outcomes,omitempty"`
	SubmittedAt time.Time     `json:"submitted_at"`
	StartedAt   time.Time     `json:"started_at,omitzero"`
	FinishedAt  time.Time     `json:"finished_at,omitzero"`
}

// ProgressEvent is emitted by the orchestrator while a job runs. No
// transport is prescribed; the consumer decides how to surface it.
type ProgressEvent struct {
	JobID       string     `json:"job_id"`
	Phase       CrawlPhase `json:"phase"`
	Processed   int        `json:"processed"`
	Total       int        `json:"total"`
	ErrorsSoFar int        `json:"errors_so_far"`
}
