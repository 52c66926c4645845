package orchestrator

import "time"

// JobStatus tracks execution state of a submitted run.
type JobStatus string

const (
	JobPending   JobStatus = "pending"
	JobRunning   JobStatus = "running"
	JobDone      JobStatus = "done"
	JobFailed    JobStatus = "failed"
	JobCancelled JobStatus = "cancelled"
)

// Job is one submitted model run. Its ID is the run id, so the same
// parameters and seed always map to the same job.
type Job struct {
	ID          string     `json:"id"`
	ParamsHash  string     `json:"params_hash"`
	Seed        uint64     `json:"seed"`
	Status      JobStatus  `json:"status"`
	Error       string     `json:"error,omitempty"`
	Digest      string     `json:"digest,omitempty"`
	SinkErrors  []string   `json:"sink_errors,omitempty"`
	CreatedAt   time.Time  `json:"created_at"`
	StartedAt   *time.Time `json:"started_at,omitempty"`
	CompletedAt *time.Time `json:"completed_at,omitempty"`
}

// EventType names a run lifecycle event.
type EventType string

const (
	EventStarted   EventType = "started"
	EventCompleted EventType = "completed"
	EventFailed    EventType = "failed"
)

// RunEvent is published on the event bus for every lifecycle change.
type RunEvent struct {
	RunID     string    `json:"run_id"`
	Type      EventType `json:"type"`
	Seed      uint64    `json:"seed"`
	Digest    string    `json:"digest,omitempty"`
	Epochs    int       `json:"epochs,omitempty"`
	Error     string    `json:"error,omitempty"`
	Timestamp time.Time `json:"timestamp"`
}
