package models

import "time"

// Job represents a unit of work in the job queue, independent of which
// backend (in-database or external KV store) is currently enqueuing it.
type Job struct {
	ID          string    `json:"id"`
	Queue       string    `json:"queue"`
	Payload     Value     `json:"payload"`
	Priority    int       `json:"priority"`
	Status      string    `json:"status"` // "pending", "running", "completed", "failed", "cancelled"
	DedupeKey   string    `json:"dedupe_key,omitempty"`
	RunAt       time.Time `json:"run_at"`
	CreatedAt   time.Time `json:"created_at"`
	StartedAt   time.Time `json:"started_at"`
	CompletedAt time.Time `json:"completed_at"`
	Error       string    `json:"error,omitempty"`
	Attempts    int       `json:"attempts"`
	MaxAttempts int       `json:"max_attempts"`
	DurationMS  int64     `json:"duration_ms"`
}

// Job status constants.
const (
	JobStatusPending   = "pending"
	JobStatusRunning   = "running"
	JobStatusCompleted = "completed"
	JobStatusFailed    = "failed"
	JobStatusCancelled = "cancelled"
)

// DefaultMaxAttempts is used when a job is enqueued without an explicit
// MaxAttempts value.
const DefaultMaxAttempts = 3

// DefaultPriority is used when a job is enqueued without an explicit
// priority; lower values are processed sooner.
const DefaultPriority = 0

// JobEvent is broadcast by a queue backend's Worker whenever a job's
// lifecycle state changes.
type JobEvent struct {
	Type      string    `json:"type"` // "job_queued", "job_started", "job_completed", "job_failed"
	Job       *Job      `json:"job"`
	Timestamp time.Time `json:"timestamp"`
	QueueSize int       `json:"queue_size"`
}
