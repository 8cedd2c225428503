// Package queue defines the job abstraction shared by the two
// interchangeable queue backends (in-database polling and external
// key-value store), plus the supervisor that owns their lifecycle.
package queue

import (
	"context"
	"time"

	"github.com/bobmcallan/logsentry/internal/models"
)

// ProcessFunc executes one job. Returning an error marks the job failed
// for this attempt; the backend decides whether to retry.
type ProcessFunc func(ctx context.Context, job *models.Job) error

// AddOptions configures one Queue.Add call.
type AddOptions struct {
	Delay       time.Duration
	MaxAttempts int    // default DefaultMaxAttempts
	Priority    int    // lower = sooner on the in-db backend; the kv-store backend stores it but delivers in stream order
	DedupeKey   string // optional; at most one live job with this key (the in-db backend counts only pending jobs as live)
}

// Queue adds jobs to a named queue.
type Queue interface {
	// Add enqueues payload on this queue, returning the persisted Job
	// (with ID, status, and timestamps assigned). If opts.DedupeKey is set
	// and a live job with that key already exists, Add creates no job and
	// returns a nil Job with a nil error.
	Add(ctx context.Context, payload models.Value, opts AddOptions) (*models.Job, error)

	// Status reports the queue's current counts.
	Status(ctx context.Context) (Counts, error)

	// Close releases any resources the queue holds.
	Close() error
}

// Counts is the status shape both backends must surface.
type Counts struct {
	Waiting   int
	Active    int
	Completed int // always 0 for the in-DB backend; rows are deleted on completion
	Failed    int
}

// Worker drains a named queue with a single registered processor. At most
// one processor is associated with a Worker; repeated calls to bind a new
// processor are ignored, matching the supervisor's cached-instance
// contract.
type Worker interface {
	// Start runs the worker's poll/consume loop, blocking until ctx is
	// canceled or Close is called; the supervisor runs it in its own
	// goroutine. Idempotent: a second call while already running returns
	// nil at once.
	Start(ctx context.Context) error

	// OnCompleted, OnFailed, and OnError register the worker's three
	// observable callback slots, replacing the event-emitter pattern with
	// explicit slots.
	OnCompleted(fn func(job *models.Job))
	OnFailed(fn func(job *models.Job, err error))
	OnError(fn func(err error))

	// Close stops the worker's loop and releases its resources.
	Close() error
}

// Backend is the capability set a concrete queue substrate must provide.
// The supervisor is the sole caller.
type Backend interface {
	NewQueue(name string) Queue
	NewWorker(name string, process ProcessFunc) Worker
	Close() error
}
