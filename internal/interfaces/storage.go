// Package interfaces defines service contracts for logsentry
package interfaces

import (
	"context"
	"time"

	"github.com/bobmcallan/logsentry/internal/models"
)

// StorageManager coordinates the primary store's sub-stores and owns its
// lifecycle (connect, migrate, close).
type StorageManager interface {
	LogStore() LogStore
	ActivationStore() ActivationStore
	DetectionStore() DetectionStore
	IncidentStore() IncidentStore

	// DB exposes the underlying *sql.DB for components (the job queue
	// backend, the notification publisher/listener) that need to issue
	// raw SQL against the same connection pool.
	DB() any

	// Migrate runs all forward-only schema migrations.
	Migrate(ctx context.Context) error

	Close() error
}

// LogStore persists LogRecords. The ingestion writer is the sole creator
// of rows; all other components only read.
type LogStore interface {
	// InsertBatch atomically persists logs for one (tenant, project) and
	// returns them with IDs assigned, in input order.
	InsertBatch(ctx context.Context, tenant, project string, logs []models.LogInput) ([]models.LogRecord, error)

	// GetByIDs loads logs by id, scoped to tenant/project, in no
	// particular order; callers that need input order must re-sort.
	GetByIDs(ctx context.Context, tenant, project string, ids []string) ([]models.LogRecord, error)

	// ListByProject paginates logs for a project ordered by timestamp,
	// most recent first, using the last-seen id as a cursor.
	ListByProject(ctx context.Context, tenant, project string, limit int, beforeID string) ([]models.LogRecord, error)
}

// ActivationStore persists PackActivations. Mutated only by tenant-facing
// admin calls outside this core; read by the rule evaluator.
type ActivationStore interface {
	Get(ctx context.Context, tenant, packID string) (*models.PackActivation, error)
	ListForTenant(ctx context.Context, tenant string) ([]models.PackActivation, error)
	Upsert(ctx context.Context, activation *models.PackActivation) error
	Delete(ctx context.Context, tenant, packID string) error
}

// DetectionStore persists DetectionEvents. Append-only; the rule
// evaluator is the sole creator.
type DetectionStore interface {
	Insert(ctx context.Context, event *models.DetectionEvent) error
	ListForIncident(ctx context.Context, tenant, ruleFamily string, since time.Time) ([]models.DetectionEvent, error)
}

// IncidentStore persists Incidents. Mutated only by the incident
// correlator.
type IncidentStore interface {
	// FindOpenByKey returns the open (non-terminal) incident matching
	// (tenant, project, ruleFamily), or nil if none exists.
	FindOpenByKey(ctx context.Context, tenant, project, ruleFamily string) (*models.Incident, error)
	Create(ctx context.Context, incident *models.Incident) error
	Update(ctx context.Context, incident *models.Incident) error
	Get(ctx context.Context, id string) (*models.Incident, error)
}

// JobQueueStore is the in-database queue backend's storage contract: a
// dedicated schema holding a jobs table, queried with
// SELECT ... FOR UPDATE SKIP LOCKED.
type JobQueueStore interface {
	Enqueue(ctx context.Context, job *models.Job) error
	Dequeue(ctx context.Context, queue string) (*models.Job, error)
	// Complete deletes a job that ran successfully.
	Complete(ctx context.Context, id string) error
	// Retry clears a job's lock and backs off run_at after a failed
	// attempt that has not yet exhausted max_attempts.
	Retry(ctx context.Context, id string, jobErr error) error
	// Fail terminally marks a job failed once max_attempts is exhausted.
	Fail(ctx context.Context, id string, jobErr error, durationMS int64) error
	Cancel(ctx context.Context, id string) error
	Counts(ctx context.Context, queue string) (waiting, active, failed int, err error)
	HasPendingJob(ctx context.Context, queue, dedupeKey string) (bool, error)
	PurgeCompleted(ctx context.Context, olderThan time.Time) (int, error)
	ResetRunningJobs(ctx context.Context) (int, error)
}
