package indb

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"github.com/bobmcallan/logsentry/internal/common"
	"github.com/bobmcallan/logsentry/internal/models"
	"github.com/bobmcallan/logsentry/internal/queue"
)

// Backend is the in-database queue.Backend: one shared *sql.DB, one Store,
// and per-name Queue/Worker wrappers constructed by the supervisor.
type Backend struct {
	store          *Store
	logger         *common.Logger
	pollInterval   time.Duration
	ownsConnection bool
	db             *sql.DB
}

// NewBackend wraps db with the in-database job queue backend. db is owned
// by the caller (typically the same pool as the primary store) and is not
// closed by Backend.Close unless ownsConnection is true.
func NewBackend(db *sql.DB, pollInterval time.Duration, logger *common.Logger) *Backend {
	return &Backend{
		store:        NewStore(db),
		logger:       logger,
		pollInterval: pollInterval,
		db:           db,
	}
}

func (b *Backend) NewQueue(name string) queue.Queue {
	return &inDBQueue{store: b.store, name: name}
}

func (b *Backend) NewWorker(name string, process queue.ProcessFunc) queue.Worker {
	return &inDBWorker{
		store:        b.store,
		name:         name,
		process:      process,
		pollInterval: b.pollInterval,
		logger:       b.logger,
	}
}

func (b *Backend) Close() error {
	if b.ownsConnection {
		return b.db.Close()
	}
	return nil
}

type inDBQueue struct {
	store *Store
	name  string
}

func (q *inDBQueue) Add(ctx context.Context, payload models.Value, opts queue.AddOptions) (*models.Job, error) {
	if opts.DedupeKey != "" {
		exists, err := q.store.HasPendingJob(ctx, q.name, opts.DedupeKey)
		if err != nil {
			return nil, fmt.Errorf("check dedupe key: %w", err)
		}
		if exists {
			return nil, nil
		}
	}

	maxAttempts := opts.MaxAttempts
	if maxAttempts == 0 {
		maxAttempts = models.DefaultMaxAttempts
	}

	job := &models.Job{
		Queue:       q.name,
		Payload:     payload,
		Priority:    opts.Priority,
		Status:      models.JobStatusPending,
		DedupeKey:   opts.DedupeKey,
		RunAt:       time.Now().Add(opts.Delay),
		CreatedAt:   time.Now(),
		MaxAttempts: maxAttempts,
	}
	if err := q.store.Enqueue(ctx, job); err != nil {
		return nil, err
	}
	return job, nil
}

func (q *inDBQueue) Status(ctx context.Context) (queue.Counts, error) {
	waiting, active, failed, err := q.store.Counts(ctx, q.name)
	if err != nil {
		return queue.Counts{}, err
	}
	return queue.Counts{Waiting: waiting, Active: active, Failed: failed}, nil
}

func (q *inDBQueue) Close() error { return nil }

// inDBWorker polls the jobs table, claiming and executing at most one job
// per poll and waiting pollInterval only after an empty poll or a store
// error. The supervisor caches a single worker per queue name, so jobs on
// one queue run one at a time; this backend has no concurrency setting.
type inDBWorker struct {
	store        *Store
	name         string
	process      queue.ProcessFunc
	pollInterval time.Duration
	logger       *common.Logger

	onCompleted func(*models.Job)
	onFailed    func(*models.Job, error)
	onError     func(error)

	cancel context.CancelFunc
}

func (w *inDBWorker) OnCompleted(fn func(job *models.Job))          { w.onCompleted = fn }
func (w *inDBWorker) OnFailed(fn func(job *models.Job, err error))  { w.onFailed = fn }
func (w *inDBWorker) OnError(fn func(err error))                    { w.onError = fn }

func (w *inDBWorker) Start(ctx context.Context) error {
	if w.cancel != nil {
		return nil
	}
	runCtx, cancel := context.WithCancel(ctx)
	w.cancel = cancel

	interval := w.pollInterval
	if interval <= 0 {
		interval = 2 * time.Second
	}

	for {
		select {
		case <-runCtx.Done():
			return nil
		default:
		}

		job, err := w.store.Dequeue(runCtx, w.name)
		if err != nil {
			if w.onError != nil {
				w.onError(err)
			}
			w.sleep(runCtx, interval)
			continue
		}
		if job == nil {
			w.sleep(runCtx, interval)
			continue
		}

		start := time.Now()
		execErr := w.process(runCtx, job)
		durationMS := time.Since(start).Milliseconds()
		job.DurationMS = durationMS

		if execErr == nil {
			if err := w.store.Complete(runCtx, job.ID); err != nil && w.onError != nil {
				w.onError(err)
			}
			job.Status = models.JobStatusCompleted
			if w.onCompleted != nil {
				w.onCompleted(job)
			}
			continue
		}

		job.Error = execErr.Error()
		if job.Attempts < job.MaxAttempts {
			// Still has attempts left: clear the lock and push run_at out
			// by backoff so a later poll reclaims it. Not terminal, so no
			// onFailed here: a fail-then-succeed job must emit exactly one
			// completed event and no failed event.
			if err := w.store.Retry(runCtx, job.ID, execErr); err != nil && w.onError != nil {
				w.onError(err)
			}
			job.Status = models.JobStatusPending
			continue
		}

		if err := w.store.Fail(runCtx, job.ID, execErr, durationMS); err != nil && w.onError != nil {
			w.onError(err)
		}
		job.Status = models.JobStatusFailed
		if w.onFailed != nil {
			w.onFailed(job, execErr)
		}
	}
}

func (w *inDBWorker) sleep(ctx context.Context, d time.Duration) {
	select {
	case <-ctx.Done():
	case <-time.After(d):
	}
}

func (w *inDBWorker) Close() error {
	if w.cancel != nil {
		w.cancel()
	}
	return nil
}

var (
	_ queue.Backend = (*Backend)(nil)
	_ queue.Queue   = (*inDBQueue)(nil)
	_ queue.Worker  = (*inDBWorker)(nil)
)
