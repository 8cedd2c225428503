// Package ingest implements the ingestion writer: validates a batch of
// incoming logs, persists it atomically, and best-effort notifies
// subscribers and triggers a detection scan.
package ingest

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"regexp"
	"runtime/debug"
	"sync"
	"sync/atomic"
	"time"

	"github.com/bobmcallan/logsentry/internal/common"
	"github.com/bobmcallan/logsentry/internal/enrich"
	"github.com/bobmcallan/logsentry/internal/interfaces"
	"github.com/bobmcallan/logsentry/internal/models"
	"github.com/bobmcallan/logsentry/internal/queue"
)

// Publisher is the slice of notify.Publisher the writer depends on,
// accepted as an interface so tests can stub it without a real database.
type Publisher interface {
	Publish(ctx context.Context, projectID string, logIDs []string, timestamp time.Time)
}

// ScanQueueName is the job queue a successful batch enqueues a
// detection-scan job onto.
const ScanQueueName = "detection-scan"

const (
	minBatchSize  = 1
	maxBatchSize  = 1000
	maxServiceLen = 100
)

var spanIDPattern = regexp.MustCompile(`^[a-f0-9]{16}$`)

// ErrBatchTooLarge is returned by validateBatch (and surfaces from
// Ingest) when a batch exceeds maxBatchSize, distinct from other
// validation failures so callers (the HTTP layer) can map it to 413
// rather than 400.
var ErrBatchTooLarge = errors.New("batch exceeds max size")

// ErrPersistFailed wraps any storage-layer failure from Ingest, so the
// HTTP layer can map it to 500 regardless of the underlying store's error
// type.
var ErrPersistFailed = errors.New("persist log batch failed")

// DefaultWorkerConcurrency sizes the best-effort task pool when the caller
// doesn't specify one.
const DefaultWorkerConcurrency = 5

// Writer validates, persists, and best-effort fans out ingested log
// batches. Best-effort work (notification publish, detection-scan enqueue)
// runs on a small bounded worker pool rather than one goroutine per
// request, so a stall in either downstream never backs up ingestion itself.
type Writer struct {
	logs      interfaces.LogStore
	publisher Publisher
	scanQueue queue.Queue
	enricher  enrich.Enricher
	logger    *common.Logger

	tasks   chan func()
	wg      sync.WaitGroup
	dropped atomic.Int64
}

// NewWriter wires a Writer over its dependencies. enricher may be nil, in
// which case enrich.NoopEnricher is used. concurrency <= 0 falls back to
// DefaultWorkerConcurrency.
func NewWriter(logs interfaces.LogStore, publisher Publisher, scanQueue queue.Queue, enricher enrich.Enricher, logger *common.Logger, concurrency int) *Writer {
	if enricher == nil {
		enricher = enrich.NoopEnricher{}
	}
	if concurrency <= 0 {
		concurrency = DefaultWorkerConcurrency
	}

	w := &Writer{
		logs:      logs,
		publisher: publisher,
		scanQueue: scanQueue,
		enricher:  enricher,
		logger:    logger,
		tasks:     make(chan func(), concurrency*4),
	}

	w.wg.Add(concurrency)
	for i := 0; i < concurrency; i++ {
		go w.runWorker()
	}
	return w
}

func (w *Writer) runWorker() {
	defer w.wg.Done()
	for task := range w.tasks {
		w.runSafely(task)
	}
}

func (w *Writer) runSafely(task func()) {
	defer func() {
		if r := recover(); r != nil {
			w.logger.Error().
				Str("panic", fmt.Sprintf("%v", r)).
				Str("stack", string(debug.Stack())).
				Msg("Writer: recovered from panic in best-effort task")
		}
	}()
	task()
}

// submit enqueues a best-effort task, dropping (and counting) it if the
// pool's buffer is already full rather than blocking the ingestion path.
func (w *Writer) submit(task func()) {
	select {
	case w.tasks <- task:
	default:
		w.dropped.Add(1)
		w.logger.Warn().Msg("Writer: best-effort task pool full, dropping task")
	}
}

// DroppedTasks reports how many best-effort tasks have been dropped since
// startup because the pool was saturated.
func (w *Writer) DroppedTasks() int64 {
	return w.dropped.Load()
}

// Close stops accepting new tasks and waits for in-flight ones to drain.
func (w *Writer) Close() {
	close(w.tasks)
	w.wg.Wait()
}

// Ingest validates logs, persists them atomically, and schedules the
// best-effort notification publish and detection-scan enqueue. Failures of
// either best-effort step are logged, never returned: streaming and
// detection are eventually consistent by design.
func (w *Writer) Ingest(ctx context.Context, tenant, project string, logs []models.LogInput) ([]models.LogRecord, error) {
	if err := validateBatch(logs); err != nil {
		return nil, err
	}

	for i := range logs {
		if err := w.enricher.Enrich(ctx, tenant, project, &logs[i]); err != nil {
			w.logger.Warn().Err(err).Str("tenant", tenant).Str("project", project).
				Msg("Writer: enrichment failed, continuing with unenriched log")
		}
	}

	records, err := w.logs.InsertBatch(ctx, tenant, project, logs)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrPersistFailed, err)
	}

	ids := make([]string, len(records))
	for i, r := range records {
		ids[i] = r.ID
	}

	if w.publisher != nil {
		w.submit(func() {
			w.publisher.Publish(context.Background(), project, ids, time.Now())
		})
	}

	if w.scanQueue != nil {
		w.submit(func() {
			w.enqueueScan(tenant, project, ids)
		})
	}

	return records, nil
}

func (w *Writer) enqueueScan(tenant, project string, ids []string) {
	payload := models.ScanJobPayload{TenantID: tenant, ProjectID: project, LogIDs: ids}
	data, err := json.Marshal(payload)
	if err != nil {
		w.logger.Warn().Err(err).Msg("Writer: marshal scan job payload failed")
		return
	}

	var value models.Value
	if err := json.Unmarshal(data, &value); err != nil {
		w.logger.Warn().Err(err).Msg("Writer: convert scan job payload failed")
		return
	}

	if _, err := w.scanQueue.Add(context.Background(), value, queue.AddOptions{}); err != nil {
		w.logger.Warn().Err(err).Str("tenant", tenant).Str("project", project).
			Msg("Writer: enqueue detection scan failed")
	}
}

func validateBatch(logs []models.LogInput) error {
	if len(logs) < minBatchSize {
		return errors.New("batch must contain at least one log")
	}
	if len(logs) > maxBatchSize {
		return fmt.Errorf("%w: max %d logs, got %d", ErrBatchTooLarge, maxBatchSize, len(logs))
	}
	for i, log := range logs {
		if err := validateLog(log); err != nil {
			return fmt.Errorf("log %d: %w", i, err)
		}
	}
	return nil
}

func validateLog(log models.LogInput) error {
	if len(log.Service) == 0 || len(log.Service) > maxServiceLen {
		return fmt.Errorf("service must be 1-%d characters", maxServiceLen)
	}
	if !models.IsKnownLevel(log.Level) {
		return fmt.Errorf("unknown level %q", log.Level)
	}
	if log.Message == "" {
		return errors.New("message must not be empty")
	}
	if log.SpanID != "" && !spanIDPattern.MatchString(log.SpanID) {
		return fmt.Errorf("span_id %q must be 16 lowercase hex characters", log.SpanID)
	}
	return nil
}
