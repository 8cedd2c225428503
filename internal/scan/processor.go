// Package scan wires the detect and correlate packages into a queue.ProcessFunc:
// the job a batch of newly-ingested logs enqueues once its rows are durable.
package scan

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/bobmcallan/logsentry/internal/common"
	"github.com/bobmcallan/logsentry/internal/correlate"
	"github.com/bobmcallan/logsentry/internal/detect"
	"github.com/bobmcallan/logsentry/internal/interfaces"
	"github.com/bobmcallan/logsentry/internal/models"
)

// Processor hydrates a detection-scan job's log ids, runs the rule
// evaluator over them, and feeds any resulting detections to the incident
// correlator.
type Processor struct {
	logs       interfaces.LogStore
	evaluator  *detect.Evaluator
	correlator *correlate.Correlator
	logger     *common.Logger
}

// NewProcessor builds a Processor over its dependencies.
func NewProcessor(logs interfaces.LogStore, evaluator *detect.Evaluator, correlator *correlate.Correlator, logger *common.Logger) *Processor {
	return &Processor{logs: logs, evaluator: evaluator, correlator: correlator, logger: logger}
}

// Process implements queue.ProcessFunc for the ingest.ScanQueueName queue.
func (p *Processor) Process(ctx context.Context, job *models.Job) error {
	payloadBytes, err := json.Marshal(job.Payload)
	if err != nil {
		return fmt.Errorf("marshal scan job payload: %w", err)
	}
	var payload models.ScanJobPayload
	if err := json.Unmarshal(payloadBytes, &payload); err != nil {
		return fmt.Errorf("decode scan job payload: %w", err)
	}

	records, err := p.logs.GetByIDs(ctx, payload.TenantID, payload.ProjectID, payload.LogIDs)
	if err != nil {
		return fmt.Errorf("load logs for scan: %w", err)
	}
	if len(records) == 0 {
		return nil
	}
	records = reorderByIDs(records, payload.LogIDs)

	serviceByLogID := make(map[string]string, len(records))
	for _, r := range records {
		serviceByLogID[r.ID] = r.Service
	}

	events, err := p.evaluator.Evaluate(ctx, payload.TenantID, payload.ProjectID, records)
	if err != nil {
		return fmt.Errorf("evaluate rules: %w", err)
	}
	if len(events) == 0 {
		return nil
	}

	incidents, err := p.correlator.CorrelateAll(ctx, events, func(logID string) string {
		return serviceByLogID[logID]
	})
	if err != nil {
		return fmt.Errorf("correlate detections: %w", err)
	}

	p.logger.Info().
		Str("tenant", payload.TenantID).
		Str("project", payload.ProjectID).
		Int("logs", len(records)).
		Int("events", len(events)).
		Int("incidents", len(incidents)).
		Msg("Processor: detection scan complete")
	return nil
}

// reorderByIDs sorts records into ids order. GetByIDs returns rows in no
// particular order; detection events must emit in the batch order the
// ingestion writer enqueued, so this restores it before evaluation. Any id
// with no matching record (already deleted, say) is skipped.
func reorderByIDs(records []models.LogRecord, ids []string) []models.LogRecord {
	byID := make(map[string]models.LogRecord, len(records))
	for _, r := range records {
		byID[r.ID] = r
	}
	ordered := make([]models.LogRecord, 0, len(records))
	for _, id := range ids {
		if r, ok := byID[id]; ok {
			ordered = append(ordered, r)
		}
	}
	return ordered
}
