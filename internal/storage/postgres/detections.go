package postgres

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"github.com/google/uuid"

	"github.com/bobmcallan/logsentry/internal/interfaces"
	"github.com/bobmcallan/logsentry/internal/models"
)

// DetectionStore implements interfaces.DetectionStore against an
// append-only detection_events table.
type DetectionStore struct {
	db *sql.DB
}

func NewDetectionStore(db *sql.DB) *DetectionStore {
	return &DetectionStore{db: db}
}

func (s *DetectionStore) Insert(ctx context.Context, event *models.DetectionEvent) error {
	if event.ID == "" {
		event.ID = uuid.New().String()
	}

	const insertSQL = `INSERT INTO detection_events (id, tenant, project, rule_id, log_id, severity, timestamp, excerpt)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8)`
	if _, err := s.db.ExecContext(ctx, insertSQL, event.ID, event.Tenant, event.Project, event.RuleID,
		event.LogID, event.Severity, event.Timestamp, event.Excerpt); err != nil {
		return fmt.Errorf("insert detection event: %w", err)
	}
	return nil
}

func (s *DetectionStore) ListForIncident(ctx context.Context, tenant, ruleFamily string, since time.Time) ([]models.DetectionEvent, error) {
	const querySQL = `SELECT id, tenant, project, rule_id, log_id, severity, timestamp, excerpt
		FROM detection_events
		WHERE tenant = $1 AND rule_id LIKE $2 AND timestamp >= $3
		ORDER BY timestamp ASC`
	rows, err := s.db.QueryContext(ctx, querySQL, tenant, ruleFamily+"%", since)
	if err != nil {
		return nil, fmt.Errorf("list detections for incident %s/%s: %w", tenant, ruleFamily, err)
	}
	defer rows.Close()

	var out []models.DetectionEvent
	for rows.Next() {
		var event models.DetectionEvent
		if err := rows.Scan(&event.ID, &event.Tenant, &event.Project, &event.RuleID, &event.LogID,
			&event.Severity, &event.Timestamp, &event.Excerpt); err != nil {
			return nil, fmt.Errorf("scan detection event: %w", err)
		}
		out = append(out, event)
	}
	return out, rows.Err()
}

var _ interfaces.DetectionStore = (*DetectionStore)(nil)
