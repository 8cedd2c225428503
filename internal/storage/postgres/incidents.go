package postgres

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/google/uuid"

	"github.com/bobmcallan/logsentry/internal/interfaces"
	"github.com/bobmcallan/logsentry/internal/models"
)

const incidentSelectColumns = `id, tenant, project, rule_family, status, severity, detection_count,
	affected_services, created_at, updated_at, first_detection_at, last_detection_at, resolved_at`

// IncidentStore implements interfaces.IncidentStore against an incidents
// table carrying a partial unique index over (tenant, project, rule_family)
// for non-terminal statuses, so FindOpenByKey never races with a
// concurrent Create of the same key.
type IncidentStore struct {
	db *sql.DB
}

func NewIncidentStore(db *sql.DB) *IncidentStore {
	return &IncidentStore{db: db}
}

func (s *IncidentStore) FindOpenByKey(ctx context.Context, tenant, project, ruleFamily string) (*models.Incident, error) {
	const querySQL = `SELECT ` + incidentSelectColumns + ` FROM incidents
		WHERE tenant = $1 AND project = $2 AND rule_family = $3
		  AND status NOT IN ($4, $5)
		LIMIT 1`
	row := s.db.QueryRowContext(ctx, querySQL, tenant, project, ruleFamily,
		models.IncidentResolved, models.IncidentFalsePositive)
	incident, err := scanIncident(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("find open incident %s/%s/%s: %w", tenant, project, ruleFamily, err)
	}
	return incident, nil
}

func (s *IncidentStore) Create(ctx context.Context, incident *models.Incident) error {
	if incident.ID == "" {
		incident.ID = uuid.New().String()
	}
	affected, err := json.Marshal(serviceListFrom(incident.AffectedServices))
	if err != nil {
		return fmt.Errorf("marshal affected services: %w", err)
	}

	const insertSQL = `INSERT INTO incidents (id, tenant, project, rule_family, status, severity, detection_count,
		affected_services, created_at, updated_at, first_detection_at, last_detection_at, resolved_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13)`
	if _, err := s.db.ExecContext(ctx, insertSQL, incident.ID, incident.Tenant, incident.Project, incident.RuleFamily,
		incident.Status, incident.Severity, incident.DetectionCount, affected, incident.CreatedAt, incident.UpdatedAt,
		incident.FirstDetectionAt, incident.LastDetectionAt, incident.ResolvedAt); err != nil {
		return fmt.Errorf("create incident %s: %w", incident.ID, err)
	}
	return nil
}

func (s *IncidentStore) Update(ctx context.Context, incident *models.Incident) error {
	affected, err := json.Marshal(serviceListFrom(incident.AffectedServices))
	if err != nil {
		return fmt.Errorf("marshal affected services: %w", err)
	}

	const updateSQL = `UPDATE incidents SET status = $1, severity = $2, detection_count = $3, affected_services = $4,
		updated_at = $5, last_detection_at = $6, resolved_at = $7
		WHERE id = $8`
	if _, err := s.db.ExecContext(ctx, updateSQL, incident.Status, incident.Severity, incident.DetectionCount,
		affected, incident.UpdatedAt, incident.LastDetectionAt, incident.ResolvedAt, incident.ID); err != nil {
		return fmt.Errorf("update incident %s: %w", incident.ID, err)
	}
	return nil
}

func (s *IncidentStore) Get(ctx context.Context, id string) (*models.Incident, error) {
	const querySQL = `SELECT ` + incidentSelectColumns + ` FROM incidents WHERE id = $1`
	row := s.db.QueryRowContext(ctx, querySQL, id)
	incident, err := scanIncident(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("get incident %s: %w", id, err)
	}
	return incident, nil
}

func scanIncident(row rowScanner) (*models.Incident, error) {
	var incident models.Incident
	var affected []byte
	if err := row.Scan(&incident.ID, &incident.Tenant, &incident.Project, &incident.RuleFamily, &incident.Status,
		&incident.Severity, &incident.DetectionCount, &affected, &incident.CreatedAt, &incident.UpdatedAt,
		&incident.FirstDetectionAt, &incident.LastDetectionAt, &incident.ResolvedAt); err != nil {
		return nil, err
	}
	var services []string
	if len(affected) > 0 {
		if err := json.Unmarshal(affected, &services); err != nil {
			return nil, fmt.Errorf("unmarshal affected services: %w", err)
		}
	}
	incident.AffectedServices = make(map[string]struct{}, len(services))
	for _, svc := range services {
		incident.AffectedServices[svc] = struct{}{}
	}
	return &incident, nil
}

// serviceListFrom flattens an AffectedServices set into an unsorted slice
// for JSON storage; map iteration order doesn't matter here since the
// set is read back into a map on scan.
func serviceListFrom(services map[string]struct{}) []string {
	out := make([]string, 0, len(services))
	for svc := range services {
		out = append(out, svc)
	}
	return out
}

var _ interfaces.IncidentStore = (*IncidentStore)(nil)
