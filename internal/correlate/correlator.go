// Package correlate groups detection events into incidents.
package correlate

import (
	"context"
	"fmt"
	"regexp"
	"time"

	"github.com/google/uuid"

	"github.com/bobmcallan/logsentry/internal/common"
	"github.com/bobmcallan/logsentry/internal/interfaces"
	"github.com/bobmcallan/logsentry/internal/models"
)

// AppendWindow is how recently an open incident must have been updated for
// a new matching-key event to append to it rather than opening a fresh
// incident. Not configurable in the source this was distilled from; kept
// as a tuning parameter per spec.md §9's open question.
const AppendWindow = 15 * time.Minute

// instanceSuffix strips a trailing "-<digits>" or "#<digits>" rule-instance
// suffix to derive a rule's family, e.g. "failed-login-attempts#3" and
// "failed-login-attempts-2" both family to "failed-login-attempts". Rule
// ids with no such suffix are their own family.
var instanceSuffix = regexp.MustCompile(`[-#][0-9]+$`)

// RuleFamily derives a detection event's correlation family from its rule
// id.
func RuleFamily(ruleID string) string {
	return instanceSuffix.ReplaceAllString(ruleID, "")
}

// Correlator groups DetectionEvents into Incidents keyed by
// (tenant, project, rule-family).
type Correlator struct {
	incidents interfaces.IncidentStore
	logger    *common.Logger
}

// NewCorrelator builds a Correlator over the given incident store.
func NewCorrelator(incidents interfaces.IncidentStore, logger *common.Logger) *Correlator {
	return &Correlator{incidents: incidents, logger: logger}
}

// Correlate attaches event to an open, recently-updated incident sharing
// its (tenant, project, rule-family) key, or opens a new one. service is
// the originating log's service name, folded into the incident's affected
// services set (DetectionEvent itself carries no service field).
func (c *Correlator) Correlate(ctx context.Context, event models.DetectionEvent, service string) (*models.Incident, error) {
	family := RuleFamily(event.RuleID)

	existing, err := c.incidents.FindOpenByKey(ctx, event.Tenant, event.Project, family)
	if err != nil {
		return nil, fmt.Errorf("find open incident for %s/%s/%s: %w", event.Tenant, event.Project, family, err)
	}

	if existing != nil && time.Since(existing.UpdatedAt) <= AppendWindow {
		existing.DetectionCount++
		existing.Severity = existing.Severity.Max(event.Severity)
		existing.LastDetectionAt = event.Timestamp
		existing.UpdatedAt = time.Now()
		if existing.AffectedServices == nil {
			existing.AffectedServices = make(map[string]struct{})
		}
		if service != "" {
			existing.AffectedServices[service] = struct{}{}
		}
		if err := c.incidents.Update(ctx, existing); err != nil {
			return nil, fmt.Errorf("update incident %s: %w", existing.ID, err)
		}
		c.logger.Debug().Str("incident_id", existing.ID).Str("rule_id", event.RuleID).Int("detection_count", existing.DetectionCount).Msg("Correlator: appended event to open incident")
		return existing, nil
	}

	affected := make(map[string]struct{})
	if service != "" {
		affected[service] = struct{}{}
	}
	now := time.Now()
	incident := &models.Incident{
		ID:               uuid.New().String(),
		Tenant:           event.Tenant,
		Project:          event.Project,
		RuleFamily:       family,
		Status:           models.IncidentOpen,
		Severity:         event.Severity,
		DetectionCount:   1,
		AffectedServices: affected,
		CreatedAt:        now,
		UpdatedAt:        now,
		FirstDetectionAt: event.Timestamp,
		LastDetectionAt:  event.Timestamp,
	}
	if err := c.incidents.Create(ctx, incident); err != nil {
		return nil, fmt.Errorf("create incident for %s/%s/%s: %w", event.Tenant, event.Project, family, err)
	}
	c.logger.Info().Str("incident_id", incident.ID).Str("rule_family", family).Msg("Correlator: opened new incident")
	return incident, nil
}

// CorrelateAll runs Correlate for each event in order, returning the
// incident each one was attached to. logService resolves an event's
// originating log's service name (the caller already has the logs loaded
// for evaluation).
func (c *Correlator) CorrelateAll(ctx context.Context, events []models.DetectionEvent, logService func(logID string) string) ([]*models.Incident, error) {
	incidents := make([]*models.Incident, 0, len(events))
	for _, event := range events {
		service := ""
		if logService != nil {
			service = logService(event.LogID)
		}
		incident, err := c.Correlate(ctx, event, service)
		if err != nil {
			return incidents, err
		}
		incidents = append(incidents, incident)
	}
	return incidents, nil
}
