package correlate

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/bobmcallan/logsentry/internal/common"
	"github.com/bobmcallan/logsentry/internal/models"
)

// fakeIncidentStore is a hand-rolled IncidentStore double backed by an
// in-memory map.
type fakeIncidentStore struct {
	mu        sync.Mutex
	incidents map[string]*models.Incident
}

func newFakeIncidentStore() *fakeIncidentStore {
	return &fakeIncidentStore{incidents: make(map[string]*models.Incident)}
}

func (s *fakeIncidentStore) FindOpenByKey(ctx context.Context, tenant, project, ruleFamily string) (*models.Incident, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, inc := range s.incidents {
		if inc.Tenant == tenant && inc.Project == project && inc.RuleFamily == ruleFamily && !inc.Status.Terminal() {
			return inc, nil
		}
	}
	return nil, nil
}

func (s *fakeIncidentStore) Create(ctx context.Context, incident *models.Incident) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.incidents[incident.ID] = incident
	return nil
}

func (s *fakeIncidentStore) Update(ctx context.Context, incident *models.Incident) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.incidents[incident.ID] = incident
	return nil
}

func (s *fakeIncidentStore) Get(ctx context.Context, id string) (*models.Incident, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.incidents[id], nil
}

func TestRuleFamily_StripsInstanceSuffix(t *testing.T) {
	assert.Equal(t, "critical-errors", RuleFamily("critical-errors"))
	assert.Equal(t, "critical-errors", RuleFamily("critical-errors#3"))
	assert.Equal(t, "critical-errors", RuleFamily("critical-errors-2"))
}

func TestCorrelator_SecondEventWithinWindow_AppendsToSameIncident(t *testing.T) {
	store := newFakeIncidentStore()
	c := NewCorrelator(store, common.NewSilentLogger())

	first := models.DetectionEvent{Tenant: "t1", Project: "p1", RuleID: "critical-errors", LogID: "log-1", Severity: models.SeverityMedium, Timestamp: time.Now()}
	incident1, err := c.Correlate(context.Background(), first, "api")
	require.NoError(t, err)
	require.Equal(t, 1, incident1.DetectionCount)

	second := models.DetectionEvent{Tenant: "t1", Project: "p1", RuleID: "critical-errors", LogID: "log-2", Severity: models.SeverityCritical, Timestamp: time.Now()}
	incident2, err := c.Correlate(context.Background(), second, "worker")
	require.NoError(t, err)

	assert.Equal(t, incident1.ID, incident2.ID)
	assert.Equal(t, 2, incident2.DetectionCount)
	assert.Equal(t, models.SeverityCritical, incident2.Severity)
	assert.ElementsMatch(t, []string{"api", "worker"}, incident2.AffectedServiceList())
}

func TestCorrelator_EventAfterWindowExpires_OpensNewIncident(t *testing.T) {
	store := newFakeIncidentStore()
	c := NewCorrelator(store, common.NewSilentLogger())

	stale := &models.Incident{
		ID: "old-incident", Tenant: "t1", Project: "p1", RuleFamily: "critical-errors",
		Status: models.IncidentOpen, Severity: models.SeverityMedium, DetectionCount: 1,
		AffectedServices: map[string]struct{}{"api": {}},
		UpdatedAt:        time.Now().Add(-20 * time.Minute),
	}
	require.NoError(t, store.Create(context.Background(), stale))

	event := models.DetectionEvent{Tenant: "t1", Project: "p1", RuleID: "critical-errors", LogID: "log-2", Severity: models.SeverityHigh, Timestamp: time.Now()}
	incident, err := c.Correlate(context.Background(), event, "api")
	require.NoError(t, err)

	assert.NotEqual(t, "old-incident", incident.ID)
	assert.Equal(t, 1, incident.DetectionCount)
}

func TestCorrelator_TerminalIncident_IsNeverReopened(t *testing.T) {
	store := newFakeIncidentStore()
	c := NewCorrelator(store, common.NewSilentLogger())

	resolved := &models.Incident{
		ID: "resolved-incident", Tenant: "t1", Project: "p1", RuleFamily: "critical-errors",
		Status: models.IncidentResolved, Severity: models.SeverityMedium, DetectionCount: 3,
		UpdatedAt: time.Now(),
	}
	require.NoError(t, store.Create(context.Background(), resolved))

	event := models.DetectionEvent{Tenant: "t1", Project: "p1", RuleID: "critical-errors", LogID: "log-9", Severity: models.SeverityHigh, Timestamp: time.Now()}
	incident, err := c.Correlate(context.Background(), event, "api")
	require.NoError(t, err)

	assert.NotEqual(t, "resolved-incident", incident.ID)
	assert.Equal(t, models.IncidentOpen, incident.Status)
}

func TestCorrelator_DifferentProject_OpensSeparateIncident(t *testing.T) {
	store := newFakeIncidentStore()
	c := NewCorrelator(store, common.NewSilentLogger())

	e1 := models.DetectionEvent{Tenant: "t1", Project: "p1", RuleID: "critical-errors", LogID: "log-1", Severity: models.SeverityHigh, Timestamp: time.Now()}
	e2 := models.DetectionEvent{Tenant: "t1", Project: "p2", RuleID: "critical-errors", LogID: "log-2", Severity: models.SeverityHigh, Timestamp: time.Now()}

	i1, err := c.Correlate(context.Background(), e1, "api")
	require.NoError(t, err)
	i2, err := c.Correlate(context.Background(), e2, "api")
	require.NoError(t, err)

	assert.NotEqual(t, i1.ID, i2.ID)
}

func TestCorrelator_CorrelateAll_ResolvesServicePerEvent(t *testing.T) {
	store := newFakeIncidentStore()
	c := NewCorrelator(store, common.NewSilentLogger())

	logServices := map[string]string{"log-1": "api", "log-2": "worker"}
	events := []models.DetectionEvent{
		{Tenant: "t1", Project: "p1", RuleID: "critical-errors", LogID: "log-1", Severity: models.SeverityHigh, Timestamp: time.Now()},
		{Tenant: "t1", Project: "p1", RuleID: "critical-errors", LogID: "log-2", Severity: models.SeverityHigh, Timestamp: time.Now()},
	}

	incidents, err := c.CorrelateAll(context.Background(), events, func(logID string) string { return logServices[logID] })
	require.NoError(t, err)
	require.Len(t, incidents, 2)
	assert.Equal(t, incidents[0].ID, incidents[1].ID)
	assert.ElementsMatch(t, []string{"api", "worker"}, incidents[1].AffectedServiceList())
}
