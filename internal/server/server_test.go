package server

import (
	"context"
	"sort"
	"strconv"
	"sync"
	"testing"
	"time"

	"github.com/bobmcallan/logsentry/internal/app"
	"github.com/bobmcallan/logsentry/internal/common"
	"github.com/bobmcallan/logsentry/internal/correlate"
	"github.com/bobmcallan/logsentry/internal/detect"
	"github.com/bobmcallan/logsentry/internal/enrich"
	"github.com/bobmcallan/logsentry/internal/ingest"
	"github.com/bobmcallan/logsentry/internal/interfaces"
	"github.com/bobmcallan/logsentry/internal/models"
	"github.com/bobmcallan/logsentry/internal/notify"
)

// fakeLogStore is an in-memory interfaces.LogStore.
type fakeLogStore struct {
	mu     sync.Mutex
	logs   []models.LogRecord
	nextID int
}

func (f *fakeLogStore) InsertBatch(ctx context.Context, tenant, project string, logs []models.LogInput) ([]models.LogRecord, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	out := make([]models.LogRecord, len(logs))
	for i, in := range logs {
		f.nextID++
		rec := models.LogRecord{
			ID:         strconv.Itoa(f.nextID),
			Tenant:     tenant,
			Project:    project,
			Timestamp:  in.Timestamp,
			Service:    in.Service,
			Level:      in.Level,
			Message:    in.Message,
			SpanID:     in.SpanID,
			Attributes: in.Attributes,
		}
		out[i] = rec
		f.logs = append(f.logs, rec)
	}
	return out, nil
}

func (f *fakeLogStore) GetByIDs(ctx context.Context, tenant, project string, ids []string) ([]models.LogRecord, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	want := make(map[string]struct{}, len(ids))
	for _, id := range ids {
		want[id] = struct{}{}
	}
	var out []models.LogRecord
	for _, rec := range f.logs {
		if rec.Tenant != tenant || rec.Project != project {
			continue
		}
		if _, ok := want[rec.ID]; ok {
			out = append(out, rec)
		}
	}
	return out, nil
}

func (f *fakeLogStore) ListByProject(ctx context.Context, tenant, project string, limit int, beforeID string) ([]models.LogRecord, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	var out []models.LogRecord
	for _, rec := range f.logs {
		if rec.Tenant == tenant && rec.Project == project {
			out = append(out, rec)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Timestamp.After(out[j].Timestamp) })
	if limit > 0 && len(out) > limit {
		out = out[:limit]
	}
	return out, nil
}

// fakeActivationStore is an in-memory interfaces.ActivationStore.
type fakeActivationStore struct {
	mu          sync.Mutex
	activations map[string]*models.PackActivation
}

func newFakeActivationStore() *fakeActivationStore {
	return &fakeActivationStore{activations: make(map[string]*models.PackActivation)}
}

func (f *fakeActivationStore) Get(ctx context.Context, tenant, packID string) (*models.PackActivation, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.activations[tenant+"/"+packID], nil
}

func (f *fakeActivationStore) ListForTenant(ctx context.Context, tenant string) ([]models.PackActivation, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	var out []models.PackActivation
	for _, a := range f.activations {
		if a.Tenant == tenant {
			out = append(out, *a)
		}
	}
	return out, nil
}

func (f *fakeActivationStore) Upsert(ctx context.Context, activation *models.PackActivation) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	cp := *activation
	f.activations[activation.Tenant+"/"+activation.PackID] = &cp
	return nil
}

func (f *fakeActivationStore) Delete(ctx context.Context, tenant, packID string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	delete(f.activations, tenant+"/"+packID)
	return nil
}

// fakeDetectionStore is an in-memory interfaces.DetectionStore.
type fakeDetectionStore struct {
	mu     sync.Mutex
	events []models.DetectionEvent
}

func (f *fakeDetectionStore) Insert(ctx context.Context, event *models.DetectionEvent) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.events = append(f.events, *event)
	return nil
}

func (f *fakeDetectionStore) ListForIncident(ctx context.Context, tenant, ruleFamily string, since time.Time) ([]models.DetectionEvent, error) {
	return nil, nil
}

// fakeIncidentStore is an in-memory interfaces.IncidentStore.
type fakeIncidentStore struct {
	mu        sync.Mutex
	incidents map[string]*models.Incident
}

func newFakeIncidentStore() *fakeIncidentStore {
	return &fakeIncidentStore{incidents: make(map[string]*models.Incident)}
}

func (f *fakeIncidentStore) FindOpenByKey(ctx context.Context, tenant, project, ruleFamily string) (*models.Incident, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	for _, inc := range f.incidents {
		if inc.Tenant == tenant && inc.Project == project && !inc.Status.Terminal() {
			return inc, nil
		}
	}
	return nil, nil
}

func (f *fakeIncidentStore) Create(ctx context.Context, incident *models.Incident) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.incidents[incident.ID] = incident
	return nil
}

func (f *fakeIncidentStore) Update(ctx context.Context, incident *models.Incident) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.incidents[incident.ID] = incident
	return nil
}

func (f *fakeIncidentStore) Get(ctx context.Context, id string) (*models.Incident, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.incidents[id], nil
}

// fakeStorageManager wires the fakes above into an interfaces.StorageManager.
type fakeStorageManager struct {
	logs        *fakeLogStore
	activations *fakeActivationStore
	detections  *fakeDetectionStore
	incidents   *fakeIncidentStore
}

func newFakeStorageManager() *fakeStorageManager {
	return &fakeStorageManager{
		logs:        &fakeLogStore{},
		activations: newFakeActivationStore(),
		detections:  &fakeDetectionStore{},
		incidents:   newFakeIncidentStore(),
	}
}

func (f *fakeStorageManager) LogStore() interfaces.LogStore             { return f.logs }
func (f *fakeStorageManager) ActivationStore() interfaces.ActivationStore { return f.activations }
func (f *fakeStorageManager) DetectionStore() interfaces.DetectionStore { return f.detections }
func (f *fakeStorageManager) IncidentStore() interfaces.IncidentStore   { return f.incidents }
func (f *fakeStorageManager) DB() any                                  { return nil }
func (f *fakeStorageManager) Migrate(ctx context.Context) error         { return nil }
func (f *fakeStorageManager) Close() error                             { return nil }

// newTestServer builds a Server over an in-memory fake StorageManager and a
// fully wired (but unstarted) detection/notification stack, mirroring the
// composition root without any real Postgres/Redis dependency.
func newTestServer(t *testing.T) *Server {
	t.Helper()
	logger := common.NewLogger("disabled")
	storageManager := newFakeStorageManager()

	catalog := detect.NewCatalog()
	evaluator := detect.NewEvaluator(catalog, storageManager.ActivationStore(), storageManager.DetectionStore(), logger)
	correlator := correlate.NewCorrelator(storageManager.IncidentStore(), logger)
	registry := notify.NewRegistry(logger)
	listener := notify.NewListener("postgres://unused/db", 1, registry, logger)

	writer := ingest.NewWriter(storageManager.LogStore(), nil, nil, enrich.NoopEnricher{}, logger, 2)
	t.Cleanup(writer.Close)

	a := &app.App{
		Config:      common.NewDefaultConfig(),
		Logger:      logger,
		Storage:     storageManager,
		Registry:    registry,
		Listener:    listener,
		Catalog:     catalog,
		Evaluator:   evaluator,
		Correlator:  correlator,
		Writer:      writer,
		StartupTime: time.Now(),
	}
	return &Server{app: a, logger: logger}
}
