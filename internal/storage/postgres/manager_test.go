package postgres

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/bobmcallan/logsentry/internal/common"
	"github.com/bobmcallan/logsentry/internal/models"
	tcommon "github.com/bobmcallan/logsentry/tests/common"
)

func testConfig(t *testing.T) *common.Config {
	t.Helper()
	pc := tcommon.StartPostgres(t)
	return &common.Config{
		Environment: "test",
		Storage:     common.StorageConfig{DBURL: pc.DBURL()},
	}
}

func TestNewManager_MigratesAndWiresStores(t *testing.T) {
	cfg := testConfig(t)
	logger := common.NewSilentLogger()

	mgr, err := NewManager(logger, cfg)
	require.NoError(t, err)
	defer mgr.Close()

	require.NoError(t, mgr.Migrate(context.Background()))
	// Migrate is idempotent: re-running against an already-migrated
	// database must not error (golang-migrate's ErrNoChange path).
	require.NoError(t, mgr.Migrate(context.Background()))

	assert.NotNil(t, mgr.LogStore())
	assert.NotNil(t, mgr.ActivationStore())
	assert.NotNil(t, mgr.DetectionStore())
	assert.NotNil(t, mgr.IncidentStore())
	assert.NotNil(t, mgr.DB())
}

func TestManager_LogStoreRoundTrip(t *testing.T) {
	cfg := testConfig(t)
	mgr, err := NewManager(common.NewSilentLogger(), cfg)
	require.NoError(t, err)
	defer mgr.Close()
	require.NoError(t, mgr.Migrate(context.Background()))

	ctx := context.Background()
	records, err := mgr.LogStore().InsertBatch(ctx, "tenant-a", "proj-1", []models.LogInput{
		{Timestamp: time.Now(), Service: "api", Level: "error", Message: "boom"},
	})
	require.NoError(t, err)
	require.Len(t, records, 1)

	got, err := mgr.LogStore().GetByIDs(ctx, "tenant-a", "proj-1", []string{records[0].ID})
	require.NoError(t, err)
	require.Len(t, got, 1)
	assert.Equal(t, "boom", got[0].Message)
}

func TestManager_IncidentStoreRoundTrip(t *testing.T) {
	cfg := testConfig(t)
	mgr, err := NewManager(common.NewSilentLogger(), cfg)
	require.NoError(t, err)
	defer mgr.Close()
	require.NoError(t, mgr.Migrate(context.Background()))

	ctx := context.Background()
	now := time.Now()
	incident := &models.Incident{
		Tenant: "tenant-a", Project: "proj-1", RuleFamily: "critical-errors",
		Status: models.IncidentOpen, Severity: models.SeverityHigh, DetectionCount: 1,
		AffectedServices: map[string]struct{}{"api": {}},
		CreatedAt:        now, UpdatedAt: now, FirstDetectionAt: now, LastDetectionAt: now,
	}
	require.NoError(t, mgr.IncidentStore().Create(ctx, incident))

	found, err := mgr.IncidentStore().FindOpenByKey(ctx, "tenant-a", "proj-1", "critical-errors")
	require.NoError(t, err)
	require.NotNil(t, found)
	assert.Equal(t, incident.ID, found.ID)

	found.Status = models.IncidentResolved
	require.NoError(t, mgr.IncidentStore().Update(ctx, found))

	none, err := mgr.IncidentStore().FindOpenByKey(ctx, "tenant-a", "proj-1", "critical-errors")
	require.NoError(t, err)
	assert.Nil(t, none, "resolved incident must no longer be findable as open")
}
