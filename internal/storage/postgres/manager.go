// Package postgres implements interfaces.StorageManager and its sub-stores
// against a single Postgres database, reusing the same connection pool the
// in-db job queue and the LISTEN/NOTIFY listener/publisher issue raw SQL
// against.
package postgres

import (
	"context"
	"database/sql"
	"fmt"

	_ "github.com/lib/pq"

	"github.com/bobmcallan/logsentry/internal/common"
	"github.com/bobmcallan/logsentry/internal/interfaces"
)

// Manager implements interfaces.StorageManager using Postgres.
type Manager struct {
	db     *sql.DB
	logger *common.Logger

	logStore        *LogStore
	activationStore *ActivationStore
	detectionStore  *DetectionStore
	incidentStore   *IncidentStore
}

// NewManager opens a connection pool against config.Storage.DBURL and wires
// up its sub-stores. Callers must still call Migrate before using it
// against a fresh database.
func NewManager(logger *common.Logger, config *common.Config) (*Manager, error) {
	db, err := sql.Open("postgres", config.Storage.DBURL)
	if err != nil {
		return nil, fmt.Errorf("open postgres connection: %w", err)
	}

	if err := db.PingContext(context.Background()); err != nil {
		db.Close()
		return nil, fmt.Errorf("ping postgres: %w", err)
	}

	m := &Manager{
		db:     db,
		logger: logger,
	}
	m.logStore = NewLogStore(db)
	m.activationStore = NewActivationStore(db)
	m.detectionStore = NewDetectionStore(db)
	m.incidentStore = NewIncidentStore(db)

	logger.Info().Msg("Postgres storage manager initialized")
	return m, nil
}

func (m *Manager) LogStore() interfaces.LogStore { return m.logStore }

func (m *Manager) ActivationStore() interfaces.ActivationStore { return m.activationStore }

func (m *Manager) DetectionStore() interfaces.DetectionStore { return m.detectionStore }

func (m *Manager) IncidentStore() interfaces.IncidentStore { return m.incidentStore }

func (m *Manager) DB() any { return m.db }

// Migrate runs all forward-only schema migrations embedded in this package.
func (m *Manager) Migrate(ctx context.Context) error {
	if err := runMigrations(m.db); err != nil {
		return err
	}
	m.logger.Info().Msg("Postgres schema migrations applied")
	return nil
}

func (m *Manager) Close() error {
	return m.db.Close()
}

var _ interfaces.StorageManager = (*Manager)(nil)
