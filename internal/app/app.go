// Package app is the composition root: it wires config, storage, the job
// queue, notification fan-out, and the detection/correlation pipeline into
// one App, shared by cmd/logsentry-server.
package app

import (
	"context"
	"database/sql"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/bobmcallan/logsentry/internal/common"
	"github.com/bobmcallan/logsentry/internal/correlate"
	"github.com/bobmcallan/logsentry/internal/detect"
	"github.com/bobmcallan/logsentry/internal/enrich"
	"github.com/bobmcallan/logsentry/internal/ingest"
	"github.com/bobmcallan/logsentry/internal/interfaces"
	"github.com/bobmcallan/logsentry/internal/notify"
	"github.com/bobmcallan/logsentry/internal/queue"
	"github.com/bobmcallan/logsentry/internal/queue/indb"
	"github.com/bobmcallan/logsentry/internal/queue/kvstore"
	"github.com/bobmcallan/logsentry/internal/scan"
	"github.com/bobmcallan/logsentry/internal/storage/postgres"
)

// App holds every initialized service and piece of infrastructure. It is
// the shared core used by cmd/logsentry-server.
type App struct {
	Config  *common.Config
	Logger  *common.Logger
	Storage interfaces.StorageManager

	Supervisor *queue.Supervisor
	Registry   *notify.Registry
	Listener   *notify.Listener
	Publisher  *notify.Publisher

	Catalog    *detect.Catalog
	Evaluator  *detect.Evaluator
	Correlator *correlate.Correlator
	Processor  *scan.Processor
	Writer     *ingest.Writer

	StartupTime time.Time

	registryCancel context.CancelFunc
	listenerCancel context.CancelFunc
}

func getBinaryDir() string {
	exe, err := os.Executable()
	if err != nil {
		return "."
	}
	return filepath.Dir(exe)
}

// NewApp initializes config, storage, the job queue, notification
// fan-out, and the detection/correlation pipeline. configPath may be
// empty, in which case the default resolution logic is used.
func NewApp(configPath string) (*App, error) {
	startupStart := time.Now()

	common.LoadVersionFromFile()
	binDir := getBinaryDir()

	if configPath == "" {
		configPath = os.Getenv("LOGSENTRY_CONFIG")
	}
	if configPath == "" {
		configPath = filepath.Join(binDir, "logsentry-service.toml")
		if _, err := os.Stat(configPath); os.IsNotExist(err) {
			configPath = "config/logsentry-service.toml" // fallback for development
		}
	}

	config, err := common.LoadConfig(configPath)
	if err != nil {
		return nil, fmt.Errorf("failed to load config: %w", err)
	}

	if config.Logging.FilePath != "" && !filepath.IsAbs(config.Logging.FilePath) {
		config.Logging.FilePath = filepath.Join(binDir, config.Logging.FilePath)
	}

	logger := common.NewLogger(config.Logging.Level)

	storageManager, err := postgres.NewManager(logger, config)
	if err != nil {
		return nil, fmt.Errorf("failed to initialize storage: %w", err)
	}

	ctx := context.Background()
	if err := storageManager.Migrate(ctx); err != nil {
		storageManager.Close()
		return nil, fmt.Errorf("failed to migrate storage: %w", err)
	}

	backend, err := newQueueBackend(config, storageManager, logger)
	if err != nil {
		storageManager.Close()
		return nil, fmt.Errorf("failed to initialize queue backend: %w", err)
	}
	supervisor := queue.NewSupervisor(backend, logger)

	registry := notify.NewRegistry(logger)
	registryCtx, registryCancel := context.WithCancel(context.Background())
	go func() {
		<-registryCtx.Done()
		registry.Stop()
	}()
	go registry.Run()

	rawDB, err := sqlDBFromManager(storageManager)
	if err != nil {
		registryCancel()
		storageManager.Close()
		return nil, fmt.Errorf("failed to obtain database handle: %w", err)
	}

	publisher := notify.NewPublisher(rawDB, logger)
	listener := notify.NewListener(config.Storage.DBURL, config.Listener.MaxReconnectAttempts, registry, logger)

	listenerCtx, listenerCancel := context.WithCancel(context.Background())
	if err := listener.Start(listenerCtx); err != nil {
		logger.Warn().Err(err).Msg("App: notification listener failed to start, live streaming unavailable")
	}

	catalog := detect.NewCatalog()
	evaluator := detect.NewEvaluator(catalog, storageManager.ActivationStore(), storageManager.DetectionStore(), logger)
	correlator := correlate.NewCorrelator(storageManager.IncidentStore(), logger)
	processor := scan.NewProcessor(storageManager.LogStore(), evaluator, correlator, logger)

	scanQueue := supervisor.Queue(ingest.ScanQueueName)
	writer := ingest.NewWriter(storageManager.LogStore(), publisher, scanQueue, enrich.NoopEnricher{}, logger, config.Queue.WorkerConcurrency)

	a := &App{
		Config:         config,
		Logger:         logger,
		Storage:        storageManager,
		Supervisor:     supervisor,
		Registry:       registry,
		Listener:       listener,
		Publisher:      publisher,
		Catalog:        catalog,
		Evaluator:      evaluator,
		Correlator:     correlator,
		Processor:      processor,
		Writer:         writer,
		StartupTime:    startupStart,
		registryCancel: registryCancel,
		listenerCancel: listenerCancel,
	}

	logger.Info().Dur("startup", time.Since(startupStart)).Msg("App initialized")
	return a, nil
}

// StartWorkers launches the detection-scan worker and brings the queue
// supervisor's other cached workers online.
func (a *App) StartWorkers(ctx context.Context) error {
	a.Supervisor.Worker(ingest.ScanQueueName, a.Processor.Process)
	a.Supervisor.Start(ctx)
	return nil
}

// Close releases all resources held by the App, in reverse dependency
// order: workers/queues, the notification listener and registry, then
// storage.
func (a *App) Close() {
	if a.Writer != nil {
		a.Writer.Close()
		a.Writer = nil
	}
	if a.Supervisor != nil {
		a.Supervisor.Shutdown()
	}
	if a.Listener != nil {
		if err := a.Listener.Shutdown(); err != nil {
			a.Logger.Warn().Err(err).Msg("App: listener shutdown failed")
		}
	}
	if a.listenerCancel != nil {
		a.listenerCancel()
		a.listenerCancel = nil
	}
	if a.registryCancel != nil {
		a.registryCancel()
		a.registryCancel = nil
	}
	if a.Storage != nil {
		a.Storage.Close()
		a.Storage = nil
	}
}

func newQueueBackend(config *common.Config, storageManager interfaces.StorageManager, logger *common.Logger) (queue.Backend, error) {
	switch config.Queue.Backend {
	case common.QueueBackendKVStore:
		return kvstore.Dial(config.Storage.KVURL, logger)
	default:
		db, err := sqlDBFromManager(storageManager)
		if err != nil {
			return nil, err
		}
		return indb.NewBackend(db, config.Queue.PollInterval(), logger), nil
	}
}

// sqlDBFromManager recovers the shared *sql.DB from StorageManager.DB(),
// which returns any so that the interfaces package stays storage-backend
// agnostic. Only the Postgres-backed manager is wired today, so this
// never fails in practice; returning an error instead of panicking keeps
// the failure mode consistent with every other initialization step here.
func sqlDBFromManager(storageManager interfaces.StorageManager) (*sql.DB, error) {
	db, ok := storageManager.DB().(*sql.DB)
	if !ok {
		return nil, fmt.Errorf("storage manager did not return a *sql.DB")
	}
	return db, nil
}
