package queue

import (
	"context"
	"fmt"
	"runtime/debug"
	"sync"

	"github.com/bobmcallan/logsentry/internal/common"
)

// Supervisor is the process-wide owner of one Backend's Queue and Worker
// instances. It is constructed once at startup by the composition root
// and threaded through to components that need to add or drain jobs —
// never a package-level singleton.
type Supervisor struct {
	backend Backend
	logger  *common.Logger

	mu      sync.Mutex
	queues  map[string]Queue
	workers map[string]Worker
	started bool
	wg      sync.WaitGroup
}

// NewSupervisor wraps a concrete Backend (in-db or kvstore) with the
// cached-instance, idempotent-lifecycle contract shared by both.
func NewSupervisor(backend Backend, logger *common.Logger) *Supervisor {
	return &Supervisor{
		backend: backend,
		logger:  logger,
		queues:  make(map[string]Queue),
		workers: make(map[string]Worker),
	}
}

// Queue returns the cached Queue for name, constructing it on first
// request.
func (s *Supervisor) Queue(name string) Queue {
	s.mu.Lock()
	defer s.mu.Unlock()
	if q, ok := s.queues[name]; ok {
		return q
	}
	q := s.backend.NewQueue(name)
	s.queues[name] = q
	return q
}

// Worker returns the cached Worker for name, constructing it with process
// on first request. A second request for the same name returns the
// existing worker; process is ignored on that call, matching the
// supervisor's single-processor-per-name contract.
func (s *Supervisor) Worker(name string, process ProcessFunc) Worker {
	s.mu.Lock()
	defer s.mu.Unlock()
	if w, ok := s.workers[name]; ok {
		return w
	}
	w := s.backend.NewWorker(name, process)
	s.workers[name] = w
	return w
}

// Start launches every cached worker's poll/consume loop with panic
// recovery. Idempotent.
func (s *Supervisor) Start(ctx context.Context) {
	s.mu.Lock()
	if s.started {
		s.mu.Unlock()
		return
	}
	s.started = true
	workers := make([]Worker, 0, len(s.workers))
	for _, w := range s.workers {
		workers = append(workers, w)
	}
	s.mu.Unlock()

	for _, w := range workers {
		w := w
		s.safeGo("queue-worker", func() {
			if err := w.Start(ctx); err != nil {
				s.logger.Error().Err(err).Msg("Worker exited with error")
			}
		})
	}

	s.logger.Info().Int("workers", len(workers)).Msg("Queue supervisor started")
}

// safeGo launches a goroutine with panic recovery and logging.
func (s *Supervisor) safeGo(name string, fn func()) {
	s.wg.Add(1)
	go func() {
		defer s.wg.Done()
		defer func() {
			if r := recover(); r != nil {
				s.logger.Error().
					Str("goroutine", name).
					Str("panic", fmt.Sprintf("%v", r)).
					Str("stack", string(debug.Stack())).
					Msg("Recovered from panic in queue supervisor goroutine")
			}
		}()
		fn()
	}()
}

// Status returns the named queue's current counts without requiring a
// cached Queue — it is always safe to poll status.
func (s *Supervisor) Status(ctx context.Context, name string) (Counts, error) {
	return s.Queue(name).Status(ctx)
}

// Shutdown closes workers first, then queues, then the underlying
// backend connection, clearing the caches. Safe to call multiple times
// and safe to call even if nothing was ever started.
func (s *Supervisor) Shutdown() error {
	s.mu.Lock()
	workers := s.workers
	queues := s.queues
	s.workers = make(map[string]Worker)
	s.queues = make(map[string]Queue)
	s.started = false
	s.mu.Unlock()

	for name, w := range workers {
		if err := w.Close(); err != nil {
			s.logger.Warn().Str("worker", name).Err(err).Msg("Error closing worker")
		}
	}
	for name, q := range queues {
		if err := q.Close(); err != nil {
			s.logger.Warn().Str("queue", name).Err(err).Msg("Error closing queue")
		}
	}

	s.wg.Wait()

	if err := s.backend.Close(); err != nil {
		return fmt.Errorf("closing queue backend: %w", err)
	}
	s.logger.Info().Msg("Queue supervisor stopped")
	return nil
}
