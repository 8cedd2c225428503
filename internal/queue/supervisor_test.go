package queue

import (
	"context"
	"errors"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/bobmcallan/logsentry/internal/common"
	"github.com/bobmcallan/logsentry/internal/models"
)

// fakeBackend is a hand-rolled Backend double recording every
// NewQueue/NewWorker/Close call, in the teacher's hand-rolled-mock style
// (no mockery/gomock).
type fakeBackend struct {
	mu           sync.Mutex
	queuesBuilt  []string
	workersBuilt []string
	closed       bool
}

func (f *fakeBackend) NewQueue(name string) Queue {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.queuesBuilt = append(f.queuesBuilt, name)
	return &fakeQueue{name: name}
}

func (f *fakeBackend) NewWorker(name string, process ProcessFunc) Worker {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.workersBuilt = append(f.workersBuilt, name)
	return &fakeWorker{name: name, process: process}
}

func (f *fakeBackend) Close() error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.closed = true
	return nil
}

type fakeQueue struct {
	name   string
	closed bool
}

func (q *fakeQueue) Add(ctx context.Context, payload models.Value, opts AddOptions) (*models.Job, error) {
	return &models.Job{Queue: q.name, Payload: payload, Priority: opts.Priority}, nil
}

func (q *fakeQueue) Status(ctx context.Context) (Counts, error) { return Counts{Waiting: 1}, nil }

func (q *fakeQueue) Close() error {
	q.closed = true
	return nil
}

type fakeWorker struct {
	name    string
	process ProcessFunc
	started bool
	closed  bool
}

func (w *fakeWorker) Start(ctx context.Context) error {
	w.started = true
	return nil
}

func (w *fakeWorker) OnCompleted(fn func(job *models.Job))         {}
func (w *fakeWorker) OnFailed(fn func(job *models.Job, err error)) {}
func (w *fakeWorker) OnError(fn func(err error))                   {}

func (w *fakeWorker) Close() error {
	w.closed = true
	return nil
}

func testLogger() *common.Logger {
	return common.NewSilentLogger()
}

func TestSupervisor_Queue_CachesByName(t *testing.T) {
	backend := &fakeBackend{}
	sup := NewSupervisor(backend, testLogger())

	q1 := sup.Queue("scan-jobs")
	q2 := sup.Queue("scan-jobs")

	assert.Same(t, q1, q2)
	assert.Len(t, backend.queuesBuilt, 1)
}

func TestSupervisor_Worker_IgnoresProcessorOnRepeatedRequest(t *testing.T) {
	backend := &fakeBackend{}
	sup := NewSupervisor(backend, testLogger())

	var firstCalled, secondCalled bool
	w1 := sup.Worker("scan-jobs", func(ctx context.Context, job *models.Job) error {
		firstCalled = true
		return nil
	})
	w2 := sup.Worker("scan-jobs", func(ctx context.Context, job *models.Job) error {
		secondCalled = true
		return nil
	})

	require.Same(t, w1, w2)
	assert.Len(t, backend.workersBuilt, 1)

	fw := w1.(*fakeWorker)
	require.NoError(t, fw.process(context.Background(), &models.Job{}))
	assert.True(t, firstCalled)
	assert.False(t, secondCalled)
}

func TestSupervisor_Start_IsIdempotent(t *testing.T) {
	backend := &fakeBackend{}
	sup := NewSupervisor(backend, testLogger())
	w := sup.Worker("scan-jobs", func(ctx context.Context, job *models.Job) error { return nil })

	sup.Start(context.Background())
	sup.Start(context.Background())

	fw := w.(*fakeWorker)
	assert.True(t, fw.started)
}

func TestSupervisor_Shutdown_ClosesWorkersQueuesAndBackend(t *testing.T) {
	backend := &fakeBackend{}
	sup := NewSupervisor(backend, testLogger())
	q := sup.Queue("scan-jobs")
	w := sup.Worker("scan-jobs", func(ctx context.Context, job *models.Job) error { return nil })

	require.NoError(t, sup.Shutdown())

	assert.True(t, q.(*fakeQueue).closed)
	assert.True(t, w.(*fakeWorker).closed)
	assert.True(t, backend.closed)
}

func TestSupervisor_Shutdown_SafeWhenEmpty(t *testing.T) {
	sup := NewSupervisor(&fakeBackend{}, testLogger())
	require.NoError(t, sup.Shutdown())
	require.NoError(t, sup.Shutdown())
}

func TestSupervisor_Shutdown_ClearsCachesForFreshStart(t *testing.T) {
	backend := &fakeBackend{}
	sup := NewSupervisor(backend, testLogger())
	sup.Queue("scan-jobs")

	require.NoError(t, sup.Shutdown())

	sup.Queue("scan-jobs")
	assert.Len(t, backend.queuesBuilt, 2)
}

func TestSupervisor_Status_ReturnsQueueCounts(t *testing.T) {
	sup := NewSupervisor(&fakeBackend{}, testLogger())
	counts, err := sup.Status(context.Background(), "scan-jobs")
	require.NoError(t, err)
	assert.Equal(t, 1, counts.Waiting)
}

func TestSupervisor_Shutdown_ReturnsBackendCloseError(t *testing.T) {
	sup := NewSupervisor(&erroringBackend{}, testLogger())
	err := sup.Shutdown()
	require.Error(t, err)
}

type erroringBackend struct{ fakeBackend }

func (e *erroringBackend) Close() error { return errors.New("boom") }
