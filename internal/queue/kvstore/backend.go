package kvstore

import (
	"context"
	"strings"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/bobmcallan/logsentry/internal/common"
	"github.com/bobmcallan/logsentry/internal/queue"
)

// Retention policy for completed/failed job records, per spec: completed
// entries are pruned by age or count, whichever is reached first; failed
// entries get a longer age window since they're the ones an operator is
// most likely to want to inspect.
const (
	completedMaxAge   = 1 * time.Hour
	completedMaxCount = 100
	failedMaxAge      = 24 * time.Hour
	failedMaxCount    = 50

	pruneInterval = 1 * time.Minute
	idleClaimAfter = 30 * time.Second
)

// Backend is the Redis Streams queue.Backend: one shared *redis.Client,
// per-name Queue/Worker wrappers constructed by the supervisor.
type Backend struct {
	client         *redis.Client
	logger         *common.Logger
	ownsConnection bool
}

// NewBackend wraps an existing *redis.Client. If ownsConnection is true,
// Close also closes the client; otherwise the caller (typically a shared
// connection pool) owns its lifecycle.
func NewBackend(client *redis.Client, logger *common.Logger, ownsConnection bool) *Backend {
	return &Backend{client: client, logger: logger, ownsConnection: ownsConnection}
}

// Dial parses a redis:// URL and returns a Backend owning the resulting
// connection, for standalone composition-root use where the supervisor is
// the only consumer of the Redis connection.
func Dial(url string, logger *common.Logger) (*Backend, error) {
	opts, err := redis.ParseURL(url)
	if err != nil {
		return nil, err
	}
	client := redis.NewClient(opts)
	return NewBackend(client, logger, true), nil
}

func (b *Backend) NewQueue(name string) queue.Queue {
	return &kvQueue{client: b.client, name: name}
}

func (b *Backend) NewWorker(name string, process queue.ProcessFunc) queue.Worker {
	return &kvWorker{
		client:     b.client,
		name:       name,
		process:    process,
		logger:     b.logger,
		consumerID: consumerID(name),
	}
}

func (b *Backend) Close() error {
	if b.ownsConnection {
		return b.client.Close()
	}
	return nil
}

var (
	_ queue.Backend = (*Backend)(nil)
	_ queue.Queue   = (*kvQueue)(nil)
	_ queue.Worker  = (*kvWorker)(nil)
)

func consumerID(queueName string) string {
	return queueName + "-" + randomSuffix()
}

// randomSuffix avoids importing math/rand for something this ephemeral:
// a nanosecond time-of-day suffix only needs to avoid colliding with
// other processes' consumer names within the same group.
func randomSuffix() string {
	return time.Now().Format("150405.000000000")
}

func isTransientRedisErr(err error) bool {
	if err == nil {
		return false
	}
	if err == context.DeadlineExceeded {
		return true
	}
	msg := err.Error()
	switch {
	case strings.Contains(msg, "connection reset by peer"),
		strings.Contains(msg, "connection refused"),
		strings.Contains(msg, "READONLY"),
		strings.Contains(msg, "broken pipe"),
		strings.Contains(msg, "i/o timeout"):
		return true
	default:
		return false
	}
}
