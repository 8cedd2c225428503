package notify

import (
	"context"
	"encoding/json"
	"fmt"
	"sync"
	"time"

	"github.com/lib/pq"

	"github.com/bobmcallan/logsentry/internal/common"
	"github.com/bobmcallan/logsentry/internal/models"
)

// State is the Listener's connection state.
type State int

const (
	StateDisconnected State = iota
	StateConnecting
	StateListening
)

func (s State) String() string {
	switch s {
	case StateConnecting:
		return "connecting"
	case StateListening:
		return "listening"
	default:
		return "disconnected"
	}
}

const (
	minReconnectInterval = time.Second
	maxReconnectInterval = 30 * time.Second
)

// Listener holds the single long-lived LISTEN connection on the logs_new
// channel and routes parsed notifications to a Registry for fan-out.
//
// Reconnection is delegated to pq.Listener, which already retries with a
// backoff bounded by [minReconnectInterval, maxReconnectInterval] — close
// in shape to the teacher's watchLoop exponential-backoff-with-ceiling
// pattern. This type layers the attempt counter and terminal-give-up
// behavior on top, since pq.Listener retries forever on its own.
type Listener struct {
	conn        *pq.Listener
	registry    *Registry
	logger      *common.Logger
	maxAttempts int

	mu          sync.Mutex
	state       State
	attempts    int
	terminal    bool
	terminalErr error

	notifyDone chan struct{}
}

// NewListener builds a Listener over dbURL. maxAttempts is the number of
// consecutive failed connection attempts tolerated before the listener
// gives up permanently (spec default 10).
func NewListener(dbURL string, maxAttempts int, registry *Registry, logger *common.Logger) *Listener {
	l := &Listener{
		registry:    registry,
		logger:      logger,
		maxAttempts: maxAttempts,
		state:       StateDisconnected,
	}
	l.conn = pq.NewListener(dbURL, minReconnectInterval, maxReconnectInterval, l.handleEvent)
	return l
}

// handleEvent is pq.Listener's EventCallback. It tracks state/attempts and,
// once maxAttempts consecutive connection failures have occurred, marks the
// listener terminal and closes the underlying connection for good.
func (l *Listener) handleEvent(ev pq.ListenerEventType, err error) {
	l.mu.Lock()
	defer l.mu.Unlock()

	switch ev {
	case pq.ListenerEventConnected:
		l.state = StateListening
		l.attempts = 0
		l.logger.Info().Msg("Listener: connected")

	case pq.ListenerEventReconnected:
		l.state = StateListening
		l.attempts = 0
		l.logger.Info().Msg("Listener: reconnected, subscribers preserved")

	case pq.ListenerEventDisconnected:
		l.state = StateDisconnected
		l.logger.Warn().Err(err).Msg("Listener: disconnected")

	case pq.ListenerEventConnectionAttemptFailed:
		l.state = StateConnecting
		l.attempts++
		backoff := backoffFor(l.attempts)
		l.logger.Warn().Int("attempt", l.attempts).Dur("backoff", backoff).Err(err).Msg("Listener: reconnect attempt failed")
		if l.attempts >= l.maxAttempts {
			l.terminal = true
			l.terminalErr = fmt.Errorf("listener: giving up after %d attempts: %w", l.attempts, err)
			l.logger.Error().Err(l.terminalErr).Msg("Listener: exhausted reconnect attempts, giving up")
			go l.conn.Close()
		}
	}
}

// backoffFor reports the spec's reconnect backoff for a given attempt
// number, min(1000*2^(attempt-1), 30000)ms — used only for logging here,
// since pq.Listener owns the actual sleep between attempts.
func backoffFor(attempt int) time.Duration {
	ms := 1000 * (1 << uint(attempt-1))
	if ms > 30000 || ms <= 0 {
		ms = 30000
	}
	return time.Duration(ms) * time.Millisecond
}

// Start issues the LISTEN and begins routing notifications to the
// registry until ctx is canceled or Shutdown is called.
func (l *Listener) Start(ctx context.Context) error {
	if err := l.conn.Listen(Channel); err != nil {
		return fmt.Errorf("listen %s: %w", Channel, err)
	}

	l.notifyDone = make(chan struct{})
	go l.consume(ctx)
	return nil
}

// consume drains the listener's Notify channel, parsing and dispatching
// each message. Messages on other channels or with malformed payloads are
// logged and dropped, never propagated as errors.
func (l *Listener) consume(ctx context.Context) {
	defer close(l.notifyDone)
	for {
		select {
		case <-ctx.Done():
			return
		case n, ok := <-l.conn.Notify:
			if !ok {
				return
			}
			if n == nil {
				// pq sends a nil notification after a reconnect to prompt
				// a full resync; nothing to dispatch.
				continue
			}
			if n.Channel != Channel {
				continue
			}
			var payload models.LogsNewNotification
			if err := json.Unmarshal([]byte(n.Extra), &payload); err != nil {
				l.logger.Warn().Err(err).Str("channel", n.Channel).Msg("Listener: malformed notification payload")
				continue
			}
			l.registry.Dispatch(payload)
		}
	}
}

// Status reports the listener's current connection state and whether it
// has given up for good.
type Status struct {
	State    State
	Attempts int
	Terminal bool
}

func (l *Listener) Status() Status {
	l.mu.Lock()
	defer l.mu.Unlock()
	return Status{State: l.state, Attempts: l.attempts, Terminal: l.terminal}
}

// Shutdown issues UNLISTEN and closes the connection. Safe to call more
// than once. Close unblocks consume (it closes the Notify channel), so it
// must run before we wait for consume to finish.
func (l *Listener) Shutdown() error {
	if err := l.conn.Unlisten(Channel); err != nil {
		l.logger.Warn().Err(err).Msg("Listener: unlisten failed during shutdown")
	}
	err := l.conn.Close()
	if l.notifyDone != nil {
		<-l.notifyDone
	}
	return err
}
