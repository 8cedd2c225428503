// Package notify implements the database-backed publish/subscribe path:
// a Publisher emits chunked NOTIFY messages, a Listener holds the single
// long-lived LISTEN connection and reconnects with backoff, and a Registry
// fans dispatched notifications out to in-process subscribers.
package notify

import (
	"fmt"
	"sync"

	"github.com/bobmcallan/logsentry/internal/common"
	"github.com/bobmcallan/logsentry/internal/models"
)

// Registry routes logs_new notifications to the subscribers registered for
// a project. Routing itself is projectId-only; service/level filtering is
// applied by the subscriber after it hydrates the referenced logs.
type Registry struct {
	subscribers map[string]map[string]models.Subscriber // projectId -> connectionId -> Subscriber
	register    chan models.Subscriber
	unregister  chan string
	dispatch    chan models.LogsNewNotification
	done        chan struct{}
	mu          sync.RWMutex
	logger      *common.Logger
}

// NewRegistry creates a Registry. Run must be started as a goroutine before
// Subscribe/Unsubscribe/Dispatch have any effect.
func NewRegistry(logger *common.Logger) *Registry {
	return &Registry{
		subscribers: make(map[string]map[string]models.Subscriber),
		register:    make(chan models.Subscriber),
		unregister:  make(chan string),
		dispatch:    make(chan models.LogsNewNotification, 256),
		done:        make(chan struct{}),
		logger:      logger,
	}
}

// Run owns the subscriber map and serializes all mutation and dispatch
// through a single goroutine. Call as `go registry.Run()`.
func (r *Registry) Run() {
	for {
		select {
		case <-r.done:
			return

		case sub := <-r.register:
			r.mu.Lock()
			if r.subscribers[sub.ProjectID] == nil {
				r.subscribers[sub.ProjectID] = make(map[string]models.Subscriber)
			}
			r.subscribers[sub.ProjectID][sub.ConnectionID] = sub
			r.mu.Unlock()
			r.logger.Debug().Str("project_id", sub.ProjectID).Str("connection_id", sub.ConnectionID).Msg("Registry: subscriber registered")

		case connectionID := <-r.unregister:
			r.mu.Lock()
			for projectID, conns := range r.subscribers {
				if _, ok := conns[connectionID]; ok {
					delete(conns, connectionID)
					if len(conns) == 0 {
						delete(r.subscribers, projectID)
					}
					break
				}
			}
			r.mu.Unlock()
			r.logger.Debug().Str("connection_id", connectionID).Msg("Registry: subscriber unregistered")

		case n := <-r.dispatch:
			r.broadcast(n)
		}
	}
}

// Stop signals Run's loop to exit. Safe to call more than once.
func (r *Registry) Stop() {
	select {
	case <-r.done:
	default:
		close(r.done)
	}
}

// Subscribe registers sub to receive notifications for its ProjectID.
func (r *Registry) Subscribe(sub models.Subscriber) {
	select {
	case r.register <- sub:
	case <-r.done:
	}
}

// Unsubscribe removes the subscriber with the given connection id, from
// whichever project it was registered under.
func (r *Registry) Unsubscribe(connectionID string) {
	select {
	case r.unregister <- connectionID:
	case <-r.done:
	}
}

// Dispatch queues n for delivery to matching subscribers. Non-blocking: if
// the dispatch buffer is full the notification is dropped and logged,
// matching the publisher's "never throws" contract on the receiving side.
func (r *Registry) Dispatch(n models.LogsNewNotification) {
	select {
	case r.dispatch <- n:
	default:
		r.logger.Warn().Str("project_id", n.ProjectID).Msg("Registry: dispatch buffer full, dropping notification")
	}
}

// broadcast delivers n to every subscriber registered for n.ProjectID, in
// parallel, isolating each subscriber's delivery from the others'.
func (r *Registry) broadcast(n models.LogsNewNotification) {
	r.mu.RLock()
	conns := r.subscribers[n.ProjectID]
	targets := make([]models.Subscriber, 0, len(conns))
	for _, sub := range conns {
		targets = append(targets, sub)
	}
	r.mu.RUnlock()

	for _, sub := range targets {
		go r.deliver(sub, n)
	}
}

// deliver invokes sub.Deliver, recovering from a panicking callback so one
// bad subscriber can never take down dispatch for the others.
func (r *Registry) deliver(sub models.Subscriber, n models.LogsNewNotification) {
	defer func() {
		if rec := recover(); rec != nil {
			r.logger.Warn().Str("connection_id", sub.ConnectionID).Str("panic", fmt.Sprintf("%v", rec)).Msg("Registry: subscriber delivery panicked")
		}
	}()
	sub.Deliver(n)
}

// SubscriberCount returns the number of subscribers currently registered
// across all projects.
func (r *Registry) SubscriberCount() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	total := 0
	for _, conns := range r.subscribers {
		total += len(conns)
	}
	return total
}
