package notify

import (
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/bobmcallan/logsentry/internal/common"
	"github.com/bobmcallan/logsentry/internal/models"
)

func newTestRegistry(t *testing.T) *Registry {
	t.Helper()
	r := NewRegistry(common.NewSilentLogger())
	go r.Run()
	t.Cleanup(r.Stop)
	return r
}

func TestRegistry_Dispatch_DeliversToMatchingProjectOnly(t *testing.T) {
	r := newTestRegistry(t)

	var mu sync.Mutex
	var deliveredTo []string
	done := make(chan struct{}, 2)

	r.Subscribe(models.Subscriber{
		ConnectionID: "conn-a",
		ProjectID:    "proj-1",
		Deliver: func(n models.LogsNewNotification) {
			mu.Lock()
			deliveredTo = append(deliveredTo, "conn-a")
			mu.Unlock()
			done <- struct{}{}
		},
	})
	r.Subscribe(models.Subscriber{
		ConnectionID: "conn-b",
		ProjectID:    "proj-2",
		Deliver: func(n models.LogsNewNotification) {
			mu.Lock()
			deliveredTo = append(deliveredTo, "conn-b")
			mu.Unlock()
			done <- struct{}{}
		},
	})

	r.Dispatch(models.LogsNewNotification{ProjectID: "proj-1", LogIDs: []string{"log-1"}})

	select {
	case <-done:
	case <-time.After(2 * time.Second):
		t.Fatal("subscriber was never delivered to")
	}
	time.Sleep(20 * time.Millisecond)

	mu.Lock()
	defer mu.Unlock()
	assert.Equal(t, []string{"conn-a"}, deliveredTo)
}

func TestRegistry_Unsubscribe_StopsDelivery(t *testing.T) {
	r := newTestRegistry(t)

	delivered := make(chan struct{}, 1)
	r.Subscribe(models.Subscriber{
		ConnectionID: "conn-a",
		ProjectID:    "proj-1",
		Deliver:      func(n models.LogsNewNotification) { delivered <- struct{}{} },
	})
	require.Equal(t, 1, eventuallyCount(r))

	r.Unsubscribe("conn-a")
	require.Eventually(t, func() bool { return r.SubscriberCount() == 0 }, time.Second, 10*time.Millisecond)

	r.Dispatch(models.LogsNewNotification{ProjectID: "proj-1"})
	select {
	case <-delivered:
		t.Fatal("unsubscribed subscriber should not receive notifications")
	case <-time.After(100 * time.Millisecond):
	}
}

func TestRegistry_Deliver_IsolatesPanickingSubscriber(t *testing.T) {
	r := newTestRegistry(t)

	ok := make(chan struct{}, 1)
	r.Subscribe(models.Subscriber{
		ConnectionID: "panicker",
		ProjectID:    "proj-1",
		Deliver:      func(n models.LogsNewNotification) { panic("boom") },
	})
	r.Subscribe(models.Subscriber{
		ConnectionID: "healthy",
		ProjectID:    "proj-1",
		Deliver:      func(n models.LogsNewNotification) { ok <- struct{}{} },
	})

	r.Dispatch(models.LogsNewNotification{ProjectID: "proj-1"})

	select {
	case <-ok:
	case <-time.After(2 * time.Second):
		t.Fatal("healthy subscriber should still be delivered to despite the panicking one")
	}
}

func eventuallyCount(r *Registry) int {
	for i := 0; i < 100; i++ {
		if n := r.SubscriberCount(); n > 0 {
			return n
		}
		time.Sleep(time.Millisecond)
	}
	return r.SubscriberCount()
}
