package controller

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/aiperf/aiperf/pkg/messages"
)

func TestRegistryObserveAndCount(t *testing.T) {
	r := NewRegistry(0)

	r.Observe("worker-1", messages.ServiceWorker, messages.StateReady)
	r.Observe("worker-2", messages.ServiceWorker, messages.StateRunning)
	r.Observe("records-1", messages.ServiceRecordsManager, messages.StateReady)

	assert.Equal(t, 3, r.Len())
	assert.Equal(t, 2, r.CountByType(messages.ServiceWorker))
	assert.Equal(t, 1, r.CountByType(messages.ServiceRecordsManager))
	assert.Equal(t, 0, r.CountByType(messages.ServiceTimingManager))
	assert.ElementsMatch(t, []string{"worker-1", "worker-2", "records-1"}, r.IDs())

	// A re-observation refreshes, never duplicates.
	r.Observe("worker-1", messages.ServiceWorker, messages.StateRunning)
	assert.Equal(t, 3, r.Len())
	assert.Equal(t, 2, r.CountByType(messages.ServiceWorker))
}

func TestRegistryCountExcludesStopped(t *testing.T) {
	r := NewRegistry(0)
	r.Observe("worker-1", messages.ServiceWorker, messages.StateRunning)
	r.Observe("worker-2", messages.ServiceWorker, messages.StateStopping)
	r.Observe("worker-3", messages.ServiceWorker, messages.StateStopped)

	assert.Equal(t, 1, r.CountByType(messages.ServiceWorker))
	assert.Equal(t, 3, r.Len(), "stopped entries stay registered")
}

func TestRegistryWaitUntil(t *testing.T) {
	r := NewRegistry(0)

	go func() {
		time.Sleep(20 * time.Millisecond)
		r.Observe("worker-1", messages.ServiceWorker, messages.StateReady)
		r.Observe("worker-2", messages.ServiceWorker, messages.StateReady)
	}()

	ok := r.WaitUntil(time.Now().Add(2*time.Second), func(count func(messages.ServiceType) int) bool {
		return count(messages.ServiceWorker) >= 2
	})
	assert.True(t, ok)
}

func TestRegistryWaitUntilDeadline(t *testing.T) {
	r := NewRegistry(0)
	start := time.Now()

	ok := r.WaitUntil(start.Add(30*time.Millisecond), func(count func(messages.ServiceType) int) bool {
		return count(messages.ServiceWorker) >= 1
	})

	assert.False(t, ok)
	assert.Less(t, time.Since(start), time.Second, "deadline must wake the waiter")
}

func TestRegistryMarkStale(t *testing.T) {
	r := NewRegistry(20 * time.Millisecond)
	r.Observe("worker-1", messages.ServiceWorker, messages.StateRunning)
	r.Observe("timing-1", messages.ServiceTimingManager, messages.StateRunning)

	assert.Empty(t, r.MarkStale(), "fresh entries are not stale")

	time.Sleep(40 * time.Millisecond)
	r.Observe("timing-1", messages.ServiceTimingManager, messages.StateRunning)

	stale := r.MarkStale()
	require.Equal(t, []string{"worker-1"}, stale)

	// Already-stale entries are not reported twice.
	assert.Empty(t, r.MarkStale())
}

func TestRegistryMarkStaleDisabled(t *testing.T) {
	r := NewRegistry(0)
	r.Observe("worker-1", messages.ServiceWorker, messages.StateRunning)
	time.Sleep(5 * time.Millisecond)
	assert.Empty(t, r.MarkStale())
}
