package controller

import (
	"sync"
	"time"

	"github.com/aiperf/aiperf/pkg/messages"
)

// Entry is one registered service.
type Entry struct {
	ServiceID   string
	ServiceType messages.ServiceType
	State       messages.ServiceState
	FirstSeen   time.Time
	LastSeen    time.Time
}

// Registry tracks the fleet. Registrations create entries, heartbeats and
// status messages refresh them, and entries whose heartbeats lapse past the
// stale threshold are flagged without being removed.
type Registry struct {
	mtx        sync.Mutex
	entries    map[string]*Entry
	staleAfter time.Duration
	changed    *sync.Cond
}

// NewRegistry builds a registry. staleAfter of zero disables staleness
// detection.
func NewRegistry(staleAfter time.Duration) *Registry {
	r := &Registry{
		entries:    map[string]*Entry{},
		staleAfter: staleAfter,
	}
	r.changed = sync.NewCond(&r.mtx)
	return r
}

// Observe records a sighting of a service. The first sighting creates the
// entry; later ones refresh last_seen and the state.
func (r *Registry) Observe(serviceID string, serviceType messages.ServiceType, state messages.ServiceState) {
	now := time.Now()

	r.mtx.Lock()
	defer r.mtx.Unlock()

	e, ok := r.entries[serviceID]
	if !ok {
		e = &Entry{
			ServiceID:   serviceID,
			ServiceType: serviceType,
			FirstSeen:   now,
		}
		r.entries[serviceID] = e
	}
	e.State = state
	e.LastSeen = now
	r.changed.Broadcast()
}

// CountByType counts non-stopped entries of one service type.
func (r *Registry) CountByType(t messages.ServiceType) int {
	r.mtx.Lock()
	defer r.mtx.Unlock()
	return r.countByTypeLocked(t)
}

func (r *Registry) countByTypeLocked(t messages.ServiceType) int {
	n := 0
	for _, e := range r.entries {
		if e.ServiceType == t && e.State != messages.StateStopped && e.State != messages.StateStopping {
			n++
		}
	}
	return n
}

// IDs lists every registered service id, stale or not.
func (r *Registry) IDs() []string {
	r.mtx.Lock()
	defer r.mtx.Unlock()
	ids := make([]string, 0, len(r.entries))
	for id := range r.entries {
		ids = append(ids, id)
	}
	return ids
}

// Len is the number of registered services.
func (r *Registry) Len() int {
	r.mtx.Lock()
	defer r.mtx.Unlock()
	return len(r.entries)
}

// WaitUntil blocks until check passes over the registry or the deadline
// expires, returning whether the check passed. The check runs under the
// registry lock and must not call back in.
func (r *Registry) WaitUntil(deadline time.Time, check func(countByType func(messages.ServiceType) int) bool) bool {
	timeout := time.AfterFunc(time.Until(deadline), func() {
		r.mtx.Lock()
		r.changed.Broadcast()
		r.mtx.Unlock()
	})
	defer timeout.Stop()

	r.mtx.Lock()
	defer r.mtx.Unlock()
	for {
		if check(r.countByTypeLocked) {
			return true
		}
		if !time.Now().Before(deadline) {
			return false
		}
		r.changed.Wait()
	}
}

// MarkStale flags entries whose last sighting lapsed past the threshold and
// returns their ids. Already-stale entries are not returned again.
func (r *Registry) MarkStale() []string {
	if r.staleAfter <= 0 {
		return nil
	}
	cutoff := time.Now().Add(-r.staleAfter)

	r.mtx.Lock()
	defer r.mtx.Unlock()

	var stale []string
	for id, e := range r.entries {
		if e.State == messages.StateStale || e.State == messages.StateStopped || e.State == messages.StateStopping {
			continue
		}
		if e.LastSeen.Before(cutoff) {
			e.State = messages.StateStale
			stale = append(stale, id)
		}
	}
	return stale
}
