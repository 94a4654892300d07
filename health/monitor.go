package health

import (
	"slices"
	"sync"
	"time"
)

// Monitor holds the latest status reported for each named part of the
// process. A status older than the stale window is reported as degraded
// since whatever was sampling it has stopped.
type Monitor struct {
	mu         sync.RWMutex
	statuses   map[string]Status
	staleAfter time.Duration
	now        func() time.Time
}

// NewMonitor creates a monitor. A zero staleAfter disables staleness.
func NewMonitor(staleAfter time.Duration) *Monitor {
	return &Monitor{
		statuses:   make(map[string]Status),
		staleAfter: staleAfter,
		now:        time.Now,
	}
}

// Update records status under name. Component and Timestamp are set to
// the name and the time of the update.
func (m *Monitor) Update(name string, status Status) {
	m.mu.Lock()
	defer m.mu.Unlock()

	status.Component = name
	status.Timestamp = m.now()
	m.statuses[name] = status
}

// Get returns the status recorded under name with staleness applied
func (m *Monitor) Get(name string) (Status, bool) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	status, ok := m.statuses[name]
	if !ok {
		return Status{}, false
	}
	return m.checkAge(status, m.now()), true
}

func (m *Monitor) checkAge(s Status, now time.Time) Status {
	if m.staleAfter <= 0 || s.IsUnhealthy() || now.Sub(s.Timestamp) <= m.staleAfter {
		return s
	}
	stale := NewDegraded(s.Component, "no report since "+s.Timestamp.UTC().Format(time.RFC3339))
	stale.Timestamp = s.Timestamp
	stale.Metrics = s.Metrics
	return stale
}

// AggregateHealth folds every recorded status, ordered by name, into one
func (m *Monitor) AggregateHealth(systemName string) Status {
	m.mu.RLock()
	now := m.now()
	subs := make([]Status, 0, len(m.statuses))
	for _, s := range m.statuses {
		subs = append(subs, m.checkAge(s, now))
	}
	m.mu.RUnlock()

	slices.SortFunc(subs, func(a, b Status) int {
		switch {
		case a.Component < b.Component:
			return -1
		case a.Component > b.Component:
			return 1
		}
		return 0
	})
	return Aggregate(systemName, subs)
}
