package services

import (
	"sync"

	"pricepulse/models"
)

// AlertRegistry is the in-memory map from connection id to that
// connection's single active alert. It is a cache of the durable store's
// "active" projection: the store is authoritative for persistence, the
// registry for whether a connection is currently watched. Entirely
// process-local; wiped on restart.
type AlertRegistry struct {
	mu     sync.RWMutex
	alerts map[string]*models.Alert
}

// NewAlertRegistry creates an empty registry.
func NewAlertRegistry() *AlertRegistry {
	return &AlertRegistry{
		alerts: make(map[string]*models.Alert),
	}
}

// Set stores or replaces the connection's alert and returns the previous
// one, if any. The caller is responsible for deactivating the previous
// alert in the durable store before calling Set.
func (r *AlertRegistry) Set(connID string, alert *models.Alert) *models.Alert {
	r.mu.Lock()
	defer r.mu.Unlock()

	prev := r.alerts[connID]
	r.alerts[connID] = alert
	return prev
}

// Get returns the connection's alert, or nil if it has none.
func (r *AlertRegistry) Get(connID string) *models.Alert {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.alerts[connID]
}

// Clear removes and returns the connection's alert. Idempotent: clearing
// a connection with no alert returns nil.
func (r *AlertRegistry) Clear(connID string) *models.Alert {
	r.mu.Lock()
	defer r.mu.Unlock()

	alert, ok := r.alerts[connID]
	if !ok {
		return nil
	}
	delete(r.alerts, connID)
	return alert
}

// ForEach calls fn for every (connection id, alert) pair. It iterates a
// point-in-time copy, so fn may mutate the registry and concurrent
// connects/disconnects never tear a single evaluation pass.
func (r *AlertRegistry) ForEach(fn func(connID string, alert *models.Alert)) {
	r.mu.RLock()
	snapshot := make(map[string]*models.Alert, len(r.alerts))
	for id, alert := range r.alerts {
		snapshot[id] = alert
	}
	r.mu.RUnlock()

	for id, alert := range snapshot {
		fn(id, alert)
	}
}

// Len returns the number of connections with an active alert.
func (r *AlertRegistry) Len() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.alerts)
}
