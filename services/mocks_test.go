package services

import (
	"context"
	"sync"
	"time"

	"github.com/google/uuid"

	"pricepulse/models"
)

// fakeAlertStore simulates the durable alert store and records the order
// of operations.
type fakeAlertStore struct {
	mu            sync.Mutex
	created       []models.Alert
	deactivated   []string
	ops           []string // "create:<instrument>" / "deactivate:<id>"
	createErr     error
	deactivateErr error
}

func newFakeAlertStore() *fakeAlertStore {
	return &fakeAlertStore{}
}

func (f *fakeAlertStore) Create(ctx context.Context, ownerID string, input models.AlertInput) (*models.Alert, error) {
	if err := input.Validate(); err != nil {
		return nil, err
	}

	f.mu.Lock()
	defer f.mu.Unlock()

	if f.createErr != nil {
		return nil, f.createErr
	}

	alert := models.Alert{
		ID:           uuid.NewString(),
		OwnerID:      ownerID,
		InstrumentID: input.InstrumentID,
		TargetPrice:  input.TargetPrice,
		Condition:    input.Condition,
		IsActive:     true,
		CreatedAt:    time.Now(),
	}
	f.created = append(f.created, alert)
	f.ops = append(f.ops, "create:"+input.InstrumentID)
	return &alert, nil
}

func (f *fakeAlertStore) ListActive(ctx context.Context) ([]models.Alert, error) {
	f.mu.Lock()
	defer f.mu.Unlock()

	var active []models.Alert
	for _, alert := range f.created {
		if !f.isDeactivated(alert.ID) {
			active = append(active, alert)
		}
	}
	return active, nil
}

func (f *fakeAlertStore) Deactivate(ctx context.Context, alertID string) (*models.Alert, error) {
	f.mu.Lock()
	defer f.mu.Unlock()

	if f.deactivateErr != nil {
		return nil, f.deactivateErr
	}

	f.deactivated = append(f.deactivated, alertID)
	f.ops = append(f.ops, "deactivate:"+alertID)
	for _, alert := range f.created {
		if alert.ID == alertID {
			alert.IsActive = false
			return &alert, nil
		}
	}
	return nil, models.ErrAlertNotFound
}

func (f *fakeAlertStore) Close(ctx context.Context) error { return nil }

func (f *fakeAlertStore) isDeactivated(alertID string) bool {
	for _, id := range f.deactivated {
		if id == alertID {
			return true
		}
	}
	return false
}

func (f *fakeAlertStore) deactivateCount(alertID string) int {
	f.mu.Lock()
	defer f.mu.Unlock()

	count := 0
	for _, id := range f.deactivated {
		if id == alertID {
			count++
		}
	}
	return count
}

// fakeMarket returns a fixed snapshot.
type fakeMarket struct {
	mu       sync.Mutex
	snapshot []models.Instrument
}

func (f *fakeMarket) Get(ctx context.Context) []models.Instrument {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.snapshot
}

func (f *fakeMarket) setSnapshot(snapshot []models.Instrument) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.snapshot = snapshot
}

// fakeBroadcaster records deliveries instead of writing to sockets.
type publishedEvent struct {
	Group string
	Type  string
	Data  interface{}
}

type sentEvent struct {
	ConnID string
	Type   string
	Data   interface{}
}

type leftGroup struct {
	ConnID string
	Group  string
}

type fakeBroadcaster struct {
	mu        sync.Mutex
	published []publishedEvent
	sent      []sentEvent
	left      []leftGroup
	panicOn   string // conn id whose SendTo panics
}

func (f *fakeBroadcaster) Publish(group, msgType string, data interface{}) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.published = append(f.published, publishedEvent{Group: group, Type: msgType, Data: data})
}

func (f *fakeBroadcaster) SendTo(connID, msgType string, data interface{}) bool {
	if f.panicOn != "" && connID == f.panicOn {
		panic("send to failed connection")
	}
	f.mu.Lock()
	defer f.mu.Unlock()
	f.sent = append(f.sent, sentEvent{ConnID: connID, Type: msgType, Data: data})
	return true
}

func (f *fakeBroadcaster) Leave(connID, group string) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.left = append(f.left, leftGroup{ConnID: connID, Group: group})
}

func (f *fakeBroadcaster) sentTo(connID string) []sentEvent {
	f.mu.Lock()
	defer f.mu.Unlock()

	var events []sentEvent
	for _, e := range f.sent {
		if e.ConnID == connID {
			events = append(events, e)
		}
	}
	return events
}

// memorySnapshotCache is an in-process SnapshotCache with real TTL
// semantics, standing in for Redis.
type memorySnapshotCache struct {
	mu        sync.Mutex
	snapshot  []models.Instrument
	expiresAt time.Time
	sets      int
}

func (c *memorySnapshotCache) Get(ctx context.Context) ([]models.Instrument, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.snapshot == nil || time.Now().After(c.expiresAt) {
		return nil, false
	}
	return c.snapshot, true
}

func (c *memorySnapshotCache) Set(ctx context.Context, snapshot []models.Instrument, ttl time.Duration) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.snapshot = snapshot
	c.expiresAt = time.Now().Add(ttl)
	c.sets++
}

func (c *memorySnapshotCache) Close() error { return nil }
