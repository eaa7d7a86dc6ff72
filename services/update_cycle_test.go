package services

import (
	"context"
	"errors"
	"testing"

	"go.uber.org/zap"

	"pricepulse/models"
)

func newTestCycle(snapshot []models.Instrument) (*UpdateCycle, *fakeMarket, *fakeBroadcaster, *AlertRegistry, *fakeAlertStore) {
	market := &fakeMarket{snapshot: snapshot}
	hub := &fakeBroadcaster{}
	registry := NewAlertRegistry()
	store := newFakeAlertStore()
	cycle := NewUpdateCycle(market, hub, registry, store, zap.NewNop())
	return cycle, market, hub, registry, store
}

func TestUpdateCycle_BroadcastsSnapshotToGlobal(t *testing.T) {
	snapshot := []models.Instrument{{ID: "bitcoin", Name: "Bitcoin", Price: 60000}}
	cycle, _, hub, _, _ := newTestCycle(snapshot)

	cycle.Run()

	if len(hub.published) != 1 {
		t.Fatalf("expected one publish, got %d", len(hub.published))
	}
	if hub.published[0].Group != GroupGlobal || hub.published[0].Type != models.EventPriceUpdate {
		t.Errorf("expected priceUpdate to global, got %s to %s",
			hub.published[0].Type, hub.published[0].Group)
	}
}

func TestUpdateCycle_NoAlerts_NoTriggers(t *testing.T) {
	snapshot := []models.Instrument{{ID: "bitcoin", Name: "Bitcoin", Price: 60000}}
	cycle, _, hub, _, _ := newTestCycle(snapshot)

	for i := 0; i < 5; i++ {
		cycle.Run()
	}

	if len(hub.sent) != 0 {
		t.Errorf("connections without alerts must never receive alertTriggered, got %d sends", len(hub.sent))
	}
}

func TestUpdateCycle_CrossingIsStrict(t *testing.T) {
	cases := []struct {
		name      string
		condition string
		target    float64
		price     float64
		triggers  bool
	}{
		{"above triggers when price > target", models.ConditionAbove, 59000, 59500, true},
		{"above does not trigger at equality", models.ConditionAbove, 59000, 59000, false},
		{"above does not trigger below target", models.ConditionAbove, 59000, 58000, false},
		{"below triggers when price < target", models.ConditionBelow, 59000, 58500, true},
		{"below does not trigger at equality", models.ConditionBelow, 59000, 59000, false},
		{"below does not trigger above target", models.ConditionBelow, 59000, 60000, false},
	}

	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			snapshot := []models.Instrument{{ID: "bitcoin", Name: "Bitcoin", Price: tc.price}}
			cycle, _, hub, registry, _ := newTestCycle(snapshot)

			registry.Set("c1", &models.Alert{
				ID:           "a1",
				OwnerID:      "c1",
				InstrumentID: "bitcoin",
				TargetPrice:  tc.target,
				Condition:    tc.condition,
				IsActive:     true,
			})

			cycle.Run()

			triggered := len(hub.sentTo("c1")) > 0
			if triggered != tc.triggers {
				t.Errorf("price=%v target=%v condition=%s: triggered=%v, want %v",
					tc.price, tc.target, tc.condition, triggered, tc.triggers)
			}
		})
	}
}

func TestUpdateCycle_TriggerOnceThenNeverAgain(t *testing.T) {
	// Price crosses, then oscillates below and above the target again.
	cycle, market, hub, registry, store := newTestCycle(nil)

	registry.Set("c1", &models.Alert{
		ID:           "a1",
		OwnerID:      "c1",
		InstrumentID: "bitcoin",
		TargetPrice:  59000,
		Condition:    models.ConditionAbove,
		IsActive:     true,
	})

	market.setSnapshot([]models.Instrument{{ID: "bitcoin", Name: "Bitcoin", Price: 60000}})
	cycle.Run()

	sent := hub.sentTo("c1")
	if len(sent) != 1 {
		t.Fatalf("expected exactly one alertTriggered, got %d", len(sent))
	}
	if sent[0].Type != models.EventAlertTriggered {
		t.Errorf("expected %s event, got %s", models.EventAlertTriggered, sent[0].Type)
	}
	payload, ok := sent[0].Data.(models.AlertTriggeredPayload)
	if !ok {
		t.Fatalf("unexpected payload type %T", sent[0].Data)
	}
	if payload.CurrentPrice != 60000 || payload.TargetPrice != 59000 {
		t.Errorf("unexpected payload %+v", payload)
	}

	if registry.Get("c1") != nil {
		t.Errorf("registry entry must be cleared atomically with the trigger")
	}
	if store.deactivateCount("a1") != 1 {
		t.Errorf("expected one durable deactivation, got %d", store.deactivateCount("a1"))
	}
	if len(hub.left) != 1 || hub.left[0].Group != InstrumentGroup("bitcoin") {
		t.Errorf("connection should leave the instrument group, got %v", hub.left)
	}

	for _, price := range []float64{58000, 61000, 58000, 62000} {
		market.setSnapshot([]models.Instrument{{ID: "bitcoin", Name: "Bitcoin", Price: price}})
		cycle.Run()
	}

	if got := len(hub.sentTo("c1")); got != 1 {
		t.Errorf("alert must trigger at most once, got %d triggers", got)
	}
	if store.deactivateCount("a1") != 1 {
		t.Errorf("alert must be deactivated at most once, got %d", store.deactivateCount("a1"))
	}
}

func TestUpdateCycle_ScenarioBitcoinAbove(t *testing.T) {
	// Instrument at 60000, alert above 59000: next cycle with 59500
	// triggers once, then the alert is inactive for good.
	cycle, market, hub, registry, store := newTestCycle(nil)

	registry.Set("c1", &models.Alert{
		ID:           "a1",
		OwnerID:      "c1",
		InstrumentID: "bitcoin",
		TargetPrice:  59000,
		Condition:    models.ConditionAbove,
		IsActive:     true,
	})

	market.setSnapshot([]models.Instrument{{ID: "bitcoin", Name: "Bitcoin", Price: 59500}})
	cycle.Run()

	if got := len(hub.sentTo("c1")); got != 1 {
		t.Fatalf("expected one trigger at 59500, got %d", got)
	}

	active, _ := store.ListActive(context.Background())
	if len(active) != 0 {
		t.Errorf("alert should be durably inactive after trigger, %d still active", len(active))
	}

	market.setSnapshot([]models.Instrument{{ID: "bitcoin", Name: "Bitcoin", Price: 58000}})
	cycle.Run()
	market.setSnapshot([]models.Instrument{{ID: "bitcoin", Name: "Bitcoin", Price: 61000}})
	cycle.Run()

	if got := len(hub.sentTo("c1")); got != 1 {
		t.Errorf("no further triggers expected after deactivation, got %d", got)
	}
}

func TestUpdateCycle_MissingInstrumentIsSkipped(t *testing.T) {
	snapshot := []models.Instrument{{ID: "ethereum", Name: "Ethereum", Price: 4000}}
	cycle, _, hub, registry, _ := newTestCycle(snapshot)

	registry.Set("c1", &models.Alert{
		ID:           "a1",
		OwnerID:      "c1",
		InstrumentID: "bitcoin",
		TargetPrice:  1,
		Condition:    models.ConditionAbove,
		IsActive:     true,
	})

	cycle.Run()

	if len(hub.sentTo("c1")) != 0 {
		t.Errorf("alert on a missing instrument must be skipped this cycle")
	}
	if registry.Get("c1") == nil {
		t.Errorf("skipped alert must stay registered for the next cycle")
	}
}

func TestUpdateCycle_DeactivateFailureDoesNotAbort(t *testing.T) {
	snapshot := []models.Instrument{
		{ID: "bitcoin", Name: "Bitcoin", Price: 60000},
		{ID: "ethereum", Name: "Ethereum", Price: 4000},
	}
	cycle, _, hub, registry, store := newTestCycle(snapshot)
	store.deactivateErr = errors.New("store unavailable")

	registry.Set("c1", &models.Alert{
		ID: "a1", OwnerID: "c1", InstrumentID: "bitcoin",
		TargetPrice: 59000, Condition: models.ConditionAbove, IsActive: true,
	})
	registry.Set("c2", &models.Alert{
		ID: "a2", OwnerID: "c2", InstrumentID: "ethereum",
		TargetPrice: 3900, Condition: models.ConditionAbove, IsActive: true,
	})

	cycle.Run()

	if len(hub.sentTo("c1")) != 1 || len(hub.sentTo("c2")) != 1 {
		t.Errorf("a failed deactivate must not abort evaluation of other connections")
	}
	if registry.Len() != 0 {
		t.Errorf("registry entries must still be cleared, %d remain", registry.Len())
	}
}

func TestUpdateCycle_PerConnectionFailureIsolated(t *testing.T) {
	snapshot := []models.Instrument{
		{ID: "bitcoin", Name: "Bitcoin", Price: 60000},
		{ID: "ethereum", Name: "Ethereum", Price: 4000},
	}
	cycle, _, hub, registry, _ := newTestCycle(snapshot)
	hub.panicOn = "c1"

	registry.Set("c1", &models.Alert{
		ID: "a1", OwnerID: "c1", InstrumentID: "bitcoin",
		TargetPrice: 59000, Condition: models.ConditionAbove, IsActive: true,
	})
	registry.Set("c2", &models.Alert{
		ID: "a2", OwnerID: "c2", InstrumentID: "ethereum",
		TargetPrice: 3900, Condition: models.ConditionAbove, IsActive: true,
	})

	cycle.Run()

	if len(hub.sentTo("c2")) != 1 {
		t.Errorf("a failing connection must not prevent evaluation of the rest")
	}
}

func TestUpdateCycle_SameSnapshotForWholeCycle(t *testing.T) {
	// The snapshot broadcast and the snapshot evaluated are the same
	// fetch result, even if the market moves mid-cycle.
	snapshot := []models.Instrument{{ID: "bitcoin", Name: "Bitcoin", Price: 59500}}
	cycle, _, hub, registry, _ := newTestCycle(snapshot)

	registry.Set("c1", &models.Alert{
		ID: "a1", OwnerID: "c1", InstrumentID: "bitcoin",
		TargetPrice: 59000, Condition: models.ConditionAbove, IsActive: true,
	})

	cycle.Run()

	published, ok := hub.published[0].Data.([]models.Instrument)
	if !ok {
		t.Fatalf("unexpected publish payload type %T", hub.published[0].Data)
	}
	triggered := hub.sentTo("c1")[0].Data.(models.AlertTriggeredPayload)
	if published[0].Price != triggered.CurrentPrice {
		t.Errorf("broadcast price %v and evaluated price %v must come from one snapshot",
			published[0].Price, triggered.CurrentPrice)
	}
}
