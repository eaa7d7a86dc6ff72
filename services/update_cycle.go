package services

import (
	"context"
	"sync"
	"time"

	"go.uber.org/zap"

	"pricepulse/models"
)

// MarketDataProvider yields the snapshot a cycle evaluates against. Get
// never fails; upstream trouble degrades to stale or empty data.
type MarketDataProvider interface {
	Get(ctx context.Context) []models.Instrument
}

// Broadcaster is the slice of the hub the cycle needs: group fan-out,
// single-connection delivery and interest-group cleanup.
type Broadcaster interface {
	Publish(group, msgType string, data interface{})
	SendTo(connID, msgType string, data interface{}) bool
	Leave(connID, group string)
}

// AlertDeactivator is the slice of the durable store the cycle needs.
type AlertDeactivator interface {
	Deactivate(ctx context.Context, alertID string) (*models.Alert, error)
}

// UpdateCycle drives one Fetch -> Broadcast -> Evaluate pass per timer
// tick. Cycles never overlap: a tick that arrives while a cycle is still
// running is skipped.
type UpdateCycle struct {
	market   MarketDataProvider
	hub      Broadcaster
	registry *AlertRegistry
	store    AlertDeactivator
	logger   *zap.Logger

	mu        sync.Mutex // held for the duration of one cycle
	statusMu  sync.RWMutex
	lastState string
	lastRun   time.Time
}

// NewUpdateCycle wires a cycle to its collaborators.
func NewUpdateCycle(market MarketDataProvider, hub Broadcaster, registry *AlertRegistry, store AlertDeactivator, logger *zap.Logger) *UpdateCycle {
	return &UpdateCycle{
		market:    market,
		hub:       hub,
		registry:  registry,
		store:     store,
		logger:    logger,
		lastState: "idle",
	}
}

// Run executes one cycle. The scheduler also runs the job in singleton
// mode; the TryLock here makes skipped-tick semantics independent of the
// driver.
func (u *UpdateCycle) Run() {
	if !u.mu.TryLock() {
		u.logger.Warn("previous cycle still running, skipping tick")
		return
	}
	defer u.mu.Unlock()

	defer func() {
		if r := recover(); r != nil {
			u.logger.Error("cycle failed unexpectedly", zap.Any("panic", r))
			u.hub.Publish(GroupGlobal, models.EventError, models.ErrorPayload{
				Type:    models.ErrorTypeUpdate,
				Message: "Failed to fetch market updates",
			})
			u.setState("idle")
		}
	}()

	ctx := context.Background()

	u.setState("fetching")
	snapshot := u.market.Get(ctx)

	u.setState("broadcasting")
	u.hub.Publish(GroupGlobal, models.EventPriceUpdate, snapshot)

	u.setState("evaluating")
	u.evaluate(ctx, snapshot)

	u.setState("idle")
	u.statusMu.Lock()
	u.lastRun = time.Now()
	u.statusMu.Unlock()
}

// evaluate checks every registered alert against the one snapshot this
// cycle fetched, so no connection sees a mix of old and new data.
func (u *UpdateCycle) evaluate(ctx context.Context, snapshot []models.Instrument) {
	index := models.IndexSnapshot(snapshot)

	u.registry.ForEach(func(connID string, alert *models.Alert) {
		defer func() {
			if r := recover(); r != nil {
				u.logger.Error("alert evaluation failed",
					zap.String("conn_id", connID), zap.Any("panic", r))
			}
		}()

		instrument, ok := index[alert.InstrumentID]
		if !ok {
			// Instrument temporarily missing upstream; retry next cycle.
			return
		}

		if !alert.Crossed(instrument.Price) {
			return
		}

		u.trigger(ctx, connID, alert, instrument)
	})
}

// trigger fires a crossed alert at most once: the registry entry is
// cleared in the same pass as the emission, so a re-run of evaluation
// cannot re-trigger it.
func (u *UpdateCycle) trigger(ctx context.Context, connID string, alert *models.Alert, instrument models.Instrument) {
	u.hub.SendTo(connID, models.EventAlertTriggered, models.AlertTriggeredPayload{
		InstrumentID: alert.InstrumentID,
		Name:         instrument.Name,
		CurrentPrice: instrument.Price,
		TargetPrice:  alert.TargetPrice,
		Condition:    alert.Condition,
	})

	// Best-effort: a failed deactivate is logged, never aborts the cycle.
	if _, err := u.store.Deactivate(ctx, alert.ID); err != nil {
		u.logger.Warn("failed to deactivate triggered alert",
			zap.String("alert_id", alert.ID), zap.Error(err))
	}

	u.registry.Clear(connID)
	u.hub.Leave(connID, InstrumentGroup(alert.InstrumentID))

	u.logger.Info("alert triggered",
		zap.String("conn_id", connID),
		zap.String("instrument_id", alert.InstrumentID),
		zap.Float64("price", instrument.Price),
		zap.Float64("target", alert.TargetPrice),
		zap.String("condition", alert.Condition))
}

func (u *UpdateCycle) setState(state string) {
	u.statusMu.Lock()
	u.lastState = state
	u.statusMu.Unlock()
}

// State returns the cycle's current phase.
func (u *UpdateCycle) State() string {
	u.statusMu.RLock()
	defer u.statusMu.RUnlock()
	return u.lastState
}

// LastRun returns when the last full cycle completed.
func (u *UpdateCycle) LastRun() time.Time {
	u.statusMu.RLock()
	defer u.statusMu.RUnlock()
	return u.lastRun
}
