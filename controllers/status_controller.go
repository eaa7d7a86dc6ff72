package controllers

import (
	"net/http"
	"time"

	"github.com/gin-gonic/gin"

	"pricepulse/services"
)

// StatusController exposes the REST view of the realtime service: health
// probes, service status and the data the hub broadcasts.
type StatusController struct {
	hub      *services.BroadcastHub
	registry *services.AlertRegistry
	market   *services.MarketDataService
	cycle    *services.UpdateCycle
	store    services.AlertStore
}

// NewStatusController creates a new status controller.
func NewStatusController(hub *services.BroadcastHub, registry *services.AlertRegistry, market *services.MarketDataService, cycle *services.UpdateCycle, store services.AlertStore) *StatusController {
	return &StatusController{
		hub:      hub,
		registry: registry,
		market:   market,
		cycle:    cycle,
		store:    store,
	}
}

// GetStatus returns service status info
// GET /api/v1/status
func (sc *StatusController) GetStatus(c *gin.Context) {
	lastFetched := ""
	if t := sc.market.LastFetched(); !t.IsZero() {
		lastFetched = t.Format(time.RFC3339)
	}
	lastCycle := ""
	if t := sc.cycle.LastRun(); !t.IsZero() {
		lastCycle = t.Format(time.RFC3339)
	}

	c.JSON(http.StatusOK, gin.H{
		"client_count": sc.hub.ClientCount(),
		"max_clients":  services.MaxWebSocketClients,
		"groups":       sc.hub.GroupCounts(),
		"armed_alerts": sc.registry.Len(),
		"cycle_state":  sc.cycle.State(),
		"last_cycle":   lastCycle,
		"last_fetched": lastFetched,
	})
}

// GetMarketSnapshot returns the current market snapshot via the cache.
// GET /api/v1/market/snapshot
func (sc *StatusController) GetMarketSnapshot(c *gin.Context) {
	snapshot := sc.market.Get(c.Request.Context())
	c.JSON(http.StatusOK, gin.H{
		"count": len(snapshot),
		"data":  snapshot,
	})
}

// GetActiveAlerts lists every durably active alert, including orphans
// whose owning connection is gone.
// GET /api/v1/alerts/active
func (sc *StatusController) GetActiveAlerts(c *gin.Context) {
	alerts, err := sc.store.ListActive(c.Request.Context())
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": "Failed to list active alerts"})
		return
	}

	c.JSON(http.StatusOK, gin.H{
		"count": len(alerts),
		"data":  alerts,
	})
}
