package routes

import (
	"github.com/gin-gonic/gin"

	"pricepulse/controllers"
	"pricepulse/services"
)

// SetupRoutes sets up all API routes
func SetupRoutes(router *gin.Engine, hub *services.BroadcastHub, registry *services.AlertRegistry, market *services.MarketDataService, cycle *services.UpdateCycle, store services.AlertStore) {
	statusController := controllers.NewStatusController(hub, registry, market, cycle, store)

	// WebSocket subscriber endpoint
	router.GET("/ws", func(c *gin.Context) {
		hub.HandleWebSocket(c.Writer, c.Request)
	})

	// API v1 group
	api := router.Group("/api/v1")
	{
		api.GET("/status", statusController.GetStatus)

		marketRoutes := api.Group("/market")
		{
			marketRoutes.GET("/snapshot", statusController.GetMarketSnapshot)
		}

		alerts := api.Group("/alerts")
		{
			alerts.GET("/active", statusController.GetActiveAlerts)
		}
	}
}
