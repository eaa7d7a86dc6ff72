package main

import (
	"context"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"

	"pricepulse/config"
	"pricepulse/routes"
	"pricepulse/scheduler"
	"pricepulse/services"
)

func main() {
	// Load configuration
	cfg, err := config.LoadConfig()
	if err != nil {
		panic(err)
	}

	logger := newLogger(cfg.Environment)
	defer logger.Sync()

	logger.Info("pricepulse starting",
		zap.String("environment", cfg.Environment),
		zap.Duration("update_interval", cfg.UpdateInterval),
		zap.Duration("cache_ttl", cfg.CacheTTL))

	// Set Gin mode based on environment
	if cfg.Environment == "production" {
		gin.SetMode(gin.ReleaseMode)
	}

	// Durable alert store. Starting without it is not allowed.
	store, err := services.NewMongoAlertStore(context.Background(), cfg.MongoURI, logger)
	if err != nil {
		logger.Fatal("failed to connect to alert store", zap.Error(err))
	}

	// Market data: redis-backed snapshot cache in front of the upstream
	// source. Redis being down only degrades caching, never availability.
	redisClient := redis.NewClient(&redis.Options{
		Addr:     cfg.RedisAddr(),
		Password: cfg.RedisPassword,
	})
	cache := services.NewRedisSnapshotCache(redisClient, logger)
	market := services.NewMarketDataService(cfg.CoinGeckoBaseURL, cfg.InstrumentIDs, cfg.CacheTTL, cache, logger)

	registry := services.NewAlertRegistry()
	hub := services.NewBroadcastHub(registry, store, cfg.AllowedOrigin, logger)
	cycle := services.NewUpdateCycle(market, hub, registry, store, logger)

	// Start the periodic driver
	jobScheduler := scheduler.NewScheduler(logger)
	if err := jobScheduler.Start(cfg.UpdateInterval, cycle.Run); err != nil {
		logger.Fatal("failed to start scheduler", zap.Error(err))
	}

	// HTTP layer
	router := gin.New()
	router.Use(gin.Recovery())
	router.Use(corsMiddleware(cfg.AllowedOrigin))
	router.Use(requestLogger(logger))

	setupHealthEndpoints(router, store)
	routes.SetupRoutes(router, hub, registry, market, cycle, store)

	server := &http.Server{
		Addr:              "0.0.0.0:" + cfg.Port,
		Handler:           router,
		ReadTimeout:       30 * time.Second,
		WriteTimeout:      60 * time.Second,
		IdleTimeout:       120 * time.Second,
		ReadHeaderTimeout: 10 * time.Second,
		MaxHeaderBytes:    1 << 20, // 1 MB
	}

	go func() {
		logger.Info("server listening", zap.String("addr", server.Addr))
		if err := server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			logger.Fatal("server error", zap.Error(err))
		}
	}()

	gracefulShutdown(server, jobScheduler, hub, market, store, logger)
}

// newLogger builds the process logger for the given environment.
func newLogger(environment string) *zap.Logger {
	var logger *zap.Logger
	var err error
	if environment == "production" {
		logger, err = zap.NewProduction()
	} else {
		logger, err = zap.NewDevelopment()
	}
	if err != nil {
		panic(err)
	}
	return logger
}

// setupHealthEndpoints sets up liveness and readiness probes.
func setupHealthEndpoints(router *gin.Engine, store *services.MongoAlertStore) {
	// Liveness probe - always returns OK if server is running
	router.GET("/health", func(c *gin.Context) {
		c.JSON(http.StatusOK, gin.H{
			"status": "ok",
		})
	})

	// Readiness probe - checks the durable store connection
	router.GET("/ready", func(c *gin.Context) {
		if err := store.Ping(c.Request.Context()); err != nil {
			c.JSON(http.StatusServiceUnavailable, gin.H{
				"status":  "not_ready",
				"message": "Alert store ping failed",
			})
			return
		}
		c.JSON(http.StatusOK, gin.H{
			"status": "ready",
		})
	})
}

// corsMiddleware returns a CORS middleware restricted to the configured
// client origin
func corsMiddleware(allowedOrigin string) gin.HandlerFunc {
	return func(c *gin.Context) {
		c.Header("Access-Control-Allow-Origin", allowedOrigin)
		c.Header("Access-Control-Allow-Methods", "GET, POST, OPTIONS")
		c.Header("Access-Control-Allow-Headers", "Origin, Content-Type, Accept")
		c.Header("Access-Control-Max-Age", "86400")

		if c.Request.Method == "OPTIONS" {
			c.AbortWithStatus(http.StatusNoContent)
			return
		}

		c.Next()
	}
}

// requestLogger returns a request logging middleware
func requestLogger(logger *zap.Logger) gin.HandlerFunc {
	return func(c *gin.Context) {
		// Skip logging for health checks to reduce noise
		path := c.Request.URL.Path
		if path == "/health" || path == "/ready" {
			c.Next()
			return
		}

		start := time.Now()
		c.Next()
		duration := time.Since(start)

		// Only log errors or slow requests
		if c.Writer.Status() >= 400 || duration > 1*time.Second {
			logger.Warn("request",
				zap.String("method", c.Request.Method),
				zap.String("path", path),
				zap.Int("status", c.Writer.Status()),
				zap.Duration("duration", duration))
		}
	}
}

// gracefulShutdown drains connections and alerts before process exit.
// A drain that overruns the grace window is a fatal exit condition.
func gracefulShutdown(server *http.Server, jobScheduler *scheduler.Scheduler, hub *services.BroadcastHub, market *services.MarketDataService, store *services.MongoAlertStore, logger *zap.Logger) {
	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM, syscall.SIGQUIT)

	sig := <-quit
	logger.Info("shutdown signal received", zap.String("signal", sig.String()))

	coordinator := services.NewShutdownCoordinator(jobScheduler, hub, market, logger)

	ctx, cancel := context.WithTimeout(context.Background(), services.ShutdownGracePeriod)
	defer cancel()

	if err := coordinator.Shutdown(ctx); err != nil {
		logger.Error("forced shutdown", zap.Error(err))
		os.Exit(1)
	}

	// Shutdown HTTP server
	if err := server.Shutdown(ctx); err != nil {
		logger.Warn("server forced to shutdown", zap.Error(err))
	}

	// Close the durable store last
	if err := store.Close(context.Background()); err != nil {
		logger.Warn("failed to close alert store", zap.Error(err))
	}

	logger.Info("server shutdown completed")
}
