package services

import (
	"context"
	"fmt"
	"time"

	"go.uber.org/zap"
)

// ShutdownGracePeriod bounds the whole drain. Exceeding it is a fatal
// exit condition.
const ShutdownGracePeriod = 10 * time.Second

// CycleStopper stops the periodic driver so no new cycles start.
type CycleStopper interface {
	Stop()
}

// ResourceCloser releases a collaborator's underlying resources.
type ResourceCloser interface {
	Close() error
}

// ShutdownCoordinator drains the process on shutdown: it stops the timer,
// disconnects every subscriber (deactivating their alerts), and releases
// the market data cache.
type ShutdownCoordinator struct {
	scheduler CycleStopper
	hub       *BroadcastHub
	market    ResourceCloser
	logger    *zap.Logger
	grace     time.Duration
}

// NewShutdownCoordinator wires the coordinator to everything it drains.
func NewShutdownCoordinator(scheduler CycleStopper, hub *BroadcastHub, market ResourceCloser, logger *zap.Logger) *ShutdownCoordinator {
	return &ShutdownCoordinator{
		scheduler: scheduler,
		hub:       hub,
		market:    market,
		logger:    logger,
		grace:     ShutdownGracePeriod,
	}
}

// Shutdown runs the drain. It returns an error when the grace period
// elapses first; the caller treats that as a fatal exit condition.
func (s *ShutdownCoordinator) Shutdown(ctx context.Context) error {
	s.logger.Info("starting graceful shutdown", zap.Duration("grace", s.grace))

	ctx, cancel := context.WithTimeout(ctx, s.grace)
	defer cancel()

	done := make(chan struct{})
	go func() {
		defer close(done)

		// No new cycles start; an in-flight cycle finishes on its own or
		// is abandoned with the process.
		s.scheduler.Stop()

		// Disconnect every subscriber. Unregister deactivates each
		// connection's alert before the connection is closed.
		s.hub.DisconnectAll()

		if err := s.market.Close(); err != nil {
			s.logger.Warn("failed to close market data resources", zap.Error(err))
		}
	}()

	select {
	case <-done:
		s.logger.Info("graceful shutdown completed")
		return nil
	case <-ctx.Done():
		return fmt.Errorf("shutdown drain exceeded grace period of %s", s.grace)
	}
}
