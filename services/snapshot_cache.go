package services

import (
	"context"
	"encoding/json"
	"errors"
	"time"

	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"

	"pricepulse/models"
)

// SnapshotCacheKey is the single shared cache entry for the market
// snapshot. The cache is not per-instrument.
const SnapshotCacheKey = "marketSnapshot"

// redisOpTimeout bounds every cache round trip so a slow Redis can never
// stall the broadcast path.
const redisOpTimeout = 2 * time.Second

// SnapshotCache stores the latest market snapshot with a TTL.
type SnapshotCache interface {
	// Get returns the cached snapshot and whether a live entry was found.
	Get(ctx context.Context) ([]models.Instrument, bool)
	// Set stores a snapshot, replacing any previous entry.
	Set(ctx context.Context, snapshot []models.Instrument, ttl time.Duration)
	// Close releases the cache's underlying resources.
	Close() error
}

// RedisSnapshotCache backs SnapshotCache with a single Redis string key.
// Expiry is delegated to Redis TTL. Every failure is a soft miss: callers
// fall through to the upstream fetch.
type RedisSnapshotCache struct {
	client *redis.Client
	logger *zap.Logger
}

// NewRedisSnapshotCache wraps an existing Redis client. The client is
// pinged so a misconfigured address is visible at startup, but failure is
// not fatal — the cache degrades to a pass-through.
func NewRedisSnapshotCache(client *redis.Client, logger *zap.Logger) *RedisSnapshotCache {
	ctx, cancel := context.WithTimeout(context.Background(), redisOpTimeout)
	defer cancel()

	if err := client.Ping(ctx).Err(); err != nil {
		logger.Warn("redis unreachable, snapshot cache will pass through", zap.Error(err))
	} else {
		logger.Info("snapshot cache connected to redis")
	}

	return &RedisSnapshotCache{client: client, logger: logger}
}

func (c *RedisSnapshotCache) Get(ctx context.Context) ([]models.Instrument, bool) {
	ctx, cancel := context.WithTimeout(ctx, redisOpTimeout)
	defer cancel()

	data, err := c.client.Get(ctx, SnapshotCacheKey).Bytes()
	if err != nil {
		if !errors.Is(err, redis.Nil) {
			c.logger.Warn("snapshot cache read failed", zap.Error(err))
		}
		return nil, false
	}

	var snapshot []models.Instrument
	if err := json.Unmarshal(data, &snapshot); err != nil {
		c.logger.Warn("snapshot cache entry corrupt, discarding", zap.Error(err))
		return nil, false
	}
	return snapshot, true
}

func (c *RedisSnapshotCache) Set(ctx context.Context, snapshot []models.Instrument, ttl time.Duration) {
	data, err := json.Marshal(snapshot)
	if err != nil {
		c.logger.Warn("snapshot cache marshal failed", zap.Error(err))
		return
	}

	ctx, cancel := context.WithTimeout(ctx, redisOpTimeout)
	defer cancel()

	if err := c.client.Set(ctx, SnapshotCacheKey, data, ttl).Err(); err != nil {
		c.logger.Warn("snapshot cache write failed", zap.Error(err))
	}
}

func (c *RedisSnapshotCache) Close() error {
	return c.client.Close()
}
