package redis

import (
	"context"
	"time"

	"github.com/crabzie/task-console/internal/core/port"
	"github.com/gofiber/storage/redis/v3"
	"go.uber.org/zap"
)

type cacheEngine struct {
	storage *redis.Storage
	prefix  string
	log     *zap.Logger
}

// NewCacheEngine creates a Redis backed cache engine. Keys are namespaced by prefix.
func NewCacheEngine(storage *redis.Storage, prefix string, log *zap.Logger) port.CacheEngine {
	return &cacheEngine{
		storage: storage,
		prefix:  prefix,
		log:     log,
	}
}

func (c *cacheEngine) Get(_ context.Context, key string) ([]byte, bool, error) {
	val, err := c.storage.Get(c.prefix + key)
	if err != nil {
		c.log.Warn("Cache read failed", zap.String("key", key), zap.Error(err))
		return nil, false, err
	}
	// storage returns nil, nil for missing keys
	if val == nil {
		return nil, false, nil
	}
	return val, true, nil
}

func (c *cacheEngine) Set(_ context.Context, key string, value []byte, ttl time.Duration) error {
	return c.storage.Set(c.prefix+key, value, ttl)
}

func (c *cacheEngine) Delete(_ context.Context, keys ...string) error {
	for _, key := range keys {
		if err := c.storage.Delete(c.prefix + key); err != nil {
			return err
		}
	}
	return nil
}

func (c *cacheEngine) Close(_ context.Context) error {
	return c.storage.Close()
}
