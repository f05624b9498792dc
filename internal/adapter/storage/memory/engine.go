package memory

import (
	"context"
	"errors"
	"sync"
	"time"

	"github.com/crabzie/task-console/internal/core/port"
)

// ErrCacheFull is returned when the engine holds MaxItems and a new key arrives
var ErrCacheFull = errors.New("cache is full")

// EngineConfig bounds the in-memory cache engine
type EngineConfig struct {
	MaxItems        int
	CleanupInterval time.Duration
}

// cacheEngine implements port.CacheEngine with a map and a cleanup goroutine
type cacheEngine struct {
	config EngineConfig
	items  map[string]cacheItem
	mutex  sync.RWMutex
	cancel context.CancelFunc
	done   chan struct{}
}

type cacheItem struct {
	value      []byte
	expiration time.Time
}

// NewCacheEngine creates the engine and starts expiring items every CleanupInterval
func NewCacheEngine(config EngineConfig) port.CacheEngine {
	ctx, cancel := context.WithCancel(context.Background())
	c := &cacheEngine{
		config: config,
		items:  make(map[string]cacheItem),
		cancel: cancel,
		done:   make(chan struct{}),
	}
	go c.startCleanupTimer(ctx)
	return c
}

func (c *cacheEngine) Get(_ context.Context, key string) ([]byte, bool, error) {
	c.mutex.RLock()
	defer c.mutex.RUnlock()

	item, found := c.items[key]
	if !found {
		return nil, false, nil
	}
	if !item.expiration.IsZero() && time.Now().After(item.expiration) {
		return nil, false, nil
	}
	return item.value, true, nil
}

func (c *cacheEngine) Set(_ context.Context, key string, value []byte, ttl time.Duration) error {
	c.mutex.Lock()
	defer c.mutex.Unlock()

	if _, exists := c.items[key]; !exists && c.config.MaxItems > 0 && len(c.items) >= c.config.MaxItems {
		return ErrCacheFull
	}

	var exp time.Time
	if ttl > 0 {
		exp = time.Now().Add(ttl)
	}
	c.items[key] = cacheItem{value: value, expiration: exp}
	return nil
}

func (c *cacheEngine) Delete(_ context.Context, keys ...string) error {
	c.mutex.Lock()
	defer c.mutex.Unlock()

	for _, key := range keys {
		delete(c.items, key)
	}
	return nil
}

// Close stops the cleanup goroutine and waits for it to exit
func (c *cacheEngine) Close(_ context.Context) error {
	c.cancel()
	<-c.done
	return nil
}

func (c *cacheEngine) startCleanupTimer(ctx context.Context) {
	defer close(c.done)
	if c.config.CleanupInterval <= 0 {
		<-ctx.Done()
		return
	}

	ticker := time.NewTicker(c.config.CleanupInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ticker.C:
			c.cleanupExpiredItems()
		case <-ctx.Done():
			return
		}
	}
}

func (c *cacheEngine) cleanupExpiredItems() {
	now := time.Now()
	c.mutex.Lock()
	defer c.mutex.Unlock()

	for key, item := range c.items {
		if !item.expiration.IsZero() && now.After(item.expiration) {
			delete(c.items, key)
		}
	}
}
