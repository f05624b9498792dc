// Package redis provides Redis cache server implimentation logic.
package redis

import (
	"context"
	"time"

	config "github.com/crabzie/task-console/config/utils"

	"github.com/gofiber/storage/redis/v3"
	redigo "github.com/redis/go-redis/v9"
)

type Redis struct {
	Client *redis.Storage
	conn   redigo.UniversalClient
}

// New creates a new instance of Redis
func New(ctx context.Context, config *config.Redis) (*Redis, error) {
	client := redigo.NewUniversalClient(&redigo.UniversalOptions{
		Addrs:           []string{config.Addr},
		Password:        config.Password,
		DB:              config.DB,
		MaxRetries:      3,
		MinRetryBackoff: 100 * time.Millisecond,
		MaxRetryBackoff: 1 * time.Second,
		DialTimeout:     5 * time.Second,
		ReadTimeout:     3 * time.Second,
		WriteTimeout:    3 * time.Second,
		PoolSize:        10,
		MinIdleConns:    2,
		ConnMaxIdleTime: 5 * time.Minute,
	})

	if _, err := client.Ping(ctx).Result(); err != nil {
		client.Close()
		return nil, err
	}

	return FromConnection(client), nil
}

// FromConnection wraps an already connected client
func FromConnection(client redigo.UniversalClient) *Redis {
	return &Redis{Client: redis.NewFromConnection(client), conn: client}
}

// Health pings the server
func (r *Redis) Health(ctx context.Context) error {
	return r.conn.Ping(ctx).Err()
}
