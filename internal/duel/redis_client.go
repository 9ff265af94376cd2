package duel

import (
	"context"
	"fmt"

	"github.com/redis/go-redis/v9"
)

var (
	rdb *redis.Client
	ctx = context.Background()
)

// InitRedis initializes the shared Redis client used by the event stream
// publisher and the run_tests rate limiter.
func InitRedis(addr, password string, db int) error {
	rdb = redis.NewClient(&redis.Options{
		Addr:     addr,
		Password: password,
		DB:       db,
	})

	if _, err := rdb.Ping(ctx).Result(); err != nil {
		return fmt.Errorf("failed to connect to Redis: %w", err)
	}
	return nil
}

// GetRedisClient returns the Redis client instance. Nil when Redis is not
// configured; callers degrade to in-memory behavior.
func GetRedisClient() *redis.Client {
	return rdb
}
