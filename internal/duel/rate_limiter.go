package duel

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/redis/go-redis/v9"
)

// RateLimiter caps run_tests requests per participant per minute. It uses
// Redis when configured and falls back to an in-memory window otherwise, so
// single-node deployments work without Redis.
type RateLimiter struct {
	rdb   *redis.Client
	ctx   context.Context
	limit int

	mu    sync.Mutex
	local map[string]*localWindow
}

type localWindow struct {
	count   int
	resetAt time.Time
}

// NewRateLimiter builds a limiter allowing limit run_tests per minute per
// (session, user) pair.
func NewRateLimiter(limit int) *RateLimiter {
	return &RateLimiter{
		rdb:   GetRedisClient(),
		ctx:   context.Background(),
		limit: limit,
		local: make(map[string]*localWindow),
	}
}

// Allow records one run_tests request and reports whether it is within the
// window. Redis errors fail open: the judge call proceeds.
func (rl *RateLimiter) Allow(sessionID, userID string) bool {
	if rl == nil || rl.limit <= 0 {
		return true
	}
	key := fmt.Sprintf("rate:runtests:%s:%s", sessionID, userID)
	if rl.rdb == nil {
		return rl.allowLocal(key)
	}

	count, err := rl.rdb.Incr(rl.ctx, key).Result()
	if err != nil {
		return true
	}
	if count == 1 {
		rl.rdb.Expire(rl.ctx, key, time.Minute)
	}
	return count <= int64(rl.limit)
}

func (rl *RateLimiter) allowLocal(key string) bool {
	rl.mu.Lock()
	defer rl.mu.Unlock()

	now := time.Now()
	w, ok := rl.local[key]
	if !ok || now.After(w.resetAt) {
		rl.local[key] = &localWindow{count: 1, resetAt: now.Add(time.Minute)}
		return true
	}
	w.count++
	return w.count <= rl.limit
}
