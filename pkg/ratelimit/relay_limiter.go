// Package ratelimit provides a fixed-window request limiter backed by
// Redis, used to throttle dashboard logins.
package ratelimit

import (
	"context"
	"fmt"
	"sync"
	"time"

	"relay_server/pkg/cache"
)

// FixedWindowLimiter counts requests per key in fixed time windows.
// Without Redis it falls back to an in-memory window, which is fine for
// a single-instance deployment.
type FixedWindowLimiter struct {
	cache  *cache.RedisCache
	limit  int
	window time.Duration

	mu     sync.Mutex
	local  map[string]int
	resets map[string]time.Time
}

func NewFixedWindowLimiter(redisCache *cache.RedisCache, limit int, window time.Duration) *FixedWindowLimiter {
	if limit <= 0 {
		limit = 10
	}
	if window <= 0 {
		window = time.Minute
	}
	return &FixedWindowLimiter{
		cache:  redisCache,
		limit:  limit,
		window: window,
		local:  make(map[string]int),
		resets: make(map[string]time.Time),
	}
}

// Allow reports whether another request under key fits in the current
// window. Redis errors fail open.
func (l *FixedWindowLimiter) Allow(ctx context.Context, key string) bool {
	if l.cache != nil {
		return l.allowRedis(ctx, key)
	}
	return l.allowLocal(key)
}

func (l *FixedWindowLimiter) allowRedis(ctx context.Context, key string) bool {
	bucket := fmt.Sprintf("ratelimit:%s:%d", key, time.Now().Unix()/int64(l.window.Seconds()))

	count, err := l.cache.Increment(ctx, bucket)
	if err != nil {
		return true
	}
	if count == 1 {
		_ = l.cache.Expire(ctx, bucket, l.window)
	}
	return count <= int64(l.limit)
}

func (l *FixedWindowLimiter) allowLocal(key string) bool {
	l.mu.Lock()
	defer l.mu.Unlock()

	now := time.Now()
	if reset, ok := l.resets[key]; !ok || now.After(reset) {
		l.local[key] = 0
		l.resets[key] = now.Add(l.window)
	}
	l.local[key]++
	return l.local[key] <= l.limit
}
