// Package ratelimit is a fixed-window request counter kept in redis.
package ratelimit

import (
	"context"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
)

// Result is the outcome of one Allow call.
type Result struct {
	Allowed    bool
	Limit      int
	Remaining  int
	RetryAfter time.Duration
}

// Limiter allows limit hits per key per window.
type Limiter struct {
	rdb    redis.Cmdable
	limit  int
	window time.Duration
	prefix string
}

// New returns a Limiter storing counters under prefix.
func New(rdb redis.Cmdable, limit int, window time.Duration, prefix string) *Limiter {
	return &Limiter{rdb: rdb, limit: limit, window: window, prefix: prefix}
}

// Allow counts one hit for key. On redis errors it returns the error with Allowed set,
// so callers can fail open.
func (l *Limiter) Allow(ctx context.Context, key string) (Result, error) {
	k := l.prefix + ":" + key
	res := Result{Allowed: true, Limit: l.limit, Remaining: l.limit}

	count, err := l.rdb.Incr(ctx, k).Result()
	if err != nil {
		return res, fmt.Errorf("ratelimit: incr: %w", err)
	}
	// first hit opens the window
	if count == 1 {
		if err := l.rdb.Expire(ctx, k, l.window).Err(); err != nil {
			return res, fmt.Errorf("ratelimit: expire: %w", err)
		}
	}
	ttl, err := l.rdb.TTL(ctx, k).Result()
	if err != nil {
		return res, fmt.Errorf("ratelimit: ttl: %w", err)
	}
	if ttl < 0 {
		// key lost its expiry; reopen the window
		if err := l.rdb.Expire(ctx, k, l.window).Err(); err != nil {
			return res, fmt.Errorf("ratelimit: expire: %w", err)
		}
		ttl = l.window
	}

	res.Remaining = l.limit - int(count)
	if res.Remaining < 0 {
		res.Remaining = 0
	}
	if count > int64(l.limit) {
		res.Allowed = false
		res.RetryAfter = ttl
	}
	return res, nil
}
