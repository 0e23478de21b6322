// Package ratelimit throttles checkout attempts per client IP using a
// Redis fixed-window counter.
package ratelimit

import (
	"context"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
)

// Limiter caps the number of checkout attempts a single IP may make
// within a fixed window, backed by Redis INCR+EXPIRE. The count resets
// only when the window's key expires; it is not a token bucket and does
// not refill gradually.
type Limiter struct {
	redis  *redis.Client
	prefix string
	limit  int64
	window time.Duration
}

func New(client *redis.Client, limit int64, window time.Duration) *Limiter {
	return &Limiter{redis: client, prefix: "ratelimit:checkout:", limit: limit, window: window}
}

// Allow reports whether the given IP may proceed, incrementing its
// counter as a side effect. The window's TTL is armed only on the first
// request of each window so later requests don't keep pushing it out.
func (l *Limiter) Allow(ctx context.Context, ip string) (bool, error) {
	key := l.prefix + ip

	count, err := l.redis.Incr(ctx, key).Result()
	if err != nil {
		return false, fmt.Errorf("ratelimit: incr: %w", err)
	}
	if count == 1 {
		if err := l.redis.Expire(ctx, key, l.window).Err(); err != nil {
			return false, fmt.Errorf("ratelimit: expire: %w", err)
		}
	}

	return count <= l.limit, nil
}
