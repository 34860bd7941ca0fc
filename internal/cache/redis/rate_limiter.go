package redis

import (
	"context"
	"fmt"
	"strconv"
	"time"

	"github.com/alanyoungcy/tickerplant/internal/domain"
)

// RateLimiter implements domain.RateLimiter with fixed windows: one counter
// per key and window start, created by INCR and expired with the window.
type RateLimiter struct {
	c   *Client
	now func() time.Time
}

var _ domain.RateLimiter = (*RateLimiter)(nil)

// NewRateLimiter creates a RateLimiter backed by c.
func NewRateLimiter(c *Client) *RateLimiter {
	return &RateLimiter{c: c, now: time.Now}
}

func (rl *RateLimiter) key(key string, window time.Duration, at time.Time) string {
	slot := at.UnixMilli() / window.Milliseconds()
	return rl.c.Key("ratelimit", key, strconv.FormatInt(slot, 10))
}

// Allow counts the request and reports whether it is within the limit.
func (rl *RateLimiter) Allow(ctx context.Context, key string, limit int, window time.Duration) (bool, error) {
	if window < time.Millisecond {
		window = time.Millisecond
	}
	k := rl.key(key, window, rl.now())

	pipe := rl.c.rdb.TxPipeline()
	incr := pipe.Incr(ctx, k)
	pipe.PExpire(ctx, k, window)
	if _, err := pipe.Exec(ctx); err != nil {
		return false, fmt.Errorf("redis: rate limit allow %s: %w", key, err)
	}
	return incr.Val() <= int64(limit), nil
}
