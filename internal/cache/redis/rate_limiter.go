package redis

import (
	"context"
	_ "embed"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/alanyoungcy/bagrabridge/internal/domain"
)

//go:embed scripts/sliding_window.lua
var slidingWindowLua string

var slidingWindow = redis.NewScript(slidingWindowLua)

const (
	rateKeyPrefix  = "bridge:ratelimit:"
	waitMinBackoff = 25 * time.Millisecond
	waitMaxBackoff = 500 * time.Millisecond
)

// RateLimiter is a sliding-window limiter over a Redis sorted set, so limits
// hold across every gateway replica.
type RateLimiter struct {
	rdb *redis.Client
}

func NewRateLimiter(c *Client) *RateLimiter {
	return &RateLimiter{rdb: c.Underlying()}
}

// Allow counts a request against key and reports whether it fits in limit
// per window. Rejected requests are not counted.
func (rl *RateLimiter) Allow(ctx context.Context, key string, limit int, window time.Duration) (bool, error) {
	allowed, _, err := rl.take(ctx, key, limit, window)
	return allowed, err
}

func (rl *RateLimiter) take(ctx context.Context, key string, limit int, window time.Duration) (bool, int64, error) {
	res, err := slidingWindow.Run(ctx, rl.rdb,
		[]string{rateKeyPrefix + key},
		time.Now().UnixMicro(), window.Microseconds(), limit,
	).Int64Slice()
	if err != nil {
		return false, 0, fmt.Errorf("redis: rate limit %s: %w", key, err)
	}
	if len(res) != 2 {
		return false, 0, fmt.Errorf("redis: rate limit %s: script returned %d values", key, len(res))
	}
	return res[0] == 1, res[1], nil
}

// Wait blocks until key admits one request per second or ctx is done.
func (rl *RateLimiter) Wait(ctx context.Context, key string) error {
	backoff := waitMinBackoff
	for {
		ok, _, err := rl.take(ctx, key, 1, time.Second)
		if err != nil {
			return err
		}
		if ok {
			return nil
		}
		select {
		case <-ctx.Done():
			return fmt.Errorf("redis: rate limit wait %s: %w", key, ctx.Err())
		case <-time.After(backoff):
		}
		backoff = min(backoff*2, waitMaxBackoff)
	}
}

var _ domain.RateLimiter = (*RateLimiter)(nil)
