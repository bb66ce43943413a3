package redis

import (
	"context"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/alanyoungcy/sovereign-liquidity/internal/domain"
)

// fixedWindowScript counts one hit and starts the window on the first. It
// returns {count, ms left in the window}.
var fixedWindowScript = redis.NewScript(`
local n = redis.call('INCR', KEYS[1])
if n == 1 then
    redis.call('PEXPIRE', KEYS[1], ARGV[1])
end
local ttl = redis.call('PTTL', KEYS[1])
if ttl < 0 then
    redis.call('PEXPIRE', KEYS[1], ARGV[1])
    ttl = tonumber(ARGV[1])
end
return {n, ttl}
`)

// Wait admits one call per waitWindow per key.
const waitWindow = time.Second

// RateLimiter implements domain.RateLimiter with fixed windows. The API
// middleware keys it by client IP, the gateway client by "gateway", and the
// notifier by event type.
type RateLimiter struct {
	c *Client
}

// NewRateLimiter creates a RateLimiter backed by the given Client.
func NewRateLimiter(c *Client) *RateLimiter {
	return &RateLimiter{c: c}
}

// Allow counts a hit against key and reports whether it is within limit for
// the current window.
func (rl *RateLimiter) Allow(ctx context.Context, key string, limit int, window time.Duration) (bool, error) {
	ok, _, err := rl.hit(ctx, key, limit, window)
	return ok, err
}

// Wait blocks until key admits a call, sleeping out the rest of the window
// between attempts.
func (rl *RateLimiter) Wait(ctx context.Context, key string) error {
	for {
		ok, retry, err := rl.hit(ctx, key, 1, waitWindow)
		if err != nil {
			return err
		}
		if ok {
			return nil
		}
		t := time.NewTimer(retry)
		select {
		case <-ctx.Done():
			t.Stop()
			return fmt.Errorf("redis: rate limit wait %s: %w", key, ctx.Err())
		case <-t.C:
		}
	}
}

func (rl *RateLimiter) hit(ctx context.Context, key string, limit int, window time.Duration) (bool, time.Duration, error) {
	if window < time.Millisecond {
		window = time.Millisecond
	}
	res, err := fixedWindowScript.Run(ctx, rl.c.rdb,
		[]string{rl.c.key("ratelimit", key)}, window.Milliseconds(),
	).Int64Slice()
	if err != nil {
		return false, 0, fmt.Errorf("redis: rate limit %s: %w", key, err)
	}
	if len(res) != 2 {
		return false, 0, fmt.Errorf("redis: rate limit %s: unexpected reply %v", key, res)
	}
	retry := max(time.Duration(res[1])*time.Millisecond, time.Millisecond)
	return res[0] <= int64(limit), retry, nil
}

var _ domain.RateLimiter = (*RateLimiter)(nil)
