package redis

import (
	"context"
	"errors"
	"fmt"
	"math/rand/v2"
	"os"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"

	"github.com/alanyoungcy/sovereign-liquidity/internal/domain"
)

// releaseScript deletes the lock only while it still holds our token, so a
// holder whose TTL lapsed cannot free its successor's lock.
var releaseScript = redis.NewScript(`
if redis.call('GET', KEYS[1]) == ARGV[1] then
    return redis.call('DEL', KEYS[1])
end
return 0
`)

const (
	// DefaultLockWait is how long Acquire retries a held sovereign lock
	// before giving up with domain.ErrLockHeld.
	DefaultLockWait = 500 * time.Millisecond

	lockRetryMin = 10 * time.Millisecond
	lockRetryMax = 80 * time.Millisecond
)

// LockManager implements domain.LockManager with SET NX PX. The service
// takes "lock:sovereign:<id>" around every mutating operation so replicas
// sharing a database serialize per sovereign. Tokens are prefixed with the
// host name so GET on a stuck lock shows who holds it.
type LockManager struct {
	c     *Client
	wait  time.Duration
	owner string
}

// NewLockManager creates a LockManager that waits DefaultLockWait for a
// held lock.
func NewLockManager(c *Client) *LockManager {
	host, err := os.Hostname()
	if err != nil || host == "" {
		host = "sovereignd"
	}
	return &LockManager{c: c, wait: DefaultLockWait, owner: host}
}

// WithWait overrides how long Acquire retries. Zero fails immediately.
func (lm *LockManager) WithWait(d time.Duration) *LockManager {
	lm.wait = d
	return lm
}

// Acquire takes the lock for key, retrying with jitter for up to the
// configured wait. The returned release func is idempotent and runs on a
// fresh context so it still works after the caller's is cancelled.
func (lm *LockManager) Acquire(ctx context.Context, key string, ttl time.Duration) (func(), error) {
	lk := lm.c.key("lock", key)
	token := lm.owner + "/" + uuid.NewString()
	deadline := time.Now().Add(lm.wait)

	for {
		ok, err := lm.c.rdb.SetNX(ctx, lk, token, ttl).Result()
		if err != nil {
			return nil, fmt.Errorf("redis: lock %s: %w", key, err)
		}
		if ok {
			break
		}
		pause := lockRetryMin + rand.N(lockRetryMax-lockRetryMin)
		if time.Now().Add(pause).After(deadline) {
			return nil, fmt.Errorf("redis: lock %s: %w", key, domain.ErrLockHeld)
		}
		select {
		case <-ctx.Done():
			return nil, fmt.Errorf("redis: lock %s: %w", key, errors.Join(domain.ErrLockHeld, ctx.Err()))
		case <-time.After(pause):
		}
	}

	var once sync.Once
	release := func() {
		once.Do(func() {
			rctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
			defer cancel()
			_ = releaseScript.Run(rctx, lm.c.rdb, []string{lk}, token).Err()
		})
	}
	return release, nil
}

var _ domain.LockManager = (*LockManager)(nil)
