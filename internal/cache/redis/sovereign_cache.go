package redis

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strconv"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/alanyoungcy/sovereign-liquidity/internal/domain"
)

const sovereignTTL = 5 * time.Minute

// SovereignCache implements domain.SovereignCache. Read paths are served
// from JSON snapshots; the service invalidates a snapshot after every commit
// that touches the sovereign, so the TTL only bounds memory.
//
// Key schema:
//
//	{prefix}:sovereign:{id} - hash with field "data" containing JSON
type SovereignCache struct {
	c   *Client
	ttl time.Duration
}

// NewSovereignCache creates a SovereignCache backed by the given Client.
// A non-positive ttl takes the default.
func NewSovereignCache(c *Client, ttl time.Duration) *SovereignCache {
	if ttl <= 0 {
		ttl = sovereignTTL
	}
	return &SovereignCache{c: c, ttl: ttl}
}

func (sc *SovereignCache) key(id uint64) string {
	return sc.c.key("sovereign", strconv.FormatUint(id, 10))
}

// Set stores a snapshot.
func (sc *SovereignCache) Set(ctx context.Context, s domain.Sovereign) error {
	// Marshal through a pointer so uint256 fields use their decimal form.
	data, err := json.Marshal(&s)
	if err != nil {
		return fmt.Errorf("redis: marshal sovereign %d: %w", s.ID, err)
	}

	key := sc.key(s.ID)
	pipe := sc.c.rdb.TxPipeline()
	pipe.HSet(ctx, key, "data", data)
	pipe.Expire(ctx, key, sc.ttl)
	if _, err := pipe.Exec(ctx); err != nil {
		return fmt.Errorf("redis: set sovereign %d: %w", s.ID, err)
	}
	return nil
}

// Get returns a snapshot or domain.ErrNotFound.
func (sc *SovereignCache) Get(ctx context.Context, id uint64) (domain.Sovereign, error) {
	data, err := sc.c.rdb.HGet(ctx, sc.key(id), "data").Bytes()
	if err != nil {
		if errors.Is(err, redis.Nil) {
			return domain.Sovereign{}, domain.ErrNotFound
		}
		return domain.Sovereign{}, fmt.Errorf("redis: get sovereign %d: %w", id, err)
	}

	var s domain.Sovereign
	if err := json.Unmarshal(data, &s); err != nil {
		return domain.Sovereign{}, fmt.Errorf("redis: unmarshal sovereign %d: %w", id, err)
	}
	return s, nil
}

// Invalidate drops a snapshot.
func (sc *SovereignCache) Invalidate(ctx context.Context, id uint64) error {
	if err := sc.c.rdb.Del(ctx, sc.key(id)).Err(); err != nil {
		return fmt.Errorf("redis: invalidate sovereign %d: %w", id, err)
	}
	return nil
}

// Compile-time interface check.
var _ domain.SovereignCache = (*SovereignCache)(nil)
