package postgres

import (
	"context"
	"fmt"

	"github.com/alanyoungcy/sovereign-liquidity/internal/domain"
)

// LockStore implements domain.LockStore using PostgreSQL.
type LockStore struct {
	db      DBTX
	locking bool
}

// Get returns a sovereign's permanent lock.
func (s *LockStore) Get(ctx context.Context, sovereignID uint64) (domain.PermanentLock, error) {
	var (
		l                   domain.PermanentLock
		liquidity, returned string
	)
	query := forUpdate(`
		SELECT sovereign_id, pool_ref, position_ref, liquidity, tick_lower, tick_upper, pool_tokens,
			unwound, unwound_at, returned_liquidity, created_at, drained_funding, drained_traded, settled
		FROM permanent_locks WHERE sovereign_id = $1`, s.locking)
	err := s.db.QueryRow(ctx, query, sovereignID).Scan(
		&l.SovereignID, &l.PoolRef, &l.PositionRef, &liquidity, &l.TickLower, &l.TickUpper, &l.PoolTokens,
		&l.Unwound, &l.UnwoundAt, &returned, &l.CreatedAt, &l.Drained.Funding, &l.Drained.Traded, &l.Settled,
	)
	if err != nil {
		return domain.PermanentLock{}, fmt.Errorf("postgres: get lock %d: %w", sovereignID, notFound(err))
	}
	if l.Liquidity, err = u256In(liquidity); err != nil {
		return domain.PermanentLock{}, err
	}
	if l.ReturnedLiquidity, err = u256In(returned); err != nil {
		return domain.PermanentLock{}, err
	}
	return l, nil
}

// Save upserts the lock.
func (s *LockStore) Save(ctx context.Context, l domain.PermanentLock) error {
	const query = `
		INSERT INTO permanent_locks (sovereign_id, pool_ref, position_ref, liquidity, tick_lower, tick_upper,
			pool_tokens, unwound, unwound_at, returned_liquidity, created_at, drained_funding, drained_traded, settled)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13, $14)
		ON CONFLICT (sovereign_id) DO UPDATE SET
			pool_ref = EXCLUDED.pool_ref,
			position_ref = EXCLUDED.position_ref,
			liquidity = EXCLUDED.liquidity,
			tick_lower = EXCLUDED.tick_lower,
			tick_upper = EXCLUDED.tick_upper,
			pool_tokens = EXCLUDED.pool_tokens,
			unwound = EXCLUDED.unwound,
			unwound_at = EXCLUDED.unwound_at,
			returned_liquidity = EXCLUDED.returned_liquidity,
			drained_funding = EXCLUDED.drained_funding,
			drained_traded = EXCLUDED.drained_traded,
			settled = EXCLUDED.settled`
	_, err := s.db.Exec(ctx, query, l.SovereignID, l.PoolRef, l.PositionRef, u256Out(l.Liquidity), l.TickLower, l.TickUpper,
		l.PoolTokens, l.Unwound, l.UnwoundAt, u256Out(l.ReturnedLiquidity), l.CreatedAt,
		l.Drained.Funding, l.Drained.Traded, l.Settled)
	if err != nil {
		return fmt.Errorf("postgres: save lock %d: %w", l.SovereignID, err)
	}
	return nil
}
