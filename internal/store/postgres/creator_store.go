package postgres

import (
	"context"
	"fmt"

	"github.com/alanyoungcy/sovereign-liquidity/internal/domain"
)

// CreatorTrackerStore implements domain.CreatorTrackerStore using PostgreSQL.
type CreatorTrackerStore struct {
	db      DBTX
	locking bool
}

// Get returns the tracker for a sovereign.
func (s *CreatorTrackerStore) Get(ctx context.Context, sovereignID uint64) (domain.CreatorFeeTracker, error) {
	var (
		t       domain.CreatorFeeTracker
		creator string
	)
	query := forUpdate(`
		SELECT sovereign_id, creator, total_earned, total_claimed, pending_withdrawal,
			threshold_renounced, purchased_tokens, purchased_at
		FROM creator_fee_trackers WHERE sovereign_id = $1`, s.locking)
	err := s.db.QueryRow(ctx, query, sovereignID).Scan(
		&t.SovereignID, &creator, &t.TotalEarned, &t.TotalClaimed, &t.PendingWithdrawal,
		&t.ThresholdRenounced, &t.PurchasedTokens, &t.PurchasedAt,
	)
	if err != nil {
		return domain.CreatorFeeTracker{}, fmt.Errorf("postgres: get creator tracker %d: %w", sovereignID, notFound(err))
	}
	t.Creator, err = addrIn(creator)
	return t, err
}

// Save upserts the tracker.
func (s *CreatorTrackerStore) Save(ctx context.Context, t domain.CreatorFeeTracker) error {
	const query = `
		INSERT INTO creator_fee_trackers (sovereign_id, creator, total_earned, total_claimed, pending_withdrawal,
			threshold_renounced, purchased_tokens, purchased_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8)
		ON CONFLICT (sovereign_id) DO UPDATE SET
			creator = EXCLUDED.creator,
			total_earned = EXCLUDED.total_earned,
			total_claimed = EXCLUDED.total_claimed,
			pending_withdrawal = EXCLUDED.pending_withdrawal,
			threshold_renounced = EXCLUDED.threshold_renounced,
			purchased_tokens = EXCLUDED.purchased_tokens,
			purchased_at = EXCLUDED.purchased_at`
	_, err := s.db.Exec(ctx, query, t.SovereignID, addrOut(t.Creator), t.TotalEarned, t.TotalClaimed,
		t.PendingWithdrawal, t.ThresholdRenounced, t.PurchasedTokens, t.PurchasedAt)
	if err != nil {
		return fmt.Errorf("postgres: save creator tracker %d: %w", t.SovereignID, err)
	}
	return nil
}
