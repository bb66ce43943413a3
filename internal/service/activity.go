package service

import (
	"context"
	"fmt"

	"github.com/ethereum/go-ethereum/common"

	"github.com/alanyoungcy/sovereign-liquidity/internal/domain"
	"github.com/alanyoungcy/sovereign-liquidity/internal/ledger"
)

// InitiateActivityCheck starts the inactivity timer on an Active sovereign.
// Any claim token holder may start one; a cancelled check cannot be restarted
// until the cooldown has passed.
func (s *SovereignService) InitiateActivityCheck(ctx context.Context, id uint64, tokenID string, caller common.Address) error {
	return s.mutate(ctx, sovereignKey(id), "initiate activity check", func(ctx context.Context, t *txn) error {
		if _, err := t.activeProtocol(ctx); err != nil {
			return err
		}
		sov, err := t.sovereign(ctx, id, domain.PhaseActive)
		if err != nil {
			return err
		}
		if sov.ActivityCheckPending {
			return domain.ErrActivityCheckPending
		}
		if sov.HasActiveProposal {
			return domain.ErrProposalActive
		}
		if !sov.ActivityCheckLastCancelled.IsZero() &&
			t.now.Before(sov.ActivityCheckLastCancelled.Add(domain.ActivityCheckCooldown)) {
			return domain.ErrActivityCheckCooldown
		}
		if _, err := t.claims().HoldsClaimToken(ctx, id, tokenID, caller); err != nil {
			return err
		}
		growth, err := s.pool.ReadCumulativeFeeGrowth(ctx, sov.PoolRef)
		if err != nil {
			return fmt.Errorf("read fee growth: %w", err)
		}

		sov.ActivityCheckPending = true
		sov.ActivityCheckInitiatedAt = t.now
		sov.FeeGrowthSnapshotA = growth.A
		sov.FeeGrowthSnapshotB = growth.B
		if err := t.save(ctx, sov); err != nil {
			return err
		}
		t.emit(domain.EventActivityCheckInitiated, id, map[string]any{
			"initiator":  caller.Hex(),
			"executable": t.now.Add(domain.ActivityCheckPeriod),
		})
		return nil
	})
}

// CancelActivityCheck lets the creator prove the pool is alive: the check is
// cancelled only if fees since it started meet the volume threshold.
func (s *SovereignService) CancelActivityCheck(ctx context.Context, id uint64, caller common.Address) error {
	return s.mutate(ctx, sovereignKey(id), "cancel activity check", func(ctx context.Context, t *txn) error {
		proto, err := t.protocol(ctx)
		if err != nil {
			return err
		}
		sov, err := creatorOf(ctx, t, id, caller)
		if err != nil {
			return err
		}
		if !sov.ActivityCheckPending {
			return domain.ErrNoActivityCheck
		}
		lock, err := t.st.Locks.Get(ctx, id)
		if err != nil {
			return err
		}
		growth, err := s.pool.ReadCumulativeFeeGrowth(ctx, sov.PoolRef)
		if err != nil {
			return fmt.Errorf("read fee growth: %w", err)
		}
		met, err := ledger.VolumeMet(sov.FeeGrowthSnapshotA, growth.A, lock.Liquidity, sov.TotalDeposited, proto.VolumeThresholdBPS())
		if err != nil {
			return err
		}
		if !met {
			return fmt.Errorf("fees since check below threshold: %w", domain.ErrInvalidState)
		}

		sov.ActivityCheckPending = false
		sov.ActivityCheckLastCancelled = t.now
		if err := t.save(ctx, sov); err != nil {
			return err
		}
		t.emit(domain.EventActivityCheckCancelled, id, nil)
		return nil
	})
}

// ExecuteActivityCheck unwinds a sovereign whose activity check ran its full
// period without being cancelled. Anyone may call it.
func (s *SovereignService) ExecuteActivityCheck(ctx context.Context, id uint64) (Settlement, error) {
	var out Settlement
	err := s.mutate(ctx, sovereignKey(id), "execute activity check", func(ctx context.Context, t *txn) error {
		proto, err := t.protocol(ctx)
		if err != nil {
			return err
		}
		sov, err := t.sovereign(ctx, id, domain.PhaseActive)
		if err != nil {
			return err
		}
		if !sov.ActivityCheckPending {
			return domain.ErrNoActivityCheck
		}
		if t.now.Before(sov.ActivityCheckInitiatedAt.Add(domain.ActivityCheckPeriod)) {
			return domain.ErrActivityCheckNotElapsed
		}
		lock, err := t.st.Locks.Get(ctx, id)
		if err != nil {
			return err
		}
		if lock.Liquidity.IsZero() {
			return domain.ErrAlreadyUnwound
		}

		sov.Phase = domain.PhaseUnwinding
		t.emit(domain.EventActivityCheckExecuted, id, map[string]any{
			"initiated": sov.ActivityCheckInitiatedAt,
		})
		out, err = s.unwind(ctx, t, proto, &sov, &lock)
		return err
	})
	return out, err
}
