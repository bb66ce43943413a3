package service

import (
	"context"
	"fmt"

	"github.com/ethereum/go-ethereum/common"

	"github.com/alanyoungcy/sovereign-liquidity/internal/domain"
	"github.com/alanyoungcy/sovereign-liquidity/internal/ledger"
)

// creatorOf loads a sovereign and checks the caller is its creator.
func creatorOf(ctx context.Context, t *txn, id uint64, caller common.Address) (domain.Sovereign, error) {
	sov, err := t.sovereign(ctx, id)
	if err != nil {
		return sov, err
	}
	if caller != sov.Creator {
		return sov, domain.ErrNotCreator
	}
	return sov, nil
}

// UpdateFeeThreshold lowers the creator's share of post-recovery funding
// fees. The threshold can only move down.
func (s *SovereignService) UpdateFeeThreshold(ctx context.Context, id uint64, caller common.Address, bps uint64) error {
	return s.mutate(ctx, sovereignKey(id), "update fee threshold", func(ctx context.Context, t *txn) error {
		sov, err := creatorOf(ctx, t, id, caller)
		if err != nil {
			return err
		}
		if sov.FeeControlRenounced {
			return domain.ErrFeeThresholdRenounced
		}
		if bps > ledger.BPSDenominator {
			return fmt.Errorf("threshold %d bps: %w", bps, domain.ErrInvalidFeeThreshold)
		}
		if bps > sov.FeeThresholdBPS {
			return fmt.Errorf("threshold %d above %d: %w", bps, sov.FeeThresholdBPS, domain.ErrCannotIncreaseThreshold)
		}
		prev := sov.FeeThresholdBPS
		sov.FeeThresholdBPS = bps
		if err := t.save(ctx, sov); err != nil {
			return err
		}
		t.emit(domain.EventFeeThresholdUpdated, id, map[string]any{"from": prev, "to": bps})
		return nil
	})
}

// RenounceFeeThreshold permanently gives up the creator's fee share.
func (s *SovereignService) RenounceFeeThreshold(ctx context.Context, id uint64, caller common.Address) error {
	return s.mutate(ctx, sovereignKey(id), "renounce fee threshold", func(ctx context.Context, t *txn) error {
		sov, err := creatorOf(ctx, t, id, caller)
		if err != nil {
			return err
		}
		if sov.FeeControlRenounced {
			return domain.ErrFeeThresholdRenounced
		}
		tracker, err := t.st.Creators.Get(ctx, id)
		if err != nil {
			return err
		}
		sov.FeeThresholdBPS = 0
		sov.FeeControlRenounced = true
		tracker.ThresholdRenounced = true
		if err := t.st.Creators.Save(ctx, tracker); err != nil {
			return err
		}
		if err := t.save(ctx, sov); err != nil {
			return err
		}
		t.emit(domain.EventFeeThresholdRenounced, id, nil)
		return nil
	})
}

// UpdateSellFee changes a TokenLaunch asset's sell fee.
func (s *SovereignService) UpdateSellFee(ctx context.Context, id uint64, caller common.Address, bps uint64) error {
	return s.mutate(ctx, sovereignKey(id), "update sell fee", func(ctx context.Context, t *txn) error {
		sov, err := creatorOf(ctx, t, id, caller)
		if err != nil {
			return err
		}
		if sov.SovereignType != domain.SovereignTokenLaunch {
			return domain.ErrInvalidSovereignType
		}
		if sov.SellFeeRenounced {
			return domain.ErrSellFeeRenounced
		}
		if bps > domain.MaxSellFeeBPS {
			return fmt.Errorf("sell fee %d bps: %w", bps, domain.ErrFeeTooHigh)
		}
		prev := sov.SellFeeBPS
		sov.SellFeeBPS = bps
		if err := t.save(ctx, sov); err != nil {
			return err
		}
		t.emit(domain.EventSellFeeUpdated, id, map[string]any{"from": prev, "to": bps})
		return nil
	})
}

// RenounceSellFee zeroes a TokenLaunch asset's sell fee for good. Outside
// FairLaunch this is only possible once recovery has completed.
func (s *SovereignService) RenounceSellFee(ctx context.Context, id uint64, caller common.Address) error {
	return s.mutate(ctx, sovereignKey(id), "renounce sell fee", func(ctx context.Context, t *txn) error {
		sov, err := creatorOf(ctx, t, id, caller)
		if err != nil {
			return err
		}
		if sov.SovereignType != domain.SovereignTokenLaunch {
			return domain.ErrInvalidSovereignType
		}
		if sov.SellFeeRenounced {
			return domain.ErrSellFeeRenounced
		}
		if sov.FeeMode != domain.FeeModeFairLaunch && sov.Phase != domain.PhaseActive {
			return domain.ErrRecoveryNotComplete
		}
		prev := sov.SellFeeBPS
		sov.SellFeeBPS = 0
		sov.SellFeeRenounced = true
		if err := t.save(ctx, sov); err != nil {
			return err
		}
		t.emit(domain.EventSellFeeUpdated, id, map[string]any{"from": prev, "to": 0, "renounced": true})
		return nil
	})
}
