package service

import (
	"context"
	"fmt"

	"github.com/ethereum/go-ethereum/common"

	"github.com/alanyoungcy/sovereign-liquidity/internal/domain"
	"github.com/alanyoungcy/sovereign-liquidity/internal/ledger"
)

// FeeDistribution is the outcome of one fee collection.
type FeeDistribution struct {
	FundingCollected uint64
	TradedCollected  uint64
	SwappedToFunding uint64
	CreatorShare     uint64
	InvestorShare    uint64
	ProtocolShare    uint64
	TotalRecovered   uint64
	RecoveryComplete bool
	Phase            domain.Phase
}

// ClaimFees collects the position's accrued fees and routes them by phase
// and fee mode. During Recovery every unit of funding fees counts toward the
// recovery target and, under RecoveryBoost and FairLaunch, traded-side fees
// are swapped into funding first. Crossing the target moves the sovereign to
// Active and lifts the pool restriction in the same unit of work. The
// protocol skim comes out of the investor share only.
//
// Collection commits on its own before routing: what the pool paid out is
// held as unrouted fees, so a routing failure leaves it on the ledger for
// the next claim instead of losing it.
func (s *SovereignService) ClaimFees(ctx context.Context, id uint64) (FeeDistribution, error) {
	if err := s.collectFees(ctx, id); err != nil {
		return FeeDistribution{}, err
	}
	var d FeeDistribution
	err := s.mutate(ctx, sovereignKey(id), "route fees", func(ctx context.Context, t *txn) error {
		proto, err := t.activeProtocol(ctx)
		if err != nil {
			return err
		}
		sov, err := t.sovereign(ctx, id, domain.PhaseRecovery, domain.PhaseActive)
		if err != nil {
			return err
		}
		if sov.UnroutedFunding == 0 && sov.UnroutedTraded == 0 {
			return domain.ErrNothingToClaim
		}
		tracker, err := t.st.Creators.Get(ctx, id)
		if err != nil {
			return err
		}

		d = FeeDistribution{FundingCollected: sov.UnroutedFunding, TradedCollected: sov.UnroutedTraded}
		funding, traded := sov.UnroutedFunding, sov.UnroutedTraded
		sov.UnroutedFunding, sov.UnroutedTraded = 0, 0

		recovering := sov.Phase == domain.PhaseRecovery
		if recovering && traded > 0 && sov.FeeMode != domain.FeeModeCreatorRevenue {
			minOut, err := s.minSwapOut(ctx, sov.PoolRef, domain.SwapTradedToFunding, traded)
			if err != nil {
				return err
			}
			swapped, err := s.pool.SwapExactIn(ctx, sov.PoolRef, domain.SwapTradedToFunding, traded, minOut)
			if err != nil {
				return fmt.Errorf("swap traded fees: %w", err)
			}
			d.SwappedToFunding = swapped
			if funding, err = ledger.Add(funding, swapped); err != nil {
				return err
			}
			traded = 0
		}

		investor := funding
		if !recovering && sov.FeeMode == domain.FeeModeCreatorRevenue &&
			sov.FeeThresholdBPS > 0 && !tracker.ThresholdRenounced {
			if d.CreatorShare, err = ledger.ApplyBPS(funding, sov.FeeThresholdBPS); err != nil {
				return err
			}
			investor = funding - d.CreatorShare
		}
		skim, err := ledger.ApplyBPS(funding, proto.ProtocolFeeBPS)
		if err != nil {
			return err
		}
		d.ProtocolShare = ledger.Min(skim, investor)
		d.InvestorShare = investor - d.ProtocolShare

		if d.CreatorShare > 0 {
			if tracker.TotalEarned, err = ledger.Add(tracker.TotalEarned, d.CreatorShare); err != nil {
				return err
			}
			if tracker.PendingWithdrawal, err = ledger.Add(tracker.PendingWithdrawal, d.CreatorShare); err != nil {
				return err
			}
			if err := t.st.Creators.Save(ctx, tracker); err != nil {
				return err
			}
		}

		credit := d.InvestorShare + d.CreatorShare
		if sov.VaultBalance, err = ledger.Add(sov.VaultBalance, credit); err != nil {
			return err
		}
		if sov.TotalFeesCollected, err = ledger.Add(sov.TotalFeesCollected, d.InvestorShare); err != nil {
			return err
		}

		if recovering {
			if sov.TotalRecovered, err = ledger.Add(sov.TotalRecovered, funding); err != nil {
				return err
			}
			if sov.TotalRecovered >= sov.RecoveryTarget {
				sov.Phase = domain.PhaseActive
				sov.PoolRestricted = false
				d.RecoveryComplete = true
			}
		}

		if traded > 0 {
			if sov.TotalTokenFeesDistributed, err = ledger.Add(sov.TotalTokenFeesDistributed, traded); err != nil {
				return err
			}
			if err := routeTradedFees(ctx, t, sov, recovering, traded); err != nil {
				return err
			}
		}

		if d.ProtocolShare > 0 {
			if err := s.toTreasury(ctx, t, &proto, id, d.ProtocolShare); err != nil {
				return err
			}
		}

		if d.RecoveryComplete {
			if err := t.unrestrict(ctx, id, sov.PoolRef); err != nil {
				return err
			}
			t.emit(domain.EventRecoveryComplete, id, map[string]any{
				"total_recovered": sov.TotalRecovered,
				"recovery_target": sov.RecoveryTarget,
			})
		}
		if err := t.save(ctx, sov); err != nil {
			return err
		}

		d.TotalRecovered = sov.TotalRecovered
		d.Phase = sov.Phase
		t.emit(domain.EventFeesCollected, id, map[string]any{
			"funding":         d.FundingCollected,
			"traded":          d.TradedCollected,
			"swapped":         d.SwappedToFunding,
			"creator_share":   d.CreatorShare,
			"investor_share":  d.InvestorShare,
			"protocol_share":  d.ProtocolShare,
			"total_recovered": d.TotalRecovered,
		})
		return nil
	})
	return d, err
}

// collectFees moves whatever the position has accrued into the sovereign's
// unrouted fees.
func (s *SovereignService) collectFees(ctx context.Context, id uint64) error {
	return s.mutate(ctx, sovereignKey(id), "collect fees", func(ctx context.Context, t *txn) error {
		if _, err := t.activeProtocol(ctx); err != nil {
			return err
		}
		sov, err := t.sovereign(ctx, id, domain.PhaseRecovery, domain.PhaseActive)
		if err != nil {
			return err
		}
		collected, err := s.pool.CollectFees(ctx, sov.PoolRef, sov.PositionRef)
		if err != nil {
			return fmt.Errorf("collect fees: %w", err)
		}
		if collected.Funding == 0 && collected.Traded == 0 {
			return nil
		}
		if sov.UnroutedFunding, err = ledger.Add(sov.UnroutedFunding, collected.Funding); err != nil {
			return err
		}
		if sov.UnroutedTraded, err = ledger.Add(sov.UnroutedTraded, collected.Traded); err != nil {
			return err
		}
		return t.save(ctx, sov)
	})
}

// routeTradedFees queues traded-side fees that were not swapped into
// recovery: to the creator under CreatorRevenue and post-recovery
// RecoveryBoost, burned from the vault under post-recovery FairLaunch.
func routeTradedFees(ctx context.Context, t *txn, sov domain.Sovereign, recovering bool, amount uint64) error {
	switch {
	case sov.FeeMode == domain.FeeModeCreatorRevenue:
		return t.send(ctx, sov.ID, sov.Creator, domain.AssetTraded, amount)
	case sov.FeeMode == domain.FeeModeRecoveryBoost && !recovering:
		return t.send(ctx, sov.ID, sov.Creator, domain.AssetTraded, amount)
	case sov.FeeMode == domain.FeeModeFairLaunch && !recovering:
		return t.burn(ctx, sov.ID, domain.AssetTraded, amount)
	}
	return nil
}

// ClaimDepositorFees pays the holder of a claim token its fee-index share:
// floor(total_fees_collected * amount / total_deposited) - already_claimed.
func (s *SovereignService) ClaimDepositorFees(ctx context.Context, id uint64, tokenID string, caller common.Address) (uint64, error) {
	var claimable uint64
	err := s.mutate(ctx, sovereignKey(id), "claim depositor fees", func(ctx context.Context, t *txn) error {
		sov, err := t.sovereign(ctx, id, domain.PhaseRecovery, domain.PhaseActive)
		if err != nil {
			return err
		}
		ref, err := t.claims().HoldsClaimToken(ctx, id, tokenID, caller)
		if err != nil {
			return err
		}
		rec := ref.Record
		claimable, err = ledger.FeeIndexClaimable(sov.TotalFeesCollected, rec.Amount, sov.TotalDeposited, rec.FeesClaimed)
		if err != nil {
			return err
		}
		if claimable == 0 {
			return domain.ErrNothingToClaim
		}
		if sov.VaultBalance < claimable {
			return domain.ErrInsufficientVaultBalance
		}

		rec.FeesClaimed += claimable
		rec.UpdatedAt = t.now
		if err := t.st.Deposits.Upsert(ctx, rec); err != nil {
			return err
		}
		sov.VaultBalance -= claimable
		if err := t.save(ctx, sov); err != nil {
			return err
		}
		if err := t.send(ctx, id, caller, domain.AssetFunding, claimable); err != nil {
			return err
		}
		t.emit(domain.EventDepositorFeesClaimed, id, map[string]any{
			"token":   tokenID,
			"holder":  caller.Hex(),
			"amount":  claimable,
			"claimed": rec.FeesClaimed,
		})
		return nil
	})
	return claimable, err
}

// WithdrawCreatorFees pays the creator everything pending.
func (s *SovereignService) WithdrawCreatorFees(ctx context.Context, id uint64, caller common.Address) (uint64, error) {
	var amount uint64
	err := s.mutate(ctx, sovereignKey(id), "withdraw creator fees", func(ctx context.Context, t *txn) error {
		sov, err := t.sovereign(ctx, id)
		if err != nil {
			return err
		}
		if caller != sov.Creator {
			return domain.ErrNotCreator
		}
		tracker, err := t.st.Creators.Get(ctx, id)
		if err != nil {
			return err
		}
		amount = tracker.PendingWithdrawal
		if amount == 0 {
			return domain.ErrNothingToClaim
		}
		if sov.VaultBalance < amount {
			return domain.ErrInsufficientVaultBalance
		}
		tracker.PendingWithdrawal = 0
		if tracker.TotalClaimed, err = ledger.Add(tracker.TotalClaimed, amount); err != nil {
			return err
		}
		if err := t.st.Creators.Save(ctx, tracker); err != nil {
			return err
		}
		sov.VaultBalance -= amount
		if err := t.save(ctx, sov); err != nil {
			return err
		}
		if err := t.send(ctx, id, caller, domain.AssetFunding, amount); err != nil {
			return err
		}
		t.emit(domain.EventCreatorFeesWithdrawn, id, map[string]any{
			"creator": caller.Hex(),
			"amount":  amount,
		})
		return nil
	})
	return amount, err
}
