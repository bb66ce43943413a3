package service

import (
	"context"
	"errors"
	"fmt"

	"github.com/ethereum/go-ethereum/common"

	"github.com/alanyoungcy/sovereign-liquidity/internal/domain"
	"github.com/alanyoungcy/sovereign-liquidity/internal/ledger"
)

// EmergencyUnlock moves a sovereign into the emergency valve. Only the
// protocol authority may pull it, and once pulled it cannot be undone.
func (s *SovereignService) EmergencyUnlock(ctx context.Context, id uint64, caller common.Address) error {
	return s.mutate(ctx, sovereignKey(id), "emergency unlock", func(ctx context.Context, t *txn) error {
		if _, err := t.authority(ctx, caller); err != nil {
			return err
		}
		sov, err := t.sovereign(ctx, id)
		if err != nil {
			return err
		}
		switch sov.Phase {
		case domain.PhaseEmergencyUnlocked, domain.PhaseUnwound, domain.PhaseRetired:
			return fmt.Errorf("sovereign %d is %s: %w", id, sov.Phase, domain.ErrInvalidState)
		}
		if sov.HasActiveProposal {
			if err := closeProposal(ctx, t, sov); err != nil {
				return err
			}
		}
		from := sov.Phase
		sov.Phase = domain.PhaseEmergencyUnlocked
		sov.HasActiveProposal = false
		sov.ActivityCheckPending = false
		if err := t.save(ctx, sov); err != nil {
			return err
		}
		t.emit(domain.EventEmergencyUnlocked, id, map[string]any{
			"from":      string(from),
			"authority": caller.Hex(),
		})
		return nil
	})
}

// closeProposal fails the sovereign's open proposal, whether still voting or
// in its observation window, so nothing can finalize or execute it later.
func closeProposal(ctx context.Context, t *txn, sov domain.Sovereign) error {
	p, err := t.st.Proposals.Get(ctx, sov.ID, sov.ActiveProposalID)
	if err != nil {
		return err
	}
	if p.Status == domain.ProposalFailed {
		return nil
	}
	p.Status = domain.ProposalFailed
	if err := t.st.Proposals.Update(ctx, p); err != nil {
		return err
	}
	t.emit(domain.EventUnwindRejected, sov.ID, map[string]any{
		"proposal":      p.ID,
		"votes_for":     p.VotesForBPS,
		"votes_against": p.VotesAgainstBPS,
		"total_voted":   p.TotalVotedBPS,
		"reason":        "emergency_unlock",
	})
	return nil
}

// EmergencyRemoveLiquidity drains the locked position. Funding beyond what
// is needed to keep every outstanding traded token redeemable at the original
// price is settled without a protocol fee; the reserve goes back into the
// pool as a fresh position.
//
// The drain commits before settlement, with what it released recorded on the
// lock. A settlement that fails, for example because the reserve cannot be
// re-added, is retried from that record without removing liquidity again.
func (s *SovereignService) EmergencyRemoveLiquidity(ctx context.Context, id uint64, caller common.Address) (Settlement, error) {
	if err := s.emergencyDrain(ctx, id, caller); err != nil {
		return Settlement{}, err
	}
	var out Settlement
	err := s.mutate(ctx, sovereignKey(id), "emergency settle", func(ctx context.Context, t *txn) error {
		proto, err := t.authority(ctx, caller)
		if err != nil {
			return err
		}
		sov, err := t.sovereign(ctx, id, domain.PhaseEmergencyUnlocked)
		if err != nil {
			return err
		}
		lock, err := t.st.Locks.Get(ctx, id)
		if err != nil {
			return err
		}
		if lock.Settled {
			return domain.ErrAlreadyUnwound
		}
		if !lock.Liquidity.IsZero() {
			return fmt.Errorf("liquidity still locked: %w", domain.ErrInvalidState)
		}

		drained := lock.Drained
		extractable := drained.Funding
		if drained.Traded > 0 {
			reserve, err := ledger.MinReserve(sov.TotalDeposited, sov.TokenTotalSupply, drained.Traded)
			if err != nil {
				return err
			}
			extractable = ledger.Extractable(drained.Funding, reserve)
		}

		settled := domain.Amounts{Funding: extractable, Traded: drained.Traded}
		var pooled uint64
		if remainder := drained.Funding - extractable; remainder > 0 && drained.Traded > 0 {
			pos, err := s.pool.AddLiquidity(ctx, sov.PoolRef, domain.Amounts{Funding: remainder, Traded: drained.Traded})
			if err != nil {
				return fmt.Errorf("return reserve to pool: %w", err)
			}
			lock.PositionRef = pos.Position
			lock.ReturnedLiquidity = pos.Liquidity
			sov.PositionRef = pos.Position
			settled.Traded = 0
			pooled = drained.Traded
		}
		lock.Settled = true
		if err := t.st.Locks.Save(ctx, lock); err != nil {
			return err
		}

		if out, err = s.settle(ctx, t, &proto, &sov, settled, 0, pooled); err != nil {
			return err
		}
		if err := t.save(ctx, sov); err != nil {
			return err
		}
		t.emit(domain.EventEmergencyLiquidity, id, map[string]any{
			"funding":         drained.Funding,
			"traded":          drained.Traded,
			"extractable":     extractable,
			"returned":        lock.ReturnedLiquidity.Dec(),
			"unwind_balance":  out.UnwindBalance,
			"redemption_pool": out.RedemptionPool,
		})
		return nil
	})
	return out, err
}

// emergencyDrain removes the locked position unless an earlier call already
// did and its settlement is still outstanding.
func (s *SovereignService) emergencyDrain(ctx context.Context, id uint64, caller common.Address) error {
	return s.mutate(ctx, sovereignKey(id), "emergency remove liquidity", func(ctx context.Context, t *txn) error {
		if _, err := t.authority(ctx, caller); err != nil {
			return err
		}
		if _, err := t.sovereign(ctx, id, domain.PhaseEmergencyUnlocked); err != nil {
			return err
		}
		lock, err := t.st.Locks.Get(ctx, id)
		if err != nil {
			return err
		}
		if lock.Settled {
			return domain.ErrAlreadyUnwound
		}
		if lock.Liquidity.IsZero() {
			return nil
		}
		_, err = s.drain(ctx, t, &lock)
		return err
	})
}

// EmergencyWithdraw returns a depositor's funds from an emergency-unlocked
// sovereign. Before finalization the record is refunded in full to its
// depositor; after it, the claim token holder receives a capped share of the
// drained position plus unclaimed fees, and the token is burned.
func (s *SovereignService) EmergencyWithdraw(ctx context.Context, id uint64, caller common.Address, tokenID string) (uint64, error) {
	var payout uint64
	err := s.mutate(ctx, sovereignKey(id), "emergency withdraw", func(ctx context.Context, t *txn) error {
		sov, err := t.sovereign(ctx, id, domain.PhaseEmergencyUnlocked, domain.PhaseRetired)
		if err != nil {
			return err
		}
		if caller == sov.Creator {
			return domain.ErrCreatorCannotAct
		}

		var rec domain.DepositRecord
		if tokenID != "" {
			ref, err := t.claims().HoldsClaimToken(ctx, id, tokenID, caller)
			if err != nil {
				return err
			}
			lock, err := t.st.Locks.Get(ctx, id)
			if err != nil {
				return err
			}
			if !lock.Settled {
				return fmt.Errorf("liquidity still locked: %w", domain.ErrInvalidState)
			}
			rec = ref.Record
			if rec.UnwindClaimed {
				return domain.ErrAlreadyClaimed
			}
			if payout, err = ledger.CappedShare(sov.UnwindBalance, rec.Amount, sov.TotalDeposited); err != nil {
				return err
			}
			fees, err := ledger.FeeIndexClaimable(sov.TotalFeesCollected, rec.Amount, sov.TotalDeposited, rec.FeesClaimed)
			if err != nil {
				return err
			}
			if payout, err = ledger.Add(payout, fees); err != nil {
				return err
			}
			rec.FeesClaimed += fees
			if err := burnClaimToken(ctx, t, ref.Token); err != nil {
				return err
			}
		} else {
			rec, err = t.st.Deposits.Get(ctx, id, caller)
			if err != nil {
				return err
			}
			if rec.ClaimTokenID != "" {
				return domain.ErrNotTokenHolder
			}
			lock, err := t.st.Locks.Get(ctx, id)
			switch {
			case err == nil && !lock.Settled:
				return fmt.Errorf("liquidity still locked: %w", domain.ErrInvalidState)
			case err != nil && !errors.Is(err, domain.ErrNotFound):
				return err
			}
			payout = rec.Amount
		}
		if sov.VaultBalance < payout {
			return domain.ErrInsufficientVaultBalance
		}

		if err := t.st.Deposits.Delete(ctx, id, rec.Depositor); err != nil {
			return err
		}
		sov.VaultBalance -= payout
		if sov.DepositorCount > 0 {
			sov.DepositorCount--
		}
		if err := t.send(ctx, id, caller, domain.AssetFunding, payout); err != nil {
			return err
		}
		t.emit(domain.EventEmergencyWithdrawn, id, map[string]any{
			"depositor": rec.Depositor.Hex(),
			"holder":    caller.Hex(),
			"token":     tokenID,
			"amount":    payout,
		})
		return s.retireIfEmptied(ctx, t, &sov)
	})
	return payout, err
}

// EmergencyWithdrawCreator returns the creator's escrow, unreleased creation
// fee and pending fee share, and either returns or burns the traded tokens
// still held for the sovereign.
func (s *SovereignService) EmergencyWithdrawCreator(ctx context.Context, id uint64, caller common.Address, burnTokens bool) (uint64, error) {
	var refunded uint64
	err := s.mutate(ctx, sovereignKey(id), "emergency withdraw creator", func(ctx context.Context, t *txn) error {
		sov, err := t.sovereign(ctx, id, domain.PhaseEmergencyUnlocked)
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

		if refunded, err = ledger.Add(sov.CreatorEscrow, sov.CreationFeeEscrowed); err != nil {
			return err
		}
		pending := tracker.PendingWithdrawal
		if sov.VaultBalance < pending {
			return domain.ErrInsufficientVaultBalance
		}
		if refunded, err = ledger.Add(refunded, pending); err != nil {
			return err
		}
		tokens, err := ledger.Add(sov.TokenVaultBalance, sov.UnwindTokenBalance)
		if err != nil {
			return err
		}
		if refunded == 0 && tokens == 0 && sov.TokenSupplyDeposited == 0 {
			return domain.ErrNothingToClaim
		}

		if pending > 0 {
			tracker.PendingWithdrawal = 0
			if tracker.TotalClaimed, err = ledger.Add(tracker.TotalClaimed, pending); err != nil {
				return err
			}
			if err := t.st.Creators.Save(ctx, tracker); err != nil {
				return err
			}
			sov.VaultBalance -= pending
		}
		sov.CreatorEscrow = 0
		sov.CreationFeeEscrowed = 0
		sov.TokenVaultBalance = 0
		sov.UnwindTokenBalance = 0
		sov.TokenSupplyDeposited = 0

		if err := t.send(ctx, id, caller, domain.AssetFunding, refunded); err != nil {
			return err
		}
		if burnTokens {
			err = t.burn(ctx, id, domain.AssetTraded, tokens)
		} else {
			err = t.send(ctx, id, caller, domain.AssetTraded, tokens)
		}
		if err != nil {
			return err
		}
		t.emit(domain.EventEmergencyCreatorRefund, id, map[string]any{
			"funding": refunded,
			"tokens":  tokens,
			"burned":  burnTokens,
		})
		return s.retireIfEmptied(ctx, t, &sov)
	})
	return refunded, err
}

// EmergencyTokenRedemption lets a holder of the traded asset burn tokens for
// a pro-rata slice of the redemption pool while the window is open.
func (s *SovereignService) EmergencyTokenRedemption(ctx context.Context, id uint64, holder common.Address, burned uint64) (uint64, error) {
	var payout uint64
	err := s.mutate(ctx, sovereignKey(id), "token redemption", func(ctx context.Context, t *txn) error {
		sov, err := t.sovereign(ctx, id, domain.PhaseEmergencyUnlocked, domain.PhaseRetired, domain.PhaseUnwound)
		if err != nil {
			return err
		}
		if burned == 0 {
			return domain.ErrZeroAmount
		}
		if sov.RedemptionPool == 0 || sov.CirculatingSnapshot == 0 {
			return domain.ErrInsufficientRedemptionPool
		}
		if deadlinePassed(t.now, sov.RedemptionDeadline) {
			return domain.ErrRedemptionWindowClosed
		}
		if burned > sov.CirculatingSnapshot {
			return fmt.Errorf("burn %d above circulating %d: %w", burned, sov.CirculatingSnapshot, domain.ErrInsufficientRedemptionPool)
		}
		if payout, err = ledger.RedemptionPayout(burned, sov.RedemptionPool, sov.CirculatingSnapshot); err != nil {
			return err
		}
		if sov.VaultBalance < payout {
			return domain.ErrInsufficientVaultBalance
		}

		if err := s.receive(ctx, t, id, holder, domain.AssetTraded, burned); err != nil {
			return err
		}
		sov.RedemptionPool -= payout
		sov.CirculatingSnapshot -= burned
		sov.VaultBalance -= payout
		if err := t.save(ctx, sov); err != nil {
			return err
		}
		if err := t.burn(ctx, id, domain.AssetTraded, burned); err != nil {
			return err
		}
		if err := t.send(ctx, id, holder, domain.AssetFunding, payout); err != nil {
			return err
		}
		t.emit(domain.EventTokensRedeemed, id, map[string]any{
			"holder": holder.Hex(),
			"burned": burned,
			"payout": payout,
		})
		return nil
	})
	return payout, err
}

// SweepRedemptionPool sends what is left of the redemption pool to the
// treasury once the window has closed.
func (s *SovereignService) SweepRedemptionPool(ctx context.Context, id uint64, caller common.Address) (uint64, error) {
	var swept uint64
	err := s.mutate(ctx, sovereignKey(id), "sweep redemption pool", func(ctx context.Context, t *txn) error {
		proto, err := t.authority(ctx, caller)
		if err != nil {
			return err
		}
		sov, err := t.sovereign(ctx, id, domain.PhaseEmergencyUnlocked, domain.PhaseRetired, domain.PhaseUnwound)
		if err != nil {
			return err
		}
		if sov.RedemptionPool == 0 {
			return domain.ErrInsufficientRedemptionPool
		}
		if !deadlinePassed(t.now, sov.RedemptionDeadline) {
			return domain.ErrRedemptionWindowOpen
		}
		swept = sov.RedemptionPool
		if sov.VaultBalance < swept {
			return domain.ErrInsufficientVaultBalance
		}
		sov.VaultBalance -= swept
		sov.RedemptionPool = 0
		sov.CirculatingSnapshot = 0
		if err := t.save(ctx, sov); err != nil {
			return err
		}
		if err := s.toTreasury(ctx, t, &proto, id, swept); err != nil {
			return err
		}
		t.emit(domain.EventRedemptionSwept, id, map[string]any{"amount": swept})
		return nil
	})
	return swept, err
}

// retireIfEmptied retires an emergency-unlocked sovereign once nobody is owed
// anything. Funding left in the vault beyond the redemption pool is dust from
// rounding and unclaimed fees, and goes to the treasury.
func (s *SovereignService) retireIfEmptied(ctx context.Context, t *txn, sov *domain.Sovereign) error {
	if sov.Phase != domain.PhaseEmergencyUnlocked || !sov.Emptied() {
		return t.save(ctx, *sov)
	}
	if dust := ledger.SaturatingSub(sov.VaultBalance, sov.RedemptionPool); dust > 0 {
		proto, err := t.protocol(ctx)
		if err != nil {
			return err
		}
		sov.VaultBalance -= dust
		if err := s.toTreasury(ctx, t, &proto, sov.ID, dust); err != nil {
			return err
		}
	}
	sov.Phase = domain.PhaseRetired
	if err := t.save(ctx, *sov); err != nil {
		return err
	}
	t.emit(domain.EventRetired, sov.ID, map[string]any{"redemption_pool": sov.RedemptionPool})
	return nil
}

// toTreasury pays amount to the treasury and counts it as protocol revenue.
func (s *SovereignService) toTreasury(ctx context.Context, t *txn, proto *domain.ProtocolState, id, amount uint64) error {
	var err error
	if proto.TotalFeesCollected, err = ledger.Add(proto.TotalFeesCollected, amount); err != nil {
		return err
	}
	proto.UpdatedAt = t.now
	if err := t.st.Protocol.Save(ctx, *proto); err != nil {
		return err
	}
	return t.send(ctx, id, proto.Treasury, domain.AssetFunding, amount)
}
