package service

import (
	"context"
	"errors"
	"fmt"

	"github.com/ethereum/go-ethereum/common"

	"github.com/alanyoungcy/sovereign-liquidity/internal/domain"
	"github.com/alanyoungcy/sovereign-liquidity/internal/ledger"
)

// PledgeResult reports what a pledge actually did.
type PledgeResult struct {
	Accepted       uint64
	TotalDeposited uint64
	Phase          domain.Phase
}

// Pledge commits funding to a bonding sovereign. The creator's pledge goes to
// escrow for the post-launch market buy and does not count toward the target.
// An investor pledge is capped at the remaining gap; only the accepted amount
// is pulled from the depositor. The pledge that reaches the target moves the
// sovereign to Finalizing.
func (s *SovereignService) Pledge(ctx context.Context, id uint64, depositor common.Address, amount uint64) (PledgeResult, error) {
	var res PledgeResult
	err := s.mutate(ctx, sovereignKey(id), "pledge", func(ctx context.Context, t *txn) error {
		proto, err := t.activeProtocol(ctx)
		if err != nil {
			return err
		}
		sov, err := t.sovereign(ctx, id, domain.PhaseBonding)
		if err != nil {
			return err
		}
		if deadlinePassed(t.now, sov.BondDeadline) {
			return domain.ErrBondingEnded
		}
		if sov.TotalDeposited >= sov.BondTarget {
			return domain.ErrBondingTargetMet
		}
		if amount == 0 {
			return domain.ErrZeroAmount
		}
		if amount < proto.MinDeposit {
			return fmt.Errorf("pledge %d below %d: %w", amount, proto.MinDeposit, domain.ErrDepositTooSmall)
		}

		if depositor == sov.Creator {
			maxEscrow, err := ledger.ApplyBPS(sov.BondTarget, domain.CreatorMaxBuyBPS)
			if err != nil {
				return err
			}
			escrow, err := ledger.Add(sov.CreatorEscrow, amount)
			if err != nil {
				return err
			}
			if escrow > maxEscrow {
				return fmt.Errorf("escrow %d above %d: %w", escrow, maxEscrow, domain.ErrCreatorDepositExceedsMax)
			}
			sov.CreatorEscrow = escrow
			if err := t.save(ctx, sov); err != nil {
				return err
			}
			if err := s.receive(ctx, t, id, depositor, domain.AssetFunding, amount); err != nil {
				return err
			}
			res = PledgeResult{Accepted: amount, TotalDeposited: sov.TotalDeposited, Phase: sov.Phase}
			t.emit(domain.EventPledged, id, map[string]any{
				"depositor": depositor.Hex(),
				"amount":    amount,
				"creator":   true,
			})
			return nil
		}

		accepted := ledger.Min(amount, sov.BondTarget-sov.TotalDeposited)

		rec, err := t.st.Deposits.Get(ctx, id, depositor)
		switch {
		case errors.Is(err, domain.ErrNotFound):
			rec = domain.DepositRecord{SovereignID: id, Depositor: depositor, DepositedAt: t.now}
		case err != nil:
			return err
		}
		if rec.Amount == 0 {
			sov.DepositorCount++
		}
		if rec.Amount, err = ledger.Add(rec.Amount, accepted); err != nil {
			return err
		}
		rec.UpdatedAt = t.now
		if sov.TotalDeposited, err = ledger.Add(sov.TotalDeposited, accepted); err != nil {
			return err
		}
		if sov.VaultBalance, err = ledger.Add(sov.VaultBalance, accepted); err != nil {
			return err
		}

		if sov.TotalDeposited >= sov.BondTarget {
			sov.Phase = domain.PhaseFinalizing
			t.emit(domain.EventBondingComplete, id, map[string]any{
				"total_deposited": sov.TotalDeposited,
				"depositors":      sov.DepositorCount,
			})
		}

		if err := t.st.Deposits.Upsert(ctx, rec); err != nil {
			return err
		}
		if err := t.save(ctx, sov); err != nil {
			return err
		}
		if err := s.receive(ctx, t, id, depositor, domain.AssetFunding, accepted); err != nil {
			return err
		}

		res = PledgeResult{Accepted: accepted, TotalDeposited: sov.TotalDeposited, Phase: sov.Phase}
		t.emit(domain.EventPledged, id, map[string]any{
			"depositor": depositor.Hex(),
			"amount":    accepted,
			"requested": amount,
			"total":     sov.TotalDeposited,
		})
		return nil
	})
	return res, err
}

// Withdraw returns part or all of an investor's pledge while bonding is open.
func (s *SovereignService) Withdraw(ctx context.Context, id uint64, depositor common.Address, amount uint64) error {
	return s.mutate(ctx, sovereignKey(id), "withdraw", func(ctx context.Context, t *txn) error {
		sov, err := t.sovereign(ctx, id, domain.PhaseBonding)
		if err != nil {
			return err
		}
		if deadlinePassed(t.now, sov.BondDeadline) {
			return domain.ErrBondingEnded
		}
		if amount == 0 {
			return domain.ErrZeroAmount
		}
		if depositor == sov.Creator {
			return domain.ErrCreatorCannotAct
		}
		rec, err := t.st.Deposits.Get(ctx, id, depositor)
		if errors.Is(err, domain.ErrNotFound) {
			return domain.ErrInsufficientDeposit
		}
		if err != nil {
			return err
		}
		if rec.Amount < amount {
			return fmt.Errorf("withdraw %d of %d: %w", amount, rec.Amount, domain.ErrInsufficientDeposit)
		}
		if sov.VaultBalance < amount {
			return domain.ErrInsufficientVaultBalance
		}

		rec.Amount -= amount
		rec.UpdatedAt = t.now
		sov.TotalDeposited -= amount
		sov.VaultBalance -= amount
		if rec.Amount == 0 {
			sov.DepositorCount--
			err = t.st.Deposits.Delete(ctx, id, depositor)
		} else {
			err = t.st.Deposits.Upsert(ctx, rec)
		}
		if err != nil {
			return err
		}
		if err := t.save(ctx, sov); err != nil {
			return err
		}
		if err := t.send(ctx, id, depositor, domain.AssetFunding, amount); err != nil {
			return err
		}
		t.emit(domain.EventWithdrawn, id, map[string]any{
			"depositor": depositor.Hex(),
			"amount":    amount,
			"remaining": rec.Amount,
		})
		return nil
	})
}

// MarkFailed closes a bonding sovereign whose deadline passed short of its
// target. Anyone may call it.
func (s *SovereignService) MarkFailed(ctx context.Context, id uint64) error {
	return s.mutate(ctx, sovereignKey(id), "mark failed", func(ctx context.Context, t *txn) error {
		sov, err := t.sovereign(ctx, id, domain.PhaseBonding)
		if err != nil {
			return err
		}
		if !deadlinePassed(t.now, sov.BondDeadline) {
			return domain.ErrBondingNotEnded
		}
		if sov.TotalDeposited >= sov.BondTarget {
			return domain.ErrBondingTargetMet
		}
		sov.Phase = domain.PhaseFailed
		if err := t.save(ctx, sov); err != nil {
			return err
		}
		t.emit(domain.EventBondingFailed, id, map[string]any{
			"total_deposited": sov.TotalDeposited,
			"bond_target":     sov.BondTarget,
		})
		return nil
	})
}

// WithdrawFailed refunds an investor's full pledge from a failed sovereign
// and closes the record.
func (s *SovereignService) WithdrawFailed(ctx context.Context, id uint64, depositor common.Address) (uint64, error) {
	var refunded uint64
	err := s.mutate(ctx, sovereignKey(id), "withdraw failed", func(ctx context.Context, t *txn) error {
		sov, err := t.sovereign(ctx, id, domain.PhaseFailed)
		if err != nil {
			return err
		}
		rec, err := t.st.Deposits.Get(ctx, id, depositor)
		if errors.Is(err, domain.ErrNotFound) {
			return domain.ErrNothingToClaim
		}
		if err != nil {
			return err
		}
		if rec.RefundClaimed || rec.Amount == 0 {
			return domain.ErrNothingToClaim
		}
		if sov.VaultBalance < rec.Amount {
			return domain.ErrInsufficientVaultBalance
		}
		refunded = rec.Amount
		sov.VaultBalance -= refunded
		sov.DepositorCount--
		if err := t.st.Deposits.Delete(ctx, id, depositor); err != nil {
			return err
		}
		if err := t.save(ctx, sov); err != nil {
			return err
		}
		if err := t.send(ctx, id, depositor, domain.AssetFunding, refunded); err != nil {
			return err
		}
		t.emit(domain.EventFailedRefund, id, map[string]any{
			"depositor": depositor.Hex(),
			"amount":    refunded,
		})
		return nil
	})
	return refunded, err
}

// WithdrawCreatorFailed returns the creator's escrow and creation fee from a
// failed sovereign, along with any deposited BYO tokens.
func (s *SovereignService) WithdrawCreatorFailed(ctx context.Context, id uint64, caller common.Address) (uint64, error) {
	var refunded uint64
	err := s.mutate(ctx, sovereignKey(id), "withdraw creator failed", func(ctx context.Context, t *txn) error {
		sov, err := t.sovereign(ctx, id, domain.PhaseFailed)
		if err != nil {
			return err
		}
		if caller != sov.Creator {
			return domain.ErrNotCreator
		}
		refunded, err = ledger.Add(sov.CreatorEscrow, sov.CreationFeeEscrowed)
		if err != nil {
			return err
		}
		var tokens uint64
		if sov.SovereignType == domain.SovereignBYOToken {
			tokens = sov.TokenVaultBalance
		}
		if refunded == 0 && tokens == 0 {
			return domain.ErrNothingToClaim
		}
		sov.CreatorEscrow = 0
		sov.CreationFeeEscrowed = 0
		if tokens > 0 {
			sov.TokenVaultBalance = 0
			sov.TokenSupplyDeposited = 0
		}
		if err := t.save(ctx, sov); err != nil {
			return err
		}
		if refunded > 0 {
			if err := t.send(ctx, id, caller, domain.AssetFunding, refunded); err != nil {
				return err
			}
		}
		if tokens > 0 {
			if err := t.send(ctx, id, caller, domain.AssetTraded, tokens); err != nil {
				return err
			}
		}
		t.emit(domain.EventCreatorRefund, id, map[string]any{
			"creator": caller.Hex(),
			"amount":  refunded,
			"tokens":  tokens,
		})
		return nil
	})
	return refunded, err
}
