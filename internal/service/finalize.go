package service

import (
	"context"
	"fmt"

	"github.com/alanyoungcy/sovereign-liquidity/internal/domain"
	"github.com/alanyoungcy/sovereign-liquidity/internal/ledger"
)

// FinalizeCreatePool creates the restricted pool for a sovereign that reached
// its target.
func (s *SovereignService) FinalizeCreatePool(ctx context.Context, id uint64) (domain.PoolRef, error) {
	var ref domain.PoolRef
	err := s.mutate(ctx, sovereignKey(id), "finalize create pool", func(ctx context.Context, t *txn) error {
		if _, err := t.activeProtocol(ctx); err != nil {
			return err
		}
		sov, err := t.sovereign(ctx, id, domain.PhaseFinalizing)
		if err != nil {
			return err
		}
		if sov.TotalDeposited < sov.BondTarget {
			return domain.ErrBondingTargetNotMet
		}
		if sov.PoolRef != "" {
			return domain.ErrPoolAlreadyCreated
		}
		ref, err = s.pool.CreatePool(ctx, domain.PoolParams{
			SovereignID:  id,
			FundingAsset: domain.AssetFunding,
			TradedMint:   sov.TokenMint,
			Restricted:   true,
		})
		if err != nil {
			return fmt.Errorf("create pool: %w", err)
		}
		sov.PoolRef = ref.Pool
		sov.PoolRestricted = true
		sov.Phase = domain.PhasePoolCreated
		if err := t.save(ctx, sov); err != nil {
			return err
		}
		t.emit(domain.EventPoolCreated, id, map[string]any{"pool": ref.Pool})
		return nil
	})
	return ref, err
}

// FinalizeAddLiquidity seeds the pool with the bonded funding and the LP
// allocation of the traded asset, records the permanent lock, mints one claim
// token per depositor and runs the creator's market buy.
//
// It runs as two units of work, each making one pool call. The first adds
// liquidity and commits the lock and vault debits with it; the second
// completes the launch. A sovereign that already has a position skips the
// first, so a retry after a failed second stage never funds the pool twice.
func (s *SovereignService) FinalizeAddLiquidity(ctx context.Context, id uint64) (domain.PermanentLock, error) {
	if err := s.seedPosition(ctx, id); err != nil {
		return domain.PermanentLock{}, err
	}
	var lock domain.PermanentLock
	err := s.mutate(ctx, sovereignKey(id), "finalize launch", func(ctx context.Context, t *txn) error {
		proto, err := t.activeProtocol(ctx)
		if err != nil {
			return err
		}
		sov, err := t.sovereign(ctx, id, domain.PhasePoolCreated)
		if err != nil {
			return err
		}
		if sov.PositionRef == "" {
			return fmt.Errorf("sovereign %d has no position: %w", id, domain.ErrInvalidState)
		}
		if lock, err = t.st.Locks.Get(ctx, id); err != nil {
			return err
		}

		sov.RecoveryTarget = sov.TotalDeposited
		sov.FinalizedAt = t.now
		sov.Phase = domain.PhaseRecovery
		if sov.RecoveryTarget == 0 {
			sov.Phase = domain.PhaseActive
			sov.PoolRestricted = false
			if err := t.unrestrict(ctx, id, sov.PoolRef); err != nil {
				return err
			}
		}

		if err := s.mintClaimTokens(ctx, t, sov); err != nil {
			return err
		}

		if fee := sov.CreationFeeEscrowed; fee > 0 {
			sov.CreationFeeEscrowed = 0
			if err := s.toTreasury(ctx, t, &proto, id, fee); err != nil {
				return fmt.Errorf("release creation fee: %w", err)
			}
		}

		if sov.CreatorEscrow > 0 {
			if err := s.creatorMarketBuy(ctx, t, &sov); err != nil {
				return err
			}
		}
		return t.save(ctx, sov)
	})
	return lock, err
}

// seedPosition adds the bonded funding and LP allocation to the pool and
// commits the resulting lock. It does nothing once the position exists.
func (s *SovereignService) seedPosition(ctx context.Context, id uint64) error {
	return s.mutate(ctx, sovereignKey(id), "finalize add liquidity", func(ctx context.Context, t *txn) error {
		if _, err := t.activeProtocol(ctx); err != nil {
			return err
		}
		sov, err := t.sovereign(ctx, id, domain.PhasePoolCreated)
		if err != nil {
			return err
		}
		if sov.PoolRef == "" {
			return domain.ErrPoolNotCreated
		}
		if sov.PositionRef != "" {
			return nil
		}

		funding := sov.TotalDeposited
		if sov.VaultBalance < funding {
			return domain.ErrInsufficientVaultBalance
		}
		lpTokens := sov.TokenVaultBalance
		if sov.SovereignType == domain.SovereignTokenLaunch {
			if lpTokens, err = ledger.ApplyBPS(sov.TokenVaultBalance, domain.LPAllocationBPS); err != nil {
				return err
			}
		}

		pos, err := s.pool.AddLiquidity(ctx, sov.PoolRef, domain.Amounts{Funding: funding, Traded: lpTokens})
		if err != nil {
			return fmt.Errorf("add liquidity: %w", err)
		}
		sov.VaultBalance -= funding
		sov.TokenVaultBalance -= lpTokens
		sov.PositionRef = pos.Position

		lock := domain.PermanentLock{
			SovereignID: id,
			PoolRef:     sov.PoolRef,
			PositionRef: pos.Position,
			Liquidity:   pos.Liquidity,
			TickLower:   pos.TickLower,
			TickUpper:   pos.TickUpper,
			PoolTokens:  lpTokens,
			CreatedAt:   t.now,
		}
		if err := t.st.Locks.Save(ctx, lock); err != nil {
			return err
		}
		t.emit(domain.EventLiquidityAdded, id, map[string]any{
			"funding":   funding,
			"traded":    lpTokens,
			"liquidity": pos.Liquidity.Dec(),
			"position":  pos.Position,
		})
		return t.save(ctx, sov)
	})
}

func (s *SovereignService) mintClaimTokens(ctx context.Context, t *txn, sov domain.Sovereign) error {
	records, err := t.st.Deposits.ListBySovereign(ctx, sov.ID, domain.ListOpts{})
	if err != nil {
		return err
	}
	for _, rec := range records {
		if rec.Amount == 0 {
			continue
		}
		if rec.SharesBPS, err = ledger.ShareBPS(rec.Amount, sov.TotalDeposited); err != nil {
			return err
		}
		tok, err := mintClaimToken(ctx, t, rec)
		if err != nil {
			return err
		}
		rec.ClaimTokenID = tok.ID
		rec.UpdatedAt = t.now
		if err := t.st.Deposits.Upsert(ctx, rec); err != nil {
			return err
		}
		t.emit(domain.EventClaimTokenMinted, sov.ID, map[string]any{
			"token":      tok.ID,
			"holder":     tok.Holder.Hex(),
			"shares_bps": tok.SharesBPS,
		})
	}
	return nil
}

// creatorMarketBuy spends the creator's escrow on the traded asset at the
// opening price and queues the proceeds for the creator. The swap is the
// last pool call of the unit of work.
func (s *SovereignService) creatorMarketBuy(ctx context.Context, t *txn, sov *domain.Sovereign) error {
	escrow := sov.CreatorEscrow
	tracker, err := t.st.Creators.Get(ctx, sov.ID)
	if err != nil {
		return err
	}
	minOut, err := s.minSwapOut(ctx, sov.PoolRef, domain.SwapFundingToTraded, escrow)
	if err != nil {
		return err
	}
	out, err := s.pool.SwapExactIn(ctx, sov.PoolRef, domain.SwapFundingToTraded, escrow, minOut)
	if err != nil {
		return fmt.Errorf("creator market buy: %w", err)
	}
	sov.CreatorEscrow = 0

	tracker.PurchasedTokens = out
	tracker.PurchasedAt = t.now
	if err := t.st.Creators.Save(ctx, tracker); err != nil {
		return err
	}
	if err := t.send(ctx, sov.ID, sov.Creator, domain.AssetTraded, out); err != nil {
		return err
	}
	t.emit(domain.EventCreatorMarketBuy, sov.ID, map[string]any{
		"spent":  escrow,
		"tokens": out,
	})
	return nil
}

// minSwapOut quotes a constant-product swap against current reserves and
// allows MaxSlippageBPS below the quote.
func (s *SovereignService) minSwapOut(ctx context.Context, pool string, dir domain.SwapDirection, amountIn uint64) (uint64, error) {
	r, err := s.pool.Reserves(ctx, pool)
	if err != nil {
		return 0, fmt.Errorf("read reserves: %w", err)
	}
	reserveIn, reserveOut := r.Funding, r.Traded
	if dir == domain.SwapTradedToFunding {
		reserveIn, reserveOut = r.Traded, r.Funding
	}
	if reserveIn == 0 || reserveOut == 0 {
		return 0, nil
	}
	den, err := ledger.Add(reserveIn, amountIn)
	if err != nil {
		return 0, err
	}
	quote, err := ledger.MulDiv(reserveOut, amountIn, den)
	if err != nil {
		return 0, err
	}
	return ledger.ApplyBPS(quote, ledger.BPSDenominator-domain.MaxSlippageBPS)
}
