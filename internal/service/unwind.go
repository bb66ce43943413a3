package service

import (
	"context"
	"fmt"

	"github.com/ethereum/go-ethereum/common"
	"github.com/holiman/uint256"

	"github.com/alanyoungcy/sovereign-liquidity/internal/domain"
	"github.com/alanyoungcy/sovereign-liquidity/internal/ledger"
)

// Settlement is how a drained position's funding was partitioned.
type Settlement struct {
	Funding        uint64
	Traded         uint64
	ProtocolFee    uint64
	InvestorPool   uint64
	Surplus        uint64
	UnwindBalance  uint64
	RedemptionPool uint64
	Circulating    uint64
}

// drain removes the whole position and records what it released on the
// lock with its liquidity zeroed, so a second drain finds nothing to remove
// and a later stage can settle the release without calling the pool again.
func (s *SovereignService) drain(ctx context.Context, t *txn, lock *domain.PermanentLock) (domain.Amounts, error) {
	out, err := s.pool.RemoveLiquidity(ctx, lock.PoolRef, lock.PositionRef, lock.Liquidity, domain.Amounts{})
	if err != nil {
		return domain.Amounts{}, fmt.Errorf("remove liquidity: %w", err)
	}
	lock.Liquidity = uint256.Int{}
	lock.Unwound = true
	lock.UnwoundAt = t.now
	lock.Drained = out
	if err := t.st.Locks.Save(ctx, *lock); err != nil {
		return domain.Amounts{}, err
	}
	return out, nil
}

// settle partitions funding released from the pool. feeBPS goes to the
// treasury first. What exceeds the original principal is the surplus: for a
// TokenLaunch it funds the redemption pool for outside holders of the traded
// asset, for a BYO sovereign it goes to the treasury. Traded tokens released
// alongside stay with the sovereign for a TokenLaunch and return to the
// creator for BYO. pooled is traded supply put back into the pool outside
// amounts; like the vault it is not held by anyone who could redeem it.
func (s *SovereignService) settle(ctx context.Context, t *txn, proto *domain.ProtocolState, sov *domain.Sovereign, amounts domain.Amounts, feeBPS, pooled uint64) (Settlement, error) {
	st := Settlement{Funding: amounts.Funding, Traded: amounts.Traded}
	var err error
	if st.ProtocolFee, err = ledger.ApplyBPS(amounts.Funding, feeBPS); err != nil {
		return st, err
	}
	st.InvestorPool = amounts.Funding - st.ProtocolFee
	st.Surplus = ledger.SaturatingSub(st.InvestorPool, sov.TotalDeposited)

	toTreasury := st.ProtocolFee
	retained := st.InvestorPool
	var tokensToCreator uint64

	switch sov.SovereignType {
	case domain.SovereignTokenLaunch:
		st.UnwindBalance = st.InvestorPool
		sov.UnwindTokenBalance = amounts.Traded
		if st.Surplus > 0 {
			st.RedemptionPool = st.Surplus
			st.Circulating = circulatingSupply(*sov, amounts.Traded, pooled)
			sov.RedemptionDeadline = t.now.Add(domain.RedemptionWindow)
		}
	case domain.SovereignBYOToken:
		st.UnwindBalance = st.InvestorPool - st.Surplus
		toTreasury += st.Surplus
		retained -= st.Surplus
		tokensToCreator = amounts.Traded
		sov.UnwindTokenBalance = 0
	}

	sov.UnwindBalance = st.UnwindBalance
	sov.RedemptionPool = st.RedemptionPool
	sov.CirculatingSnapshot = st.Circulating
	if sov.VaultBalance, err = ledger.Add(sov.VaultBalance, retained); err != nil {
		return st, err
	}

	if toTreasury > 0 {
		if err := s.toTreasury(ctx, t, proto, sov.ID, toTreasury); err != nil {
			return st, fmt.Errorf("pay treasury: %w", err)
		}
	}
	if err := t.send(ctx, sov.ID, sov.Creator, domain.AssetTraded, tokensToCreator); err != nil {
		return st, fmt.Errorf("return tokens: %w", err)
	}
	return st, nil
}

// circulatingSupply is the traded supply held outside the sovereign: total
// supply less the vault, the tokens just released and any put back into the
// pool.
func circulatingSupply(sov domain.Sovereign, released, pooled uint64) uint64 {
	out := ledger.SaturatingSub(sov.TokenTotalSupply, sov.TokenVaultBalance)
	out = ledger.SaturatingSub(out, released)
	return ledger.SaturatingSub(out, pooled)
}

// unwind drains the position, settles it with the protocol unwind fee and
// moves the sovereign to Unwound.
func (s *SovereignService) unwind(ctx context.Context, t *txn, proto domain.ProtocolState, sov *domain.Sovereign, lock *domain.PermanentLock) (Settlement, error) {
	amounts, err := s.drain(ctx, t, lock)
	if err != nil {
		return Settlement{}, err
	}
	lock.Settled = true
	if err := t.st.Locks.Save(ctx, *lock); err != nil {
		return Settlement{}, err
	}
	st, err := s.settle(ctx, t, &proto, sov, amounts, proto.UnwindFeeBPS, 0)
	if err != nil {
		return st, err
	}
	sov.Phase = domain.PhaseUnwound
	sov.UnwoundAt = t.now
	sov.HasActiveProposal = false
	sov.ActivityCheckPending = false
	if err := t.save(ctx, *sov); err != nil {
		return st, err
	}
	t.emit(domain.EventUnwound, sov.ID, map[string]any{
		"funding":         st.Funding,
		"traded":          st.Traded,
		"protocol_fee":    st.ProtocolFee,
		"unwind_balance":  st.UnwindBalance,
		"surplus":         st.Surplus,
		"redemption_pool": st.RedemptionPool,
	})
	return st, nil
}

// ClaimUnwind pays a claim token's share of the unwind balance, capped at
// the original pledge, plus any fee-index share it has not yet claimed, and
// burns the token.
func (s *SovereignService) ClaimUnwind(ctx context.Context, id uint64, tokenID string, caller common.Address) (uint64, error) {
	var payout uint64
	err := s.mutate(ctx, sovereignKey(id), "claim unwind", func(ctx context.Context, t *txn) error {
		sov, err := t.sovereign(ctx, id, domain.PhaseUnwound)
		if err != nil {
			return err
		}
		ref, err := t.claims().HoldsClaimToken(ctx, id, tokenID, caller)
		if err != nil {
			return err
		}
		rec := ref.Record
		if rec.UnwindClaimed {
			return domain.ErrAlreadyClaimed
		}
		if sov.TotalDeposited == 0 {
			return domain.ErrNoDeposits
		}
		if payout, err = ledger.CappedShare(sov.UnwindBalance, rec.Amount, sov.TotalDeposited); err != nil {
			return err
		}
		// Fees the token never claimed would otherwise be stranded by the burn.
		fees, err := ledger.FeeIndexClaimable(sov.TotalFeesCollected, rec.Amount, sov.TotalDeposited, rec.FeesClaimed)
		if err != nil {
			return err
		}
		if payout, err = ledger.Add(payout, fees); err != nil {
			return err
		}
		if fees > 0 {
			rec.FeesClaimed += fees
		}
		if sov.VaultBalance < payout {
			return domain.ErrInsufficientVaultBalance
		}

		rec.UnwindClaimed = true
		rec.UpdatedAt = t.now
		if err := t.st.Deposits.Upsert(ctx, rec); err != nil {
			return err
		}
		if err := burnClaimToken(ctx, t, ref.Token); err != nil {
			return err
		}
		sov.VaultBalance -= payout
		if err := t.save(ctx, sov); err != nil {
			return err
		}
		if err := t.send(ctx, id, caller, domain.AssetFunding, payout); err != nil {
			return err
		}
		t.emit(domain.EventUnwindClaimed, id, map[string]any{
			"token":  tokenID,
			"holder": caller.Hex(),
			"amount": payout,
		})
		return nil
	})
	return payout, err
}
