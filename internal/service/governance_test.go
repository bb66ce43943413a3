package service

import (
	"context"
	"testing"

	"github.com/ethereum/go-ethereum/common"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/alanyoungcy/sovereign-liquidity/internal/domain"
	"github.com/alanyoungcy/sovereign-liquidity/internal/ledger"
)

// passVote opens a proposal, votes it through 7500 to 2500 and finalizes it,
// leaving the sovereign Unwinding.
func passVote(t *testing.T, f *fixture, id uint64) domain.Proposal {
	t.Helper()
	tokA, tokB := f.token(id, alice), f.token(id, bob)
	p, err := f.svc.ProposeUnwind(f.ctx, id, tokA, alice)
	require.NoError(t, err)
	_, err = f.svc.Vote(f.ctx, id, p.ID, tokA, alice, true)
	require.NoError(t, err)
	_, err = f.svc.Vote(f.ctx, id, p.ID, tokB, bob, false)
	require.NoError(t, err)

	f.clock.Advance(domain.VotingPeriod + 1)
	p, err = f.svc.FinalizeVote(f.ctx, id, p.ID)
	require.NoError(t, err)
	require.Equal(t, domain.ProposalPassed, p.Status)
	return p
}

func TestProposeUnwind_Guards(t *testing.T) {
	f := newFixture(t)
	id := f.launch(domain.FeeModeCreatorRevenue)
	tokA := f.token(id, alice)

	_, err := f.svc.ProposeUnwind(f.ctx, id, tokA, alice)
	assert.ErrorIs(t, err, domain.ErrInvalidState, "recovery phase")

	f.accrue(id, testTarget, 0)
	_, err = f.svc.ClaimFees(f.ctx, id)
	require.NoError(t, err)

	_, err = f.svc.ProposeUnwind(f.ctx, id, tokA, bob)
	assert.ErrorIs(t, err, domain.ErrNotTokenHolder)

	p, err := f.svc.ProposeUnwind(f.ctx, id, tokA, alice)
	require.NoError(t, err)
	assert.Equal(t, uint64(1), p.ID)
	assert.Equal(t, f.clock.Now().Add(domain.VotingPeriod), p.VotingEndsAt)

	_, err = f.svc.ProposeUnwind(f.ctx, id, f.token(id, bob), bob)
	assert.ErrorIs(t, err, domain.ErrProposalActive)
}

func TestVote(t *testing.T) {
	f := newFixture(t)
	id := f.activate()
	tokA := f.token(id, alice)
	p, err := f.svc.ProposeUnwind(f.ctx, id, tokA, alice)
	require.NoError(t, err)

	p, err = f.svc.Vote(f.ctx, id, p.ID, tokA, alice, true)
	require.NoError(t, err)
	assert.Equal(t, uint64(7_500), p.VotesForBPS)
	assert.Equal(t, uint64(1), p.VoterCount)

	_, err = f.svc.Vote(f.ctx, id, p.ID, tokA, alice, false)
	assert.ErrorIs(t, err, domain.ErrAlreadyVoted)

	// The vote belongs to the token, not the holder.
	_, err = f.svc.TransferClaimToken(f.ctx, tokA, alice, carol)
	require.NoError(t, err)
	_, err = f.svc.Vote(f.ctx, id, p.ID, tokA, carol, true)
	assert.ErrorIs(t, err, domain.ErrAlreadyVoted)

	_, err = f.svc.FinalizeVote(f.ctx, id, p.ID)
	assert.ErrorIs(t, err, domain.ErrVotingNotEnded)

	f.clock.Advance(domain.VotingPeriod + 1)
	_, err = f.svc.Vote(f.ctx, id, p.ID, f.token(id, bob), bob, true)
	assert.ErrorIs(t, err, domain.ErrVotingEnded)
}

func TestFinalizeVote_QuorumNotMet(t *testing.T) {
	f := newFixture(t)
	id := f.activate()
	tokB := f.token(id, bob)
	p, err := f.svc.ProposeUnwind(f.ctx, id, tokB, bob)
	require.NoError(t, err)
	_, err = f.svc.Vote(f.ctx, id, p.ID, tokB, bob, true)
	require.NoError(t, err)

	f.clock.Advance(domain.VotingPeriod + 1)
	p, err = f.svc.FinalizeVote(f.ctx, id, p.ID)
	require.NoError(t, err)
	assert.Equal(t, domain.ProposalFailed, p.Status)

	sov := f.sovereign(id)
	assert.Equal(t, domain.PhaseActive, sov.Phase)
	assert.False(t, sov.HasActiveProposal)

	p2, err := f.svc.ProposeUnwind(f.ctx, id, tokB, bob)
	require.NoError(t, err)
	assert.Equal(t, uint64(2), p2.ID)
}

func TestExecuteUnwind_CancelledByVolume(t *testing.T) {
	f := newFixture(t)
	id := f.activate()
	p := passVote(t, f, id)
	assert.Equal(t, domain.PhaseUnwinding, f.sovereign(id).Phase)

	_, err := f.svc.ExecuteUnwind(f.ctx, id, p.ID)
	assert.ErrorIs(t, err, domain.ErrObservationNotEnded)

	// 10% of 2^20 deposited, rounded down, is exactly the requirement.
	f.accrue(id, 104_857, 0)
	f.clock.Advance(domain.ObservationPeriod)

	out, err := f.svc.ExecuteUnwind(f.ctx, id, p.ID)
	require.NoError(t, err)
	assert.True(t, out.Cancelled)
	assert.Equal(t, uint64(104_857), out.ActualFees)

	sov := f.sovereign(id)
	assert.Equal(t, domain.PhaseActive, sov.Phase)
	assert.False(t, sov.HasActiveProposal)
	lock, err := f.svc.GetLock(f.ctx, id)
	require.NoError(t, err)
	assert.Equal(t, testTarget, lock.Liquidity.Uint64())
}

func TestExecuteUnwind_OneUnitShortUnwinds(t *testing.T) {
	f := newFixture(t)
	id := f.activate()
	p := passVote(t, f, id)

	f.accrue(id, 104_856, 0)
	f.clock.Advance(domain.ObservationPeriod)

	out, err := f.svc.ExecuteUnwind(f.ctx, id, p.ID)
	require.NoError(t, err)
	assert.False(t, out.Cancelled)
	assert.Equal(t, domain.PhaseUnwound, f.sovereign(id).Phase)

	_, err = f.svc.ExecuteUnwind(f.ctx, id, p.ID)
	assert.ErrorIs(t, err, domain.ErrInvalidState)
}

func TestUnwind_SettlesAndPaysClaims(t *testing.T) {
	f := newFixture(t)
	id := f.activate()
	p := passVote(t, f, id)
	f.clock.Advance(domain.ObservationPeriod)
	treasuryBefore := f.funding(treasury)

	out, err := f.svc.ExecuteUnwind(f.ctx, id, p.ID)
	require.NoError(t, err)
	st := out.Settlement
	assert.Equal(t, uint64(1_058_546), st.Funding)
	assert.Equal(t, uint64(1_038_700), st.Traded)
	assert.Equal(t, uint64(211_709), st.ProtocolFee)
	assert.Equal(t, uint64(846_837), st.UnwindBalance)
	assert.Equal(t, uint64(0), st.Surplus)
	assert.Equal(t, treasuryBefore+211_709, f.funding(treasury))

	lock, err := f.svc.GetLock(f.ctx, id)
	require.NoError(t, err)
	assert.True(t, lock.Liquidity.IsZero())
	assert.True(t, lock.Unwound)

	tokA, tokB := f.token(id, alice), f.token(id, bob)
	aliceBefore := f.funding(alice)

	paid, err := f.svc.ClaimUnwind(f.ctx, id, tokA, alice)
	require.NoError(t, err)
	// Unwind share plus the fee-index share never claimed.
	assert.Equal(t, uint64(635_127+778_590), paid)
	assert.Equal(t, aliceBefore+paid, f.funding(alice))

	_, err = f.svc.ClaimUnwind(f.ctx, id, tokA, alice)
	assert.ErrorIs(t, err, domain.ErrClaimTokenBurned)

	paid, err = f.svc.ClaimUnwind(f.ctx, id, tokB, bob)
	require.NoError(t, err)
	assert.Equal(t, uint64(211_709+259_530), paid)
	assert.Equal(t, uint64(1), f.sovereign(id).VaultBalance)
}

func TestUnwind_SurplusFundsRedemption(t *testing.T) {
	f := newFixture(t)
	id := f.activate()
	pool := f.sovereign(id).PoolRef

	// An outside buyer pushes funding into the pool.
	bought, err := f.pool.SwapExactIn(f.ctx, pool, domain.SwapFundingToTraded, 1_000_000, 0)
	require.NoError(t, err)
	require.Equal(t, uint64(503_799), bought)

	p := passVote(t, f, id)
	f.clock.Advance(domain.ObservationPeriod)
	out, err := f.svc.ExecuteUnwind(f.ctx, id, p.ID)
	require.NoError(t, err)
	st := out.Settlement
	assert.Equal(t, uint64(1_644_437), st.InvestorPool)
	assert.Equal(t, uint64(595_861), st.Surplus)
	assert.Equal(t, uint64(595_861), st.RedemptionPool)
	assert.Equal(t, uint64(513_675), st.Circulating)

	// Claims are capped at the pledge.
	paid, err := f.svc.ClaimUnwind(f.ctx, id, f.token(id, alice), alice)
	require.NoError(t, err)
	assert.Equal(t, alicePledge+778_590, paid)
	paid, err = f.svc.ClaimUnwind(f.ctx, id, f.token(id, bob), bob)
	require.NoError(t, err)
	assert.Equal(t, bobPledge+259_530, paid)
	assert.Equal(t, uint64(595_861), f.sovereign(id).VaultBalance)

	// The creator's market-buy tokens are outside the pool and redeemable.
	_, err = f.svc.EmergencyTokenRedemption(f.ctx, id, creator, 513_676)
	assert.ErrorIs(t, err, domain.ErrInsufficientRedemptionPool)

	burnedBefore := f.custody.Burned(common.Address{}, id, domain.AssetTraded)
	payout, err := f.svc.EmergencyTokenRedemption(f.ctx, id, creator, 9_876)
	require.NoError(t, err)
	assert.Equal(t, uint64(11_456), payout)
	assert.Equal(t, uint64(0), f.custody.Balance(creator, id, domain.AssetTraded))
	assert.Equal(t, burnedBefore+9_876, f.custody.Burned(common.Address{}, id, domain.AssetTraded))

	sov := f.sovereign(id)
	assert.Equal(t, uint64(595_861-11_456), sov.RedemptionPool)
	assert.Equal(t, uint64(513_675-9_876), sov.CirculatingSnapshot)

	_, err = f.svc.SweepRedemptionPool(f.ctx, id, authority)
	assert.ErrorIs(t, err, domain.ErrRedemptionWindowOpen)

	f.clock.Advance(domain.RedemptionWindow + 1)
	_, err = f.svc.EmergencyTokenRedemption(f.ctx, id, creator, 1)
	assert.ErrorIs(t, err, domain.ErrRedemptionWindowClosed)

	_, err = f.svc.SweepRedemptionPool(f.ctx, id, alice)
	assert.ErrorIs(t, err, domain.ErrNotAuthority)
	swept, err := f.svc.SweepRedemptionPool(f.ctx, id, authority)
	require.NoError(t, err)
	assert.Equal(t, uint64(595_861-11_456), swept)
	assert.Equal(t, uint64(0), f.sovereign(id).VaultBalance)
}

func TestRedemption_SequentialBurns(t *testing.T) {
	f := newFixture(t)
	id := f.activate()
	pool := f.sovereign(id).PoolRef

	bought, err := f.pool.SwapExactIn(f.ctx, pool, domain.SwapFundingToTraded, 1_000_000, 0)
	require.NoError(t, err)
	f.custody.Fund(carol, id, domain.AssetTraded, bought)

	p := passVote(t, f, id)
	f.clock.Advance(domain.ObservationPeriod)
	out, err := f.svc.ExecuteUnwind(f.ctx, id, p.ID)
	require.NoError(t, err)
	st := out.Settlement
	require.Equal(t, bought+9_876, st.Circulating)
	require.Positive(t, st.RedemptionPool)

	steps := []struct {
		holder common.Address
		burn   uint64
	}{
		{carol, 200_000},
		{creator, 9_876},
		{carol, 150_000},
		{carol, 1},
		{carol, bought - 350_001},
	}
	var paid, carolPaid uint64
	carolBefore := f.funding(carol)
	for i, step := range steps {
		before := f.sovereign(id)
		want, err := ledger.RedemptionPayout(step.burn, before.RedemptionPool, before.CirculatingSnapshot)
		require.NoError(t, err)

		got, err := f.svc.EmergencyTokenRedemption(f.ctx, id, step.holder, step.burn)
		require.NoError(t, err, "step %d", i)
		assert.Equal(t, want, got, "step %d", i)

		after := f.sovereign(id)
		assert.Equal(t, before.RedemptionPool-got, after.RedemptionPool, "step %d", i)
		assert.Equal(t, before.CirculatingSnapshot-step.burn, after.CirculatingSnapshot, "step %d", i)
		assert.Equal(t, before.VaultBalance-got, after.VaultBalance, "step %d", i)
		assert.Equal(t, st.RedemptionPool, paid+got+after.RedemptionPool, "step %d", i)
		paid += got
		if step.holder == carol {
			carolPaid += got
		}
	}

	final := f.sovereign(id)
	assert.Equal(t, uint64(0), final.CirculatingSnapshot)
	assert.Equal(t, uint64(0), final.RedemptionPool, "the last burn takes the remainder")
	assert.Equal(t, st.RedemptionPool, paid)
	assert.Equal(t, carolBefore+carolPaid, f.funding(carol))
	assert.Equal(t, uint64(0), f.custody.Balance(carol, id, domain.AssetTraded))

	_, err = f.svc.EmergencyTokenRedemption(f.ctx, id, carol, 1)
	assert.ErrorIs(t, err, domain.ErrInsufficientRedemptionPool)
}

func TestSettle_PooledTokensLeaveCirculation(t *testing.T) {
	f := newFixture(t)
	sov := domain.Sovereign{
		ID:                1,
		SovereignType:     domain.SovereignTokenLaunch,
		Creator:           creator,
		TotalDeposited:    500_000,
		TokenTotalSupply:  1_000_000,
		TokenVaultBalance: 100_000,
	}
	assert.Equal(t, uint64(900_000), circulatingSupply(sov, 0, 0))
	assert.Equal(t, uint64(850_000), circulatingSupply(sov, 50_000, 0))
	assert.Equal(t, uint64(650_000), circulatingSupply(sov, 50_000, 200_000))
	assert.Equal(t, uint64(0), circulatingSupply(sov, 500_000, 500_000))

	err := f.store.Within(f.ctx, func(ctx context.Context, st domain.Stores) error {
		proto, err := st.Protocol.Get(ctx)
		require.NoError(t, err)
		tx := &txn{now: f.clock.Now(), st: st}

		// Reserve funding and 200000 traded units went back into the pool.
		out, err := f.svc.settle(ctx, tx, &proto, &sov, domain.Amounts{Funding: 600_000}, 0, 200_000)
		require.NoError(t, err)
		assert.Equal(t, uint64(100_000), out.RedemptionPool)
		assert.Equal(t, uint64(700_000), out.Circulating)
		assert.Equal(t, uint64(700_000), sov.CirculatingSnapshot)
		return nil
	})
	require.NoError(t, err)
}
