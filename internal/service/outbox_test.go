package service

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/alanyoungcy/sovereign-liquidity/internal/domain"
)

func TestOutbox_FailedSendStaysPending(t *testing.T) {
	f := newFixture(t)
	id := f.bond(domain.FeeModeCreatorRevenue)
	_, err := f.svc.FinalizeCreatePool(f.ctx, id)
	require.NoError(t, err)
	treasuryBefore := f.funding(treasury)

	f.custody.fail = true
	_, err = f.svc.FinalizeAddLiquidity(f.ctx, id)
	require.NoError(t, err, "ledger commits, payouts wait")
	assert.Equal(t, domain.PhaseRecovery, f.sovereign(id).Phase)
	assert.Equal(t, uint64(0), f.custody.Balance(creator, id, domain.AssetTraded))
	assert.Equal(t, treasuryBefore, f.funding(treasury))

	pending, err := f.svc.PendingOutbox(f.ctx, id)
	require.NoError(t, err)
	require.Len(t, pending, 2)
	assert.Equal(t, domain.EffectSend, pending[0].Kind)
	assert.Equal(t, treasury, pending[0].To)
	assert.Equal(t, testCreationFee, pending[0].Amount)
	assert.Equal(t, 1, pending[0].Attempts)
	assert.Contains(t, pending[0].LastError, errSendFailed.Error())
	assert.Equal(t, creator, pending[1].To)
	assert.Equal(t, uint64(9_876), pending[1].Amount)
	assert.Equal(t, 0, pending[1].Attempts, "blocked behind the first")

	// Fees collected while payouts fail are not lost.
	f.accrue(id, 500_000, 0)
	d, err := f.svc.ClaimFees(f.ctx, id)
	require.NoError(t, err)
	assert.Equal(t, uint64(500_030), d.FundingCollected)
	assert.Positive(t, d.ProtocolShare)
	sov := f.sovereign(id)
	assert.Equal(t, d.InvestorShare, sov.VaultBalance)
	assert.Equal(t, uint64(0), sov.UnroutedFunding)

	f.custody.fail = false
	n, err := f.svc.DeliverPending(f.ctx, id)
	require.NoError(t, err)
	assert.Equal(t, 3, n)
	assert.Equal(t, uint64(9_876), f.custody.Balance(creator, id, domain.AssetTraded))
	assert.Equal(t, treasuryBefore+testCreationFee+d.ProtocolShare, f.funding(treasury))

	n, err = f.svc.DeliverPending(f.ctx, id)
	require.NoError(t, err)
	assert.Equal(t, 0, n)
	assert.Equal(t, treasuryBefore+testCreationFee+d.ProtocolShare, f.funding(treasury), "delivered once")
	pending, err = f.svc.PendingOutbox(f.ctx, id)
	require.NoError(t, err)
	assert.Empty(t, pending)
}

func TestOutbox_UnroutedFeesSurviveSwapFailure(t *testing.T) {
	f := newFixture(t)
	id := f.launch(domain.FeeModeRecoveryBoost)
	f.accrue(id, 0, 1_000)

	f.pool.failSwap = true
	_, err := f.svc.ClaimFees(f.ctx, id)
	require.ErrorIs(t, err, errSwapFailed)

	sov := f.sovereign(id)
	assert.Equal(t, uint64(30), sov.UnroutedFunding)
	assert.Equal(t, uint64(1_000), sov.UnroutedTraded)
	assert.Equal(t, uint64(0), sov.TotalRecovered)

	f.pool.failSwap = false
	d, err := f.svc.ClaimFees(f.ctx, id)
	require.NoError(t, err)
	assert.Equal(t, uint64(30), d.FundingCollected)
	assert.Equal(t, uint64(1_000), d.TradedCollected)
	assert.Positive(t, d.SwappedToFunding)
	assert.Equal(t, d.FundingCollected+d.SwappedToFunding, d.TotalRecovered)

	sov = f.sovereign(id)
	assert.Equal(t, uint64(0), sov.UnroutedFunding)
	assert.Equal(t, uint64(0), sov.UnroutedTraded)
	assert.Equal(t, d.TotalRecovered, sov.TotalRecovered)
}

func TestOutbox_RecoveryUnrestrictsAfterCommit(t *testing.T) {
	f := newFixture(t)
	id := f.launch(domain.FeeModeCreatorRevenue)
	f.accrue(id, testTarget, 0)
	f.custody.fail = true

	d, err := f.svc.ClaimFees(f.ctx, id)
	require.NoError(t, err)
	require.True(t, d.RecoveryComplete)

	// The treasury payout is queued ahead of the unrestrict and blocks it.
	restricted, err := f.pool.Restricted(f.sovereign(id).PoolRef)
	require.NoError(t, err)
	assert.True(t, restricted)

	f.custody.fail = false
	_, err = f.svc.DeliverPending(f.ctx, id)
	require.NoError(t, err)
	restricted, err = f.pool.Restricted(f.sovereign(id).PoolRef)
	require.NoError(t, err)
	assert.False(t, restricted)
}
