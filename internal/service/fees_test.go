package service

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/alanyoungcy/sovereign-liquidity/internal/domain"
)

func TestClaimFees_RecoveryCountsEverything(t *testing.T) {
	f := newFixture(t)
	id := f.launch(domain.FeeModeCreatorRevenue)
	f.accrue(id, 10_000, 0)

	d, err := f.svc.ClaimFees(f.ctx, id)
	require.NoError(t, err)
	// 30 from the creator's market buy plus the accrued 10000.
	assert.Equal(t, uint64(10_030), d.FundingCollected)
	assert.Equal(t, uint64(0), d.CreatorShare)
	assert.Equal(t, uint64(100), d.ProtocolShare)
	assert.Equal(t, uint64(9_930), d.InvestorShare)
	assert.Equal(t, uint64(10_030), d.TotalRecovered)
	assert.False(t, d.RecoveryComplete)
	assert.Equal(t, domain.PhaseRecovery, d.Phase)

	sov := f.sovereign(id)
	assert.Equal(t, uint64(9_930), sov.VaultBalance)
	assert.Equal(t, uint64(9_930), sov.TotalFeesCollected)
	assert.Equal(t, testCreationFee+100, f.funding(treasury))

	_, err = f.svc.ClaimFees(f.ctx, id)
	assert.ErrorIs(t, err, domain.ErrNothingToClaim)
}

func TestClaimFees_RecoveryBoostSwapsTradedSide(t *testing.T) {
	f := newFixture(t)
	id := f.launch(domain.FeeModeRecoveryBoost)
	f.accrue(id, 0, 1_000)

	d, err := f.svc.ClaimFees(f.ctx, id)
	require.NoError(t, err)
	assert.Equal(t, uint64(1_000), d.TradedCollected)
	assert.Positive(t, d.SwappedToFunding)
	assert.Equal(t, d.FundingCollected+d.SwappedToFunding, d.TotalRecovered)
	assert.Equal(t, uint64(0), f.sovereign(id).TotalTokenFeesDistributed)
}

func TestClaimFees_CreatorRevenueRoutesTradedSide(t *testing.T) {
	f := newFixture(t)
	id := f.launch(domain.FeeModeCreatorRevenue)
	f.accrue(id, 0, 1_000)

	d, err := f.svc.ClaimFees(f.ctx, id)
	require.NoError(t, err)
	assert.Equal(t, uint64(0), d.SwappedToFunding)
	assert.Equal(t, uint64(30), d.TotalRecovered)
	assert.Equal(t, uint64(9_876+1_000), f.custody.Balance(creator, id, domain.AssetTraded))
	assert.Equal(t, uint64(1_000), f.sovereign(id).TotalTokenFeesDistributed)
}

func TestClaimFees_RecoveryCompletes(t *testing.T) {
	f := newFixture(t)
	id := f.activate()

	sov := f.sovereign(id)
	assert.Equal(t, domain.PhaseActive, sov.Phase)
	assert.False(t, sov.PoolRestricted)
	assert.Equal(t, uint64(1_038_120), sov.TotalFeesCollected)
	restricted, err := f.pool.Restricted(sov.PoolRef)
	require.NoError(t, err)
	assert.False(t, restricted)
}

func TestClaimDepositorFees(t *testing.T) {
	f := newFixture(t)
	id := f.activate()
	tokA, tokB := f.token(id, alice), f.token(id, bob)

	_, err := f.svc.ClaimDepositorFees(f.ctx, id, tokA, bob)
	assert.ErrorIs(t, err, domain.ErrNotTokenHolder)

	got, err := f.svc.ClaimDepositorFees(f.ctx, id, tokA, alice)
	require.NoError(t, err)
	assert.Equal(t, uint64(778_590), got)

	_, err = f.svc.ClaimDepositorFees(f.ctx, id, tokA, alice)
	assert.ErrorIs(t, err, domain.ErrNothingToClaim)

	got, err = f.svc.ClaimDepositorFees(f.ctx, id, tokB, bob)
	require.NoError(t, err)
	assert.Equal(t, uint64(259_530), got)
	assert.Equal(t, uint64(0), f.sovereign(id).VaultBalance)

	// A transferred token carries the remaining entitlement, not a fresh one.
	_, err = f.svc.TransferClaimToken(f.ctx, tokA, alice, carol)
	require.NoError(t, err)
	_, err = f.svc.ClaimDepositorFees(f.ctx, id, tokA, carol)
	assert.ErrorIs(t, err, domain.ErrNothingToClaim)
}

func TestClaimFees_CreatorThreshold(t *testing.T) {
	f := newFixture(t)
	id := f.activate()

	// The default threshold routes every post-recovery funding fee to the creator.
	f.accrue(id, 10_000, 0)
	d, err := f.svc.ClaimFees(f.ctx, id)
	require.NoError(t, err)
	assert.Equal(t, uint64(10_000), d.CreatorShare)
	assert.Equal(t, uint64(0), d.InvestorShare)
	assert.Equal(t, uint64(0), d.ProtocolShare)

	_, err = f.svc.WithdrawCreatorFees(f.ctx, id, alice)
	assert.ErrorIs(t, err, domain.ErrNotCreator)
	paid, err := f.svc.WithdrawCreatorFees(f.ctx, id, creator)
	require.NoError(t, err)
	assert.Equal(t, uint64(10_000), paid)
	_, err = f.svc.WithdrawCreatorFees(f.ctx, id, creator)
	assert.ErrorIs(t, err, domain.ErrNothingToClaim)

	require.NoError(t, f.svc.UpdateFeeThreshold(f.ctx, id, creator, 5_000))
	assert.ErrorIs(t, f.svc.UpdateFeeThreshold(f.ctx, id, creator, 6_000), domain.ErrCannotIncreaseThreshold)

	f.accrue(id, 10_000, 0)
	d, err = f.svc.ClaimFees(f.ctx, id)
	require.NoError(t, err)
	assert.Equal(t, uint64(5_000), d.CreatorShare)
	assert.Equal(t, uint64(100), d.ProtocolShare)
	assert.Equal(t, uint64(4_900), d.InvestorShare)

	require.NoError(t, f.svc.RenounceFeeThreshold(f.ctx, id, creator))
	assert.ErrorIs(t, f.svc.UpdateFeeThreshold(f.ctx, id, creator, 0), domain.ErrFeeThresholdRenounced)

	f.accrue(id, 10_000, 0)
	d, err = f.svc.ClaimFees(f.ctx, id)
	require.NoError(t, err)
	assert.Equal(t, uint64(0), d.CreatorShare)
	assert.Equal(t, uint64(9_900), d.InvestorShare)
}

func TestSellFee(t *testing.T) {
	f := newFixture(t)
	id := f.launch(domain.FeeModeCreatorRevenue)

	assert.ErrorIs(t, f.svc.UpdateSellFee(f.ctx, id, creator, 301), domain.ErrFeeTooHigh)
	require.NoError(t, f.svc.UpdateSellFee(f.ctx, id, creator, 250))
	assert.Equal(t, uint64(250), f.sovereign(id).SellFeeBPS)

	assert.ErrorIs(t, f.svc.RenounceSellFee(f.ctx, id, creator), domain.ErrRecoveryNotComplete)

	f.accrue(id, testTarget, 0)
	_, err := f.svc.ClaimFees(f.ctx, id)
	require.NoError(t, err)
	require.NoError(t, f.svc.RenounceSellFee(f.ctx, id, creator))
	sov := f.sovereign(id)
	assert.True(t, sov.SellFeeRenounced)
	assert.Equal(t, uint64(0), sov.SellFeeBPS)
	assert.ErrorIs(t, f.svc.UpdateSellFee(f.ctx, id, creator, 10), domain.ErrSellFeeRenounced)
}
