package service

import (
	"fmt"
	"sync"
	"testing"

	"github.com/ethereum/go-ethereum/common"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/alanyoungcy/sovereign-liquidity/internal/domain"
)

func TestPledge_CapsAtTarget(t *testing.T) {
	f := newFixture(t)
	sov := f.createTokenLaunch(domain.FeeModeCreatorRevenue)

	res, err := f.svc.Pledge(f.ctx, sov.ID, alice, alicePledge)
	require.NoError(t, err)
	assert.Equal(t, alicePledge, res.Accepted)
	assert.Equal(t, domain.PhaseBonding, res.Phase)

	res, err = f.svc.Pledge(f.ctx, sov.ID, bob, bobPledge+5_000)
	require.NoError(t, err)
	assert.Equal(t, bobPledge, res.Accepted)
	assert.Equal(t, testTarget, res.TotalDeposited)
	assert.Equal(t, domain.PhaseFinalizing, res.Phase)
	assert.Equal(t, startBalance-bobPledge, f.funding(bob))

	got := f.sovereign(sov.ID)
	assert.Equal(t, uint64(2), got.DepositorCount)
	assert.Equal(t, testTarget, got.VaultBalance)

	_, err = f.svc.Pledge(f.ctx, sov.ID, carol, 1_000)
	assert.ErrorIs(t, err, domain.ErrInvalidState)
}

func TestPledge_Validation(t *testing.T) {
	f := newFixture(t)
	sov := f.createTokenLaunch(domain.FeeModeCreatorRevenue)

	_, err := f.svc.Pledge(f.ctx, sov.ID, alice, 0)
	assert.ErrorIs(t, err, domain.ErrZeroAmount)

	_, err = f.svc.Pledge(f.ctx, sov.ID, alice, 99)
	assert.ErrorIs(t, err, domain.ErrDepositTooSmall)

	_, err = f.svc.Pledge(f.ctx, sov.ID, creator, 10_486)
	assert.ErrorIs(t, err, domain.ErrCreatorDepositExceedsMax)

	res, err := f.svc.Pledge(f.ctx, sov.ID, creator, creatorEscrow)
	require.NoError(t, err)
	assert.Equal(t, uint64(0), res.TotalDeposited)
	assert.Equal(t, creatorEscrow, f.sovereign(sov.ID).CreatorEscrow)

	f.clock.Advance(15 * domain.Day)
	_, err = f.svc.Pledge(f.ctx, sov.ID, alice, 1_000)
	assert.ErrorIs(t, err, domain.ErrBondingEnded)
}

func TestWithdraw(t *testing.T) {
	f := newFixture(t)
	sov := f.createTokenLaunch(domain.FeeModeCreatorRevenue)
	_, err := f.svc.Pledge(f.ctx, sov.ID, alice, 10_000)
	require.NoError(t, err)

	assert.ErrorIs(t, f.svc.Withdraw(f.ctx, sov.ID, creator, 1), domain.ErrCreatorCannotAct)
	assert.ErrorIs(t, f.svc.Withdraw(f.ctx, sov.ID, alice, 10_001), domain.ErrInsufficientDeposit)

	require.NoError(t, f.svc.Withdraw(f.ctx, sov.ID, alice, 4_000))
	got := f.sovereign(sov.ID)
	assert.Equal(t, uint64(6_000), got.TotalDeposited)
	assert.Equal(t, uint64(1), got.DepositorCount)

	require.NoError(t, f.svc.Withdraw(f.ctx, sov.ID, alice, 6_000))
	got = f.sovereign(sov.ID)
	assert.Equal(t, uint64(0), got.TotalDeposited)
	assert.Equal(t, uint64(0), got.DepositorCount)
	assert.Equal(t, startBalance, f.funding(alice))
}

func TestFailedBonding_Refunds(t *testing.T) {
	f := newFixture(t)
	sov := f.createTokenLaunch(domain.FeeModeCreatorRevenue)
	_, err := f.svc.Pledge(f.ctx, sov.ID, creator, creatorEscrow)
	require.NoError(t, err)
	_, err = f.svc.Pledge(f.ctx, sov.ID, alice, 50_000)
	require.NoError(t, err)

	assert.ErrorIs(t, f.svc.MarkFailed(f.ctx, sov.ID), domain.ErrBondingNotEnded)
	f.clock.Advance(14*domain.Day + 1)
	require.NoError(t, f.svc.MarkFailed(f.ctx, sov.ID))
	assert.Equal(t, domain.PhaseFailed, f.sovereign(sov.ID).Phase)

	refunded, err := f.svc.WithdrawFailed(f.ctx, sov.ID, alice)
	require.NoError(t, err)
	assert.Equal(t, uint64(50_000), refunded)
	assert.Equal(t, startBalance, f.funding(alice))

	_, err = f.svc.WithdrawFailed(f.ctx, sov.ID, alice)
	assert.ErrorIs(t, err, domain.ErrNothingToClaim)

	_, err = f.svc.WithdrawCreatorFailed(f.ctx, sov.ID, alice)
	assert.ErrorIs(t, err, domain.ErrNotCreator)
	refunded, err = f.svc.WithdrawCreatorFailed(f.ctx, sov.ID, creator)
	require.NoError(t, err)
	assert.Equal(t, creatorEscrow+testCreationFee, refunded)
	assert.Equal(t, startBalance, f.funding(creator))
}

func TestFinalize(t *testing.T) {
	f := newFixture(t)
	id := f.bond(domain.FeeModeCreatorRevenue)

	_, err := f.svc.FinalizeAddLiquidity(f.ctx, id)
	assert.ErrorIs(t, err, domain.ErrInvalidState)

	ref, err := f.svc.FinalizeCreatePool(f.ctx, id)
	require.NoError(t, err)
	restricted, err := f.pool.Restricted(ref.Pool)
	require.NoError(t, err)
	assert.True(t, restricted)

	lock, err := f.svc.FinalizeAddLiquidity(f.ctx, id)
	require.NoError(t, err)
	assert.Equal(t, testTarget, lock.Liquidity.Uint64())
	assert.Equal(t, testTarget, lock.PoolTokens)

	sov := f.sovereign(id)
	assert.Equal(t, domain.PhaseRecovery, sov.Phase)
	assert.Equal(t, testTarget, sov.RecoveryTarget)
	assert.Equal(t, uint64(0), sov.VaultBalance)
	assert.Equal(t, testSupply-testTarget, sov.TokenVaultBalance)
	assert.Equal(t, uint64(0), sov.CreatorEscrow)
	assert.Equal(t, uint64(0), sov.CreationFeeEscrowed)

	// 10000 escrow less the 30 bps swap fee against 2^20 reserves.
	tracker, err := f.svc.GetCreatorTracker(f.ctx, id)
	require.NoError(t, err)
	assert.Equal(t, uint64(9_876), tracker.PurchasedTokens)
	assert.Equal(t, uint64(9_876), f.custody.Balance(creator, id, domain.AssetTraded))
	assert.Equal(t, testCreationFee, f.funding(treasury))

	tokA, err := f.svc.GetClaimToken(f.ctx, f.token(id, alice))
	require.NoError(t, err)
	assert.Equal(t, uint64(7_500), tokA.SharesBPS)
	assert.Equal(t, alice, tokA.Holder)
	tokB, err := f.svc.GetClaimToken(f.ctx, f.token(id, bob))
	require.NoError(t, err)
	assert.Equal(t, uint64(2_500), tokB.SharesBPS)

	p, err := f.svc.GetProtocol(f.ctx)
	require.NoError(t, err)
	assert.Equal(t, testCreationFee, p.TotalFeesCollected)
}

func TestTransferClaimToken(t *testing.T) {
	f := newFixture(t)
	id := f.launch(domain.FeeModeCreatorRevenue)
	tok := f.token(id, alice)

	_, err := f.svc.TransferClaimToken(f.ctx, tok, bob, carol)
	assert.ErrorIs(t, err, domain.ErrNotTokenHolder)

	moved, err := f.svc.TransferClaimToken(f.ctx, tok, alice, carol)
	require.NoError(t, err)
	assert.Equal(t, carol, moved.Holder)
	assert.Equal(t, alice, moved.Depositor)

	held, err := f.svc.ListClaimTokens(f.ctx, carol)
	require.NoError(t, err)
	require.Len(t, held, 1)
	assert.Equal(t, tok, held[0].ID)
}

func (f *fixture) depositSum(id uint64) uint64 {
	f.t.Helper()
	records, err := f.store.Stores().Deposits.ListBySovereign(f.ctx, id, domain.ListOpts{})
	require.NoError(f.t, err)
	var sum uint64
	for _, rec := range records {
		sum += rec.Amount
	}
	return sum
}

func TestPledge_DepositsSumToTotal(t *testing.T) {
	f := newFixture(t)
	sov := f.createTokenLaunch(domain.FeeModeCreatorRevenue)

	steps := []struct {
		who    common.Address
		amount uint64
		pledge bool
	}{
		{alice, 300_000, true},
		{bob, 50_000, true},
		{alice, 120_000, false},
		{carol, 400_000, true},
		{bob, 50_000, false},
		{alice, 180_000, false},
		{bob, 10_000, true},
		{creator, creatorEscrow, true},
		{carol, 1_000, false},
		{alice, testTarget, true},
	}
	for i, step := range steps {
		var err error
		if step.pledge {
			_, err = f.svc.Pledge(f.ctx, sov.ID, step.who, step.amount)
		} else {
			err = f.svc.Withdraw(f.ctx, sov.ID, step.who, step.amount)
		}
		require.NoError(t, err, "step %d", i)

		got := f.sovereign(sov.ID)
		assert.Equal(t, got.TotalDeposited, f.depositSum(sov.ID), "step %d", i)
		assert.Equal(t, got.TotalDeposited, got.VaultBalance, "step %d", i)
		assert.LessOrEqual(t, got.TotalDeposited, got.BondTarget, "step %d", i)
	}

	got := f.sovereign(sov.ID)
	assert.Equal(t, domain.PhaseFinalizing, got.Phase)
	assert.Equal(t, testTarget, got.TotalDeposited)
	assert.Equal(t, uint64(3), got.DepositorCount)
}

func TestPledge_ConcurrentCompletesOnce(t *testing.T) {
	f := newFixture(t)
	sov := f.createTokenLaunch(domain.FeeModeCreatorRevenue)

	const pledgers = 12
	chunk := testTarget / 8
	var (
		wg       sync.WaitGroup
		mu       sync.Mutex
		accepted uint64
	)
	for i := 0; i < pledgers; i++ {
		who := common.HexToAddress(fmt.Sprintf("0x%040x", 0x100+i))
		f.custody.Fund(who, 0, domain.AssetFunding, chunk)
		wg.Add(1)
		go func() {
			defer wg.Done()
			res, err := f.svc.Pledge(f.ctx, sov.ID, who, chunk)
			if err != nil {
				assert.ErrorIs(t, err, domain.ErrInvalidState)
				return
			}
			mu.Lock()
			accepted += res.Accepted
			mu.Unlock()
		}()
	}
	wg.Wait()

	got := f.sovereign(sov.ID)
	assert.Equal(t, domain.PhaseFinalizing, got.Phase)
	assert.Equal(t, got.BondTarget, got.TotalDeposited)
	assert.Equal(t, got.TotalDeposited, accepted)
	assert.Equal(t, got.TotalDeposited, f.depositSum(sov.ID))

	entries, err := f.audit.List(f.ctx, domain.ListOpts{})
	require.NoError(t, err)
	completions := 0
	for _, e := range entries {
		if e.Event == string(domain.EventBondingComplete) {
			completions++
		}
	}
	assert.Equal(t, 1, completions)
}
