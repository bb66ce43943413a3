package sim

import (
	"context"
	"testing"

	"github.com/ethereum/go-ethereum/common"
	"github.com/holiman/uint256"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/alanyoungcy/sovereign-liquidity/internal/domain"
	"github.com/alanyoungcy/sovereign-liquidity/internal/ledger"
)

func TestPool_AddRemoveRoundTrip(t *testing.T) {
	ctx := context.Background()
	p := NewPool(0)
	ref, err := p.CreatePool(ctx, domain.PoolParams{SovereignID: 1, Restricted: true})
	require.NoError(t, err)

	pos, err := p.AddLiquidity(ctx, ref.Pool, domain.Amounts{Funding: 4_000_000, Traded: 1_000_000})
	require.NoError(t, err)
	assert.Equal(t, uint64(2_000_000), pos.Liquidity.Uint64())
	assert.Equal(t, domain.MinTickIndex, pos.TickLower)

	restricted, err := p.Restricted(ref.Pool)
	require.NoError(t, err)
	assert.True(t, restricted)

	out, err := p.RemoveLiquidity(ctx, ref.Pool, pos.Position, pos.Liquidity, domain.Amounts{})
	require.NoError(t, err)
	assert.Equal(t, domain.Amounts{Funding: 4_000_000, Traded: 1_000_000}, out)

	res, err := p.Reserves(ctx, ref.Pool)
	require.NoError(t, err)
	assert.Equal(t, domain.Amounts{}, res)
}

func TestPool_RemoveMoreThanPositionFails(t *testing.T) {
	ctx := context.Background()
	p := NewPool(0)
	ref, _ := p.CreatePool(ctx, domain.PoolParams{})
	pos, err := p.AddLiquidity(ctx, ref.Pool, domain.Amounts{Funding: 100, Traded: 100})
	require.NoError(t, err)

	_, err = p.RemoveLiquidity(ctx, ref.Pool, pos.Position, *uint256.NewInt(101), domain.Amounts{})
	assert.ErrorIs(t, err, domain.ErrInsufficientDeposit)
}

func TestPool_SwapAccruesFees(t *testing.T) {
	ctx := context.Background()
	p := NewPool(100)
	ref, _ := p.CreatePool(ctx, domain.PoolParams{})
	pos, err := p.AddLiquidity(ctx, ref.Pool, domain.Amounts{Funding: 1 << 20, Traded: 1 << 20})
	require.NoError(t, err)

	before, err := p.ReadCumulativeFeeGrowth(ctx, ref.Pool)
	require.NoError(t, err)

	out, err := p.SwapExactIn(ctx, ref.Pool, domain.SwapFundingToTraded, 10_000, 1)
	require.NoError(t, err)
	assert.Positive(t, out)

	after, err := p.ReadCumulativeFeeGrowth(ctx, ref.Pool)
	require.NoError(t, err)
	earned := ledger.FeesFromGrowth(before.A, after.A, pos.Liquidity)
	assert.Equal(t, uint64(100), earned.Uint64())

	fees, err := p.CollectFees(ctx, ref.Pool, pos.Position)
	require.NoError(t, err)
	assert.Equal(t, domain.Amounts{Funding: 100}, fees)

	fees, err = p.CollectFees(ctx, ref.Pool, pos.Position)
	require.NoError(t, err)
	assert.Equal(t, domain.Amounts{}, fees)
}

func TestPool_SwapSlippage(t *testing.T) {
	ctx := context.Background()
	p := NewPool(0)
	ref, _ := p.CreatePool(ctx, domain.PoolParams{})
	_, err := p.AddLiquidity(ctx, ref.Pool, domain.Amounts{Funding: 1000, Traded: 1000})
	require.NoError(t, err)

	_, err = p.SwapExactIn(ctx, ref.Pool, domain.SwapTradedToFunding, 100, 1000)
	assert.ErrorIs(t, err, domain.ErrSlippageExceeded)
}

func TestPool_UnknownRef(t *testing.T) {
	_, err := NewPool(0).Reserves(context.Background(), "nope")
	assert.ErrorIs(t, err, domain.ErrNotFound)
}

func TestCustody_ReceiveSendBurn(t *testing.T) {
	ctx := context.Background()
	alice := common.HexToAddress("0xa11ce")
	c := NewCustody(false)
	c.Fund(alice, 7, domain.AssetFunding, 500)

	assert.Equal(t, uint64(500), c.Balance(alice, 0, domain.AssetFunding))
	require.NoError(t, c.Receive(ctx, 3, alice, domain.AssetFunding, 200))
	assert.Equal(t, uint64(300), c.Balance(alice, 3, domain.AssetFunding))

	err := c.Receive(ctx, 3, alice, domain.AssetFunding, 301)
	assert.ErrorIs(t, err, domain.ErrInsufficientDeposit)

	require.NoError(t, c.Send(ctx, 3, alice, domain.AssetTraded, 50))
	assert.Equal(t, uint64(50), c.Balance(alice, 3, domain.AssetTraded))
	assert.Zero(t, c.Balance(alice, 4, domain.AssetTraded))

	require.NoError(t, c.Burn(ctx, 3, alice, domain.AssetTraded, 20))
	assert.Equal(t, uint64(30), c.Balance(alice, 3, domain.AssetTraded))
	assert.Equal(t, uint64(20), c.Burned(alice, 3, domain.AssetTraded))

	require.NoError(t, c.Burn(ctx, 3, common.Address{}, domain.AssetTraded, 1_000))
	assert.Equal(t, uint64(1_000), c.Burned(common.Address{}, 3, domain.AssetTraded))
}

func TestCustody_Faucet(t *testing.T) {
	c := NewCustody(true)
	bob := common.HexToAddress("0xb0b")
	require.NoError(t, c.Receive(context.Background(), 1, bob, domain.AssetFunding, 1_000))
	assert.Zero(t, c.Balance(bob, 1, domain.AssetFunding))
}
