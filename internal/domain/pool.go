package domain

import (
	"context"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/holiman/uint256"
)

// PoolParams describes a pool to create for a sovereign.
type PoolParams struct {
	SovereignID  uint64
	FundingAsset Asset
	TradedMint   common.Address
	// Restricted blocks external liquidity providers until recovery completes.
	Restricted bool
}

// PoolRef identifies a created pool.
type PoolRef struct {
	Pool string
}

// Position is the result of adding liquidity.
type Position struct {
	Position  string
	Liquidity uint256.Int
	TickLower int32
	TickUpper int32
}

// Amounts is a (funding, traded) pair.
type Amounts struct {
	Funding uint64
	Traded  uint64
}

// FeeGrowth is a pool's cumulative fee-growth counters, Q64.64 per unit of
// liquidity, for the funding (A) and traded (B) sides.
type FeeGrowth struct {
	A uint256.Int
	B uint256.Int
}

// SwapDirection selects which side is sold in a swap.
type SwapDirection string

const (
	SwapFundingToTraded SwapDirection = "funding_to_traded"
	SwapTradedToFunding SwapDirection = "traded_to_funding"
)

// LiquidityPool is the external AMM collaborator. Router and unwind logic is
// written once against this interface regardless of which pool backs it.
type LiquidityPool interface {
	CreatePool(ctx context.Context, params PoolParams) (PoolRef, error)
	AddLiquidity(ctx context.Context, pool string, amounts Amounts) (Position, error)
	RemoveLiquidity(ctx context.Context, pool, position string, liquidity uint256.Int, min Amounts) (Amounts, error)
	CollectFees(ctx context.Context, pool, position string) (Amounts, error)
	ReadCumulativeFeeGrowth(ctx context.Context, pool string) (FeeGrowth, error)
	SetRestricted(ctx context.Context, pool string, restricted bool) error
	SwapExactIn(ctx context.Context, pool string, dir SwapDirection, amountIn, minOut uint64) (uint64, error)
	Reserves(ctx context.Context, pool string) (Amounts, error)
}

// Custody moves assets between external holders and a sovereign's vaults.
type Custody interface {
	Receive(ctx context.Context, sovereignID uint64, from common.Address, asset Asset, amount uint64) error
	Send(ctx context.Context, sovereignID uint64, to common.Address, asset Asset, amount uint64) error
	Burn(ctx context.Context, sovereignID uint64, holder common.Address, asset Asset, amount uint64) error
}

// Clock supplies the trusted time used for every deadline check.
type Clock interface {
	Now() time.Time
}

// SystemClock is the wall clock in UTC.
type SystemClock struct{}

func (SystemClock) Now() time.Time { return time.Now().UTC() }
