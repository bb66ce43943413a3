package gateway

import (
	"context"

	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/common/hexutil"
	"github.com/holiman/uint256"

	"github.com/alanyoungcy/sovereign-liquidity/internal/domain"
)

var (
	_ domain.LiquidityPool = (*Client)(nil)
	_ domain.Custody       = (*Client)(nil)
)

func (c *Client) CreatePool(ctx context.Context, params domain.PoolParams) (domain.PoolRef, error) {
	var ref struct {
		Pool string `json:"pool"`
	}
	err := c.call(ctx, &ref, "pool_create", createPoolArgs{
		SovereignID:  hexutil.Uint64(params.SovereignID),
		FundingAsset: string(params.FundingAsset),
		TradedMint:   params.TradedMint,
		Restricted:   params.Restricted,
	})
	if err != nil {
		return domain.PoolRef{}, err
	}
	return domain.PoolRef{Pool: ref.Pool}, nil
}

func (c *Client) AddLiquidity(ctx context.Context, pool string, amounts domain.Amounts) (domain.Position, error) {
	var out positionJSON
	if err := c.call(ctx, &out, "pool_addLiquidity", pool, toAmountsJSON(amounts)); err != nil {
		return domain.Position{}, err
	}
	liq, err := fromBig("liquidity", out.Liquidity)
	if err != nil {
		return domain.Position{}, err
	}
	return domain.Position{
		Position:  out.Position,
		Liquidity: liq,
		TickLower: out.TickLower,
		TickUpper: out.TickUpper,
	}, nil
}

func (c *Client) RemoveLiquidity(ctx context.Context, pool, position string, liquidity uint256.Int, min domain.Amounts) (domain.Amounts, error) {
	var out amountsJSON
	err := c.call(ctx, &out, "pool_removeLiquidity", removeArgs{
		Pool:      pool,
		Position:  position,
		Liquidity: bigOf(liquidity),
		Min:       toAmountsJSON(min),
	})
	if err != nil {
		return domain.Amounts{}, err
	}
	return out.domain(), nil
}

func (c *Client) CollectFees(ctx context.Context, pool, position string) (domain.Amounts, error) {
	var out amountsJSON
	if err := c.call(ctx, &out, "pool_collectFees", pool, position); err != nil {
		return domain.Amounts{}, err
	}
	return out.domain(), nil
}

func (c *Client) ReadCumulativeFeeGrowth(ctx context.Context, pool string) (domain.FeeGrowth, error) {
	var out feeGrowthJSON
	if err := c.call(ctx, &out, "pool_feeGrowth", pool); err != nil {
		return domain.FeeGrowth{}, err
	}
	a, err := fromBig("fee growth a", out.A)
	if err != nil {
		return domain.FeeGrowth{}, err
	}
	b, err := fromBig("fee growth b", out.B)
	if err != nil {
		return domain.FeeGrowth{}, err
	}
	return domain.FeeGrowth{A: a, B: b}, nil
}

func (c *Client) SetRestricted(ctx context.Context, pool string, restricted bool) error {
	var ok bool
	return c.call(ctx, &ok, "pool_setRestricted", pool, restricted)
}

func (c *Client) SwapExactIn(ctx context.Context, pool string, dir domain.SwapDirection, amountIn, minOut uint64) (uint64, error) {
	var out hexutil.Uint64
	err := c.call(ctx, &out, "pool_swapExactIn", swapArgs{
		Pool:      pool,
		Direction: string(dir),
		AmountIn:  hexutil.Uint64(amountIn),
		MinOut:    hexutil.Uint64(minOut),
	})
	if err != nil {
		return 0, err
	}
	return uint64(out), nil
}

func (c *Client) Reserves(ctx context.Context, pool string) (domain.Amounts, error) {
	var out amountsJSON
	if err := c.call(ctx, &out, "pool_reserves", pool); err != nil {
		return domain.Amounts{}, err
	}
	return out.domain(), nil
}

func (c *Client) Receive(ctx context.Context, sovereignID uint64, from common.Address, asset domain.Asset, amount uint64) error {
	return c.transfer(ctx, "custody_receive", sovereignID, from, asset, amount)
}

func (c *Client) Send(ctx context.Context, sovereignID uint64, to common.Address, asset domain.Asset, amount uint64) error {
	if to == (common.Address{}) {
		return domain.ErrInvalidAddress
	}
	return c.transfer(ctx, "custody_send", sovereignID, to, asset, amount)
}

func (c *Client) Burn(ctx context.Context, sovereignID uint64, holder common.Address, asset domain.Asset, amount uint64) error {
	return c.transfer(ctx, "custody_burn", sovereignID, holder, asset, amount)
}

func (c *Client) transfer(ctx context.Context, method string, sovereignID uint64, account common.Address, asset domain.Asset, amount uint64) error {
	var ok bool
	return c.call(ctx, &ok, method, transferArgs{
		SovereignID: hexutil.Uint64(sovereignID),
		Account:     account,
		Asset:       string(asset),
		Amount:      hexutil.Uint64(amount),
	})
}
