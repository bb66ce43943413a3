package gateway

import (
	"fmt"
	"math/big"

	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/common/hexutil"
	"github.com/holiman/uint256"

	"github.com/alanyoungcy/sovereign-liquidity/internal/domain"
)

// Wire shapes. Amounts travel as 0x-hex quantities, as in Ethereum JSON-RPC.

type createPoolArgs struct {
	SovereignID  hexutil.Uint64 `json:"sovereignId"`
	FundingAsset string         `json:"fundingAsset"`
	TradedMint   common.Address `json:"tradedMint"`
	Restricted   bool           `json:"restricted"`
}

type amountsJSON struct {
	Funding hexutil.Uint64 `json:"funding"`
	Traded  hexutil.Uint64 `json:"traded"`
}

func toAmountsJSON(a domain.Amounts) amountsJSON {
	return amountsJSON{Funding: hexutil.Uint64(a.Funding), Traded: hexutil.Uint64(a.Traded)}
}

func (a amountsJSON) domain() domain.Amounts {
	return domain.Amounts{Funding: uint64(a.Funding), Traded: uint64(a.Traded)}
}

type positionJSON struct {
	Position  string       `json:"position"`
	Liquidity *hexutil.Big `json:"liquidity"`
	TickLower int32        `json:"tickLower"`
	TickUpper int32        `json:"tickUpper"`
}

type removeArgs struct {
	Pool      string       `json:"pool"`
	Position  string       `json:"position"`
	Liquidity *hexutil.Big `json:"liquidity"`
	Min       amountsJSON  `json:"min"`
}

type feeGrowthJSON struct {
	A *hexutil.Big `json:"a"`
	B *hexutil.Big `json:"b"`
}

type swapArgs struct {
	Pool      string         `json:"pool"`
	Direction string         `json:"direction"`
	AmountIn  hexutil.Uint64 `json:"amountIn"`
	MinOut    hexutil.Uint64 `json:"minOut"`
}

type transferArgs struct {
	SovereignID hexutil.Uint64 `json:"sovereignId"`
	Account     common.Address `json:"account"`
	Asset       string         `json:"asset"`
	Amount      hexutil.Uint64 `json:"amount"`
}

func bigOf(v uint256.Int) *hexutil.Big {
	return (*hexutil.Big)(v.ToBig())
}

// fromBig rejects negative values and anything wider than 256 bits.
func fromBig(field string, b *hexutil.Big) (uint256.Int, error) {
	if b == nil {
		return uint256.Int{}, nil
	}
	bi := (*big.Int)(b)
	if bi.Sign() < 0 {
		return uint256.Int{}, fmt.Errorf("gateway: negative %s: %w", field, domain.ErrUnderflow)
	}
	v, overflow := uint256.FromBig(bi)
	if overflow {
		return uint256.Int{}, fmt.Errorf("gateway: %s: %w", field, domain.ErrOverflow)
	}
	return *v, nil
}
