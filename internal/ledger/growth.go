package ledger

import (
	"fmt"

	"github.com/holiman/uint256"

	"github.com/alanyoungcy/sovereign-liquidity/internal/domain"
)

// maxU128 is 2^128-1, the ceiling for fee-growth and liquidity values.
var maxU128 = new(uint256.Int).Sub(new(uint256.Int).Lsh(uint256.NewInt(1), 128), uint256.NewInt(1))

// FitsU128 reports whether x is representable in 128 bits.
func FitsU128(x *uint256.Int) bool {
	return x.Cmp(maxU128) <= 0
}

// ParseU128 parses a base-10 string into a 128-bit value.
func ParseU128(s string) (uint256.Int, error) {
	if s == "" {
		return uint256.Int{}, nil
	}
	v, err := uint256.FromDecimal(s)
	if err != nil {
		return uint256.Int{}, fmt.Errorf("ledger: parse u128 %q: %w", s, err)
	}
	if !FitsU128(v) {
		return uint256.Int{}, fmt.Errorf("ledger: parse u128 %q: %w", s, domain.ErrOverflow)
	}
	return *v, nil
}

// FeesFromGrowth converts a cumulative fee-growth delta into fees earned by a
// position: ((end - start) saturating * liquidity) >> 64. Growth counters are
// Q64.64, so the shift removes the fixed-point base. A product that overflows
// 256 bits saturates, since any such value already dwarfs a u64 requirement.
func FeesFromGrowth(start, end, liquidity uint256.Int) uint256.Int {
	var delta uint256.Int
	if end.Cmp(&start) > 0 {
		delta.Sub(&end, &start)
	}
	product, overflow := new(uint256.Int).MulOverflow(&delta, &liquidity)
	if overflow {
		return *new(uint256.Int).SetAllOne()
	}
	return *product.Rsh(product, 64)
}

// RequiredFees is total_deposited * thresholdBPS / 10000, the fee volume an
// observation window must produce to cancel an unwind.
func RequiredFees(totalDeposited, thresholdBPS uint64) (uint64, error) {
	return ApplyBPS(totalDeposited, thresholdBPS)
}

// VolumeMet reports whether the fees earned across an observation window meet
// the cancellation threshold. Equality cancels.
func VolumeMet(start, end, liquidity uint256.Int, totalDeposited, thresholdBPS uint64) (bool, error) {
	required, err := RequiredFees(totalDeposited, thresholdBPS)
	if err != nil {
		return false, err
	}
	actual := FeesFromGrowth(start, end, liquidity)
	return actual.Cmp(uint256.NewInt(required)) >= 0, nil
}

// GrowthDelta returns end - start, saturating at zero.
func GrowthDelta(start, end uint256.Int) uint256.Int {
	if end.Cmp(&start) <= 0 {
		return uint256.Int{}
	}
	var d uint256.Int
	d.Sub(&end, &start)
	return d
}

// solvency margin: reserve is scaled by 1001/1000.
const (
	solvencyMarginNum uint64 = 1001
	solvencyMarginDen uint64 = 1000
)

// MinReserve returns ceil(principal * supply * 1001 / (poolTokens * 1000)),
// the funding that must stay in the pool so that every outstanding traded
// token sold back could still return the original principal.
func MinReserve(principal, supply, poolTokens uint64) (uint64, error) {
	if poolTokens == 0 {
		return 0, fmt.Errorf("ledger: min reserve with empty pool: %w", domain.ErrDivisionByZero)
	}
	num, overflow := new(uint256.Int).MulOverflow(uint256.NewInt(principal), uint256.NewInt(supply))
	if overflow {
		return 0, fmt.Errorf("ledger: min reserve: %w", domain.ErrOverflow)
	}
	num, overflow = num.MulOverflow(num, uint256.NewInt(solvencyMarginNum))
	if overflow {
		return 0, fmt.Errorf("ledger: min reserve: %w", domain.ErrOverflow)
	}
	den := new(uint256.Int).Mul(uint256.NewInt(poolTokens), uint256.NewInt(solvencyMarginDen))
	q, err := ceilDiv(num, den)
	if err != nil {
		return 0, err
	}
	if !q.IsUint64() {
		return 0, fmt.Errorf("ledger: min reserve: %w", domain.ErrOverflow)
	}
	return q.Uint64(), nil
}

// Extractable returns max(0, poolFunding - minReserve).
func Extractable(poolFunding, minReserve uint64) uint64 {
	return SaturatingSub(poolFunding, minReserve)
}

// RedemptionPayout returns floor(burned * pool / circulating).
func RedemptionPayout(burned, pool, circulating uint64) (uint64, error) {
	if circulating == 0 {
		return 0, fmt.Errorf("ledger: redemption with no circulating supply: %w", domain.ErrDivisionByZero)
	}
	return MulDiv(burned, pool, circulating)
}
