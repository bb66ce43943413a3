// Package ledger holds the checked fixed-point arithmetic shared by every
// sovereign operation: basis-point splits, proportional shares, the fee-index
// claim formula, Q64.64 fee-growth conversion and the emergency solvency
// reserve. Every function fails closed with a domain arithmetic error rather
// than wrapping.
package ledger

import (
	"fmt"
	"math/bits"

	"github.com/holiman/uint256"

	"github.com/alanyoungcy/sovereign-liquidity/internal/domain"
)

// BPSDenominator is the fixed denominator for all basis-point values.
const BPSDenominator uint64 = 10_000

// Add returns a+b or ErrOverflow.
func Add(a, b uint64) (uint64, error) {
	sum, carry := bits.Add64(a, b, 0)
	if carry != 0 {
		return 0, fmt.Errorf("ledger: add %d+%d: %w", a, b, domain.ErrOverflow)
	}
	return sum, nil
}

// Sub returns a-b or ErrUnderflow.
func Sub(a, b uint64) (uint64, error) {
	diff, borrow := bits.Sub64(a, b, 0)
	if borrow != 0 {
		return 0, fmt.Errorf("ledger: sub %d-%d: %w", a, b, domain.ErrUnderflow)
	}
	return diff, nil
}

// SaturatingSub returns a-b, or zero when b > a.
func SaturatingSub(a, b uint64) uint64 {
	if b > a {
		return 0
	}
	return a - b
}

// Min returns the smaller of a and b.
func Min(a, b uint64) uint64 {
	if a < b {
		return a
	}
	return b
}

// MulDiv computes floor(a*b/c) with a 256-bit intermediate. It fails when c is
// zero or the quotient does not fit in 64 bits.
func MulDiv(a, b, c uint64) (uint64, error) {
	if c == 0 {
		return 0, fmt.Errorf("ledger: muldiv %d*%d/0: %w", a, b, domain.ErrDivisionByZero)
	}
	x := uint256.NewInt(a)
	y := uint256.NewInt(b)
	d := uint256.NewInt(c)
	q, overflow := new(uint256.Int).MulDivOverflow(x, y, d)
	if overflow || !q.IsUint64() {
		return 0, fmt.Errorf("ledger: muldiv %d*%d/%d: %w", a, b, c, domain.ErrOverflow)
	}
	return q.Uint64(), nil
}

// MulDivCeil computes ceil(a*b/c).
func MulDivCeil(a, b, c uint64) (uint64, error) {
	if c == 0 {
		return 0, fmt.Errorf("ledger: muldiv ceil %d*%d/0: %w", a, b, domain.ErrDivisionByZero)
	}
	num, overflow := new(uint256.Int).MulOverflow(uint256.NewInt(a), uint256.NewInt(b))
	if overflow {
		return 0, fmt.Errorf("ledger: muldiv ceil %d*%d: %w", a, b, domain.ErrOverflow)
	}
	q, err := ceilDiv(num, uint256.NewInt(c))
	if err != nil {
		return 0, err
	}
	if !q.IsUint64() {
		return 0, fmt.Errorf("ledger: muldiv ceil %d*%d/%d: %w", a, b, c, domain.ErrOverflow)
	}
	return q.Uint64(), nil
}

// ApplyBPS returns floor(amount*bps/10000).
func ApplyBPS(amount, bps uint64) (uint64, error) {
	return MulDiv(amount, bps, BPSDenominator)
}

// ShareBPS returns floor(part*10000/total), the basis-point weight of part.
func ShareBPS(part, total uint64) (uint64, error) {
	if total == 0 {
		return 0, fmt.Errorf("ledger: share of empty total: %w", domain.ErrDivisionByZero)
	}
	return MulDiv(part, BPSDenominator, total)
}

// ProportionalShare returns floor(balance*amount/total): the slice of balance
// owed to a holder of amount out of total.
func ProportionalShare(balance, amount, total uint64) (uint64, error) {
	if total == 0 {
		return 0, fmt.Errorf("ledger: proportional share: %w", domain.ErrDivisionByZero)
	}
	return MulDiv(balance, amount, total)
}

// CappedShare returns min(ProportionalShare(balance, amount, total), amount).
// Unwind and emergency payouts never exceed the original pledge.
func CappedShare(balance, amount, total uint64) (uint64, error) {
	share, err := ProportionalShare(balance, amount, total)
	if err != nil {
		return 0, err
	}
	return Min(share, amount), nil
}

// FeeIndexClaimable implements the fee-index pattern:
// floor(totalFees*amount/totalDeposited) - alreadyClaimed, floored at zero.
// The result is monotonic in totalFees, so a second call with no new fees
// yields zero.
func FeeIndexClaimable(totalFees, amount, totalDeposited, alreadyClaimed uint64) (uint64, error) {
	if totalDeposited == 0 {
		return 0, fmt.Errorf("ledger: fee index: %w", domain.ErrNoDeposits)
	}
	entitled, err := MulDiv(totalFees, amount, totalDeposited)
	if err != nil {
		return 0, err
	}
	return SaturatingSub(entitled, alreadyClaimed), nil
}

func ceilDiv(num, den *uint256.Int) (*uint256.Int, error) {
	if den.IsZero() {
		return nil, fmt.Errorf("ledger: ceil div: %w", domain.ErrDivisionByZero)
	}
	q, r := new(uint256.Int), new(uint256.Int)
	q.DivMod(num, den, r)
	if !r.IsZero() {
		q.AddUint64(q, 1)
	}
	return q, nil
}
