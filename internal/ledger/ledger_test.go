package ledger

import (
	"math"
	"testing"

	"github.com/holiman/uint256"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/alanyoungcy/sovereign-liquidity/internal/domain"
)

func TestAddSub(t *testing.T) {
	sum, err := Add(2, 3)
	require.NoError(t, err)
	assert.Equal(t, uint64(5), sum)

	_, err = Add(math.MaxUint64, 1)
	assert.ErrorIs(t, err, domain.ErrOverflow)

	_, err = Sub(1, 2)
	assert.ErrorIs(t, err, domain.ErrUnderflow)
	assert.Equal(t, uint64(0), SaturatingSub(1, 2))
	assert.Equal(t, uint64(3), SaturatingSub(5, 2))
}

func TestMulDiv(t *testing.T) {
	t.Run("wide intermediate", func(t *testing.T) {
		got, err := MulDiv(math.MaxUint64, 10_000, 10_000)
		require.NoError(t, err)
		assert.Equal(t, uint64(math.MaxUint64), got)
	})

	t.Run("division by zero", func(t *testing.T) {
		_, err := MulDiv(1, 1, 0)
		assert.ErrorIs(t, err, domain.ErrDivisionByZero)
		assert.Equal(t, domain.CategoryArithmetic, domain.CategoryOf(err))
	})

	t.Run("quotient overflow", func(t *testing.T) {
		_, err := MulDiv(math.MaxUint64, 2, 1)
		assert.ErrorIs(t, err, domain.ErrOverflow)
	})

	t.Run("ceil", func(t *testing.T) {
		got, err := MulDivCeil(10, 1, 3)
		require.NoError(t, err)
		assert.Equal(t, uint64(4), got)
		got, err = MulDivCeil(9, 1, 3)
		require.NoError(t, err)
		assert.Equal(t, uint64(3), got)
	})
}

func TestShareBPS(t *testing.T) {
	got, err := ShareBPS(250, 1000)
	require.NoError(t, err)
	assert.Equal(t, uint64(2500), got)

	_, err = ShareBPS(1, 0)
	assert.ErrorIs(t, err, domain.ErrDivisionByZero)
}

func TestCappedShare(t *testing.T) {
	// pledge 100 of 1000, settlement 5000: proportional 500, capped at 100
	got, err := CappedShare(5000, 100, 1000)
	require.NoError(t, err)
	assert.Equal(t, uint64(100), got)

	got, err = CappedShare(500, 100, 1000)
	require.NoError(t, err)
	assert.Equal(t, uint64(50), got)
}

func TestFeeIndexClaimable(t *testing.T) {
	first, err := FeeIndexClaimable(1000, 250, 1000, 0)
	require.NoError(t, err)
	assert.Equal(t, uint64(250), first)

	again, err := FeeIndexClaimable(1000, 250, 1000, first)
	require.NoError(t, err)
	assert.Zero(t, again)

	more, err := FeeIndexClaimable(1800, 250, 1000, first)
	require.NoError(t, err)
	assert.Equal(t, uint64(200), more)
	assert.Equal(t, uint64(450), first+more)

	_, err = FeeIndexClaimable(1, 1, 0, 0)
	assert.ErrorIs(t, err, domain.ErrNoDeposits)
}

func q64(whole uint64) uint256.Int {
	var v uint256.Int
	v.Lsh(uint256.NewInt(whole), 64)
	return v
}

func TestFeesFromGrowth(t *testing.T) {
	start := q64(1)
	end := q64(3)
	got := FeesFromGrowth(start, end, *uint256.NewInt(500))
	assert.Equal(t, uint64(1000), got.Uint64())

	backwards := FeesFromGrowth(end, start, *uint256.NewInt(500))
	assert.True(t, backwards.IsZero())
}

func TestVolumeMet(t *testing.T) {
	start := q64(0)
	end := q64(1)

	// required = 10000 * 1000 / 10000 = 1000
	met, err := VolumeMet(start, end, *uint256.NewInt(1000), 10_000, 1000)
	require.NoError(t, err)
	assert.True(t, met, "boundary equality cancels")

	met, err = VolumeMet(start, end, *uint256.NewInt(999), 10_000, 1000)
	require.NoError(t, err)
	assert.False(t, met)
}

func TestMinReserve(t *testing.T) {
	reserve, err := MinReserve(1000, 1_000_000, 500_000)
	require.NoError(t, err)
	assert.Equal(t, uint64(2002), reserve)
	assert.Zero(t, Extractable(2000, reserve))
	assert.Equal(t, uint64(998), Extractable(3000, reserve))

	// ceil: 1*1*1001/1000 rounds up to 2
	reserve, err = MinReserve(1, 1, 1)
	require.NoError(t, err)
	assert.Equal(t, uint64(2), reserve)

	_, err = MinReserve(1, 1, 0)
	assert.ErrorIs(t, err, domain.ErrDivisionByZero)
}

func TestRedemptionPayout(t *testing.T) {
	got, err := RedemptionPayout(100, 1000, 10_000)
	require.NoError(t, err)
	assert.Equal(t, uint64(10), got)

	_, err = RedemptionPayout(1, 1, 0)
	assert.ErrorIs(t, err, domain.ErrDivisionByZero)
}

func TestParseU128(t *testing.T) {
	v, err := ParseU128("340282366920938463463374607431768211455")
	require.NoError(t, err)
	assert.True(t, FitsU128(&v))

	_, err = ParseU128("340282366920938463463374607431768211456")
	assert.ErrorIs(t, err, domain.ErrOverflow)

	zero, err := ParseU128("")
	require.NoError(t, err)
	assert.True(t, zero.IsZero())
}
