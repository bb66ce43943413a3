// Package sim provides an in-process constant-product pool and a custody
// ledger. It backs the "simulated" gateway mode and the service tests.
package sim

import (
	"context"
	"fmt"
	"sync"

	"github.com/google/uuid"
	"github.com/holiman/uint256"

	"github.com/alanyoungcy/sovereign-liquidity/internal/domain"
)

// ErrUnknownPool is returned for a pool or position ref the simulator never issued.
var ErrUnknownPool = fmt.Errorf("sim: unknown pool: %w", domain.ErrNotFound)

// DefaultSwapFeeBPS is the simulated pool's trading fee.
const DefaultSwapFeeBPS uint64 = 30

type position struct {
	liquidity uint256.Int
	owedA     uint64
	owedB     uint64
}

type pool struct {
	sovereignID uint64
	restricted  bool
	reserves    domain.Amounts
	liquidity   uint256.Int
	growthA     uint256.Int
	growthB     uint256.Int
	positions   map[string]*position
}

// Pool is an in-memory domain.LiquidityPool. Liquidity is sqrt(funding*traded)
// for the first deposit and proportional afterwards; swap fees accrue to every
// position pro rata and to the Q64.64 fee-growth counters.
type Pool struct {
	mu     sync.Mutex
	pools  map[string]*pool
	feeBPS uint64
}

var _ domain.LiquidityPool = (*Pool)(nil)

// NewPool creates an empty simulator charging feeBPS on every swap. A zero
// feeBPS selects DefaultSwapFeeBPS.
func NewPool(feeBPS uint64) *Pool {
	if feeBPS == 0 {
		feeBPS = DefaultSwapFeeBPS
	}
	return &Pool{pools: make(map[string]*pool), feeBPS: feeBPS}
}

func (p *Pool) get(ref string) (*pool, error) {
	pl, ok := p.pools[ref]
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrUnknownPool, ref)
	}
	return pl, nil
}

func (p *Pool) CreatePool(_ context.Context, params domain.PoolParams) (domain.PoolRef, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	ref := "pool-" + uuid.NewString()
	p.pools[ref] = &pool{
		sovereignID: params.SovereignID,
		restricted:  params.Restricted,
		positions:   make(map[string]*position),
	}
	return domain.PoolRef{Pool: ref}, nil
}

func (p *Pool) AddLiquidity(_ context.Context, ref string, amounts domain.Amounts) (domain.Position, error) {
	if amounts.Funding == 0 || amounts.Traded == 0 {
		return domain.Position{}, fmt.Errorf("sim: add liquidity: %w", domain.ErrZeroAmount)
	}
	p.mu.Lock()
	defer p.mu.Unlock()
	pl, err := p.get(ref)
	if err != nil {
		return domain.Position{}, err
	}

	var minted uint256.Int
	if pl.liquidity.IsZero() {
		product := new(uint256.Int).Mul(uint256.NewInt(amounts.Funding), uint256.NewInt(amounts.Traded))
		minted.Sqrt(product)
	} else {
		byFunding := new(uint256.Int).Div(
			new(uint256.Int).Mul(uint256.NewInt(amounts.Funding), &pl.liquidity),
			uint256.NewInt(pl.reserves.Funding))
		byTraded := new(uint256.Int).Div(
			new(uint256.Int).Mul(uint256.NewInt(amounts.Traded), &pl.liquidity),
			uint256.NewInt(pl.reserves.Traded))
		minted.Set(byFunding)
		if byTraded.Lt(byFunding) {
			minted.Set(byTraded)
		}
	}
	if minted.IsZero() {
		return domain.Position{}, fmt.Errorf("sim: add liquidity mints nothing: %w", domain.ErrZeroAmount)
	}

	pl.reserves.Funding += amounts.Funding
	pl.reserves.Traded += amounts.Traded
	pl.liquidity.Add(&pl.liquidity, &minted)

	posRef := "position-" + uuid.NewString()
	pl.positions[posRef] = &position{liquidity: minted}
	return domain.Position{
		Position:  posRef,
		Liquidity: minted,
		TickLower: domain.MinTickIndex,
		TickUpper: domain.MaxTickIndex,
	}, nil
}

func (p *Pool) RemoveLiquidity(_ context.Context, ref, posRef string, liquidity uint256.Int, min domain.Amounts) (domain.Amounts, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	pl, err := p.get(ref)
	if err != nil {
		return domain.Amounts{}, err
	}
	pos, ok := pl.positions[posRef]
	if !ok {
		return domain.Amounts{}, fmt.Errorf("%w: position %s", ErrUnknownPool, posRef)
	}
	if liquidity.Gt(&pos.liquidity) {
		return domain.Amounts{}, fmt.Errorf("sim: remove %s of %s liquidity: %w",
			liquidity.Dec(), pos.liquidity.Dec(), domain.ErrInsufficientDeposit)
	}
	if liquidity.IsZero() {
		return domain.Amounts{}, nil
	}

	out := domain.Amounts{
		Funding: shareOf(pl.reserves.Funding, &liquidity, &pl.liquidity),
		Traded:  shareOf(pl.reserves.Traded, &liquidity, &pl.liquidity),
	}
	if out.Funding < min.Funding || out.Traded < min.Traded {
		return domain.Amounts{}, fmt.Errorf("sim: remove liquidity: %w", domain.ErrSlippageExceeded)
	}
	pl.reserves.Funding -= out.Funding
	pl.reserves.Traded -= out.Traded
	pl.liquidity.Sub(&pl.liquidity, &liquidity)
	pos.liquidity.Sub(&pos.liquidity, &liquidity)
	return out, nil
}

func (p *Pool) CollectFees(_ context.Context, ref, posRef string) (domain.Amounts, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	pl, err := p.get(ref)
	if err != nil {
		return domain.Amounts{}, err
	}
	pos, ok := pl.positions[posRef]
	if !ok {
		return domain.Amounts{}, fmt.Errorf("%w: position %s", ErrUnknownPool, posRef)
	}
	out := domain.Amounts{Funding: pos.owedA, Traded: pos.owedB}
	pos.owedA, pos.owedB = 0, 0
	return out, nil
}

func (p *Pool) ReadCumulativeFeeGrowth(_ context.Context, ref string) (domain.FeeGrowth, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	pl, err := p.get(ref)
	if err != nil {
		return domain.FeeGrowth{}, err
	}
	return domain.FeeGrowth{A: pl.growthA, B: pl.growthB}, nil
}

func (p *Pool) SetRestricted(_ context.Context, ref string, restricted bool) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	pl, err := p.get(ref)
	if err != nil {
		return err
	}
	pl.restricted = restricted
	return nil
}

func (p *Pool) SwapExactIn(_ context.Context, ref string, dir domain.SwapDirection, amountIn, minOut uint64) (uint64, error) {
	if amountIn == 0 {
		return 0, fmt.Errorf("sim: swap: %w", domain.ErrZeroAmount)
	}
	p.mu.Lock()
	defer p.mu.Unlock()
	pl, err := p.get(ref)
	if err != nil {
		return 0, err
	}
	if pl.liquidity.IsZero() {
		return 0, fmt.Errorf("sim: swap on empty pool: %w", domain.ErrInsufficientVaultBalance)
	}

	fee := amountIn * p.feeBPS / 10_000
	in := amountIn - fee
	var reserveIn, reserveOut *uint64
	switch dir {
	case domain.SwapFundingToTraded:
		reserveIn, reserveOut = &pl.reserves.Funding, &pl.reserves.Traded
	case domain.SwapTradedToFunding:
		reserveIn, reserveOut = &pl.reserves.Traded, &pl.reserves.Funding
	default:
		return 0, fmt.Errorf("sim: unknown swap direction %q", dir)
	}

	num := new(uint256.Int).Mul(uint256.NewInt(*reserveOut), uint256.NewInt(in))
	den := uint256.NewInt(*reserveIn + in)
	out := num.Div(num, den).Uint64()
	if out < minOut {
		return 0, fmt.Errorf("sim: swap out %d below %d: %w", out, minOut, domain.ErrSlippageExceeded)
	}
	*reserveIn += in
	*reserveOut -= out

	if dir == domain.SwapFundingToTraded {
		pl.accrue(fee, 0)
	} else {
		pl.accrue(0, fee)
	}
	return out, nil
}

func (p *Pool) Reserves(_ context.Context, ref string) (domain.Amounts, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	pl, err := p.get(ref)
	if err != nil {
		return domain.Amounts{}, err
	}
	return pl.reserves, nil
}

// AccrueFees credits trading fees to a pool as if external swaps had paid
// them, advancing fee growth and every position's owed balance.
func (p *Pool) AccrueFees(ref string, funding, traded uint64) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	pl, err := p.get(ref)
	if err != nil {
		return err
	}
	if pl.liquidity.IsZero() {
		return fmt.Errorf("sim: accrue on empty pool: %w", domain.ErrDivisionByZero)
	}
	pl.accrue(funding, traded)
	return nil
}

// Restricted reports whether external liquidity is currently blocked.
func (p *Pool) Restricted(ref string) (bool, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	pl, err := p.get(ref)
	if err != nil {
		return false, err
	}
	return pl.restricted, nil
}

// accrue advances growth by fee<<64/L and distributes fee to positions in
// proportion to their liquidity. Rounding dust stays unassigned.
func (pl *pool) accrue(feeA, feeB uint64) {
	if feeA > 0 {
		pl.growthA.Add(&pl.growthA, growthStep(feeA, &pl.liquidity))
	}
	if feeB > 0 {
		pl.growthB.Add(&pl.growthB, growthStep(feeB, &pl.liquidity))
	}
	for _, pos := range pl.positions {
		pos.owedA += shareOf(feeA, &pos.liquidity, &pl.liquidity)
		pos.owedB += shareOf(feeB, &pos.liquidity, &pl.liquidity)
	}
}

func growthStep(fee uint64, liquidity *uint256.Int) *uint256.Int {
	step := new(uint256.Int).Lsh(uint256.NewInt(fee), 64)
	return step.Div(step, liquidity)
}

// shareOf returns floor(amount*part/whole).
func shareOf(amount uint64, part, whole *uint256.Int) uint64 {
	if whole.IsZero() {
		return 0
	}
	v := new(uint256.Int).Mul(uint256.NewInt(amount), part)
	return v.Div(v, whole).Uint64()
}
