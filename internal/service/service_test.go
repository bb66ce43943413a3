package service

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"sync"
	"testing"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/alanyoungcy/sovereign-liquidity/internal/domain"
	"github.com/alanyoungcy/sovereign-liquidity/internal/sim"
	"github.com/alanyoungcy/sovereign-liquidity/internal/store/memory"
)

// Amounts used throughout: a 2^20 target split 3:1 and an LP allocation of
// 2^20 traded units give the permanent position exactly 2^20 liquidity, so
// fee growth converts back to fees without rounding.
const (
	testTarget      uint64 = 1 << 20
	testSupply      uint64 = 1_310_720
	alicePledge     uint64 = 786_432
	bobPledge       uint64 = 262_144
	creatorEscrow   uint64 = 10_000
	testCreationFee uint64 = 5_242
	startBalance    uint64 = 100_000_000
)

var (
	authority = common.HexToAddress("0x00000000000000000000000000000000000000a1")
	treasury  = common.HexToAddress("0x00000000000000000000000000000000000000a2")
	creator   = common.HexToAddress("0x00000000000000000000000000000000000000c1")
	alice     = common.HexToAddress("0x00000000000000000000000000000000000000d1")
	bob       = common.HexToAddress("0x00000000000000000000000000000000000000d2")
	carol     = common.HexToAddress("0x00000000000000000000000000000000000000d3")
)

type fakeClock struct {
	mu  sync.Mutex
	now time.Time
}

func (c *fakeClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

func (c *fakeClock) Advance(d time.Duration) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.now = c.now.Add(d)
}

// sendFailer fails Send once armed, for exercising rollback.
type sendFailer struct {
	*sim.Custody
	fail bool
}

var errSendFailed = errors.New("send failed")

func (c *sendFailer) Send(ctx context.Context, id uint64, to common.Address, asset domain.Asset, amount uint64) error {
	if c.fail {
		return errSendFailed
	}
	return c.Custody.Send(ctx, id, to, asset, amount)
}

// flakyPool fails swaps or liquidity adds once armed.
type flakyPool struct {
	*sim.Pool
	failSwap bool
	failAdd  bool
}

var (
	errSwapFailed = errors.New("swap failed")
	errAddFailed  = errors.New("add liquidity failed")
)

func (p *flakyPool) AddLiquidity(ctx context.Context, ref string, amounts domain.Amounts) (domain.Position, error) {
	if p.failAdd {
		return domain.Position{}, errAddFailed
	}
	return p.Pool.AddLiquidity(ctx, ref, amounts)
}

func (p *flakyPool) SwapExactIn(ctx context.Context, ref string, dir domain.SwapDirection, amountIn, minOut uint64) (uint64, error) {
	if p.failSwap {
		return 0, errSwapFailed
	}
	return p.Pool.SwapExactIn(ctx, ref, dir, amountIn, minOut)
}

type fixture struct {
	t       *testing.T
	ctx     context.Context
	svc     *SovereignService
	store   *memory.Store
	pool    *flakyPool
	custody *sendFailer
	clock   *fakeClock
	audit   *memory.AuditStore
}

func testParams() ProtocolParams {
	p := DefaultProtocolParams()
	p.Treasury = treasury
	p.MinFee = 1_000
	p.MinBondTarget = 1_000
	p.MinDeposit = 100
	return p
}

func newFixture(t *testing.T) *fixture {
	t.Helper()
	custody := &sendFailer{Custody: sim.NewCustody(false)}
	for _, a := range []common.Address{creator, alice, bob, carol} {
		custody.Fund(a, 0, domain.AssetFunding, startBalance)
	}
	f := &fixture{
		t:       t,
		ctx:     context.Background(),
		store:   memory.New(),
		pool:    &flakyPool{Pool: sim.NewPool(0)},
		custody: custody,
		clock:   &fakeClock{now: time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)},
		audit:   memory.NewAuditStore(),
	}
	logger := slog.New(slog.NewJSONHandler(io.Discard, nil))
	f.svc = NewSovereignService(f.store, f.pool, f.custody, f.clock, logger).WithAudit(f.audit)

	_, err := f.svc.InitializeProtocol(f.ctx, authority, testParams())
	require.NoError(t, err)
	return f
}

func (f *fixture) createTokenLaunch(mode domain.FeeMode) domain.Sovereign {
	f.t.Helper()
	sov, err := f.svc.CreateSovereign(f.ctx, CreateParams{
		Creator:      creator,
		Type:         domain.SovereignTokenLaunch,
		BondTarget:   testTarget,
		BondDuration: 14 * domain.Day,
		FeeMode:      mode,
		TokenName:    "Sovereign",
		TokenSymbol:  "SOV",
		TokenSupply:  testSupply,
		SellFeeBPS:   100,
	})
	require.NoError(f.t, err)
	return sov
}

// bond creates a TokenLaunch sovereign and fills it with the creator's
// escrow and both investors.
func (f *fixture) bond(mode domain.FeeMode) uint64 {
	f.t.Helper()
	sov := f.createTokenLaunch(mode)
	_, err := f.svc.Pledge(f.ctx, sov.ID, creator, creatorEscrow)
	require.NoError(f.t, err)
	_, err = f.svc.Pledge(f.ctx, sov.ID, alice, alicePledge)
	require.NoError(f.t, err)
	res, err := f.svc.Pledge(f.ctx, sov.ID, bob, bobPledge)
	require.NoError(f.t, err)
	require.Equal(f.t, domain.PhaseFinalizing, res.Phase)
	return sov.ID
}

// launch bonds and finalizes, leaving the sovereign in Recovery.
func (f *fixture) launch(mode domain.FeeMode) uint64 {
	f.t.Helper()
	id := f.bond(mode)
	_, err := f.svc.FinalizeCreatePool(f.ctx, id)
	require.NoError(f.t, err)
	_, err = f.svc.FinalizeAddLiquidity(f.ctx, id)
	require.NoError(f.t, err)
	return id
}

// activate launches and accrues enough funding fees to complete recovery in
// one collection.
func (f *fixture) activate() uint64 {
	f.t.Helper()
	id := f.launch(domain.FeeModeCreatorRevenue)
	f.accrue(id, testTarget, 0)
	d, err := f.svc.ClaimFees(f.ctx, id)
	require.NoError(f.t, err)
	require.True(f.t, d.RecoveryComplete)
	return id
}

func (f *fixture) accrue(id, funding, traded uint64) {
	f.t.Helper()
	require.NoError(f.t, f.pool.AccrueFees(f.sovereign(id).PoolRef, funding, traded))
}

func (f *fixture) sovereign(id uint64) domain.Sovereign {
	f.t.Helper()
	sov, err := f.svc.GetSovereign(f.ctx, id)
	require.NoError(f.t, err)
	return sov
}

func (f *fixture) token(id uint64, depositor common.Address) string {
	f.t.Helper()
	rec, err := f.store.Stores().Deposits.Get(f.ctx, id, depositor)
	require.NoError(f.t, err)
	require.NotEmpty(f.t, rec.ClaimTokenID)
	return rec.ClaimTokenID
}

func (f *fixture) funding(a common.Address) uint64 {
	return f.custody.Balance(a, 0, domain.AssetFunding)
}

func TestInitializeProtocol(t *testing.T) {
	f := newFixture(t)

	p, err := f.svc.GetProtocol(f.ctx)
	require.NoError(t, err)
	assert.Equal(t, authority, p.Authority)
	assert.Equal(t, treasury, p.Treasury)
	assert.True(t, p.Initialized)

	_, err = f.svc.InitializeProtocol(f.ctx, authority, testParams())
	assert.ErrorIs(t, err, domain.ErrProtocolAlreadyInitiated)
}

func TestProtocolAdmin(t *testing.T) {
	f := newFixture(t)

	err := f.svc.SetPaused(f.ctx, alice, true)
	assert.ErrorIs(t, err, domain.ErrNotAuthority)

	require.NoError(t, f.svc.SetPaused(f.ctx, authority, true))
	_, err = f.svc.CreateSovereign(f.ctx, CreateParams{
		Creator: creator, Type: domain.SovereignTokenLaunch, BondTarget: testTarget,
		BondDuration: 14 * domain.Day, TokenName: "A", TokenSymbol: "A", TokenSupply: testSupply,
	})
	assert.ErrorIs(t, err, domain.ErrProtocolPaused)
	require.NoError(t, f.svc.SetPaused(f.ctx, authority, false))

	high := uint64(domain.MaxProtocolFeeBPS + 1)
	_, err = f.svc.UpdateProtocolFees(f.ctx, authority, FeeUpdate{ProtocolFeeBPS: &high})
	assert.ErrorIs(t, err, domain.ErrFeeTooHigh)

	fee := uint64(200)
	p, err := f.svc.UpdateProtocolFees(f.ctx, authority, FeeUpdate{ProtocolFeeBPS: &fee})
	require.NoError(t, err)
	assert.Equal(t, uint64(200), p.ProtocolFeeBPS)

	require.NoError(t, f.svc.TransferAuthority(f.ctx, authority, carol))
	assert.ErrorIs(t, f.svc.SetPaused(f.ctx, authority, true), domain.ErrNotAuthority)
	assert.NoError(t, f.svc.SetPaused(f.ctx, carol, true))
}

func TestCreateSovereign(t *testing.T) {
	f := newFixture(t)
	sov := f.createTokenLaunch(domain.FeeModeCreatorRevenue)

	assert.Equal(t, uint64(1), sov.ID)
	assert.Equal(t, domain.PhaseBonding, sov.Phase)
	assert.Equal(t, testCreationFee, sov.CreationFeeEscrowed)
	assert.Equal(t, testSupply, sov.TokenVaultBalance)
	assert.Equal(t, f.clock.Now().Add(14*domain.Day), sov.BondDeadline)
	assert.NotEqual(t, common.Address{}, sov.TokenMint)
	assert.Equal(t, startBalance-testCreationFee, f.funding(creator))

	_, err := f.svc.CreateSovereign(f.ctx, CreateParams{
		Creator: creator, Type: domain.SovereignTokenLaunch, BondTarget: 999,
		BondDuration: 14 * domain.Day, TokenName: "A", TokenSymbol: "A", TokenSupply: 1,
	})
	assert.ErrorIs(t, err, domain.ErrBondTargetTooLow)

	_, err = f.svc.CreateSovereign(f.ctx, CreateParams{
		Creator: creator, Type: domain.SovereignTokenLaunch, BondTarget: testTarget,
		BondDuration: 3 * domain.Day, TokenName: "A", TokenSymbol: "A", TokenSupply: 1,
	})
	assert.ErrorIs(t, err, domain.ErrInvalidBondDuration)

	_, err = f.svc.CreateSovereign(f.ctx, CreateParams{
		Creator: creator, Type: domain.SovereignTokenLaunch, BondTarget: testTarget,
		BondDuration: 14 * domain.Day, TokenName: "A", TokenSymbol: "A", TokenSupply: 1, SellFeeBPS: 301,
	})
	assert.ErrorIs(t, err, domain.ErrFeeTooHigh)
}

func TestCreateBYOSovereign(t *testing.T) {
	f := newFixture(t)
	mint := common.HexToAddress("0x00000000000000000000000000000000000000e1")
	f.custody.Fund(creator, 1, domain.AssetTraded, 500_000)

	_, err := f.svc.CreateSovereign(f.ctx, CreateParams{
		Creator: creator, Type: domain.SovereignBYOToken, BondTarget: testTarget,
		BondDuration: 14 * domain.Day, TokenMint: mint, TokenTotalSupply: 1_000_000, DepositAmount: 200_000,
	})
	assert.ErrorIs(t, err, domain.ErrInsufficientTokenDeposit)

	sov, err := f.svc.CreateSovereign(f.ctx, CreateParams{
		Creator: creator, Type: domain.SovereignBYOToken, BondTarget: testTarget,
		BondDuration: 14 * domain.Day, TokenMint: mint, TokenTotalSupply: 1_000_000, DepositAmount: 300_000,
	})
	require.NoError(t, err)
	assert.Equal(t, mint, sov.TokenMint)
	assert.Equal(t, uint64(300_000), sov.TokenVaultBalance)
	assert.Equal(t, uint64(200_000), f.custody.Balance(creator, 1, domain.AssetTraded))
}

func TestMutateRollsBackOnError(t *testing.T) {
	f := newFixture(t)
	id := f.bond(domain.FeeModeCreatorRevenue)
	_, err := f.svc.FinalizeCreatePool(f.ctx, id)
	require.NoError(t, err)
	pool := f.sovereign(id).PoolRef

	// The creator's market buy fails after the position was seeded.
	f.pool.failSwap = true
	_, err = f.svc.FinalizeAddLiquidity(f.ctx, id)
	require.ErrorIs(t, err, errSwapFailed)

	sov := f.sovereign(id)
	assert.Equal(t, domain.PhasePoolCreated, sov.Phase)
	assert.NotEmpty(t, sov.PositionRef)
	assert.Equal(t, uint64(0), sov.VaultBalance)
	assert.Equal(t, creatorEscrow, sov.CreatorEscrow)
	assert.Equal(t, testCreationFee, sov.CreationFeeEscrowed)
	lock, err := f.svc.GetLock(f.ctx, id)
	require.NoError(t, err)
	assert.Equal(t, testTarget, lock.Liquidity.Uint64())
	rec, err := f.store.Stores().Deposits.Get(f.ctx, id, alice)
	require.NoError(t, err)
	assert.Empty(t, rec.ClaimTokenID)
	reserves, err := f.pool.Reserves(f.ctx, pool)
	require.NoError(t, err)
	assert.Equal(t, testTarget, reserves.Funding)
	pending, err := f.svc.PendingOutbox(f.ctx, id)
	require.NoError(t, err)
	assert.Empty(t, pending)

	// The retry skips the seeded position and completes the launch once.
	f.pool.failSwap = false
	got, err := f.svc.FinalizeAddLiquidity(f.ctx, id)
	require.NoError(t, err)
	assert.Equal(t, lock.PositionRef, got.PositionRef)
	assert.Equal(t, domain.PhaseRecovery, f.sovereign(id).Phase)
	reserves, err = f.pool.Reserves(f.ctx, pool)
	require.NoError(t, err)
	assert.Equal(t, testTarget+creatorEscrow-30, reserves.Funding, "seeded once plus the buy net of its fee")
	assert.Equal(t, uint64(9_876), f.custody.Balance(creator, id, domain.AssetTraded))
	assert.NotEmpty(t, f.token(id, alice))
}

func TestMutateReturnsReceivedFundsOnError(t *testing.T) {
	f := newFixture(t)
	sov := f.createTokenLaunch(domain.FeeModeCreatorRevenue)
	errAbort := errors.New("abort")

	err := f.svc.mutate(f.ctx, sovereignKey(sov.ID), "receive then abort", func(ctx context.Context, tx *txn) error {
		if err := f.svc.receive(ctx, tx, sov.ID, alice, domain.AssetFunding, 5_000); err != nil {
			return err
		}
		if err := f.svc.receive(ctx, tx, sov.ID, bob, domain.AssetFunding, 7_000); err != nil {
			return err
		}
		return errAbort
	})
	require.ErrorIs(t, err, errAbort)
	assert.Equal(t, startBalance, f.funding(alice))
	assert.Equal(t, startBalance, f.funding(bob))
	assert.Equal(t, uint64(0), f.sovereign(sov.ID).VaultBalance)
}

func TestEventsAreAudited(t *testing.T) {
	f := newFixture(t)
	f.createTokenLaunch(domain.FeeModeCreatorRevenue)

	entries, err := f.audit.List(f.ctx, domain.ListOpts{})
	require.NoError(t, err)
	var types []string
	for _, e := range entries {
		types = append(types, e.Event)
	}
	assert.Contains(t, types, string(domain.EventProtocolInitialized))
	assert.Contains(t, types, string(domain.EventSovereignCreated))
}
