package service

import (
	"context"
	"io"
	"log/slog"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"

	"github.com/alanyoungcy/sovereign-liquidity/internal/domain"
)

type mockArchiver struct {
	mock.Mock
}

func (m *mockArchiver) ArchiveAudit(ctx context.Context, before time.Time) (int64, error) {
	args := m.Called(ctx, before)
	return args.Get(0).(int64), args.Error(1)
}

func (m *mockArchiver) ArchiveEvents(ctx context.Context, before time.Time) (int64, error) {
	args := m.Called(ctx, before)
	return args.Get(0).(int64), args.Error(1)
}

func (m *mockArchiver) SnapshotSovereigns(ctx context.Context, at time.Time) (int64, error) {
	args := m.Called(ctx, at)
	return args.Get(0).(int64), args.Error(1)
}

func newTestKeeper(f *fixture, archiver domain.Archiver) *Keeper {
	return NewKeeper(f.svc, archiver, KeeperConfig{}, slog.New(slog.NewJSONHandler(io.Discard, nil)))
}

func TestKeeper_Lifecycle(t *testing.T) {
	f := newFixture(t)
	k := newTestKeeper(f, nil)

	expired := f.createTokenLaunch(domain.FeeModeCreatorRevenue)
	_, err := f.svc.Pledge(f.ctx, expired.ID, carol, 1_000)
	require.NoError(t, err)
	bonded := f.bond(domain.FeeModeCreatorRevenue)

	require.NoError(t, k.Lifecycle(f.ctx))
	assert.Equal(t, domain.PhaseBonding, f.sovereign(expired.ID).Phase)
	assert.Equal(t, domain.PhaseRecovery, f.sovereign(bonded).Phase)

	f.clock.Advance(15 * domain.Day)
	require.NoError(t, k.Lifecycle(f.ctx))
	assert.Equal(t, domain.PhaseFailed, f.sovereign(expired.ID).Phase)
}

func TestKeeper_DrivesGovernance(t *testing.T) {
	f := newFixture(t)
	k := newTestKeeper(f, nil)
	id := f.activate()

	tokA, tokB := f.token(id, alice), f.token(id, bob)
	p, err := f.svc.ProposeUnwind(f.ctx, id, tokA, alice)
	require.NoError(t, err)
	_, err = f.svc.Vote(f.ctx, id, p.ID, tokA, alice, true)
	require.NoError(t, err)
	_, err = f.svc.Vote(f.ctx, id, p.ID, tokB, bob, true)
	require.NoError(t, err)

	require.NoError(t, k.Lifecycle(f.ctx))
	assert.Equal(t, domain.PhaseActive, f.sovereign(id).Phase, "voting still open")

	f.clock.Advance(domain.VotingPeriod + 1)
	require.NoError(t, k.Lifecycle(f.ctx))
	assert.Equal(t, domain.PhaseUnwinding, f.sovereign(id).Phase)

	f.clock.Advance(domain.ObservationPeriod)
	require.NoError(t, k.Lifecycle(f.ctx))
	assert.Equal(t, domain.PhaseUnwound, f.sovereign(id).Phase)
}

func TestKeeper_CollectFees(t *testing.T) {
	f := newFixture(t)
	k := newTestKeeper(f, nil)
	id := f.launch(domain.FeeModeCreatorRevenue)
	f.accrue(id, testTarget, 0)

	require.NoError(t, k.CollectFees(f.ctx))
	assert.Equal(t, domain.PhaseActive, f.sovereign(id).Phase)

	// Nothing accrued since: logged, not returned.
	require.NoError(t, k.CollectFees(f.ctx))
}

func TestKeeper_ArchivesOncePerMonth(t *testing.T) {
	f := newFixture(t)
	arch := new(mockArchiver)
	k := newTestKeeper(f, arch)

	month := time.Date(2026, 3, 1, 0, 0, 0, 0, time.UTC)
	arch.On("SnapshotSovereigns", mock.Anything, mock.Anything).Return(int64(1), nil)
	arch.On("ArchiveAudit", mock.Anything, month).Return(int64(4), nil).Once()
	arch.On("ArchiveEvents", mock.Anything, month).Return(int64(4), nil).Once()

	require.NoError(t, k.Archive(f.ctx))
	f.clock.Advance(24 * time.Hour)
	require.NoError(t, k.Archive(f.ctx))

	arch.AssertExpectations(t)
	arch.AssertNumberOfCalls(t, "SnapshotSovereigns", 2)
	arch.AssertNumberOfCalls(t, "ArchiveAudit", 1)
}

func TestKeeper_DeliverOutbox(t *testing.T) {
	f := newFixture(t)
	k := newTestKeeper(f, nil)
	id := f.bond(domain.FeeModeCreatorRevenue)
	_, err := f.svc.FinalizeCreatePool(f.ctx, id)
	require.NoError(t, err)

	f.custody.fail = true
	_, err = f.svc.FinalizeAddLiquidity(f.ctx, id)
	require.NoError(t, err)

	// Still failing: logged, not returned, and left pending.
	require.NoError(t, k.DeliverOutbox(f.ctx))
	pending, err := f.svc.PendingOutbox(f.ctx, id)
	require.NoError(t, err)
	assert.Len(t, pending, 2)

	f.custody.fail = false
	require.NoError(t, k.DeliverOutbox(f.ctx))
	pending, err = f.svc.PendingOutbox(f.ctx, id)
	require.NoError(t, err)
	assert.Empty(t, pending)
	assert.Equal(t, uint64(9_876), f.custody.Balance(creator, id, domain.AssetTraded))
	assert.Equal(t, testCreationFee, f.funding(treasury))
}
