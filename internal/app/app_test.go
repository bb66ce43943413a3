package app

import (
	"context"
	"io"
	"log/slog"
	"testing"

	"github.com/ethereum/go-ethereum/common"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/alanyoungcy/sovereign-liquidity/internal/config"
)

const testAuthority = "0x00000000000000000000000000000000000000a1"

func memoryConfig() *config.Config {
	cfg := config.Defaults()
	cfg.Store = "memory"
	cfg.Redis.Addr = ""
	cfg.S3.Bucket = ""
	cfg.Protocol.Bootstrap = true
	cfg.Protocol.Authority = testAuthority
	return &cfg
}

func TestWire_MemoryMode(t *testing.T) {
	logger := slog.New(slog.NewJSONHandler(io.Discard, nil))
	deps, cleanup, err := Wire(context.Background(), memoryConfig(), logger)
	require.NoError(t, err)
	defer cleanup()

	assert.NotNil(t, deps.Service)
	assert.NotNil(t, deps.SignalBus, "in-process bus without redis")
	assert.Nil(t, deps.RateLimiter)
	assert.Nil(t, deps.Archiver)
	assert.Nil(t, deps.Signer)
	assert.Empty(t, deps.Checks)
}

func TestBootstrapProtocol_Idempotent(t *testing.T) {
	ctx := context.Background()
	logger := slog.New(slog.NewJSONHandler(io.Discard, nil))
	cfg := memoryConfig()
	cfg.Protocol.Treasury = "0x00000000000000000000000000000000000000b2"
	deps, cleanup, err := Wire(ctx, cfg, logger)
	require.NoError(t, err)
	defer cleanup()

	require.NoError(t, bootstrapProtocol(ctx, deps.Service, cfg.Protocol, logger))
	require.NoError(t, bootstrapProtocol(ctx, deps.Service, cfg.Protocol, logger))

	p, err := deps.Service.GetProtocol(ctx)
	require.NoError(t, err)
	assert.True(t, p.Initialized)
	assert.Equal(t, common.HexToAddress(testAuthority), p.Authority)
	assert.Equal(t, common.HexToAddress(cfg.Protocol.Treasury), p.Treasury)
	assert.Equal(t, cfg.Protocol.MinBondTarget, p.MinBondTarget)
}

func TestProtocolParams_TreasuryDefaultsToAuthority(t *testing.T) {
	pc := config.Defaults().Protocol
	pc.Authority = testAuthority
	p := protocolParams(pc)
	assert.Equal(t, common.HexToAddress(testAuthority), p.Authority)
	assert.Equal(t, common.Address{}, p.Treasury, "filled in by InitializeProtocol")
	assert.Equal(t, uint64(1000), p.MinFeeGrowthThreshold)
	assert.Equal(t, pc.AutoUnwindPeriod.Duration, p.AutoUnwindPeriod)
}

func TestRun_UnsupportedMode(t *testing.T) {
	logger := slog.New(slog.NewJSONHandler(io.Discard, nil))
	cfg := memoryConfig()
	cfg.Mode = "trade"
	a := New(cfg, logger)
	err := a.Run(context.Background())
	assert.ErrorContains(t, err, `unsupported mode "trade"`)
	a.Close()
	a.Close()
}

func TestRun_KeeperStopsOnCancel(t *testing.T) {
	logger := slog.New(slog.NewJSONHandler(io.Discard, nil))
	cfg := memoryConfig()
	cfg.Mode = "keeper"
	a := New(cfg, logger)
	defer a.Close()

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	err := a.Run(ctx)
	if err != nil {
		assert.ErrorIs(t, err, context.Canceled)
	}
}
