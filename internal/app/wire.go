package app

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"

	"github.com/ethereum/go-ethereum/common"

	s3blob "github.com/alanyoungcy/sovereign-liquidity/internal/blob/s3"
	"github.com/alanyoungcy/sovereign-liquidity/internal/cache/redis"
	"github.com/alanyoungcy/sovereign-liquidity/internal/config"
	"github.com/alanyoungcy/sovereign-liquidity/internal/crypto"
	"github.com/alanyoungcy/sovereign-liquidity/internal/domain"
	"github.com/alanyoungcy/sovereign-liquidity/internal/gateway"
	"github.com/alanyoungcy/sovereign-liquidity/internal/notify"
	"github.com/alanyoungcy/sovereign-liquidity/internal/server/handler"
	"github.com/alanyoungcy/sovereign-liquidity/internal/service"
	"github.com/alanyoungcy/sovereign-liquidity/internal/sim"
	"github.com/alanyoungcy/sovereign-liquidity/internal/store/memory"
	"github.com/alanyoungcy/sovereign-liquidity/internal/store/postgres"
)

// Dependencies bundles everything the modes need. It is constructed by Wire
// and torn down by the returned cleanup function.
type Dependencies struct {
	UnitOfWork domain.UnitOfWork
	AuditStore domain.AuditStore

	// Optional, nil when Redis is disabled.
	RateLimiter domain.RateLimiter
	LockManager domain.LockManager
	Cache       domain.SovereignCache

	// SignalBus is Redis-backed when Redis is enabled and in-process
	// otherwise, so the WebSocket hub always has a source.
	SignalBus domain.SignalBus

	Pool    domain.LiquidityPool
	Custody domain.Custody

	// Archiver is nil when S3 is disabled.
	Archiver domain.Archiver

	Notifier *notify.Notifier
	Signer   *crypto.Signer

	Service *service.SovereignService

	// Checks are the dependency probes served by /api/health.
	Checks map[string]handler.Pinger
}

// Wire constructs all concrete dependency implementations from the given
// configuration and returns them together with a cleanup function that should
// be called on shutdown to release resources.
func Wire(ctx context.Context, cfg *config.Config, logger *slog.Logger) (*Dependencies, func(), error) {
	var closers []func()
	cleanup := func() {
		for i := len(closers) - 1; i >= 0; i-- {
			closers[i]()
		}
	}
	fail := func(err error) (*Dependencies, func(), error) {
		cleanup()
		return nil, nil, err
	}

	deps := &Dependencies{Checks: make(map[string]handler.Pinger)}

	// --- Ledger store ---
	switch strings.ToLower(cfg.Store) {
	case "memory":
		deps.UnitOfWork = memory.New()
		deps.AuditStore = memory.NewAuditStore()
		logger.WarnContext(ctx, "using in-memory store; state is lost on restart")
	default:
		pgClient, err := postgres.New(ctx, postgres.ClientConfig{
			DSN:      cfg.Database.DSN,
			Host:     cfg.Database.Host,
			Port:     cfg.Database.Port,
			Database: cfg.Database.Database,
			User:     cfg.Database.User,
			Password: cfg.Database.Password,
			SSLMode:  cfg.Database.SSLMode,
			MaxConns: cfg.Database.PoolMaxConns,
			MinConns: cfg.Database.PoolMinConns,

			StatementTimeout: cfg.Database.StatementTimeout.Duration,
		})
		if err != nil {
			return fail(fmt.Errorf("wire: postgres: %w", err))
		}
		closers = append(closers, pgClient.Close)

		if cfg.Database.RunMigrations {
			if err := pgClient.RunMigrations(ctx); err != nil {
				return fail(fmt.Errorf("wire: postgres migrations: %w", err))
			}
		}

		pool := pgClient.Pool()
		deps.UnitOfWork = postgres.NewUnitOfWork(pool)
		deps.AuditStore = postgres.NewAuditStore(pool)
		deps.Checks["postgres"] = pgClient.Health
	}

	// --- Redis ---
	if cfg.Redis.Addr != "" {
		redisClient, err := redis.New(ctx, redis.ClientConfig{
			Addr:       cfg.Redis.Addr,
			Password:   cfg.Redis.Password,
			DB:         cfg.Redis.DB,
			PoolSize:   cfg.Redis.PoolSize,
			MaxRetries: cfg.Redis.MaxRetries,
			TLSEnabled: cfg.Redis.TLSEnabled,
			KeyPrefix:  cfg.Redis.KeyPrefix,
		})
		if err != nil {
			return fail(fmt.Errorf("wire: redis: %w", err))
		}
		closers = append(closers, func() { _ = redisClient.Close() })

		deps.RateLimiter = redis.NewRateLimiter(redisClient)
		deps.LockManager = redis.NewLockManager(redisClient)
		deps.SignalBus = redis.NewSignalBus(redisClient)
		deps.Cache = redis.NewSovereignCache(redisClient, cfg.Redis.CacheTTL.Duration)
		deps.Checks["redis"] = redisClient.Ping
	} else {
		deps.SignalBus = memory.NewSignalBus()
		logger.InfoContext(ctx, "redis disabled; using in-process signal bus")
	}

	// --- Pool and custody ---
	switch strings.ToLower(cfg.Gateway.Kind) {
	case "rpc":
		var auth *crypto.HMACAuth
		if cfg.Gateway.APIKey != "" {
			auth = &crypto.HMACAuth{Key: cfg.Gateway.APIKey, Secret: cfg.Gateway.APISecret}
		}
		var opts []gateway.Option
		if deps.RateLimiter != nil {
			opts = append(opts, gateway.WithRateLimiter(deps.RateLimiter))
		}
		gw, err := gateway.Dial(ctx, cfg.Gateway.URL, auth, logger, opts...)
		if err != nil {
			return fail(fmt.Errorf("wire: gateway: %w", err))
		}
		closers = append(closers, gw.Close)
		deps.Pool = gw
		deps.Custody = gw
		deps.Checks["gateway"] = gw.Health
	default:
		deps.Pool = sim.NewPool(cfg.Gateway.SwapFeeBPS)
		deps.Custody = sim.NewCustody(cfg.Gateway.Faucet)
		logger.WarnContext(ctx, "using simulated pool and custody",
			slog.Bool("faucet", cfg.Gateway.Faucet),
		)
	}

	// --- S3 archive ---
	if cfg.S3.Bucket != "" {
		s3Client, err := s3blob.New(ctx, s3blob.ClientConfig{
			Endpoint:       cfg.S3.Endpoint,
			Region:         cfg.S3.Region,
			Bucket:         cfg.S3.Bucket,
			AccessKey:      cfg.S3.AccessKey,
			SecretKey:      cfg.S3.SecretKey,
			UseSSL:         cfg.S3.UseSSL,
			ForcePathStyle: cfg.S3.ForcePathStyle,
			Prefix:         cfg.S3.Prefix,
			SSE:            cfg.S3.SSE,
		})
		if err != nil {
			return fail(fmt.Errorf("wire: s3: %w", err))
		}
		deps.Archiver = s3blob.NewArchiver(
			s3Client,
			s3Client,
			deps.AuditStore,
			deps.SignalBus,
			deps.UnitOfWork.Stores().Sovereigns,
			logger,
		)
		deps.Checks["s3"] = s3Client.Health
	}

	// --- Notifications ---
	var senders []notify.Sender
	if cfg.Notify.TelegramToken != "" && cfg.Notify.TelegramChatID != "" {
		senders = append(senders, notify.NewTelegramSender(
			cfg.Notify.TelegramToken,
			cfg.Notify.TelegramChatID,
		))
	}
	if cfg.Notify.DiscordWebhookURL != "" {
		senders = append(senders, notify.NewDiscordSender(cfg.Notify.DiscordWebhookURL))
	}
	deps.Notifier = notify.NewNotifier(senders, cfg.Notify.Events, logger)
	if deps.RateLimiter != nil {
		deps.Notifier.WithRateLimit(deps.RateLimiter, cfg.Notify.RateLimit, cfg.Notify.RateWindow.Duration)
	}

	// --- Receipt signer ---
	signer, err := crypto.LoadSigner(crypto.KeyConfig{
		RawPrivateKey:    cfg.Authority.PrivateKey,
		EncryptedKeyPath: cfg.Authority.EncryptedKeyPath,
		KeyPassword:      cfg.Authority.KeyPassword,
	})
	switch {
	case errors.Is(err, crypto.ErrNoKey):
		logger.InfoContext(ctx, "no authority key configured; event receipts are unsigned")
	case err != nil:
		return fail(fmt.Errorf("wire: authority key: %w", err))
	default:
		deps.Signer = signer
		logger.InfoContext(ctx, "event receipts signed", slog.String("signer", signer.Address().Hex()))
	}

	// --- Service ---
	svc := service.NewSovereignService(deps.UnitOfWork, deps.Pool, deps.Custody, nil, logger).
		WithAudit(deps.AuditStore).
		WithSignalBus(deps.SignalBus)
	if deps.Cache != nil {
		svc.WithCache(deps.Cache)
	}
	if deps.LockManager != nil {
		svc.WithLockManager(deps.LockManager)
	}
	if deps.Notifier.Enabled() {
		svc.WithNotifier(deps.Notifier)
	}
	if deps.Signer != nil {
		svc.WithReceiptSigner(deps.Signer)
	}
	deps.Service = svc

	return deps, cleanup, nil
}

// protocolParams maps the [protocol] section onto genesis parameters.
func protocolParams(pc config.ProtocolConfig) service.ProtocolParams {
	p := service.DefaultProtocolParams()
	p.Authority = common.HexToAddress(pc.Authority)
	if pc.Treasury != "" {
		p.Treasury = common.HexToAddress(pc.Treasury)
	}
	p.CreationFeeBPS = pc.CreationFeeBPS
	p.MinFee = pc.MinFee
	p.GovernanceUnwindFee = pc.GovernanceUnwindFee
	p.UnwindFeeBPS = pc.UnwindFeeBPS
	p.ProtocolFeeBPS = pc.ProtocolFeeBPS
	p.BYOMinSupplyBPS = pc.BYOMinSupplyBPS
	p.MinBondTarget = pc.MinBondTarget
	p.MinDeposit = pc.MinDeposit
	if pc.AutoUnwindPeriod.Duration > 0 {
		p.AutoUnwindPeriod = pc.AutoUnwindPeriod.Duration
	}
	if pc.VolumeThresholdBPS > 0 {
		p.MinFeeGrowthThreshold = pc.VolumeThresholdBPS
	}
	return p
}

// bootstrapProtocol initializes the protocol singleton unless it already is.
func bootstrapProtocol(ctx context.Context, svc *service.SovereignService, pc config.ProtocolConfig, logger *slog.Logger) error {
	if p, err := svc.GetProtocol(ctx); err == nil && p.Initialized {
		logger.InfoContext(ctx, "protocol already initialized",
			slog.String("authority", p.Authority.Hex()),
		)
		return nil
	}
	params := protocolParams(pc)
	p, err := svc.InitializeProtocol(ctx, params.Authority, params)
	if err != nil {
		return fmt.Errorf("bootstrap protocol: %w", err)
	}
	logger.InfoContext(ctx, "protocol initialized",
		slog.String("authority", p.Authority.Hex()),
		slog.String("treasury", p.Treasury.Hex()),
	)
	return nil
}
