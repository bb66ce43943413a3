package app

import (
	"context"
	"log/slog"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/alanyoungcy/sovereign-liquidity/internal/server"
	"github.com/alanyoungcy/sovereign-liquidity/internal/server/handler"
	"github.com/alanyoungcy/sovereign-liquidity/internal/server/ws"
	"github.com/alanyoungcy/sovereign-liquidity/internal/service"
)

// shutdownTimeout bounds how long in-flight requests get on shutdown.
const shutdownTimeout = 10 * time.Second

// ServerMode serves the HTTP and WebSocket API without running the keeper.
// Lifecycle transitions then happen only when a client calls for them.
func (a *App) ServerMode(ctx context.Context, deps *Dependencies) error {
	a.logger.InfoContext(ctx, "starting server mode")

	g, ctx := errgroup.WithContext(ctx)
	a.startHTTPServer(ctx, g, deps)
	return g.Wait()
}

// KeeperMode runs the background sweeps only. Use it for a dedicated keeper
// replica next to API replicas sharing the same database and Redis.
func (a *App) KeeperMode(ctx context.Context, deps *Dependencies) error {
	a.logger.InfoContext(ctx, "starting keeper mode")

	g, ctx := errgroup.WithContext(ctx)
	a.startKeeper(ctx, g, deps)
	return g.Wait()
}

// FullMode runs the API and the keeper in one process.
func (a *App) FullMode(ctx context.Context, deps *Dependencies) error {
	a.logger.InfoContext(ctx, "starting full mode")

	g, ctx := errgroup.WithContext(ctx)
	a.startKeeper(ctx, g, deps)
	a.startHTTPServer(ctx, g, deps)
	return g.Wait()
}

func (a *App) startKeeper(ctx context.Context, g *errgroup.Group, deps *Dependencies) {
	keeper := service.NewKeeper(deps.Service, deps.Archiver, service.KeeperConfig{
		LifecycleInterval: a.cfg.Keeper.LifecycleInterval.Duration,
		FeeInterval:       a.cfg.Keeper.FeeInterval.Duration,
		ArchiveInterval:   a.cfg.Keeper.ArchiveInterval.Duration,
		OutboxInterval:    a.cfg.Keeper.OutboxInterval.Duration,
		BatchSize:         a.cfg.Keeper.BatchSize,
	}, a.logger)
	if deps.Archiver == nil {
		a.logger.InfoContext(ctx, "s3 disabled; keeper will not archive")
	}
	g.Go(func() error {
		return keeper.Run(ctx)
	})
}

// startHTTPServer adds the API server and its WebSocket hub to g. The server
// is shut down gracefully when ctx is cancelled.
func (a *App) startHTTPServer(ctx context.Context, g *errgroup.Group, deps *Dependencies) {
	hub := ws.NewHub(deps.SignalBus, a.logger, ws.Config{
		Mode:           a.cfg.Mode,
		StartedAt:      time.Now().UTC(),
		AllowedOrigins: a.cfg.Server.CORSOrigins,
	})
	g.Go(func() error {
		return hub.Run(ctx)
	})

	svc := deps.Service
	handlers := server.Handlers{
		Health:      handler.NewHealthHandler(a.cfg.Mode, deps.Checks, a.logger),
		Protocol:    handler.NewProtocolHandler(svc, a.logger),
		Sovereigns:  handler.NewSovereignHandler(svc, a.logger),
		Fees:        handler.NewFeeHandler(svc, a.logger),
		Governance:  handler.NewGovernanceHandler(svc, a.logger),
		Emergency:   handler.NewEmergencyHandler(svc, a.logger),
		ClaimTokens: handler.NewClaimTokenHandler(svc, a.logger),
		Audit:       handler.NewAuditHandler(deps.AuditStore, a.logger),
	}

	srv := server.NewServer(server.Config{
		Port:             a.cfg.Server.Port,
		CORSOrigins:      a.cfg.Server.CORSOrigins,
		APIKey:           a.cfg.Server.APIKey,
		RateLimit:        a.cfg.Server.RateLimit,
		RateWindow:       a.cfg.Server.RateWindow.Duration,
		VerifySignatures: a.cfg.Server.VerifySignatures,
		SignatureMaxAge:  a.cfg.Server.SignatureMaxAge.Duration,
	}, handlers, hub, deps.RateLimiter, a.logger)

	if !a.cfg.Server.VerifySignatures {
		a.logger.WarnContext(ctx, "caller signatures are not verified; X-Caller is trusted as sent")
	}

	g.Go(func() error {
		a.logger.InfoContext(ctx, "HTTP server listening",
			slog.Int("port", a.cfg.Server.Port),
		)
		return srv.Start()
	})

	g.Go(func() error {
		<-ctx.Done()
		shutCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
		defer cancel()
		return srv.Shutdown(shutCtx)
	})
}
