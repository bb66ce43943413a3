// Package app provides the top-level lifecycle of the sovereign daemon. It
// wires the ledger store, caches, pool gateway, archive and notifications
// into the service, then starts the goroutines of the configured mode.
package app

import (
	"context"
	"fmt"
	"log/slog"
	"maps"
	"slices"
	"strings"
	"sync"
	"time"

	"github.com/alanyoungcy/sovereign-liquidity/internal/config"
)

// probeTimeout bounds each dependency probe in the startup report.
const probeTimeout = 3 * time.Second

// App owns one daemon run: its config, its logger and the cleanup Wire
// hands back.
type App struct {
	cfg    *config.Config
	logger *slog.Logger

	mu      sync.Mutex
	cleanup func()
}

// New creates an App. Nothing is connected until Run.
func New(cfg *config.Config, logger *slog.Logger) *App {
	return &App{
		cfg:    cfg,
		logger: logger.With(slog.String("component", "app")),
	}
}

// Run wires dependencies, bootstraps the protocol when [protocol].bootstrap
// is set, and runs the configured mode until ctx is cancelled or a
// component fails.
func (a *App) Run(ctx context.Context) error {
	run, ok := map[string]func(context.Context, *Dependencies) error{
		"server": a.ServerMode,
		"keeper": a.KeeperMode,
		"full":   a.FullMode,
	}[strings.ToLower(a.cfg.Mode)]
	if !ok {
		return fmt.Errorf("app: unsupported mode %q", a.cfg.Mode)
	}

	deps, cleanup, err := Wire(ctx, a.cfg, a.logger)
	if err != nil {
		return fmt.Errorf("app: wire: %w", err)
	}
	a.mu.Lock()
	a.cleanup = cleanup
	a.mu.Unlock()

	a.logger.InfoContext(ctx, "sovereignd starting",
		slog.String("mode", a.cfg.Mode),
		slog.String("store", a.cfg.Store),
		slog.String("gateway", a.cfg.Gateway.Kind),
		slog.Bool("redis", deps.LockManager != nil),
		slog.Bool("archive", deps.Archiver != nil),
		slog.Bool("signed_receipts", deps.Signer != nil),
	)
	a.probe(ctx, deps)

	if a.cfg.Protocol.Bootstrap {
		if err := bootstrapProtocol(ctx, deps.Service, a.cfg.Protocol, a.logger); err != nil {
			return fmt.Errorf("app: %w", err)
		}
	}
	return run(ctx, deps)
}

// probe runs every health check once and logs the result. A failing probe
// does not stop startup; /api/health keeps reporting it.
func (a *App) probe(ctx context.Context, deps *Dependencies) {
	for _, name := range slices.Sorted(maps.Keys(deps.Checks)) {
		pctx, cancel := context.WithTimeout(ctx, probeTimeout)
		err := deps.Checks[name](pctx)
		cancel()
		if err != nil {
			a.logger.WarnContext(ctx, "dependency probe failed",
				slog.String("dependency", name),
				slog.String("error", err.Error()),
			)
			continue
		}
		a.logger.DebugContext(ctx, "dependency probe ok", slog.String("dependency", name))
	}
}

// Close releases everything Wire opened. Later calls are no-ops.
func (a *App) Close() {
	a.mu.Lock()
	cleanup := a.cleanup
	a.cleanup = nil
	a.mu.Unlock()

	if cleanup != nil {
		a.logger.Info("sovereignd stopped")
		cleanup()
	}
}
