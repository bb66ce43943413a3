package server

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"time"

	"github.com/alanyoungcy/sovereign-liquidity/internal/domain"
	"github.com/alanyoungcy/sovereign-liquidity/internal/server/handler"
	"github.com/alanyoungcy/sovereign-liquidity/internal/server/middleware"
	"github.com/alanyoungcy/sovereign-liquidity/internal/server/ws"
)

// Config holds the HTTP server configuration.
type Config struct {
	Port        int
	CORSOrigins []string
	APIKey      string // if empty, authentication is disabled

	// RateLimit requests per RateWindow per client IP; zero disables.
	RateLimit  int
	RateWindow time.Duration

	// VerifySignatures requires X-Caller to be backed by a fresh X-Signature.
	VerifySignatures bool
	SignatureMaxAge  time.Duration
}

// Handlers aggregates all HTTP handlers that the server needs to register.
type Handlers struct {
	Health      *handler.HealthHandler
	Protocol    *handler.ProtocolHandler
	Sovereigns  *handler.SovereignHandler
	Fees        *handler.FeeHandler
	Governance  *handler.GovernanceHandler
	Emergency   *handler.EmergencyHandler
	ClaimTokens *handler.ClaimTokenHandler
	Audit       *handler.AuditHandler
}

// Server is the HTTP + WebSocket API of the sovereign daemon.
type Server struct {
	httpServer *http.Server
	logger     *slog.Logger
}

// NewServer creates a new Server with all routes registered on the ServeMux.
// limiter may be nil, which disables rate limiting.
func NewServer(cfg Config, h Handlers, wsHub *ws.Hub, limiter domain.RateLimiter, logger *slog.Logger) *Server {
	logger = logger.With(slog.String("component", "server"))

	srv := &http.Server{
		Addr:         fmt.Sprintf(":%d", cfg.Port),
		Handler:      NewHandler(cfg, h, wsHub, limiter, logger),
		ReadTimeout:  15 * time.Second,
		WriteTimeout: 30 * time.Second,
		IdleTimeout:  60 * time.Second,
	}
	return &Server{httpServer: srv, logger: logger}
}

// NewHandler builds the routed, middleware-wrapped handler without binding a
// listener.
func NewHandler(cfg Config, h Handlers, wsHub *ws.Hub, limiter domain.RateLimiter, logger *slog.Logger) http.Handler {
	mux := http.NewServeMux()

	mux.HandleFunc("GET /api/health", h.Health.HealthCheck)

	// Protocol.
	mux.HandleFunc("GET /api/protocol", h.Protocol.GetProtocol)
	mux.HandleFunc("POST /api/protocol/init", h.Protocol.InitializeProtocol)
	mux.HandleFunc("POST /api/protocol/pause", h.Protocol.SetPaused)
	mux.HandleFunc("PUT /api/protocol/fees", h.Protocol.UpdateFees)
	mux.HandleFunc("POST /api/protocol/authority", h.Protocol.TransferAuthority)

	// Sovereigns and bonding.
	mux.HandleFunc("GET /api/sovereigns", h.Sovereigns.ListSovereigns)
	mux.HandleFunc("POST /api/sovereigns", h.Sovereigns.CreateSovereign)
	mux.HandleFunc("GET /api/sovereigns/{id}", h.Sovereigns.GetSovereign)
	mux.HandleFunc("GET /api/sovereigns/{id}/deposits", h.Sovereigns.ListDeposits)
	mux.HandleFunc("POST /api/sovereigns/{id}/pledge", h.Sovereigns.Pledge)
	mux.HandleFunc("POST /api/sovereigns/{id}/withdraw", h.Sovereigns.Withdraw)
	mux.HandleFunc("POST /api/sovereigns/{id}/fail", h.Sovereigns.MarkFailed)
	mux.HandleFunc("POST /api/sovereigns/{id}/refund", h.Sovereigns.Refund)
	mux.HandleFunc("POST /api/sovereigns/{id}/creator-refund", h.Sovereigns.CreatorRefund)
	mux.HandleFunc("POST /api/sovereigns/{id}/finalize/pool", h.Sovereigns.FinalizePool)
	mux.HandleFunc("POST /api/sovereigns/{id}/finalize/liquidity", h.Sovereigns.FinalizeLiquidity)

	// Fees.
	mux.HandleFunc("POST /api/sovereigns/{id}/fees/collect", h.Fees.Collect)
	mux.HandleFunc("POST /api/sovereigns/{id}/fees/claim", h.Fees.ClaimDepositor)
	mux.HandleFunc("POST /api/sovereigns/{id}/fees/creator", h.Fees.WithdrawCreator)
	mux.HandleFunc("PUT /api/sovereigns/{id}/fee-threshold", h.Fees.UpdateThreshold)
	mux.HandleFunc("POST /api/sovereigns/{id}/fee-threshold/renounce", h.Fees.RenounceThreshold)
	mux.HandleFunc("PUT /api/sovereigns/{id}/sell-fee", h.Fees.UpdateSellFee)
	mux.HandleFunc("POST /api/sovereigns/{id}/sell-fee/renounce", h.Fees.RenounceSellFee)

	// Governance and activity check.
	mux.HandleFunc("POST /api/sovereigns/{id}/proposals", h.Governance.Propose)
	mux.HandleFunc("GET /api/sovereigns/{id}/proposals/{pid}", h.Governance.GetProposal)
	mux.HandleFunc("POST /api/sovereigns/{id}/proposals/{pid}/votes", h.Governance.Vote)
	mux.HandleFunc("POST /api/sovereigns/{id}/proposals/{pid}/finalize", h.Governance.FinalizeVote)
	mux.HandleFunc("POST /api/sovereigns/{id}/proposals/{pid}/execute", h.Governance.ExecuteUnwind)
	mux.HandleFunc("POST /api/sovereigns/{id}/unwind/claim", h.Governance.ClaimUnwind)
	mux.HandleFunc("POST /api/sovereigns/{id}/activity-check", h.Governance.InitiateActivityCheck)
	mux.HandleFunc("DELETE /api/sovereigns/{id}/activity-check", h.Governance.CancelActivityCheck)
	mux.HandleFunc("POST /api/sovereigns/{id}/activity-check/execute", h.Governance.ExecuteActivityCheck)

	// Emergency.
	mux.HandleFunc("POST /api/sovereigns/{id}/emergency/unlock", h.Emergency.Unlock)
	mux.HandleFunc("POST /api/sovereigns/{id}/emergency/remove-liquidity", h.Emergency.RemoveLiquidity)
	mux.HandleFunc("POST /api/sovereigns/{id}/emergency/withdraw", h.Emergency.Withdraw)
	mux.HandleFunc("POST /api/sovereigns/{id}/emergency/creator-withdraw", h.Emergency.CreatorWithdraw)
	mux.HandleFunc("POST /api/sovereigns/{id}/emergency/redeem", h.Emergency.Redeem)
	mux.HandleFunc("POST /api/sovereigns/{id}/emergency/sweep", h.Emergency.Sweep)

	// Claim tokens.
	mux.HandleFunc("GET /api/claim-tokens", h.ClaimTokens.ListClaimTokens)
	mux.HandleFunc("GET /api/claim-tokens/{token}", h.ClaimTokens.GetClaimToken)
	mux.HandleFunc("POST /api/claim-tokens/{token}/transfer", h.ClaimTokens.Transfer)

	if h.Audit != nil {
		mux.HandleFunc("GET /api/audit", h.Audit.ListAudit)
	}
	if wsHub != nil {
		mux.HandleFunc("GET /ws", wsHub.HandleWS)
	}

	// Outermost first: CORS, Logging, RateLimit, Auth, Caller.
	var out http.Handler = mux
	out = middleware.Caller(cfg.VerifySignatures, cfg.SignatureMaxAge, nil)(out)
	out = middleware.Auth(cfg.APIKey, "/api/health")(out)
	out = middleware.RateLimit(limiter, cfg.RateLimit, cfg.RateWindow, logger)(out)
	out = middleware.Logging(logger)(out)
	out = middleware.CORS(cfg.CORSOrigins)(out)
	return out
}

// Start begins listening for HTTP requests. It blocks until the server
// encounters an error or is shut down.
func (s *Server) Start() error {
	s.logger.Info("server: starting",
		slog.String("addr", s.httpServer.Addr),
	)
	if err := s.httpServer.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
		return fmt.Errorf("server: listen: %w", err)
	}
	return nil
}

// Shutdown gracefully shuts down the server, waiting for in-flight requests
// to complete within the given context deadline.
func (s *Server) Shutdown(ctx context.Context) error {
	s.logger.Info("server: shutting down")
	if err := s.httpServer.Shutdown(ctx); err != nil {
		return fmt.Errorf("server: shutdown: %w", err)
	}
	return nil
}
