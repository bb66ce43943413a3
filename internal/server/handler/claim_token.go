package handler

import (
	"context"
	"log/slog"
	"net/http"

	"github.com/ethereum/go-ethereum/common"

	"github.com/alanyoungcy/sovereign-liquidity/internal/domain"
)

// ClaimTokenService defines the methods that the claim-token handler requires.
type ClaimTokenService interface {
	GetClaimToken(ctx context.Context, id string) (domain.ClaimToken, error)
	ListClaimTokens(ctx context.Context, holder common.Address) ([]domain.ClaimToken, error)
	TransferClaimToken(ctx context.Context, tokenID string, caller, to common.Address) (domain.ClaimToken, error)
}

// ClaimTokenHandler serves bearer claim tokens.
type ClaimTokenHandler struct {
	tokens ClaimTokenService
	logger *slog.Logger
}

// NewClaimTokenHandler creates a ClaimTokenHandler.
func NewClaimTokenHandler(tokens ClaimTokenService, logger *slog.Logger) *ClaimTokenHandler {
	return &ClaimTokenHandler{tokens: tokens, logger: logHandler(logger, "claim_token")}
}

// ListClaimTokens returns the tokens held by ?holder=.
// GET /api/claim-tokens
func (h *ClaimTokenHandler) ListClaimTokens(w http.ResponseWriter, r *http.Request) {
	raw := r.URL.Query().Get("holder")
	if !common.IsHexAddress(raw) {
		writeError(w, http.StatusBadRequest, "holder must be a hex address")
		return
	}
	toks, err := h.tokens.ListClaimTokens(r.Context(), common.HexToAddress(raw))
	if err != nil {
		writeServiceError(w, r, h.logger, "list claim tokens", err)
		return
	}
	views := make([]claimTokenView, 0, len(toks))
	for _, t := range toks {
		views = append(views, newClaimTokenView(t))
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"claim_tokens": views,
		"count":        len(views),
	})
}

// GetClaimToken returns one claim token.
// GET /api/claim-tokens/{token}
func (h *ClaimTokenHandler) GetClaimToken(w http.ResponseWriter, r *http.Request) {
	tok, err := h.tokens.GetClaimToken(r.Context(), r.PathValue("token"))
	if err != nil {
		writeServiceError(w, r, h.logger, "get claim token", err)
		return
	}
	writeJSON(w, http.StatusOK, newClaimTokenView(tok))
}

type transferRequest struct {
	To string `json:"to" validate:"required,eth_addr"`
}

// Transfer moves a claim token from the caller to another holder.
// POST /api/claim-tokens/{token}/transfer
func (h *ClaimTokenHandler) Transfer(w http.ResponseWriter, r *http.Request) {
	caller, ok := requireCaller(w, r)
	if !ok {
		return
	}
	var req transferRequest
	if !decodeBody(w, r, &req) {
		return
	}
	tok, err := h.tokens.TransferClaimToken(r.Context(), r.PathValue("token"), caller, common.HexToAddress(req.To))
	if err != nil {
		writeServiceError(w, r, h.logger, "transfer claim token", err)
		return
	}
	writeJSON(w, http.StatusOK, newClaimTokenView(tok))
}
