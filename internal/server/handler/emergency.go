package handler

import (
	"context"
	"log/slog"
	"net/http"

	"github.com/ethereum/go-ethereum/common"

	"github.com/alanyoungcy/sovereign-liquidity/internal/domain"
	"github.com/alanyoungcy/sovereign-liquidity/internal/service"
)

// EmergencyService defines the methods that the emergency handler requires.
type EmergencyService interface {
	EmergencyUnlock(ctx context.Context, id uint64, caller common.Address) error
	EmergencyRemoveLiquidity(ctx context.Context, id uint64, caller common.Address) (service.Settlement, error)
	EmergencyWithdraw(ctx context.Context, id uint64, caller common.Address, tokenID string) (uint64, error)
	EmergencyWithdrawCreator(ctx context.Context, id uint64, caller common.Address, burnTokens bool) (uint64, error)
	EmergencyTokenRedemption(ctx context.Context, id uint64, holder common.Address, burned uint64) (uint64, error)
	SweepRedemptionPool(ctx context.Context, id uint64, caller common.Address) (uint64, error)
}

// EmergencyHandler serves the emergency safety valve and the post-unwind
// redemption pool.
type EmergencyHandler struct {
	emergency EmergencyService
	logger    *slog.Logger
}

// NewEmergencyHandler creates an EmergencyHandler.
func NewEmergencyHandler(emergency EmergencyService, logger *slog.Logger) *EmergencyHandler {
	return &EmergencyHandler{emergency: emergency, logger: logHandler(logger, "emergency")}
}

// Unlock puts a sovereign into EmergencyUnlocked. Authority only.
// POST /api/sovereigns/{id}/emergency/unlock
func (h *EmergencyHandler) Unlock(w http.ResponseWriter, r *http.Request) {
	id, ok := sovereignID(w, r)
	if !ok {
		return
	}
	caller, ok := requireCaller(w, r)
	if !ok {
		return
	}
	if err := h.emergency.EmergencyUnlock(r.Context(), id, caller); err != nil {
		writeServiceError(w, r, h.logger, "emergency unlock", err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"sovereign_id": id, "phase": domain.PhaseEmergencyUnlocked})
}

// RemoveLiquidity drains the position of an emergency-unlocked sovereign.
// Authority only.
// POST /api/sovereigns/{id}/emergency/remove-liquidity
func (h *EmergencyHandler) RemoveLiquidity(w http.ResponseWriter, r *http.Request) {
	id, ok := sovereignID(w, r)
	if !ok {
		return
	}
	caller, ok := requireCaller(w, r)
	if !ok {
		return
	}
	st, err := h.emergency.EmergencyRemoveLiquidity(r.Context(), id, caller)
	if err != nil {
		writeServiceError(w, r, h.logger, "emergency remove liquidity", err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"sovereign_id": id,
		"settlement":   newSettlementView(st),
	})
}

type emergencyWithdrawRequest struct {
	TokenID string `json:"token_id"`
}

// Withdraw returns a depositor's funds from an emergency-unlocked sovereign.
// Before launch the caller's pledge is refunded and no token is needed.
// POST /api/sovereigns/{id}/emergency/withdraw
func (h *EmergencyHandler) Withdraw(w http.ResponseWriter, r *http.Request) {
	id, ok := sovereignID(w, r)
	if !ok {
		return
	}
	caller, ok := requireCaller(w, r)
	if !ok {
		return
	}
	var req emergencyWithdrawRequest
	if !decodeBody(w, r, &req) {
		return
	}
	paid, err := h.emergency.EmergencyWithdraw(r.Context(), id, caller, req.TokenID)
	if err != nil {
		writeServiceError(w, r, h.logger, "emergency withdraw", err)
		return
	}
	writeJSON(w, http.StatusOK, paidView{SovereignID: id, Paid: Amount(paid)})
}

type creatorWithdrawRequest struct {
	BurnTokens bool `json:"burn_tokens"`
}

// CreatorWithdraw returns the creator's escrow and deposited tokens.
// POST /api/sovereigns/{id}/emergency/creator-withdraw
func (h *EmergencyHandler) CreatorWithdraw(w http.ResponseWriter, r *http.Request) {
	id, ok := sovereignID(w, r)
	if !ok {
		return
	}
	caller, ok := requireCaller(w, r)
	if !ok {
		return
	}
	var req creatorWithdrawRequest
	if !decodeBody(w, r, &req) {
		return
	}
	paid, err := h.emergency.EmergencyWithdrawCreator(r.Context(), id, caller, req.BurnTokens)
	if err != nil {
		writeServiceError(w, r, h.logger, "emergency creator withdraw", err)
		return
	}
	writeJSON(w, http.StatusOK, paidView{SovereignID: id, Paid: Amount(paid)})
}

// Redeem burns the caller's traded tokens against the redemption pool.
// POST /api/sovereigns/{id}/emergency/redeem
func (h *EmergencyHandler) Redeem(w http.ResponseWriter, r *http.Request) {
	id, ok := sovereignID(w, r)
	if !ok {
		return
	}
	caller, ok := requireCaller(w, r)
	if !ok {
		return
	}
	var req amountRequest
	if !decodeBody(w, r, &req) {
		return
	}
	paid, err := h.emergency.EmergencyTokenRedemption(r.Context(), id, caller, req.Amount)
	if err != nil {
		writeServiceError(w, r, h.logger, "token redemption", err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"sovereign_id": id,
		"burned":       Amount(req.Amount),
		"paid":         Amount(paid),
	})
}

// Sweep sends an expired redemption pool to the treasury. Authority only.
// POST /api/sovereigns/{id}/emergency/sweep
func (h *EmergencyHandler) Sweep(w http.ResponseWriter, r *http.Request) {
	id, ok := sovereignID(w, r)
	if !ok {
		return
	}
	caller, ok := requireCaller(w, r)
	if !ok {
		return
	}
	swept, err := h.emergency.SweepRedemptionPool(r.Context(), id, caller)
	if err != nil {
		writeServiceError(w, r, h.logger, "sweep redemption pool", err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"sovereign_id": id, "swept": Amount(swept)})
}
