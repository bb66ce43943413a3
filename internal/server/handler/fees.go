package handler

import (
	"context"
	"log/slog"
	"net/http"

	"github.com/ethereum/go-ethereum/common"

	"github.com/alanyoungcy/sovereign-liquidity/internal/service"
)

// FeeService defines the methods that the fee handler requires.
type FeeService interface {
	ClaimFees(ctx context.Context, id uint64) (service.FeeDistribution, error)
	ClaimDepositorFees(ctx context.Context, id uint64, tokenID string, caller common.Address) (uint64, error)
	WithdrawCreatorFees(ctx context.Context, id uint64, caller common.Address) (uint64, error)
	UpdateFeeThreshold(ctx context.Context, id uint64, caller common.Address, bps uint64) error
	RenounceFeeThreshold(ctx context.Context, id uint64, caller common.Address) error
	UpdateSellFee(ctx context.Context, id uint64, caller common.Address, bps uint64) error
	RenounceSellFee(ctx context.Context, id uint64, caller common.Address) error
}

// FeeHandler serves fee collection, claims and the creator's fee settings.
type FeeHandler struct {
	fees   FeeService
	logger *slog.Logger
}

// NewFeeHandler creates a FeeHandler.
func NewFeeHandler(fees FeeService, logger *slog.Logger) *FeeHandler {
	return &FeeHandler{fees: fees, logger: logHandler(logger, "fees")}
}

// Collect harvests the position's accrued fees and routes them. Anyone may
// call it.
// POST /api/sovereigns/{id}/fees/collect
func (h *FeeHandler) Collect(w http.ResponseWriter, r *http.Request) {
	id, ok := sovereignID(w, r)
	if !ok {
		return
	}
	d, err := h.fees.ClaimFees(r.Context(), id)
	if err != nil {
		writeServiceError(w, r, h.logger, "collect fees", err)
		return
	}
	writeJSON(w, http.StatusOK, newFeeDistributionView(d))
}

type tokenRequest struct {
	TokenID string `json:"token_id" validate:"required"`
}

// ClaimDepositor pays the caller's claim token its accrued fee share.
// POST /api/sovereigns/{id}/fees/claim
func (h *FeeHandler) ClaimDepositor(w http.ResponseWriter, r *http.Request) {
	id, ok := sovereignID(w, r)
	if !ok {
		return
	}
	caller, ok := requireCaller(w, r)
	if !ok {
		return
	}
	var req tokenRequest
	if !decodeBody(w, r, &req) {
		return
	}
	paid, err := h.fees.ClaimDepositorFees(r.Context(), id, req.TokenID, caller)
	if err != nil {
		writeServiceError(w, r, h.logger, "claim depositor fees", err)
		return
	}
	writeJSON(w, http.StatusOK, paidView{SovereignID: id, Paid: Amount(paid)})
}

// WithdrawCreator pays out the creator's pending fee share.
// POST /api/sovereigns/{id}/fees/creator
func (h *FeeHandler) WithdrawCreator(w http.ResponseWriter, r *http.Request) {
	id, ok := sovereignID(w, r)
	if !ok {
		return
	}
	caller, ok := requireCaller(w, r)
	if !ok {
		return
	}
	paid, err := h.fees.WithdrawCreatorFees(r.Context(), id, caller)
	if err != nil {
		writeServiceError(w, r, h.logger, "withdraw creator fees", err)
		return
	}
	writeJSON(w, http.StatusOK, paidView{SovereignID: id, Paid: Amount(paid)})
}

type thresholdRequest struct {
	BPS *uint64 `json:"bps" validate:"required,lte=10000"`
}

// UpdateThreshold lowers the creator's share of post-recovery fees.
// PUT /api/sovereigns/{id}/fee-threshold
func (h *FeeHandler) UpdateThreshold(w http.ResponseWriter, r *http.Request) {
	id, ok := sovereignID(w, r)
	if !ok {
		return
	}
	caller, ok := requireCaller(w, r)
	if !ok {
		return
	}
	var req thresholdRequest
	if !decodeBody(w, r, &req) {
		return
	}
	if err := h.fees.UpdateFeeThreshold(r.Context(), id, caller, *req.BPS); err != nil {
		writeServiceError(w, r, h.logger, "update fee threshold", err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"sovereign_id": id, "fee_threshold_bps": *req.BPS})
}

// RenounceThreshold permanently gives up the creator's fee share.
// POST /api/sovereigns/{id}/fee-threshold/renounce
func (h *FeeHandler) RenounceThreshold(w http.ResponseWriter, r *http.Request) {
	id, ok := sovereignID(w, r)
	if !ok {
		return
	}
	caller, ok := requireCaller(w, r)
	if !ok {
		return
	}
	if err := h.fees.RenounceFeeThreshold(r.Context(), id, caller); err != nil {
		writeServiceError(w, r, h.logger, "renounce fee threshold", err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"sovereign_id": id, "fee_control_renounced": true})
}

type sellFeeRequest struct {
	BPS *uint64 `json:"bps" validate:"required,lte=300"`
}

// UpdateSellFee sets the traded asset's sell fee.
// PUT /api/sovereigns/{id}/sell-fee
func (h *FeeHandler) UpdateSellFee(w http.ResponseWriter, r *http.Request) {
	id, ok := sovereignID(w, r)
	if !ok {
		return
	}
	caller, ok := requireCaller(w, r)
	if !ok {
		return
	}
	var req sellFeeRequest
	if !decodeBody(w, r, &req) {
		return
	}
	if err := h.fees.UpdateSellFee(r.Context(), id, caller, *req.BPS); err != nil {
		writeServiceError(w, r, h.logger, "update sell fee", err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"sovereign_id": id, "sell_fee_bps": *req.BPS})
}

// RenounceSellFee zeroes the sell fee for good.
// POST /api/sovereigns/{id}/sell-fee/renounce
func (h *FeeHandler) RenounceSellFee(w http.ResponseWriter, r *http.Request) {
	id, ok := sovereignID(w, r)
	if !ok {
		return
	}
	caller, ok := requireCaller(w, r)
	if !ok {
		return
	}
	if err := h.fees.RenounceSellFee(r.Context(), id, caller); err != nil {
		writeServiceError(w, r, h.logger, "renounce sell fee", err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"sovereign_id": id, "sell_fee_renounced": true})
}
