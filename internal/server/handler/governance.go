package handler

import (
	"context"
	"log/slog"
	"net/http"

	"github.com/ethereum/go-ethereum/common"

	"github.com/alanyoungcy/sovereign-liquidity/internal/domain"
	"github.com/alanyoungcy/sovereign-liquidity/internal/service"
)

// GovernanceService defines the methods that the governance handler requires.
type GovernanceService interface {
	ProposeUnwind(ctx context.Context, id uint64, tokenID string, caller common.Address) (domain.Proposal, error)
	GetProposal(ctx context.Context, id, pid uint64) (domain.Proposal, error)
	Vote(ctx context.Context, id, pid uint64, tokenID string, caller common.Address, support bool) (domain.Proposal, error)
	FinalizeVote(ctx context.Context, id, pid uint64) (domain.Proposal, error)
	ExecuteUnwind(ctx context.Context, id, pid uint64) (service.UnwindOutcome, error)
	ClaimUnwind(ctx context.Context, id uint64, tokenID string, caller common.Address) (uint64, error)

	InitiateActivityCheck(ctx context.Context, id uint64, tokenID string, caller common.Address) error
	CancelActivityCheck(ctx context.Context, id uint64, caller common.Address) error
	ExecuteActivityCheck(ctx context.Context, id uint64) (service.Settlement, error)
}

// GovernanceHandler serves unwind proposals, votes, unwind claims and the
// activity check.
type GovernanceHandler struct {
	gov    GovernanceService
	logger *slog.Logger
}

// NewGovernanceHandler creates a GovernanceHandler.
func NewGovernanceHandler(gov GovernanceService, logger *slog.Logger) *GovernanceHandler {
	return &GovernanceHandler{gov: gov, logger: logHandler(logger, "governance")}
}

// Propose opens an unwind vote backed by the caller's claim token.
// POST /api/sovereigns/{id}/proposals
func (h *GovernanceHandler) Propose(w http.ResponseWriter, r *http.Request) {
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
	p, err := h.gov.ProposeUnwind(r.Context(), id, req.TokenID, caller)
	if err != nil {
		writeServiceError(w, r, h.logger, "propose unwind", err)
		return
	}
	writeJSON(w, http.StatusCreated, newProposalView(p))
}

// GetProposal returns one proposal.
// GET /api/sovereigns/{id}/proposals/{pid}
func (h *GovernanceHandler) GetProposal(w http.ResponseWriter, r *http.Request) {
	id, ok := sovereignID(w, r)
	if !ok {
		return
	}
	pid, ok := pathUint(w, r, "pid")
	if !ok {
		return
	}
	p, err := h.gov.GetProposal(r.Context(), id, pid)
	if err != nil {
		writeServiceError(w, r, h.logger, "get proposal", err)
		return
	}
	writeJSON(w, http.StatusOK, newProposalView(p))
}

type voteRequest struct {
	TokenID string `json:"token_id" validate:"required"`
	Support *bool  `json:"support" validate:"required"`
}

// Vote casts the claim token's share for or against the proposal.
// POST /api/sovereigns/{id}/proposals/{pid}/votes
func (h *GovernanceHandler) Vote(w http.ResponseWriter, r *http.Request) {
	id, ok := sovereignID(w, r)
	if !ok {
		return
	}
	pid, ok := pathUint(w, r, "pid")
	if !ok {
		return
	}
	caller, ok := requireCaller(w, r)
	if !ok {
		return
	}
	var req voteRequest
	if !decodeBody(w, r, &req) {
		return
	}
	p, err := h.gov.Vote(r.Context(), id, pid, req.TokenID, caller, *req.Support)
	if err != nil {
		writeServiceError(w, r, h.logger, "vote", err)
		return
	}
	writeJSON(w, http.StatusOK, newProposalView(p))
}

// FinalizeVote tallies a proposal whose voting period has ended.
// POST /api/sovereigns/{id}/proposals/{pid}/finalize
func (h *GovernanceHandler) FinalizeVote(w http.ResponseWriter, r *http.Request) {
	id, ok := sovereignID(w, r)
	if !ok {
		return
	}
	pid, ok := pathUint(w, r, "pid")
	if !ok {
		return
	}
	p, err := h.gov.FinalizeVote(r.Context(), id, pid)
	if err != nil {
		writeServiceError(w, r, h.logger, "finalize vote", err)
		return
	}
	writeJSON(w, http.StatusOK, newProposalView(p))
}

// ExecuteUnwind ends the observation window, either cancelling the unwind or
// draining and settling the position.
// POST /api/sovereigns/{id}/proposals/{pid}/execute
func (h *GovernanceHandler) ExecuteUnwind(w http.ResponseWriter, r *http.Request) {
	id, ok := sovereignID(w, r)
	if !ok {
		return
	}
	pid, ok := pathUint(w, r, "pid")
	if !ok {
		return
	}
	out, err := h.gov.ExecuteUnwind(r.Context(), id, pid)
	if err != nil {
		writeServiceError(w, r, h.logger, "execute unwind", err)
		return
	}
	resp := map[string]any{
		"sovereign_id": id,
		"proposal_id":  pid,
		"cancelled":    out.Cancelled,
		"actual_fees":  Amount(out.ActualFees),
	}
	if !out.Cancelled {
		resp["settlement"] = newSettlementView(out.Settlement)
	}
	writeJSON(w, http.StatusOK, resp)
}

// ClaimUnwind pays the claim token's share of the unwind balance and burns it.
// POST /api/sovereigns/{id}/unwind/claim
func (h *GovernanceHandler) ClaimUnwind(w http.ResponseWriter, r *http.Request) {
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
	paid, err := h.gov.ClaimUnwind(r.Context(), id, req.TokenID, caller)
	if err != nil {
		writeServiceError(w, r, h.logger, "claim unwind", err)
		return
	}
	writeJSON(w, http.StatusOK, paidView{SovereignID: id, Paid: Amount(paid)})
}

// InitiateActivityCheck starts the creator-inactivity timer.
// POST /api/sovereigns/{id}/activity-check
func (h *GovernanceHandler) InitiateActivityCheck(w http.ResponseWriter, r *http.Request) {
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
	if err := h.gov.InitiateActivityCheck(r.Context(), id, req.TokenID, caller); err != nil {
		writeServiceError(w, r, h.logger, "initiate activity check", err)
		return
	}
	writeJSON(w, http.StatusAccepted, map[string]any{"sovereign_id": id, "activity_check_pending": true})
}

// CancelActivityCheck lets the creator prove activity and stop the timer.
// DELETE /api/sovereigns/{id}/activity-check
func (h *GovernanceHandler) CancelActivityCheck(w http.ResponseWriter, r *http.Request) {
	id, ok := sovereignID(w, r)
	if !ok {
		return
	}
	caller, ok := requireCaller(w, r)
	if !ok {
		return
	}
	if err := h.gov.CancelActivityCheck(r.Context(), id, caller); err != nil {
		writeServiceError(w, r, h.logger, "cancel activity check", err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"sovereign_id": id, "activity_check_pending": false})
}

// ExecuteActivityCheck unwinds a sovereign whose activity check elapsed.
// POST /api/sovereigns/{id}/activity-check/execute
func (h *GovernanceHandler) ExecuteActivityCheck(w http.ResponseWriter, r *http.Request) {
	id, ok := sovereignID(w, r)
	if !ok {
		return
	}
	st, err := h.gov.ExecuteActivityCheck(r.Context(), id)
	if err != nil {
		writeServiceError(w, r, h.logger, "execute activity check", err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"sovereign_id": id,
		"settlement":   newSettlementView(st),
	})
}
