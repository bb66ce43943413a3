package handler

import (
	"context"
	"errors"
	"log/slog"
	"net/http"
	"time"

	"github.com/ethereum/go-ethereum/common"

	"github.com/alanyoungcy/sovereign-liquidity/internal/domain"
	"github.com/alanyoungcy/sovereign-liquidity/internal/service"
)

// SovereignService defines the methods that the sovereign handler requires:
// creation, reads, bonding and finalization.
type SovereignService interface {
	CreateSovereign(ctx context.Context, p service.CreateParams) (domain.Sovereign, error)
	GetSovereign(ctx context.Context, id uint64) (domain.Sovereign, error)
	ListSovereigns(ctx context.Context, opts domain.ListOpts) ([]domain.Sovereign, error)
	ListDeposits(ctx context.Context, id uint64, opts domain.ListOpts) ([]domain.DepositRecord, error)
	GetCreatorTracker(ctx context.Context, id uint64) (domain.CreatorFeeTracker, error)
	GetLock(ctx context.Context, id uint64) (domain.PermanentLock, error)

	Pledge(ctx context.Context, id uint64, depositor common.Address, amount uint64) (service.PledgeResult, error)
	Withdraw(ctx context.Context, id uint64, depositor common.Address, amount uint64) error
	MarkFailed(ctx context.Context, id uint64) error
	WithdrawFailed(ctx context.Context, id uint64, depositor common.Address) (uint64, error)
	WithdrawCreatorFailed(ctx context.Context, id uint64, caller common.Address) (uint64, error)

	FinalizeCreatePool(ctx context.Context, id uint64) (domain.PoolRef, error)
	FinalizeAddLiquidity(ctx context.Context, id uint64) (domain.PermanentLock, error)
}

// SovereignHandler serves sovereign creation, reads, the bonding ledger and
// finalization.
type SovereignHandler struct {
	sovereigns SovereignService
	logger     *slog.Logger
}

// NewSovereignHandler creates a SovereignHandler.
func NewSovereignHandler(sovereigns SovereignService, logger *slog.Logger) *SovereignHandler {
	return &SovereignHandler{sovereigns: sovereigns, logger: logHandler(logger, "sovereign")}
}

// ListSovereigns returns sovereigns newest first.
// GET /api/sovereigns
func (h *SovereignHandler) ListSovereigns(w http.ResponseWriter, r *http.Request) {
	opts, err := parseListOpts(r)
	if err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	list, err := h.sovereigns.ListSovereigns(r.Context(), opts)
	if err != nil {
		writeServiceError(w, r, h.logger, "list sovereigns", err)
		return
	}

	phase := domain.Phase(r.URL.Query().Get("phase"))
	views := make([]sovereignView, 0, len(list))
	for _, s := range list {
		if phase != "" && s.Phase != phase {
			continue
		}
		views = append(views, newSovereignView(s))
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"sovereigns": views,
		"count":      len(views),
	})
}

type createSovereignRequest struct {
	Type             string `json:"type" validate:"required,oneof=token_launch byo_token"`
	BondTarget       uint64 `json:"bond_target" validate:"required"`
	BondDurationDays uint64 `json:"bond_duration_days" validate:"required,gte=7,lte=30"`
	FeeMode          string `json:"fee_mode" validate:"omitempty,oneof=creator_revenue recovery_boost fair_launch"`

	TokenName   string `json:"token_name" validate:"required_if=Type token_launch,max=32"`
	TokenSymbol string `json:"token_symbol" validate:"required_if=Type token_launch,max=10"`
	TokenSupply uint64 `json:"token_supply" validate:"required_if=Type token_launch"`
	SellFeeBPS  uint64 `json:"sell_fee_bps" validate:"lte=300"`

	TokenMint        string `json:"token_mint" validate:"required_if=Type byo_token,omitempty,eth_addr"`
	TokenTotalSupply uint64 `json:"token_total_supply" validate:"required_if=Type byo_token"`
	DepositAmount    uint64 `json:"deposit_amount" validate:"required_if=Type byo_token"`
}

// CreateSovereign opens a new sovereign with the caller as creator.
// POST /api/sovereigns
func (h *SovereignHandler) CreateSovereign(w http.ResponseWriter, r *http.Request) {
	caller, ok := requireCaller(w, r)
	if !ok {
		return
	}
	var req createSovereignRequest
	if !decodeBody(w, r, &req) {
		return
	}

	p := service.CreateParams{
		Creator:          caller,
		Type:             domain.SovereignType(req.Type),
		BondTarget:       req.BondTarget,
		BondDuration:     time.Duration(req.BondDurationDays) * domain.Day,
		FeeMode:          domain.FeeMode(req.FeeMode),
		TokenName:        req.TokenName,
		TokenSymbol:      req.TokenSymbol,
		TokenSupply:      req.TokenSupply,
		SellFeeBPS:       req.SellFeeBPS,
		TokenTotalSupply: req.TokenTotalSupply,
		DepositAmount:    req.DepositAmount,
	}
	if req.TokenMint != "" {
		p.TokenMint = common.HexToAddress(req.TokenMint)
	}

	sov, err := h.sovereigns.CreateSovereign(r.Context(), p)
	if err != nil {
		writeServiceError(w, r, h.logger, "create sovereign", err)
		return
	}
	writeJSON(w, http.StatusCreated, newSovereignView(sov))
}

type sovereignDetailView struct {
	sovereignView
	Lock        *lockView    `json:"lock,omitempty"`
	CreatorFees *creatorView `json:"creator_fees,omitempty"`
}

// GetSovereign returns one sovereign with its lock and creator tracker once
// they exist.
// GET /api/sovereigns/{id}
func (h *SovereignHandler) GetSovereign(w http.ResponseWriter, r *http.Request) {
	id, ok := sovereignID(w, r)
	if !ok {
		return
	}
	sov, err := h.sovereigns.GetSovereign(r.Context(), id)
	if err != nil {
		writeServiceError(w, r, h.logger, "get sovereign", err)
		return
	}

	out := sovereignDetailView{sovereignView: newSovereignView(sov)}
	switch lock, err := h.sovereigns.GetLock(r.Context(), id); {
	case err == nil:
		v := newLockView(lock)
		out.Lock = &v
	case !errors.Is(err, domain.ErrNotFound):
		writeServiceError(w, r, h.logger, "get lock", err)
		return
	}
	switch tracker, err := h.sovereigns.GetCreatorTracker(r.Context(), id); {
	case err == nil:
		v := newCreatorView(tracker)
		out.CreatorFees = &v
	case !errors.Is(err, domain.ErrNotFound):
		writeServiceError(w, r, h.logger, "get creator tracker", err)
		return
	}
	writeJSON(w, http.StatusOK, out)
}

// ListDeposits returns a sovereign's deposit records in pledge order.
// GET /api/sovereigns/{id}/deposits
func (h *SovereignHandler) ListDeposits(w http.ResponseWriter, r *http.Request) {
	id, ok := sovereignID(w, r)
	if !ok {
		return
	}
	opts, err := parseListOpts(r)
	if err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	if _, err := h.sovereigns.GetSovereign(r.Context(), id); err != nil {
		writeServiceError(w, r, h.logger, "list deposits", err)
		return
	}
	recs, err := h.sovereigns.ListDeposits(r.Context(), id, opts)
	if err != nil {
		writeServiceError(w, r, h.logger, "list deposits", err)
		return
	}
	views := make([]depositView, 0, len(recs))
	for _, d := range recs {
		views = append(views, newDepositView(d))
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"sovereign_id": id,
		"deposits":     views,
		"count":        len(views),
	})
}

type amountRequest struct {
	Amount uint64 `json:"amount" validate:"required"`
}

// Pledge commits funding from the caller.
// POST /api/sovereigns/{id}/pledge
func (h *SovereignHandler) Pledge(w http.ResponseWriter, r *http.Request) {
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
	res, err := h.sovereigns.Pledge(r.Context(), id, caller, req.Amount)
	if err != nil {
		writeServiceError(w, r, h.logger, "pledge", err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"sovereign_id":    id,
		"accepted":        Amount(res.Accepted),
		"total_deposited": Amount(res.TotalDeposited),
		"phase":           res.Phase,
	})
}

// Withdraw returns part or all of the caller's pledge during bonding.
// POST /api/sovereigns/{id}/withdraw
func (h *SovereignHandler) Withdraw(w http.ResponseWriter, r *http.Request) {
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
	if err := h.sovereigns.Withdraw(r.Context(), id, caller, req.Amount); err != nil {
		writeServiceError(w, r, h.logger, "withdraw", err)
		return
	}
	writeJSON(w, http.StatusOK, paidView{SovereignID: id, Paid: Amount(req.Amount)})
}

// MarkFailed moves a sovereign whose bonding deadline passed short of its
// target to Failed. Anyone may call it.
// POST /api/sovereigns/{id}/fail
func (h *SovereignHandler) MarkFailed(w http.ResponseWriter, r *http.Request) {
	id, ok := sovereignID(w, r)
	if !ok {
		return
	}
	if err := h.sovereigns.MarkFailed(r.Context(), id); err != nil {
		writeServiceError(w, r, h.logger, "mark failed", err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"sovereign_id": id, "phase": domain.PhaseFailed})
}

// Refund returns the caller's whole pledge from a failed sovereign.
// POST /api/sovereigns/{id}/refund
func (h *SovereignHandler) Refund(w http.ResponseWriter, r *http.Request) {
	id, ok := sovereignID(w, r)
	if !ok {
		return
	}
	caller, ok := requireCaller(w, r)
	if !ok {
		return
	}
	paid, err := h.sovereigns.WithdrawFailed(r.Context(), id, caller)
	if err != nil {
		writeServiceError(w, r, h.logger, "refund", err)
		return
	}
	writeJSON(w, http.StatusOK, paidView{SovereignID: id, Paid: Amount(paid)})
}

// CreatorRefund returns the creator's escrow and creation fee from a failed
// sovereign.
// POST /api/sovereigns/{id}/creator-refund
func (h *SovereignHandler) CreatorRefund(w http.ResponseWriter, r *http.Request) {
	id, ok := sovereignID(w, r)
	if !ok {
		return
	}
	caller, ok := requireCaller(w, r)
	if !ok {
		return
	}
	paid, err := h.sovereigns.WithdrawCreatorFailed(r.Context(), id, caller)
	if err != nil {
		writeServiceError(w, r, h.logger, "creator refund", err)
		return
	}
	writeJSON(w, http.StatusOK, paidView{SovereignID: id, Paid: Amount(paid)})
}

// FinalizePool creates the restricted pool for a fully bonded sovereign.
// POST /api/sovereigns/{id}/finalize/pool
func (h *SovereignHandler) FinalizePool(w http.ResponseWriter, r *http.Request) {
	id, ok := sovereignID(w, r)
	if !ok {
		return
	}
	ref, err := h.sovereigns.FinalizeCreatePool(r.Context(), id)
	if err != nil {
		writeServiceError(w, r, h.logger, "finalize create pool", err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"sovereign_id": id,
		"pool_ref":     ref.Pool,
		"phase":        domain.PhasePoolCreated,
	})
}

// FinalizeLiquidity seeds the pool, locks the position, mints claim tokens
// and runs the creator's market buy.
// POST /api/sovereigns/{id}/finalize/liquidity
func (h *SovereignHandler) FinalizeLiquidity(w http.ResponseWriter, r *http.Request) {
	id, ok := sovereignID(w, r)
	if !ok {
		return
	}
	lock, err := h.sovereigns.FinalizeAddLiquidity(r.Context(), id)
	if err != nil {
		writeServiceError(w, r, h.logger, "finalize add liquidity", err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"sovereign_id": id,
		"lock":         newLockView(lock),
		"phase":        domain.PhaseRecovery,
	})
}
