package handler

import (
	"context"
	"log/slog"
	"net/http"
	"time"

	"github.com/ethereum/go-ethereum/common"

	"github.com/alanyoungcy/sovereign-liquidity/internal/domain"
	"github.com/alanyoungcy/sovereign-liquidity/internal/service"
)

// ProtocolService defines the methods that the protocol handler requires.
type ProtocolService interface {
	InitializeProtocol(ctx context.Context, caller common.Address, params service.ProtocolParams) (domain.ProtocolState, error)
	GetProtocol(ctx context.Context) (domain.ProtocolState, error)
	SetPaused(ctx context.Context, caller common.Address, paused bool) error
	UpdateProtocolFees(ctx context.Context, caller common.Address, u service.FeeUpdate) (domain.ProtocolState, error)
	TransferAuthority(ctx context.Context, caller, next common.Address) error
}

// ProtocolHandler serves the protocol singleton and its authority-only
// setters.
type ProtocolHandler struct {
	protocol ProtocolService
	logger   *slog.Logger
}

// NewProtocolHandler creates a ProtocolHandler.
func NewProtocolHandler(protocol ProtocolService, logger *slog.Logger) *ProtocolHandler {
	return &ProtocolHandler{protocol: protocol, logger: logHandler(logger, "protocol")}
}

// GetProtocol returns the protocol state.
// GET /api/protocol
func (h *ProtocolHandler) GetProtocol(w http.ResponseWriter, r *http.Request) {
	p, err := h.protocol.GetProtocol(r.Context())
	if err != nil {
		writeServiceError(w, r, h.logger, "get protocol", err)
		return
	}
	writeJSON(w, http.StatusOK, newProtocolView(p))
}

type initProtocolRequest struct {
	Authority             string  `json:"authority" validate:"omitempty,eth_addr"`
	Treasury              string  `json:"treasury" validate:"omitempty,eth_addr"`
	CreationFeeBPS        *uint64 `json:"creation_fee_bps" validate:"omitempty,lte=1000"`
	MinFee                *uint64 `json:"min_fee"`
	GovernanceUnwindFee   *uint64 `json:"governance_unwind_fee"`
	UnwindFeeBPS          *uint64 `json:"unwind_fee_bps" validate:"omitempty,lte=2000"`
	ProtocolFeeBPS        *uint64 `json:"protocol_fee_bps" validate:"omitempty,lte=500"`
	BYOMinSupplyBPS       *uint64 `json:"byo_min_supply_bps" validate:"omitempty,lte=10000"`
	MinBondTarget         *uint64 `json:"min_bond_target" validate:"omitempty,gt=0"`
	MinDeposit            *uint64 `json:"min_deposit" validate:"omitempty,gt=0"`
	AutoUnwindPeriodSecs  *int64  `json:"auto_unwind_period_secs" validate:"omitempty,gt=0"`
	MinFeeGrowthThreshold *uint64 `json:"volume_threshold_bps" validate:"omitempty,lte=10000"`
}

// InitializeProtocol creates the protocol singleton from the defaults plus
// any overrides in the body.
// POST /api/protocol/init
func (h *ProtocolHandler) InitializeProtocol(w http.ResponseWriter, r *http.Request) {
	caller, ok := requireCaller(w, r)
	if !ok {
		return
	}
	var req initProtocolRequest
	if !decodeBody(w, r, &req) {
		return
	}

	params := service.DefaultProtocolParams()
	if req.Authority != "" {
		params.Authority = common.HexToAddress(req.Authority)
	}
	if req.Treasury != "" {
		params.Treasury = common.HexToAddress(req.Treasury)
	}
	overrideUint(&params.CreationFeeBPS, req.CreationFeeBPS)
	overrideUint(&params.MinFee, req.MinFee)
	overrideUint(&params.GovernanceUnwindFee, req.GovernanceUnwindFee)
	overrideUint(&params.UnwindFeeBPS, req.UnwindFeeBPS)
	overrideUint(&params.ProtocolFeeBPS, req.ProtocolFeeBPS)
	overrideUint(&params.BYOMinSupplyBPS, req.BYOMinSupplyBPS)
	overrideUint(&params.MinBondTarget, req.MinBondTarget)
	overrideUint(&params.MinDeposit, req.MinDeposit)
	overrideUint(&params.MinFeeGrowthThreshold, req.MinFeeGrowthThreshold)
	if req.AutoUnwindPeriodSecs != nil {
		params.AutoUnwindPeriod = time.Duration(*req.AutoUnwindPeriodSecs) * time.Second
	}

	p, err := h.protocol.InitializeProtocol(r.Context(), caller, params)
	if err != nil {
		writeServiceError(w, r, h.logger, "initialize protocol", err)
		return
	}
	writeJSON(w, http.StatusCreated, newProtocolView(p))
}

func overrideUint(dst *uint64, v *uint64) {
	if v != nil {
		*dst = *v
	}
}

type pauseRequest struct {
	Paused *bool `json:"paused" validate:"required"`
}

// SetPaused pauses or resumes every non-emergency operation.
// POST /api/protocol/pause
func (h *ProtocolHandler) SetPaused(w http.ResponseWriter, r *http.Request) {
	caller, ok := requireCaller(w, r)
	if !ok {
		return
	}
	var req pauseRequest
	if !decodeBody(w, r, &req) {
		return
	}
	if err := h.protocol.SetPaused(r.Context(), caller, *req.Paused); err != nil {
		writeServiceError(w, r, h.logger, "set paused", err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]bool{"paused": *req.Paused})
}

type feeUpdateRequest struct {
	CreationFeeBPS        *uint64 `json:"creation_fee_bps" validate:"omitempty,lte=1000"`
	MinFee                *uint64 `json:"min_fee"`
	GovernanceUnwindFee   *uint64 `json:"governance_unwind_fee"`
	UnwindFeeBPS          *uint64 `json:"unwind_fee_bps" validate:"omitempty,lte=2000"`
	ProtocolFeeBPS        *uint64 `json:"protocol_fee_bps" validate:"omitempty,lte=500"`
	BYOMinSupplyBPS       *uint64 `json:"byo_min_supply_bps" validate:"omitempty,lte=10000"`
	MinBondTarget         *uint64 `json:"min_bond_target"`
	MinDeposit            *uint64 `json:"min_deposit"`
	MinFeeGrowthThreshold *uint64 `json:"volume_threshold_bps" validate:"omitempty,lte=10000"`
}

// UpdateFees applies a partial fee update; omitted fields are unchanged.
// PUT /api/protocol/fees
func (h *ProtocolHandler) UpdateFees(w http.ResponseWriter, r *http.Request) {
	caller, ok := requireCaller(w, r)
	if !ok {
		return
	}
	var req feeUpdateRequest
	if !decodeBody(w, r, &req) {
		return
	}
	p, err := h.protocol.UpdateProtocolFees(r.Context(), caller, service.FeeUpdate{
		CreationFeeBPS:        req.CreationFeeBPS,
		MinFee:                req.MinFee,
		GovernanceUnwindFee:   req.GovernanceUnwindFee,
		UnwindFeeBPS:          req.UnwindFeeBPS,
		ProtocolFeeBPS:        req.ProtocolFeeBPS,
		BYOMinSupplyBPS:       req.BYOMinSupplyBPS,
		MinBondTarget:         req.MinBondTarget,
		MinDeposit:            req.MinDeposit,
		MinFeeGrowthThreshold: req.MinFeeGrowthThreshold,
	})
	if err != nil {
		writeServiceError(w, r, h.logger, "update protocol fees", err)
		return
	}
	writeJSON(w, http.StatusOK, newProtocolView(p))
}

type authorityRequest struct {
	NewAuthority string `json:"new_authority" validate:"required,eth_addr"`
}

// TransferAuthority hands protocol control to another address.
// POST /api/protocol/authority
func (h *ProtocolHandler) TransferAuthority(w http.ResponseWriter, r *http.Request) {
	caller, ok := requireCaller(w, r)
	if !ok {
		return
	}
	var req authorityRequest
	if !decodeBody(w, r, &req) {
		return
	}
	next := common.HexToAddress(req.NewAuthority)
	if err := h.protocol.TransferAuthority(r.Context(), caller, next); err != nil {
		writeServiceError(w, r, h.logger, "transfer authority", err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"authority": next.Hex()})
}
