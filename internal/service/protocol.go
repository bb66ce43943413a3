package service

import (
	"context"
	"fmt"
	"time"

	"github.com/ethereum/go-ethereum/common"

	"github.com/alanyoungcy/sovereign-liquidity/internal/domain"
	"github.com/alanyoungcy/sovereign-liquidity/internal/ledger"
)

// ProtocolParams are the genesis parameters of the protocol singleton.
type ProtocolParams struct {
	Authority             common.Address
	Treasury              common.Address
	CreationFeeBPS        uint64
	MinFee                uint64
	GovernanceUnwindFee   uint64
	UnwindFeeBPS          uint64
	ProtocolFeeBPS        uint64
	BYOMinSupplyBPS       uint64
	MinBondTarget         uint64
	MinDeposit            uint64
	AutoUnwindPeriod      time.Duration
	MinFeeGrowthThreshold uint64
}

// DefaultProtocolParams returns the mainnet genesis values. Authority and
// Treasury are left for the caller.
func DefaultProtocolParams() ProtocolParams {
	return ProtocolParams{
		CreationFeeBPS:        50,
		MinFee:                50_000_000,
		GovernanceUnwindFee:   50_000_000,
		UnwindFeeBPS:          2000,
		ProtocolFeeBPS:        100,
		BYOMinSupplyBPS:       3000,
		MinBondTarget:         50_000_000_000,
		MinDeposit:            100_000_000,
		AutoUnwindPeriod:      domain.ObservationPeriod,
		MinFeeGrowthThreshold: domain.DefaultVolumeThreshold,
	}
}

func validateFees(creation, unwind, protocol, byoMin uint64) error {
	switch {
	case creation > domain.MaxCreationFeeBPS:
		return fmt.Errorf("creation fee %d bps: %w", creation, domain.ErrFeeTooHigh)
	case unwind > domain.MaxUnwindFeeBPS:
		return fmt.Errorf("unwind fee %d bps: %w", unwind, domain.ErrFeeTooHigh)
	case protocol > domain.MaxProtocolFeeBPS:
		return fmt.Errorf("protocol fee %d bps: %w", protocol, domain.ErrFeeTooHigh)
	case byoMin > ledger.BPSDenominator:
		return fmt.Errorf("byo min supply %d bps: %w", byoMin, domain.ErrFeeTooHigh)
	}
	return nil
}

// InitializeProtocol creates the protocol singleton. A zero Authority makes
// the caller the authority; a zero Treasury defaults to the authority.
func (s *SovereignService) InitializeProtocol(ctx context.Context, caller common.Address, params ProtocolParams) (domain.ProtocolState, error) {
	if params.Authority == (common.Address{}) {
		params.Authority = caller
	}
	if params.Treasury == (common.Address{}) {
		params.Treasury = params.Authority
	}
	if params.Authority == (common.Address{}) {
		return domain.ProtocolState{}, fmt.Errorf("sovereign_service: initialize protocol: %w", domain.ErrInvalidAddress)
	}
	if err := validateFees(params.CreationFeeBPS, params.UnwindFeeBPS, params.ProtocolFeeBPS, params.BYOMinSupplyBPS); err != nil {
		return domain.ProtocolState{}, fmt.Errorf("sovereign_service: initialize protocol: %w", err)
	}
	if params.MinBondTarget == 0 || params.MinDeposit == 0 {
		return domain.ProtocolState{}, fmt.Errorf("sovereign_service: initialize protocol: %w", domain.ErrZeroAmount)
	}

	var out domain.ProtocolState
	err := s.mutate(ctx, protocolKey, "initialize protocol", func(ctx context.Context, t *txn) error {
		if existing, err := t.st.Protocol.Get(ctx); err == nil && existing.Initialized {
			return domain.ErrProtocolAlreadyInitiated
		}
		out = domain.ProtocolState{
			Authority:             params.Authority,
			Treasury:              params.Treasury,
			CreationFeeBPS:        params.CreationFeeBPS,
			MinFee:                params.MinFee,
			GovernanceUnwindFee:   params.GovernanceUnwindFee,
			UnwindFeeBPS:          params.UnwindFeeBPS,
			ProtocolFeeBPS:        params.ProtocolFeeBPS,
			BYOMinSupplyBPS:       params.BYOMinSupplyBPS,
			MinBondTarget:         params.MinBondTarget,
			MinDeposit:            params.MinDeposit,
			AutoUnwindPeriod:      params.AutoUnwindPeriod,
			MinFeeGrowthThreshold: params.MinFeeGrowthThreshold,
			Initialized:           true,
			UpdatedAt:             t.now,
		}
		if err := t.st.Protocol.Save(ctx, out); err != nil {
			return err
		}
		t.emit(domain.EventProtocolInitialized, 0, map[string]any{
			"authority": out.Authority.Hex(),
			"treasury":  out.Treasury.Hex(),
		})
		return nil
	})
	return out, err
}

// GetProtocol returns the protocol singleton.
func (s *SovereignService) GetProtocol(ctx context.Context) (domain.ProtocolState, error) {
	p, err := s.uow.Stores().Protocol.Get(ctx)
	if err != nil {
		return domain.ProtocolState{}, fmt.Errorf("sovereign_service: get protocol: %w", err)
	}
	return p, nil
}

// SetPaused toggles the protocol-wide pause.
func (s *SovereignService) SetPaused(ctx context.Context, caller common.Address, paused bool) error {
	return s.mutate(ctx, protocolKey, "set paused", func(ctx context.Context, t *txn) error {
		p, err := t.authority(ctx, caller)
		if err != nil {
			return err
		}
		p.Paused = paused
		p.UpdatedAt = t.now
		if err := t.st.Protocol.Save(ctx, p); err != nil {
			return err
		}
		t.emit(domain.EventProtocolPaused, 0, map[string]any{"paused": paused})
		return nil
	})
}

// FeeUpdate changes selected protocol parameters; nil fields are left as is.
type FeeUpdate struct {
	CreationFeeBPS        *uint64
	MinFee                *uint64
	GovernanceUnwindFee   *uint64
	UnwindFeeBPS          *uint64
	ProtocolFeeBPS        *uint64
	BYOMinSupplyBPS       *uint64
	MinBondTarget         *uint64
	MinDeposit            *uint64
	MinFeeGrowthThreshold *uint64
}

func setIf(dst *uint64, v *uint64) {
	if v != nil {
		*dst = *v
	}
}

// UpdateProtocolFees applies a FeeUpdate after bounds checks.
func (s *SovereignService) UpdateProtocolFees(ctx context.Context, caller common.Address, u FeeUpdate) (domain.ProtocolState, error) {
	var out domain.ProtocolState
	err := s.mutate(ctx, protocolKey, "update protocol fees", func(ctx context.Context, t *txn) error {
		p, err := t.authority(ctx, caller)
		if err != nil {
			return err
		}
		setIf(&p.CreationFeeBPS, u.CreationFeeBPS)
		setIf(&p.MinFee, u.MinFee)
		setIf(&p.GovernanceUnwindFee, u.GovernanceUnwindFee)
		setIf(&p.UnwindFeeBPS, u.UnwindFeeBPS)
		setIf(&p.ProtocolFeeBPS, u.ProtocolFeeBPS)
		setIf(&p.BYOMinSupplyBPS, u.BYOMinSupplyBPS)
		setIf(&p.MinBondTarget, u.MinBondTarget)
		setIf(&p.MinDeposit, u.MinDeposit)
		setIf(&p.MinFeeGrowthThreshold, u.MinFeeGrowthThreshold)
		if err := validateFees(p.CreationFeeBPS, p.UnwindFeeBPS, p.ProtocolFeeBPS, p.BYOMinSupplyBPS); err != nil {
			return err
		}
		if p.MinBondTarget == 0 || p.MinDeposit == 0 {
			return domain.ErrZeroAmount
		}
		p.UpdatedAt = t.now
		if err := t.st.Protocol.Save(ctx, p); err != nil {
			return err
		}
		out = p
		t.emit(domain.EventProtocolFeesUpdated, 0, map[string]any{
			"creation_fee_bps": p.CreationFeeBPS,
			"unwind_fee_bps":   p.UnwindFeeBPS,
			"protocol_fee_bps": p.ProtocolFeeBPS,
			"min_deposit":      p.MinDeposit,
			"min_bond_target":  p.MinBondTarget,
		})
		return nil
	})
	return out, err
}

// TransferAuthority hands protocol control to next.
func (s *SovereignService) TransferAuthority(ctx context.Context, caller, next common.Address) error {
	if next == (common.Address{}) {
		return fmt.Errorf("sovereign_service: transfer authority: %w", domain.ErrInvalidAddress)
	}
	return s.mutate(ctx, protocolKey, "transfer authority", func(ctx context.Context, t *txn) error {
		p, err := t.authority(ctx, caller)
		if err != nil {
			return err
		}
		p.Authority = next
		p.UpdatedAt = t.now
		if err := t.st.Protocol.Save(ctx, p); err != nil {
			return err
		}
		t.emit(domain.EventAuthorityTransferred, 0, map[string]any{
			"from": caller.Hex(),
			"to":   next.Hex(),
		})
		return nil
	})
}
