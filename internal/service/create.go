package service

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/ethereum/go-ethereum/common"
	ethcrypto "github.com/ethereum/go-ethereum/crypto"

	"github.com/alanyoungcy/sovereign-liquidity/internal/domain"
	"github.com/alanyoungcy/sovereign-liquidity/internal/ledger"
)

// CreateParams describes a new sovereign. TokenLaunch sovereigns issue a new
// asset of TokenSupply units; BYO sovereigns pull DepositAmount of an
// existing asset at TokenMint whose total supply is TokenTotalSupply.
type CreateParams struct {
	Creator      common.Address
	Type         domain.SovereignType
	BondTarget   uint64
	BondDuration time.Duration
	FeeMode      domain.FeeMode

	TokenName   string
	TokenSymbol string
	TokenSupply uint64
	SellFeeBPS  uint64

	TokenMint        common.Address
	TokenTotalSupply uint64
	DepositAmount    uint64
}

// CreateSovereign opens a new sovereign in Bonding and escrows the creation
// fee.
func (s *SovereignService) CreateSovereign(ctx context.Context, p CreateParams) (domain.Sovereign, error) {
	if p.Creator == (common.Address{}) {
		return domain.Sovereign{}, fmt.Errorf("sovereign_service: create sovereign: %w", domain.ErrInvalidAddress)
	}
	if p.FeeMode == "" {
		p.FeeMode = domain.FeeModeCreatorRevenue
	}
	if !p.FeeMode.Valid() {
		return domain.Sovereign{}, fmt.Errorf("sovereign_service: create sovereign: %w", domain.ErrInvalidFeeMode)
	}
	if p.BondDuration < domain.MinBondDuration || p.BondDuration > domain.MaxBondDuration {
		return domain.Sovereign{}, fmt.Errorf("sovereign_service: create sovereign: %s: %w", p.BondDuration, domain.ErrInvalidBondDuration)
	}

	var out domain.Sovereign
	err := s.mutate(ctx, protocolKey, "create sovereign", func(ctx context.Context, t *txn) error {
		proto, err := t.activeProtocol(ctx)
		if err != nil {
			return err
		}
		if p.BondTarget < proto.MinBondTarget {
			return fmt.Errorf("target %d below %d: %w", p.BondTarget, proto.MinBondTarget, domain.ErrBondTargetTooLow)
		}

		fee, err := ledger.ApplyBPS(p.BondTarget, proto.CreationFeeBPS)
		if err != nil {
			return err
		}
		if fee < proto.MinFee {
			fee = proto.MinFee
		}

		id := proto.SovereignCount + 1
		sov := domain.Sovereign{
			ID:                  id,
			Creator:             p.Creator,
			SovereignType:       p.Type,
			Phase:               domain.PhaseBonding,
			BondTarget:          p.BondTarget,
			BondDuration:        p.BondDuration,
			BondDeadline:        t.now.Add(p.BondDuration),
			CreationFeeEscrowed: fee,
			FeeMode:             p.FeeMode,
			FeeThresholdBPS:     domain.DefaultFeeThresholdBPS,
			PoolRestricted:      true,
			CreatedAt:           t.now,
			LastActivity:        t.now,
		}

		var tokenDeposit uint64
		switch p.Type {
		case domain.SovereignTokenLaunch:
			name, symbol := strings.TrimSpace(p.TokenName), strings.TrimSpace(p.TokenSymbol)
			if name == "" || symbol == "" || p.TokenSupply == 0 {
				return domain.ErrInvalidTokenParams
			}
			if p.SellFeeBPS > domain.MaxSellFeeBPS {
				return fmt.Errorf("sell fee %d bps: %w", p.SellFeeBPS, domain.ErrFeeTooHigh)
			}
			sov.TokenMint = ethcrypto.CreateAddress(p.Creator, id)
			sov.TokenName = name
			sov.TokenSymbol = symbol
			sov.TokenTotalSupply = p.TokenSupply
			sov.TokenSupplyDeposited = p.TokenSupply
			sov.TokenVaultBalance = p.TokenSupply
			sov.SellFeeBPS = p.SellFeeBPS
		case domain.SovereignBYOToken:
			if p.TokenMint == (common.Address{}) {
				return domain.ErrInvalidAddress
			}
			if p.DepositAmount == 0 || p.TokenTotalSupply == 0 || p.DepositAmount > p.TokenTotalSupply {
				return domain.ErrInvalidTokenParams
			}
			share, err := ledger.ShareBPS(p.DepositAmount, p.TokenTotalSupply)
			if err != nil {
				return err
			}
			if share < proto.BYOMinSupplyBPS {
				return fmt.Errorf("deposit is %d bps of supply, need %d: %w", share, proto.BYOMinSupplyBPS, domain.ErrInsufficientTokenDeposit)
			}
			sov.TokenMint = p.TokenMint
			sov.TokenTotalSupply = p.TokenTotalSupply
			sov.TokenSupplyDeposited = p.DepositAmount
			sov.TokenVaultBalance = p.DepositAmount
			tokenDeposit = p.DepositAmount
		default:
			return fmt.Errorf("type %q: %w", p.Type, domain.ErrInvalidSovereignType)
		}

		if err := t.st.Sovereigns.Create(ctx, sov); err != nil {
			return err
		}
		if err := t.st.Creators.Save(ctx, domain.CreatorFeeTracker{SovereignID: id, Creator: p.Creator}); err != nil {
			return err
		}
		proto.SovereignCount = id
		proto.UpdatedAt = t.now
		if err := t.st.Protocol.Save(ctx, proto); err != nil {
			return err
		}

		if err := s.receive(ctx, t, id, p.Creator, domain.AssetFunding, fee); err != nil {
			return fmt.Errorf("escrow creation fee: %w", err)
		}
		if tokenDeposit > 0 {
			if err := s.receive(ctx, t, id, p.Creator, domain.AssetTraded, tokenDeposit); err != nil {
				return fmt.Errorf("deposit tokens: %w", err)
			}
		}

		out = sov
		t.emit(domain.EventSovereignCreated, id, map[string]any{
			"creator":      p.Creator.Hex(),
			"type":         string(p.Type),
			"bond_target":  p.BondTarget,
			"deadline":     sov.BondDeadline,
			"creation_fee": fee,
			"token_mint":   sov.TokenMint.Hex(),
		})
		return nil
	})
	return out, err
}
