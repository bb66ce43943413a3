package service

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/google/uuid"

	"github.com/alanyoungcy/sovereign-liquidity/internal/domain"
)

// bearerClaims resolves claim-token possession against the stores of the
// current unit of work, so the check and the effects it authorizes commit
// together.
type bearerClaims struct {
	st domain.Stores
}

var _ domain.ClaimTokens = bearerClaims{}

func (b bearerClaims) HoldsClaimToken(ctx context.Context, sovereignID uint64, tokenID string, caller common.Address) (domain.ClaimRef, error) {
	tok, err := b.st.ClaimTokens.Get(ctx, tokenID)
	if errors.Is(err, domain.ErrNotFound) {
		return domain.ClaimRef{}, fmt.Errorf("claim token %s: %w", tokenID, domain.ErrNotTokenHolder)
	}
	if err != nil {
		return domain.ClaimRef{}, err
	}
	if tok.SovereignID != sovereignID {
		return domain.ClaimRef{}, fmt.Errorf("claim token %s belongs to sovereign %d: %w", tokenID, tok.SovereignID, domain.ErrNotTokenHolder)
	}
	if tok.Burned() {
		return domain.ClaimRef{}, fmt.Errorf("claim token %s: %w", tokenID, domain.ErrClaimTokenBurned)
	}
	if tok.Holder != caller {
		return domain.ClaimRef{}, fmt.Errorf("claim token %s: %w", tokenID, domain.ErrNotTokenHolder)
	}
	rec, err := b.st.Deposits.Get(ctx, sovereignID, tok.Depositor)
	if err != nil {
		return domain.ClaimRef{}, fmt.Errorf("claim token %s record: %w", tokenID, err)
	}
	return domain.ClaimRef{Token: tok, Record: rec}, nil
}

func mintClaimToken(ctx context.Context, t *txn, rec domain.DepositRecord) (domain.ClaimToken, error) {
	tok := domain.ClaimToken{
		ID:          uuid.NewString(),
		SovereignID: rec.SovereignID,
		Depositor:   rec.Depositor,
		Holder:      rec.Depositor,
		SharesBPS:   rec.SharesBPS,
		MintedAt:    t.now,
	}
	if err := t.st.ClaimTokens.Create(ctx, tok); err != nil {
		return domain.ClaimToken{}, err
	}
	return tok, nil
}

func burnClaimToken(ctx context.Context, t *txn, tok domain.ClaimToken) error {
	at := t.now
	tok.BurnedAt = &at
	return t.st.ClaimTokens.Update(ctx, tok)
}

// GetClaimToken returns a claim token by id.
func (s *SovereignService) GetClaimToken(ctx context.Context, id string) (domain.ClaimToken, error) {
	tok, err := s.uow.Stores().ClaimTokens.Get(ctx, id)
	if err != nil {
		return domain.ClaimToken{}, fmt.Errorf("sovereign_service: get claim token: %w", err)
	}
	return tok, nil
}

// ListClaimTokens returns the live tokens held by holder.
func (s *SovereignService) ListClaimTokens(ctx context.Context, holder common.Address) ([]domain.ClaimToken, error) {
	return s.uow.Stores().ClaimTokens.ListByHolder(ctx, holder)
}

// TransferClaimToken moves a claim token to a new holder. Everything the
// token entitles moves with it; the deposit record keeps its original key.
func (s *SovereignService) TransferClaimToken(ctx context.Context, tokenID string, caller, to common.Address) (domain.ClaimToken, error) {
	if to == (common.Address{}) {
		return domain.ClaimToken{}, fmt.Errorf("sovereign_service: transfer claim token: %w", domain.ErrInvalidAddress)
	}
	tok, err := s.GetClaimToken(ctx, tokenID)
	if err != nil {
		return domain.ClaimToken{}, err
	}

	var out domain.ClaimToken
	err = s.mutate(ctx, sovereignKey(tok.SovereignID), "transfer claim token", func(ctx context.Context, t *txn) error {
		ref, err := t.claims().HoldsClaimToken(ctx, tok.SovereignID, tokenID, caller)
		if err != nil {
			return err
		}
		out = ref.Token
		out.Holder = to
		if err := t.st.ClaimTokens.Update(ctx, out); err != nil {
			return err
		}
		t.emit(domain.EventClaimTokenTransferred, tok.SovereignID, map[string]any{
			"token": tokenID,
			"from":  caller.Hex(),
			"to":    to.Hex(),
		})
		return nil
	})
	return out, err
}

// deadlinePassed reports whether now is strictly after deadline.
func deadlinePassed(now, deadline time.Time) bool {
	return now.After(deadline)
}
