package service

import (
	"context"
	"fmt"
	"log/slog"
	"slices"

	"github.com/ethereum/go-ethereum/common"

	"github.com/alanyoungcy/sovereign-liquidity/internal/domain"
)

// Outbound effects never run inside a unit of work. They are written to the
// outbox next to the ledger change that owes them and applied after commit.
// Inbound pulls run inline after every check and register a compensation
// that returns the funds if the unit of work does not commit.

// send queues a payout of amount from the sovereign's vault to to.
func (t *txn) send(ctx context.Context, id uint64, to common.Address, asset domain.Asset, amount uint64) error {
	if amount == 0 {
		return nil
	}
	if to == (common.Address{}) {
		return fmt.Errorf("send %d %s: %w", amount, asset, domain.ErrInvalidAddress)
	}
	return t.enqueue(ctx, domain.OutboxEntry{SovereignID: id, Kind: domain.EffectSend, To: to, Asset: asset, Amount: amount})
}

// burn queues destruction of amount held in the sovereign's vault.
func (t *txn) burn(ctx context.Context, id uint64, asset domain.Asset, amount uint64) error {
	if amount == 0 {
		return nil
	}
	return t.enqueue(ctx, domain.OutboxEntry{SovereignID: id, Kind: domain.EffectBurn, Asset: asset, Amount: amount})
}

// unrestrict queues opening the pool to outside liquidity.
func (t *txn) unrestrict(ctx context.Context, id uint64, pool string) error {
	return t.enqueue(ctx, domain.OutboxEntry{SovereignID: id, Kind: domain.EffectUnrestrict, Pool: pool})
}

func (t *txn) enqueue(ctx context.Context, e domain.OutboxEntry) error {
	e.CreatedAt = t.now
	if err := t.st.Outbox.Enqueue(ctx, e); err != nil {
		return err
	}
	if !slices.Contains(t.queued, e.SovereignID) {
		t.queued = append(t.queued, e.SovereignID)
	}
	return nil
}

// receive pulls amount from a holder into the sovereign's vault and arranges
// for it to be sent back if the unit of work rolls back.
func (s *SovereignService) receive(ctx context.Context, t *txn, id uint64, from common.Address, asset domain.Asset, amount uint64) error {
	if amount == 0 {
		return nil
	}
	if err := s.custody.Receive(ctx, id, from, asset, amount); err != nil {
		return err
	}
	t.undo = append(t.undo, func(ctx context.Context) error {
		return s.custody.Send(ctx, id, from, asset, amount)
	})
	return nil
}

// compensate runs undo in reverse order. Failures are logged at error level:
// they leave funds in custody that the ledger does not show.
func (s *SovereignService) compensate(ctx context.Context, op string, undo []func(ctx context.Context) error) {
	for i := len(undo) - 1; i >= 0; i-- {
		if err := undo[i](ctx); err != nil {
			s.logger.ErrorContext(ctx, "sovereign_service: compensation failed",
				slog.String("op", op),
				slog.String("error", err.Error()),
			)
		}
	}
}

// DeliverPending applies a sovereign's undelivered outbox entries under its
// critical section and reports how many were applied.
func (s *SovereignService) DeliverPending(ctx context.Context, id uint64) (int, error) {
	release, err := s.enter(ctx, sovereignKey(id))
	if err != nil {
		return 0, fmt.Errorf("sovereign_service: deliver: %w", err)
	}
	defer release()
	n, err := s.deliver(ctx, id)
	if err != nil {
		return n, fmt.Errorf("sovereign_service: deliver: %w", err)
	}
	return n, nil
}

// PendingOutbox lists a sovereign's undelivered outbox entries.
func (s *SovereignService) PendingOutbox(ctx context.Context, id uint64) ([]domain.OutboxEntry, error) {
	return s.uow.Stores().Outbox.Pending(ctx, id)
}

// deliver applies pending entries in sequence order and stops at the first
// failure, which stays pending with its attempt recorded. The caller holds
// the sovereign's critical section.
func (s *SovereignService) deliver(ctx context.Context, id uint64) (int, error) {
	outbox := s.uow.Stores().Outbox
	pending, err := outbox.Pending(ctx, id)
	if err != nil {
		return 0, err
	}
	for i, e := range pending {
		if err := s.apply(ctx, e); err != nil {
			if merr := outbox.MarkFailed(ctx, e.Seq, err.Error()); merr != nil {
				s.logger.ErrorContext(ctx, "sovereign_service: record outbox failure",
					slog.Int64("seq", e.Seq),
					slog.String("error", merr.Error()),
				)
			}
			return i, fmt.Errorf("%s #%d: %w", e.Kind, e.Seq, err)
		}
		if err := outbox.MarkDelivered(ctx, e.Seq, s.clock.Now()); err != nil {
			return i, err
		}
	}
	return len(pending), nil
}

func (s *SovereignService) apply(ctx context.Context, e domain.OutboxEntry) error {
	switch e.Kind {
	case domain.EffectSend:
		return s.custody.Send(ctx, e.SovereignID, e.To, e.Asset, e.Amount)
	case domain.EffectBurn:
		return s.custody.Burn(ctx, e.SovereignID, common.Address{}, e.Asset, e.Amount)
	case domain.EffectUnrestrict:
		return s.pool.SetRestricted(ctx, e.Pool, false)
	}
	return fmt.Errorf("unknown effect %q", e.Kind)
}
