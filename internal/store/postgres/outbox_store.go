package postgres

import (
	"context"
	"fmt"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/jackc/pgx/v5"

	"github.com/alanyoungcy/sovereign-liquidity/internal/domain"
)

// OutboxStore implements domain.OutboxStore on the outbox table.
type OutboxStore struct {
	db DBTX
}

const outboxColumns = `seq, sovereign_id, kind, recipient, asset, amount, pool_ref, attempts, last_error, created_at, delivered_at`

// Enqueue inserts an undelivered entry. The sequence comes from the table.
func (s *OutboxStore) Enqueue(ctx context.Context, e domain.OutboxEntry) error {
	var recipient string
	if e.To != (common.Address{}) {
		recipient = addrOut(e.To)
	}
	const q = `
		INSERT INTO outbox (sovereign_id, kind, recipient, asset, amount, pool_ref, created_at)
		VALUES (@sovereign_id, @kind, @recipient, @asset, @amount, @pool_ref, @created_at)`
	_, err := s.db.Exec(ctx, q, pgx.NamedArgs{
		"sovereign_id": e.SovereignID,
		"kind":         string(e.Kind),
		"recipient":    recipient,
		"asset":        string(e.Asset),
		"amount":       e.Amount,
		"pool_ref":     e.Pool,
		"created_at":   e.CreatedAt,
	})
	if err != nil {
		return fmt.Errorf("postgres: enqueue %s for sovereign %d: %w", e.Kind, e.SovereignID, err)
	}
	return nil
}

// Pending returns a sovereign's undelivered entries in sequence order.
func (s *OutboxStore) Pending(ctx context.Context, sovereignID uint64) ([]domain.OutboxEntry, error) {
	q := `SELECT ` + outboxColumns + ` FROM outbox
		WHERE sovereign_id = @sovereign_id AND delivered_at IS NULL
		ORDER BY seq`
	rows, err := s.db.Query(ctx, q, pgx.NamedArgs{"sovereign_id": sovereignID})
	if err != nil {
		return nil, fmt.Errorf("postgres: pending outbox %d: %w", sovereignID, err)
	}
	entries, err := pgx.CollectRows(rows, scanOutboxEntry)
	if err != nil {
		return nil, fmt.Errorf("postgres: pending outbox %d: %w", sovereignID, err)
	}
	return entries, nil
}

// PendingSovereigns returns the sovereigns with undelivered entries, lowest
// id first.
func (s *OutboxStore) PendingSovereigns(ctx context.Context, limit int) ([]uint64, error) {
	q := `SELECT DISTINCT sovereign_id FROM outbox WHERE delivered_at IS NULL ORDER BY sovereign_id`
	args := pgx.NamedArgs{}
	if limit > 0 {
		q += ` LIMIT @limit`
		args["limit"] = limit
	}
	rows, err := s.db.Query(ctx, q, args)
	if err != nil {
		return nil, fmt.Errorf("postgres: pending outbox sovereigns: %w", err)
	}
	ids, err := pgx.CollectRows(rows, pgx.RowTo[uint64])
	if err != nil {
		return nil, fmt.Errorf("postgres: pending outbox sovereigns: %w", err)
	}
	return ids, nil
}

// MarkDelivered records a successful delivery.
func (s *OutboxStore) MarkDelivered(ctx context.Context, seq int64, at time.Time) error {
	const q = `
		UPDATE outbox SET delivered_at = @at, attempts = attempts + 1, last_error = ''
		WHERE seq = @seq`
	if err := rowsAffected(s.db.Exec(ctx, q, pgx.NamedArgs{"seq": seq, "at": at})); err != nil {
		return fmt.Errorf("postgres: mark outbox %d delivered: %w", seq, err)
	}
	return nil
}

// MarkFailed records a failed attempt, leaving the entry pending.
func (s *OutboxStore) MarkFailed(ctx context.Context, seq int64, reason string) error {
	const q = `UPDATE outbox SET attempts = attempts + 1, last_error = @reason WHERE seq = @seq`
	if err := rowsAffected(s.db.Exec(ctx, q, pgx.NamedArgs{"seq": seq, "reason": reason})); err != nil {
		return fmt.Errorf("postgres: mark outbox %d failed: %w", seq, err)
	}
	return nil
}

func scanOutboxEntry(row pgx.CollectableRow) (domain.OutboxEntry, error) {
	var (
		e                      domain.OutboxEntry
		kind, recipient, asset string
		delivered              *time.Time
	)
	err := row.Scan(&e.Seq, &e.SovereignID, &kind, &recipient, &asset, &e.Amount, &e.Pool,
		&e.Attempts, &e.LastError, &e.CreatedAt, &delivered)
	if err != nil {
		return e, err
	}
	if recipient != "" {
		if e.To, err = addrIn(recipient); err != nil {
			return e, err
		}
	}
	e.Kind = domain.EffectKind(kind)
	e.Asset = domain.Asset(asset)
	if delivered != nil {
		e.DeliveredAt = *delivered
	}
	return e, nil
}
