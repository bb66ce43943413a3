package postgres

import (
	"context"
	"fmt"

	"github.com/ethereum/go-ethereum/common"
	"github.com/jackc/pgx/v5"

	"github.com/alanyoungcy/sovereign-liquidity/internal/domain"
)

// DepositStore implements domain.DepositStore using PostgreSQL.
type DepositStore struct {
	db      DBTX
	locking bool
}

const depositColumns = `sovereign_id, depositor, amount, fees_claimed, shares_bps, claim_token_id,
	unwind_claimed, refund_claimed, deposited_at, updated_at`

func scanDeposit(row pgx.Row) (domain.DepositRecord, error) {
	var (
		r         domain.DepositRecord
		depositor string
	)
	err := row.Scan(&r.SovereignID, &depositor, &r.Amount, &r.FeesClaimed, &r.SharesBPS, &r.ClaimTokenID,
		&r.UnwindClaimed, &r.RefundClaimed, &r.DepositedAt, &r.UpdatedAt)
	if err != nil {
		return domain.DepositRecord{}, err
	}
	r.Depositor, err = addrIn(depositor)
	return r, err
}

// Get returns the record for (sovereignID, depositor).
func (s *DepositStore) Get(ctx context.Context, sovereignID uint64, depositor common.Address) (domain.DepositRecord, error) {
	query := forUpdate(`SELECT `+depositColumns+` FROM deposit_records WHERE sovereign_id = $1 AND depositor = $2`, s.locking)
	r, err := scanDeposit(s.db.QueryRow(ctx, query, sovereignID, addrOut(depositor)))
	if err != nil {
		return domain.DepositRecord{}, fmt.Errorf("postgres: get deposit %d/%s: %w", sovereignID, depositor.Hex(), notFound(err))
	}
	return r, nil
}

// Upsert inserts or replaces a record.
func (s *DepositStore) Upsert(ctx context.Context, r domain.DepositRecord) error {
	const query = `
		INSERT INTO deposit_records (sovereign_id, depositor, amount, fees_claimed, shares_bps, claim_token_id,
			unwind_claimed, refund_claimed, deposited_at, updated_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10)
		ON CONFLICT (sovereign_id, depositor) DO UPDATE SET
			amount = EXCLUDED.amount,
			fees_claimed = EXCLUDED.fees_claimed,
			shares_bps = EXCLUDED.shares_bps,
			claim_token_id = EXCLUDED.claim_token_id,
			unwind_claimed = EXCLUDED.unwind_claimed,
			refund_claimed = EXCLUDED.refund_claimed,
			updated_at = EXCLUDED.updated_at`
	_, err := s.db.Exec(ctx, query, r.SovereignID, addrOut(r.Depositor), r.Amount, r.FeesClaimed, r.SharesBPS,
		r.ClaimTokenID, r.UnwindClaimed, r.RefundClaimed, r.DepositedAt, r.UpdatedAt)
	if err != nil {
		return fmt.Errorf("postgres: upsert deposit %d/%s: %w", r.SovereignID, r.Depositor.Hex(), err)
	}
	return nil
}

// Delete removes a record.
func (s *DepositStore) Delete(ctx context.Context, sovereignID uint64, depositor common.Address) error {
	const query = `DELETE FROM deposit_records WHERE sovereign_id = $1 AND depositor = $2`
	if err := rowsAffected(s.db.Exec(ctx, query, sovereignID, addrOut(depositor))); err != nil {
		return fmt.Errorf("postgres: delete deposit %d/%s: %w", sovereignID, depositor.Hex(), err)
	}
	return nil
}

// ListBySovereign returns a sovereign's records in pledge order.
func (s *DepositStore) ListBySovereign(ctx context.Context, sovereignID uint64, opts domain.ListOpts) ([]domain.DepositRecord, error) {
	query := `SELECT ` + depositColumns + ` FROM deposit_records WHERE sovereign_id = $1 ORDER BY deposited_at, depositor`
	args := []any{sovereignID}
	argIdx := 2
	if opts.Limit > 0 {
		query += fmt.Sprintf(" LIMIT $%d", argIdx)
		args = append(args, opts.Limit)
		argIdx++
	}
	if opts.Offset > 0 {
		query += fmt.Sprintf(" OFFSET $%d", argIdx)
		args = append(args, opts.Offset)
	}

	rows, err := s.db.Query(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("postgres: list deposits %d: %w", sovereignID, err)
	}
	defer rows.Close()

	var list []domain.DepositRecord
	for rows.Next() {
		r, err := scanDeposit(rows)
		if err != nil {
			return nil, fmt.Errorf("postgres: scan deposit: %w", err)
		}
		list = append(list, r)
	}
	return list, rows.Err()
}
