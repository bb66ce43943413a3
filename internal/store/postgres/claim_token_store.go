package postgres

import (
	"context"
	"fmt"

	"github.com/ethereum/go-ethereum/common"
	"github.com/jackc/pgx/v5"

	"github.com/alanyoungcy/sovereign-liquidity/internal/domain"
)

// ClaimTokenStore implements domain.ClaimTokenStore using PostgreSQL.
type ClaimTokenStore struct {
	db      DBTX
	locking bool
}

const claimTokenColumns = `id, sovereign_id, depositor, holder, shares_bps, minted_at, burned_at`

func scanClaimToken(row pgx.Row) (domain.ClaimToken, error) {
	var (
		t                 domain.ClaimToken
		depositor, holder string
	)
	if err := row.Scan(&t.ID, &t.SovereignID, &depositor, &holder, &t.SharesBPS, &t.MintedAt, &t.BurnedAt); err != nil {
		return domain.ClaimToken{}, err
	}
	var err error
	if t.Depositor, err = addrIn(depositor); err != nil {
		return domain.ClaimToken{}, err
	}
	t.Holder, err = addrIn(holder)
	return t, err
}

// Create inserts a freshly minted token.
func (s *ClaimTokenStore) Create(ctx context.Context, t domain.ClaimToken) error {
	query := `INSERT INTO claim_tokens (` + claimTokenColumns + `) VALUES ($1, $2, $3, $4, $5, $6, $7)`
	_, err := s.db.Exec(ctx, query, t.ID, t.SovereignID, addrOut(t.Depositor), addrOut(t.Holder), t.SharesBPS, t.MintedAt, t.BurnedAt)
	if err != nil {
		return fmt.Errorf("postgres: create claim token %s: %w", t.ID, uniqueViolation(err))
	}
	return nil
}

// Get returns a token by id.
func (s *ClaimTokenStore) Get(ctx context.Context, id string) (domain.ClaimToken, error) {
	query := forUpdate(`SELECT `+claimTokenColumns+` FROM claim_tokens WHERE id = $1`, s.locking)
	t, err := scanClaimToken(s.db.QueryRow(ctx, query, id))
	if err != nil {
		return domain.ClaimToken{}, fmt.Errorf("postgres: get claim token %s: %w", id, notFound(err))
	}
	return t, nil
}

// Update writes the holder and burn state. The rest of a token is immutable.
func (s *ClaimTokenStore) Update(ctx context.Context, t domain.ClaimToken) error {
	const query = `UPDATE claim_tokens SET holder = $2, burned_at = $3 WHERE id = $1`
	if err := rowsAffected(s.db.Exec(ctx, query, t.ID, addrOut(t.Holder), t.BurnedAt)); err != nil {
		return fmt.Errorf("postgres: update claim token %s: %w", t.ID, err)
	}
	return nil
}

// ListByHolder returns the unburned tokens held by holder.
func (s *ClaimTokenStore) ListByHolder(ctx context.Context, holder common.Address) ([]domain.ClaimToken, error) {
	query := `SELECT ` + claimTokenColumns + ` FROM claim_tokens WHERE holder = $1 AND burned_at IS NULL ORDER BY minted_at, id`
	rows, err := s.db.Query(ctx, query, addrOut(holder))
	if err != nil {
		return nil, fmt.Errorf("postgres: list claim tokens %s: %w", holder.Hex(), err)
	}
	defer rows.Close()

	var list []domain.ClaimToken
	for rows.Next() {
		t, err := scanClaimToken(rows)
		if err != nil {
			return nil, fmt.Errorf("postgres: scan claim token: %w", err)
		}
		list = append(list, t)
	}
	return list, rows.Err()
}
