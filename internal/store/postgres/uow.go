package postgres

import (
	"context"
	"errors"
	"fmt"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/alanyoungcy/sovereign-liquidity/internal/domain"
)

// UnitOfWork implements domain.UnitOfWork on a pgx pool. Inside Within every
// store shares one read-committed transaction, and row reads that precede a
// write take FOR UPDATE locks.
type UnitOfWork struct {
	pool *pgxpool.Pool
}

var _ domain.UnitOfWork = (*UnitOfWork)(nil)

// NewUnitOfWork creates a UnitOfWork over pool.
func NewUnitOfWork(pool *pgxpool.Pool) *UnitOfWork {
	return &UnitOfWork{pool: pool}
}

// Stores returns pool-backed stores for reads outside a transaction.
func (u *UnitOfWork) Stores() domain.Stores {
	return storesFor(u.pool, false)
}

// Within runs fn in a transaction, committing only when fn returns nil.
func (u *UnitOfWork) Within(ctx context.Context, fn func(ctx context.Context, st domain.Stores) error) (err error) {
	tx, err := u.pool.BeginTx(ctx, pgx.TxOptions{IsoLevel: pgx.ReadCommitted})
	if err != nil {
		return fmt.Errorf("postgres: begin: %w", err)
	}
	defer func() {
		if err != nil {
			_ = tx.Rollback(ctx)
		}
	}()

	if err = fn(ctx, storesFor(tx, true)); err != nil {
		return err
	}
	if err = tx.Commit(ctx); err != nil {
		return fmt.Errorf("postgres: commit: %w", err)
	}
	return nil
}

func storesFor(db DBTX, locking bool) domain.Stores {
	return domain.Stores{
		Protocol:    &ProtocolStore{db: db, locking: locking},
		Sovereigns:  &SovereignStore{db: db, locking: locking},
		Deposits:    &DepositStore{db: db, locking: locking},
		ClaimTokens: &ClaimTokenStore{db: db, locking: locking},
		Creators:    &CreatorTrackerStore{db: db, locking: locking},
		Proposals:   &ProposalStore{db: db, locking: locking},
		Votes:       &VoteStore{db: db},
		Locks:       &LockStore{db: db, locking: locking},
		Outbox:      &OutboxStore{db: db},
	}
}

// forUpdate appends a row lock to query inside a transaction.
func forUpdate(query string, locking bool) string {
	if locking {
		return query + " FOR UPDATE"
	}
	return query
}

// notFound maps pgx.ErrNoRows to domain.ErrNotFound.
func notFound(err error) error {
	if errors.Is(err, pgx.ErrNoRows) {
		return domain.ErrNotFound
	}
	return err
}

// uniqueViolation maps a unique-key violation to domain.ErrAlreadyExists.
func uniqueViolation(err error) error {
	var pgErr *pgconn.PgError
	if errors.As(err, &pgErr) && pgErr.Code == "23505" {
		return domain.ErrAlreadyExists
	}
	return err
}

// rowsAffected returns domain.ErrNotFound when an update matched nothing.
func rowsAffected(tag pgconn.CommandTag, err error) error {
	if err != nil {
		return err
	}
	if tag.RowsAffected() == 0 {
		return domain.ErrNotFound
	}
	return nil
}
