package postgres

import (
	"context"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"

	"github.com/alanyoungcy/sovereign-liquidity/internal/domain"
)

// SovereignStore implements domain.SovereignStore using PostgreSQL.
type SovereignStore struct {
	db      DBTX
	locking bool
}

const sovereignColumns = `id, creator, token_mint, token_name, token_symbol, sovereign_type, phase,
	bond_target, bond_deadline, bond_duration_ns, total_deposited, depositor_count, creator_escrow, creation_fee_escrowed,
	vault_balance, token_vault_balance, token_supply_deposited, token_total_supply, sell_fee_bps, sell_fee_renounced,
	fee_mode, fee_threshold_bps, fee_control_renounced, pool_ref, position_ref, pool_restricted,
	recovery_target, total_recovered, total_fees_collected, total_token_fees_distributed, unrouted_funding, unrouted_traded,
	has_active_proposal, active_proposal_id, proposal_count,
	activity_check_pending, activity_check_initiated_at, activity_check_last_cancelled, fee_growth_snapshot_a, fee_growth_snapshot_b,
	unwind_balance, unwind_token_balance, unwound_at, redemption_pool, circulating_snapshot, redemption_deadline,
	created_at, finalized_at, last_activity`

func sovereignArgs(s domain.Sovereign) []any {
	return []any{
		s.ID, addrOut(s.Creator), addrOut(s.TokenMint), s.TokenName, s.TokenSymbol, string(s.SovereignType), string(s.Phase),
		s.BondTarget, s.BondDeadline, int64(s.BondDuration), s.TotalDeposited, s.DepositorCount, s.CreatorEscrow, s.CreationFeeEscrowed,
		s.VaultBalance, s.TokenVaultBalance, s.TokenSupplyDeposited, s.TokenTotalSupply, s.SellFeeBPS, s.SellFeeRenounced,
		string(s.FeeMode), s.FeeThresholdBPS, s.FeeControlRenounced, s.PoolRef, s.PositionRef, s.PoolRestricted,
		s.RecoveryTarget, s.TotalRecovered, s.TotalFeesCollected, s.TotalTokenFeesDistributed, s.UnroutedFunding, s.UnroutedTraded,
		s.HasActiveProposal, s.ActiveProposalID, s.ProposalCount,
		s.ActivityCheckPending, s.ActivityCheckInitiatedAt, s.ActivityCheckLastCancelled,
		u256Out(s.FeeGrowthSnapshotA), u256Out(s.FeeGrowthSnapshotB),
		s.UnwindBalance, s.UnwindTokenBalance, s.UnwoundAt, s.RedemptionPool, s.CirculatingSnapshot, s.RedemptionDeadline,
		s.CreatedAt, s.FinalizedAt, s.LastActivity,
	}
}

func scanSovereign(row pgx.Row) (domain.Sovereign, error) {
	var (
		s                         domain.Sovereign
		creator, mint, typ, phase string
		mode, growthA, growthB    string
		bondDuration              int64
	)
	err := row.Scan(
		&s.ID, &creator, &mint, &s.TokenName, &s.TokenSymbol, &typ, &phase,
		&s.BondTarget, &s.BondDeadline, &bondDuration, &s.TotalDeposited, &s.DepositorCount, &s.CreatorEscrow, &s.CreationFeeEscrowed,
		&s.VaultBalance, &s.TokenVaultBalance, &s.TokenSupplyDeposited, &s.TokenTotalSupply, &s.SellFeeBPS, &s.SellFeeRenounced,
		&mode, &s.FeeThresholdBPS, &s.FeeControlRenounced, &s.PoolRef, &s.PositionRef, &s.PoolRestricted,
		&s.RecoveryTarget, &s.TotalRecovered, &s.TotalFeesCollected, &s.TotalTokenFeesDistributed, &s.UnroutedFunding, &s.UnroutedTraded,
		&s.HasActiveProposal, &s.ActiveProposalID, &s.ProposalCount,
		&s.ActivityCheckPending, &s.ActivityCheckInitiatedAt, &s.ActivityCheckLastCancelled, &growthA, &growthB,
		&s.UnwindBalance, &s.UnwindTokenBalance, &s.UnwoundAt, &s.RedemptionPool, &s.CirculatingSnapshot, &s.RedemptionDeadline,
		&s.CreatedAt, &s.FinalizedAt, &s.LastActivity,
	)
	if err != nil {
		return domain.Sovereign{}, err
	}
	if s.Creator, err = addrIn(creator); err != nil {
		return domain.Sovereign{}, err
	}
	if s.TokenMint, err = addrIn(mint); err != nil {
		return domain.Sovereign{}, err
	}
	if s.FeeGrowthSnapshotA, err = u256In(growthA); err != nil {
		return domain.Sovereign{}, err
	}
	if s.FeeGrowthSnapshotB, err = u256In(growthB); err != nil {
		return domain.Sovereign{}, err
	}
	s.SovereignType = domain.SovereignType(typ)
	s.Phase = domain.Phase(phase)
	s.FeeMode = domain.FeeMode(mode)
	s.BondDuration = time.Duration(bondDuration)
	return s, nil
}

// Create inserts a new sovereign.
func (s *SovereignStore) Create(ctx context.Context, sov domain.Sovereign) error {
	query := `INSERT INTO sovereigns (` + sovereignColumns + `) VALUES (` + placeholders(1, 49) + `)`
	if _, err := s.db.Exec(ctx, query, sovereignArgs(sov)...); err != nil {
		return fmt.Errorf("postgres: create sovereign %d: %w", sov.ID, uniqueViolation(err))
	}
	return nil
}

// Get returns a sovereign by id, locking the row inside a unit of work.
func (s *SovereignStore) Get(ctx context.Context, id uint64) (domain.Sovereign, error) {
	query := forUpdate(`SELECT `+sovereignColumns+` FROM sovereigns WHERE id = $1`, s.locking)
	sov, err := scanSovereign(s.db.QueryRow(ctx, query, id))
	if err != nil {
		return domain.Sovereign{}, fmt.Errorf("postgres: get sovereign %d: %w", id, notFound(err))
	}
	return sov, nil
}

// Update rewrites every mutable column of an existing sovereign.
func (s *SovereignStore) Update(ctx context.Context, sov domain.Sovereign) error {
	query := `UPDATE sovereigns SET (` + sovereignColumns + `) = (` + placeholders(1, 49) + `) WHERE id = $1`
	if err := rowsAffected(s.db.Exec(ctx, query, sovereignArgs(sov)...)); err != nil {
		return fmt.Errorf("postgres: update sovereign %d: %w", sov.ID, err)
	}
	return nil
}

// List returns sovereigns newest first.
func (s *SovereignStore) List(ctx context.Context, opts domain.ListOpts) ([]domain.Sovereign, error) {
	query := `SELECT ` + sovereignColumns + ` FROM sovereigns WHERE 1=1`
	args := []any{}
	argIdx := 1

	if opts.Since != nil {
		query += fmt.Sprintf(" AND created_at >= $%d", argIdx)
		args = append(args, *opts.Since)
		argIdx++
	}
	if opts.Until != nil {
		query += fmt.Sprintf(" AND created_at <= $%d", argIdx)
		args = append(args, *opts.Until)
		argIdx++
	}

	query += " ORDER BY id DESC"

	if opts.Limit > 0 {
		query += fmt.Sprintf(" LIMIT $%d", argIdx)
		args = append(args, opts.Limit)
		argIdx++
	}
	if opts.Offset > 0 {
		query += fmt.Sprintf(" OFFSET $%d", argIdx)
		args = append(args, opts.Offset)
	}
	return s.query(ctx, query, args...)
}

// ListByPhase returns up to limit sovereigns in any of phases, oldest first.
func (s *SovereignStore) ListByPhase(ctx context.Context, phases []domain.Phase, limit int) ([]domain.Sovereign, error) {
	names := make([]string, len(phases))
	for i, p := range phases {
		names[i] = string(p)
	}
	query := `SELECT ` + sovereignColumns + ` FROM sovereigns WHERE phase = ANY($1) ORDER BY id`
	args := []any{names}
	if limit > 0 {
		query += " LIMIT $2"
		args = append(args, limit)
	}
	return s.query(ctx, query, args...)
}

func (s *SovereignStore) query(ctx context.Context, query string, args ...any) ([]domain.Sovereign, error) {
	rows, err := s.db.Query(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("postgres: list sovereigns: %w", err)
	}
	defer rows.Close()

	var list []domain.Sovereign
	for rows.Next() {
		sov, err := scanSovereign(rows)
		if err != nil {
			return nil, fmt.Errorf("postgres: scan sovereign: %w", err)
		}
		list = append(list, sov)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("postgres: list sovereigns rows: %w", err)
	}
	return list, nil
}

// placeholders renders "$from, ..., $to".
func placeholders(from, to int) string {
	out := make([]byte, 0, (to-from+1)*4)
	for i := from; i <= to; i++ {
		if i > from {
			out = append(out, ", "...)
		}
		out = fmt.Appendf(out, "$%d", i)
	}
	return string(out)
}
