package postgres

import (
	"context"
	"fmt"
	"time"

	"github.com/alanyoungcy/sovereign-liquidity/internal/domain"
)

// ProtocolStore implements domain.ProtocolStore on the single-row
// protocol_state table.
type ProtocolStore struct {
	db      DBTX
	locking bool
}

const protocolColumns = `authority, treasury, creation_fee_bps, min_fee, governance_unwind_fee, unwind_fee_bps,
	protocol_fee_bps, byo_min_supply_bps, min_bond_target, min_deposit, auto_unwind_period_ns,
	min_fee_growth_threshold, paused, sovereign_count, total_fees_collected, initialized, updated_at`

// Get returns the protocol state.
func (s *ProtocolStore) Get(ctx context.Context) (domain.ProtocolState, error) {
	var (
		p                   domain.ProtocolState
		authority, treasury string
		autoUnwind          int64
	)
	query := forUpdate(`SELECT `+protocolColumns+` FROM protocol_state WHERE singleton`, s.locking)
	err := s.db.QueryRow(ctx, query).Scan(
		&authority, &treasury, &p.CreationFeeBPS, &p.MinFee, &p.GovernanceUnwindFee, &p.UnwindFeeBPS,
		&p.ProtocolFeeBPS, &p.BYOMinSupplyBPS, &p.MinBondTarget, &p.MinDeposit, &autoUnwind,
		&p.MinFeeGrowthThreshold, &p.Paused, &p.SovereignCount, &p.TotalFeesCollected, &p.Initialized, &p.UpdatedAt,
	)
	if err != nil {
		return domain.ProtocolState{}, fmt.Errorf("postgres: get protocol: %w", notFound(err))
	}
	if p.Authority, err = addrIn(authority); err != nil {
		return domain.ProtocolState{}, err
	}
	if p.Treasury, err = addrIn(treasury); err != nil {
		return domain.ProtocolState{}, err
	}
	p.AutoUnwindPeriod = time.Duration(autoUnwind)
	return p, nil
}

// Save upserts the protocol state.
func (s *ProtocolStore) Save(ctx context.Context, p domain.ProtocolState) error {
	query := `INSERT INTO protocol_state (` + protocolColumns + `) VALUES (` + placeholders(1, 17) + `)
		ON CONFLICT (singleton) DO UPDATE SET (` + protocolColumns + `) = (` + placeholders(1, 17) + `)`
	_, err := s.db.Exec(ctx, query,
		addrOut(p.Authority), addrOut(p.Treasury), p.CreationFeeBPS, p.MinFee, p.GovernanceUnwindFee, p.UnwindFeeBPS,
		p.ProtocolFeeBPS, p.BYOMinSupplyBPS, p.MinBondTarget, p.MinDeposit, int64(p.AutoUnwindPeriod),
		p.MinFeeGrowthThreshold, p.Paused, p.SovereignCount, p.TotalFeesCollected, p.Initialized, p.UpdatedAt,
	)
	if err != nil {
		return fmt.Errorf("postgres: save protocol: %w", err)
	}
	return nil
}
