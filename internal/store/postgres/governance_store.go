package postgres

import (
	"context"
	"fmt"

	"github.com/alanyoungcy/sovereign-liquidity/internal/domain"
)

// ProposalStore implements domain.ProposalStore using PostgreSQL.
type ProposalStore struct {
	db      DBTX
	locking bool
}

const proposalColumns = `sovereign_id, id, proposer, proposer_token, status, votes_for_bps, votes_against_bps,
	total_voted_bps, voter_count, quorum_bps, pass_threshold_bps, voting_ends_at, observation_ends_at,
	fee_growth_snapshot, created_at, executed_at`

func proposalArgs(p domain.Proposal) []any {
	return []any{
		p.SovereignID, p.ID, addrOut(p.Proposer), p.ProposerToken, string(p.Status), p.VotesForBPS, p.VotesAgainstBPS,
		p.TotalVotedBPS, p.VoterCount, p.QuorumBPS, p.PassThresholdBPS, p.VotingEndsAt, p.ObservationEndsAt,
		u256Out(p.FeeGrowthSnapshot), p.CreatedAt, p.ExecutedAt,
	}
}

// Create inserts a new proposal.
func (s *ProposalStore) Create(ctx context.Context, p domain.Proposal) error {
	query := `INSERT INTO proposals (` + proposalColumns + `) VALUES (` + placeholders(1, 16) + `)`
	if _, err := s.db.Exec(ctx, query, proposalArgs(p)...); err != nil {
		return fmt.Errorf("postgres: create proposal %d/%d: %w", p.SovereignID, p.ID, uniqueViolation(err))
	}
	return nil
}

// Get returns one proposal.
func (s *ProposalStore) Get(ctx context.Context, sovereignID, id uint64) (domain.Proposal, error) {
	var (
		p                        domain.Proposal
		proposer, status, growth string
	)
	query := forUpdate(`SELECT `+proposalColumns+` FROM proposals WHERE sovereign_id = $1 AND id = $2`, s.locking)
	err := s.db.QueryRow(ctx, query, sovereignID, id).Scan(
		&p.SovereignID, &p.ID, &proposer, &p.ProposerToken, &status, &p.VotesForBPS, &p.VotesAgainstBPS,
		&p.TotalVotedBPS, &p.VoterCount, &p.QuorumBPS, &p.PassThresholdBPS, &p.VotingEndsAt, &p.ObservationEndsAt,
		&growth, &p.CreatedAt, &p.ExecutedAt,
	)
	if err != nil {
		return domain.Proposal{}, fmt.Errorf("postgres: get proposal %d/%d: %w", sovereignID, id, notFound(err))
	}
	if p.Proposer, err = addrIn(proposer); err != nil {
		return domain.Proposal{}, err
	}
	if p.FeeGrowthSnapshot, err = u256In(growth); err != nil {
		return domain.Proposal{}, err
	}
	p.Status = domain.ProposalStatus(status)
	return p, nil
}

// Update rewrites a proposal's tallies and status.
func (s *ProposalStore) Update(ctx context.Context, p domain.Proposal) error {
	query := `UPDATE proposals SET (` + proposalColumns + `) = (` + placeholders(1, 16) + `) WHERE sovereign_id = $1 AND id = $2`
	if err := rowsAffected(s.db.Exec(ctx, query, proposalArgs(p)...)); err != nil {
		return fmt.Errorf("postgres: update proposal %d/%d: %w", p.SovereignID, p.ID, err)
	}
	return nil
}

// VoteStore implements domain.VoteStore using PostgreSQL. The primary key on
// (sovereign_id, proposal_id, claim_token_id) rejects a second vote.
type VoteStore struct {
	db DBTX
}

// Create records a vote.
func (s *VoteStore) Create(ctx context.Context, v domain.VoteRecord) error {
	const query = `
		INSERT INTO vote_records (sovereign_id, proposal_id, claim_token_id, voter, power_bps, support, voted_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7)`
	_, err := s.db.Exec(ctx, query, v.SovereignID, v.ProposalID, v.ClaimTokenID, addrOut(v.Voter), v.PowerBPS, v.Support, v.VotedAt)
	if err != nil {
		return fmt.Errorf("postgres: create vote %d/%d/%s: %w", v.SovereignID, v.ProposalID, v.ClaimTokenID, uniqueViolation(err))
	}
	return nil
}

// Get returns the vote cast by a claim token.
func (s *VoteStore) Get(ctx context.Context, sovereignID, proposalID uint64, tokenID string) (domain.VoteRecord, error) {
	var (
		v     domain.VoteRecord
		voter string
	)
	const query = `
		SELECT sovereign_id, proposal_id, claim_token_id, voter, power_bps, support, voted_at
		FROM vote_records WHERE sovereign_id = $1 AND proposal_id = $2 AND claim_token_id = $3`
	err := s.db.QueryRow(ctx, query, sovereignID, proposalID, tokenID).Scan(
		&v.SovereignID, &v.ProposalID, &v.ClaimTokenID, &voter, &v.PowerBPS, &v.Support, &v.VotedAt,
	)
	if err != nil {
		return domain.VoteRecord{}, fmt.Errorf("postgres: get vote %d/%d/%s: %w", sovereignID, proposalID, tokenID, notFound(err))
	}
	v.Voter, err = addrIn(voter)
	return v, err
}
