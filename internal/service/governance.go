package service

import (
	"context"
	"errors"
	"fmt"

	"github.com/ethereum/go-ethereum/common"

	"github.com/alanyoungcy/sovereign-liquidity/internal/domain"
	"github.com/alanyoungcy/sovereign-liquidity/internal/ledger"
)

// ProposeUnwind opens an unwind vote on an Active sovereign. Only a claim
// token holder may propose, and only one proposal runs at a time.
func (s *SovereignService) ProposeUnwind(ctx context.Context, id uint64, tokenID string, caller common.Address) (domain.Proposal, error) {
	var out domain.Proposal
	err := s.mutate(ctx, sovereignKey(id), "propose unwind", func(ctx context.Context, t *txn) error {
		if _, err := t.activeProtocol(ctx); err != nil {
			return err
		}
		sov, err := t.sovereign(ctx, id, domain.PhaseActive)
		if err != nil {
			return err
		}
		if sov.HasActiveProposal {
			return domain.ErrProposalActive
		}
		if sov.ActivityCheckPending {
			return domain.ErrActivityCheckPending
		}
		ref, err := t.claims().HoldsClaimToken(ctx, id, tokenID, caller)
		if err != nil {
			return err
		}

		pid := sov.ProposalCount + 1
		out = domain.Proposal{
			SovereignID:      id,
			ID:               pid,
			Proposer:         caller,
			ProposerToken:    ref.Token.ID,
			Status:           domain.ProposalActive,
			QuorumBPS:        domain.QuorumBPS,
			PassThresholdBPS: domain.PassThresholdBPS,
			VotingEndsAt:     t.now.Add(domain.VotingPeriod),
			CreatedAt:        t.now,
		}
		if err := t.st.Proposals.Create(ctx, out); err != nil {
			return err
		}
		sov.HasActiveProposal = true
		sov.ActiveProposalID = pid
		sov.ProposalCount = pid
		if err := t.save(ctx, sov); err != nil {
			return err
		}
		t.emit(domain.EventProposalCreated, id, map[string]any{
			"proposal":    pid,
			"proposer":    caller.Hex(),
			"voting_ends": out.VotingEndsAt,
		})
		return nil
	})
	return out, err
}

// GetProposal returns one proposal.
func (s *SovereignService) GetProposal(ctx context.Context, id, pid uint64) (domain.Proposal, error) {
	p, err := s.uow.Stores().Proposals.Get(ctx, id, pid)
	if err != nil {
		return domain.Proposal{}, fmt.Errorf("sovereign_service: get proposal: %w", err)
	}
	return p, nil
}

// Vote casts a claim token's weight for or against a proposal. A token votes
// once per proposal, whoever holds it.
func (s *SovereignService) Vote(ctx context.Context, id, pid uint64, tokenID string, caller common.Address, support bool) (domain.Proposal, error) {
	var out domain.Proposal
	err := s.mutate(ctx, sovereignKey(id), "vote", func(ctx context.Context, t *txn) error {
		if _, err := t.sovereign(ctx, id, domain.PhaseActive); err != nil {
			return err
		}
		p, err := t.st.Proposals.Get(ctx, id, pid)
		if err != nil {
			return err
		}
		if p.Status != domain.ProposalActive {
			return domain.ErrProposalNotActive
		}
		if deadlinePassed(t.now, p.VotingEndsAt) {
			return domain.ErrVotingEnded
		}
		ref, err := t.claims().HoldsClaimToken(ctx, id, tokenID, caller)
		if err != nil {
			return err
		}
		power := ref.Token.SharesBPS
		if power == 0 {
			return fmt.Errorf("claim token %s has no voting power: %w", tokenID, domain.ErrUnauthorized)
		}

		err = t.st.Votes.Create(ctx, domain.VoteRecord{
			SovereignID:  id,
			ProposalID:   pid,
			ClaimTokenID: tokenID,
			Voter:        caller,
			PowerBPS:     power,
			Support:      support,
			VotedAt:      t.now,
		})
		if errors.Is(err, domain.ErrAlreadyExists) {
			return domain.ErrAlreadyVoted
		}
		if err != nil {
			return err
		}

		if support {
			p.VotesForBPS += power
		} else {
			p.VotesAgainstBPS += power
		}
		p.TotalVotedBPS += power
		p.VoterCount++
		if err := t.st.Proposals.Update(ctx, p); err != nil {
			return err
		}
		out = p
		t.emit(domain.EventVoteCast, id, map[string]any{
			"proposal": pid,
			"token":    tokenID,
			"support":  support,
			"power":    power,
		})
		return nil
	})
	return out, err
}

// proposalPassed applies quorum and pass threshold. No votes cast fails.
func proposalPassed(p domain.Proposal) (bool, error) {
	if !p.QuorumMet() {
		return false, nil
	}
	cast := p.VotesForBPS + p.VotesAgainstBPS
	if cast == 0 {
		return false, nil
	}
	forBPS, err := ledger.ShareBPS(p.VotesForBPS, cast)
	if err != nil {
		return false, err
	}
	return forBPS >= p.PassThresholdBPS, nil
}

// FinalizeVote closes voting once the period has ended. A passing vote
// snapshots the pool's fee growth and starts the observation window; a
// failing one frees the sovereign for another proposal.
func (s *SovereignService) FinalizeVote(ctx context.Context, id, pid uint64) (domain.Proposal, error) {
	var out domain.Proposal
	err := s.mutate(ctx, sovereignKey(id), "finalize vote", func(ctx context.Context, t *txn) error {
		proto, err := t.protocol(ctx)
		if err != nil {
			return err
		}
		p, err := t.st.Proposals.Get(ctx, id, pid)
		if err != nil {
			return err
		}
		if p.Status != domain.ProposalActive {
			return domain.ErrProposalNotActive
		}
		if !deadlinePassed(t.now, p.VotingEndsAt) {
			return domain.ErrVotingNotEnded
		}
		sov, err := t.sovereign(ctx, id, domain.PhaseActive)
		if err != nil {
			return err
		}

		passed, err := proposalPassed(p)
		if err != nil {
			return err
		}
		if passed {
			growth, err := s.pool.ReadCumulativeFeeGrowth(ctx, sov.PoolRef)
			if err != nil {
				return fmt.Errorf("read fee growth: %w", err)
			}
			period := proto.AutoUnwindPeriod
			if period <= 0 {
				period = domain.ObservationPeriod
			}
			p.Status = domain.ProposalPassed
			p.FeeGrowthSnapshot = growth.A
			p.ObservationEndsAt = t.now.Add(period)
			sov.FeeGrowthSnapshotA = growth.A
			sov.FeeGrowthSnapshotB = growth.B
			sov.Phase = domain.PhaseUnwinding
			t.emit(domain.EventUnwindPassed, id, map[string]any{
				"proposal":         pid,
				"votes_for":        p.VotesForBPS,
				"votes_against":    p.VotesAgainstBPS,
				"observation_ends": p.ObservationEndsAt,
			})
		} else {
			p.Status = domain.ProposalFailed
			sov.HasActiveProposal = false
			t.emit(domain.EventUnwindRejected, id, map[string]any{
				"proposal":      pid,
				"votes_for":     p.VotesForBPS,
				"votes_against": p.VotesAgainstBPS,
				"total_voted":   p.TotalVotedBPS,
			})
		}
		if err := t.st.Proposals.Update(ctx, p); err != nil {
			return err
		}
		if err := t.save(ctx, sov); err != nil {
			return err
		}
		out = p
		return nil
	})
	return out, err
}

// UnwindOutcome reports whether ExecuteUnwind cancelled or settled.
type UnwindOutcome struct {
	Cancelled  bool
	ActualFees uint64
	Settlement Settlement
}

// ExecuteUnwind ends the observation window. If the position earned at least
// the volume threshold since the vote, the unwind is cancelled and the
// sovereign returns to Active. Otherwise the position is drained and settled.
func (s *SovereignService) ExecuteUnwind(ctx context.Context, id, pid uint64) (UnwindOutcome, error) {
	var out UnwindOutcome
	err := s.mutate(ctx, sovereignKey(id), "execute unwind", func(ctx context.Context, t *txn) error {
		proto, err := t.protocol(ctx)
		if err != nil {
			return err
		}
		p, err := t.st.Proposals.Get(ctx, id, pid)
		if err != nil {
			return err
		}
		if p.Status != domain.ProposalPassed {
			return domain.ErrProposalNotPassed
		}
		sov, err := t.sovereign(ctx, id, domain.PhaseUnwinding)
		if err != nil {
			return err
		}
		if t.now.Before(p.ObservationEndsAt) {
			return domain.ErrObservationNotEnded
		}
		lock, err := t.st.Locks.Get(ctx, id)
		if err != nil {
			return err
		}
		if lock.Liquidity.IsZero() {
			return domain.ErrAlreadyUnwound
		}

		growth, err := s.pool.ReadCumulativeFeeGrowth(ctx, sov.PoolRef)
		if err != nil {
			return fmt.Errorf("read fee growth: %w", err)
		}
		threshold := proto.VolumeThresholdBPS()
		met, err := ledger.VolumeMet(sov.FeeGrowthSnapshotA, growth.A, lock.Liquidity, sov.TotalDeposited, threshold)
		if err != nil {
			return err
		}
		actual := ledger.FeesFromGrowth(sov.FeeGrowthSnapshotA, growth.A, lock.Liquidity)
		if actual.IsUint64() {
			out.ActualFees = actual.Uint64()
		}

		p.ExecutedAt = t.now
		sov.HasActiveProposal = false
		if met {
			out.Cancelled = true
			sov.Phase = domain.PhaseActive
			sov.ActivityCheckLastCancelled = t.now
			if err := t.st.Proposals.Update(ctx, p); err != nil {
				return err
			}
			if err := t.save(ctx, sov); err != nil {
				return err
			}
			t.emit(domain.EventUnwindCancelled, id, map[string]any{
				"proposal":    pid,
				"actual_fees": out.ActualFees,
				"threshold":   threshold,
			})
			return nil
		}

		if err := t.st.Proposals.Update(ctx, p); err != nil {
			return err
		}
		out.Settlement, err = s.unwind(ctx, t, proto, &sov, &lock)
		return err
	})
	return out, err
}
