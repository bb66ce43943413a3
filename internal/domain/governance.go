package domain

import (
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/holiman/uint256"
)

// ProposalStatus is the state of one unwind vote.
type ProposalStatus string

const (
	ProposalActive ProposalStatus = "active"
	ProposalPassed ProposalStatus = "passed"
	ProposalFailed ProposalStatus = "failed"
)

// Proposal is one unwind vote on a sovereign.
type Proposal struct {
	SovereignID       uint64
	ID                uint64
	Proposer          common.Address
	ProposerToken     string
	Status            ProposalStatus
	VotesForBPS       uint64
	VotesAgainstBPS   uint64
	TotalVotedBPS     uint64
	VoterCount        uint64
	QuorumBPS         uint64
	PassThresholdBPS  uint64
	VotingEndsAt      time.Time
	ObservationEndsAt time.Time
	FeeGrowthSnapshot uint256.Int
	CreatedAt         time.Time
	ExecutedAt        time.Time
}

// QuorumMet reports whether participation reached the quorum.
func (p Proposal) QuorumMet() bool {
	return p.TotalVotedBPS >= p.QuorumBPS
}

// VoteRecord is one claim token's vote on a proposal. It is keyed by token,
// so a token transferred after voting cannot vote again.
type VoteRecord struct {
	SovereignID  uint64
	ProposalID   uint64
	ClaimTokenID string
	Voter        common.Address
	PowerBPS     uint64
	Support      bool
	VotedAt      time.Time
}

// ClaimToken is the transferable bearer token proving a depositor's claim to
// fees and unwind proceeds. Depositor addresses the underlying record and
// never changes; Holder does.
type ClaimToken struct {
	ID          string
	SovereignID uint64
	Depositor   common.Address
	Holder      common.Address
	SharesBPS   uint64
	MintedAt    time.Time
	BurnedAt    *time.Time
}

// Burned reports whether the token has been permanently invalidated.
func (t ClaimToken) Burned() bool {
	return t.BurnedAt != nil
}

// ClaimRef is the resolved result of a bearer-token check: the token and the
// deposit record it gives access to.
type ClaimRef struct {
	Token  ClaimToken
	Record DepositRecord
}
