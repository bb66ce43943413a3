package handler

import (
	"encoding/json"
	"math/big"
	"strconv"
	"time"

	"github.com/holiman/uint256"
	"github.com/shopspring/decimal"

	"github.com/alanyoungcy/sovereign-liquidity/internal/domain"
	"github.com/alanyoungcy/sovereign-liquidity/internal/service"
)

// displayDecimals is the precision used for the human-readable side of an
// Amount.
const displayDecimals = 9

// Amount is a base-unit quantity rendered as {"raw": "...", "display": "..."}.
// raw is a decimal string so values above 2^53 survive JavaScript clients.
type Amount uint64

func (a Amount) MarshalJSON() ([]byte, error) {
	d := decimal.NewFromBigInt(new(big.Int).SetUint64(uint64(a)), -displayDecimals)
	return json.Marshal(struct {
		Raw     string `json:"raw"`
		Display string `json:"display"`
	}{
		Raw:     strconv.FormatUint(uint64(a), 10),
		Display: d.String(),
	})
}

func optTime(t time.Time) *time.Time {
	if t.IsZero() {
		return nil
	}
	u := t.UTC()
	return &u
}

func dec(v *uint256.Int) string { return v.Dec() }

type protocolView struct {
	Authority            string     `json:"authority"`
	Treasury             string     `json:"treasury"`
	CreationFeeBPS       uint64     `json:"creation_fee_bps"`
	MinFee               Amount     `json:"min_fee"`
	GovernanceUnwindFee  Amount     `json:"governance_unwind_fee"`
	UnwindFeeBPS         uint64     `json:"unwind_fee_bps"`
	ProtocolFeeBPS       uint64     `json:"protocol_fee_bps"`
	BYOMinSupplyBPS      uint64     `json:"byo_min_supply_bps"`
	MinBondTarget        Amount     `json:"min_bond_target"`
	MinDeposit           Amount     `json:"min_deposit"`
	AutoUnwindPeriodSecs int64      `json:"auto_unwind_period_secs"`
	VolumeThresholdBPS   uint64     `json:"volume_threshold_bps"`
	Paused               bool       `json:"paused"`
	SovereignCount       uint64     `json:"sovereign_count"`
	TotalFeesCollected   Amount     `json:"total_fees_collected"`
	UpdatedAt            *time.Time `json:"updated_at,omitempty"`
}

func newProtocolView(p domain.ProtocolState) protocolView {
	return protocolView{
		Authority:            p.Authority.Hex(),
		Treasury:             p.Treasury.Hex(),
		CreationFeeBPS:       p.CreationFeeBPS,
		MinFee:               Amount(p.MinFee),
		GovernanceUnwindFee:  Amount(p.GovernanceUnwindFee),
		UnwindFeeBPS:         p.UnwindFeeBPS,
		ProtocolFeeBPS:       p.ProtocolFeeBPS,
		BYOMinSupplyBPS:      p.BYOMinSupplyBPS,
		MinBondTarget:        Amount(p.MinBondTarget),
		MinDeposit:           Amount(p.MinDeposit),
		AutoUnwindPeriodSecs: int64(p.AutoUnwindPeriod / time.Second),
		VolumeThresholdBPS:   p.VolumeThresholdBPS(),
		Paused:               p.Paused,
		SovereignCount:       p.SovereignCount,
		TotalFeesCollected:   Amount(p.TotalFeesCollected),
		UpdatedAt:            optTime(p.UpdatedAt),
	}
}

type sovereignView struct {
	ID            uint64 `json:"id"`
	Creator       string `json:"creator"`
	TokenMint     string `json:"token_mint"`
	TokenName     string `json:"token_name,omitempty"`
	TokenSymbol   string `json:"token_symbol,omitempty"`
	SovereignType string `json:"sovereign_type"`
	Phase         string `json:"phase"`

	BondTarget          Amount    `json:"bond_target"`
	BondDeadline        time.Time `json:"bond_deadline"`
	BondDurationSecs    int64     `json:"bond_duration_secs"`
	TotalDeposited      Amount    `json:"total_deposited"`
	DepositorCount      uint64    `json:"depositor_count"`
	CreatorEscrow       Amount    `json:"creator_escrow"`
	CreationFeeEscrowed Amount    `json:"creation_fee_escrowed"`
	VaultBalance        Amount    `json:"vault_balance"`
	TokenVaultBalance   Amount    `json:"token_vault_balance"`

	TokenSupplyDeposited Amount `json:"token_supply_deposited"`
	TokenTotalSupply     Amount `json:"token_total_supply"`
	SellFeeBPS           uint64 `json:"sell_fee_bps"`
	SellFeeRenounced     bool   `json:"sell_fee_renounced"`

	FeeMode             string `json:"fee_mode"`
	FeeThresholdBPS     uint64 `json:"fee_threshold_bps"`
	FeeControlRenounced bool   `json:"fee_control_renounced"`

	PoolRef        string `json:"pool_ref,omitempty"`
	PositionRef    string `json:"position_ref,omitempty"`
	PoolRestricted bool   `json:"pool_restricted"`

	RecoveryTarget            Amount `json:"recovery_target"`
	TotalRecovered            Amount `json:"total_recovered"`
	TotalFeesCollected        Amount `json:"total_fees_collected"`
	TotalTokenFeesDistributed Amount `json:"total_token_fees_distributed"`
	UnroutedFunding           Amount `json:"unrouted_funding"`
	UnroutedTraded            Amount `json:"unrouted_traded"`

	HasActiveProposal bool   `json:"has_active_proposal"`
	ActiveProposalID  uint64 `json:"active_proposal_id,omitempty"`
	ProposalCount     uint64 `json:"proposal_count"`

	ActivityCheckPending       bool       `json:"activity_check_pending"`
	ActivityCheckInitiatedAt   *time.Time `json:"activity_check_initiated_at,omitempty"`
	ActivityCheckLastCancelled *time.Time `json:"activity_check_last_cancelled,omitempty"`

	UnwindBalance      Amount     `json:"unwind_balance"`
	UnwindTokenBalance Amount     `json:"unwind_token_balance"`
	UnwoundAt          *time.Time `json:"unwound_at,omitempty"`

	RedemptionPool      Amount     `json:"redemption_pool"`
	CirculatingSnapshot Amount     `json:"circulating_snapshot"`
	RedemptionDeadline  *time.Time `json:"redemption_deadline,omitempty"`

	CreatedAt    time.Time  `json:"created_at"`
	FinalizedAt  *time.Time `json:"finalized_at,omitempty"`
	LastActivity *time.Time `json:"last_activity,omitempty"`
}

func newSovereignView(s domain.Sovereign) sovereignView {
	return sovereignView{
		ID:                         s.ID,
		Creator:                    s.Creator.Hex(),
		TokenMint:                  s.TokenMint.Hex(),
		TokenName:                  s.TokenName,
		TokenSymbol:                s.TokenSymbol,
		SovereignType:              string(s.SovereignType),
		Phase:                      string(s.Phase),
		BondTarget:                 Amount(s.BondTarget),
		BondDeadline:               s.BondDeadline.UTC(),
		BondDurationSecs:           int64(s.BondDuration / time.Second),
		TotalDeposited:             Amount(s.TotalDeposited),
		DepositorCount:             s.DepositorCount,
		CreatorEscrow:              Amount(s.CreatorEscrow),
		CreationFeeEscrowed:        Amount(s.CreationFeeEscrowed),
		VaultBalance:               Amount(s.VaultBalance),
		TokenVaultBalance:          Amount(s.TokenVaultBalance),
		TokenSupplyDeposited:       Amount(s.TokenSupplyDeposited),
		TokenTotalSupply:           Amount(s.TokenTotalSupply),
		SellFeeBPS:                 s.SellFeeBPS,
		SellFeeRenounced:           s.SellFeeRenounced,
		FeeMode:                    string(s.FeeMode),
		FeeThresholdBPS:            s.FeeThresholdBPS,
		FeeControlRenounced:        s.FeeControlRenounced,
		PoolRef:                    s.PoolRef,
		PositionRef:                s.PositionRef,
		PoolRestricted:             s.PoolRestricted,
		RecoveryTarget:             Amount(s.RecoveryTarget),
		TotalRecovered:             Amount(s.TotalRecovered),
		TotalFeesCollected:         Amount(s.TotalFeesCollected),
		TotalTokenFeesDistributed:  Amount(s.TotalTokenFeesDistributed),
		UnroutedFunding:            Amount(s.UnroutedFunding),
		UnroutedTraded:             Amount(s.UnroutedTraded),
		HasActiveProposal:          s.HasActiveProposal,
		ActiveProposalID:           s.ActiveProposalID,
		ProposalCount:              s.ProposalCount,
		ActivityCheckPending:       s.ActivityCheckPending,
		ActivityCheckInitiatedAt:   optTime(s.ActivityCheckInitiatedAt),
		ActivityCheckLastCancelled: optTime(s.ActivityCheckLastCancelled),
		UnwindBalance:              Amount(s.UnwindBalance),
		UnwindTokenBalance:         Amount(s.UnwindTokenBalance),
		UnwoundAt:                  optTime(s.UnwoundAt),
		RedemptionPool:             Amount(s.RedemptionPool),
		CirculatingSnapshot:        Amount(s.CirculatingSnapshot),
		RedemptionDeadline:         optTime(s.RedemptionDeadline),
		CreatedAt:                  s.CreatedAt.UTC(),
		FinalizedAt:                optTime(s.FinalizedAt),
		LastActivity:               optTime(s.LastActivity),
	}
}

type depositView struct {
	Depositor     string    `json:"depositor"`
	Amount        Amount    `json:"amount"`
	FeesClaimed   Amount    `json:"fees_claimed"`
	SharesBPS     uint64    `json:"shares_bps"`
	ClaimTokenID  string    `json:"claim_token_id,omitempty"`
	UnwindClaimed bool      `json:"unwind_claimed"`
	RefundClaimed bool      `json:"refund_claimed"`
	DepositedAt   time.Time `json:"deposited_at"`
}

func newDepositView(d domain.DepositRecord) depositView {
	return depositView{
		Depositor:     d.Depositor.Hex(),
		Amount:        Amount(d.Amount),
		FeesClaimed:   Amount(d.FeesClaimed),
		SharesBPS:     d.SharesBPS,
		ClaimTokenID:  d.ClaimTokenID,
		UnwindClaimed: d.UnwindClaimed,
		RefundClaimed: d.RefundClaimed,
		DepositedAt:   d.DepositedAt.UTC(),
	}
}

type creatorView struct {
	Creator            string     `json:"creator"`
	TotalEarned        Amount     `json:"total_earned"`
	TotalClaimed       Amount     `json:"total_claimed"`
	PendingWithdrawal  Amount     `json:"pending_withdrawal"`
	ThresholdRenounced bool       `json:"threshold_renounced"`
	PurchasedTokens    Amount     `json:"purchased_tokens"`
	PurchasedAt        *time.Time `json:"purchased_at,omitempty"`
}

func newCreatorView(t domain.CreatorFeeTracker) creatorView {
	return creatorView{
		Creator:            t.Creator.Hex(),
		TotalEarned:        Amount(t.TotalEarned),
		TotalClaimed:       Amount(t.TotalClaimed),
		PendingWithdrawal:  Amount(t.PendingWithdrawal),
		ThresholdRenounced: t.ThresholdRenounced,
		PurchasedTokens:    Amount(t.PurchasedTokens),
		PurchasedAt:        optTime(t.PurchasedAt),
	}
}

type lockView struct {
	PoolRef           string     `json:"pool_ref"`
	PositionRef       string     `json:"position_ref"`
	Liquidity         string     `json:"liquidity"`
	TickLower         int32      `json:"tick_lower"`
	TickUpper         int32      `json:"tick_upper"`
	PoolTokens        Amount     `json:"pool_tokens"`
	Unwound           bool       `json:"unwound"`
	UnwoundAt         *time.Time `json:"unwound_at,omitempty"`
	ReturnedLiquidity string     `json:"returned_liquidity"`
	DrainedFunding    Amount     `json:"drained_funding"`
	DrainedTraded     Amount     `json:"drained_traded"`
	Settled           bool       `json:"settled"`
	CreatedAt         time.Time  `json:"created_at"`
}

func newLockView(l domain.PermanentLock) lockView {
	return lockView{
		PoolRef:           l.PoolRef,
		PositionRef:       l.PositionRef,
		Liquidity:         dec(&l.Liquidity),
		TickLower:         l.TickLower,
		TickUpper:         l.TickUpper,
		PoolTokens:        Amount(l.PoolTokens),
		Unwound:           l.Unwound,
		UnwoundAt:         optTime(l.UnwoundAt),
		ReturnedLiquidity: dec(&l.ReturnedLiquidity),
		DrainedFunding:    Amount(l.Drained.Funding),
		DrainedTraded:     Amount(l.Drained.Traded),
		Settled:           l.Settled,
		CreatedAt:         l.CreatedAt.UTC(),
	}
}

type proposalView struct {
	SovereignID       uint64     `json:"sovereign_id"`
	ID                uint64     `json:"id"`
	Proposer          string     `json:"proposer"`
	Status            string     `json:"status"`
	VotesForBPS       uint64     `json:"votes_for_bps"`
	VotesAgainstBPS   uint64     `json:"votes_against_bps"`
	TotalVotedBPS     uint64     `json:"total_voted_bps"`
	VoterCount        uint64     `json:"voter_count"`
	QuorumBPS         uint64     `json:"quorum_bps"`
	PassThresholdBPS  uint64     `json:"pass_threshold_bps"`
	QuorumMet         bool       `json:"quorum_met"`
	VotingEndsAt      time.Time  `json:"voting_ends_at"`
	ObservationEndsAt *time.Time `json:"observation_ends_at,omitempty"`
	FeeGrowthSnapshot string     `json:"fee_growth_snapshot"`
	CreatedAt         time.Time  `json:"created_at"`
	ExecutedAt        *time.Time `json:"executed_at,omitempty"`
}

func newProposalView(p domain.Proposal) proposalView {
	return proposalView{
		SovereignID:       p.SovereignID,
		ID:                p.ID,
		Proposer:          p.Proposer.Hex(),
		Status:            string(p.Status),
		VotesForBPS:       p.VotesForBPS,
		VotesAgainstBPS:   p.VotesAgainstBPS,
		TotalVotedBPS:     p.TotalVotedBPS,
		VoterCount:        p.VoterCount,
		QuorumBPS:         p.QuorumBPS,
		PassThresholdBPS:  p.PassThresholdBPS,
		QuorumMet:         p.QuorumMet(),
		VotingEndsAt:      p.VotingEndsAt.UTC(),
		ObservationEndsAt: optTime(p.ObservationEndsAt),
		FeeGrowthSnapshot: dec(&p.FeeGrowthSnapshot),
		CreatedAt:         p.CreatedAt.UTC(),
		ExecutedAt:        optTime(p.ExecutedAt),
	}
}

type claimTokenView struct {
	ID          string     `json:"id"`
	SovereignID uint64     `json:"sovereign_id"`
	Depositor   string     `json:"depositor"`
	Holder      string     `json:"holder"`
	SharesBPS   uint64     `json:"shares_bps"`
	MintedAt    time.Time  `json:"minted_at"`
	Burned      bool       `json:"burned"`
	BurnedAt    *time.Time `json:"burned_at,omitempty"`
}

func newClaimTokenView(t domain.ClaimToken) claimTokenView {
	return claimTokenView{
		ID:          t.ID,
		SovereignID: t.SovereignID,
		Depositor:   t.Depositor.Hex(),
		Holder:      t.Holder.Hex(),
		SharesBPS:   t.SharesBPS,
		MintedAt:    t.MintedAt.UTC(),
		Burned:      t.Burned(),
		BurnedAt:    t.BurnedAt,
	}
}

type settlementView struct {
	Funding        Amount `json:"funding"`
	Traded         Amount `json:"traded"`
	ProtocolFee    Amount `json:"protocol_fee"`
	InvestorPool   Amount `json:"investor_pool"`
	Surplus        Amount `json:"surplus"`
	UnwindBalance  Amount `json:"unwind_balance"`
	RedemptionPool Amount `json:"redemption_pool"`
	Circulating    Amount `json:"circulating"`
}

func newSettlementView(s service.Settlement) settlementView {
	return settlementView{
		Funding:        Amount(s.Funding),
		Traded:         Amount(s.Traded),
		ProtocolFee:    Amount(s.ProtocolFee),
		InvestorPool:   Amount(s.InvestorPool),
		Surplus:        Amount(s.Surplus),
		UnwindBalance:  Amount(s.UnwindBalance),
		RedemptionPool: Amount(s.RedemptionPool),
		Circulating:    Amount(s.Circulating),
	}
}

type feeDistributionView struct {
	FundingCollected Amount `json:"funding_collected"`
	TradedCollected  Amount `json:"traded_collected"`
	SwappedToFunding Amount `json:"swapped_to_funding"`
	CreatorShare     Amount `json:"creator_share"`
	InvestorShare    Amount `json:"investor_share"`
	ProtocolShare    Amount `json:"protocol_share"`
	TotalRecovered   Amount `json:"total_recovered"`
	RecoveryComplete bool   `json:"recovery_complete"`
	Phase            string `json:"phase"`
}

func newFeeDistributionView(d service.FeeDistribution) feeDistributionView {
	return feeDistributionView{
		FundingCollected: Amount(d.FundingCollected),
		TradedCollected:  Amount(d.TradedCollected),
		SwappedToFunding: Amount(d.SwappedToFunding),
		CreatorShare:     Amount(d.CreatorShare),
		InvestorShare:    Amount(d.InvestorShare),
		ProtocolShare:    Amount(d.ProtocolShare),
		TotalRecovered:   Amount(d.TotalRecovered),
		RecoveryComplete: d.RecoveryComplete,
		Phase:            string(d.Phase),
	}
}

type auditView struct {
	ID        int64          `json:"id"`
	Event     string         `json:"event"`
	Detail    map[string]any `json:"detail"`
	CreatedAt time.Time      `json:"created_at"`
}

func newAuditView(e domain.AuditEntry) auditView {
	return auditView{ID: e.ID, Event: e.Event, Detail: e.Detail, CreatedAt: e.CreatedAt.UTC()}
}

// paidView is the response of every operation that pays out one amount.
type paidView struct {
	SovereignID uint64 `json:"sovereign_id"`
	Paid        Amount `json:"paid"`
}
