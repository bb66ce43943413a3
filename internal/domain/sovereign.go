package domain

import (
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/holiman/uint256"
)

// Phase is the lifecycle state of a sovereign.
type Phase string

const (
	PhaseBonding           Phase = "bonding"
	PhaseFinalizing        Phase = "finalizing"
	PhasePoolCreated       Phase = "pool_created"
	PhaseRecovery          Phase = "recovery"
	PhaseActive            Phase = "active"
	PhaseUnwinding         Phase = "unwinding"
	PhaseUnwound           Phase = "unwound"
	PhaseFailed            Phase = "failed"
	PhaseEmergencyUnlocked Phase = "emergency_unlocked"
	PhaseRetired           Phase = "retired"
)

// Terminal reports whether no forward lifecycle transition leaves p.
// EmergencyUnlocked is excluded: it still advances to Retired.
func (p Phase) Terminal() bool {
	switch p {
	case PhaseUnwound, PhaseFailed, PhaseRetired:
		return true
	}
	return false
}

// Valid reports whether p is a known phase.
func (p Phase) Valid() bool {
	switch p {
	case PhaseBonding, PhaseFinalizing, PhasePoolCreated, PhaseRecovery, PhaseActive,
		PhaseUnwinding, PhaseUnwound, PhaseFailed, PhaseEmergencyUnlocked, PhaseRetired:
		return true
	}
	return false
}

// SovereignType distinguishes protocol-issued assets from externally supplied ones.
type SovereignType string

const (
	SovereignTokenLaunch SovereignType = "token_launch"
	SovereignBYOToken    SovereignType = "byo_token"
)

// FeeMode selects how post-recovery fees are split.
type FeeMode string

const (
	FeeModeCreatorRevenue FeeMode = "creator_revenue"
	FeeModeRecoveryBoost  FeeMode = "recovery_boost"
	FeeModeFairLaunch     FeeMode = "fair_launch"
)

// Valid reports whether m is a known fee mode.
func (m FeeMode) Valid() bool {
	switch m {
	case FeeModeCreatorRevenue, FeeModeRecoveryBoost, FeeModeFairLaunch:
		return true
	}
	return false
}

// Asset names one side of a sovereign's pool for custody transfers.
type Asset string

const (
	AssetFunding Asset = "funding"
	AssetTraded  Asset = "traded"
)

// Protocol timing and allocation constants.
const (
	Day                    = 24 * time.Hour
	MinBondDuration        = 7 * Day
	MaxBondDuration        = 30 * Day
	VotingPeriod           = 7 * Day
	ObservationPeriod      = 90 * Day
	ActivityCheckPeriod    = 90 * Day
	ActivityCheckCooldown  = 7 * Day
	RedemptionWindow       = 30 * Day
	QuorumBPS              = 6700
	PassThresholdBPS       = 5100
	CreatorMaxBuyBPS       = 100
	LPAllocationBPS        = 8000
	DefaultFeeThresholdBPS = 10_000
	DefaultVolumeThreshold = 1000
	MaxProtocolFeeBPS      = 500
	MaxSellFeeBPS          = 300
	MaxCreationFeeBPS      = 1000
	MaxUnwindFeeBPS        = 2000
	MaxSlippageBPS         = 100
)

// Full-range tick bounds for the permanent position.
const (
	MinTickIndex int32 = -443636
	MaxTickIndex int32 = 443636
)

// Sovereign is one funding-and-liquidity campaign. Funding amounts are in the
// smallest unit of the funding asset; traded amounts in the smallest unit of
// the traded asset.
type Sovereign struct {
	ID            uint64
	Creator       common.Address
	TokenMint     common.Address
	TokenName     string
	TokenSymbol   string
	SovereignType SovereignType
	Phase         Phase

	BondTarget          uint64
	BondDeadline        time.Time
	BondDuration        time.Duration
	TotalDeposited      uint64
	DepositorCount      uint64
	CreatorEscrow       uint64
	CreationFeeEscrowed uint64

	// VaultBalance is the funding asset held on behalf of the sovereign
	// outside the pool; TokenVaultBalance the traded asset.
	VaultBalance      uint64
	TokenVaultBalance uint64

	TokenSupplyDeposited uint64
	TokenTotalSupply     uint64
	SellFeeBPS           uint64
	SellFeeRenounced     bool

	FeeMode             FeeMode
	FeeThresholdBPS     uint64
	FeeControlRenounced bool

	PoolRef        string
	PositionRef    string
	PoolRestricted bool

	RecoveryTarget            uint64
	TotalRecovered            uint64
	TotalFeesCollected        uint64
	TotalTokenFeesDistributed uint64

	// UnroutedFunding and UnroutedTraded are fees already collected from the
	// position whose split has not yet committed. The next claim routes them
	// before collecting again.
	UnroutedFunding uint64
	UnroutedTraded  uint64

	HasActiveProposal bool
	ActiveProposalID  uint64
	ProposalCount     uint64

	ActivityCheckPending       bool
	ActivityCheckInitiatedAt   time.Time
	ActivityCheckLastCancelled time.Time
	FeeGrowthSnapshotA         uint256.Int
	FeeGrowthSnapshotB         uint256.Int

	UnwindBalance      uint64
	UnwindTokenBalance uint64
	UnwoundAt          time.Time

	RedemptionPool      uint64
	CirculatingSnapshot uint64
	RedemptionDeadline  time.Time

	CreatedAt    time.Time
	FinalizedAt  time.Time
	LastActivity time.Time
}

// Emptied reports whether an emergency-unlocked sovereign owes nothing more
// to depositors or the creator and can retire.
func (s Sovereign) Emptied() bool {
	return s.DepositorCount == 0 &&
		s.CreatorEscrow == 0 &&
		s.CreationFeeEscrowed == 0 &&
		s.TokenSupplyDeposited == 0
}

// DepositRecord is one non-creator pledger's position in a sovereign. It is
// keyed by (SovereignID, Depositor), which stays stable after the claim token
// changes hands.
type DepositRecord struct {
	SovereignID   uint64
	Depositor     common.Address
	Amount        uint64
	FeesClaimed   uint64
	SharesBPS     uint64
	ClaimTokenID  string
	UnwindClaimed bool
	RefundClaimed bool
	DepositedAt   time.Time
	UpdatedAt     time.Time
}

// CreatorFeeTracker records a creator's share of post-recovery revenue.
type CreatorFeeTracker struct {
	SovereignID        uint64
	Creator            common.Address
	TotalEarned        uint64
	TotalClaimed       uint64
	PendingWithdrawal  uint64
	ThresholdRenounced bool
	PurchasedTokens    uint64
	PurchasedAt        time.Time
}

// PermanentLock is the custody record of the sovereign's pool position.
// Liquidity is zeroed exactly once when the position is drained.
type PermanentLock struct {
	SovereignID       uint64
	PoolRef           string
	PositionRef       string
	Liquidity         uint256.Int
	TickLower         int32
	TickUpper         int32
	PoolTokens        uint64
	Unwound           bool
	UnwoundAt         time.Time
	ReturnedLiquidity uint256.Int
	CreatedAt         time.Time

	// Drained is what the pool released when the position was removed.
	// Settled is set once that release has been partitioned.
	Drained Amounts
	Settled bool
}

// ProtocolState is the singleton protocol configuration and totals.
type ProtocolState struct {
	Authority             common.Address
	Treasury              common.Address
	CreationFeeBPS        uint64
	MinFee                uint64
	GovernanceUnwindFee   uint64
	UnwindFeeBPS          uint64
	ProtocolFeeBPS        uint64
	BYOMinSupplyBPS       uint64
	MinBondTarget         uint64
	MinDeposit            uint64
	AutoUnwindPeriod      time.Duration
	MinFeeGrowthThreshold uint64
	Paused                bool
	SovereignCount        uint64
	TotalFeesCollected    uint64
	Initialized           bool
	UpdatedAt             time.Time
}

// VolumeThresholdBPS is the observation-window cancellation threshold.
func (p ProtocolState) VolumeThresholdBPS() uint64 {
	if p.MinFeeGrowthThreshold == 0 {
		return DefaultVolumeThreshold
	}
	return p.MinFeeGrowthThreshold
}
