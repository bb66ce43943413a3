package domain

import "time"

// EventType names a sovereign state change published after commit.
type EventType string

const (
	EventProtocolInitialized    EventType = "protocol_initialized"
	EventProtocolFeesUpdated    EventType = "protocol_fees_updated"
	EventProtocolPaused         EventType = "protocol_paused"
	EventAuthorityTransferred   EventType = "authority_transferred"
	EventSovereignCreated       EventType = "sovereign_created"
	EventPledged                EventType = "pledged"
	EventWithdrawn              EventType = "withdrawn"
	EventBondingComplete        EventType = "bonding_complete"
	EventBondingFailed          EventType = "bonding_failed"
	EventFailedRefund           EventType = "failed_refund"
	EventCreatorRefund          EventType = "creator_refund"
	EventPoolCreated            EventType = "pool_created"
	EventLiquidityAdded         EventType = "liquidity_added"
	EventClaimTokenMinted       EventType = "claim_token_minted"
	EventClaimTokenTransferred  EventType = "claim_token_transferred"
	EventCreatorMarketBuy       EventType = "creator_market_buy"
	EventFeesCollected          EventType = "fees_collected"
	EventRecoveryComplete       EventType = "recovery_complete"
	EventDepositorFeesClaimed   EventType = "depositor_fees_claimed"
	EventCreatorFeesWithdrawn   EventType = "creator_fees_withdrawn"
	EventFeeThresholdUpdated    EventType = "fee_threshold_updated"
	EventFeeThresholdRenounced  EventType = "fee_threshold_renounced"
	EventSellFeeUpdated         EventType = "sell_fee_updated"
	EventProposalCreated        EventType = "proposal_created"
	EventVoteCast               EventType = "vote_cast"
	EventUnwindPassed           EventType = "unwind_passed"
	EventUnwindRejected         EventType = "unwind_rejected"
	EventUnwindCancelled        EventType = "unwind_cancelled"
	EventUnwound                EventType = "unwound"
	EventUnwindClaimed          EventType = "unwind_claimed"
	EventActivityCheckInitiated EventType = "activity_check_initiated"
	EventActivityCheckCancelled EventType = "activity_check_cancelled"
	EventActivityCheckExecuted  EventType = "activity_check_executed"
	EventEmergencyUnlocked      EventType = "emergency_unlocked"
	EventEmergencyLiquidity     EventType = "emergency_liquidity_removed"
	EventEmergencyWithdrawn     EventType = "emergency_withdrawn"
	EventEmergencyCreatorRefund EventType = "emergency_creator_refund"
	EventTokensRedeemed         EventType = "tokens_redeemed"
	EventRedemptionSwept        EventType = "redemption_swept"
	EventRetired                EventType = "retired"
)

// Event is a committed state change, fanned out to the signal bus, the audit
// log and notifications.
type Event struct {
	Type        EventType      `json:"type"`
	SovereignID uint64         `json:"sovereign_id,omitempty"`
	Data        map[string]any `json:"data,omitempty"`
	At          time.Time      `json:"at"`
}

// Channel and stream names used on the signal bus.
const (
	ChannelSovereignEvents = "sovereign_events"
	StreamSovereignEvents  = "stream:sovereign_events"
)
