package domain

import "errors"

// Category groups sentinel errors by the kind of rule they enforce. The HTTP
// layer maps each category to a status code.
type Category string

const (
	CategoryState         Category = "state"
	CategoryAuthorization Category = "authorization"
	CategoryArithmetic    Category = "arithmetic"
	CategoryBalance       Category = "balance"
	CategoryDomain        Category = "domain"
)

// Error is a categorized sentinel. Compare with errors.Is against the
// package-level values; read the category with CategoryOf.
type Error struct {
	Category Category
	msg      string
}

func (e *Error) Error() string { return e.msg }

func newError(c Category, msg string) *Error {
	return &Error{Category: c, msg: msg}
}

// CategoryOf returns the category of the first categorized error in err's
// chain, or "" when there is none.
func CategoryOf(err error) Category {
	var de *Error
	if errors.As(err, &de) {
		return de.Category
	}
	return ""
}

var (
	ErrNotFound      = errors.New("not found")
	ErrAlreadyExists = errors.New("already exists")
	ErrRateLimited   = errors.New("rate limited")
	ErrLockHeld      = errors.New("lock already held")
	ErrSigningFailed = errors.New("signing failed")
)

// State errors.
var (
	ErrInvalidState             = newError(CategoryState, "invalid sovereign state")
	ErrProtocolPaused           = newError(CategoryState, "protocol is paused")
	ErrBondingEnded             = newError(CategoryState, "bonding deadline has passed")
	ErrBondingNotEnded          = newError(CategoryState, "bonding deadline has not passed")
	ErrBondingTargetMet         = newError(CategoryState, "bond target already met")
	ErrBondingTargetNotMet      = newError(CategoryState, "bond target not met")
	ErrPoolAlreadyCreated       = newError(CategoryState, "pool already created")
	ErrPoolNotCreated           = newError(CategoryState, "pool not created")
	ErrProposalActive           = newError(CategoryState, "an unwind proposal is already active")
	ErrProposalNotActive        = newError(CategoryState, "proposal is not active")
	ErrProposalNotPassed        = newError(CategoryState, "proposal has not passed")
	ErrVotingEnded              = newError(CategoryState, "voting period has ended")
	ErrVotingNotEnded           = newError(CategoryState, "voting period has not ended")
	ErrAlreadyVoted             = newError(CategoryState, "claim token has already voted")
	ErrObservationNotEnded      = newError(CategoryState, "observation period has not ended")
	ErrActivityCheckPending     = newError(CategoryState, "activity check already pending")
	ErrNoActivityCheck          = newError(CategoryState, "no activity check pending")
	ErrActivityCheckCooldown    = newError(CategoryState, "activity check cooldown has not elapsed")
	ErrActivityCheckNotElapsed  = newError(CategoryState, "activity check period has not elapsed")
	ErrAlreadyClaimed           = newError(CategoryState, "already claimed")
	ErrAlreadyUnwound           = newError(CategoryState, "position already unwound")
	ErrRedemptionWindowClosed   = newError(CategoryState, "redemption window has closed")
	ErrRedemptionWindowOpen     = newError(CategoryState, "redemption window is still open")
	ErrClaimTokenBurned         = newError(CategoryState, "claim token has been burned")
	ErrNothingToClaim           = newError(CategoryState, "nothing to claim")
	ErrProtocolAlreadyInitiated = newError(CategoryState, "protocol already initialized")
)

// Authorization errors.
var (
	ErrUnauthorized     = newError(CategoryAuthorization, "unauthorized")
	ErrNotCreator       = newError(CategoryAuthorization, "caller is not the sovereign creator")
	ErrNotAuthority     = newError(CategoryAuthorization, "caller is not the protocol authority")
	ErrNotTokenHolder   = newError(CategoryAuthorization, "caller does not hold the claim token")
	ErrCreatorCannotAct = newError(CategoryAuthorization, "creator cannot perform this operation")
	ErrInvalidSignature = newError(CategoryAuthorization, "invalid caller signature")
)

// Arithmetic errors.
var (
	ErrOverflow       = newError(CategoryArithmetic, "arithmetic overflow")
	ErrUnderflow      = newError(CategoryArithmetic, "arithmetic underflow")
	ErrDivisionByZero = newError(CategoryArithmetic, "division by zero")
	ErrNoDeposits     = newError(CategoryArithmetic, "sovereign has no deposits")
)

// Balance errors.
var (
	ErrInsufficientVaultBalance   = newError(CategoryBalance, "insufficient vault balance")
	ErrInsufficientDeposit        = newError(CategoryBalance, "insufficient deposit balance")
	ErrInsufficientRedemptionPool = newError(CategoryBalance, "insufficient redemption pool")
	ErrSlippageExceeded           = newError(CategoryBalance, "slippage exceeded")
)

// Domain errors.
var (
	ErrZeroAmount               = newError(CategoryDomain, "amount must be greater than zero")
	ErrDepositTooSmall          = newError(CategoryDomain, "deposit below minimum")
	ErrCreatorDepositExceedsMax = newError(CategoryDomain, "creator deposit exceeds maximum")
	ErrBondTargetTooLow         = newError(CategoryDomain, "bond target below minimum")
	ErrInvalidBondDuration      = newError(CategoryDomain, "bond duration out of range")
	ErrFeeTooHigh               = newError(CategoryDomain, "fee exceeds maximum")
	ErrInvalidFeeThreshold      = newError(CategoryDomain, "fee threshold out of range")
	ErrFeeThresholdRenounced    = newError(CategoryDomain, "fee threshold has been renounced")
	ErrSellFeeRenounced         = newError(CategoryDomain, "sell fee has been renounced")
	ErrInvalidSovereignType     = newError(CategoryDomain, "operation not valid for sovereign type")
	ErrInsufficientTokenDeposit = newError(CategoryDomain, "token deposit below minimum supply share")
	ErrInvalidTokenParams       = newError(CategoryDomain, "invalid token parameters")
	ErrInvalidAddress           = newError(CategoryDomain, "invalid address")
	ErrInvalidFeeMode           = newError(CategoryDomain, "invalid fee mode")
	ErrCannotIncreaseThreshold  = newError(CategoryDomain, "fee threshold can only decrease")
	ErrRecoveryNotComplete      = newError(CategoryDomain, "recovery is not complete")
)
