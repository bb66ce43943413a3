package domain

import (
	"context"
	"time"

	"github.com/ethereum/go-ethereum/common"
)

// ListOpts provides pagination and filtering for list queries.
type ListOpts struct {
	Limit  int
	Offset int
	Since  *time.Time
	Until  *time.Time
}

// ProtocolStore persists the protocol singleton.
type ProtocolStore interface {
	Get(ctx context.Context) (ProtocolState, error)
	Save(ctx context.Context, p ProtocolState) error
}

// SovereignStore persists sovereigns. Inside a unit of work Get locks the row
// for the remainder of the transaction.
type SovereignStore interface {
	Create(ctx context.Context, s Sovereign) error
	Get(ctx context.Context, id uint64) (Sovereign, error)
	Update(ctx context.Context, s Sovereign) error
	List(ctx context.Context, opts ListOpts) ([]Sovereign, error)
	ListByPhase(ctx context.Context, phases []Phase, limit int) ([]Sovereign, error)
}

// DepositStore persists deposit records.
type DepositStore interface {
	Get(ctx context.Context, sovereignID uint64, depositor common.Address) (DepositRecord, error)
	Upsert(ctx context.Context, rec DepositRecord) error
	Delete(ctx context.Context, sovereignID uint64, depositor common.Address) error
	ListBySovereign(ctx context.Context, sovereignID uint64, opts ListOpts) ([]DepositRecord, error)
}

// ClaimTokenStore persists bearer claim tokens.
type ClaimTokenStore interface {
	Create(ctx context.Context, t ClaimToken) error
	Get(ctx context.Context, id string) (ClaimToken, error)
	Update(ctx context.Context, t ClaimToken) error
	ListByHolder(ctx context.Context, holder common.Address) ([]ClaimToken, error)
}

// CreatorTrackerStore persists creator fee trackers.
type CreatorTrackerStore interface {
	Get(ctx context.Context, sovereignID uint64) (CreatorFeeTracker, error)
	Save(ctx context.Context, t CreatorFeeTracker) error
}

// ProposalStore persists unwind proposals.
type ProposalStore interface {
	Create(ctx context.Context, p Proposal) error
	Get(ctx context.Context, sovereignID, id uint64) (Proposal, error)
	Update(ctx context.Context, p Proposal) error
}

// VoteStore persists vote records. Create returns ErrAlreadyExists for a
// second vote by the same claim token.
type VoteStore interface {
	Create(ctx context.Context, v VoteRecord) error
	Get(ctx context.Context, sovereignID, proposalID uint64, tokenID string) (VoteRecord, error)
}

// LockStore persists permanent locks.
type LockStore interface {
	Get(ctx context.Context, sovereignID uint64) (PermanentLock, error)
	Save(ctx context.Context, l PermanentLock) error
}

// AuditEntry is a single audit log row.
type AuditEntry struct {
	ID        int64
	Event     string
	Detail    map[string]any
	CreatedAt time.Time
}

// AuditStore persists an append-only audit log.
type AuditStore interface {
	Log(ctx context.Context, event string, detail map[string]any) error
	List(ctx context.Context, opts ListOpts) ([]AuditEntry, error)
}

// Stores bundles every store an operation touches. Within a unit of work all
// of them share one transaction.
type Stores struct {
	Protocol    ProtocolStore
	Sovereigns  SovereignStore
	Deposits    DepositStore
	ClaimTokens ClaimTokenStore
	Creators    CreatorTrackerStore
	Proposals   ProposalStore
	Votes       VoteStore
	Locks       LockStore
	Outbox      OutboxStore
}

// UnitOfWork runs fn atomically: either every write made through the Stores
// passed to fn commits, or none does.
type UnitOfWork interface {
	Within(ctx context.Context, fn func(ctx context.Context, st Stores) error) error
	// Stores returns non-transactional stores for reads.
	Stores() Stores
}

// ClaimTokens resolves bearer-token possession. It is called once per
// operation and returns the deposit record the token gives access to.
type ClaimTokens interface {
	HoldsClaimToken(ctx context.Context, sovereignID uint64, tokenID string, caller common.Address) (ClaimRef, error)
}
