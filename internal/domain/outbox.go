package domain

import (
	"context"
	"time"

	"github.com/ethereum/go-ethereum/common"
)

// EffectKind names an outbound side effect delivered after commit.
type EffectKind string

const (
	// EffectSend pays Amount of Asset from the sovereign's vault to To.
	EffectSend EffectKind = "send"
	// EffectBurn destroys Amount of Asset held in the sovereign's vault.
	EffectBurn EffectKind = "burn"
	// EffectUnrestrict opens the sovereign's pool to outside liquidity.
	EffectUnrestrict EffectKind = "unrestrict"
)

// OutboxEntry is an outbound effect recorded in the same unit of work as the
// ledger change that owes it. Entries for one sovereign are delivered in Seq
// order; a failed entry blocks the ones behind it until it succeeds.
type OutboxEntry struct {
	Seq         int64
	SovereignID uint64
	Kind        EffectKind
	To          common.Address
	Asset       Asset
	Amount      uint64
	Pool        string
	Attempts    int
	LastError   string
	CreatedAt   time.Time
	DeliveredAt time.Time
}

// Delivered reports whether the effect has been applied.
func (e OutboxEntry) Delivered() bool { return !e.DeliveredAt.IsZero() }

// OutboxStore persists outbound effects. Enqueue assigns Seq.
type OutboxStore interface {
	Enqueue(ctx context.Context, e OutboxEntry) error
	Pending(ctx context.Context, sovereignID uint64) ([]OutboxEntry, error)
	PendingSovereigns(ctx context.Context, limit int) ([]uint64, error)
	MarkDelivered(ctx context.Context, seq int64, at time.Time) error
	MarkFailed(ctx context.Context, seq int64, reason string) error
}
