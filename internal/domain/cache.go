package domain

import (
	"context"
	"time"
)

// SovereignCache holds read-through sovereign snapshots. Every committed
// mutation invalidates the sovereign's entry; Get returns ErrNotFound on a
// miss.
type SovereignCache interface {
	Set(ctx context.Context, s Sovereign) error
	Get(ctx context.Context, id uint64) (Sovereign, error)
	Invalidate(ctx context.Context, id uint64) error
}

// RateLimiter counts hits per key in a fixed window. It throttles API
// clients, gateway calls and operator notifications.
type RateLimiter interface {
	Allow(ctx context.Context, key string, limit int, window time.Duration) (bool, error)
	Wait(ctx context.Context, key string) error
}

// LockManager serializes work on one sovereign across daemon replicas. The
// returned unlock releases the lock only if it is still held.
type LockManager interface {
	Acquire(ctx context.Context, key string, ttl time.Duration) (unlock func(), err error)
}

// StreamMessage is one replayable bus entry; ID orders entries.
type StreamMessage struct {
	ID      string
	Payload []byte
}

// SignalBus fans committed events out live (Publish/Subscribe) and keeps
// them replayable (StreamAppend/StreamRead). StreamRead returns entries
// strictly after lastID, oldest first.
type SignalBus interface {
	Publish(ctx context.Context, channel string, payload []byte) error
	Subscribe(ctx context.Context, channel string) (<-chan []byte, error)
	StreamAppend(ctx context.Context, stream string, payload []byte) error
	StreamRead(ctx context.Context, stream string, lastID string, count int) ([]StreamMessage, error)
}
