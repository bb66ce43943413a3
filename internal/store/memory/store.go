// Package memory implements the domain stores in process. Units of work run
// against a copy of the state that replaces the live state only when the
// work succeeds, so a failed operation leaves nothing behind. It backs the
// "memory" store mode and the service tests.
//
// The store is single-writer: units of work run one at a time across every
// sovereign, because each copies and replaces the whole state. Reads outside
// a unit of work proceed concurrently. Deployments that need writers on
// different sovereigns to proceed in parallel use the postgres store, whose
// transactions lock only the rows they touch.
package memory

import (
	"context"
	"sync"

	"github.com/ethereum/go-ethereum/common"

	"github.com/alanyoungcy/sovereign-liquidity/internal/domain"
)

type depositKey struct {
	sovereign uint64
	depositor common.Address
}

type proposalKey struct {
	sovereign uint64
	id        uint64
}

type voteKey struct {
	sovereign uint64
	proposal  uint64
	token     string
}

type state struct {
	protocol   *domain.ProtocolState
	sovereigns map[uint64]domain.Sovereign
	deposits   map[depositKey]domain.DepositRecord
	tokens     map[string]domain.ClaimToken
	creators   map[uint64]domain.CreatorFeeTracker
	proposals  map[proposalKey]domain.Proposal
	votes      map[voteKey]domain.VoteRecord
	locks      map[uint64]domain.PermanentLock
	outbox     map[int64]domain.OutboxEntry
	outboxSeq  int64
}

func newState() *state {
	return &state{
		sovereigns: make(map[uint64]domain.Sovereign),
		deposits:   make(map[depositKey]domain.DepositRecord),
		tokens:     make(map[string]domain.ClaimToken),
		creators:   make(map[uint64]domain.CreatorFeeTracker),
		proposals:  make(map[proposalKey]domain.Proposal),
		votes:      make(map[voteKey]domain.VoteRecord),
		locks:      make(map[uint64]domain.PermanentLock),
		outbox:     make(map[int64]domain.OutboxEntry),
	}
}

// clone copies every map. Values are plain structs; the only pointer field,
// ClaimToken.BurnedAt, is never mutated in place.
func (s *state) clone() *state {
	c := newState()
	if s.protocol != nil {
		p := *s.protocol
		c.protocol = &p
	}
	for k, v := range s.sovereigns {
		c.sovereigns[k] = v
	}
	for k, v := range s.deposits {
		c.deposits[k] = v
	}
	for k, v := range s.tokens {
		c.tokens[k] = v
	}
	for k, v := range s.creators {
		c.creators[k] = v
	}
	for k, v := range s.proposals {
		c.proposals[k] = v
	}
	for k, v := range s.votes {
		c.votes[k] = v
	}
	for k, v := range s.locks {
		c.locks[k] = v
	}
	for k, v := range s.outbox {
		c.outbox[k] = v
	}
	c.outboxSeq = s.outboxSeq
	return c
}

// Store is an in-memory domain.UnitOfWork with a single writer.
type Store struct {
	txMu sync.Mutex   // held for a whole unit of work
	mu   sync.RWMutex // guards cur
	cur  *state
}

var _ domain.UnitOfWork = (*Store)(nil)

// New creates an empty Store.
func New() *Store {
	return &Store{cur: newState()}
}

// view gives store implementations access to either the live state (with
// locking) or a unit of work's private copy.
type view struct {
	store *Store
	tx    *state
}

func (v view) read(fn func(*state)) {
	if v.tx != nil {
		fn(v.tx)
		return
	}
	v.store.mu.RLock()
	defer v.store.mu.RUnlock()
	fn(v.store.cur)
}

func (v view) write(fn func(*state)) {
	if v.tx != nil {
		fn(v.tx)
		return
	}
	v.store.txMu.Lock()
	defer v.store.txMu.Unlock()
	v.store.mu.Lock()
	defer v.store.mu.Unlock()
	fn(v.store.cur)
}

func storesFor(v view) domain.Stores {
	return domain.Stores{
		Protocol:    &ProtocolStore{v: v},
		Sovereigns:  &SovereignStore{v: v},
		Deposits:    &DepositStore{v: v},
		ClaimTokens: &ClaimTokenStore{v: v},
		Creators:    &CreatorTrackerStore{v: v},
		Proposals:   &ProposalStore{v: v},
		Votes:       &VoteStore{v: v},
		Locks:       &LockStore{v: v},
		Outbox:      &OutboxStore{v: v},
	}
}

// Stores returns stores that read and write the live state directly.
func (s *Store) Stores() domain.Stores {
	return storesFor(view{store: s})
}

// Within runs fn against a private copy of the state and publishes the copy
// only when fn returns nil. A second Within waits for the first to finish.
func (s *Store) Within(ctx context.Context, fn func(ctx context.Context, st domain.Stores) error) error {
	s.txMu.Lock()
	defer s.txMu.Unlock()

	s.mu.RLock()
	work := s.cur.clone()
	s.mu.RUnlock()

	if err := fn(ctx, storesFor(view{store: s, tx: work})); err != nil {
		return err
	}

	s.mu.Lock()
	s.cur = work
	s.mu.Unlock()
	return nil
}
