package memory

import (
	"context"
	"fmt"
	"slices"
	"sort"
	"time"

	"github.com/ethereum/go-ethereum/common"

	"github.com/alanyoungcy/sovereign-liquidity/internal/domain"
)

// ProtocolStore implements domain.ProtocolStore.
type ProtocolStore struct{ v view }

func (s *ProtocolStore) Get(_ context.Context) (domain.ProtocolState, error) {
	var (
		out domain.ProtocolState
		ok  bool
	)
	s.v.read(func(st *state) {
		if st.protocol != nil {
			out, ok = *st.protocol, true
		}
	})
	if !ok {
		return domain.ProtocolState{}, fmt.Errorf("memory: get protocol: %w", domain.ErrNotFound)
	}
	return out, nil
}

func (s *ProtocolStore) Save(_ context.Context, p domain.ProtocolState) error {
	s.v.write(func(st *state) { st.protocol = &p })
	return nil
}

// SovereignStore implements domain.SovereignStore.
type SovereignStore struct{ v view }

func (s *SovereignStore) Create(_ context.Context, sov domain.Sovereign) error {
	var exists bool
	s.v.write(func(st *state) {
		if _, exists = st.sovereigns[sov.ID]; !exists {
			st.sovereigns[sov.ID] = sov
		}
	})
	if exists {
		return fmt.Errorf("memory: create sovereign %d: %w", sov.ID, domain.ErrAlreadyExists)
	}
	return nil
}

func (s *SovereignStore) Get(_ context.Context, id uint64) (domain.Sovereign, error) {
	var (
		out domain.Sovereign
		ok  bool
	)
	s.v.read(func(st *state) { out, ok = st.sovereigns[id] })
	if !ok {
		return domain.Sovereign{}, fmt.Errorf("memory: get sovereign %d: %w", id, domain.ErrNotFound)
	}
	return out, nil
}

func (s *SovereignStore) Update(_ context.Context, sov domain.Sovereign) error {
	var ok bool
	s.v.write(func(st *state) {
		if _, ok = st.sovereigns[sov.ID]; ok {
			st.sovereigns[sov.ID] = sov
		}
	})
	if !ok {
		return fmt.Errorf("memory: update sovereign %d: %w", sov.ID, domain.ErrNotFound)
	}
	return nil
}

func (s *SovereignStore) List(_ context.Context, opts domain.ListOpts) ([]domain.Sovereign, error) {
	var all []domain.Sovereign
	s.v.read(func(st *state) {
		for _, sov := range st.sovereigns {
			if opts.Since != nil && sov.CreatedAt.Before(*opts.Since) {
				continue
			}
			if opts.Until != nil && sov.CreatedAt.After(*opts.Until) {
				continue
			}
			all = append(all, sov)
		}
	})
	sort.Slice(all, func(i, j int) bool { return all[i].ID > all[j].ID })
	return paginate(all, opts), nil
}

func (s *SovereignStore) ListByPhase(_ context.Context, phases []domain.Phase, limit int) ([]domain.Sovereign, error) {
	var out []domain.Sovereign
	s.v.read(func(st *state) {
		for _, sov := range st.sovereigns {
			if slices.Contains(phases, sov.Phase) {
				out = append(out, sov)
			}
		}
	})
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	if limit > 0 && len(out) > limit {
		out = out[:limit]
	}
	return out, nil
}

// DepositStore implements domain.DepositStore.
type DepositStore struct{ v view }

func (s *DepositStore) Get(_ context.Context, sovereignID uint64, depositor common.Address) (domain.DepositRecord, error) {
	var (
		out domain.DepositRecord
		ok  bool
	)
	s.v.read(func(st *state) { out, ok = st.deposits[depositKey{sovereignID, depositor}] })
	if !ok {
		return domain.DepositRecord{}, fmt.Errorf("memory: get deposit %d/%s: %w", sovereignID, depositor.Hex(), domain.ErrNotFound)
	}
	return out, nil
}

func (s *DepositStore) Upsert(_ context.Context, rec domain.DepositRecord) error {
	s.v.write(func(st *state) { st.deposits[depositKey{rec.SovereignID, rec.Depositor}] = rec })
	return nil
}

func (s *DepositStore) Delete(_ context.Context, sovereignID uint64, depositor common.Address) error {
	s.v.write(func(st *state) { delete(st.deposits, depositKey{sovereignID, depositor}) })
	return nil
}

func (s *DepositStore) ListBySovereign(_ context.Context, sovereignID uint64, opts domain.ListOpts) ([]domain.DepositRecord, error) {
	var out []domain.DepositRecord
	s.v.read(func(st *state) {
		for k, rec := range st.deposits {
			if k.sovereign == sovereignID {
				out = append(out, rec)
			}
		}
	})
	sort.Slice(out, func(i, j int) bool {
		if out[i].DepositedAt.Equal(out[j].DepositedAt) {
			return out[i].Depositor.Cmp(out[j].Depositor) < 0
		}
		return out[i].DepositedAt.Before(out[j].DepositedAt)
	})
	return paginate(out, opts), nil
}

// ClaimTokenStore implements domain.ClaimTokenStore.
type ClaimTokenStore struct{ v view }

func (s *ClaimTokenStore) Create(_ context.Context, t domain.ClaimToken) error {
	var exists bool
	s.v.write(func(st *state) {
		if _, exists = st.tokens[t.ID]; !exists {
			st.tokens[t.ID] = t
		}
	})
	if exists {
		return fmt.Errorf("memory: create claim token %s: %w", t.ID, domain.ErrAlreadyExists)
	}
	return nil
}

func (s *ClaimTokenStore) Get(_ context.Context, id string) (domain.ClaimToken, error) {
	var (
		out domain.ClaimToken
		ok  bool
	)
	s.v.read(func(st *state) { out, ok = st.tokens[id] })
	if !ok {
		return domain.ClaimToken{}, fmt.Errorf("memory: get claim token %s: %w", id, domain.ErrNotFound)
	}
	return out, nil
}

func (s *ClaimTokenStore) Update(_ context.Context, t domain.ClaimToken) error {
	var ok bool
	s.v.write(func(st *state) {
		if _, ok = st.tokens[t.ID]; ok {
			st.tokens[t.ID] = t
		}
	})
	if !ok {
		return fmt.Errorf("memory: update claim token %s: %w", t.ID, domain.ErrNotFound)
	}
	return nil
}

func (s *ClaimTokenStore) ListByHolder(_ context.Context, holder common.Address) ([]domain.ClaimToken, error) {
	var out []domain.ClaimToken
	s.v.read(func(st *state) {
		for _, t := range st.tokens {
			if t.Holder == holder && !t.Burned() {
				out = append(out, t)
			}
		}
	})
	sort.Slice(out, func(i, j int) bool { return out[i].MintedAt.Before(out[j].MintedAt) })
	return out, nil
}

// CreatorTrackerStore implements domain.CreatorTrackerStore.
type CreatorTrackerStore struct{ v view }

func (s *CreatorTrackerStore) Get(_ context.Context, sovereignID uint64) (domain.CreatorFeeTracker, error) {
	var (
		out domain.CreatorFeeTracker
		ok  bool
	)
	s.v.read(func(st *state) { out, ok = st.creators[sovereignID] })
	if !ok {
		return domain.CreatorFeeTracker{}, fmt.Errorf("memory: get creator tracker %d: %w", sovereignID, domain.ErrNotFound)
	}
	return out, nil
}

func (s *CreatorTrackerStore) Save(_ context.Context, t domain.CreatorFeeTracker) error {
	s.v.write(func(st *state) { st.creators[t.SovereignID] = t })
	return nil
}

// ProposalStore implements domain.ProposalStore.
type ProposalStore struct{ v view }

func (s *ProposalStore) Create(_ context.Context, p domain.Proposal) error {
	var exists bool
	s.v.write(func(st *state) {
		k := proposalKey{p.SovereignID, p.ID}
		if _, exists = st.proposals[k]; !exists {
			st.proposals[k] = p
		}
	})
	if exists {
		return fmt.Errorf("memory: create proposal %d/%d: %w", p.SovereignID, p.ID, domain.ErrAlreadyExists)
	}
	return nil
}

func (s *ProposalStore) Get(_ context.Context, sovereignID, id uint64) (domain.Proposal, error) {
	var (
		out domain.Proposal
		ok  bool
	)
	s.v.read(func(st *state) { out, ok = st.proposals[proposalKey{sovereignID, id}] })
	if !ok {
		return domain.Proposal{}, fmt.Errorf("memory: get proposal %d/%d: %w", sovereignID, id, domain.ErrNotFound)
	}
	return out, nil
}

func (s *ProposalStore) Update(_ context.Context, p domain.Proposal) error {
	var ok bool
	s.v.write(func(st *state) {
		k := proposalKey{p.SovereignID, p.ID}
		if _, ok = st.proposals[k]; ok {
			st.proposals[k] = p
		}
	})
	if !ok {
		return fmt.Errorf("memory: update proposal %d/%d: %w", p.SovereignID, p.ID, domain.ErrNotFound)
	}
	return nil
}

// VoteStore implements domain.VoteStore.
type VoteStore struct{ v view }

func (s *VoteStore) Create(_ context.Context, vr domain.VoteRecord) error {
	var exists bool
	s.v.write(func(st *state) {
		k := voteKey{vr.SovereignID, vr.ProposalID, vr.ClaimTokenID}
		if _, exists = st.votes[k]; !exists {
			st.votes[k] = vr
		}
	})
	if exists {
		return fmt.Errorf("memory: create vote %s: %w", vr.ClaimTokenID, domain.ErrAlreadyExists)
	}
	return nil
}

func (s *VoteStore) Get(_ context.Context, sovereignID, proposalID uint64, tokenID string) (domain.VoteRecord, error) {
	var (
		out domain.VoteRecord
		ok  bool
	)
	s.v.read(func(st *state) { out, ok = st.votes[voteKey{sovereignID, proposalID, tokenID}] })
	if !ok {
		return domain.VoteRecord{}, fmt.Errorf("memory: get vote %s: %w", tokenID, domain.ErrNotFound)
	}
	return out, nil
}

// LockStore implements domain.LockStore.
type LockStore struct{ v view }

func (s *LockStore) Get(_ context.Context, sovereignID uint64) (domain.PermanentLock, error) {
	var (
		out domain.PermanentLock
		ok  bool
	)
	s.v.read(func(st *state) { out, ok = st.locks[sovereignID] })
	if !ok {
		return domain.PermanentLock{}, fmt.Errorf("memory: get permanent lock %d: %w", sovereignID, domain.ErrNotFound)
	}
	return out, nil
}

func (s *LockStore) Save(_ context.Context, l domain.PermanentLock) error {
	s.v.write(func(st *state) { st.locks[l.SovereignID] = l })
	return nil
}

// OutboxStore implements domain.OutboxStore.
type OutboxStore struct{ v view }

func (s *OutboxStore) Enqueue(_ context.Context, e domain.OutboxEntry) error {
	s.v.write(func(st *state) {
		st.outboxSeq++
		e.Seq = st.outboxSeq
		st.outbox[e.Seq] = e
	})
	return nil
}

func (s *OutboxStore) Pending(_ context.Context, sovereignID uint64) ([]domain.OutboxEntry, error) {
	var out []domain.OutboxEntry
	s.v.read(func(st *state) {
		for _, e := range st.outbox {
			if e.SovereignID == sovereignID && !e.Delivered() {
				out = append(out, e)
			}
		}
	})
	sort.Slice(out, func(i, j int) bool { return out[i].Seq < out[j].Seq })
	return out, nil
}

func (s *OutboxStore) PendingSovereigns(_ context.Context, limit int) ([]uint64, error) {
	seen := make(map[uint64]bool)
	var out []uint64
	s.v.read(func(st *state) {
		for _, e := range st.outbox {
			if !e.Delivered() && !seen[e.SovereignID] {
				seen[e.SovereignID] = true
				out = append(out, e.SovereignID)
			}
		}
	})
	slices.Sort(out)
	if limit > 0 && len(out) > limit {
		out = out[:limit]
	}
	return out, nil
}

func (s *OutboxStore) MarkDelivered(_ context.Context, seq int64, at time.Time) error {
	return s.update(seq, func(e *domain.OutboxEntry) {
		e.DeliveredAt = at
		e.Attempts++
		e.LastError = ""
	})
}

func (s *OutboxStore) MarkFailed(_ context.Context, seq int64, reason string) error {
	return s.update(seq, func(e *domain.OutboxEntry) {
		e.Attempts++
		e.LastError = reason
	})
}

func (s *OutboxStore) update(seq int64, fn func(*domain.OutboxEntry)) error {
	var ok bool
	s.v.write(func(st *state) {
		var e domain.OutboxEntry
		if e, ok = st.outbox[seq]; ok {
			fn(&e)
			st.outbox[seq] = e
		}
	})
	if !ok {
		return fmt.Errorf("memory: outbox entry %d: %w", seq, domain.ErrNotFound)
	}
	return nil
}

func paginate[T any](items []T, opts domain.ListOpts) []T {
	if opts.Offset > 0 {
		if opts.Offset >= len(items) {
			return nil
		}
		items = items[opts.Offset:]
	}
	if opts.Limit > 0 && len(items) > opts.Limit {
		items = items[:opts.Limit]
	}
	return items
}
