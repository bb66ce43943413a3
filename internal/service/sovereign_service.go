package service

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"maps"
	"sync"
	"time"

	"github.com/ethereum/go-ethereum/common"

	"github.com/alanyoungcy/sovereign-liquidity/internal/domain"
)

// lockTTL bounds how long a crashed process can hold a sovereign's
// distributed lock.
const lockTTL = 30 * time.Second

const protocolKey = "protocol"

func sovereignKey(id uint64) string { return fmt.Sprintf("sovereign:%d", id) }

// Notifier delivers operator alerts for selected events.
type Notifier interface {
	Notify(ctx context.Context, event, title, message string) error
}

// ReceiptSigner signs committed events so downstream consumers can verify
// they came from this deployment's authority.
type ReceiptSigner interface {
	SignReceipt(payload []byte) (string, error)
	Address() common.Address
}

// SovereignService runs every sovereign lifecycle operation. Each mutating
// call holds the sovereign's critical section for its whole duration, runs in
// one unit of work, and fans the resulting events out only after commit.
type SovereignService struct {
	uow      domain.UnitOfWork
	pool     domain.LiquidityPool
	custody  domain.Custody
	clock    domain.Clock
	bus      domain.SignalBus
	audit    domain.AuditStore
	cache    domain.SovereignCache
	notifier Notifier
	locks    domain.LockManager
	receipts ReceiptSigner
	keys     keyedMutex
	logger   *slog.Logger
}

// NewSovereignService creates a SovereignService with its required
// collaborators. Optional ones are attached with the With* methods.
func NewSovereignService(
	uow domain.UnitOfWork,
	pool domain.LiquidityPool,
	custody domain.Custody,
	clock domain.Clock,
	logger *slog.Logger,
) *SovereignService {
	if clock == nil {
		clock = domain.SystemClock{}
	}
	return &SovereignService{
		uow:     uow,
		pool:    pool,
		custody: custody,
		clock:   clock,
		logger:  logger.With(slog.String("component", "sovereign_service")),
	}
}

// WithSignalBus publishes committed events on the bus channel and stream.
func (s *SovereignService) WithSignalBus(bus domain.SignalBus) *SovereignService {
	s.bus = bus
	return s
}

// WithAudit writes every committed event to the audit log.
func (s *SovereignService) WithAudit(audit domain.AuditStore) *SovereignService {
	s.audit = audit
	return s
}

// WithCache serves sovereign reads from a snapshot cache that is invalidated
// on every commit.
func (s *SovereignService) WithCache(cache domain.SovereignCache) *SovereignService {
	s.cache = cache
	return s
}

// WithNotifier sends operator alerts for lifecycle milestones.
func (s *SovereignService) WithNotifier(n Notifier) *SovereignService {
	s.notifier = n
	return s
}

// WithLockManager adds a distributed lock on top of the in-process one, for
// deployments running more than one replica against the same database.
func (s *SovereignService) WithLockManager(lm domain.LockManager) *SovereignService {
	s.locks = lm
	return s
}

// WithReceiptSigner attaches an authority signature to each audit entry.
func (s *SovereignService) WithReceiptSigner(rs ReceiptSigner) *SovereignService {
	s.receipts = rs
	return s
}

// txn is the state handed to one operation inside its unit of work.
type txn struct {
	st     domain.Stores
	now    time.Time
	events []domain.Event
	// queued lists the sovereigns with outbox entries written by this unit
	// of work; undo the compensations for inbound pulls it already made.
	queued []uint64
	undo   []func(ctx context.Context) error
}

func (t *txn) emit(typ domain.EventType, sovereignID uint64, data map[string]any) {
	t.events = append(t.events, domain.Event{Type: typ, SovereignID: sovereignID, Data: data, At: t.now})
}

func (t *txn) claims() domain.ClaimTokens { return bearerClaims{st: t.st} }

func (t *txn) protocol(ctx context.Context) (domain.ProtocolState, error) {
	p, err := t.st.Protocol.Get(ctx)
	if err != nil {
		return domain.ProtocolState{}, fmt.Errorf("load protocol: %w", err)
	}
	return p, nil
}

// activeProtocol loads the protocol and rejects the call when it is paused.
func (t *txn) activeProtocol(ctx context.Context) (domain.ProtocolState, error) {
	p, err := t.protocol(ctx)
	if err != nil {
		return p, err
	}
	if p.Paused {
		return p, domain.ErrProtocolPaused
	}
	return p, nil
}

func (t *txn) authority(ctx context.Context, caller common.Address) (domain.ProtocolState, error) {
	p, err := t.protocol(ctx)
	if err != nil {
		return p, err
	}
	if caller != p.Authority {
		return p, domain.ErrNotAuthority
	}
	return p, nil
}

func (t *txn) sovereign(ctx context.Context, id uint64, phases ...domain.Phase) (domain.Sovereign, error) {
	sov, err := t.st.Sovereigns.Get(ctx, id)
	if err != nil {
		return domain.Sovereign{}, err
	}
	if len(phases) == 0 {
		return sov, nil
	}
	for _, p := range phases {
		if sov.Phase == p {
			return sov, nil
		}
	}
	return sov, fmt.Errorf("sovereign %d is %s: %w", id, sov.Phase, domain.ErrInvalidState)
}

func (t *txn) save(ctx context.Context, sov domain.Sovereign) error {
	sov.LastActivity = t.now
	return t.st.Sovereigns.Update(ctx, sov)
}

// mutate runs fn as one critical section on key: an in-process mutex, the
// distributed lock when configured, and a unit of work. Events recorded by fn
// are published and its outbox entries delivered only if the unit of work
// commits; otherwise the compensations it registered run.
func (s *SovereignService) mutate(ctx context.Context, key, op string, fn func(ctx context.Context, t *txn) error) error {
	release, err := s.enter(ctx, key)
	if err != nil {
		return fmt.Errorf("sovereign_service: %s: %w", op, err)
	}
	defer release()

	t := &txn{now: s.clock.Now()}
	err = s.uow.Within(ctx, func(ctx context.Context, st domain.Stores) error {
		t.st = st
		t.events = t.events[:0]
		t.queued = t.queued[:0]
		return fn(ctx, t)
	})
	if err != nil {
		s.compensate(ctx, op, t.undo)
		s.logger.DebugContext(ctx, "sovereign_service: operation rejected",
			slog.String("op", op),
			slog.String("key", key),
			slog.String("error", err.Error()),
		)
		return fmt.Errorf("sovereign_service: %s: %w", op, err)
	}

	s.publish(ctx, t.events)
	for _, id := range t.queued {
		if key != sovereignKey(id) {
			continue
		}
		if _, err := s.deliver(ctx, id); err != nil {
			s.logger.WarnContext(ctx, "sovereign_service: outbox delivery deferred",
				slog.String("op", op),
				slog.Uint64("sovereign_id", id),
				slog.String("error", err.Error()),
			)
		}
	}
	return nil
}

// enter takes the in-process mutex for key and, when configured, the
// distributed lock. The returned func releases both.
func (s *SovereignService) enter(ctx context.Context, key string) (func(), error) {
	unlock := s.keys.lock(key)
	if s.locks == nil {
		return unlock, nil
	}
	release, err := s.locks.Acquire(ctx, key, lockTTL)
	if err != nil {
		unlock()
		return nil, fmt.Errorf("acquire %s: %w", key, err)
	}
	return func() {
		release()
		unlock()
	}, nil
}

// notifiable lists the events that page an operator.
var notifiable = map[domain.EventType]string{
	domain.EventBondingComplete:       "Bonding complete",
	domain.EventBondingFailed:         "Bonding failed",
	domain.EventRecoveryComplete:      "Recovery complete",
	domain.EventUnwindPassed:          "Unwind vote passed",
	domain.EventUnwindCancelled:       "Unwind cancelled",
	domain.EventUnwound:               "Sovereign unwound",
	domain.EventEmergencyUnlocked:     "Emergency unlock",
	domain.EventRedemptionSwept:       "Redemption pool swept",
	domain.EventActivityCheckExecuted: "Activity check executed",
}

// publish fans committed events out. Failures here never undo the commit;
// they are logged and the next event is attempted.
func (s *SovereignService) publish(ctx context.Context, events []domain.Event) {
	for _, ev := range events {
		payload, err := json.Marshal(ev)
		if err != nil {
			s.logger.WarnContext(ctx, "sovereign_service: marshal event failed",
				slog.String("type", string(ev.Type)),
				slog.String("error", err.Error()),
			)
			continue
		}

		if s.bus != nil {
			if err := s.bus.Publish(ctx, domain.ChannelSovereignEvents, payload); err != nil {
				s.logger.WarnContext(ctx, "sovereign_service: publish event failed", slog.String("error", err.Error()))
			}
			if err := s.bus.StreamAppend(ctx, domain.StreamSovereignEvents, payload); err != nil {
				s.logger.WarnContext(ctx, "sovereign_service: stream append failed", slog.String("error", err.Error()))
			}
		}

		if s.audit != nil {
			detail := maps.Clone(ev.Data)
			if detail == nil {
				detail = make(map[string]any, 2)
			}
			if ev.SovereignID != 0 {
				detail["sovereign_id"] = ev.SovereignID
			}
			if s.receipts != nil {
				if sig, err := s.receipts.SignReceipt(payload); err == nil {
					detail["receipt"] = sig
					detail["signer"] = s.receipts.Address().Hex()
				} else {
					s.logger.WarnContext(ctx, "sovereign_service: sign receipt failed", slog.String("error", err.Error()))
				}
			}
			if err := s.audit.Log(ctx, string(ev.Type), detail); err != nil {
				s.logger.WarnContext(ctx, "sovereign_service: audit log failed", slog.String("error", err.Error()))
			}
		}

		if s.cache != nil && ev.SovereignID != 0 {
			if err := s.cache.Invalidate(ctx, ev.SovereignID); err != nil {
				s.logger.WarnContext(ctx, "sovereign_service: cache invalidate failed", slog.String("error", err.Error()))
			}
		}

		if title, ok := notifiable[ev.Type]; ok && s.notifier != nil {
			msg := fmt.Sprintf("sovereign %d: %s", ev.SovereignID, ev.Type)
			if err := s.notifier.Notify(ctx, string(ev.Type), title, msg); err != nil {
				s.logger.WarnContext(ctx, "sovereign_service: notify failed", slog.String("error", err.Error()))
			}
		}

		s.logger.InfoContext(ctx, "sovereign_service: "+string(ev.Type),
			slog.Uint64("sovereign_id", ev.SovereignID),
		)
	}
}

// GetSovereign returns a sovereign, from the cache when one is configured.
func (s *SovereignService) GetSovereign(ctx context.Context, id uint64) (domain.Sovereign, error) {
	if s.cache != nil {
		if sov, err := s.cache.Get(ctx, id); err == nil {
			return sov, nil
		} else if !errors.Is(err, domain.ErrNotFound) {
			s.logger.WarnContext(ctx, "sovereign_service: cache get failed", slog.String("error", err.Error()))
		}
	}
	sov, err := s.uow.Stores().Sovereigns.Get(ctx, id)
	if err != nil {
		return domain.Sovereign{}, fmt.Errorf("sovereign_service: get sovereign %d: %w", id, err)
	}
	if s.cache != nil {
		if err := s.cache.Set(ctx, sov); err != nil {
			s.logger.WarnContext(ctx, "sovereign_service: cache set failed", slog.String("error", err.Error()))
		}
	}
	return sov, nil
}

// ListSovereigns returns sovereigns newest first.
func (s *SovereignService) ListSovereigns(ctx context.Context, opts domain.ListOpts) ([]domain.Sovereign, error) {
	return s.uow.Stores().Sovereigns.List(ctx, opts)
}

// ListDeposits returns a sovereign's deposit records in pledge order.
func (s *SovereignService) ListDeposits(ctx context.Context, id uint64, opts domain.ListOpts) ([]domain.DepositRecord, error) {
	return s.uow.Stores().Deposits.ListBySovereign(ctx, id, opts)
}

// GetCreatorTracker returns the sovereign's creator fee tracker.
func (s *SovereignService) GetCreatorTracker(ctx context.Context, id uint64) (domain.CreatorFeeTracker, error) {
	return s.uow.Stores().Creators.Get(ctx, id)
}

// GetLock returns the sovereign's permanent lock.
func (s *SovereignService) GetLock(ctx context.Context, id uint64) (domain.PermanentLock, error) {
	return s.uow.Stores().Locks.Get(ctx, id)
}

// keyedMutex hands out one mutex per key. Entries are never removed; the key
// space is bounded by the number of sovereigns.
type keyedMutex struct {
	mu    sync.Mutex
	locks map[string]*sync.Mutex
}

func (k *keyedMutex) lock(key string) func() {
	k.mu.Lock()
	if k.locks == nil {
		k.locks = make(map[string]*sync.Mutex)
	}
	m, ok := k.locks[key]
	if !ok {
		m = &sync.Mutex{}
		k.locks[key] = m
	}
	k.mu.Unlock()

	m.Lock()
	return m.Unlock
}
