package service

import (
	"context"
	"errors"
	"log/slog"
	"time"

	"github.com/alanyoungcy/sovereign-liquidity/internal/domain"
)

// KeeperConfig sets how often each keeper sweep runs. Zero values take the
// defaults from NewKeeper.
type KeeperConfig struct {
	LifecycleInterval time.Duration
	FeeInterval       time.Duration
	ArchiveInterval   time.Duration
	OutboxInterval    time.Duration
	BatchSize         int
}

// Keeper drives the permissionless parts of the lifecycle so that no
// sovereign stalls waiting for someone to call it: expired bonding, vote
// and observation deadlines, finalization, activity checks, periodic fee
// collection, redelivery of queued payouts, and cold-storage archiving.
type Keeper struct {
	svc      *SovereignService
	archiver domain.Archiver
	cfg      KeeperConfig
	logger   *slog.Logger

	archivedMonth time.Time
}

// NewKeeper creates a Keeper. archiver may be nil.
func NewKeeper(svc *SovereignService, archiver domain.Archiver, cfg KeeperConfig, logger *slog.Logger) *Keeper {
	if cfg.LifecycleInterval <= 0 {
		cfg.LifecycleInterval = time.Minute
	}
	if cfg.FeeInterval <= 0 {
		cfg.FeeInterval = 15 * time.Minute
	}
	if cfg.ArchiveInterval <= 0 {
		cfg.ArchiveInterval = 24 * time.Hour
	}
	if cfg.OutboxInterval <= 0 {
		cfg.OutboxInterval = 30 * time.Second
	}
	if cfg.BatchSize <= 0 {
		cfg.BatchSize = 500
	}
	return &Keeper{
		svc:      svc,
		archiver: archiver,
		cfg:      cfg,
		logger:   logger.With(slog.String("component", "keeper")),
	}
}

// Run sweeps until ctx is cancelled. Call in a goroutine.
func (k *Keeper) Run(ctx context.Context) error {
	lifecycle := time.NewTicker(k.cfg.LifecycleInterval)
	defer lifecycle.Stop()
	fees := time.NewTicker(k.cfg.FeeInterval)
	defer fees.Stop()
	archive := time.NewTicker(k.cfg.ArchiveInterval)
	defer archive.Stop()
	outbox := time.NewTicker(k.cfg.OutboxInterval)
	defer outbox.Stop()

	k.logger.InfoContext(ctx, "keeper started",
		slog.Duration("lifecycle", k.cfg.LifecycleInterval),
		slog.Duration("fees", k.cfg.FeeInterval),
		slog.Duration("archive", k.cfg.ArchiveInterval),
		slog.Duration("outbox", k.cfg.OutboxInterval),
	)
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-lifecycle.C:
			if err := k.Lifecycle(ctx); err != nil {
				k.logger.ErrorContext(ctx, "keeper lifecycle sweep failed", slog.String("error", err.Error()))
			}
		case <-fees.C:
			if err := k.CollectFees(ctx); err != nil {
				k.logger.ErrorContext(ctx, "keeper fee sweep failed", slog.String("error", err.Error()))
			}
		case <-outbox.C:
			if err := k.DeliverOutbox(ctx); err != nil {
				k.logger.ErrorContext(ctx, "keeper outbox sweep failed", slog.String("error", err.Error()))
			}
		case <-archive.C:
			if err := k.Archive(ctx); err != nil {
				k.logger.ErrorContext(ctx, "keeper archive failed", slog.String("error", err.Error()))
			}
		}
	}
}

// Lifecycle advances every sovereign whose next step is due. Only listing
// failures are returned; a failing sovereign is logged and skipped.
func (k *Keeper) Lifecycle(ctx context.Context) error {
	sovs, err := k.svc.uow.Stores().Sovereigns.ListByPhase(ctx, []domain.Phase{
		domain.PhaseBonding,
		domain.PhaseFinalizing,
		domain.PhasePoolCreated,
		domain.PhaseActive,
		domain.PhaseUnwinding,
	}, k.cfg.BatchSize)
	if err != nil {
		return err
	}
	now := k.svc.clock.Now()
	for _, sov := range sovs {
		if err := k.advance(ctx, sov, now); err != nil {
			k.logger.WarnContext(ctx, "keeper advance failed",
				slog.Uint64("sovereign_id", sov.ID),
				slog.String("phase", string(sov.Phase)),
				slog.String("error", err.Error()),
			)
		}
	}
	return nil
}

func (k *Keeper) advance(ctx context.Context, sov domain.Sovereign, now time.Time) error {
	switch sov.Phase {
	case domain.PhaseBonding:
		if deadlinePassed(now, sov.BondDeadline) && sov.TotalDeposited < sov.BondTarget {
			return k.svc.MarkFailed(ctx, sov.ID)
		}
	case domain.PhaseFinalizing:
		if _, err := k.svc.FinalizeCreatePool(ctx, sov.ID); err != nil {
			return err
		}
		_, err := k.svc.FinalizeAddLiquidity(ctx, sov.ID)
		return err
	case domain.PhasePoolCreated:
		_, err := k.svc.FinalizeAddLiquidity(ctx, sov.ID)
		return err
	case domain.PhaseActive:
		if sov.HasActiveProposal {
			p, err := k.svc.GetProposal(ctx, sov.ID, sov.ActiveProposalID)
			if err != nil {
				return err
			}
			if p.Status == domain.ProposalActive && deadlinePassed(now, p.VotingEndsAt) {
				_, err = k.svc.FinalizeVote(ctx, sov.ID, p.ID)
				return err
			}
		}
		if sov.ActivityCheckPending && !now.Before(sov.ActivityCheckInitiatedAt.Add(domain.ActivityCheckPeriod)) {
			_, err := k.svc.ExecuteActivityCheck(ctx, sov.ID)
			return err
		}
	case domain.PhaseUnwinding:
		p, err := k.svc.GetProposal(ctx, sov.ID, sov.ActiveProposalID)
		if err != nil {
			return err
		}
		if p.Status == domain.ProposalPassed && !now.Before(p.ObservationEndsAt) {
			_, err = k.svc.ExecuteUnwind(ctx, sov.ID, p.ID)
			return err
		}
	}
	return nil
}

// CollectFees runs ClaimFees on every Recovery and Active sovereign.
func (k *Keeper) CollectFees(ctx context.Context) error {
	sovs, err := k.svc.uow.Stores().Sovereigns.ListByPhase(ctx,
		[]domain.Phase{domain.PhaseRecovery, domain.PhaseActive}, k.cfg.BatchSize)
	if err != nil {
		return err
	}
	for _, sov := range sovs {
		d, err := k.svc.ClaimFees(ctx, sov.ID)
		switch {
		case errors.Is(err, domain.ErrNothingToClaim):
			k.logger.DebugContext(ctx, "keeper: no fees accrued", slog.Uint64("sovereign_id", sov.ID))
		case err != nil:
			k.logger.WarnContext(ctx, "keeper claim fees failed",
				slog.Uint64("sovereign_id", sov.ID),
				slog.String("error", err.Error()),
			)
		default:
			k.logger.DebugContext(ctx, "keeper: fees collected",
				slog.Uint64("sovereign_id", sov.ID),
				slog.Uint64("funding", d.FundingCollected),
				slog.Uint64("traded", d.TradedCollected),
			)
		}
	}
	return nil
}

// DeliverOutbox retries undelivered payouts, burns and pool changes for every
// sovereign that has some. A sovereign whose head entry still fails is logged
// and retried on the next sweep.
func (k *Keeper) DeliverOutbox(ctx context.Context) error {
	ids, err := k.svc.uow.Stores().Outbox.PendingSovereigns(ctx, k.cfg.BatchSize)
	if err != nil {
		return err
	}
	for _, id := range ids {
		n, err := k.svc.DeliverPending(ctx, id)
		if err != nil {
			k.logger.WarnContext(ctx, "keeper outbox delivery failed",
				slog.Uint64("sovereign_id", id),
				slog.Int("delivered", n),
				slog.String("error", err.Error()),
			)
			continue
		}
		k.logger.DebugContext(ctx, "keeper: outbox delivered",
			slog.Uint64("sovereign_id", id),
			slog.Int("delivered", n),
		)
	}
	return nil
}

// Archive exports a sovereign snapshot on every run and, once per calendar
// month, moves audit entries and stream events older than the month's start
// to cold storage.
func (k *Keeper) Archive(ctx context.Context) error {
	if k.archiver == nil {
		return nil
	}
	now := k.svc.clock.Now()
	n, err := k.archiver.SnapshotSovereigns(ctx, now)
	if err != nil {
		return err
	}
	k.logger.InfoContext(ctx, "keeper: sovereign snapshot exported", slog.Int64("count", n))

	month := time.Date(now.Year(), now.Month(), 1, 0, 0, 0, 0, time.UTC)
	if k.archivedMonth.Equal(month) {
		return nil
	}
	audit, err := k.archiver.ArchiveAudit(ctx, month)
	if err != nil {
		return err
	}
	events, err := k.archiver.ArchiveEvents(ctx, month)
	if err != nil {
		return err
	}
	k.archivedMonth = month
	k.logger.InfoContext(ctx, "keeper: history archived",
		slog.Time("before", month),
		slog.Int64("audit", audit),
		slog.Int64("events", events),
	)
	return nil
}
