// Package scheduler ticks periodically, finds campaigns due to dial, and
// hands each selected contact off to the call executor — bounded by each
// campaign's own concurrentCalls ceiling and guarded against overlapping
// ticks on the same campaign.
package scheduler

import (
	"context"
	"log/slog"
	"sync"
	"time"

	"github.com/voxdialer/engine/internal/database"
	"github.com/voxdialer/engine/internal/database/models"
)

// Caller is the subset of callengine.Executor the scheduler depends on.
// Declared here, not imported from callengine, so tests can substitute a
// fake without constructing a real telephony stack.
type Caller interface {
	CallWithTTS(ctx context.Context, ownerUserID int64, campaign *models.Campaign, contact *models.Contact)
}

// Scheduler drives the dial loop: one tick per SchedulerTick, one pass over
// every due campaign per tick, up to BatchMax contacts claimed per campaign
// per pass.
type Scheduler struct {
	campaigns database.CampaignRepository
	contacts  database.ContactRepository
	budgets   database.ChannelBudgetRepository
	caller    Caller
	logger    *slog.Logger

	tickInterval time.Duration
	batchMax     int

	locks *lockRegistry
}

// New creates a Scheduler. Call Run to start the tick loop and RecoverOnStart
// once before Run to clear any contacts left CALLING by a previous process.
func New(
	campaigns database.CampaignRepository,
	contacts database.ContactRepository,
	budgets database.ChannelBudgetRepository,
	caller Caller,
	tickInterval time.Duration,
	batchMax int,
	staleLockTimeout, lockSweepInterval time.Duration,
	logger *slog.Logger,
) *Scheduler {
	log := logger.With("subsystem", "scheduler")
	return &Scheduler{
		campaigns:    campaigns,
		contacts:     contacts,
		budgets:      budgets,
		caller:       caller,
		logger:       log,
		tickInterval: tickInterval,
		batchMax:     batchMax,
		locks:        newLockRegistry(staleLockTimeout, lockSweepInterval, log),
	}
}

// RecoverOnStart resets contacts orphaned by a prior process crash back to
// FAILED and recomputes every affected owner's channel budget from ground
// truth, so a restart never leaves stale reservations behind.
func (s *Scheduler) RecoverOnStart(ctx context.Context) error {
	campaignIDs, err := s.contacts.RecoverOrphaned(ctx)
	if err != nil {
		return err
	}
	if len(campaignIDs) == 0 {
		return nil
	}

	seen := make(map[int64]struct{})
	for _, campaignID := range campaignIDs {
		c, err := s.campaigns.GetByID(ctx, campaignID)
		if err != nil || c == nil {
			continue
		}
		if _, ok := seen[c.OwnerUserID]; ok {
			continue
		}
		seen[c.OwnerUserID] = struct{}{}
		if err := s.budgets.Recompute(ctx, c.OwnerUserID); err != nil {
			s.logger.Error("recomputing channel budget on startup", "owner_user_id", c.OwnerUserID, "error", err)
		}
	}
	s.logger.Info("recovered orphaned contacts on startup", "campaigns_affected", len(campaignIDs))
	return nil
}

// Run blocks ticking every tickInterval until ctx is cancelled.
func (s *Scheduler) Run(ctx context.Context) {
	go s.locks.runSweeper(ctx)

	ticker := time.NewTicker(s.tickInterval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			s.tick(ctx)
		}
	}
}

func (s *Scheduler) tick(ctx context.Context) {
	now := time.Now().Unix()
	due, err := s.campaigns.ListDue(ctx, now, now)
	if err != nil {
		s.logger.Error("listing due campaigns", "error", err)
		return
	}

	for i := range due {
		campaign := due[i]
		if !s.locks.tryAcquire(campaign.ID) {
			continue // another tick (or a slow previous tick) still owns this campaign
		}
		go func(c models.Campaign) {
			defer s.locks.release(c.ID)
			s.processCampaign(ctx, &c)
		}(campaign)
	}
}

// processCampaign claims dialable contacts bounded by the campaign's own
// concurrentCalls ceiling — independent of the owner's channel budget,
// which is reserved for the campaign's whole lifetime at create time, not
// per dial — and dispatches each to the caller.
func (s *Scheduler) processCampaign(ctx context.Context, campaign *models.Campaign) {
	if campaign.Status == models.CampaignScheduled {
		if err := s.campaigns.UpdateStatus(ctx, campaign.ID, models.CampaignRunning); err != nil {
			s.logger.Error("transitioning campaign to running", "campaign_id", campaign.ID, "error", err)
		}
	}

	active, err := s.contacts.CountCalling(ctx, campaign.ID)
	if err != nil {
		s.logger.Error("counting active calls for campaign", "campaign_id", campaign.ID, "error", err)
		return
	}

	free := campaign.ConcurrentCalls - int(active)
	if free <= 0 {
		return
	}

	limit := s.batchMax
	if free < limit {
		limit = free
	}

	selections, err := s.contacts.SelectForDialing(ctx, campaign.ID, campaign.MaxRetries, limit)
	if err != nil {
		s.logger.Error("selecting contacts for dialing", "campaign_id", campaign.ID, "error", err)
		return
	}
	if len(selections) == 0 {
		s.maybeComplete(ctx, campaign)
		return
	}

	dispatched := 0
	for _, sel := range selections {
		if err := sel.Commit(ctx); err != nil {
			s.logger.Error("committing contact selection", "contact_id", sel.Contact.ID, "error", err)
			_ = sel.Cancel()
			continue
		}

		dispatched++
		contact := sel.Contact
		go s.caller.CallWithTTS(context.Background(), campaign.OwnerUserID, campaign, contact)
	}

	s.logger.Debug("scheduler tick dispatched contacts", "campaign_id", campaign.ID, "dispatched", dispatched, "claimed", len(selections))
}

func (s *Scheduler) maybeComplete(ctx context.Context, campaign *models.Campaign) {
	pending, err := s.contacts.CountPending(ctx, campaign.ID)
	if err != nil {
		s.logger.Error("counting pending contacts", "campaign_id", campaign.ID, "error", err)
		return
	}
	if pending == 0 && campaign.Status == models.CampaignRunning {
		if err := s.campaigns.UpdateStatus(ctx, campaign.ID, models.CampaignCompleted); err != nil {
			s.logger.Error("completing campaign", "campaign_id", campaign.ID, "error", err)
			return
		}
		if err := s.budgets.Release(ctx, campaign.OwnerUserID, campaign.ConcurrentCalls); err != nil {
			s.logger.Error("releasing channel budget on campaign completion",
				"campaign_id", campaign.ID, "owner_user_id", campaign.OwnerUserID, "error", err)
		}
		s.logger.Info("campaign completed, no contacts remaining", "campaign_id", campaign.ID)
	}
}

// lockRegistry is a per-campaign mutual-exclusion guard so two overlapping
// ticks never dial the same campaign's batch concurrently. Locks older than
// staleTimeout are force-released by the sweeper, protecting against a
// goroutine that panicked or hung without releasing its own lock.
type lockRegistry struct {
	mu            sync.Mutex
	held          map[int64]time.Time
	staleTimeout  time.Duration
	sweepInterval time.Duration
	logger        *slog.Logger
}

func newLockRegistry(staleTimeout, sweepInterval time.Duration, logger *slog.Logger) *lockRegistry {
	return &lockRegistry{
		held:          make(map[int64]time.Time),
		staleTimeout:  staleTimeout,
		sweepInterval: sweepInterval,
		logger:        logger.With("component", "lock-registry"),
	}
}

func (l *lockRegistry) tryAcquire(campaignID int64) bool {
	l.mu.Lock()
	defer l.mu.Unlock()
	if _, held := l.held[campaignID]; held {
		return false
	}
	l.held[campaignID] = time.Now()
	return true
}

func (l *lockRegistry) release(campaignID int64) {
	l.mu.Lock()
	defer l.mu.Unlock()
	delete(l.held, campaignID)
}

func (l *lockRegistry) runSweeper(ctx context.Context) {
	ticker := time.NewTicker(l.sweepInterval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			l.sweepStale()
		}
	}
}

func (l *lockRegistry) sweepStale() {
	l.mu.Lock()
	defer l.mu.Unlock()
	now := time.Now()
	for campaignID, acquiredAt := range l.held {
		if now.Sub(acquiredAt) > l.staleTimeout {
			l.logger.Warn("force-releasing stale campaign lock", "campaign_id", campaignID, "held_for", now.Sub(acquiredAt))
			delete(l.held, campaignID)
		}
	}
}
