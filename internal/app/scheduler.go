package app

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/robfig/cron/v3"
	"github.com/rs/zerolog/log"

	"github.com/Martian-dev/inbox-sync/internal/config"
	"github.com/Martian-dev/inbox-sync/internal/sync"
)

// scheduledKey guards one account's scheduled pass so ticks never overlap.
const scheduledKey = "scheduled"

// Scheduler periodically syncs every configured account and prunes
// published outbox rows.
type Scheduler struct {
	cfg    config.SchedulerConfig
	svc    *Service
	retain time.Duration
	cron   *cron.Cron
	ctx    context.Context
	cancel context.CancelFunc
}

// NewScheduler creates a scheduler for svc. Published outbox rows older than
// retain are pruned hourly; zero disables pruning.
func NewScheduler(cfg config.SchedulerConfig, svc *Service, retain time.Duration) *Scheduler {
	return &Scheduler{
		cfg:    cfg,
		svc:    svc,
		retain: retain,
		cron:   cron.New(),
	}
}

// Start registers the jobs and starts the cron loop. Runs started by the
// scheduler are cancelled when ctx is.
func (s *Scheduler) Start(ctx context.Context) error {
	if !s.cfg.Enabled {
		log.Info().Msg("scheduler is disabled")
		return nil
	}

	s.ctx, s.cancel = context.WithCancel(ctx)

	if _, err := s.cron.AddFunc(s.cfg.Spec, func() { s.Tick(s.ctx) }); err != nil {
		s.cancel()
		return fmt.Errorf("failed to schedule sync %q: %w", s.cfg.Spec, err)
	}
	if s.retain > 0 {
		if _, err := s.cron.AddFunc("@hourly", func() { s.prune(s.ctx) }); err != nil {
			s.cancel()
			return fmt.Errorf("failed to schedule outbox prune: %w", err)
		}
	}

	log.Info().Str("spec", s.cfg.Spec).Int("accounts", len(s.svc.Accounts())).Msg("starting scheduler")
	s.cron.Start()
	return nil
}

// Stop stops the cron loop, cancels scheduled runs and waits for them.
func (s *Scheduler) Stop() {
	if s.cancel == nil {
		return
	}
	<-s.cron.Stop().Done()
	s.cancel()
	s.svc.Manager.Wait()
	log.Info().Msg("stopped scheduler")
}

// Tick starts one background pass per account. An account whose previous
// pass is still running is skipped.
func (s *Scheduler) Tick(ctx context.Context) {
	for _, accountID := range s.svc.Accounts() {
		accountID := accountID
		err := s.svc.Manager.Start(ctx, sync.Key(accountID, scheduledKey), func(ctx context.Context) error {
			return s.syncAccount(ctx, accountID)
		})
		if errors.Is(err, sync.ErrSyncInProgress) {
			log.Debug().Str("account", accountID).Msg("previous scheduled sync still running, skipping")
		}
	}
}

func (s *Scheduler) syncAccount(ctx context.Context, accountID string) error {
	resources, err := s.svc.Resources(accountID)
	if err != nil {
		return err
	}

	for _, resource := range resources {
		if ctx.Err() != nil {
			return ctx.Err()
		}
		report, err := s.svc.SyncDue(ctx, accountID, resource)
		switch {
		case errors.Is(err, sync.ErrSyncInProgress):
			log.Debug().Str("account", accountID).Str("resource", resource).Msg("sync already running, skipping")
		case err != nil:
			log.Error().Err(err).Str("account", accountID).Str("resource", resource).Msg("scheduled sync failed")
		case !report.OK():
			log.Warn().Str("account", accountID).Str("resource", resource).Msg("scheduled sync finished with errors")
		}
	}
	return nil
}

func (s *Scheduler) prune(ctx context.Context) {
	n, err := s.svc.Store.PruneOutbox(ctx, s.retain)
	if err != nil {
		log.Error().Err(err).Msg("outbox prune failed")
		return
	}
	if n > 0 {
		log.Info().Int64("pruned", n).Msg("outbox pruned")
	}
}
