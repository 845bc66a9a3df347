// Package app wires providers, reconcilers and the mirror store into the
// per-resource sync entry points used by the API and the scheduler.
package app

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/rs/zerolog/log"

	"github.com/Martian-dev/inbox-sync/internal/config"
	"github.com/Martian-dev/inbox-sync/internal/mirror"
	"github.com/Martian-dev/inbox-sync/internal/model"
	"github.com/Martian-dev/inbox-sync/internal/store"
	"github.com/Martian-dev/inbox-sync/internal/sync"
	"github.com/Martian-dev/inbox-sync/internal/teams"
)

// ResourceAll syncs every resource configured for the account.
const ResourceAll = "all"

var (
	ErrUnknownAccount  = errors.New("app: unknown account")
	ErrUnknownResource = errors.New("app: unknown resource")
)

// Report is the outcome of one Sync call.
type Report struct {
	AccountID string         `json:"accountId"`
	Resource  string         `json:"resource"`
	Results   []*sync.Result `json:"results"`
	Teams     *teams.Result  `json:"teams,omitempty"`
	// Errors lists resources that could not run during an "all" sync.
	Errors []string `json:"errors"`
}

// OK reports whether every part of the sync completed without errors.
func (r *Report) OK() bool {
	if len(r.Errors) > 0 {
		return false
	}
	for _, res := range r.Results {
		if !res.OK() {
			return false
		}
	}
	return r.Teams == nil || r.Teams.OK()
}

// Service runs syncs for the configured accounts.
type Service struct {
	Store     *store.Store
	Manager   *sync.Manager
	Providers ProviderFactory
	Settings  config.SyncConfig

	accounts map[string]config.AccountConfig
	order    []string
	now      func() time.Time
}

// NewService creates a service for accounts.
func NewService(s *store.Store, providers ProviderFactory, settings config.SyncConfig, accounts []config.AccountConfig) *Service {
	svc := &Service{
		Store:     s,
		Manager:   sync.NewManager(),
		Providers: providers,
		Settings:  settings,
		accounts:  make(map[string]config.AccountConfig, len(accounts)),
		now:       time.Now,
	}
	for _, a := range accounts {
		svc.accounts[a.ID] = a
		svc.order = append(svc.order, a.ID)
	}
	return svc
}

// Accounts returns the configured account ids in configuration order.
func (s *Service) Accounts() []string {
	return append([]string(nil), s.order...)
}

// Resources returns the resources synced for an account.
func (s *Service) Resources(accountID string) ([]string, error) {
	acct, ok := s.accounts[accountID]
	if !ok {
		return nil, fmt.Errorf("%s: %w", accountID, ErrUnknownAccount)
	}
	if len(acct.Resources) > 0 {
		return acct.Resources, nil
	}
	return defaultResources(acct.Provider), nil
}

// ValidResource reports whether resource can be requested.
func ValidResource(resource string) bool {
	switch resource {
	case model.ResourceCalendar, model.ResourceContactFolders, model.ResourceContacts, model.ResourceTeams, ResourceAll:
		return true
	}
	return false
}

// Sync runs one resource, or every configured resource for ResourceAll,
// and waits for it to finish. A second call for a key that is already
// syncing fails with sync.ErrSyncInProgress.
func (s *Service) Sync(ctx context.Context, accountID, resource string, full bool) (*Report, error) {
	return s.syncWith(ctx, accountID, resource, runMode{full: full})
}

// SyncDue is Sync for background passes: keys still backing off after a
// failure are skipped, down to single Teams channels.
func (s *Service) SyncDue(ctx context.Context, accountID, resource string) (*Report, error) {
	return s.syncWith(ctx, accountID, resource, runMode{onlyDue: true})
}

type runMode struct {
	full    bool
	onlyDue bool
}

func (s *Service) syncWith(ctx context.Context, accountID, resource string, mode runMode) (*Report, error) {
	if !ValidResource(resource) {
		return nil, fmt.Errorf("%s: %w", resource, ErrUnknownResource)
	}
	acct, ok := s.accounts[accountID]
	if !ok {
		return nil, fmt.Errorf("%s: %w", accountID, ErrUnknownAccount)
	}

	provider, err := s.Providers(ctx, acct)
	if err != nil {
		return nil, err
	}

	report := &Report{AccountID: accountID, Resource: resource, Results: []*sync.Result{}, Errors: []string{}}
	if resource != ResourceAll {
		return report, s.syncResource(ctx, provider, accountID, resource, mode, report)
	}

	resources, _ := s.Resources(accountID)
	for _, r := range resources {
		if err := s.syncResource(ctx, provider, accountID, r, mode, report); err != nil {
			if ctx.Err() != nil {
				return report, ctx.Err()
			}
			report.Errors = append(report.Errors, r+": "+err.Error())
		}
	}
	return report, nil
}

func (s *Service) syncResource(ctx context.Context, p Provider, accountID, resource string, mode runMode, report *Report) error {
	switch resource {
	case model.ResourceCalendar:
		return s.guarded(ctx, accountID, resource, mode, func(ctx context.Context) error {
			return s.runCalendar(ctx, p, accountID, mode.full, report)
		})
	case model.ResourceContactFolders, model.ResourceContacts:
		cp, ok := p.(ContactsProvider)
		if !ok {
			return fmt.Errorf("%s: %w", resource, sync.ErrUnsupported)
		}
		err := s.guarded(ctx, accountID, model.ResourceContactFolders, mode, func(ctx context.Context) error {
			return s.runFolders(ctx, cp, accountID, mode.full, report)
		})
		if err != nil || resource == model.ResourceContactFolders {
			return err
		}
		return s.guarded(ctx, accountID, model.ResourceContacts, mode, func(ctx context.Context) error {
			return s.runContacts(ctx, cp, accountID, mode.full, report)
		})
	case model.ResourceTeams:
		tp, ok := p.(TeamsProvider)
		if !ok {
			return fmt.Errorf("%s: %w", resource, sync.ErrUnsupported)
		}
		return s.guarded(ctx, accountID, resource, mode, func(ctx context.Context) error {
			return s.runTeams(ctx, tp, accountID, mode, report)
		})
	}
	return fmt.Errorf("%s: %w", resource, ErrUnknownResource)
}

// guarded runs fn under the key's in-process guard. With onlyDue a key that
// is backing off is skipped.
func (s *Service) guarded(ctx context.Context, accountID, resource string, mode runMode, fn func(ctx context.Context) error) error {
	if mode.onlyDue {
		due, err := s.Store.Due(ctx, accountID, resource)
		if err != nil {
			return err
		}
		if !due {
			log.Debug().Str("account", accountID).Str("resource", resource).Msg("backing off after failure, not due yet")
			return nil
		}
	}
	return s.Manager.Run(ctx, sync.Key(accountID, resource), fn)
}

func (s *Service) backoff() sync.Backoff {
	if s.Settings.RetryBase <= 0 {
		return sync.DefaultBackoff
	}
	max := s.Settings.RetryMax
	if max < s.Settings.RetryBase {
		max = s.Settings.RetryBase
	}
	return sync.ExponentialBackoff(s.Settings.RetryBase, max)
}

func (s *Service) calendarOptions() sync.QueryOptions {
	now := s.now().UTC()
	opts := sync.QueryOptions{PageSize: s.Settings.PageSize}
	if s.Settings.CalendarPast > 0 {
		opts.Start = now.Add(-s.Settings.CalendarPast)
	}
	if s.Settings.CalendarFuture > 0 {
		opts.End = now.Add(s.Settings.CalendarFuture)
	}
	return opts
}

func (s *Service) runCalendar(ctx context.Context, p Provider, accountID string, full bool, report *Report) error {
	return run(ctx, report, &sync.Runner[model.CalendarEvent]{
		AccountID:  accountID,
		Resource:   model.ResourceCalendar,
		Feed:       p.CalendarFeed(),
		Reconciler: mirror.NewCalendar(s.Store, s.Settings.Events),
		Cursors:    s.Store,
		Options:    s.calendarOptions(),
		Full:       full,
		LeaseTTL:   s.Settings.LeaseTTL,
		Backoff:    s.backoff(),
	})
}

func (s *Service) runFolders(ctx context.Context, p ContactsProvider, accountID string, full bool, report *Report) error {
	return run(ctx, report, &sync.Runner[model.ContactFolder]{
		AccountID:  accountID,
		Resource:   model.ResourceContactFolders,
		Feed:       p.ContactFoldersFeed(),
		Reconciler: mirror.NewFolders(s.Store, s.Settings.Events),
		Cursors:    s.Store,
		Full:       full,
		LeaseTTL:   s.Settings.LeaseTTL,
		Backoff:    s.backoff(),
	})
}

func (s *Service) runContacts(ctx context.Context, p ContactsProvider, accountID string, full bool, report *Report) error {
	return run(ctx, report, &sync.Runner[model.Contact]{
		AccountID:  accountID,
		Resource:   model.ResourceContacts,
		Feed:       p.ContactsFeed(),
		Reconciler: mirror.NewContacts(s.Store, s.Settings.Events, p),
		Cursors:    s.Store,
		Options:    sync.QueryOptions{PageSize: s.Settings.PageSize},
		Full:       full,
		LeaseTTL:   s.Settings.LeaseTTL,
		Backoff:    s.backoff(),
	})
}

func (s *Service) runTeams(ctx context.Context, p TeamsProvider, accountID string, mode runMode, report *Report) error {
	d := &teams.Driver{
		Store:    s.Store,
		Source:   p,
		Events:   s.Settings.Events,
		Options:  sync.QueryOptions{PageSize: s.Settings.PageSize},
		Full:     mode.full,
		OnlyDue:  mode.onlyDue,
		LeaseTTL: s.Settings.LeaseTTL,
		Backoff:  s.backoff(),
	}
	res, err := d.Run(ctx, accountID)
	report.Teams = res
	return err
}

func run[T any](ctx context.Context, report *Report, r *sync.Runner[T]) error {
	res, err := r.Run(ctx)
	if res != nil {
		report.Results = append(report.Results, res)
	}
	if err != nil {
		log.Error().Err(err).Str("account", r.AccountID).Str("resource", r.Resource).Msg("sync aborted")
	}
	return err
}
