// Package teams syncs Teams in three dependent layers: joined teams, their
// channels, then every channel's message delta feed.
package teams

import (
	"context"
	"time"

	"github.com/rs/zerolog/log"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"

	"github.com/Martian-dev/inbox-sync/internal/mirror"
	"github.com/Martian-dev/inbox-sync/internal/model"
	"github.com/Martian-dev/inbox-sync/internal/store"
	"github.com/Martian-dev/inbox-sync/internal/sync"
)

var tracer = otel.Tracer("github.com/Martian-dev/inbox-sync/internal/teams")

// Source lists teams and channels and opens per-channel message feeds.
// Teams and channels have no delta feed; they are listed in full.
type Source interface {
	JoinedTeams(ctx context.Context) ([]model.Team, error)
	Channels(ctx context.Context, teamRemoteID string) ([]model.Channel, error)
	ChannelMessages(teamRemoteID, channelRemoteID string) sync.Feed[model.ChatMessage]
}

// Result is the outcome of one driver run, per layer.
type Result struct {
	Teams       *sync.Result `json:"teams"`
	Channels    *sync.Result `json:"channels"`
	Messages    *sync.Result `json:"messages"`
	TotalErrors []string     `json:"totalErrors"`
}

// OK reports a run without errors in any layer.
func (r *Result) OK() bool {
	return len(r.TotalErrors) == 0
}

// Driver runs the three layers for one account. A failure in one team or
// channel is recorded and the driver moves on to the next.
type Driver struct {
	Store  *store.Store
	Source Source
	// Events enables outbox entries for message writes.
	Events   bool
	Options  sync.QueryOptions
	Full     bool
	OnlyDue  bool
	LeaseTTL time.Duration
	Backoff  sync.Backoff
}

// Run syncs the account.
func (d *Driver) Run(ctx context.Context, accountID string) (*Result, error) {
	ctx, span := tracer.Start(ctx, "teams.Run", trace.WithAttributes(attribute.String("sync.account", accountID)))
	defer span.End()

	res := &Result{
		Teams:    sync.NewResult(accountID, "teams"),
		Channels: sync.NewResult(accountID, "channels"),
		Messages: sync.NewResult(accountID, "messages"),
	}

	d.syncTeams(ctx, accountID, res.Teams)
	if err := ctx.Err(); err != nil {
		return res.finish(), err
	}
	d.syncChannels(ctx, accountID, res.Channels)
	if err := ctx.Err(); err != nil {
		return res.finish(), err
	}
	if err := d.syncMessages(ctx, accountID, res.Messages); err != nil {
		return res.finish(), err
	}

	res.finish()
	span.SetAttributes(attribute.Int("sync.errors", len(res.TotalErrors)))
	log.Info().
		Str("account", accountID).
		Int("teams", res.Teams.Synced).
		Int("channels", res.Channels.Synced).
		Int("messages", res.Messages.Synced).
		Int("errors", len(res.TotalErrors)).
		Msg("teams sync completed")
	return res, nil
}

func (r *Result) finish() *Result {
	r.TotalErrors = []string{}
	for _, layer := range []*sync.Result{r.Teams, r.Channels, r.Messages} {
		status := model.StatusCompleted
		if len(layer.Errors) > 0 {
			status = model.StatusFailed
		}
		layer.Finish(status)
		for _, e := range layer.Errors {
			r.TotalErrors = append(r.TotalErrors, layer.Resource+": "+e)
		}
	}
	return r
}

// syncTeams upserts the joined teams and removes the ones no longer joined
// together with their channels and messages. When the listing fails the
// known teams are kept as they are.
func (d *Driver) syncTeams(ctx context.Context, accountID string, res *sync.Result) {
	remote, err := d.Source.JoinedTeams(ctx)
	if err != nil {
		res.Errorf("list joined teams: %v", err)
		log.Error().Err(err).Str("account", accountID).Msg("could not list joined teams")
		return
	}

	seen := make(map[string]bool, len(remote))
	for i := range remote {
		t := remote[i]
		t.AccountID = accountID
		seen[t.RemoteID] = true
		created, err := d.Store.UpsertTeam(ctx, &t)
		if err != nil {
			res.Errorf("team %s: %v", t.RemoteID, err)
			continue
		}
		res.Count(outcome(created))
	}

	local, err := d.Store.ListTeams(ctx, accountID)
	if err != nil {
		res.Errorf("list local teams: %v", err)
		return
	}
	for _, t := range local {
		if seen[t.RemoteID] {
			continue
		}
		if err := d.Store.DeleteTeam(ctx, accountID, t.ID); err != nil {
			res.Errorf("delete team %s: %v", t.RemoteID, err)
			continue
		}
		log.Info().Str("account", accountID).Str("team", t.RemoteID).Msg("team no longer joined, removed")
		res.Count(sync.OutcomeDeleted)
	}
}

func (d *Driver) syncChannels(ctx context.Context, accountID string, res *sync.Result) {
	teams, err := d.Store.ListTeams(ctx, accountID)
	if err != nil {
		res.Errorf("list local teams: %v", err)
		return
	}

	for _, team := range teams {
		if ctx.Err() != nil {
			return
		}
		remote, err := d.Source.Channels(ctx, team.RemoteID)
		if err != nil {
			res.Errorf("team %s: %v", team.RemoteID, err)
			log.Warn().Err(err).Str("account", accountID).Str("team", team.RemoteID).Msg("channel listing failed")
			continue
		}

		seen := make(map[string]bool, len(remote))
		for i := range remote {
			ch := remote[i]
			ch.AccountID = accountID
			ch.TeamID = team.ID
			ch.TeamRemoteID = team.RemoteID
			seen[ch.RemoteID] = true
			created, err := d.Store.UpsertChannel(ctx, &ch)
			if err != nil {
				res.Errorf("channel %s: %v", ch.RemoteID, err)
				continue
			}
			res.Count(outcome(created))
		}

		local, err := d.Store.ListChannels(ctx, accountID, team.ID)
		if err != nil {
			res.Errorf("team %s: list local channels: %v", team.RemoteID, err)
			continue
		}
		for _, ch := range local {
			if seen[ch.RemoteID] {
				continue
			}
			if err := d.Store.DeleteChannel(ctx, accountID, ch.ID); err != nil {
				res.Errorf("delete channel %s: %v", ch.RemoteID, err)
				continue
			}
			res.Count(sync.OutcomeDeleted)
		}
	}
}

func (d *Driver) syncMessages(ctx context.Context, accountID string, res *sync.Result) error {
	channels, err := d.Store.ListAllChannels(ctx, accountID)
	if err != nil {
		res.Errorf("list local channels: %v", err)
		return nil
	}

	for _, ch := range channels {
		if err := ctx.Err(); err != nil {
			return err
		}
		resource := model.ChannelResource(ch.TeamRemoteID, ch.RemoteID)
		if d.OnlyDue {
			due, err := d.Store.Due(ctx, accountID, resource)
			if err != nil {
				res.Errorf("channel %s: %v", ch.RemoteID, err)
				continue
			}
			if !due {
				log.Debug().Str("account", accountID).Str("resource", resource).Msg("channel backing off, not due yet")
				continue
			}
		}
		runner := &sync.Runner[model.ChatMessage]{
			AccountID:  accountID,
			Resource:   resource,
			Feed:       d.Source.ChannelMessages(ch.TeamRemoteID, ch.RemoteID),
			Reconciler: mirror.NewMessages(d.Store, d.Events, ch),
			Cursors:    d.Store,
			Options:    d.Options,
			Full:       d.Full,
			LeaseTTL:   d.LeaseTTL,
			Backoff:    d.Backoff,
		}
		// A result returned with an error already carries that error.
		chRes, err := runner.Run(ctx)
		if chRes == nil {
			res.Errorf("channel %s: %v", ch.RemoteID, err)
			continue
		}
		res.Merge(chRes)
	}
	return nil
}

func outcome(created bool) sync.Outcome {
	if created {
		return sync.OutcomeCreated
	}
	return sync.OutcomeUpdated
}
