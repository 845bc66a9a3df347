package app_test

import (
	"context"
	gosync "sync"

	"github.com/Martian-dev/inbox-sync/internal/mirror"
	"github.com/Martian-dev/inbox-sync/internal/model"
	"github.com/Martian-dev/inbox-sync/internal/sync"
)

// deltaFeed returns its changes on a fresh start and nothing on resume, both
// ending with the same delta link.
type deltaFeed[T any] struct {
	mu      gosync.Mutex
	changes []sync.Change[T]
	token   string
	fresh   []sync.QueryOptions
	resumed []string
	block   chan struct{}
}

func (f *deltaFeed[T]) StartFresh(ctx context.Context, opts sync.QueryOptions) (*sync.Page[T], error) {
	if f.block != nil {
		select {
		case <-f.block:
		case <-ctx.Done():
			return nil, ctx.Err()
		}
	}
	f.mu.Lock()
	defer f.mu.Unlock()
	f.fresh = append(f.fresh, opts)
	return &sync.Page[T]{Changes: f.changes, Next: sync.DeltaLink(f.token)}, nil
}

func (f *deltaFeed[T]) Resume(_ context.Context, link string) (*sync.Page[T], error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.resumed = append(f.resumed, link)
	return &sync.Page[T]{Next: sync.DeltaLink(f.token)}, nil
}

func (f *deltaFeed[T]) freshCount() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.fresh)
}

// calendarOnly behaves like a Google account.
type calendarOnly struct {
	calendar *deltaFeed[model.CalendarEvent]
}

func (p *calendarOnly) CalendarFeed() sync.Feed[model.CalendarEvent] { return p.calendar }

// fullProvider behaves like a Microsoft account.
type fullProvider struct {
	calendarOnly
	folders  *deltaFeed[model.ContactFolder]
	contacts *deltaFeed[model.Contact]
	messages *deltaFeed[model.ChatMessage]
	teams    []model.Team
	channels map[string][]model.Channel
}

func (p *fullProvider) ContactFoldersFeed() sync.Feed[model.ContactFolder] { return p.folders }
func (p *fullProvider) ContactsFeed() sync.Feed[model.Contact] { return p.contacts }

func (p *fullProvider) ContactPhoto(context.Context, string) (*model.Photo, error) {
	return nil, mirror.ErrNoPhoto
}

func (p *fullProvider) JoinedTeams(context.Context) ([]model.Team, error) { return p.teams, nil }

func (p *fullProvider) Channels(_ context.Context, teamRemoteID string) ([]model.Channel, error) {
	return p.channels[teamRemoteID], nil
}

func (p *fullProvider) ChannelMessages(string, string) sync.Feed[model.ChatMessage] {
	return p.messages
}

func newCalendarFeed() *deltaFeed[model.CalendarEvent] {
	return &deltaFeed[model.CalendarEvent]{
		changes: []sync.Change[model.CalendarEvent]{
			sync.Upsert("e1", model.CalendarEvent{Subject: model.StringPtr("Standup")}),
			sync.Upsert("e2", model.CalendarEvent{Subject: model.StringPtr("Review")}),
		},
		token: "cal-delta-1",
	}
}

func newFullProvider() *fullProvider {
	return &fullProvider{
		calendarOnly: calendarOnly{calendar: newCalendarFeed()},
		folders: &deltaFeed[model.ContactFolder]{
			changes: []sync.Change[model.ContactFolder]{
				sync.Upsert("f1", model.ContactFolder{DisplayName: model.StringPtr("Work")}),
			},
			token: "folders-delta",
		},
		contacts: &deltaFeed[model.Contact]{
			changes: []sync.Change[model.Contact]{
				sync.Upsert("c1", model.Contact{Email: model.StringPtr("Ann@Example.com")}),
			},
			token: "contacts-delta",
		},
		messages: &deltaFeed[model.ChatMessage]{
			changes: []sync.Change[model.ChatMessage]{
				sync.Upsert("m1", model.ChatMessage{Body: model.StringPtr("hello")}),
			},
			token: "messages-delta",
		},
		teams: []model.Team{{RemoteID: "t1", DisplayName: model.StringPtr("Eng")}},
		channels: map[string][]model.Channel{
			"t1": {{RemoteID: "ch1", DisplayName: model.StringPtr("General")}},
		},
	}
}
