package app

import (
	"context"
	"errors"
	"fmt"

	"github.com/Martian-dev/inbox-sync/internal/auth"
	"github.com/Martian-dev/inbox-sync/internal/config"
	"github.com/Martian-dev/inbox-sync/internal/mirror"
	"github.com/Martian-dev/inbox-sync/internal/model"
	"github.com/Martian-dev/inbox-sync/internal/providers/google"
	"github.com/Martian-dev/inbox-sync/internal/providers/outlook"
	"github.com/Martian-dev/inbox-sync/internal/sync"
	"github.com/Martian-dev/inbox-sync/internal/teams"
)

// Provider is one account's session with its mail provider. Every provider
// offers a calendar feed; contacts and Teams are optional capabilities.
type Provider interface {
	CalendarFeed() sync.Feed[model.CalendarEvent]
}

// ContactsProvider exposes the contact folder and contact feeds.
type ContactsProvider interface {
	ContactFoldersFeed() sync.Feed[model.ContactFolder]
	ContactsFeed() sync.Feed[model.Contact]
	mirror.PhotoSource
}

// TeamsProvider exposes joined teams and channel message feeds.
type TeamsProvider interface {
	Provider
	teams.Source
}

var (
	_ ContactsProvider = (*outlook.Client)(nil)
	_ TeamsProvider    = (*outlook.Client)(nil)
	_ Provider         = (*google.Client)(nil)
)

// ProviderFactory opens a provider session for an account.
type ProviderFactory func(ctx context.Context, acct config.AccountConfig) (Provider, error)

// NewProviderFactory returns a factory that obtains access tokens from
// tokens, or uses the account's configured access token when it has one.
func NewProviderFactory(tokens auth.TokenSource) ProviderFactory {
	return func(ctx context.Context, acct config.AccountConfig) (Provider, error) {
		src := tokens
		if acct.AccessToken != "" {
			src = auth.StaticSource(acct.AccessToken)
		}
		if src == nil {
			return nil, fmt.Errorf("account %s: no token source configured", acct.ID)
		}

		provider := auth.Provider(acct.Provider)
		tok, err := src.GetToken(ctx, acct.ServiceToken, provider)
		if err != nil {
			return nil, fmt.Errorf("account %s: failed to get %s token: %w", acct.ID, provider, err)
		}

		switch provider {
		case auth.ProviderMicrosoft:
			client, err := outlook.New(tok.AccessToken, acct.UserID)
			if err != nil {
				return nil, err
			}
			return client, nil
		case auth.ProviderGoogle:
			client, err := google.New(ctx, tok.AccessToken, acct.CalendarID)
			if err != nil {
				return nil, err
			}
			return client, nil
		default:
			return nil, errors.New("unknown provider " + acct.Provider)
		}
	}
}

// defaultResources are synced when an account lists none.
func defaultResources(provider string) []string {
	if provider == string(auth.ProviderMicrosoft) {
		return []string{model.ResourceCalendar, model.ResourceContacts, model.ResourceTeams}
	}
	return []string{model.ResourceCalendar}
}
