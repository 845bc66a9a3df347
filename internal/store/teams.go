package store

import (
	"context"
	"errors"
	"fmt"

	"github.com/google/uuid"

	"github.com/Martian-dev/inbox-sync/internal/model"
)

var teamTable = table{
	name:    "teams",
	columns: []string{"id", "account_id", "remote_id", "display_name", "description", "created_ms", "updated_ms"},
	frozen:  []string{"account_id", "created_ms"},
}

var channelTable = table{
	name: "team_channels",
	columns: []string{
		"id", "account_id", "team_id", "team_remote_id", "remote_id", "display_name",
		"description", "membership_type", "web_url", "email", "created_ms", "updated_ms",
	},
	frozen: []string{"account_id", "team_id", "created_ms"},
}

var messageTable = table{
	name: "team_messages",
	columns: []string{
		"id", "account_id", "channel_id", "remote_id", "reply_to_remote_id", "reply_to_id",
		"message_type", "subject", "body", "body_type", "from_user_id", "from_name", "importance",
		"web_url", "is_deleted", "remote_created_ms", "remote_updated_ms", "remote_deleted_ms",
		"created_ms", "updated_ms",
	},
	frozen: []string{"account_id", "channel_id", "created_ms"},
}

// ListTeams returns the teams known for the account.
func (s *Store) ListTeams(ctx context.Context, accountID string) ([]model.Team, error) {
	teams := []model.Team{}
	if err := teamTable.list(ctx, s.DB, &teams, "account_id = ?", "remote_id", accountID); err != nil {
		return nil, err
	}
	return teams, nil
}

// UpsertTeam writes t keyed by (account, remote id), filling t.ID, and
// reports whether the row was created.
func (s *Store) UpsertTeam(ctx context.Context, t *model.Team) (bool, error) {
	var created bool
	err := s.InTx(ctx, func(tx *Tx) error {
		now := tx.Now()
		t.UpdatedMs = now
		id, err := teamTable.idWhere(ctx, tx, "account_id = ? AND remote_id = ?", t.AccountID, t.RemoteID)
		switch {
		case errors.Is(err, ErrNotFound):
			created = true
			t.ID = uuid.NewString()
			t.CreatedMs = now
			return teamTable.insert(ctx, tx, t)
		case err != nil:
			return err
		}
		t.ID = id
		return teamTable.update(ctx, tx, t)
	})
	return created, err
}

// DeleteTeam removes the team with its channels and their messages.
func (s *Store) DeleteTeam(ctx context.Context, accountID, teamID string) error {
	return s.InTx(ctx, func(tx *Tx) error {
		if _, err := messageTable.deleteWhere(ctx, tx,
			"channel_id IN (SELECT id FROM team_channels WHERE team_id = ?)", teamID); err != nil {
			return err
		}
		if _, err := channelTable.deleteWhere(ctx, tx, "team_id = ?", teamID); err != nil {
			return err
		}
		if _, err := teamTable.deleteWhere(ctx, tx, "account_id = ? AND id = ?", accountID, teamID); err != nil {
			return err
		}
		return nil
	})
}

// ListChannels returns the channels of one team.
func (s *Store) ListChannels(ctx context.Context, accountID, teamID string) ([]model.Channel, error) {
	channels := []model.Channel{}
	if err := channelTable.list(ctx, s.DB, &channels, "account_id = ? AND team_id = ?", "remote_id", accountID, teamID); err != nil {
		return nil, err
	}
	return channels, nil
}

// ListAllChannels returns every channel of the account.
func (s *Store) ListAllChannels(ctx context.Context, accountID string) ([]model.Channel, error) {
	channels := []model.Channel{}
	if err := channelTable.list(ctx, s.DB, &channels, "account_id = ?", "team_remote_id, remote_id", accountID); err != nil {
		return nil, err
	}
	return channels, nil
}

// UpsertChannel writes c keyed by (account, remote id), filling c.ID, and
// reports whether the row was created.
func (s *Store) UpsertChannel(ctx context.Context, c *model.Channel) (bool, error) {
	if c.TeamID == "" {
		return false, fmt.Errorf("channel %s has no team", c.RemoteID)
	}
	var created bool
	err := s.InTx(ctx, func(tx *Tx) error {
		now := tx.Now()
		c.UpdatedMs = now
		id, err := channelTable.idWhere(ctx, tx, "account_id = ? AND remote_id = ?", c.AccountID, c.RemoteID)
		switch {
		case errors.Is(err, ErrNotFound):
			created = true
			c.ID = uuid.NewString()
			c.CreatedMs = now
			return channelTable.insert(ctx, tx, c)
		case err != nil:
			return err
		}
		c.ID = id
		return channelTable.update(ctx, tx, c)
	})
	return created, err
}

// DeleteChannel removes the channel and its messages.
func (s *Store) DeleteChannel(ctx context.Context, accountID, channelID string) error {
	return s.InTx(ctx, func(tx *Tx) error {
		if _, err := messageTable.deleteWhere(ctx, tx, "channel_id = ?", channelID); err != nil {
			return err
		}
		_, err := channelTable.deleteWhere(ctx, tx, "account_id = ? AND id = ?", accountID, channelID)
		return err
	})
}

// MessageIDByRemote returns the local id of a channel message or ErrNotFound.
func (tx *Tx) MessageIDByRemote(ctx context.Context, accountID, channelID, remoteID string) (string, error) {
	return messageTable.idWhere(ctx, tx, "account_id = ? AND channel_id = ? AND remote_id = ?", accountID, channelID, remoteID)
}

// InsertMessage inserts m.
func (tx *Tx) InsertMessage(ctx context.Context, m *model.ChatMessage) error {
	return messageTable.insert(ctx, tx, m)
}

// UpdateMessage overwrites the row with m.ID.
func (tx *Tx) UpdateMessage(ctx context.Context, m *model.ChatMessage) error {
	return messageTable.update(ctx, tx, m)
}

// DeleteMessageByRemote deletes a channel message and reports whether it existed.
func (tx *Tx) DeleteMessageByRemote(ctx context.Context, accountID, channelID, remoteID string) (bool, error) {
	return messageTable.deleteWhere(ctx, tx, "account_id = ? AND channel_id = ? AND remote_id = ?", accountID, channelID, remoteID)
}

// GetMessage loads one channel message.
func (s *Store) GetMessage(ctx context.Context, accountID, channelID, remoteID string) (*model.ChatMessage, error) {
	var m model.ChatMessage
	err := messageTable.get(ctx, s.DB, &m, "account_id = ? AND channel_id = ? AND remote_id = ?", accountID, channelID, remoteID)
	if err != nil {
		return nil, err
	}
	return &m, nil
}

// ListMessages returns a channel's messages oldest first.
func (s *Store) ListMessages(ctx context.Context, channelID string) ([]model.ChatMessage, error) {
	messages := []model.ChatMessage{}
	if err := messageTable.list(ctx, s.DB, &messages, "channel_id = ?", "remote_created_ms, remote_id", channelID); err != nil {
		return nil, err
	}
	return messages, nil
}
