package store

import (
	"context"

	"github.com/Martian-dev/inbox-sync/internal/model"
)

var eventTable = table{
	name: "calendar_events",
	columns: []string{
		"id", "account_id", "remote_id", "ical_uid", "series_master_id", "event_type", "subject",
		"body_preview", "body", "body_type", "location", "start_ms", "end_ms", "time_zone",
		"is_all_day", "status", "show_as", "importance", "sensitivity", "organizer_name",
		"organizer_email", "attendees_json", "categories_json", "web_link", "online_meeting_url",
		"remote_updated_ms", "created_ms", "updated_ms",
	},
	frozen: []string{"account_id", "created_ms"},
}

// EventIDByRemote returns the local id of the event or ErrNotFound.
func (tx *Tx) EventIDByRemote(ctx context.Context, accountID, remoteID string) (string, error) {
	return eventTable.idWhere(ctx, tx, "account_id = ? AND remote_id = ?", accountID, remoteID)
}

// InsertEvent inserts e.
func (tx *Tx) InsertEvent(ctx context.Context, e *model.CalendarEvent) error {
	return eventTable.insert(ctx, tx, e)
}

// UpdateEvent overwrites the row with e.ID.
func (tx *Tx) UpdateEvent(ctx context.Context, e *model.CalendarEvent) error {
	return eventTable.update(ctx, tx, e)
}

// DeleteEventByRemote deletes the event and reports whether it existed.
func (tx *Tx) DeleteEventByRemote(ctx context.Context, accountID, remoteID string) (bool, error) {
	return eventTable.deleteWhere(ctx, tx, "account_id = ? AND remote_id = ?", accountID, remoteID)
}

// GetEventByRemote loads one event.
func (s *Store) GetEventByRemote(ctx context.Context, accountID, remoteID string) (*model.CalendarEvent, error) {
	var e model.CalendarEvent
	if err := eventTable.get(ctx, s.DB, &e, "account_id = ? AND remote_id = ?", accountID, remoteID); err != nil {
		return nil, err
	}
	return &e, nil
}

// ListEvents returns the account's events ordered by start.
func (s *Store) ListEvents(ctx context.Context, accountID string) ([]model.CalendarEvent, error) {
	events := []model.CalendarEvent{}
	if err := eventTable.list(ctx, s.DB, &events, "account_id = ?", "start_ms, remote_id", accountID); err != nil {
		return nil, err
	}
	return events, nil
}
