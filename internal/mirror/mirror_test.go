package mirror_test

import (
	"context"
	"encoding/json"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/Martian-dev/inbox-sync/internal/mirror"
	"github.com/Martian-dev/inbox-sync/internal/model"
	"github.com/Martian-dev/inbox-sync/internal/store"
	"github.com/Martian-dev/inbox-sync/internal/store/storetest"
	"github.com/Martian-dev/inbox-sync/internal/sync"
)

func TestCalendarApplyIsIdempotent(t *testing.T) {
	ctx := context.Background()
	s := storetest.New(t)
	r := mirror.NewCalendar(s, false)

	change := sync.Upsert("e1", model.CalendarEvent{
		Subject:   model.StringPtr("Standup"),
		Attendees: model.Attendees{{Name: "Ada", Email: "ada@example.com", Type: "required"}},
	})

	o, err := r.Apply(ctx, "acct", change)
	require.NoError(t, err)
	assert.Equal(t, sync.OutcomeCreated, o)
	first, err := s.GetEventByRemote(ctx, "acct", "e1")
	require.NoError(t, err)

	o, err = r.Apply(ctx, "acct", change)
	require.NoError(t, err)
	assert.Equal(t, sync.OutcomeUpdated, o)
	second, err := s.GetEventByRemote(ctx, "acct", "e1")
	require.NoError(t, err)

	assert.Equal(t, first.ID, second.ID)
	assert.Equal(t, first.CreatedMs, second.CreatedMs)
	assert.Equal(t, "Standup", model.Deref(second.Subject))
	assert.Equal(t, model.EventConfirmed, second.Status)
	require.Len(t, second.Attendees, 1)
	assert.Equal(t, "ada@example.com", second.Attendees[0].Email)

	events, err := s.ListEvents(ctx, "acct")
	require.NoError(t, err)
	assert.Len(t, events, 1)
}

func TestCalendarCancelledKeepsRowRemovedDeletes(t *testing.T) {
	ctx := context.Background()
	s := storetest.New(t)
	r := mirror.NewCalendar(s, false)

	_, err := r.Apply(ctx, "acct", sync.Upsert("x", model.CalendarEvent{Subject: model.StringPtr("Review")}))
	require.NoError(t, err)

	o, err := r.Apply(ctx, "acct", sync.Upsert("x", model.CalendarEvent{
		Subject: model.StringPtr("Review"),
		Status:  model.EventCancelled,
	}))
	require.NoError(t, err)
	assert.Equal(t, sync.OutcomeUpdated, o)

	e, err := s.GetEventByRemote(ctx, "acct", "x")
	require.NoError(t, err)
	assert.True(t, e.Cancelled())

	o, err = r.Apply(ctx, "acct", sync.Remove[model.CalendarEvent]("x"))
	require.NoError(t, err)
	assert.Equal(t, sync.OutcomeDeleted, o)
	_, err = s.GetEventByRemote(ctx, "acct", "x")
	assert.ErrorIs(t, err, store.ErrNotFound)

	// Removing an absent row is not an error.
	o, err = r.Apply(ctx, "acct", sync.Remove[model.CalendarEvent]("x"))
	require.NoError(t, err)
	assert.Equal(t, sync.OutcomeDeleted, o)
}

func TestCalendarUpsertClearsAbsentFields(t *testing.T) {
	ctx := context.Background()
	s := storetest.New(t)
	r := mirror.NewCalendar(s, false)

	_, err := r.Apply(ctx, "acct", sync.Upsert("e1", model.CalendarEvent{
		Subject:  model.StringPtr("Lunch"),
		Location: model.StringPtr("Cafe"),
	}))
	require.NoError(t, err)
	_, err = r.Apply(ctx, "acct", sync.Upsert("e1", model.CalendarEvent{Subject: model.StringPtr("Lunch")}))
	require.NoError(t, err)

	e, err := s.GetEventByRemote(ctx, "acct", "e1")
	require.NoError(t, err)
	assert.Nil(t, e.Location)
}

func TestContactEmailFallback(t *testing.T) {
	ctx := context.Background()
	s := storetest.New(t)
	r := mirror.NewContacts(s, false, nil)

	email := "Ada@Example.com"
	manual := &model.Contact{AccountID: "acct", Email: &email, DisplayName: model.StringPtr("ada")}
	require.NoError(t, s.CreateManualContact(ctx, manual))

	o, err := r.Apply(ctx, "acct", sync.Upsert("r1", model.Contact{
		Email:       model.StringPtr("ada@example.com"),
		DisplayName: model.StringPtr("Ada Lovelace"),
	}))
	require.NoError(t, err)
	assert.Equal(t, sync.OutcomeUpdated, o)

	contacts, err := s.ListContacts(ctx, "acct")
	require.NoError(t, err)
	require.Len(t, contacts, 1)
	c := contacts[0]
	assert.Equal(t, manual.ID, c.ID)
	assert.Equal(t, "r1", model.Deref(c.RemoteID))
	assert.Equal(t, "Ada Lovelace", model.Deref(c.DisplayName))
	assert.Equal(t, model.ContactSourceRemote, c.Source)

	// Replaying resolves by remote id now.
	o, err = r.Apply(ctx, "acct", sync.Upsert("r1", model.Contact{Email: model.StringPtr("ada@example.com")}))
	require.NoError(t, err)
	assert.Equal(t, sync.OutcomeUpdated, o)
}

func TestContactEmailConflictOnUpdateIsRecordError(t *testing.T) {
	ctx := context.Background()
	s := storetest.New(t)
	r := mirror.NewContacts(s, false, nil)

	_, err := r.Apply(ctx, "acct", sync.Upsert("r1", model.Contact{Email: model.StringPtr("a@example.com")}))
	require.NoError(t, err)

	// Only inserts fall back to the email owner.
	_, err = r.Apply(ctx, "acct", sync.Upsert("r2", model.Contact{Email: model.StringPtr("b@example.com")}))
	require.NoError(t, err)
	_, err = r.Apply(ctx, "acct", sync.Upsert("r2", model.Contact{Email: model.StringPtr("a@example.com")}))
	require.Error(t, err)
	assert.True(t, store.IsUniqueViolation(err))
}

type stubPhotos struct {
	photos map[string]*model.Photo
	err    error
}

func (p *stubPhotos) ContactPhoto(_ context.Context, remoteID string) (*model.Photo, error) {
	if p.err != nil {
		return nil, p.err
	}
	if photo, ok := p.photos[remoteID]; ok {
		return photo, nil
	}
	return nil, mirror.ErrNoPhoto
}

func TestContactPhotos(t *testing.T) {
	ctx := context.Background()
	s := storetest.New(t)
	photos := &stubPhotos{photos: map[string]*model.Photo{
		"r1": {ContentType: "image/jpeg", Data: []byte{0xff, 0xd8, 0xff}},
	}}
	r := mirror.NewContacts(s, false, photos)

	_, err := r.Apply(ctx, "acct", sync.Upsert("r1", model.Contact{Email: model.StringPtr("a@example.com")}))
	require.NoError(t, err)
	c, err := s.GetContactByRemote(ctx, "acct", "r1")
	require.NoError(t, err)
	assert.Equal(t, "/9j/", model.Deref(c.PhotoBase64))
	assert.Equal(t, "image/jpeg", model.Deref(c.PhotoContentType))

	// The photo disappears remotely.
	delete(photos.photos, "r1")
	_, err = r.Apply(ctx, "acct", sync.Upsert("r1", model.Contact{Email: model.StringPtr("a@example.com")}))
	require.NoError(t, err)
	c, err = s.GetContactByRemote(ctx, "acct", "r1")
	require.NoError(t, err)
	assert.Nil(t, c.PhotoBase64)

	// Photo failures never fail the record.
	photos.err = errors.New("429 too many requests")
	o, err := r.Apply(ctx, "acct", sync.Upsert("r1", model.Contact{Email: model.StringPtr("a@example.com")}))
	require.NoError(t, err)
	assert.Equal(t, sync.OutcomeUpdated, o)
}

func TestFoldersApply(t *testing.T) {
	ctx := context.Background()
	s := storetest.New(t)
	r := mirror.NewFolders(s, false)

	o, err := r.Apply(ctx, "acct", sync.Upsert("f1", model.ContactFolder{DisplayName: model.StringPtr("Family")}))
	require.NoError(t, err)
	assert.Equal(t, sync.OutcomeCreated, o)

	folders, err := s.ListFolders(ctx, "acct")
	require.NoError(t, err)
	require.Len(t, folders, 1)
	assert.Equal(t, "Family", model.Deref(folders[0].DisplayName))

	o, err = r.Apply(ctx, "acct", sync.Remove[model.ContactFolder]("f1"))
	require.NoError(t, err)
	assert.Equal(t, sync.OutcomeDeleted, o)
	folders, err = s.ListFolders(ctx, "acct")
	require.NoError(t, err)
	assert.Empty(t, folders)
}

func TestMessagesReplyAndSoftDelete(t *testing.T) {
	ctx := context.Background()
	s := storetest.New(t)

	team := &model.Team{AccountID: "acct", RemoteID: "t1"}
	_, err := s.UpsertTeam(ctx, team)
	require.NoError(t, err)
	ch := &model.Channel{AccountID: "acct", TeamID: team.ID, TeamRemoteID: "t1", RemoteID: "c1"}
	_, err = s.UpsertChannel(ctx, ch)
	require.NoError(t, err)

	r := mirror.NewMessages(s, false, *ch)

	_, err = r.Apply(ctx, "acct", sync.Upsert("m1", model.ChatMessage{Body: model.StringPtr("hello")}))
	require.NoError(t, err)
	_, err = r.Apply(ctx, "acct", sync.Upsert("m2", model.ChatMessage{
		Body:            model.StringPtr("hi back"),
		ReplyToRemoteID: model.StringPtr("m1"),
	}))
	require.NoError(t, err)

	parent, err := s.GetMessage(ctx, "acct", ch.ID, "m1")
	require.NoError(t, err)
	reply, err := s.GetMessage(ctx, "acct", ch.ID, "m2")
	require.NoError(t, err)
	require.NotNil(t, reply.ReplyToID)
	assert.Equal(t, parent.ID, *reply.ReplyToID)

	o, err := r.Apply(ctx, "acct", sync.Upsert("m1", model.ChatMessage{IsDeleted: true}))
	require.NoError(t, err)
	assert.Equal(t, sync.OutcomeUpdated, o)
	parent, err = s.GetMessage(ctx, "acct", ch.ID, "m1")
	require.NoError(t, err)
	assert.True(t, parent.IsDeleted)

	_, err = r.Apply(ctx, "acct", sync.Remove[model.ChatMessage]("m2"))
	require.NoError(t, err)
	_, err = s.GetMessage(ctx, "acct", ch.ID, "m2")
	assert.ErrorIs(t, err, store.ErrNotFound)
}

func TestApplyEnqueuesChangeEvents(t *testing.T) {
	ctx := context.Background()
	s := storetest.New(t)
	r := mirror.NewCalendar(s, true)

	_, err := r.Apply(ctx, "user.one", sync.Upsert("e1", model.CalendarEvent{}))
	require.NoError(t, err)
	_, err = r.Apply(ctx, "user.one", sync.Remove[model.CalendarEvent]("e1"))
	require.NoError(t, err)
	// No event for a tombstone of an absent row.
	_, err = r.Apply(ctx, "user.one", sync.Remove[model.CalendarEvent]("e1"))
	require.NoError(t, err)

	msgs, err := s.DequeueOutbox(ctx, 10)
	require.NoError(t, err)
	require.Len(t, msgs, 2)
	assert.Equal(t, "mailsync.user_one.calendar.created", msgs[0].Subject)
	assert.Equal(t, "mailsync.user_one.calendar.deleted", msgs[1].Subject)

	var ev mirror.ChangeEvent
	require.NoError(t, json.Unmarshal(msgs[0].Payload, &ev))
	assert.Equal(t, "e1", ev.RemoteID)
	assert.Equal(t, "user.one", ev.AccountID)
	assert.Equal(t, ev.ID, msgs[0].MsgID)
}
