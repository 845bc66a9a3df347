package mirror

import (
	"context"
	"errors"

	"github.com/google/uuid"

	"github.com/Martian-dev/inbox-sync/internal/model"
	"github.com/Martian-dev/inbox-sync/internal/store"
	"github.com/Martian-dev/inbox-sync/internal/sync"
)

// Messages reconciles the message feed of one channel. A message deleted in
// Teams arrives as an upsert with IsDeleted set and keeps its row.
type Messages struct {
	w       writer
	channel model.Channel
}

func NewMessages(s *store.Store, events bool, channel model.Channel) *Messages {
	return &Messages{w: writer{store: s, resource: "messages", events: events}, channel: channel}
}

var _ sync.Reconciler[model.ChatMessage] = (*Messages)(nil)

func (r *Messages) Apply(ctx context.Context, accountID string, change sync.Change[model.ChatMessage]) (sync.Outcome, error) {
	var outcome sync.Outcome
	err := r.w.store.InTx(ctx, func(tx *store.Tx) error {
		if change.Kind == sync.ChangeRemoved {
			outcome = sync.OutcomeDeleted
			existed, err := tx.DeleteMessageByRemote(ctx, accountID, r.channel.ID, change.RemoteID)
			if err != nil || !existed {
				return err
			}
			return r.w.emit(ctx, tx, accountID, change.RemoteID, "", outcome)
		}

		m := change.Item
		m.AccountID = accountID
		m.ChannelID = r.channel.ID
		m.RemoteID = change.RemoteID
		now := tx.Now()
		m.UpdatedMs = now

		m.ReplyToID = nil
		if m.ReplyToRemoteID != nil {
			parent, err := tx.MessageIDByRemote(ctx, accountID, r.channel.ID, *m.ReplyToRemoteID)
			switch {
			case err == nil:
				m.ReplyToID = &parent
			case !errors.Is(err, store.ErrNotFound):
				return err
			}
		}

		id, err := tx.MessageIDByRemote(ctx, accountID, r.channel.ID, change.RemoteID)
		switch {
		case errors.Is(err, store.ErrNotFound):
			outcome = sync.OutcomeCreated
			m.ID = uuid.NewString()
			m.CreatedMs = now
			err = tx.InsertMessage(ctx, &m)
		case err == nil:
			outcome = sync.OutcomeUpdated
			m.ID = id
			err = tx.UpdateMessage(ctx, &m)
		}
		if err != nil {
			return err
		}
		return r.w.emit(ctx, tx, accountID, change.RemoteID, m.ID, outcome)
	})
	return outcome, err
}
