package mirror

import (
	"context"
	"errors"

	"github.com/google/uuid"

	"github.com/Martian-dev/inbox-sync/internal/model"
	"github.com/Martian-dev/inbox-sync/internal/store"
	"github.com/Martian-dev/inbox-sync/internal/sync"
)

// Folders reconciles contact folders.
type Folders struct {
	w writer
}

func NewFolders(s *store.Store, events bool) *Folders {
	return &Folders{w: writer{store: s, resource: model.ResourceContactFolders, events: events}}
}

var _ sync.Reconciler[model.ContactFolder] = (*Folders)(nil)

func (r *Folders) Apply(ctx context.Context, accountID string, change sync.Change[model.ContactFolder]) (sync.Outcome, error) {
	var outcome sync.Outcome
	err := r.w.store.InTx(ctx, func(tx *store.Tx) error {
		if change.Kind == sync.ChangeRemoved {
			outcome = sync.OutcomeDeleted
			existed, err := tx.DeleteFolderByRemote(ctx, accountID, change.RemoteID)
			if err != nil || !existed {
				return err
			}
			return r.w.emit(ctx, tx, accountID, change.RemoteID, "", outcome)
		}

		f := change.Item
		f.AccountID = accountID
		f.RemoteID = change.RemoteID
		now := tx.Now()
		f.UpdatedMs = now

		id, err := tx.FolderIDByRemote(ctx, accountID, change.RemoteID)
		switch {
		case errors.Is(err, store.ErrNotFound):
			outcome = sync.OutcomeCreated
			f.ID = uuid.NewString()
			f.CreatedMs = now
			err = tx.InsertFolder(ctx, &f)
		case err == nil:
			outcome = sync.OutcomeUpdated
			f.ID = id
			err = tx.UpdateFolder(ctx, &f)
		}
		if err != nil {
			return err
		}
		return r.w.emit(ctx, tx, accountID, change.RemoteID, f.ID, outcome)
	})
	return outcome, err
}
