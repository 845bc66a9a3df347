package mirror

import (
	"context"
	"errors"

	"github.com/google/uuid"

	"github.com/Martian-dev/inbox-sync/internal/model"
	"github.com/Martian-dev/inbox-sync/internal/store"
	"github.com/Martian-dev/inbox-sync/internal/sync"
)

// Calendar reconciles calendar events. A cancelled event is an upsert that
// keeps its row with status cancelled; only a tombstone deletes it.
type Calendar struct {
	w writer
}

// NewCalendar returns the calendar reconciler. events enables outbox entries.
func NewCalendar(s *store.Store, events bool) *Calendar {
	return &Calendar{w: writer{store: s, resource: model.ResourceCalendar, events: events}}
}

var _ sync.Reconciler[model.CalendarEvent] = (*Calendar)(nil)

// Apply writes one change.
func (r *Calendar) Apply(ctx context.Context, accountID string, change sync.Change[model.CalendarEvent]) (sync.Outcome, error) {
	var outcome sync.Outcome
	err := r.w.store.InTx(ctx, func(tx *store.Tx) error {
		if change.Kind == sync.ChangeRemoved {
			outcome = sync.OutcomeDeleted
			existed, err := tx.DeleteEventByRemote(ctx, accountID, change.RemoteID)
			if err != nil || !existed {
				return err
			}
			return r.w.emit(ctx, tx, accountID, change.RemoteID, "", outcome)
		}

		e := change.Item
		e.AccountID = accountID
		e.RemoteID = change.RemoteID
		if e.Status == "" {
			e.Status = model.EventConfirmed
		}
		now := tx.Now()
		e.UpdatedMs = now

		id, err := tx.EventIDByRemote(ctx, accountID, change.RemoteID)
		switch {
		case errors.Is(err, store.ErrNotFound):
			outcome = sync.OutcomeCreated
			e.ID = uuid.NewString()
			e.CreatedMs = now
			err = tx.InsertEvent(ctx, &e)
		case err == nil:
			outcome = sync.OutcomeUpdated
			e.ID = id
			err = tx.UpdateEvent(ctx, &e)
		}
		if err != nil {
			return err
		}
		return r.w.emit(ctx, tx, accountID, change.RemoteID, e.ID, outcome)
	})
	return outcome, err
}
