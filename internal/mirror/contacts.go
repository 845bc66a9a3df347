package mirror

import (
	"context"
	"errors"

	"github.com/google/uuid"
	"github.com/rs/zerolog/log"

	"github.com/Martian-dev/inbox-sync/internal/model"
	"github.com/Martian-dev/inbox-sync/internal/store"
	"github.com/Martian-dev/inbox-sync/internal/sync"
)

// ErrNoPhoto is returned by a PhotoSource when the contact has no picture.
var ErrNoPhoto = errors.New("mirror: contact has no photo")

// PhotoSource fetches contact pictures from the provider.
type PhotoSource interface {
	ContactPhoto(ctx context.Context, remoteID string) (*model.Photo, error)
}

// Contacts reconciles contacts. A new remote contact whose email already
// belongs to another row of the account takes that row over instead of
// failing on the (account, email) constraint.
type Contacts struct {
	w writer
	// Photos is optional.
	Photos PhotoSource
}

func NewContacts(s *store.Store, events bool, photos PhotoSource) *Contacts {
	return &Contacts{w: writer{store: s, resource: model.ResourceContacts, events: events}, Photos: photos}
}

var _ sync.Reconciler[model.Contact] = (*Contacts)(nil)

func (r *Contacts) Apply(ctx context.Context, accountID string, change sync.Change[model.Contact]) (sync.Outcome, error) {
	var outcome sync.Outcome
	var localID string
	err := r.w.store.InTx(ctx, func(tx *store.Tx) error {
		if change.Kind == sync.ChangeRemoved {
			outcome = sync.OutcomeDeleted
			existed, err := tx.DeleteContactByRemote(ctx, accountID, change.RemoteID)
			if err != nil || !existed {
				return err
			}
			return r.w.emit(ctx, tx, accountID, change.RemoteID, "", outcome)
		}

		c := change.Item
		c.AccountID = accountID
		c.RemoteID = &change.RemoteID
		c.Source = model.ContactSourceRemote
		if c.Email != nil {
			c.Email = model.StringPtr(model.NormalizeEmail(*c.Email))
		}
		now := tx.Now()
		c.UpdatedMs = now

		var err error
		outcome, err = r.write(ctx, tx, &c, now)
		if err != nil {
			return err
		}
		localID = c.ID
		return r.w.emit(ctx, tx, accountID, change.RemoteID, c.ID, outcome)
	})
	if err != nil {
		return outcome, err
	}

	if change.Kind == sync.ChangeUpserted && r.Photos != nil {
		r.syncPhoto(ctx, localID, change.RemoteID)
	}
	return outcome, nil
}

func (r *Contacts) write(ctx context.Context, tx *store.Tx, c *model.Contact, now int64) (sync.Outcome, error) {
	id, err := tx.ContactIDByRemote(ctx, c.AccountID, *c.RemoteID)
	if err == nil {
		c.ID = id
		return sync.OutcomeUpdated, tx.UpdateContact(ctx, c)
	}
	if !errors.Is(err, store.ErrNotFound) {
		return 0, err
	}

	c.ID = uuid.NewString()
	c.CreatedMs = now
	err = tx.Savepoint(ctx, "contact_insert", func() error { return tx.InsertContact(ctx, c) })
	if err == nil {
		return sync.OutcomeCreated, nil
	}
	if !store.IsUniqueViolation(err) || c.Email == nil {
		return 0, err
	}

	id, lookupErr := tx.ContactIDByEmail(ctx, c.AccountID, *c.Email)
	if lookupErr != nil {
		// The conflict was not on the email.
		return 0, err
	}
	log.Debug().Str("account", c.AccountID).Str("remote_id", *c.RemoteID).Str("contact_id", id).
		Msg("contact matched by email")
	c.ID = id
	return sync.OutcomeUpdated, tx.UpdateContact(ctx, c)
}

// syncPhoto is best effort: a missing photo clears the stored one and any
// other failure only logs.
func (r *Contacts) syncPhoto(ctx context.Context, localID, remoteID string) {
	logger := log.With().Str("contact_id", localID).Str("remote_id", remoteID).Logger()

	photo, err := r.Photos.ContactPhoto(ctx, remoteID)
	if errors.Is(err, ErrNoPhoto) {
		photo, err = nil, nil
	}
	if err != nil {
		logger.Warn().Err(err).Msg("skipping contact photo")
		return
	}
	if err := r.w.store.SetContactPhoto(ctx, localID, photo); err != nil {
		logger.Warn().Err(err).Msg("could not store contact photo")
	}
}
