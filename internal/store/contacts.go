package store

import (
	"context"
	"fmt"

	"github.com/google/uuid"

	"github.com/Martian-dev/inbox-sync/internal/model"
)

var contactTable = table{
	name: "contacts",
	columns: []string{
		"id", "account_id", "remote_id", "folder_remote_id", "display_name", "given_name",
		"middle_name", "surname", "nickname", "email", "emails_json", "phone", "mobile_phone",
		"business_phones_json", "home_phones_json", "company", "job_title", "department",
		"street", "city", "state", "postal_code", "country", "birthday_ms", "notes",
		"categories_json", "photo_base64", "photo_content_type", "source", "remote_updated_ms",
		"created_ms", "updated_ms",
	},
	// The photo is written separately by SetContactPhoto.
	frozen: []string{"account_id", "created_ms", "photo_base64", "photo_content_type"},
}

var folderTable = table{
	name:    "contact_folders",
	columns: []string{"id", "account_id", "remote_id", "display_name", "parent_remote_id", "created_ms", "updated_ms"},
	frozen:  []string{"account_id", "created_ms"},
}

// ContactIDByRemote returns the local id of the contact or ErrNotFound.
func (tx *Tx) ContactIDByRemote(ctx context.Context, accountID, remoteID string) (string, error) {
	return contactTable.idWhere(ctx, tx, "account_id = ? AND remote_id = ?", accountID, remoteID)
}

// ContactIDByEmail returns the local id of the contact owning email.
func (tx *Tx) ContactIDByEmail(ctx context.Context, accountID, email string) (string, error) {
	return contactTable.idWhere(ctx, tx, "account_id = ? AND email = ?", accountID, email)
}

// InsertContact inserts c. A conflicting email surfaces as a unique
// violation; run it inside Savepoint to recover.
func (tx *Tx) InsertContact(ctx context.Context, c *model.Contact) error {
	return contactTable.insert(ctx, tx, c)
}

// UpdateContact overwrites the row with c.ID, including its remote id.
func (tx *Tx) UpdateContact(ctx context.Context, c *model.Contact) error {
	return contactTable.update(ctx, tx, c)
}

// DeleteContactByRemote deletes the contact and reports whether it existed.
func (tx *Tx) DeleteContactByRemote(ctx context.Context, accountID, remoteID string) (bool, error) {
	return contactTable.deleteWhere(ctx, tx, "account_id = ? AND remote_id = ?", accountID, remoteID)
}

// SetContactPhoto stores the photo base64 encoded. A nil photo clears it.
func (s *Store) SetContactPhoto(ctx context.Context, id string, photo *model.Photo) error {
	var data, contentType *string
	if photo != nil {
		encoded := photo.Base64()
		data = &encoded
		contentType = model.StringPtr(photo.ContentType)
	}
	_, err := s.DB.ExecContext(ctx, s.DB.Rebind(`
		UPDATE contacts SET photo_base64 = ?, photo_content_type = ?, updated_ms = ? WHERE id = ?
	`), data, contentType, s.nowMs(), id)
	if err != nil {
		return fmt.Errorf("failed to store contact photo: %w", err)
	}
	return nil
}

// CreateManualContact inserts a contact that has no remote id.
func (s *Store) CreateManualContact(ctx context.Context, c *model.Contact) error {
	if c.Email == nil {
		return fmt.Errorf("manual contact needs an email")
	}
	now := s.nowMs()
	if c.ID == "" {
		c.ID = uuid.NewString()
	}
	c.RemoteID = nil
	c.Source = model.ContactSourceManual
	email := model.NormalizeEmail(*c.Email)
	c.Email = &email
	c.CreatedMs, c.UpdatedMs = now, now
	return contactTable.insert(ctx, s.DB, c)
}

// GetContact loads a contact by local id.
func (s *Store) GetContact(ctx context.Context, id string) (*model.Contact, error) {
	var c model.Contact
	if err := contactTable.get(ctx, s.DB, &c, "id = ?", id); err != nil {
		return nil, err
	}
	return &c, nil
}

// GetContactByRemote loads a contact by remote id.
func (s *Store) GetContactByRemote(ctx context.Context, accountID, remoteID string) (*model.Contact, error) {
	var c model.Contact
	if err := contactTable.get(ctx, s.DB, &c, "account_id = ? AND remote_id = ?", accountID, remoteID); err != nil {
		return nil, err
	}
	return &c, nil
}

// ListContacts returns the account's contacts.
func (s *Store) ListContacts(ctx context.Context, accountID string) ([]model.Contact, error) {
	contacts := []model.Contact{}
	if err := contactTable.list(ctx, s.DB, &contacts, "account_id = ?", "email, id", accountID); err != nil {
		return nil, err
	}
	return contacts, nil
}

// FolderIDByRemote returns the local id of the folder or ErrNotFound.
func (tx *Tx) FolderIDByRemote(ctx context.Context, accountID, remoteID string) (string, error) {
	return folderTable.idWhere(ctx, tx, "account_id = ? AND remote_id = ?", accountID, remoteID)
}

// InsertFolder inserts f.
func (tx *Tx) InsertFolder(ctx context.Context, f *model.ContactFolder) error {
	return folderTable.insert(ctx, tx, f)
}

// UpdateFolder overwrites the row with f.ID.
func (tx *Tx) UpdateFolder(ctx context.Context, f *model.ContactFolder) error {
	return folderTable.update(ctx, tx, f)
}

// DeleteFolderByRemote deletes the folder and reports whether it existed.
func (tx *Tx) DeleteFolderByRemote(ctx context.Context, accountID, remoteID string) (bool, error) {
	return folderTable.deleteWhere(ctx, tx, "account_id = ? AND remote_id = ?", accountID, remoteID)
}

// ListFolders returns the account's contact folders.
func (s *Store) ListFolders(ctx context.Context, accountID string) ([]model.ContactFolder, error) {
	folders := []model.ContactFolder{}
	if err := folderTable.list(ctx, s.DB, &folders, "account_id = ?", "remote_id", accountID); err != nil {
		return nil, err
	}
	return folders, nil
}
