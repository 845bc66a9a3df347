// Package model holds the rows mirrored from the provider and the sync
// bookkeeping rows. Timestamps are Unix milliseconds so the same schema works
// on sqlite and Postgres.
package model

import (
	"encoding/base64"
	"time"
)

// Resource tags of the cursor rows.
const (
	ResourceCalendar       = "calendar"
	ResourceContactFolders = "contact_folders"
	ResourceContacts       = "contacts"
	ResourceTeams          = "teams"
)

// ChannelResource is the cursor tag of one channel's message feed.
func ChannelResource(teamRemoteID, channelRemoteID string) string {
	return ResourceTeams + ":" + teamRemoteID + ":" + channelRemoteID
}

// Event statuses. A cancelled event stays in the mirror.
const (
	EventConfirmed = "confirmed"
	EventCancelled = "cancelled"
)

// Contact sources.
const (
	ContactSourceRemote = "remote"
	ContactSourceManual = "manual"
)

// CalendarEvent mirrors one provider calendar event.
type CalendarEvent struct {
	ID               string    `db:"id" json:"id"`
	AccountID        string    `db:"account_id" json:"accountId"`
	RemoteID         string    `db:"remote_id" json:"remoteId"`
	ICalUID          *string   `db:"ical_uid" json:"iCalUId,omitempty"`
	SeriesMasterID   *string   `db:"series_master_id" json:"seriesMasterId,omitempty"`
	EventType        *string   `db:"event_type" json:"type,omitempty"`
	Subject          *string   `db:"subject" json:"subject,omitempty"`
	BodyPreview      *string   `db:"body_preview" json:"bodyPreview,omitempty"`
	Body             *string   `db:"body" json:"body,omitempty"`
	BodyType         *string   `db:"body_type" json:"bodyType,omitempty"`
	Location         *string   `db:"location" json:"location,omitempty"`
	StartMs          *int64    `db:"start_ms" json:"startMs,omitempty"`
	EndMs            *int64    `db:"end_ms" json:"endMs,omitempty"`
	TimeZone         *string   `db:"time_zone" json:"timeZone,omitempty"`
	IsAllDay         bool      `db:"is_all_day" json:"isAllDay"`
	Status           string    `db:"status" json:"status"`
	ShowAs           *string   `db:"show_as" json:"showAs,omitempty"`
	Importance       *string   `db:"importance" json:"importance,omitempty"`
	Sensitivity      *string   `db:"sensitivity" json:"sensitivity,omitempty"`
	OrganizerName    *string   `db:"organizer_name" json:"organizerName,omitempty"`
	OrganizerEmail   *string   `db:"organizer_email" json:"organizerEmail,omitempty"`
	Attendees        Attendees `db:"attendees_json" json:"attendees"`
	Categories       Strings   `db:"categories_json" json:"categories"`
	WebLink          *string   `db:"web_link" json:"webLink,omitempty"`
	OnlineMeetingURL *string   `db:"online_meeting_url" json:"onlineMeetingUrl,omitempty"`
	RemoteUpdatedMs  *int64    `db:"remote_updated_ms" json:"remoteUpdatedMs,omitempty"`
	CreatedMs        int64     `db:"created_ms" json:"createdMs"`
	UpdatedMs        int64     `db:"updated_ms" json:"updatedMs"`
}

// Cancelled reports whether the provider marked the event cancelled.
func (e *CalendarEvent) Cancelled() bool {
	return e.Status == EventCancelled
}

// Attendee is one invitee of an event.
type Attendee struct {
	Name     string `json:"name,omitempty"`
	Email    string `json:"email"`
	Type     string `json:"type,omitempty"`
	Response string `json:"response,omitempty"`
}

// ContactFolder mirrors a provider contact folder.
type ContactFolder struct {
	ID             string  `db:"id" json:"id"`
	AccountID      string  `db:"account_id" json:"accountId"`
	RemoteID       string  `db:"remote_id" json:"remoteId"`
	DisplayName    *string `db:"display_name" json:"displayName,omitempty"`
	ParentRemoteID *string `db:"parent_remote_id" json:"parentRemoteId,omitempty"`
	CreatedMs      int64   `db:"created_ms" json:"createdMs"`
	UpdatedMs      int64   `db:"updated_ms" json:"updatedMs"`
}

// Contact mirrors a provider contact. RemoteID is nil for contacts created
// locally; Email is the primary address and is unique per account.
type Contact struct {
	ID               string  `db:"id" json:"id"`
	AccountID        string  `db:"account_id" json:"accountId"`
	RemoteID         *string `db:"remote_id" json:"remoteId,omitempty"`
	FolderRemoteID   *string `db:"folder_remote_id" json:"folderRemoteId,omitempty"`
	DisplayName      *string `db:"display_name" json:"displayName,omitempty"`
	GivenName        *string `db:"given_name" json:"givenName,omitempty"`
	MiddleName       *string `db:"middle_name" json:"middleName,omitempty"`
	Surname          *string `db:"surname" json:"surname,omitempty"`
	Nickname         *string `db:"nickname" json:"nickname,omitempty"`
	Email            *string `db:"email" json:"email,omitempty"`
	Emails           Strings `db:"emails_json" json:"emails"`
	Phone            *string `db:"phone" json:"phone,omitempty"`
	MobilePhone      *string `db:"mobile_phone" json:"mobilePhone,omitempty"`
	BusinessPhones   Strings `db:"business_phones_json" json:"businessPhones"`
	HomePhones       Strings `db:"home_phones_json" json:"homePhones"`
	Company          *string `db:"company" json:"company,omitempty"`
	JobTitle         *string `db:"job_title" json:"jobTitle,omitempty"`
	Department       *string `db:"department" json:"department,omitempty"`
	Street           *string `db:"street" json:"street,omitempty"`
	City             *string `db:"city" json:"city,omitempty"`
	State            *string `db:"state" json:"state,omitempty"`
	PostalCode       *string `db:"postal_code" json:"postalCode,omitempty"`
	Country          *string `db:"country" json:"country,omitempty"`
	BirthdayMs       *int64  `db:"birthday_ms" json:"birthdayMs,omitempty"`
	Notes            *string `db:"notes" json:"notes,omitempty"`
	Categories       Strings `db:"categories_json" json:"categories"`
	PhotoBase64      *string `db:"photo_base64" json:"-"`
	PhotoContentType *string `db:"photo_content_type" json:"photoContentType,omitempty"`
	Source           string  `db:"source" json:"source"`
	RemoteUpdatedMs  *int64  `db:"remote_updated_ms" json:"remoteUpdatedMs,omitempty"`
	CreatedMs        int64   `db:"created_ms" json:"createdMs"`
	UpdatedMs        int64   `db:"updated_ms" json:"updatedMs"`
}

// Photo is a contact picture as returned by the provider.
type Photo struct {
	ContentType string
	Data        []byte
}

// Base64 encodes the picture for storage.
func (p *Photo) Base64() string {
	return base64.StdEncoding.EncodeToString(p.Data)
}

// Team mirrors a joined Teams team.
type Team struct {
	ID          string  `db:"id" json:"id"`
	AccountID   string  `db:"account_id" json:"accountId"`
	RemoteID    string  `db:"remote_id" json:"remoteId"`
	DisplayName *string `db:"display_name" json:"displayName,omitempty"`
	Description *string `db:"description" json:"description,omitempty"`
	CreatedMs   int64   `db:"created_ms" json:"createdMs"`
	UpdatedMs   int64   `db:"updated_ms" json:"updatedMs"`
}

// Channel mirrors a channel of a team. TeamID is the local team row id.
type Channel struct {
	ID             string  `db:"id" json:"id"`
	AccountID      string  `db:"account_id" json:"accountId"`
	TeamID         string  `db:"team_id" json:"teamId"`
	TeamRemoteID   string  `db:"team_remote_id" json:"teamRemoteId"`
	RemoteID       string  `db:"remote_id" json:"remoteId"`
	DisplayName    *string `db:"display_name" json:"displayName,omitempty"`
	Description    *string `db:"description" json:"description,omitempty"`
	MembershipType *string `db:"membership_type" json:"membershipType,omitempty"`
	WebURL         *string `db:"web_url" json:"webUrl,omitempty"`
	Email          *string `db:"email" json:"email,omitempty"`
	CreatedMs      int64   `db:"created_ms" json:"createdMs"`
	UpdatedMs      int64   `db:"updated_ms" json:"updatedMs"`
}

// ChatMessage mirrors a channel message. A message deleted in Teams keeps
// its row with IsDeleted set.
type ChatMessage struct {
	ID              string  `db:"id" json:"id"`
	AccountID       string  `db:"account_id" json:"accountId"`
	ChannelID       string  `db:"channel_id" json:"channelId"`
	RemoteID        string  `db:"remote_id" json:"remoteId"`
	ReplyToRemoteID *string `db:"reply_to_remote_id" json:"replyToRemoteId,omitempty"`
	ReplyToID       *string `db:"reply_to_id" json:"replyToId,omitempty"`
	MessageType     *string `db:"message_type" json:"messageType,omitempty"`
	Subject         *string `db:"subject" json:"subject,omitempty"`
	Body            *string `db:"body" json:"body,omitempty"`
	BodyType        *string `db:"body_type" json:"bodyType,omitempty"`
	FromUserID      *string `db:"from_user_id" json:"fromUserId,omitempty"`
	FromName        *string `db:"from_name" json:"fromName,omitempty"`
	Importance      *string `db:"importance" json:"importance,omitempty"`
	WebURL          *string `db:"web_url" json:"webUrl,omitempty"`
	IsDeleted       bool    `db:"is_deleted" json:"isDeleted"`
	RemoteCreatedMs *int64  `db:"remote_created_ms" json:"remoteCreatedMs,omitempty"`
	RemoteUpdatedMs *int64  `db:"remote_updated_ms" json:"remoteUpdatedMs,omitempty"`
	RemoteDeletedMs *int64  `db:"remote_deleted_ms" json:"remoteDeletedMs,omitempty"`
	CreatedMs       int64   `db:"created_ms" json:"createdMs"`
	UpdatedMs       int64   `db:"updated_ms" json:"updatedMs"`
}

// SyncStatus is the state of a cursor row.
type SyncStatus string

const (
	StatusIdle      SyncStatus = "idle"
	StatusRunning   SyncStatus = "running"
	StatusCompleted SyncStatus = "completed"
	StatusFailed    SyncStatus = "failed"
)

// SyncCursor is the durable resume point for one (account, resource) key.
type SyncCursor struct {
	AccountID    string     `db:"account_id" json:"accountId"`
	Resource     string     `db:"resource" json:"resource"`
	DeltaToken   *string    `db:"delta_token" json:"-"`
	LastSyncedMs *int64     `db:"last_synced_ms" json:"lastSyncedMs,omitempty"`
	Status       SyncStatus `db:"status" json:"status"`
	LastError    *string    `db:"last_error" json:"lastError,omitempty"`
	ErrorCount   int        `db:"error_count" json:"errorCount"`
	NextRetryMs  *int64     `db:"next_retry_ms" json:"nextRetryMs,omitempty"`
	LeaseUntilMs *int64     `db:"lease_until_ms" json:"leaseUntilMs,omitempty"`
	UpdatedMs    int64      `db:"updated_ms" json:"updatedMs"`
}

// HasToken reports whether a resumable token is stored.
func (c *SyncCursor) HasToken() bool {
	return c.DeltaToken != nil && *c.DeltaToken != ""
}

// NowMs returns the current Unix milliseconds (UTC).
func NowMs() int64 {
	return time.Now().UTC().UnixMilli()
}

// MillisPtr converts an optional time to optional Unix milliseconds.
func MillisPtr(t *time.Time) *int64 {
	if t == nil || t.IsZero() {
		return nil
	}
	ms := t.UTC().UnixMilli()
	return &ms
}

// StringPtr returns nil for blank strings.
func StringPtr(s string) *string {
	if s == "" {
		return nil
	}
	return &s
}

// Deref returns the pointed-to string or "".
func Deref(s *string) string {
	if s == nil {
		return ""
	}
	return *s
}
