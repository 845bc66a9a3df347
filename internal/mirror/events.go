// Package mirror applies provider change records to the relational mirror.
// Every reconciler is idempotent per (account, remote id): replaying a
// change reports "updated" and leaves the same row.
package mirror

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/Martian-dev/inbox-sync/internal/store"
	"github.com/Martian-dev/inbox-sync/internal/sync"
)

// SubjectPrefix starts every change event subject.
const SubjectPrefix = "mailsync"

// ChangeEvent is the outbox payload written next to every mirror write.
type ChangeEvent struct {
	ID         string    `json:"id"`
	Type       string    `json:"type"`
	AccountID  string    `json:"accountId"`
	Resource   string    `json:"resource"`
	RemoteID   string    `json:"remoteId"`
	LocalID    string    `json:"localId,omitempty"`
	OccurredAt time.Time `json:"occurredAt"`
}

// Subject returns mailsync.<account>.<resource>.<action>.
func Subject(accountID, resource string, o sync.Outcome) string {
	return strings.Join([]string{SubjectPrefix, token(accountID), token(resource), o.String()}, ".")
}

// token keeps a value inside a single NATS subject token.
func token(s string) string {
	return strings.NewReplacer(".", "_", " ", "_", "*", "_", ">", "_").Replace(s)
}

func emit(ctx context.Context, tx *store.Tx, accountID, resource, remoteID, localID string, o sync.Outcome) error {
	ev := ChangeEvent{
		ID:         uuid.NewString(),
		Type:       o.String(),
		AccountID:  accountID,
		Resource:   resource,
		RemoteID:   remoteID,
		LocalID:    localID,
		OccurredAt: time.UnixMilli(tx.Now()).UTC(),
	}
	payload, err := json.Marshal(ev)
	if err != nil {
		return fmt.Errorf("failed to marshal change event: %w", err)
	}
	return tx.Enqueue(ctx, Subject(accountID, resource, o), ev.Type, payload, ev.ID)
}

// writer is the part every reconciler shares: one transaction per change and
// an optional outbox entry.
type writer struct {
	store    *store.Store
	resource string
	events   bool
}

func (w writer) emit(ctx context.Context, tx *store.Tx, accountID, remoteID, localID string, o sync.Outcome) error {
	if !w.events {
		return nil
	}
	return emit(ctx, tx, accountID, w.resource, remoteID, localID, o)
}
