package store

import (
	"context"
	"fmt"
	"time"

	"github.com/Martian-dev/inbox-sync/internal/sync"
)

var _ sync.Outbox = (*Store)(nil)

// Enqueue appends an outbox entry in the caller's transaction.
func (tx *Tx) Enqueue(ctx context.Context, subject, eventType string, payload []byte, msgID string) error {
	now := tx.Now()
	_, err := tx.ExecContext(ctx, tx.Rebind(`
		INSERT INTO outbox (ts, subject, event_type, payload, msg_id, next_attempt_at)
		VALUES (?, ?, ?, ?, ?, ?)
	`), now, subject, eventType, payload, msgID, now)
	if err != nil {
		return fmt.Errorf("failed to insert outbox entry: %w", err)
	}
	return nil
}

// DequeueOutbox fetches unpublished messages that are due.
func (s *Store) DequeueOutbox(ctx context.Context, limit int) ([]sync.OutboxMessage, error) {
	messages := []sync.OutboxMessage{}
	err := s.DB.SelectContext(ctx, &messages, s.DB.Rebind(`
		SELECT id, subject, payload, msg_id, retries
		FROM outbox
		WHERE published_at IS NULL
		  AND next_attempt_at <= ?
		ORDER BY id
		LIMIT ?
	`), s.nowMs(), limit)
	if err != nil {
		return nil, fmt.Errorf("failed to query outbox: %w", err)
	}
	return messages, nil
}

// MarkPublished marks an outbox message as published.
func (s *Store) MarkPublished(ctx context.Context, id int64) error {
	_, err := s.DB.ExecContext(ctx, s.DB.Rebind(`
		UPDATE outbox SET published_at = ? WHERE id = ?
	`), s.nowMs(), id)
	if err != nil {
		return fmt.Errorf("failed to mark published: %w", err)
	}
	return nil
}

// MarkOutboxRetry bumps the retry count and pushes the next attempt out.
func (s *Store) MarkOutboxRetry(ctx context.Context, id int64, backoff time.Duration) error {
	_, err := s.DB.ExecContext(ctx, s.DB.Rebind(`
		UPDATE outbox
		SET retries = retries + 1,
		    next_attempt_at = ?
		WHERE id = ?
	`), s.Clock().Add(backoff).UTC().UnixMilli(), id)
	if err != nil {
		return fmt.Errorf("failed to mark retry: %w", err)
	}
	return nil
}

// PruneOutbox deletes entries published before now-age.
func (s *Store) PruneOutbox(ctx context.Context, age time.Duration) (int64, error) {
	res, err := s.DB.ExecContext(ctx, s.DB.Rebind(`
		DELETE FROM outbox WHERE published_at IS NOT NULL AND published_at < ?
	`), s.Clock().Add(-age).UTC().UnixMilli())
	if err != nil {
		return 0, fmt.Errorf("failed to prune outbox: %w", err)
	}
	return res.RowsAffected()
}
