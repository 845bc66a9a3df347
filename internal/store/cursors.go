package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/Martian-dev/inbox-sync/internal/model"
	"github.com/Martian-dev/inbox-sync/internal/sync"
)

var _ sync.CursorStore = (*Store)(nil)

var cursorTable = table{
	name: "sync_cursors",
	columns: []string{
		"account_id", "resource", "delta_token", "last_synced_ms", "status", "last_error",
		"error_count", "next_retry_ms", "lease_until_ms", "updated_ms",
	},
}

// GetCursor returns the stored continuation token for the key.
func (s *Store) GetCursor(ctx context.Context, accountID, resource string) (string, bool, error) {
	var token sql.NullString
	err := s.DB.GetContext(ctx, &token, s.DB.Rebind(`
		SELECT delta_token FROM sync_cursors WHERE account_id = ? AND resource = ?
	`), accountID, resource)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return "", false, nil
		}
		return "", false, fmt.Errorf("failed to load cursor: %w", err)
	}
	if !token.Valid || token.String == "" {
		return "", false, nil
	}
	return token.String, true, nil
}

// Acquire creates the cursor row on first use and takes the run lease. A
// lease that has not yet expired yields sync.ErrSyncInProgress.
func (s *Store) Acquire(ctx context.Context, accountID, resource string, ttl time.Duration) error {
	now := s.nowMs()
	res, err := s.DB.ExecContext(ctx, s.DB.Rebind(`
		INSERT INTO sync_cursors (account_id, resource, status, lease_until_ms, updated_ms)
		VALUES (?, ?, ?, ?, ?)
		ON CONFLICT (account_id, resource) DO UPDATE SET
			status = excluded.status,
			lease_until_ms = excluded.lease_until_ms,
			updated_ms = excluded.updated_ms
		WHERE sync_cursors.lease_until_ms IS NULL OR sync_cursors.lease_until_ms <= ?
	`), accountID, resource, string(model.StatusRunning), now+ttl.Milliseconds(), now, now)
	if err != nil {
		return fmt.Errorf("failed to acquire sync lease: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("failed to acquire sync lease: %w", err)
	}
	if n == 0 {
		return fmt.Errorf("%s/%s: %w", accountID, resource, sync.ErrSyncInProgress)
	}
	return nil
}

// CommitCursor stores token, marks the key completed, clears the failure
// fields and releases the lease.
func (s *Store) CommitCursor(ctx context.Context, accountID, resource, token string) error {
	now := s.nowMs()
	_, err := s.DB.ExecContext(ctx, s.DB.Rebind(`
		INSERT INTO sync_cursors (account_id, resource, delta_token, last_synced_ms, status, error_count, updated_ms)
		VALUES (?, ?, ?, ?, ?, 0, ?)
		ON CONFLICT (account_id, resource) DO UPDATE SET
			delta_token = excluded.delta_token,
			last_synced_ms = excluded.last_synced_ms,
			status = excluded.status,
			last_error = NULL,
			error_count = 0,
			next_retry_ms = NULL,
			lease_until_ms = NULL,
			updated_ms = excluded.updated_ms
	`), accountID, resource, token, now, string(model.StatusCompleted), now)
	if err != nil {
		return fmt.Errorf("failed to save cursor: %w", err)
	}
	return nil
}

// MarkFailed keeps the stored token, records message, bumps the error count,
// schedules the next retry and releases the lease.
func (s *Store) MarkFailed(ctx context.Context, accountID, resource, message string, backoff func(failures int) time.Duration) error {
	return s.InTx(ctx, func(tx *Tx) error {
		var failures int
		err := tx.GetContext(ctx, &failures, tx.Rebind(`
			SELECT error_count FROM sync_cursors WHERE account_id = ? AND resource = ?
		`), accountID, resource)
		if err != nil && !errors.Is(err, sql.ErrNoRows) {
			return fmt.Errorf("failed to read error count: %w", err)
		}
		failures++

		now := tx.Now()
		var nextRetry *int64
		if backoff != nil {
			next := now + backoff(failures).Milliseconds()
			nextRetry = &next
		}

		_, err = tx.ExecContext(ctx, tx.Rebind(`
			INSERT INTO sync_cursors (account_id, resource, status, last_error, error_count, next_retry_ms, updated_ms)
			VALUES (?, ?, ?, ?, ?, ?, ?)
			ON CONFLICT (account_id, resource) DO UPDATE SET
				status = excluded.status,
				last_error = excluded.last_error,
				error_count = excluded.error_count,
				next_retry_ms = excluded.next_retry_ms,
				lease_until_ms = NULL,
				updated_ms = excluded.updated_ms
		`), accountID, resource, string(model.StatusFailed), message, failures, nextRetry, now)
		if err != nil {
			return fmt.Errorf("failed to update sync status: %w", err)
		}
		return nil
	})
}

// GetSyncCursor returns the full cursor row.
func (s *Store) GetSyncCursor(ctx context.Context, accountID, resource string) (*model.SyncCursor, error) {
	var c model.SyncCursor
	if err := cursorTable.get(ctx, s.DB, &c, "account_id = ? AND resource = ?", accountID, resource); err != nil {
		return nil, err
	}
	return &c, nil
}

// ListCursors returns every cursor row of the account.
func (s *Store) ListCursors(ctx context.Context, accountID string) ([]model.SyncCursor, error) {
	cursors := []model.SyncCursor{}
	if err := cursorTable.list(ctx, s.DB, &cursors, "account_id = ?", "resource", accountID); err != nil {
		return nil, err
	}
	return cursors, nil
}

// Due reports whether the key may run now: it has never failed or its
// retry time has passed.
func (s *Store) Due(ctx context.Context, accountID, resource string) (bool, error) {
	c, err := s.GetSyncCursor(ctx, accountID, resource)
	if errors.Is(err, ErrNotFound) {
		return true, nil
	}
	if err != nil {
		return false, err
	}
	return c.NextRetryMs == nil || *c.NextRetryMs <= s.nowMs(), nil
}
