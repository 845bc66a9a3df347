package sync

import (
	"context"
	"errors"
	"time"
)

var (
	// ErrCursorExpired is returned by a feed when the stored cursor is no
	// longer accepted by the provider and a fresh sync is required.
	ErrCursorExpired = errors.New("sync: cursor expired")
	// ErrSyncInProgress is returned when another run holds the key.
	ErrSyncInProgress = errors.New("sync: already in progress")
	// ErrCursorCommit wraps a failure to persist the new cursor.
	ErrCursorCommit = errors.New("sync: cursor commit failed")
	// ErrUnsupported is returned when a provider does not offer a resource.
	ErrUnsupported = errors.New("sync: resource not supported by provider")
)

// ChangeKind distinguishes an upsert from a provider tombstone.
type ChangeKind int

const (
	ChangeUpserted ChangeKind = iota
	ChangeRemoved
)

func (k ChangeKind) String() string {
	if k == ChangeRemoved {
		return "removed"
	}
	return "upserted"
}

// Change is one record of a delta page. Item is the zero value for removals.
type Change[T any] struct {
	Kind     ChangeKind
	RemoteID string
	Item     T
}

// Upsert builds an upserted change.
func Upsert[T any](remoteID string, item T) Change[T] {
	return Change[T]{Kind: ChangeUpserted, RemoteID: remoteID, Item: item}
}

// Remove builds a tombstone.
func Remove[T any](remoteID string) Change[T] {
	return Change[T]{Kind: ChangeRemoved, RemoteID: remoteID}
}

// LinkKind tells whether a page is followed by more pages or ends the feed.
type LinkKind int

const (
	LinkNextPage LinkKind = iota
	LinkDelta
)

// Link is the continuation a page ends with.
type Link struct {
	Kind  LinkKind
	Value string
}

// NextPage is a continuation to fetch immediately.
func NextPage(v string) Link { return Link{Kind: LinkNextPage, Value: v} }

// DeltaLink is the durable cursor for the next sync.
func DeltaLink(v string) Link { return Link{Kind: LinkDelta, Value: v} }

// Page is one response of a change feed.
type Page[T any] struct {
	Changes []Change[T]
	Next    Link
}

// QueryOptions are only accepted on the first request of a feed. Resumed
// requests never carry them.
type QueryOptions struct {
	Select   []string
	Filter   string
	OrderBy  []string
	Expand   []string
	Search   string
	PageSize int32
	// Start and End bound calendar views.
	Start time.Time
	End   time.Time
}

// Feed is a provider change feed for one resource endpoint.
type Feed[T any] interface {
	// StartFresh issues the first, tokenless request.
	StartFresh(ctx context.Context, opts QueryOptions) (*Page[T], error)
	// Resume follows a next-page link or a stored delta link as is.
	Resume(ctx context.Context, link string) (*Page[T], error)
}

// Outcome is what a reconciler did with a change.
type Outcome int

const (
	OutcomeCreated Outcome = iota
	OutcomeUpdated
	OutcomeDeleted
)

func (o Outcome) String() string {
	switch o {
	case OutcomeCreated:
		return "created"
	case OutcomeUpdated:
		return "updated"
	default:
		return "deleted"
	}
}

// Reconciler applies one change to the local mirror. Applying the same
// change twice must leave the same state.
type Reconciler[T any] interface {
	Apply(ctx context.Context, accountID string, change Change[T]) (Outcome, error)
}

// ReconcilerFunc adapts a function to Reconciler.
type ReconcilerFunc[T any] func(ctx context.Context, accountID string, change Change[T]) (Outcome, error)

// Apply calls f.
func (f ReconcilerFunc[T]) Apply(ctx context.Context, accountID string, change Change[T]) (Outcome, error) {
	return f(ctx, accountID, change)
}

// CursorStore persists one continuation token per (account, resource).
type CursorStore interface {
	GetCursor(ctx context.Context, accountID, resource string) (token string, ok bool, err error)
	// Acquire takes the run lease for the key or returns ErrSyncInProgress.
	Acquire(ctx context.Context, accountID, resource string, ttl time.Duration) error
	// CommitCursor stores the token, marks the key completed and releases the lease.
	CommitCursor(ctx context.Context, accountID, resource, token string) error
	// MarkFailed keeps the token, records the error and releases the lease.
	MarkFailed(ctx context.Context, accountID, resource, message string, backoff func(failures int) time.Duration) error
}

// Backoff maps the number of consecutive failures to a retry delay.
type Backoff func(failures int) time.Duration

// ExponentialBackoff doubles base per failure up to max.
func ExponentialBackoff(base, max time.Duration) Backoff {
	return func(failures int) time.Duration {
		d := base
		for i := 1; i < failures && d < max; i++ {
			d *= 2
		}
		if d > max {
			d = max
		}
		return d
	}
}
