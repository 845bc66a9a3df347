package sync

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"

	"github.com/Martian-dev/inbox-sync/internal/model"
)

var tracer = otel.Tracer("github.com/Martian-dev/inbox-sync/internal/sync")

const (
	// DefaultLeaseTTL bounds how long a crashed run can block its key.
	DefaultLeaseTTL = 15 * time.Minute

	// settleTimeout bounds the cursor writes that end a run.
	settleTimeout = 10 * time.Second
)

// DefaultBackoff is used when a Runner has no Backoff.
var DefaultBackoff = ExponentialBackoff(time.Minute, 6*time.Hour)

// Runner drives one fetch/reconcile loop for a single (account, resource)
// key and commits the new cursor only when the feed ends with a delta link.
type Runner[T any] struct {
	AccountID  string
	Resource   string
	Feed       Feed[T]
	Reconciler Reconciler[T]
	Cursors    CursorStore
	// Options go on the first request of a fresh sync only.
	Options QueryOptions
	// Full ignores the stored cursor.
	Full     bool
	LeaseTTL time.Duration
	Backoff  Backoff
}

// Run executes the loop. A page-fetch failure returns a failed Result and a
// nil error; the stored cursor is left as it was. A non-nil error means the
// cursor store itself failed.
func (r *Runner[T]) Run(ctx context.Context) (*Result, error) {
	ctx, span := tracer.Start(ctx, "sync.Run", trace.WithAttributes(
		attribute.String("sync.account", r.AccountID),
		attribute.String("sync.resource", r.Resource),
	))
	defer span.End()

	logger := log.With().Str("account", r.AccountID).Str("resource", r.Resource).Logger()
	res := NewResult(r.AccountID, r.Resource)

	if err := r.Cursors.Acquire(ctx, r.AccountID, r.Resource, r.leaseTTL()); err != nil {
		span.SetStatus(codes.Error, err.Error())
		return nil, fmt.Errorf("acquire %s/%s: %w", r.AccountID, r.Resource, err)
	}
	res.Status = model.StatusRunning

	token, ok, err := r.Cursors.GetCursor(ctx, r.AccountID, r.Resource)
	if err != nil {
		res.Errorf("load cursor: %v", err)
		r.markFailed(ctx, logger, err)
		res.Finish(model.StatusFailed)
		span.SetStatus(codes.Error, err.Error())
		return res, fmt.Errorf("load cursor %s/%s: %w", r.AccountID, r.Resource, err)
	}
	if r.Full {
		ok = false
	}
	res.FullSync = !ok

	page, err := r.firstPage(ctx, logger, res, token, ok)
	for err == nil {
		res.Pages++
		r.reconcile(ctx, logger, res, page)
		if page.Next.Kind == LinkDelta {
			break
		}
		if page.Next.Value == "" {
			err = errors.New("feed returned a page without a continuation")
			break
		}
		page, err = r.Feed.Resume(ctx, page.Next.Value)
	}

	if err != nil {
		res.Errorf("fetch page %d: %v", res.Pages+1, err)
		logger.Error().Err(err).Int("pages", res.Pages).Msg("page fetch failed, cursor not advanced")
		r.markFailed(ctx, logger, err)
		res.Finish(model.StatusFailed)
		span.SetStatus(codes.Error, err.Error())
		r.annotate(span, res)
		return res, nil
	}

	settleCtx, cancel := settleContext(ctx)
	defer cancel()
	if err := r.Cursors.CommitCursor(settleCtx, r.AccountID, r.Resource, page.Next.Value); err != nil {
		res.Errorf("commit cursor: %v", err)
		logger.Error().Err(err).Bool("cursor_commit_failed", true).Msg("could not persist cursor, next run repeats this window")
		r.markFailed(ctx, logger, err)
		res.Finish(model.StatusFailed)
		span.SetStatus(codes.Error, err.Error())
		r.annotate(span, res)
		return res, fmt.Errorf("%w: %s/%s: %v", ErrCursorCommit, r.AccountID, r.Resource, err)
	}

	res.DeltaToken = page.Next.Value
	res.Finish(model.StatusCompleted)
	r.annotate(span, res)
	logger.Info().
		Int("synced", res.Synced).
		Int("created", res.Created).
		Int("updated", res.Updated).
		Int("deleted", res.Deleted).
		Int("errors", len(res.Errors)).
		Int("pages", res.Pages).
		Bool("full", res.FullSync).
		Msg("sync completed")
	return res, nil
}

// firstPage resumes from the stored cursor when there is one and falls back
// to a fresh sync once if the provider rejects it as expired.
func (r *Runner[T]) firstPage(ctx context.Context, logger zerolog.Logger, res *Result, token string, ok bool) (*Page[T], error) {
	if !ok {
		logger.Info().Msg("starting initial sync")
		return r.Feed.StartFresh(ctx, r.Options)
	}

	logger.Debug().Msg("resuming from stored cursor")
	page, err := r.Feed.Resume(ctx, token)
	if errors.Is(err, ErrCursorExpired) {
		logger.Warn().Msg("stored cursor expired, restarting with a full sync")
		res.FullSync = true
		return r.Feed.StartFresh(ctx, r.Options)
	}
	return page, err
}

// reconcile applies the page in feed order. A failing record is reported
// and skipped.
func (r *Runner[T]) reconcile(ctx context.Context, logger zerolog.Logger, res *Result, page *Page[T]) {
	for _, c := range page.Changes {
		outcome, err := r.Reconciler.Apply(ctx, r.AccountID, c)
		if err != nil {
			res.Errorf("%s %s: %v", c.Kind, c.RemoteID, err)
			logger.Warn().Err(err).Str("remote_id", c.RemoteID).Stringer("kind", c.Kind).Msg("record not applied")
			continue
		}
		res.Count(outcome)
	}
}

// markFailed records the failure and releases the lease even when ctx has
// been cancelled.
func (r *Runner[T]) markFailed(ctx context.Context, logger zerolog.Logger, cause error) {
	backoff := r.Backoff
	if backoff == nil {
		backoff = DefaultBackoff
	}
	ctx, cancel := settleContext(ctx)
	defer cancel()
	if err := r.Cursors.MarkFailed(ctx, r.AccountID, r.Resource, cause.Error(), backoff); err != nil {
		logger.Error().Err(err).Msg("could not record sync failure")
	}
}

// settleContext detaches ctx from its cancellation so a stopped run still
// leaves its cursor row settled.
func settleContext(ctx context.Context) (context.Context, context.CancelFunc) {
	return context.WithTimeout(context.WithoutCancel(ctx), settleTimeout)
}

func (r *Runner[T]) leaseTTL() time.Duration {
	if r.LeaseTTL > 0 {
		return r.LeaseTTL
	}
	return DefaultLeaseTTL
}

func (r *Runner[T]) annotate(span trace.Span, res *Result) {
	span.SetAttributes(
		attribute.Int("sync.synced", res.Synced),
		attribute.Int("sync.created", res.Created),
		attribute.Int("sync.updated", res.Updated),
		attribute.Int("sync.deleted", res.Deleted),
		attribute.Int("sync.errors", len(res.Errors)),
		attribute.Int("sync.pages", res.Pages),
	)
}
