package sync

import (
	"fmt"
	"time"

	"github.com/Martian-dev/inbox-sync/internal/model"
)

// Result summarises one invocation. It is never persisted.
type Result struct {
	AccountID  string           `json:"accountId"`
	Resource   string           `json:"resource"`
	Status     model.SyncStatus `json:"status"`
	Synced     int              `json:"synced"`
	Created    int              `json:"created"`
	Updated    int              `json:"updated"`
	Deleted    int              `json:"deleted"`
	DeltaToken string           `json:"deltaToken,omitempty"`
	Errors     []string         `json:"errors"`
	Pages      int              `json:"pages"`
	FullSync   bool             `json:"fullSync"`
	StartedAt  time.Time        `json:"startedAt"`
	DurationMs int64            `json:"durationMs"`
}

// NewResult starts an idle result for the key.
func NewResult(accountID, resource string) *Result {
	return &Result{
		AccountID: accountID,
		Resource:  resource,
		Status:    model.StatusIdle,
		Errors:    []string{},
		StartedAt: time.Now().UTC(),
	}
}

// Count records a successful apply.
func (r *Result) Count(o Outcome) {
	r.Synced++
	switch o {
	case OutcomeCreated:
		r.Created++
	case OutcomeUpdated:
		r.Updated++
	case OutcomeDeleted:
		r.Deleted++
	}
}

// Errorf appends a formatted error message.
func (r *Result) Errorf(format string, args ...any) {
	r.Errors = append(r.Errors, fmt.Sprintf(format, args...))
}

// Merge adds the counts and errors of other. Errors are prefixed with the
// other result's resource.
func (r *Result) Merge(other *Result) {
	if other == nil {
		return
	}
	r.Synced += other.Synced
	r.Created += other.Created
	r.Updated += other.Updated
	r.Deleted += other.Deleted
	r.Pages += other.Pages
	for _, e := range other.Errors {
		r.Errors = append(r.Errors, other.Resource+": "+e)
	}
}

// Finish stamps the duration and settles the status.
func (r *Result) Finish(status model.SyncStatus) {
	r.Status = status
	r.DurationMs = time.Since(r.StartedAt).Milliseconds()
}

// OK reports a completed run without record errors.
func (r *Result) OK() bool {
	return r.Status == model.StatusCompleted && len(r.Errors) == 0
}
