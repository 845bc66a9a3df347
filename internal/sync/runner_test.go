package sync

import (
	"context"
	"errors"
	gosync "sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/Martian-dev/inbox-sync/internal/model"
)

type item struct {
	Subject string
	Fail    bool
}

// scriptedFeed serves pages by link. The empty link is the fresh start.
type scriptedFeed struct {
	pages       map[string]*Page[item]
	errs        map[string]error
	freshCalls  []QueryOptions
	resumeCalls []string
}

func (f *scriptedFeed) StartFresh(_ context.Context, opts QueryOptions) (*Page[item], error) {
	f.freshCalls = append(f.freshCalls, opts)
	return f.serve("")
}

func (f *scriptedFeed) Resume(_ context.Context, link string) (*Page[item], error) {
	f.resumeCalls = append(f.resumeCalls, link)
	return f.serve(link)
}

func (f *scriptedFeed) serve(link string) (*Page[item], error) {
	if err := f.errs[link]; err != nil {
		return nil, err
	}
	p, ok := f.pages[link]
	if !ok {
		return nil, errors.New("unexpected link " + link)
	}
	return p, nil
}

type memCursors struct {
	mu        gosync.Mutex
	tokens    map[string]string
	leased    map[string]bool
	failures  map[string]int
	commitErr error
}

func newMemCursors() *memCursors {
	return &memCursors{tokens: map[string]string{}, leased: map[string]bool{}, failures: map[string]int{}}
}

func (m *memCursors) GetCursor(_ context.Context, accountID, resource string) (string, bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	tok, ok := m.tokens[Key(accountID, resource)]
	return tok, ok, nil
}

func (m *memCursors) Acquire(_ context.Context, accountID, resource string, _ time.Duration) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.leased[Key(accountID, resource)] {
		return ErrSyncInProgress
	}
	m.leased[Key(accountID, resource)] = true
	return nil
}

func (m *memCursors) CommitCursor(_ context.Context, accountID, resource, token string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.commitErr != nil {
		return m.commitErr
	}
	m.tokens[Key(accountID, resource)] = token
	m.failures[Key(accountID, resource)] = 0
	delete(m.leased, Key(accountID, resource))
	return nil
}

func (m *memCursors) MarkFailed(_ context.Context, accountID, resource, _ string, _ func(int) time.Duration) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.failures[Key(accountID, resource)]++
	delete(m.leased, Key(accountID, resource))
	return nil
}

// memMirror is a map-backed reconciler.
type memMirror struct {
	rows map[string]item
}

func (m *memMirror) Apply(_ context.Context, _ string, c Change[item]) (Outcome, error) {
	if c.Kind == ChangeRemoved {
		delete(m.rows, c.RemoteID)
		return OutcomeDeleted, nil
	}
	if c.Item.Fail {
		return 0, errors.New("malformed record")
	}
	_, exists := m.rows[c.RemoteID]
	m.rows[c.RemoteID] = c.Item
	if exists {
		return OutcomeUpdated, nil
	}
	return OutcomeCreated, nil
}

func newRunner(feed Feed[item], cursors CursorStore, mirror *memMirror) *Runner[item] {
	return &Runner[item]{
		AccountID:  "acct",
		Resource:   "calendar",
		Feed:       feed,
		Reconciler: mirror,
		Cursors:    cursors,
		Options:    QueryOptions{Select: []string{"subject"}, PageSize: 50},
	}
}

func TestRunResumesAndCommitsNewToken(t *testing.T) {
	feed := &scriptedFeed{pages: map[string]*Page[item]{
		"tok1": {
			Changes: []Change[item]{Upsert("e1", item{Subject: "Standup"}), Remove[item]("e2")},
			Next:    NextPage("page2"),
		},
		"page2": {Next: DeltaLink("tok2")},
	}}
	cursors := newMemCursors()
	cursors.tokens[Key("acct", "calendar")] = "tok1"
	mirror := &memMirror{rows: map[string]item{"e2": {Subject: "Old"}}}

	res, err := newRunner(feed, cursors, mirror).Run(context.Background())
	require.NoError(t, err)

	assert.Equal(t, model.StatusCompleted, res.Status)
	assert.Equal(t, 2, res.Synced)
	assert.Equal(t, 1, res.Created)
	assert.Equal(t, 0, res.Updated)
	assert.Equal(t, 1, res.Deleted)
	assert.Equal(t, "tok2", res.DeltaToken)
	assert.Empty(t, res.Errors)
	assert.False(t, res.FullSync)

	assert.Empty(t, feed.freshCalls, "stored cursor must be resumed, not restarted")
	assert.Equal(t, []string{"tok1", "page2"}, feed.resumeCalls)
	assert.Equal(t, "Standup", mirror.rows["e1"].Subject)
	assert.NotContains(t, mirror.rows, "e2")

	tok, ok, _ := cursors.GetCursor(context.Background(), "acct", "calendar")
	require.True(t, ok)
	assert.Equal(t, "tok2", tok)
}

func TestRunInitialSyncPassesOptions(t *testing.T) {
	feed := &scriptedFeed{pages: map[string]*Page[item]{
		"": {Changes: []Change[item]{Upsert("e1", item{Subject: "a"})}, Next: DeltaLink("tok1")},
	}}
	cursors := newMemCursors()

	res, err := newRunner(feed, cursors, &memMirror{rows: map[string]item{}}).Run(context.Background())
	require.NoError(t, err)

	require.Len(t, feed.freshCalls, 1)
	assert.Equal(t, []string{"subject"}, feed.freshCalls[0].Select)
	assert.Empty(t, feed.resumeCalls)
	assert.True(t, res.FullSync)
	assert.Equal(t, "tok1", cursors.tokens[Key("acct", "calendar")])
}

func TestRunAbortKeepsPreviousCursor(t *testing.T) {
	feed := &scriptedFeed{
		pages: map[string]*Page[item]{
			"tok1": {Changes: []Change[item]{Upsert("e1", item{Subject: "a"})}, Next: NextPage("page2")},
		},
		errs: map[string]error{"page2": errors.New("503 service unavailable")},
	}
	cursors := newMemCursors()
	cursors.tokens[Key("acct", "calendar")] = "tok1"

	res, err := newRunner(feed, cursors, &memMirror{rows: map[string]item{}}).Run(context.Background())
	require.NoError(t, err)

	assert.Equal(t, model.StatusFailed, res.Status)
	assert.NotEmpty(t, res.Errors)
	assert.Equal(t, 1, res.Synced, "partial counts are still reported")
	assert.Empty(t, res.DeltaToken)
	assert.Equal(t, "tok1", cursors.tokens[Key("acct", "calendar")])
	assert.Equal(t, 1, cursors.failures[Key("acct", "calendar")])
	assert.False(t, cursors.leased[Key("acct", "calendar")])
}

func TestRunExpiredCursorRestartsFresh(t *testing.T) {
	feed := &scriptedFeed{
		pages: map[string]*Page[item]{
			"": {Changes: []Change[item]{Upsert("e1", item{Subject: "a"})}, Next: DeltaLink("tok2")},
		},
		errs: map[string]error{"stale": ErrCursorExpired},
	}
	cursors := newMemCursors()
	cursors.tokens[Key("acct", "calendar")] = "stale"

	res, err := newRunner(feed, cursors, &memMirror{rows: map[string]item{}}).Run(context.Background())
	require.NoError(t, err)

	assert.True(t, res.FullSync)
	assert.Equal(t, []string{"stale"}, feed.resumeCalls)
	assert.Len(t, feed.freshCalls, 1)
	assert.Equal(t, "tok2", cursors.tokens[Key("acct", "calendar")])
}

func TestRunFullIgnoresStoredCursor(t *testing.T) {
	feed := &scriptedFeed{pages: map[string]*Page[item]{
		"": {Next: DeltaLink("tok2")},
	}}
	cursors := newMemCursors()
	cursors.tokens[Key("acct", "calendar")] = "tok1"

	r := newRunner(feed, cursors, &memMirror{rows: map[string]item{}})
	r.Full = true
	res, err := r.Run(context.Background())
	require.NoError(t, err)

	assert.True(t, res.FullSync)
	assert.Empty(t, feed.resumeCalls)
	assert.Equal(t, "tok2", res.DeltaToken)
}

func TestRunRecordErrorDoesNotBlockCursor(t *testing.T) {
	feed := &scriptedFeed{pages: map[string]*Page[item]{
		"": {
			Changes: []Change[item]{
				Upsert("bad", item{Fail: true}),
				Upsert("good", item{Subject: "ok"}),
			},
			Next: DeltaLink("tok1"),
		},
	}}
	cursors := newMemCursors()
	mirror := &memMirror{rows: map[string]item{}}

	res, err := newRunner(feed, cursors, mirror).Run(context.Background())
	require.NoError(t, err)

	assert.Equal(t, model.StatusCompleted, res.Status)
	require.Len(t, res.Errors, 1)
	assert.Contains(t, res.Errors[0], "bad")
	assert.Equal(t, 1, res.Synced)
	assert.Contains(t, mirror.rows, "good")
	assert.Equal(t, "tok1", cursors.tokens[Key("acct", "calendar")])
	assert.False(t, res.OK())
}

func TestRunCommitFailureIsTopLevel(t *testing.T) {
	feed := &scriptedFeed{pages: map[string]*Page[item]{
		"": {Next: DeltaLink("tok1")},
	}}
	cursors := newMemCursors()
	cursors.commitErr = errors.New("disk full")

	res, err := newRunner(feed, cursors, &memMirror{rows: map[string]item{}}).Run(context.Background())
	require.Error(t, err)
	assert.ErrorIs(t, err, ErrCursorCommit)
	require.NotNil(t, res)
	assert.Equal(t, model.StatusFailed, res.Status)
}

func TestRunHeldLease(t *testing.T) {
	cursors := newMemCursors()
	cursors.leased[Key("acct", "calendar")] = true

	res, err := newRunner(&scriptedFeed{}, cursors, &memMirror{}).Run(context.Background())
	assert.ErrorIs(t, err, ErrSyncInProgress)
	assert.Nil(t, res)
}

func TestRunPageWithoutContinuationFails(t *testing.T) {
	feed := &scriptedFeed{pages: map[string]*Page[item]{
		"": {Next: NextPage("")},
	}}
	cursors := newMemCursors()

	res, err := newRunner(feed, cursors, &memMirror{rows: map[string]item{}}).Run(context.Background())
	require.NoError(t, err)
	assert.Equal(t, model.StatusFailed, res.Status)
	assert.NotContains(t, cursors.tokens, Key("acct", "calendar"))
}

func TestExponentialBackoff(t *testing.T) {
	b := ExponentialBackoff(time.Minute, 10*time.Minute)
	tests := []struct {
		failures int
		want     time.Duration
	}{
		{1, time.Minute},
		{2, 2 * time.Minute},
		{3, 4 * time.Minute},
		{4, 8 * time.Minute},
		{5, 10 * time.Minute},
		{50, 10 * time.Minute},
	}
	for _, tt := range tests {
		assert.Equal(t, tt.want, b(tt.failures), "failures=%d", tt.failures)
	}
}

func TestResultMerge(t *testing.T) {
	total := NewResult("acct", "teams")
	part := NewResult("acct", "channels")
	part.Count(OutcomeCreated)
	part.Count(OutcomeDeleted)
	part.Errorf("team %s: %s", "A", "boom")

	total.Merge(part)
	total.Merge(nil)

	assert.Equal(t, 2, total.Synced)
	assert.Equal(t, 1, total.Created)
	assert.Equal(t, 1, total.Deleted)
	assert.Equal(t, []string{"channels: team A: boom"}, total.Errors)
}
