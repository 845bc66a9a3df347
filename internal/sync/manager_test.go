package sync

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestManagerRejectsSecondRunForKey(t *testing.T) {
	m := NewManager()
	key := Key("acct", "contacts")

	started := make(chan struct{})
	release := make(chan struct{})
	require.NoError(t, m.Start(context.Background(), key, func(ctx context.Context) error {
		close(started)
		<-release
		return nil
	}))
	<-started

	assert.True(t, m.IsRunning(key))
	err := m.Run(context.Background(), key, func(ctx context.Context) error { return nil })
	assert.ErrorIs(t, err, ErrSyncInProgress)

	// A different key is independent.
	ran := false
	require.NoError(t, m.Run(context.Background(), Key("acct", "calendar"), func(ctx context.Context) error {
		ran = true
		return nil
	}))
	assert.True(t, ran)

	close(release)
	m.Wait()
	assert.False(t, m.IsRunning(key))
}

func TestManagerStopCancelsRun(t *testing.T) {
	m := NewManager()
	key := Key("acct", "teams")

	done := make(chan error, 1)
	require.NoError(t, m.Start(context.Background(), key, func(ctx context.Context) error {
		<-ctx.Done()
		done <- ctx.Err()
		return ctx.Err()
	}))

	require.NoError(t, m.Stop(key))
	select {
	case err := <-done:
		assert.ErrorIs(t, err, context.Canceled)
	case <-time.After(2 * time.Second):
		t.Fatal("run was not cancelled")
	}
	assert.Error(t, m.Stop(key))
	m.Wait()
}

func TestManagerStopAllAndRunning(t *testing.T) {
	m := NewManager()
	for _, key := range []string{Key("b", "calendar"), Key("a", "calendar")} {
		require.NoError(t, m.Start(context.Background(), key, func(ctx context.Context) error {
			<-ctx.Done()
			return nil
		}))
	}

	assert.Equal(t, []string{"a:calendar", "b:calendar"}, m.Running())

	m.StopAll()
	m.Wait()
	assert.Empty(t, m.Running())
}
