// Package storetest opens throwaway mirror stores for tests.
package storetest

import (
	"context"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/Martian-dev/inbox-sync/internal/store"
)

// New opens an in-memory modernc sqlite store that is closed when the test
// ends.
func New(t *testing.T) *store.Store {
	t.Helper()

	s, err := store.Open(context.Background(), store.DriverSQLite, ":memory:")
	require.NoError(t, err)
	t.Cleanup(func() { s.Close() })
	return s
}
