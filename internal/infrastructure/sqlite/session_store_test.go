package sqlite_test

import (
	"context"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/zjrosen/courier/internal/domain"
	"github.com/zjrosen/courier/internal/infrastructure/sqlite"
	"github.com/zjrosen/courier/internal/testutil"
)

func newTestDB(t *testing.T) *sqlite.DB {
	t.Helper()
	db, err := sqlite.NewDB(filepath.Join(t.TempDir(), "sessions.db"))
	require.NoError(t, err)
	t.Cleanup(func() { _ = db.Close() })
	return db
}

func TestSessionStore_Contract(t *testing.T) {
	testutil.RunSessionStoreContract(t, func(t *testing.T) domain.SessionStore {
		return newTestDB(t).SessionStore()
	})
}

func TestSessionStore_EmptyTabsListRoundTrips(t *testing.T) {
	store := newTestDB(t).SessionStore()
	ctx := context.Background()

	_, err := store.Update(ctx, "ws", domain.SessionPatch{Tabs: &domain.TabsState{}})
	require.NoError(t, err)

	doc, err := store.Get(ctx, "ws")
	require.NoError(t, err)
	require.NotNil(t, doc.Tabs, "an explicitly empty session is still a session")
	require.Empty(t, doc.Tabs.Tabs)
}

func TestSessionStore_WorkspacesAndDelete(t *testing.T) {
	ctx := context.Background()
	store := newTestDB(t).SessionStore()
	testutil.NewSessionBuilder(t, "b").WithStandardSession().Build(store)
	testutil.NewSessionBuilder(t, "a").WithDraft("c1", "r1", map[string]string{"x": "y"}).Build(store)

	ids, err := store.Workspaces(ctx)
	require.NoError(t, err)
	require.Equal(t, []string{"a", "b"}, ids)

	require.NoError(t, store.DeleteWorkspace(ctx, "b"))
	doc, err := store.Get(ctx, "b")
	require.NoError(t, err)
	require.Nil(t, doc.Tabs)
	require.Empty(t, doc.Resources)
}

func TestSessionStore_CancelledContext(t *testing.T) {
	store := newTestDB(t).SessionStore()
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	_, err := store.Update(ctx, "ws", domain.SessionPatch{Tabs: &domain.TabsState{}})
	require.Error(t, err)
}
