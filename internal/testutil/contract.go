package testutil

import (
	"context"
	"encoding/json"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/zjrosen/courier/internal/domain"
)

// RunSessionStoreContract checks the merge-only semantics every
// domain.SessionStore must provide. newStore returns a fresh, empty store.
func RunSessionStoreContract(t *testing.T, newStore func(t *testing.T) domain.SessionStore) {
	t.Helper()
	ctx := context.Background()

	t.Run("unknown workspace is empty", func(t *testing.T) {
		store := newStore(t)
		doc, err := store.Get(ctx, "nope")
		require.NoError(t, err)
		require.Nil(t, doc.Tabs)
		require.Empty(t, doc.Resources)
	})

	t.Run("tabs patch replaces tabs only", func(t *testing.T) {
		store := newStore(t)
		NewSessionBuilder(t, "ws").WithStandardSession().Build(store)

		doc, err := store.Update(ctx, "ws", domain.SessionPatch{
			Tabs: &domain.TabsState{
				Tabs:        []domain.TabDescriptor{defaultDescriptor("t-new", "new")},
				ActiveTabID: "t-new",
			},
		})
		require.NoError(t, err)
		require.Len(t, doc.Tabs.Tabs, 1)
		require.Equal(t, "t-new", doc.Tabs.ActiveTabID)
		require.Len(t, doc.Resources, 2, "drafts untouched by a tabs patch")
	})

	t.Run("resource patch leaves tabs", func(t *testing.T) {
		store := newStore(t)
		NewSessionBuilder(t, "ws").WithStandardSession().Build(store)

		key := domain.NewCompositeKey("c1", "orders")
		doc, err := store.Update(ctx, "ws", domain.SessionPatch{
			SetResources:    map[domain.CompositeKey]json.RawMessage{key: json.RawMessage(`{"url":"/orders"}`)},
			DeleteResources: []domain.CompositeKey{domain.NewCompositeKey("c2", "health")},
		})
		require.NoError(t, err)
		require.Len(t, doc.Tabs.Tabs, 4)
		require.Equal(t, "t-orders", doc.Tabs.ActiveTabID)
		require.Len(t, doc.Resources, 2)
		require.JSONEq(t, `{"url":"/orders"}`, string(doc.Resources[key]))
	})

	t.Run("get round trips descriptors", func(t *testing.T) {
		store := newStore(t)
		NewSessionBuilder(t, "ws").WithStandardSession().Build(store)

		doc, err := store.Get(ctx, "ws")
		require.NoError(t, err)
		require.Equal(t, "t-orders", doc.Tabs.ActiveTabID)

		first := doc.Tabs.Tabs[0]
		require.Equal(t, "t-users", first.ID)
		require.Equal(t, domain.TabTypeRequest, first.Type)
		require.Equal(t, "List users", first.Name)
		require.Equal(t, "GET", first.Badge)
		require.Equal(t, map[string]string{"panel": "body"}, first.UIState)
		require.Equal(t, domain.TabTypeFolder, doc.Tabs.Tabs[3].Type)

		draft := doc.Resources[domain.NewCompositeKey("c1", "users")]
		require.JSONEq(t, `{"name":"Users v2","url":"/v2/users"}`, string(draft))
	})

	t.Run("workspaces are isolated", func(t *testing.T) {
		store := newStore(t)
		NewSessionBuilder(t, "a").WithStandardSession().Build(store)

		doc, err := store.Get(ctx, "b")
		require.NoError(t, err)
		require.Nil(t, doc.Tabs)
		require.Empty(t, doc.Resources)
	})

	t.Run("same resource id in two collections", func(t *testing.T) {
		store := newStore(t)
		_, err := store.Update(ctx, "ws", domain.SessionPatch{
			SetResources: map[domain.CompositeKey]json.RawMessage{
				domain.NewCompositeKey("c1", "r1"): json.RawMessage(`1`),
				domain.NewCompositeKey("c2", "r1"): json.RawMessage(`2`),
			},
		})
		require.NoError(t, err)

		doc, err := store.Get(ctx, "ws")
		require.NoError(t, err)
		require.JSONEq(t, `1`, string(doc.Resources["c1::r1"]))
		require.JSONEq(t, `2`, string(doc.Resources["c2::r1"]))
	})

	t.Run("deleting a missing draft is a no-op", func(t *testing.T) {
		store := newStore(t)
		_, err := store.Update(ctx, "ws", domain.SessionPatch{
			DeleteResources: []domain.CompositeKey{"c1::ghost"},
		})
		require.NoError(t, err)
	})

	t.Run("returned documents are copies", func(t *testing.T) {
		store := newStore(t)
		NewSessionBuilder(t, "ws").WithStandardSession().Build(store)

		doc, err := store.Get(ctx, "ws")
		require.NoError(t, err)
		doc.Tabs.Tabs[0].Name = "mutated"
		delete(doc.Resources, domain.NewCompositeKey("c1", "users"))

		again, err := store.Get(ctx, "ws")
		require.NoError(t, err)
		require.Equal(t, "List users", again.Tabs.Tabs[0].Name)
		require.Len(t, again.Resources, 2)
	})
}
