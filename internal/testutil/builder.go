// Package testutil provides builders and shared contract tests for session
// stores.
package testutil

import (
	"context"
	"encoding/json"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/zjrosen/courier/internal/domain"
)

// SessionBuilder accumulates a persisted session and writes it to a store.
type SessionBuilder struct {
	t         *testing.T
	workspace string
	tabs      []domain.TabDescriptor
	activeID  string
	drafts    map[domain.CompositeKey]json.RawMessage
}

// NewSessionBuilder starts a session for workspaceID.
func NewSessionBuilder(t *testing.T, workspaceID string) *SessionBuilder {
	t.Helper()
	return &SessionBuilder{
		t:         t,
		workspace: workspaceID,
		drafts:    map[domain.CompositeKey]json.RawMessage{},
	}
}

// WithTab appends a persisted tab showing resourceID.
func (b *SessionBuilder) WithTab(id, resourceID string, opts ...TabOption) *SessionBuilder {
	d := defaultDescriptor(id, resourceID)
	for _, opt := range opts {
		opt(&d)
	}
	b.tabs = append(b.tabs, d)
	return b
}

// Active sets the persisted active tab id.
func (b *SessionBuilder) Active(id string) *SessionBuilder {
	b.activeID = id
	return b
}

// WithDraft stores draft state for collectionID::resourceID. draft is
// marshalled to JSON.
func (b *SessionBuilder) WithDraft(collectionID, resourceID string, draft any) *SessionBuilder {
	b.t.Helper()
	data, err := json.Marshal(draft)
	require.NoError(b.t, err)
	b.drafts[domain.NewCompositeKey(collectionID, resourceID)] = data
	return b
}

// Patch returns the accumulated session as a store patch.
func (b *SessionBuilder) Patch() domain.SessionPatch {
	return domain.SessionPatch{
		Tabs:         &domain.TabsState{Tabs: b.tabs, ActiveTabID: b.activeID},
		SetResources: b.drafts,
	}
}

// Build writes the session into store and returns the stored document.
func (b *SessionBuilder) Build(store domain.SessionStore) domain.SessionDocument {
	b.t.Helper()
	doc, err := store.Update(context.Background(), b.workspace, b.Patch())
	require.NoError(b.t, err)
	return doc
}
