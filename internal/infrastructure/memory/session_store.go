// Package memory is an in-process session store used by tests and by
// ephemeral runs that should leave nothing on disk.
package memory

import (
	"context"
	"encoding/json"
	"maps"
	"slices"
	"sync"

	"github.com/zjrosen/courier/internal/domain"
)

// SessionStore implements domain.SessionStore over a map.
type SessionStore struct {
	mu     sync.RWMutex
	docs   map[string]domain.SessionDocument
	closed bool

	failNext error
}

var (
	_ domain.SessionStore     = (*SessionStore)(nil)
	_ domain.WorkspaceCatalog = (*SessionStore)(nil)
)

// NewSessionStore creates an empty store.
func NewSessionStore() *SessionStore {
	return &SessionStore{docs: make(map[string]domain.SessionDocument)}
}

// FailNext makes the next Get or Update return err. Used to exercise
// persistence failure paths.
func (s *SessionStore) FailNext(err error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.failNext = err
}

// Get returns a copy of the workspace document.
func (s *SessionStore) Get(_ context.Context, workspaceID string) (domain.SessionDocument, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if err := s.takeFailure(); err != nil {
		return domain.SessionDocument{}, err
	}
	return s.docs[workspaceID].Clone(), nil
}

// Update merges patch into the workspace document.
func (s *SessionStore) Update(_ context.Context, workspaceID string, patch domain.SessionPatch) (domain.SessionDocument, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if err := s.takeFailure(); err != nil {
		return domain.SessionDocument{}, err
	}

	doc := s.docs[workspaceID]
	if patch.Tabs != nil {
		doc.Tabs = domain.SessionDocument{Tabs: patch.Tabs}.Clone().Tabs
	}
	if len(patch.SetResources) > 0 && doc.Resources == nil {
		doc.Resources = make(map[domain.CompositeKey]json.RawMessage, len(patch.SetResources))
	}
	for key, state := range patch.SetResources {
		doc.Resources[key] = slices.Clone(state)
	}
	for _, key := range patch.DeleteResources {
		delete(doc.Resources, key)
	}
	s.docs[workspaceID] = doc

	return doc.Clone(), nil
}

// Workspaces returns the ids of every stored workspace, sorted.
func (s *SessionStore) Workspaces(context.Context) ([]string, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return slices.Sorted(maps.Keys(s.docs)), nil
}

// DeleteWorkspace removes a workspace document.
func (s *SessionStore) DeleteWorkspace(_ context.Context, workspaceID string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.docs, workspaceID)
	return nil
}

// Close marks the store closed. Data is kept so tests can inspect it.
func (s *SessionStore) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.closed = true
	return nil
}

// Closed reports whether Close was called.
func (s *SessionStore) Closed() bool {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.closed
}

func (s *SessionStore) takeFailure() error {
	err := s.failNext
	s.failNext = nil
	return err
}
