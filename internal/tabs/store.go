// Package tabs provides the authoritative, ordered collection of open tabs
// and the active tab id.
//
// The store enforces the tab identity rules: one tab per
// (type, collectionId, resourceId), at most one temporary tab, and a fresh
// execution id for every new tab. Status (dirty flags, display names) lives
// in the status package and is keyed by the ids this store hands out.
package tabs

import (
	"context"
	"maps"
	"slices"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/zjrosen/courier/internal/domain"
	"github.com/zjrosen/courier/internal/log"
	"github.com/zjrosen/courier/internal/pubsub"
)

// OpenParams describes the resource to open in a request, collection or
// folder tab.
type OpenParams struct {
	CollectionID string
	ProtocolID   string
	ResourceID   string
	Name         string
	Metadata     *domain.Metadata
	// Temporary opens a preview tab (single click). A later non-temporary
	// open of the same resource pins it.
	Temporary bool
}

// RunnerParams describes a collection (or folder) run to host in a runner tab.
type RunnerParams struct {
	CollectionID string
	ProtocolID   string
	FolderID     string
	Name         string
}

// Option configures a Store.
type Option func(*Store)

// WithIDGenerator overrides how tab and execution ids are minted.
func WithIDGenerator(fn func() string) Option {
	return func(s *Store) {
		s.newID = fn
	}
}

// WithClock overrides the clock used to stamp runner tabs.
func WithClock(now func() time.Time) Option {
	return func(s *Store) {
		s.now = now
	}
}

// Store is the ordered set of open tabs. It is safe for concurrent use;
// hooks and subscribers are notified after the store lock is released.
type Store struct {
	mu       sync.RWMutex
	tabs     []*domain.Tab
	activeID string

	newID func() string
	now   func() time.Time

	hooksMu     sync.RWMutex
	closeHooks  []func(tabID string)
	changeHooks []func(Change)

	broker *pubsub.Broker[Change]
}

// New creates an empty store.
func New(opts ...Option) *Store {
	s := &Store{
		newID:  uuid.NewString,
		now:    time.Now,
		broker: pubsub.NewBroker[Change](),
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// OnClose registers fn to run for every tab id that leaves the store, whether
// by CloseTab, temporary-tab replacement, Restore or Reset.
func (s *Store) OnClose(fn func(tabID string)) {
	s.hooksMu.Lock()
	defer s.hooksMu.Unlock()
	s.closeHooks = append(s.closeHooks, fn)
}

// OnChange registers fn to run synchronously after every mutation.
func (s *Store) OnChange(fn func(Change)) {
	s.hooksMu.Lock()
	defer s.hooksMu.Unlock()
	s.changeHooks = append(s.changeHooks, fn)
}

// Subscribe returns an asynchronous change feed, closed when ctx is cancelled.
func (s *Store) Subscribe(ctx context.Context) <-chan pubsub.Event[Change] {
	return s.broker.Subscribe(ctx)
}

// Close shuts down the change feed.
func (s *Store) Close() {
	s.broker.Close()
}

// OpenRequest opens (or activates) a request tab.
func (s *Store) OpenRequest(p OpenParams) *domain.Tab {
	return s.open(domain.TabTypeRequest, p)
}

// OpenCollection opens (or activates) a collection settings tab.
func (s *Store) OpenCollection(p OpenParams) *domain.Tab {
	return s.open(domain.TabTypeCollection, p)
}

// OpenFolder opens (or activates) a folder settings tab.
func (s *Store) OpenFolder(p OpenParams) *domain.Tab {
	return s.open(domain.TabTypeFolder, p)
}

// open implements the preview/pin navigation rules:
//   - an open tab for the same resource is activated, and pinned when the
//     call is not temporary;
//   - otherwise an existing temporary tab is overwritten in place;
//   - otherwise a new tab is appended.
func (s *Store) open(tabType domain.TabType, p OpenParams) *domain.Tab {
	var (
		change   Change
		replaced string
		result   *domain.Tab
	)

	s.mu.Lock()
	if i := s.indexOfResource(tabType, p.CollectionID, p.ResourceID); i >= 0 {
		tab := s.tabs[i]
		s.activeID = tab.ID
		change = Change{Kind: ChangeActivated, TabID: tab.ID}
		if !p.Temporary && tab.IsTemporary {
			tab.IsTemporary = false
			change.Kind = ChangePinned
		}
		result = tab.Clone()
	} else if i := s.indexOfTemporary(); i >= 0 {
		replaced = s.tabs[i].ID
		tab := s.newTab(tabType, p)
		s.tabs[i] = tab
		s.activeID = tab.ID
		change = Change{Kind: ChangeReplaced, TabID: tab.ID, PreviousID: replaced}
		result = tab.Clone()
	} else {
		tab := s.newTab(tabType, p)
		s.tabs = append(s.tabs, tab)
		s.activeID = tab.ID
		change = Change{Kind: ChangeOpened, TabID: tab.ID}
		result = tab.Clone()
	}
	s.mu.Unlock()

	log.Debug(log.CatTabs, "open", "kind", change.Kind, "type", tabType,
		"collection", p.CollectionID, "resource", p.ResourceID, "temporary", p.Temporary, "tab_id", result.ID)

	if replaced != "" {
		s.fireClose(replaced)
	}
	s.emit(change)
	return result
}

func (s *Store) newTab(tabType domain.TabType, p OpenParams) *domain.Tab {
	tab := &domain.Tab{
		ID:           s.newID(),
		Type:         tabType,
		ResourceID:   p.ResourceID,
		CollectionID: p.CollectionID,
		ProtocolID:   p.ProtocolID,
		Name:         p.Name,
		IsTemporary:  p.Temporary,
		UIState:      map[string]string{},
		Execution:    domain.NewExecutionData(s.newID()),
	}
	if p.Metadata != nil {
		tab.Metadata = p.Metadata.Clone()
	}
	return tab
}

// OpenRunnerExecution appends a runner tab with a freshly minted run id.
// Runner tabs never reuse the temporary tab: a run must not be discarded by
// the next preview click.
func (s *Store) OpenRunnerExecution(p RunnerParams) *domain.Tab {
	runID := s.newID()
	resourceID := p.FolderID
	if resourceID == "" {
		resourceID = p.CollectionID
	}
	tab := &domain.Tab{
		ID:           s.newID(),
		Type:         domain.TabTypeRunner,
		ResourceID:   resourceID,
		CollectionID: p.CollectionID,
		ProtocolID:   p.ProtocolID,
		Name:         p.Name,
		UIState:      map[string]string{},
		Metadata: domain.Metadata{
			Run: &domain.RunDescriptor{
				RunID:        runID,
				CollectionID: p.CollectionID,
				FolderID:     p.FolderID,
				Name:         p.Name,
				StartedAt:    s.now(),
			},
		},
		Execution: domain.NewExecutionData(runID),
	}

	s.mu.Lock()
	s.tabs = append(s.tabs, tab)
	s.activeID = tab.ID
	result := tab.Clone()
	s.mu.Unlock()

	log.Debug(log.CatTabs, "open runner", "tab_id", tab.ID, "run_id", runID, "collection", p.CollectionID)
	s.emit(Change{Kind: ChangeOpened, TabID: tab.ID})
	return result
}

// CloseTab removes a tab. If it was active, the previous sibling becomes
// active (the new first tab when the closed tab was first; none when the
// store is empty). Status and save-handler cleanup runs via the close hooks.
func (s *Store) CloseTab(id string) error {
	s.mu.Lock()
	i := s.indexOf(id)
	if i < 0 {
		s.mu.Unlock()
		log.Warn(log.CatTabs, "close: tab not found", "tab_id", id)
		return &domain.TabNotFoundError{TabID: id}
	}
	s.tabs = slices.Delete(s.tabs, i, i+1)
	if s.activeID == id {
		s.activeID = ""
		if len(s.tabs) > 0 {
			s.activeID = s.tabs[max(i-1, 0)].ID
		}
	}
	s.mu.Unlock()

	log.Debug(log.CatTabs, "closed", "tab_id", id)
	s.fireClose(id)
	s.emit(Change{Kind: ChangeClosed, TabID: id})
	return nil
}

// SetActiveTab makes id the active tab.
func (s *Store) SetActiveTab(id string) error {
	s.mu.Lock()
	if s.indexOf(id) < 0 {
		s.mu.Unlock()
		log.Warn(log.CatTabs, "activate: tab not found", "tab_id", id)
		return &domain.TabNotFoundError{TabID: id}
	}
	s.activeID = id
	s.mu.Unlock()

	s.emit(Change{Kind: ChangeActivated, TabID: id})
	return nil
}

// ClearTemporaryFlag pins a temporary tab the user explicitly interacted with.
func (s *Store) ClearTemporaryFlag(id string) error {
	s.mu.Lock()
	tab := s.find(id)
	if tab == nil {
		s.mu.Unlock()
		log.Warn(log.CatTabs, "pin: tab not found", "tab_id", id)
		return &domain.TabNotFoundError{TabID: id}
	}
	wasTemporary := tab.IsTemporary
	tab.IsTemporary = false
	s.mu.Unlock()

	if wasTemporary {
		s.emit(Change{Kind: ChangePinned, TabID: id})
	}
	return nil
}

// UpdateUIState merges patch into the tab's sub-view selector. Empty values
// remove keys.
func (s *Store) UpdateUIState(id string, patch map[string]string) error {
	s.mu.Lock()
	tab := s.find(id)
	if tab == nil {
		s.mu.Unlock()
		return &domain.TabNotFoundError{TabID: id}
	}
	if tab.UIState == nil {
		tab.UIState = make(map[string]string, len(patch))
	}
	for k, v := range patch {
		if v == "" {
			delete(tab.UIState, k)
			continue
		}
		tab.UIState[k] = v
	}
	s.mu.Unlock()

	s.emit(Change{Kind: ChangeUpdated, TabID: id})
	return nil
}

// RenameTab sets the legacy display-name mirror on the tab.
func (s *Store) RenameTab(id, name string) error {
	s.mu.Lock()
	tab := s.find(id)
	if tab == nil {
		s.mu.Unlock()
		return &domain.TabNotFoundError{TabID: id}
	}
	changed := tab.Name != name
	tab.Name = name
	s.mu.Unlock()

	if changed {
		s.emit(Change{Kind: ChangeUpdated, TabID: id})
	}
	return nil
}

// MergeMetadata applies patch to the tab metadata and returns the result.
func (s *Store) MergeMetadata(id string, patch domain.MetadataPatch) (domain.Metadata, error) {
	s.mu.Lock()
	tab := s.find(id)
	if tab == nil {
		s.mu.Unlock()
		return domain.Metadata{}, &domain.TabNotFoundError{TabID: id}
	}
	tab.Metadata = tab.Metadata.Merge(patch)
	merged := tab.Metadata.Clone()
	s.mu.Unlock()

	s.emit(Change{Kind: ChangeUpdated, TabID: id})
	return merged, nil
}

// ResetExecution replaces the tab's execution state with a fresh idle one
// under a new execution id, so a re-run is never confused with the previous
// run's late events. A runner tab's run id follows the new execution id.
func (s *Store) ResetExecution(id string) (string, error) {
	s.mu.Lock()
	tab := s.find(id)
	if tab == nil {
		s.mu.Unlock()
		return "", &domain.TabNotFoundError{TabID: id}
	}
	executionID := s.newID()
	tab.Execution = domain.NewExecutionData(executionID)
	if tab.Metadata.Run != nil {
		tab.Metadata.Run.RunID = executionID
		tab.Metadata.Run.StartedAt = s.now()
	}
	s.mu.Unlock()

	log.Debug(log.CatTabs, "execution reset", "tab_id", id, "execution_id", executionID)
	s.emit(Change{Kind: ChangeExecution, TabID: id})
	return executionID, nil
}

// ApplyExecution locates the tab owning executionID (its execution id, or its
// run id for runner tabs) and runs fn on it under the store lock. fn must not
// call back into the store. Returns false when no tab owns the execution.
func (s *Store) ApplyExecution(executionID string, fn func(tab *domain.Tab) bool) (string, bool) {
	if executionID == "" {
		return "", false
	}

	s.mu.Lock()
	var owner *domain.Tab
	for _, tab := range s.tabs {
		if (tab.Execution != nil && tab.Execution.ExecutionID == executionID) || tab.RunID() == executionID {
			owner = tab
			break
		}
	}
	if owner == nil {
		s.mu.Unlock()
		return "", false
	}
	if owner.Execution == nil {
		owner.Execution = domain.NewExecutionData(executionID)
	}
	changed := fn(owner)
	id := owner.ID
	s.mu.Unlock()

	if changed {
		s.emit(Change{Kind: ChangeExecution, TabID: id})
	}
	return id, true
}

// Restore replaces every open tab with tabs, e.g. from a persisted session.
// Tabs keep their ids; each gets fresh idle execution state unless one is
// already set. If activeID is not among them the first tab becomes active.
// Close hooks fire only for previously open ids that are not restored.
func (s *Store) Restore(tabs []*domain.Tab, activeID string) {
	restored := make([]*domain.Tab, 0, len(tabs))
	for _, tab := range tabs {
		t := tab.Clone()
		if t.ID == "" {
			t.ID = s.newID()
		}
		if t.Execution == nil {
			t.Execution = domain.NewExecutionData(s.newID())
		}
		if t.UIState == nil {
			t.UIState = map[string]string{}
		}
		restored = append(restored, t)
	}

	s.mu.Lock()
	previous := s.ids()
	s.tabs = restored
	s.activeID = ""
	if s.indexOf(activeID) >= 0 {
		s.activeID = activeID
	} else if len(restored) > 0 {
		s.activeID = restored[0].ID
	}
	s.mu.Unlock()

	log.Debug(log.CatTabs, "restored", "tabs", len(restored), "active", activeID)
	for _, id := range previous {
		if !slices.ContainsFunc(restored, func(t *domain.Tab) bool { return t.ID == id }) {
			s.fireClose(id)
		}
	}
	s.emit(Change{Kind: ChangeRestored})
}

// Reset closes every tab.
func (s *Store) Reset() {
	s.mu.Lock()
	previous := s.ids()
	s.tabs = nil
	s.activeID = ""
	s.mu.Unlock()

	log.Debug(log.CatTabs, "reset", "closed", len(previous))
	for _, id := range previous {
		s.fireClose(id)
	}
	s.emit(Change{Kind: ChangeReset})
}

// Tabs returns copies of the open tabs in display order.
func (s *Store) Tabs() []*domain.Tab {
	s.mu.RLock()
	defer s.mu.RUnlock()

	out := make([]*domain.Tab, len(s.tabs))
	for i, tab := range s.tabs {
		out[i] = tab.Clone()
	}
	return out
}

// Tab returns a copy of the tab with the given id.
func (s *Store) Tab(id string) (*domain.Tab, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	tab := s.find(id)
	if tab == nil {
		return nil, false
	}
	return tab.Clone(), true
}

// Has reports whether a tab with the given id is open.
func (s *Store) Has(id string) bool {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.indexOf(id) >= 0
}

// FindTab returns a copy of the open tab showing the given resource.
func (s *Store) FindTab(tabType domain.TabType, collectionID, resourceID string) (*domain.Tab, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	i := s.indexOfResource(tabType, collectionID, resourceID)
	if i < 0 {
		return nil, false
	}
	return s.tabs[i].Clone(), true
}

// TemporaryTab returns a copy of the temporary tab, if any.
func (s *Store) TemporaryTab() (*domain.Tab, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	i := s.indexOfTemporary()
	if i < 0 {
		return nil, false
	}
	return s.tabs[i].Clone(), true
}

// ActiveTabID returns the active tab id, or "" when no tab is open.
func (s *Store) ActiveTabID() string {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.activeID
}

// ActiveTab returns a copy of the active tab.
func (s *Store) ActiveTab() (*domain.Tab, bool) {
	return s.Tab(s.ActiveTabID())
}

// Len returns the number of open tabs.
func (s *Store) Len() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.tabs)
}

// UIState returns a copy of the tab's sub-view selector.
func (s *Store) UIState(id string) (map[string]string, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	tab := s.find(id)
	if tab == nil {
		return nil, false
	}
	return maps.Clone(tab.UIState), true
}

func (s *Store) indexOf(id string) int {
	if id == "" {
		return -1
	}
	return slices.IndexFunc(s.tabs, func(t *domain.Tab) bool { return t.ID == id })
}

func (s *Store) find(id string) *domain.Tab {
	if i := s.indexOf(id); i >= 0 {
		return s.tabs[i]
	}
	return nil
}

func (s *Store) indexOfResource(tabType domain.TabType, collectionID, resourceID string) int {
	return slices.IndexFunc(s.tabs, func(t *domain.Tab) bool {
		return t.Matches(tabType, collectionID, resourceID)
	})
}

func (s *Store) indexOfTemporary() int {
	return slices.IndexFunc(s.tabs, func(t *domain.Tab) bool { return t.IsTemporary })
}

func (s *Store) ids() []string {
	ids := make([]string, len(s.tabs))
	for i, tab := range s.tabs {
		ids[i] = tab.ID
	}
	return ids
}

func (s *Store) fireClose(id string) {
	s.hooksMu.RLock()
	hooks := slices.Clone(s.closeHooks)
	s.hooksMu.RUnlock()

	for _, fn := range hooks {
		fn(id)
	}
}

func (s *Store) emit(c Change) {
	s.hooksMu.RLock()
	hooks := slices.Clone(s.changeHooks)
	s.hooksMu.RUnlock()

	for _, fn := range hooks {
		fn(c)
	}
	s.broker.Publish(pubsub.TabsChanged, c)
}
