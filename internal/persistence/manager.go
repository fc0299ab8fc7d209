// Package persistence saves and restores the open-tab session and the
// per-resource draft map through a domain.SessionStore.
//
// In-memory state is authoritative: a failed write is logged and returned
// but never rolls back the tab store, and the next mutation retries the
// full snapshot. A failed load leaves the stored session untouched until a
// later restore succeeds; SaveSession retries it before writing.
package persistence

import (
	"context"
	"encoding/json"
	"errors"
	"slices"
	"sync/atomic"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"

	"github.com/zjrosen/courier/internal/domain"
	"github.com/zjrosen/courier/internal/log"
	"github.com/zjrosen/courier/internal/status"
	"github.com/zjrosen/courier/internal/tabs"
	"github.com/zjrosen/courier/internal/tracing"
)

// ErrLoadInFlight is returned by SaveSession while LoadSession is running.
var ErrLoadInFlight = errors.New("session load in flight")

// Manager persists one tab store.
type Manager struct {
	store  domain.SessionStore
	tabs   *tabs.Store
	status *status.Projector
	tracer trace.Tracer

	// loads counts LoadSession and Recover calls in flight.
	loads atomic.Int32
	// unrestored is set while the last load failed.
	unrestored atomic.Bool
}

// Option configures a Manager.
type Option func(*Manager)

// WithTracer sets the tracer used for persistence spans.
func WithTracer(tracer trace.Tracer) Option {
	return func(m *Manager) {
		m.tracer = tracer
	}
}

// New creates a Manager over store for the given tab store and projector.
func New(store domain.SessionStore, tabStore *tabs.Store, projector *status.Projector, opts ...Option) *Manager {
	m := &Manager{
		store:  store,
		tabs:   tabStore,
		status: projector,
		tracer: tracing.NewNoop().Tracer(),
	}
	for _, opt := range opts {
		opt(m)
	}
	return m
}

// Loading reports whether a LoadSession call is in flight.
func (m *Manager) Loading() bool {
	return m.loads.Load() > 0
}

// NeedsRestore reports whether the last load failed and the stored session
// has not been read since.
func (m *Manager) NeedsRestore() bool {
	return m.unrestored.Load()
}

// Snapshot builds the persisted form of the current tabs: runner and
// temporary tabs are left out and names come from the status projector. An
// active tab that is not persisted is recorded as no active tab.
func (m *Manager) Snapshot() domain.TabsState {
	state := domain.TabsState{Tabs: []domain.TabDescriptor{}}
	activeID := m.tabs.ActiveTabID()

	for _, tab := range m.tabs.Tabs() {
		if !tab.Persistable() {
			continue
		}
		state.Tabs = append(state.Tabs, tab.Descriptor(m.status.DisplayName(tab.ID)))
		if tab.ID == activeID {
			state.ActiveTabID = activeID
		}
	}
	return state
}

// SaveSession writes the tabs sub-document for workspaceID, leaving drafts
// untouched. It is skipped with ErrLoadInFlight while a load is running so a
// stale snapshot can never clobber the restore. After a failed load it first
// retries the restore with Recover and writes nothing if that fails again.
func (m *Manager) SaveSession(ctx context.Context, workspaceID string) error {
	if m.Loading() {
		log.Debug(log.CatSession, "save skipped: load in flight", "workspace", workspaceID)
		return ErrLoadInFlight
	}
	if m.unrestored.Load() {
		if _, err := m.Recover(ctx, workspaceID); err != nil {
			return err
		}
	}

	snapshot := m.Snapshot()

	ctx, span := m.tracer.Start(ctx, tracing.SpanSaveSession, trace.WithAttributes(
		attribute.String(tracing.AttrWorkspaceID, workspaceID),
		attribute.Int(tracing.AttrTabCount, len(snapshot.Tabs)),
	))
	defer span.End()

	if _, err := m.store.Update(ctx, workspaceID, domain.SessionPatch{Tabs: &snapshot}); err != nil {
		return m.fail(span, "save session", workspaceID, err)
	}

	log.Debug(log.CatSession, "session saved", "workspace", workspaceID, "tabs", len(snapshot.Tabs))
	return nil
}

// LoadSession replaces the open tabs with the persisted session of
// workspaceID. Every restored tab gets fresh idle execution state; tabs with
// a stored draft are marked dirty and take the draft's "name" when present.
func (m *Manager) LoadSession(ctx context.Context, workspaceID string) (domain.SessionSnapshot, error) {
	return m.load(ctx, workspaceID, false)
}

// Recover restores the persisted session like LoadSession but keeps the
// tabs opened since the failed load, after the restored ones. A kept tab
// showing the same resource as a restored one is dropped in its favor.
func (m *Manager) Recover(ctx context.Context, workspaceID string) (domain.SessionSnapshot, error) {
	return m.load(ctx, workspaceID, true)
}

func (m *Manager) load(ctx context.Context, workspaceID string, keepOpen bool) (domain.SessionSnapshot, error) {
	m.loads.Add(1)
	defer m.loads.Add(-1)

	ctx, span := m.tracer.Start(ctx, tracing.SpanLoadSession, trace.WithAttributes(
		attribute.String(tracing.AttrWorkspaceID, workspaceID),
		attribute.Bool(tracing.AttrRecover, keepOpen),
	))
	defer span.End()

	doc, err := m.store.Get(ctx, workspaceID)
	if err != nil {
		m.unrestored.Store(true)
		return domain.SessionSnapshot{}, m.fail(span, "load session", workspaceID, err)
	}
	snap := doc.Snapshot()

	restored := make([]*domain.Tab, 0, len(snap.Tabs))
	for _, d := range snap.Tabs {
		if !d.Type.Persistable() {
			log.Warn(log.CatSession, "skipping non-restorable tab", "tab_id", d.ID, "type", d.Type)
			continue
		}
		restored = append(restored, descriptorToTab(d))
	}
	fromStore := len(restored)

	activeID := snap.ActiveTabID
	kept := make(map[string]bool)
	if keepOpen {
		current := m.tabs.ActiveTabID()
		for _, tab := range m.tabs.Tabs() {
			if slices.ContainsFunc(restored[:fromStore], func(r *domain.Tab) bool {
				return r.ID == tab.ID || r.Matches(tab.Type, tab.CollectionID, tab.ResourceID)
			}) {
				continue
			}
			kept[tab.ID] = true
			restored = append(restored, tab)
			if tab.ID == current {
				activeID = current
			}
		}
	}
	m.tabs.Restore(restored, activeID)
	m.unrestored.Store(false)

	dirty := 0
	for _, tab := range m.tabs.Tabs() {
		if kept[tab.ID] {
			continue
		}
		name := tab.Name
		if draft, ok := snap.Drafts[tab.Key()]; ok {
			m.status.SetDirty(tab.ID, true)
			dirty++
			if draftName := nameFromDraft(draft); draftName != "" {
				name = draftName
			}
		}
		if name != "" {
			m.status.SetName(tab.ID, name)
		}
		if tab.Metadata.Badge != "" {
			badge := tab.Metadata.Badge
			m.status.SetMetadata(tab.ID, domain.MetadataPatch{Badge: &badge})
		}
	}

	span.SetAttributes(
		attribute.Int(tracing.AttrTabCount, fromStore),
		attribute.Int(tracing.AttrDraftCount, len(snap.Drafts)),
	)
	log.Info(log.CatSession, "session loaded", "workspace", workspaceID,
		"tabs", fromStore, "kept", len(kept), "dirty", dirty, "active", m.tabs.ActiveTabID())
	return snap, nil
}

// SaveResourceState stores the draft for key, which must be composite.
func (m *Manager) SaveResourceState(ctx context.Context, workspaceID, key string, state json.RawMessage) error {
	ck, err := domain.ParseCompositeKey(key)
	if err != nil {
		log.Warn(log.CatSession, "rejecting draft key", "key", key)
		return err
	}

	ctx, span := m.startResourceSpan(ctx, tracing.SpanSaveResourceState, workspaceID, ck)
	defer span.End()

	patch := domain.SessionPatch{SetResources: map[domain.CompositeKey]json.RawMessage{ck: state}}
	if _, err := m.store.Update(ctx, workspaceID, patch); err != nil {
		return m.fail(span, "save resource state", workspaceID, err)
	}
	return nil
}

// GetResourceState returns the draft for key, or nil when none is stored.
func (m *Manager) GetResourceState(ctx context.Context, workspaceID, key string) (json.RawMessage, error) {
	ck, err := domain.ParseCompositeKey(key)
	if err != nil {
		return nil, err
	}

	ctx, span := m.startResourceSpan(ctx, tracing.SpanGetResourceState, workspaceID, ck)
	defer span.End()

	doc, err := m.store.Get(ctx, workspaceID)
	if err != nil {
		return nil, m.fail(span, "get resource state", workspaceID, err)
	}
	return doc.Resources[ck], nil
}

// ClearResourceState removes the draft for key.
func (m *Manager) ClearResourceState(ctx context.Context, workspaceID, key string) error {
	ck, err := domain.ParseCompositeKey(key)
	if err != nil {
		return err
	}

	ctx, span := m.startResourceSpan(ctx, tracing.SpanClearResourceState, workspaceID, ck)
	defer span.End()

	patch := domain.SessionPatch{DeleteResources: []domain.CompositeKey{ck}}
	if _, err := m.store.Update(ctx, workspaceID, patch); err != nil {
		return m.fail(span, "clear resource state", workspaceID, err)
	}
	return nil
}

// Drafts returns every stored draft of workspaceID.
func (m *Manager) Drafts(ctx context.Context, workspaceID string) (map[domain.CompositeKey]json.RawMessage, error) {
	doc, err := m.store.Get(ctx, workspaceID)
	if err != nil {
		return nil, &domain.PersistenceError{Op: "list drafts", WorkspaceID: workspaceID, Err: err}
	}
	return doc.Snapshot().Drafts, nil
}

// ClearAll empties the persisted tabs and removes every draft of workspaceID.
func (m *Manager) ClearAll(ctx context.Context, workspaceID string) error {
	doc, err := m.store.Get(ctx, workspaceID)
	if err != nil {
		return &domain.PersistenceError{Op: "reset session", WorkspaceID: workspaceID, Err: err}
	}

	patch := domain.SessionPatch{Tabs: &domain.TabsState{Tabs: []domain.TabDescriptor{}}}
	for key := range doc.Resources {
		patch.DeleteResources = append(patch.DeleteResources, key)
	}
	if _, err := m.store.Update(ctx, workspaceID, patch); err != nil {
		return &domain.PersistenceError{Op: "reset session", WorkspaceID: workspaceID, Err: err}
	}
	return nil
}

func (m *Manager) startResourceSpan(ctx context.Context, name, workspaceID string, key domain.CompositeKey) (context.Context, trace.Span) {
	return m.tracer.Start(ctx, name, trace.WithAttributes(
		attribute.String(tracing.AttrWorkspaceID, workspaceID),
		attribute.String(tracing.AttrResourceKey, key.String()),
	))
}

func (m *Manager) fail(span trace.Span, op, workspaceID string, err error) error {
	perr := &domain.PersistenceError{Op: op, WorkspaceID: workspaceID, Err: err}
	tracing.RecordError(span, perr)
	log.ErrorErr(log.CatSession, op+" failed", err, "workspace", workspaceID)
	return perr
}

func descriptorToTab(d domain.TabDescriptor) *domain.Tab {
	return &domain.Tab{
		ID:           d.ID,
		Type:         d.Type,
		ResourceID:   d.ResourceID,
		CollectionID: d.CollectionID,
		ProtocolID:   d.ProtocolID,
		Name:         d.Name,
		UIState:      d.UIState,
		Metadata: domain.Metadata{
			Badge:       d.Badge,
			Description: d.Description,
		},
	}
}

// nameFromDraft returns the draft's "name" field, if it is a JSON object
// carrying a string name.
func nameFromDraft(draft json.RawMessage) string {
	var fields struct {
		Name string `json:"name"`
	}
	if err := json.Unmarshal(draft, &fields); err != nil {
		return ""
	}
	return fields.Name
}
