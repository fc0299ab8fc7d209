package domain

import (
	"context"
	"encoding/json"
	"maps"
	"slices"
	"strings"
)

// compositeSeparator joins collection and resource ids in a CompositeKey.
const compositeSeparator = "::"

// CompositeKey addresses a resource as collectionId::resourceId. Resource ids
// are only unique within a collection, so draft state is never keyed by the
// resource id alone.
type CompositeKey string

// NewCompositeKey builds the composite key for a resource.
func NewCompositeKey(collectionID, resourceID string) CompositeKey {
	return CompositeKey(collectionID + compositeSeparator + resourceID)
}

// ParseCompositeKey validates a raw key and returns it typed.
// Returns InvalidKeyError if the key is not in composite form.
func ParseCompositeKey(raw string) (CompositeKey, error) {
	key := CompositeKey(raw)
	if !key.Valid() {
		return "", &InvalidKeyError{Key: raw}
	}
	return key, nil
}

// Split returns the collection and resource ids of the key.
func (k CompositeKey) Split() (collectionID, resourceID string) {
	collectionID, resourceID, _ = strings.Cut(string(k), compositeSeparator)
	return collectionID, resourceID
}

// Valid reports whether both halves of the key are present.
func (k CompositeKey) Valid() bool {
	collectionID, resourceID, ok := strings.Cut(string(k), compositeSeparator)
	return ok && collectionID != "" && resourceID != ""
}

// String returns the raw key.
func (k CompositeKey) String() string {
	return string(k)
}

// TabDescriptor is the persisted form of a tab. Execution state is never part
// of it.
type TabDescriptor struct {
	ID           string            `json:"id" yaml:"id"`
	Type         TabType           `json:"type" yaml:"type"`
	ResourceID   string            `json:"resourceId" yaml:"resource_id"`
	CollectionID string            `json:"collectionId" yaml:"collection_id"`
	ProtocolID   string            `json:"protocolId,omitempty" yaml:"protocol_id,omitempty"`
	Name         string            `json:"name,omitempty" yaml:"name,omitempty"`
	UIState      map[string]string `json:"uiState,omitempty" yaml:"ui_state,omitempty"`
	Badge        string            `json:"badge,omitempty" yaml:"badge,omitempty"`
	Description  string            `json:"description,omitempty" yaml:"description,omitempty"`
}

// Key returns the composite key of the described resource.
func (d TabDescriptor) Key() CompositeKey {
	return NewCompositeKey(d.CollectionID, d.ResourceID)
}

// TabsState is the "tabs" sub-key of a session document: the ordered tab
// descriptors and the active tab id.
type TabsState struct {
	Tabs        []TabDescriptor `json:"tabs" yaml:"tabs"`
	ActiveTabID string          `json:"activeTabId,omitempty" yaml:"active_tab_id,omitempty"`
}

// SessionDocument is everything the session store keeps for one workspace.
type SessionDocument struct {
	Tabs      *TabsState                       `json:"tabs,omitempty"`
	Resources map[CompositeKey]json.RawMessage `json:"resources,omitempty"`
}

// Clone returns a deep copy of the document.
func (d SessionDocument) Clone() SessionDocument {
	var out SessionDocument
	if d.Tabs != nil {
		out.Tabs = &TabsState{ActiveTabID: d.Tabs.ActiveTabID}
		if d.Tabs.Tabs != nil {
			out.Tabs.Tabs = make([]TabDescriptor, len(d.Tabs.Tabs))
			for i, desc := range d.Tabs.Tabs {
				desc.UIState = maps.Clone(desc.UIState)
				out.Tabs.Tabs[i] = desc
			}
		}
	}
	if d.Resources != nil {
		out.Resources = make(map[CompositeKey]json.RawMessage, len(d.Resources))
		for k, v := range d.Resources {
			out.Resources[k] = slices.Clone(v)
		}
	}
	return out
}

// SessionSnapshot is the restorable view of a session document: the persisted
// tabs plus the draft map.
type SessionSnapshot struct {
	Tabs        []TabDescriptor
	ActiveTabID string
	Drafts      map[CompositeKey]json.RawMessage
}

// Snapshot converts the document into a SessionSnapshot. A document that was
// never written yields an empty snapshot.
func (d SessionDocument) Snapshot() SessionSnapshot {
	snap := SessionSnapshot{Drafts: d.Resources}
	if d.Tabs != nil {
		snap.Tabs = d.Tabs.Tabs
		snap.ActiveTabID = d.Tabs.ActiveTabID
	}
	if snap.Drafts == nil {
		snap.Drafts = map[CompositeKey]json.RawMessage{}
	}
	return snap
}

// SessionPatch is a merge-only update of a session document.
//
// Tabs replaces the tabs sub-key when non-nil. SetResources upserts draft
// entries and DeleteResources removes them; drafts not named are untouched.
type SessionPatch struct {
	Tabs            *TabsState
	SetResources    map[CompositeKey]json.RawMessage
	DeleteResources []CompositeKey
}

// IsEmpty reports whether the patch changes nothing.
func (p SessionPatch) IsEmpty() bool {
	return p.Tabs == nil && len(p.SetResources) == 0 && len(p.DeleteResources) == 0
}

// SessionStore is the durable session document store. Implementations may
// live in another process; courier only ever merges into documents.
type SessionStore interface {
	// Get returns the document for a workspace. A workspace with no stored
	// session returns an empty document and no error.
	Get(ctx context.Context, workspaceID string) (SessionDocument, error)

	// Update merges patch into the workspace document and returns the result.
	Update(ctx context.Context, workspaceID string, patch SessionPatch) (SessionDocument, error)

	// Close releases any resources held by the store.
	Close() error
}

// WorkspaceCatalog is implemented by stores that can enumerate and drop whole
// workspaces.
type WorkspaceCatalog interface {
	Workspaces(ctx context.Context) ([]string, error)
	DeleteWorkspace(ctx context.Context, workspaceID string) error
}
