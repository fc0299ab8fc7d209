// Package domain provides the pure data model shared by the tab, status,
// persistence and execution packages.
//
// The package has no infrastructure dependencies: it defines the Tab entity,
// execution state, the persisted session document shape, the SessionStore
// contract and the error taxonomy. Everything else in courier builds on it.
package domain

import (
	"maps"
	"time"
)

// TabType identifies which kind of editor surface a tab hosts.
type TabType string

const (
	TabTypeRequest    TabType = "request"
	TabTypeCollection TabType = "collection"
	TabTypeFolder     TabType = "folder"
	TabTypeRunner     TabType = "runner"
)

// String returns the string representation of the tab type.
func (t TabType) String() string {
	return string(t)
}

// IsValid returns true if the type is a recognized tab type.
func (t TabType) IsValid() bool {
	switch t {
	case TabTypeRequest, TabTypeCollection, TabTypeFolder, TabTypeRunner:
		return true
	default:
		return false
	}
}

// Persistable reports whether tabs of this type survive a restart.
// Runner tabs describe a single execution and are never persisted.
func (t TabType) Persistable() bool {
	return t != TabTypeRunner && t.IsValid()
}

// RunDescriptor describes the collection run hosted by a runner tab.
type RunDescriptor struct {
	// RunID is the id the engine knows the run by. It always equals the
	// owning tab's ExecutionData.ExecutionID.
	RunID        string    `json:"runId"`
	CollectionID string    `json:"collectionId"`
	FolderID     string    `json:"folderId,omitempty"`
	Name         string    `json:"name,omitempty"`
	StartedAt    time.Time `json:"startedAt"`
}

// Metadata holds type-specific tab details.
// Request tabs use Badge and Description; runner tabs use Run.
type Metadata struct {
	Badge       string         `json:"badge,omitempty"`
	Description string         `json:"description,omitempty"`
	Run         *RunDescriptor `json:"run,omitempty"`
}

// MetadataPatch is a partial metadata update. Nil fields are left untouched.
type MetadataPatch struct {
	Badge       *string
	Description *string
}

// Merge returns a copy of m with the non-nil fields of patch applied.
func (m Metadata) Merge(patch MetadataPatch) Metadata {
	out := m.Clone()
	if patch.Badge != nil {
		out.Badge = *patch.Badge
	}
	if patch.Description != nil {
		out.Description = *patch.Description
	}
	return out
}

// Clone returns a deep copy of the metadata.
func (m Metadata) Clone() Metadata {
	out := m
	if m.Run != nil {
		run := *m.Run
		out.Run = &run
	}
	return out
}

// Tab is one open editor slot.
//
// ID is process-unique and opaque. (Type, CollectionID, ResourceID) identifies
// the resource the tab shows; at most one tab per identity is open at a time.
type Tab struct {
	ID           string
	Type         TabType
	ResourceID   string
	CollectionID string
	ProtocolID   string

	// Name is a legacy mirror of the display name. The authoritative display
	// name lives in the status projector.
	Name string

	IsTemporary bool

	// UIState is a free-form sub-view selector, e.g. which inner tab is shown.
	UIState map[string]string

	Metadata  Metadata
	Execution *ExecutionData
}

// Key returns the composite key of the resource shown by the tab.
func (t *Tab) Key() CompositeKey {
	return NewCompositeKey(t.CollectionID, t.ResourceID)
}

// Matches reports whether the tab shows the given resource.
func (t *Tab) Matches(tabType TabType, collectionID, resourceID string) bool {
	return t.Type == tabType && t.CollectionID == collectionID && t.ResourceID == resourceID
}

// Persistable reports whether the tab belongs in a persisted session snapshot.
func (t *Tab) Persistable() bool {
	return !t.IsTemporary && t.Type.Persistable()
}

// RunID returns the externally visible run id of a runner tab, or "" for
// other tab types.
func (t *Tab) RunID() string {
	if t.Metadata.Run == nil {
		return ""
	}
	return t.Metadata.Run.RunID
}

// Clone returns a deep copy of the tab. Callers outside the tab store only
// ever see clones, so they cannot mutate store state behind its back.
func (t *Tab) Clone() *Tab {
	if t == nil {
		return nil
	}
	out := *t
	out.UIState = maps.Clone(t.UIState)
	out.Metadata = t.Metadata.Clone()
	out.Execution = t.Execution.Clone()
	return &out
}

// Descriptor returns the persisted form of the tab using displayName as the
// stored name.
func (t *Tab) Descriptor(displayName string) TabDescriptor {
	if displayName == "" {
		displayName = t.Name
	}
	return TabDescriptor{
		ID:           t.ID,
		Type:         t.Type,
		ResourceID:   t.ResourceID,
		CollectionID: t.CollectionID,
		ProtocolID:   t.ProtocolID,
		Name:         displayName,
		UIState:      maps.Clone(t.UIState),
		Badge:        t.Metadata.Badge,
		Description:  t.Metadata.Description,
	}
}
