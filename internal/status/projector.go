// Package status projects per-tab UI status (dirty flag, display name,
// badge) that editors write and the tab bar reads.
//
// Entries live exactly as long as the tab: the projector is registered as a
// TabStore close hook and forgets a tab id when it leaves the store. Writes
// for a tab the store no longer holds, such as a save that resolves after its
// tab closed, are dropped.
package status

import (
	"errors"
	"maps"
	"sync"

	"github.com/zjrosen/courier/internal/domain"
	"github.com/zjrosen/courier/internal/log"
)

// TabStatus is the UI-visible status of one tab.
type TabStatus struct {
	IsDirty     bool
	DisplayName string
	Badge       string
}

// TabWriter is the subset of the tab store the projector mirrors into.
type TabWriter interface {
	Has(id string) bool
	RenameTab(id, name string) error
	MergeMetadata(id string, patch domain.MetadataPatch) (domain.Metadata, error)
	ClearTemporaryFlag(id string) error
}

// Projector holds the status entries keyed by tab id.
type Projector struct {
	mu      sync.RWMutex
	entries map[string]TabStatus
	tabs    TabWriter
}

// New creates a projector. tabs may be nil, in which case nothing is mirrored.
func New(tabs TabWriter) *Projector {
	return &Projector{
		entries: make(map[string]TabStatus),
		tabs:    tabs,
	}
}

// SetDirty records whether the tab has unsaved edits. Marking a temporary tab
// dirty pins it so the next preview click does not discard the edits.
func (p *Projector) SetDirty(tabID string, dirty bool) {
	if !p.update(tabID, func(s *TabStatus) { s.IsDirty = dirty }) {
		return
	}
	if dirty && p.tabs != nil {
		p.mirror("pin", tabID, p.tabs.ClearTemporaryFlag(tabID))
	}
}

// SetName records the display name and mirrors it into the tab's legacy
// name field.
func (p *Projector) SetName(tabID, name string) {
	if !p.update(tabID, func(s *TabStatus) { s.DisplayName = name }) {
		return
	}
	if p.tabs != nil {
		p.mirror("rename", tabID, p.tabs.RenameTab(tabID, name))
	}
}

// SetMetadata merges patch into the tab metadata and mirrors the resulting
// badge into the status entry.
func (p *Projector) SetMetadata(tabID string, patch domain.MetadataPatch) {
	badge := ""
	if patch.Badge != nil {
		badge = *patch.Badge
	}

	if p.tabs != nil {
		merged, err := p.tabs.MergeMetadata(tabID, patch)
		p.mirror("metadata", tabID, err)
		if err == nil {
			badge = merged.Badge
		}
	}

	if patch.Badge == nil && badge == "" {
		return
	}
	p.update(tabID, func(s *TabStatus) { s.Badge = badge })
}

// Status returns the entry for tabID. Unknown tabs report the zero status.
func (p *Projector) Status(tabID string) TabStatus {
	p.mu.RLock()
	defer p.mu.RUnlock()
	return p.entries[tabID]
}

// IsDirty reports whether the tab has unsaved edits.
func (p *Projector) IsDirty(tabID string) bool {
	return p.Status(tabID).IsDirty
}

// DisplayName returns the recorded display name, or "" when none was set.
func (p *Projector) DisplayName(tabID string) string {
	return p.Status(tabID).DisplayName
}

// All returns a copy of every entry.
func (p *Projector) All() map[string]TabStatus {
	p.mu.RLock()
	defer p.mu.RUnlock()
	return maps.Clone(p.entries)
}

// DirtyTabs returns the ids of tabs with unsaved edits.
func (p *Projector) DirtyTabs() []string {
	p.mu.RLock()
	defer p.mu.RUnlock()

	var ids []string
	for id, s := range p.entries {
		if s.IsDirty {
			ids = append(ids, id)
		}
	}
	return ids
}

// Forget drops the entry for tabID. Registered as a tab close hook.
func (p *Projector) Forget(tabID string) {
	p.mu.Lock()
	defer p.mu.Unlock()
	delete(p.entries, tabID)
}

// Reset drops every entry.
func (p *Projector) Reset() {
	p.mu.Lock()
	defer p.mu.Unlock()
	clear(p.entries)
}

// update applies fn to the entry of tabID and reports whether it was
// written. The open check runs under p.mu so a concurrent close, whose hook
// also takes p.mu, either sees the entry and forgets it or prevents it.
func (p *Projector) update(tabID string, fn func(*TabStatus)) bool {
	p.mu.Lock()
	if p.tabs != nil && !p.tabs.Has(tabID) {
		p.mu.Unlock()
		log.Debug(log.CatStatus, "status dropped: tab not open", "tab_id", tabID)
		return false
	}
	s := p.entries[tabID]
	fn(&s)
	p.entries[tabID] = s
	p.mu.Unlock()

	log.Debug(log.CatStatus, "status updated", "tab_id", tabID,
		"dirty", s.IsDirty, "name", s.DisplayName, "badge", s.Badge)
	return true
}

// mirror logs a failed best-effort write to the tab store.
func (p *Projector) mirror(op, tabID string, err error) {
	if err == nil {
		return
	}
	if errors.Is(err, domain.ErrNotFound) {
		log.Debug(log.CatStatus, "mirror skipped: tab not open", "op", op, "tab_id", tabID)
		return
	}
	log.ErrorErr(log.CatStatus, "mirror failed", err, "op", op, "tab_id", tabID)
}
