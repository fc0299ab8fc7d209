package testutil

import "github.com/zjrosen/courier/internal/domain"

// TabOption configures a tab descriptor during builder setup.
type TabOption func(*domain.TabDescriptor)

// OfType sets the tab type. Descriptors default to request tabs.
func OfType(t domain.TabType) TabOption {
	return func(d *domain.TabDescriptor) { d.Type = t }
}

// InCollection sets the collection id.
func InCollection(id string) TabOption {
	return func(d *domain.TabDescriptor) { d.CollectionID = id }
}

// Named sets the persisted display name.
func Named(name string) TabOption {
	return func(d *domain.TabDescriptor) { d.Name = name }
}

// Protocol sets the protocol id.
func Protocol(id string) TabOption {
	return func(d *domain.TabDescriptor) { d.ProtocolID = id }
}

// Badge sets the request badge.
func Badge(badge string) TabOption {
	return func(d *domain.TabDescriptor) { d.Badge = badge }
}

// UIState sets one sub-view selector entry.
func UIState(key, value string) TabOption {
	return func(d *domain.TabDescriptor) {
		if d.UIState == nil {
			d.UIState = map[string]string{}
		}
		d.UIState[key] = value
	}
}

func defaultDescriptor(id, resourceID string) domain.TabDescriptor {
	return domain.TabDescriptor{
		ID:           id,
		Type:         domain.TabTypeRequest,
		ResourceID:   resourceID,
		CollectionID: "c1",
		ProtocolID:   "http",
	}
}
