package sqlite

import (
	"encoding/json"
	"fmt"
	"time"

	"github.com/zjrosen/courier/internal/domain"
)

// TabsModel is a session_tabs row. Tabs holds the JSON-encoded descriptors.
type TabsModel struct {
	WorkspaceID string
	Tabs        string
	ActiveTabID string
	UpdatedAt   int64
}

// ResourceModel is a session_resources row.
type ResourceModel struct {
	WorkspaceID string
	ResourceKey string
	State       string
	UpdatedAt   int64
}

func toTabsModel(workspaceID string, state *domain.TabsState, now time.Time) (*TabsModel, error) {
	descriptors := state.Tabs
	if descriptors == nil {
		descriptors = []domain.TabDescriptor{}
	}
	data, err := json.Marshal(descriptors)
	if err != nil {
		return nil, fmt.Errorf("encode tabs: %w", err)
	}
	return &TabsModel{
		WorkspaceID: workspaceID,
		Tabs:        string(data),
		ActiveTabID: state.ActiveTabID,
		UpdatedAt:   now.Unix(),
	}, nil
}

func (m *TabsModel) toDomain() (*domain.TabsState, error) {
	state := &domain.TabsState{ActiveTabID: m.ActiveTabID}
	if err := json.Unmarshal([]byte(m.Tabs), &state.Tabs); err != nil {
		return nil, fmt.Errorf("decode tabs for workspace %s: %w", m.WorkspaceID, err)
	}
	return state, nil
}

func toResourceModel(workspaceID string, key domain.CompositeKey, state json.RawMessage, now time.Time) *ResourceModel {
	return &ResourceModel{
		WorkspaceID: workspaceID,
		ResourceKey: key.String(),
		State:       string(state),
		UpdatedAt:   now.Unix(),
	}
}

func (m *ResourceModel) toDomain() (domain.CompositeKey, json.RawMessage) {
	return domain.CompositeKey(m.ResourceKey), json.RawMessage(m.State)
}
