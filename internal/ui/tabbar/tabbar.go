// Package tabbar renders the strip of open tabs: display names, method
// badges, unsaved-edit markers, preview styling and execution status.
// Clicking a tab activates it; double-clicking a preview tab keeps it open.
package tabbar

import (
	"strings"
	"time"

	"github.com/charmbracelet/bubbles/key"
	tea "github.com/charmbracelet/bubbletea"
	"github.com/charmbracelet/x/ansi"
	zone "github.com/lrstanley/bubblezone"
	"github.com/mattn/go-runewidth"

	"github.com/zjrosen/courier/internal/domain"
	"github.com/zjrosen/courier/internal/status"
)

const (
	zonePrefix     = "tabbar:"
	defaultTitle   = 24
	doubleClickGap = 400 * time.Millisecond
	dirtyMarker    = "●"
	ellipsis       = "…"
)

// Item is one rendered tab.
type Item struct {
	ID        string
	Type      domain.TabType
	Title     string
	Badge     string
	Dirty     bool
	Temporary bool
	Status    domain.ExecutionStatus
}

// Items builds tab bar items from the tab store contents and the status
// projector. Display names fall back to the tab name, then the resource id.
func Items(tabs []*domain.Tab, projector *status.Projector) []Item {
	items := make([]Item, 0, len(tabs))
	for _, tab := range tabs {
		st := projector.Status(tab.ID)

		title := st.DisplayName
		if title == "" {
			title = tab.Name
		}
		if title == "" {
			title = tab.ResourceID
		}
		badge := st.Badge
		if badge == "" {
			badge = tab.Metadata.Badge
		}
		var exec domain.ExecutionStatus
		if tab.Execution != nil {
			exec = tab.Execution.Status
		}

		items = append(items, Item{
			ID:        tab.ID,
			Type:      tab.Type,
			Title:     title,
			Badge:     badge,
			Dirty:     st.IsDirty,
			Temporary: tab.IsTemporary,
			Status:    exec,
		})
	}
	return items
}

// ActivateMsg asks the parent to activate a tab.
type ActivateMsg struct{ TabID string }

// CloseMsg asks the parent to close a tab.
type CloseMsg struct{ TabID string }

// PinMsg asks the parent to keep a preview tab open.
type PinMsg struct{ TabID string }

// Model is the tab bar component.
type Model struct {
	items    []Item
	activeID string
	width    int
	maxTitle int
	keys     KeyMap

	lastClickID string
	lastClickAt time.Time
	now         func() time.Time
}

// New creates an empty tab bar.
func New() Model {
	return Model{
		maxTitle: defaultTitle,
		keys:     DefaultKeyMap(),
		now:      time.Now,
	}
}

// SetItems replaces the rendered tabs.
func (m Model) SetItems(items []Item, activeID string) Model {
	m.items = items
	m.activeID = activeID
	return m
}

// SetWidth sets the available width. Zero means unbounded.
func (m Model) SetWidth(width int) Model {
	m.width = width
	return m
}

// SetMaxTitle sets the title width before truncation.
func (m Model) SetMaxTitle(n int) Model {
	m.maxTitle = n
	return m
}

// ActiveID returns the active tab id.
func (m Model) ActiveID() string {
	return m.activeID
}

// Items returns the rendered tabs.
func (m Model) Items() []Item {
	return m.items
}

// Keys returns the key bindings.
func (m Model) Keys() KeyMap {
	return m.keys
}

// Update handles navigation keys and mouse clicks. State changes are
// requested from the parent through messages; the bar itself only changes
// when SetItems is called.
func (m Model) Update(msg tea.Msg) (Model, tea.Cmd) {
	switch msg := msg.(type) {
	case tea.KeyMsg:
		switch {
		case key.Matches(msg, m.keys.Next):
			return m, m.activateOffset(1)
		case key.Matches(msg, m.keys.Prev):
			return m, m.activateOffset(-1)
		case key.Matches(msg, m.keys.Close):
			if m.activeID != "" {
				return m, emit(CloseMsg{TabID: m.activeID})
			}
		case key.Matches(msg, m.keys.Pin):
			if m.activeID != "" {
				return m, emit(PinMsg{TabID: m.activeID})
			}
		}

	case tea.MouseMsg:
		if msg.Action != tea.MouseActionRelease {
			return m, nil
		}
		id, ok := m.hit(msg)
		if !ok {
			return m, nil
		}
		switch msg.Button {
		case tea.MouseButtonMiddle:
			return m, emit(CloseMsg{TabID: id})
		case tea.MouseButtonLeft:
			now := m.now()
			double := id == m.lastClickID && now.Sub(m.lastClickAt) <= doubleClickGap
			m.lastClickID, m.lastClickAt = id, now
			if double {
				return m, emit(PinMsg{TabID: id})
			}
			return m, emit(ActivateMsg{TabID: id})
		}
	}
	return m, nil
}

func (m Model) hit(msg tea.MouseMsg) (string, bool) {
	for _, item := range m.items {
		if z := zone.Get(zonePrefix + item.ID); z != nil && z.InBounds(msg) {
			return item.ID, true
		}
	}
	return "", false
}

func (m Model) activateOffset(delta int) tea.Cmd {
	if len(m.items) == 0 {
		return nil
	}
	idx := 0
	for i, item := range m.items {
		if item.ID == m.activeID {
			idx = i
			break
		}
	}
	idx = (idx + delta + len(m.items)) % len(m.items)
	return emit(ActivateMsg{TabID: m.items[idx].ID})
}

func emit(msg tea.Msg) tea.Cmd {
	return func() tea.Msg { return msg }
}

// View renders the bar on one line. Each tab is wrapped in a bubblezone
// marker; the root view must call zone.Scan.
func (m Model) View() string {
	if len(m.items) == 0 {
		return tabStyle.Render("no open tabs")
	}

	sep := separatorStyle.Render("│")
	parts := make([]string, 0, len(m.items))
	for _, item := range m.items {
		parts = append(parts, zone.Mark(zonePrefix+item.ID, m.renderTab(item)))
	}
	line := strings.Join(parts, sep)

	if m.width > 0 && ansi.StringWidth(line) > m.width {
		line = ansi.Truncate(line, m.width, ellipsis)
	}
	return line
}

func (m Model) renderTab(item Item) string {
	var b strings.Builder

	if glyph := statusGlyph(item.Status); glyph != "" {
		b.WriteString(glyph)
		b.WriteString(" ")
	}
	if item.Badge != "" {
		b.WriteString(badgeStyle.Render(item.Badge))
		b.WriteString(" ")
	}

	title := item.Title
	if item.Type == domain.TabTypeRunner {
		title = "▶ " + title
	}
	if m.maxTitle > 0 {
		title = runewidth.Truncate(title, m.maxTitle, ellipsis)
	}
	if item.Temporary {
		title = temporaryStyle.Render(title)
	}
	b.WriteString(title)

	if item.Dirty {
		b.WriteString(" ")
		b.WriteString(dirtyStyle.Render(dirtyMarker))
	}

	style := tabStyle
	if item.ID == m.activeID {
		style = activeTabStyle
	}
	return style.Render(b.String())
}

func statusGlyph(s domain.ExecutionStatus) string {
	switch s {
	case domain.ExecutionRunning:
		return runningStyle.Render("◌")
	case domain.ExecutionComplete:
		return successStyle.Render("✓")
	case domain.ExecutionError:
		return errorStyle.Render("✗")
	default:
		return ""
	}
}
