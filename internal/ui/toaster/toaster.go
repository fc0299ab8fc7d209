// Package toaster shows short-lived notices (run results, failed actions)
// at the bottom of the screen.
package toaster

import (
	"time"

	tea "github.com/charmbracelet/bubbletea"
	"github.com/charmbracelet/lipgloss"

	"github.com/zjrosen/courier/internal/ui/overlay"
)

// DefaultDuration is how long a notice stays up.
const DefaultDuration = 3 * time.Second

// Kind selects the border color and icon of a notice.
type Kind int

const (
	KindInfo Kind = iota
	KindSuccess
	KindError
)

var (
	infoColor    = lipgloss.AdaptiveColor{Light: "#1A5276", Dark: "#3498DB"}
	successColor = lipgloss.AdaptiveColor{Light: "#43BF6D", Dark: "#73F59F"}
	errorColor   = lipgloss.AdaptiveColor{Light: "#FF6B6B", Dark: "#FF8787"}

	boxStyle = lipgloss.NewStyle().Padding(0, 1).Border(lipgloss.RoundedBorder())
)

// DismissMsg hides the notice it was scheduled for.
type DismissMsg struct {
	seq int
}

// Model holds at most one notice.
type Model struct {
	message  string
	kind     Kind
	seq      int
	duration time.Duration
}

// New creates an empty toaster.
func New() Model {
	return Model{duration: DefaultDuration}
}

// WithDuration overrides how long notices stay up.
func (m Model) WithDuration(d time.Duration) Model {
	m.duration = d
	return m
}

// Show replaces the current notice and schedules its dismissal. A dismissal
// scheduled for an earlier notice does not hide this one.
func (m Model) Show(message string, kind Kind) (Model, tea.Cmd) {
	m.seq++
	m.message = message
	m.kind = kind

	seq := m.seq
	return m, tea.Tick(m.duration, func(time.Time) tea.Msg {
		return DismissMsg{seq: seq}
	})
}

// Update handles DismissMsg.
func (m Model) Update(msg tea.Msg) Model {
	if d, ok := msg.(DismissMsg); ok && d.seq == m.seq {
		m.message = ""
	}
	return m
}

// Visible reports whether a notice is showing.
func (m Model) Visible() bool {
	return m.message != ""
}

// Message returns the current notice text.
func (m Model) Message() string {
	return m.message
}

// View renders the notice box, or "" when nothing is showing.
func (m Model) View() string {
	if !m.Visible() {
		return ""
	}
	switch m.kind {
	case KindError:
		return boxStyle.BorderForeground(errorColor).Render("✗ " + m.message)
	case KindSuccess:
		return boxStyle.BorderForeground(successColor).Render("✓ " + m.message)
	default:
		return boxStyle.BorderForeground(infoColor).Render(m.message)
	}
}

// Overlay draws the notice over bg, one row above the bottom edge.
func (m Model) Overlay(bg string, width, height int) string {
	if !m.Visible() {
		return bg
	}
	return overlay.Frame{Width: width, Height: height, Anchor: overlay.Bottom, Margin: 1}.Place(m.View(), bg)
}
