// Package app wires the courier components into a Workbench and provides
// the root Bubble Tea model that drives it from the terminal.
package app

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/charmbracelet/bubbles/key"
	tea "github.com/charmbracelet/bubbletea"
	"github.com/charmbracelet/lipgloss"
	zone "github.com/lrstanley/bubblezone"

	"github.com/zjrosen/courier/internal/domain"
	"github.com/zjrosen/courier/internal/log"
	"github.com/zjrosen/courier/internal/pubsub"
	"github.com/zjrosen/courier/internal/tabs"
	"github.com/zjrosen/courier/internal/ui/overlay"
	"github.com/zjrosen/courier/internal/ui/tabbar"
	"github.com/zjrosen/courier/internal/ui/toaster"
)

const (
	visibleEvents  = 12
	visibleLogRows = 5
)

var (
	mutedStyle  = lipgloss.NewStyle().Foreground(lipgloss.AdaptiveColor{Light: "#666666", Dark: "#777777"})
	promptStyle = lipgloss.NewStyle().
			Padding(1, 2).
			Border(lipgloss.RoundedBorder()).
			BorderForeground(lipgloss.AdaptiveColor{Light: "#922B21", Dark: "#E74C3C"})
	titleStyle  = lipgloss.NewStyle().Bold(true)
)

type keyMap struct {
	Run     key.Binding
	Stop    key.Binding
	Clear   key.Binding
	Log     key.Binding
	Quit    key.Binding
	Save    key.Binding
	Discard key.Binding
	Cancel  key.Binding
}

func defaultKeys() keyMap {
	return keyMap{
		Run:     key.NewBinding(key.WithKeys("r", "ctrl+r"), key.WithHelp("r", "run")),
		Stop:    key.NewBinding(key.WithKeys("s"), key.WithHelp("s", "stop")),
		Clear:   key.NewBinding(key.WithKeys("x"), key.WithHelp("x", "clear")),
		Log:     key.NewBinding(key.WithKeys("g"), key.WithHelp("g", "global log")),
		Quit:    key.NewBinding(key.WithKeys("q", "ctrl+c"), key.WithHelp("q", "quit")),
		Save:    key.NewBinding(key.WithKeys("y"), key.WithHelp("y", "save")),
		Discard: key.NewBinding(key.WithKeys("n"), key.WithHelp("n", "discard")),
		Cancel:  key.NewBinding(key.WithKeys("esc", "c"), key.WithHelp("esc", "cancel")),
	}
}

// actionDoneMsg reports the result of a command issued from the UI.
type actionDoneMsg struct {
	action string
	err    error
}

// Model is the root application state.
type Model struct {
	wb    *Workbench
	ctx   context.Context
	keys  keyMap
	bar   tabbar.Model
	toast toaster.Model

	changes <-chan pubsub.Event[tabs.Change]
	logFeed <-chan pubsub.Event[domain.ExecutionEvent]

	// debugFeed is nil unless --debug installed a logger.
	debugFeed  <-chan pubsub.Event[string]
	debugLines []string

	width      int
	height     int
	showLog    bool
	confirming string
}

// NewModel creates the root model for a started workbench. ctx bounds the
// change and log subscriptions.
func NewModel(ctx context.Context, wb *Workbench) Model {
	m := Model{
		wb:      wb,
		ctx:     ctx,
		keys:    defaultKeys(),
		bar:     tabbar.New(),
		toast:   toaster.New(),
		changes:   wb.Tabs().Subscribe(ctx),
		logFeed:   wb.GlobalLog().Subscribe(ctx),
		debugFeed: log.Subscribe(ctx),
	}
	return m.refresh()
}

// Init implements tea.Model.
func (m Model) Init() tea.Cmd {
	cmds := []tea.Cmd{
		pubsub.ListenCmd(m.ctx, m.changes),
		pubsub.ListenCmd(m.ctx, m.logFeed),
	}
	if m.debugFeed != nil {
		cmds = append(cmds, pubsub.ListenCmd(m.ctx, m.debugFeed))
	}
	return tea.Batch(cmds...)
}

// Update implements tea.Model.
func (m Model) Update(msg tea.Msg) (tea.Model, tea.Cmd) {
	switch msg := msg.(type) {
	case tea.WindowSizeMsg:
		m.width, m.height = msg.Width, msg.Height
		m.bar = m.bar.SetWidth(msg.Width)
		return m, nil

	case pubsub.Event[tabs.Change]:
		return m.refresh(), pubsub.ListenCmd(m.ctx, m.changes)

	case pubsub.Event[domain.ExecutionEvent]:
		return m, pubsub.ListenCmd(m.ctx, m.logFeed)

	case pubsub.Event[string]:
		m.debugLines = append(m.debugLines, strings.TrimRight(msg.Payload, "\n"))
		if len(m.debugLines) > visibleLogRows {
			m.debugLines = m.debugLines[len(m.debugLines)-visibleLogRows:]
		}
		if m.debugFeed == nil {
			return m, nil
		}
		return m, pubsub.ListenCmd(m.ctx, m.debugFeed)

	case actionDoneMsg:
		if errors.Is(msg.err, domain.ErrStale) {
			return m.refresh(), nil
		}
		return m.apply(msg.action, msg.err)

	case toaster.DismissMsg:
		m.toast = m.toast.Update(msg)
		return m, nil

	case tabbar.ActivateMsg:
		return m.apply("activate", m.wb.Tabs().SetActiveTab(msg.TabID))

	case tabbar.PinMsg:
		return m.apply("pin", m.wb.Tabs().ClearTemporaryFlag(msg.TabID))

	case tabbar.CloseMsg:
		if m.wb.Status().IsDirty(msg.TabID) {
			m.confirming = msg.TabID
			return m, nil
		}
		return m.apply("close", m.wb.Tabs().CloseTab(msg.TabID))

	case tea.MouseMsg:
		var cmd tea.Cmd
		m.bar, cmd = m.bar.Update(msg)
		return m, cmd

	case tea.KeyMsg:
		if m.confirming != "" {
			return m.handleConfirmKey(msg)
		}
		return m.handleKey(msg)
	}
	return m, nil
}

func (m Model) handleConfirmKey(msg tea.KeyMsg) (tea.Model, tea.Cmd) {
	var choice Choice
	switch {
	case key.Matches(msg, m.keys.Save):
		choice = ChoiceSave
	case key.Matches(msg, m.keys.Discard):
		choice = ChoiceDiscard
	case key.Matches(msg, m.keys.Cancel):
		choice = ChoiceCancel
	default:
		return m, nil
	}

	tabID := m.confirming
	m.confirming = ""
	closed, err := m.wb.ResolveClose(m.ctx, tabID, choice)
	if err == nil && closed && choice == ChoiceDiscard {
		var cmd tea.Cmd
		m.toast, cmd = m.toast.Show("draft discarded", toaster.KindInfo)
		return m.refresh(), cmd
	}
	return m.apply("close", err)
}

func (m Model) handleKey(msg tea.KeyMsg) (tea.Model, tea.Cmd) {
	active := m.wb.Tabs().ActiveTabID()

	switch {
	case key.Matches(msg, m.keys.Quit):
		return m, tea.Quit
	case key.Matches(msg, m.keys.Log):
		m.showLog = !m.showLog
		return m, nil
	case key.Matches(msg, m.keys.Run) && active != "":
		return m, m.run(active)
	case key.Matches(msg, m.keys.Stop) && active != "":
		return m, m.command("stop", func(ctx context.Context) error {
			return m.wb.Router().Stop(ctx, active)
		})
	case key.Matches(msg, m.keys.Clear) && active != "":
		_, err := m.wb.Router().Clear(active)
		return m.apply("clear", err)
	}

	var cmd tea.Cmd
	m.bar, cmd = m.bar.Update(msg)
	return m, cmd
}

// run re-runs a runner tab's collection or sends a request tab.
func (m Model) run(tabID string) tea.Cmd {
	tab, ok := m.wb.Tabs().Tab(tabID)
	if !ok {
		return nil
	}
	if tab.Type == domain.TabTypeRunner && tab.Metadata.Run != nil {
		run := tab.Metadata.Run
		return m.command("run", func(ctx context.Context) error {
			_, err := m.wb.Router().RunCollection(ctx, tabs.RunnerParams{
				CollectionID: run.CollectionID,
				FolderID:     run.FolderID,
				ProtocolID:   tab.ProtocolID,
				Name:         run.Name,
			})
			return err
		})
	}
	return m.command("run", func(ctx context.Context) error {
		_, err := m.wb.Router().RunRequest(ctx, tabID, nil)
		return err
	})
}

func (m Model) command(action string, fn func(ctx context.Context) error) tea.Cmd {
	ctx := m.ctx
	return func() tea.Msg {
		return actionDoneMsg{action: action, err: fn(ctx)}
	}
}

// apply redraws after an action and raises a notice when it failed.
func (m Model) apply(action string, err error) (Model, tea.Cmd) {
	m = m.refresh()
	if err == nil {
		return m, nil
	}
	log.ErrorErr(log.CatUI, action+" failed", err)
	var cmd tea.Cmd
	m.toast, cmd = m.toast.Show(fmt.Sprintf("%s: %v", action, err), toaster.KindError)
	return m, cmd
}

func (m Model) refresh() Model {
	m.bar = m.bar.SetItems(tabbar.Items(m.wb.Tabs().Tabs(), m.wb.Status()), m.wb.Tabs().ActiveTabID())
	return m
}

// View implements tea.Model.
func (m Model) View() string {
	sections := []string{m.bar.View(), m.body()}
	if m.showLog {
		sections = append(sections, m.globalLog())
	}
	sections = append(sections, m.footer())
	screen := lipgloss.JoinVertical(lipgloss.Left, sections...)

	width := max(m.width, lipgloss.Width(screen))
	height := max(m.height, lipgloss.Height(screen))
	if m.confirming != "" {
		screen = overlay.Frame{Width: width, Height: height}.Place(m.prompt(), screen)
	}
	screen = m.toast.Overlay(screen, width, height)
	return zone.Scan(screen)
}

func (m Model) body() string {
	tab, ok := m.wb.Tabs().ActiveTab()
	if !ok {
		return mutedStyle.Render("Open a request with `courier open` to get started.")
	}

	var b strings.Builder
	name := m.wb.Status().DisplayName(tab.ID)
	if name == "" {
		name = tab.Name
	}
	fmt.Fprintf(&b, "%s  %s\n", titleStyle.Render(name), mutedStyle.Render(tab.Key().String()))

	exec := tab.Execution
	if exec == nil {
		return b.String()
	}
	fmt.Fprintf(&b, "status: %s", exec.Status)
	if exec.Error != "" {
		fmt.Fprintf(&b, " (%s)", exec.Error)
	}
	b.WriteString("\n")

	events := exec.Events
	if len(events) > visibleEvents {
		events = events[len(events)-visibleEvents:]
	}
	for _, ev := range events {
		fmt.Fprintf(&b, "  %s %s\n", ev.Timestamp.Format("15:04:05.000"), ev.Type)
	}
	return b.String()
}

func (m Model) globalLog() string {
	entries := m.wb.GlobalLog().Entries()
	if len(entries) > visibleLogRows {
		entries = entries[len(entries)-visibleLogRows:]
	}
	lines := []string{titleStyle.Render("global log")}
	for _, ev := range entries {
		lines = append(lines, mutedStyle.Render(fmt.Sprintf("%s %s %s", ev.ExecutionID, ev.Type, string(ev.Payload))))
	}
	if len(m.debugLines) > 0 {
		lines = append(lines, titleStyle.Render("debug log"))
		for _, line := range m.debugLines {
			lines = append(lines, mutedStyle.Render(line))
		}
	}
	return strings.Join(lines, "\n")
}

func (m Model) prompt() string {
	name := m.confirming
	if tab, ok := m.wb.Tabs().Tab(m.confirming); ok {
		name = m.wb.displayName(tab)
	}
	return promptStyle.Render(fmt.Sprintf("%s has unsaved changes.\n\nSave before closing?\n(y)es · (n)o · (esc) cancel", titleStyle.Render(name)))
}

func (m Model) footer() string {
	return mutedStyle.Render("r run · s stop · x clear · w close · p keep · g log · q quit")
}
