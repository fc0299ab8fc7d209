package tabbar

import "github.com/charmbracelet/bubbles/key"

// KeyMap holds the tab bar bindings.
type KeyMap struct {
	Next  key.Binding
	Prev  key.Binding
	Close key.Binding
	Pin   key.Binding
}

// DefaultKeyMap returns the default bindings.
func DefaultKeyMap() KeyMap {
	return KeyMap{
		Next: key.NewBinding(
			key.WithKeys("tab", "right", "l"),
			key.WithHelp("tab/→", "next tab"),
		),
		Prev: key.NewBinding(
			key.WithKeys("shift+tab", "left", "h"),
			key.WithHelp("shift+tab/←", "previous tab"),
		),
		Close: key.NewBinding(
			key.WithKeys("ctrl+w", "w"),
			key.WithHelp("w", "close tab"),
		),
		Pin: key.NewBinding(
			key.WithKeys("p"),
			key.WithHelp("p", "keep tab"),
		),
	}
}
