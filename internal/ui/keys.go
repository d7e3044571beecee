package ui

import "github.com/charmbracelet/bubbles/key"

// KeyMap defines the keybindings of the recorder window
type KeyMap struct {
	Toggle key.Binding
	Theme  key.Binding
	Quit   key.Binding
}

// DefaultKeyMap returns a set of default keybindings
func DefaultKeyMap() KeyMap {
	return KeyMap{
		Toggle: key.NewBinding(
			key.WithKeys(" ", "enter"),
			key.WithHelp("space", "record"),
		),
		Theme: key.NewBinding(
			key.WithKeys("t", "T"),
			key.WithHelp("t", "theme"),
		),
		Quit: key.NewBinding(
			key.WithKeys("q", "ctrl+c"),
			key.WithHelp("q", "quit"),
		),
	}
}

// ShortHelp implements help.KeyMap
func (k KeyMap) ShortHelp() []key.Binding {
	return []key.Binding{k.Toggle, k.Theme, k.Quit}
}

// FullHelp implements help.KeyMap
func (k KeyMap) FullHelp() [][]key.Binding {
	return [][]key.Binding{k.ShortHelp()}
}
