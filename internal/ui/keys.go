package ui

import "github.com/charmbracelet/bubbles/key"

type keyMap struct {
	Report       key.Binding
	Presentation key.Binding
	Cancel       key.Binding
	Recover      key.Binding
	Focus        key.Binding
	Dismiss      key.Binding
	Quit         key.Binding
}

func defaultKeys() keyMap {
	return keyMap{
		Report:       key.NewBinding(key.WithKeys("g"), key.WithHelp("g", "generate report")),
		Presentation: key.NewBinding(key.WithKeys("p"), key.WithHelp("p", "generate presentation")),
		Cancel:       key.NewBinding(key.WithKeys("x"), key.WithHelp("x", "cancel")),
		Recover:      key.NewBinding(key.WithKeys("r"), key.WithHelp("r", "refresh")),
		Focus:        key.NewBinding(key.WithKeys("tab"), key.WithHelp("tab", "focus")),
		Dismiss:      key.NewBinding(key.WithKeys("d"), key.WithHelp("d", "dismiss")),
		Quit:         key.NewBinding(key.WithKeys("q", "ctrl+c"), key.WithHelp("q", "quit")),
	}
}

// ShortHelp implements help.KeyMap.
func (k keyMap) ShortHelp() []key.Binding {
	return []key.Binding{k.Report, k.Presentation, k.Cancel, k.Recover, k.Focus, k.Quit}
}

// FullHelp implements help.KeyMap.
func (k keyMap) FullHelp() [][]key.Binding {
	return [][]key.Binding{k.ShortHelp(), {k.Dismiss}}
}
