package tui

import (
	"github.com/charmbracelet/bubbles/key"
	tea "github.com/charmbracelet/bubbletea"

	"github.com/recera/livecanvas/pkg/input"
)

// KeyMap defines the keyboard shortcuts shown in the status line. Chat,
// Reactions, Pick and Hide are interpreted by the session router; the model
// only handles Tool, Help and Quit itself.
type KeyMap struct {
	Chat      key.Binding
	Reactions key.Binding
	Pick      key.Binding
	Hide      key.Binding
	Tool      key.Binding
	Help      key.Binding
	Quit      key.Binding
}

var DefaultKeyMap = KeyMap{
	Chat: key.NewBinding(
		key.WithKeys("/"),
		key.WithHelp("/", "chat"),
	),
	Reactions: key.NewBinding(
		key.WithKeys("e"),
		key.WithHelp("e", "reactions"),
	),
	Pick: key.NewBinding(
		key.WithKeys("1", "2", "3", "4", "5", "6", "7", "8", "9"),
		key.WithHelp("1-9", "pick reaction"),
	),
	Hide: key.NewBinding(
		key.WithKeys("esc"),
		key.WithHelp("esc", "hide"),
	),
	Tool: key.NewBinding(
		key.WithKeys("tab"),
		key.WithHelp("tab", "next tool"),
	),
	Help: key.NewBinding(
		key.WithKeys("?"),
		key.WithHelp("?", "more"),
	),
	Quit: key.NewBinding(
		key.WithKeys("ctrl+c"),
		key.WithHelp("ctrl+c", "quit"),
	),
}

// ShortHelp implements help.KeyMap.
func (k KeyMap) ShortHelp() []key.Binding {
	return []key.Binding{k.Chat, k.Reactions, k.Hide, k.Help, k.Quit}
}

// FullHelp implements help.KeyMap.
func (k KeyMap) FullHelp() [][]key.Binding {
	return [][]key.Binding{
		{k.Chat, k.Reactions, k.Pick},
		{k.Hide, k.Tool},
		{k.Help, k.Quit},
	}
}

// keyEvents translates a terminal key press into router key events.
// Pasted text arrives as several runes and becomes one event per rune.
func keyEvents(msg tea.KeyMsg) []input.KeyEvent {
	press := func(k string) []input.KeyEvent {
		return []input.KeyEvent{{Key: k, Phase: input.KeyPress}}
	}

	switch msg.Type {
	case tea.KeyEsc:
		return press(input.KeyEscape)
	case tea.KeyEnter:
		return press(input.KeyEnter)
	case tea.KeyBackspace:
		return press(input.KeyBackspace)
	case tea.KeySpace:
		return press(" ")
	case tea.KeyRunes:
		out := make([]input.KeyEvent, 0, len(msg.Runes))
		for _, r := range msg.Runes {
			out = append(out, input.KeyEvent{Key: string(r), Phase: input.KeyPress})
		}
		return out
	}
	return nil
}

// pointerEvent translates a mouse message into a device-space pointer event.
// Terminal cells are the device units.
func pointerEvent(msg tea.MouseMsg) (input.PointerEvent, bool) {
	ev := input.PointerEvent{X: float64(msg.X), Y: float64(msg.Y)}
	switch msg.Action {
	case tea.MouseActionMotion:
		ev.Kind = input.PointerMove
	case tea.MouseActionPress:
		if msg.Button != tea.MouseButtonLeft {
			return ev, false
		}
		ev.Kind = input.PointerDown
	case tea.MouseActionRelease:
		ev.Kind = input.PointerUp
	default:
		return ev, false
	}
	return ev, true
}
