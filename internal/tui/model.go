// Package tui is the terminal client: a bubbletea program that feeds mouse
// and keyboard input into a session and draws the shared canvas.
package tui

import (
	"fmt"
	"strings"

	"github.com/charmbracelet/bubbles/help"
	"github.com/charmbracelet/bubbles/key"
	tea "github.com/charmbracelet/bubbletea"
	"github.com/charmbracelet/lipgloss"

	"github.com/recera/livecanvas/pkg/cursor"
	"github.com/recera/livecanvas/pkg/input"
	"github.com/recera/livecanvas/pkg/presence"
)

// Tools cycled with tab. Presses with a drawing tool do not emit reactions.
var Tools = []string{"select", "rectangle", "freeform"}

const chatPlaceholder = "Say something…"

// Session is the part of session.Session the terminal client drives.
type Session interface {
	HandleKey(input.KeyEvent) bool
	HandlePointer(input.PointerEvent)
	SetSurface(cursor.Bounds)
	OnActiveToolChanged(name string)

	RenderableCursors() []cursor.RenderableCursor
	OverlayState() cursor.State
	Trail() []cursor.EmittedReaction
	Self() presence.Presence
	Participants() int
	Glyphs() []string

	OnChange(fn func()) func()
	Errors() <-chan error
}

var (
	mutedColor = lipgloss.Color("#94a3b8")
	errorColor = lipgloss.Color("#ef4444")
	accent     = lipgloss.Color("#3b82f6")

	headerStyle = lipgloss.NewStyle().
			Bold(true).
			Foreground(lipgloss.Color("#ffffff")).
			Background(accent)

	errorStyle = lipgloss.NewStyle().
			Foreground(errorColor).
			Bold(true)

	mutedStyle = lipgloss.NewStyle().
			Foreground(mutedColor)

	draftStyle = lipgloss.NewStyle().
			Foreground(lipgloss.Color("#ffffff")).
			Background(lipgloss.Color("#1e293b"))

	selectorStyle = lipgloss.NewStyle().
			Foreground(lipgloss.Color("#0f172a")).
			Background(lipgloss.Color("#e2e8f0"))

	plainStyle = lipgloss.NewStyle()
)

// Messages
type changedMsg struct{}
type errMsg struct{ err error }

// Model is the terminal client state.
type Model struct {
	sess Session
	room string
	keys KeyMap
	help help.Model

	width  int
	height int
	tool   int

	changes chan struct{}
	stop    func()
	lastErr error
}

// New creates the model and subscribes to session changes.
func New(sess Session, room string) Model {
	changes := make(chan struct{}, 1)
	stop := sess.OnChange(func() {
		select {
		case changes <- struct{}{}:
		default:
		}
	})

	h := help.New()
	h.Styles.ShortKey = mutedStyle.Bold(true)
	h.Styles.ShortDesc = mutedStyle

	return Model{
		sess:    sess,
		room:    room,
		keys:    DefaultKeyMap,
		help:    h,
		changes: changes,
		stop:    stop,
	}
}

// Close stops listening to the session.
func (m Model) Close() {
	if m.stop != nil {
		m.stop()
	}
}

func waitForChange(ch <-chan struct{}) tea.Cmd {
	return func() tea.Msg {
		<-ch
		return changedMsg{}
	}
}

func waitForError(errs <-chan error) tea.Cmd {
	return func() tea.Msg {
		err, ok := <-errs
		if !ok {
			return nil
		}
		return errMsg{err}
	}
}

// Init starts waiting for session changes and errors.
func (m Model) Init() tea.Cmd {
	return tea.Batch(waitForChange(m.changes), waitForError(m.sess.Errors()))
}

// Update handles messages and updates the model
func (m Model) Update(msg tea.Msg) (tea.Model, tea.Cmd) {
	switch msg := msg.(type) {
	case tea.WindowSizeMsg:
		m.width = msg.Width
		m.height = msg.Height
		m.help.Width = msg.Width
		m.sess.SetSurface(m.surface())
		return m, nil

	case tea.KeyMsg:
		switch {
		case key.Matches(msg, m.keys.Quit):
			return m, tea.Quit
		case key.Matches(msg, m.keys.Tool):
			m.tool = (m.tool + 1) % len(Tools)
			m.sess.OnActiveToolChanged(Tools[m.tool])
			return m, nil
		case key.Matches(msg, m.keys.Help) && !m.chatting():
			m.help.ShowAll = !m.help.ShowAll
			return m, nil
		}
		m.lastErr = nil
		for _, ev := range keyEvents(msg) {
			m.sess.HandleKey(ev)
		}
		return m, nil

	case tea.MouseMsg:
		if ev, ok := pointerEvent(msg); ok {
			m.sess.HandlePointer(ev)
		}
		return m, nil

	case changedMsg:
		return m, waitForChange(m.changes)

	case errMsg:
		m.lastErr = msg.err
		return m, waitForError(m.sess.Errors())
	}
	return m, nil
}

// surface is the canvas box between the header and the status line.
func (m Model) surface() cursor.Bounds {
	h := m.height - 2
	if h < 0 {
		h = 0
	}
	return cursor.Bounds{X: 0, Y: 1, Width: float64(m.width), Height: float64(h)}
}

func (m Model) chatting() bool {
	_, ok := m.sess.OverlayState().(cursor.Chat)
	return ok
}

// View renders the UI
func (m Model) View() string {
	if m.width == 0 || m.height == 0 {
		return "Connecting..."
	}

	cursors := m.sess.RenderableCursors()
	overlay := m.sess.OverlayState()

	header := fmt.Sprintf(" livecanvas · %s · %d online · %s · %s",
		m.room, m.sess.Participants(), Tools[m.tool], overlay.Mode())
	header = headerStyle.Width(m.width).MaxWidth(m.width).Render(header)

	c := newCanvas(m.width, m.height-2)
	m.drawTrail(c)
	m.drawCursors(c, cursors)
	m.drawOverlay(c, overlay)

	var footer string
	if m.lastErr != nil {
		footer = errorStyle.MaxWidth(m.width).Render("error: " + m.lastErr.Error())
	} else {
		footer = m.help.View(m.keys)
		if m.help.ShowAll {
			// Only the first line fits the status row.
			footer, _, _ = strings.Cut(footer, "\n")
		}
	}

	return header + "\n" + c.String() + "\n" + footer
}

func (m Model) drawTrail(c *canvas) {
	for _, r := range m.sess.Trail() {
		c.put(int(r.Point.X), int(r.Point.Y), r.Glyph, plainStyle)
	}
}

func (m Model) drawCursors(c *canvas, cursors []cursor.RenderableCursor) {
	for _, rc := range cursors {
		color := lipgloss.Color(rc.Color)
		x, y := int(rc.Point.X), int(rc.Point.Y)
		c.put(x, y, "↖", lipgloss.NewStyle().Foreground(color).Bold(true))
		if rc.Message != "" {
			bubble := lipgloss.NewStyle().Foreground(lipgloss.Color("#ffffff")).Background(color)
			c.put(x+2, y, " "+rc.Message+" ", bubble)
		}
	}
}

// drawOverlay draws the participant's own mode next to their pointer.
func (m Model) drawOverlay(c *canvas, st cursor.State) {
	self := m.sess.Self()
	if self.Cursor == nil {
		return
	}
	x, y := int(self.Cursor.X), int(self.Cursor.Y)

	switch st := st.(type) {
	case cursor.Chat:
		if st.Message == "" {
			c.put(x+2, y, " "+chatPlaceholder+" ", draftStyle.Foreground(mutedColor))
			return
		}
		c.put(x+2, y, " "+st.Message+"▏", draftStyle)

	case cursor.ReactionSelector:
		var parts []string
		for i, g := range m.sess.Glyphs() {
			parts = append(parts, fmt.Sprintf("%d %s", i+1, g))
		}
		c.put(x+2, y+1, " "+strings.Join(parts, "  ")+" ", selectorStyle)

	case cursor.Reaction:
		c.put(x+1, y, st.Glyph, plainStyle)
	}
}
