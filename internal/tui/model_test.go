package tui

import (
	"errors"
	"strings"
	"testing"
	"time"

	tea "github.com/charmbracelet/bubbletea"
	"github.com/charmbracelet/lipgloss"

	"github.com/recera/livecanvas/pkg/input"
	"github.com/recera/livecanvas/pkg/presence"
	"github.com/recera/livecanvas/pkg/session"
)

func newModel(t *testing.T) (Model, *session.Session, *presence.Member) {
	t.Helper()
	room := presence.NewRoom("tui", nil)
	a, b := room.Join(), room.Join()

	tuning := session.DefaultTuning()
	tuning.TickInterval = time.Hour
	s := session.New(a, session.WithTuning(tuning))
	s.Start()

	m := New(s, "lobby")
	t.Cleanup(func() {
		m.Close()
		s.Close()
		a.Leave()
		b.Leave()
	})

	next, _ := m.Update(tea.WindowSizeMsg{Width: 60, Height: 12})
	return next.(Model), s, b
}

func send(t *testing.T, m Model, s *session.Session, msgs ...tea.Msg) Model {
	t.Helper()
	for _, msg := range msgs {
		next, _ := m.Update(msg)
		m = next.(Model)
	}
	if err := s.Flush(); err != nil {
		t.Fatalf("Flush failed: %v", err)
	}
	return m
}

func runes(s string) tea.KeyMsg {
	return tea.KeyMsg{Type: tea.KeyRunes, Runes: []rune(s)}
}

func TestModel_DrawsRemoteCursorAndMessage(t *testing.T) {
	m, s, b := newModel(t)

	b.Update(presence.SetCursor(presence.Point{X: 5, Y: 3}))
	b.Update(presence.SetMessage("hey"))
	m = send(t, m, s)

	view := m.View()
	lines := strings.Split(view, "\n")
	if len(lines) != 12 {
		t.Fatalf("Expected 12 lines, got %d", len(lines))
	}
	// Canvas row 3 is screen row 4.
	row := lines[4]
	if !strings.Contains(row, "↖") || !strings.Contains(row, "hey") {
		t.Errorf("Cursor row missing cursor or message: %q", row)
	}
	if !strings.Contains(lines[0], "2 online") {
		t.Errorf("Header should count both participants: %q", lines[0])
	}
}

func TestModel_HeaderCountsParticipantsWithoutCursor(t *testing.T) {
	m, s, _ := newModel(t)
	m = send(t, m, s)

	lines := strings.Split(m.View(), "\n")
	if !strings.Contains(lines[0], "2 online") {
		t.Errorf("A participant without a cursor is still online: %q", lines[0])
	}
	if strings.Contains(m.View(), "↖") {
		t.Error("No remote cursor should be drawn")
	}
}

func TestModel_ChatDraft(t *testing.T) {
	m, s, _ := newModel(t)

	m = send(t, m, s,
		tea.MouseMsg{X: 10, Y: 5, Action: tea.MouseActionMotion},
		runes("/"),
	)
	if !strings.Contains(m.View(), chatPlaceholder) {
		t.Error("Empty chat should show the placeholder")
	}

	m = send(t, m, s, runes("h"), runes("i"))
	if got := s.Self().MessageText(); got != "hi" {
		t.Errorf("Expected published message 'hi', got %q", got)
	}
	lines := strings.Split(m.View(), "\n")
	if !strings.Contains(lines[5], "hi▏") {
		t.Errorf("Draft not drawn next to pointer: %q", lines[5])
	}

	// "?" is text while chatting.
	m = send(t, m, s, runes("?"))
	if m.help.ShowAll {
		t.Error("Help should not toggle while chatting")
	}
	if got := s.Self().MessageText(); got != "hi?" {
		t.Errorf("Expected 'hi?', got %q", got)
	}
}

func TestModel_ReactionSelector(t *testing.T) {
	m, s, _ := newModel(t)

	m = send(t, m, s,
		tea.MouseMsg{X: 4, Y: 4, Action: tea.MouseActionMotion},
		runes("e"),
	)
	if !strings.Contains(m.View(), "1 "+session.DefaultGlyphs[0]) {
		t.Error("Selector should list numbered glyphs")
	}

	m = send(t, m, s, runes("2"))
	if !strings.Contains(m.View(), session.DefaultGlyphs[1]) {
		t.Error("Picked glyph should be drawn at the pointer")
	}

	m = send(t, m, s, tea.MouseMsg{X: 4, Y: 4, Action: tea.MouseActionPress, Button: tea.MouseButtonLeft})
	if len(s.Trail()) == 0 {
		t.Error("Pressing in reaction mode should emit")
	}
}

func TestModel_ToolCycling(t *testing.T) {
	m, s, _ := newModel(t)

	m = send(t, m, s, tea.KeyMsg{Type: tea.KeyTab})
	if !strings.Contains(m.View(), "rectangle") {
		t.Error("Header should show the active tool")
	}

	// Presses with a drawing tool belong to the drawing engine and leave
	// the published cursor alone.
	m = send(t, m, s,
		tea.MouseMsg{X: 4, Y: 4, Action: tea.MouseActionMotion},
		tea.MouseMsg{X: 8, Y: 4, Action: tea.MouseActionPress, Button: tea.MouseButtonLeft},
	)
	if got := s.Self().Cursor; got == nil || *got != (presence.Point{X: 4, Y: 3}) {
		t.Errorf("Expected cursor to stay at (4,3), got %v", got)
	}

	m = send(t, m, s, tea.KeyMsg{Type: tea.KeyTab}, tea.KeyMsg{Type: tea.KeyTab})
	if m.tool != 0 {
		t.Errorf("Expected tools to wrap around, got %d", m.tool)
	}
}

func TestModel_HeaderRowIsOffCanvas(t *testing.T) {
	m, s, _ := newModel(t)

	m = send(t, m, s, tea.MouseMsg{X: 10, Y: 5, Action: tea.MouseActionMotion})
	if s.Self().Cursor == nil {
		t.Fatal("Expected a cursor on the canvas")
	}
	send(t, m, s, tea.MouseMsg{X: 10, Y: 0, Action: tea.MouseActionMotion})
	if s.Self().Cursor != nil {
		t.Error("Moving onto the header should clear the cursor")
	}
}

func TestModel_ErrorsAndHelp(t *testing.T) {
	m, _, _ := newModel(t)

	next, _ := m.Update(errMsg{errors.New("boom")})
	m = next.(Model)
	if !strings.Contains(m.View(), "error: boom") {
		t.Error("Errors should replace the status line")
	}

	next, _ = m.Update(runes("?"))
	m = next.(Model)
	if !m.help.ShowAll {
		t.Error("? should toggle full help")
	}
}

func TestModel_Quit(t *testing.T) {
	m, _, _ := newModel(t)
	_, cmd := m.Update(tea.KeyMsg{Type: tea.KeyCtrlC})
	if cmd == nil {
		t.Fatal("Expected a quit command")
	}
	if _, ok := cmd().(tea.QuitMsg); !ok {
		t.Error("Expected tea.QuitMsg")
	}
}

func TestKeyEvents(t *testing.T) {
	tests := []struct {
		msg  tea.KeyMsg
		want []string
	}{
		{tea.KeyMsg{Type: tea.KeyEsc}, []string{input.KeyEscape}},
		{tea.KeyMsg{Type: tea.KeyEnter}, []string{input.KeyEnter}},
		{tea.KeyMsg{Type: tea.KeyBackspace}, []string{input.KeyBackspace}},
		{tea.KeyMsg{Type: tea.KeySpace, Runes: []rune{' '}}, []string{" "}},
		{runes("ab"), []string{"a", "b"}},
		{tea.KeyMsg{Type: tea.KeyUp}, nil},
	}
	for _, tt := range tests {
		got := keyEvents(tt.msg)
		if len(got) != len(tt.want) {
			t.Errorf("%v: got %d events, want %d", tt.msg, len(got), len(tt.want))
			continue
		}
		for i, ev := range got {
			if ev.Key != tt.want[i] || ev.Phase != input.KeyPress {
				t.Errorf("%v: event %d = %+v", tt.msg, i, ev)
			}
		}
	}
}

func TestPointerEvent(t *testing.T) {
	if _, ok := pointerEvent(tea.MouseMsg{Action: tea.MouseActionPress, Button: tea.MouseButtonWheelUp}); ok {
		t.Error("Wheel should be ignored")
	}
	ev, ok := pointerEvent(tea.MouseMsg{X: 3, Y: 7, Action: tea.MouseActionRelease})
	if !ok || ev.Kind != input.PointerUp || ev.X != 3 || ev.Y != 7 {
		t.Errorf("Unexpected release translation %+v", ev)
	}
}

func TestCanvas_WideGlyphs(t *testing.T) {
	c := newCanvas(6, 1)
	c.put(0, 0, "👍", plainStyle)
	c.put(1, 0, "x", plainStyle) // lands on the right half
	c.put(4, 0, "🔥🔥", plainStyle)

	out := c.String()
	if w := lipgloss.Width(out); w != 6 {
		t.Errorf("Row width %d, want 6: %q", w, out)
	}
	if strings.Contains(out, "👍") {
		t.Error("Overwritten wide glyph should be cleared")
	}
	if strings.Count(out, "🔥") != 1 {
		t.Error("Clipped glyph should not be drawn")
	}
}
