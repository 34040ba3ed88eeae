package session

import (
	"errors"
	"sync/atomic"
	"testing"
	"time"

	"github.com/recera/livecanvas/pkg/cursor"
	"github.com/recera/livecanvas/pkg/input"
	"github.com/recera/livecanvas/pkg/presence"
)

var surface = cursor.Bounds{X: 50, Y: 50, Width: 400, Height: 300}

// quietTuning keeps the ticker out of the way so emissions only come from
// presses.
func quietTuning() Tuning {
	t := DefaultTuning()
	t.TickInterval = time.Hour
	return t
}

func newPair(t *testing.T) (*presence.Room, *presence.Member, *Session, *presence.Member, *Session) {
	t.Helper()
	room := presence.NewRoom("test", nil)
	a, b := room.Join(), room.Join()

	now := time.Unix(1700000000, 0)
	clock := func() time.Time { return now }

	sa := New(a, WithTuning(quietTuning()), WithClock(clock))
	sb := New(b, WithTuning(quietTuning()), WithClock(clock))
	sa.Start()
	sb.Start()
	sa.SetSurface(surface)
	sb.SetSurface(surface)

	t.Cleanup(func() {
		sa.Close()
		sb.Close()
		a.Leave()
		b.Leave()
	})
	return room, a, sa, b, sb
}

func flush(t *testing.T, sessions ...*Session) {
	t.Helper()
	for _, s := range sessions {
		if err := s.Flush(); err != nil {
			t.Fatalf("Flush failed: %v", err)
		}
	}
}

func press(s *Session, keys ...string) {
	for _, k := range keys {
		s.HandleKey(input.KeyEvent{Key: k, Phase: input.KeyPress})
	}
}

func TestSession_RemoteCursorFollowsPointer(t *testing.T) {
	_, a, sa, _, sb := newPair(t)

	sa.HandlePointer(input.PointerEvent{Kind: input.PointerMove, X: 150, Y: 220})
	flush(t, sa, sb)

	cursors := sb.RenderableCursors()
	if len(cursors) != 1 {
		t.Fatalf("Expected 1 remote cursor, got %d", len(cursors))
	}
	got := cursors[0]
	if got.ConnectionID != a.ID() {
		t.Errorf("Expected connection %d, got %d", a.ID(), got.ConnectionID)
	}
	if got.Point != (presence.Point{X: 100, Y: 170}) {
		t.Errorf("Expected local point (100,170), got %v", got.Point)
	}
	if got.Color != cursor.ColorFor(a.ID(), cursor.DefaultPalette) {
		t.Errorf("Unexpected colour %s", got.Color)
	}
	if len(sa.RenderableCursors()) != 0 {
		t.Error("A session must not render its own cursor")
	}
	if sa.Self().Cursor == nil {
		t.Error("Self should carry the published cursor")
	}
}

func TestSession_ChatMessageReachesOthers(t *testing.T) {
	_, _, sa, _, sb := newPair(t)

	sa.HandlePointer(input.PointerEvent{Kind: input.PointerMove, X: 60, Y: 60})
	press(sa, "/", "h", "i")
	flush(t, sa, sb)

	if sa.OverlayState().Mode() != cursor.ModeChat {
		t.Fatalf("Expected chat, got %v", sa.OverlayState().Mode())
	}
	cursors := sb.RenderableCursors()
	if len(cursors) != 1 || cursors[0].Message != "hi" {
		t.Fatalf("Expected remote message hi, got %+v", cursors)
	}

	// Leaving the surface clears both fields.
	sa.HandlePointer(input.PointerEvent{Kind: input.PointerMove, X: 5, Y: 5})
	flush(t, sa, sb)

	if len(sb.RenderableCursors()) != 0 {
		t.Errorf("Expected cursor gone after leave, got %+v", sb.RenderableCursors())
	}
	if sa.OverlayState().Mode() != cursor.ModeHidden {
		t.Errorf("Expected hidden after leave, got %v", sa.OverlayState().Mode())
	}
}

func TestSession_HandleKeySuppressesSlash(t *testing.T) {
	_, _, sa, _, _ := newPair(t)

	if !sa.HandleKey(input.KeyEvent{Key: "/", Phase: input.KeyDown}) {
		t.Error("Key-down of / should be suppressed")
	}
	if sa.HandleKey(input.KeyEvent{Key: "x", Phase: input.KeyDown}) {
		t.Error("Ordinary keys must not be suppressed")
	}
}

func TestSession_ReactionsAreBroadcast(t *testing.T) {
	_, _, sa, _, sb := newPair(t)

	sa.HandlePointer(input.PointerEvent{Kind: input.PointerMove, X: 100, Y: 100})
	press(sa, "e")
	sa.ConfirmReaction("🔥")
	sa.HandlePointer(input.PointerEvent{Kind: input.PointerDown, X: 100, Y: 100})
	flush(t, sa, sb)

	r, ok := sa.OverlayState().(cursor.Reaction)
	if !ok || !r.Pressed || r.Glyph != "🔥" {
		t.Fatalf("Expected pressed 🔥 reaction, got %#v", sa.OverlayState())
	}

	local := sa.Trail()
	if len(local) != 1 {
		t.Fatalf("Expected 1 local reaction, got %d", len(local))
	}
	if local[0].Point != (presence.Point{X: 50, Y: 50}) {
		t.Errorf("Expected reaction at (50,50), got %v", local[0].Point)
	}

	remote := sb.Trail()
	if len(remote) != 1 || remote[0].Glyph != "🔥" || remote[0].Point != local[0].Point {
		t.Errorf("Expected mirrored reaction on B, got %+v", remote)
	}

	sa.HandlePointer(input.PointerEvent{Kind: input.PointerUp, X: 100, Y: 100})
	flush(t, sa)
	if r := sa.OverlayState().(cursor.Reaction); r.Pressed {
		t.Error("Release should clear Pressed")
	}
}

func TestSession_OnChangeCoalesces(t *testing.T) {
	_, _, sa, _, _ := newPair(t)

	var calls atomic.Int32
	stop := sa.OnChange(func() { calls.Add(1) })

	press(sa, "/")
	flush(t, sa)
	if calls.Load() == 0 {
		t.Fatal("OnChange was not called")
	}

	stop()
	before := calls.Load()
	press(sa, "e")
	flush(t, sa)
	if calls.Load() != before {
		t.Error("Stopped listener still called")
	}
}

func TestSession_PublishErrorsSurface(t *testing.T) {
	_, a, sa, _, _ := newPair(t)

	a.Leave()
	press(sa, "Escape")

	select {
	case err := <-sa.Errors():
		if !errors.Is(err, presence.ErrLeft) {
			t.Errorf("Expected ErrLeft, got %v", err)
		}
	case <-time.After(time.Second):
		t.Fatal("Publish error was not reported")
	}

	// Local state stays authoritative.
	flush(t, sa)
	if sa.OverlayState().Mode() != cursor.ModeHidden {
		t.Errorf("Expected hidden, got %v", sa.OverlayState().Mode())
	}
}

func TestSession_TunePalette(t *testing.T) {
	_, _, sa, _, sb := newPair(t)

	sa.HandlePointer(input.PointerEvent{Kind: input.PointerMove, X: 60, Y: 60})
	flush(t, sa, sb)

	sb.Tune(Tuning{Palette: cursor.Palette{"#000000"}, Glyphs: []string{"✨"}})
	flush(t, sb)

	cursors := sb.RenderableCursors()
	if len(cursors) != 1 || cursors[0].Color != "#000000" {
		t.Errorf("Expected recoloured cursor, got %+v", cursors)
	}
	if g := sb.Glyphs(); len(g) != 1 || g[0] != "✨" {
		t.Errorf("Expected tuned glyphs, got %v", g)
	}
}

func TestSession_DrawingToolRoutesPresses(t *testing.T) {
	room := presence.NewRoom("draw", nil)
	m := room.Join()
	defer m.Leave()

	var drawn atomic.Int32
	s := New(m, WithTuning(quietTuning()), WithDrawHandler(func(input.PointerEvent, presence.Point) {
		drawn.Add(1)
	}))
	s.Start()
	defer s.Close()

	s.OnActiveToolChanged("rectangle")
	s.HandlePointer(input.PointerEvent{Kind: input.PointerDown, X: 10, Y: 10})
	s.HandlePointer(input.PointerEvent{Kind: input.PointerUp, X: 10, Y: 10})
	flush(t, s)

	if drawn.Load() != 2 {
		t.Errorf("Expected 2 drawing events, got %d", drawn.Load())
	}
	if s.Self().Cursor != nil {
		t.Error("Drawing presses must not publish the cursor")
	}
}

func TestSession_AttachAndClose(t *testing.T) {
	room := presence.NewRoom("attach", nil)
	m := room.Join()
	defer m.Leave()

	s := New(m, WithTuning(quietTuning()))
	s.Start()

	feed := input.NewFeed()
	s.Attach(feed, feed)
	if feed.Listeners() != 2 {
		t.Fatalf("Expected 2 listeners, got %d", feed.Listeners())
	}

	if !feed.Key(input.KeyEvent{Key: "/", Phase: input.KeyDown}) {
		t.Error("Suppression should propagate through the feed")
	}
	feed.Key(input.KeyEvent{Key: "/", Phase: input.KeyUp})
	flush(t, s)
	if s.OverlayState().Mode() != cursor.ModeChat {
		t.Errorf("Expected chat, got %v", s.OverlayState().Mode())
	}

	s.Close()
	s.Close()
	if feed.Listeners() != 0 {
		t.Errorf("Expected listeners removed on close, got %d", feed.Listeners())
	}

	// Events after close are dropped.
	s.HandleKey(input.KeyEvent{Key: "e", Phase: input.KeyPress})
	if err := s.Flush(); err == nil {
		t.Error("Flush after Close should fail")
	}
}
