package presence

import (
	"errors"
	"testing"
)

func TestUpdate_Apply(t *testing.T) {
	base := Presence{ConnectionID: 7}

	withCursor := SetCursor(Point{X: 1, Y: 2}).Apply(base)
	if withCursor.Cursor == nil || *withCursor.Cursor != (Point{X: 1, Y: 2}) {
		t.Fatalf("Expected cursor (1,2), got %v", withCursor.Cursor)
	}
	if base.Cursor != nil {
		t.Error("Apply mutated its input")
	}

	withBoth := SetMessage("hi").Apply(withCursor)
	if withBoth.Cursor == nil {
		t.Error("Untouched cursor was dropped")
	}
	if withBoth.MessageText() != "hi" {
		t.Errorf("Expected message hi, got %q", withBoth.MessageText())
	}

	cleared := ClearCursor().WithMessage(nil).Apply(withBoth)
	if cleared.Cursor != nil || cleared.Message != nil {
		t.Errorf("Expected both fields cleared, got %+v", cleared)
	}
	if cleared.ConnectionID != 7 {
		t.Errorf("Connection id changed to %d", cleared.ConnectionID)
	}
}

func TestUpdate_Fields(t *testing.T) {
	u := ClearCursor()
	if !u.Has(FieldCursor) || u.Has(FieldMessage) {
		t.Errorf("Unexpected field set %b", u.Fields())
	}
	if c, ok := u.Cursor(); !ok || c != nil {
		t.Errorf("Expected touched nil cursor, got %v %v", c, ok)
	}
	if _, ok := u.Message(); ok {
		t.Error("Message should be untouched")
	}
	if !(Update{}).Empty() {
		t.Error("Zero update should be empty")
	}
}

func TestUpdate_CopiesValues(t *testing.T) {
	p := Point{X: 1, Y: 1}
	u := Update{}.WithCursor(&p)
	p.X = 99
	c, _ := u.Cursor()
	if c.X != 1 {
		t.Errorf("Update aliases caller point: %v", c)
	}
}

func TestRoom_JoinAssignsDistinctIDs(t *testing.T) {
	room := NewRoom("test", nil)
	a := room.Join()
	b := room.Join()

	if a.ID() == b.ID() {
		t.Fatalf("Expected distinct ids, both %d", a.ID())
	}
	if room.Len() != 2 {
		t.Errorf("Expected 2 members, got %d", room.Len())
	}

	self := a.Self()
	if self.Cursor != nil || self.Message != nil {
		t.Errorf("New record should be empty, got %+v", self)
	}
}

func TestRoom_OthersSeeUpdates(t *testing.T) {
	room := NewRoom("test", nil)
	a := room.Join()
	b := room.Join()

	var seen [][]Presence
	unsubscribe := b.SubscribeOthers(func(others []Presence) {
		seen = append(seen, others)
	})

	a.Update(SetCursor(Point{X: 10, Y: 20}))

	if len(seen) != 1 {
		t.Fatalf("Expected 1 notification, got %d", len(seen))
	}
	if len(seen[0]) != 1 || seen[0][0].ConnectionID != a.ID() {
		t.Fatalf("Expected snapshot with only a, got %+v", seen[0])
	}
	if seen[0][0].Cursor == nil || seen[0][0].Cursor.X != 10 {
		t.Errorf("Expected cursor x=10, got %+v", seen[0][0].Cursor)
	}

	// The publisher is never notified of its own change.
	var ownNotified bool
	a.SubscribeOthers(func([]Presence) { ownNotified = true })
	a.Update(SetMessage("hello"))
	if ownNotified {
		t.Error("Publisher received its own change")
	}

	unsubscribe()
	a.Update(ClearMessage())
	if len(seen) != 2 {
		t.Errorf("Expected no notifications after unsubscribe, got %d total", len(seen))
	}
}

func TestRoom_RejectsForeignWrite(t *testing.T) {
	room := NewRoom("test", nil)
	a := room.Join()
	b := room.Join()

	err := room.Publish(a.ID(), b.ID(), SetMessage("not yours"))
	if !errors.Is(err, ErrForeignWrite) {
		t.Fatalf("Expected ErrForeignWrite, got %v", err)
	}
	if b.Self().Message != nil {
		t.Error("Foreign write modified the record")
	}

	err = room.Broadcast(a.ID(), Reaction{From: b.ID(), Glyph: "🔥"})
	if !errors.Is(err, ErrForeignWrite) {
		t.Errorf("Expected ErrForeignWrite for reaction, got %v", err)
	}
}

func TestRoom_LeaveRemovesRecord(t *testing.T) {
	room := NewRoom("test", nil)
	a := room.Join()
	b := room.Join()

	var changes []Change
	b.Watch(func(c Change) { changes = append(changes, c) })

	a.Leave()
	a.Leave()

	if room.Len() != 1 {
		t.Errorf("Expected 1 member, got %d", room.Len())
	}
	if len(changes) != 1 || changes[0].Kind != Left || changes[0].Presence.ConnectionID != a.ID() {
		t.Fatalf("Expected one left change for a, got %+v", changes)
	}

	a.Update(SetMessage("ghost"))
	select {
	case err := <-a.Errors():
		if !errors.Is(err, ErrLeft) {
			t.Errorf("Expected ErrLeft, got %v", err)
		}
	default:
		t.Error("Expected a publish error after leaving")
	}
	if len(b.Others()) != 0 {
		t.Errorf("Expected no others, got %+v", b.Others())
	}
}

func TestRoom_ReactionsSkipSender(t *testing.T) {
	room := NewRoom("test", nil)
	a := room.Join()
	b := room.Join()

	var got []Reaction
	b.SubscribeReactions(func(r Reaction) { got = append(got, r) })
	var own int
	a.SubscribeReactions(func(Reaction) { own++ })

	a.BroadcastReaction(Reaction{Glyph: "👍", Point: Point{X: 3, Y: 4}})

	if len(got) != 1 {
		t.Fatalf("Expected 1 reaction, got %d", len(got))
	}
	if got[0].From != a.ID() || got[0].Glyph != "👍" {
		t.Errorf("Unexpected reaction %+v", got[0])
	}
	if own != 0 {
		t.Error("Sender received its own reaction")
	}
}

func TestRoom_SubscribersGetIndependentCopies(t *testing.T) {
	room := NewRoom("test", nil)
	a := room.Join()
	b := room.Join()

	var first, second []Presence
	b.SubscribeOthers(func(o []Presence) { first = o })
	b.SubscribeOthers(func(o []Presence) { second = o })

	a.Update(SetCursor(Point{X: 1, Y: 1}))
	first[0].Cursor.X = 500

	if second[0].Cursor.X != 1 {
		t.Error("Subscribers share snapshot memory")
	}
	if a.Self().Cursor.X != 1 {
		t.Error("Subscriber mutation leaked into the room")
	}
}

func TestMember_WatchFrom(t *testing.T) {
	room := NewRoom("test", nil)
	a := room.Join()
	b := room.Join()
	a.Update(SetCursor(Point{X: 1, Y: 1}))

	var initial []Presence
	var changes []Change
	stop := b.WatchFrom(
		func(others []Presence) { initial = others },
		func(c Change) { changes = append(changes, c) },
	)
	defer stop()

	if len(initial) != 1 || initial[0].ConnectionID != a.ID() {
		t.Fatalf("Expected initial snapshot with a, got %+v", initial)
	}
	if len(changes) != 0 {
		t.Fatalf("No change should precede the snapshot, got %+v", changes)
	}

	c := room.Join()
	a.Update(SetMessage("hi"))

	if len(changes) != 2 {
		t.Fatalf("Expected 2 changes, got %+v", changes)
	}
	if changes[0].Kind != Joined || changes[0].Presence.ConnectionID != c.ID() {
		t.Errorf("Expected join of c first, got %+v", changes[0])
	}
	if changes[1].Kind != Changed || changes[1].Presence.MessageText() != "hi" {
		t.Errorf("Expected a's message change, got %+v", changes[1])
	}
}
