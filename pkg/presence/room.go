package presence

import (
	"log/slog"
	"sort"
	"sync"
	"sync/atomic"
)

// ChangeKind describes what happened to a record.
type ChangeKind uint8

const (
	Joined ChangeKind = iota
	Changed
	Left
)

func (k ChangeKind) String() string {
	switch k {
	case Joined:
		return "joined"
	case Changed:
		return "changed"
	case Left:
		return "left"
	default:
		return "unknown"
	}
}

// Change is a single record event observed by the other members of a room.
type Change struct {
	Kind     ChangeKind
	Presence Presence
}

// Room is an in-memory presence store for one canvas session. Each member
// owns exactly one record and can only publish into it.
//
// Subscriber callbacks run on the publishing goroutine, in publish order, and
// must not publish into the same room synchronously.
type Room struct {
	name   string
	logger *slog.Logger

	mu      sync.RWMutex
	nextID  ConnectionID
	members map[ConnectionID]*Member
	records map[ConnectionID]Presence

	// notifyMu keeps deliveries in mutation order.
	notifyMu sync.Mutex
}

// NewRoom creates an empty room.
func NewRoom(name string, logger *slog.Logger) *Room {
	if logger == nil {
		logger = slog.Default()
	}
	return &Room{
		name:    name,
		logger:  logger.With("room", name),
		nextID:  1,
		members: make(map[ConnectionID]*Member),
		records: make(map[ConnectionID]Presence),
	}
}

// Name returns the room name.
func (r *Room) Name() string {
	return r.name
}

// Len returns the number of connected members.
func (r *Room) Len() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.members)
}

// Snapshot returns copies of all records ordered by connection id.
func (r *Room) Snapshot() []Presence {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.snapshotLocked()
}

func (r *Room) snapshotLocked() []Presence {
	out := make([]Presence, 0, len(r.records))
	for _, p := range r.records {
		out = append(out, p.Clone())
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ConnectionID < out[j].ConnectionID })
	return out
}

// Join adds a new member with an empty record.
func (r *Room) Join() *Member {
	r.notifyMu.Lock()
	defer r.notifyMu.Unlock()

	r.mu.Lock()
	id := r.nextID
	r.nextID++
	m := &Member{
		id:           id,
		room:         r,
		othersSubs:   make(map[int]func([]Presence)),
		changeSubs:   make(map[int]func(Change)),
		reactionSubs: make(map[int]func(Reaction)),
		errs:         make(chan error, 16),
	}
	rec := Presence{ConnectionID: id}
	r.members[id] = m
	r.records[id] = rec
	all, recipients := r.snapshotLocked(), r.othersLocked(id)
	r.mu.Unlock()

	r.logger.Debug("member joined", "connection", id)
	r.deliver(recipients, all, Change{Kind: Joined, Presence: rec})
	return m
}

// Publish applies u to the record of target on behalf of owner.
func (r *Room) Publish(owner, target ConnectionID, u Update) error {
	if owner != target {
		r.logger.Warn("rejected foreign write", "owner", owner, "target", target)
		return ErrForeignWrite
	}

	r.notifyMu.Lock()
	defer r.notifyMu.Unlock()

	r.mu.Lock()
	rec, ok := r.records[target]
	if !ok {
		r.mu.Unlock()
		return ErrLeft
	}
	rec = u.Apply(rec)
	r.records[target] = rec
	all, recipients := r.snapshotLocked(), r.othersLocked(target)
	r.mu.Unlock()

	r.deliver(recipients, all, Change{Kind: Changed, Presence: rec})
	return nil
}

// Broadcast relays a reaction from owner to every other member.
func (r *Room) Broadcast(owner ConnectionID, re Reaction) error {
	if re.From != owner {
		r.logger.Warn("rejected foreign reaction", "owner", owner, "from", re.From)
		return ErrForeignWrite
	}

	r.notifyMu.Lock()
	defer r.notifyMu.Unlock()

	r.mu.RLock()
	if _, ok := r.members[owner]; !ok {
		r.mu.RUnlock()
		return ErrLeft
	}
	recipients := r.othersLocked(owner)
	r.mu.RUnlock()

	for _, m := range recipients {
		for _, fn := range m.reactionHandlers() {
			fn(re)
		}
	}
	return nil
}

func (r *Room) leave(id ConnectionID) {
	r.notifyMu.Lock()
	defer r.notifyMu.Unlock()

	r.mu.Lock()
	rec, ok := r.records[id]
	if !ok {
		r.mu.Unlock()
		return
	}
	delete(r.records, id)
	delete(r.members, id)
	all, recipients := r.snapshotLocked(), r.othersLocked(id)
	r.mu.Unlock()

	r.logger.Debug("member left", "connection", id)
	r.deliver(recipients, all, Change{Kind: Left, Presence: rec})
}

func (r *Room) othersLocked(exclude ConnectionID) []*Member {
	out := make([]*Member, 0, len(r.members))
	for id, m := range r.members {
		if id != exclude {
			out = append(out, m)
		}
	}
	return out
}

func (r *Room) deliver(recipients []*Member, all []Presence, ch Change) {
	for _, m := range recipients {
		m.notify(all, ch)
	}
}

// Member is one connection's handle on a room. It implements Channel,
// Broadcaster and ErrorReporter.
type Member struct {
	id   ConnectionID
	room *Room
	left atomic.Bool

	mu           sync.Mutex
	nextSub      int
	othersSubs   map[int]func([]Presence)
	changeSubs   map[int]func(Change)
	reactionSubs map[int]func(Reaction)

	errs chan error
}

var (
	_ Channel       = (*Member)(nil)
	_ Broadcaster   = (*Member)(nil)
	_ ErrorReporter = (*Member)(nil)
)

// ID returns the member's connection id.
func (m *Member) ID() ConnectionID {
	return m.id
}

// Self returns the member's own record.
func (m *Member) Self() Presence {
	m.room.mu.RLock()
	defer m.room.mu.RUnlock()
	if rec, ok := m.room.records[m.id]; ok {
		return rec.Clone()
	}
	return Presence{ConnectionID: m.id}
}

// Others returns the records of every other member.
func (m *Member) Others() []Presence {
	return othersOf(m.room.Snapshot(), m.id)
}

// Update publishes u into the member's own record.
func (m *Member) Update(u Update) {
	if u.Empty() {
		return
	}
	if err := m.room.Publish(m.id, m.id, u); err != nil {
		m.report(err)
	}
}

// SubscribeOthers implements Channel.
func (m *Member) SubscribeOthers(fn func([]Presence)) func() {
	m.mu.Lock()
	id := m.nextSub
	m.nextSub++
	m.othersSubs[id] = fn
	m.mu.Unlock()
	return func() {
		m.mu.Lock()
		delete(m.othersSubs, id)
		m.mu.Unlock()
	}
}

// Watch registers fn to receive individual record changes of other members.
func (m *Member) Watch(fn func(Change)) func() {
	m.mu.Lock()
	id := m.nextSub
	m.nextSub++
	m.changeSubs[id] = fn
	m.mu.Unlock()
	return func() {
		m.mu.Lock()
		delete(m.changeSubs, id)
		m.mu.Unlock()
	}
}

// WatchFrom registers fn like Watch and hands the current records of the
// other members to initial first. No change is delivered to fn before
// initial returns, and none is lost in between.
func (m *Member) WatchFrom(initial func(others []Presence), fn func(Change)) func() {
	m.room.notifyMu.Lock()
	defer m.room.notifyMu.Unlock()

	initial(m.Others())
	return m.Watch(fn)
}

// BroadcastReaction implements Broadcaster. The sender is always the member.
func (m *Member) BroadcastReaction(re Reaction) {
	re.From = m.id
	if err := m.room.Broadcast(m.id, re); err != nil {
		m.report(err)
	}
}

// SubscribeReactions implements Broadcaster.
func (m *Member) SubscribeReactions(fn func(Reaction)) func() {
	m.mu.Lock()
	id := m.nextSub
	m.nextSub++
	m.reactionSubs[id] = fn
	m.mu.Unlock()
	return func() {
		m.mu.Lock()
		delete(m.reactionSubs, id)
		m.mu.Unlock()
	}
}

// Errors implements ErrorReporter.
func (m *Member) Errors() <-chan error {
	return m.errs
}

// Leave removes the member and its record from the room. It is safe to call
// more than once.
func (m *Member) Leave() {
	if m.left.CompareAndSwap(false, true) {
		m.room.leave(m.id)
	}
}

func (m *Member) report(err error) {
	select {
	case m.errs <- err:
	default:
		m.room.logger.Warn("dropping presence error", "connection", m.id, "error", err)
	}
}

func (m *Member) notify(all []Presence, ch Change) {
	m.mu.Lock()
	changeFns := make([]func(Change), 0, len(m.changeSubs))
	for _, fn := range m.changeSubs {
		changeFns = append(changeFns, fn)
	}
	othersFns := make([]func([]Presence), 0, len(m.othersSubs))
	for _, fn := range m.othersSubs {
		othersFns = append(othersFns, fn)
	}
	m.mu.Unlock()

	for _, fn := range changeFns {
		fn(ch)
	}
	if len(othersFns) == 0 {
		return
	}
	others := othersOf(all, m.id)
	for _, fn := range othersFns {
		// Each subscriber gets its own copy.
		cp := make([]Presence, len(others))
		for i, p := range others {
			cp[i] = p.Clone()
		}
		fn(cp)
	}
}

func (m *Member) reactionHandlers() []func(Reaction) {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make([]func(Reaction), 0, len(m.reactionSubs))
	for _, fn := range m.reactionSubs {
		out = append(out, fn)
	}
	return out
}

func othersOf(all []Presence, self ConnectionID) []Presence {
	out := make([]Presence, 0, len(all))
	for _, p := range all {
		if p.ConnectionID != self {
			out = append(out, p)
		}
	}
	return out
}
