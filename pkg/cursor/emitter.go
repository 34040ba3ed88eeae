package cursor

import (
	"time"

	"github.com/recera/livecanvas/pkg/presence"
)

const (
	// DefaultRetention is how long an emitted reaction stays in the trail.
	DefaultRetention = 4 * time.Second

	// DefaultTickInterval is the cadence at which a held pointer emits.
	DefaultTickInterval = 100 * time.Millisecond

	// DefaultMaxTrail caps the trail length regardless of age.
	DefaultMaxTrail = 256
)

// EmittedReaction is one reaction glyph placed on the canvas.
type EmittedReaction struct {
	Glyph     string
	Point     presence.Point
	CreatedAt time.Time
}

// Emitter turns a held pointer in Reaction mode into a trail of reactions.
// It is not safe for concurrent use; callers drive it from one goroutine.
type Emitter struct {
	retention time.Duration
	maxTrail  int
	now       func() time.Time
	trail     []EmittedReaction
}

// EmitterOption configures an Emitter.
type EmitterOption func(*Emitter)

// WithRetention sets the retention window.
func WithRetention(d time.Duration) EmitterOption {
	return func(e *Emitter) { e.SetRetention(d) }
}

// WithMaxTrail sets the maximum trail length.
func WithMaxTrail(n int) EmitterOption {
	return func(e *Emitter) { e.SetMaxTrail(n) }
}

// WithClock replaces time.Now, mostly for tests.
func WithClock(now func() time.Time) EmitterOption {
	return func(e *Emitter) { e.now = now }
}

// NewEmitter creates an emitter with default tunables.
func NewEmitter(opts ...EmitterOption) *Emitter {
	e := &Emitter{
		retention: DefaultRetention,
		maxTrail:  DefaultMaxTrail,
		now:       time.Now,
	}
	for _, opt := range opts {
		opt(e)
	}
	return e
}

// SetRetention changes the retention window. Non-positive values are ignored.
func (e *Emitter) SetRetention(d time.Duration) {
	if d > 0 {
		e.retention = d
	}
}

// SetMaxTrail changes the trail cap. Non-positive values are ignored.
func (e *Emitter) SetMaxTrail(n int) {
	if n > 0 {
		e.maxTrail = n
		e.trim()
	}
}

// Tick drops expired entries and, when s is a pressed Reaction and the
// pointer position is known, appends one reaction at that position.
func (e *Emitter) Tick(s State, at *presence.Point) (EmittedReaction, bool) {
	e.Prune()

	r, ok := s.(Reaction)
	if !ok || !r.Pressed || at == nil || r.Glyph == "" {
		return EmittedReaction{}, false
	}

	emitted := EmittedReaction{
		Glyph:     r.Glyph,
		Point:     *at,
		CreatedAt: e.now(),
	}
	e.append(emitted)
	return emitted, true
}

// Add appends a reaction that was emitted elsewhere, e.g. by another
// participant.
func (e *Emitter) Add(r EmittedReaction) {
	if r.CreatedAt.IsZero() {
		r.CreatedAt = e.now()
	}
	e.append(r)
}

// Prune drops entries older than the retention window.
func (e *Emitter) Prune() {
	cutoff := e.now().Add(-e.retention)
	keep := e.trail[:0]
	for _, r := range e.trail {
		if r.CreatedAt.After(cutoff) {
			keep = append(keep, r)
		}
	}
	// Clear the tail so dropped entries do not linger in the backing array.
	for i := len(keep); i < len(e.trail); i++ {
		e.trail[i] = EmittedReaction{}
	}
	e.trail = keep
}

// Trail returns a copy of the current trail, oldest first.
func (e *Emitter) Trail() []EmittedReaction {
	out := make([]EmittedReaction, len(e.trail))
	copy(out, e.trail)
	return out
}

// Len returns the number of entries in the trail.
func (e *Emitter) Len() int {
	return len(e.trail)
}

func (e *Emitter) append(r EmittedReaction) {
	e.trail = append(e.trail, r)
	e.trim()
}

func (e *Emitter) trim() {
	if over := len(e.trail) - e.maxTrail; over > 0 {
		e.trail = append(e.trail[:0], e.trail[over:]...)
	}
}
